// Package taxonomy detects taxonomy values that a record mutation would
// introduce and plans the entries to create before the mutation commits.
package taxonomy

import (
	"strings"

	"bizdir/internal/fields"
	"bizdir/pkg/domain"
)

// Detection reports whether a candidate value is absent from the known set.
type Detection struct {
	Field string
	IsNew bool
	Value string
}

// Detect performs a case-insensitive lookup of candidate in known. A known
// value is returned in its stored spelling.
func Detect(field, candidate string, known []string) Detection {
	candidate = strings.TrimSpace(candidate)
	folded := fields.Fold(candidate)
	for _, k := range known {
		if fields.Fold(k) == folded {
			return Detection{Field: field, Value: k}
		}
	}
	return Detection{Field: field, IsNew: candidate != "", Value: candidate}
}

// Propagator plans taxonomy entries for normalized field values.
type Propagator struct{}

// Plan returns the entries that must exist before normalized is applied.
// Entries are ordered parent first so a new location precedes its district.
func (Propagator) Plan(d fields.Descriptor, normalized map[string]any, tax fields.Taxonomy) []domain.TaxonomyEntry {
	if d.Kind != fields.KindTaxonomy {
		return nil
	}
	value, _ := normalized[d.Key()].(string)
	var out []domain.TaxonomyEntry
	if det := Detect(d.Name, value, tax.Values(d.Taxonomy, "")); det.IsNew {
		out = append(out, domain.TaxonomyEntry{Kind: d.Taxonomy, Value: det.Value})
	}
	if d.Taxonomy != domain.TaxonomyLocation || len(d.Keys) < 2 {
		return out
	}
	district, _ := normalized[d.Keys[1]].(string)
	if det := Detect(d.Name, district, tax.Values(domain.TaxonomyDistrict, value)); det.IsNew {
		out = append(out, domain.TaxonomyEntry{Kind: domain.TaxonomyDistrict, Value: det.Value, Parent: value})
	}
	return out
}

// PlanAll plans entries across several validated fields, skipping duplicates.
func (p Propagator) PlanAll(results []fields.FieldResult, tax fields.Taxonomy) []domain.TaxonomyEntry {
	seen := make(map[string]bool)
	var out []domain.TaxonomyEntry
	for _, r := range results {
		for _, e := range p.Plan(r.Descriptor, r.Result.Normalized, tax) {
			key := domain.TaxonomyKey(e.Kind, e.Parent, e.Value)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, e)
		}
	}
	return out
}
