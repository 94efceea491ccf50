package fields

import "bizdir/pkg/domain"

// OtherSentinel selects free text instead of a known taxonomy value.
const OtherSentinel = "other"

// Taxonomy is a read-only snapshot of the controlled vocabularies, indexed by
// folded value. The zero value knows no entries.
type Taxonomy struct {
	categories map[string]string
	locations  map[string]string
	districts  map[string]map[string]string
}

// NewTaxonomy indexes entries for case-insensitive lookup.
func NewTaxonomy(entries []domain.TaxonomyEntry) Taxonomy {
	t := Taxonomy{
		categories: make(map[string]string),
		locations:  make(map[string]string),
		districts:  make(map[string]map[string]string),
	}
	for _, e := range entries {
		t.add(e)
	}
	return t
}

func (t *Taxonomy) add(e domain.TaxonomyEntry) {
	switch e.Kind {
	case domain.TaxonomyCategory:
		t.categories[Fold(e.Value)] = e.Value
	case domain.TaxonomyLocation:
		t.locations[Fold(e.Value)] = e.Value
	case domain.TaxonomyDistrict:
		parent := Fold(e.Parent)
		if t.districts[parent] == nil {
			t.districts[parent] = make(map[string]string)
		}
		t.districts[parent][Fold(e.Value)] = e.Value
	}
}

// With returns a copy of the taxonomy that also knows entries.
func (t Taxonomy) With(entries ...domain.TaxonomyEntry) Taxonomy {
	cp := NewTaxonomy(nil)
	for k, v := range t.categories {
		cp.categories[k] = v
	}
	for k, v := range t.locations {
		cp.locations[k] = v
	}
	for parent, values := range t.districts {
		cp.districts[parent] = make(map[string]string, len(values))
		for k, v := range values {
			cp.districts[parent][k] = v
		}
	}
	for _, e := range entries {
		cp.add(e)
	}
	return cp
}

// Resolve returns the stored spelling of value. Districts are scoped to parent.
func (t Taxonomy) Resolve(kind domain.TaxonomyKind, parent, value string) (string, bool) {
	var table map[string]string
	switch kind {
	case domain.TaxonomyCategory:
		table = t.categories
	case domain.TaxonomyLocation:
		table = t.locations
	case domain.TaxonomyDistrict:
		table = t.districts[Fold(parent)]
	}
	stored, ok := table[Fold(value)]
	return stored, ok
}

// Values lists the known values of kind. For districts, parent scopes the list.
func (t Taxonomy) Values(kind domain.TaxonomyKind, parent string) []string {
	var table map[string]string
	switch kind {
	case domain.TaxonomyCategory:
		table = t.categories
	case domain.TaxonomyLocation:
		table = t.locations
	case domain.TaxonomyDistrict:
		table = t.districts[Fold(parent)]
	}
	out := make([]string, 0, len(table))
	for _, v := range table {
		out = append(out, v)
	}
	return out
}
