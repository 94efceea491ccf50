package core

import (
	"context"
	"fmt"
	"strings"

	"bizdir/internal/fields"
	"bizdir/pkg/domain"
)

// NewTaxonomyReferenceRule blocks record writes whose category, location or
// district is not present in the taxonomy committed in the same transaction.
// Only values that changed are checked, so legacy records stay editable.
func NewTaxonomyReferenceRule() Rule {
	return taxonomyReferenceRule{}
}

type taxonomyReferenceRule struct{}

func (taxonomyReferenceRule) Name() string { return "taxonomy_reference" }

func (r taxonomyReferenceRule) Evaluate(_ context.Context, view RuleView, changes []Change) (Result, error) {
	res := Result{}
	var tax *fields.Taxonomy
	for _, change := range changes {
		if change.Entity != domain.EntityRecord || change.Action == domain.ActionDelete {
			continue
		}
		after, ok := change.After.(BusinessRecord)
		if !ok {
			continue
		}
		before, _ := change.Before.(BusinessRecord)
		type ref struct {
			kind       domain.TaxonomyKind
			parent     string
			value      string
			prevParent string
			prev       string
		}
		refs := []ref{
			{domain.TaxonomyCategory, "", after.Category, "", before.Category},
			{domain.TaxonomyLocation, "", after.Location, "", before.Location},
			{domain.TaxonomyDistrict, after.Location, after.District, before.Location, before.District},
		}
		for _, ref := range refs {
			value := strings.TrimSpace(ref.value)
			if value == "" {
				continue
			}
			if change.Action == domain.ActionUpdate && ref.value == ref.prev && ref.parent == ref.prevParent {
				continue
			}
			if tax == nil {
				t := fields.NewTaxonomy(view.ListTaxonomy(""))
				tax = &t
			}
			if _, known := tax.Resolve(ref.kind, ref.parent, value); known {
				continue
			}
			msg := fmt.Sprintf("%s %q is not in the taxonomy", ref.kind, value)
			if ref.parent != "" {
				msg = fmt.Sprintf("%s %q is not in the taxonomy under %q", ref.kind, value, ref.parent)
			}
			res.Violations = append(res.Violations, Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  msg,
				Entity:   domain.EntityRecord,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}
