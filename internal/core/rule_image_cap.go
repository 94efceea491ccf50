package core

import (
	"context"
	"fmt"

	"bizdir/internal/fields"
	"bizdir/pkg/domain"
)

// NewImageCapRule ensures records stay within the image and product limits.
func NewImageCapRule(policy fields.ImagePolicy) Rule {
	return imageCapRule{policy: policy}
}

type imageCapRule struct {
	policy fields.ImagePolicy
}

func (imageCapRule) Name() string { return "image_cap" }

func (r imageCapRule) Evaluate(_ context.Context, _ RuleView, changes []Change) (Result, error) {
	res := Result{}
	for _, rec := range recordChanges(changes) {
		if limit := r.policy.MaxImages; limit > 0 && len(rec.Images) > limit {
			res.Violations = append(res.Violations, Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("record %s over image limit: %d/%d", rec.ID, len(rec.Images), limit),
				Entity:   domain.EntityRecord,
				EntityID: rec.ID,
			})
		}
		if limit := r.policy.MaxProducts; limit > 0 && len(rec.Products) > limit {
			res.Violations = append(res.Violations, Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("record %s over product limit: %d/%d", rec.ID, len(rec.Products), limit),
				Entity:   domain.EntityRecord,
				EntityID: rec.ID,
			})
		}
	}
	return res, nil
}
