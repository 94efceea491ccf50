package core

import (
	"context"
	"fmt"

	"bizdir/internal/identifier"
	"bizdir/pkg/domain"
)

// NewIdentifierFormatRule blocks records whose identifier does not follow the
// allocator's PREFIX-GG-SSSS scheme.
func NewIdentifierFormatRule(alloc identifier.Allocator) Rule {
	return identifierFormatRule{alloc: alloc}
}

type identifierFormatRule struct {
	alloc identifier.Allocator
}

func (identifierFormatRule) Name() string { return "identifier_format" }

func (r identifierFormatRule) Evaluate(_ context.Context, _ RuleView, changes []Change) (Result, error) {
	res := Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityRecord || change.Action != domain.ActionCreate {
			continue
		}
		rec, ok := change.After.(BusinessRecord)
		if !ok || r.alloc.Valid(rec.ID) {
			continue
		}
		res.Violations = append(res.Violations, Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("identifier %q is not of the form %s", rec.ID, r.alloc.Format(1, 1)),
			Entity:   domain.EntityRecord,
			EntityID: rec.ID,
		})
	}
	return res, nil
}
