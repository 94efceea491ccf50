package core

import (
	"bizdir/internal/fields"
	"bizdir/internal/identifier"
	"bizdir/pkg/domain"
)

// DefaultRules returns the built-in policy set for the given identifier
// scheme and image limits.
func DefaultRules(alloc identifier.Allocator, policy fields.ImagePolicy) []Rule {
	return []Rule{
		NewIdentifierFormatRule(alloc),
		NewTaxonomyReferenceRule(),
		NewImageCapRule(policy),
	}
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set
// for the default identifier prefix and image policy.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	for _, rule := range DefaultRules(identifier.Allocator{}, fields.DefaultImagePolicy()) {
		engine.Register(rule)
	}
	return engine
}

// recordChanges yields the after-image of created and updated records.
func recordChanges(changes []Change) []BusinessRecord {
	var out []BusinessRecord
	for _, change := range changes {
		if change.Entity != domain.EntityRecord || change.Action == domain.ActionDelete {
			continue
		}
		if rec, ok := change.After.(BusinessRecord); ok {
			out = append(out, rec)
		}
	}
	return out
}
