package core

import (
	"context"
	"errors"
	"testing"

	"bizdir/internal/fields"
	"bizdir/internal/infra/persistence/memory"
	"bizdir/pkg/domain"
)

func violationRules(err error) []string {
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		return nil
	}
	var out []string
	for _, v := range rv.Result.Violations {
		out = append(out, v.Rule)
	}
	return out
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore(NewDefaultRulesEngine())
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		for _, e := range []TaxonomyEntry{
			{Kind: domain.TaxonomyCategory, Value: "Food"},
			{Kind: domain.TaxonomyLocation, Value: "Mogadishu"},
			{Kind: domain.TaxonomyDistrict, Value: "Hodan", Parent: "Mogadishu"},
		} {
			if _, err := tx.CreateTaxonomyEntry(e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func TestIdentifierFormatRuleBlocksMalformedIDs(t *testing.T) {
	store := seededStore(t)
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateRecord(BusinessRecord{Base: domain.Base{ID: "biz-1"}, Category: "Food"})
		return err
	})
	if rules := violationRules(err); len(rules) != 1 || rules[0] != "identifier_format" {
		t.Fatalf("expected identifier_format violation, got %v (%v)", rules, err)
	}
}

func TestTaxonomyReferenceRule(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateRecord(BusinessRecord{Base: domain.Base{ID: "BIZ-01-0001"}, Category: "Bakery", Location: "Mogadishu", District: "Hodan"})
		return err
	})
	if rules := violationRules(err); len(rules) != 1 || rules[0] != "taxonomy_reference" {
		t.Fatalf("expected taxonomy_reference violation, got %v", rules)
	}

	_, err = store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, err := tx.CreateTaxonomyEntry(TaxonomyEntry{Kind: domain.TaxonomyCategory, Value: "Bakery"}); err != nil {
			return err
		}
		_, err := tx.CreateRecord(BusinessRecord{Base: domain.Base{ID: "BIZ-01-0001"}, Category: "bakery", Location: "Mogadishu", District: "hodan"})
		return err
	})
	if err != nil {
		t.Fatalf("entry created in the same transaction should satisfy the rule: %v", err)
	}

	_, err = store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.UpdateRecord("BIZ-01-0001", func(r *BusinessRecord) error {
			r.District = "Wadajir"
			return nil
		})
		return err
	})
	if rules := violationRules(err); len(rules) != 1 {
		t.Fatalf("expected unknown district to be blocked, got %v", err)
	}
}

func TestTaxonomyReferenceRuleSkipsUnchangedValues(t *testing.T) {
	store := memory.NewStore(nil)
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateRecord(BusinessRecord{Base: domain.Base{ID: "BIZ-01-0001"}, Category: "Legacy"})
		return err
	}); err != nil {
		t.Fatalf("create legacy record: %v", err)
	}
	rule := NewTaxonomyReferenceRule()
	var res Result
	err := store.View(ctx, func(view TransactionView) error {
		before, _ := view.FindRecord("BIZ-01-0001")
		after := before
		after.Name = "Renamed"
		var err error
		res, err = rule.Evaluate(ctx, view, []Change{{Entity: domain.EntityRecord, Action: domain.ActionUpdate, Before: before, After: after}})
		return err
	})
	if err != nil || len(res.Violations) != 0 {
		t.Fatalf("unchanged legacy category must not be checked: %v %+v", err, res)
	}
}

func TestImageCapRule(t *testing.T) {
	policy := fields.DefaultImagePolicy()
	rule := NewImageCapRule(policy)
	images := make([]ImageAsset, policy.MaxImages+1)
	res, err := rule.Evaluate(context.Background(), nil, []Change{{
		Entity: domain.EntityRecord,
		Action: domain.ActionUpdate,
		After:  BusinessRecord{Base: domain.Base{ID: "BIZ-01-0001"}, Images: images},
	}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.HasBlocking() || res.Violations[0].Rule != "image_cap" {
		t.Fatalf("expected image_cap violation, got %+v", res)
	}
	res, _ = rule.Evaluate(context.Background(), nil, []Change{{Entity: domain.EntityRecord, Action: domain.ActionDelete, Before: BusinessRecord{Images: images}}})
	if len(res.Violations) != 0 {
		t.Fatalf("deletions are not capped")
	}
}
