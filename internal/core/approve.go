package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"bizdir/internal/fields"
	"bizdir/pkg/domain"
)

// TargetMissingReason is the reviewer note on requests rejected because their
// target record was deleted before approval.
const TargetMissingReason = "target record no longer exists"

// Approval carries the reviewer's decision for one request.
type Approval struct {
	Actor string
	// Values are the authoritative values keyed by field name. They override
	// what the submitter proposed.
	Values map[string]FieldInput
	// ConfirmTaxonomy allows the approval to create taxonomy values that do
	// not exist yet.
	ConfirmTaxonomy bool
	Note            string
}

// Approve validates the reviewer's values and applies the request. A request
// whose target has disappeared is rejected and NotFoundError is returned.
// Approving an already applied request again is a no-op.
func (s *Service) Approve(ctx context.Context, requestID string, approval Approval) (ChangeRequest, error) {
	var out ChangeRequest
	err := s.run(ctx, "approve_request", approval.Actor, func(ctx context.Context) (string, error) {
		var err error
		out, err = s.approve(ctx, requestID, approval)
		return requestID, err
	})
	if err != nil {
		return out, err
	}
	s.logger.Info("change request approved", "request_id", out.ID, "kind", out.Kind, "target_id", deref(out.TargetID), "actor", approval.Actor)
	return out, nil
}

func (s *Service) approve(ctx context.Context, requestID string, approval Approval) (ChangeRequest, error) {
	req, ok := s.store.GetRequest(requestID)
	if !ok {
		return ChangeRequest{}, domain.NotFoundError{Entity: domain.EntityRequest, ID: requestID}
	}
	if req.Status.Terminal() {
		if s.alreadyApplied(req) {
			return req, nil
		}
		return req, domain.ErrRequestClosed
	}
	if req.Kind != domain.RequestKindAdd {
		if req.TargetID == nil {
			return req, fmt.Errorf("request %s: %s request without target", req.ID, req.Kind)
		}
		if _, ok := s.store.GetRecord(*req.TargetID); !ok {
			return s.forceReject(ctx, req, approval.Actor)
		}
	}
	switch req.Kind {
	case domain.RequestKindRemove:
		return s.approveRemoval(ctx, req, approval)
	case domain.RequestKindAdd, domain.RequestKindUpdateField:
		return s.approveChange(ctx, req, approval)
	default:
		return req, fmt.Errorf("request %s: unsupported kind %q", req.ID, req.Kind)
	}
}

// alreadyApplied reports whether an approved request left its mark on the
// target, which makes a repeated approval safe to acknowledge.
func (s *Service) alreadyApplied(req ChangeRequest) bool {
	if req.Status != domain.RequestStatusApproved {
		return false
	}
	if req.Kind == domain.RequestKindRemove {
		return true
	}
	if req.TargetID == nil {
		return false
	}
	rec, ok := s.store.GetRecord(*req.TargetID)
	return ok && rec.HasRequest(req.ID)
}

// appliedTarget finds the record a still pending request has already written
// to. A backend that persists records and requests separately can commit the
// former and lose the latter.
func (s *Service) appliedTarget(req ChangeRequest) (string, bool) {
	switch req.Kind {
	case domain.RequestKindUpdateField:
		rec, ok := s.store.GetRecord(*req.TargetID)
		return rec.ID, ok && rec.HasRequest(req.ID)
	case domain.RequestKindAdd:
		for _, rec := range s.store.ListRecords() {
			if rec.HasRequest(req.ID) {
				return rec.ID, true
			}
		}
	}
	return "", false
}

// closeApplied marks the request approved without writing to its record again.
func (s *Service) closeApplied(ctx context.Context, req ChangeRequest, approval Approval, target string) (ChangeRequest, error) {
	var approved ChangeRequest
	_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		approved, err = approveInTx(tx, req.ID, approval.Actor, approval.Note, target)
		return err
	})
	if err != nil {
		return req, err
	}
	s.logger.Warn("change request already applied, closing", "request_id", req.ID, "target_id", target)
	rec, _ := s.store.GetRecord(target)
	if orphaned := unreferenced(req.PendingAssets, rec.OwnedAssets()); len(orphaned) > 0 {
		s.assets.Compensate(ctx, orphaned)
	}
	return approved, nil
}

func rejectInTx(tx Transaction, requestID, actor, reason string) (ChangeRequest, error) {
	return tx.UpdateRequest(requestID, func(r *ChangeRequest) error {
		if r.Status.Terminal() {
			return domain.ErrRequestClosed
		}
		now := tx.Now()
		r.Status = domain.RequestStatusRejected
		r.ReviewedAt = &now
		r.ReviewedBy = actor
		r.ReviewerNote = reason
		return nil
	})
}

func approveInTx(tx Transaction, requestID, actor, note, targetID string) (ChangeRequest, error) {
	return tx.UpdateRequest(requestID, func(r *ChangeRequest) error {
		if r.Status.Terminal() {
			return domain.ErrRequestClosed
		}
		now := tx.Now()
		r.Status = domain.RequestStatusApproved
		r.ReviewedAt = &now
		r.ReviewedBy = actor
		r.ReviewerNote = note
		r.PendingAssets = nil
		if targetID != "" {
			id := targetID
			r.TargetID = &id
		}
		return nil
	})
}

// forceReject closes a request whose target record is gone.
func (s *Service) forceReject(ctx context.Context, req ChangeRequest, actor string) (ChangeRequest, error) {
	var rejected ChangeRequest
	_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		rejected, err = rejectInTx(tx, req.ID, actor, TargetMissingReason)
		return err
	})
	if err != nil {
		return req, err
	}
	s.logger.Warn("change request rejected, target missing", "request_id", req.ID, "target_id", deref(req.TargetID))
	rejected = s.releasePending(ctx, rejected)
	return rejected, domain.NotFoundError{Entity: domain.EntityRecord, ID: deref(req.TargetID), RequestID: req.ID}
}

// releasePending deletes the submission-time uploads of a closed request and
// forgets the ones the object store confirmed.
func (s *Service) releasePending(ctx context.Context, req ChangeRequest) ChangeRequest {
	if len(req.PendingAssets) == 0 {
		return req
	}
	removed := s.assets.Compensate(ctx, req.PendingAssets)
	if len(removed) == 0 {
		return req
	}
	gone := handleSet(removed)
	updated := req
	_, err := s.store.RunInTransaction(context.WithoutCancel(ctx), func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateRequest(req.ID, func(r *ChangeRequest) error {
			kept := r.PendingAssets[:0]
			for _, a := range r.PendingAssets {
				if !gone[a.Handle] {
					kept = append(kept, a)
				}
			}
			r.PendingAssets = kept
			return nil
		})
		return err
	})
	if err != nil {
		s.logger.Error("pending assets deleted but still listed on request", "request_id", req.ID, "error", err)
		return req
	}
	return updated
}

// reviewInputs merges the submitted values with the reviewer's values.
func (s *Service) reviewInputs(req ChangeRequest, approval Approval) (map[string]FieldInput, error) {
	merged := make(map[string]FieldInput)
	switch req.Kind {
	case domain.RequestKindAdd:
		for name, in := range req.Payload {
			d, err := s.canonicalField(req.ID, name)
			if err != nil {
				return nil, err
			}
			merged[d.Name] = in
		}
	case domain.RequestKindUpdateField:
		d, err := s.canonicalField(req.ID, req.Field)
		if err != nil {
			return nil, err
		}
		merged[d.Name] = req.Value
	}
	for name, in := range approval.Values {
		d, err := s.canonicalField(req.ID, name)
		if err != nil {
			return nil, err
		}
		if _, ok := merged[d.Name]; !ok && req.Kind == domain.RequestKindUpdateField {
			return nil, domain.ValidationError{
				RequestID: req.ID,
				Field:     d.Name,
				Messages:  []string{fmt.Sprintf("request changes %s only", req.Field)},
			}
		}
		merged[d.Name] = in
	}
	for name, in := range merged {
		in.Products = domain.CloneProducts(in.Products)
		merged[name] = in
	}
	return merged, nil
}

// validateReview checks the merged values. Add requests are validated as a
// whole record, updates as the single field they change.
func (s *Service) validateReview(req ChangeRequest, merged map[string]FieldInput, tax fields.Taxonomy) ([]fields.FieldResult, error) {
	if req.Kind == domain.RequestKindAdd {
		res := s.fields.ValidateRecord(merged, tax)
		if !res.OK {
			field, msgs := res.FirstError()
			return nil, domain.ValidationError{RequestID: req.ID, Field: field, Messages: msgs}
		}
		return res.Fields, nil
	}
	var out []fields.FieldResult
	for name, in := range merged {
		d, _ := s.fields.Lookup(name)
		res := s.fields.Validate(name, in, tax)
		if !res.OK {
			return nil, domain.ValidationError{RequestID: req.ID, Field: d.Name, Messages: res.Errors}
		}
		out = append(out, fields.FieldResult{Descriptor: d, Input: in, Result: res})
	}
	return out, nil
}

func (s *Service) approveChange(ctx context.Context, req ChangeRequest, approval Approval) (ChangeRequest, error) {
	merged, err := s.reviewInputs(req, approval)
	if err != nil {
		return req, err
	}
	tax := s.taxonomySnapshot()
	results, err := s.validateReview(req, merged, tax)
	if err != nil {
		return req, err
	}
	planned := s.propagator.PlanAll(results, tax)
	if len(planned) > 0 && !approval.ConfirmTaxonomy {
		return req, domain.TaxonomyConfirmationError{RequestID: req.ID, Entries: planned}
	}

	owner := req.ID
	var target BusinessRecord
	if req.TargetID != nil {
		owner = *req.TargetID
		target, _ = s.store.GetRecord(owner)
	}
	ptrs := make([]*FieldInput, 0, len(merged))
	values := make(map[string]*FieldInput, len(merged))
	for _, d := range s.fields.Registry().Descriptors() {
		if in, ok := merged[d.Name]; ok {
			values[d.Name] = &in
			ptrs = append(ptrs, &in)
		}
	}
	fresh, err := s.materialize(ctx, owner, ptrs)
	if err != nil {
		return req, withRequestID(err, req.ID)
	}
	for name, in := range values {
		merged[name] = *in
	}
	owned := append(append(append([]ImageAsset(nil), req.PendingAssets...), fresh...), target.OwnedAssets()...)
	if err := checkOwnership(req.ID, merged, owned); err != nil {
		s.assets.Compensate(ctx, fresh)
		return req, err
	}
	results, err = s.validateReview(req, merged, tax.With(planned...))
	if err != nil {
		s.assets.Compensate(ctx, fresh)
		return req, err
	}

	// images the update stops referencing are deleted before the commit drops them
	var released map[string]bool
	if req.Kind == domain.RequestKindUpdateField {
		projected := domain.CloneRecord(target)
		if err := applyResults(&projected, results, false, approval.Actor, req.ID, time.Time{}); err != nil {
			s.assets.Compensate(ctx, fresh)
			return req, err
		}
		confirmed, releaseErr := s.assets.Release(ctx, unreferenced(target.OwnedAssets(), projected.OwnedAssets()))
		if releaseErr != nil {
			s.assets.Compensate(ctx, fresh)
			if err := s.dropReleased(ctx, target.ID, confirmed, approval.Actor, req.ID); err != nil {
				return req, errors.Join(releaseErr, err)
			}
			s.logger.Warn("field update deferred, assets not deleted", "request_id", req.ID, "target_id", target.ID, "error", releaseErr)
			return req, releaseErr
		}
		released = handleSet(confirmed)
	}

	if req.Kind == domain.RequestKindAdd {
		release, err := s.lock.Acquire(ctx)
		if err != nil {
			s.assets.Compensate(ctx, fresh)
			return req, fmt.Errorf("acquire allocation lock: %w", err)
		}
		defer release()
	}

	var (
		approved      ChangeRequest
		before, after BusinessRecord
		missing       bool
	)
	_, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		current, ok := tx.FindRequest(req.ID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityRequest, ID: req.ID}
		}
		if current.Status.Terminal() {
			return domain.ErrRequestClosed
		}
		if req.Kind == domain.RequestKindUpdateField {
			rec, ok := tx.FindRecord(*req.TargetID)
			if !ok {
				missing = true
				var err error
				approved, err = rejectInTx(tx, req.ID, approval.Actor, TargetMissingReason)
				return err
			}
			before = rec
		}
		for _, entry := range planned {
			entry.CreatedBy = approval.Actor
			if _, err := tx.CreateTaxonomyEntry(entry); err != nil {
				return err
			}
		}
		now := tx.Now()
		var err error
		switch req.Kind {
		case domain.RequestKindAdd:
			ids := make([]string, 0)
			for _, rec := range tx.Snapshot().ListRecords() {
				ids = append(ids, rec.ID)
			}
			id, err := s.allocator.Next(s.allocator.Max(ids))
			if err != nil {
				return err
			}
			rec := BusinessRecord{Base: domain.Base{ID: id}, Status: domain.RecordStatusApproved}
			if err := applyResults(&rec, results, true, approval.Actor, req.ID, now); err != nil {
				return err
			}
			if after, err = tx.CreateRecord(rec); err != nil {
				return err
			}
		default:
			after, err = tx.UpdateRecord(*req.TargetID, func(rec *BusinessRecord) error {
				if err := applyResults(rec, results, false, approval.Actor, req.ID, now); err != nil {
					return err
				}
				for _, a := range unreferenced(before.OwnedAssets(), rec.OwnedAssets()) {
					if !released[a.Handle] {
						return fmt.Errorf("%w: record %s changed during review", domain.ErrConcurrentWrite, rec.ID)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		approved, err = approveInTx(tx, req.ID, approval.Actor, approval.Note, after.ID)
		return err
	})
	if err != nil {
		s.assets.Compensate(ctx, fresh)
		if len(released) > 0 {
			if dropErr := s.dropReleased(ctx, *req.TargetID, keys(released), approval.Actor, req.ID); dropErr != nil {
				s.logger.Error("released assets still referenced", "request_id", req.ID, "target_id", deref(req.TargetID), "error", dropErr)
			}
		}
		return req, err
	}
	if missing {
		s.assets.Compensate(ctx, fresh)
		s.logger.Warn("change request rejected, target missing", "request_id", req.ID, "target_id", deref(req.TargetID))
		approved = s.releasePending(ctx, approved)
		return approved, domain.NotFoundError{Entity: domain.EntityRecord, ID: deref(req.TargetID), RequestID: req.ID}
	}

	candidates := append(append([]ImageAsset(nil), req.PendingAssets...), fresh...)
	if orphaned := unreferenced(candidates, after.OwnedAssets()); len(orphaned) > 0 {
		s.assets.Compensate(ctx, orphaned)
	}
	return approved, nil
}

// applyResults writes normalized values onto rec in registry order and logs
// one history entry per storage key written.
func applyResults(rec *BusinessRecord, results []fields.FieldResult, created bool, actor, requestID string, now time.Time) error {
	for _, r := range results {
		render := r.Descriptor.Render
		if render == nil {
			render = fields.RenderValue
		}
		for _, key := range r.Descriptor.Keys {
			value, ok := r.Result.Normalized[key]
			if !ok {
				continue
			}
			old := ""
			if !created {
				prev, _ := rec.Value(key)
				old = render(prev)
			}
			if err := rec.SetValue(key, value); err != nil {
				return err
			}
			rec.History = append(rec.History, HistoryEntry{
				Field:     key,
				OldValue:  old,
				NewValue:  render(value),
				Timestamp: now,
				Actor:     actor,
				RequestID: requestID,
			})
		}
	}
	return nil
}

func (s *Service) approveRemoval(ctx context.Context, req ChangeRequest, approval Approval) (ChangeRequest, error) {
	target := *req.TargetID
	rec, _ := s.store.GetRecord(target)
	confirmed, releaseErr := s.assets.Release(ctx, rec.OwnedAssets())
	if releaseErr != nil {
		if err := s.dropReleased(ctx, target, confirmed, approval.Actor, req.ID); err != nil {
			return req, errors.Join(releaseErr, err)
		}
		s.logger.Warn("record removal deferred, assets not deleted", "request_id", req.ID, "target_id", target, "error", releaseErr)
		return req, releaseErr
	}

	var (
		closed  ChangeRequest
		missing bool
	)
	_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		current, ok := tx.FindRequest(req.ID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityRequest, ID: req.ID}
		}
		if current.Status.Terminal() {
			return domain.ErrRequestClosed
		}
		var err error
		if _, ok := tx.FindRecord(target); !ok {
			missing = true
			closed, err = rejectInTx(tx, req.ID, approval.Actor, TargetMissingReason)
			return err
		}
		if err := tx.DeleteRecord(target); err != nil {
			return err
		}
		closed, err = approveInTx(tx, req.ID, approval.Actor, approval.Note, "")
		return err
	})
	if err != nil {
		return req, err
	}
	if missing {
		return closed, domain.NotFoundError{Entity: domain.EntityRecord, ID: target, RequestID: req.ID}
	}
	return closed, nil
}

// dropReleased removes references to assets the object store already deleted.
func (s *Service) dropReleased(ctx context.Context, recordID string, confirmed []string, actor, requestID string) error {
	if len(confirmed) == 0 {
		return nil
	}
	gone := handleSet(confirmed)
	_, err := s.store.RunInTransaction(context.WithoutCancel(ctx), func(tx Transaction) error {
		if _, ok := tx.FindRecord(recordID); !ok {
			return nil
		}
		_, err := tx.UpdateRecord(recordID, func(r *BusinessRecord) error {
			dropAssets(r, gone, actor, requestID, tx.Now())
			return nil
		})
		return err
	})
	return err
}

// checkOwnership refuses kept images that belong neither to the target record
// nor to this request's uploads, and pins the rest to their stored metadata.
func checkOwnership(requestID string, merged map[string]FieldInput, owned []ImageAsset) error {
	known := make(map[string]ImageAsset, len(owned))
	for _, a := range owned {
		known[a.Handle] = a
	}
	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		in := merged[name]
		var foreign []string
		in.Assets = append([]ImageAsset(nil), in.Assets...)
		for i, a := range in.Assets {
			stored, ok := known[a.Handle]
			if !ok {
				foreign = append(foreign, a.Handle)
				continue
			}
			in.Assets[i] = stored
		}
		for i, p := range in.Products {
			if p.Image == nil {
				continue
			}
			stored, ok := known[p.Image.Handle]
			if !ok {
				foreign = append(foreign, p.Image.Handle)
				continue
			}
			in.Products[i].Image = &stored
		}
		if len(foreign) > 0 {
			msgs := make([]string, 0, len(foreign))
			for _, h := range foreign {
				msgs = append(msgs, fmt.Sprintf("image %s does not belong to this record", h))
			}
			return domain.ValidationError{RequestID: requestID, Field: name, Messages: msgs}
		}
		merged[name] = in
	}
	return nil
}

// Reject closes a pending request without touching its target and deletes
// the images uploaded with it.
func (s *Service) Reject(ctx context.Context, requestID, actor, reason string) (ChangeRequest, error) {
	var rejected ChangeRequest
	err := s.run(ctx, "reject_request", actor, func(ctx context.Context) (string, error) {
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return requestID, domain.ErrReasonRequired
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			rejected, err = rejectInTx(tx, requestID, actor, reason)
			return err
		})
		return requestID, err
	})
	if err != nil {
		return ChangeRequest{}, err
	}
	rejected = s.releasePending(ctx, rejected)
	s.logger.Info("change request rejected", "request_id", requestID, "actor", actor)
	return rejected, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func handleSet(handles []string) map[string]bool {
	out := make(map[string]bool, len(handles))
	for _, h := range handles {
		out[h] = true
	}
	return out
}

// unreferenced returns the candidates not present in kept, deduplicated.
func unreferenced(candidates, kept []ImageAsset) []ImageAsset {
	seen := make(map[string]bool, len(kept)+len(candidates))
	for _, a := range kept {
		seen[a.Handle] = true
	}
	var out []ImageAsset
	for _, a := range candidates {
		if a.Handle == "" || seen[a.Handle] {
			continue
		}
		seen[a.Handle] = true
		out = append(out, a)
	}
	return out
}
