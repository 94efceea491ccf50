package core

import (
	"context"
	"errors"
	"time"
)

// SweepOrphans deletes business image objects that no record and no pending
// request references. Objects younger than grace are kept so an upload whose
// request is still being stored survives. It returns the deleted handles.
func (s *Service) SweepOrphans(ctx context.Context, actor string, grace time.Duration) ([]string, error) {
	var swept []string
	err := s.run(ctx, "sweep_orphans", actor, func(ctx context.Context) (string, error) {
		stored, err := s.assets.Stored(ctx)
		if err != nil {
			return "", err
		}
		cutoff := s.clock.Now().Add(-grace)
		referenced, err := s.referencedAssets(ctx)
		if err != nil {
			return "", err
		}
		var orphans []ImageAsset
		for _, info := range stored {
			if referenced[info.Key] || info.LastModified.After(cutoff) {
				continue
			}
			orphans = append(orphans, ImageAsset{Handle: info.Key})
		}
		confirmed, releaseErr := s.assets.Release(ctx, orphans)
		swept = confirmed
		if err := s.forgetSwept(ctx, confirmed); err != nil {
			return "", errors.Join(releaseErr, err)
		}
		return "", releaseErr
	})
	if len(swept) > 0 {
		s.logger.Info("orphaned images swept", "count", len(swept), "actor", actor)
	}
	return swept, err
}

// referencedAssets collects every handle a record or open request points at.
// It reads through a transaction so durable stores reread shared state.
func (s *Service) referencedAssets(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool)
	add := func(list []ImageAsset) {
		for _, a := range list {
			out[a.Handle] = true
		}
	}
	addInput := func(in FieldInput) {
		add(in.Assets)
		for _, p := range in.Products {
			if p.Image != nil {
				out[p.Image.Handle] = true
			}
		}
	}
	_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		view := tx.Snapshot()
		for _, rec := range view.ListRecords() {
			add(rec.OwnedAssets())
		}
		for _, req := range view.ListRequests() {
			if req.Status.Terminal() {
				continue
			}
			add(req.PendingAssets)
			addInput(req.Value)
			for _, in := range req.Payload {
				addInput(in)
			}
		}
		return nil
	})
	return out, err
}

// forgetSwept drops swept handles still listed on closed requests.
func (s *Service) forgetSwept(ctx context.Context, handles []string) error {
	if len(handles) == 0 {
		return nil
	}
	gone := handleSet(handles)
	_, err := s.store.RunInTransaction(context.WithoutCancel(ctx), func(tx Transaction) error {
		for _, req := range tx.Snapshot().ListRequests() {
			stale := false
			for _, a := range req.PendingAssets {
				if gone[a.Handle] {
					stale = true
					break
				}
			}
			if !stale {
				continue
			}
			if _, err := tx.UpdateRequest(req.ID, func(r *ChangeRequest) error {
				kept := r.PendingAssets[:0]
				for _, a := range r.PendingAssets {
					if !gone[a.Handle] {
						kept = append(kept, a)
					}
				}
				r.PendingAssets = kept
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}
