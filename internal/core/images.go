package core

import (
	"context"
	"time"

	"bizdir/internal/fields"
	"bizdir/pkg/domain"
)

// RemoveImage deletes one business image. The object store must confirm the
// deletion before the record drops its reference.
func (s *Service) RemoveImage(ctx context.Context, recordID, handle, actor string) (BusinessRecord, error) {
	var updated BusinessRecord
	err := s.run(ctx, "remove_image", actor, func(ctx context.Context) (string, error) {
		rec, ok := s.store.GetRecord(recordID)
		if !ok {
			return recordID, domain.NotFoundError{Entity: domain.EntityRecord, ID: recordID}
		}
		found := false
		for _, img := range rec.Images {
			if img.Handle == handle {
				found = true
				break
			}
		}
		if !found {
			return recordID, domain.NotFoundError{Entity: domain.EntityAsset, ID: handle}
		}
		var err error
		updated, err = s.dropConfirmed(ctx, recordID, handle, actor)
		return recordID, err
	})
	if err != nil {
		return BusinessRecord{}, err
	}
	return updated, nil
}

// RemoveProductImage deletes the image of the product with itemCode.
func (s *Service) RemoveProductImage(ctx context.Context, recordID, itemCode, actor string) (BusinessRecord, error) {
	var updated BusinessRecord
	err := s.run(ctx, "remove_product_image", actor, func(ctx context.Context) (string, error) {
		rec, ok := s.store.GetRecord(recordID)
		if !ok {
			return recordID, domain.NotFoundError{Entity: domain.EntityRecord, ID: recordID}
		}
		handle := ""
		for _, p := range rec.Products {
			if fields.Fold(p.ItemCode) == fields.Fold(itemCode) && p.Image != nil {
				handle = p.Image.Handle
				break
			}
		}
		if handle == "" {
			return recordID, domain.NotFoundError{Entity: domain.EntityAsset, ID: itemCode}
		}
		var err error
		updated, err = s.dropConfirmed(ctx, recordID, handle, actor)
		return recordID, err
	})
	if err != nil {
		return BusinessRecord{}, err
	}
	return updated, nil
}

func (s *Service) dropConfirmed(ctx context.Context, recordID, handle, actor string) (BusinessRecord, error) {
	ok, err := s.assets.DeleteAsset(ctx, handle)
	if err != nil || !ok {
		return BusinessRecord{}, domain.AssetDeletionError{Handle: handle, Err: err}
	}
	var updated BusinessRecord
	_, err = s.store.RunInTransaction(context.WithoutCancel(ctx), func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateRecord(recordID, func(rec *BusinessRecord) error {
			dropAssets(rec, map[string]bool{handle: true}, actor, "", tx.Now())
			return nil
		})
		return err
	})
	if err != nil {
		s.logger.Error("asset deleted but still referenced", "record_id", recordID, "handle", handle, "error", err)
		return BusinessRecord{}, err
	}
	s.logger.Info("image removed", "record_id", recordID, "handle", handle, "actor", actor)
	return updated, nil
}

// dropAssets removes references to gone from rec and records the change.
func dropAssets(rec *BusinessRecord, gone map[string]bool, actor, requestID string, now time.Time) {
	var images []ImageAsset
	for _, img := range rec.Images {
		if !gone[img.Handle] {
			images = append(images, img)
		}
	}
	if len(images) != len(rec.Images) {
		rec.History = append(rec.History, HistoryEntry{
			Field:     domain.KeyImages,
			OldValue:  fields.RenderValue(rec.Images),
			NewValue:  fields.RenderValue(images),
			Timestamp: now,
			Actor:     actor,
			RequestID: requestID,
		})
		rec.Images = images
	}
	products := domain.CloneProducts(rec.Products)
	changed := false
	for i := range products {
		if products[i].Image != nil && gone[products[i].Image.Handle] {
			products[i].Image = nil
			changed = true
		}
	}
	if changed {
		rec.History = append(rec.History, HistoryEntry{
			Field:     domain.KeyProducts,
			OldValue:  fields.RenderValue(rec.Products),
			NewValue:  fields.RenderValue(products),
			Timestamp: now,
			Actor:     actor,
			RequestID: requestID,
		})
		rec.Products = products
	}
}
