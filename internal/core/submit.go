package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"bizdir/internal/fields"
	"bizdir/pkg/domain"
)

// canonicalField resolves a field or storage key to its registry name.
func (s *Service) canonicalField(requestID, name string) (fields.Descriptor, error) {
	d, ok := s.fields.Lookup(name)
	if !ok {
		return fields.Descriptor{}, domain.ValidationError{
			RequestID: requestID,
			Field:     name,
			Messages:  []string{fmt.Sprintf("unknown field %q", name)},
		}
	}
	return d, nil
}

// materialize uploads every raw file carried by inputs as one batch and
// rewrites the inputs to reference the stored assets. Business images are
// appended to Assets; product images are attached by item code.
func (s *Service) materialize(ctx context.Context, owner string, inputs []*FieldInput) ([]ImageAsset, error) {
	type slot struct {
		input *FieldInput
		code  string
	}
	var files []UploadFile
	var slots []slot
	for _, in := range inputs {
		for _, f := range in.Files {
			files = append(files, f)
			slots = append(slots, slot{input: in})
		}
		codes := make([]string, 0, len(in.ProductFiles))
		for code := range in.ProductFiles {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			files = append(files, in.ProductFiles[code])
			slots = append(slots, slot{input: in, code: code})
		}
	}
	if len(files) == 0 {
		return nil, nil
	}
	uploaded, err := s.assets.UploadBatch(ctx, owner, files)
	if err != nil {
		return nil, err
	}
	for i, asset := range uploaded {
		sl := slots[i]
		if sl.code == "" {
			sl.input.Assets = append(sl.input.Assets, asset)
			continue
		}
		img := asset
		for j := range sl.input.Products {
			if fields.Fold(sl.input.Products[j].ItemCode) == fields.Fold(sl.code) {
				sl.input.Products[j].Image = &img
			}
		}
	}
	for _, in := range inputs {
		in.Files = nil
		in.ProductFiles = nil
	}
	return uploaded, nil
}

func withRequestID(err error, requestID string) error {
	var upload domain.UploadError
	if errors.As(err, &upload) {
		upload.RequestID = requestID
		return upload
	}
	return err
}

// SubmitAdd files a request to create a new business record. Images in the
// payload are uploaded immediately and held on the request until review.
func (s *Service) SubmitAdd(ctx context.Context, actor string, payload map[string]FieldInput) (ChangeRequest, error) {
	var created ChangeRequest
	requestID := uuid.NewString()
	err := s.run(ctx, "submit_add", actor, func(ctx context.Context) (string, error) {
		canonical := make(map[string]FieldInput, len(payload))
		names := make([]string, 0, len(payload))
		for name := range payload {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			d, err := s.canonicalField(requestID, name)
			if err != nil {
				return requestID, err
			}
			canonical[d.Name] = payload[name]
		}
		inputs := make([]*FieldInput, 0, len(canonical))
		values := make(map[string]*FieldInput, len(canonical))
		for _, d := range s.fields.Registry().Descriptors() {
			in, ok := canonical[d.Name]
			if !ok {
				continue
			}
			in.Products = domain.CloneProducts(in.Products)
			values[d.Name] = &in
			inputs = append(inputs, &in)
		}
		uploaded, err := s.materialize(ctx, requestID, inputs)
		if err != nil {
			return requestID, withRequestID(err, requestID)
		}
		for name, in := range values {
			canonical[name] = *in
		}
		_, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateRequest(ChangeRequest{
				Base:          domain.Base{ID: requestID},
				Kind:          domain.RequestKindAdd,
				Payload:       canonical,
				SubmittedBy:   actor,
				PendingAssets: uploaded,
			})
			return err
		})
		if err != nil {
			s.assets.Compensate(ctx, uploaded)
		}
		return requestID, err
	})
	if err != nil {
		return ChangeRequest{}, err
	}
	s.logger.Info("change request submitted", "request_id", created.ID, "kind", created.Kind, "actor", actor)
	return created, nil
}

// SubmitUpdate files a request to change one field of an existing record.
func (s *Service) SubmitUpdate(ctx context.Context, actor, targetID, field string, input FieldInput) (ChangeRequest, error) {
	var created ChangeRequest
	requestID := uuid.NewString()
	err := s.run(ctx, "submit_update", actor, func(ctx context.Context) (string, error) {
		d, err := s.canonicalField(requestID, field)
		if err != nil {
			return requestID, err
		}
		if _, ok := s.store.GetRecord(targetID); !ok {
			return requestID, domain.NotFoundError{Entity: domain.EntityRecord, ID: targetID}
		}
		input.Products = domain.CloneProducts(input.Products)
		uploaded, err := s.materialize(ctx, requestID, []*FieldInput{&input})
		if err != nil {
			return requestID, withRequestID(err, requestID)
		}
		_, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if _, ok := tx.FindRecord(targetID); !ok {
				return domain.NotFoundError{Entity: domain.EntityRecord, ID: targetID}
			}
			target := targetID
			var err error
			created, err = tx.CreateRequest(ChangeRequest{
				Base:          domain.Base{ID: requestID},
				TargetID:      &target,
				Kind:          domain.RequestKindUpdateField,
				Field:         d.Name,
				Value:         input,
				SubmittedBy:   actor,
				PendingAssets: uploaded,
			})
			return err
		})
		if err != nil {
			s.assets.Compensate(ctx, uploaded)
		}
		return requestID, err
	})
	if err != nil {
		return ChangeRequest{}, err
	}
	s.logger.Info("change request submitted", "request_id", created.ID, "kind", created.Kind, "target_id", targetID, "field", created.Field, "actor", actor)
	return created, nil
}

// SubmitRemoval files a request to delete a record and all of its images.
func (s *Service) SubmitRemoval(ctx context.Context, actor, targetID, note string) (ChangeRequest, error) {
	var created ChangeRequest
	err := s.run(ctx, "submit_removal", actor, func(ctx context.Context) (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if _, ok := tx.FindRecord(targetID); !ok {
				return domain.NotFoundError{Entity: domain.EntityRecord, ID: targetID}
			}
			target := targetID
			var err error
			created, err = tx.CreateRequest(ChangeRequest{
				TargetID:    &target,
				Kind:        domain.RequestKindRemove,
				Note:        strings.TrimSpace(note),
				SubmittedBy: actor,
			})
			return err
		})
		return created.ID, err
	})
	if err != nil {
		return ChangeRequest{}, err
	}
	s.logger.Info("change request submitted", "request_id", created.ID, "kind", created.Kind, "target_id", targetID, "actor", actor)
	return created, nil
}
