package core

import (
	"context"
	"errors"
	"testing"

	"bizdir/internal/fields"
	"bizdir/pkg/domain"
)

func TestSubmitAddCanonicalizesFieldNames(t *testing.T) {
	env := newTestEnv(t)
	payload := validPayload(t)
	payload["phone"] = payload[fields.FieldPhone]
	delete(payload, fields.FieldPhone)

	req, err := env.svc.SubmitAdd(context.Background(), "amina", payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Kind != domain.RequestKindAdd || req.TargetID != nil || req.Status != domain.RequestStatusPending {
		t.Fatalf("unexpected request %+v", req)
	}
	if _, ok := req.Payload[fields.FieldPhone]; !ok {
		t.Fatalf("expected payload keyed by field name, got %v", req.Payload)
	}
	images := req.Payload[fields.FieldImages]
	if len(images.Files) != 0 || len(images.Assets) != 1 {
		t.Fatalf("expected files replaced by stored assets, got %+v", images)
	}
	if pending := env.svc.ListPendingRequests(); len(pending) != 1 || pending[0].ID != req.ID {
		t.Fatalf("expected request in review queue")
	}
}

func TestSubmitRejectsUnknownField(t *testing.T) {
	env := newTestEnv(t)
	payload := validPayload(t)
	payload["Fax"] = FieldInput{Value: "123"}

	_, err := env.svc.SubmitAdd(context.Background(), "amina", payload)
	var verr domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "Fax" {
		t.Fatalf("expected unknown field error, got %v", err)
	}
	if env.objectCount(t) != 0 {
		t.Fatalf("nothing should be uploaded for a refused submission")
	}
}

func TestSubmitUploadBatchFailureCompensates(t *testing.T) {
	env := newTestEnv(t)
	payload := validPayload(t)
	payload[fields.FieldImages] = FieldInput{Files: []UploadFile{
		pngUpload(t, "one.png"),
		{Name: "two.png", ContentType: "image/png", Data: []byte("not an image")},
		pngUpload(t, "three.png"),
	}}

	_, err := env.svc.SubmitAdd(context.Background(), "amina", payload)
	var uerr domain.UploadError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UploadError, got %v", err)
	}
	if uerr.Index != 1 || uerr.File != "two.png" || uerr.RequestID == "" {
		t.Fatalf("expected error naming file 2, got %+v", uerr)
	}
	if len(uerr.Compensated) != 1 {
		t.Fatalf("expected first upload compensated, got %v", uerr.Compensated)
	}
	if env.objectCount(t) != 0 {
		t.Fatalf("expected zero stored assets, got %d", env.objectCount(t))
	}
	if len(env.svc.ListRequests()) != 0 {
		t.Fatalf("no request should be stored")
	}
}

func TestSubmitUpdateAttachesProductImages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.approvedRecord(t)
	req, err := env.svc.SubmitUpdate(ctx, "amina", rec.ID, fields.FieldProducts, FieldInput{
		Products: []Product{
			{Name: "Sambusa", ItemCode: "SB-1", OldPrice: 2, NewPrice: 1.5, InStock: true},
			{Name: "Bread", ItemCode: "BR-1", NewPrice: 1, InStock: true},
		},
		ProductFiles: map[string]UploadFile{"sb-1": pngUpload(t, "sambusa.png")},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Value.Products[0].Image == nil || req.Value.Products[1].Image != nil {
		t.Fatalf("expected image attached to SB-1 only, got %+v", req.Value.Products)
	}
	if _, err := env.svc.Approve(ctx, req.ID, Approval{Actor: "admin"}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	updated, _ := env.svc.GetRecord(rec.ID)
	if len(updated.Products) != 2 || updated.Products[0].Image == nil {
		t.Fatalf("expected products stored with image, got %+v", updated.Products)
	}
	if pct, ok := updated.Products[0].Discount(); !ok || pct != 25 {
		t.Fatalf("expected 25%% discount, got %d %v", pct, ok)
	}
}

func TestSubmitRequiresExistingTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.svc.SubmitUpdate(ctx, "amina", "BIZ-01-0042", fields.FieldName, FieldInput{Value: "Nobody"}); err == nil {
		t.Fatalf("expected update against missing record to fail")
	}
	var nf domain.NotFoundError
	if _, err := env.svc.SubmitRemoval(ctx, "amina", "BIZ-01-0042", ""); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
