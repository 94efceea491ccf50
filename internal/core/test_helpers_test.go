package core

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"testing"

	"bizdir/internal/assets"
	"bizdir/internal/blob"
	"bizdir/internal/fields"
	"bizdir/internal/infra/persistence/memory"
	"bizdir/pkg/domain"
)

// refusingBlobStore wraps a blob store and can refuse to confirm deletions.
type refusingBlobStore struct {
	blob.Store
	mu     sync.Mutex
	refuse bool
}

func (s *refusingBlobStore) setRefuse(v bool) {
	s.mu.Lock()
	s.refuse = v
	s.mu.Unlock()
}

func (s *refusingBlobStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		return false, nil
	}
	return s.Store.Delete(ctx, key)
}

type testEnv struct {
	svc   *Service
	blobs *refusingBlobStore
}

func newTestEnv(t *testing.T, opts ...ServiceOption) testEnv {
	t.Helper()
	blobs := &refusingBlobStore{Store: blob.NewMemory("https://cdn.example.test")}
	svc := NewService(memory.NewStore(NewDefaultRulesEngine()), assets.New(blobs), opts...)
	seedTestTaxonomy(t, svc)
	return testEnv{svc: svc, blobs: blobs}
}

func seedTestTaxonomy(t *testing.T, svc *Service) {
	t.Helper()
	seed := []TaxonomyEntry{
		{Kind: domain.TaxonomyCategory, Value: "Food"},
		{Kind: domain.TaxonomyCategory, Value: "Retail"},
		{Kind: domain.TaxonomyLocation, Value: "Mogadishu"},
		{Kind: domain.TaxonomyLocation, Value: "Hargeisa"},
		{Kind: domain.TaxonomyDistrict, Value: "Hodan", Parent: "Mogadishu"},
		{Kind: domain.TaxonomyDistrict, Value: "Jigjiga Yar", Parent: "Hargeisa"},
	}
	if _, err := svc.SeedTaxonomy(context.Background(), "system", seed); err != nil {
		t.Fatalf("seed taxonomy: %v", err)
	}
}

func (e testEnv) objectCount(t *testing.T) int {
	t.Helper()
	infos, err := e.blobs.List(context.Background(), assets.KeyPrefix+"/")
	if err != nil {
		t.Fatalf("list blobs: %v", err)
	}
	return len(infos)
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 3))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func pngUpload(t *testing.T, name string) UploadFile {
	return UploadFile{Name: name, ContentType: "image/png", Data: pngData(t)}
}

func validPayload(t *testing.T) map[string]FieldInput {
	return map[string]FieldInput{
		fields.FieldName:     {Value: "Hodan Bakery"},
		fields.FieldAddress:  {Value: "Maka Al Mukarama Road"},
		fields.FieldCategory: {Value: "food"},
		fields.FieldLocation: {Value: "Mogadishu", Extra: map[string]string{"district": "Hodan"}},
		fields.FieldPhone:    {Value: "612345678"},
		fields.FieldWhatsApp: {Value: "612345679"},
		fields.FieldEmail:    {Value: "Info@Hodan.so"},
		fields.FieldAbout:    {Value: "Fresh bread every morning"},
		fields.FieldHours:    {Hours: &domain.OperatingHours{AlwaysOpen: true}},
		fields.FieldImages:   {Files: []UploadFile{pngUpload(t, "front.png")}},
	}
}

// approvedRecord runs an add request through approval and returns the record.
func (e testEnv) approvedRecord(t *testing.T) BusinessRecord {
	t.Helper()
	ctx := context.Background()
	req, err := e.svc.SubmitAdd(ctx, "amina", validPayload(t))
	if err != nil {
		t.Fatalf("submit add: %v", err)
	}
	approved, err := e.svc.Approve(ctx, req.ID, Approval{Actor: "admin"})
	if err != nil {
		t.Fatalf("approve add: %v", err)
	}
	rec, ok := e.svc.GetRecord(deref(approved.TargetID))
	if !ok {
		t.Fatalf("expected record %q", deref(approved.TargetID))
	}
	return rec
}
