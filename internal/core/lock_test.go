package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalLockSerializesAndHonoursContext(t *testing.T) {
	lock := NewLocalLock()
	release, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := lock.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while held, got %v", err)
	}
	release()
	again, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again()
}

type failingLock struct{}

func (failingLock) Acquire(context.Context) (func(), error) {
	return nil, errors.New("lock backend down")
}

func TestApproveAddFailsWithoutAllocationLock(t *testing.T) {
	env := newTestEnv(t, WithAllocationLock(failingLock{}))
	ctx := context.Background()
	req, err := env.svc.SubmitAdd(ctx, "amina", validPayload(t))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.svc.Approve(ctx, req.ID, Approval{Actor: "admin"}); err == nil {
		t.Fatalf("expected approval to fail without the lock")
	}
	if len(env.svc.ListRecords()) != 0 {
		t.Fatalf("no record may be allocated without the lock")
	}
	if stored, _ := env.svc.GetRequest(req.ID); stored.Status != "pending_review" {
		t.Fatalf("expected pending request, got %s", stored.Status)
	}
}
