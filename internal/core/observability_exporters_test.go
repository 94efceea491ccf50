package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if !strings.HasPrefix(rec.Name(), "bizdir_service_metrics_") {
		t.Fatalf("unexpected generated name %s", rec.Name())
	}
	ctx := context.Background()
	rec.Observe(ctx, "approve_request", true, 20*time.Millisecond)
	rec.Observe(ctx, "approve_request", false, 5*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)

	snap := rec.Snapshot()
	stats, ok := snap.Operations["approve_request"]
	if !ok || stats.Success != 1 || stats.Error != 1 {
		t.Fatalf("unexpected stats %+v", snap.Operations)
	}
	if stats.TotalMS != 25 || stats.MaxMS != 20 || stats.LastStatus != "error" {
		t.Fatalf("unexpected durations %+v", stats)
	}
	if len(snap.Operations) != 1 {
		t.Fatalf("empty operation names must be ignored")
	}
	published := expvar.Get(rec.Name())
	if published == nil || !strings.Contains(published.String(), "approve_request") {
		t.Fatalf("expected recorder published via expvar")
	}
}

func TestJSONTracerWritesAndRetainsSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "reject_request")
	span.End(errors.New("rejection reason is required"))
	span.End(nil)

	entries := tracer.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected a single span, got %d", len(entries))
	}
	if entries[0].Status != "error" || entries[0].Error == "" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if decoded.Operation != "reject_request" {
		t.Fatalf("unexpected encoded operation %s", decoded.Operation)
	}

	silent := NewJSONTracer(nil)
	_, span = silent.Start(context.Background(), "submit_add")
	span.End(nil)
	if got := silent.Entries(); len(got) != 1 || got[0].Status != "success" {
		t.Fatalf("expected retained success span, got %+v", got)
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()
	rec.Observe(ctx, "submit_add", true, 10*time.Millisecond)
	rec.Observe(ctx, "submit_add", true, 30*time.Millisecond)
	rec.Observe(ctx, "submit_add", false, time.Millisecond)

	if got := testutil.ToFloat64(rec.operations.WithLabelValues("submit_add", "success")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues("submit_add", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.duration); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
