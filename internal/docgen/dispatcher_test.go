package docgen

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yoyaba/gtmdocs/internal/observability"
	"github.com/yoyaba/gtmdocs/pkg/models"
)

func TestDispatcher_ProcessesEnqueuedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Submit(ctx, testInput()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(f.service, 8, 2, metrics, logger)
	d.Start(ctx)

	if !d.TryEnqueue(completionEvent("evt_1")) {
		t.Fatal("enqueue should succeed")
	}
	d.Stop()

	job, err := f.jobs.Get(ctx, "resp_1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("unexpected status after drain: %s", job.Status)
	}
}

func TestDispatcher_QueueFullDropsEvent(t *testing.T) {
	f := newFixture(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	// Workers never started, so the single slot fills and stays full.
	d := NewDispatcher(f.service, 1, 1, metrics, logger)

	if !d.TryEnqueue(completionEvent("evt_1")) {
		t.Fatal("first enqueue should succeed")
	}
	if d.TryEnqueue(completionEvent("evt_2")) {
		t.Error("second enqueue should be rejected")
	}
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	f := newFixture(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(f.service, 1, 1, metrics, logger)
	d.Start(context.Background())

	d.Stop()
	d.Stop()
}
