package docgen

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yoyaba/gtmdocs/internal/observability"
	"github.com/yoyaba/gtmdocs/internal/openai"
)

// Dispatcher decouples webhook acknowledgment from completion processing: the
// HTTP handler enqueues and answers immediately, a fixed worker pool drains
// the queue. The queue is bounded; when it is full the event is dropped and
// the provider's redelivery (or a manual retry) picks it up later.
type Dispatcher struct {
	service *Service
	queue   chan *openai.Event
	workers int
	metrics *observability.Metrics
	logger  *slog.Logger

	wg   sync.WaitGroup
	once sync.Once
}

func NewDispatcher(service *Service, queueSize, workers int, metrics *observability.Metrics, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		service: service,
		queue:   make(chan *openai.Event, queueSize),
		workers: workers,
		metrics: metrics,
		logger:  logger,
	}
}

// Start launches the worker pool. Workers run until Stop closes the queue;
// ctx bounds the processing of individual events, not the pool lifetime.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.logger.Info("event dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for event := range d.queue {
		if err := d.service.HandleEvent(ctx, event); err != nil {
			d.logger.Error("event processing failed",
				"event_id", event.ID, "job_id", event.Data.ID, "error", err)
		}
	}
}

// TryEnqueue hands an event to the pool without blocking. False means the
// queue is full and the event was dropped.
func (d *Dispatcher) TryEnqueue(event *openai.Event) bool {
	select {
	case d.queue <- event:
		return true
	default:
		d.metrics.QueueRejections.Inc()
		d.logger.Warn("event queue full, dropping delivery",
			"event_id", event.ID, "job_id", event.Data.ID)
		return false
	}
}

// Stop closes the queue and waits for in-flight events to drain. Safe to call
// more than once.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}
