package events

import (
	"context"
	"fmt"
	"time"

	"model_gateway/internal/models"
	"model_gateway/internal/utils"
)

// Sink consumes decoded monitoring events. The gateway's sink persists drift
// events and records low-confidence alerts.
type Sink interface {
	HandleDrift(ctx context.Context, event *models.DriftEvent) error
	HandleLowConfidence(ctx context.Context, event *models.LowConfidenceEvent) error
}

// Worker drains the event queue in batches and delivers to a sink
type Worker struct {
	queue       Queue
	dlq         DeadLetterQueue
	sink        Sink
	config      *Config
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a new event worker
func NewWorker(q Queue, dlq DeadLetterQueue, sink Sink, config *Config) *Worker {
	if config == nil {
		config = DefaultConfig("monitoring")
	}

	return &Worker{
		queue:       q,
		dlq:         dlq,
		sink:        sink,
		config:      config,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker
func (w *Worker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// run is the main worker loop
func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	logger := utils.NewLogger("events-worker")

	for {
		select {
		case <-w.stopChan:
			logger.Info("Event worker stopping")
			return
		case <-ctx.Done():
			logger.Info("Event worker context cancelled")
			return
		default:
			w.processBatch(ctx, logger)
		}
	}
}

// processBatch delivers one batch of events
func (w *Worker) processBatch(ctx context.Context, logger *utils.Logger) {
	events, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		if err != ErrQueueClosed && ctx.Err() == nil {
			logger.Error("Failed to dequeue events", "error", err)
		}
		time.Sleep(1 * time.Second) // Back off on error
		return
	}

	if len(events) == 0 {
		return
	}

	logger.Debug("Processing event batch", "count", len(events))

	for _, event := range events {
		if err := w.processEvent(ctx, event, logger); err != nil {
			logger.Error("Failed to process event", "kind", event.Kind, "error", err)
		}
	}
}

// processEvent delivers a single event with retries
func (w *Worker) processEvent(ctx context.Context, event *Event, logger *utils.Logger) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			logger.Debug("Retrying event delivery", "kind", event.Kind, "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		if err := w.deliver(ctx, event); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	// Max retries exceeded - park the event
	if w.dlq != nil {
		if err := w.dlq.Add(ctx, event, lastErr); err != nil {
			logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			logger.Warn("Event moved to DLQ", "kind", event.Kind, "error", lastErr)
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (w *Worker) deliver(ctx context.Context, event *Event) error {
	switch event.Kind {
	case KindDrift:
		drift, err := event.Drift()
		if err != nil {
			return err
		}
		return w.sink.HandleDrift(ctx, drift)
	case KindLowConfidence:
		alert, err := event.LowConfidence()
		if err != nil {
			return err
		}
		return w.sink.HandleLowConfidence(ctx, alert)
	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}
}

// QueueLength returns the current queue length
func (w *Worker) QueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// DeadLetterItems returns parked events
func (w *Worker) DeadLetterItems(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a parked event
func (w *Worker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, dlItem := range items {
		if dlItem.ID == id {
			if err := w.queue.Enqueue(ctx, dlItem.Event); err != nil {
				return fmt.Errorf("failed to re-enqueue event: %w", err)
			}
			if err := w.dlq.Remove(ctx, id); err != nil {
				return fmt.Errorf("failed to remove from DLQ: %w", err)
			}
			return nil
		}
	}

	return ErrItemNotFound
}
