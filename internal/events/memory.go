package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue implements Queue using an in-memory channel
type MemoryQueue struct {
	events chan *Event
	mu     sync.RWMutex
	closed bool
	config *Config
}

// NewMemoryQueue creates a new in-memory event queue
func NewMemoryQueue(config *Config) *MemoryQueue {
	if config == nil {
		config = DefaultConfig("memory")
	}
	size := config.QueueSize
	if size <= 0 {
		size = config.BatchSize * 10
	}

	return &MemoryQueue{
		events: make(chan *Event, size),
		config: config,
	}
}

// Enqueue adds an event to the queue
func (q *MemoryQueue) Enqueue(ctx context.Context, event *Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue adds an event without blocking. It reports false when the
// buffer is full, letting the serving path shed monitoring load instead of
// stalling predictions.
func (q *MemoryQueue) TryEnqueue(event *Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}

	select {
	case q.events <- event:
		return true
	default:
		return false
	}
}

// Dequeue retrieves events from the queue
func (q *MemoryQueue) Dequeue(ctx context.Context, maxItems int) ([]*Event, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	var events []*Event

	// Block until we get at least one event
	select {
	case event := <-q.events:
		events = append(events, event)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Try to get more events without blocking
	for len(events) < maxItems {
		select {
		case event := <-q.events:
			events = append(events, event)
		default:
			return events, nil
		}
	}

	return events, nil
}

// DequeueWithTimeout retrieves events with a timeout
func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]*Event, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	var events []*Event
	deadline := time.After(timeout)

	// Try to get first event with timeout
	select {
	case event := <-q.events:
		events = append(events, event)
	case <-deadline:
		return events, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Try to get more events without blocking
	for len(events) < maxItems {
		select {
		case event := <-q.events:
			events = append(events, event)
		default:
			return events, nil
		}
	}

	return events, nil
}

// Length returns the current queue length
func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return 0, ErrQueueClosed
	}

	return len(q.events), nil
}

// Close shuts down the queue
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.events)
	return nil
}

// MemoryDeadLetterQueue implements DeadLetterQueue using in-memory storage
type MemoryDeadLetterQueue struct {
	items  []DeadLetterItem
	mu     sync.RWMutex
	closed bool
}

// NewMemoryDeadLetterQueue creates a new in-memory dead letter queue
func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{
		items: make([]DeadLetterItem, 0),
	}
}

// Add parks a failed event
func (q *MemoryDeadLetterQueue) Add(ctx context.Context, event *Event, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.items = append(q.items, DeadLetterItem{
		ID:        generateID(),
		Event:     event,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
	return nil
}

// List retrieves parked events
func (q *MemoryDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	if maxItems <= 0 || maxItems > len(q.items) {
		maxItems = len(q.items)
	}

	result := make([]DeadLetterItem, maxItems)
	copy(result, q.items[:maxItems])
	return result, nil
}

// Remove removes a parked event
func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}

	return ErrItemNotFound
}

// Close shuts down the dead letter queue
func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
	return nil
}

// generateID generates a unique ID for dead letter items
func generateID() string {
	return uuid.New().String()
}
