package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"model_gateway/internal/models"
)

// Package events carries monitoring events (drift detections, low-confidence
// alerts) from the serving path to asynchronous consumers. Two backends:
//
//  1. Memory queue (channel-based): no persistence, no external
//     dependencies, suits single-node deployments.
//  2. Redis queue (list-based): survives restarts and supports a separate
//     consumer process.
//
// A batch worker drains the queue, hands batches to a sink (typically the
// drift event store), retries with exponential backoff and parks items it
// cannot deliver in a dead-letter queue.

var (
	// ErrQueueClosed is returned when operating on a closed queue
	ErrQueueClosed = errors.New("queue is closed")

	// ErrItemNotFound is returned when a dead-letter item is not found
	ErrItemNotFound = errors.New("item not found")
)

// Kind labels the payload carried by an event envelope.
type Kind string

const (
	KindDrift         Kind = "drift"
	KindLowConfidence Kind = "low_confidence"
)

// Event is the envelope placed on the queue. Payloads travel as raw JSON so
// the Redis backend round-trips them without knowing every payload type.
type Event struct {
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// NewDriftEvent wraps a drift detection for transport.
func NewDriftEvent(event *models.DriftEvent) (*Event, error) {
	return newEvent(KindDrift, event)
}

// NewLowConfidenceEvent wraps a low-confidence alert for transport.
func NewLowConfidenceEvent(event *models.LowConfidenceEvent) (*Event, error) {
	return newEvent(KindLowConfidence, event)
}

func newEvent(kind Kind, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return &Event{Kind: kind, Payload: data, EmittedAt: time.Now().UTC()}, nil
}

// Drift decodes the payload of a drift envelope.
func (e *Event) Drift() (*models.DriftEvent, error) {
	if e.Kind != KindDrift {
		return nil, fmt.Errorf("event is %q, not %q", e.Kind, KindDrift)
	}
	var event models.DriftEvent
	if err := json.Unmarshal(e.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode drift payload: %w", err)
	}
	return &event, nil
}

// LowConfidence decodes the payload of a low-confidence envelope.
func (e *Event) LowConfidence() (*models.LowConfidenceEvent, error) {
	if e.Kind != KindLowConfidence {
		return nil, fmt.Errorf("event is %q, not %q", e.Kind, KindLowConfidence)
	}
	var event models.LowConfidenceEvent
	if err := json.Unmarshal(e.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode low-confidence payload: %w", err)
	}
	return &event, nil
}

// Queue defines the transport for monitoring events
type Queue interface {
	// Enqueue adds an event to the queue
	Enqueue(ctx context.Context, event *Event) error

	// TryEnqueue adds an event without blocking the caller. It reports
	// false when the event is dropped, letting the serving path shed
	// monitoring load instead of stalling predictions.
	TryEnqueue(event *Event) bool

	// Dequeue retrieves events from the queue (up to maxItems)
	// Blocks until at least one event is available or context is cancelled
	Dequeue(ctx context.Context, maxItems int) ([]*Event, error)

	// DequeueWithTimeout retrieves events with a timeout
	// Returns events if available before timeout, empty slice otherwise
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]*Event, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue gracefully
	Close() error
}

// DeadLetterQueue holds events the worker could not deliver
type DeadLetterQueue interface {
	// Add parks a failed event with error info
	Add(ctx context.Context, event *Event, err error) error

	// List retrieves parked events
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Remove removes a parked event
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue
	Close() error
}

// DeadLetterItem represents a parked event
type DeadLetterItem struct {
	ID        string    `json:"id"`
	Event     *Event    `json:"event"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	Retries   int       `json:"retries"`
}

// Config holds queue configuration
type Config struct {
	// QueueSize bounds the memory backend's buffer
	QueueSize int

	// BatchSize is the maximum number of events to deliver in a batch
	BatchSize int

	// BatchTimeout is how long to wait before delivering a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of delivery attempts per batch
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries
	RetryBackoff time.Duration

	// UseRedis selects the Redis backend over the in-memory one
	UseRedis bool

	// RedisAddr is the Redis server address (if UseRedis is true)
	RedisAddr string

	// RedisPassword is the Redis password (if UseRedis is true)
	RedisPassword string

	// RedisDB is the Redis database number (if UseRedis is true)
	RedisDB int

	// QueueName is the name/key for the queue
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		QueueSize:    1000,
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		UseRedis:     false,
		QueueName:    queueName,
	}
}
