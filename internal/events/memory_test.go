package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"model_gateway/internal/models"
)

func driftEnvelope(t *testing.T, model string) *Event {
	t.Helper()
	event, err := NewDriftEvent(models.NewDriftEvent(model, 0.42, []int{0, 3}, 100))
	if err != nil {
		t.Fatalf("NewDriftEvent failed: %v", err)
	}
	return event
}

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	config := DefaultConfig("test")
	q := NewMemoryQueue(config)
	defer q.Close()

	ctx := context.Background()

	if err := q.Enqueue(ctx, driftEnvelope(t, "heart")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	events, err := q.Dequeue(ctx, 1)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	drift, err := events[0].Drift()
	if err != nil {
		t.Fatalf("Drift decode failed: %v", err)
	}
	if drift.ModelName != "heart" {
		t.Errorf("Expected model heart, got %s", drift.ModelName)
	}
}

func TestMemoryQueue_Batch(t *testing.T) {
	config := DefaultConfig("test")
	config.BatchSize = 5
	q := NewMemoryQueue(config)
	defer q.Close()

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := q.Enqueue(ctx, driftEnvelope(t, "heart")); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	events, err := q.Dequeue(ctx, 5)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("Expected 5 events, got %d", len(events))
	}

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != 5 {
		t.Errorf("Expected 5 remaining, got %d", length)
	}
}

func TestMemoryQueue_DequeueWithTimeout(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	start := time.Now()
	events, err := q.DequeueWithTimeout(context.Background(), 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected empty batch, got %d events", len(events))
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("DequeueWithTimeout returned before timeout")
	}
}

func TestMemoryQueue_TryEnqueue(t *testing.T) {
	config := DefaultConfig("test")
	config.QueueSize = 2
	q := NewMemoryQueue(config)
	defer q.Close()

	if !q.TryEnqueue(driftEnvelope(t, "heart")) {
		t.Fatal("TryEnqueue failed with room in the buffer")
	}
	if !q.TryEnqueue(driftEnvelope(t, "heart")) {
		t.Fatal("TryEnqueue failed with room in the buffer")
	}
	if q.TryEnqueue(driftEnvelope(t, "heart")) {
		t.Error("TryEnqueue succeeded on a full buffer")
	}
}

func TestMemoryQueue_Closed(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx := context.Background()
	if err := q.Enqueue(ctx, driftEnvelope(t, "heart")); err != ErrQueueClosed {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if _, err := q.Length(ctx); err != ErrQueueClosed {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if q.TryEnqueue(driftEnvelope(t, "heart")) {
		t.Error("TryEnqueue succeeded on a closed queue")
	}
	// Close is idempotent
	if err := q.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestMemoryQueue_ConcurrentProducers(t *testing.T) {
	config := DefaultConfig("test")
	config.QueueSize = 500
	q := NewMemoryQueue(config)
	defer q.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	const producers, perProducer = 10, 20

	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				if err := q.Enqueue(ctx, driftEnvelope(t, "heart")); err != nil {
					t.Errorf("Enqueue failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != producers*perProducer {
		t.Errorf("Expected %d events, got %d", producers*perProducer, length)
	}
}

func TestMemoryDeadLetterQueue(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue()
	defer dlq.Close()

	ctx := context.Background()
	if err := dlq.Add(ctx, driftEnvelope(t, "heart"), ErrQueueClosed); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	items, err := dlq.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	if items[0].Error != ErrQueueClosed.Error() {
		t.Errorf("Expected error %q, got %q", ErrQueueClosed, items[0].Error)
	}

	if err := dlq.Remove(ctx, items[0].ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := dlq.Remove(ctx, items[0].ID); err != ErrItemNotFound {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
}

func TestDeadLetterIDsUnique(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue()
	defer dlq.Close()

	ctx := context.Background()
	// back-to-back parks land well inside one clock tick; their IDs must
	// still be distinct
	for i := 0; i < 10; i++ {
		if err := dlq.Add(ctx, driftEnvelope(t, "heart"), ErrQueueClosed); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	items, err := dlq.List(ctx, 20)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 10 {
		t.Fatalf("Expected 10 items, got %d", len(items))
	}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if seen[item.ID] {
			t.Errorf("Duplicate dead letter ID %q", item.ID)
		}
		seen[item.ID] = true
	}
}
