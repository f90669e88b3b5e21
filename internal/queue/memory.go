package queue

import (
	"context"
	"fmt"
	"sync"
)

// Task is one enqueued investigation.
type Task struct {
	InvestigationID string
	ImageBytes      []byte
	Metadata        map[string]string
}

// MemoryQueue is a bounded in-memory task queue for development and
// tests.
type MemoryQueue struct {
	mu     sync.Mutex
	ch     chan Task
	closed bool
}

// NewMemoryQueue constructs a queue with the provided capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{ch: make(chan Task, capacity)}
}

// Enqueue pushes a task or fails when the queue is full or closed.
func (q *MemoryQueue) Enqueue(ctx context.Context, investigationID string, imageBytes []byte, metadata map[string]string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue closed")
	}
	q.mu.Unlock()

	task := Task{
		InvestigationID: investigationID,
		ImageBytes:      imageBytes,
		Metadata:        metadata,
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case <-ctx.Done():
		return Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return Task{}, fmt.Errorf("queue closed")
		}
		return task, nil
	}
}

// Len reports pending tasks.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close closes the queue; pending tasks can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
