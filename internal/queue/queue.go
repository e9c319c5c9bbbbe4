// Package queue moves report-processing tasks between the API and the
// workers. Keying messages by report id keeps every task for one
// report on one partition, so one consumer owns a report at a time.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskType selects what a worker does with a report.
type TaskType string

const (
	TaskProcess    TaskType = "process"
	TaskReclassify TaskType = "reclassify"
)

// Task is one unit of worker work.
type Task struct {
	Type       TaskType  `json:"type"`
	ReportID   uuid.UUID `json:"reportId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Producer enqueues tasks.
type Producer interface {
	Enqueue(ctx context.Context, task Task) error
	Close() error
}

// Handler processes one task. A non-nil return is logged by the
// consumer; the task is still committed because the orchestrator owns
// retry semantics through the report's state.
type Handler func(ctx context.Context, task Task) error

// MemoryQueue is an in-process Producer for tests: enqueued tasks are
// collected and can be drained through a handler.
type MemoryQueue struct {
	mu    sync.Mutex
	tasks []Task
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *MemoryQueue) Close() error { return nil }

// Tasks returns a copy of everything enqueued so far.
func (q *MemoryQueue) Tasks() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Task(nil), q.tasks...)
}

// Drain runs the handler over all queued tasks in order, removing them.
func (q *MemoryQueue) Drain(ctx context.Context, handler Handler) error {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, task := range tasks {
		if err := handler(ctx, task); err != nil {
			return err
		}
	}
	return nil
}
