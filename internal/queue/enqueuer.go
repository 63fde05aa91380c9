package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMaxRetries = 3

	// retryPriorityPenalty demotes re-queued tasks below fresh ones so a
	// failure backlog cannot starve new notifications.
	retryPriorityPenalty = 30
)

// Enqueuer submits tasks to a named queue.
type Enqueuer struct {
	storage Storage
	queue   string
}

func NewEnqueuer(storage Storage, queue string) *Enqueuer {
	return &Enqueuer{storage: storage, queue: queue}
}

// EnqueueOptions tune one submission.
type EnqueueOptions struct {
	Priority   int
	Delay      time.Duration
	MaxRetries int
}

// Enqueue marshals payload and stores the task. Delay shifts ScheduledAt
// into the future; the task is not claimable before then.
func (e *Enqueuer) Enqueue(ctx context.Context, taskName string, payload any, opts EnqueueOptions) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for task %q: %w", taskName, err)
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	now := time.Now()
	scheduledAt := now
	if opts.Delay > 0 {
		scheduledAt = now.Add(opts.Delay)
	}

	task := &Task{
		ID:          uuid.New(),
		Queue:       e.queue,
		TaskName:    taskName,
		Payload:     body,
		Status:      TaskStatusPending,
		Priority:    opts.Priority,
		MaxRetries:  maxRetries,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
	}

	if err := e.storage.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue task %q on queue %q: %w", taskName, e.queue, err)
	}
	return nil
}
