// Package queue implements the named job queues backing the delivery
// pipeline: bounded-concurrency, rate-limited workers pulling tasks from a
// shared postgres-backed store.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Queue names. Each has its own worker pool, concurrency bound and rate
// limit so one provider's quota never throttles another.
const (
	QueueOrchestration = "orchestration"
	QueueEmail         = "email"
	QueuePush          = "push"
)

var (
	// ErrNoTask signals an empty queue; workers treat it as a normal poll.
	ErrNoTask = errors.New("no task to claim")

	// ErrPermanent wraps handler errors that must not be retried at the
	// queue level (referential inconsistency upstream, not transience).
	ErrPermanent = errors.New("permanent task failure")

	ErrHandlerNotFound = errors.New("no handler registered for task")
)

// Permanent marks err as non-retryable for the queue layer.
func Permanent(err error) error {
	return errors.Join(ErrPermanent, err)
}

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task is one unit of queued work.
type Task struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Queue       string     `json:"queue" db:"queue"`
	TaskName    string     `json:"task_name" db:"task_name"`
	Payload     []byte     `json:"payload,omitempty" db:"payload"`
	Status      TaskStatus `json:"status" db:"status"`
	Priority    int        `json:"priority" db:"priority"`
	RetryCount  int        `json:"retry_count" db:"retry_count"`
	MaxRetries  int        `json:"max_retries" db:"max_retries"`
	ScheduledAt time.Time  `json:"scheduled_at" db:"scheduled_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	Error       *string    `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Stats is the read-only per-queue observability snapshot.
type Stats struct {
	Queue     string `json:"queue"`
	Waiting   int    `json:"waiting"`
	Delayed   int    `json:"delayed"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// Handler processes one named task type.
type Handler interface {
	Name() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	TaskName string
	Fn       func(ctx context.Context, payload json.RawMessage) error
}

func (h HandlerFunc) Name() string { return h.TaskName }

func (h HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) error {
	return h.Fn(ctx, payload)
}

// Storage is the durable task store shared by enqueuers and workers.
type Storage interface {
	CreateTask(ctx context.Context, task *Task) error

	// ClaimTask atomically claims the highest-priority due task from the
	// queue, marking it processing and locking it until lockDuration
	// elapses. Returns ErrNoTask when nothing is due.
	ClaimTask(ctx context.Context, queue string, workerID uuid.UUID, lockDuration time.Duration) (*Task, error)

	CompleteTask(ctx context.Context, taskID uuid.UUID) error

	// FailTask records the error and either reschedules the task with the
	// given delay and demoted priority, or marks it terminally failed when
	// terminal is true or retries are exhausted.
	FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration, terminal bool) error

	Stats(ctx context.Context, queue string) (*Stats, error)
}
