package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresStorage stores tasks for all named queues in one table. Claims use
// SKIP LOCKED so concurrent workers never hand out the same task twice.
type PostgresStorage struct {
	db *sqlx.DB
}

func NewPostgresStorage(db *sqlx.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

func (s *PostgresStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}

	query := `
		INSERT INTO queue_tasks (
			id, queue, task_name, payload, status, priority, retry_count,
			max_retries, scheduled_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		task.ID, task.Queue, task.TaskName, task.Payload, task.Status,
		task.Priority, task.RetryCount, task.MaxRetries, task.ScheduledAt,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ClaimTask(ctx context.Context, queue string, workerID uuid.UUID, lockDuration time.Duration) (*Task, error) {
	now := time.Now()
	// Processing tasks whose lock expired are reclaimable: the worker that
	// held them crashed without completing or failing the task.
	query := `
		UPDATE queue_tasks
		SET status = $1, locked_until = $2
		WHERE id = (
			SELECT id FROM queue_tasks
			WHERE queue = $3
			  AND ((status = $4 AND scheduled_at <= $5)
			    OR (status = $1 AND locked_until <= $5))
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue, task_name, payload, status, priority, retry_count,
		          max_retries, scheduled_at, locked_until, error, created_at
	`

	var task Task
	err := s.db.GetContext(ctx, &task, query,
		TaskStatusProcessing, now.Add(lockDuration), queue, TaskStatusPending, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoTask
		}
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	return &task, nil
}

func (s *PostgresStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	query := `
		UPDATE queue_tasks
		SET status = $1, locked_until = NULL
		WHERE id = $2
	`
	if _, err := s.db.ExecContext(ctx, query, TaskStatusCompleted, taskID); err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return nil
}

func (s *PostgresStorage) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration, terminal bool) error {
	if terminal {
		query := `
			UPDATE queue_tasks
			SET status = $1, error = $2, retry_count = retry_count + 1,
			    locked_until = NULL
			WHERE id = $3
		`
		if _, err := s.db.ExecContext(ctx, query, TaskStatusFailed, errMsg, taskID); err != nil {
			return fmt.Errorf("failed to mark task failed: %w", err)
		}
		return nil
	}

	// Rescheduled tasks are demoted so retry backlog never starves fresh work.
	query := `
		UPDATE queue_tasks
		SET status = $1, error = $2, retry_count = retry_count + 1,
		    priority = GREATEST(priority - $3, 0),
		    scheduled_at = $4, locked_until = NULL
		WHERE id = $5
	`
	_, err := s.db.ExecContext(ctx, query,
		TaskStatusPending, errMsg, retryPriorityPenalty,
		time.Now().Add(retryDelay), taskID)
	if err != nil {
		return fmt.Errorf("failed to reschedule task: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Stats(ctx context.Context, queue string) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending' AND scheduled_at <= NOW()) AS waiting,
			COUNT(*) FILTER (WHERE status = 'pending' AND scheduled_at > NOW()) AS delayed,
			COUNT(*) FILTER (WHERE status = 'processing') AS active,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM queue_tasks
		WHERE queue = $1
	`

	var row struct {
		Waiting   int `db:"waiting"`
		Delayed   int `db:"delayed"`
		Active    int `db:"active"`
		Completed int `db:"completed"`
		Failed    int `db:"failed"`
	}
	if err := s.db.GetContext(ctx, &row, query, queue); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return &Stats{
		Queue:     queue,
		Waiting:   row.Waiting,
		Delayed:   row.Delayed,
		Active:    row.Active,
		Completed: row.Completed,
		Failed:    row.Failed,
	}, nil
}
