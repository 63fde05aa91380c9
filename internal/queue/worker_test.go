package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulane/notify-service/pkg/logger"
)

// memStorage is an in-memory Storage with the same claim semantics as the
// postgres implementation: pending and due, or processing with an expired
// lock, highest priority first.
type memStorage struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
}

func newMemStorage() *memStorage {
	return &memStorage{tasks: make(map[uuid.UUID]*Task)}
}

func (s *memStorage) CreateTask(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *memStorage) ClaimTask(_ context.Context, queue string, _ uuid.UUID, lockDuration time.Duration) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var due []*Task
	for _, t := range s.tasks {
		if t.Queue != queue {
			continue
		}
		pending := t.Status == TaskStatusPending && !t.ScheduledAt.After(now)
		orphaned := t.Status == TaskStatusProcessing && t.LockedUntil != nil && !t.LockedUntil.After(now)
		if pending || orphaned {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil, ErrNoTask
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})

	t := due[0]
	t.Status = TaskStatusProcessing
	locked := now.Add(lockDuration)
	t.LockedUntil = &locked
	cp := *t
	return &cp, nil
}

func (s *memStorage) CompleteTask(_ context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	t.Status = TaskStatusCompleted
	return nil
}

func (s *memStorage) FailTask(_ context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	t.Error = &errMsg
	if terminal {
		t.Status = TaskStatusFailed
		return nil
	}
	t.Status = TaskStatusPending
	t.RetryCount++
	t.ScheduledAt = time.Now().Add(retryDelay)
	if t.Priority > retryPriorityPenalty {
		t.Priority -= retryPriorityPenalty
	} else {
		t.Priority = 0
	}
	return nil
}

func (s *memStorage) Stats(_ context.Context, queue string) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &Stats{Queue: queue}
	now := time.Now()
	for _, t := range s.tasks {
		if t.Queue != queue {
			continue
		}
		switch t.Status {
		case TaskStatusPending:
			if t.ScheduledAt.After(now) {
				st.Delayed++
			} else {
				st.Waiting++
			}
		case TaskStatusProcessing:
			st.Active++
		case TaskStatusCompleted:
			st.Completed++
		case TaskStatusFailed:
			st.Failed++
		}
	}
	return st, nil
}

func (s *memStorage) get(id uuid.UUID) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tasks[id]
}

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

func testWorker(t *testing.T, storage Storage, queue string) *Worker {
	t.Helper()
	w, err := NewWorker(storage, WorkerConfig{
		Queue:        queue,
		Concurrency:  2,
		PollInterval: 10 * time.Millisecond,
		LockTimeout:  time.Minute,
	}, testLogger(), nil)
	require.NoError(t, err)
	return w
}

func taskID(t *testing.T, s *memStorage) uuid.UUID {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.tasks, 1)
	for id := range s.tasks {
		return id
	}
	return uuid.Nil
}

func TestEnqueue_DefaultsAndDelay(t *testing.T) {
	storage := newMemStorage()
	enq := NewEnqueuer(storage, QueueEmail)

	require.NoError(t, enq.Enqueue(context.Background(), "delivery.email",
		map[string]string{"k": "v"}, EnqueueOptions{Priority: 75, Delay: time.Hour}))

	task := storage.get(taskID(t, storage))
	assert.Equal(t, QueueEmail, task.Queue)
	assert.Equal(t, 75, task.Priority)
	assert.Equal(t, defaultMaxRetries, task.MaxRetries)
	assert.True(t, task.ScheduledAt.After(time.Now().Add(50*time.Minute)))

	// Not claimable before its schedule.
	_, err := storage.ClaimTask(context.Background(), QueueEmail, uuid.New(), time.Minute)
	assert.ErrorIs(t, err, ErrNoTask)
}

func TestWorker_ProcessesTask(t *testing.T) {
	storage := newMemStorage()
	enq := NewEnqueuer(storage, QueueEmail)
	w := testWorker(t, storage, QueueEmail)

	var mu sync.Mutex
	var got []string
	w.RegisterHandler(HandlerFunc{
		TaskName: "delivery.email",
		Fn: func(_ context.Context, payload json.RawMessage) error {
			var body map[string]string
			if err := json.Unmarshal(payload, &body); err != nil {
				return err
			}
			mu.Lock()
			got = append(got, body["delivery_id"])
			mu.Unlock()
			return nil
		},
	})

	require.NoError(t, enq.Enqueue(context.Background(), "delivery.email",
		map[string]string{"delivery_id": "d-1"}, EnqueueOptions{Priority: 50}))
	id := taskID(t, storage)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool {
		return storage.get(id).Status == TaskStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"d-1"}, got)
}

func TestWorker_ReclaimsTaskWithExpiredLock(t *testing.T) {
	storage := newMemStorage()
	enq := NewEnqueuer(storage, QueueEmail)
	w := testWorker(t, storage, QueueEmail)

	var mu sync.Mutex
	calls := 0
	w.RegisterHandler(HandlerFunc{
		TaskName: "delivery.email",
		Fn: func(context.Context, json.RawMessage) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		},
	})

	require.NoError(t, enq.Enqueue(context.Background(), "delivery.email",
		struct{}{}, EnqueueOptions{Priority: 50}))
	id := taskID(t, storage)

	// Another worker claimed the task and died; its lock has expired.
	storage.mu.Lock()
	expired := time.Now().Add(-time.Second)
	storage.tasks[id].Status = TaskStatusProcessing
	storage.tasks[id].LockedUntil = &expired
	storage.mu.Unlock()

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool {
		return storage.get(id).Status == TaskStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestWorker_RetryableFailureReschedulesWithDemotion(t *testing.T) {
	storage := newMemStorage()
	enq := NewEnqueuer(storage, QueuePush)
	w := testWorker(t, storage, QueuePush)

	w.RegisterHandler(HandlerFunc{
		TaskName: "delivery.push",
		Fn: func(context.Context, json.RawMessage) error {
			return errors.New("provider timeout")
		},
	})

	require.NoError(t, enq.Enqueue(context.Background(), "delivery.push",
		struct{}{}, EnqueueOptions{Priority: 50, MaxRetries: 5}))
	id := taskID(t, storage)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool {
		task := storage.get(id)
		return task.RetryCount >= 1 && task.Status == TaskStatusPending
	}, 2*time.Second, 10*time.Millisecond)

	task := storage.get(id)
	assert.Equal(t, 50-retryPriorityPenalty, task.Priority)
	require.NotNil(t, task.Error)
	assert.Contains(t, *task.Error, "provider timeout")
	assert.True(t, task.ScheduledAt.After(time.Now()))
}

func TestWorker_PermanentFailureIsTerminal(t *testing.T) {
	storage := newMemStorage()
	enq := NewEnqueuer(storage, QueueEmail)
	w := testWorker(t, storage, QueueEmail)

	var calls int32
	var mu sync.Mutex
	w.RegisterHandler(HandlerFunc{
		TaskName: "delivery.email",
		Fn: func(context.Context, json.RawMessage) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return Permanent(errors.New("notification gone"))
		},
	})

	require.NoError(t, enq.Enqueue(context.Background(), "delivery.email",
		struct{}{}, EnqueueOptions{Priority: 50, MaxRetries: 5}))
	id := taskID(t, storage)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool {
		return storage.get(id).Status == TaskStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, int32(1), calls)
	mu.Unlock()
	assert.Equal(t, 0, storage.get(id).RetryCount)
}

func TestWorker_UnknownTaskNameIsTerminal(t *testing.T) {
	storage := newMemStorage()
	enq := NewEnqueuer(storage, QueueEmail)
	w := testWorker(t, storage, QueueEmail)

	w.RegisterHandler(HandlerFunc{
		TaskName: "delivery.email",
		Fn:       func(context.Context, json.RawMessage) error { return nil },
	})

	require.NoError(t, enq.Enqueue(context.Background(), "no.such.task",
		struct{}{}, EnqueueOptions{}))
	id := taskID(t, storage)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool {
		return storage.get(id).Status == TaskStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	task := storage.get(id)
	require.NotNil(t, task.Error)
	assert.Equal(t, ErrHandlerNotFound.Error(), *task.Error)
}

func TestWorker_PanicRecovered(t *testing.T) {
	storage := newMemStorage()
	enq := NewEnqueuer(storage, QueueEmail)
	w := testWorker(t, storage, QueueEmail)

	w.RegisterHandler(HandlerFunc{
		TaskName: "delivery.email",
		Fn: func(context.Context, json.RawMessage) error {
			panic("template engine exploded")
		},
	})

	require.NoError(t, enq.Enqueue(context.Background(), "delivery.email",
		struct{}{}, EnqueueOptions{MaxRetries: 2}))
	id := taskID(t, storage)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool {
		task := storage.get(id)
		return task.Error != nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Contains(t, *storage.get(id).Error, "panic")
}

func TestWorker_StartRequiresHandlers(t *testing.T) {
	w := testWorker(t, newMemStorage(), QueueEmail)
	assert.Error(t, w.Start(context.Background()))
}

func TestQueueRetryDelay_Capped(t *testing.T) {
	w := testWorker(t, newMemStorage(), QueueEmail)
	assert.Equal(t, 10*time.Second, w.queueRetryDelay(1))
	assert.Equal(t, 30*time.Second, w.queueRetryDelay(3))
	assert.Equal(t, 2*time.Minute, w.queueRetryDelay(50))
}
