package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/edulane/notify-service/pkg/logger"
	"github.com/edulane/notify-service/pkg/metrics"
)

// WorkerConfig bounds one queue's worker pool.
type WorkerConfig struct {
	Queue        string
	Concurrency  int
	RatePerMin   int
	PollInterval time.Duration
	LockTimeout  time.Duration
}

// Worker pulls tasks from one queue and dispatches them to registered
// handlers. Concurrency is bounded by a semaphore; admission is additionally
// rate-limited to respect external provider quotas.
type Worker struct {
	storage  Storage
	config   WorkerConfig
	handlers map[string]Handler
	workerID uuid.UUID
	limiter  *rate.Limiter
	sem      chan struct{}
	logger   *logger.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(storage Storage, config WorkerConfig, log *logger.Logger, m *metrics.Metrics) (*Worker, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if config.Queue == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = 2 * time.Minute
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RatePerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(config.RatePerMin)/60.0), config.RatePerMin)
	}

	return &Worker{
		storage:  storage,
		config:   config,
		handlers: make(map[string]Handler),
		workerID: uuid.New(),
		limiter:  limiter,
		sem:      make(chan struct{}, config.Concurrency),
		logger: log.WithFields(map[string]interface{}{
			"queue": config.Queue,
		}),
		metrics: m,
	}, nil
}

// RegisterHandler adds a handler for one task name.
func (w *Worker) RegisterHandler(h Handler) {
	if h == nil {
		return
	}
	w.handlers[h.Name()] = h
}

// Start begins the poll loop. Handlers must be registered beforehand.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return fmt.Errorf("worker already started")
	}
	if len(w.handlers) == 0 {
		return fmt.Errorf("no handlers registered for queue %q", w.config.Queue)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(runCtx)

	w.logger.Info("queue worker started",
		"worker_id", w.workerID.String(),
		"concurrency", w.config.Concurrency)
	return nil
}

// Stop cancels the poll loop and waits for in-flight tasks.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()
	w.logger.Info("queue worker stopped", "worker_id", w.workerID.String())
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(15 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		case <-statsTicker.C:
			w.reportDepth(ctx)
		}
	}
}

func (w *Worker) reportDepth(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.storage.Stats(ctx, w.config.Queue)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error(err, "failed to read queue stats")
		}
		return
	}
	w.metrics.QueueDepth.WithLabelValues(w.config.Queue).Set(float64(stats.Waiting))
}

// drain claims tasks until the queue is empty, a slot is unavailable, or the
// rate limiter refuses admission this tick.
func (w *Worker) drain(ctx context.Context) {
	for {
		if !w.limiter.Allow() {
			return
		}

		select {
		case w.sem <- struct{}{}:
		default:
			return
		}

		task, err := w.storage.ClaimTask(ctx, w.config.Queue, w.workerID, w.config.LockTimeout)
		if err != nil {
			<-w.sem
			if !errors.Is(err, ErrNoTask) && ctx.Err() == nil {
				w.logger.Error(err, "failed to claim task")
			}
			return
		}

		if w.metrics != nil {
			w.metrics.TasksClaimed.WithLabelValues(w.config.Queue).Inc()
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.process(task)
		}()
	}
}

func (w *Worker) process(task *Task) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(fmt.Errorf("panic: %v", r), "handler panicked",
				"task_id", task.ID.String(), "task_name", task.TaskName)
			w.fail(task, fmt.Errorf("panic in handler: %v", r))
		}
	}()

	handler, ok := w.handlers[task.TaskName]
	if !ok {
		// Retrying cannot help a task nobody handles.
		w.logger.Error(ErrHandlerNotFound, "unknown task name", "task_name", task.TaskName)
		w.failTerminal(task, ErrHandlerNotFound.Error())
		return
	}

	// The task context is detached from the poll loop so graceful shutdown
	// lets claimed tasks finish; the lock timeout bounds it instead.
	ctx, cancel := context.WithTimeout(context.Background(), w.config.LockTimeout)
	defer cancel()

	if err := handler.Handle(ctx, task.Payload); err != nil {
		w.fail(task, err)
		return
	}

	if err := w.storage.CompleteTask(context.Background(), task.ID); err != nil {
		w.logger.Error(err, "failed to mark task completed", "task_id", task.ID.String())
		return
	}

	w.logger.Debug("task completed",
		"task_id", task.ID.String(),
		"task_name", task.TaskName,
		"duration", time.Since(start).String())
}

func (w *Worker) fail(task *Task, execErr error) {
	if errors.Is(execErr, ErrPermanent) {
		w.failTerminal(task, execErr.Error())
		return
	}

	terminal := task.RetryCount+1 >= task.MaxRetries
	delay := w.queueRetryDelay(task.RetryCount + 1)

	if err := w.storage.FailTask(context.Background(), task.ID, execErr.Error(), delay, terminal); err != nil {
		w.logger.Error(err, "failed to record task failure", "task_id", task.ID.String())
		return
	}

	w.logger.Warn("task failed",
		"task_id", task.ID.String(),
		"task_name", task.TaskName,
		"retry_count", task.RetryCount+1,
		"terminal", terminal,
		"error", execErr.Error())
}

func (w *Worker) failTerminal(task *Task, msg string) {
	if err := w.storage.FailTask(context.Background(), task.ID, msg, 0, true); err != nil {
		w.logger.Error(err, "failed to record terminal task failure", "task_id", task.ID.String())
	}
}

// queueRetryDelay is the infrastructure-level backoff, distinct from the
// domain-level delivery backoff owned by the channel workers.
func (w *Worker) queueRetryDelay(attempt int) time.Duration {
	delay := time.Duration(attempt) * 10 * time.Second
	if delay > 2*time.Minute {
		delay = 2 * time.Minute
	}
	return delay
}
