package worker

import (
	"context"
	"errors"
	"time"

	"github.com/edulane/notify-service/internal/model"
	"github.com/edulane/notify-service/internal/queue"
	"github.com/edulane/notify-service/internal/repository"
	"github.com/edulane/notify-service/pkg/logger"
	"github.com/edulane/notify-service/pkg/metrics"
)

// retrySubmitPriority is deliberately below every fresh-job queue weight so
// a retry backlog never starves new notifications.
const retrySubmitPriority = 10

// RetrySweep periodically re-submits pending deliveries whose next_retry_at
// has elapsed: failed attempts waiting out their backoff and quiet-hours
// deferrals whose window ended.
type RetrySweep struct {
	deliveries repository.DeliveryRepository
	email      *queue.Enqueuer
	push       *queue.Enqueuer
	interval   time.Duration
	batchSize  int
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewRetrySweep(
	deliveries repository.DeliveryRepository,
	email, push *queue.Enqueuer,
	interval time.Duration,
	batchSize int,
	log *logger.Logger,
	m *metrics.Metrics,
) *RetrySweep {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &RetrySweep{
		deliveries: deliveries,
		email:      email,
		push:       push,
		interval:   interval,
		batchSize:  batchSize,
		logger:     log.WithFields(map[string]interface{}{"worker": "retry_sweep"}),
		metrics:    m,
	}
}

// Start blocks until ctx is cancelled.
func (s *RetrySweep) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("retry sweep started", "interval", s.interval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry sweep stopped")
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error(err, "sweep failed")
			}
		}
	}
}

func (s *RetrySweep) sweep(ctx context.Context) error {
	due, err := s.deliveries.ListDueRetries(ctx, time.Now(), s.batchSize)
	if err != nil {
		return err
	}

	s.metrics.SweepBatchSize.Observe(float64(len(due)))
	if len(due) == 0 {
		return nil
	}

	submitted := 0
	for _, d := range due {
		if err := s.resubmit(ctx, d); err != nil {
			s.logger.Error(err, "failed to resubmit delivery", "delivery_id", d.ID.String())
			continue
		}
		submitted++
	}

	s.logger.Info("sweep completed", "due", len(due), "submitted", submitted)
	return nil
}

// resubmit clears next_retry_at under CAS so the next sweep does not pick
// the row up again, then enqueues the channel job. Losing the CAS means a
// concurrent sweep or worker already owns the delivery.
func (s *RetrySweep) resubmit(ctx context.Context, d *model.Delivery) error {
	d.NextRetryAt = nil
	if err := s.deliveries.UpdateCAS(ctx, d); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil
		}
		return err
	}

	enq := s.email
	if d.Channel == model.ChannelWebPush {
		enq = s.push
	}

	job := model.DeliveryJob{
		DeliveryID:     d.ID,
		NotificationID: d.NotificationID,
		UserID:         d.UserID,
	}
	return enq.Enqueue(ctx, model.TaskNameForChannel(d.Channel), job, queue.EnqueueOptions{
		Priority:   retrySubmitPriority,
		MaxRetries: d.MaxAttempts,
	})
}
