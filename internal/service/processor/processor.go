// Package processor implements the notification orchestrator: it consumes
// queued notification jobs and expands them into per-recipient, per-channel
// delivery rows and channel tasks.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edulane/notify-service/internal/collaborator"
	"github.com/edulane/notify-service/internal/model"
	"github.com/edulane/notify-service/internal/queue"
	"github.com/edulane/notify-service/internal/repository"
	"github.com/edulane/notify-service/internal/service/quiethours"
	"github.com/edulane/notify-service/pkg/logger"
	"github.com/edulane/notify-service/pkg/metrics"
)

// Enqueuers groups the queue producers the processor fans out to.
type Enqueuers struct {
	Orchestration *queue.Enqueuer
	Email         *queue.Enqueuer
	Push          *queue.Enqueuer
}

// Processor orchestrates notification fan-out. All collaborators are
// injected; the processor holds no global state.
type Processor struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	preferences   collaborator.PreferenceResolver
	renderer      collaborator.TemplateRenderer
	enqueuers     Enqueuers
	logger        *logger.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

func New(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	preferences collaborator.PreferenceResolver,
	renderer collaborator.TemplateRenderer,
	enqueuers Enqueuers,
	log *logger.Logger,
	m *metrics.Metrics,
) *Processor {
	return &Processor{
		notifications: notifications,
		deliveries:    deliveries,
		preferences:   preferences,
		renderer:      renderer,
		enqueuers:     enqueuers,
		logger:        log,
		metrics:       m,
		now:           time.Now,
	}
}

// Enqueue submits one orchestration job for the notification. The queue
// delay honors ScheduleAt; the priority maps to a queue weight. No other
// side effect, and it never blocks on downstream work.
func (p *Processor) Enqueue(ctx context.Context, n *model.Notification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}

	var delay time.Duration
	if n.ScheduleAt != nil {
		if d := n.ScheduleAt.Sub(p.now()); d > 0 {
			delay = d
		}
	}

	job := model.OrchestrationJob{NotificationID: n.ID}
	err := p.enqueuers.Orchestration.Enqueue(ctx, model.TaskProcessNotification, job, queue.EnqueueOptions{
		Priority: n.Priority.QueueWeight(),
		Delay:    delay,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue notification %s: %w", n.ID, err)
	}

	p.logger.Info("notification enqueued",
		"notification_id", n.ID.String(),
		"priority", string(n.Priority),
		"delay", delay.String())
	return nil
}

// Handler returns the queue handler for orchestration jobs.
func (p *Processor) Handler() queue.Handler {
	return queue.HandlerFunc{
		TaskName: model.TaskProcessNotification,
		Fn:       p.handle,
	}
}

func (p *Processor) handle(ctx context.Context, payload json.RawMessage) error {
	var job model.OrchestrationJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return queue.Permanent(fmt.Errorf("malformed orchestration payload: %w", err))
	}

	n, err := p.notifications.Get(ctx, job.NotificationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Referential inconsistency upstream; retrying cannot repair it.
			p.metrics.NotificationsProcessed.WithLabelValues("missing").Inc()
			return queue.Permanent(fmt.Errorf("notification %s not found", job.NotificationID))
		}
		return fmt.Errorf("failed to load notification %s: %w", job.NotificationID, err)
	}

	now := p.now()
	if n.Expired(now) {
		// An expired notification is a deliberate skip, not an error.
		p.logger.Info("notification expired, skipping",
			"notification_id", n.ID.String(),
			"expired_at", n.ExpiresAt.Format(time.RFC3339))
		p.metrics.NotificationsExpired.Inc()
		p.metrics.NotificationsProcessed.WithLabelValues("expired").Inc()
		return nil
	}

	// Resolve the optional template once for the whole fan-out; recipients
	// only differ in their variable values.
	if n.TemplateID != nil {
		if _, err := p.renderer.GetTemplate(ctx, *n.TemplateID); err != nil {
			p.logger.Warn("template not resolvable, falling back to plain content",
				"notification_id", n.ID.String(),
				"template_id", n.TemplateID.String(),
				"error", err.Error())
			n.TemplateID = nil
		}
	}

	processed := 0
	var infraErr error
	for _, recipient := range n.Recipients {
		if err := p.processRecipient(ctx, n, recipient, now); err != nil {
			if pkgIsInfra(err) {
				infraErr = err
				break
			}
			// One broken recipient must not abort the others.
			p.logger.Error(err, "failed to process recipient",
				"notification_id", n.ID.String(),
				"user_id", recipient.UserID.String())
			continue
		}
		processed++
	}

	if infraErr != nil {
		p.metrics.NotificationsProcessed.WithLabelValues("infra_error").Inc()
		return fmt.Errorf("orchestration aborted for %s: %w", n.ID, infraErr)
	}

	p.metrics.NotificationsProcessed.WithLabelValues("ok").Inc()
	p.logger.Info("notification processed",
		"notification_id", n.ID.String(),
		"recipients", len(n.Recipients),
		"processed", processed)
	return nil
}

func (p *Processor) processRecipient(ctx context.Context, n *model.Notification, recipient model.NotificationRecipient, now time.Time) error {
	prefs, err := p.preferences.GetPreferences(ctx, recipient.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve preferences for %s: %w", recipient.UserID, err)
	}

	channels := prefs.EffectiveChannels(n.Channels, n.Type)
	if len(channels) == 0 {
		p.logger.Debug("no eligible channels, skipping recipient",
			"notification_id", n.ID.String(),
			"user_id", recipient.UserID.String())
		return nil
	}

	if n.Options.RespectQuietHours {
		inside, err := quiethours.InWindow(now, prefs.QuietHours)
		if err != nil {
			p.logger.Warn("unusable quiet hours config, delivering now",
				"user_id", recipient.UserID.String(),
				"error", err.Error())
		} else if inside {
			return p.deferForQuietHours(ctx, n, recipient.UserID, channels, prefs.QuietHours, now)
		}
	}

	for _, ch := range channels {
		if err := p.createAndEnqueue(ctx, n, recipient.UserID, ch); err != nil {
			return err
		}
	}
	return nil
}

// deferForQuietHours creates pending rows aimed at the end of the quiet
// window without enqueueing channel jobs; the retry sweep re-submits them
// once due. The worker slot is released immediately.
func (p *Processor) deferForQuietHours(ctx context.Context, n *model.Notification, userID uuid.UUID, channels []model.NotificationChannel, qh model.QuietHours, now time.Time) error {
	windowEnd, err := quiethours.WindowEnd(now, qh)
	if err != nil {
		return fmt.Errorf("failed to compute quiet window end: %w", err)
	}

	for _, ch := range channels {
		d := model.NewDelivery(n.ID, userID, ch, n.Priority)
		d.NextRetryAt = &windowEnd
		if err := p.deliveries.Create(ctx, d); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				// A retried orchestration job already deferred this one.
				continue
			}
			return infraWrap(fmt.Errorf("failed to create deferred delivery: %w", err))
		}
		p.metrics.DeliveriesCreated.WithLabelValues(string(ch)).Inc()
		p.metrics.DeliveriesDeferred.Inc()
	}

	p.logger.Info("deliveries deferred for quiet hours",
		"notification_id", n.ID.String(),
		"user_id", userID.String(),
		"next_retry_at", windowEnd.Format(time.RFC3339))
	return nil
}

// createAndEnqueue inserts the delivery row and submits its channel job.
// A duplicate row means a retried orchestration job is re-visiting a
// recipient the first run already reached: the existing row is reused and
// only re-enqueued when it may still be waiting for a job. Re-enqueueing an
// already-queued delivery is safe; the worker no-ops on terminal rows and
// loses the claim CAS on in-flight ones.
func (p *Processor) createAndEnqueue(ctx context.Context, n *model.Notification, userID uuid.UUID, ch model.NotificationChannel) error {
	d := model.NewDelivery(n.ID, userID, ch, n.Priority)
	if err := p.deliveries.Create(ctx, d); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return infraWrap(fmt.Errorf("failed to create delivery: %w", err))
		}
		existing, err := p.deliveries.GetByRecipient(ctx, n.ID, userID, ch)
		if err != nil {
			return infraWrap(fmt.Errorf("failed to load existing delivery: %w", err))
		}
		if existing.Status.Terminal() || existing.NextRetryAt != nil {
			// Already settled, or scheduled for the retry sweep.
			return nil
		}
		d = existing
	} else {
		p.metrics.DeliveriesCreated.WithLabelValues(string(ch)).Inc()
	}

	job := model.DeliveryJob{
		DeliveryID:     d.ID,
		NotificationID: n.ID,
		UserID:         userID,
	}

	enq := p.enqueuers.Email
	if ch == model.ChannelWebPush {
		enq = p.enqueuers.Push
	}
	err := enq.Enqueue(ctx, model.TaskNameForChannel(ch), job, queue.EnqueueOptions{
		Priority:   n.Priority.QueueWeight(),
		MaxRetries: d.MaxAttempts,
	})
	if err != nil {
		return infraWrap(fmt.Errorf("failed to enqueue delivery job: %w", err))
	}
	return nil
}

// infraError marks failures of the pipeline's own infrastructure (store or
// queue down). They abort and retry the whole orchestration job, unlike
// per-recipient domain errors which are logged and skipped.
type infraError struct {
	err error
}

func (e *infraError) Error() string { return e.err.Error() }
func (e *infraError) Unwrap() error { return e.err }

func infraWrap(err error) error {
	return &infraError{err: err}
}

func pkgIsInfra(err error) bool {
	var ie *infraError
	return errors.As(err, &ie)
}
