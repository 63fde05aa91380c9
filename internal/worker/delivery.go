// Package worker implements the channel delivery workers and the retry
// sweep. The email and push workers share one state machine; they differ
// only in payload construction and transmission.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edulane/notify-service/internal/collaborator"
	"github.com/edulane/notify-service/internal/model"
	"github.com/edulane/notify-service/internal/repository"
	"github.com/edulane/notify-service/internal/service/retry"
	"github.com/edulane/notify-service/pkg/logger"
	"github.com/edulane/notify-service/pkg/metrics"
)

const (
	eventDelivered = "delivered"
	eventFailed    = "failed"
)

// deliveryCore holds the collaborators and state transitions shared by both
// channel workers.
type deliveryCore struct {
	deliveries    repository.DeliveryRepository
	notifications repository.NotificationRepository
	users         collaborator.UserDirectory
	events        collaborator.EventPublisher
	analytics     collaborator.AnalyticsRecorder
	policy        retry.Policy
	logger        *logger.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

// begin loads the delivery and claims the attempt. A delivery already in a
// terminal state is the idempotent no-op the queue's at-least-once
// redelivery requires; done=true reports it. The CAS to PROCESSING is the
// guard against two workers holding the same delivery: the loser gets a
// version conflict and surrenders the job to queue-level redelivery.
func (c *deliveryCore) begin(ctx context.Context, deliveryID uuid.UUID) (d *model.Delivery, done bool, err error) {
	d, err = c.deliveries.Get(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("delivery %s not found: %w", deliveryID, err)
		}
		return nil, false, fmt.Errorf("failed to load delivery %s: %w", deliveryID, err)
	}

	if d.Status.Terminal() {
		c.logger.Debug("delivery already terminal, skipping",
			"delivery_id", d.ID.String(),
			"status", string(d.Status))
		return d, true, nil
	}

	if d.AttemptsExhausted() {
		// A redelivered job found the row mid-attempt at the budget; the
		// worker that held it never finished the transition. Close it out
		// instead of claiming an attempt past the budget.
		if err := c.failAttempt(ctx, d, errors.New("attempt budget exhausted before completion")); err != nil {
			return nil, false, err
		}
		return d, true, nil
	}

	d.Status = model.DeliveryStatusProcessing
	d.Attempts++
	d.NextRetryAt = nil
	if err := c.deliveries.UpdateCAS(ctx, d); err != nil {
		return nil, false, fmt.Errorf("failed to claim delivery %s: %w", d.ID, err)
	}
	return d, false, nil
}

// succeed terminates the delivery in DELIVERED and emits the delivered
// analytics and domain events. Event emission is best-effort: the delivery
// outcome is already durable.
func (c *deliveryCore) succeed(ctx context.Context, d *model.Delivery, meta map[string]string) error {
	now := c.now()
	d.Status = model.DeliveryStatusDelivered
	d.DeliveredAt = &now
	d.ErrorMessage = nil
	d.NextRetryAt = nil
	if err := c.deliveries.UpdateCAS(ctx, d); err != nil {
		return fmt.Errorf("failed to persist delivered state for %s: %w", d.ID, err)
	}

	c.metrics.DeliveriesSucceeded.WithLabelValues(string(d.Channel)).Inc()

	if err := c.events.PublishDelivered(ctx, d); err != nil {
		c.logger.Error(err, "failed to publish delivered event", "delivery_id", d.ID.String())
	}
	c.record(ctx, d, eventDelivered, meta)

	c.logger.Info("delivery succeeded",
		"delivery_id", d.ID.String(),
		"channel", string(d.Channel),
		"attempts", d.Attempts)
	return nil
}

// failAttempt applies the domain retry/failure transition after a failed
// attempt: back to PENDING with backoff while attempts remain, terminal
// FAILED otherwise. Domain failures never propagate past the worker
// boundary, or the queue layer would double-count retries.
func (c *deliveryCore) failAttempt(ctx context.Context, d *model.Delivery, cause error) error {
	msg := cause.Error()
	d.ErrorMessage = &msg

	if d.AttemptsExhausted() {
		d.Status = model.DeliveryStatusFailed
		d.NextRetryAt = nil
		if err := c.deliveries.UpdateCAS(ctx, d); err != nil {
			return fmt.Errorf("failed to persist failed state for %s: %w", d.ID, err)
		}

		c.metrics.DeliveriesFailed.WithLabelValues(string(d.Channel)).Inc()

		if err := c.events.PublishFailed(ctx, d, msg); err != nil {
			c.logger.Error(err, "failed to publish failed event", "delivery_id", d.ID.String())
		}
		c.record(ctx, d, eventFailed, map[string]string{"error": msg})

		c.logger.Warn("delivery failed terminally",
			"delivery_id", d.ID.String(),
			"channel", string(d.Channel),
			"attempts", d.Attempts,
			"error", msg)
		return nil
	}

	delay := c.policy.Delay(d.Channel, d.Attempts)
	nextRetry := c.now().Add(delay)
	d.Status = model.DeliveryStatusPending
	d.NextRetryAt = &nextRetry
	if err := c.deliveries.UpdateCAS(ctx, d); err != nil {
		return fmt.Errorf("failed to persist retry state for %s: %w", d.ID, err)
	}

	c.metrics.DeliveryRetries.WithLabelValues(string(d.Channel)).Inc()

	c.logger.Warn("delivery attempt failed, retry scheduled",
		"delivery_id", d.ID.String(),
		"channel", string(d.Channel),
		"attempt", d.Attempts,
		"next_retry_at", nextRetry.Format(time.RFC3339),
		"error", msg)
	return nil
}

// loadContext fetches the notification and user a delivery references. A
// missing row is a domain failure: the delivery exists and must still reach
// a terminal state through the retry path.
func (c *deliveryCore) loadContext(ctx context.Context, d *model.Delivery) (*model.Notification, *model.User, error) {
	n, err := c.notifications.Get(ctx, d.NotificationID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load notification %s: %w", d.NotificationID, err)
	}

	user, err := c.users.GetUser(ctx, d.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load user %s: %w", d.UserID, err)
	}
	return n, user, nil
}

func (c *deliveryCore) record(ctx context.Context, d *model.Delivery, eventType string, meta map[string]string) {
	event := collaborator.DeliveryEvent{
		NotificationID: d.NotificationID,
		DeliveryID:     d.ID,
		UserID:         d.UserID,
		EventType:      eventType,
		Channel:        string(d.Channel),
		Metadata:       meta,
	}
	if err := c.analytics.RecordDeliveryEvent(ctx, event); err != nil {
		c.logger.Error(err, "failed to record analytics event", "delivery_id", d.ID.String())
	}
}

// templateVars merges the standard variables every template render receives.
func templateVars(n *model.Notification, user *model.User) map[string]string {
	vars := map[string]string{
		"user_name":         user.Name,
		"user_email":        user.Email,
		"notification_id":   n.ID.String(),
		"notification_type": string(n.Type),
		"title":             n.Title,
		"message":           n.Message,
		"source_service":    n.SourceService,
	}
	if n.CourseID != nil {
		vars["course_id"] = n.CourseID.String()
	}
	return vars
}
