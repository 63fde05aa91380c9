package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/edulane/notify-service/internal/model"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned by compare-and-swap updates when the row's
// version no longer matches. The caller lost the race and must not assume
// ownership of the delivery.
var ErrVersionConflict = errors.New("delivery version conflict")

// ErrDuplicate is returned by Create when a delivery for the same
// notification, user and channel already exists.
var ErrDuplicate = errors.New("duplicate delivery")

type (
	// NotificationRepository stores inbound notification requests. The
	// pipeline only reads them; upstream callers persist before enqueueing.
	NotificationRepository interface {
		Create(ctx context.Context, n *model.Notification) error
		Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	}

	// DeliveryRepository is the delivery store, the only durable state owned
	// by the pipeline.
	DeliveryRepository interface {
		// Create inserts the delivery; ErrDuplicate reports that a row for
		// the same notification, user and channel already exists.
		Create(ctx context.Context, d *model.Delivery) error
		Get(ctx context.Context, id uuid.UUID) (*model.Delivery, error)

		// GetByRecipient returns the delivery for one notification, user
		// and channel combination.
		GetByRecipient(ctx context.Context, notificationID, userID uuid.UUID, ch model.NotificationChannel) (*model.Delivery, error)

		// UpdateCAS persists d only if the stored version equals
		// d.Version; on success d.Version is incremented. Returns
		// ErrVersionConflict when the row moved underneath the caller.
		UpdateCAS(ctx context.Context, d *model.Delivery) error

		// ListDueRetries returns pending deliveries whose next_retry_at has
		// elapsed. Concurrent sweeps may see the same rows; the CAS taken
		// before resubmission is what keeps each delivery single-owner.
		ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*model.Delivery, error)

		CountByStatus(ctx context.Context) (map[model.DeliveryStatus]int, error)
	}
)
