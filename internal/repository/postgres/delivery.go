package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edulane/notify-service/internal/model"
	"github.com/edulane/notify-service/internal/repository"
)

type deliveryRepository struct {
	BaseRepository
}

func NewDeliveryRepository(base BaseRepository) repository.DeliveryRepository {
	return &deliveryRepository{base}
}

const deliveryColumns = `
	id, notification_id, user_id, channel, status, attempts, max_attempts,
	next_retry_at, delivered_at, error_message, provider_message_id,
	provider_job_id, push_endpoint, version, created_at, updated_at
`

func (r *deliveryRepository) Create(ctx context.Context, d *model.Delivery) error {
	if d == nil {
		return fmt.Errorf("delivery cannot be nil")
	}

	query := `
		INSERT INTO deliveries (` + deliveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (notification_id, user_id, channel) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		d.ID, d.NotificationID, d.UserID, d.Channel, d.Status, d.Attempts,
		d.MaxAttempts, d.NextRetryAt, d.DeliveredAt, d.ErrorMessage,
		d.ProviderMsgID, d.ProviderJobID, d.PushEndpoint, d.Version,
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrDuplicate
	}
	return nil
}

func (r *deliveryRepository) GetByRecipient(ctx context.Context, notificationID, userID uuid.UUID, ch model.NotificationChannel) (*model.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE notification_id = $1 AND user_id = $2 AND channel = $3
	`

	var d model.Delivery
	if err := r.db.GetContext(ctx, &d, query, notificationID, userID, ch); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get delivery by recipient: %w", err)
	}
	return &d, nil
}

func (r *deliveryRepository) Get(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE id = $1`

	var d model.Delivery
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return &d, nil
}

// UpdateCAS writes the full mutable state guarded by the version column.
// Zero rows affected means another worker moved the row first.
func (r *deliveryRepository) UpdateCAS(ctx context.Context, d *model.Delivery) error {
	if d == nil {
		return fmt.Errorf("delivery cannot be nil")
	}
	d.UpdatedAt = time.Now()

	query := `
		UPDATE deliveries
		SET status = $1, attempts = $2, next_retry_at = $3, delivered_at = $4,
		    error_message = $5, provider_message_id = $6, provider_job_id = $7,
		    push_endpoint = $8, version = version + 1, updated_at = $9
		WHERE id = $10 AND version = $11
	`
	res, err := r.db.ExecContext(ctx, query,
		d.Status, d.Attempts, d.NextRetryAt, d.DeliveredAt,
		d.ErrorMessage, d.ProviderMsgID, d.ProviderJobID,
		d.PushEndpoint, d.UpdatedAt, d.ID, d.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update delivery: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrVersionConflict
	}

	d.Version++
	return nil
}

func (r *deliveryRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*model.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= $2
		ORDER BY next_retry_at ASC
		LIMIT $3
	`

	var deliveries []*model.Delivery
	err := r.db.SelectContext(ctx, &deliveries, query, model.DeliveryStatusPending, now, limit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list due retries: %w", err)
	}
	return deliveries, nil
}

func (r *deliveryRepository) CountByStatus(ctx context.Context) (map[model.DeliveryStatus]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM deliveries GROUP BY status`

	rows := []struct {
		Status model.DeliveryStatus `db:"status"`
		Count  int                  `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count deliveries: %w", err)
	}

	counts := make(map[model.DeliveryStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
