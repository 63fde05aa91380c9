package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edulane/notify-service/internal/model"
	"github.com/edulane/notify-service/internal/repository"
)

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

// notificationRow flattens the jsonb columns for sqlx scanning.
type notificationRow struct {
	ID            uuid.UUID  `db:"id"`
	Type          string     `db:"type"`
	Title         string     `db:"title"`
	Message       string     `db:"message"`
	TemplateID    *uuid.UUID `db:"template_id"`
	Recipients    []byte     `db:"recipients"`
	Channels      []byte     `db:"channels"`
	Priority      string     `db:"priority"`
	ScheduleAt    *time.Time `db:"schedule_at"`
	ExpiresAt     *time.Time `db:"expires_at"`
	Options       []byte     `db:"options"`
	SourceService string     `db:"source_service"`
	SourceID      string     `db:"source_id"`
	CourseID      *uuid.UUID `db:"course_id"`
	CreatedAt     time.Time  `db:"created_at"`
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	recipients, err := json.Marshal(n.Recipients)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients: %w", err)
	}
	channels, err := json.Marshal(n.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}
	options, err := json.Marshal(n.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	query := `
		INSERT INTO notifications (
			id, type, title, message, template_id, recipients, channels,
			priority, schedule_at, expires_at, options, source_service,
			source_id, course_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.db.ExecContext(ctx, query,
		n.ID, n.Type, n.Title, n.Message, n.TemplateID, recipients, channels,
		n.Priority, n.ScheduleAt, n.ExpiresAt, options, n.SourceService,
		n.SourceID, n.CourseID, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	query := `
		SELECT id, type, title, message, template_id, recipients, channels,
		       priority, schedule_at, expires_at, options, source_service,
		       source_id, course_id, created_at
		FROM notifications
		WHERE id = $1
	`

	var row notificationRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	n := &model.Notification{
		ID:            row.ID,
		Type:          model.NotificationType(row.Type),
		Title:         row.Title,
		Message:       row.Message,
		TemplateID:    row.TemplateID,
		Priority:      model.NotificationPriority(row.Priority),
		ScheduleAt:    row.ScheduleAt,
		ExpiresAt:     row.ExpiresAt,
		SourceService: row.SourceService,
		SourceID:      row.SourceID,
		CourseID:      row.CourseID,
		CreatedAt:     row.CreatedAt,
	}
	if err := json.Unmarshal(row.Recipients, &n.Recipients); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
	}
	if err := json.Unmarshal(row.Channels, &n.Channels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
	}
	if err := json.Unmarshal(row.Options, &n.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return n, nil
}
