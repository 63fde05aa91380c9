package platform

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/edulane/notify-service/internal/model"
	apperrors "github.com/edulane/notify-service/pkg/errors"
)

// PreferenceResolver reads notification preferences and push subscriptions
// from the shared database. A user without a preference row gets the
// platform defaults: both channels enabled, no quiet hours.
type PreferenceResolver struct {
	db *sqlx.DB
}

func NewPreferenceResolver(db *sqlx.DB) *PreferenceResolver {
	return &PreferenceResolver{db: db}
}

type preferencesRow struct {
	UserID            uuid.UUID `db:"user_id"`
	EmailEnabled      bool      `db:"email_enabled"`
	PushEnabled       bool      `db:"push_enabled"`
	TypeOverrides     []byte    `db:"type_overrides"`
	QuietHoursEnabled bool      `db:"quiet_hours_enabled"`
	QuietHoursStart   string    `db:"quiet_hours_start"`
	QuietHoursEnd     string    `db:"quiet_hours_end"`
	QuietHoursTZ      string    `db:"quiet_hours_tz"`
}

func (r *PreferenceResolver) GetPreferences(ctx context.Context, userID uuid.UUID) (*model.Preferences, error) {
	query := `
		SELECT user_id, email_enabled, push_enabled, type_overrides,
		       quiet_hours_enabled, quiet_hours_start, quiet_hours_end, quiet_hours_tz
		FROM notification_preferences
		WHERE user_id = $1
	`

	prefs := &model.Preferences{
		UserID:       userID,
		EmailEnabled: true,
		PushEnabled:  true,
	}

	var row preferencesRow
	err := r.db.GetContext(ctx, &row, query, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Defaults apply.
	case err != nil:
		return nil, apperrors.Unavailable("preference store", err)
	default:
		prefs.EmailEnabled = row.EmailEnabled
		prefs.PushEnabled = row.PushEnabled
		prefs.QuietHours = model.QuietHours{
			Enabled:  row.QuietHoursEnabled,
			Start:    row.QuietHoursStart,
			End:      row.QuietHoursEnd,
			Timezone: row.QuietHoursTZ,
		}
		if len(row.TypeOverrides) > 0 {
			if err := json.Unmarshal(row.TypeOverrides, &prefs.TypeOverrides); err != nil {
				return nil, fmt.Errorf("failed to unmarshal type overrides: %w", err)
			}
		}
	}

	subs, err := r.listSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	prefs.Subscriptions = subs
	return prefs, nil
}

func (r *PreferenceResolver) listSubscriptions(ctx context.Context, userID uuid.UUID) ([]model.PushSubscription, error) {
	query := `
		SELECT id, user_id, endpoint, is_active, created_at
		FROM push_subscriptions
		WHERE user_id = $1
		ORDER BY created_at ASC
	`

	var subs []model.PushSubscription
	if err := r.db.SelectContext(ctx, &subs, query, userID); err != nil {
		return nil, apperrors.Unavailable("preference store", err)
	}
	return subs, nil
}

func (r *PreferenceResolver) DeactivateSubscriptions(ctx context.Context, userID uuid.UUID, subscriptionIDs []uuid.UUID) error {
	if len(subscriptionIDs) == 0 {
		return nil
	}

	ids := make([]string, len(subscriptionIDs))
	for i, id := range subscriptionIDs {
		ids[i] = id.String()
	}

	query := `
		UPDATE push_subscriptions
		SET is_active = FALSE
		WHERE user_id = $1 AND id = ANY($2)
	`
	if _, err := r.db.ExecContext(ctx, query, userID, pq.Array(ids)); err != nil {
		return apperrors.Unavailable("preference store", err)
	}
	return nil
}
