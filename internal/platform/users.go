// Package platform provides the in-database implementations of the
// collaborator interfaces for deployments where the pipeline shares the
// platform's postgres. Deployments with separate services swap these for
// RPC clients; the pipeline only sees the interfaces.
package platform

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edulane/notify-service/internal/model"
	apperrors "github.com/edulane/notify-service/pkg/errors"
)

// UserDirectory reads platform users from the shared database.
type UserDirectory struct {
	db *sqlx.DB
}

func NewUserDirectory(db *sqlx.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

func (d *UserDirectory) GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	query := `SELECT id, email, name, locale, created_at FROM users WHERE id = $1`

	var user model.User
	if err := d.db.GetContext(ctx, &user, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("user", err)
		}
		return nil, apperrors.Unavailable("user directory", err)
	}
	return &user, nil
}
