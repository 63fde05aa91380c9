package postgres

import (
	"github.com/jmoiron/sqlx"
)

// BaseRepository holds the shared database handle embedded by every
// repository in this package.
type BaseRepository struct {
	db *sqlx.DB
}

// NewBaseRepository creates a new base repository.
func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}
