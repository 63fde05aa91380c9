package model

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Locale    string    `json:"locale,omitempty" db:"locale"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
