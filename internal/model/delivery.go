package model

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusProcessing DeliveryStatus = "processing"
	DeliveryStatusDelivered  DeliveryStatus = "delivered"
	DeliveryStatusFailed     DeliveryStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusFailed
}

// Delivery is one attempt-series of transmitting a notification to one
// recipient over one channel. Exactly one row exists per
// (notification, user, channel); the row is owned by the channel worker
// that is processing it. Version is the optimistic concurrency token:
// every update is a compare-and-swap against it.
type Delivery struct {
	ID             uuid.UUID           `json:"id" db:"id"`
	NotificationID uuid.UUID           `json:"notification_id" db:"notification_id"`
	UserID         uuid.UUID           `json:"user_id" db:"user_id"`
	Channel        NotificationChannel `json:"channel" db:"channel"`
	Status         DeliveryStatus      `json:"status" db:"status"`
	Attempts       int                 `json:"attempts" db:"attempts"`
	MaxAttempts    int                 `json:"max_attempts" db:"max_attempts"`
	NextRetryAt    *time.Time          `json:"next_retry_at,omitempty" db:"next_retry_at"`
	DeliveredAt    *time.Time          `json:"delivered_at,omitempty" db:"delivered_at"`
	ErrorMessage   *string             `json:"error_message,omitempty" db:"error_message"`
	ProviderMsgID  *string             `json:"provider_message_id,omitempty" db:"provider_message_id"`
	ProviderJobID  *string             `json:"provider_job_id,omitempty" db:"provider_job_id"`
	PushEndpoint   *string             `json:"push_endpoint,omitempty" db:"push_endpoint"`
	Version        int                 `json:"version" db:"version"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at" db:"updated_at"`
}

// NewDelivery builds a fresh pending delivery for one recipient and channel.
func NewDelivery(notificationID, userID uuid.UUID, channel NotificationChannel, priority NotificationPriority) *Delivery {
	now := time.Now()
	return &Delivery{
		ID:             uuid.New(),
		NotificationID: notificationID,
		UserID:         userID,
		Channel:        channel,
		Status:         DeliveryStatusPending,
		Attempts:       0,
		MaxAttempts:    priority.MaxAttempts(),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AttemptsExhausted reports whether the delivery has no retries left.
func (d *Delivery) AttemptsExhausted() bool {
	return d.Attempts >= d.MaxAttempts
}
