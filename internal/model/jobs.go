package model

import (
	"github.com/google/uuid"
)

// Task names routed by the queue workers.
const (
	TaskProcessNotification = "notification.process"
	TaskDeliverEmail        = "delivery.email"
	TaskDeliverPush         = "delivery.push"
)

// TaskNameForChannel maps a delivery channel to its queue task name.
func TaskNameForChannel(ch NotificationChannel) string {
	if ch == ChannelWebPush {
		return TaskDeliverPush
	}
	return TaskDeliverEmail
}

// OrchestrationJob is the payload of one notification fan-out task.
type OrchestrationJob struct {
	NotificationID uuid.UUID `json:"notification_id"`
}

// DeliveryJob is the payload of one channel delivery task. The workers
// reload the notification, so the payload carries identity only.
type DeliveryJob struct {
	DeliveryID     uuid.UUID `json:"delivery_id"`
	NotificationID uuid.UUID `json:"notification_id"`
	UserID         uuid.UUID `json:"user_id"`
}
