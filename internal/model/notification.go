package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType enumerates the kinds of notifications the platform emits.
type NotificationType string

const (
	NotificationTypeCourseEnrolled     NotificationType = "course_enrolled"
	NotificationTypeAssignmentDue      NotificationType = "assignment_due"
	NotificationTypeDiscussionReply    NotificationType = "discussion_reply"
	NotificationTypeCourseAnnouncement NotificationType = "course_announcement"
	NotificationTypeSystemAnnouncement NotificationType = "system_announcement"
)

type NotificationChannel string

const (
	ChannelEmail   NotificationChannel = "email"
	ChannelWebPush NotificationChannel = "web_push"
)

type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// MaxAttempts returns the delivery attempt budget for the priority.
func (p NotificationPriority) MaxAttempts() int {
	switch p {
	case PriorityUrgent:
		return 5
	case PriorityHigh:
		return 4
	case PriorityNormal:
		return 3
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// QueueWeight maps the priority to a queue admission weight, higher first.
func (p NotificationPriority) QueueWeight() int {
	switch p {
	case PriorityUrgent:
		return 100
	case PriorityHigh:
		return 75
	case PriorityNormal:
		return 50
	case PriorityLow:
		return 25
	default:
		return 50
	}
}

// NotificationRecipient identifies one target user. Contact fields are
// denormalized in by the preference resolver when deliveries are built.
type NotificationRecipient struct {
	UserID uuid.UUID `json:"user_id" db:"user_id"`
	Email  string    `json:"email,omitempty" db:"email"`
	Name   string    `json:"name,omitempty" db:"name"`
}

// NotificationOptions carries per-request delivery flags.
type NotificationOptions struct {
	RespectQuietHours bool     `json:"respect_quiet_hours"`
	AllowUnsubscribe  bool     `json:"allow_unsubscribe"`
	TrackOpens        bool     `json:"track_opens"`
	TrackClicks       bool     `json:"track_clicks"`
	Tags              []string `json:"tags,omitempty"`
}

// Notification is the validated inbound request. It is created once by an
// upstream caller and never mutated by the delivery pipeline.
type Notification struct {
	ID            uuid.UUID               `json:"id" db:"id"`
	Type          NotificationType        `json:"type" db:"type"`
	Title         string                  `json:"title" db:"title"`
	Message       string                  `json:"message" db:"message"`
	TemplateID    *uuid.UUID              `json:"template_id,omitempty" db:"template_id"`
	Recipients    []NotificationRecipient `json:"recipients" db:"-"`
	Channels      []NotificationChannel   `json:"channels" db:"-"`
	Priority      NotificationPriority    `json:"priority" db:"priority"`
	ScheduleAt    *time.Time              `json:"schedule_at,omitempty" db:"schedule_at"`
	ExpiresAt     *time.Time              `json:"expires_at,omitempty" db:"expires_at"`
	Options       NotificationOptions     `json:"options" db:"-"`
	SourceService string                  `json:"source_service" db:"source_service"`
	SourceID      string                  `json:"source_id,omitempty" db:"source_id"`
	CourseID      *uuid.UUID              `json:"course_id,omitempty" db:"course_id"`
	CreatedAt     time.Time               `json:"created_at" db:"created_at"`
}

// Expired reports whether the notification's expiry has passed at now.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && n.ExpiresAt.Before(now)
}

// HasChannel reports whether the request asked for the given channel.
func (n *Notification) HasChannel(ch NotificationChannel) bool {
	for _, c := range n.Channels {
		if c == ch {
			return true
		}
	}
	return false
}
