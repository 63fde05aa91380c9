// Package collaborator declares the external capabilities the pipeline
// consumes. Everything here is an interface: user lookup, preferences,
// template rendering, transport dispatch, events and analytics are owned by
// other services.
package collaborator

import (
	"context"

	"github.com/google/uuid"

	"github.com/edulane/notify-service/internal/model"
)

// UserDirectory looks up platform users.
type UserDirectory interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error)
}

// PreferenceResolver returns a user's notification preferences and manages
// push subscription lifecycle.
type PreferenceResolver interface {
	GetPreferences(ctx context.Context, userID uuid.UUID) (*model.Preferences, error)
	DeactivateSubscriptions(ctx context.Context, userID uuid.UUID, subscriptionIDs []uuid.UUID) error
}

// Template is an opaque handle to a compiled notification template.
type Template struct {
	ID   uuid.UUID
	Name string
}

// RenderedEmail is the renderer's output for the email channel.
type RenderedEmail struct {
	Subject  string
	HTMLBody string
	TextBody string
	FromName string
	ReplyTo  string
}

// RenderedPush is the renderer's output for the web push channel.
type RenderedPush struct {
	Title   string
	Body    string
	Icon    string
	Badge   string
	Image   string
	Actions []model.PushAction
	Data    map[string]string
	TTL     int
}

// TemplateRenderer resolves and renders notification templates. How
// templates are compiled is out of scope; the pipeline treats them as
// opaque handles.
type TemplateRenderer interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	RenderEmail(ctx context.Context, tpl *Template, data map[string]string) (*RenderedEmail, error)
	RenderPush(ctx context.Context, tpl *Template, data map[string]string) (*RenderedPush, error)
}

// EmailResult is the provider's receipt for one accepted email.
type EmailResult struct {
	MessageID string
	JobID     string
}

// EmailDispatcher performs the transport-level send for the email channel.
type EmailDispatcher interface {
	Send(ctx context.Context, payload *model.EmailPayload) (*EmailResult, error)
}

// PushSendResult is the per-subscription outcome of a bulk push send.
// Expired marks permanent endpoint rejections (gone, invalid, not found);
// those subscriptions are deactivated rather than retried.
type PushSendResult struct {
	SubscriptionID uuid.UUID
	Endpoint       string
	Success        bool
	Expired        bool
	Error          string
}

// PushOptions tune one bulk push send.
type PushOptions struct {
	TTL int
}

// PushDispatcher performs the transport-level send for the push channel,
// fanning out to every given subscription.
type PushDispatcher interface {
	SendBulk(ctx context.Context, subs []model.PushSubscription, payload *model.PushPayload, opts PushOptions) ([]PushSendResult, error)
}

// EventPublisher emits delivery-state domain events for downstream consumers.
type EventPublisher interface {
	PublishDelivered(ctx context.Context, d *model.Delivery) error
	PublishFailed(ctx context.Context, d *model.Delivery, reason string) error
}

// DeliveryEvent is one analytics datapoint in a delivery's lifecycle.
type DeliveryEvent struct {
	NotificationID uuid.UUID         `json:"notification_id"`
	DeliveryID     uuid.UUID         `json:"delivery_id"`
	UserID         uuid.UUID         `json:"user_id"`
	EventType      string            `json:"event_type"`
	Channel        string            `json:"channel"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// AnalyticsRecorder ships delivery events to the analytics store.
type AnalyticsRecorder interface {
	RecordDeliveryEvent(ctx context.Context, event DeliveryEvent) error
}
