package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edulane/notify-service/internal/collaborator"
	"github.com/edulane/notify-service/internal/model"
	"github.com/edulane/notify-service/internal/queue"
	"github.com/edulane/notify-service/internal/repository"
	"github.com/edulane/notify-service/internal/service/retry"
	"github.com/edulane/notify-service/pkg/logger"
	"github.com/edulane/notify-service/pkg/metrics"
)

// errNoActiveSubscriptions is retryable: a device may register before the
// retry window elapses.
var errNoActiveSubscriptions = errors.New("no active push subscriptions")

// PushDefaults hold the branding values used when a template sets none.
type PushDefaults struct {
	IconURL  string
	BadgeURL string
	BaseURL  string
}

// PushWorker terminates web push deliveries: it renders the payload, fans
// out to every active subscription and drives the delivery state machine.
// The attempt succeeds when at least one subscription accepts the payload.
type PushWorker struct {
	core        deliveryCore
	renderer    collaborator.TemplateRenderer
	dispatcher  collaborator.PushDispatcher
	preferences collaborator.PreferenceResolver
	defaults    PushDefaults
}

func NewPushWorker(
	deliveries repository.DeliveryRepository,
	notifications repository.NotificationRepository,
	users collaborator.UserDirectory,
	renderer collaborator.TemplateRenderer,
	dispatcher collaborator.PushDispatcher,
	preferences collaborator.PreferenceResolver,
	events collaborator.EventPublisher,
	analytics collaborator.AnalyticsRecorder,
	defaults PushDefaults,
	policy retry.Policy,
	log *logger.Logger,
	m *metrics.Metrics,
) *PushWorker {
	return &PushWorker{
		core: deliveryCore{
			deliveries:    deliveries,
			notifications: notifications,
			users:         users,
			events:        events,
			analytics:     analytics,
			policy:        policy,
			logger:        log.WithFields(map[string]interface{}{"worker": "push"}),
			metrics:       m,
			now:           time.Now,
		},
		renderer:    renderer,
		dispatcher:  dispatcher,
		preferences: preferences,
		defaults:    defaults,
	}
}

// Handler returns the queue handler for push delivery jobs.
func (w *PushWorker) Handler() queue.Handler {
	return queue.HandlerFunc{
		TaskName: model.TaskDeliverPush,
		Fn:       w.handle,
	}
}

func (w *PushWorker) handle(ctx context.Context, payload json.RawMessage) error {
	var job model.DeliveryJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return queue.Permanent(fmt.Errorf("malformed push delivery payload: %w", err))
	}

	d, done, err := w.core.begin(ctx, job.DeliveryID)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	n, user, err := w.core.loadContext(ctx, d)
	if err != nil {
		return w.core.failAttempt(ctx, d, err)
	}

	prefs, err := w.preferences.GetPreferences(ctx, d.UserID)
	if err != nil {
		return w.core.failAttempt(ctx, d, fmt.Errorf("failed to resolve preferences: %w", err))
	}

	subs := prefs.ActiveSubscriptions()
	if len(subs) == 0 {
		return w.core.failAttempt(ctx, d, errNoActiveSubscriptions)
	}

	pushPayload, err := w.buildPayload(ctx, n, user)
	if err != nil {
		return w.core.failAttempt(ctx, d, err)
	}

	start := time.Now()
	results, err := w.dispatcher.SendBulk(ctx, subs, pushPayload, collaborator.PushOptions{TTL: pushPayload.TTL})
	w.core.metrics.DispatchLatency.WithLabelValues(string(model.ChannelWebPush)).Observe(time.Since(start).Seconds())
	if err != nil {
		return w.core.failAttempt(ctx, d, err)
	}

	accepted, expired := summarize(results)
	w.deactivateExpired(ctx, d.UserID, expired)

	if len(accepted) == 0 {
		return w.core.failAttempt(ctx, d, fmt.Errorf("all %d push subscriptions rejected the payload", len(subs)))
	}

	endpoint := accepted[0].Endpoint
	d.PushEndpoint = &endpoint
	return w.core.succeed(ctx, d, map[string]string{
		"subscriptions_accepted": fmt.Sprintf("%d", len(accepted)),
		"subscriptions_expired":  fmt.Sprintf("%d", len(expired)),
	})
}

func summarize(results []collaborator.PushSendResult) (accepted []collaborator.PushSendResult, expired []uuid.UUID) {
	for _, r := range results {
		if r.Success {
			accepted = append(accepted, r)
			continue
		}
		if r.Expired {
			expired = append(expired, r.SubscriptionID)
		}
	}
	return accepted, expired
}

// deactivateExpired marks permanently rejected endpoints inactive so future
// notifications skip them. Best-effort: the delivery outcome does not depend
// on it.
func (w *PushWorker) deactivateExpired(ctx context.Context, userID uuid.UUID, expired []uuid.UUID) {
	if len(expired) == 0 {
		return
	}
	if err := w.preferences.DeactivateSubscriptions(ctx, userID, expired); err != nil {
		w.core.logger.Error(err, "failed to deactivate expired subscriptions",
			"user_id", userID.String(),
			"count", len(expired))
		return
	}
	w.core.metrics.SubscriptionsDeactivated.Add(float64(len(expired)))
}

// buildPayload renders the push message from a template when one is set,
// otherwise synthesizes defaults from the plain title and message.
func (w *PushWorker) buildPayload(ctx context.Context, n *model.Notification, user *model.User) (*model.PushPayload, error) {
	payload := &model.PushPayload{
		Icon:               w.defaults.IconURL,
		Badge:              w.defaults.BadgeURL,
		RequireInteraction: n.Priority == model.PriorityHigh || n.Priority == model.PriorityUrgent,
	}

	if n.TemplateID != nil {
		tpl, err := w.renderer.GetTemplate(ctx, *n.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve push template: %w", err)
		}
		rendered, err := w.renderer.RenderPush(ctx, tpl, templateVars(n, user))
		if err != nil {
			return nil, fmt.Errorf("failed to render push template: %w", err)
		}
		payload.Title = rendered.Title
		payload.Body = rendered.Body
		payload.Actions = rendered.Actions
		payload.TTL = rendered.TTL
		if rendered.Icon != "" {
			payload.Icon = rendered.Icon
		}
		if rendered.Badge != "" {
			payload.Badge = rendered.Badge
		}
		payload.Image = rendered.Image
		payload.Data = rendered.Data
	} else {
		payload.Title = n.Title
		payload.Body = n.Message
	}

	if payload.Data == nil {
		payload.Data = make(map[string]string)
	}
	payload.Data["notification_id"] = n.ID.String()
	payload.Data["type"] = string(n.Type)
	payload.Data["url"] = w.deepLink(n)

	if len(payload.Actions) == 0 {
		payload.Actions = []model.PushAction{
			{Action: "open", Title: "View"},
			{Action: "dismiss", Title: "Dismiss"},
		}
	}

	return payload, nil
}

// deepLink maps the notification type to the page the click should land on.
func (w *PushWorker) deepLink(n *model.Notification) string {
	base := w.defaults.BaseURL
	courseID := ""
	if n.CourseID != nil {
		courseID = n.CourseID.String()
	}

	switch n.Type {
	case model.NotificationTypeCourseEnrolled:
		return fmt.Sprintf("%s/courses/%s", base, courseID)
	case model.NotificationTypeAssignmentDue:
		return fmt.Sprintf("%s/courses/%s/assignments/%s", base, courseID, n.SourceID)
	case model.NotificationTypeDiscussionReply:
		return fmt.Sprintf("%s/courses/%s/discussions/%s", base, courseID, n.SourceID)
	case model.NotificationTypeCourseAnnouncement, model.NotificationTypeSystemAnnouncement:
		return fmt.Sprintf("%s/announcements/%s", base, n.SourceID)
	default:
		return fmt.Sprintf("%s/notifications", base)
	}
}
