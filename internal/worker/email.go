package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edulane/notify-service/internal/collaborator"
	"github.com/edulane/notify-service/internal/model"
	"github.com/edulane/notify-service/internal/queue"
	"github.com/edulane/notify-service/internal/repository"
	"github.com/edulane/notify-service/internal/service/retry"
	"github.com/edulane/notify-service/internal/unsubscribe"
	"github.com/edulane/notify-service/pkg/logger"
	"github.com/edulane/notify-service/pkg/metrics"
)

// EmailWorker terminates email deliveries: it renders the message, invokes
// the SMTP dispatcher and drives the delivery state machine.
type EmailWorker struct {
	core        deliveryCore
	renderer    collaborator.TemplateRenderer
	dispatcher  collaborator.EmailDispatcher
	unsubscribe *unsubscribe.TokenService
}

func NewEmailWorker(
	deliveries repository.DeliveryRepository,
	notifications repository.NotificationRepository,
	users collaborator.UserDirectory,
	renderer collaborator.TemplateRenderer,
	dispatcher collaborator.EmailDispatcher,
	events collaborator.EventPublisher,
	analytics collaborator.AnalyticsRecorder,
	tokens *unsubscribe.TokenService,
	policy retry.Policy,
	log *logger.Logger,
	m *metrics.Metrics,
) *EmailWorker {
	return &EmailWorker{
		core: deliveryCore{
			deliveries:    deliveries,
			notifications: notifications,
			users:         users,
			events:        events,
			analytics:     analytics,
			policy:        policy,
			logger:        log.WithFields(map[string]interface{}{"worker": "email"}),
			metrics:       m,
			now:           time.Now,
		},
		renderer:    renderer,
		dispatcher:  dispatcher,
		unsubscribe: tokens,
	}
}

// Handler returns the queue handler for email delivery jobs.
func (w *EmailWorker) Handler() queue.Handler {
	return queue.HandlerFunc{
		TaskName: model.TaskDeliverEmail,
		Fn:       w.handle,
	}
}

func (w *EmailWorker) handle(ctx context.Context, payload json.RawMessage) error {
	var job model.DeliveryJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return queue.Permanent(fmt.Errorf("malformed email delivery payload: %w", err))
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

	emailPayload, err := w.buildPayload(ctx, n, user)
	if err != nil {
		return w.core.failAttempt(ctx, d, err)
	}

	start := time.Now()
	result, err := w.dispatcher.Send(ctx, emailPayload)
	w.core.metrics.DispatchLatency.WithLabelValues(string(model.ChannelEmail)).Observe(time.Since(start).Seconds())
	if err != nil {
		return w.core.failAttempt(ctx, d, err)
	}

	d.ProviderMsgID = &result.MessageID
	if result.JobID != "" {
		d.ProviderJobID = &result.JobID
	}
	return w.core.succeed(ctx, d, map[string]string{
		"message_id": result.MessageID,
	})
}

// buildPayload renders the email from a template when one is set, otherwise
// synthesizes subject and body from the plain title and message.
func (w *EmailWorker) buildPayload(ctx context.Context, n *model.Notification, user *model.User) (*model.EmailPayload, error) {
	payload := &model.EmailPayload{
		To:          user.Email,
		ToName:      user.Name,
		TrackOpens:  n.Options.TrackOpens,
		TrackClicks: n.Options.TrackClicks,
	}

	if n.TemplateID != nil {
		tpl, err := w.renderer.GetTemplate(ctx, *n.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve email template: %w", err)
		}
		rendered, err := w.renderer.RenderEmail(ctx, tpl, templateVars(n, user))
		if err != nil {
			return nil, fmt.Errorf("failed to render email template: %w", err)
		}
		payload.Subject = rendered.Subject
		payload.HTMLBody = rendered.HTMLBody
		payload.TextBody = rendered.TextBody
		payload.FromName = rendered.FromName
		payload.ReplyTo = rendered.ReplyTo
	} else {
		payload.Subject = n.Title
		payload.HTMLBody = fmt.Sprintf("<p>%s</p>", n.Message)
		payload.TextBody = n.Message
	}

	if n.Options.AllowUnsubscribe {
		link, err := w.unsubscribe.Link(user.ID, n.Type)
		if err != nil {
			// An email without its unsubscribe footer is still deliverable.
			w.core.logger.Error(err, "failed to build unsubscribe link",
				"user_id", user.ID.String())
		} else {
			payload.UnsubscribeLink = link
		}
	}

	return payload, nil
}
