package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulane/notify-service/internal/collaborator"
	"github.com/edulane/notify-service/internal/model"
)

func (f *fixture) withSubscriptions(subs ...model.PushSubscription) {
	f.prefs.prefs[f.user.ID] = &model.Preferences{
		UserID:        f.user.ID,
		EmailEnabled:  true,
		PushEnabled:   true,
		Subscriptions: subs,
	}
}

func sub(active bool) model.PushSubscription {
	id := uuid.New()
	return model.PushSubscription{
		ID:       id,
		Endpoint: "https://push.example.com/" + id.String(),
		IsActive: active,
	}
}

func TestPushWorker_DeliversToActiveSubscriptions(t *testing.T) {
	f := newFixture(t)
	f.withSubscriptions(sub(true), sub(true))
	w := f.pushWorker()
	d := f.newDelivery(t, model.ChannelWebPush)

	require.NoError(t, w.Handler().Handle(context.Background(), deliveryPayload(t, d)))

	stored := f.deliveries.get(t, d.ID)
	assert.Equal(t, model.DeliveryStatusDelivered, stored.Status)
	require.NotNil(t, stored.PushEndpoint)

	require.Len(t, f.push.sent, 1)
	payload := f.push.sent[0]
	assert.Equal(t, f.notification.Title, payload.Title)
	assert.Equal(t, f.notification.ID.String(), payload.Data["notification_id"])
	assert.NotEmpty(t, payload.Data["url"])
	assert.Len(t, payload.Actions, 2)
	assert.False(t, payload.RequireInteraction)
}

func TestPushWorker_PartialSuccessStillDelivers(t *testing.T) {
	f := newFixture(t)
	ok := sub(true)
	gone1 := sub(true)
	gone2 := sub(true)
	f.withSubscriptions(ok, gone1, gone2)
	f.push.results = []collaborator.PushSendResult{
		{SubscriptionID: ok.ID, Endpoint: ok.Endpoint, Success: true},
		{SubscriptionID: gone1.ID, Endpoint: gone1.Endpoint, Expired: true, Error: "410 gone"},
		{SubscriptionID: gone2.ID, Endpoint: gone2.Endpoint, Expired: true, Error: "404 not found"},
	}
	w := f.pushWorker()
	d := f.newDelivery(t, model.ChannelWebPush)

	require.NoError(t, w.Handler().Handle(context.Background(), deliveryPayload(t, d)))

	stored := f.deliveries.get(t, d.ID)
	assert.Equal(t, model.DeliveryStatusDelivered, stored.Status)
	require.NotNil(t, stored.PushEndpoint)
	assert.Equal(t, ok.Endpoint, *stored.PushEndpoint)

	// Both permanently rejected endpoints are deactivated.
	assert.ElementsMatch(t, []uuid.UUID{gone1.ID, gone2.ID}, f.prefs.deactivated[f.user.ID])
}

func TestPushWorker_AllRejectedSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	s := sub(true)
	f.withSubscriptions(s)
	f.push.results = []collaborator.PushSendResult{
		{SubscriptionID: s.ID, Endpoint: s.Endpoint, Success: false, Error: "503 unavailable"},
	}
	w := f.pushWorker()
	d := f.newDelivery(t, model.ChannelWebPush)

	require.NoError(t, w.Handler().Handle(context.Background(), deliveryPayload(t, d)))

	stored := f.deliveries.get(t, d.ID)
	assert.Equal(t, model.DeliveryStatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.NextRetryAt)
	// Transient rejections must not deactivate the subscription.
	assert.Empty(t, f.prefs.deactivated[f.user.ID])
}

func TestPushWorker_NoActiveSubscriptionsIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.withSubscriptions(sub(false))
	w := f.pushWorker()
	d := f.newDelivery(t, model.ChannelWebPush)

	require.NoError(t, w.Handler().Handle(context.Background(), deliveryPayload(t, d)))

	stored := f.deliveries.get(t, d.ID)
	assert.Equal(t, model.DeliveryStatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "no active push subscriptions")
	assert.Empty(t, f.push.sent)
}

func TestPushWorker_DispatcherErrorSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	f.withSubscriptions(sub(true))
	f.push.sendErr = errors.New("push gateway timeout")
	w := f.pushWorker()
	d := f.newDelivery(t, model.ChannelWebPush)

	require.NoError(t, w.Handler().Handle(context.Background(), deliveryPayload(t, d)))

	stored := f.deliveries.get(t, d.ID)
	assert.Equal(t, model.DeliveryStatusPending, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "push gateway timeout")
}

func TestPushWorker_UrgentRequiresInteraction(t *testing.T) {
	f := newFixture(t)
	f.withSubscriptions(sub(true))
	f.notification.Priority = model.PriorityUrgent
	f.notifs.notifications[f.notification.ID] = f.notification
	w := f.pushWorker()
	d := f.newDelivery(t, model.ChannelWebPush)

	require.NoError(t, w.Handler().Handle(context.Background(), deliveryPayload(t, d)))

	require.Len(t, f.push.sent, 1)
	assert.True(t, f.push.sent[0].RequireInteraction)
}

func TestPushWorker_DeepLinkPerType(t *testing.T) {
	f := newFixture(t)
	w := f.pushWorker()
	courseID := uuid.New()

	cases := []struct {
		typ      model.NotificationType
		sourceID string
		want     string
	}{
		{model.NotificationTypeCourseEnrolled, "", "https://app.edulane.test/courses/" + courseID.String()},
		{model.NotificationTypeAssignmentDue, "ps3", "https://app.edulane.test/courses/" + courseID.String() + "/assignments/ps3"},
		{model.NotificationTypeDiscussionReply, "th9", "https://app.edulane.test/courses/" + courseID.String() + "/discussions/th9"},
		{model.NotificationTypeSystemAnnouncement, "a1", "https://app.edulane.test/announcements/a1"},
		{model.NotificationType("unknown"), "", "https://app.edulane.test/notifications"},
	}
	for _, tc := range cases {
		n := &model.Notification{Type: tc.typ, SourceID: tc.sourceID, CourseID: &courseID}
		assert.Equal(t, tc.want, w.deepLink(n), string(tc.typ))
	}
}
