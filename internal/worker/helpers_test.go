package worker

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/edulane/notify-service/internal/collaborator"
	"github.com/edulane/notify-service/internal/model"
	"github.com/edulane/notify-service/internal/repository"
	"github.com/edulane/notify-service/internal/service/retry"
	"github.com/edulane/notify-service/internal/unsubscribe"
	"github.com/edulane/notify-service/pkg/logger"
	"github.com/edulane/notify-service/pkg/metrics"
)

var testMetrics = metrics.New("worker_test")

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

type fakeDeliveryRepo struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*model.Delivery
	listErr    error
}

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{deliveries: make(map[uuid.UUID]*model.Delivery)}
}

func (r *fakeDeliveryRepo) Create(_ context.Context, d *model.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.deliveries {
		if existing.NotificationID == d.NotificationID && existing.UserID == d.UserID && existing.Channel == d.Channel {
			return repository.ErrDuplicate
		}
	}
	cp := *d
	r.deliveries[d.ID] = &cp
	return nil
}

func (r *fakeDeliveryRepo) GetByRecipient(_ context.Context, notificationID, userID uuid.UUID, ch model.NotificationChannel) (*model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.deliveries {
		if d.NotificationID == notificationID && d.UserID == userID && d.Channel == ch {
			cp := *d
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeDeliveryRepo) Get(_ context.Context, id uuid.UUID) (*model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *fakeDeliveryRepo) UpdateCAS(_ context.Context, d *model.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.deliveries[d.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != d.Version {
		return repository.ErrVersionConflict
	}
	cp := *d
	cp.Version++
	r.deliveries[d.ID] = &cp
	d.Version++
	return nil
}

func (r *fakeDeliveryRepo) ListDueRetries(_ context.Context, now time.Time, limit int) ([]*model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*model.Delivery
	for _, d := range r.deliveries {
		if d.Status == model.DeliveryStatusPending && d.NextRetryAt != nil && !d.NextRetryAt.After(now) {
			cp := *d
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeDeliveryRepo) CountByStatus(context.Context) (map[model.DeliveryStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.DeliveryStatus]int)
	for _, d := range r.deliveries {
		out[d.Status]++
	}
	return out, nil
}

func (r *fakeDeliveryRepo) get(t *testing.T, id uuid.UUID) *model.Delivery {
	t.Helper()
	d, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	return d
}

type fakeNotifRepo struct {
	notifications map[uuid.UUID]*model.Notification
}

func (r *fakeNotifRepo) Create(_ context.Context, n *model.Notification) error {
	r.notifications[n.ID] = n
	return nil
}

func (r *fakeNotifRepo) Get(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	n, ok := r.notifications[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

type fakeUsers struct {
	users map[uuid.UUID]*model.User
}

func (f *fakeUsers) GetUser(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

type fakeEvents struct {
	mu        sync.Mutex
	delivered []uuid.UUID
	failed    []uuid.UUID
}

func (f *fakeEvents) PublishDelivered(_ context.Context, d *model.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, d.ID)
	return nil
}

func (f *fakeEvents) PublishFailed(_ context.Context, d *model.Delivery, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, d.ID)
	return nil
}

type fakeAnalytics struct {
	mu     sync.Mutex
	events []collaborator.DeliveryEvent
}

func (f *fakeAnalytics) RecordDeliveryEvent(_ context.Context, e collaborator.DeliveryEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

type fakeRenderer struct{}

func (fakeRenderer) GetTemplate(_ context.Context, id uuid.UUID) (*collaborator.Template, error) {
	return &collaborator.Template{ID: id, Name: "assignment-due"}, nil
}

func (fakeRenderer) RenderEmail(context.Context, *collaborator.Template, map[string]string) (*collaborator.RenderedEmail, error) {
	return &collaborator.RenderedEmail{
		Subject:  "Rendered subject",
		HTMLBody: "<h1>Rendered</h1>",
		TextBody: "Rendered",
	}, nil
}

func (fakeRenderer) RenderPush(context.Context, *collaborator.Template, map[string]string) (*collaborator.RenderedPush, error) {
	return &collaborator.RenderedPush{Title: "Rendered title", Body: "Rendered body", TTL: 600}, nil
}

type fakeEmailDispatcher struct {
	mu      sync.Mutex
	sent    []*model.EmailPayload
	sendErr error
}

func (f *fakeEmailDispatcher) Send(_ context.Context, p *model.EmailPayload) (*collaborator.EmailResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, p)
	return &collaborator.EmailResult{MessageID: "msg-123"}, nil
}

type fakePushDispatcher struct {
	mu      sync.Mutex
	sent    []*model.PushPayload
	results []collaborator.PushSendResult
	sendErr error
}

func (f *fakePushDispatcher) SendBulk(_ context.Context, subs []model.PushSubscription, p *model.PushPayload, _ collaborator.PushOptions) ([]collaborator.PushSendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, p)
	if f.results != nil {
		return f.results, nil
	}
	out := make([]collaborator.PushSendResult, 0, len(subs))
	for _, s := range subs {
		out = append(out, collaborator.PushSendResult{
			SubscriptionID: s.ID,
			Endpoint:       s.Endpoint,
			Success:        true,
		})
	}
	return out, nil
}

type fakePrefs struct {
	mu          sync.Mutex
	prefs       map[uuid.UUID]*model.Preferences
	deactivated map[uuid.UUID][]uuid.UUID
}

func newFakePrefs() *fakePrefs {
	return &fakePrefs{
		prefs:       make(map[uuid.UUID]*model.Preferences),
		deactivated: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (f *fakePrefs) GetPreferences(_ context.Context, userID uuid.UUID) (*model.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.prefs[userID]; ok {
		return p, nil
	}
	return &model.Preferences{UserID: userID, EmailEnabled: true, PushEnabled: true}, nil
}

func (f *fakePrefs) DeactivateSubscriptions(_ context.Context, userID uuid.UUID, ids []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated[userID] = append(f.deactivated[userID], ids...)
	return nil
}

type fixture struct {
	deliveries *fakeDeliveryRepo
	notifs     *fakeNotifRepo
	users      *fakeUsers
	events     *fakeEvents
	analytics  *fakeAnalytics
	prefs      *fakePrefs
	email      *fakeEmailDispatcher
	push       *fakePushDispatcher
	tokens     *unsubscribe.TokenService

	notification *model.Notification
	user         *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tokens, err := unsubscribe.NewTokenService("test-secret", "https://app.edulane.test", time.Hour)
	require.NoError(t, err)

	user := &model.User{
		ID:    uuid.New(),
		Email: "student@edulane.test",
		Name:  "Riley Chen",
	}
	n := &model.Notification{
		ID:            uuid.New(),
		Type:          model.NotificationTypeAssignmentDue,
		Title:         "Assignment due soon",
		Message:       "Problem set 3 is due tomorrow.",
		Channels:      []model.NotificationChannel{model.ChannelEmail, model.ChannelWebPush},
		Priority:      model.PriorityNormal,
		SourceService: "course-service",
		CreatedAt:     time.Now(),
	}

	f := &fixture{
		deliveries: newFakeDeliveryRepo(),
		notifs:     &fakeNotifRepo{notifications: map[uuid.UUID]*model.Notification{n.ID: n}},
		users:      &fakeUsers{users: map[uuid.UUID]*model.User{user.ID: user}},
		events:     &fakeEvents{},
		analytics:  &fakeAnalytics{},
		prefs:      newFakePrefs(),
		email:      &fakeEmailDispatcher{},
		push:       &fakePushDispatcher{},
		tokens:     tokens,

		notification: n,
		user:         user,
	}
	return f
}

func (f *fixture) newDelivery(t *testing.T, ch model.NotificationChannel) *model.Delivery {
	t.Helper()
	d := model.NewDelivery(f.notification.ID, f.user.ID, ch, f.notification.Priority)
	require.NoError(t, f.deliveries.Create(context.Background(), d))
	return d
}

func (f *fixture) emailWorker() *EmailWorker {
	return NewEmailWorker(f.deliveries, f.notifs, f.users, fakeRenderer{}, f.email,
		f.events, f.analytics, f.tokens, retry.NewPolicy(0, 0, 0), testLogger(), testMetrics)
}

func (f *fixture) pushWorker() *PushWorker {
	return NewPushWorker(f.deliveries, f.notifs, f.users, fakeRenderer{}, f.push, f.prefs,
		f.events, f.analytics,
		PushDefaults{IconURL: "https://cdn.edulane.test/icon.png", BaseURL: "https://app.edulane.test"},
		retry.NewPolicy(0, 0, 0), testLogger(), testMetrics)
}

func deliveryPayload(t *testing.T, d *model.Delivery) []byte {
	t.Helper()
	job := model.DeliveryJob{
		DeliveryID:     d.ID,
		NotificationID: d.NotificationID,
		UserID:         d.UserID,
	}
	body, err := json.Marshal(job)
	require.NoError(t, err)
	return body
}
