package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulane/notify-service/internal/collaborator"
	"github.com/edulane/notify-service/internal/model"
)

func testPayload() *model.PushPayload {
	return &model.PushPayload{
		Title: "Assignment due soon",
		Body:  "Problem set 3 is due tomorrow.",
		Data:  map[string]string{"notification_id": uuid.NewString()},
		TTL:   600,
	}
}

func subscription(endpoint string) model.PushSubscription {
	return model.PushSubscription{ID: uuid.New(), Endpoint: endpoint, IsActive: true}
}

func TestSendBulk_SuccessfulPost(t *testing.T) {
	var gotTTL atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotTTL.Store(r.Header.Get("TTL"))

		var p model.PushPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "Assignment due soon", p.Title)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	d := NewHTTPPushDispatcher(PushConfig{Timeout: 5 * time.Second})
	results, err := d.SendBulk(context.Background(), []model.PushSubscription{subscription(srv.URL)}, testPayload(), collaborator.PushOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.False(t, results[0].Expired)
	assert.Equal(t, "600", gotTTL.Load())
}

func TestSendBulk_GoneEndpointReportedExpired(t *testing.T) {
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer gone.Close()
	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer missing.Close()
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer ok.Close()

	subs := []model.PushSubscription{subscription(gone.URL), subscription(missing.URL), subscription(ok.URL)}

	d := NewHTTPPushDispatcher(PushConfig{})
	results, err := d.SendBulk(context.Background(), subs, testPayload(), collaborator.PushOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Expired)
	assert.False(t, results[0].Success)
	assert.True(t, results[1].Expired)
	assert.True(t, results[2].Success)
}

func TestSendBulk_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewHTTPPushDispatcher(PushConfig{})
	results, err := d.SendBulk(context.Background(), []model.PushSubscription{subscription(srv.URL)}, testPayload(), collaborator.PushOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.False(t, results[0].Expired)
	assert.Contains(t, results[0].Error, "503")
}

func TestSendBulk_BatchesAllSubscriptions(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	subs := make([]model.PushSubscription, 7)
	for i := range subs {
		subs[i] = subscription(srv.URL)
	}

	d := NewHTTPPushDispatcher(PushConfig{BatchSize: 3})
	results, err := d.SendBulk(context.Background(), subs, testPayload(), collaborator.PushOptions{})
	require.NoError(t, err)
	require.Len(t, results, 7)
	for _, r := range results {
		assert.True(t, r.Success)
	}
	assert.Equal(t, int32(7), hits.Load())
}

func TestSendBulk_OptionsTTLOverridesPayload(t *testing.T) {
	var gotTTL atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTTL.Store(r.Header.Get("TTL"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	d := NewHTTPPushDispatcher(PushConfig{})
	_, err := d.SendBulk(context.Background(), []model.PushSubscription{subscription(srv.URL)}, testPayload(), collaborator.PushOptions{TTL: 60})
	require.NoError(t, err)
	assert.Equal(t, "60", gotTTL.Load())
}
