package collaborator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulane/notify-service/internal/model"
)

type countingDirectory struct {
	calls int
	users map[uuid.UUID]*model.User
}

func (d *countingDirectory) GetUser(_ context.Context, id uuid.UUID) (*model.User, error) {
	d.calls++
	if u, ok := d.users[id]; ok {
		return u, nil
	}
	return nil, assert.AnError
}

type countingResolver struct {
	getCalls    int
	deactivated []uuid.UUID
	prefs       map[uuid.UUID]*model.Preferences
}

func (r *countingResolver) GetPreferences(_ context.Context, id uuid.UUID) (*model.Preferences, error) {
	r.getCalls++
	if p, ok := r.prefs[id]; ok {
		return p, nil
	}
	return nil, assert.AnError
}

func (r *countingResolver) DeactivateSubscriptions(_ context.Context, _ uuid.UUID, ids []uuid.UUID) error {
	r.deactivated = append(r.deactivated, ids...)
	return nil
}

func TestCachedUserDirectory_ReadThrough(t *testing.T) {
	userID := uuid.New()
	inner := &countingDirectory{users: map[uuid.UUID]*model.User{
		userID: {ID: userID, Email: "student@edulane.test"},
	}}
	dir := NewCachedUserDirectory(inner, time.Minute)

	for i := 0; i < 3; i++ {
		u, err := dir.GetUser(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, "student@edulane.test", u.Email)
	}
	assert.Equal(t, 1, inner.calls)
}

func TestCachedUserDirectory_ErrorsNotCached(t *testing.T) {
	inner := &countingDirectory{users: map[uuid.UUID]*model.User{}}
	dir := NewCachedUserDirectory(inner, time.Minute)

	missing := uuid.New()
	_, err := dir.GetUser(context.Background(), missing)
	require.Error(t, err)
	_, err = dir.GetUser(context.Background(), missing)
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedPreferenceResolver_DeactivationInvalidates(t *testing.T) {
	userID := uuid.New()
	subID := uuid.New()
	inner := &countingResolver{prefs: map[uuid.UUID]*model.Preferences{
		userID: {UserID: userID, PushEnabled: true},
	}}
	resolver := NewCachedPreferenceResolver(inner, time.Minute)

	_, err := resolver.GetPreferences(context.Background(), userID)
	require.NoError(t, err)
	_, err = resolver.GetPreferences(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.getCalls)

	require.NoError(t, resolver.DeactivateSubscriptions(context.Background(), userID, []uuid.UUID{subID}))
	assert.Equal(t, []uuid.UUID{subID}, inner.deactivated)

	// The next read goes back to the source.
	_, err = resolver.GetPreferences(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.getCalls)
}
