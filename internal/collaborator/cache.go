package collaborator

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/edulane/notify-service/internal/model"
)

// CachedUserDirectory is a read-through cache over a UserDirectory. User
// records change rarely compared to how often a busy notification fans out
// to the same recipients.
type CachedUserDirectory struct {
	inner UserDirectory
	cache *gocache.Cache
}

func NewCachedUserDirectory(inner UserDirectory, ttl time.Duration) *CachedUserDirectory {
	return &CachedUserDirectory{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (d *CachedUserDirectory) GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	key := userID.String()
	if v, ok := d.cache.Get(key); ok {
		return v.(*model.User), nil
	}

	user, err := d.inner.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	d.cache.SetDefault(key, user)
	return user, nil
}

// CachedPreferenceResolver is a read-through cache over a PreferenceResolver.
// Deactivating a subscription invalidates the user's cached entry so the next
// delivery sees the updated subscription set.
type CachedPreferenceResolver struct {
	inner PreferenceResolver
	cache *gocache.Cache
}

func NewCachedPreferenceResolver(inner PreferenceResolver, ttl time.Duration) *CachedPreferenceResolver {
	return &CachedPreferenceResolver{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (r *CachedPreferenceResolver) GetPreferences(ctx context.Context, userID uuid.UUID) (*model.Preferences, error) {
	key := userID.String()
	if v, ok := r.cache.Get(key); ok {
		return v.(*model.Preferences), nil
	}

	prefs, err := r.inner.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, prefs)
	return prefs, nil
}

func (r *CachedPreferenceResolver) DeactivateSubscriptions(ctx context.Context, userID uuid.UUID, subscriptionIDs []uuid.UUID) error {
	if err := r.inner.DeactivateSubscriptions(ctx, userID, subscriptionIDs); err != nil {
		return err
	}
	r.cache.Delete(userID.String())
	return nil
}
