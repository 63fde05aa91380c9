package model

import (
	"time"

	"github.com/google/uuid"
)

// QuietHours is a per-user local time window during which non-urgent
// deliveries are deferred. Start and End are "HH:MM" in the user's zone;
// the window may wrap midnight (e.g. 22:00-08:00).
type QuietHours struct {
	Enabled  bool   `json:"enabled" db:"enabled"`
	Start    string `json:"start" db:"start"`
	End      string `json:"end" db:"end"`
	Timezone string `json:"timezone" db:"timezone"`
}

// TypePreference overrides channel selection for one notification type.
type TypePreference struct {
	Enabled  bool                  `json:"enabled"`
	Channels []NotificationChannel `json:"channels"`
}

// PushSubscription is a push-channel endpoint identity registered by one of
// the user's devices. Inactive subscriptions are kept for audit but skipped.
type PushSubscription struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Endpoint  string    `json:"endpoint" db:"endpoint"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Preferences is the resolved notification preference set for one user.
type Preferences struct {
	UserID        uuid.UUID                           `json:"user_id"`
	EmailEnabled  bool                                `json:"email_enabled"`
	PushEnabled   bool                                `json:"push_enabled"`
	TypeOverrides map[NotificationType]TypePreference `json:"type_overrides,omitempty"`
	QuietHours    QuietHours                          `json:"quiet_hours"`
	Subscriptions []PushSubscription                  `json:"subscriptions,omitempty"`
}

// ChannelEnabled reports whether the channel is globally enabled for the user.
func (p *Preferences) ChannelEnabled(ch NotificationChannel) bool {
	switch ch {
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelWebPush:
		return p.PushEnabled
	default:
		return false
	}
}

// EffectiveChannels intersects the requested channels with the user's
// globally enabled set and, when present, with the type override's allowed
// set. An empty result means the recipient is skipped entirely.
func (p *Preferences) EffectiveChannels(requested []NotificationChannel, typ NotificationType) []NotificationChannel {
	var out []NotificationChannel
	for _, ch := range requested {
		if !p.ChannelEnabled(ch) {
			continue
		}
		if ov, ok := p.TypeOverrides[typ]; ok {
			if !ov.Enabled {
				continue
			}
			allowed := false
			for _, c := range ov.Channels {
				if c == ch {
					allowed = true
					break
				}
			}
			if !allowed {
				continue
			}
		}
		out = append(out, ch)
	}
	return out
}

// ActiveSubscriptions filters the user's push subscriptions to active ones.
func (p *Preferences) ActiveSubscriptions() []PushSubscription {
	var out []PushSubscription
	for _, s := range p.Subscriptions {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out
}
