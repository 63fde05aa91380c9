// Package retry owns the domain-level backoff policy for failed deliveries.
package retry

import (
	"time"

	"github.com/edulane/notify-service/internal/model"
)

const (
	// DefaultBaseDelay seeds the exponential backoff when none is configured.
	DefaultBaseDelay = time.Minute

	EmailCap = time.Hour
	PushCap  = 30 * time.Minute
)

// Policy computes retry delays per channel.
type Policy struct {
	BaseDelay time.Duration
	EmailCap  time.Duration
	PushCap   time.Duration
}

// NewPolicy fills zero fields with the documented defaults.
func NewPolicy(base, emailCap, pushCap time.Duration) Policy {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if emailCap <= 0 {
		emailCap = EmailCap
	}
	if pushCap <= 0 {
		pushCap = PushCap
	}
	return Policy{BaseDelay: base, EmailCap: emailCap, PushCap: pushCap}
}

// Delay returns min(base * 2^(attempt-1), cap) for the channel. Attempt is
// the attempt that just failed, 1-based.
func (p Policy) Delay(channel model.NotificationChannel, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	cap := p.EmailCap
	if channel == model.ChannelWebPush {
		cap = p.PushCap
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
