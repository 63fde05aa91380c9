package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/edulane/notify-service/internal/collaborator"
	"github.com/edulane/notify-service/internal/model"
	"github.com/edulane/notify-service/pkg/circuitbreaker"
)

// PushConfig configures the web push dispatcher.
type PushConfig struct {
	Timeout   time.Duration
	BatchSize int
}

// HTTPPushDispatcher posts the rendered payload to each subscription
// endpoint. The push protocol's crypto is handled upstream of the endpoint;
// here the subscription is an opaque URL. Endpoints answering 404/410 are
// reported as expired so the caller can deactivate them.
type HTTPPushDispatcher struct {
	client  *http.Client
	config  PushConfig
	breaker *circuitbreaker.CircuitBreaker
}

func NewHTTPPushDispatcher(cfg PushConfig) *HTTPPushDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &HTTPPushDispatcher{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		breaker: circuitbreaker.New(circuitbreaker.Settings{
			Name:        "web-push",
			MaxFailures: 10,
			Cooldown:    30 * time.Second,
		}),
	}
}

func (d *HTTPPushDispatcher) SendBulk(ctx context.Context, subs []model.PushSubscription, payload *model.PushPayload, opts collaborator.PushOptions) ([]collaborator.PushSendResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push payload: %w", err)
	}

	ttl := payload.TTL
	if opts.TTL > 0 {
		ttl = opts.TTL
	}

	results := make([]collaborator.PushSendResult, len(subs))

	for start := 0; start < len(subs); start += d.config.BatchSize {
		end := start + d.config.BatchSize
		if end > len(subs) {
			end = len(subs)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = d.sendOne(ctx, subs[i], body, ttl)
			}(i)
		}
		wg.Wait()
	}

	return results, nil
}

func (d *HTTPPushDispatcher) sendOne(ctx context.Context, sub model.PushSubscription, body []byte, ttl int) collaborator.PushSendResult {
	result := collaborator.PushSendResult{
		SubscriptionID: sub.ID,
		Endpoint:       sub.Endpoint,
	}

	err := d.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if ttl > 0 {
			req.Header.Set("TTL", strconv.Itoa(ttl))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			result.Expired = true
			return fmt.Errorf("subscription expired: endpoint returned %d", resp.StatusCode)
		default:
			return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
		}
	})
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	return result
}
