// Package dispatch provides concrete transport adapters behind the
// collaborator dispatcher interfaces.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/edulane/notify-service/internal/collaborator"
	"github.com/edulane/notify-service/internal/model"
	"github.com/edulane/notify-service/pkg/circuitbreaker"
)

// SMTPConfig configures the email dispatcher.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	Timeout     time.Duration
}

// SMTPEmailDispatcher sends rendered emails over SMTP. Calls are bounded by
// a timeout and guarded by a circuit breaker so a dead provider fails fast
// instead of holding worker slots.
type SMTPEmailDispatcher struct {
	dialer  *gomail.Dialer
	config  SMTPConfig
	breaker *circuitbreaker.CircuitBreaker
}

func NewSMTPEmailDispatcher(cfg SMTPConfig) *SMTPEmailDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMTPEmailDispatcher{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		config: cfg,
		breaker: circuitbreaker.New(circuitbreaker.Settings{
			Name:        "smtp",
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
		}),
	}
}

func (d *SMTPEmailDispatcher) Send(ctx context.Context, payload *model.EmailPayload) (*collaborator.EmailResult, error) {
	msg := gomail.NewMessage()

	fromName := payload.FromName
	if fromName == "" {
		fromName = d.config.FromName
	}
	msg.SetAddressHeader("From", d.config.FromAddress, fromName)
	if payload.ToName != "" {
		msg.SetAddressHeader("To", payload.To, payload.ToName)
	} else {
		msg.SetHeader("To", payload.To)
	}
	msg.SetHeader("Subject", payload.Subject)
	if payload.ReplyTo != "" {
		msg.SetHeader("Reply-To", payload.ReplyTo)
	}
	if payload.UnsubscribeLink != "" {
		msg.SetHeader("List-Unsubscribe", fmt.Sprintf("<%s>", payload.UnsubscribeLink))
	}
	for k, v := range payload.Headers {
		msg.SetHeader(k, v)
	}

	if payload.TextBody != "" {
		msg.SetBody("text/plain", payload.TextBody)
		msg.AddAlternative("text/html", payload.HTMLBody)
	} else {
		msg.SetBody("text/html", payload.HTMLBody)
	}

	if err := d.sendWithTimeout(ctx, msg); err != nil {
		return nil, err
	}

	// SMTP has no provider receipt; the generated id correlates the
	// delivery row with the transport log line.
	messageID := uuid.New().String()
	return &collaborator.EmailResult{MessageID: messageID, JobID: messageID}, nil
}

// sendWithTimeout bounds the blocking gomail call with the configured
// timeout and the caller's context.
func (d *SMTPEmailDispatcher) sendWithTimeout(ctx context.Context, msg *gomail.Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.breaker.Execute(func() error {
			return d.dialer.DialAndSend(msg)
		})
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("email dispatch timed out: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("email dispatch failed: %w", err)
		}
		return nil
	}
}
