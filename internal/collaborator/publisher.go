package collaborator

import (
	"context"
	"fmt"
	"time"

	"github.com/edulane/notify-service/internal/model"
	"github.com/edulane/notify-service/pkg/messaging"
)

const (
	channelDelivered = "notifications.delivered"
	channelFailed    = "notifications.failed"
)

// deliveryEventEnvelope is the wire shape published on the broker.
type deliveryEventEnvelope struct {
	Delivery *model.Delivery `json:"delivery"`
	Reason   string          `json:"reason,omitempty"`
	At       time.Time       `json:"at"`
}

// BrokerEventPublisher publishes delivery-state events on the message broker.
type BrokerEventPublisher struct {
	broker messaging.Broker
}

func NewBrokerEventPublisher(broker messaging.Broker) *BrokerEventPublisher {
	return &BrokerEventPublisher{broker: broker}
}

func (p *BrokerEventPublisher) PublishDelivered(ctx context.Context, d *model.Delivery) error {
	env := deliveryEventEnvelope{Delivery: d, At: time.Now()}
	if err := p.broker.Publish(ctx, channelDelivered, env); err != nil {
		return fmt.Errorf("failed to publish delivered event: %w", err)
	}
	return nil
}

func (p *BrokerEventPublisher) PublishFailed(ctx context.Context, d *model.Delivery, reason string) error {
	env := deliveryEventEnvelope{Delivery: d, Reason: reason, At: time.Now()}
	if err := p.broker.Publish(ctx, channelFailed, env); err != nil {
		return fmt.Errorf("failed to publish failed event: %w", err)
	}
	return nil
}
