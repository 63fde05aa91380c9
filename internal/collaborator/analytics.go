package collaborator

import (
	"context"
	"fmt"

	"github.com/edulane/notify-service/pkg/messaging"
)

const channelAnalytics = "analytics.delivery_events"

// BrokerAnalyticsRecorder ships delivery events onto the broker; the
// analytics service owns their storage.
type BrokerAnalyticsRecorder struct {
	broker messaging.Broker
}

func NewBrokerAnalyticsRecorder(broker messaging.Broker) *BrokerAnalyticsRecorder {
	return &BrokerAnalyticsRecorder{broker: broker}
}

func (r *BrokerAnalyticsRecorder) RecordDeliveryEvent(ctx context.Context, event DeliveryEvent) error {
	if err := r.broker.Publish(ctx, channelAnalytics, event); err != nil {
		return fmt.Errorf("failed to record delivery event: %w", err)
	}
	return nil
}
