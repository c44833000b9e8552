// Package kafkanotify publishes order lifecycle events to a Kafka topic for
// downstream consumers (notification delivery, analytics).
package kafkanotify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/coursekart/internal/domain/order"
)

var _ order.Notifier = (*Notifier)(nil)

// Notifier implements order.Notifier on a kafka-go Writer. Publishing is
// best-effort: failures are logged and dropped, matching the fire-and-forget
// contract of the port.
type Notifier struct {
	writer *kafka.Writer
}

// New creates a Notifier publishing to the given topic.
func New(brokers []string, topic string) *Notifier {
	return &Notifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

type orderEvent struct {
	OrderID string    `json:"order_id"`
	Event   string    `json:"event"`
	At      time.Time `json:"at"`
}

// NotifyOrderEvent publishes one event keyed by order ID, so all events for
// an order land on the same partition in order.
func (n *Notifier) NotifyOrderEvent(ctx context.Context, orderID, event string) {
	payload, err := json.Marshal(orderEvent{
		OrderID: orderID,
		Event:   event,
		At:      time.Now().UTC(),
	})
	if err != nil {
		zctx.From(ctx).Error("marshal order event", zap.Error(err))
		return
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(orderID),
		Value: payload,
	})
	if err != nil {
		zctx.From(ctx).Error("publish order event",
			zap.String("order_id", orderID),
			zap.String("event", event),
			zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (n *Notifier) Close() error {
	return n.writer.Close()
}
