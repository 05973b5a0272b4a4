// Package events publishes checkout domain events to Kafka.
package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/mernshop/checkout/internal/domain/checkout"
	"github.com/mernshop/checkout/internal/domain/order"
)

// OrderCompletedType is the value of the "type" field of order events.
const OrderCompletedType = "order.completed"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ checkout.Publisher = (*Publisher)(nil)

// Publisher writes order events keyed by checkout session id.
type Publisher struct {
	w       messageWriter
	timeout time.Duration
}

// NewPublisher creates a Publisher writing to topic on brokers.
func NewPublisher(brokers []string, topic string, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			WriteTimeout:           timeout,
		},
		timeout: timeout,
	}
}

// PublishOrderCompleted writes an order.completed event for o.
func (p *Publisher) PublishOrderCompleted(ctx context.Context, o *order.Order) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(o.SessionID),
		Value: EncodeOrderCompleted(o),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(OrderCompletedType)},
		},
		Time: o.CreatedAt,
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s for order %s: %w", OrderCompletedType, o.ID, err)
	}
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// EncodeOrderCompleted renders the event payload.
func EncodeOrderCompleted(o *order.Order) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(OrderCompletedType) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("sessionId", func(e *jx.Encoder) { e.Str(o.SessionID) })
		e.Field("couponCode", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		e.Field("totalAmount", func(e *jx.Encoder) { e.Num(jx.Num(o.TotalAmount.StringFixed(2))) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("price", func(e *jx.Encoder) { e.Num(jx.Num(it.Price.String())) })
					})
				}
			})
		})
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano)) })
	})
	return e.Bytes()
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
