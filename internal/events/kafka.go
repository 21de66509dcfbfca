// Package events publishes storefront domain events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/kart-storefront/internal/domain/order"
)

// TypeOrderPlaced is the event_type header of order placement events.
const TypeOrderPlaced = "order.placed"

var _ order.Publisher = (*Publisher)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderPlaced is the payload of an order placement event.
type OrderPlaced struct {
	OrderID     string            `json:"orderId"`
	UserID      string            `json:"userId"`
	Items       []OrderPlacedItem `json:"items"`
	TotalAmount string            `json:"totalAmount"`
	Status      order.Status      `json:"status"`
	PlacedAt    time.Time         `json:"placedAt"`
}

// OrderPlacedItem is one purchased line.
type OrderPlacedItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

// Publisher writes order events keyed by order id so events of one order
// stay ordered within a partition.
type Publisher struct {
	w messageWriter
}

// NewPublisher creates a Publisher writing to topic on brokers.
func NewPublisher(topic string, brokers ...string) *Publisher {
	return &Publisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}}
}

func (p *Publisher) OrderPlaced(ctx context.Context, o *order.Order) error {
	ev := OrderPlaced{
		OrderID:     o.OrderID,
		UserID:      o.UserID,
		Items:       make([]OrderPlacedItem, 0, len(o.Items)),
		TotalAmount: o.TotalAmount.StringFixed(2),
		Status:      o.Status,
		PlacedAt:    o.CreatedAt,
	}
	for _, it := range o.Items {
		ev.Items = append(ev.Items, OrderPlacedItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
		})
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode order event")
	}

	msg := kafka.Message{
		Key:   []byte(o.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(TypeOrderPlaced)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish order %s", o.OrderID)
	}
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.w.Close()
}
