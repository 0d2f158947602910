package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	Topic   = "order-created"
	GroupID = "cart-service-consumer"
)

var ErrInvalidEvent = errors.New("invalid order event")

type CartForgetter interface {
	Forget(userID int64)
}

type OrderCreated struct {
	OrderID int64 `json:"order_id"`
	UserID  int64 `json:"user_id"`
}

// Poller empties the carts of users whose order was created, so a cart already
// checked out on another device does not come back.
type Poller struct {
	carts  CartForgetter
	reader *kafka.Reader
	log    *logrus.Entry
}

func NewPoller(carts CartForgetter, log *logrus.Entry, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    Topic,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{carts: carts, reader: reader, log: log}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			p.log.WithError(err).Error("error reading message")
			continue
		}

		if err := p.handleMessage(m); err != nil {
			p.log.WithError(err).WithField("offset", m.Offset).Warn("skipping order event")
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.WithError(err).Error("error closing reader")
	}
}

func (p *Poller) handleMessage(m kafka.Message) error {
	var event OrderCreated
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if event.UserID <= 0 {
		return fmt.Errorf("%w: missing user_id", ErrInvalidEvent)
	}

	p.carts.Forget(event.UserID)
	p.log.WithFields(logrus.Fields{"order_id": event.OrderID, "user_id": event.UserID}).Info("cart cleared after order")
	return nil
}
