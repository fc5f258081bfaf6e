package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/linemk/market-checkout/internal/domain/models"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
)

// OrderCompleted - сообщение об оформленном заказе
type OrderCompleted struct {
	EventID       string          `json:"event_id"`
	OrderID       int64           `json:"order_id"`
	Number        string          `json:"number"`
	UserID        int64           `json:"user_id"`
	DistributorID int64           `json:"distributor_id"`
	Total         decimal.Decimal `json:"total"`
	CompletedAt   time.Time       `json:"completed_at"`
}

// Conn - часть *nats.Conn, которой пользуется издатель
type Conn interface {
	Publish(subj string, data []byte) error
}

var _ Conn = (*nats.Conn)(nil)

type Publisher struct {
	log     *slog.Logger
	conn    Conn
	subject string
}

func NewPublisher(log *slog.Logger, conn Conn, subject string) *Publisher {
	return &Publisher{log: log, conn: conn, subject: subject}
}

// Connect подключается к NATS; пустой url - публикация отключена
func Connect(log *slog.Logger, url, subject string) (*Publisher, func(), error) {
	if url == "" {
		log.Info("nats url is empty, order events disabled")
		return NewPublisher(log, nil, subject), func() {}, nil
	}

	nc, err := nats.Connect(url, nats.Name("market-checkout"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("events.Connect: %w", err)
	}
	closeFn := func() {
		if err := nc.Drain(); err != nil {
			log.Error("failed to drain nats connection", slog.Any("error", err))
		}
	}
	return NewPublisher(log, nc, subject), closeFn, nil
}

func (p *Publisher) OrderCompleted(ctx context.Context, order *models.Order) error {
	const op = "events.Publisher.OrderCompleted"
	if p.conn == nil {
		return nil
	}

	event := OrderCompleted{
		EventID:       uuid.NewString(),
		OrderID:       order.ID,
		Number:        order.Number,
		UserID:        order.UserID,
		DistributorID: order.DistributorID,
		Total:         order.Total,
	}
	if order.CompletedAt != nil {
		event.CompletedAt = *order.CompletedAt
	} else {
		event.CompletedAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p.log.Debug("event published", slog.String("op", op), slog.String("subject", p.subject), slog.Int64("orderID", order.ID))
	return nil
}
