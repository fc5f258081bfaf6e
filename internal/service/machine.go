package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/linemk/market-checkout/internal/domain/models"
	"github.com/linemk/market-checkout/internal/storage"
)

// TransitionError - заказ не может перейти дальше; сообщения показываются покупателю
type TransitionError struct {
	Messages []string
}

func (e *TransitionError) Error() string {
	return strings.Join(e.Messages, ", ")
}

// TxBeginner - *sql.DB или его заглушка в тестах
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Advancer переводит заказ на один шаг вперёд.
// storage.ErrStaleOrder означает конфликт версий: заказ нужно перечитать и повторить.
type Advancer interface {
	Advance(ctx context.Context, order *models.Order) (models.OrderState, error)
}

type orderMachine struct {
	log      *slog.Logger
	db       TxBeginner
	orders   storage.OrderStorage
	payments storage.PaymentStorage
	stock    storage.StockStorage
	gateway  PaymentGateway
}

func NewOrderMachine(log *slog.Logger, db TxBeginner, orders storage.OrderStorage, payments storage.PaymentStorage, stock storage.StockStorage, gateway PaymentGateway) Advancer {
	return &orderMachine{
		log:      log,
		db:       db,
		orders:   orders,
		payments: payments,
		stock:    stock,
		gateway:  gateway,
	}
}

func (m *orderMachine) Advance(ctx context.Context, order *models.Order) (models.OrderState, error) {
	const op = "service.OrderMachine.Advance"

	next, ok := order.State.Next()
	if !ok {
		return order.State, ErrOrderCompleted
	}

	switch order.State {
	case models.StateAddressEntry:
		if msgs := addressProblems(order); len(msgs) > 0 {
			return order.State, &TransitionError{Messages: msgs}
		}
	case models.StateDeliverySelection:
		if order.ShippingMethodID == nil {
			return order.State, &TransitionError{Messages: []string{"Shipping method can't be blank"}}
		}
	case models.StatePaymentSelection:
		if err := m.requirePayment(ctx, order); err != nil {
			return order.State, err
		}
	case models.StateConfirmation:
		if err := m.complete(ctx, order); err != nil {
			return order.State, err
		}
		return order.State, nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return order.State, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := m.orders.UpdateOrderState(ctx, tx, order, next); err != nil {
		return order.State, err
	}
	if err := tx.Commit(); err != nil {
		return order.State, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	m.log.Debug("order advanced", slog.String("op", op), slog.Int64("orderID", order.ID), slog.String("state", string(next)))
	return next, nil
}

func addressProblems(order *models.Order) []string {
	var msgs []string
	if order.Email == "" {
		msgs = append(msgs, "Email can't be blank")
	}
	if order.BillAddress == nil {
		msgs = append(msgs, "Bill address can't be blank")
	}
	if order.ShipAddress == nil {
		msgs = append(msgs, "Ship address can't be blank")
	}
	return msgs
}

func (m *orderMachine) requirePayment(ctx context.Context, order *models.Order) error {
	payment, err := m.payments.GetLastPaymentByOrderID(ctx, order.ID)
	if err != nil {
		if errors.Is(err, storage.ErrPaymentNotFound) {
			return &TransitionError{Messages: []string{"Payment can't be blank"}}
		}
		return fmt.Errorf("service.OrderMachine.requirePayment: %w", err)
	}
	if payment.State == models.PaymentFailed || payment.State == models.PaymentVoid {
		return &TransitionError{Messages: []string{"Payment can't be blank"}}
	}
	return nil
}

// complete: остатки и смена состояния в одной транзакции, capture только после проверки версии.
// Конфликт версий обнаруживается до обращения к провайдеру, поэтому повтор не спишет деньги дважды.
func (m *orderMachine) complete(ctx context.Context, order *models.Order) error {
	const op = "service.OrderMachine.complete"
	logger := m.log.With(slog.String("op", op), slog.Int64("orderID", order.ID))

	payment, err := m.payments.GetLastPaymentByOrderID(ctx, order.ID)
	if err != nil {
		if errors.Is(err, storage.ErrPaymentNotFound) {
			return &TransitionError{Messages: []string{"Payment can't be blank"}}
		}
		return fmt.Errorf("%s: failed to get payment: %w", op, err)
	}
	method, err := m.payments.GetPaymentMethodByID(ctx, payment.PaymentMethodID)
	if err != nil {
		return fmt.Errorf("%s: failed to get payment method: %w", op, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := m.stock.ReserveStock(ctx, tx, order.LineItems); err != nil {
		if errors.Is(err, storage.ErrInsufficientStock) {
			return &TransitionError{Messages: []string{"Insufficient stock for one or more items"}}
		}
		return fmt.Errorf("%s: failed to reserve stock: %w", op, err)
	}

	before := *order
	if err := m.orders.UpdateOrderState(ctx, tx, order, models.StateComplete); err != nil {
		return err
	}

	if !method.Requires3DS() {
		if err := m.payments.UpdatePaymentResponse(ctx, tx, payment.ID, models.PaymentPending, payment.GatewayResponse); err != nil {
			*order = before
			return fmt.Errorf("%s: failed to update payment: %w", op, err)
		}
	} else {
		res, err := m.gateway.Capture(ctx, order)
		if err != nil {
			*order = before
			return err
		}
		blob, err := res.State.Encode()
		if err != nil {
			*order = before
			return fmt.Errorf("%s: failed to encode provider state: %w", op, err)
		}
		if !res.Success {
			*order = before
			// вне транзакции: отказ провайдера сохраняется, хотя переход откатывается
			if err := m.payments.UpdatePaymentResponse(ctx, nil, payment.ID, models.PaymentFailed, blob); err != nil {
				logger.Error("failed to save declined capture", slog.Any("error", err))
			}
			return &TransitionError{Messages: []string{res.Message}}
		}
		if err := m.payments.UpdatePaymentResponse(ctx, tx, payment.ID, models.PaymentCompleted, blob); err != nil {
			*order = before
			m.release(ctx, logger, payment.ID, res)
			return fmt.Errorf("%s: failed to update payment: %w", op, err)
		}
		if err := tx.Commit(); err != nil {
			*order = before
			m.release(ctx, logger, payment.ID, res)
			return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
		}
		logger.Info("order completed")
		return nil
	}

	if err := tx.Commit(); err != nil {
		*order = before
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	logger.Info("order completed")
	return nil
}

// release - деньги списаны, а заказ не завершён: платёж отменяется у провайдера.
// Не отменённый платёж сохраняется completed вне транзакции, повторный capture его не спишет.
func (m *orderMachine) release(ctx context.Context, logger *slog.Logger, paymentID int64, captured *models.GatewayResult) {
	logger = logger.With(slog.String("authorization", captured.AuthorizationID))

	voided, err := m.gateway.Void(ctx, captured.AuthorizationID, PaymentContext{})
	if err == nil && !voided.Success {
		err = errors.New(voided.Message)
	}

	state, status := captured.State, models.PaymentCompleted
	if err != nil {
		logger.Error("failed to void captured payment", slog.Any("error", err))
	} else {
		logger.Warn("captured payment voided after failed completion")
		state.Kind = models.ProviderFailed
		state.Message = voided.Message
		status = models.PaymentVoid
	}

	blob, err := state.Encode()
	if err != nil {
		logger.Error("failed to encode provider state", slog.Any("error", err))
		return
	}
	if err := m.payments.UpdatePaymentResponse(ctx, nil, paymentID, status, blob); err != nil {
		logger.Error("failed to save captured payment", slog.Any("error", err), slog.String("state", string(status)))
	}
}
