package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/linemk/market-checkout/internal/domain/models"
)

var (
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrPaymentMethodNotFound = errors.New("payment method not found")
	ErrCardNotFound          = errors.New("card not found")
)

// PaymentStorage описывает методы для работы с платежами заказа.
type PaymentStorage interface {
	CreatePayment(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	// DeletePaymentsByOrderID удаляет все платежи заказа при повторном входе на шаг оплаты.
	DeletePaymentsByOrderID(ctx context.Context, orderID int64) error
	// GetLastPaymentByOrderID возвращает самый свежий платёж заказа.
	GetLastPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	// UpdatePaymentResponse сохраняет состояние и последний ответ провайдера; tx может быть nil.
	UpdatePaymentResponse(ctx context.Context, tx *sql.Tx, id int64, state models.PaymentState, response string) error
	// FailPendingPayments помечает незавершённые платежи заказа как неуспешные.
	FailPendingPayments(ctx context.Context, orderID int64) error
	GetPaymentMethodByID(ctx context.Context, id int64) (*models.PaymentMethod, error)
	GetCardByID(ctx context.Context, id int64) (*models.StoredCard, error)
}

type paymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) PaymentStorage {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) CreatePayment(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	query := `INSERT INTO payments (order_id, payment_method_id, amount, state, gateway_response, created_at)
	          VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		payment.OrderID, payment.PaymentMethodID, payment.Amount, payment.State, payment.GatewayResponse,
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	return payment, nil
}

func (r *paymentRepository) DeletePaymentsByOrderID(ctx context.Context, orderID int64) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM payments WHERE order_id = $1", orderID); err != nil {
		return fmt.Errorf("failed to delete payments: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetLastPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	p := &models.Payment{}
	query := `
		SELECT id, order_id, payment_method_id, amount, state, gateway_response, created_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, orderID)
	if err := row.Scan(&p.ID, &p.OrderID, &p.PaymentMethodID, &p.Amount, &p.State, &p.GatewayResponse, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *paymentRepository) UpdatePaymentResponse(ctx context.Context, tx *sql.Tx, id int64, state models.PaymentState, response string) error {
	query := "UPDATE payments SET state = $1, gateway_response = $2 WHERE id = $3"
	var (
		res sql.Result
		err error
	)
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, state, response, id)
	} else {
		res, err = r.db.ExecContext(ctx, query, state, response, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *paymentRepository) FailPendingPayments(ctx context.Context, orderID int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE payments SET state = $1 WHERE order_id = $2 AND state IN ($3, $4)",
		models.PaymentFailed, orderID, models.PaymentCheckout, models.PaymentPending)
	if err != nil {
		return fmt.Errorf("failed to fail pending payments: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetPaymentMethodByID(ctx context.Context, id int64) (*models.PaymentMethod, error) {
	m := &models.PaymentMethod{}
	row := r.db.QueryRowContext(ctx, "SELECT id, name, type, active FROM payment_methods WHERE id = $1", id)
	if err := row.Scan(&m.ID, &m.Name, &m.Type, &m.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentMethodNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *paymentRepository) GetCardByID(ctx context.Context, id int64) (*models.StoredCard, error) {
	c := &models.StoredCard{}
	row := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, holder_name, last_digits, card_user_key, card_token FROM stored_cards WHERE id = $1", id)
	if err := row.Scan(&c.ID, &c.UserID, &c.HolderName, &c.LastDigits, &c.CardUserKey, &c.CardToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return c, nil
}
