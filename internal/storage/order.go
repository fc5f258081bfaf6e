package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/linemk/market-checkout/internal/domain/models"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrStaleOrder - заказ изменён параллельным запросом (версия не совпала)
	ErrStaleOrder = errors.New("order has been modified by another request")
)

// OrderStorage описывает методы для работы с заказами.
type OrderStorage interface {
	// GetOrderByID возвращает заказ вместе с позициями.
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	// UpdateOrderDetails сохраняет email, адреса и способ доставки с проверкой версии.
	UpdateOrderDetails(ctx context.Context, order *models.Order) error
	// UpdateOrderState переводит заказ в следующее состояние с проверкой версии.
	UpdateOrderState(ctx context.Context, tx *sql.Tx, order *models.Order, next models.OrderState) error
	// RestartCheckout возвращает незавершённый заказ на шаг ввода адреса.
	RestartCheckout(ctx context.Context, id int64) error
}

// orderRepository - конкретная реализация OrderStorage.
type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *sql.DB) OrderStorage {
	return &orderRepository{db: db}
}

const selectOrder = `
		SELECT id, number, user_id, distributor_id, email, state, version, total,
		       shipping_method_id, bill_address, ship_address, completed_at, created_at, updated_at
		FROM orders
		WHERE id = $1`

func (r *orderRepository) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	order := &models.Order{}
	row := r.db.QueryRowContext(ctx, selectOrder, id)
	err := row.Scan(
		&order.ID, &order.Number, &order.UserID, &order.DistributorID, &order.Email, &order.State,
		&order.Version, &order.Total, &order.ShippingMethodID, &order.BillAddress, &order.ShipAddress,
		&order.CompletedAt, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, order_id, variant_id, quantity, price FROM line_items WHERE order_id = $1 ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.LineItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.VariantID, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		order.LineItems = append(order.LineItems, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepository) UpdateOrderDetails(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders
		SET email = $1, bill_address = $2, ship_address = $3, shipping_method_id = $4,
		    version = version + 1, updated_at = NOW()
		WHERE id = $5 AND version = $6
		RETURNING version`
	err := r.db.QueryRowContext(ctx, query,
		order.Email, order.BillAddress, order.ShipAddress, order.ShippingMethodID, order.ID, order.Version,
	).Scan(&order.Version)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (r *orderRepository) UpdateOrderState(ctx context.Context, tx *sql.Tx, order *models.Order, next models.OrderState) error {
	query := `
		UPDATE orders
		SET state = $1, version = version + 1, updated_at = NOW(),
		    completed_at = CASE WHEN $4 THEN NOW() ELSE completed_at END
		WHERE id = $2 AND version = $3
		RETURNING version, completed_at`
	err := tx.QueryRowContext(ctx, query, next, order.ID, order.Version, next == models.StateComplete).
		Scan(&order.Version, &order.CompletedAt)
	if err != nil {
		return mapWriteError(err)
	}
	order.State = next
	return nil
}

func (r *orderRepository) RestartCheckout(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE orders SET state = $1, version = version + 1, updated_at = NOW() WHERE id = $2 AND state <> $3",
		models.StateAddressEntry, id, models.StateComplete)
	if err != nil {
		return fmt.Errorf("failed to restart checkout: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// mapWriteError сводит "0 строк по версии" и конфликты блокировок к ErrStaleOrder
func mapWriteError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrStaleOrder
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03", "40001": // lock_not_available, serialization_failure
			return fmt.Errorf("%w: %s", ErrStaleOrder, pqErr.Message)
		}
	}
	return fmt.Errorf("failed to update order: %w", err)
}
