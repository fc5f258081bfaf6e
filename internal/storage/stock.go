package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/linemk/market-checkout/internal/domain/models"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// StockStorage списывает остатки вариантов при завершении заказа.
type StockStorage interface {
	// ReserveStock уменьшает остатки по всем позициям в рамках транзакции заказа.
	ReserveStock(ctx context.Context, tx *sql.Tx, items []models.LineItem) error
}

type stockRepository struct {
	db *sql.DB
}

func NewStockRepository(db *sql.DB) StockStorage {
	return &stockRepository{db: db}
}

func (r *stockRepository) ReserveStock(ctx context.Context, tx *sql.Tx, items []models.LineItem) error {
	// условие count_on_hand >= quantity не даёт уйти в минус при гонке
	query := "UPDATE variants SET count_on_hand = count_on_hand - $1 WHERE id = $2 AND count_on_hand >= $1"
	for _, item := range items {
		res, err := tx.ExecContext(ctx, query, item.Quantity, item.VariantID)
		if err != nil {
			return fmt.Errorf("failed to reserve stock: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: variant %d", ErrInsufficientStock, item.VariantID)
		}
	}
	return nil
}
