package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/linemk/market-checkout/internal/domain/models"
)

var ErrUserNotFound = errors.New("user not found")

type UserStorage interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	// UpdateDefaultAddresses сохраняет адреса в профиль; nil-адрес не меняет текущее значение.
	UpdateDefaultAddresses(ctx context.Context, id int64, bill, ship *models.Address) error
	// ClearCurrentOrder сбрасывает заказ-корзину сессии, если это всё ещё orderID.
	ClearCurrentOrder(ctx context.Context, id int64, orderID int64) error
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *userRepository {
	return &userRepository{db: db}
}

const selectUser = "SELECT id, username, pass_hash, role, current_order_id, bill_address, ship_address FROM users"

// получение уже существующего пользователя
func (r *userRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, selectUser+" WHERE username = $1", email))
}

func (r *userRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, selectUser+" WHERE id = $1", id))
}

func scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	if err := row.Scan(&user.ID, &user.Email, &user.PassHash, &user.Role, &user.CurrentOrderID, &user.BillAddress, &user.ShipAddress); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *userRepository) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		"INSERT INTO users (username, pass_hash, role) VALUES ($1, $2, $3) RETURNING id",
		user.Email, user.PassHash, user.Role,
	).Scan(&id)
	if err != nil {
		return nil, err
	}
	user.ID = id
	return user, nil
}

func (r *userRepository) UpdateDefaultAddresses(ctx context.Context, id int64, bill, ship *models.Address) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET bill_address = COALESCE($1, bill_address), ship_address = COALESCE($2, ship_address) WHERE id = $3",
		bill, ship, id)
	if err != nil {
		return fmt.Errorf("failed to update default addresses: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepository) ClearCurrentOrder(ctx context.Context, id int64, orderID int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET current_order_id = NULL WHERE id = $1 AND current_order_id = $2", id, orderID)
	if err != nil {
		return fmt.Errorf("failed to clear current order: %w", err)
	}
	return nil
}
