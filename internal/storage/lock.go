package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
)

var ErrOrderLocked = errors.New("order is being processed by another request")

// OrderLocker - грубая блокировка всего оформления заказа.
// Два параллельных запроса по одному заказу не должны пересекаться (двойная оплата, уход остатков в минус).
type OrderLocker interface {
	// LockOrder блокирует заказ до вызова возвращённой функции
	LockOrder(ctx context.Context, orderID int64) (unlock func(), err error)
}

// advisoryLocker держит сессионную advisory-блокировку PostgreSQL на выделенном соединении
type advisoryLocker struct {
	db *sql.DB
}

func NewOrderLocker(db *sql.DB) OrderLocker {
	return &advisoryLocker{db: db}
}

func (l *advisoryLocker) LockOrder(ctx context.Context, orderID int64) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection for order lock: %w", err)
	}

	// pg_advisory_lock ждёт освобождения; ожидание ограничено дедлайном контекста
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", orderID); err != nil {
		// при отмене контекста блокировка могла успеть выдаться: сессию в пул не возвращаем
		discard(conn)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrOrderLocked
		}
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	return func() {
		// контекст запроса к этому моменту может быть отменён
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", orderID)
		conn.Close()
	}, nil
}

// discard закрывает физическое соединение вместо возврата в пул, вместе с ним уходят advisory-блокировки сессии
func discard(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
}
