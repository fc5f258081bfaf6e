package storage_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/linemk/market-checkout/internal/domain/models"
	"github.com/linemk/market-checkout/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var userColumns = []string{"id", "username", "pass_hash", "role", "current_order_id", "bill_address", "ship_address"}

func TestGetUserByID_Success(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewUserRepository(db)

	rows := sqlmock.NewRows(userColumns).
		AddRow(int64(1), "test@example.com", []byte("hashed-password"), "admin", int64(7),
			[]byte(`{"firstname":"Ali","lastname":"Kaya","address1":"Bağdat Cd. 5","city":"İstanbul","country":"Türkiye","phone":"05551112233"}`), nil)
	mock.ExpectQuery("SELECT id, username, pass_hash, role, current_order_id, bill_address, ship_address FROM users WHERE id = \\$1").
		WithArgs(int64(1)).WillReturnRows(rows)

	user, err := repo.GetUserByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "test@example.com", user.Email)
	assert.Equal(t, models.RoleAdmin, user.Role)
	require.NotNil(t, user.CurrentOrderID)
	assert.Equal(t, int64(7), *user.CurrentOrderID)
	require.NotNil(t, user.BillAddress)
	assert.Equal(t, "İstanbul", user.BillAddress.City)
	assert.Nil(t, user.ShipAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByEmail_NoRows(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewUserRepository(db)

	mock.ExpectQuery("FROM users WHERE username = \\$1").
		WithArgs("nobody@example.com").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetUserByEmail(context.Background(), "nobody@example.com")
	assert.True(t, errors.Is(err, storage.ErrUserNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewUserRepository(db)

	mock.ExpectQuery("INSERT INTO users \\(username, pass_hash, role\\)").
		WithArgs("new@example.com", []byte("hash"), models.RoleCustomer).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	user, err := repo.CreateUser(context.Background(), &models.User{Email: "new@example.com", PassHash: []byte("hash"), Role: models.RoleCustomer})
	require.NoError(t, err)
	assert.Equal(t, int64(5), user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDefaultAddresses(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewUserRepository(db)

	mock.ExpectExec("UPDATE users SET bill_address = COALESCE").
		WithArgs(sqlmock.AnyArg(), nil, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET bill_address = COALESCE").
		WithArgs(sqlmock.AnyArg(), nil, int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	bill := &models.Address{FirstName: "Ali", City: "İstanbul"}
	assert.NoError(t, repo.UpdateDefaultAddresses(context.Background(), 3, bill, nil))
	assert.True(t, errors.Is(repo.UpdateDefaultAddresses(context.Background(), 99, bill, nil), storage.ErrUserNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearCurrentOrder(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewUserRepository(db)

	mock.ExpectExec("UPDATE users SET current_order_id = NULL WHERE id = \\$1 AND current_order_id = \\$2").
		WithArgs(int64(3), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.ClearCurrentOrder(context.Background(), 3, 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderByID(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewOrderRepository(db)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM orders\\s+WHERE id = \\$1").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "number", "user_id", "distributor_id", "email", "state", "version", "total",
			"shipping_method_id", "bill_address", "ship_address", "completed_at", "created_at", "updated_at",
		}).AddRow(int64(7), "R100", int64(3), int64(42), "musteri@example.com", "payment", int64(4), "150.50",
			int64(5), []byte(`{"firstname":"Ali","city":"İstanbul"}`), nil, nil, created, created))
	mock.ExpectQuery("SELECT id, order_id, variant_id, quantity, price FROM line_items WHERE order_id = \\$1").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "variant_id", "quantity", "price"}).
			AddRow(int64(1), int64(7), int64(11), 2, "50.25").
			AddRow(int64(2), int64(7), int64(12), 1, "50.00"))

	order, err := repo.GetOrderByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, models.StatePaymentSelection, order.State)
	assert.Equal(t, int64(4), order.Version)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("150.50")))
	require.NotNil(t, order.ShippingMethodID)
	assert.Equal(t, int64(5), *order.ShippingMethodID)
	require.NotNil(t, order.BillAddress)
	assert.Equal(t, "Ali", order.BillAddress.FirstName)
	assert.Nil(t, order.ShipAddress)
	assert.Nil(t, order.CompletedAt)
	require.Len(t, order.LineItems, 2)
	assert.True(t, order.LineItems[0].Price.Equal(decimal.RequireFromString("50.25")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewOrderRepository(db)

	mock.ExpectQuery("FROM orders").WithArgs(int64(8)).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetOrderByID(context.Background(), 8)
	assert.True(t, errors.Is(err, storage.ErrOrderNotFound))
}

func TestUpdateOrderDetails(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewOrderRepository(db)
	shipping := int64(5)
	order := &models.Order{ID: 7, Email: "musteri@example.com", Version: 2, ShippingMethodID: &shipping}

	mock.ExpectQuery("UPDATE orders\\s+SET email = \\$1").
		WithArgs("musteri@example.com", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(5), int64(7), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(3)))

	require.NoError(t, repo.UpdateOrderDetails(context.Background(), order))
	assert.Equal(t, int64(3), order.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderState(t *testing.T) {
	completedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		next    models.OrderState
		result  func(q *sqlmock.ExpectedQuery)
		wantErr error
	}{
		{
			name: "advanced",
			next: models.StateComplete,
			result: func(q *sqlmock.ExpectedQuery) {
				q.WillReturnRows(sqlmock.NewRows([]string{"version", "completed_at"}).AddRow(int64(3), completedAt))
			},
		},
		{
			name: "version mismatch",
			next: models.StateConfirmation,
			result: func(q *sqlmock.ExpectedQuery) {
				q.WillReturnError(sql.ErrNoRows)
			},
			wantErr: storage.ErrStaleOrder,
		},
		{
			name: "lock not available",
			next: models.StateConfirmation,
			result: func(q *sqlmock.ExpectedQuery) {
				q.WillReturnError(&pq.Error{Code: "55P03", Message: "could not obtain lock"})
			},
			wantErr: storage.ErrStaleOrder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			repo := storage.NewOrderRepository(db)
			order := &models.Order{ID: 7, State: models.StateConfirmation, Version: 2}

			mock.ExpectBegin()
			q := mock.ExpectQuery("UPDATE orders\\s+SET state = \\$1").
				WithArgs(string(tt.next), int64(7), int64(2), tt.next == models.StateComplete)
			tt.result(q)

			tx, err := db.Begin()
			require.NoError(t, err)

			err = repo.UpdateOrderState(context.Background(), tx, order, tt.next)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Equal(t, models.StateConfirmation, order.State)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.StateComplete, order.State)
			assert.Equal(t, int64(3), order.Version)
			require.NotNil(t, order.CompletedAt)
			assert.True(t, order.CompletedAt.Equal(completedAt))
		})
	}
}

func TestRestartCheckout(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewOrderRepository(db)

	mock.ExpectExec("UPDATE orders SET state = \\$1").
		WithArgs("address", int64(7), "complete").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders SET state = \\$1").
		WithArgs("address", int64(8), "complete").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.RestartCheckout(context.Background(), 7))
	assert.True(t, errors.Is(repo.RestartCheckout(context.Background(), 8), storage.ErrOrderNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePayment(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewPaymentRepository(db)
	created := time.Now()

	mock.ExpectQuery("INSERT INTO payments").
		WithArgs(int64(7), int64(1), sqlmock.AnyArg(), "checkout", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), created))

	p, err := repo.CreatePayment(context.Background(), &models.Payment{
		OrderID:         7,
		PaymentMethodID: 1,
		Amount:          decimal.RequireFromString("100"),
		State:           models.PaymentCheckout,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLastPaymentByOrderID(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewPaymentRepository(db)

	mock.ExpectQuery("FROM payments\\s+WHERE order_id = \\$1\\s+ORDER BY created_at DESC, id DESC").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "payment_method_id", "amount", "state", "gateway_response", "created_at"}).
			AddRow(int64(11), int64(7), int64(1), "100.00", "pending", `{"kind":"pending_3ds","payment_id":"pay-1"}`, time.Now()))
	mock.ExpectQuery("FROM payments").WithArgs(int64(8)).WillReturnError(sql.ErrNoRows)

	p, err := repo.GetLastPaymentByOrderID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, p.State)
	state, err := models.DecodeProviderState(p.GatewayResponse)
	require.NoError(t, err)
	assert.Equal(t, "pay-1", state.PaymentID)

	_, err = repo.GetLastPaymentByOrderID(context.Background(), 8)
	assert.True(t, errors.Is(err, storage.ErrPaymentNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePaymentResponse(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewPaymentRepository(db)
	ctx := context.Background()

	// без транзакции
	mock.ExpectExec("UPDATE payments SET state = \\$1, gateway_response = \\$2 WHERE id = \\$3").
		WithArgs("failed", "{}", int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// в транзакции
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments SET state = \\$1").
		WithArgs("completed", "{}", int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	// платежа нет
	mock.ExpectExec("UPDATE payments SET state = \\$1").
		WithArgs("failed", "{}", int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.UpdatePaymentResponse(ctx, nil, 11, models.PaymentFailed, "{}"))

	tx, err := db.Begin()
	require.NoError(t, err)
	assert.NoError(t, repo.UpdatePaymentResponse(ctx, tx, 11, models.PaymentCompleted, "{}"))
	require.NoError(t, tx.Commit())

	assert.True(t, errors.Is(repo.UpdatePaymentResponse(ctx, nil, 12, models.PaymentFailed, "{}"), storage.ErrPaymentNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailPendingPayments(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewPaymentRepository(db)

	mock.ExpectExec("UPDATE payments SET state = \\$1 WHERE order_id = \\$2 AND state IN").
		WithArgs("failed", int64(7), "checkout", "pending").
		WillReturnResult(sqlmock.NewResult(0, 2))

	assert.NoError(t, repo.FailPendingPayments(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPaymentMethodAndCard(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewPaymentRepository(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT id, name, type, active FROM payment_methods WHERE id = \\$1").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "type", "active"}).AddRow(int64(1), "Kart", "iyzipay", true))
	mock.ExpectQuery("FROM payment_methods").WithArgs(int64(9)).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("FROM stored_cards WHERE id = \\$1").WithArgs(int64(5)).WillReturnError(sql.ErrNoRows)

	method, err := repo.GetPaymentMethodByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, method.Requires3DS())

	_, err = repo.GetPaymentMethodByID(ctx, 9)
	assert.True(t, errors.Is(err, storage.ErrPaymentMethodNotFound))

	_, err = repo.GetCardByID(ctx, 5)
	assert.True(t, errors.Is(err, storage.ErrCardNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAccount(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewSubmerchantRepository(db)
	key := "sm-key"
	created := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE submerchant_accounts SET deleted_at = NOW\\(\\) WHERE vendor_id = \\$1 AND deleted_at IS NULL").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO submerchant_accounts").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), created))
	mock.ExpectCommit()

	account := &models.SubmerchantAccount{VendorID: 42, Type: models.SubmerchantPersonal, IBAN: "TR1", SubmerchantKey: &key}
	require.NoError(t, repo.SaveAccount(context.Background(), account))
	assert.Equal(t, int64(3), account.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAccount_InsertFails(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewSubmerchantRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE submerchant_accounts SET deleted_at").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO submerchant_accounts").WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	err := repo.SaveAccount(context.Background(), &models.SubmerchantAccount{VendorID: 42})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountByVendorID(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewSubmerchantRepository(db)
	deletedAt := time.Now()

	columns := []string{
		"id", "vendor_id", "sub_merchant_type", "name", "email", "gsm_number", "address", "identity_number", "iban",
		"external_id", "contact_name", "contact_surname", "tax_office", "legal_company_title", "tax_number",
		"submerchant_key", "created_at", "deleted_at",
	}
	mock.ExpectQuery("FROM submerchant_accounts WHERE vendor_id = \\$1 AND deleted_at IS NULL").
		WithArgs(int64(42)).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("FROM submerchant_accounts WHERE vendor_id = \\$1 ORDER BY id DESC").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			int64(3), int64(42), "PERSONAL", "Yılmaz Çiftliği", "ciftlik@example.com", "", "Atatürk Cd. 12", "12345678901",
			"TR1", "OFN_42", "Ayşe", "Yılmaz", "", "", "", "sm-key", time.Now(), deletedAt))

	_, err := repo.GetAccountByVendorID(context.Background(), 42)
	assert.True(t, errors.Is(err, storage.ErrSubmerchantNotFound))

	account, err := repo.GetAccountByVendorIDIncludingDeleted(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, models.SubmerchantPersonal, account.Type)
	assert.True(t, account.Registered())
	assert.NotNil(t, account.DeletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDeleteByVendorID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewSubmerchantRepository(db)

	mock.ExpectExec("UPDATE submerchant_accounts SET deleted_at").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.True(t, errors.Is(repo.SoftDeleteByVendorID(context.Background(), 42), storage.ErrSubmerchantNotFound))
}

func TestGetVendorByID(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewSubmerchantRepository(db)

	mock.ExpectQuery("FROM vendors WHERE id = \\$1").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "phone", "contact_name", "address1", "address2", "identity_number"}).
			AddRow(int64(42), "Yılmaz Çiftliği", "ciftlik@example.com", "+905551112233", "Ayşe Yılmaz", "Atatürk Cd. 12", "", "12345678901"))

	vendor, err := repo.GetVendorByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Ayşe Yılmaz", vendor.ContactName)
}

func TestReserveStock(t *testing.T) {
	db, mock := newMock(t)
	repo := storage.NewStockRepository(db)
	items := []models.LineItem{{VariantID: 11, Quantity: 2}, {VariantID: 12, Quantity: 5}}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE variants SET count_on_hand = count_on_hand - \\$1").
		WithArgs(2, int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE variants SET count_on_hand = count_on_hand - \\$1").
		WithArgs(5, int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := db.Begin()
	require.NoError(t, err)

	err = repo.ReserveStock(context.Background(), tx, items)
	assert.True(t, errors.Is(err, storage.ErrInsufficientStock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockOrder(t *testing.T) {
	db, mock := newMock(t)
	locker := storage.NewOrderLocker(db)

	mock.ExpectExec("SELECT pg_advisory_lock\\(\\$1\\)").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT pg_advisory_unlock\\(\\$1\\)").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	unlock, err := locker.LockOrder(context.Background(), 7)
	require.NoError(t, err)
	unlock()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockOrder_TimeoutDiscardsConnection(t *testing.T) {
	db, mock := newMock(t)
	locker := storage.NewOrderLocker(db)

	mock.ExpectExec("SELECT pg_advisory_lock\\(\\$1\\)").
		WithArgs(int64(7)).
		WillReturnError(context.DeadlineExceeded)
	// соединение закрывается, а не возвращается в пул с возможной блокировкой
	mock.ExpectClose()

	_, err := locker.LockOrder(context.Background(), 7)
	assert.True(t, errors.Is(err, storage.ErrOrderLocked))
	assert.NoError(t, mock.ExpectationsWereMet())
}
