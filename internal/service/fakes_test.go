package service_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/linemk/market-checkout/internal/domain/models"
	"github.com/linemk/market-checkout/internal/iyzipay"
	"github.com/linemk/market-checkout/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProvider - провайдер на httptest, отвечает заранее заданными телами по пути
type fakeProvider struct {
	mu        sync.Mutex
	responses map[string]string
	calls     map[string]int
	bodies    map[string][]byte
}

func newFakeProvider(t *testing.T, responses map[string]string) (*fakeProvider, *iyzipay.Client) {
	t.Helper()
	p := &fakeProvider{responses: responses, calls: map[string]int{}, bodies: map[string][]byte{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.calls[r.URL.Path]++
		p.bodies[r.URL.Path] = body
		resp, ok := p.responses[r.URL.Path]
		p.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)

	client := iyzipay.NewClient(discardLogger(), iyzipay.Options{
		BaseURL:   srv.URL,
		APIKey:    "key",
		SecretKey: "secret",
	}, srv.Client())
	return p, client
}

func (p *fakeProvider) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

func (p *fakeProvider) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[path]
}

func (p *fakeProvider) body(path string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bodies[path]
}

type fakeUserRepo struct {
	users map[string]*models.User // ключ - email

	defaultBill, defaultShip *models.Address
	cleared                  []int64
}

var _ storage.UserStorage = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*models.User)}
}

func (f *fakeUserRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := f.users[email]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = int64(len(f.users) + 1)
	f.users[user.Email] = user
	return user, nil
}

func (f *fakeUserRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

func (f *fakeUserRepo) UpdateDefaultAddresses(ctx context.Context, id int64, bill, ship *models.Address) error {
	if bill != nil {
		f.defaultBill = bill
	}
	if ship != nil {
		f.defaultShip = ship
	}
	return nil
}

func (f *fakeUserRepo) ClearCurrentOrder(ctx context.Context, id int64, orderID int64) error {
	f.cleared = append(f.cleared, orderID)
	return nil
}

type fakeOrderRepo struct {
	orders map[int64]*models.Order

	// staleStateUpdates - сколько ближайших UpdateOrderState вернут ErrStaleOrder
	staleStateUpdates int
	stateUpdates      int
	detailUpdates     int
	restarts          int
}

var _ storage.OrderStorage = (*fakeOrderRepo)(nil)

func newFakeOrderRepo(orders ...*models.Order) *fakeOrderRepo {
	f := &fakeOrderRepo{orders: make(map[int64]*models.Order)}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrderRepo) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderRepo) UpdateOrderDetails(ctx context.Context, order *models.Order) error {
	stored, ok := f.orders[order.ID]
	if !ok || stored.Version != order.Version {
		return storage.ErrStaleOrder
	}
	f.detailUpdates++
	order.Version++
	cp := *order
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeOrderRepo) UpdateOrderState(ctx context.Context, tx *sql.Tx, order *models.Order, next models.OrderState) error {
	if f.staleStateUpdates > 0 {
		f.staleStateUpdates--
		return storage.ErrStaleOrder
	}
	stored, ok := f.orders[order.ID]
	if !ok || stored.Version != order.Version {
		return storage.ErrStaleOrder
	}
	f.stateUpdates++
	order.Version++
	order.State = next
	cp := *order
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeOrderRepo) RestartCheckout(ctx context.Context, id int64) error {
	// транзакции фейк не откатывает, поэтому оформленность смотрим по CompletedAt
	o, ok := f.orders[id]
	if !ok || o.CompletedAt != nil {
		return storage.ErrOrderNotFound
	}
	f.restarts++
	o.State = models.StateAddressEntry
	o.Version++
	return nil
}

type fakePaymentRepo struct {
	payments map[int64]*models.Payment
	methods  map[int64]*models.PaymentMethod
	cards    map[int64]*models.StoredCard
	nextID   int64
	deleted  int
}

var _ storage.PaymentStorage = (*fakePaymentRepo)(nil)

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{
		payments: make(map[int64]*models.Payment),
		methods: map[int64]*models.PaymentMethod{
			1: {ID: 1, Name: "Kart", Type: models.PaymentMethodIyzipay, Active: true},
			2: {ID: 2, Name: "Kapıda ödeme", Type: models.PaymentMethodOffline, Active: true},
			3: {ID: 3, Name: "Eski", Type: models.PaymentMethodOffline, Active: false},
		},
		cards: make(map[int64]*models.StoredCard),
	}
}

func (f *fakePaymentRepo) CreatePayment(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	f.nextID++
	p.ID = f.nextID
	cp := *p
	f.payments[p.ID] = &cp
	return p, nil
}

func (f *fakePaymentRepo) DeletePaymentsByOrderID(ctx context.Context, orderID int64) error {
	for id, p := range f.payments {
		if p.OrderID == orderID {
			delete(f.payments, id)
			f.deleted++
		}
	}
	return nil
}

func (f *fakePaymentRepo) GetLastPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var ids []int64
	for id, p := range f.payments {
		if p.OrderID == orderID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, storage.ErrPaymentNotFound
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	cp := *f.payments[ids[0]]
	return &cp, nil
}

func (f *fakePaymentRepo) UpdatePaymentResponse(ctx context.Context, tx *sql.Tx, id int64, state models.PaymentState, response string) error {
	p, ok := f.payments[id]
	if !ok {
		return storage.ErrPaymentNotFound
	}
	p.State = state
	p.GatewayResponse = response
	return nil
}

func (f *fakePaymentRepo) FailPendingPayments(ctx context.Context, orderID int64) error {
	for _, p := range f.payments {
		if p.OrderID == orderID && (p.State == models.PaymentCheckout || p.State == models.PaymentPending) {
			p.State = models.PaymentFailed
		}
	}
	return nil
}

func (f *fakePaymentRepo) GetPaymentMethodByID(ctx context.Context, id int64) (*models.PaymentMethod, error) {
	m, ok := f.methods[id]
	if !ok {
		return nil, storage.ErrPaymentMethodNotFound
	}
	return m, nil
}

func (f *fakePaymentRepo) GetCardByID(ctx context.Context, id int64) (*models.StoredCard, error) {
	c, ok := f.cards[id]
	if !ok {
		return nil, storage.ErrCardNotFound
	}
	return c, nil
}

type fakeSubmerchantRepo struct {
	vendors  map[int64]*models.Vendor
	accounts []*models.SubmerchantAccount
}

var _ storage.SubmerchantStorage = (*fakeSubmerchantRepo)(nil)

func newFakeSubmerchantRepo() *fakeSubmerchantRepo {
	return &fakeSubmerchantRepo{vendors: make(map[int64]*models.Vendor)}
}

func (f *fakeSubmerchantRepo) withKey(vendorID int64, key string) *fakeSubmerchantRepo {
	f.accounts = append(f.accounts, &models.SubmerchantAccount{
		ID:             int64(len(f.accounts) + 1),
		VendorID:       vendorID,
		Type:           models.SubmerchantPersonal,
		SubmerchantKey: &key,
	})
	return f
}

func (f *fakeSubmerchantRepo) SaveAccount(ctx context.Context, a *models.SubmerchantAccount) error {
	_ = f.SoftDeleteByVendorID(ctx, a.VendorID)
	a.ID = int64(len(f.accounts) + 1)
	f.accounts = append(f.accounts, a)
	return nil
}

func (f *fakeSubmerchantRepo) GetAccountByVendorID(ctx context.Context, vendorID int64) (*models.SubmerchantAccount, error) {
	for i := len(f.accounts) - 1; i >= 0; i-- {
		if a := f.accounts[i]; a.VendorID == vendorID && a.DeletedAt == nil {
			return a, nil
		}
	}
	return nil, storage.ErrSubmerchantNotFound
}

func (f *fakeSubmerchantRepo) GetAccountByVendorIDIncludingDeleted(ctx context.Context, vendorID int64) (*models.SubmerchantAccount, error) {
	for i := len(f.accounts) - 1; i >= 0; i-- {
		if a := f.accounts[i]; a.VendorID == vendorID {
			return a, nil
		}
	}
	return nil, storage.ErrSubmerchantNotFound
}

func (f *fakeSubmerchantRepo) SoftDeleteByVendorID(ctx context.Context, vendorID int64) error {
	found := false
	for _, a := range f.accounts {
		if a.VendorID == vendorID && a.DeletedAt == nil {
			deletedAt := a.CreatedAt
			a.DeletedAt = &deletedAt
			found = true
		}
	}
	if !found {
		return storage.ErrSubmerchantNotFound
	}
	return nil
}

func (f *fakeSubmerchantRepo) GetVendorByID(ctx context.Context, id int64) (*models.Vendor, error) {
	v, ok := f.vendors[id]
	if !ok {
		return nil, storage.ErrVendorNotFound
	}
	return v, nil
}

type fakeStock struct {
	err      error
	reserved int
}

func (f *fakeStock) ReserveStock(ctx context.Context, tx *sql.Tx, items []models.LineItem) error {
	if f.err != nil {
		return f.err
	}
	f.reserved += len(items)
	return nil
}

type fakeLocker struct {
	err      error
	locked   int
	unlocked int
}

func (f *fakeLocker) LockOrder(ctx context.Context, orderID int64) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.locked++
	return func() { f.unlocked++ }, nil
}

type fakeEvents struct {
	published []int64
}

func (f *fakeEvents) OrderCompleted(ctx context.Context, order *models.Order) error {
	f.published = append(f.published, order.ID)
	return nil
}

type fakeReporter struct {
	reported []error
}

func (f *fakeReporter) Report(ctx context.Context, err error, attrs ...slog.Attr) {
	f.reported = append(f.reported, err)
}
