package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/linemk/market-checkout/internal/domain/models"
	"github.com/linemk/market-checkout/internal/iyzipay"
	"github.com/linemk/market-checkout/internal/storage"
)

const (
	MsgPaymentProcessingFailed = "Payment could not be processed, please check the details you entered"
	MsgCheckoutFailed          = "Checkout failed, please try again"
	MsgInvalidCreditCard       = "Invalid credit card"
	MsgGatewayError            = "Payment error: %s"

	defaultAdvanceAttempts = 3
)

// CheckoutAttributes - то, что покупатель отправил на шаге оформления
type CheckoutAttributes struct {
	Email              string             `json:"email,omitempty" validate:"omitempty,email"`
	BillAddress        *models.Address    `json:"bill_address,omitempty"`
	ShipAddress        *models.Address    `json:"ship_address,omitempty"`
	ShippingMethodID   *int64             `json:"shipping_method_id,omitempty"`
	Payment            *PaymentAttributes `json:"payment,omitempty"`
	DefaultBillAddress bool               `json:"default_bill_address,omitempty"`
	DefaultShipAddress bool               `json:"default_ship_address,omitempty"`
}

// PaymentAttributes - сумма не принимается от клиента, всегда берётся из заказа
type PaymentAttributes struct {
	PaymentMethodID int64        `json:"payment_method_id" validate:"required"`
	Source          *models.Card `json:"source,omitempty"`
	ExistingCardID  *int64       `json:"existing_card_id,omitempty"`
	CVCConfirm      string       `json:"cvc_confirm,omitempty"`
}

// ThreeDSCallback - поля, которые провайдер присылает на callbackUrl после 3-D Secure
type ThreeDSCallback struct {
	Status           string
	PaymentID        string
	ConversationID   string
	ConversationData string
	MDStatus         string
}

type CheckoutResult struct {
	Order *models.Order
	// Redirect - форма 3-D Secure; заказ остаётся на шаге оплаты
	Redirect  string
	Completed bool
}

// OrderEvents - уведомления об оформленных заказах
type OrderEvents interface {
	OrderCompleted(ctx context.Context, order *models.Order) error
}

type CheckoutOptions struct {
	AdvanceAttempts int
	LockTimeout     time.Duration
}

type CheckoutService interface {
	Update(ctx context.Context, userID, orderID int64, attrs *CheckoutAttributes, pc PaymentContext) (*CheckoutResult, error)
	CompleteThreeDS(ctx context.Context, orderID int64, cb ThreeDSCallback, pc PaymentContext) (*CheckoutResult, error)
}

type checkoutService struct {
	log      *slog.Logger
	locker   storage.OrderLocker
	orders   storage.OrderStorage
	payments storage.PaymentStorage
	users    storage.UserStorage
	machine  Advancer
	probe    RedirectProbe
	events   OrderEvents
	reporter ErrorReporter
	opts     CheckoutOptions
}

func NewCheckoutService(
	log *slog.Logger,
	locker storage.OrderLocker,
	orders storage.OrderStorage,
	payments storage.PaymentStorage,
	users storage.UserStorage,
	machine Advancer,
	probe RedirectProbe,
	events OrderEvents,
	reporter ErrorReporter,
	opts CheckoutOptions,
) CheckoutService {
	if opts.AdvanceAttempts <= 0 {
		opts.AdvanceAttempts = defaultAdvanceAttempts
	}
	return &checkoutService{
		log:      log,
		locker:   locker,
		orders:   orders,
		payments: payments,
		users:    users,
		machine:  machine,
		probe:    probe,
		events:   events,
		reporter: reporter,
		opts:     opts,
	}
}

// Update применяет введённые данные и продвигает заказ, пока он не оформлен,
// не нужен редирект 3-D Secure или переход не провалился.
// Вся операция выполняется под блокировкой заказа.
func (s *checkoutService) Update(ctx context.Context, userID, orderID int64, attrs *CheckoutAttributes, pc PaymentContext) (*CheckoutResult, error) {
	const op = "service.CheckoutService.Update"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID), slog.Int64("userID", userID))

	unlock, err := s.lock(ctx, orderID)
	if err != nil {
		logger.Warn("failed to lock order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if order.UserID != userID {
		logger.Warn("order belongs to another user")
		return nil, ErrForbidden
	}

	pc.CustomerID = userID
	return s.run(ctx, logger, order, attrs, pc)
}

// CompleteThreeDS принимает возврат покупателя с 3-D Secure: дописывает данные провайдера
// в сохранённое состояние платежа и продолжает оформление без новых атрибутов, что приводит к capture.
// Только здесь состояние уходит из pending_3ds.
func (s *checkoutService) CompleteThreeDS(ctx context.Context, orderID int64, cb ThreeDSCallback, pc PaymentContext) (*CheckoutResult, error) {
	const op = "service.CheckoutService.CompleteThreeDS"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID))

	unlock, err := s.lock(ctx, orderID)
	if err != nil {
		logger.Warn("failed to lock order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	payment, err := s.payments.GetLastPaymentByOrderID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get payment: %w", op, err)
	}
	state, err := models.DecodeProviderState(payment.GatewayResponse)
	if err != nil {
		return nil, &ProtocolError{Op: op, Err: err}
	}
	if state.Kind != models.ProviderPending3DS {
		return nil, &ProtocolError{Op: op, Err: fmt.Errorf("payment is %s, not waiting for 3-D Secure", state.Kind)}
	}
	if cb.ConversationID != "" && state.ConversationID != "" && cb.ConversationID != state.ConversationID {
		logger.Warn("conversation id mismatch", slog.String("got", cb.ConversationID))
		return nil, &ProtocolError{Op: op, Err: errors.New("conversation id mismatch")}
	}

	if cb.PaymentID != "" {
		state.PaymentID = cb.PaymentID
	}
	state.ConversationData = cb.ConversationData
	state.MDStatus = cb.MDStatus
	state.Kind = models.ProviderThreeDSReturned
	if cb.Status != iyzipay.StatusSuccess {
		state.Kind = models.ProviderFailed
		state.Message = MDStatusDescription(cb.MDStatus)
	}

	blob, err := state.Encode()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// платёж остаётся pending: решение об отказе принимает capture
	if err := s.payments.UpdatePaymentResponse(ctx, nil, payment.ID, models.PaymentPending, blob); err != nil {
		return nil, fmt.Errorf("%s: failed to save callback: %w", op, err)
	}

	logger.Info("3-D Secure callback received", slog.String("status", cb.Status), slog.String("mdStatus", cb.MDStatus))
	pc.CustomerID = order.UserID
	return s.run(ctx, logger, order, nil, pc)
}

func (s *checkoutService) lock(ctx context.Context, orderID int64) (func(), error) {
	lockCtx := ctx
	if s.opts.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.opts.LockTimeout)
		defer cancel()
	}
	return s.locker.LockOrder(lockCtx, orderID)
}

// load проверяет, что заказ можно оформлять
func (s *checkoutService) load(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Completed() {
		return nil, ErrOrderCompleted
	}
	if len(order.LineItems) == 0 {
		return nil, ErrCheckoutNotAllowed
	}
	return order, nil
}

func (s *checkoutService) run(ctx context.Context, logger *slog.Logger, order *models.Order, attrs *CheckoutAttributes, pc PaymentContext) (*CheckoutResult, error) {
	var pending *PendingPayment
	if attrs != nil {
		var err error
		pending, err = s.apply(ctx, order, attrs, pc.CustomerID)
		if err != nil {
			var gwErr *GatewayError
			if errors.As(err, &gwErr) {
				return nil, &CheckoutError{Flash: fmt.Sprintf(MsgGatewayError, gwErr.Error()), Err: err}
			}
			return nil, err
		}
	}

	for !order.Completed() {
		if order.State == models.StatePaymentSelection {
			redirect, err := s.probe.Redirect(ctx, order, pending, pc)
			if err != nil {
				return nil, s.fail(ctx, logger, order, err)
			}
			if redirect != "" {
				return &CheckoutResult{Order: order, Redirect: redirect}, nil
			}
		}

		if order.State == models.StateDeliverySelection && attrs != nil && attrs.ShippingMethodID != nil {
			order.ShippingMethodID = attrs.ShippingMethodID
			if err := s.orders.UpdateOrderDetails(ctx, order); err != nil {
				return nil, s.fail(ctx, logger, order, err)
			}
		}

		if err := s.advance(ctx, logger, order); err != nil {
			return nil, s.fail(ctx, logger, order, err)
		}
	}

	s.finalize(ctx, logger, order, attrs)
	return &CheckoutResult{Order: order, Completed: true}, nil
}

// advance - один переход с повтором при конфликте версий, не больше AdvanceAttempts попыток
func (s *checkoutService) advance(ctx context.Context, logger *slog.Logger, order *models.Order) error {
	for attempt := 1; attempt <= s.opts.AdvanceAttempts; attempt++ {
		next, err := s.machine.Advance(ctx, order)
		if err == nil {
			order.State = next
			return nil
		}
		if !errors.Is(err, storage.ErrStaleOrder) {
			return err
		}

		logger.Warn("stale order, re-reading", slog.Int("attempt", attempt))
		fresh, err := s.orders.GetOrderByID(ctx, order.ID)
		if err != nil {
			return err
		}
		*order = *fresh
		if order.Completed() {
			return nil
		}
	}
	return ErrConcurrencyConflict
}

func (s *checkoutService) apply(ctx context.Context, order *models.Order, attrs *CheckoutAttributes, userID int64) (*PendingPayment, error) {
	const op = "service.CheckoutService.apply"

	if err := validateFields(attrs); err != nil {
		return nil, err
	}

	changed := false
	if attrs.Email != "" {
		order.Email = attrs.Email
		changed = true
	}
	if attrs.BillAddress != nil {
		order.BillAddress = attrs.BillAddress
		changed = true
	}
	if attrs.ShipAddress != nil {
		order.ShipAddress = attrs.ShipAddress
		changed = true
	}
	if changed {
		if err := s.orders.UpdateOrderDetails(ctx, order); err != nil {
			return nil, fmt.Errorf("%s: failed to save order details: %w", op, err)
		}
	}

	if attrs.Payment == nil {
		return nil, nil
	}
	return s.applyPayment(ctx, order, attrs.Payment, userID)
}

// applyPayment заменяет прежние платежи заказа новым на полную сумму заказа
func (s *checkoutService) applyPayment(ctx context.Context, order *models.Order, attrs *PaymentAttributes, userID int64) (*PendingPayment, error) {
	const op = "service.CheckoutService.applyPayment"

	method, err := s.payments.GetPaymentMethodByID(ctx, attrs.PaymentMethodID)
	if err != nil {
		if errors.Is(err, storage.ErrPaymentMethodNotFound) {
			return nil, &ValidationError{Fields: []string{"payment.payment_method_id"}}
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !method.Active {
		return nil, &ValidationError{Fields: []string{"payment.payment_method_id"}}
	}

	var card models.Card
	switch {
	case attrs.ExistingCardID != nil:
		stored, err := s.payments.GetCardByID(ctx, *attrs.ExistingCardID)
		if err != nil && !errors.Is(err, storage.ErrCardNotFound) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if stored == nil || stored.UserID != userID {
			return nil, &GatewayError{Message: MsgInvalidCreditCard}
		}
		card = models.Card{
			HolderName:  stored.HolderName,
			CVC:         attrs.CVCConfirm,
			CardUserKey: stored.CardUserKey,
			CardToken:   stored.CardToken,
		}
	case attrs.Source != nil:
		card = *attrs.Source
	case method.Requires3DS():
		return nil, &ValidationError{Fields: []string{"payment.source"}}
	}

	if err := s.payments.DeletePaymentsByOrderID(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	payment, err := s.payments.CreatePayment(ctx, &models.Payment{
		OrderID:         order.ID,
		PaymentMethodID: method.ID,
		Amount:          order.Total,
		State:           models.PaymentCheckout,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create payment: %w", op, err)
	}

	return &PendingPayment{Method: method, Payment: payment, Card: card}, nil
}

// fail возвращает заказ на редактирование и переводит ошибку в сообщение для покупателя
func (s *checkoutService) fail(ctx context.Context, logger *slog.Logger, order *models.Order, cause error) error {
	if err := s.orders.RestartCheckout(ctx, order.ID); err != nil && !errors.Is(err, storage.ErrOrderNotFound) {
		logger.Error("failed to restart checkout", slog.Any("error", err))
	}
	if err := s.payments.FailPendingPayments(ctx, order.ID); err != nil {
		logger.Error("failed to fail pending payments", slog.Any("error", err))
	}
	order.State = models.StateAddressEntry

	var (
		trErr   *TransitionError
		gwErr   *GatewayError
		cfgErr  *ConfigurationError
		protErr *ProtocolError
	)
	switch {
	case errors.As(cause, &trErr):
		logger.Info("checkout step failed", slog.Any("error", cause))
		return &CheckoutError{Messages: trErr.Messages, Flash: trErr.Error(), Err: cause}
	case errors.Is(cause, ErrConcurrencyConflict):
		logger.Warn("checkout gave up after conflicts")
		return &CheckoutError{Flash: MsgPaymentProcessingFailed, Err: cause}
	case errors.As(cause, &gwErr):
		return &CheckoutError{Flash: fmt.Sprintf(MsgGatewayError, gwErr.Error()), Err: cause}
	case errors.As(cause, &cfgErr):
		logger.Warn("checkout misconfigured", slog.Any("error", cause))
		return &CheckoutError{Flash: cfgErr.Message, Err: cause}
	case errors.As(cause, &protErr):
		s.reporter.Report(ctx, cause, slog.Int64("orderID", order.ID))
		return &CheckoutError{Flash: MsgPaymentProcessingFailed, Err: cause}
	default:
		s.reporter.Report(ctx, cause, slog.Int64("orderID", order.ID))
		return &CheckoutError{Flash: MsgCheckoutFailed, Err: cause}
	}
}

// finalize: ошибки здесь не отменяют оформленный заказ, только логируются
func (s *checkoutService) finalize(ctx context.Context, logger *slog.Logger, order *models.Order, attrs *CheckoutAttributes) {
	if attrs != nil && (attrs.DefaultBillAddress || attrs.DefaultShipAddress) {
		var bill, ship *models.Address
		if attrs.DefaultBillAddress {
			bill = order.BillAddress
		}
		if attrs.DefaultShipAddress {
			ship = order.ShipAddress
		}
		if err := s.users.UpdateDefaultAddresses(ctx, order.UserID, bill, ship); err != nil {
			logger.Error("failed to save default addresses", slog.Any("error", err))
		}
	}

	if err := s.users.ClearCurrentOrder(ctx, order.UserID, order.ID); err != nil {
		logger.Error("failed to clear current order", slog.Any("error", err))
	}

	if s.events != nil {
		if err := s.events.OrderCompleted(ctx, order); err != nil {
			logger.Error("failed to publish order completed", slog.Any("error", err))
		}
	}

	logger.Info("order processed successfully", slog.String("number", order.Number))
}
