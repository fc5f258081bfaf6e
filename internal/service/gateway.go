package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/linemk/market-checkout/internal/domain/models"
	"github.com/linemk/market-checkout/internal/iyzipay"
	"github.com/linemk/market-checkout/internal/storage"
	"github.com/shopspring/decimal"
)

const (
	msgTransactionSuccess  = "Transaction success"
	msgTransactionRejected = "Transaction rejected by gateway"
	notProvided            = "not provided"
	phonePrefix            = "+9"
	basketCategory         = "FOOD"
	conversationPrefix     = "order_"
	providerDateLayout     = "2006-01-02 15:04:05"
)

// сумма проверочной авторизации; меньшая даёт отрицательную выплату продавцу
var verifyAmount = decimal.RequireFromString("1.00")

var mdStatusMessages = map[string]string{
	"0": "3-D Secure imzası geçersiz veya doğrulama",
	"2": "Kart sahibi veya bankası sisteme kayıtlı değil",
	"3": "Kartın bankası sisteme kayıtlı değil",
	"4": "Doğrulama denemesi, kart sahibi sisteme daha sonra kayıt olmayı seçmiş",
	"5": "Doğrulama yapılamıyor",
	"6": "3-D Secure hatası",
	"7": "Sistem hatası",
	"8": "Bilinmeyen kart no",
}

// MDStatusDescription - описание кода mdStatus банка
func MDStatusDescription(code string) string {
	if msg, ok := mdStatusMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("Bilinmeyen hata (%s)", code)
}

// transactionMessage - человекочитаемый итог ответа провайдера
func transactionMessage(r *iyzipay.Response, mdStatus string) string {
	switch r.Status {
	case iyzipay.StatusSuccess:
		return msgTransactionSuccess
	case iyzipay.StatusFailure:
		if r.ErrorCode != "" {
			return fmt.Sprintf("%s (%s)", r.ErrorMessage, r.ErrorCode)
		}
		return MDStatusDescription(mdStatus)
	default:
		return msgTransactionRejected
	}
}

// PaymentContext - данные запроса, нужные провайдеру помимо заказа
type PaymentContext struct {
	CustomerID int64
	Email      string
	IP         string
}

// GatewayOptions - настройки провайдера, не относящиеся к транспорту
type GatewayOptions struct {
	Locale      string
	Currency    string
	CallbackURL string // базовый адрес, к нему добавляется /{orderID}/3ds
}

type KeyLookup interface {
	LookupKey(ctx context.Context, vendorID int64) (string, bool, error)
}

type PaymentGateway interface {
	Authorize(ctx context.Context, order *models.Order, amount decimal.Decimal, card models.Card, pc PaymentContext) (*models.GatewayResult, error)
	Capture(ctx context.Context, order *models.Order) (*models.GatewayResult, error)
	Void(ctx context.Context, authorization string, pc PaymentContext) (*models.GatewayResult, error)
	Credit(ctx context.Context, amount decimal.Decimal, authorization string, pc PaymentContext) (*models.GatewayResult, error)
	Verify(ctx context.Context, order *models.Order, card models.Card, pc PaymentContext) (*models.GatewayResult, error)
}

type paymentGateway struct {
	log        *slog.Logger
	client     ProviderClient
	keys       KeyLookup
	payments   storage.PaymentStorage
	commission Commission
	opts       GatewayOptions
}

func NewPaymentGateway(log *slog.Logger, client ProviderClient, keys KeyLookup, payments storage.PaymentStorage, commission Commission, opts GatewayOptions) PaymentGateway {
	return &paymentGateway{
		log:        log,
		client:     client,
		keys:       keys,
		payments:   payments,
		commission: commission,
		opts:       opts,
	}
}

// Authorize запускает 3-D Secure initialize с разделением суммы на суб-мерчанта продавца.
// Отказ провайдера - неуспешный результат без ошибки.
func (g *paymentGateway) Authorize(ctx context.Context, order *models.Order, amount decimal.Decimal, card models.Card, pc PaymentContext) (*models.GatewayResult, error) {
	const op = "service.PaymentGateway.Authorize"
	logger := g.log.With(slog.String("op", op), slog.Int64("orderID", order.ID))

	key, ok, err := g.keys.LookupKey(ctx, order.DistributorID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		logger.Warn("no submerchant key", slog.Int64("vendorID", order.DistributorID))
		return nil, &ConfigurationError{Message: MsgNoSubmerchant}
	}

	payout := g.commission.NetPayout(amount)
	if !payout.IsPositive() {
		logger.Warn("non-positive payout", slog.String("amount", amount.String()), slog.String("payout", payout.String()))
		return nil, &ConfigurationError{Message: fmt.Sprintf("amount %s is too small to split: payout %s", amount.StringFixed(2), payout.StringFixed(2))}
	}

	req := g.initializeRequest(order, amount, payout, key, card, pc)
	resp, err := g.client.InitializeThreeDS(ctx, req)
	if err != nil {
		logger.Error("initialize failed", slog.Any("error", err))
		return nil, providerError(op, err)
	}

	result := &models.GatewayResult{
		Success:         resp.Succeeded(),
		Message:         transactionMessage(&resp.Response, resp.MDStatus.String()),
		Raw:             resp.Raw(),
		AuthorizationID: resp.ConversationID,
	}
	if !result.Success {
		result.State = models.ProviderState{
			Kind:           models.ProviderFailed,
			ConversationID: resp.ConversationID,
			MDStatus:       resp.MDStatus.String(),
			Message:        result.Message,
			Response:       resp.Raw(),
		}
		logger.Info("authorize declined", slog.String("message", result.Message))
		return result, nil
	}

	conversationID := resp.ConversationID
	if conversationID == "" {
		conversationID = req.ConversationID
	}
	result.State = models.ProviderState{
		Kind:           models.ProviderPending3DS,
		ConversationID: conversationID,
		PaymentID:      resp.PaymentID,
		Response:       resp.Raw(),
	}
	PatchAuthorizeResponse(result)

	logger.Info("authorize accepted, waiting for 3-D Secure")
	return result, nil
}

// Capture завершает платёж по сохранённому состоянию: 3-D Secure auth, затем approval первой транзакции.
// Сеть вызывается только после возврата покупателя с 3-D Secure.
func (g *paymentGateway) Capture(ctx context.Context, order *models.Order) (*models.GatewayResult, error) {
	const op = "service.PaymentGateway.Capture"
	logger := g.log.With(slog.String("op", op), slog.Int64("orderID", order.ID))

	payment, err := g.payments.GetLastPaymentByOrderID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get payment: %w", op, err)
	}

	state, err := models.DecodeProviderState(payment.GatewayResponse)
	if err != nil {
		return nil, &ProtocolError{Op: op, Err: err}
	}

	switch state.Kind {
	case models.ProviderFailed:
		logger.Info("prior authorization failed, skipping capture")
		return &models.GatewayResult{
			Success: false,
			Message: state.Message,
			Raw:     state.Response,
			State:   state,
		}, nil
	case models.ProviderPending3DS:
		logger.Warn("capture before 3-D Secure return")
		return nil, &ProtocolError{Op: op, Err: errors.New("3-D Secure is not completed")}
	case models.ProviderAuthorized:
		return &models.GatewayResult{
			Success:         true,
			Message:         msgTransactionSuccess,
			Raw:             state.Response,
			AuthorizationID: state.PaymentID,
			State:           state,
		}, nil
	}

	if state.PaymentID == "" {
		return nil, &ProtocolError{Op: op, Err: errors.New("no paymentId in stored state")}
	}

	confirm, err := g.client.AuthThreeDS(ctx, &iyzipay.ThreeDSAuthRequest{
		Locale:           g.opts.Locale,
		ConversationID:   state.ConversationID,
		PaymentID:        state.PaymentID,
		ConversationData: state.ConversationData,
	})
	if err != nil {
		logger.Error("3ds auth failed", slog.Any("error", err))
		return nil, providerError(op, err)
	}
	if !confirm.Succeeded() {
		return g.failed(logger, &confirm.Response, confirm.MDStatus.String(), state), nil
	}
	if len(confirm.ItemTransactions) == 0 {
		return nil, &ProtocolError{Op: op, Err: errors.New("confirm response has no itemTransactions")}
	}

	approval, err := g.client.Approve(ctx, &iyzipay.ApprovalRequest{
		Locale:               g.opts.Locale,
		ConversationID:       state.ConversationID,
		PaymentTransactionID: confirm.ItemTransactions[0].PaymentTransactionID,
	})
	if err != nil {
		logger.Error("approval failed", slog.Any("error", err))
		return nil, providerError(op, err)
	}
	if !approval.Succeeded() {
		return g.failed(logger, &approval.Response, "", state), nil
	}

	state.Kind = models.ProviderAuthorized
	state.Message = msgTransactionSuccess
	state.Response = confirm.Raw()
	logger.Info("payment captured", slog.String("paymentID", state.PaymentID))

	return &models.GatewayResult{
		Success:         true,
		Message:         msgTransactionSuccess,
		Raw:             confirm.Raw(),
		AuthorizationID: state.PaymentID,
		State:           state,
	}, nil
}

func (g *paymentGateway) failed(logger *slog.Logger, r *iyzipay.Response, mdStatus string, state models.ProviderState) *models.GatewayResult {
	msg := transactionMessage(r, mdStatus)
	logger.Info("provider declined", slog.String("message", msg))

	state.Kind = models.ProviderFailed
	state.Message = msg
	state.Response = r.Raw()
	return &models.GatewayResult{
		Success: false,
		Message: msg,
		Raw:     r.Raw(),
		State:   state,
	}
}

// Void отменяет платёж; authorization - paymentId провайдера
func (g *paymentGateway) Void(ctx context.Context, authorization string, pc PaymentContext) (*models.GatewayResult, error) {
	const op = "service.PaymentGateway.Void"

	resp, err := g.client.Cancel(ctx, &iyzipay.CancelRequest{
		Locale:         g.opts.Locale,
		ConversationID: uuid.NewString(),
		PaymentID:      authorization,
		IP:             pc.IP,
	})
	if err != nil {
		return nil, providerError(op, err)
	}
	return &models.GatewayResult{
		Success:         resp.Succeeded(),
		Message:         transactionMessage(&resp.Response, ""),
		Raw:             resp.Raw(),
		AuthorizationID: resp.PaymentID,
	}, nil
}

// Credit возвращает сумму; authorization - paymentTransactionId провайдера
func (g *paymentGateway) Credit(ctx context.Context, amount decimal.Decimal, authorization string, pc PaymentContext) (*models.GatewayResult, error) {
	const op = "service.PaymentGateway.Credit"

	resp, err := g.client.Refund(ctx, &iyzipay.RefundRequest{
		Locale:               g.opts.Locale,
		ConversationID:       uuid.NewString(),
		PaymentTransactionID: authorization,
		Price:                amount.StringFixed(2),
		Currency:             g.opts.Currency,
		IP:                   pc.IP,
	})
	if err != nil {
		return nil, providerError(op, err)
	}
	return &models.GatewayResult{
		Success:         resp.Succeeded(),
		Message:         transactionMessage(&resp.Response, ""),
		Raw:             resp.Raw(),
		AuthorizationID: resp.PaymentTransactionID,
	}, nil
}

// Verify - проверочная авторизация с немедленной отменой; результат отмены не учитывается
func (g *paymentGateway) Verify(ctx context.Context, order *models.Order, card models.Card, pc PaymentContext) (*models.GatewayResult, error) {
	const op = "service.PaymentGateway.Verify"

	res, err := g.Authorize(ctx, order, verifyAmount, card, pc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !res.Success {
		return res, nil
	}

	authorization := res.State.PaymentID
	if authorization == "" {
		authorization = res.AuthorizationID
	}
	if _, err := g.Void(ctx, authorization, pc); err != nil {
		g.log.Warn("verify void failed", slog.String("op", op), slog.Any("error", err))
	}
	return res, nil
}

func (g *paymentGateway) initializeRequest(order *models.Order, amount, payout decimal.Decimal, key string, card models.Card, pc PaymentContext) *iyzipay.ThreeDSInitializeRequest {
	price := amount.StringFixed(2)
	orderID := strconv.FormatInt(order.ID, 10)

	return &iyzipay.ThreeDSInitializeRequest{
		Locale:          g.opts.Locale,
		ConversationID:  conversationPrefix + order.Number,
		Price:           price,
		PaidPrice:       price,
		Installment:     iyzipay.DefaultInstallment,
		PaymentChannel:  iyzipay.PaymentChannelWeb,
		BasketID:        order.Number,
		PaymentGroup:    iyzipay.PaymentGroupProduct,
		CallbackURL:     strings.TrimRight(g.opts.CallbackURL, "/") + "/" + orderID + "/3ds",
		Currency:        g.opts.Currency,
		PaymentCard:     paymentCard(card),
		Buyer:           buyer(order, pc),
		BillingAddress:  providerAddress(order.BillAddress),
		ShippingAddress: providerAddress(order.ShipAddress),
		BasketItems: []iyzipay.BasketItem{{
			ID:               order.Number,
			Name:             basketCategory,
			Category1:        basketCategory,
			ItemType:         iyzipay.BasketItemPhysical,
			Price:            price,
			SubMerchantPrice: payout.StringFixed(2),
			SubMerchantKey:   key,
		}},
	}
}

func paymentCard(card models.Card) iyzipay.PaymentCard {
	if card.Stored() {
		return iyzipay.PaymentCard{
			CardUserKey:  card.CardUserKey,
			CardToken:    card.CardToken,
			RegisterCard: iyzipay.RegisterCardDisabled,
		}
	}
	return iyzipay.PaymentCard{
		CardHolderName: card.HolderName,
		CardNumber:     card.Number,
		ExpireYear:     strconv.Itoa(card.Year),
		ExpireMonth:    fmt.Sprintf("%02d", card.Month),
		CVC:            card.CVC,
		RegisterCard:   iyzipay.RegisterCardDisabled,
	}
}

// NormalizePhone добавляет код страны, если его нет
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.HasPrefix(phone, phonePrefix) {
		return phone
	}
	return phonePrefix + phone
}

func orDefault(v string) string {
	if strings.TrimSpace(v) == "" {
		return notProvided
	}
	return v
}

func buyer(order *models.Order, pc PaymentContext) iyzipay.Buyer {
	bill := order.BillAddress
	if bill == nil {
		bill = &models.Address{}
	}
	email := pc.Email
	if email == "" {
		email = order.Email
	}
	registered := order.CreatedAt.Format(providerDateLayout)
	if order.CreatedAt.IsZero() {
		registered = time.Now().Format(providerDateLayout)
	}

	return iyzipay.Buyer{
		ID:                  strconv.FormatInt(pc.CustomerID, 10),
		Name:                orDefault(bill.FirstName),
		Surname:             orDefault(bill.LastName),
		IdentityNumber:      "CUSTOMER_" + strconv.FormatInt(pc.CustomerID, 10),
		Email:               email,
		GSMNumber:           orDefault(NormalizePhone(bill.Phone)),
		RegistrationDate:    registered,
		LastLoginDate:       registered,
		RegistrationAddress: orDefault(bill.Address1),
		City:                orDefault(bill.City),
		Country:             orDefault(bill.Country),
		ZipCode:             orDefault(bill.Zipcode),
		IP:                  pc.IP,
	}
}

func providerAddress(a *models.Address) iyzipay.Address {
	if a == nil {
		a = &models.Address{}
	}
	contact := strings.TrimSpace(a.FullName())
	return iyzipay.Address{
		Address:     orDefault(a.Address1),
		ZipCode:     orDefault(a.Zipcode),
		ContactName: orDefault(contact),
		City:        orDefault(a.City),
		Country:     orDefault(a.Country),
	}
}
