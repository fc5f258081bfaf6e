package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/linemk/market-checkout/internal/domain/models"
	"github.com/linemk/market-checkout/internal/storage"
)

// PendingPayment - платёж, выбранный в текущем запросе; карта дальше запроса не живёт
type PendingPayment struct {
	Method  *models.PaymentMethod
	Payment *models.Payment
	Card    models.Card
}

// RedirectProbe решает, нужен ли внешний редирект перед capture
type RedirectProbe interface {
	// Redirect возвращает форму 3-D Secure или пустую строку, если редирект не нужен
	Redirect(ctx context.Context, order *models.Order, pending *PendingPayment, pc PaymentContext) (string, error)
}

type threeDSProbe struct {
	log      *slog.Logger
	gateway  PaymentGateway
	payments storage.PaymentStorage
}

func NewRedirectProbe(log *slog.Logger, gateway PaymentGateway, payments storage.PaymentStorage) RedirectProbe {
	return &threeDSProbe{log: log, gateway: gateway, payments: payments}
}

// Redirect авторизует только платёж, выбранный в этом же запросе.
// Без платёжных данных платёж, который ещё ждёт 3-D Secure, снова отдаёт сохранённую форму.
func (p *threeDSProbe) Redirect(ctx context.Context, order *models.Order, pending *PendingPayment, pc PaymentContext) (string, error) {
	const op = "service.RedirectProbe.Redirect"

	if pending == nil {
		return p.awaiting(ctx, order)
	}
	if !pending.Method.Requires3DS() {
		return "", nil
	}
	logger := p.log.With(slog.String("op", op), slog.Int64("orderID", order.ID), slog.Int64("paymentID", pending.Payment.ID))

	res, err := p.gateway.Authorize(ctx, order, pending.Payment.Amount, pending.Card, pc)
	if err != nil {
		return "", err
	}

	blob, err := res.State.Encode()
	if err != nil {
		return "", fmt.Errorf("%s: failed to encode provider state: %w", op, err)
	}
	state := models.PaymentPending
	if !res.Success {
		state = models.PaymentFailed
	}
	if err := p.payments.UpdatePaymentResponse(ctx, nil, pending.Payment.ID, state, blob); err != nil {
		return "", fmt.Errorf("%s: failed to save authorize response: %w", op, err)
	}

	if !res.Success {
		logger.Info("authorize declined", slog.String("message", res.Message))
		return "", &TransitionError{Messages: []string{res.Message}}
	}
	if res.RedirectURL == "" {
		return "", &ProtocolError{Op: op, Err: errors.New("no 3-D Secure content in authorize response")}
	}

	logger.Info("3-D Secure redirect required")
	return res.RedirectURL, nil
}

// awaiting - форма 3-D Secure последнего платежа, если покупатель ещё не вернулся из банка
func (p *threeDSProbe) awaiting(ctx context.Context, order *models.Order) (string, error) {
	const op = "service.RedirectProbe.awaiting"

	payment, err := p.payments.GetLastPaymentByOrderID(ctx, order.ID)
	if err != nil {
		if errors.Is(err, storage.ErrPaymentNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("%s: failed to get payment: %w", op, err)
	}
	if payment.State != models.PaymentPending {
		return "", nil
	}
	state, err := models.DecodeProviderState(payment.GatewayResponse)
	if err != nil || state.Kind != models.ProviderPending3DS {
		return "", nil
	}

	res := &models.GatewayResult{Raw: state.Response}
	PatchAuthorizeResponse(res)
	if res.RedirectURL == "" {
		return "", &ProtocolError{Op: op, Err: errors.New("no 3-D Secure content in stored response")}
	}

	p.log.Info("3-D Secure still pending, repeating redirect", slog.String("op", op), slog.Int64("orderID", order.ID))
	return res.RedirectURL, nil
}
