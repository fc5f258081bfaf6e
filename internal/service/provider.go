package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/linemk/market-checkout/internal/iyzipay"
)

// ProviderClient - вызовы платёжного провайдера, реализуется *iyzipay.Client
type ProviderClient interface {
	CreateSubmerchant(ctx context.Context, req *iyzipay.CreateSubmerchantRequest) (*iyzipay.SubmerchantResponse, error)
	InitializeThreeDS(ctx context.Context, req *iyzipay.ThreeDSInitializeRequest) (*iyzipay.ThreeDSInitializeResponse, error)
	AuthThreeDS(ctx context.Context, req *iyzipay.ThreeDSAuthRequest) (*iyzipay.PaymentResponse, error)
	Approve(ctx context.Context, req *iyzipay.ApprovalRequest) (*iyzipay.ApprovalResponse, error)
	Cancel(ctx context.Context, req *iyzipay.CancelRequest) (*iyzipay.CancelResponse, error)
	Refund(ctx context.Context, req *iyzipay.RefundRequest) (*iyzipay.RefundResponse, error)
}

var _ ProviderClient = (*iyzipay.Client)(nil)

// providerError разделяет кривой ответ провайдера и сетевую ошибку
func providerError(op string, err error) error {
	if errors.Is(err, iyzipay.ErrMalformedResponse) {
		return &ProtocolError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: provider call failed: %w", op, err)
}
