package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrOrderCompleted - заказ уже оформлен, изменения запрещены
	ErrOrderCompleted = errors.New("order is already completed")
	// ErrConcurrencyConflict - переход не удался за все попытки из-за параллельных изменений
	ErrConcurrencyConflict = errors.New("order was modified concurrently")
	ErrCheckoutNotAllowed  = errors.New("order is not ready for checkout")
	ErrForbidden           = errors.New("order does not belong to user")
)

// ValidationError - локальная ошибка по полям, сеть при ней не вызывается
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, ", ")
}

// ConfigurationError - не хватает регистрации или настроек, запрос не повторяется
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// GatewayError - провайдер явно отклонил запрос
type GatewayError struct {
	Code    string
	Group   string
	Message string
}

func (e *GatewayError) Error() string {
	switch {
	case e.Code != "" && e.Group != "":
		return fmt.Sprintf("%s(%s) %s", e.Code, e.Group, e.Message)
	case e.Code != "":
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	default:
		return e.Message
	}
}

// ProtocolError - ответ провайдера не разобран или не содержит ожидаемых полей
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: unexpected provider payload: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// CheckoutError - завершившийся неудачей шаг оформления; Messages уходят пользователю как есть
type CheckoutError struct {
	Messages []string
	Flash    string
	Err      error
}

func (e *CheckoutError) Error() string {
	if len(e.Messages) == 0 {
		return e.Flash
	}
	return strings.Join(e.Messages, ", ")
}

func (e *CheckoutError) Unwrap() error { return e.Err }

// ErrorReporter - канал для неожиданных ошибок оформления
type ErrorReporter interface {
	Report(ctx context.Context, err error, attrs ...slog.Attr)
}

type logReporter struct {
	log *slog.Logger
}

func NewLogReporter(log *slog.Logger) ErrorReporter {
	return &logReporter{log: log}
}

func (r *logReporter) Report(ctx context.Context, err error, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String("error", err.Error()))
	r.log.LogAttrs(ctx, slog.LevelError, "unexpected checkout error", attrs...)
}
