package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentState - состояние платежа внутри заказа
type PaymentState string

const (
	PaymentCheckout  PaymentState = "checkout"
	PaymentPending   PaymentState = "pending"
	PaymentCompleted PaymentState = "completed"
	PaymentFailed    PaymentState = "failed"
	PaymentVoid      PaymentState = "void"
)

// Payment принадлежит ровно одному заказу.
// GatewayResponse хранит последний ответ провайдера и переносит состояние между authorize и capture.
type Payment struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"order_id"`
	PaymentMethodID int64           `json:"payment_method_id"`
	Amount          decimal.Decimal `json:"amount"`
	State           PaymentState    `json:"state"`
	GatewayResponse string          `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
}

// PaymentMethodType определяет, как проводится платёж
type PaymentMethodType string

const (
	// PaymentMethodIyzipay - карта через 3-D Secure с разделением платежа на суб-мерчанта
	PaymentMethodIyzipay PaymentMethodType = "iyzipay"
	// PaymentMethodOffline - оплата при получении, без обращения к шлюзу
	PaymentMethodOffline PaymentMethodType = "offline"
)

type PaymentMethod struct {
	ID     int64             `json:"id"`
	Name   string            `json:"name"`
	Type   PaymentMethodType `json:"type"`
	Active bool              `json:"active"`
}

// Requires3DS - перед capture нужен внешний редирект
func (m *PaymentMethod) Requires3DS() bool {
	return m.Type == PaymentMethodIyzipay
}

// Card - данные карты, живут только в рамках одного запроса и никогда не сохраняются
type Card struct {
	HolderName  string `json:"name" validate:"required"`
	Number      string `json:"number" validate:"required,numeric,min=12,max=19"`
	Month       int    `json:"month" validate:"required,min=1,max=12"`
	Year        int    `json:"year" validate:"required,min=2000"`
	CVC         string `json:"cvc" validate:"required,numeric,min=3,max=4"`
	CardUserKey string `json:"-"`
	CardToken   string `json:"-"`
}

// Stored - карта сохранена у провайдера и передаётся токенами
func (c *Card) Stored() bool {
	return c.CardToken != ""
}

// StoredCard - сохранённая у провайдера карта пользователя
type StoredCard struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	HolderName  string `json:"name"`
	LastDigits  string `json:"last_digits"`
	CardUserKey string `json:"-"`
	CardToken   string `json:"-"`
}

// GatewayResult - результат обращения к платёжному шлюзу, напрямую не сохраняется.
// Raw - полный ответ провайдера, его вызывающий код кладёт в Payment.GatewayResponse.
type GatewayResult struct {
	Success         bool            `json:"success"`
	Message         string          `json:"message"`
	Raw             json.RawMessage `json:"raw,omitempty"`
	AuthorizationID string          `json:"authorization,omitempty"`
	// RedirectURL заполняется патчером ответа authorize, если провайдер вернул форму 3-D Secure
	RedirectURL string `json:"redirect_url,omitempty"`
	// State - что сохранить в Payment.GatewayResponse после вызова
	State ProviderState `json:"-"`
}
