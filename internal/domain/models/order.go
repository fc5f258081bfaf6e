package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderState - шаг линейной машины состояний оформления заказа
type OrderState string

const (
	StateAddressEntry      OrderState = "address"
	StateDeliverySelection OrderState = "delivery"
	StatePaymentSelection  OrderState = "payment"
	StateConfirmation      OrderState = "confirm"
	StateComplete          OrderState = "complete"
)

var checkoutSteps = []OrderState{
	StateAddressEntry,
	StateDeliverySelection,
	StatePaymentSelection,
	StateConfirmation,
	StateComplete,
}

// Next возвращает следующий шаг; для Complete и неизвестных состояний ok == false
func (s OrderState) Next() (OrderState, bool) {
	for i, step := range checkoutSteps {
		if step == s && i+1 < len(checkoutSteps) {
			return checkoutSteps[i+1], true
		}
	}
	return s, false
}

func (s OrderState) Valid() bool {
	for _, step := range checkoutSteps {
		if step == s {
			return true
		}
	}
	return false
}

// Order представляет заказ покупателя у одного продавца (дистрибьютора)
type Order struct {
	ID               int64           `json:"id"`
	Number           string          `json:"number"`
	UserID           int64           `json:"user_id"`
	DistributorID    int64           `json:"distributor_id"`
	Email            string          `json:"email"`
	State            OrderState      `json:"state"`
	Version          int64           `json:"version"` // счётчик оптимистичной блокировки
	Total            decimal.Decimal `json:"total"`
	ShippingMethodID *int64          `json:"shipping_method_id,omitempty"`
	BillAddress      *Address        `json:"bill_address,omitempty"`
	ShipAddress      *Address        `json:"ship_address,omitempty"`
	LineItems        []LineItem      `json:"line_items"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Completed сообщает, что заказ уже оформлен, независимо от поля State
func (o *Order) Completed() bool {
	return o.State == StateComplete || o.CompletedAt != nil
}

// LineItem - позиция заказа
type LineItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	VariantID int64           `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// Address хранится в заказе как JSONB
type Address struct {
	FirstName string `json:"firstname" validate:"required"`
	LastName  string `json:"lastname" validate:"required"`
	Address1  string `json:"address1" validate:"required"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city" validate:"required"`
	Zipcode   string `json:"zipcode,omitempty"`
	Country   string `json:"country" validate:"required"`
	Phone     string `json:"phone" validate:"required"`
}

func (a *Address) FullName() string {
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

// Value реализует driver.Valuer
func (a *Address) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan реализует sql.Scanner
func (a *Address) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return errors.New("address: unsupported scan source")
	}
}
