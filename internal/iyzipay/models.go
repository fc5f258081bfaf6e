package iyzipay

import (
	"encoding/json"
	"fmt"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"

	PaymentChannelWeb    = "WEB"
	PaymentGroupProduct  = "PRODUCT"
	BasketItemPhysical   = "PHYSICAL"
	DefaultInstallment   = 1
	RegisterCardDisabled = 0
)

// Response - общий конверт всех ответов провайдера
type Response struct {
	Status         string `json:"status"`
	ErrorCode      string `json:"errorCode,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	ErrorGroup     string `json:"errorGroup,omitempty"`
	Locale         string `json:"locale,omitempty"`
	SystemTime     int64  `json:"systemTime,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`

	raw json.RawMessage
}

// StatusCode - mdStatus приходит то строкой, то числом
type StatusCode string

func (c *StatusCode) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = StatusCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("status code: %w", err)
	}
	*c = StatusCode(n.String())
	return nil
}

func (c StatusCode) String() string { return string(c) }

func (r *Response) Succeeded() bool { return r.Status == StatusSuccess }

// Raw - тело ответа без изменений, как его вернул провайдер
func (r *Response) Raw() json.RawMessage { return r.raw }

func (r *Response) envelope() *Response { return r }

func (r *Response) setRaw(raw json.RawMessage) { r.raw = raw }

type enveloped interface {
	envelope() *Response
	setRaw(json.RawMessage)
}

type CreateSubmerchantRequest struct {
	Locale                string `json:"locale"`
	ConversationID        string `json:"conversationId"`
	SubMerchantExternalID string `json:"subMerchantExternalId"`
	SubMerchantType       string `json:"subMerchantType"`
	Address               string `json:"address"`
	Email                 string `json:"email"`
	GSMNumber             string `json:"gsmNumber,omitempty"`
	Name                  string `json:"name,omitempty"`
	IBAN                  string `json:"iban"`
	IdentityNumber        string `json:"identityNumber"`
	Currency              string `json:"currency"`
	ContactName           string `json:"contactName,omitempty"`
	ContactSurname        string `json:"contactSurname,omitempty"`
	LegalCompanyTitle     string `json:"legalCompanyTitle,omitempty"`
	TaxOffice             string `json:"taxOffice,omitempty"`
	TaxNumber             string `json:"taxNumber,omitempty"`
}

type SubmerchantResponse struct {
	Response
	SubMerchantKey string `json:"subMerchantKey,omitempty"`
}

type PaymentCard struct {
	CardHolderName string `json:"cardHolderName,omitempty"`
	CardNumber     string `json:"cardNumber,omitempty"`
	ExpireYear     string `json:"expireYear,omitempty"`
	ExpireMonth    string `json:"expireMonth,omitempty"`
	CVC            string `json:"cvc,omitempty"`
	RegisterCard   int    `json:"registerCard"`
	CardUserKey    string `json:"cardUserKey,omitempty"`
	CardToken      string `json:"cardToken,omitempty"`
}

type Buyer struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Surname             string `json:"surname"`
	IdentityNumber      string `json:"identityNumber"`
	Email               string `json:"email"`
	GSMNumber           string `json:"gsmNumber"`
	RegistrationDate    string `json:"registrationDate"`
	LastLoginDate       string `json:"lastLoginDate"`
	RegistrationAddress string `json:"registrationAddress"`
	City                string `json:"city"`
	Country             string `json:"country"`
	ZipCode             string `json:"zipCode"`
	IP                  string `json:"ip"`
}

type Address struct {
	Address     string `json:"address"`
	ZipCode     string `json:"zipCode"`
	ContactName string `json:"contactName"`
	City        string `json:"city"`
	Country     string `json:"country"`
}

type BasketItem struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Category1        string `json:"category1"`
	ItemType         string `json:"itemType"`
	Price            string `json:"price"`
	SubMerchantPrice string `json:"subMerchantPrice"`
	SubMerchantKey   string `json:"subMerchantKey"`
}

// ThreeDSInitializeRequest - price и paidPrice провайдер требует одинаковыми
type ThreeDSInitializeRequest struct {
	Locale          string       `json:"locale"`
	ConversationID  string       `json:"conversationId"`
	Price           string       `json:"price"`
	PaidPrice       string       `json:"paidPrice"`
	Installment     int          `json:"installment"`
	PaymentChannel  string       `json:"paymentChannel"`
	BasketID        string       `json:"basketId"`
	PaymentGroup    string       `json:"paymentGroup"`
	CallbackURL     string       `json:"callbackUrl"`
	Currency        string       `json:"currency"`
	PaymentCard     PaymentCard  `json:"paymentCard"`
	Buyer           Buyer        `json:"buyer"`
	BillingAddress  Address      `json:"billingAddress"`
	ShippingAddress Address      `json:"shippingAddress"`
	BasketItems     []BasketItem `json:"basketItems"`
}

type ThreeDSInitializeResponse struct {
	Response
	ThreeDSHTMLContent string     `json:"threeDSHtmlContent,omitempty"`
	PaymentID          string     `json:"paymentId,omitempty"`
	MDStatus           StatusCode `json:"mdStatus,omitempty"`
}

type ThreeDSAuthRequest struct {
	Locale           string `json:"locale"`
	ConversationID   string `json:"conversationId"`
	PaymentID        string `json:"paymentId"`
	ConversationData string `json:"conversationData,omitempty"`
}

// ItemTransaction - суммы провайдер отдаёт числами
type ItemTransaction struct {
	ItemID               string      `json:"itemId"`
	PaymentTransactionID string      `json:"paymentTransactionId"`
	TransactionStatus    int         `json:"transactionStatus"`
	Price                json.Number `json:"price"`
	PaidPrice            json.Number `json:"paidPrice"`
	SubMerchantKey       string      `json:"subMerchantKey,omitempty"`
	SubMerchantPrice     json.Number `json:"subMerchantPrice,omitempty"`
}

// PaymentResponse - ответ 3-D Secure auth (confirm)
type PaymentResponse struct {
	Response
	PaymentID        string            `json:"paymentId,omitempty"`
	Price            json.Number       `json:"price,omitempty"`
	PaidPrice        json.Number       `json:"paidPrice,omitempty"`
	Currency         string            `json:"currency,omitempty"`
	MDStatus         StatusCode        `json:"mdStatus,omitempty"`
	ConversationData string            `json:"conversationData,omitempty"`
	ItemTransactions []ItemTransaction `json:"itemTransactions,omitempty"`
}

type ApprovalRequest struct {
	Locale               string `json:"locale"`
	ConversationID       string `json:"conversationId"`
	PaymentTransactionID string `json:"paymentTransactionId"`
}

type ApprovalResponse struct {
	Response
	PaymentTransactionID string `json:"paymentTransactionId,omitempty"`
}

type CancelRequest struct {
	Locale         string `json:"locale"`
	ConversationID string `json:"conversationId"`
	PaymentID      string `json:"paymentId"`
	IP             string `json:"ip,omitempty"`
}

type CancelResponse struct {
	Response
	PaymentID string      `json:"paymentId,omitempty"`
	Price     json.Number `json:"price,omitempty"`
	Currency  string      `json:"currency,omitempty"`
}

type RefundRequest struct {
	Locale               string `json:"locale"`
	ConversationID       string `json:"conversationId"`
	PaymentTransactionID string `json:"paymentTransactionId"`
	Price                string `json:"price"`
	Currency             string `json:"currency"`
	IP                   string `json:"ip,omitempty"`
}

type RefundResponse struct {
	Response
	PaymentID            string      `json:"paymentId,omitempty"`
	PaymentTransactionID string      `json:"paymentTransactionId,omitempty"`
	Price                json.Number `json:"price,omitempty"`
}
