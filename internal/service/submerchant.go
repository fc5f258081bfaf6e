package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/linemk/market-checkout/internal/domain/models"
	"github.com/linemk/market-checkout/internal/iyzipay"
	"github.com/linemk/market-checkout/internal/storage"
)

const (
	externalIDPrefix = "OFN_"
	// MsgNoSubmerchant - у продавца нет зарегистрированного суб-мерчанта
	MsgNoSubmerchant = "İşletmeye ait Iyzipay Alt Üye İşyeri kaydı bulunamadı"
)

var fieldValidate = newFieldValidator()

// имена полей в ошибках - как у провайдера (json-тег)
func newFieldValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RegistrationRequest - то, что админ вводит поверх данных продавца
type RegistrationRequest struct {
	Type              models.SubmerchantType `json:"sub_merchant_type"`
	IBAN              string                 `json:"iban"`
	TaxOffice         string                 `json:"tax_office,omitempty"`
	LegalCompanyTitle string                 `json:"legal_company_title,omitempty"`
	TaxNumber         string                 `json:"tax_number,omitempty"`
	// FullName заменяет контактное имя продавца для PERSONAL
	FullName string `json:"full_name,omitempty"`
}

type SubmerchantRegistry interface {
	Register(ctx context.Context, vendorID int64, req RegistrationRequest) (*models.SubmerchantAccount, error)
	Submit(ctx context.Context, vendorID int64, sub models.Submission) (*models.SubmerchantAccount, error)
	LookupKey(ctx context.Context, vendorID int64) (string, bool, error)
	Lookup(ctx context.Context, vendorID int64, includingDeleted bool) (*models.SubmerchantAccount, error)
	Delete(ctx context.Context, vendorID int64) error
}

type submerchantRegistry struct {
	log      *slog.Logger
	client   ProviderClient
	repo     storage.SubmerchantStorage
	locale   string
	currency string
}

func NewSubmerchantRegistry(log *slog.Logger, client ProviderClient, repo storage.SubmerchantStorage, locale, currency string) SubmerchantRegistry {
	return &submerchantRegistry{
		log:      log,
		client:   client,
		repo:     repo,
		locale:   locale,
		currency: currency,
	}
}

// NormalizeIBAN убирает все пробельные символы
func NormalizeIBAN(iban string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, iban)
}

// SplitFullName: первое слово - имя, остальные через один пробел - фамилия
func SplitFullName(fullName string) (name, surname string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// BuildSubmission собирает заявку из записи продавца и введённых админом полей
func BuildSubmission(vendor *models.Vendor, req RegistrationRequest) (models.Submission, error) {
	common := models.SubmerchantCommon{
		Name:           vendor.Name,
		Email:          vendor.Email,
		GSMNumber:      vendor.Phone,
		Address:        strings.TrimSpace(vendor.Address1 + " " + vendor.Address2),
		IdentityNumber: vendor.IdentityNumber,
		IBAN:           NormalizeIBAN(req.IBAN),
		ExternalID:     externalIDPrefix + strconv.FormatInt(vendor.ID, 10),
	}

	switch req.Type {
	case models.SubmerchantPersonal:
		fullName := vendor.ContactName
		if req.FullName != "" {
			fullName = req.FullName
		}
		name, surname := SplitFullName(fullName)
		return &models.PersonalSubmission{
			SubmerchantCommon: common,
			ContactName:       name,
			ContactSurname:    surname,
		}, nil
	case models.SubmerchantPrivateCompany:
		return &models.PrivateCompanySubmission{
			SubmerchantCommon: common,
			TaxOffice:         strings.TrimSpace(req.TaxOffice),
			LegalCompanyTitle: req.LegalCompanyTitle,
		}, nil
	case models.SubmerchantLimitedCompany:
		return &models.LimitedCompanySubmission{
			SubmerchantCommon: common,
			TaxOffice:         strings.TrimSpace(req.TaxOffice),
			LegalCompanyTitle: req.LegalCompanyTitle,
			TaxNumber:         strings.TrimSpace(req.TaxNumber),
		}, nil
	default:
		return nil, &ValidationError{Fields: []string{"subMerchantType"}}
	}
}

// ValidateSubmission перечисляет все незаполненные поля
func ValidateSubmission(sub models.Submission) error {
	if sub == nil || !sub.Type().Valid() {
		return &ValidationError{Fields: []string{"subMerchantType"}}
	}
	return validateFields(sub)
}

// validateFields переводит ошибки validator в ValidationError со списком полей
func validateFields(v any) error {
	err := fieldValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fieldPath(fe.Namespace()))
	}
	return &ValidationError{Fields: fields}
}

// fieldPath: "CheckoutAttributes.bill_address.city" -> "bill_address.city";
// встроенные структуры (имя с заглавной) пропускаются
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	path := make([]string, 0, len(parts))
	for _, p := range parts[1:] {
		if p == "" || unicode.IsUpper([]rune(p)[0]) {
			continue
		}
		path = append(path, p)
	}
	return strings.Join(path, ".")
}

func (r *submerchantRegistry) Register(ctx context.Context, vendorID int64, req RegistrationRequest) (*models.SubmerchantAccount, error) {
	const op = "service.SubmerchantRegistry.Register"
	logger := r.log.With(slog.String("op", op), slog.Int64("vendorID", vendorID))

	vendor, err := r.repo.GetVendorByID(ctx, vendorID)
	if err != nil {
		logger.Error("failed to get vendor", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get vendor: %w", op, err)
	}

	sub, err := BuildSubmission(vendor, req)
	if err != nil {
		logger.Warn("invalid submission", slog.Any("error", err))
		return nil, err
	}
	return r.Submit(ctx, vendorID, sub)
}

// Submit проверяет заявку, отправляет провайдеру и сохраняет полученный ключ
func (r *submerchantRegistry) Submit(ctx context.Context, vendorID int64, sub models.Submission) (*models.SubmerchantAccount, error) {
	const op = "service.SubmerchantRegistry.Submit"
	logger := r.log.With(slog.String("op", op), slog.Int64("vendorID", vendorID))

	if err := ValidateSubmission(sub); err != nil {
		logger.Warn("submission validation failed", slog.Any("error", err))
		return nil, err
	}

	resp, err := r.client.CreateSubmerchant(ctx, r.submerchantRequest(sub))
	if err != nil {
		logger.Error("provider call failed", slog.Any("error", err))
		return nil, providerError(op, err)
	}
	if !resp.Succeeded() {
		logger.Warn("provider rejected submerchant",
			slog.String("code", resp.ErrorCode),
			slog.String("group", resp.ErrorGroup),
		)
		return nil, &GatewayError{Code: resp.ErrorCode, Group: resp.ErrorGroup, Message: resp.ErrorMessage}
	}
	if resp.SubMerchantKey == "" {
		return nil, &ProtocolError{Op: op, Err: errors.New("success without subMerchantKey")}
	}

	account := sub.Account(vendorID)
	key := resp.SubMerchantKey
	account.SubmerchantKey = &key
	if err := r.repo.SaveAccount(ctx, account); err != nil {
		logger.Error("failed to save account", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to save account: %w", op, err)
	}

	logger.Info("submerchant registered", slog.Int64("accountID", account.ID))
	return account, nil
}

func (r *submerchantRegistry) submerchantRequest(sub models.Submission) *iyzipay.CreateSubmerchantRequest {
	c := sub.Common()
	req := &iyzipay.CreateSubmerchantRequest{
		Locale:                r.locale,
		ConversationID:        c.ExternalID,
		SubMerchantExternalID: c.ExternalID,
		SubMerchantType:       string(sub.Type()),
		Address:               c.Address,
		Email:                 c.Email,
		GSMNumber:             c.GSMNumber,
		Name:                  c.Name,
		IBAN:                  c.IBAN,
		IdentityNumber:        c.IdentityNumber,
		Currency:              r.currency,
	}

	switch s := sub.(type) {
	case *models.PersonalSubmission:
		req.ContactName = s.ContactName
		req.ContactSurname = s.ContactSurname
	case *models.PrivateCompanySubmission:
		req.LegalCompanyTitle = s.LegalCompanyTitle
		req.TaxOffice = s.TaxOffice
	case *models.LimitedCompanySubmission:
		req.LegalCompanyTitle = s.LegalCompanyTitle
		req.TaxOffice = s.TaxOffice
		req.TaxNumber = s.TaxNumber
	}
	return req
}

// LookupKey возвращает ключ суб-мерчанта по действующей записи; ok == false, если записи нет или ключ пуст
func (r *submerchantRegistry) LookupKey(ctx context.Context, vendorID int64) (string, bool, error) {
	account, err := r.repo.GetAccountByVendorID(ctx, vendorID)
	if err != nil {
		if errors.Is(err, storage.ErrSubmerchantNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("service.SubmerchantRegistry.LookupKey: %w", err)
	}
	if !account.Registered() {
		return "", false, nil
	}
	return *account.SubmerchantKey, true, nil
}

func (r *submerchantRegistry) Lookup(ctx context.Context, vendorID int64, includingDeleted bool) (*models.SubmerchantAccount, error) {
	if includingDeleted {
		return r.repo.GetAccountByVendorIDIncludingDeleted(ctx, vendorID)
	}
	return r.repo.GetAccountByVendorID(ctx, vendorID)
}

func (r *submerchantRegistry) Delete(ctx context.Context, vendorID int64) error {
	const op = "service.SubmerchantRegistry.Delete"
	if err := r.repo.SoftDeleteByVendorID(ctx, vendorID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	r.log.Info("submerchant account deleted", slog.String("op", op), slog.Int64("vendorID", vendorID))
	return nil
}
