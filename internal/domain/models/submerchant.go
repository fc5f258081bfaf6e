package models

import "time"

// SubmerchantType - тип суб-мерчанта у провайдера
type SubmerchantType string

const (
	SubmerchantPersonal       SubmerchantType = "PERSONAL"
	SubmerchantPrivateCompany SubmerchantType = "PRIVATE_COMPANY"
	SubmerchantLimitedCompany SubmerchantType = "LIMITED_OR_JOINT_STOCK_COMPANY"
)

func (t SubmerchantType) Valid() bool {
	switch t {
	case SubmerchantPersonal, SubmerchantPrivateCompany, SubmerchantLimitedCompany:
		return true
	}
	return false
}

// SubmerchantAccount - регистрация продавца у провайдера.
// Пригоден для разделения платежа только когда SubmerchantKey != nil.
type SubmerchantAccount struct {
	ID                int64           `json:"id"`
	VendorID          int64           `json:"vendor_id"`
	Type              SubmerchantType `json:"sub_merchant_type"`
	Name              string          `json:"name"`
	Email             string          `json:"email"`
	GSMNumber         string          `json:"gsm_number"`
	Address           string          `json:"address"`
	IdentityNumber    string          `json:"identity_number"`
	IBAN              string          `json:"iban"`
	ExternalID        string          `json:"sub_merchant_external_id"`
	ContactName       string          `json:"contact_name,omitempty"`
	ContactSurname    string          `json:"contact_surname,omitempty"`
	TaxOffice         string          `json:"tax_office,omitempty"`
	LegalCompanyTitle string          `json:"legal_company_title,omitempty"`
	TaxNumber         string          `json:"tax_number,omitempty"`
	SubmerchantKey    *string         `json:"submerchant_key,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	DeletedAt         *time.Time      `json:"deleted_at,omitempty"`
}

func (a *SubmerchantAccount) Registered() bool {
	return a.SubmerchantKey != nil && *a.SubmerchantKey != ""
}

// SubmerchantCommon - поля, общие для всех типов заявки
type SubmerchantCommon struct {
	Name           string `json:"name"`
	Email          string `json:"email" validate:"required"`
	GSMNumber      string `json:"gsmNumber"`
	Address        string `json:"address" validate:"required"`
	IdentityNumber string `json:"identityNumber" validate:"required"`
	IBAN           string `json:"iban" validate:"required"`
	ExternalID     string `json:"subMerchantExternalId" validate:"required"`
}

// Submission - заявка на регистрацию суб-мерчанта; реализации различаются по типу
type Submission interface {
	Type() SubmerchantType
	Common() *SubmerchantCommon
	// Account собирает запись для сохранения (без ключа)
	Account(vendorID int64) *SubmerchantAccount
}

type PersonalSubmission struct {
	SubmerchantCommon
	ContactName    string `json:"contactName" validate:"required"`
	ContactSurname string `json:"contactSurname" validate:"required"`
}

type PrivateCompanySubmission struct {
	SubmerchantCommon
	TaxOffice         string `json:"taxOffice" validate:"required"`
	LegalCompanyTitle string `json:"legalCompanyTitle" validate:"required"`
}

type LimitedCompanySubmission struct {
	SubmerchantCommon
	TaxOffice         string `json:"taxOffice" validate:"required"`
	LegalCompanyTitle string `json:"legalCompanyTitle" validate:"required"`
	TaxNumber         string `json:"taxNumber" validate:"required"`
}

func (s *PersonalSubmission) Type() SubmerchantType { return SubmerchantPersonal }

func (s *PersonalSubmission) Common() *SubmerchantCommon { return &s.SubmerchantCommon }

func (s *PrivateCompanySubmission) Type() SubmerchantType { return SubmerchantPrivateCompany }

func (s *PrivateCompanySubmission) Common() *SubmerchantCommon { return &s.SubmerchantCommon }

func (s *LimitedCompanySubmission) Type() SubmerchantType { return SubmerchantLimitedCompany }

func (s *LimitedCompanySubmission) Common() *SubmerchantCommon { return &s.SubmerchantCommon }

func (s *PersonalSubmission) Account(vendorID int64) *SubmerchantAccount {
	a := baseAccount(vendorID, s.Type(), &s.SubmerchantCommon)
	a.ContactName = s.ContactName
	a.ContactSurname = s.ContactSurname
	return a
}

func (s *PrivateCompanySubmission) Account(vendorID int64) *SubmerchantAccount {
	a := baseAccount(vendorID, s.Type(), &s.SubmerchantCommon)
	a.TaxOffice = s.TaxOffice
	a.LegalCompanyTitle = s.LegalCompanyTitle
	return a
}

func (s *LimitedCompanySubmission) Account(vendorID int64) *SubmerchantAccount {
	a := baseAccount(vendorID, s.Type(), &s.SubmerchantCommon)
	a.TaxOffice = s.TaxOffice
	a.LegalCompanyTitle = s.LegalCompanyTitle
	a.TaxNumber = s.TaxNumber
	return a
}

func baseAccount(vendorID int64, t SubmerchantType, c *SubmerchantCommon) *SubmerchantAccount {
	return &SubmerchantAccount{
		VendorID:       vendorID,
		Type:           t,
		Name:           c.Name,
		Email:          c.Email,
		GSMNumber:      c.GSMNumber,
		Address:        c.Address,
		IdentityNumber: c.IdentityNumber,
		IBAN:           c.IBAN,
		ExternalID:     c.ExternalID,
	}
}
