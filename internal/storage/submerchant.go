package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/linemk/market-checkout/internal/domain/models"
)

var (
	ErrSubmerchantNotFound = errors.New("submerchant account not found")
	ErrVendorNotFound      = errors.New("vendor not found")
)

// SubmerchantStorage - учётные записи суб-мерчантов продавцов.
// По умолчанию мягко удалённые записи не возвращаются.
type SubmerchantStorage interface {
	// SaveAccount мягко удаляет прежнюю запись продавца и сохраняет новую в одной транзакции.
	SaveAccount(ctx context.Context, account *models.SubmerchantAccount) error
	GetAccountByVendorID(ctx context.Context, vendorID int64) (*models.SubmerchantAccount, error)
	// GetAccountByVendorIDIncludingDeleted - для аудита, последняя запись независимо от удаления.
	GetAccountByVendorIDIncludingDeleted(ctx context.Context, vendorID int64) (*models.SubmerchantAccount, error)
	SoftDeleteByVendorID(ctx context.Context, vendorID int64) error
	GetVendorByID(ctx context.Context, id int64) (*models.Vendor, error)
}

type submerchantRepository struct {
	db *sql.DB
}

func NewSubmerchantRepository(db *sql.DB) SubmerchantStorage {
	return &submerchantRepository{db: db}
}

const selectAccount = `
		SELECT id, vendor_id, sub_merchant_type, name, email, gsm_number, address, identity_number, iban,
		       external_id, contact_name, contact_surname, tax_office, legal_company_title, tax_number,
		       submerchant_key, created_at, deleted_at
		FROM submerchant_accounts`

func (r *submerchantRepository) SaveAccount(ctx context.Context, a *models.SubmerchantAccount) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"UPDATE submerchant_accounts SET deleted_at = NOW() WHERE vendor_id = $1 AND deleted_at IS NULL", a.VendorID); err != nil {
		return fmt.Errorf("failed to retire previous account: %w", err)
	}

	query := `
		INSERT INTO submerchant_accounts (vendor_id, sub_merchant_type, name, email, gsm_number, address,
		    identity_number, iban, external_id, contact_name, contact_surname, tax_office,
		    legal_company_title, tax_number, submerchant_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
		RETURNING id, created_at`
	err = tx.QueryRowContext(ctx, query,
		a.VendorID, a.Type, a.Name, a.Email, a.GSMNumber, a.Address, a.IdentityNumber, a.IBAN, a.ExternalID,
		a.ContactName, a.ContactSurname, a.TaxOffice, a.LegalCompanyTitle, a.TaxNumber, a.SubmerchantKey,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert submerchant account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *submerchantRepository) GetAccountByVendorID(ctx context.Context, vendorID int64) (*models.SubmerchantAccount, error) {
	return r.scanAccount(r.db.QueryRowContext(ctx,
		selectAccount+" WHERE vendor_id = $1 AND deleted_at IS NULL ORDER BY id DESC LIMIT 1", vendorID))
}

func (r *submerchantRepository) GetAccountByVendorIDIncludingDeleted(ctx context.Context, vendorID int64) (*models.SubmerchantAccount, error) {
	return r.scanAccount(r.db.QueryRowContext(ctx,
		selectAccount+" WHERE vendor_id = $1 ORDER BY id DESC LIMIT 1", vendorID))
}

func (r *submerchantRepository) scanAccount(row *sql.Row) (*models.SubmerchantAccount, error) {
	a := &models.SubmerchantAccount{}
	err := row.Scan(&a.ID, &a.VendorID, &a.Type, &a.Name, &a.Email, &a.GSMNumber, &a.Address, &a.IdentityNumber,
		&a.IBAN, &a.ExternalID, &a.ContactName, &a.ContactSurname, &a.TaxOffice, &a.LegalCompanyTitle,
		&a.TaxNumber, &a.SubmerchantKey, &a.CreatedAt, &a.DeletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubmerchantNotFound
		}
		return nil, err
	}
	return a, nil
}

func (r *submerchantRepository) SoftDeleteByVendorID(ctx context.Context, vendorID int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE submerchant_accounts SET deleted_at = NOW() WHERE vendor_id = $1 AND deleted_at IS NULL", vendorID)
	if err != nil {
		return fmt.Errorf("failed to delete submerchant account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSubmerchantNotFound
	}
	return nil
}

func (r *submerchantRepository) GetVendorByID(ctx context.Context, id int64) (*models.Vendor, error) {
	v := &models.Vendor{}
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, email, phone, contact_name, address1, address2, identity_number FROM vendors WHERE id = $1", id)
	if err := row.Scan(&v.ID, &v.Name, &v.Email, &v.Phone, &v.ContactName, &v.Address1, &v.Address2, &v.IdentityNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVendorNotFound
		}
		return nil, err
	}
	return v, nil
}
