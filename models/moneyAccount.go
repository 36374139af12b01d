package models

import (
	"context"
	"errors"
	"time"

	"github.com/okkarsoft/moneybook_backend/config"
	"github.com/okkarsoft/moneybook_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type MoneyAccount struct {
	ID            int              `gorm:"primary_key" json:"id"`
	TenantId      string           `gorm:"index;not null" json:"tenant_id"`
	AccountType   MoneyAccountType `gorm:"type:enum('cash','bank','mobile_money','other');default:'cash';size:15;not null" json:"account_type" binding:"required"`
	AccountName   string           `gorm:"index;size:100;not null" json:"account_name" binding:"required"`
	AccountNumber string           `gorm:"size:50" json:"account_number"`
	BankName      string           `gorm:"size:100" json:"bank_name"`
	// OpeningBalance seeds the very first financial year of the account.
	// Later years inherit their opening from the previous year's closing.
	OpeningBalance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"opening_balance"`
	CurrentBalance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_balance"`
	Description    string          `gorm:"type:text" json:"description"`
	IsActive       *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMoneyAccount struct {
	AccountType    MoneyAccountType `json:"account_type" binding:"required,accounttype"`
	AccountName    string           `json:"account_name" binding:"required"`
	AccountNumber  string           `json:"account_number"`
	BankName       string           `json:"bank_name"`
	OpeningBalance decimal.Decimal  `json:"opening_balance"`
	Description    string           `json:"description"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewMoneyAccount) validate(ctx context.Context, tenantId string, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[MoneyAccount](ctx, tenantId, id); err != nil {
			return err
		}
	}
	if !input.AccountType.Valid() {
		return errors.New("invalid account type")
	}
	// name
	if err := utils.ValidateUnique[MoneyAccount](ctx, tenantId, "account_name", input.AccountName, id); err != nil {
		return err
	}
	return nil
}

func CreateMoneyAccount(ctx context.Context, input *NewMoneyAccount) (*MoneyAccount, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	if err := input.validate(ctx, tenantId, 0); err != nil {
		return nil, err
	}
	account := MoneyAccount{
		TenantId:       tenantId,
		AccountType:    input.AccountType,
		AccountName:    input.AccountName,
		AccountNumber:  input.AccountNumber,
		BankName:       input.BankName,
		OpeningBalance: input.OpeningBalance,
		CurrentBalance: input.OpeningBalance,
		Description:    input.Description,
		IsActive:       utils.NewTrue(),
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func UpdateMoneyAccount(ctx context.Context, id int, input *NewMoneyAccount) (*MoneyAccount, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	if err := input.validate(ctx, tenantId, id); err != nil {
		return nil, err
	}

	account, err := utils.FetchModel[MoneyAccount](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	// db action. OpeningBalance is deliberately not editable here: changing it
	// invalidates every year's balance chain and must go through recalculation.
	err = db.WithContext(ctx).Model(&account).Updates(map[string]interface{}{
		"AccountType":   input.AccountType,
		"AccountName":   input.AccountName,
		"AccountNumber": input.AccountNumber,
		"BankName":      input.BankName,
		"Description":   input.Description,
	}).Error
	if err != nil {
		return nil, err
	}
	return account, nil
}

func DeleteMoneyAccount(ctx context.Context, id int) (*MoneyAccount, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	result, err := utils.FetchModel[MoneyAccount](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	// Do not delete if any transaction references this account.
	count, err := utils.ResourceCountWhere[Transaction](ctx, tenantId, "account_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("account has transactions")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Delete(&result).Error
	if err != nil {
		return nil, err
	}

	return result, nil
}

func GetMoneyAccount(ctx context.Context, id int) (*MoneyAccount, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	return utils.FetchModel[MoneyAccount](ctx, tenantId, id)
}

func GetMoneyAccounts(ctx context.Context, accountType *string, accountName *string) ([]*MoneyAccount, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var results []*MoneyAccount
	dbCtx := db.WithContext(ctx).Where("tenant_id = ?", tenantId)
	if accountType != nil && len(*accountType) > 0 {
		dbCtx = dbCtx.Where("account_type = ?", accountType)
	}
	if accountName != nil && len(*accountName) > 0 {
		dbCtx = dbCtx.Where("account_name LIKE ?", "%"+*accountName+"%")
	}
	err := dbCtx.Order("account_name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetAllMoneyAccounts2 loads every account of the tenant on an explicit
// handle, ordered by id for deterministic iteration.
func GetAllMoneyAccounts2(tx *gorm.DB, tenantId string) ([]*MoneyAccount, error) {
	var results []*MoneyAccount
	err := tx.Where("tenant_id = ?", tenantId).Order("id ASC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func ToggleActiveMoneyAccount(ctx context.Context, id int, isActive bool) (*MoneyAccount, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	account, err := utils.FetchModel[MoneyAccount](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&account).Update("is_active", isActive).Error
	if err != nil {
		return nil, err
	}
	return account, nil
}
