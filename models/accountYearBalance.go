package models

import (
	"context"
	"errors"
	"time"

	"github.com/okkarsoft/moneybook_backend/config"
	"github.com/okkarsoft/moneybook_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountYearBalance is the per-account balance snapshot of one financial
// year. It is the persisted result of a cascade recalculation and the
// carrier of the opening-balance chain: a year's closing balance equals the
// next year's opening balance for the same account.
type AccountYearBalance struct {
	ID              int    `gorm:"primary_key" json:"id"`
	TenantId        string `gorm:"index;not null" json:"tenant_id"`
	FinancialYearId int    `gorm:"not null;uniqueIndex:idx_year_account" json:"financial_year_id"`
	AccountId       int    `gorm:"not null;uniqueIndex:idx_year_account" json:"account_id"`

	OpeningBalance decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"opening_balance"`
	ClosingBalance decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"closing_balance"`
	TotalIncome    decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_income"`
	TotalExpense   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_expense"`

	TransactionCount int  `gorm:"not null;default:0" json:"transaction_count"`
	IsFinal          bool `gorm:"not null;default:false" json:"is_final"`

	LastRecalculatedAt *time.Time `json:"last_recalculated_at"`
	RecalculationCount int        `gorm:"not null;default:0" json:"recalculation_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AccountYearBalanceView joins in the account name for API listing.
type AccountYearBalanceView struct {
	AccountYearBalance
	AccountName string           `json:"account_name"`
	AccountType MoneyAccountType `json:"account_type"`
}

func (ayb *AccountYearBalance) NetChange() decimal.Decimal {
	return ayb.TotalIncome.Sub(ayb.TotalExpense)
}

// GetYearBalances lists the snapshot rows of one year with account names,
// ordered by account name for stable display.
func GetYearBalances(ctx context.Context, financialYearId int) ([]*AccountYearBalanceView, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	if err := utils.ValidateResourceId[FinancialYear](ctx, tenantId, financialYearId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var results []*AccountYearBalanceView
	err := db.WithContext(ctx).Model(&AccountYearBalance{}).
		Select("account_year_balances.*, money_accounts.account_name AS account_name, money_accounts.account_type AS account_type").
		Joins("JOIN money_accounts ON money_accounts.id = account_year_balances.account_id").
		Where("account_year_balances.tenant_id = ? AND account_year_balances.financial_year_id = ?", tenantId, financialYearId).
		Order("money_accounts.account_name ASC").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetYearBalances2 loads the raw snapshot rows of a set of years on an
// explicit handle, keyed for cascade work.
func GetYearBalances2(tx *gorm.DB, tenantId string, yearIds []int) (map[int]map[int]*AccountYearBalance, error) {
	var rows []*AccountYearBalance
	err := tx.
		Where("tenant_id = ? AND financial_year_id IN ?", tenantId, yearIds).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make(map[int]map[int]*AccountYearBalance)
	for _, row := range rows {
		perAccount, ok := result[row.FinancialYearId]
		if !ok {
			perAccount = make(map[int]*AccountYearBalance)
			result[row.FinancialYearId] = perAccount
		}
		perAccount[row.AccountId] = row
	}
	return result, nil
}

// UpsertYearBalance writes one snapshot row, keyed by (year, account).
func UpsertYearBalance(tx *gorm.DB, row *AccountYearBalance) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "financial_year_id"}, {Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"opening_balance", "closing_balance", "total_income", "total_expense",
			"transaction_count", "is_final", "last_recalculated_at", "recalculation_count",
			"updated_at",
		}),
	}).Create(row).Error
}

// FreezeYearBalances marks every snapshot row of a year final.
func FreezeYearBalances(tx *gorm.DB, tenantId string, financialYearId int) error {
	return tx.Model(&AccountYearBalance{}).
		Where("tenant_id = ? AND financial_year_id = ?", tenantId, financialYearId).
		Update("is_final", true).Error
}
