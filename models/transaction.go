package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okkarsoft/moneybook_backend/config"
	"github.com/okkarsoft/moneybook_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction is a single-entry income or expense row. FiscalYearId is
// assigned from the transaction date at write time, never by the caller.
type Transaction struct {
	ID           int             `gorm:"primary_key" json:"id"`
	TenantId     string          `gorm:"index;not null" json:"tenant_id"`
	AccountId    int             `gorm:"index;not null" json:"account_id"`
	CategoryId   *int            `gorm:"index" json:"category_id"`
	FiscalYearId int             `gorm:"index;not null" json:"fiscal_year_id"`
	TransactionType TransactionType `gorm:"type:enum('income','expense');size:10;not null;index" json:"transaction_type"`

	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	TransactionDate time.Time       `gorm:"type:date;index;not null" json:"transaction_date"`
	Description     string          `gorm:"size:500" json:"description"`
	ReferenceNumber string          `gorm:"size:100" json:"reference_number"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	CreatedBy int       `json:"created_by"`
}

type NewTransaction struct {
	AccountId       int             `json:"account_id" binding:"required"`
	CategoryId      *int            `json:"category_id"`
	TransactionType TransactionType `json:"transaction_type" binding:"required,transactiontype"`
	Amount          decimal.Decimal `json:"amount" binding:"required"`
	TransactionDate time.Time       `json:"transaction_date" binding:"required"`
	Description     string          `json:"description"`
	ReferenceNumber string          `json:"reference_number"`
}

type UpdateTransactionInput struct {
	AccountId       *int             `json:"account_id"`
	CategoryId      *int             `json:"category_id"`
	TransactionType *TransactionType `json:"transaction_type"`
	Amount          *decimal.Decimal `json:"amount"`
	TransactionDate *time.Time       `json:"transaction_date"`
	Description     *string          `json:"description"`
	ReferenceNumber *string          `json:"reference_number"`
}

type TransactionFilter struct {
	AccountId       int             `form:"account_id"`
	CategoryId      int             `form:"category_id"`
	FiscalYearId    int             `form:"fiscal_year_id"`
	TransactionType TransactionType `form:"transaction_type"`
	StartDate       *time.Time      `form:"start_date"`
	EndDate         *time.Time      `form:"end_date"`
	MinAmount       string          `form:"min_amount"`
	MaxAmount       string          `form:"max_amount"`
	Limit           int             `form:"limit"`
	Offset          int             `form:"offset"`
}

// TxnYearAccountSum is one row of the grouped income/expense aggregation
// the cascade folds over.
type TxnYearAccountSum struct {
	FiscalYearId int
	AccountId    int
	TotalIncome  decimal.Decimal
	TotalExpense decimal.Decimal
	TxnCount     int
}

func GetTransactions(ctx context.Context, filter *TransactionFilter) ([]*Transaction, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	query := db.WithContext(ctx).Where("tenant_id = ?", tenantId)
	if filter.AccountId > 0 {
		query = query.Where("account_id = ?", filter.AccountId)
	}
	if filter.CategoryId > 0 {
		query = query.Where("category_id = ?", filter.CategoryId)
	}
	if filter.FiscalYearId > 0 {
		query = query.Where("fiscal_year_id = ?", filter.FiscalYearId)
	}
	if filter.TransactionType != "" {
		query = query.Where("transaction_type = ?", filter.TransactionType)
	}
	if filter.StartDate != nil {
		query = query.Where("transaction_date >= ?", utils.DateOnly(*filter.StartDate))
	}
	if filter.EndDate != nil {
		query = query.Where("transaction_date <= ?", utils.DateOnly(*filter.EndDate))
	}
	if filter.MinAmount != "" {
		min, err := utils.ParseDecimal(filter.MinAmount)
		if err != nil {
			return nil, fmt.Errorf("%w: min_amount: %v", utils.ErrorValidationFailed, err)
		}
		query = query.Where("amount >= ?", min)
	}
	if filter.MaxAmount != "" {
		max, err := utils.ParseDecimal(filter.MaxAmount)
		if err != nil {
			return nil, fmt.Errorf("%w: max_amount: %v", utils.ErrorValidationFailed, err)
		}
		query = query.Where("amount <= ?", max)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}

	var results []*Transaction
	err := query.Order("transaction_date DESC, id DESC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func GetTransaction(ctx context.Context, id int) (*Transaction, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	return utils.FetchModel[Transaction](ctx, tenantId, id)
}

// GetTransactionById2 fetches one row on an explicit handle.
func GetTransactionById2(tx *gorm.DB, tenantId string, id int) (*Transaction, error) {
	var txn Transaction
	err := tx.Where("tenant_id = ?", tenantId).First(&txn, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// SumTransactionsByYearAccount aggregates income/expense totals grouped by
// (fiscal year, account). This single query feeds the whole cascade; the
// fold never re-reads individual transaction rows.
func SumTransactionsByYearAccount(tx *gorm.DB, tenantId string, yearIds []int) ([]*TxnYearAccountSum, error) {
	var sums []*TxnYearAccountSum
	err := tx.Raw(`
		SELECT
			fiscal_year_id,
			account_id,
			COALESCE(SUM(CASE WHEN transaction_type = 'income' THEN amount ELSE 0 END), 0) AS total_income,
			COALESCE(SUM(CASE WHEN transaction_type = 'expense' THEN amount ELSE 0 END), 0) AS total_expense,
			COUNT(id) AS txn_count
		FROM transactions
		WHERE tenant_id = ? AND fiscal_year_id IN ?
		GROUP BY fiscal_year_id, account_id
	`, tenantId, yearIds).Scan(&sums).Error
	if err != nil {
		return nil, err
	}
	return sums, nil
}

// CountUncategorizedTransactions counts a year's rows with no category.
// A closing run refuses to proceed while any exist.
func CountUncategorizedTransactions(tx *gorm.DB, tenantId string, fiscalYearId int) (int64, error) {
	var count int64
	err := tx.Model(&Transaction{}).
		Where("tenant_id = ? AND fiscal_year_id = ? AND category_id IS NULL", tenantId, fiscalYearId).
		Count(&count).Error
	return count, err
}

func CountYearTransactions(tx *gorm.DB, tenantId string, fiscalYearId int) (int64, error) {
	var count int64
	err := tx.Model(&Transaction{}).
		Where("tenant_id = ? AND fiscal_year_id = ?", tenantId, fiscalYearId).
		Count(&count).Error
	return count, err
}

// SignedAmount is the transaction's effect on its account balance.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.TransactionType == TransactionTypeExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}
