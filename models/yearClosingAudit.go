package models

import (
	"context"
	"errors"
	"time"

	"github.com/okkarsoft/moneybook_backend/config"
	"github.com/okkarsoft/moneybook_backend/utils"
	"gorm.io/gorm"
)

// YearClosingAudit is an append-only record of closing-workflow actions.
// Rows are never updated or deleted; the balance snapshot is the frozen
// JSON state captured when the action ran.
type YearClosingAudit struct {
	ID              int               `gorm:"primary_key" json:"id"`
	TenantId        string            `gorm:"index;not null" json:"tenant_id"`
	FinancialYearId int               `gorm:"index;not null" json:"financial_year_id"`
	Action          YearClosingAction `gorm:"type:enum('close','reopen','recalculate');size:20;not null" json:"action"`

	BalanceSnapshot string `gorm:"type:text" json:"balance_snapshot"`
	Reason          string `gorm:"size:500" json:"reason"`

	TotalAccounts     int `gorm:"not null;default:0" json:"total_accounts"`
	TotalTransactions int `gorm:"not null;default:0" json:"total_transactions"`

	PerformedBy   int       `json:"performed_by"`
	PerformedName string    `gorm:"size:100" json:"performed_name"`
	PerformedAt   time.Time `gorm:"autoCreateTime" json:"performed_at"`
}

// CreateYearClosingAudit appends an audit row inside the caller's
// transaction. Actor identity comes from the transaction context.
func CreateYearClosingAudit(tx *gorm.DB, audit *YearClosingAudit) error {
	ctx := tx.Statement.Context
	if audit.TenantId == "" {
		audit.TenantId, _ = utils.GetTenantIdFromContext(ctx)
	}
	if audit.PerformedBy == 0 {
		audit.PerformedBy, _ = utils.GetUserIdFromContext(ctx)
	}
	if audit.PerformedName == "" {
		audit.PerformedName, _ = utils.GetUserNameFromContext(ctx)
	}
	return tx.Create(audit).Error
}

// GetYearClosingAudits lists a year's audit rows, most recent first.
func GetYearClosingAudits(ctx context.Context, financialYearId int) ([]*YearClosingAudit, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	if err := utils.ValidateResourceId[FinancialYear](ctx, tenantId, financialYearId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var results []*YearClosingAudit
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND financial_year_id = ?", tenantId, financialYearId).
		Order("performed_at DESC, id DESC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
