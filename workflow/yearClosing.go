package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okkarsoft/moneybook_backend/config"
	"github.com/okkarsoft/moneybook_backend/models"
	"github.com/okkarsoft/moneybook_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AccountClosingSummary is one account's line in a closing validation or
// balance snapshot.
type AccountClosingSummary struct {
	AccountId        int             `json:"account_id"`
	AccountName      string          `json:"account_name"`
	OpeningBalance   decimal.Decimal `json:"opening_balance"`
	ClosingBalance   decimal.Decimal `json:"closing_balance"`
	TotalIncome      decimal.Decimal `json:"total_income"`
	TotalExpense     decimal.Decimal `json:"total_expense"`
	NetChange        decimal.Decimal `json:"net_change"`
	TransactionCount int             `json:"transaction_count"`
}

// YearClosingValidation reports whether a year can be closed and why not.
type YearClosingValidation struct {
	CanClose                  bool                    `json:"can_close"`
	UncategorizedTransactions int                     `json:"uncategorized_transactions"`
	TotalTransactions         int                     `json:"total_transactions"`
	AccountsSummary           []AccountClosingSummary `json:"accounts_summary"`
	Warnings                  []string                `json:"warnings"`
	Errors                    []string                `json:"errors"`
}

// BalanceSnapshot is the frozen per-account state stored on a closing
// audit row.
type BalanceSnapshot struct {
	Accounts      []AccountClosingSummary `json:"accounts"`
	SnapshotDate  time.Time               `json:"snapshot_date"`
	TotalAccounts int                     `json:"total_accounts"`
}

type CloseYearInput struct {
	CreateNextYear *bool  `json:"create_next_year"`
	Reason         string `json:"reason"`
}

// YearClosingResult reports a completed closing.
type YearClosingResult struct {
	FinancialYearId         int       `json:"financial_year_id"`
	ClosedAt                time.Time `json:"closed_at"`
	NextYearId              *int      `json:"next_year_id"`
	BalanceSnapshotsCreated int       `json:"balance_snapshots_created"`
	Message                 string    `json:"message"`
}

// ValidateYearClosing runs the closing checks without changing anything.
func ValidateYearClosing(ctx context.Context, yearId int) (*YearClosingValidation, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var validation *YearClosingValidation
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		validation, err = validateYearClosing(tx, tenantId, yearId)
		return err
	})
	if err != nil {
		return nil, err
	}
	return validation, nil
}

func validateYearClosing(tx *gorm.DB, tenantId string, yearId int) (*YearClosingValidation, error) {
	validation := &YearClosingValidation{
		CanClose:        true,
		AccountsSummary: []AccountClosingSummary{},
		Warnings:        []string{},
		Errors:          []string{},
	}

	year, err := models.GetFinancialYearById2(tx, tenantId, yearId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			validation.CanClose = false
			validation.Errors = append(validation.Errors, "Financial year not found")
			return validation, nil
		}
		return nil, err
	}

	if year.IsClosed() {
		validation.CanClose = false
		validation.Errors = append(validation.Errors, "Financial year is already closed")
	}

	allYears, err := models.GetAllFinancialYears2(tx, tenantId)
	if err != nil {
		return nil, err
	}
	if prior := models.PrecedingYear(allYears, year); prior != nil && !prior.IsClosed() {
		validation.CanClose = false
		validation.Errors = append(validation.Errors,
			fmt.Sprintf("Previous financial year '%s' must be closed first", prior.YearName))
	}

	totalTxns, err := models.CountYearTransactions(tx, tenantId, yearId)
	if err != nil {
		return nil, err
	}
	validation.TotalTransactions = int(totalTxns)

	uncategorized, err := models.CountUncategorizedTransactions(tx, tenantId, yearId)
	if err != nil {
		return nil, err
	}
	validation.UncategorizedTransactions = int(uncategorized)
	if uncategorized > 0 {
		validation.CanClose = false
		validation.Errors = append(validation.Errors,
			fmt.Sprintf("%d transactions are not categorized. All transactions must have categories before closing the year.", uncategorized))
	}

	if totalTxns == 0 {
		validation.Warnings = append(validation.Warnings, "This financial year has no transactions")
	}

	summary, err := buildAccountsSummary(tx, tenantId, yearId)
	if err != nil {
		return nil, err
	}
	validation.AccountsSummary = summary

	return validation, nil
}

func buildAccountsSummary(tx *gorm.DB, tenantId string, yearId int) ([]AccountClosingSummary, error) {
	balances, err := models.GetYearBalances2(tx, tenantId, []int{yearId})
	if err != nil {
		return nil, err
	}
	accounts, err := models.GetAllMoneyAccounts2(tx, tenantId)
	if err != nil {
		return nil, err
	}
	nameById := make(map[int]string, len(accounts))
	for _, a := range accounts {
		nameById[a.ID] = a.AccountName
	}

	summary := make([]AccountClosingSummary, 0, len(balances[yearId]))
	for _, a := range accounts {
		row, ok := balances[yearId][a.ID]
		if !ok {
			continue
		}
		summary = append(summary, AccountClosingSummary{
			AccountId:        row.AccountId,
			AccountName:      nameById[row.AccountId],
			OpeningBalance:   row.OpeningBalance,
			ClosingBalance:   row.ClosingBalance,
			TotalIncome:      row.TotalIncome,
			TotalExpense:     row.TotalExpense,
			NetChange:        row.NetChange(),
			TransactionCount: row.TransactionCount,
		})
	}
	return summary, nil
}

// CloseFinancialYear runs the full closing workflow in one transaction
// under the tenant posting lock:
//
//  1. validate (categorization, sequence, status)
//  2. cascade recalculation from the closing year
//  3. freeze the year's balance rows
//  4. mark the year CLOSED and clear is_current
//  5. append a close audit row with the frozen snapshot
//  6. optionally create the next year seeded with opening balances
//
// Only tenant admins may close a year.
func CloseFinancialYear(ctx context.Context, yearId int, input *CloseYearInput) (*YearClosingResult, error) {
	logger := config.GetLogger()

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}

	createNext := true
	if input != nil && input.CreateNextYear != nil {
		createNext = *input.CreateNextYear
	}
	reason := "Year closing"
	if input != nil && input.Reason != "" {
		reason = input.Reason
	}

	release, err := utils.TenantLock(ctx, tenantId, "posting", moduleName, "CloseFinancialYear")
	if err != nil {
		return nil, err
	}
	defer release()

	var result *YearClosingResult
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireTenantPostingLock(tx, tenantId); err != nil {
			return err
		}
		defer ReleaseTenantPostingLock(tx, tenantId)

		year, err := models.GetFinancialYearById2(tx, tenantId, yearId)
		if err != nil {
			return err
		}
		if year.IsClosed() {
			return utils.ErrorAlreadyClosed
		}

		allYears, err := models.GetAllFinancialYears2(tx, tenantId)
		if err != nil {
			return err
		}
		if prior := models.PrecedingYear(allYears, year); prior != nil && !prior.IsClosed() {
			return fmt.Errorf("%w: close '%s' first", utils.ErrorSequenceViolation, prior.YearName)
		}

		validation, err := validateYearClosing(tx, tenantId, yearId)
		if err != nil {
			return err
		}
		if !validation.CanClose {
			return fmt.Errorf("%w: %s", utils.ErrorValidationFailed, joinErrors(validation.Errors))
		}

		if _, err := RecalculateCascade(tx, logger, tenantId, yearId, nil); err != nil {
			config.LogError(logger, moduleName, "CloseFinancialYear", "recalculation failed during closing", yearId, err)
			return err
		}

		if err := models.FreezeYearBalances(tx, tenantId, yearId); err != nil {
			return err
		}

		closedAt := time.Now().UTC()
		userId, _ := utils.GetUserIdFromContext(ctx)
		before := *year
		updates := map[string]interface{}{
			"status":                   models.FinancialYearStatusClosed,
			"is_current":               false,
			"closed_at":                closedAt,
			"closed_by":                userId,
			"total_transactions_count": validation.TotalTransactions,
		}
		err = tx.Model(&models.FinancialYear{}).
			Where("tenant_id = ? AND id = ?", tenantId, yearId).
			Updates(updates).Error
		if err != nil {
			return err
		}
		year.Status = models.FinancialYearStatusClosed
		year.IsCurrent = false
		year.ClosedAt = &closedAt
		year.ClosedBy = userId
		year.TotalTransactionsCount = validation.TotalTransactions

		// Snapshot after the freeze, so the audit row carries final rows.
		snapshot, err := buildBalanceSnapshot(tx, tenantId, yearId, closedAt)
		if err != nil {
			return err
		}
		snapshotJSON, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		err = models.CreateYearClosingAudit(tx, &models.YearClosingAudit{
			FinancialYearId:   yearId,
			Action:            models.YearClosingActionClose,
			BalanceSnapshot:   string(snapshotJSON),
			Reason:            reason,
			TotalAccounts:     snapshot.TotalAccounts,
			TotalTransactions: validation.TotalTransactions,
		})
		if err != nil {
			return err
		}

		if err := models.CreateHistory2(tx, "close", yearId, "FinancialYear", &before, year,
			fmt.Sprintf("Financial year '%s' closed.", year.YearName)); err != nil {
			return err
		}

		result = &YearClosingResult{
			FinancialYearId:         yearId,
			ClosedAt:                closedAt,
			BalanceSnapshotsCreated: snapshot.TotalAccounts,
			Message:                 fmt.Sprintf("Financial year '%s' closed successfully", year.YearName),
		}

		if createNext {
			nextId, err := createNextYear(tx, tenantId, year, snapshot)
			if err != nil {
				return err
			}
			result.NextYearId = &nextId
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateTenantYearCache(tenantId)

	return result, nil
}

func buildBalanceSnapshot(tx *gorm.DB, tenantId string, yearId int, at time.Time) (*BalanceSnapshot, error) {
	accounts, err := buildAccountsSummary(tx, tenantId, yearId)
	if err != nil {
		return nil, err
	}
	return &BalanceSnapshot{
		Accounts:      accounts,
		SnapshotDate:  at,
		TotalAccounts: len(accounts),
	}, nil
}

// createNextYear creates the successor period starting the day after the
// closed year's end, one calendar year long, named from the calendar years
// it spans. The new year becomes current and its accounts inherit opening
// balances from the closed year's closings.
func createNextYear(tx *gorm.DB, tenantId string, closedYear *models.FinancialYear, snapshot *BalanceSnapshot) (int, error) {
	nextStart, nextEnd := NextYearSpan(closedYear.EndDate)
	yearName := NextYearName(nextStart, nextEnd)

	allYears, err := models.GetAllFinancialYears2(tx, tenantId)
	if err != nil {
		return 0, err
	}
	if overlap := models.FindOverlappingYear(allYears, nextStart, nextEnd, 0); overlap != nil {
		return 0, fmt.Errorf("%w: '%s'", utils.ErrorDateRangeOverlap, overlap.YearName)
	}

	err = tx.Model(&models.FinancialYear{}).
		Where("tenant_id = ? AND is_current = ?", tenantId, true).
		Update("is_current", false).Error
	if err != nil {
		return 0, err
	}

	nextYear := models.FinancialYear{
		TenantId:  tenantId,
		YearName:  yearName,
		StartDate: nextStart,
		EndDate:   nextEnd,
		Status:    models.FinancialYearStatusOpen,
		IsCurrent: true,
		CreatedBy: closedYear.ClosedBy,
	}
	if err := tx.Create(&nextYear).Error; err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	for _, account := range snapshot.Accounts {
		row := models.AccountYearBalance{
			TenantId:        tenantId,
			FinancialYearId: nextYear.ID,
			AccountId:       account.AccountId,
			OpeningBalance:  account.ClosingBalance,
			// No transactions yet, so closing equals opening.
			ClosingBalance:     account.ClosingBalance,
			TotalIncome:        decimal.Zero,
			TotalExpense:       decimal.Zero,
			TransactionCount:   0,
			IsFinal:            false,
			LastRecalculatedAt: &now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return 0, err
		}
	}

	err = models.CreateHistory2(tx, "create", nextYear.ID, "FinancialYear", nil, &nextYear,
		fmt.Sprintf("Financial year '%s' created from closing of '%s'.", nextYear.YearName, closedYear.YearName))
	if err != nil {
		return 0, err
	}

	return nextYear.ID, nil
}

// NextYearSpan derives the successor period's range: it starts the day
// after the closed year ends and runs one calendar year, inclusive.
func NextYearSpan(closedEnd time.Time) (start, end time.Time) {
	start = closedEnd.AddDate(0, 0, 1)
	end = start.AddDate(1, 0, -1)
	return start, end
}

// NextYearName derives the display label from the calendar years a period
// spans: "FY 2025" within one calendar year, "FY 2025-2026" across two.
func NextYearName(start, end time.Time) string {
	if start.Year() != end.Year() {
		return fmt.Sprintf("FY %d-%d", start.Year(), end.Year())
	}
	return fmt.Sprintf("FY %d", start.Year())
}

func joinErrors(errs []string) string {
	return strings.Join(errs, "; ")
}

func invalidateTenantYearCache(tenantId string) {
	_ = config.RemoveRedisKey("CurrentYear:" + tenantId)
}
