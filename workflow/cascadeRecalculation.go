package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okkarsoft/moneybook_backend/config"
	"github.com/okkarsoft/moneybook_backend/models"
	"github.com/okkarsoft/moneybook_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const moduleName = "workflow"

// RecalculationResult summarizes one cascade run.
type RecalculationResult struct {
	StartingYearId    int       `json:"starting_year_id"`
	YearsProcessed    []int     `json:"years_processed"`
	AccountsProcessed int       `json:"accounts_processed"`
	RowsWritten       int       `json:"rows_written"`
	CompletedAt       time.Time `json:"completed_at"`
}

// RecalculateCascade rebuilds the balance chain from startingYearId through
// the tenant's last year. An empty onlyAccountIds means every account;
// otherwise only the named accounts are refolded, which is enough when a
// single amendment is known to touch them. It must run inside the caller's
// transaction, under the tenant posting lock.
//
// The fold seeds each account's opening from the year preceding the
// starting year (its stored closing balance), or from the account's own
// opening balance when the starting year is the earliest. All snapshot rows
// of the affected years are overwritten; recalculation counters on existing
// rows are incremented. Account current balances are refreshed from the
// final year's closings.
func RecalculateCascade(tx *gorm.DB, logger *logrus.Logger, tenantId string, startingYearId int, onlyAccountIds []int) (*RecalculationResult, error) {

	allYears, err := models.GetAllFinancialYears2(tx, tenantId)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorCalculationFailure, err)
	}

	var startIdx = -1
	for i, y := range allYears {
		if y.ID == startingYearId {
			startIdx = i
			break
		}
	}
	if startIdx < 0 {
		return nil, utils.ErrorRecordNotFound
	}
	affected := allYears[startIdx:]

	accounts, err := models.GetAllMoneyAccounts2(tx, tenantId)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorCalculationFailure, err)
	}
	if len(onlyAccountIds) > 0 {
		accounts, err = filterAccounts(accounts, onlyAccountIds)
		if err != nil {
			return nil, err
		}
	}
	accountIds := make([]int, 0, len(accounts))
	accountById := make(map[int]*models.MoneyAccount, len(accounts))
	for _, a := range accounts {
		accountIds = append(accountIds, a.ID)
		accountById[a.ID] = a
	}

	seedOpenings := make(map[int]decimal.Decimal, len(accounts))
	if startIdx == 0 {
		for _, a := range accounts {
			seedOpenings[a.ID] = a.OpeningBalance
		}
	} else {
		prior := allYears[startIdx-1]
		priorRows, err := models.GetYearBalances2(tx, tenantId, []int{prior.ID})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrorCalculationFailure, err)
		}
		for _, a := range accounts {
			if row, ok := priorRows[prior.ID][a.ID]; ok {
				seedOpenings[a.ID] = row.ClosingBalance
			} else {
				// The account never reached the prior year; its chain
				// starts from the account opening balance.
				seedOpenings[a.ID] = a.OpeningBalance
			}
		}
	}

	yearIds := make([]int, 0, len(affected))
	for _, y := range affected {
		yearIds = append(yearIds, y.ID)
	}

	sumRows, err := models.SumTransactionsByYearAccount(tx, tenantId, yearIds)
	if err != nil {
		config.LogError(logger, moduleName, "RecalculateCascade", "failed to aggregate transactions", tenantId, err)
		return nil, fmt.Errorf("%w: %v", utils.ErrorCalculationFailure, err)
	}

	computed := FoldCascade(affected, accountIds, seedOpenings, SumsFromRows(sumRows))

	existing, err := models.GetYearBalances2(tx, tenantId, yearIds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorCalculationFailure, err)
	}

	closedYears := make(map[int]bool, len(affected))
	for _, y := range affected {
		closedYears[y.ID] = y.IsClosed()
	}

	now := time.Now().UTC()
	written := 0
	for _, row := range computed {
		target, ok := existing[row.FinancialYearId][row.AccountId]
		if !ok {
			target = NewBalanceRow(tenantId, row, closedYears[row.FinancialYearId])
		}
		ApplyComputedRow(target, row, now)
		if err := models.UpsertYearBalance(tx, target); err != nil {
			config.LogError(logger, moduleName, "RecalculateCascade", "failed to write balance row", row, err)
			return nil, fmt.Errorf("%w: %v", utils.ErrorCalculationFailure, err)
		}
		written++
	}

	// Live balances track the end of the chain.
	if len(affected) > 0 {
		lastYearId := affected[len(affected)-1].ID
		for _, row := range computed {
			if row.FinancialYearId != lastYearId {
				continue
			}
			account := accountById[row.AccountId]
			if account.CurrentBalance.Equal(row.ClosingBalance) {
				continue
			}
			err := tx.Model(&models.MoneyAccount{}).
				Where("tenant_id = ? AND id = ?", tenantId, row.AccountId).
				Update("current_balance", row.ClosingBalance).Error
			if err != nil {
				return nil, fmt.Errorf("%w: %v", utils.ErrorCalculationFailure, err)
			}
		}
	}

	return &RecalculationResult{
		StartingYearId:    startingYearId,
		YearsProcessed:    yearIds,
		AccountsProcessed: len(accountIds),
		RowsWritten:       written,
		CompletedAt:       now,
	}, nil
}

// Recalculate is the API entry point: it opens the posting transaction,
// takes the tenant locks, runs the cascade, and appends a recalculate
// audit row on the starting year. An empty accountIds recalculates every
// account. Only tenant admins may trigger a recalculation.
func Recalculate(ctx context.Context, startingYearId int, accountIds []int) (*RecalculationResult, error) {
	logger := config.GetLogger()

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}

	accountIds = utils.UniqueSlice(accountIds)

	release, err := utils.TenantLock(ctx, tenantId, "posting", moduleName, "Recalculate")
	if err != nil {
		return nil, err
	}
	defer release()

	var result *RecalculationResult
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireTenantPostingLock(tx, tenantId); err != nil {
			return err
		}
		defer ReleaseTenantPostingLock(tx, tenantId)

		year, err := models.GetFinancialYearById2(tx, tenantId, startingYearId)
		if err != nil {
			return err
		}

		result, err = RecalculateCascade(tx, logger, tenantId, year.ID, accountIds)
		if err != nil {
			return err
		}

		snapshot, err := buildBalanceSnapshot(tx, tenantId, year.ID, result.CompletedAt)
		if err != nil {
			return err
		}
		snapshotJSON, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		txnCount, err := countYearsTransactions(tx, tenantId, result.YearsProcessed)
		if err != nil {
			return err
		}
		return models.CreateYearClosingAudit(tx, &models.YearClosingAudit{
			FinancialYearId:   year.ID,
			Action:            models.YearClosingActionRecalculate,
			BalanceSnapshot:   string(snapshotJSON),
			TotalAccounts:     result.AccountsProcessed,
			TotalTransactions: txnCount,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func filterAccounts(accounts []*models.MoneyAccount, ids []int) ([]*models.MoneyAccount, error) {
	wanted := make(map[int]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	filtered := make([]*models.MoneyAccount, 0, len(ids))
	for _, a := range accounts {
		if wanted[a.ID] {
			filtered = append(filtered, a)
			delete(wanted, a.ID)
		}
	}
	for id := range wanted {
		return nil, fmt.Errorf("%w: money account %d", utils.ErrorRecordNotFound, id)
	}
	return filtered, nil
}

func countYearsTransactions(tx *gorm.DB, tenantId string, yearIds []int) (int, error) {
	var total int64
	for _, yearId := range yearIds {
		n, err := models.CountYearTransactions(tx, tenantId, yearId)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return int(total), nil
}
