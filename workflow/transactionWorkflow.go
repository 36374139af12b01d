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

// CreateTransaction posts a new income or expense row. The financial year
// is assigned from the transaction date; the caller never picks it. Posting
// into a year whose predecessor is still open is rejected, and posting into
// a closed year is an admin-only amendment that triggers a cascade
// recalculation before the call returns.
func CreateTransaction(ctx context.Context, input *models.NewTransaction) (*models.Transaction, error) {
	logger := config.GetLogger()

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if err := validateTransactionInput(ctx, tenantId, input.AccountId, input.CategoryId, input.TransactionType, input.Amount); err != nil {
		return nil, err
	}

	release, err := utils.TenantLock(ctx, tenantId, "posting", moduleName, "CreateTransaction")
	if err != nil {
		return nil, err
	}
	defer release()

	userId, _ := utils.GetUserIdFromContext(ctx)
	txnDate := utils.DateOnly(input.TransactionDate)

	var created *models.Transaction
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireTenantPostingLock(tx, tenantId); err != nil {
			return err
		}
		defer ReleaseTenantPostingLock(tx, tenantId)

		year, err := resolvePostingYear(tx, tenantId, txnDate)
		if err != nil {
			return err
		}
		if year.IsClosed() {
			if err := requireAdmin(ctx); err != nil {
				return err
			}
		}

		txn := models.Transaction{
			TenantId:        tenantId,
			AccountId:       input.AccountId,
			CategoryId:      input.CategoryId,
			FiscalYearId:    year.ID,
			TransactionType: input.TransactionType,
			Amount:          input.Amount,
			TransactionDate: txnDate,
			Description:     input.Description,
			ReferenceNumber: input.ReferenceNumber,
			CreatedBy:       userId,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return err
		}

		if year.IsClosed() {
			if err := amendClosedYear(tx, logger, tenantId, year, []int{txn.AccountId}, &txn, "Transaction posted into closed year"); err != nil {
				return err
			}
		} else {
			if err := adjustAccountBalance(tx, tenantId, txn.AccountId, txn.SignedAmount()); err != nil {
				return err
			}
		}

		if err := models.CreateHistory2(tx, "create", txn.ID, "Transaction", nil, &txn,
			fmt.Sprintf("Transaction of %s posted to account %d.", txn.Amount.StringFixed(2), txn.AccountId)); err != nil {
			return err
		}
		created = &txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateTransaction amends an existing row. A date change can move the
// transaction to a different year; the cascade then starts from the earlier
// of the two years so both chains are repaired. Any involvement of a closed
// year requires admin.
func UpdateTransaction(ctx context.Context, id int, input *models.UpdateTransactionInput) (*models.Transaction, error) {
	logger := config.GetLogger()

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	release, err := utils.TenantLock(ctx, tenantId, "posting", moduleName, "UpdateTransaction")
	if err != nil {
		return nil, err
	}
	defer release()

	var updated *models.Transaction
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireTenantPostingLock(tx, tenantId); err != nil {
			return err
		}
		defer ReleaseTenantPostingLock(tx, tenantId)

		txn, err := models.GetTransactionById2(tx, tenantId, id)
		if err != nil {
			return err
		}
		before := *txn

		oldYear, err := models.GetFinancialYearById2(tx, tenantId, txn.FiscalYearId)
		if err != nil {
			return err
		}

		if input.AccountId != nil {
			txn.AccountId = *input.AccountId
		}
		if input.CategoryId != nil {
			txn.CategoryId = input.CategoryId
		}
		if input.TransactionType != nil {
			txn.TransactionType = *input.TransactionType
		}
		if input.Amount != nil {
			txn.Amount = *input.Amount
		}
		if input.TransactionDate != nil {
			txn.TransactionDate = utils.DateOnly(*input.TransactionDate)
		}
		if input.Description != nil {
			txn.Description = *input.Description
		}
		if input.ReferenceNumber != nil {
			txn.ReferenceNumber = *input.ReferenceNumber
		}
		if err := validateTransactionInput(ctx, tenantId, txn.AccountId, txn.CategoryId, txn.TransactionType, txn.Amount); err != nil {
			return err
		}

		newYear := oldYear
		if input.TransactionDate != nil && !oldYear.Contains(txn.TransactionDate) {
			newYear, err = resolvePostingYear(tx, tenantId, txn.TransactionDate)
			if err != nil {
				return err
			}
		}
		txn.FiscalYearId = newYear.ID

		closedInvolved := oldYear.IsClosed() || newYear.IsClosed()
		if closedInvolved {
			if err := requireAdmin(ctx); err != nil {
				return err
			}
		}

		if err := tx.Save(txn).Error; err != nil {
			return err
		}

		if closedInvolved {
			// Repair both chains from the earlier of the two years.
			startYear := oldYear
			if newYear.StartDate.Before(oldYear.StartDate) {
				startYear = newYear
			}
			accountIds := []int{before.AccountId}
			if txn.AccountId != before.AccountId {
				accountIds = append(accountIds, txn.AccountId)
			}
			if err := amendClosedYear(tx, logger, tenantId, startYear, accountIds, txn, "Transaction amended in closed year"); err != nil {
				return err
			}
		} else {
			if err := adjustAccountBalance(tx, tenantId, before.AccountId, before.SignedAmount().Neg()); err != nil {
				return err
			}
			if err := adjustAccountBalance(tx, tenantId, txn.AccountId, txn.SignedAmount()); err != nil {
				return err
			}
		}

		if err := models.CreateHistory2(tx, "update", txn.ID, "Transaction", &before, txn,
			"Transaction updated."); err != nil {
			return err
		}
		updated = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTransaction removes a row. Deleting from a closed year is an
// admin-only amendment and triggers the cascade.
func DeleteTransaction(ctx context.Context, id int) (*models.Transaction, error) {
	logger := config.GetLogger()

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	release, err := utils.TenantLock(ctx, tenantId, "posting", moduleName, "DeleteTransaction")
	if err != nil {
		return nil, err
	}
	defer release()

	var deleted *models.Transaction
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireTenantPostingLock(tx, tenantId); err != nil {
			return err
		}
		defer ReleaseTenantPostingLock(tx, tenantId)

		txn, err := models.GetTransactionById2(tx, tenantId, id)
		if err != nil {
			return err
		}
		year, err := models.GetFinancialYearById2(tx, tenantId, txn.FiscalYearId)
		if err != nil {
			return err
		}
		if year.IsClosed() {
			if err := requireAdmin(ctx); err != nil {
				return err
			}
		}

		if err := tx.Delete(txn).Error; err != nil {
			return err
		}

		if year.IsClosed() {
			if err := amendClosedYear(tx, logger, tenantId, year, []int{txn.AccountId}, txn, "Transaction deleted from closed year"); err != nil {
				return err
			}
		} else {
			if err := adjustAccountBalance(tx, tenantId, txn.AccountId, txn.SignedAmount().Neg()); err != nil {
				return err
			}
		}

		if err := models.CreateHistory2(tx, "delete", txn.ID, "Transaction", txn, nil,
			"Transaction deleted."); err != nil {
			return err
		}
		deleted = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// resolvePostingYear maps a transaction date to its year and enforces
// chronological posting order: the year's immediate predecessor, if any,
// must already be closed.
func resolvePostingYear(tx *gorm.DB, tenantId string, date time.Time) (*models.FinancialYear, error) {
	year, err := models.FindYearContaining(tx, tenantId, date)
	if err != nil {
		return nil, err
	}
	if year == nil {
		return nil, fmt.Errorf("%w: no financial year covers %s", utils.ErrorValidationFailed, date.Format("2006-01-02"))
	}

	allYears, err := models.GetAllFinancialYears2(tx, tenantId)
	if err != nil {
		return nil, err
	}
	if prior := models.PrecedingYear(allYears, year); prior != nil && !prior.IsClosed() {
		return nil, fmt.Errorf("%w: cannot post into '%s' while '%s' is open", utils.ErrorSequenceViolation, year.YearName, prior.YearName)
	}
	return year, nil
}

func requireAdmin(ctx context.Context) error {
	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return fmt.Errorf("%w: only admins may modify a closed financial year", utils.ErrorPermissionDenied)
	}
	return nil
}

func adjustAccountBalance(tx *gorm.DB, tenantId string, accountId int, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	return tx.Model(&models.MoneyAccount{}).
		Where("tenant_id = ? AND id = ?", tenantId, accountId).
		Update("current_balance", gorm.Expr("current_balance + ?", delta)).Error
}

// amendClosedYear is the closed-year amendment hook: after the mutation is
// written it re-runs the cascade from the affected year, limited to the
// touched accounts, and appends a recalculate audit row so the amendment is
// visible in the trail. The year stays closed; its frozen rows are
// refreshed, not reopened.
func amendClosedYear(tx *gorm.DB, logger *logrus.Logger, tenantId string, startYear *models.FinancialYear, accountIds []int, txn *models.Transaction, reason string) error {
	result, err := RecalculateCascade(tx, logger, tenantId, startYear.ID, accountIds)
	if err != nil {
		config.LogError(logger, moduleName, "amendClosedYear", "cascade after amendment failed", txn.ID, err)
		return err
	}

	snapshot, err := buildBalanceSnapshot(tx, tenantId, startYear.ID, result.CompletedAt)
	if err != nil {
		return err
	}
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	txnCount, err := models.CountYearTransactions(tx, tenantId, startYear.ID)
	if err != nil {
		return err
	}
	return models.CreateYearClosingAudit(tx, &models.YearClosingAudit{
		FinancialYearId:   startYear.ID,
		Action:            models.YearClosingActionRecalculate,
		BalanceSnapshot:   string(snapshotJSON),
		Reason:            fmt.Sprintf("%s (transaction %d)", reason, txn.ID),
		TotalAccounts:     result.AccountsProcessed,
		TotalTransactions: int(txnCount),
	})
}

// validateTransactionInput checks the referenced account and category and
// the amount sign. A category, when given, must match the transaction type.
func validateTransactionInput(ctx context.Context, tenantId string, accountId int, categoryId *int, txnType models.TransactionType, amount decimal.Decimal) error {
	if !txnType.Valid() {
		return fmt.Errorf("%w: unknown transaction type '%s'", utils.ErrorValidationFailed, txnType)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: amount must be positive", utils.ErrorValidationFailed)
	}
	if err := utils.ValidateResourceId[models.MoneyAccount](ctx, tenantId, accountId); err != nil {
		return err
	}
	if categoryId != nil {
		category, err := utils.FetchModel[models.Category](ctx, tenantId, *categoryId)
		if err != nil {
			return err
		}
		if category.TransactionType != txnType {
			return fmt.Errorf("%w: category '%s' is for %s transactions", utils.ErrorValidationFailed, category.Name, category.TransactionType)
		}
	}
	return nil
}
