package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/okkarsoft/moneybook_backend/config"
	"github.com/okkarsoft/moneybook_backend/models"
	"github.com/okkarsoft/moneybook_backend/utils"
	"github.com/okkarsoft/moneybook_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Seeds a development database with a tenant, two financial years, a pair
// of accounts and categories, and a handful of transactions. Not for
// production use.
func main() {
	tenantID := flag.String("tenant-id", "dev-tenant", "Tenant id to seed")
	startYear := flag.Int("start-year", time.Now().Year()-1, "First calendar year to create")
	flag.Parse()

	if strings.TrimSpace(*tenantID) == "" {
		fmt.Fprintln(os.Stderr, "--tenant-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	if err := models.MigrateDatabase(db); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}

	ctx := utils.SetTenantIdInContext(context.Background(), *tenantID)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Seeder")
	ctx = utils.SetIsAdminInContext(ctx, true)

	cash, err := models.CreateMoneyAccount(ctx, &models.NewMoneyAccount{
		AccountType:    models.MoneyAccountTypeCash,
		AccountName:    "Petty Cash",
		OpeningBalance: decimal.NewFromInt(1000),
	})
	if err != nil {
		fail(logger, "create cash account", err)
	}
	bank, err := models.CreateMoneyAccount(ctx, &models.NewMoneyAccount{
		AccountType:    models.MoneyAccountTypeBank,
		AccountName:    "Main Bank",
		AccountNumber:  "001-234-567",
		BankName:       "KBZ",
		OpeningBalance: decimal.NewFromInt(50000),
	})
	if err != nil {
		fail(logger, "create bank account", err)
	}

	sales, err := models.CreateCategory(ctx, &models.NewCategory{
		Name:            "Sales",
		TransactionType: models.TransactionTypeIncome,
	})
	if err != nil {
		fail(logger, "create sales category", err)
	}
	rent, err := models.CreateCategory(ctx, &models.NewCategory{
		Name:            "Rent",
		TransactionType: models.TransactionTypeExpense,
	})
	if err != nil {
		fail(logger, "create rent category", err)
	}

	y1Start := time.Date(*startYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	y1End := time.Date(*startYear, time.December, 31, 0, 0, 0, 0, time.UTC)
	year1, err := models.CreateFinancialYear(ctx, &models.NewFinancialYear{
		YearName:  fmt.Sprintf("FY %d", *startYear),
		StartDate: y1Start,
		EndDate:   y1End,
		IsCurrent: true,
	})
	if err != nil {
		fail(logger, "create first year", err)
	}

	seedTxns := []struct {
		account  int
		category int
		txnType  models.TransactionType
		amount   int64
		date     time.Time
	}{
		{cash.ID, sales.ID, models.TransactionTypeIncome, 500, y1Start.AddDate(0, 1, 14)},
		{bank.ID, sales.ID, models.TransactionTypeIncome, 12000, y1Start.AddDate(0, 2, 2)},
		{bank.ID, rent.ID, models.TransactionTypeExpense, 3000, y1Start.AddDate(0, 3, 0)},
		{cash.ID, rent.ID, models.TransactionTypeExpense, 200, y1Start.AddDate(0, 6, 9)},
	}
	for _, s := range seedTxns {
		categoryId := s.category
		if _, err := createSeedTransaction(ctx, s.account, &categoryId, s.txnType, s.amount, s.date); err != nil {
			fail(logger, "create transaction", err)
		}
	}

	logger.WithFields(logrus.Fields{
		"tenant_id": *tenantID,
		"year_id":   year1.ID,
	}).Info("seed complete")
}

func createSeedTransaction(ctx context.Context, accountId int, categoryId *int, txnType models.TransactionType, amount int64, date time.Time) (*models.Transaction, error) {
	return workflow.CreateTransaction(ctx, &models.NewTransaction{
		AccountId:       accountId,
		CategoryId:      categoryId,
		TransactionType: txnType,
		Amount:          decimal.NewFromInt(amount),
		TransactionDate: date,
	})
}

func fail(logger *logrus.Logger, step string, err error) {
	logger.WithFields(logrus.Fields{"step": step}).Error(err.Error())
	os.Exit(1)
}
