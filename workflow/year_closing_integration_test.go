package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/okkarsoft/moneybook_backend/config"
	"github.com/okkarsoft/moneybook_backend/models"
	"github.com/okkarsoft/moneybook_backend/utils"
	"github.com/okkarsoft/moneybook_backend/workflow"
	"github.com/shopspring/decimal"
)

// End-to-end closing against real MySQL + Redis: post into a year, close
// it with next-year creation, then amend a transaction in the closed year
// and check the ripple.
func TestYearClosing_EndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "moneybook_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if err := models.MigrateDatabase(config.GetDB()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	ctx = utils.SetTenantIdInContext(ctx, "tenant-e2e")
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test Admin")
	ctx = utils.SetIsAdminInContext(ctx, true)

	account, err := models.CreateMoneyAccount(ctx, &models.NewMoneyAccount{
		AccountType:    models.MoneyAccountTypeCash,
		AccountName:    "Cash Box",
		OpeningBalance: decimal.Zero,
	})
	if err != nil {
		t.Fatalf("CreateMoneyAccount: %v", err)
	}
	sales, err := models.CreateCategory(ctx, &models.NewCategory{
		Name: "Sales", TransactionType: models.TransactionTypeIncome,
	})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	rent, err := models.CreateCategory(ctx, &models.NewCategory{
		Name: "Rent", TransactionType: models.TransactionTypeExpense,
	})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}

	year1, err := models.CreateFinancialYear(ctx, &models.NewFinancialYear{
		YearName:  "FY 2024",
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		IsCurrent: true,
	})
	if err != nil {
		t.Fatalf("CreateFinancialYear: %v", err)
	}

	if _, err := workflow.CreateTransaction(ctx, &models.NewTransaction{
		AccountId:       account.ID,
		CategoryId:      &sales.ID,
		TransactionType: models.TransactionTypeIncome,
		Amount:          decimal.RequireFromString("1200"),
		TransactionDate: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("CreateTransaction income: %v", err)
	}
	expenseTxn, err := workflow.CreateTransaction(ctx, &models.NewTransaction{
		AccountId:       account.ID,
		CategoryId:      &rent.ID,
		TransactionType: models.TransactionTypeExpense,
		Amount:          decimal.RequireFromString("200"),
		TransactionDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateTransaction expense: %v", err)
	}

	// Close FY 2024 and let the workflow create FY 2025.
	result, err := workflow.CloseFinancialYear(ctx, year1.ID, &workflow.CloseYearInput{})
	if err != nil {
		t.Fatalf("CloseFinancialYear: %v", err)
	}
	if result.NextYearId == nil {
		t.Fatal("expected a next year to be created")
	}

	closed, err := models.GetFinancialYear(ctx, year1.ID)
	if err != nil {
		t.Fatalf("GetFinancialYear: %v", err)
	}
	if !closed.IsClosed() || closed.IsCurrent {
		t.Fatalf("expected closed non-current year, got status=%s is_current=%v", closed.Status, closed.IsCurrent)
	}

	balances, err := models.GetYearBalances(ctx, year1.ID)
	if err != nil {
		t.Fatalf("GetYearBalances: %v", err)
	}
	if len(balances) == 0 {
		t.Fatal("expected balance rows for the closed year")
	}
	var closedRow *models.AccountYearBalanceView
	for _, b := range balances {
		if b.AccountId == account.ID {
			closedRow = b
		}
	}
	if closedRow == nil {
		t.Fatal("no balance row for the account")
	}
	if !closedRow.IsFinal {
		t.Fatal("closed year balance row must be final")
	}
	if !closedRow.ClosingBalance.Equal(decimal.RequireFromString("1000")) {
		t.Fatalf("expected closing 1000, got %s", closedRow.ClosingBalance)
	}

	nextBalances, err := models.GetYearBalances(ctx, *result.NextYearId)
	if err != nil {
		t.Fatalf("GetYearBalances next: %v", err)
	}
	foundSeed := false
	for _, b := range nextBalances {
		if b.AccountId == account.ID {
			foundSeed = true
			if !b.OpeningBalance.Equal(decimal.RequireFromString("1000")) {
				t.Fatalf("next year opening: expected 1000, got %s", b.OpeningBalance)
			}
			if !b.TotalIncome.IsZero() || !b.TotalExpense.IsZero() || b.TransactionCount != 0 {
				t.Fatalf("next year must start with zero activity, got %+v", b)
			}
		}
	}
	if !foundSeed {
		t.Fatal("next year has no seeded balance row")
	}

	audits, err := models.GetYearClosingAudits(ctx, year1.ID)
	if err != nil {
		t.Fatalf("GetYearClosingAudits: %v", err)
	}
	hasClose := false
	for _, a := range audits {
		if a.Action == models.YearClosingActionClose {
			hasClose = true
		}
	}
	if !hasClose {
		t.Fatalf("expected a close audit row, got %d rows", len(audits))
	}

	// Closing twice must fail cleanly.
	if _, err := workflow.CloseFinancialYear(ctx, year1.ID, &workflow.CloseYearInput{}); !errors.Is(err, utils.ErrorAlreadyClosed) {
		t.Fatalf("expected ErrorAlreadyClosed, got %v", err)
	}

	// Non-admins may not amend a closed year.
	memberCtx := utils.SetIsAdminInContext(ctx, false)
	newAmount := decimal.RequireFromString("300")
	if _, err := workflow.UpdateTransaction(memberCtx, expenseTxn.ID, &models.UpdateTransactionInput{
		Amount: &newAmount,
	}); !errors.Is(err, utils.ErrorPermissionDenied) {
		t.Fatalf("expected ErrorPermissionDenied, got %v", err)
	}

	// Admin amendment ripples through the chain: 1000 -> 900.
	if _, err := workflow.UpdateTransaction(ctx, expenseTxn.ID, &models.UpdateTransactionInput{
		Amount: &newAmount,
	}); err != nil {
		t.Fatalf("UpdateTransaction (amendment): %v", err)
	}

	balances, err = models.GetYearBalances(ctx, year1.ID)
	if err != nil {
		t.Fatalf("GetYearBalances after amendment: %v", err)
	}
	for _, b := range balances {
		if b.AccountId == account.ID && !b.ClosingBalance.Equal(decimal.RequireFromString("900")) {
			t.Fatalf("expected closing 900 after amendment, got %s", b.ClosingBalance)
		}
	}
	nextBalances, err = models.GetYearBalances(ctx, *result.NextYearId)
	if err != nil {
		t.Fatalf("GetYearBalances next after amendment: %v", err)
	}
	for _, b := range nextBalances {
		if b.AccountId == account.ID && !b.OpeningBalance.Equal(decimal.RequireFromString("900")) {
			t.Fatalf("expected next year opening 900 after amendment, got %s", b.OpeningBalance)
		}
	}

	updatedAccount, err := models.GetMoneyAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetMoneyAccount: %v", err)
	}
	if !updatedAccount.CurrentBalance.Equal(decimal.RequireFromString("900")) {
		t.Fatalf("expected current balance 900, got %s", updatedAccount.CurrentBalance)
	}

	// Manual recalculation is admin-only.
	if _, err := workflow.Recalculate(memberCtx, year1.ID, nil); !errors.Is(err, utils.ErrorPermissionDenied) {
		t.Fatalf("expected ErrorPermissionDenied for member recalculate, got %v", err)
	}

	// An account created after the close materializes frozen rows when the
	// chain is rebuilt from the closed year.
	lateAccount, err := models.CreateMoneyAccount(ctx, &models.NewMoneyAccount{
		AccountType:    models.MoneyAccountTypeBank,
		AccountName:    "Late Bank",
		OpeningBalance: decimal.RequireFromString("50"),
	})
	if err != nil {
		t.Fatalf("CreateMoneyAccount late: %v", err)
	}
	if _, err := workflow.Recalculate(ctx, year1.ID, nil); err != nil {
		t.Fatalf("Recalculate: %v", err)
	}

	balances, err = models.GetYearBalances(ctx, year1.ID)
	if err != nil {
		t.Fatalf("GetYearBalances after recalculate: %v", err)
	}
	var lateRow *models.AccountYearBalanceView
	for _, b := range balances {
		if b.AccountId == lateAccount.ID {
			lateRow = b
		}
	}
	if lateRow == nil {
		t.Fatal("no balance row for the late account in the closed year")
	}
	if !lateRow.IsFinal {
		t.Fatal("late account row inside the closed year must be final")
	}
	if !lateRow.ClosingBalance.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("late account closing: expected 50, got %s", lateRow.ClosingBalance)
	}

	// Recalculate audits carry the per-account snapshot and the true
	// transaction count of the processed years.
	audits, err = models.GetYearClosingAudits(ctx, year1.ID)
	if err != nil {
		t.Fatalf("GetYearClosingAudits after recalculate: %v", err)
	}
	recalcAudits := 0
	for _, a := range audits {
		if a.Action != models.YearClosingActionRecalculate {
			continue
		}
		recalcAudits++
		var snap workflow.BalanceSnapshot
		if err := json.Unmarshal([]byte(a.BalanceSnapshot), &snap); err != nil {
			t.Fatalf("recalculate audit snapshot does not parse: %v", err)
		}
		if len(snap.Accounts) == 0 {
			t.Fatal("recalculate audit snapshot must list account balances")
		}
		if a.TotalTransactions != 2 {
			t.Fatalf("recalculate audit: expected 2 transactions, got %d", a.TotalTransactions)
		}
	}
	if recalcAudits < 2 {
		t.Fatalf("expected recalculate audits from the amendment and the manual run, got %d", recalcAudits)
	}
}

// Posting into a year whose predecessor is still open must be rejected.
func TestSequenceEnforcement_EndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "moneybook_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if err := models.MigrateDatabase(config.GetDB()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	ctx = utils.SetTenantIdInContext(ctx, "tenant-seq")
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test Admin")
	ctx = utils.SetIsAdminInContext(ctx, true)

	account, err := models.CreateMoneyAccount(ctx, &models.NewMoneyAccount{
		AccountType: models.MoneyAccountTypeBank,
		AccountName: "Bank",
	})
	if err != nil {
		t.Fatalf("CreateMoneyAccount: %v", err)
	}
	sales, err := models.CreateCategory(ctx, &models.NewCategory{
		Name: "Sales", TransactionType: models.TransactionTypeIncome,
	})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}

	p1, err := models.CreateFinancialYear(ctx, &models.NewFinancialYear{
		YearName:  "FY 2024",
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		IsCurrent: true,
	})
	if err != nil {
		t.Fatalf("CreateFinancialYear p1: %v", err)
	}
	if _, err := models.CreateFinancialYear(ctx, &models.NewFinancialYear{
		YearName:  "FY 2025",
		StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("CreateFinancialYear p2: %v", err)
	}

	post := func() error {
		_, err := workflow.CreateTransaction(ctx, &models.NewTransaction{
			AccountId:       account.ID,
			CategoryId:      &sales.ID,
			TransactionType: models.TransactionTypeIncome,
			Amount:          decimal.RequireFromString("50"),
			TransactionDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		})
		return err
	}

	if err := post(); !errors.Is(err, utils.ErrorSequenceViolation) {
		t.Fatalf("expected ErrorSequenceViolation while FY 2024 is open, got %v", err)
	}

	if _, err := workflow.CloseFinancialYear(ctx, p1.ID, &workflow.CloseYearInput{CreateNextYear: utils.NewFalse()}); err != nil {
		t.Fatalf("CloseFinancialYear: %v", err)
	}

	if err := post(); err != nil {
		t.Fatalf("posting after predecessor closed must succeed, got %v", err)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("moneybook-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("moneybook-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=moneybook_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
