package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/okkarsoft/moneybook_backend/config"
	"github.com/okkarsoft/moneybook_backend/models"
	"github.com/okkarsoft/moneybook_backend/utils"
	"github.com/okkarsoft/moneybook_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Rebuilds per-account year balances for one tenant, or for every tenant
// that has financial years. Runs the same cascade the API uses, directly
// against the database.
func main() {
	tenantID := flag.String("tenant-id", "", "Tenant id (omit with --all to rebuild every tenant)")
	fromYearID := flag.Int("from-year-id", 0, "Optional: starting year id. Defaults to the tenant's earliest year.")
	all := flag.Bool("all", false, "Rebuild every tenant")
	flag.Parse()

	if strings.TrimSpace(*tenantID) == "" && !*all {
		fmt.Fprintln(os.Stderr, "--tenant-id or --all is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	tenants := []string{strings.TrimSpace(*tenantID)}
	if *all {
		tenants = nil
		// Cross-tenant scan; bypass the guard explicitly.
		scanCtx := utils.SetSkipTenantScopeInContext(context.Background(), true)
		if err := db.WithContext(scanCtx).Model(&models.FinancialYear{}).
			Distinct("tenant_id").Pluck("tenant_id", &tenants).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to list tenants: %v\n", err)
			os.Exit(1)
		}
	}

	exitCode := 0
	for _, tenant := range tenants {
		if err := rebuildTenant(db, logger, tenant, *fromYearID); err != nil {
			logger.WithFields(logrus.Fields{
				"tenant_id": tenant,
			}).Error("rebuild failed: " + err.Error())
			exitCode = 1
			continue
		}
	}
	os.Exit(exitCode)
}

func rebuildTenant(db *gorm.DB, logger *logrus.Logger, tenantID string, fromYearID int) error {
	ctx := utils.SetTenantIdInContext(context.Background(), tenantID)
	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "System")

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := workflow.AcquireTenantPostingLock(tx, tenantID); err != nil {
			return err
		}
		defer workflow.ReleaseTenantPostingLock(tx, tenantID)

		startID := fromYearID
		if startID == 0 {
			years, err := models.GetAllFinancialYears2(tx, tenantID)
			if err != nil {
				return err
			}
			if len(years) == 0 {
				logger.WithFields(logrus.Fields{"tenant_id": tenantID}).Info("no financial years; nothing to do")
				return nil
			}
			startID = years[0].ID
		}

		result, err := workflow.RecalculateCascade(tx, logger, tenantID, startID, nil)
		if err != nil {
			return err
		}

		summary, _ := json.Marshal(result)
		logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"result":    string(summary),
		}).Info("rebuild complete")
		return nil
	})
}
