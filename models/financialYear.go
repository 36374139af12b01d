package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/okkarsoft/moneybook_backend/config"
	"github.com/okkarsoft/moneybook_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// FinancialYear is a tenant-scoped fiscal period. Date ranges of a tenant's
// years never overlap, and at most one year is current at a time.
type FinancialYear struct {
	ID        int                 `gorm:"primary_key" json:"id"`
	TenantId  string              `gorm:"index;not null" json:"tenant_id"`
	YearName  string              `gorm:"size:50;not null" json:"year_name" binding:"required"`
	StartDate time.Time           `gorm:"type:date;index;not null" json:"start_date" binding:"required"`
	EndDate   time.Time           `gorm:"type:date;index;not null" json:"end_date" binding:"required"`
	Status    FinancialYearStatus `gorm:"type:enum('open','closed');default:'open';size:10;not null;index" json:"status"`
	IsCurrent bool                `gorm:"not null;default:false;index" json:"is_current"`

	ClosedAt *time.Time `json:"closed_at"`
	ClosedBy int        `json:"closed_by"`

	TotalTransactionsCount int `gorm:"not null;default:0" json:"total_transactions_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	CreatedBy int       `json:"created_by"`
}

type NewFinancialYear struct {
	YearName  string    `json:"year_name" binding:"required"`
	StartDate time.Time `json:"start_date" binding:"required"`
	EndDate   time.Time `json:"end_date" binding:"required"`
	IsCurrent bool      `json:"is_current"`
}

type UpdateFinancialYearInput struct {
	YearName  *string    `json:"year_name"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
	IsCurrent *bool      `json:"is_current"`
}

type FinancialYearWithStats struct {
	FinancialYear
	TotalIncome         decimal.Decimal `json:"total_income"`
	TotalExpense        decimal.Decimal `json:"total_expense"`
	NetBalance          decimal.Decimal `json:"net_balance"`
	ActiveAccountsCount int             `json:"active_accounts_count"`
}

const currentYearCachePrefix = "CurrentYear:"

// SortYearsChronological establishes the tenant's total period order:
// start date ascending, then end date ascending, then id ascending. The
// non-overlap invariant should make the first key decisive; the fallbacks
// keep the order deterministic even against corrupted data.
func SortYearsChronological(years []*FinancialYear) {
	sort.SliceStable(years, func(i, j int) bool {
		if !years[i].StartDate.Equal(years[j].StartDate) {
			return years[i].StartDate.Before(years[j].StartDate)
		}
		if !years[i].EndDate.Equal(years[j].EndDate) {
			return years[i].EndDate.Before(years[j].EndDate)
		}
		return years[i].ID < years[j].ID
	})
}

// PrecedingYear returns the chronological predecessor of target within the
// sorted full tenant sequence, or nil if target is the earliest.
func PrecedingYear(sortedYears []*FinancialYear, target *FinancialYear) *FinancialYear {
	var prev *FinancialYear
	for _, y := range sortedYears {
		if y.ID == target.ID {
			return prev
		}
		prev = y
	}
	return nil
}

// FindOverlappingYear returns the first year whose [start, end] range
// intersects the given range, ignoring excludeId. Dates are inclusive on
// both ends.
func FindOverlappingYear(years []*FinancialYear, startDate, endDate time.Time, excludeId int) *FinancialYear {
	for _, y := range years {
		if y.ID == excludeId {
			continue
		}
		if !startDate.After(y.EndDate) && !endDate.Before(y.StartDate) {
			return y
		}
	}
	return nil
}

func (fy *FinancialYear) Contains(date time.Time) bool {
	return !date.Before(fy.StartDate) && !date.After(fy.EndDate)
}

func (fy *FinancialYear) IsClosed() bool {
	return fy.Status == FinancialYearStatusClosed
}

func (input *NewFinancialYear) validate(ctx context.Context, tenantId string, id int) error {
	if !input.EndDate.After(input.StartDate) {
		return errors.New("end date must be after start date")
	}
	years, err := utils.FetchAllModels[FinancialYear](ctx, tenantId)
	if err != nil {
		return err
	}
	if overlap := FindOverlappingYear(years, input.StartDate, input.EndDate, id); overlap != nil {
		return fmt.Errorf("%w: '%s'", utils.ErrorDateRangeOverlap, overlap.YearName)
	}
	return nil
}

func CreateFinancialYear(ctx context.Context, input *NewFinancialYear) (*FinancialYear, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}

	input.StartDate = utils.DateOnly(input.StartDate)
	input.EndDate = utils.DateOnly(input.EndDate)
	if err := input.validate(ctx, tenantId, 0); err != nil {
		return nil, err
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	year := FinancialYear{
		TenantId:  tenantId,
		YearName:  input.YearName,
		StartDate: input.StartDate,
		EndDate:   input.EndDate,
		Status:    FinancialYearStatusOpen,
		IsCurrent: input.IsCurrent,
		CreatedBy: userId,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.IsCurrent {
			if err := clearCurrentYear(tx, tenantId, 0); err != nil {
				return err
			}
		}
		if err := tx.Create(&year).Error; err != nil {
			return err
		}
		return createHistory(tx, "create", year.ID, "FinancialYear", nil, &year,
			fmt.Sprintf("Financial year '%s' created.", year.YearName))
	})
	if err != nil {
		return nil, err
	}

	invalidateCurrentYearCache(tenantId)
	return &year, nil
}

func UpdateFinancialYear(ctx context.Context, id int, input *UpdateFinancialYearInput) (*FinancialYear, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}

	year, err := utils.FetchModel[FinancialYear](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	// Closed years keep their date range forever.
	if year.IsClosed() && (input.StartDate != nil || input.EndDate != nil) {
		return nil, utils.ErrorAlreadyClosed
	}

	before := *year

	updates := map[string]interface{}{}
	if input.YearName != nil {
		updates["year_name"] = *input.YearName
		year.YearName = *input.YearName
	}
	if input.StartDate != nil {
		year.StartDate = utils.DateOnly(*input.StartDate)
		updates["start_date"] = year.StartDate
	}
	if input.EndDate != nil {
		year.EndDate = utils.DateOnly(*input.EndDate)
		updates["end_date"] = year.EndDate
	}
	if input.IsCurrent != nil {
		updates["is_current"] = *input.IsCurrent
		year.IsCurrent = *input.IsCurrent
	}
	if len(updates) == 0 {
		return year, nil
	}

	if input.StartDate != nil || input.EndDate != nil {
		if !year.EndDate.After(year.StartDate) {
			return nil, errors.New("end date must be after start date")
		}
		years, err := utils.FetchAllModels[FinancialYear](ctx, tenantId)
		if err != nil {
			return nil, err
		}
		if overlap := FindOverlappingYear(years, year.StartDate, year.EndDate, id); overlap != nil {
			return nil, fmt.Errorf("%w: '%s'", utils.ErrorDateRangeOverlap, overlap.YearName)
		}
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.IsCurrent != nil && *input.IsCurrent {
			if err := clearCurrentYear(tx, tenantId, id); err != nil {
				return err
			}
		}
		if err := tx.Model(&FinancialYear{}).Where("tenant_id = ? AND id = ?", tenantId, id).
			Updates(updates).Error; err != nil {
			return err
		}
		return createHistory(tx, "update", year.ID, "FinancialYear", &before, year,
			fmt.Sprintf("Financial year '%s' updated.", year.YearName))
	})
	if err != nil {
		return nil, err
	}

	invalidateCurrentYearCache(tenantId)
	return year, nil
}

func SetCurrentFinancialYear(ctx context.Context, id int) (*FinancialYear, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}

	year, err := utils.FetchModel[FinancialYear](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := clearCurrentYear(tx, tenantId, id); err != nil {
			return err
		}
		if err := tx.Model(&FinancialYear{}).Where("tenant_id = ? AND id = ?", tenantId, id).
			Update("is_current", true).Error; err != nil {
			return err
		}
		return createHistory(tx, "update", year.ID, "FinancialYear", nil, nil,
			fmt.Sprintf("'%s' set as current financial year.", year.YearName))
	})
	if err != nil {
		return nil, err
	}
	year.IsCurrent = true

	invalidateCurrentYearCache(tenantId)
	return year, nil
}

// DeleteFinancialYear refuses to delete closed years and years that hold
// transactions.
func DeleteFinancialYear(ctx context.Context, id int) (*FinancialYear, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}

	year, err := utils.FetchModel[FinancialYear](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}
	if year.IsClosed() {
		return nil, utils.ErrorAlreadyClosed
	}
	count, err := utils.ResourceCountWhere[Transaction](ctx, tenantId, "fiscal_year_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("cannot delete financial year with %d transactions", count)
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ? AND financial_year_id = ?", tenantId, id).
			Delete(&AccountYearBalance{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&year).Error; err != nil {
			return err
		}
		return createHistory(tx, "delete", year.ID, "FinancialYear", year, nil,
			fmt.Sprintf("Financial year '%s' deleted.", year.YearName))
	})
	if err != nil {
		return nil, err
	}

	invalidateCurrentYearCache(tenantId)
	return year, nil
}

// GetFinancialYears lists the tenant's years, most recent first.
func GetFinancialYears(ctx context.Context) ([]*FinancialYear, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var results []*FinancialYear
	err := db.WithContext(ctx).Where("tenant_id = ?", tenantId).
		Order("start_date DESC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func GetFinancialYear(ctx context.Context, id int) (*FinancialYear, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	return utils.FetchModel[FinancialYear](ctx, tenantId, id)
}

// GetCurrentFinancialYear returns the tenant's current year, redis-cached.
func GetCurrentFinancialYear(ctx context.Context) (*FinancialYear, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	var cached FinancialYear
	exists, err := config.GetRedisObject(currentYearCachePrefix+tenantId, &cached)
	if err == nil && exists && cached.ID > 0 {
		return &cached, nil
	}

	db := config.GetDB()
	var year FinancialYear
	err = db.WithContext(ctx).
		Where("tenant_id = ? AND is_current = ?", tenantId, true).
		First(&year).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	_ = config.SetRedisObject(currentYearCachePrefix+tenantId, &year, utils.GetCacheLifespan())
	return &year, nil
}

func invalidateCurrentYearCache(tenantId string) {
	_ = config.RemoveRedisKey(currentYearCachePrefix + tenantId)
}

// FindYearContaining resolves the year a transaction date falls into,
// or nil when the date is outside every period.
func FindYearContaining(tx *gorm.DB, tenantId string, date time.Time) (*FinancialYear, error) {
	var year FinancialYear
	err := tx.
		Where("tenant_id = ? AND start_date <= ? AND end_date >= ?", tenantId, date, date).
		First(&year).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &year, nil
}

// GetFinancialYearById2 fetches a year on an explicit handle (used inside
// posting transactions).
func GetFinancialYearById2(tx *gorm.DB, tenantId string, id int) (*FinancialYear, error) {
	var year FinancialYear
	err := tx.Where("tenant_id = ?", tenantId).First(&year, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &year, nil
}

// GetAllFinancialYears2 loads the tenant's full year sequence in
// chronological order on an explicit handle.
func GetAllFinancialYears2(tx *gorm.DB, tenantId string) ([]*FinancialYear, error) {
	var years []*FinancialYear
	err := tx.Where("tenant_id = ?", tenantId).Find(&years).Error
	if err != nil {
		return nil, err
	}
	SortYearsChronological(years)
	return years, nil
}

// GetFinancialYearStats aggregates income/expense totals and account counts
// for one year.
func GetFinancialYearStats(ctx context.Context, id int) (*FinancialYearWithStats, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	year, err := utils.FetchModel[FinancialYear](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var sums struct {
		TotalIncome  decimal.Decimal
		TotalExpense decimal.Decimal
		TxnCount     int
	}
	err = db.WithContext(ctx).Raw(`
		SELECT
			COALESCE(SUM(CASE WHEN transaction_type = 'income' THEN amount ELSE 0 END), 0) AS total_income,
			COALESCE(SUM(CASE WHEN transaction_type = 'expense' THEN amount ELSE 0 END), 0) AS total_expense,
			COUNT(id) AS txn_count
		FROM transactions
		WHERE tenant_id = ? AND fiscal_year_id = ?
	`, tenantId, id).Scan(&sums).Error
	if err != nil {
		return nil, err
	}

	var activeAccounts int64
	err = db.WithContext(ctx).Model(&AccountYearBalance{}).
		Where("tenant_id = ? AND financial_year_id = ?", tenantId, id).
		Distinct("account_id").Count(&activeAccounts).Error
	if err != nil {
		return nil, err
	}

	stats := FinancialYearWithStats{
		FinancialYear:       *year,
		TotalIncome:         sums.TotalIncome,
		TotalExpense:        sums.TotalExpense,
		NetBalance:          sums.TotalIncome.Sub(sums.TotalExpense),
		ActiveAccountsCount: int(activeAccounts),
	}
	stats.TotalTransactionsCount = sums.TxnCount
	return &stats, nil
}

func clearCurrentYear(tx *gorm.DB, tenantId string, excludeId int) error {
	return tx.Model(&FinancialYear{}).
		Where("tenant_id = ? AND is_current = ? AND id != ?", tenantId, true, excludeId).
		Update("is_current", false).Error
}
