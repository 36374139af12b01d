package workflow

import (
	"time"

	"github.com/okkarsoft/moneybook_backend/models"
	"github.com/shopspring/decimal"
)

// TxnSums is one account's transaction aggregate within one year.
type TxnSums struct {
	TotalIncome  decimal.Decimal
	TotalExpense decimal.Decimal
	TxnCount     int
}

// ComputedRow is one (year, account) cell produced by the cascade fold.
type ComputedRow struct {
	FinancialYearId int
	AccountId       int
	OpeningBalance  decimal.Decimal
	ClosingBalance  decimal.Decimal
	TotalIncome     decimal.Decimal
	TotalExpense    decimal.Decimal
	TxnCount        int
}

// SumsLookup resolves the transaction sums of a (year, account) cell.
// Cells with no transactions return zero sums.
type SumsLookup func(yearId int, accountId int) TxnSums

// FoldCascade runs the balance chain forward over years (which must already
// be in chronological order) for every account in accountIds.
//
// For each account the fold carries a running balance: the first folded
// year's opening comes from seedOpenings (absent means zero), every later
// year's opening is the previous year's closing, and each closing is
// opening + income - expense. The result is fully determined by the inputs,
// so re-running the fold over unchanged data reproduces identical rows.
func FoldCascade(years []*models.FinancialYear, accountIds []int, seedOpenings map[int]decimal.Decimal, sums SumsLookup) []ComputedRow {
	rows := make([]ComputedRow, 0, len(years)*len(accountIds))
	carried := make(map[int]decimal.Decimal, len(accountIds))
	for _, accountId := range accountIds {
		carried[accountId] = seedOpenings[accountId]
	}

	for _, year := range years {
		for _, accountId := range accountIds {
			row := ComputeYearBalance(year.ID, accountId, carried[accountId], sums(year.ID, accountId))
			rows = append(rows, row)
			carried[accountId] = row.ClosingBalance
		}
	}
	return rows
}

// ComputeYearBalance computes one (year, account) cell from the closing
// balance carried in from the preceding year. Pure; an account with no
// transactions in the year keeps closing equal to opening.
func ComputeYearBalance(yearId int, accountId int, priorClosing decimal.Decimal, s TxnSums) ComputedRow {
	return ComputedRow{
		FinancialYearId: yearId,
		AccountId:       accountId,
		OpeningBalance:  priorClosing,
		ClosingBalance:  priorClosing.Add(s.TotalIncome).Sub(s.TotalExpense),
		TotalIncome:     s.TotalIncome,
		TotalExpense:    s.TotalExpense,
		TxnCount:        s.TxnCount,
	}
}

// SumsFromRows builds a SumsLookup from grouped query rows.
func SumsFromRows(rows []*models.TxnYearAccountSum) SumsLookup {
	index := make(map[[2]int]TxnSums, len(rows))
	for _, row := range rows {
		index[[2]int{row.FiscalYearId, row.AccountId}] = TxnSums{
			TotalIncome:  row.TotalIncome,
			TotalExpense: row.TotalExpense,
			TxnCount:     row.TxnCount,
		}
	}
	return func(yearId int, accountId int) TxnSums {
		return index[[2]int{yearId, accountId}]
	}
}

// NewBalanceRow creates the snapshot record for a cell that has never been
// stored. A row materializing inside a closed year is frozen immediately;
// existing rows keep whatever flag the closing workflow gave them.
func NewBalanceRow(tenantId string, row ComputedRow, yearClosed bool) *models.AccountYearBalance {
	return &models.AccountYearBalance{
		TenantId:        tenantId,
		FinancialYearId: row.FinancialYearId,
		AccountId:       row.AccountId,
		IsFinal:         yearClosed,
	}
}

// ApplyComputedRow copies the fold result into a snapshot record and stamps
// the recalculation metadata.
func ApplyComputedRow(target *models.AccountYearBalance, row ComputedRow, now time.Time) {
	target.FinancialYearId = row.FinancialYearId
	target.AccountId = row.AccountId
	target.OpeningBalance = row.OpeningBalance
	target.ClosingBalance = row.ClosingBalance
	target.TotalIncome = row.TotalIncome
	target.TotalExpense = row.TotalExpense
	target.TransactionCount = row.TxnCount
	target.LastRecalculatedAt = &now
	target.RecalculationCount++
}
