package workflow

import (
	"testing"
	"time"

	"github.com/okkarsoft/moneybook_backend/models"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. The cascade core is a pure
// fold over (years x accounts); the database layer only feeds it grouped
// sums and persists its rows.

func mkYear(id int, start, end string) *models.FinancialYear {
	s, _ := time.Parse("2006-01-02", start)
	e, _ := time.Parse("2006-01-02", end)
	return &models.FinancialYear{ID: id, StartDate: s, EndDate: e, Status: models.FinancialYearStatusOpen}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func sumsTable(rows map[[2]int]TxnSums) SumsLookup {
	return func(yearId, accountId int) TxnSums {
		return rows[[2]int{yearId, accountId}]
	}
}

func findRow(t *testing.T, rows []ComputedRow, yearId, accountId int) ComputedRow {
	t.Helper()
	for _, r := range rows {
		if r.FinancialYearId == yearId && r.AccountId == accountId {
			return r
		}
	}
	t.Fatalf("no computed row for year=%d account=%d", yearId, accountId)
	return ComputedRow{}
}

func TestFoldCascade_ChainInvariant(t *testing.T) {
	years := []*models.FinancialYear{
		mkYear(1, "2023-01-01", "2023-12-31"),
		mkYear(2, "2024-01-01", "2024-12-31"),
		mkYear(3, "2025-01-01", "2025-12-31"),
	}
	sums := sumsTable(map[[2]int]TxnSums{
		{1, 10}: {TotalIncome: dec("100.50"), TotalExpense: dec("40.25"), TxnCount: 3},
		{2, 10}: {TotalIncome: dec("10"), TotalExpense: dec("70"), TxnCount: 2},
		{3, 10}: {TotalIncome: dec("0.10"), TxnCount: 1},
	})

	rows := FoldCascade(years, []int{10}, map[int]decimal.Decimal{10: dec("500")}, sums)

	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i := 0; i < len(rows)-1; i++ {
		if !rows[i].ClosingBalance.Equal(rows[i+1].OpeningBalance) {
			t.Fatalf("chain broken between year %d and %d: closing=%s opening=%s",
				rows[i].FinancialYearId, rows[i+1].FinancialYearId,
				rows[i].ClosingBalance, rows[i+1].OpeningBalance)
		}
	}
	last := findRow(t, rows, 3, 10)
	if !last.ClosingBalance.Equal(dec("500.35")) {
		t.Fatalf("expected final closing 500.35, got %s", last.ClosingBalance)
	}
}

func TestFoldCascade_Arithmetic(t *testing.T) {
	years := []*models.FinancialYear{mkYear(1, "2025-01-01", "2025-12-31")}
	sums := sumsTable(map[[2]int]TxnSums{
		// Amounts that lose precision under binary floats.
		{1, 7}: {TotalIncome: dec("0.10"), TotalExpense: dec("0.30"), TxnCount: 2},
	})

	rows := FoldCascade(years, []int{7}, map[int]decimal.Decimal{7: dec("0.20")}, sums)

	row := findRow(t, rows, 1, 7)
	if !row.ClosingBalance.Equal(dec("0.00")) {
		t.Fatalf("expected closing 0.00, got %s", row.ClosingBalance)
	}
	if !row.OpeningBalance.Add(row.TotalIncome).Sub(row.TotalExpense).Equal(row.ClosingBalance) {
		t.Fatalf("closing != opening + income - expense")
	}
}

func TestFoldCascade_Idempotent(t *testing.T) {
	years := []*models.FinancialYear{
		mkYear(1, "2023-01-01", "2023-12-31"),
		mkYear(2, "2024-01-01", "2024-12-31"),
	}
	sums := sumsTable(map[[2]int]TxnSums{
		{1, 1}: {TotalIncome: dec("123.45"), TotalExpense: dec("67.89"), TxnCount: 5},
		{2, 1}: {TotalIncome: dec("1000"), TxnCount: 1},
		{1, 2}: {TotalExpense: dec("9.99"), TxnCount: 1},
	})
	seed := map[int]decimal.Decimal{1: dec("10"), 2: dec("20")}

	first := FoldCascade(years, []int{1, 2}, seed, sums)
	second := FoldCascade(years, []int{1, 2}, seed, sums)

	if len(first) != len(second) {
		t.Fatalf("row counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.FinancialYearId != b.FinancialYearId || a.AccountId != b.AccountId ||
			!a.OpeningBalance.Equal(b.OpeningBalance) || !a.ClosingBalance.Equal(b.ClosingBalance) ||
			!a.TotalIncome.Equal(b.TotalIncome) || !a.TotalExpense.Equal(b.TotalExpense) ||
			a.TxnCount != b.TxnCount {
			t.Fatalf("row %d differs between runs: %+v vs %+v", i, a, b)
		}
	}
}

// Mirrors the three-period ripple: P1 closes at 1000, P2 records +500/-200,
// P2 closes into P3. An edit in P1 raising its expense by 100 must flow
// through all three periods in one cascade run.
func TestFoldCascade_RipplePropagation(t *testing.T) {
	years := []*models.FinancialYear{
		mkYear(1, "2023-01-01", "2023-12-31"),
		mkYear(2, "2024-01-01", "2024-12-31"),
		mkYear(3, "2025-01-01", "2025-12-31"),
	}
	const acc = 42

	before := sumsTable(map[[2]int]TxnSums{
		{1, acc}: {TotalIncome: dec("1200"), TotalExpense: dec("200"), TxnCount: 2},
		{2, acc}: {TotalIncome: dec("500"), TotalExpense: dec("200"), TxnCount: 2},
	})
	seed := map[int]decimal.Decimal{acc: dec("0")}

	rows := FoldCascade(years, []int{acc}, seed, before)
	if !findRow(t, rows, 1, acc).ClosingBalance.Equal(dec("1000")) {
		t.Fatalf("P1 closing: expected 1000, got %s", findRow(t, rows, 1, acc).ClosingBalance)
	}
	if !findRow(t, rows, 2, acc).ClosingBalance.Equal(dec("1300")) {
		t.Fatalf("P2 closing: expected 1300, got %s", findRow(t, rows, 2, acc).ClosingBalance)
	}
	if !findRow(t, rows, 3, acc).OpeningBalance.Equal(dec("1300")) {
		t.Fatalf("P3 opening: expected 1300, got %s", findRow(t, rows, 3, acc).OpeningBalance)
	}

	// Amend the P1 expense from 200 to 300 and re-run from P1.
	after := sumsTable(map[[2]int]TxnSums{
		{1, acc}: {TotalIncome: dec("1200"), TotalExpense: dec("300"), TxnCount: 2},
		{2, acc}: {TotalIncome: dec("500"), TotalExpense: dec("200"), TxnCount: 2},
	})
	rows = FoldCascade(years, []int{acc}, seed, after)

	if !findRow(t, rows, 1, acc).ClosingBalance.Equal(dec("900")) {
		t.Fatalf("P1 closing after amendment: expected 900, got %s", findRow(t, rows, 1, acc).ClosingBalance)
	}
	if !findRow(t, rows, 2, acc).OpeningBalance.Equal(dec("900")) {
		t.Fatalf("P2 opening after amendment: expected 900, got %s", findRow(t, rows, 2, acc).OpeningBalance)
	}
	if !findRow(t, rows, 2, acc).ClosingBalance.Equal(dec("1200")) {
		t.Fatalf("P2 closing after amendment: expected 1200, got %s", findRow(t, rows, 2, acc).ClosingBalance)
	}
	if !findRow(t, rows, 3, acc).OpeningBalance.Equal(dec("1200")) {
		t.Fatalf("P3 opening after amendment: expected 1200, got %s", findRow(t, rows, 3, acc).OpeningBalance)
	}
}

func TestFoldCascade_MissingSumsMeansZero(t *testing.T) {
	years := []*models.FinancialYear{
		mkYear(1, "2024-01-01", "2024-12-31"),
		mkYear(2, "2025-01-01", "2025-12-31"),
	}
	sums := SumsFromRows(nil)

	rows := FoldCascade(years, []int{5}, map[int]decimal.Decimal{5: dec("77.77")}, sums)

	for _, r := range rows {
		if !r.OpeningBalance.Equal(dec("77.77")) || !r.ClosingBalance.Equal(dec("77.77")) {
			t.Fatalf("empty years must carry the opening forward unchanged, got %+v", r)
		}
		if r.TxnCount != 0 {
			t.Fatalf("expected zero txn count, got %d", r.TxnCount)
		}
	}
}

func TestComputeYearBalance_ZeroTransactions(t *testing.T) {
	row := ComputeYearBalance(4, 11, dec("250.75"), TxnSums{})

	if !row.ClosingBalance.Equal(dec("250.75")) {
		t.Fatalf("zero transactions must leave closing == opening, got %s", row.ClosingBalance)
	}
	if row.TxnCount != 0 {
		t.Fatalf("expected zero txn count, got %d", row.TxnCount)
	}
}

func TestComputeYearBalance_Arithmetic(t *testing.T) {
	row := ComputeYearBalance(1, 1, dec("100"), TxnSums{
		TotalIncome:  dec("55.55"),
		TotalExpense: dec("5.55"),
		TxnCount:     3,
	})

	if !row.ClosingBalance.Equal(dec("150.00")) {
		t.Fatalf("expected closing 150.00, got %s", row.ClosingBalance)
	}
	if !row.OpeningBalance.Equal(dec("100")) {
		t.Fatalf("opening must equal the carried prior closing, got %s", row.OpeningBalance)
	}
}

func TestSumsFromRows(t *testing.T) {
	lookup := SumsFromRows([]*models.TxnYearAccountSum{
		{FiscalYearId: 1, AccountId: 2, TotalIncome: dec("5"), TotalExpense: dec("1"), TxnCount: 4},
	})

	got := lookup(1, 2)
	if !got.TotalIncome.Equal(dec("5")) || !got.TotalExpense.Equal(dec("1")) || got.TxnCount != 4 {
		t.Fatalf("unexpected sums: %+v", got)
	}
	if empty := lookup(9, 9); !empty.TotalIncome.IsZero() || empty.TxnCount != 0 {
		t.Fatalf("missing cell must be zero, got %+v", empty)
	}
}

func TestNewBalanceRow_FinalInsideClosedYear(t *testing.T) {
	row := ComputedRow{FinancialYearId: 3, AccountId: 8}

	open := NewBalanceRow("tenant-1", row, false)
	if open.IsFinal {
		t.Fatal("rows in an open year must not be final")
	}

	closed := NewBalanceRow("tenant-1", row, true)
	if !closed.IsFinal {
		t.Fatal("a row materializing in a closed year must be final")
	}
	if closed.TenantId != "tenant-1" || closed.FinancialYearId != 3 || closed.AccountId != 8 {
		t.Fatalf("identity fields not copied: %+v", closed)
	}
}

func TestApplyComputedRow_IncrementsRecalculationCount(t *testing.T) {
	now := time.Now().UTC()
	target := &models.AccountYearBalance{RecalculationCount: 2}

	ApplyComputedRow(target, ComputedRow{
		FinancialYearId: 1,
		AccountId:       3,
		OpeningBalance:  dec("10"),
		ClosingBalance:  dec("15"),
		TotalIncome:     dec("5"),
	}, now)

	if target.RecalculationCount != 3 {
		t.Fatalf("expected recalculation count 3, got %d", target.RecalculationCount)
	}
	if target.LastRecalculatedAt == nil || !target.LastRecalculatedAt.Equal(now) {
		t.Fatalf("recalculation timestamp not stamped")
	}
	if !target.ClosingBalance.Equal(dec("15")) {
		t.Fatalf("closing not applied")
	}
}
