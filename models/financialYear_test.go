package models

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okkarsoft/moneybook_backend/utils"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func year(id int, start, end string) *FinancialYear {
	return &FinancialYear{ID: id, StartDate: day(start), EndDate: day(end)}
}

func TestSortYearsChronological(t *testing.T) {
	years := []*FinancialYear{
		year(3, "2025-01-01", "2025-12-31"),
		year(1, "2023-01-01", "2023-12-31"),
		year(2, "2024-01-01", "2024-12-31"),
	}
	SortYearsChronological(years)

	for i, wantId := range []int{1, 2, 3} {
		if years[i].ID != wantId {
			t.Fatalf("position %d: expected year %d, got %d", i, wantId, years[i].ID)
		}
	}
}

func TestSortYearsChronological_TieBreaks(t *testing.T) {
	// Same start: shorter range first. Same start and end: lower id first.
	years := []*FinancialYear{
		year(9, "2024-01-01", "2024-12-31"),
		year(4, "2024-01-01", "2024-06-30"),
		year(7, "2024-01-01", "2024-12-31"),
	}
	SortYearsChronological(years)

	for i, wantId := range []int{4, 7, 9} {
		if years[i].ID != wantId {
			t.Fatalf("position %d: expected year %d, got %d", i, wantId, years[i].ID)
		}
	}
}

func TestPrecedingYear(t *testing.T) {
	y1 := year(1, "2023-01-01", "2023-12-31")
	y2 := year(2, "2024-01-01", "2024-12-31")
	y3 := year(3, "2025-01-01", "2025-12-31")
	sorted := []*FinancialYear{y1, y2, y3}

	if got := PrecedingYear(sorted, y1); got != nil {
		t.Fatalf("earliest year must have no predecessor, got %d", got.ID)
	}
	if got := PrecedingYear(sorted, y2); got == nil || got.ID != 1 {
		t.Fatalf("expected predecessor 1 for year 2")
	}
	if got := PrecedingYear(sorted, y3); got == nil || got.ID != 2 {
		t.Fatalf("expected predecessor 2 for year 3")
	}
}

func TestFindOverlappingYear(t *testing.T) {
	years := []*FinancialYear{
		year(1, "2024-01-01", "2024-12-31"),
	}

	// Both boundaries inclusive: a range starting on the existing end date overlaps.
	if got := FindOverlappingYear(years, day("2024-12-31"), day("2025-12-30"), 0); got == nil {
		t.Fatal("range starting on the last day of an existing year must overlap")
	}
	if got := FindOverlappingYear(years, day("2023-06-01"), day("2024-01-01"), 0); got == nil {
		t.Fatal("range ending on the first day of an existing year must overlap")
	}
	// Adjacent, non-touching ranges do not overlap.
	if got := FindOverlappingYear(years, day("2025-01-01"), day("2025-12-31"), 0); got != nil {
		t.Fatalf("adjacent range must not overlap, matched year %d", got.ID)
	}
	// A fully containing range overlaps.
	if got := FindOverlappingYear(years, day("2023-01-01"), day("2026-01-01"), 0); got == nil {
		t.Fatal("containing range must overlap")
	}
	// The excluded id is skipped (updates compare against the other years only).
	if got := FindOverlappingYear(years, day("2024-02-01"), day("2024-03-01"), 1); got != nil {
		t.Fatalf("excluded year must be skipped, matched year %d", got.ID)
	}
}

func TestFinancialYearMutationsRequireAdmin(t *testing.T) {
	ctx := utils.SetTenantIdInContext(context.Background(), "tenant-1")

	if _, err := CreateFinancialYear(ctx, &NewFinancialYear{
		YearName:  "FY 2024",
		StartDate: day("2024-01-01"),
		EndDate:   day("2024-12-31"),
	}); !errors.Is(err, utils.ErrorPermissionDenied) {
		t.Fatalf("create: expected ErrorPermissionDenied, got %v", err)
	}

	name := "Renamed"
	if _, err := UpdateFinancialYear(ctx, 1, &UpdateFinancialYearInput{
		YearName: &name,
	}); !errors.Is(err, utils.ErrorPermissionDenied) {
		t.Fatalf("update: expected ErrorPermissionDenied, got %v", err)
	}

	if _, err := DeleteFinancialYear(ctx, 1); !errors.Is(err, utils.ErrorPermissionDenied) {
		t.Fatalf("delete: expected ErrorPermissionDenied, got %v", err)
	}

	if _, err := SetCurrentFinancialYear(ctx, 1); !errors.Is(err, utils.ErrorPermissionDenied) {
		t.Fatalf("set-current: expected ErrorPermissionDenied, got %v", err)
	}
}

func TestFinancialYearContains(t *testing.T) {
	fy := year(1, "2024-01-01", "2024-12-31")

	if !fy.Contains(day("2024-01-01")) || !fy.Contains(day("2024-12-31")) {
		t.Fatal("boundary dates must be contained")
	}
	if fy.Contains(day("2023-12-31")) || fy.Contains(day("2025-01-01")) {
		t.Fatal("dates outside the range must not be contained")
	}
}
