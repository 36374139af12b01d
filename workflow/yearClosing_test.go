package workflow

import (
	"testing"
	"time"
)

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestNextYearSpan(t *testing.T) {
	cases := []struct {
		closedEnd string
		wantStart string
		wantEnd   string
	}{
		{"2024-12-31", "2025-01-01", "2025-12-31"},
		{"2025-03-31", "2025-04-01", "2026-03-31"},
		// Across a leap day.
		{"2023-02-28", "2023-03-01", "2024-02-29"},
	}
	for _, tc := range cases {
		start, end := NextYearSpan(date(tc.closedEnd))
		if !start.Equal(date(tc.wantStart)) || !end.Equal(date(tc.wantEnd)) {
			t.Fatalf("NextYearSpan(%s) = %s..%s, want %s..%s",
				tc.closedEnd, start.Format("2006-01-02"), end.Format("2006-01-02"), tc.wantStart, tc.wantEnd)
		}
	}
}

func TestNextYearName(t *testing.T) {
	if got := NextYearName(date("2025-01-01"), date("2025-12-31")); got != "FY 2025" {
		t.Fatalf("expected 'FY 2025', got %q", got)
	}
	if got := NextYearName(date("2025-04-01"), date("2026-03-31")); got != "FY 2025-2026" {
		t.Fatalf("expected 'FY 2025-2026', got %q", got)
	}
}

func TestJoinErrors(t *testing.T) {
	if got := joinErrors(nil); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
	if got := joinErrors([]string{"a", "b"}); got != "a; b" {
		t.Fatalf("expected 'a; b', got %q", got)
	}
}
