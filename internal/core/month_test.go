package core

import (
	"testing"
	"time"
)

func TestMonthKey(t *testing.T) {
	m, err := ParseMonthKey("2024-12")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.String() != "2024-12" {
		t.Errorf("String() = %s", m)
	}
	if got := m.Next().String(); got != "2025-01" {
		t.Errorf("Next() = %s, want 2025-01", got)
	}
	if !m.Before(m.Next()) {
		t.Error("expected month to be before its successor")
	}
	if _, err := ParseMonthKey("2024-13"); err == nil {
		t.Error("expected error for month 13")
	}
	if _, err := ParseMonthKey("24-1"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestMonthOfUsesUTC(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	// 22:00 on Jan 31 in UTC-3 is already Feb 1 in UTC.
	d := time.Date(2025, 1, 31, 22, 0, 0, 0, loc)
	if got := MonthOf(d).String(); got != "2025-02" {
		t.Errorf("MonthOf = %s, want 2025-02", got)
	}
}

func TestAddMonthClamped(t *testing.T) {
	tests := []struct {
		name   string
		from   time.Time
		anchor int
		want   string
	}{
		{"plain", time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), 10, "2025-04-10"},
		{"clamp to february", time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), 31, "2025-02-28"},
		{"leap february", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 31, "2024-02-29"},
		{"back to anchor", time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), 31, "2025-03-31"},
		{"year rollover", time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC), 15, "2026-01-15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AddMonthClamped(tt.from, tt.anchor).Format("2006-01-02")
			if got != tt.want {
				t.Errorf("AddMonthClamped() = %s, want %s", got, tt.want)
			}
		})
	}
}
