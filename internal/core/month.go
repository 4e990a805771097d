package core

import (
	"fmt"
	"time"
)

const monthLayout = "2006-01"

// MonthKey labels a calendar or billing month as YYYY-MM.
type MonthKey struct {
	Year  int
	Month time.Month
}

// MonthOf returns the UTC calendar month of t.
func MonthOf(t time.Time) MonthKey {
	u := t.UTC()
	return MonthKey{Year: u.Year(), Month: u.Month()}
}

func NewMonthKey(year int, month time.Month) MonthKey {
	return MonthOf(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
}

// ParseMonthKey parses a YYYY-MM label.
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return MonthKey{}, NewValidationError("month", fmt.Sprintf("invalid month %q: expected YYYY-MM", s))
	}
	return MonthOf(t), nil
}

func (m MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m MonthKey) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// Start is the first instant of the month in UTC.
func (m MonthKey) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Next rolls over December into January of the following year.
func (m MonthKey) Next() MonthKey {
	return MonthOf(m.Start().AddDate(0, 1, 0))
}

func (m MonthKey) Before(other MonthKey) bool {
	return m.Start().Before(other.Start())
}

func (m MonthKey) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MonthKey) UnmarshalText(b []byte) error {
	parsed, err := ParseMonthKey(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// DaysIn returns the number of days of the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonthClamped moves t forward by one calendar month keeping anchorDay
// as the day of month. When the target month is shorter the last day of the
// month is used, so Jan 31 steps to Feb 28/29 and then back to Mar 31.
func AddMonthClamped(t time.Time, anchorDay int) time.Time {
	u := t.UTC()
	target := time.Date(u.Year(), u.Month()+1, 1, u.Hour(), u.Minute(), u.Second(), u.Nanosecond(), time.UTC)
	day := anchorDay
	if last := DaysIn(target.Year(), target.Month()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, u.Hour(), u.Minute(), u.Second(), u.Nanosecond(), time.UTC)
}
