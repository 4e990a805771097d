// Package billing derives credit-card style billing months.
//
// A card statement closes on a configured day of the month. When that day
// is not a business day the closing moves to the previous or the next
// business day, depending on the origin's roll-over policy. Transactions at
// or before the effective closing instant belong to the month of the
// transaction; later ones roll into the following month. Every comparison
// happens in UTC.
package billing

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"gastos/internal/core"
)

// Calculator holds an optional holiday calendar. The zero value only treats
// Saturdays and Sundays as non-business days.
type Calculator struct {
	holidays map[string]struct{}
}

// NewCalculator returns a calculator that also skips the given dates.
func NewCalculator(holidays ...time.Time) *Calculator {
	c := &Calculator{holidays: make(map[string]struct{}, len(holidays))}
	for _, h := range holidays {
		c.holidays[h.UTC().Format(time.DateOnly)] = struct{}{}
	}
	return c
}

var defaultCalculator = &Calculator{}

func (c *Calculator) isBusinessDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if c == nil || len(c.holidays) == 0 {
		return true
	}
	_, holiday := c.holidays[d.Format(time.DateOnly)]
	return !holiday
}

// AdjustToBusinessDay moves d to the closest business day in the direction
// of the policy. Saturday becomes Friday (previous) or Monday (next); Sunday
// becomes Friday (previous) or Monday (next). Business days are unchanged.
func (c *Calculator) AdjustToBusinessDay(d time.Time, policy core.RolloverPolicy) time.Time {
	step := -1
	if policy.OrDefault() == core.NextBusinessDay {
		step = 1
	}
	adjusted := d.UTC()
	for !c.isBusinessDay(adjusted) {
		adjusted = adjusted.AddDate(0, 0, step)
	}
	return adjusted
}

// EffectiveClosingDate is the closing instant, 23:59:59.999 UTC on closingDay
// of the given month, after business-day adjustment. A closing day past the
// end of a short month closes on its last day.
func (c *Calculator) EffectiveClosingDate(year int, month time.Month, closingDay int, policy core.RolloverPolicy) time.Time {
	day := closingDay
	if last := core.DaysIn(year, month); day > last {
		day = last
	}
	closing := time.Date(year, month, day, 23, 59, 59, int(999*time.Millisecond), time.UTC)
	return c.AdjustToBusinessDay(closing, policy)
}

// DeriveBillingMonth returns the billing month of a transaction. Equality
// with the closing instant stays in the current month.
func (c *Calculator) DeriveBillingMonth(txDate time.Time, closingDay int, policy core.RolloverPolicy) (core.MonthKey, error) {
	if closingDay < 1 || closingDay > 31 {
		return core.MonthKey{}, fmt.Errorf("closing day %d out of range 1-31", closingDay)
	}
	tx := txDate.UTC()
	current := core.MonthOf(tx)
	closing := c.EffectiveClosingDate(current.Year, current.Month, closingDay, policy)
	if !tx.After(closing) {
		return current, nil
	}
	return current.Next(), nil
}

// ForOrigin returns the billing month for an expense paid with origin. It is
// nil when there is no origin or the origin is not a billing-cycle
// instrument. A card origin without a valid closing day is a
// ConfigurationError.
func (c *Calculator) ForOrigin(origin *core.Origin, txDate time.Time) (*core.MonthKey, error) {
	if origin == nil || !IsCardType(origin.Type) {
		return nil, nil
	}
	if origin.ClosingDay == nil {
		return nil, &core.ConfigurationError{OriginID: origin.ID, Reason: "card origin has no closing day"}
	}
	m, err := c.DeriveBillingMonth(txDate, *origin.ClosingDay, origin.RolloverPolicy)
	if err != nil {
		return nil, &core.ConfigurationError{OriginID: origin.ID, Reason: err.Error()}
	}
	return &m, nil
}

// AdjustToBusinessDay moves d off weekends using a calendar without
// holidays. See Calculator.AdjustToBusinessDay.
func AdjustToBusinessDay(d time.Time, policy core.RolloverPolicy) time.Time {
	return defaultCalculator.AdjustToBusinessDay(d, policy)
}

// EffectiveClosingDate is Calculator.EffectiveClosingDate without holidays.
func EffectiveClosingDate(year int, month time.Month, closingDay int, policy core.RolloverPolicy) time.Time {
	return defaultCalculator.EffectiveClosingDate(year, month, closingDay, policy)
}

// DeriveBillingMonth is Calculator.DeriveBillingMonth without holidays.
func DeriveBillingMonth(txDate time.Time, closingDay int, policy core.RolloverPolicy) (core.MonthKey, error) {
	return defaultCalculator.DeriveBillingMonth(txDate, closingDay, policy)
}

var cardTypes = map[string]struct{}{
	"card":              {},
	"credit card":       {},
	"credit":            {},
	"cartao":            {},
	"cartao de credito": {},
	"credito":           {},
}

// IsCardType reports whether an origin type names a billing-cycle
// instrument. The comparison ignores case, accents and repeated spaces, so
// "Cartão de Crédito" and "cartao de credito" are the same type.
func IsCardType(originType string) bool {
	_, ok := cardTypes[NormalizeType(originType)]
	return ok
}

// NormalizeType folds an origin type for comparison.
func NormalizeType(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
