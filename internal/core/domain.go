package core

import (
	"strings"
	"time"
)

const (
	Monthly RecurrenceType = "monthly"
	Weekly  RecurrenceType = "weekly"
	Yearly  RecurrenceType = "yearly"
)

const (
	PreviousBusinessDay RolloverPolicy = "PREVIOUS_BUSINESS_DAY"
	NextBusinessDay     RolloverPolicy = "NEXT_BUSINESS_DAY"
)

const maxDescriptionLength = 200

type (
	RecurrenceType string

	// RolloverPolicy decides where a closing date that lands on a
	// non-business day is moved to.
	RolloverPolicy string

	Expense struct {
		ID          string
		UserID      string
		Description string
		Category    string
		Amount      Money
		Date        time.Time

		OriginID *string
		DebtorID *string

		// SharedAmount is the part of Amount owed by the debtor.
		SharedAmount *Money

		Parcela      string // installment label, free text or "k/n"
		Installments *int

		Recurring      bool
		RecurrenceType *RecurrenceType
		Fixed          bool

		BillingMonth       *MonthKey
		Fingerprint        string
		LastReplicatedAt   *time.Time
		InstallmentGroupID *string
		SourceID           *string // set on replicated occurrences

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Origin struct {
		ID             string
		UserID         string
		Name           string
		Type           string
		ClosingDay     *int
		RolloverPolicy RolloverPolicy
	}
)

func (t RecurrenceType) IsValid() bool {
	switch t {
	case Monthly, Weekly, Yearly:
		return true
	default:
		return false
	}
}

func (p RolloverPolicy) IsValid() bool {
	return p == PreviousBusinessDay || p == NextBusinessDay
}

// OrDefault returns PREVIOUS_BUSINESS_DAY for an unset policy.
func (p RolloverPolicy) OrDefault() RolloverPolicy {
	if p == "" {
		return PreviousBusinessDay
	}
	return p
}

// CalendarMonth is the literal month of the transaction date, in UTC.
func (e Expense) CalendarMonth() MonthKey {
	return MonthOf(e.Date)
}

// Validate checks the fields a caller controls. It never touches the store.
func (e Expense) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return NewValidationError("userId", "cannot be empty")
	}
	if e.Date.IsZero() {
		return NewValidationError("date", "cannot be zero")
	}
	if len(strings.TrimSpace(e.Description)) == 0 {
		return NewValidationError("description", "cannot be empty")
	}
	if len(e.Description) > maxDescriptionLength {
		return NewValidationError("description", "too long (max 200 characters)")
	}
	if strings.TrimSpace(e.Category) == "" {
		return NewValidationError("category", "cannot be empty")
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if e.SharedAmount != nil {
		if e.SharedAmount.IsNegative() {
			return NewValidationError("sharedAmount", "cannot be negative")
		}
		if e.SharedAmount.GreaterThan(e.Amount.Decimal) {
			return NewValidationError("sharedAmount", "shared amount exceeds total amount")
		}
	}
	if e.Installments != nil && *e.Installments < 1 {
		return NewValidationError("installments", "must be at least 1")
	}
	return ValidateRecurrence(e.Recurring, e.RecurrenceType, e.Fixed)
}

// ValidateRecurrence enforces that recurring and fixed are exclusive and
// that a recurrence type travels only with recurring entries.
func ValidateRecurrence(recurring bool, recurrenceType *RecurrenceType, fixed bool) error {
	if recurring && fixed {
		return NewValidationError("recurring", "an expense cannot be both recurring and fixed")
	}
	if recurring {
		if recurrenceType == nil {
			return NewValidationError("recurrenceType", "required for recurring expenses")
		}
		if !recurrenceType.IsValid() {
			return NewValidationError("recurrenceType", "must be one of monthly, weekly, yearly")
		}
	} else if recurrenceType != nil {
		return NewValidationError("recurrenceType", "only allowed on recurring expenses")
	}
	return nil
}

func (o Origin) Validate() error {
	if strings.TrimSpace(o.UserID) == "" {
		return NewValidationError("userId", "cannot be empty")
	}
	if strings.TrimSpace(o.Type) == "" {
		return NewValidationError("type", "cannot be empty")
	}
	if o.ClosingDay != nil && (*o.ClosingDay < 1 || *o.ClosingDay > 31) {
		return NewValidationError("closingDay", "must be between 1 and 31")
	}
	if o.RolloverPolicy != "" && !o.RolloverPolicy.IsValid() {
		return NewValidationError("billingRolloverPolicy", "must be PREVIOUS_BUSINESS_DAY or NEXT_BUSINESS_DAY")
	}
	return nil
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string { return &s }

// IntPtr returns a pointer to a copy of n.
func IntPtr(n int) *int { return &n }

// SameRef reports whether two nullable references are equal, treating two
// nils as equal and nil as different from any id.
func SameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
