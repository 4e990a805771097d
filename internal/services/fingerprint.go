package services

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"gastos/internal/core"
)

// Fingerprint identifies one monthly occurrence of an expense: two records
// of the same user, month, description, amount, origin and debtor share it.
func Fingerprint(userID string, month core.MonthKey, description string, amount core.Money, originID, debtorID *string) string {
	parts := []string{
		userID,
		month.String(),
		strings.TrimSpace(description),
		amount.String(),
		refString(originID),
		refString(debtorID),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// FingerprintOf computes the fingerprint of e in its calendar month.
func FingerprintOf(e core.Expense) string {
	return Fingerprint(e.UserID, e.CalendarMonth(), e.Description, e.Amount, e.OriginID, e.DebtorID)
}

func refString(p *string) string {
	if p == nil {
		return "\x00"
	}
	return *p
}
