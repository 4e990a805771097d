package services

import (
	"testing"

	"gastos/internal/core"
)

func TestFingerprint(t *testing.T) {
	jan := mk("2025-01")
	amount := core.MustMoney("10.00")
	base := Fingerprint("u", jan, "Rent", amount, nil, nil)

	if len(base) != 64 {
		t.Fatalf("fingerprint %q is not hex sha256", base)
	}
	if got := Fingerprint("u", jan, "  Rent ", core.MustMoney("10"), nil, nil); got != base {
		t.Error("surrounding spaces or amount scale changed the fingerprint")
	}

	differs := map[string]string{
		"user":        Fingerprint("v", jan, "Rent", amount, nil, nil),
		"month":       Fingerprint("u", mk("2025-02"), "Rent", amount, nil, nil),
		"description": Fingerprint("u", jan, "rent", amount, nil, nil),
		"amount":      Fingerprint("u", jan, "Rent", core.MustMoney("10.01"), nil, nil),
		"origin":      Fingerprint("u", jan, "Rent", amount, core.StringPtr("visa"), nil),
		"debtor":      Fingerprint("u", jan, "Rent", amount, nil, core.StringPtr("ana")),
		"empty ref":   Fingerprint("u", jan, "Rent", amount, core.StringPtr(""), nil),
	}
	for name, fp := range differs {
		if fp == base {
			t.Errorf("changing %s kept the fingerprint", name)
		}
	}
}

func TestFingerprintOfUsesCalendarMonth(t *testing.T) {
	a := newExpense("a", "u", "Rent", "10.00", date(2025, 1, 2))
	b := newExpense("b", "u", "Rent", "10.00", date(2025, 1, 28))
	feb := mk("2025-02")
	b.BillingMonth = &feb

	if FingerprintOf(a) != FingerprintOf(b) {
		t.Error("records of the same calendar month should share a fingerprint")
	}
}
