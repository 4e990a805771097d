package services

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"gastos/internal/billing"
	"gastos/internal/core"
	"gastos/internal/storage"
)

// OriginResolver loads origins through a short-lived in-process cache.
// Misses are read through the Store passed by the caller, so a lookup made
// inside a transaction stays on that transaction.
type OriginResolver struct {
	cache *gocache.Cache
	calc  *billing.Calculator
}

func NewOriginResolver(ttl time.Duration, calc *billing.Calculator) *OriginResolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if calc == nil {
		calc = billing.NewCalculator()
	}
	return &OriginResolver{
		cache: gocache.New(ttl, 2*ttl),
		calc:  calc,
	}
}

// Resolve returns nil for a nil origin id.
func (r *OriginResolver) Resolve(ctx context.Context, st storage.Store, userID string, originID *string) (*core.Origin, error) {
	if originID == nil {
		return nil, nil
	}
	key := userID + "/" + *originID
	if v, ok := r.cache.Get(key); ok {
		o := v.(core.Origin)
		return &o, nil
	}

	o, err := st.GetOrigin(ctx, userID, *originID)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, o)
	return &o, nil
}

// BillingMonth derives the billing month of an expense dated txDate and
// paid with originID.
func (r *OriginResolver) BillingMonth(ctx context.Context, st storage.Store, userID string, originID *string, txDate time.Time) (*core.MonthKey, error) {
	origin, err := r.Resolve(ctx, st, userID, originID)
	if err != nil {
		return nil, err
	}
	return r.calc.ForOrigin(origin, txDate)
}

