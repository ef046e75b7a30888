package oracle

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/waterfall-labs/waterfall/params"
	"github.com/waterfall-labs/waterfall/pkg/util"
)

// PricePoint is one sample of an asset's mark price history.
type PricePoint struct {
	Time  int64           `json:"time"` // unix ms
	Price decimal.Decimal `json:"price"`
}

type marketState struct {
	symbol      string
	price       decimal.Decimal
	circulating decimal.Decimal
	history     []PricePoint
}

// Oracle maintains the mark price and a bounded history series per asset.
//
// Two update paths: after a matching pass the resting volume imbalance moves
// the price (UpdateAfterTrade); on quiet ticks a small symmetric random walk
// keeps it drifting (ApplyDrift). Every update clamps to the configured floor
// so the volume-ratio math can never divide into a zero or negative price.
type Oracle struct {
	mu      sync.RWMutex
	cfg     params.Pricing
	clock   util.Clock
	rng     *rand.Rand
	markets map[string]*marketState
}

// New creates an oracle. rng is injected so tests can seed it; a nil rng gets
// a time-seeded source.
func New(cfg params.Pricing, clock util.Clock, rng *rand.Rand) *Oracle {
	if clock == nil {
		clock = util.RealClock{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Oracle{
		cfg:     cfg,
		clock:   clock,
		rng:     rng,
		markets: make(map[string]*marketState),
	}
}

// Track starts price formation for an asset, seeding the history with
// minute-spaced synthetic points perturbed around the initial price. The
// current mark price becomes the last seeded point.
func (o *Oracle) Track(symbol string, initial, circulating decimal.Decimal) error {
	if initial.Sign() <= 0 {
		return fmt.Errorf("oracle: initial price for %s must be positive", symbol)
	}
	if circulating.Sign() <= 0 {
		return fmt.Errorf("oracle: circulating supply for %s must be positive", symbol)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.markets[symbol]; exists {
		return fmt.Errorf("oracle: %s already tracked", symbol)
	}

	ms := &marketState{
		symbol:      symbol,
		price:       initial,
		circulating: circulating,
	}

	now := o.clock.Now().UnixMilli()
	for i := o.cfg.SeedPoints; i > 0; i-- {
		p := o.clampLocked(initial.Mul(o.factorLocked(o.cfg.SeedDriftRange)))
		ms.history = append(ms.history, PricePoint{Time: now - int64(i)*60_000, Price: p})
	}
	if n := len(ms.history); n > 0 {
		ms.price = ms.history[n-1].Price
	}

	o.markets[symbol] = ms
	return nil
}

// UpdateAfterTrade recomputes the mark price from resting volume imbalance:
// ratio = (buyVol - sellVol) / circulating, price *= 1 + ratio*impact.
// Returns the new mark price.
func (o *Oracle) UpdateAfterTrade(symbol string, buyVol, sellVol decimal.Decimal) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ms, ok := o.markets[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("oracle: %s not tracked", symbol)
	}

	ratio := buyVol.Sub(sellVol).Div(ms.circulating)
	change := ratio.Mul(decimal.NewFromFloat(o.cfg.ImpactFactor))
	ms.price = o.clampLocked(ms.price.Mul(decimal.NewFromInt(1).Add(change)))
	o.appendLocked(ms)
	return ms.price, nil
}

// ApplyDrift applies the passive random walk: price *= 1 + U(-d, d).
// Called on ticks with no trading activity for the asset.
func (o *Oracle) ApplyDrift(symbol string) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ms, ok := o.markets[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("oracle: %s not tracked", symbol)
	}

	ms.price = o.clampLocked(ms.price.Mul(o.factorLocked(o.cfg.DriftRange)))
	o.appendLocked(ms)
	return ms.price, nil
}

// Price returns the current mark price for symbol.
func (o *Oracle) Price(symbol string) (decimal.Decimal, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ms, ok := o.markets[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return ms.price, true
}

// Prices returns a snapshot of all current mark prices.
func (o *Oracle) Prices() map[string]decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(o.markets))
	for sym, ms := range o.markets {
		out[sym] = ms.price
	}
	return out
}

// History returns a copy of the full bounded history for symbol.
func (o *Oracle) History(symbol string) []PricePoint {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ms, ok := o.markets[symbol]
	if !ok {
		return nil
	}
	out := make([]PricePoint, len(ms.history))
	copy(out, ms.history)
	return out
}

// HistoryTail returns the most recent n points.
func (o *Oracle) HistoryTail(symbol string, n int) []PricePoint {
	h := o.History(symbol)
	if len(h) > n {
		h = h[len(h)-n:]
	}
	return h
}

// factorLocked returns 1 + U(-d, d) as a decimal multiplier.
func (o *Oracle) factorLocked(d float64) decimal.Decimal {
	change := (o.rng.Float64() - 0.5) * 2 * d
	return decimal.NewFromFloat(1 + change)
}

func (o *Oracle) clampLocked(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(o.cfg.Floor) {
		return o.cfg.Floor
	}
	return p
}

// appendLocked records the current price, evicting the oldest point when the
// series exceeds its cap.
func (o *Oracle) appendLocked(ms *marketState) {
	ms.history = append(ms.history, PricePoint{Time: o.clock.Now().UnixMilli(), Price: ms.price})
	if len(ms.history) > o.cfg.HistoryCap {
		ms.history = ms.history[len(ms.history)-o.cfg.HistoryCap:]
	}
}
