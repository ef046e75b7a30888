package asset

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/waterfall-labs/waterfall/params"
)

// Asset holds the immutable listing metadata for one tradable symbol.
// Mark price and history live in the oracle; this is identity and supply only.
type Asset struct {
	Symbol      string
	Name        string
	Supply      decimal.Decimal
	Circulating decimal.Decimal // divisor for volume-imbalance pressure
}

// Registry is the set of listed assets. Listings are fixed at startup but the
// registry is still guarded for concurrent readers from API handlers.
type Registry struct {
	mu     sync.RWMutex
	assets map[string]*Asset
}

func NewRegistry() *Registry {
	return &Registry{assets: make(map[string]*Asset)}
}

// FromConfig builds a registry from the configured listings.
func FromConfig(defs []params.AssetDef) (*Registry, error) {
	r := NewRegistry()
	for _, def := range defs {
		a := &Asset{
			Symbol:      def.Symbol,
			Name:        def.Name,
			Supply:      def.Supply,
			Circulating: def.Circulating,
		}
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(a *Asset) error {
	if a == nil {
		return fmt.Errorf("cannot register nil asset")
	}
	if a.Symbol == "" {
		return fmt.Errorf("asset symbol must not be empty")
	}
	if a.Circulating.Sign() <= 0 {
		return fmt.Errorf("asset %s: circulating supply must be positive", a.Symbol)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[a.Symbol]; exists {
		return fmt.Errorf("asset %s already registered", a.Symbol)
	}
	r.assets[a.Symbol] = a
	return nil
}

// Get retrieves an asset by symbol, or nil if it is not listed.
func (r *Registry) Get(symbol string) *Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.assets[symbol]
}

func (r *Registry) Exists(symbol string) bool {
	return r.Get(symbol) != nil
}

// List returns all listed assets sorted by symbol.
func (r *Registry) List() []*Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assets := make([]*Asset, 0, len(r.assets))
	for _, a := range r.assets {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })
	return assets
}

// Symbols returns all listed symbols sorted.
func (r *Registry) Symbols() []string {
	assets := r.List()
	syms := make([]string, len(assets))
	for i, a := range assets {
		syms[i] = a.Symbol
	}
	return syms
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}
