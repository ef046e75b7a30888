package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/waterfall-labs/waterfall/pkg/auth"
	"github.com/waterfall-labs/waterfall/pkg/exchange/engine"
	"github.com/waterfall-labs/waterfall/pkg/exchange/ledger"
)

// Store is the Pebble-backed mirror for accounts, users and trade history.
// The in-memory ledger stays authoritative; this store exists so a restarted
// venue comes back with balances and history instead of a blank slate.
// Callers serialize access through their own locks.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the venue database at path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAccount persists a ledger account.
func (s *Store) SaveAccount(acc *ledger.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	if err := s.db.Set(accountKey(acc.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

// LoadAccount returns nil if the account does not exist.
func (s *Store) LoadAccount(id string) (*ledger.Account, error) {
	data, closer, err := s.db.Get(accountKey(id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	defer closer.Close()

	var acc ledger.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}
	return &acc, nil
}

// SaveUser persists an auth user.
func (s *Store) SaveUser(u *auth.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := s.db.Set(userKey(u.Username), data, pebble.Sync); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// LoadUser returns nil if the username is unknown.
func (s *Store) LoadUser(username string) (*auth.User, error) {
	data, closer, err := s.db.Get(userKey(username))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	defer closer.Close()

	var u auth.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

// SaveTrade archives an executed trade. NoSync: trade history tolerates a
// lost tail, balances do not.
func (s *Store) SaveTrade(t *engine.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	if err := s.db.Set(tradeKey(t.Symbol, t.Timestamp, t.ID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	return nil
}

// RecentTrades returns up to limit trades for symbol, newest first.
func (s *Store) RecentTrades(symbol string, limit int) ([]*engine.Trade, error) {
	prefix := tradePrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("trade iter: %w", err)
	}
	defer iter.Close()

	var trades []*engine.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t engine.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue // skip invalid entries
		}
		trades = append(trades, &t)
	}
	return trades, nil
}
