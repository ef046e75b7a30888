package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Balance failures returned to callers, and the one fatal class: a settlement
// precondition failing after a successful reservation.
var (
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientHoldings  = errors.New("insufficient holdings")
	ErrInternalInconsistency = errors.New("internal settlement inconsistency")
)

// Account holds the full financial state of one venue user.
//
// Reservations use escrow semantics: placing a buy order locks limitPrice×qty
// of cash, placing a sell order locks qty of the asset. Locked funds stay on
// the account but are excluded from the available balance, so the insufficient
// funds check at placement is the debit the matching loop relies on. Settlement
// releases the lock and moves only the executed value, which returns any price
// improvement (lock at the buy limit, execution at the maker price) to the
// buyer without a separate refund step.
type Account struct {
	ID string `json:"id"`

	Cash         decimal.Decimal `json:"cash"`
	ReservedCash decimal.Decimal `json:"reservedCash"`

	Holdings         map[string]decimal.Decimal `json:"holdings"`
	ReservedHoldings map[string]decimal.Decimal `json:"reservedHoldings"`

	TotalDeposited decimal.Decimal `json:"totalDeposited"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func NewAccount(id string) *Account {
	return &Account{
		ID:               id,
		Holdings:         make(map[string]decimal.Decimal),
		ReservedHoldings: make(map[string]decimal.Decimal),
		CreatedAt:        time.Now(),
	}
}

// AvailableCash returns cash not locked for resting buy orders.
func (a *Account) AvailableCash() decimal.Decimal {
	return a.Cash.Sub(a.ReservedCash)
}

// AvailableHolding returns the holding not locked for resting sell orders.
func (a *Account) AvailableHolding(symbol string) decimal.Decimal {
	return a.Holdings[symbol].Sub(a.ReservedHoldings[symbol])
}

// Validate checks the balance invariants: nothing negative, nothing locked
// beyond what the account holds.
func (a *Account) Validate() error {
	if a.Cash.Sign() < 0 {
		return fmt.Errorf("account %s: negative cash %s", a.ID, a.Cash)
	}
	if a.ReservedCash.Sign() < 0 || a.ReservedCash.GreaterThan(a.Cash) {
		return fmt.Errorf("account %s: reserved cash %s out of range (cash %s)", a.ID, a.ReservedCash, a.Cash)
	}
	for sym, qty := range a.Holdings {
		if qty.Sign() < 0 {
			return fmt.Errorf("account %s: negative holding %s %s", a.ID, sym, qty)
		}
		if res := a.ReservedHoldings[sym]; res.Sign() < 0 || res.GreaterThan(qty) {
			return fmt.Errorf("account %s: reserved %s %s out of range (held %s)", a.ID, sym, res, qty)
		}
	}
	return nil
}

// Store mirrors accounts to durable storage. Implementations are best-effort;
// the in-memory ledger is authoritative.
type Store interface {
	SaveAccount(acc *Account) error
	LoadAccount(id string) (*Account, error)
}

// Ledger owns all account balances. Every mutation happens under one writer
// lock, which serializes concurrent settlement on the same accounts.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	store    Store // optional
	log      *zap.SugaredLogger
}

func New(store Store, log *zap.SugaredLogger) *Ledger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Ledger{
		accounts: make(map[string]*Account),
		store:    store,
		log:      log,
	}
}

// GetOrCreate returns the live account for id, creating it with zero balance
// if needed. Falls back to the store for accounts not yet cached.
func (l *Ledger) GetOrCreate(id string) *Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getLocked(id)
}

func (l *Ledger) getLocked(id string) *Account {
	if acc, ok := l.accounts[id]; ok {
		return acc
	}
	if l.store != nil {
		acc, err := l.store.LoadAccount(id)
		if err != nil {
			l.log.Warnw("account_load_failed", "account", id, "err", err)
		}
		if acc != nil {
			if acc.Holdings == nil {
				acc.Holdings = make(map[string]decimal.Decimal)
			}
			if acc.ReservedHoldings == nil {
				acc.ReservedHoldings = make(map[string]decimal.Decimal)
			}
			l.accounts[id] = acc
			return acc
		}
	}
	acc := NewAccount(id)
	l.accounts[id] = acc
	return acc
}

// Snapshot returns a deep copy of the account state for read-only use.
func (l *Ledger) Snapshot(id string) *Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acc, ok := l.accounts[id]
	if !ok {
		return nil
	}
	cp := *acc
	cp.Holdings = make(map[string]decimal.Decimal, len(acc.Holdings))
	for k, v := range acc.Holdings {
		cp.Holdings[k] = v
	}
	cp.ReservedHoldings = make(map[string]decimal.Decimal, len(acc.ReservedHoldings))
	for k, v := range acc.ReservedHoldings {
		cp.ReservedHoldings[k] = v
	}
	return &cp
}

// Deposit credits cash and returns the new total balance.
func (l *Ledger) Deposit(id string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: deposit %s", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.getLocked(id)
	acc.Cash = acc.Cash.Add(amount)
	acc.TotalDeposited = acc.TotalDeposited.Add(amount)
	l.persist(acc)
	return acc.Cash, nil
}

// Withdraw debits amount from available cash and returns (net, fee) after
// applying the flat percentage fee. Bounds checks (minimum withdrawal) are the
// transport layer's responsibility.
func (l *Ledger) Withdraw(id string, amount decimal.Decimal, feePct float64) (net, fee decimal.Decimal, err error) {
	if amount.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: withdraw %s", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.getLocked(id)
	if acc.AvailableCash().LessThan(amount) {
		return decimal.Zero, decimal.Zero, ErrInsufficientFunds
	}

	fee = amount.Mul(decimal.NewFromFloat(feePct)).Round(2)
	net = amount.Sub(fee)
	acc.Cash = acc.Cash.Sub(amount)
	l.persist(acc)
	return net, fee, nil
}

// ReserveForBuy locks cost against the account's available cash.
func (l *Ledger) ReserveForBuy(id string, cost decimal.Decimal) error {
	if cost.Sign() <= 0 {
		return fmt.Errorf("reserve cost must be positive: %s", cost)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.getLocked(id)
	if acc.AvailableCash().LessThan(cost) {
		return ErrInsufficientFunds
	}
	acc.ReservedCash = acc.ReservedCash.Add(cost)
	l.persist(acc)
	return nil
}

// ReserveForSell locks qty of the asset against the account's free holding.
func (l *Ledger) ReserveForSell(id, symbol string, qty decimal.Decimal) error {
	if qty.Sign() <= 0 {
		return fmt.Errorf("reserve qty must be positive: %s", qty)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.getLocked(id)
	if acc.AvailableHolding(symbol).LessThan(qty) {
		return ErrInsufficientHoldings
	}
	acc.ReservedHoldings[symbol] = acc.ReservedHoldings[symbol].Add(qty)
	l.persist(acc)
	return nil
}

// ReleaseBuyReservation returns locked cash on cancellation (full or the
// remaining portion of a partially filled order).
func (l *Ledger) ReleaseBuyReservation(id string, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("release amount cannot be negative: %s", amount)
	}
	if amount.Sign() == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.getLocked(id)
	if acc.ReservedCash.LessThan(amount) {
		return fmt.Errorf("%w: release %s exceeds reserved cash %s for %s",
			ErrInternalInconsistency, amount, acc.ReservedCash, id)
	}
	acc.ReservedCash = acc.ReservedCash.Sub(amount)
	l.persist(acc)
	return nil
}

// ReleaseSellReservation returns locked holdings on cancellation.
func (l *Ledger) ReleaseSellReservation(id, symbol string, qty decimal.Decimal) error {
	if qty.Sign() < 0 {
		return fmt.Errorf("release qty cannot be negative: %s", qty)
	}
	if qty.Sign() == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.getLocked(id)
	if acc.ReservedHoldings[symbol].LessThan(qty) {
		return fmt.Errorf("%w: release %s exceeds reserved %s %s for %s",
			ErrInternalInconsistency, qty, symbol, acc.ReservedHoldings[symbol], id)
	}
	acc.ReservedHoldings[symbol] = acc.ReservedHoldings[symbol].Sub(qty)
	l.persist(acc)
	return nil
}

// SettleTrade atomically moves qty of symbol from seller to buyer and
// qty×price cash from buyer to seller. buyerLockPrice is the buy order's limit
// price, whose lock is released for the filled quantity; execution at a better
// maker price leaves the difference in the buyer's cash.
//
// All preconditions are verified before any mutation, so a failure leaves both
// accounts untouched. A precondition failing here means a reservation was lost
// and is reported as an internal inconsistency.
func (l *Ledger) SettleTrade(buyerID, sellerID, symbol string, qty, price, buyerLockPrice decimal.Decimal) error {
	if qty.Sign() <= 0 || price.Sign() <= 0 {
		return fmt.Errorf("%w: settle qty=%s price=%s", ErrInternalInconsistency, qty, price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	buyer := l.getLocked(buyerID)
	seller := l.getLocked(sellerID)

	cost := qty.Mul(price)
	locked := qty.Mul(buyerLockPrice)

	switch {
	case buyer.ReservedCash.LessThan(locked):
		return fmt.Errorf("%w: buyer %s reserved %s < locked %s",
			ErrInternalInconsistency, buyerID, buyer.ReservedCash, locked)
	case buyer.Cash.LessThan(cost):
		return fmt.Errorf("%w: buyer %s cash %s < cost %s",
			ErrInternalInconsistency, buyerID, buyer.Cash, cost)
	case seller.ReservedHoldings[symbol].LessThan(qty):
		return fmt.Errorf("%w: seller %s reserved %s %s < qty %s",
			ErrInternalInconsistency, sellerID, symbol, seller.ReservedHoldings[symbol], qty)
	case seller.Holdings[symbol].LessThan(qty):
		return fmt.Errorf("%w: seller %s holds %s %s < qty %s",
			ErrInternalInconsistency, sellerID, symbol, seller.Holdings[symbol], qty)
	}

	buyer.ReservedCash = buyer.ReservedCash.Sub(locked)
	buyer.Cash = buyer.Cash.Sub(cost)
	buyer.Holdings[symbol] = buyer.Holdings[symbol].Add(qty)

	seller.ReservedHoldings[symbol] = seller.ReservedHoldings[symbol].Sub(qty)
	seller.Holdings[symbol] = seller.Holdings[symbol].Sub(qty)
	seller.Cash = seller.Cash.Add(cost)

	l.persist(buyer)
	l.persist(seller)
	return nil
}

// Grant credits holdings directly, bypassing trading. Used for seeding demo
// balances and tests.
func (l *Ledger) Grant(id, symbol string, qty decimal.Decimal) error {
	if qty.Sign() <= 0 {
		return fmt.Errorf("grant qty must be positive: %s", qty)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.getLocked(id)
	acc.Holdings[symbol] = acc.Holdings[symbol].Add(qty)
	l.persist(acc)
	return nil
}

// Count returns the number of accounts the ledger has seen.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.accounts)
}

// persist mirrors the account to the store. The caller holds the write lock.
func (l *Ledger) persist(acc *Account) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveAccount(acc); err != nil {
		l.log.Warnw("account_persist_failed", "account", acc.ID, "err", err)
	}
}
