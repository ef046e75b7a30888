package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/waterfall-labs/waterfall/params"
	"github.com/waterfall-labs/waterfall/pkg/exchange/asset"
	"github.com/waterfall-labs/waterfall/pkg/exchange/book"
	"github.com/waterfall-labs/waterfall/pkg/exchange/engine"
	"github.com/waterfall-labs/waterfall/pkg/exchange/ledger"
	"github.com/waterfall-labs/waterfall/pkg/exchange/oracle"
	"github.com/waterfall-labs/waterfall/pkg/util"
)

// historyTailLen bounds the history slice attached to price events.
const historyTailLen = 50

// TradeStore archives executed trades. Best-effort, like the account mirror.
type TradeStore interface {
	SaveTrade(t *engine.Trade) error
	RecentTrades(symbol string, limit int) ([]*engine.Trade, error)
}

// PlaceResult reports an accepted order and any trades its insertion caused.
type PlaceResult struct {
	OrderID string
	Trades  []engine.Trade
}

// CancelResult reports what a cancellation refunded.
type CancelResult struct {
	OrderID  string
	Side     book.Side
	Refunded decimal.Decimal // cash for buys, asset quantity for sells
}

// MarketSnapshot is the full public view of one asset's market.
type MarketSnapshot struct {
	Asset      *asset.Asset
	Price      decimal.Decimal
	History    []oracle.PricePoint
	BuyLevels  []book.Level
	SellLevels []book.Level
}

// Stats summarizes venue activity for the ops endpoints.
type Stats struct {
	Accounts   int
	Assets     int
	OpenOrders int
	Uptime     time.Duration
}

type market struct {
	asset  *asset.Asset
	engine *engine.Engine
}

// Venue wires the ledger, per-asset books and engines, and the price oracle
// into the operations the transport layer calls. Serialization model: the
// ledger guards balances with its own lock, each engine serializes its asset,
// and the venue itself only tracks which assets traded between drift ticks.
type Venue struct {
	cfg    params.Config
	assets *asset.Registry
	ledger *ledger.Ledger
	oracle *oracle.Oracle

	markets map[string]*market

	trades TradeStore // optional
	sink   Sink       // optional
	clock  util.Clock
	log    *zap.SugaredLogger

	tradedMu sync.Mutex
	traded   map[string]bool // symbol -> traded since last tick

	startedAt time.Time
}

// New builds a venue from config. accounts, trades, sink and orc may be nil:
// nil stores disable persistence, a nil sink drops events, and a nil oracle
// gets a time-seeded one (tests inject a deterministic oracle instead).
func New(cfg params.Config, accounts ledger.Store, trades TradeStore, sink Sink, clock util.Clock, orc *oracle.Oracle, log *zap.SugaredLogger) (*Venue, error) {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	reg, err := asset.FromConfig(cfg.Assets)
	if err != nil {
		return nil, err
	}

	led := ledger.New(accounts, log)
	if orc == nil {
		orc = oracle.New(cfg.Pricing, clock, nil)
	}

	v := &Venue{
		cfg:       cfg,
		assets:    reg,
		ledger:    led,
		oracle:    orc,
		markets:   make(map[string]*market),
		trades:    trades,
		sink:      sink,
		clock:     clock,
		log:       log,
		traded:    make(map[string]bool),
		startedAt: clock.Now(),
	}

	for _, def := range cfg.Assets {
		a := reg.Get(def.Symbol)
		if err := orc.Track(a.Symbol, def.Price, a.Circulating); err != nil {
			return nil, err
		}
		v.markets[a.Symbol] = &market{
			asset:  a,
			engine: engine.New(a.Symbol, book.New(), led, clock, log),
		}
	}

	return v, nil
}

func (v *Venue) Ledger() *ledger.Ledger  { return v.ledger }
func (v *Venue) Oracle() *oracle.Oracle  { return v.oracle }
func (v *Venue) Assets() *asset.Registry { return v.assets }

// PlaceOrder validates, reserves funds, inserts the order and runs matching.
// Buy orders reserve price×qty cash; sell orders reserve qty of the asset.
func (v *Venue) PlaceOrder(accountID, symbol string, side book.Side, price, qty decimal.Decimal) (*PlaceResult, error) {
	m, ok := v.markets[symbol]
	if !ok {
		return nil, ErrUnknownAsset
	}
	if price.Sign() <= 0 || qty.Sign() <= 0 {
		return nil, ErrInvalidQuantityOrPrice
	}

	if side == book.Buy {
		if err := v.ledger.ReserveForBuy(accountID, price.Mul(qty)); err != nil {
			return nil, err
		}
	} else {
		if err := v.ledger.ReserveForSell(accountID, symbol, qty); err != nil {
			return nil, err
		}
	}

	o := &book.Order{
		ID:        uuid.NewString(),
		Owner:     accountID,
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Qty:       qty,
		CreatedAt: v.clock.Now().UnixMilli(),
	}

	trades, err := m.engine.Submit(o)
	v.afterMatch(m, trades)
	if err != nil {
		// Settlement failure after reservation: the pass already stopped at
		// the last consistent state. Surface it; nothing to roll back here.
		return &PlaceResult{OrderID: o.ID, Trades: trades}, err
	}

	v.publish(Event{Type: EventOrderBookChanged, Asset: symbol})
	return &PlaceResult{OrderID: o.ID, Trades: trades}, nil
}

// afterMatch archives trades, emits trade events, and runs the post-trade
// price update from the book's resting volume imbalance.
func (v *Venue) afterMatch(m *market, trades []engine.Trade) {
	if len(trades) == 0 {
		return
	}

	for i := range trades {
		t := &trades[i]
		if v.trades != nil {
			if err := v.trades.SaveTrade(t); err != nil {
				v.log.Warnw("trade_persist_failed", "trade", t.ID, "err", err)
			}
		}
		v.publish(Event{Type: EventTradeExecuted, Asset: t.Symbol, Payload: TradeExecutedPayload{
			Asset:    t.Symbol,
			BuyerID:  t.BuyerID,
			SellerID: t.SellerID,
			Qty:      t.Qty,
			Price:    t.Price,
			Total:    t.Total,
		}})
	}

	v.tradedMu.Lock()
	v.traded[m.asset.Symbol] = true
	v.tradedMu.Unlock()

	buyVol, sellVol := m.engine.Book().Volumes()
	price, err := v.oracle.UpdateAfterTrade(m.asset.Symbol, buyVol, sellVol)
	if err != nil {
		v.log.Errorw("price_update_failed", "asset", m.asset.Symbol, "err", err)
		return
	}
	v.publishPrice(m.asset.Symbol, price)
}

// CancelOrder removes a resting order owned by accountID from whichever book
// holds it and refunds the remaining reservation.
func (v *Venue) CancelOrder(accountID, orderID string) (*CancelResult, error) {
	for symbol, m := range v.markets {
		o := m.engine.Cancel(orderID, accountID)
		if o == nil {
			continue
		}

		res := &CancelResult{OrderID: orderID, Side: o.Side}
		var err error
		if o.Side == book.Buy {
			res.Refunded = o.Price.Mul(o.Qty)
			err = v.ledger.ReleaseBuyReservation(accountID, res.Refunded)
		} else {
			res.Refunded = o.Qty
			err = v.ledger.ReleaseSellReservation(accountID, symbol, o.Qty)
		}
		if err != nil {
			v.log.Errorw("cancel_refund_failed", "order", orderID, "err", err)
			return nil, err
		}

		v.publish(Event{Type: EventOrderBookChanged, Asset: symbol})
		return res, nil
	}
	return nil, ErrOrderNotFound
}

// Deposit credits cash and returns the new balance. Min/max bounds are
// enforced by the transport layer before this call.
func (v *Venue) Deposit(accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return v.ledger.Deposit(accountID, amount)
}

// Withdraw debits amount, applying the configured flat fee.
func (v *Venue) Withdraw(accountID string, amount decimal.Decimal) (net, fee decimal.Decimal, err error) {
	return v.ledger.Withdraw(accountID, amount, v.cfg.Fees.WithdrawPct)
}

// Account returns a read-only snapshot, creating the account if new.
func (v *Venue) Account(accountID string) *ledger.Account {
	v.ledger.GetOrCreate(accountID)
	return v.ledger.Snapshot(accountID)
}

// OpenOrders returns the caller's resting orders across all assets.
func (v *Venue) OpenOrders(accountID string) []book.Order {
	var out []book.Order
	for _, m := range v.markets {
		out = append(out, m.engine.Book().OrdersByOwner(accountID)...)
	}
	return out
}

// Market returns the public snapshot for one asset.
func (v *Venue) Market(symbol string) (*MarketSnapshot, error) {
	m, ok := v.markets[symbol]
	if !ok {
		return nil, ErrUnknownAsset
	}
	price, _ := v.oracle.Price(symbol)
	return &MarketSnapshot{
		Asset:      m.asset,
		Price:      price,
		History:    v.oracle.History(symbol),
		BuyLevels:  m.engine.Book().BuyLevels(),
		SellLevels: m.engine.Book().SellLevels(),
	}, nil
}

// RecentTrades returns archived trades for an asset, newest first.
func (v *Venue) RecentTrades(symbol string, limit int) ([]*engine.Trade, error) {
	if !v.assets.Exists(symbol) {
		return nil, ErrUnknownAsset
	}
	if v.trades == nil {
		return nil, nil
	}
	return v.trades.RecentTrades(symbol, limit)
}

// Stats reports venue-wide counters.
func (v *Venue) Stats() Stats {
	open := 0
	for _, m := range v.markets {
		open += m.engine.Book().Len()
	}
	return Stats{
		Accounts:   v.ledger.Count(),
		Assets:     v.assets.Count(),
		OpenOrders: open,
		Uptime:     v.clock.Now().Sub(v.startedAt),
	}
}

// Run drives the periodic drift tick until ctx is cancelled. Assets that
// traded since the previous tick keep their trade-derived price; quiet assets
// get the random walk. Every tick rebroadcasts current prices.
func (v *Venue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.clock.After(v.cfg.Pricing.TickInterval):
			v.Tick()
		}
	}
}

// Tick applies one drift pass. Exposed so tests can step time deterministically.
func (v *Venue) Tick() {
	v.tradedMu.Lock()
	traded := v.traded
	v.traded = make(map[string]bool)
	v.tradedMu.Unlock()

	for _, symbol := range v.assets.Symbols() {
		if traded[symbol] {
			// Matching already moved the price this interval; just rebroadcast.
			if price, ok := v.oracle.Price(symbol); ok {
				v.publishPrice(symbol, price)
			}
			continue
		}
		price, err := v.oracle.ApplyDrift(symbol)
		if err != nil {
			v.log.Errorw("drift_failed", "asset", symbol, "err", err)
			continue
		}
		v.publishPrice(symbol, price)
	}
}

func (v *Venue) publishPrice(symbol string, price decimal.Decimal) {
	v.publish(Event{Type: EventPriceUpdated, Asset: symbol, Payload: PriceUpdatedPayload{
		Asset:       symbol,
		Price:       price,
		HistoryTail: v.oracle.HistoryTail(symbol, historyTailLen),
	}})
}

func (v *Venue) publish(ev Event) {
	if v.sink != nil {
		v.sink.Publish(ev)
	}
}
