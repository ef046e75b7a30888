package engine

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/waterfall-labs/waterfall/pkg/exchange/book"
	"github.com/waterfall-labs/waterfall/pkg/util"
)

// Trade is the immutable record of one match. Never mutated after creation.
type Trade struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	BuyerID     string          `json:"buyerId"`
	SellerID    string          `json:"sellerId"`
	BuyOrderID  string          `json:"buyOrderId"`
	SellOrderID string          `json:"sellOrderId"`
	Qty         decimal.Decimal `json:"qty"`
	Price       decimal.Decimal `json:"price"`
	Total       decimal.Decimal `json:"total"`
	Timestamp   int64           `json:"timestamp"` // unix ms
}

// Ledger settles matched trades. Settlement must be atomic per call; the
// engine never retries a failed settlement.
type Ledger interface {
	SettleTrade(buyerID, sellerID, symbol string, qty, price, buyerLockPrice decimal.Decimal) error
}

// Engine matches orders for a single asset. One mutex serializes every
// submit/cancel on the asset, so a matching pass never interleaves with
// another mutation of the same book. Engines for different assets run fully
// in parallel.
type Engine struct {
	mu     sync.Mutex
	symbol string
	book   *book.Book
	ledger Ledger
	clock  util.Clock
	log    *zap.SugaredLogger
}

func New(symbol string, b *book.Book, l Ledger, clock util.Clock, log *zap.SugaredLogger) *Engine {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		symbol: symbol,
		book:   b,
		ledger: l,
		clock:  clock,
		log:    log,
	}
}

func (e *Engine) Symbol() string   { return e.symbol }
func (e *Engine) Book() *book.Book { return e.book }

// Submit inserts the order and runs the matching loop. The caller has already
// validated the order and reserved funds for it.
//
// While the book is crossed (best buy price >= best sell price) the top of
// each side trades min(remaining) at the sell order's limit price, the
// maker-price convention: the sell side's price fixes both the seller's
// proceeds and the buyer's cost unambiguously. Filled orders are popped,
// partially filled ones keep resting with their reduced remainder.
//
// If settlement fails the pass aborts immediately: trades executed so far are
// returned together with the error, and the book keeps the state as of the
// last successful settlement.
func (e *Engine) Submit(o *book.Order) ([]Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.book.Insert(o)
	return e.matchLocked()
}

func (e *Engine) matchLocked() ([]Trade, error) {
	var trades []Trade

	for {
		bestBuy := e.book.BestBuy()
		bestSell := e.book.BestSell()
		if bestBuy == nil || bestSell == nil || bestBuy.Price.LessThan(bestSell.Price) {
			break
		}

		qty := decimal.Min(bestBuy.Qty, bestSell.Qty)
		price := bestSell.Price

		if err := e.ledger.SettleTrade(bestBuy.Owner, bestSell.Owner, e.symbol, qty, price, bestBuy.Price); err != nil {
			e.log.Errorw("settlement_failed",
				"symbol", e.symbol,
				"buy_order", bestBuy.ID,
				"sell_order", bestSell.ID,
				"qty", qty,
				"price", price,
				"err", err,
			)
			return trades, err
		}

		bestBuy.Qty = bestBuy.Qty.Sub(qty)
		bestSell.Qty = bestSell.Qty.Sub(qty)
		if bestBuy.Qty.Sign() == 0 {
			e.book.PopBest(book.Buy)
		}
		if bestSell.Qty.Sign() == 0 {
			e.book.PopBest(book.Sell)
		}

		trades = append(trades, Trade{
			ID:          uuid.NewString(),
			Symbol:      e.symbol,
			BuyerID:     bestBuy.Owner,
			SellerID:    bestSell.Owner,
			BuyOrderID:  bestBuy.ID,
			SellOrderID: bestSell.ID,
			Qty:         qty,
			Price:       price,
			Total:       qty.Mul(price),
			Timestamp:   e.clock.Now().UnixMilli(),
		})
	}

	return trades, nil
}

// Cancel removes a resting order owned by ownerID and returns it, or nil.
// Partially filled orders cancel for their remaining quantity; the caller
// refunds the matching reservation.
func (e *Engine) Cancel(orderID, ownerID string) *book.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Cancel(orderID, ownerID)
}
