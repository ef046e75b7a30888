package book

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Order is a resting limit order. Qty is the remaining quantity and decreases
// as the order fills; the matching engine owns all mutation.
type Order struct {
	ID        string
	Owner     string
	Symbol    string
	Side      Side
	Price     decimal.Decimal
	Qty       decimal.Decimal
	CreatedAt int64 // unix ms, time-priority tie-break via FIFO level queues
}

// Level aggregates resting quantity at one price.
type Level struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// Book is one asset's limit order book.
//
// Best-price lookup is O(1) via price heaps; each price level keeps a FIFO
// queue so equal prices fill in submission order (price-time priority). An
// order index gives O(1) cancellation. Price levels are keyed by the decimal's
// canonical string (trailing zeros trimmed), so equal prices always land on
// the same level regardless of input precision.
type Book struct {
	mu sync.RWMutex

	bidHeap *maxPriceHeap
	askHeap *minPriceHeap

	bids map[string][]*Order // price key -> FIFO queue
	asks map[string][]*Order

	index map[string]*Order // order ID -> resting order
}

func New() *Book {
	bidHeap := &maxPriceHeap{}
	askHeap := &minPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[string][]*Order),
		asks:    make(map[string][]*Order),
		index:   make(map[string]*Order),
	}
}

func priceKey(p decimal.Decimal) string { return p.String() }

// Insert adds the order to its side. The caller has already validated price
// and quantity.
func (b *Book) Insert(o *Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := priceKey(o.Price)
	if o.Side == Buy {
		if len(b.bids[key]) == 0 {
			heap.Push(b.bidHeap, o.Price)
		}
		b.bids[key] = append(b.bids[key], o)
	} else {
		if len(b.asks[key]) == 0 {
			heap.Push(b.askHeap, o.Price)
		}
		b.asks[key] = append(b.asks[key], o)
	}
	b.index[o.ID] = o
}

// Cancel removes a resting order owned by ownerID and returns it, or nil if
// no such order rests in this book.
func (b *Book) Cancel(orderID, ownerID string) *Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.index[orderID]
	if !ok || o.Owner != ownerID {
		return nil
	}

	key := priceKey(o.Price)
	var queue map[string][]*Order
	if o.Side == Buy {
		queue = b.bids
	} else {
		queue = b.asks
	}

	arr := queue[key]
	for i, r := range arr {
		if r.ID == orderID {
			queue[key] = append(arr[:i], arr[i+1:]...)
			break
		}
	}
	if len(queue[key]) == 0 {
		delete(queue, key)
		b.removeFromHeap(o.Side, o.Price)
	}
	delete(b.index, orderID)
	return o
}

// BestBuy returns the highest-priority resting buy order, or nil.
// Takes the write lock: peek may compact stale heap entries.
func (b *Book) BestBuy() *Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peek(Buy)
}

// BestSell returns the highest-priority resting sell order, or nil.
func (b *Book) BestSell() *Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peek(Sell)
}

func (b *Book) peek(side Side) *Order {
	if side == Buy {
		for b.bidHeap.Len() > 0 {
			p, _ := b.bidHeap.Peek()
			if arr := b.bids[priceKey(p)]; len(arr) > 0 {
				return arr[0]
			}
			// stale level, drop and keep looking
			heap.Pop(b.bidHeap)
		}
		return nil
	}
	for b.askHeap.Len() > 0 {
		p, _ := b.askHeap.Peek()
		if arr := b.asks[priceKey(p)]; len(arr) > 0 {
			return arr[0]
		}
		heap.Pop(b.askHeap)
	}
	return nil
}

// PopBest removes the best order on the given side after it has fully filled.
func (b *Book) PopBest(side Side) *Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	o := b.peek(side)
	if o == nil {
		return nil
	}

	key := priceKey(o.Price)
	if side == Buy {
		b.bids[key] = b.bids[key][1:]
		if len(b.bids[key]) == 0 {
			delete(b.bids, key)
			b.removeFromHeap(Buy, o.Price)
		}
	} else {
		b.asks[key] = b.asks[key][1:]
		if len(b.asks[key]) == 0 {
			delete(b.asks, key)
			b.removeFromHeap(Sell, o.Price)
		}
	}
	delete(b.index, o.ID)
	return o
}

// removeFromHeap drops one price entry. O(N) worst case, but levels are few.
func (b *Book) removeFromHeap(side Side, price decimal.Decimal) {
	if side == Buy {
		for i := 0; i < b.bidHeap.Len(); i++ {
			if (*b.bidHeap)[i].Equal(price) {
				heap.Remove(b.bidHeap, i)
				return
			}
		}
		return
	}
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i].Equal(price) {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

// Volumes returns total resting quantity per side, the imbalance input for
// post-trade price formation.
func (b *Book) Volumes() (buyVol, sellVol decimal.Decimal) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, arr := range b.bids {
		for _, o := range arr {
			buyVol = buyVol.Add(o.Qty)
		}
	}
	for _, arr := range b.asks {
		for _, o := range arr {
			sellVol = sellVol.Add(o.Qty)
		}
	}
	return buyVol, sellVol
}

// BuyLevels returns aggregated bid levels, best (highest) first.
func (b *Book) BuyLevels() []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := aggregate(b.bids)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price.GreaterThan(levels[j].Price) })
	return levels
}

// SellLevels returns aggregated ask levels, best (lowest) first.
func (b *Book) SellLevels() []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := aggregate(b.asks)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price.LessThan(levels[j].Price) })
	return levels
}

func aggregate(queue map[string][]*Order) []Level {
	var levels []Level
	for _, arr := range queue {
		if len(arr) == 0 {
			continue
		}
		total := decimal.Zero
		for _, o := range arr {
			total = total.Add(o.Qty)
		}
		levels = append(levels, Level{Price: arr[0].Price, Qty: total})
	}
	return levels
}

// OrdersByOwner returns copies of all resting orders owned by ownerID.
func (b *Book) OrdersByOwner(ownerID string) []Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Order
	for _, o := range b.index {
		if o.Owner == ownerID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// Len returns the number of resting orders on both sides.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index)
}
