package exchange

import (
	"github.com/shopspring/decimal"

	"github.com/waterfall-labs/waterfall/pkg/exchange/oracle"
)

// Event types emitted outward. The session/transport layer decides fan-out.
const (
	EventTradeExecuted    = "tradeExecuted"
	EventOrderBookChanged = "orderBookChanged"
	EventPriceUpdated     = "priceUpdated"
)

type Event struct {
	Type    string `json:"type"`
	Asset   string `json:"asset"`
	Payload any    `json:"payload,omitempty"`
}

// TradeExecutedPayload notifies a completed match.
type TradeExecutedPayload struct {
	Asset    string          `json:"asset"`
	BuyerID  string          `json:"buyerId"`
	SellerID string          `json:"sellerId"`
	Qty      decimal.Decimal `json:"qty"`
	Price    decimal.Decimal `json:"price"`
	Total    decimal.Decimal `json:"total"`
}

// PriceUpdatedPayload carries the new mark price and the recent history tail.
type PriceUpdatedPayload struct {
	Asset       string              `json:"asset"`
	Price       decimal.Decimal     `json:"price"`
	HistoryTail []oracle.PricePoint `json:"historyTail"`
}

// Sink consumes venue events. Publish must not block: the venue calls it from
// inside request handling and the tick loop.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }
