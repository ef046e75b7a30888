package api

import (
	"github.com/shopspring/decimal"

	"github.com/waterfall-labs/waterfall/pkg/exchange/oracle"
)

// REST request types. Every handler decodes into one of these and
// bounds-checks the fields before anything reaches the core.

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

type PlaceOrderRequest struct {
	Asset string          `json:"asset"`
	Side  string          `json:"side"` // "buy" or "sell"
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

type PlaceOrderResponse struct {
	OrderID string      `json:"orderId"`
	Trades  []TradeInfo `json:"trades"`
}

type CancelOrderRequest struct {
	OrderID string `json:"orderId"`
}

type CancelOrderResponse struct {
	OrderID  string          `json:"orderId"`
	Side     string          `json:"side"`
	Refunded decimal.Decimal `json:"refunded"`
}

type CreateDepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type CreateDepositResponse struct {
	InvoiceID  string          `json:"invoiceId"`
	InvoiceURL string          `json:"invoiceUrl"`
	Amount     decimal.Decimal `json:"amount"`
}

type ConfirmDepositRequest struct {
	InvoiceID string `json:"invoiceId"`
}

type ConfirmDepositResponse struct {
	Amount     decimal.Decimal `json:"amount"`
	NewBalance decimal.Decimal `json:"newBalance"`
}

type WithdrawRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Address string          `json:"address"`
}

type WithdrawResponse struct {
	NetAmount     decimal.Decimal `json:"netAmount"`
	Fee           decimal.Decimal `json:"fee"`
	TransactionID string          `json:"transactionId"`
}

// REST response types.

type AssetInfo struct {
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Supply      decimal.Decimal `json:"supply"`
	Circulating decimal.Decimal `json:"circulating"`
}

type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

type OrderbookSnapshot struct {
	Asset     string       `json:"asset"`
	Bids      []PriceLevel `json:"bids"` // best (highest) first
	Asks      []PriceLevel `json:"asks"` // best (lowest) first
	Timestamp int64        `json:"timestamp"`
}

type MarketResponse struct {
	Asset   AssetInfo           `json:"asset"`
	Price   decimal.Decimal     `json:"price"`
	History []oracle.PricePoint `json:"history"`
	Book    OrderbookSnapshot   `json:"book"`
}

type TradeInfo struct {
	ID        string          `json:"id"`
	Asset     string          `json:"asset"`
	Qty       decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	Timestamp int64           `json:"timestamp"`
}

type OrderInfo struct {
	ID        string          `json:"id"`
	Asset     string          `json:"asset"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Remaining decimal.Decimal `json:"remaining"`
	CreatedAt int64           `json:"createdAt"`
}

type WalletResponse struct {
	AccountID        string                     `json:"accountId"`
	Cash             decimal.Decimal            `json:"cash"`
	ReservedCash     decimal.Decimal            `json:"reservedCash"`
	AvailableCash    decimal.Decimal            `json:"availableCash"`
	Holdings         map[string]decimal.Decimal `json:"holdings"`
	ReservedHoldings map[string]decimal.Decimal `json:"reservedHoldings"`
	TotalDeposited   decimal.Decimal            `json:"totalDeposited"`
}

type StatsResponse struct {
	Accounts      int   `json:"accounts"`
	Assets        int   `json:"assets"`
	OpenOrders    int   `json:"openOrders"`
	ConnectedWS   int   `json:"connectedClients"`
	UptimeSeconds int64 `json:"uptimeSeconds"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WebSocket message types.

type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WSSubscribeRequest is sent by clients to manage channel subscriptions,
// e.g. {"op":"subscribe","channels":["trades:MINT","prices:MINT"]}.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}
