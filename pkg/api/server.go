package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/waterfall-labs/waterfall/params"
	"github.com/waterfall-labs/waterfall/pkg/auth"
	"github.com/waterfall-labs/waterfall/pkg/exchange"
	"github.com/waterfall-labs/waterfall/pkg/exchange/book"
)

type ctxKey string

const ctxAccountID ctxKey = "accountID"

// pendingInvoice is a deposit waiting for payment-provider confirmation.
// The provider integration is a stub: confirm credits the balance directly.
type pendingInvoice struct {
	AccountID string
	Amount    decimal.Decimal
	Created   time.Time
}

// Server exposes the venue over REST and WebSocket. It also implements
// exchange.Sink, forwarding venue events to subscribed clients.
type Server struct {
	venue  *exchange.Venue
	auth   *auth.Manager
	cfg    params.Config
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger

	invoiceMu sync.Mutex
	invoices  map[string]pendingInvoice
}

func NewServer(venue *exchange.Venue, authMgr *auth.Manager, cfg params.Config, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		venue:    venue,
		auth:     authMgr,
		cfg:      cfg,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		log:      log,
		invoices: make(map[string]pendingInvoice),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Auth
	api.HandleFunc("/auth/register", s.handleRegister).Methods("POST")
	api.HandleFunc("/auth/login", s.handleLogin).Methods("POST")

	// Market data
	api.HandleFunc("/assets", s.handleGetAssets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")

	// Account
	api.HandleFunc("/account", s.requireAuth(s.handleGetWallet)).Methods("GET")
	api.HandleFunc("/account/orders", s.requireAuth(s.handleGetOrders)).Methods("GET")

	// Trading
	api.HandleFunc("/orders", s.requireAuth(s.handlePlaceOrder)).Methods("POST")
	api.HandleFunc("/orders/cancel", s.requireAuth(s.handleCancelOrder)).Methods("POST")

	// Funding
	api.HandleFunc("/deposits", s.requireAuth(s.handleCreateDeposit)).Methods("POST")
	api.HandleFunc("/deposits/confirm", s.requireAuth(s.handleConfirmDeposit)).Methods("POST")
	api.HandleFunc("/withdrawals", s.requireAuth(s.handleWithdraw)).Methods("POST")

	// Ops
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and serves HTTP until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the WebSocket hub, for wiring and tests.
func (s *Server) Hub() *Hub { return s.hub }

// Publish implements exchange.Sink. Events fan out on per-asset channels
// ("trades:MINT", "orderbook:MINT", "prices:MINT").
func (s *Server) Publish(ev exchange.Event) {
	var channel string
	switch ev.Type {
	case exchange.EventTradeExecuted:
		channel = "trades:" + ev.Asset
	case exchange.EventOrderBookChanged:
		channel = "orderbook:" + ev.Asset
	case exchange.EventPriceUpdated:
		channel = "prices:" + ev.Asset
	default:
		return
	}
	s.hub.BroadcastToChannel(channel, WSMessage{Type: ev.Type, Data: ev.Payload})
}

// ==============================
// Middleware
// ==============================

// requireAuth validates the bearer token and puts the account id in context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token", "")
			return
		}
		accountID, err := s.auth.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid or expired token", "")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxAccountID, accountID)))
	}
}

func accountID(r *http.Request) string {
	id, _ := r.Context().Value(ctxAccountID).(string)
	return id
}

// ==============================
// Auth handlers
// ==============================

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	u, token, err := s.auth.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			respondError(w, http.StatusConflict, err.Error(), "")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	// materialize the ledger account up front
	s.venue.Account(u.ID)

	respondJSON(w, AuthResponse{UserID: u.ID, Username: u.Username, Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	u, token, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid username or password", "")
		return
	}

	respondJSON(w, AuthResponse{UserID: u.ID, Username: u.Username, Token: token})
}

// ==============================
// Market data handlers
// ==============================

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	prices := s.venue.Oracle().Prices()

	assets := s.venue.Assets().List()
	out := make([]AssetInfo, len(assets))
	for i, a := range assets {
		out[i] = AssetInfo{
			Symbol:      a.Symbol,
			Name:        a.Name,
			Price:       prices[a.Symbol],
			Supply:      a.Supply,
			Circulating: a.Circulating,
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	snap, err := s.venue.Market(symbol)
	if err != nil {
		respondError(w, http.StatusNotFound, "asset not found", symbol)
		return
	}

	respondJSON(w, MarketResponse{
		Asset: AssetInfo{
			Symbol:      snap.Asset.Symbol,
			Name:        snap.Asset.Name,
			Price:       snap.Price,
			Supply:      snap.Asset.Supply,
			Circulating: snap.Asset.Circulating,
		},
		Price:   snap.Price,
		History: snap.History,
		Book:    bookSnapshot(symbol, snap.BuyLevels, snap.SellLevels),
	})
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	snap, err := s.venue.Market(symbol)
	if err != nil {
		respondError(w, http.StatusNotFound, "asset not found", symbol)
		return
	}
	respondJSON(w, bookSnapshot(symbol, snap.BuyLevels, snap.SellLevels))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	trades, err := s.venue.RecentTrades(symbol, limit)
	if err != nil {
		respondError(w, http.StatusNotFound, "asset not found", symbol)
		return
	}

	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = TradeInfo{
			ID:        t.ID,
			Asset:     t.Symbol,
			Qty:       t.Qty,
			Price:     t.Price,
			Total:     t.Total,
			Timestamp: t.Timestamp,
		}
	}
	respondJSON(w, out)
}

// ==============================
// Account handlers
// ==============================

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	acc := s.venue.Account(accountID(r))
	respondJSON(w, WalletResponse{
		AccountID:        acc.ID,
		Cash:             acc.Cash,
		ReservedCash:     acc.ReservedCash,
		AvailableCash:    acc.AvailableCash(),
		Holdings:         acc.Holdings,
		ReservedHoldings: acc.ReservedHoldings,
		TotalDeposited:   acc.TotalDeposited,
	})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.venue.OpenOrders(accountID(r))
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = OrderInfo{
			ID:        o.ID,
			Asset:     o.Symbol,
			Side:      o.Side.String(),
			Price:     o.Price,
			Remaining: o.Qty,
			CreatedAt: o.CreatedAt,
		}
	}
	respondJSON(w, out)
}

// ==============================
// Trading handlers
// ==============================

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	var side book.Side
	switch strings.ToLower(req.Side) {
	case "buy":
		side = book.Buy
	case "sell":
		side = book.Sell
	default:
		respondError(w, http.StatusBadRequest, "side must be buy or sell", "")
		return
	}

	res, err := s.venue.PlaceOrder(accountID(r), strings.ToUpper(req.Asset), side, req.Price, req.Qty)
	if err != nil {
		respondVenueError(w, err)
		return
	}

	trades := make([]TradeInfo, len(res.Trades))
	for i, t := range res.Trades {
		trades[i] = TradeInfo{ID: t.ID, Asset: t.Symbol, Qty: t.Qty, Price: t.Price, Total: t.Total, Timestamp: t.Timestamp}
	}
	respondJSON(w, PlaceOrderResponse{OrderID: res.OrderID, Trades: trades})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.OrderID == "" {
		respondError(w, http.StatusBadRequest, "missing orderId", "")
		return
	}

	res, err := s.venue.CancelOrder(accountID(r), req.OrderID)
	if err != nil {
		respondVenueError(w, err)
		return
	}
	respondJSON(w, CancelOrderResponse{OrderID: res.OrderID, Side: res.Side.String(), Refunded: res.Refunded})
}

// ==============================
// Funding handlers
// ==============================

func (s *Server) handleCreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req CreateDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if req.Amount.LessThan(s.cfg.Fees.MinDeposit) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("minimum deposit is $%s", s.cfg.Fees.MinDeposit), "")
		return
	}
	if req.Amount.GreaterThan(s.cfg.Fees.MaxDeposit) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("maximum deposit is $%s", s.cfg.Fees.MaxDeposit), "")
		return
	}

	invoiceID := "inv_" + uuid.NewString()
	s.invoiceMu.Lock()
	s.invoices[invoiceID] = pendingInvoice{
		AccountID: accountID(r),
		Amount:    req.Amount,
		Created:   time.Now(),
	}
	s.invoiceMu.Unlock()

	respondJSON(w, CreateDepositResponse{
		InvoiceID:  invoiceID,
		InvoiceURL: "https://pay.example.com/invoice/" + invoiceID,
		Amount:     req.Amount,
	})
}

func (s *Server) handleConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	var req ConfirmDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	s.invoiceMu.Lock()
	inv, ok := s.invoices[req.InvoiceID]
	if ok && inv.AccountID == accountID(r) {
		delete(s.invoices, req.InvoiceID)
	}
	s.invoiceMu.Unlock()

	if !ok || inv.AccountID != accountID(r) {
		respondError(w, http.StatusNotFound, "invoice not found", "")
		return
	}

	balance, err := s.venue.Deposit(inv.AccountID, inv.Amount)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "deposit failed", err.Error())
		return
	}
	respondJSON(w, ConfirmDepositResponse{Amount: inv.Amount, NewBalance: balance})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if req.Amount.LessThan(s.cfg.Fees.MinWithdrawal) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("minimum withdrawal is $%s", s.cfg.Fees.MinWithdrawal), "")
		return
	}
	if len(req.Address) < 10 {
		respondError(w, http.StatusBadRequest, "invalid withdrawal address", "")
		return
	}

	net, fee, err := s.venue.Withdraw(accountID(r), req.Amount)
	if err != nil {
		respondVenueError(w, err)
		return
	}

	respondJSON(w, WithdrawResponse{
		NetAmount:     net,
		Fee:           fee,
		TransactionID: "TX" + strings.ToUpper(uuid.NewString()[:12]),
	})
}

// ==============================
// Ops handlers
// ==============================

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	st := s.venue.Stats()
	respondJSON(w, StatsResponse{
		Accounts:      st.Accounts,
		Assets:        st.Assets,
		OpenOrders:    st.OpenOrders,
		ConnectedWS:   s.hub.ClientCount(),
		UptimeSeconds: int64(st.Uptime.Seconds()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func bookSnapshot(symbol string, bids, asks []book.Level) OrderbookSnapshot {
	b := make([]PriceLevel, len(bids))
	for i, l := range bids {
		b[i] = PriceLevel{Price: l.Price, Qty: l.Qty}
	}
	a := make([]PriceLevel, len(asks))
	for i, l := range asks {
		a[i] = PriceLevel{Price: l.Price, Qty: l.Qty}
	}
	return OrderbookSnapshot{Asset: symbol, Bids: b, Asks: a, Timestamp: time.Now().UnixMilli()}
}

// respondVenueError maps the venue error taxonomy onto HTTP statuses.
func respondVenueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exchange.ErrUnknownAsset), errors.Is(err, exchange.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, exchange.ErrInsufficientFunds),
		errors.Is(err, exchange.ErrInsufficientHoldings),
		errors.Is(err, exchange.ErrInvalidQuantityOrPrice),
		errors.Is(err, exchange.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, exchange.ErrInternalInconsistency):
		respondError(w, http.StatusInternalServerError, "internal inconsistency", err.Error())
	default:
		respondError(w, http.StatusBadRequest, err.Error(), "")
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}

func respondError(w http.ResponseWriter, status int, msg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Message: detail})
}
