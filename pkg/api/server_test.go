package api

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/waterfall-labs/waterfall/params"
	"github.com/waterfall-labs/waterfall/pkg/auth"
	"github.com/waterfall-labs/waterfall/pkg/exchange"
	"github.com/waterfall-labs/waterfall/pkg/exchange/oracle"
	"github.com/waterfall-labs/waterfall/pkg/util"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testServer(t *testing.T) (*Server, *exchange.Venue) {
	t.Helper()
	cfg := params.Default()
	orc := oracle.New(cfg.Pricing, util.RealClock{}, rand.New(rand.NewSource(1)))
	venue, err := exchange.New(cfg, nil, nil, nil, util.RealClock{}, orc, nil)
	if err != nil {
		t.Fatalf("venue: %v", err)
	}
	authMgr := auth.NewManager("test-secret", time.Hour, nil, nil)
	return NewServer(venue, authMgr, cfg, nil), venue
}

// do sends a JSON request through the router and decodes the response into out.
func do(t *testing.T, s *Server, method, path, token string, body, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec
}

func register(t *testing.T, s *Server, username string) AuthResponse {
	t.Helper()
	var resp AuthResponse
	rec := do(t, s, "POST", "/api/v1/auth/register", "", RegisterRequest{Username: username, Password: "hunter22"}, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("register: %d %s", rec.Code, rec.Body)
	}
	return resp
}

func TestRegisterLoginFlow(t *testing.T) {
	s, _ := testServer(t)

	u := register(t, s, "alice")
	if u.Token == "" || u.UserID == "" {
		t.Fatal("empty auth response")
	}

	if rec := do(t, s, "POST", "/api/v1/auth/register", "",
		RegisterRequest{Username: "alice", Password: "other-pass"}, nil); rec.Code != http.StatusConflict {
		t.Errorf("duplicate register: %d", rec.Code)
	}

	var login AuthResponse
	rec := do(t, s, "POST", "/api/v1/auth/login", "", LoginRequest{Username: "alice", Password: "hunter22"}, &login)
	if rec.Code != http.StatusOK || login.UserID != u.UserID {
		t.Errorf("login: %d %+v", rec.Code, login)
	}

	if rec := do(t, s, "POST", "/api/v1/auth/login", "", LoginRequest{Username: "alice", Password: "wrong"}, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	s, _ := testServer(t)

	if rec := do(t, s, "GET", "/api/v1/account", "", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: %d", rec.Code)
	}
	if rec := do(t, s, "GET", "/api/v1/account", "garbage", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: %d", rec.Code)
	}
}

func TestDepositFlow(t *testing.T) {
	s, _ := testServer(t)
	u := register(t, s, "alice")

	// out of bounds
	if rec := do(t, s, "POST", "/api/v1/deposits", u.Token, CreateDepositRequest{Amount: d("5")}, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("below min: %d", rec.Code)
	}
	if rec := do(t, s, "POST", "/api/v1/deposits", u.Token, CreateDepositRequest{Amount: d("5000")}, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("above max: %d", rec.Code)
	}

	var inv CreateDepositResponse
	rec := do(t, s, "POST", "/api/v1/deposits", u.Token, CreateDepositRequest{Amount: d("100")}, &inv)
	if rec.Code != http.StatusOK || inv.InvoiceID == "" {
		t.Fatalf("create deposit: %d %+v", rec.Code, inv)
	}

	var conf ConfirmDepositResponse
	rec = do(t, s, "POST", "/api/v1/deposits/confirm", u.Token, ConfirmDepositRequest{InvoiceID: inv.InvoiceID}, &conf)
	if rec.Code != http.StatusOK || !conf.NewBalance.Equal(d("100")) {
		t.Fatalf("confirm: %d %+v", rec.Code, conf)
	}

	// an invoice confirms exactly once
	if rec := do(t, s, "POST", "/api/v1/deposits/confirm", u.Token, ConfirmDepositRequest{InvoiceID: inv.InvoiceID}, nil); rec.Code != http.StatusNotFound {
		t.Errorf("double confirm: %d", rec.Code)
	}

	var wallet WalletResponse
	do(t, s, "GET", "/api/v1/account", u.Token, nil, &wallet)
	if !wallet.Cash.Equal(d("100")) {
		t.Errorf("wallet cash: %s", wallet.Cash)
	}
}

func TestConfirmForeignInvoiceRejected(t *testing.T) {
	s, _ := testServer(t)
	alice := register(t, s, "alice")
	mallory := register(t, s, "mallory")

	var inv CreateDepositResponse
	do(t, s, "POST", "/api/v1/deposits", alice.Token, CreateDepositRequest{Amount: d("100")}, &inv)

	if rec := do(t, s, "POST", "/api/v1/deposits/confirm", mallory.Token, ConfirmDepositRequest{InvoiceID: inv.InvoiceID}, nil); rec.Code != http.StatusNotFound {
		t.Errorf("foreign confirm: %d", rec.Code)
	}
	// the invoice survives for its owner
	if rec := do(t, s, "POST", "/api/v1/deposits/confirm", alice.Token, ConfirmDepositRequest{InvoiceID: inv.InvoiceID}, nil); rec.Code != http.StatusOK {
		t.Errorf("owner confirm after foreign attempt: %d", rec.Code)
	}
}

func TestWithdrawValidation(t *testing.T) {
	s, v := testServer(t)
	u := register(t, s, "alice")
	v.Deposit(u.UserID, d("100"))

	if rec := do(t, s, "POST", "/api/v1/withdrawals", u.Token, WithdrawRequest{Amount: d("2"), Address: "TAddrLongEnough"}, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("below min: %d", rec.Code)
	}
	if rec := do(t, s, "POST", "/api/v1/withdrawals", u.Token, WithdrawRequest{Amount: d("50"), Address: "short"}, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("short address: %d", rec.Code)
	}
	if rec := do(t, s, "POST", "/api/v1/withdrawals", u.Token, WithdrawRequest{Amount: d("500"), Address: "TAddrLongEnough"}, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("overdraw: %d", rec.Code)
	}

	var resp WithdrawResponse
	rec := do(t, s, "POST", "/api/v1/withdrawals", u.Token, WithdrawRequest{Amount: d("50"), Address: "TAddrLongEnough"}, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("withdraw: %d %s", rec.Code, rec.Body)
	}
	if !resp.Fee.Equal(d("1.5")) || !resp.NetAmount.Equal(d("48.5")) {
		t.Errorf("fee/net: %s/%s", resp.Fee, resp.NetAmount)
	}
}

func TestOrderLifecycle(t *testing.T) {
	s, v := testServer(t)
	buyer := register(t, s, "buyer")
	seller := register(t, s, "seller")
	v.Deposit(buyer.UserID, d("100"))
	v.Ledger().Grant(seller.UserID, "MINT", d("50"))

	if rec := do(t, s, "POST", "/api/v1/orders", buyer.Token,
		PlaceOrderRequest{Asset: "NOPE", Side: "buy", Price: d("1"), Qty: d("1")}, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown asset: %d", rec.Code)
	}
	if rec := do(t, s, "POST", "/api/v1/orders", buyer.Token,
		PlaceOrderRequest{Asset: "MINT", Side: "hold", Price: d("1"), Qty: d("1")}, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad side: %d", rec.Code)
	}
	if rec := do(t, s, "POST", "/api/v1/orders", buyer.Token,
		PlaceOrderRequest{Asset: "MINT", Side: "buy", Price: d("10"), Qty: d("100")}, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("unaffordable: %d", rec.Code)
	}

	var sell PlaceOrderResponse
	rec := do(t, s, "POST", "/api/v1/orders", seller.Token,
		PlaceOrderRequest{Asset: "MINT", Side: "sell", Price: d("0.08"), Qty: d("10")}, &sell)
	if rec.Code != http.StatusOK || len(sell.Trades) != 0 {
		t.Fatalf("place sell: %d %+v", rec.Code, sell)
	}

	var buy PlaceOrderResponse
	rec = do(t, s, "POST", "/api/v1/orders", buyer.Token,
		PlaceOrderRequest{Asset: "MINT", Side: "buy", Price: d("0.09"), Qty: d("4")}, &buy)
	if rec.Code != http.StatusOK || len(buy.Trades) != 1 {
		t.Fatalf("place buy: %d %+v", rec.Code, buy)
	}
	if !buy.Trades[0].Price.Equal(d("0.08")) {
		t.Errorf("execution price: %s, want maker 0.08", buy.Trades[0].Price)
	}

	// the seller's remainder still rests
	var orders []OrderInfo
	do(t, s, "GET", "/api/v1/account/orders", seller.Token, nil, &orders)
	if len(orders) != 1 || !orders[0].Remaining.Equal(d("6")) {
		t.Fatalf("open orders: %+v", orders)
	}

	var cancel CancelOrderResponse
	rec = do(t, s, "POST", "/api/v1/orders/cancel", seller.Token, CancelOrderRequest{OrderID: orders[0].ID}, &cancel)
	if rec.Code != http.StatusOK || !cancel.Refunded.Equal(d("6")) {
		t.Fatalf("cancel: %d %+v", rec.Code, cancel)
	}

	if rec := do(t, s, "POST", "/api/v1/orders/cancel", seller.Token, CancelOrderRequest{OrderID: orders[0].ID}, nil); rec.Code != http.StatusNotFound {
		t.Errorf("double cancel: %d", rec.Code)
	}
}

func TestMarketDataEndpoints(t *testing.T) {
	s, _ := testServer(t)

	var assets []AssetInfo
	rec := do(t, s, "GET", "/api/v1/assets", "", nil, &assets)
	if rec.Code != http.StatusOK || len(assets) != 5 {
		t.Fatalf("assets: %d, %d entries", rec.Code, len(assets))
	}

	var market MarketResponse
	rec = do(t, s, "GET", "/api/v1/markets/mint", "", nil, &market)
	if rec.Code != http.StatusOK || market.Asset.Symbol != "MINT" {
		t.Fatalf("market (lowercase symbol): %d %+v", rec.Code, market.Asset)
	}
	if len(market.History) == 0 {
		t.Error("empty price history")
	}

	if rec := do(t, s, "GET", "/api/v1/markets/NOPE", "", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown market: %d", rec.Code)
	}

	var book OrderbookSnapshot
	rec = do(t, s, "GET", "/api/v1/markets/MINT/orderbook", "", nil, &book)
	if rec.Code != http.StatusOK || book.Asset != "MINT" {
		t.Errorf("orderbook: %d %+v", rec.Code, book)
	}

	rec = do(t, s, "GET", "/health", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health: %d", rec.Code)
	}

	var stats StatsResponse
	rec = do(t, s, "GET", "/api/v1/stats", "", nil, &stats)
	if rec.Code != http.StatusOK || stats.Assets != 5 {
		t.Errorf("stats: %d %+v", rec.Code, stats)
	}
}
