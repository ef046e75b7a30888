package oracle

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/waterfall-labs/waterfall/params"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time                       { return c.now }
func (c *fakeClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

func testPricing() params.Pricing {
	return params.Pricing{
		ImpactFactor:   0.02,
		DriftRange:     0.005,
		SeedDriftRange: 0.01,
		Floor:          d("0.0001"),
		HistoryCap:     200,
		SeedPoints:     100,
		TickInterval:   5 * time.Second,
	}
}

func testOracle() *Oracle {
	return New(testPricing(), &fakeClock{now: time.Unix(1_700_000_000, 0)}, rand.New(rand.NewSource(42)))
}

func TestTrackSeedsHistory(t *testing.T) {
	o := testOracle()
	if err := o.Track("MINT", d("0.078"), d("10000000")); err != nil {
		t.Fatalf("track: %v", err)
	}

	h := o.History("MINT")
	if len(h) != 100 {
		t.Fatalf("seed points: got %d, want 100", len(h))
	}
	for i := 1; i < len(h); i++ {
		if h[i].Time-h[i-1].Time != 60_000 {
			t.Errorf("seed spacing at %d: %d ms", i, h[i].Time-h[i-1].Time)
		}
	}
	// seeded prices stay within ±1% of the initial price
	lo, hi := d("0.078").Mul(d("0.99")), d("0.078").Mul(d("1.01"))
	for i, p := range h {
		if p.Price.LessThan(lo) || p.Price.GreaterThan(hi) {
			t.Errorf("seed point %d out of band: %s", i, p.Price)
		}
	}

	// mark price continues from the last seeded point
	price, ok := o.Price("MINT")
	if !ok || !price.Equal(h[len(h)-1].Price) {
		t.Errorf("mark price %s != last seed %s", price, h[len(h)-1].Price)
	}
}

func TestTrackRejectsBadInput(t *testing.T) {
	o := testOracle()
	if err := o.Track("X", d("0"), d("1")); err == nil {
		t.Error("zero initial price accepted")
	}
	if err := o.Track("X", d("1"), d("0")); err == nil {
		t.Error("zero circulating accepted")
	}
	if err := o.Track("MINT", d("1"), d("1")); err != nil {
		t.Fatal(err)
	}
	if err := o.Track("MINT", d("1"), d("1")); err == nil {
		t.Error("duplicate track accepted")
	}
}

func TestUpdateAfterTradeDirection(t *testing.T) {
	o := testOracle()
	o.Track("MINT", d("0.078"), d("10000000"))
	start, _ := o.Price("MINT")

	// buy pressure raises the price
	up, err := o.UpdateAfterTrade("MINT", d("1000000"), d("0"))
	if err != nil {
		t.Fatal(err)
	}
	// ratio 0.1, impact 0.02 -> +0.2%
	want := start.Mul(d("1.002"))
	if !up.Equal(want) {
		t.Errorf("buy pressure: got %s, want %s", up, want)
	}

	// sell pressure lowers it
	down, err := o.UpdateAfterTrade("MINT", d("0"), d("1000000"))
	if err != nil {
		t.Fatal(err)
	}
	if !down.LessThan(up) {
		t.Errorf("sell pressure did not lower price: %s -> %s", up, down)
	}

	// balanced book leaves it unchanged
	same, err := o.UpdateAfterTrade("MINT", d("5"), d("5"))
	if err != nil {
		t.Fatal(err)
	}
	if !same.Equal(down) {
		t.Errorf("balanced book moved price: %s -> %s", down, same)
	}
}

func TestPriceFloor(t *testing.T) {
	o := testOracle()
	o.Track("SKH", d("0.0009"), d("1000"))

	// relentless sell pressure: ratio -1, change -2% per update, but the
	// floor must hold no matter how many updates land
	for i := 0; i < 500; i++ {
		if _, err := o.UpdateAfterTrade("SKH", d("0"), d("1000")); err != nil {
			t.Fatal(err)
		}
	}
	price, _ := o.Price("SKH")
	if price.LessThan(d("0.0001")) {
		t.Errorf("price %s below floor", price)
	}
	if !price.Equal(d("0.0001")) {
		t.Errorf("price %s should have converged to the floor", price)
	}
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	o := testOracle()
	o.Track("MINT", d("0.078"), d("10000000"))

	first := o.History("MINT")[0]
	for i := 0; i < 150; i++ {
		o.ApplyDrift("MINT")
	}

	h := o.History("MINT")
	if len(h) != 200 {
		t.Fatalf("history length: got %d, want cap 200", len(h))
	}
	// 100 seeds + 150 drifts = 250 points, the oldest 50 must be gone
	if h[0].Time == first.Time {
		t.Error("oldest point not evicted")
	}
	// newest point reflects the current price
	price, _ := o.Price("MINT")
	if !h[len(h)-1].Price.Equal(price) {
		t.Errorf("tail %s != price %s", h[len(h)-1].Price, price)
	}
}

func TestApplyDriftBounded(t *testing.T) {
	o := testOracle()
	o.Track("MINT", d("0.078"), d("10000000"))

	for i := 0; i < 100; i++ {
		before, _ := o.Price("MINT")
		after, err := o.ApplyDrift("MINT")
		if err != nil {
			t.Fatal(err)
		}
		lo, hi := before.Mul(d("0.995")), before.Mul(d("1.005"))
		if after.LessThan(lo) || after.GreaterThan(hi) {
			t.Errorf("drift step %d out of band: %s -> %s", i, before, after)
		}
	}
}

func TestDeterministicWithSeededSource(t *testing.T) {
	run := func() decimal.Decimal {
		o := testOracle()
		o.Track("MINT", d("0.078"), d("10000000"))
		for i := 0; i < 10; i++ {
			o.ApplyDrift("MINT")
		}
		p, _ := o.Price("MINT")
		return p
	}
	if a, b := run(), run(); !a.Equal(b) {
		t.Errorf("same seed diverged: %s vs %s", a, b)
	}
}

func TestHistoryTail(t *testing.T) {
	o := testOracle()
	o.Track("MINT", d("0.078"), d("10000000"))

	tail := o.HistoryTail("MINT", 10)
	if len(tail) != 10 {
		t.Fatalf("tail: got %d, want 10", len(tail))
	}
	full := o.History("MINT")
	if !tail[9].Price.Equal(full[len(full)-1].Price) {
		t.Error("tail does not end at the newest point")
	}

	if got := o.HistoryTail("MINT", 1000); len(got) != len(full) {
		t.Errorf("oversized tail: got %d, want %d", len(got), len(full))
	}
}

func TestUnknownSymbol(t *testing.T) {
	o := testOracle()
	if _, err := o.UpdateAfterTrade("NOPE", d("1"), d("0")); err == nil {
		t.Error("update on untracked symbol accepted")
	}
	if _, err := o.ApplyDrift("NOPE"); err == nil {
		t.Error("drift on untracked symbol accepted")
	}
	if _, ok := o.Price("NOPE"); ok {
		t.Error("price for untracked symbol")
	}
}
