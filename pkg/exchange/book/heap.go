package book

import "github.com/shopspring/decimal"

// maxPriceHeap implements heap.Interface for buy prices (highest on top).
// Manipulate through container/heap (Init, Push, Pop, Remove).
type maxPriceHeap []decimal.Decimal

func (h maxPriceHeap) Len() int           { return len(h) }
func (h maxPriceHeap) Less(i, j int) bool { return h[i].GreaterThan(h[j]) }
func (h maxPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxPriceHeap) Push(x any) {
	*h = append(*h, x.(decimal.Decimal))
}

func (h *maxPriceHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h maxPriceHeap) Peek() (decimal.Decimal, bool) {
	if len(h) == 0 {
		return decimal.Zero, false
	}
	return h[0], true
}

// minPriceHeap implements heap.Interface for sell prices (lowest on top).
type minPriceHeap []decimal.Decimal

func (h minPriceHeap) Len() int           { return len(h) }
func (h minPriceHeap) Less(i, j int) bool { return h[i].LessThan(h[j]) }
func (h minPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minPriceHeap) Push(x any) {
	*h = append(*h, x.(decimal.Decimal))
}

func (h *minPriceHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h minPriceHeap) Peek() (decimal.Decimal, bool) {
	if len(h) == 0 {
		return decimal.Zero, false
	}
	return h[0], true
}
