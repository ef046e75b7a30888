package storage

import "fmt"

// Pebble key schema. Prefix-based so related records share a range scan, with
// zero-padded timestamps where lexicographic order must follow time.
const (
	prefixAccount = "acc:"
	prefixUser    = "user:"
	prefixTrade   = "trade:"
)

// accountKey: "acc:{accountID}"
func accountKey(id string) []byte {
	return []byte(prefixAccount + id)
}

// userKey: "user:{username}"
func userKey(username string) []byte {
	return []byte(prefixUser + username)
}

// tradeKey: "trade:{symbol}:{timestamp}:{tradeID}"
// Timestamp is zero-padded to 20 digits for lexicographic time ordering.
func tradeKey(symbol string, timestamp int64, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, symbol, timestamp, tradeID))
}

// tradePrefix: "trade:{symbol}:" ranges over one asset's trade history.
func tradePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, symbol))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
