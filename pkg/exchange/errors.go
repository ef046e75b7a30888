package exchange

import (
	"errors"

	"github.com/waterfall-labs/waterfall/pkg/exchange/ledger"
)

// Validation failures are returned to the caller at the API boundary.
// ErrInternalInconsistency is the only fatal class: it means settlement failed
// after a successful reservation, which upfront escrow makes unreachable in
// normal operation. The matching pass for that asset is aborted and the error
// surfaced without further book mutation.
//
// Balance errors originate in the ledger and are re-exported here so callers
// only need this package for the full taxonomy.
var (
	ErrInvalidAmount          = ledger.ErrInvalidAmount
	ErrInsufficientFunds      = ledger.ErrInsufficientFunds
	ErrInsufficientHoldings   = ledger.ErrInsufficientHoldings
	ErrInternalInconsistency  = ledger.ErrInternalInconsistency
	ErrUnknownAsset           = errors.New("unknown asset")
	ErrInvalidQuantityOrPrice = errors.New("quantity and price must be positive")
	ErrOrderNotFound          = errors.New("order not found")
)
