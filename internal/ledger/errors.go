package ledger

import "errors"

var (
	// Validation failures, rejected before any write.
	ErrEmptyPosting      = errors.New("empty journal")
	ErrUnbalancedPosting = errors.New("unbalanced journal")
	ErrMixedCurrency     = errors.New("mixed currencies not allowed")
	ErrInvalidAmount     = errors.New("line amount must be positive")
	ErrInvalidFeeRate    = errors.New("feeBps must be between 0 and 10000")

	// Not-found failures, surfaced to callers.
	ErrOrderNotFound   = errors.New("order not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrPayoutNotFound  = errors.New("payout not found")

	// ErrDuplicateTransaction is returned by the strict Post when lines for
	// the txnId already exist. The idempotent entry points absorb it.
	ErrDuplicateTransaction = errors.New("duplicate txnId")

	// ErrAccountExists signals a lost race on first account creation. It
	// never escapes the resolver; the caller re-reads the winner's row.
	ErrAccountExists = errors.New("account already exists")

	// ErrInsufficientBalance rejects a payout request that exceeds the
	// owner's liability balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOrderNotReleasable rejects a release on an order that was never
	// paid into escrow.
	ErrOrderNotReleasable = errors.New("order not in held state")
)
