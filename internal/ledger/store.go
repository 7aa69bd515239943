package ledger

import (
	"context"

	"github.com/hefamarket/backend/internal/models"
)

// AccountSum holds the raw debit/credit totals for one account.
type AccountSum struct {
	AccountID string
	Debit     int64
	Credit    int64
}

// EntryFilter narrows journal queries. Zero values mean no filter; Limit is
// clamped to 1..200 by the projector.
type EntryFilter struct {
	TxnID     string
	AccountID string
	Limit     int
}

// Tx is the unit-of-work handle passed to everything that must commit or
// roll back together: account resolution, journal inserts, and the coupled
// order/payout transitions.
type Tx interface {
	// ClaimTxn serializes posters of the same txnId and reports whether the
	// txn is still unposted. A false return means lines already exist and
	// the claim was not taken.
	ClaimTxn(ctx context.Context, txnID string) (bool, error)

	FindAccount(ctx context.Context, sel models.AccountSelector) (*models.WalletAccount, error)
	// CreateAccount returns ErrAccountExists when a concurrent creator won.
	CreateAccount(ctx context.Context, acc models.WalletAccount) error
	// InsertJournalLines writes a complete balanced set. A uniqueness guard
	// on (txn_id, line_no) backstops ClaimTxn; violations surface as
	// ErrDuplicateTransaction.
	InsertJournalLines(ctx context.Context, entries []models.JournalEntry) error

	// SetOrderStatus transitions an order only when it is in one of the
	// given states; it is a no-op otherwise so replays stay safe.
	SetOrderStatus(ctx context.Context, orderID string, to models.OrderStatus, from ...models.OrderStatus) error
	// MarkPayoutSettled flips the transfer and its payout request to
	// SUCCEEDED alongside the settlement posting.
	MarkPayoutSettled(ctx context.Context, payoutID, providerRef string) error
}

// Store is the persistence boundary the ledger core depends on. Posting and
// balance logic never touch a concrete driver.
type Store interface {
	// WithinTx runs fn inside one storage transaction; any error aborts the
	// whole unit with no partial effects.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetAccount(ctx context.Context, id string) (*models.WalletAccount, error)
	FindAccount(ctx context.Context, sel models.AccountSelector) (*models.WalletAccount, error)
	ListAccounts(ctx context.Context) ([]models.WalletAccount, error)
	AccountSums(ctx context.Context) ([]AccountSum, error)
	AccountSum(ctx context.Context, accountID string) (AccountSum, error)
	Entries(ctx context.Context, filter EntryFilter) ([]models.JournalEntry, error)

	GetOrder(ctx context.Context, id string) (*models.Order, error)
}
