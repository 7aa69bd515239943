package ledger

import (
	"context"

	"github.com/hefamarket/backend/internal/models"
)

// PostingLine is one requested leg of a transaction. Meta is stored on the
// journal row for auditing and never participates in balance computation.
type PostingLine struct {
	Account models.AccountSelector `json:"account"`
	Side    models.JournalSide     `json:"side"`
	Amount  int64                  `json:"amount"`
	Meta    map[string]any         `json:"meta,omitempty"`
}

type PostResult struct {
	TxnID      string `json:"txnId"`
	Lines      int    `json:"lines"`
	Idempotent bool   `json:"idempotent"`
}

// PostingEngine validates and durably writes balanced journal line sets,
// exactly once per txnId.
type PostingEngine struct {
	store    Store
	resolver *AccountResolver
}

func NewPostingEngine(store Store) *PostingEngine {
	return &PostingEngine{store: store, resolver: NewAccountResolver()}
}

// Post writes the lines for txnId, or fails with ErrDuplicateTransaction if
// any lines for txnId were already committed. The optional inTx steps run in
// the same storage transaction as the inserts, after them.
func (e *PostingEngine) Post(ctx context.Context, txnID string, lines []PostingLine, inTx ...func(tx Tx) error) (PostResult, error) {
	return e.post(ctx, txnID, lines, false, inTx)
}

// PostIdempotent is Post with the duplicate-txnId failure absorbed: a replay
// reports Idempotent=true, writes nothing, and skips the inTx steps. All
// workflow operations go through this entry point.
func (e *PostingEngine) PostIdempotent(ctx context.Context, txnID string, lines []PostingLine, inTx ...func(tx Tx) error) (PostResult, error) {
	return e.post(ctx, txnID, lines, true, inTx)
}

func (e *PostingEngine) post(ctx context.Context, txnID string, lines []PostingLine, idempotent bool, inTx []func(tx Tx) error) (PostResult, error) {
	currency, err := validateLines(lines)
	if err != nil {
		return PostResult{}, err
	}

	res := PostResult{TxnID: txnID}
	err = e.store.WithinTx(ctx, func(tx Tx) error {
		claimed, err := tx.ClaimTxn(ctx, txnID)
		if err != nil {
			return err
		}
		if !claimed {
			if idempotent {
				res.Idempotent = true
				return nil
			}
			return ErrDuplicateTransaction
		}

		entries := make([]models.JournalEntry, 0, len(lines))
		for i, l := range lines {
			acc, err := e.resolver.GetOrCreateAccount(ctx, tx, l.Account)
			if err != nil {
				return err
			}
			entries = append(entries, models.JournalEntry{
				TxnID:     txnID,
				LineNo:    i + 1,
				AccountID: acc.ID,
				Side:      l.Side,
				Amount:    l.Amount,
				Currency:  currency,
				Meta:      l.Meta,
			})
		}
		if err := tx.InsertJournalLines(ctx, entries); err != nil {
			return err
		}
		res.Lines = len(entries)

		for _, fn := range inTx {
			if err := fn(tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PostResult{}, err
	}
	return res, nil
}

// validateLines enforces the posting preconditions before any account
// resolution or write: non-empty input, positive amounts, one currency, and
// exactly equal debit and credit totals.
func validateLines(lines []PostingLine) (string, error) {
	if len(lines) == 0 {
		return "", ErrEmptyPosting
	}
	currency := lines[0].Account.Currency
	var debits, credits int64
	for _, l := range lines {
		if l.Amount <= 0 {
			return "", ErrInvalidAmount
		}
		if l.Account.Currency != currency {
			return "", ErrMixedCurrency
		}
		switch l.Side {
		case models.Debit:
			debits += l.Amount
		case models.Credit:
			credits += l.Amount
		default:
			return "", ErrUnbalancedPosting
		}
	}
	if debits != credits {
		return "", ErrUnbalancedPosting
	}
	return currency, nil
}
