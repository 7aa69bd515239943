package ledger

import (
	"context"
	"testing"

	"github.com/hefamarket/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func platformSel(purpose models.AccountPurpose, typ models.AccountType, currency string) models.AccountSelector {
	return models.AccountSelector{
		OwnerType: models.OwnerPlatform,
		Purpose:   purpose,
		Type:      typ,
		Currency:  currency,
	}
}

func balancedLines(amount int64, currency string) []PostingLine {
	return []PostingLine{
		{Account: platformSel(models.PurposeCashGateway, models.TypeAsset, currency), Side: models.Debit, Amount: amount},
		{Account: platformSel(models.PurposeEscrow, models.TypeLiability, currency), Side: models.Credit, Amount: amount},
	}
}

func TestPostValidation(t *testing.T) {
	store := NewMemStore()
	engine := NewPostingEngine(store)
	ctx := context.Background()

	tests := []struct {
		name    string
		lines   []PostingLine
		wantErr error
	}{
		{
			name:    "empty line set",
			lines:   nil,
			wantErr: ErrEmptyPosting,
		},
		{
			name: "unbalanced totals",
			lines: []PostingLine{
				{Account: platformSel(models.PurposeCashGateway, models.TypeAsset, "NGN"), Side: models.Debit, Amount: 100},
				{Account: platformSel(models.PurposeEscrow, models.TypeLiability, "NGN"), Side: models.Credit, Amount: 99},
			},
			wantErr: ErrUnbalancedPosting,
		},
		{
			name: "debit only",
			lines: []PostingLine{
				{Account: platformSel(models.PurposeCashGateway, models.TypeAsset, "NGN"), Side: models.Debit, Amount: 100},
			},
			wantErr: ErrUnbalancedPosting,
		},
		{
			name: "zero amount",
			lines: []PostingLine{
				{Account: platformSel(models.PurposeCashGateway, models.TypeAsset, "NGN"), Side: models.Debit, Amount: 0},
				{Account: platformSel(models.PurposeEscrow, models.TypeLiability, "NGN"), Side: models.Credit, Amount: 0},
			},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "negative amount",
			lines: []PostingLine{
				{Account: platformSel(models.PurposeCashGateway, models.TypeAsset, "NGN"), Side: models.Debit, Amount: -5},
				{Account: platformSel(models.PurposeEscrow, models.TypeLiability, "NGN"), Side: models.Credit, Amount: -5},
			},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "mixed currencies",
			lines: []PostingLine{
				{Account: platformSel(models.PurposeCashGateway, models.TypeAsset, "NGN"), Side: models.Debit, Amount: 100},
				{Account: platformSel(models.PurposeEscrow, models.TypeLiability, "USD"), Side: models.Credit, Amount: 100},
			},
			wantErr: ErrMixedCurrency,
		},
		{
			name: "invalid side",
			lines: []PostingLine{
				{Account: platformSel(models.PurposeCashGateway, models.TypeAsset, "NGN"), Side: "SIDEWAYS", Amount: 100},
				{Account: platformSel(models.PurposeEscrow, models.TypeLiability, "NGN"), Side: models.Credit, Amount: 100},
			},
			wantErr: ErrUnbalancedPosting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Post(ctx, "TXN:"+tt.name, tt.lines)
			assert.ErrorIs(t, err, tt.wantErr)

			// A rejected posting must leave no trace.
			entries, err := store.Entries(ctx, EntryFilter{TxnID: "TXN:" + tt.name})
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestPostWritesNumberedLines(t *testing.T) {
	store := NewMemStore()
	engine := NewPostingEngine(store)
	ctx := context.Background()

	res, err := engine.Post(ctx, "TXN:1", balancedLines(250000, "NGN"))
	require.NoError(t, err)
	assert.Equal(t, "TXN:1", res.TxnID)
	assert.Equal(t, 2, res.Lines)
	assert.False(t, res.Idempotent)

	entries, err := store.Entries(ctx, EntryFilter{TxnID: "TXN:1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	seen := map[int]bool{}
	for _, e := range entries {
		assert.Equal(t, "TXN:1", e.TxnID)
		assert.Equal(t, int64(250000), e.Amount)
		assert.Equal(t, "NGN", e.Currency)
		seen[e.LineNo] = true
	}
	assert.True(t, seen[1])
	assert.True(t, seen[2])
}

func TestPostStrictDuplicateFails(t *testing.T) {
	store := NewMemStore()
	engine := NewPostingEngine(store)
	ctx := context.Background()

	_, err := engine.Post(ctx, "TXN:dup", balancedLines(100, "NGN"))
	require.NoError(t, err)

	_, err = engine.Post(ctx, "TXN:dup", balancedLines(100, "NGN"))
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	entries, err := store.Entries(ctx, EntryFilter{TxnID: "TXN:dup"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPostIdempotentReplay(t *testing.T) {
	store := NewMemStore()
	engine := NewPostingEngine(store)
	ctx := context.Background()

	first, err := engine.PostIdempotent(ctx, "TXN:replay", balancedLines(5000, "NGN"))
	require.NoError(t, err)
	assert.False(t, first.Idempotent)
	assert.Equal(t, 2, first.Lines)

	hookRan := false
	second, err := engine.PostIdempotent(ctx, "TXN:replay", balancedLines(5000, "NGN"), func(tx Tx) error {
		hookRan = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.Zero(t, second.Lines)
	assert.False(t, hookRan, "replay must skip in-tx steps")

	entries, err := store.Entries(ctx, EntryFilter{TxnID: "TXN:replay"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPostRollsBackOnHookFailure(t *testing.T) {
	store := NewMemStore()
	engine := NewPostingEngine(store)
	ctx := context.Background()

	_, err := engine.Post(ctx, "TXN:hookfail", balancedLines(100, "NGN"), func(tx Tx) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	entries, err := store.Entries(ctx, EntryFilter{TxnID: "TXN:hookfail"})
	require.NoError(t, err)
	assert.Empty(t, entries, "failed unit of work must write nothing")

	// The txnId is free again after the rollback.
	res, err := engine.Post(ctx, "TXN:hookfail", balancedLines(100, "NGN"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Lines)
}

func TestPostConcurrentSameTxn(t *testing.T) {
	store := NewMemStore()
	engine := NewPostingEngine(store)
	ctx := context.Background()

	const workers = 16
	results := make(chan PostResult, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			res, err := engine.PostIdempotent(ctx, "TXN:race", balancedLines(700, "NGN"))
			results <- res
			errs <- err
		}()
	}

	var fresh int
	for i := 0; i < workers; i++ {
		require.NoError(t, <-errs)
		if res := <-results; !res.Idempotent {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one caller writes the lines")

	entries, err := store.Entries(ctx, EntryFilter{TxnID: "TXN:race"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPostMultiLegTransaction(t *testing.T) {
	store := NewMemStore()
	engine := NewPostingEngine(store)
	ctx := context.Background()

	lines := []PostingLine{
		{Account: platformSel(models.PurposeEscrow, models.TypeLiability, "NGN"), Side: models.Debit, Amount: 180000},
		{Account: models.AccountSelector{
			OwnerType: models.OwnerMerchant, OwnerID: "m-1",
			Purpose: models.PurposeMerchantReceivable, Type: models.TypeLiability, Currency: "NGN",
		}, Side: models.Credit, Amount: 171000},
		{Account: platformSel(models.PurposeFees, models.TypeIncome, "NGN"), Side: models.Credit, Amount: 9000},
	}
	res, err := engine.Post(ctx, "TXN:split", lines)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Lines)
}
