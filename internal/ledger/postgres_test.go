package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hefamarket/backend/internal/models"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestWithinTxCommitAndRollback(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := store.WithinTx(context.Background(), func(tx Tx) error { return nil })
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := store.WithinTx(context.Background(), func(tx Tx) error { return assert.AnError })
		assert.ErrorIs(t, err, assert.AnError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestClaimTxn(t *testing.T) {
	t.Run("free txn is claimed", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs("TXN:1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("TXN:1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectCommit()

		err := store.WithinTx(context.Background(), func(tx Tx) error {
			claimed, err := tx.ClaimTxn(context.Background(), "TXN:1")
			require.NoError(t, err)
			assert.True(t, claimed)
			return nil
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("committed txn is not claimed", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs("TXN:1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("TXN:1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectCommit()

		err := store.WithinTx(context.Background(), func(tx Tx) error {
			claimed, err := tx.ClaimTxn(context.Background(), "TXN:1")
			require.NoError(t, err)
			assert.False(t, claimed)
			return nil
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

var accountRowCols = []string{"id", "owner_type", "owner_id", "purpose", "type", "currency", "created_at"}

func TestCreateAccountLostRace(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wallet_accounts").
		WillReturnResult(sqlmock.NewResult(0, 0)) // concurrent creator won
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		return tx.CreateAccount(context.Background(), models.WalletAccount{
			ID: "a-1", OwnerType: models.OwnerMerchant, OwnerID: "m-1",
			Purpose: models.PurposeMerchantReceivable, Type: models.TypeLiability, Currency: "NGN",
		})
	})
	assert.ErrorIs(t, err, ErrAccountExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Two first-ever postings with different txnIds can race to create the same
// account; the advisory lock does not serialize them. The loser's insert must
// leave the transaction usable so the winner's row can be re-read.
func TestGetOrCreateAccountLostRaceRecovery(t *testing.T) {
	store, mock := newMockStore(t)
	resolver := NewAccountResolver()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM wallet_accounts").
		WithArgs("PLATFORM", "PLATFORM", "ESCROW", "NGN").
		WillReturnRows(sqlmock.NewRows(accountRowCols))
	mock.ExpectExec("INSERT INTO wallet_accounts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM wallet_accounts").
		WithArgs("PLATFORM", "PLATFORM", "ESCROW", "NGN").
		WillReturnRows(sqlmock.NewRows(accountRowCols).
			AddRow("winner-1", "PLATFORM", "PLATFORM", "ESCROW", "LIABILITY", "NGN", time.Now()))
	mock.ExpectCommit()

	var acc models.WalletAccount
	err := store.WithinTx(context.Background(), func(tx Tx) error {
		var err error
		acc, err = resolver.GetOrCreateAccount(context.Background(), tx, models.AccountSelector{
			OwnerType: models.OwnerPlatform, Purpose: models.PurposeEscrow,
			Type: models.TypeLiability, Currency: "NGN",
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "winner-1", acc.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertJournalLines(t *testing.T) {
	t.Run("writes each line", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO journal_entries").
			WithArgs("TXN:1", 1, "a-1", "DEBIT", int64(100), "NGN", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO journal_entries").
			WithArgs("TXN:1", 2, "a-2", "CREDIT", int64(100), "NGN", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		err := store.WithinTx(context.Background(), func(tx Tx) error {
			return tx.InsertJournalLines(context.Background(), []models.JournalEntry{
				{TxnID: "TXN:1", LineNo: 1, AccountID: "a-1", Side: models.Debit, Amount: 100, Currency: "NGN"},
				{TxnID: "TXN:1", LineNo: 2, AccountID: "a-2", Side: models.Credit, Amount: 100, Currency: "NGN"},
			})
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate line maps to duplicate transaction", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO journal_entries").
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		err := store.WithinTx(context.Background(), func(tx Tx) error {
			return tx.InsertJournalLines(context.Background(), []models.JournalEntry{
				{TxnID: "TXN:1", LineNo: 1, AccountID: "a-1", Side: models.Debit, Amount: 100, Currency: "NGN"},
			})
		})
		assert.ErrorIs(t, err, ErrDuplicateTransaction)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSetOrderStatusConditional(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs("PAID_HELD", "order-1", pq.Array([]string{"PENDING_PAYMENT"})).
		WillReturnResult(sqlmock.NewResult(0, 0)) // already transitioned; tolerated
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		return tx.SetOrderStatus(context.Background(), "order-1", models.OrderPaidHeld, models.OrderPendingPayment)
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPayoutSettled(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transfers SET status").
		WithArgs("SUCCEEDED", "payout-1", "ref-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE payout_requests SET status").
		WithArgs("SUCCEEDED", "payout-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		return tx.MarkPayoutSettled(context.Background(), "payout-1", "ref-1")
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAccountNoRows(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM wallet_accounts").
		WithArgs("MERCHANT", "m-1", "MERCHANT_RECEIVABLE", "NGN").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_type", "owner_id", "purpose", "type", "currency", "created_at"}))

	acc, err := store.FindAccount(context.Background(), models.AccountSelector{
		OwnerType: models.OwnerMerchant, OwnerID: "m-1",
		Purpose: models.PurposeMerchantReceivable, Type: models.TypeLiability, Currency: "NGN",
	})
	assert.NoError(t, err)
	assert.Nil(t, acc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountSum(t *testing.T) {
	t.Run("sums debit and credit columns", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT account_id").
			WithArgs("a-1").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "debit", "credit"}).
				AddRow("a-1", int64(500), int64(200)))

		sum, err := store.AccountSum(context.Background(), "a-1")
		require.NoError(t, err)
		assert.Equal(t, int64(500), sum.Debit)
		assert.Equal(t, int64(200), sum.Credit)
	})

	t.Run("no entries means zero sums", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT account_id").
			WithArgs("a-2").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "debit", "credit"}))

		sum, err := store.AccountSum(context.Background(), "a-2")
		require.NoError(t, err)
		assert.Equal(t, "a-2", sum.AccountID)
		assert.Zero(t, sum.Debit)
		assert.Zero(t, sum.Credit)
	})
}

func TestEntriesQueryShapes(t *testing.T) {
	entryRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "txn_id", "line_no", "account_id", "side", "amount", "currency", "meta", "created_at"}).
			AddRow("1", "TXN:1", 1, "a-1", "DEBIT", int64(100), "NGN", []byte(`{"orderId":"o-1"}`), time.Now())
	}

	t.Run("filter by txn and account", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("FROM journal_entries WHERE txn_id = \\$1 AND account_id = \\$2").
			WithArgs("TXN:1", "a-1", 50).
			WillReturnRows(entryRows())

		entries, err := store.Entries(context.Background(), EntryFilter{TxnID: "TXN:1", AccountID: "a-1", Limit: 50})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "o-1", entries[0].Meta["orderId"])
	})

	t.Run("no filters", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("FROM journal_entries ORDER BY created_at DESC").
			WithArgs(50).
			WillReturnRows(entryRows())

		entries, err := store.Entries(context.Background(), EntryFilter{Limit: 50})
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestGetOrderNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM orders").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "public_ref", "merchant_profile_id", "customer_email", "amount", "currency", "status", "created_at", "updated_at"}))

	order, err := store.GetOrder(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, order)
}
