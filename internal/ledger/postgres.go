package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hefamarket/backend/internal/models"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresStore is the production Store. Race safety rests on two guards:
// a transaction-scoped advisory lock taken per txnId in ClaimTxn, and unique
// indexes on (txn_id, line_no) and the account selector columns.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	if err := fn(&pgTx{tx: dbTx}); err != nil {
		return err
	}
	return dbTx.Commit()
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) ClaimTxn(ctx context.Context, txnID string) (bool, error) {
	// Serializes concurrent posters of the same txnId for the rest of this
	// transaction, so the existence check below cannot race a commit.
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, txnID); err != nil {
		return false, err
	}
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM journal_entries WHERE txn_id = $1)`, txnID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

const accountColumns = `id, owner_type, owner_id, purpose, type, currency, created_at`

func scanAccount(row *sql.Row) (*models.WalletAccount, error) {
	var a models.WalletAccount
	err := row.Scan(&a.ID, &a.OwnerType, &a.OwnerID, &a.Purpose, &a.Type, &a.Currency, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *pgTx) FindAccount(ctx context.Context, sel models.AccountSelector) (*models.WalletAccount, error) {
	return findAccount(ctx, t.tx, sel)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findAccount(ctx context.Context, q queryer, sel models.AccountSelector) (*models.WalletAccount, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM wallet_accounts
		WHERE owner_type = $1 AND owner_id = $2 AND purpose = $3 AND currency = $4`,
		sel.OwnerType, sel.OwnerID, sel.Purpose, sel.Currency)
	return scanAccount(row)
}

func (t *pgTx) CreateAccount(ctx context.Context, acc models.WalletAccount) error {
	// DO NOTHING instead of letting the unique violation fire: a 23505 would
	// abort the surrounding transaction and the resolver could no longer
	// re-read the winner's row after losing a creation race.
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO wallet_accounts (id, owner_type, owner_id, purpose, type, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_type, owner_id, purpose, currency) DO NOTHING`,
		acc.ID, acc.OwnerType, acc.OwnerID, acc.Purpose, acc.Type, acc.Currency)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountExists
	}
	return nil
}

func (t *pgTx) InsertJournalLines(ctx context.Context, entries []models.JournalEntry) error {
	for _, e := range entries {
		meta, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("marshal journal meta: %w", err)
		}
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO journal_entries (txn_id, line_no, account_id, side, amount, currency, meta)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.TxnID, e.LineNo, e.AccountID, e.Side, e.Amount, e.Currency, meta)
		if isUniqueViolation(err) {
			return ErrDuplicateTransaction
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) SetOrderStatus(ctx context.Context, orderID string, to models.OrderStatus, from ...models.OrderStatus) error {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	// Zero rows means the order already left the from-states; replays of an
	// idempotent operation land here and that is fine.
	_, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`,
		to, orderID, pq.Array(states))
	return err
}

func (t *pgTx) MarkPayoutSettled(ctx context.Context, payoutID, providerRef string) error {
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE transfers SET status = $1
		WHERE payout_request_id = $2 AND provider_ref = $3`,
		models.TransferSucceeded, payoutID, providerRef); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE payout_requests SET status = $1, updated_at = NOW()
		WHERE id = $2`,
		models.PayoutSucceeded, payoutID)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*models.WalletAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM wallet_accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (s *PostgresStore) FindAccount(ctx context.Context, sel models.AccountSelector) (*models.WalletAccount, error) {
	return findAccount(ctx, s.db, sel)
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]models.WalletAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM wallet_accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.WalletAccount
	for rows.Next() {
		var a models.WalletAccount
		if err := rows.Scan(&a.ID, &a.OwnerType, &a.OwnerID, &a.Purpose, &a.Type, &a.Currency, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

const sumQuery = `
	SELECT account_id,
	       COALESCE(SUM(amount) FILTER (WHERE side = 'DEBIT'), 0),
	       COALESCE(SUM(amount) FILTER (WHERE side = 'CREDIT'), 0)
	FROM journal_entries`

func (s *PostgresStore) AccountSums(ctx context.Context) ([]AccountSum, error) {
	rows, err := s.db.QueryContext(ctx, sumQuery+` GROUP BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sums []AccountSum
	for rows.Next() {
		var sum AccountSum
		if err := rows.Scan(&sum.AccountID, &sum.Debit, &sum.Credit); err != nil {
			return nil, err
		}
		sums = append(sums, sum)
	}
	return sums, rows.Err()
}

func (s *PostgresStore) AccountSum(ctx context.Context, accountID string) (AccountSum, error) {
	sum := AccountSum{AccountID: accountID}
	err := s.db.QueryRowContext(ctx,
		sumQuery+` WHERE account_id = $1 GROUP BY account_id`, accountID).
		Scan(&sum.AccountID, &sum.Debit, &sum.Credit)
	if errors.Is(err, sql.ErrNoRows) {
		return sum, nil
	}
	return sum, err
}

func (s *PostgresStore) Entries(ctx context.Context, filter EntryFilter) ([]models.JournalEntry, error) {
	query := `
		SELECT id, txn_id, line_no, account_id, side, amount, currency, meta, created_at
		FROM journal_entries`
	var conds []string
	var args []any
	if filter.TxnID != "" {
		args = append(args, filter.TxnID)
		conds = append(conds, fmt.Sprintf("txn_id = $%d", len(args)))
	}
	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		conds = append(conds, fmt.Sprintf("account_id = $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, line_no DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.TxnID, &e.LineNo, &e.AccountID, &e.Side, &e.Amount, &e.Currency, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal journal meta: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := s.db.QueryRowContext(ctx, `
		SELECT id, public_ref, merchant_profile_id, customer_email, amount, currency, status, created_at, updated_at
		FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.PublicRef, &o.MerchantProfileID, &o.CustomerEmail, &o.Amount, &o.Currency, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
