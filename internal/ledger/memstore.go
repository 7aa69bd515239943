package ledger

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hefamarket/backend/internal/models"
)

type selectorKey struct {
	ownerType models.OwnerType
	ownerID   string
	purpose   models.AccountPurpose
	currency  string
}

// MemStore is an in-memory Store used by tests and local development. It
// honors the same contracts as PostgresStore: unique account selectors,
// unique (txnId, lineNo), all-or-nothing units of work.
type MemStore struct {
	mu        sync.Mutex
	accounts  map[selectorKey]models.WalletAccount
	byID      map[string]models.WalletAccount
	entries   []models.JournalEntry
	txns      map[string]bool
	orders    map[string]models.Order
	payouts   map[string]models.PayoutStatus
	transfers map[string]models.TransferStatus // keyed by providerRef
	seq       int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		accounts:  make(map[selectorKey]models.WalletAccount),
		byID:      make(map[string]models.WalletAccount),
		txns:      make(map[string]bool),
		orders:    make(map[string]models.Order),
		payouts:   make(map[string]models.PayoutStatus),
		transfers: make(map[string]models.TransferStatus),
	}
}

// SeedOrder installs an order row for workflow operations to couple with.
func (s *MemStore) SeedOrder(order models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
}

// SeedPayout installs payout/transfer state for settlement tests.
func (s *MemStore) SeedPayout(payoutID, providerRef string, status models.PayoutStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts[payoutID] = status
	s.transfers[providerRef] = models.TransferSent
}

// OrderStatus reports an order's current status.
func (s *MemStore) OrderStatus(orderID string) models.OrderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[orderID].Status
}

// PayoutStatus reports a payout's current status.
func (s *MemStore) PayoutStatus(payoutID string) models.PayoutStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payouts[payoutID]
}

func key(sel models.AccountSelector) selectorKey {
	return selectorKey{sel.OwnerType, sel.OwnerID, sel.Purpose, sel.Currency}
}

func accountKey(acc models.WalletAccount) selectorKey {
	return selectorKey{acc.OwnerType, acc.OwnerID, acc.Purpose, acc.Currency}
}

// memTx buffers writes so a failed unit of work leaves no trace, mirroring
// a rolled-back storage transaction.
type memTx struct {
	store       *MemStore
	newAccounts []models.WalletAccount
	newEntries  []models.JournalEntry
	orderOps    []func()
	payoutOps   []func()
}

func (s *MemStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}

	// Commit
	now := time.Now()
	for _, acc := range tx.newAccounts {
		acc.CreatedAt = now
		s.accounts[accountKey(acc)] = acc
		s.byID[acc.ID] = acc
	}
	for _, e := range tx.newEntries {
		s.seq++
		e.ID = strconv.FormatInt(s.seq, 10)
		e.CreatedAt = now
		s.entries = append(s.entries, e)
		s.txns[e.TxnID] = true
	}
	for _, op := range tx.orderOps {
		op()
	}
	for _, op := range tx.payoutOps {
		op()
	}
	return nil
}

func (t *memTx) ClaimTxn(ctx context.Context, txnID string) (bool, error) {
	if t.store.txns[txnID] {
		return false, nil
	}
	for _, e := range t.newEntries {
		if e.TxnID == txnID {
			return false, nil
		}
	}
	return true, nil
}

func (t *memTx) FindAccount(ctx context.Context, sel models.AccountSelector) (*models.WalletAccount, error) {
	if acc, ok := t.store.accounts[key(sel)]; ok {
		cp := acc
		return &cp, nil
	}
	for _, acc := range t.newAccounts {
		if accountKey(acc) == key(sel) {
			cp := acc
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateAccount(ctx context.Context, acc models.WalletAccount) error {
	if _, ok := t.store.accounts[accountKey(acc)]; ok {
		return ErrAccountExists
	}
	for _, pending := range t.newAccounts {
		if accountKey(pending) == accountKey(acc) {
			return ErrAccountExists
		}
	}
	t.newAccounts = append(t.newAccounts, acc)
	return nil
}

func (t *memTx) InsertJournalLines(ctx context.Context, entries []models.JournalEntry) error {
	for _, e := range entries {
		if t.store.txns[e.TxnID] {
			return ErrDuplicateTransaction
		}
	}
	t.newEntries = append(t.newEntries, entries...)
	return nil
}

func (t *memTx) SetOrderStatus(ctx context.Context, orderID string, to models.OrderStatus, from ...models.OrderStatus) error {
	t.orderOps = append(t.orderOps, func() {
		order, ok := t.store.orders[orderID]
		if !ok {
			return
		}
		for _, f := range from {
			if order.Status == f {
				order.Status = to
				order.UpdatedAt = time.Now()
				t.store.orders[orderID] = order
				return
			}
		}
	})
	return nil
}

func (t *memTx) MarkPayoutSettled(ctx context.Context, payoutID, providerRef string) error {
	t.payoutOps = append(t.payoutOps, func() {
		t.store.payouts[payoutID] = models.PayoutSucceeded
		t.store.transfers[providerRef] = models.TransferSucceeded
	})
	return nil
}

func (s *MemStore) GetAccount(ctx context.Context, id string) (*models.WalletAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.byID[id]; ok {
		cp := acc
		return &cp, nil
	}
	return nil, nil
}

func (s *MemStore) FindAccount(ctx context.Context, sel models.AccountSelector) (*models.WalletAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[key(sel)]; ok {
		cp := acc
		return &cp, nil
	}
	return nil, nil
}

func (s *MemStore) ListAccounts(ctx context.Context) ([]models.WalletAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts := make([]models.WalletAccount, 0, len(s.byID))
	for _, acc := range s.byID {
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

func (s *MemStore) AccountSums(ctx context.Context) ([]AccountSum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byAccount := make(map[string]*AccountSum)
	order := []string{}
	for _, e := range s.entries {
		sum, ok := byAccount[e.AccountID]
		if !ok {
			sum = &AccountSum{AccountID: e.AccountID}
			byAccount[e.AccountID] = sum
			order = append(order, e.AccountID)
		}
		if e.Side == models.Debit {
			sum.Debit += e.Amount
		} else {
			sum.Credit += e.Amount
		}
	}
	sums := make([]AccountSum, 0, len(order))
	for _, id := range order {
		sums = append(sums, *byAccount[id])
	}
	return sums, nil
}

func (s *MemStore) AccountSum(ctx context.Context, accountID string) (AccountSum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := AccountSum{AccountID: accountID}
	for _, e := range s.entries {
		if e.AccountID != accountID {
			continue
		}
		if e.Side == models.Debit {
			sum.Debit += e.Amount
		} else {
			sum.Credit += e.Amount
		}
	}
	return sum, nil
}

func (s *MemStore) Entries(ctx context.Context, filter EntryFilter) ([]models.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var out []models.JournalEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if filter.TxnID != "" && e.TxnID != filter.TxnID {
			continue
		}
		if filter.AccountID != "" && e.AccountID != filter.AccountID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *MemStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order, ok := s.orders[id]; ok {
		cp := order
		return &cp, nil
	}
	return nil, nil
}
