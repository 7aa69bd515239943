package ledger

import (
	"context"

	"github.com/hefamarket/backend/internal/models"
)

// BalanceProjector derives signed balances by folding over the journal.
// Entries are write-once, so projections need no locking and are always
// reproducible from the raw lines.
type BalanceProjector struct {
	store Store
}

func NewBalanceProjector(store Store) *BalanceProjector {
	return &BalanceProjector{store: store}
}

func signedBalance(typ models.AccountType, debit, credit int64) int64 {
	if typ.DebitPositive() {
		return debit - credit
	}
	return credit - debit
}

// AccountBalances returns the signed balance of every account. ASSET and
// EXPENSE accounts are debit-positive; LIABILITY and INCOME accounts are
// credit-positive.
func (p *BalanceProjector) AccountBalances(ctx context.Context) ([]models.AccountBalance, error) {
	accounts, err := p.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	sums, err := p.store.AccountSums(ctx)
	if err != nil {
		return nil, err
	}
	byAccount := make(map[string]AccountSum, len(sums))
	for _, s := range sums {
		byAccount[s.AccountID] = s
	}

	balances := make([]models.AccountBalance, 0, len(accounts))
	for _, a := range accounts {
		s := byAccount[a.ID]
		balances = append(balances, models.AccountBalance{
			AccountID: a.ID,
			OwnerType: a.OwnerType,
			OwnerID:   a.OwnerID,
			Purpose:   a.Purpose,
			Type:      a.Type,
			Currency:  a.Currency,
			Balance:   signedBalance(a.Type, s.Debit, s.Credit),
		})
	}
	return balances, nil
}

// OwnerLiabilityBalance is what the platform currently owes one owner. It
// gates payout requests: a request may not exceed it. A missing account
// means nothing was ever credited, so the balance is zero.
func (p *BalanceProjector) OwnerLiabilityBalance(ctx context.Context, ownerType models.OwnerType, ownerID, currency string) (int64, error) {
	sel := models.AccountSelector{
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Purpose:   LiabilityPurpose(ownerType),
		Type:      models.TypeLiability,
		Currency:  currency,
	}
	acc, err := p.store.FindAccount(ctx, sel)
	if err != nil {
		return 0, err
	}
	if acc == nil {
		return 0, nil
	}
	sum, err := p.store.AccountSum(ctx, acc.ID)
	if err != nil {
		return 0, err
	}
	return sum.Credit - sum.Debit, nil
}

// AccountDetail bundles one account with its balance and most recent
// entries, newest first.
type AccountDetail struct {
	Account models.WalletAccount  `json:"account"`
	Balance int64                 `json:"balance"`
	Entries []models.JournalEntry `json:"entries"`
}

func (p *BalanceProjector) AccountDetail(ctx context.Context, accountID string) (*AccountDetail, error) {
	acc, err := p.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	sum, err := p.store.AccountSum(ctx, accountID)
	if err != nil {
		return nil, err
	}
	entries, err := p.Entries(ctx, EntryFilter{AccountID: accountID, Limit: 200})
	if err != nil {
		return nil, err
	}
	return &AccountDetail{
		Account: *acc,
		Balance: signedBalance(acc.Type, sum.Debit, sum.Credit),
		Entries: entries,
	}, nil
}

// TrialBalance sums signed balances per account type. It is the primary
// reconciliation check: a correctly posted ledger always satisfies
// ASSET == LIABILITY + INCOME - EXPENSE.
func (p *BalanceProjector) TrialBalance(ctx context.Context) (models.TrialBalance, error) {
	balances, err := p.AccountBalances(ctx)
	if err != nil {
		return models.TrialBalance{}, err
	}
	var tb models.TrialBalance
	for _, b := range balances {
		switch b.Type {
		case models.TypeAsset:
			tb.Asset += b.Balance
		case models.TypeLiability:
			tb.Liability += b.Balance
		case models.TypeIncome:
			tb.Income += b.Balance
		case models.TypeExpense:
			tb.Expense += b.Balance
		}
	}
	return tb, nil
}

// Entries lists journal lines with optional txnId/accountId filters, newest
// first. The limit is clamped to 1..200 and defaults to 50.
func (p *BalanceProjector) Entries(ctx context.Context, filter EntryFilter) ([]models.JournalEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	return p.store.Entries(ctx, filter)
}
