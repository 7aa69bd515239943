package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hefamarket/backend/internal/models"
)

// AccountResolver maps logical account selectors to persistent rows,
// creating them lazily on first reference.
type AccountResolver struct{}

func NewAccountResolver() *AccountResolver {
	return &AccountResolver{}
}

// GetOrCreateAccount looks up the account for sel, inserting it if this is
// the first reference. When two callers race to create the same account the
// loser's insert fails on the uniqueness constraint and the winner's row is
// re-read, so exactly one row ever exists per selector. The selector's Type
// is only used at creation; an existing account keeps its type forever.
func (r *AccountResolver) GetOrCreateAccount(ctx context.Context, tx Tx, sel models.AccountSelector) (models.WalletAccount, error) {
	s, err := sel.Normalize()
	if err != nil {
		return models.WalletAccount{}, err
	}

	existing, err := tx.FindAccount(ctx, s)
	if err != nil {
		return models.WalletAccount{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	acc := models.WalletAccount{
		ID:        uuid.New().String(),
		OwnerType: s.OwnerType,
		OwnerID:   s.OwnerID,
		Purpose:   s.Purpose,
		Type:      s.Type,
		Currency:  s.Currency,
	}
	err = tx.CreateAccount(ctx, acc)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, ErrAccountExists) {
		return models.WalletAccount{}, err
	}

	// Lost the creation race; the winner's row is the account.
	winner, err := tx.FindAccount(ctx, s)
	if err != nil {
		return models.WalletAccount{}, err
	}
	if winner == nil {
		return models.WalletAccount{}, fmt.Errorf("account vanished after conflict: %s/%s/%s/%s",
			s.OwnerType, s.OwnerID, s.Purpose, s.Currency)
	}
	return *winner, nil
}
