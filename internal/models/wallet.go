package models

import (
	"fmt"
	"time"
)

// OwnerType identifies who a wallet account belongs to.
type OwnerType string

const (
	OwnerPlatform OwnerType = "PLATFORM"
	OwnerUser     OwnerType = "USER"
	OwnerMerchant OwnerType = "MERCHANT"
	OwnerDriver   OwnerType = "DRIVER"
)

func (o OwnerType) Valid() bool {
	switch o {
	case OwnerPlatform, OwnerUser, OwnerMerchant, OwnerDriver:
		return true
	}
	return false
}

// PlatformOwnerID is the canonical owner id for PLATFORM accounts. The
// accounts table has a NOT NULL owner_id column, so platform accounts carry
// this sentinel instead of a null.
const PlatformOwnerID = "PLATFORM"

// AccountPurpose names the bucket an account represents. The set is open:
// new purposes may be introduced without a schema change.
type AccountPurpose string

const (
	PurposeEscrow             AccountPurpose = "ESCROW"
	PurposeCashGateway        AccountPurpose = "CASH_GATEWAY"
	PurposeFees               AccountPurpose = "FEES"
	PurposeMerchantReceivable AccountPurpose = "MERCHANT_RECEIVABLE"
	PurposeDriverPayable      AccountPurpose = "DRIVER_PAYABLE"
)

func (p AccountPurpose) Valid() bool {
	return p != ""
}

// AccountType determines the sign convention for balances.
type AccountType string

const (
	TypeAsset     AccountType = "ASSET"
	TypeLiability AccountType = "LIABILITY"
	TypeIncome    AccountType = "INCOME"
	TypeExpense   AccountType = "EXPENSE"
)

func (t AccountType) Valid() bool {
	switch t {
	case TypeAsset, TypeLiability, TypeIncome, TypeExpense:
		return true
	}
	return false
}

// DebitPositive reports whether balances of this type grow with debits.
func (t AccountType) DebitPositive() bool {
	return t == TypeAsset || t == TypeExpense
}

// JournalSide is the leg direction of a journal entry.
type JournalSide string

const (
	Debit  JournalSide = "DEBIT"
	Credit JournalSide = "CREDIT"
)

func (s JournalSide) Valid() bool {
	return s == Debit || s == Credit
}

// AccountSelector is the logical identity of a wallet account. Type is only
// consulted when the account is first created.
type AccountSelector struct {
	OwnerType OwnerType      `json:"ownerType"`
	OwnerID   string         `json:"ownerId,omitempty"`
	Purpose   AccountPurpose `json:"purpose"`
	Type      AccountType    `json:"type"`
	Currency  string         `json:"currency"`
}

// Normalize applies the canonical PLATFORM owner id and checks the selector
// is representable.
func (s AccountSelector) Normalize() (AccountSelector, error) {
	if !s.OwnerType.Valid() {
		return s, fmt.Errorf("invalid ownerType %q", s.OwnerType)
	}
	if !s.Purpose.Valid() {
		return s, fmt.Errorf("account purpose is required")
	}
	if !s.Type.Valid() {
		return s, fmt.Errorf("invalid account type %q", s.Type)
	}
	if len(s.Currency) != 3 {
		return s, fmt.Errorf("invalid currency %q", s.Currency)
	}
	if s.OwnerType == OwnerPlatform {
		s.OwnerID = PlatformOwnerID
	}
	if s.OwnerID == "" {
		return s, fmt.Errorf("ownerId required for ownerType=%s", s.OwnerType)
	}
	return s, nil
}

type WalletAccount struct {
	ID        string         `json:"id" db:"id"`
	OwnerType OwnerType      `json:"ownerType" db:"owner_type"`
	OwnerID   string         `json:"ownerId" db:"owner_id"`
	Purpose   AccountPurpose `json:"purpose" db:"purpose"`
	Type      AccountType    `json:"type" db:"type"`
	Currency  string         `json:"currency" db:"currency"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
}

// JournalEntry is one leg of a balanced transaction. Entries are append-only;
// nothing in the system ever updates or deletes one.
type JournalEntry struct {
	ID        string         `json:"id" db:"id"`
	TxnID     string         `json:"txnId" db:"txn_id"`
	LineNo    int            `json:"lineNo" db:"line_no"`
	AccountID string         `json:"accountId" db:"account_id"`
	Side      JournalSide    `json:"side" db:"side"`
	Amount    int64          `json:"amount" db:"amount"` // minor units
	Currency  string         `json:"currency" db:"currency"`
	Meta      map[string]any `json:"meta,omitempty" db:"meta"` // audit only
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
}

// AccountBalance is a projected signed balance for one account.
type AccountBalance struct {
	AccountID string         `json:"accountId"`
	OwnerType OwnerType      `json:"ownerType"`
	OwnerID   string         `json:"ownerId"`
	Purpose   AccountPurpose `json:"purpose"`
	Type      AccountType    `json:"type"`
	Currency  string         `json:"currency"`
	Balance   int64          `json:"balance"`
}

// TrialBalance aggregates signed balances per account type. In a correctly
// posted ledger ASSET == LIABILITY + INCOME - EXPENSE.
type TrialBalance struct {
	Asset     int64 `json:"ASSET"`
	Liability int64 `json:"LIABILITY"`
	Income    int64 `json:"INCOME"`
	Expense   int64 `json:"EXPENSE"`
}

func (tb TrialBalance) Balanced() bool {
	return tb.Asset == tb.Liability+tb.Income-tb.Expense
}
