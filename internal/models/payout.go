package models

import "time"

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "PENDING"
	PayoutApproved  PayoutStatus = "APPROVED"
	PayoutSent      PayoutStatus = "SENT"
	PayoutSucceeded PayoutStatus = "SUCCEEDED"
	PayoutFailed    PayoutStatus = "FAILED"
)

type PayoutRequest struct {
	ID            string       `json:"id" db:"id"`
	OwnerType     OwnerType    `json:"ownerType" db:"owner_type"`
	OwnerID       string       `json:"ownerId" db:"owner_id"`
	BankAccountID string       `json:"bankAccountId" db:"bank_account_id"`
	Amount        int64        `json:"amount" db:"amount"`
	Currency      string       `json:"currency" db:"currency"`
	Provider      string       `json:"provider" db:"provider"`
	Status        PayoutStatus `json:"status" db:"status"`
	CreatedBy     string       `json:"createdBy" db:"created_by"`
	CreatedAt     time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time    `json:"updatedAt" db:"updated_at"`
}

type TransferStatus string

const (
	TransferSent      TransferStatus = "SENT"
	TransferSucceeded TransferStatus = "SUCCEEDED"
	TransferFailed    TransferStatus = "FAILED"
)

type Transfer struct {
	ID              string         `json:"id" db:"id"`
	PayoutRequestID string         `json:"payoutRequestId" db:"payout_request_id"`
	Provider        string         `json:"provider" db:"provider"`
	ProviderRef     string         `json:"providerRef" db:"provider_ref"`
	Status          TransferStatus `json:"status" db:"status"`
	Amount          int64          `json:"amount" db:"amount"`
	Currency        string         `json:"currency" db:"currency"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
}

type BankAccount struct {
	ID            string    `json:"id" db:"id"`
	OwnerType     OwnerType `json:"ownerType" db:"owner_type"`
	OwnerID       string    `json:"ownerId" db:"owner_id"`
	BankCode      string    `json:"bankCode" db:"bank_code"`
	AccountNo     string    `json:"accountNo" db:"account_no"`
	AccountName   string    `json:"accountName,omitempty" db:"account_name"`
	RecipientCode string    `json:"recipientCode,omitempty" db:"recipient_code"`
	IsDefault     bool      `json:"isDefault" db:"is_default"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}
