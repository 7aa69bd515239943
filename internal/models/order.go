package models

import "time"

type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderPaidHeld       OrderStatus = "PAID_HELD"
	OrderReleased       OrderStatus = "RELEASED"
	OrderCancelled      OrderStatus = "CANCELLED"
)

type Order struct {
	ID                string      `json:"id" db:"id"`
	PublicRef         string      `json:"publicRef" db:"public_ref"`
	MerchantProfileID string      `json:"merchantProfileId" db:"merchant_profile_id"`
	CustomerEmail     string      `json:"customerEmail" db:"customer_email"`
	Amount            int64       `json:"amount" db:"amount"` // minor units
	Currency          string      `json:"currency" db:"currency"`
	Status            OrderStatus `json:"status" db:"status"`
	CreatedAt         time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time   `json:"updatedAt" db:"updated_at"`
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
)

type PaymentIntent struct {
	ID          string        `json:"id" db:"id"`
	OrderID     string        `json:"orderId" db:"order_id"`
	Provider    string        `json:"provider" db:"provider"`
	ProviderRef string        `json:"providerRef" db:"provider_ref"`
	Status      PaymentStatus `json:"status" db:"status"`
	Amount      int64         `json:"amount" db:"amount"`
	Currency    string        `json:"currency" db:"currency"`
	AuthURL     string        `json:"authorizationUrl,omitempty" db:"auth_url"`
	CreatedAt   time.Time     `json:"createdAt" db:"created_at"`
}
