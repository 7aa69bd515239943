package ledger

import (
	"context"
	"fmt"

	"github.com/hefamarket/backend/internal/models"
)

// OwnerRef identifies the payee side of a release or payout.
type OwnerRef struct {
	OwnerType models.OwnerType `json:"ownerType"`
	OwnerID   string           `json:"ownerId"`
}

// LiabilityPurpose maps an owner to the purpose of the account the platform
// owes them through.
func LiabilityPurpose(ownerType models.OwnerType) models.AccountPurpose {
	if ownerType == models.OwnerMerchant {
		return models.PurposeMerchantReceivable
	}
	return models.PurposeDriverPayable
}

// ReleaseResult reports a fee-split release breakdown alongside the posting
// outcome. Fee and ToPayee always sum to the released amount.
type ReleaseResult struct {
	PostResult
	Fee     int64 `json:"fee"`
	ToPayee int64 `json:"toPayee"`
}

// SplitFee computes the platform's cut in minor units from a basis-point
// rate. floor(amount*feeBps/10000) guarantees fee+toPayee == amount exactly.
func SplitFee(amount int64, feeBps int64) (fee, toPayee int64) {
	fee = amount * feeBps / 10000
	return fee, amount - fee
}

// EscrowWorkflow composes the posting engine with order and payout state
// transitions. Every operation is an idempotent wrapper around a single
// named transaction: replays with identical arguments post nothing and
// report Idempotent=true.
type EscrowWorkflow struct {
	posting *PostingEngine
	store   Store
}

func NewEscrowWorkflow(store Store) *EscrowWorkflow {
	return &EscrowWorkflow{posting: NewPostingEngine(store), store: store}
}

// Engine exposes the underlying posting engine for the strict admin surface.
func (w *EscrowWorkflow) Engine() *PostingEngine {
	return w.posting
}

func platformAccount(purpose models.AccountPurpose, typ models.AccountType, currency string) models.AccountSelector {
	return models.AccountSelector{
		OwnerType: models.OwnerPlatform,
		Purpose:   purpose,
		Type:      typ,
		Currency:  currency,
	}
}

// PostEscrowHold records captured gateway funds as an escrow liability:
// DR platform CASH_GATEWAY, CR platform ESCROW. The order moves to PAID_HELD
// in the same storage transaction. txnId binds the hold to one gateway
// event, so redelivered webhooks are no-ops.
func (w *EscrowWorkflow) PostEscrowHold(ctx context.Context, orderID string, amount int64, currency, provider, providerRef string) (PostResult, error) {
	if _, err := w.mustGetOrder(ctx, orderID); err != nil {
		return PostResult{}, err
	}
	txnID := fmt.Sprintf("HOLD:%s:%s:%s", orderID, provider, providerRef)
	meta := map[string]any{"orderId": orderID, "provider": provider, "providerRef": providerRef}
	lines := []PostingLine{
		{Account: platformAccount(models.PurposeCashGateway, models.TypeAsset, currency), Side: models.Debit, Amount: amount, Meta: meta},
		{Account: platformAccount(models.PurposeEscrow, models.TypeLiability, currency), Side: models.Credit, Amount: amount, Meta: meta},
	}
	return w.posting.PostIdempotent(ctx, txnID, lines, func(tx Tx) error {
		return tx.SetOrderStatus(ctx, orderID, models.OrderPaidHeld, models.OrderPendingPayment)
	})
}

// ReleaseEscrowToMerchant moves held funds into the merchant's receivable:
// DR platform ESCROW, CR merchant MERCHANT_RECEIVABLE, and RELEASED on the
// order, atomically. One REL txn exists per order, so repeated release calls
// settle to a single posting.
func (w *EscrowWorkflow) ReleaseEscrowToMerchant(ctx context.Context, orderID, merchantProfileID string, amount int64, currency string) (PostResult, error) {
	order, err := w.mustGetOrder(ctx, orderID)
	if err != nil {
		return PostResult{}, err
	}
	if order.Status != models.OrderPaidHeld && order.Status != models.OrderReleased {
		return PostResult{}, ErrOrderNotReleasable
	}
	txnID := fmt.Sprintf("REL:%s", orderID)
	meta := map[string]any{"orderId": orderID}
	lines := []PostingLine{
		{Account: platformAccount(models.PurposeEscrow, models.TypeLiability, currency), Side: models.Debit, Amount: amount, Meta: meta},
		{Account: models.AccountSelector{
			OwnerType: models.OwnerMerchant,
			OwnerID:   merchantProfileID,
			Purpose:   models.PurposeMerchantReceivable,
			Type:      models.TypeLiability,
			Currency:  currency,
		}, Side: models.Credit, Amount: amount, Meta: meta},
	}
	return w.posting.PostIdempotent(ctx, txnID, lines, func(tx Tx) error {
		return tx.SetOrderStatus(ctx, orderID, models.OrderReleased, models.OrderPaidHeld)
	})
}

// ReleaseWithFeeSplit releases a held order to an arbitrary payee while the
// platform keeps a basis-point fee as income. Three legs: DR ESCROW amount,
// CR payee liability toPayee, CR FEES fee. Shares the per-order REL txn with
// ReleaseEscrowToMerchant, so an order is released exactly once either way.
func (w *EscrowWorkflow) ReleaseWithFeeSplit(ctx context.Context, orderID string, payee OwnerRef, amount int64, feeBps int64) (ReleaseResult, error) {
	if feeBps < 0 || feeBps > 10000 {
		return ReleaseResult{}, ErrInvalidFeeRate
	}
	order, err := w.mustGetOrder(ctx, orderID)
	if err != nil {
		return ReleaseResult{}, err
	}
	if order.Status != models.OrderPaidHeld && order.Status != models.OrderReleased {
		return ReleaseResult{}, ErrOrderNotReleasable
	}

	fee, toPayee := SplitFee(amount, feeBps)
	txnID := fmt.Sprintf("REL:%s", orderID)
	meta := map[string]any{"orderId": orderID, "feeBps": feeBps}
	lines := []PostingLine{
		{Account: platformAccount(models.PurposeEscrow, models.TypeLiability, order.Currency), Side: models.Debit, Amount: amount, Meta: meta},
	}
	if toPayee > 0 {
		lines = append(lines, PostingLine{Account: models.AccountSelector{
			OwnerType: payee.OwnerType,
			OwnerID:   payee.OwnerID,
			Purpose:   LiabilityPurpose(payee.OwnerType),
			Type:      models.TypeLiability,
			Currency:  order.Currency,
		}, Side: models.Credit, Amount: toPayee, Meta: map[string]any{"orderId": orderID}})
	}
	if fee > 0 {
		lines = append(lines, PostingLine{
			Account: platformAccount(models.PurposeFees, models.TypeIncome, order.Currency),
			Side:    models.Credit, Amount: fee, Meta: meta,
		})
	}

	res, err := w.posting.PostIdempotent(ctx, txnID, lines, func(tx Tx) error {
		return tx.SetOrderStatus(ctx, orderID, models.OrderReleased, models.OrderPaidHeld)
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	return ReleaseResult{PostResult: res, Fee: fee, ToPayee: toPayee}, nil
}

// RefundToGateway reverses a hold when the gateway refunds the buyer:
// DR platform ESCROW, CR platform CASH_GATEWAY, and the order is CANCELLED
// atomically.
func (w *EscrowWorkflow) RefundToGateway(ctx context.Context, orderID string, amount int64, currency, provider, providerRef string) (PostResult, error) {
	if _, err := w.mustGetOrder(ctx, orderID); err != nil {
		return PostResult{}, err
	}
	txnID := fmt.Sprintf("REFUND:%s:%s:%s", orderID, provider, providerRef)
	meta := map[string]any{"orderId": orderID, "provider": provider, "providerRef": providerRef}
	lines := []PostingLine{
		{Account: platformAccount(models.PurposeEscrow, models.TypeLiability, currency), Side: models.Debit, Amount: amount, Meta: meta},
		{Account: platformAccount(models.PurposeCashGateway, models.TypeAsset, currency), Side: models.Credit, Amount: amount, Meta: meta},
	}
	return w.posting.PostIdempotent(ctx, txnID, lines, func(tx Tx) error {
		return tx.SetOrderStatus(ctx, orderID, models.OrderCancelled, models.OrderPendingPayment, models.OrderPaidHeld)
	})
}

// PostPayoutSettled clears an owner's liability once the bank transfer for a
// payout succeeds: DR owner liability, CR platform CASH_GATEWAY. The
// transfer and payout rows flip to SUCCEEDED in the same transaction, so a
// replayed transfer webhook neither double-posts nor half-settles.
func (w *EscrowWorkflow) PostPayoutSettled(ctx context.Context, payoutID string, owner OwnerRef, amount int64, currency, providerRef string) (PostResult, error) {
	txnID := fmt.Sprintf("PAYOUT:%s:%s", payoutID, providerRef)
	meta := map[string]any{"payoutId": payoutID, "reference": providerRef}
	lines := []PostingLine{
		{Account: models.AccountSelector{
			OwnerType: owner.OwnerType,
			OwnerID:   owner.OwnerID,
			Purpose:   LiabilityPurpose(owner.OwnerType),
			Type:      models.TypeLiability,
			Currency:  currency,
		}, Side: models.Debit, Amount: amount, Meta: meta},
		{Account: platformAccount(models.PurposeCashGateway, models.TypeAsset, currency), Side: models.Credit, Amount: amount, Meta: meta},
	}
	return w.posting.PostIdempotent(ctx, txnID, lines, func(tx Tx) error {
		return tx.MarkPayoutSettled(ctx, payoutID, providerRef)
	})
}

func (w *EscrowWorkflow) mustGetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := w.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}
