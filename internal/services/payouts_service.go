package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/hefamarket/backend/internal/audit"
	"github.com/hefamarket/backend/internal/config"
	"github.com/hefamarket/backend/internal/ledger"
	"github.com/hefamarket/backend/internal/middleware"
	"github.com/hefamarket/backend/internal/models"
	"github.com/hefamarket/backend/internal/paystack"
)

// PayoutsService turns ledger liabilities into bank transfers: owners
// request payouts against their liability balance, admins approve and send
// them, and the transfer webhook posts the settling PAYOUT transaction.
type PayoutsService struct {
	db        *sql.DB
	redis     *redis.Client
	gateway   *paystack.Client
	workflow  *ledger.EscrowWorkflow
	projector *ledger.BalanceProjector
	cfg       *config.PayoutConfig
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewPayoutsService(db *sql.DB, rdb *redis.Client, gateway *paystack.Client, store ledger.Store) *PayoutsService {
	return &PayoutsService{
		db:        db,
		redis:     rdb,
		gateway:   gateway,
		workflow:  ledger.NewEscrowWorkflow(store),
		projector: ledger.NewBalanceProjector(store),
		cfg:       config.LoadPayoutConfig(),
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

type upsertBankAccountRequest struct {
	OwnerType   models.OwnerType `json:"ownerType" validate:"required,oneof=MERCHANT DRIVER"`
	OwnerID     string           `json:"ownerId" validate:"required"`
	BankCode    string           `json:"bankCode" validate:"required"`
	AccountNo   string           `json:"accountNo" validate:"required,min=10,max=10"`
	AccountName string           `json:"accountName"`
	IsDefault   bool             `json:"isDefault"`
}

// UpsertBankAccount adds or updates an owner's payout destination
// @Summary Upsert bank account
// @Tags payouts
// @Accept json
// @Produce json
// @Param bankAccount body upsertBankAccountRequest true "Bank account data"
// @Success 200 {object} models.BankAccount
// @Failure 400 {object} ErrorResponse
// @Router /payouts/bank-accounts [post]
func (ps *PayoutsService) UpsertBankAccount(w http.ResponseWriter, r *http.Request) {
	var req upsertBankAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	ba := models.BankAccount{
		ID:          uuid.New().String(),
		OwnerType:   req.OwnerType,
		OwnerID:     req.OwnerID,
		BankCode:    req.BankCode,
		AccountNo:   req.AccountNo,
		AccountName: req.AccountName,
		IsDefault:   req.IsDefault,
	}
	err := ps.db.QueryRowContext(r.Context(), `
		INSERT INTO bank_accounts (id, owner_type, owner_id, bank_code, account_no, account_name, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner_type, owner_id, bank_code, account_no)
		DO UPDATE SET account_name = EXCLUDED.account_name, is_default = EXCLUDED.is_default
		RETURNING id, recipient_code, created_at`,
		ba.ID, ba.OwnerType, ba.OwnerID, ba.BankCode, ba.AccountNo, ba.AccountName, ba.IsDefault).
		Scan(&ba.ID, &ba.RecipientCode, &ba.CreatedAt)
	if err != nil {
		SendErrorResponse(w, "Failed to save bank account", http.StatusInternalServerError, nil)
		return
	}

	if ba.IsDefault {
		ps.db.ExecContext(r.Context(), `
			UPDATE bank_accounts SET is_default = FALSE
			WHERE owner_type = $1 AND owner_id = $2 AND id <> $3`,
			ba.OwnerType, ba.OwnerID, ba.ID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ba)
}

type payoutQuote struct {
	models.PayoutRequest
	Fee       int64 `json:"fee"`
	NetAmount int64 `json:"netAmount"`
}

type payoutRequestBody struct {
	OwnerType     models.OwnerType `json:"ownerType" validate:"required,oneof=MERCHANT DRIVER"`
	OwnerID       string           `json:"ownerId" validate:"required"`
	BankAccountID string           `json:"bankAccountId" validate:"required"`
	Amount        int64            `json:"amount" validate:"required,gt=0"`
	Currency      string           `json:"currency" validate:"required,len=3"`
}

// RequestPayout creates a payout request after the balance guard
// @Summary Request payout
// @Description The requested amount must not exceed the owner's liability balance; minimum amount and daily limit also apply. The response quotes the processing fee that will be deducted from the transfer.
// @Tags payouts
// @Accept json
// @Produce json
// @Param payout body payoutRequestBody true "Payout request"
// @Success 200 {object} payoutQuote
// @Failure 400 {object} ErrorResponse
// @Router /payouts/request [post]
func (ps *PayoutsService) RequestPayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequestBody
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var ba models.BankAccount
	err := ps.db.QueryRowContext(r.Context(), `
		SELECT id, owner_type, owner_id FROM bank_accounts WHERE id = $1`, req.BankAccountID).
		Scan(&ba.ID, &ba.OwnerType, &ba.OwnerID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && (ba.OwnerType != req.OwnerType || ba.OwnerID != req.OwnerID)) {
		SendErrorResponse(w, "Bank account mismatch", http.StatusBadRequest, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to load bank account", http.StatusInternalServerError, nil)
		return
	}

	balance, err := ps.projector.OwnerLiabilityBalance(r.Context(), req.OwnerType, req.OwnerID, req.Currency)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	if balance < req.Amount {
		SendLedgerError(w, ledger.ErrInsufficientBalance)
		return
	}
	if req.Amount < ps.cfg.MinAmount {
		SendErrorResponse(w, "Amount below minimum", http.StatusBadRequest, nil)
		return
	}
	if ps.cfg.DailyLimit > 0 {
		var todaySum int64
		err := ps.db.QueryRowContext(r.Context(), `
			SELECT COALESCE(SUM(amount), 0) FROM payout_requests
			WHERE owner_type = $1 AND owner_id = $2
			  AND created_at >= date_trunc('day', NOW())
			  AND status IN ('PENDING', 'APPROVED', 'SENT', 'SUCCEEDED')`,
			req.OwnerType, req.OwnerID).Scan(&todaySum)
		if err != nil {
			SendErrorResponse(w, "Failed to check daily limit", http.StatusInternalServerError, nil)
			return
		}
		if todaySum+req.Amount > ps.cfg.DailyLimit {
			SendErrorResponse(w, "Daily limit exceeded", http.StatusBadRequest, nil)
			return
		}
	}

	payout := models.PayoutRequest{
		ID:            uuid.New().String(),
		OwnerType:     req.OwnerType,
		OwnerID:       req.OwnerID,
		BankAccountID: req.BankAccountID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Provider:      paystack.ProviderName,
		Status:        models.PayoutPending,
		CreatedBy:     middleware.UserID(r.Context()),
	}
	err = ps.db.QueryRowContext(r.Context(), `
		INSERT INTO payout_requests (id, owner_type, owner_id, bank_account_id, amount, currency, provider, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		payout.ID, payout.OwnerType, payout.OwnerID, payout.BankAccountID, payout.Amount,
		payout.Currency, payout.Provider, payout.Status, payout.CreatedBy).
		Scan(&payout.CreatedAt, &payout.UpdatedAt)
	if err != nil {
		SendErrorResponse(w, "Failed to create payout request", http.StatusInternalServerError, nil)
		return
	}

	fee := payout.Amount * ps.cfg.FeeBps / 10000
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payoutQuote{
		PayoutRequest: payout,
		Fee:           fee,
		NetAmount:     payout.Amount - fee,
	})
}

// ApprovePayout sends an approved payout through the gateway
// @Summary Approve and send payout
// @Tags payouts
// @Produce json
// @Param payoutId path string true "Payout ID"
// @Success 200 {object} object{ok=bool,reference=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /payouts/{payoutId}/approve [post]
func (ps *PayoutsService) ApprovePayout(w http.ResponseWriter, r *http.Request) {
	payoutID := chi.URLParam(r, "payoutId")

	var p models.PayoutRequest
	var ba models.BankAccount
	err := ps.db.QueryRowContext(r.Context(), `
		SELECT p.id, p.owner_type, p.owner_id, p.amount, p.currency, p.status,
		       b.id, b.bank_code, b.account_no, b.account_name, b.recipient_code
		FROM payout_requests p
		JOIN bank_accounts b ON b.id = p.bank_account_id
		WHERE p.id = $1`, payoutID).
		Scan(&p.ID, &p.OwnerType, &p.OwnerID, &p.Amount, &p.Currency, &p.Status,
			&ba.ID, &ba.BankCode, &ba.AccountNo, &ba.AccountName, &ba.RecipientCode)
	if errors.Is(err, sql.ErrNoRows) {
		SendLedgerError(w, ledger.ErrPayoutNotFound)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to load payout", http.StatusInternalServerError, nil)
		return
	}
	if p.Status != models.PayoutPending && p.Status != models.PayoutApproved {
		SendErrorResponse(w, "Invalid payout status", http.StatusBadRequest, nil)
		return
	}

	// Recipient code is created lazily on first approval.
	if ba.RecipientCode == "" {
		rc, err := ps.gateway.CreateTransferRecipient(ba.BankCode, ba.AccountNo, ba.AccountName)
		if err != nil {
			log.Printf("Create transfer recipient for payout %s failed: %v", p.ID, err)
			SendErrorResponse(w, "Payment gateway unavailable", http.StatusBadGateway, nil)
			return
		}
		if _, err := ps.db.ExecContext(r.Context(),
			`UPDATE bank_accounts SET recipient_code = $1 WHERE id = $2`, rc, ba.ID); err != nil {
			SendErrorResponse(w, "Failed to save recipient", http.StatusInternalServerError, nil)
			return
		}
		ba.RecipientCode = rc
	}

	reference := "payout_" + p.ID
	reason := "Payout " + string(p.OwnerType) + ":" + p.OwnerID
	ref, err := ps.gateway.InitiateTransfer(p.Amount, p.Currency, ba.RecipientCode, reason, reference)
	if err != nil {
		log.Printf("Initiate transfer for payout %s failed: %v", p.ID, err)
		SendErrorResponse(w, "Payment gateway unavailable", http.StatusBadGateway, nil)
		return
	}

	adminID := middleware.UserID(r.Context())
	ps.audit.Log(adminID, "PAYOUT_SEND", "Payout:"+p.ID, map[string]any{
		"amount": p.Amount, "currency": p.Currency, "reference": ref,
	})

	tx, err := ps.db.BeginTx(r.Context(), nil)
	if err != nil {
		SendErrorResponse(w, "Failed to update payout", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(r.Context(), `
		UPDATE payout_requests SET status = $1, updated_at = NOW() WHERE id = $2`,
		models.PayoutSent, p.ID); err != nil {
		SendErrorResponse(w, "Failed to update payout", http.StatusInternalServerError, nil)
		return
	}
	if _, err := tx.ExecContext(r.Context(), `
		INSERT INTO transfers (id, payout_request_id, provider, provider_ref, status, amount, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New().String(), p.ID, paystack.ProviderName, ref, models.TransferSent, p.Amount, p.Currency); err != nil {
		SendErrorResponse(w, "Failed to record transfer", http.StatusInternalServerError, nil)
		return
	}
	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to update payout", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "reference": ref})
}

// HandleTransferWebhook settles or fails payouts on transfer events
// @Summary Paystack transfer webhook
// @Description transfer.success posts the PAYOUT settlement transaction; transfer.failed flags the payout. Redeliveries are safe no-ops.
// @Tags payouts
// @Accept json
// @Produce json
// @Success 200 {object} object{ok=bool}
// @Failure 401 {object} ErrorResponse
// @Router /webhooks/paystack-transfer [post]
func (ps *PayoutsService) HandleTransferWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if !ps.gateway.VerifySignature(rawBody, r.Header.Get("x-paystack-signature")) {
		SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	evt, _, err := paystack.ParseWebhook(rawBody)
	if err != nil {
		SendErrorResponse(w, "Invalid webhook payload", http.StatusBadRequest, nil)
		return
	}

	switch {
	case strings.HasSuffix(evt.Event, "success"):
		err = ps.settleTransfer(r.Context(), evt.Data.Reference)
	case strings.HasSuffix(evt.Event, "failed"), strings.HasSuffix(evt.Event, "reversed"):
		err = ps.failTransfer(r.Context(), evt.Data.Reference)
	}
	if err != nil {
		log.Printf("Transfer webhook %s for %s failed: %v", evt.Event, evt.Data.Reference, err)
		SendErrorResponse(w, "Webhook processing failed", http.StatusInternalServerError, nil)
		return
	}
	writeOK(w)
}

func (ps *PayoutsService) settleTransfer(ctx context.Context, reference string) error {
	tr, payout, err := ps.findTransfer(ctx, reference)
	if err != nil || tr == nil {
		return err
	}

	owner := ledger.OwnerRef{OwnerType: payout.OwnerType, OwnerID: payout.OwnerID}
	res, err := ps.workflow.PostPayoutSettled(ctx, payout.ID, owner, tr.Amount, tr.Currency, reference)
	if err != nil {
		return err
	}
	ps.audit.LogPosting(res.TxnID, tr.Amount, res.Idempotent)
	return nil
}

func (ps *PayoutsService) failTransfer(ctx context.Context, reference string) error {
	tr, payout, err := ps.findTransfer(ctx, reference)
	if err != nil || tr == nil {
		return err
	}
	if tr.Status == models.TransferSucceeded {
		// Settled transfers are not walked back by a late failure event.
		return nil
	}

	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `
		UPDATE transfers SET status = $1 WHERE id = $2`, models.TransferFailed, tr.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE payout_requests SET status = $1, updated_at = NOW() WHERE id = $2`,
		models.PayoutFailed, payout.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (ps *PayoutsService) findTransfer(ctx context.Context, reference string) (*models.Transfer, *models.PayoutRequest, error) {
	var tr models.Transfer
	var p models.PayoutRequest
	err := ps.db.QueryRowContext(ctx, `
		SELECT t.id, t.payout_request_id, t.status, t.amount, t.currency,
		       p.id, p.owner_type, p.owner_id, p.status
		FROM transfers t
		JOIN payout_requests p ON p.id = t.payout_request_id
		WHERE t.provider = $1 AND t.provider_ref = $2`,
		paystack.ProviderName, reference).
		Scan(&tr.ID, &tr.PayoutRequestID, &tr.Status, &tr.Amount, &tr.Currency,
			&p.ID, &p.OwnerType, &p.OwnerID, &p.Status)
	if errors.Is(err, sql.ErrNoRows) {
		log.Printf("Transfer webhook: no transfer for reference %s", reference)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &tr, &p, nil
}
