package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/hefamarket/backend/internal/audit"
	"github.com/hefamarket/backend/internal/ledger"
	"github.com/hefamarket/backend/internal/models"
	"github.com/hefamarket/backend/internal/paystack"
	qrcode "github.com/skip2/go-qrcode"
)

// PaymentsService owns payment intents and the gateway webhook. Money only
// enters escrow through here: a verified charge.success posts the HOLD
// transaction; refund events post the mirror REFUND transaction.
type PaymentsService struct {
	db       *sql.DB
	redis    *redis.Client
	gateway  *paystack.Client
	workflow *ledger.EscrowWorkflow
	audit    *audit.Logger
}

func NewPaymentsService(db *sql.DB, rdb *redis.Client, gateway *paystack.Client, workflow *ledger.EscrowWorkflow) *PaymentsService {
	return &PaymentsService{
		db:       db,
		redis:    rdb,
		gateway:  gateway,
		workflow: workflow,
		audit:    audit.NewLogger(),
	}
}

// CreateIntent initializes a hosted checkout for an order
// @Summary Create payment intent
// @Tags payments
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} object{authorizationUrl=string,reference=string,intentId=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /payments/orders/{orderId}/intent [post]
func (ps *PaymentsService) CreateIntent(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var order models.Order
	err := ps.db.QueryRowContext(r.Context(), `
		SELECT id, customer_email, amount, currency, status FROM orders WHERE id = $1`, orderID).
		Scan(&order.ID, &order.CustomerEmail, &order.Amount, &order.Currency, &order.Status)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to load order", http.StatusInternalServerError, nil)
		return
	}
	if order.Status != models.OrderPendingPayment {
		SendErrorResponse(w, "Order not payable in current state", http.StatusBadRequest, nil)
		return
	}

	email := order.CustomerEmail
	if email == "" {
		email = "buyer@hefa.local"
	}
	created, err := ps.gateway.InitializeTransaction(order.ID, email, order.Currency, order.Amount)
	if err != nil {
		log.Printf("Paystack initialize failed for order %s: %v", order.ID, err)
		SendErrorResponse(w, "Payment gateway unavailable", http.StatusBadGateway, nil)
		return
	}

	intentID := uuid.New().String()
	_, err = ps.db.ExecContext(r.Context(), `
		INSERT INTO payment_intents (id, order_id, provider, provider_ref, status, amount, currency, auth_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		intentID, order.ID, paystack.ProviderName, created.Reference, models.PaymentPending,
		order.Amount, order.Currency, created.AuthorizationURL)
	if err != nil {
		SendErrorResponse(w, "Failed to save payment intent", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"authorizationUrl": created.AuthorizationURL,
		"reference":        created.Reference,
		"intentId":         intentID,
	})
}

// GetIntentQR renders the checkout link of an intent as a QR image
// @Summary Payment intent QR code
// @Description Returns the hosted checkout URL as a base64 PNG for POS display.
// @Tags payments
// @Produce json
// @Param intentId path string true "Payment intent ID"
// @Success 200 {object} object{intentId=string,qrImage=string}
// @Failure 404 {object} ErrorResponse
// @Router /payments/intents/{intentId}/qr [get]
func (ps *PaymentsService) GetIntentQR(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "intentId")

	var authURL string
	err := ps.db.QueryRowContext(r.Context(),
		`SELECT auth_url FROM payment_intents WHERE id = $1`, intentID).Scan(&authURL)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && authURL == "") {
		SendErrorResponse(w, "Payment intent not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to load payment intent", http.StatusInternalServerError, nil)
		return
	}

	png, err := qrcode.Encode(authURL, qrcode.Medium, 256)
	if err != nil {
		SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"intentId": intentID,
		"qrImage":  base64.StdEncoding.EncodeToString(png),
	})
}

// HandleWebhook processes gateway charge and refund events
// @Summary Paystack charge webhook
// @Description Verifies the HMAC signature, then applies the event. Redelivered events are safe no-ops.
// @Tags payments
// @Accept json
// @Produce json
// @Success 200 {object} object{ok=bool}
// @Failure 401 {object} ErrorResponse
// @Router /webhooks/paystack [post]
func (ps *PaymentsService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
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

	evt, eventID, err := paystack.ParseWebhook(rawBody)
	if err != nil {
		SendErrorResponse(w, "Invalid webhook payload", http.StatusBadRequest, nil)
		return
	}

	// Fast replay short-circuit; the ledger txnId is the real guard.
	if ps.redis != nil && eventID != "" {
		key := fmt.Sprintf("webhook:paystack:%s:%s", evt.Event, eventID)
		set, err := ps.redis.SetNX(r.Context(), key, 1, 24*time.Hour).Result()
		if err == nil && !set {
			writeOK(w)
			return
		}
	}

	switch {
	case evt.Event == "charge.success":
		err = ps.markSucceededByRef(r.Context(), evt.Data.Reference)
	case strings.HasPrefix(evt.Event, "refund.") || evt.Event == "charge.refunded":
		err = ps.markRefundedByRef(r.Context(), evt.Data.Reference)
	default:
		// Not a money-moving event for us.
	}
	if err != nil {
		log.Printf("Webhook %s for %s failed: %v", evt.Event, evt.Data.Reference, err)
		SendErrorResponse(w, "Webhook processing failed", http.StatusInternalServerError, nil)
		return
	}
	writeOK(w)
}

// markSucceededByRef posts the escrow hold, then settles the intent row.
// The hold runs first so a crash in between leaves only work a replay will
// finish; the hold itself can never run twice.
func (ps *PaymentsService) markSucceededByRef(ctx context.Context, reference string) error {
	intent, err := ps.findIntent(ctx, reference)
	if err != nil {
		return err
	}
	if intent == nil {
		log.Printf("Webhook charge.success: no intent for reference %s", reference)
		return nil
	}

	res, err := ps.workflow.PostEscrowHold(ctx, intent.OrderID, intent.Amount, intent.Currency, intent.Provider, reference)
	if err != nil {
		return err
	}
	ps.audit.LogPosting(res.TxnID, intent.Amount, res.Idempotent)

	_, err = ps.db.ExecContext(ctx, `
		UPDATE payment_intents SET status = $1 WHERE id = $2 AND status = $3`,
		models.PaymentSucceeded, intent.ID, models.PaymentPending)
	return err
}

// markRefundedByRef reverses the hold for a refunded charge.
func (ps *PaymentsService) markRefundedByRef(ctx context.Context, reference string) error {
	intent, err := ps.findIntent(ctx, reference)
	if err != nil {
		return err
	}
	if intent == nil {
		log.Printf("Webhook refund: no intent for reference %s", reference)
		return nil
	}
	if intent.Status != models.PaymentSucceeded {
		// Nothing was held for this charge.
		return nil
	}

	res, err := ps.workflow.RefundToGateway(ctx, intent.OrderID, intent.Amount, intent.Currency, intent.Provider, reference)
	if err != nil {
		return err
	}
	ps.audit.LogPosting(res.TxnID, intent.Amount, res.Idempotent)

	_, err = ps.db.ExecContext(ctx, `
		UPDATE payment_intents SET status = $1 WHERE id = $2 AND status = $3`,
		models.PaymentFailed, intent.ID, models.PaymentSucceeded)
	return err
}

func (ps *PaymentsService) findIntent(ctx context.Context, reference string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := ps.db.QueryRowContext(ctx, `
		SELECT id, order_id, provider, provider_ref, status, amount, currency
		FROM payment_intents WHERE provider = $1 AND provider_ref = $2`,
		paystack.ProviderName, reference).
		Scan(&intent.ID, &intent.OrderID, &intent.Provider, &intent.ProviderRef, &intent.Status, &intent.Amount, &intent.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}
