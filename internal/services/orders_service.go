package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hefamarket/backend/internal/audit"
	"github.com/hefamarket/backend/internal/ledger"
	"github.com/hefamarket/backend/internal/middleware"
	"github.com/hefamarket/backend/internal/models"
)

// OrdersService covers the order status surface the ledger is coupled to:
// creating an order shell and releasing held funds. Everything else about
// order lifecycle lives with the storefront, not here.
type OrdersService struct {
	db        *sql.DB
	store     ledger.Store
	workflow  *ledger.EscrowWorkflow
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewOrdersService(db *sql.DB, store ledger.Store, workflow *ledger.EscrowWorkflow) *OrdersService {
	return &OrdersService{
		db:        db,
		store:     store,
		workflow:  workflow,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

type createOrderRequest struct {
	MerchantProfileID string `json:"merchantProfileId" validate:"required"`
	CustomerEmail     string `json:"customerEmail" validate:"omitempty,email"`
	Amount            int64  `json:"amount" validate:"required,gt=0"`
	Currency          string `json:"currency" validate:"required,len=3"`
}

// CreateOrder creates an order awaiting payment
// @Summary Create order
// @Tags orders
// @Accept json
// @Produce json
// @Param order body createOrderRequest true "Order data"
// @Success 200 {object} models.Order
// @Failure 400 {object} ErrorResponse
// @Router /orders [post]
func (os *OrdersService) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := os.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	order := models.Order{
		ID:                uuid.New().String(),
		PublicRef:         uuid.New().String()[:8],
		MerchantProfileID: req.MerchantProfileID,
		CustomerEmail:     req.CustomerEmail,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Status:            models.OrderPendingPayment,
	}
	err := os.db.QueryRowContext(r.Context(), `
		INSERT INTO orders (id, public_ref, merchant_profile_id, customer_email, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		order.ID, order.PublicRef, order.MerchantProfileID, order.CustomerEmail,
		order.Amount, order.Currency, order.Status).
		Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// GetOrder returns one order
// @Summary Get order
// @Tags orders
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} models.Order
// @Failure 404 {object} ErrorResponse
// @Router /orders/{orderId} [get]
func (os *OrdersService) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := os.store.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		SendErrorResponse(w, "Failed to load order", http.StatusInternalServerError, nil)
		return
	}
	if order == nil {
		SendLedgerError(w, ledger.ErrOrderNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// Release moves the full held amount to the order's merchant
// @Summary Release escrow to merchant
// @Description Credits the merchant's receivable with the whole order amount and marks the order RELEASED. Safe to retry.
// @Tags orders
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} ledger.PostResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /orders/{orderId}/release [post]
func (os *OrdersService) Release(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	order, err := os.store.GetOrder(r.Context(), orderID)
	if err != nil {
		SendErrorResponse(w, "Failed to load order", http.StatusInternalServerError, nil)
		return
	}
	if order == nil {
		SendLedgerError(w, ledger.ErrOrderNotFound)
		return
	}

	res, err := os.workflow.ReleaseEscrowToMerchant(r.Context(), order.ID, order.MerchantProfileID, order.Amount, order.Currency)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	os.audit.Log(middleware.UserID(r.Context()), "ORDER_RELEASE", "Order:"+order.ID, map[string]any{
		"amount": order.Amount, "merchantProfileId": order.MerchantProfileID, "idempotent": res.Idempotent,
	})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

type releaseSplitRequest struct {
	PayeeType models.OwnerType `json:"payeeType" validate:"required,oneof=MERCHANT DRIVER USER"`
	PayeeID   string           `json:"payeeId" validate:"required"`
	FeeBps    int64            `json:"feeBps" validate:"gte=0,lte=10000"`
}

// ReleaseSplit releases held funds to a payee minus a platform fee
// @Summary Fee-split release
// @Description Releases the order amount to the payee's liability account, keeping floor(amount*feeBps/10000) as platform fee income.
// @Tags orders
// @Accept json
// @Produce json
// @Param orderId path string true "Order ID"
// @Param split body releaseSplitRequest true "Payee and fee rate"
// @Success 200 {object} ledger.ReleaseResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /orders/{orderId}/release-split [post]
func (os *OrdersService) ReleaseSplit(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var req releaseSplitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := os.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	order, err := os.store.GetOrder(r.Context(), orderID)
	if err != nil {
		SendErrorResponse(w, "Failed to load order", http.StatusInternalServerError, nil)
		return
	}
	if order == nil {
		SendLedgerError(w, ledger.ErrOrderNotFound)
		return
	}

	payee := ledger.OwnerRef{OwnerType: req.PayeeType, OwnerID: req.PayeeID}
	res, err := os.workflow.ReleaseWithFeeSplit(r.Context(), order.ID, payee, order.Amount, req.FeeBps)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	os.audit.Log(middleware.UserID(r.Context()), "ORDER_RELEASE_SPLIT", "Order:"+order.ID, map[string]any{
		"amount": order.Amount, "feeBps": req.FeeBps, "fee": res.Fee, "toPayee": res.ToPayee, "idempotent": res.Idempotent,
	})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// decodeJSON applies the shared request body rules: size cap, unknown field
// rejection, single object only.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}
