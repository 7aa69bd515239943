package services

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/hefamarket/backend/internal/audit"
	"github.com/hefamarket/backend/internal/ledger"
	"github.com/hefamarket/backend/internal/models"
)

const trialBalanceCacheKey = "wallet:trial-balance"

// WalletService exposes the ledger's read surface and the strict posting
// endpoint for back-office use.
type WalletService struct {
	engine    *ledger.PostingEngine
	projector *ledger.BalanceProjector
	redis     *redis.Client
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewWalletService(store ledger.Store, rdb *redis.Client) *WalletService {
	return &WalletService{
		engine:    ledger.NewPostingEngine(store),
		projector: ledger.NewBalanceProjector(store),
		redis:     rdb,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

type postJournalRequest struct {
	TxnID string               `json:"txnId" validate:"required"`
	Lines []ledger.PostingLine `json:"lines" validate:"required,min=1"`
}

// PostJournal posts a balanced journal transaction
// @Summary Post a journal transaction
// @Description Strictly post a named, balanced set of journal lines. A duplicate txnId is rejected with 409.
// @Tags wallet
// @Accept json
// @Produce json
// @Param posting body postJournalRequest true "Transaction to post"
// @Success 200 {object} ledger.PostResult
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /wallet/post [post]
func (ws *WalletService) PostJournal(w http.ResponseWriter, r *http.Request) {
	var req postJournalRequest

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	res, err := ws.engine.Post(r.Context(), req.TxnID, req.Lines)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	ws.audit.LogPosting(res.TxnID, postedAmount(req.Lines), false)
	ws.invalidateTrialBalance(r)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// GetBalances lists signed balances for all accounts
// @Summary List account balances
// @Tags wallet
// @Produce json
// @Success 200 {array} models.AccountBalance
// @Router /wallet/balances [get]
func (ws *WalletService) GetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := ws.projector.AccountBalances(r.Context())
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balances)
}

// GetAccountDetail returns one account with balance and recent entries
// @Summary Account detail
// @Tags wallet
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} ledger.AccountDetail
// @Failure 404 {object} ErrorResponse
// @Router /wallet/accounts/{accountId} [get]
func (ws *WalletService) GetAccountDetail(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	detail, err := ws.projector.AccountDetail(r.Context(), accountID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detail)
}

// GetTrialBalance returns balances aggregated per account type
// @Summary Trial balance
// @Description Aggregate reconciliation check: ASSET == LIABILITY + INCOME - EXPENSE.
// @Tags wallet
// @Produce json
// @Success 200 {object} models.TrialBalance
// @Router /wallet/trial-balance [get]
func (ws *WalletService) GetTrialBalance(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if ws.redis != nil {
		if cached, err := ws.redis.Get(r.Context(), trialBalanceCacheKey).Bytes(); err == nil {
			w.Write(cached)
			return
		}
	}

	tb, err := ws.projector.TrialBalance(r.Context())
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	payload, _ := json.Marshal(tb)
	if ws.redis != nil {
		ws.redis.Set(r.Context(), trialBalanceCacheKey, payload, 10*time.Second)
	}
	w.Write(payload)
}

// GetJournal lists journal entries with optional filters
// @Summary List journal entries
// @Tags wallet
// @Produce json
// @Param txnId query string false "Filter by transaction id"
// @Param accountId query string false "Filter by account id"
// @Param take query int false "Page size (1-200, default 50)"
// @Success 200 {array} models.JournalEntry
// @Router /wallet/journal [get]
func (ws *WalletService) GetJournal(w http.ResponseWriter, r *http.Request) {
	take, _ := strconv.Atoi(r.URL.Query().Get("take"))
	entries, err := ws.projector.Entries(r.Context(), ledger.EntryFilter{
		TxnID:     r.URL.Query().Get("txnId"),
		AccountID: r.URL.Query().Get("accountId"),
		Limit:     take,
	})
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	if entries == nil {
		entries = []models.JournalEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GetOwnerBalance returns what the platform owes one owner
// @Summary Owner liability balance
// @Tags wallet
// @Produce json
// @Param ownerType path string true "MERCHANT or DRIVER"
// @Param ownerId path string true "Owner id"
// @Param currency query string true "ISO currency code"
// @Success 200 {object} object{ownerType=string,ownerId=string,currency=string,balance=int}
// @Router /wallet/owners/{ownerType}/{ownerId}/balance [get]
func (ws *WalletService) GetOwnerBalance(w http.ResponseWriter, r *http.Request) {
	ownerType := models.OwnerType(chi.URLParam(r, "ownerType"))
	ownerID := chi.URLParam(r, "ownerId")
	currency := r.URL.Query().Get("currency")
	if !ownerType.Valid() || ownerType == models.OwnerPlatform {
		SendErrorResponse(w, "Invalid owner type", http.StatusBadRequest, nil)
		return
	}
	if len(currency) != 3 {
		SendErrorResponse(w, "Invalid currency", http.StatusBadRequest, nil)
		return
	}

	balance, err := ws.projector.OwnerLiabilityBalance(r.Context(), ownerType, ownerID, currency)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ownerType": ownerType,
		"ownerId":   ownerID,
		"currency":  currency,
		"balance":   balance,
	})
}

func (ws *WalletService) invalidateTrialBalance(r *http.Request) {
	if ws.redis != nil {
		ws.redis.Del(r.Context(), trialBalanceCacheKey)
	}
}

func postedAmount(lines []ledger.PostingLine) int64 {
	var total int64
	for _, l := range lines {
		if l.Side == models.Debit {
			total += l.Amount
		}
	}
	return total
}
