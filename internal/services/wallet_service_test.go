package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/hefamarket/backend/internal/ledger"
	"github.com/hefamarket/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWalletFixture(t *testing.T) (*WalletService, *ledger.MemStore, *chi.Mux) {
	t.Helper()
	store := ledger.NewMemStore()
	ws := NewWalletService(store, nil)

	r := chi.NewRouter()
	r.Post("/wallet/post", ws.PostJournal)
	r.Get("/wallet/balances", ws.GetBalances)
	r.Get("/wallet/accounts/{accountId}", ws.GetAccountDetail)
	r.Get("/wallet/trial-balance", ws.GetTrialBalance)
	r.Get("/wallet/journal", ws.GetJournal)
	r.Get("/wallet/owners/{ownerType}/{ownerId}/balance", ws.GetOwnerBalance)
	return ws, store, r
}

func postingBody(txnID string, amount int64) []byte {
	body, _ := json.Marshal(map[string]any{
		"txnId": txnID,
		"lines": []map[string]any{
			{
				"account": map[string]any{"ownerType": "PLATFORM", "purpose": "CASH_GATEWAY", "type": "ASSET", "currency": "NGN"},
				"side":    "DEBIT",
				"amount":  amount,
			},
			{
				"account": map[string]any{"ownerType": "PLATFORM", "purpose": "ESCROW", "type": "LIABILITY", "currency": "NGN"},
				"side":    "CREDIT",
				"amount":  amount,
			},
		},
	})
	return body
}

func TestPostJournal(t *testing.T) {
	_, _, router := newWalletFixture(t)

	t.Run("posts a balanced transaction", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/wallet/post", bytes.NewReader(postingBody("TXN:http", 1500)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var res ledger.PostResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, "TXN:http", res.TxnID)
		assert.Equal(t, 2, res.Lines)
	})

	t.Run("duplicate txnId is a conflict", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/wallet/post", bytes.NewReader(postingBody("TXN:http", 1500)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unbalanced lines are rejected", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"txnId": "TXN:bad",
			"lines": []map[string]any{
				{
					"account": map[string]any{"ownerType": "PLATFORM", "purpose": "ESCROW", "type": "LIABILITY", "currency": "NGN"},
					"side":    "CREDIT",
					"amount":  100,
				},
			},
		})
		r := httptest.NewRequest("POST", "/wallet/post", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/wallet/post", bytes.NewReader([]byte(`{"txnId":"x","lines":[],"bogus":1}`)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing txnId fails validation", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"lines": []map[string]any{
				{
					"account": map[string]any{"ownerType": "PLATFORM", "purpose": "ESCROW", "type": "LIABILITY", "currency": "NGN"},
					"side":    "CREDIT",
					"amount":  100,
				},
			},
		})
		r := httptest.NewRequest("POST", "/wallet/post", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.Details, "TxnID")
	})
}

func TestGetBalancesAndTrialBalance(t *testing.T) {
	_, _, router := newWalletFixture(t)

	r := httptest.NewRequest("POST", "/wallet/post", bytes.NewReader(postingBody("TXN:bal", 7000)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("balances", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet/balances", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		var balances []models.AccountBalance
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balances))
		require.Len(t, balances, 2)
		for _, b := range balances {
			assert.Equal(t, int64(7000), b.Balance)
		}
	})

	t.Run("trial balance", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet/trial-balance", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		var tb models.TrialBalance
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tb))
		assert.Equal(t, int64(7000), tb.Asset)
		assert.Equal(t, int64(7000), tb.Liability)
		assert.True(t, tb.Balanced())
	})
}

func TestGetTrialBalanceCache(t *testing.T) {
	store := ledger.NewMemStore()
	rdb, rmock := redismock.NewClientMock()
	ws := NewWalletService(store, rdb)

	payload, _ := json.Marshal(models.TrialBalance{})

	t.Run("miss computes and caches", func(t *testing.T) {
		rmock.ExpectGet(trialBalanceCacheKey).RedisNil()
		rmock.ExpectSet(trialBalanceCacheKey, payload, 10*time.Second).SetVal("OK")

		r := httptest.NewRequest("GET", "/wallet/trial-balance", nil)
		w := httptest.NewRecorder()
		ws.GetTrialBalance(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, string(payload), w.Body.String())
		assert.NoError(t, rmock.ExpectationsWereMet())
	})

	t.Run("hit serves the cached payload", func(t *testing.T) {
		rmock.ExpectGet(trialBalanceCacheKey).SetVal(string(payload))

		r := httptest.NewRequest("GET", "/wallet/trial-balance", nil)
		w := httptest.NewRecorder()
		ws.GetTrialBalance(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, string(payload), w.Body.String())
		assert.NoError(t, rmock.ExpectationsWereMet())
	})
}

func TestGetAccountDetail(t *testing.T) {
	_, store, router := newWalletFixture(t)

	r := httptest.NewRequest("POST", "/wallet/post", bytes.NewReader(postingBody("TXN:detail", 300)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	acc, err := store.FindAccount(context.Background(), models.AccountSelector{
		OwnerType: models.OwnerPlatform, OwnerID: models.PlatformOwnerID,
		Purpose: models.PurposeEscrow, Type: models.TypeLiability, Currency: "NGN",
	})
	require.NoError(t, err)
	require.NotNil(t, acc)

	t.Run("found", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet/accounts/"+acc.ID, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		var detail ledger.AccountDetail
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
		assert.Equal(t, acc.ID, detail.Account.ID)
		assert.Equal(t, int64(300), detail.Balance)
		assert.Len(t, detail.Entries, 1)
	})

	t.Run("not found", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet/accounts/nope", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetJournal(t *testing.T) {
	_, _, router := newWalletFixture(t)

	for _, txn := range []string{"TXN:j1", "TXN:j2"} {
		r := httptest.NewRequest("POST", "/wallet/post", bytes.NewReader(postingBody(txn, 10)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
	}

	t.Run("filter by txnId", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet/journal?txnId=TXN:j1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		var entries []models.JournalEntry
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
		assert.Len(t, entries, 2)
	})

	t.Run("empty result is an empty array", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet/journal?txnId=TXN:none", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})
}

func TestGetOwnerBalance(t *testing.T) {
	_, store, router := newWalletFixture(t)

	engine := ledger.NewPostingEngine(store)
	_, err := engine.Post(context.Background(), "TXN:owner", []ledger.PostingLine{
		{Account: models.AccountSelector{OwnerType: models.OwnerPlatform, Purpose: models.PurposeEscrow, Type: models.TypeLiability, Currency: "NGN"}, Side: models.Debit, Amount: 4200},
		{Account: models.AccountSelector{OwnerType: models.OwnerMerchant, OwnerID: "m-9", Purpose: models.PurposeMerchantReceivable, Type: models.TypeLiability, Currency: "NGN"}, Side: models.Credit, Amount: 4200},
	})
	require.NoError(t, err)

	t.Run("returns the liability balance", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet/owners/MERCHANT/m-9/balance?currency=NGN", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.EqualValues(t, 4200, resp["balance"])
	})

	t.Run("rejects platform owner", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet/owners/PLATFORM/PLATFORM/balance?currency=NGN", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects missing currency", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet/owners/MERCHANT/m-9/balance", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
