package paystack

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/viper"
)

const ProviderName = "PAYSTACK"

// Client is a thin wrapper over the Paystack REST API: transaction
// initialization for payment intents and transfer endpoints for payouts.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

func NewClient() *Client {
	viper.SetDefault("paystack.base_url", "https://api.paystack.co")
	return &Client{
		baseURL:   viper.GetString("paystack.base_url"),
		secretKey: viper.GetString("paystack.secret_key"),
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

type InitializeResult struct {
	Reference        string
	AuthorizationURL string
}

type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) post(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	rsp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("paystack %s: %w", path, err)
	}
	defer rsp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(rsp.Body).Decode(&env); err != nil {
		return fmt.Errorf("paystack %s: decode response: %w", path, err)
	}
	if rsp.StatusCode >= 400 || !env.Status {
		return fmt.Errorf("paystack %s: %s", path, env.Message)
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// InitializeTransaction creates a hosted checkout for an order. Amount is in
// minor units, as Paystack expects.
func (c *Client) InitializeTransaction(orderID, email, currency string, amount int64) (InitializeResult, error) {
	ref := fmt.Sprintf("hefa_%s_%d", orderID, time.Now().UnixMilli())
	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	}
	err := c.post("/transaction/initialize", map[string]any{
		"email":     email,
		"amount":    amount,
		"currency":  currency,
		"reference": ref,
		"metadata":  map[string]string{"orderId": orderID},
	}, &data)
	if err != nil {
		return InitializeResult{}, err
	}
	return InitializeResult{Reference: data.Reference, AuthorizationURL: data.AuthorizationURL}, nil
}

// CreateTransferRecipient registers a bank account and returns the
// recipient code used by transfers.
func (c *Client) CreateTransferRecipient(bankCode, accountNo, name string) (string, error) {
	if name == "" {
		name = "HEFA Recipient"
	}
	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	err := c.post("/transferrecipient", map[string]any{
		"type":           "nuban",
		"name":           name,
		"account_number": accountNo,
		"bank_code":      bankCode,
		"currency":       "NGN",
	}, &data)
	if err != nil {
		return "", err
	}
	if data.RecipientCode == "" {
		return "", fmt.Errorf("paystack: no recipient_code")
	}
	return data.RecipientCode, nil
}

// InitiateTransfer starts a payout transfer with our own reference so the
// webhook can be correlated back to the payout.
func (c *Client) InitiateTransfer(amount int64, currency, recipientCode, reason, reference string) (string, error) {
	if reason == "" {
		reason = "HEFA payout"
	}
	var data struct {
		Reference string `json:"reference"`
	}
	err := c.post("/transfer", map[string]any{
		"source":    "balance",
		"amount":    amount,
		"currency":  currency,
		"recipient": recipientCode,
		"reason":    reason,
		"reference": reference,
	}, &data)
	if err != nil {
		return "", err
	}
	return data.Reference, nil
}

// VerifySignature checks the x-paystack-signature header: an HMAC-SHA512 of
// the raw body under the secret key.
func (c *Client) VerifySignature(rawBody []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(c.secretKey))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// WebhookEvent is the subset of a Paystack webhook payload the ledger flows
// consume.
type WebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID        json.Number `json:"id"`
		Reference string      `json:"reference"`
		Amount    int64       `json:"amount"`
		Currency  string      `json:"currency"`
	} `json:"data"`
}

// ParseWebhook decodes a verified webhook body. EventID is used for the
// best-effort replay cache; ledger txn idempotency remains the real guard.
func ParseWebhook(rawBody []byte) (WebhookEvent, string, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return evt, "", err
	}
	eventID := evt.Data.ID.String()
	if eventID == "" {
		eventID = evt.Data.Reference
	}
	return evt, eventID, nil
}
