package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	pbtcpay "github.com/purplebtc/pbtc-payments-go"
)

// APIClient talks to the payment server's JSON endpoints on behalf of a
// checkout flow: create the request, lock it to the paying wallet, and submit
// the settlement signature for confirmation.
type APIClient struct {
	baseURL string
	http    *http.Client
}

// NewAPIClient creates a client for the server at baseURL. A nil httpClient
// uses http.DefaultClient.
func NewAPIClient(baseURL string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type paymentResponse struct {
	Success bool                    `json:"success"`
	Payment *pbtcpay.PaymentRequest `json:"payment"`
	Error   string                  `json:"error"`
	Hint    string                  `json:"hint"`

	Verified       bool    `json:"verified"`
	ReceivedAmount float64 `json:"receivedAmount"`
	VerifiedSender string  `json:"verifiedSender"`
}

// CreatePayment registers (or re-fetches) a payment request, optionally
// locking it to payerWallet.
func (c *APIClient) CreatePayment(ctx context.Context, params pbtcpay.CreateParams) (*pbtcpay.PaymentRequest, error) {
	resp, err := c.post(ctx, "/api/payments/create", map[string]interface{}{
		"merchantWallet": params.MerchantWallet,
		"amount":         params.Amount,
		"reference":      params.Reference,
		"memo":           params.Memo,
		"payerWallet":    params.ExpectedPayer,
		"tokenId":        params.TokenID,
	})
	if err != nil {
		return nil, err
	}
	return resp.Payment, nil
}

// LockPayment binds the request to the paying wallet before the transfer is
// sent, so another wallet cannot settle it first.
func (c *APIClient) LockPayment(ctx context.Context, reference, payerWallet string) (*pbtcpay.PaymentRequest, error) {
	resp, err := c.post(ctx, "/api/payments/lock", map[string]interface{}{
		"reference":   reference,
		"payerWallet": payerWallet,
	})
	if err != nil {
		return nil, err
	}
	return resp.Payment, nil
}

// ConfirmPayment submits the settlement signature for on-chain verification.
func (c *APIClient) ConfirmPayment(ctx context.Context, params pbtcpay.ConfirmParams) (*pbtcpay.ConfirmResult, error) {
	resp, err := c.post(ctx, "/api/payments/confirm", map[string]interface{}{
		"reference":    params.Reference,
		"signature":    params.Signature,
		"senderWallet": params.SenderWallet,
		"tokenId":      params.TokenID,
	})
	if err != nil {
		return nil, err
	}
	return &pbtcpay.ConfirmResult{
		Payment:        resp.Payment,
		Verified:       resp.Verified,
		ReceivedAmount: resp.ReceivedAmount,
		VerifiedSender: resp.VerifiedSender,
	}, nil
}

func (c *APIClient) post(ctx context.Context, path string, body map[string]interface{}) (*paymentResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment server request failed: %w", err)
	}
	defer httpResp.Body.Close()

	var resp paymentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("invalid payment server response: %w", err)
	}
	if httpResp.StatusCode >= 400 {
		if resp.Error != "" {
			return nil, fmt.Errorf("%s", resp.Error)
		}
		return nil, fmt.Errorf("payment server returned status %d", httpResp.StatusCode)
	}
	return &resp, nil
}
