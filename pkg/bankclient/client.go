/**
 * @description
 * This package provides a client for the bank adapter API that every
 * participating bank exposes to the switch. It encapsulates the debit,
 * credit, reversal, and status-query calls, handling authenticated HTTP
 * requests, response parsing, and the distinction between a declined leg
 * (a definitive business answer) and a timed-out leg (an unknown outcome
 * the orchestrator must resolve via status query).
 *
 * @dependencies
 * - bytes, context, encoding/json, errors, fmt, net, net/http, time: Standard Go libraries.
 */
package bankclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"
)

// ErrAdapterTimeout is returned when the adapter did not answer within the
// deadline. The leg outcome is unknown: the caller must not assume the
// operation failed.
var ErrAdapterTimeout = errors.New("bank adapter timeout")

// ErrLegNotFound is returned by QueryStatus when the adapter has no record
// of the requested leg.
var ErrLegNotFound = errors.New("leg not found at bank")

// Leg outcome statuses reported by bank adapters.
const (
	StatusSuccess  = "SUCCESS"
	StatusDeclined = "DECLINED"
	StatusPending  = "PENDING"
)

// Client is a client for one bank's adapter endpoint.
type Client struct {
	BankCode   string
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a bank adapter client. The timeout bounds every call;
// exceeding it surfaces as ErrAdapterTimeout.
func NewClient(bankCode, baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BankCode: bankCode,
		BaseURL:  baseURL,
		APIKey:   apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// LegRequest carries one debit or credit instruction to a bank adapter.
type LegRequest struct {
	RRN        string `json:"rrn"`
	VPA        string `json:"vpa"`
	AccountRef string `json:"account_ref"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Remark     string `json:"remark,omitempty"`
}

// ReversalRequest asks a bank to undo a previously confirmed debit.
type ReversalRequest struct {
	RRN      string `json:"rrn"`
	DebitRef string `json:"debit_ref"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Reason   string `json:"reason"`
}

// LegResult is the adapter's answer for a leg operation.
type LegResult struct {
	Status  string `json:"status"`
	BankRef string `json:"bank_ref"`
	Reason  string `json:"reason,omitempty"`
}

// Declined reports whether the bank gave a definitive refusal.
func (r *LegResult) Declined() bool {
	return r.Status == StatusDeclined
}

// ErrorResponse represents an error payload from a bank adapter.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("bank adapter error: %s - %s", e.Code, e.Message)
}

// Debit asks the payer bank to move funds out of the payer account.
func (c *Client) Debit(ctx context.Context, req LegRequest) (*LegResult, error) {
	return c.doLeg(ctx, "debit", "/api/v1/debit", req)
}

// Credit asks the payee bank to move funds into the payee account.
func (c *Client) Credit(ctx context.Context, req LegRequest) (*LegResult, error) {
	return c.doLeg(ctx, "credit", "/api/v1/credit", req)
}

// Reverse asks the payer bank to undo a confirmed debit. Adapters treat the
// (rrn, debit_ref) pair as an idempotency key, so retrying a reversal is
// safe.
func (c *Client) Reverse(ctx context.Context, req ReversalRequest) (*LegResult, error) {
	return c.doLeg(ctx, "reversal", "/api/v1/reversals", req)
}

// QueryStatus asks the adapter for the definitive state of a leg after an
// ambiguous answer. leg is "debit", "credit", or "reversal".
func (c *Client) QueryStatus(ctx context.Context, rrn, leg string) (*LegResult, error) {
	url := fmt.Sprintf("%s/api/v1/transactions/%s/%s", c.BaseURL, rrn, leg)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-switch-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrAdapterTimeout
		}
		return nil, fmt.Errorf("failed to execute status request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrLegNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.parseError("status_query", resp.StatusCode, bodyBytes)
	}

	var result LegResult
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &result, nil
}

// doLeg executes one POST leg operation and normalizes its outcome.
func (c *Client) doLeg(ctx context.Context, op, path string, payload interface{}) (*LegResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-switch-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrAdapterTimeout
		}
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.parseError(op, resp.StatusCode, bodyBytes)
	}

	var result LegResult
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return &result, nil
}

func (c *Client) parseError(op string, status int, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		log.Printf("level=warn component=bank_client bank=%s op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", c.BankCode, op, status)
		return fmt.Errorf("bank adapter returned status %d", status)
	}
	log.Printf("level=warn component=bank_client bank=%s op=%s status=%d code=%q message=%q", c.BankCode, op, status, errResp.Code, errResp.Message)
	return &errResp
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
