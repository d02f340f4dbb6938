package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrProcessor = errors.New("payment processor error")

type Authorization struct {
	Reference string    `json:"reference"`
	PayerID   uuid.UUID `json:"payer_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Method    Method    `json:"method"`
	MethodID  string    `json:"method_id,omitempty"`
}

type AuthorizationResponse struct {
	AuthorizationID string `json:"authorization_id"`
	PaymentURL      string `json:"payment_url"`
}

type CaptureRequest struct {
	Reference       string `json:"reference"` // maintenance job id, sent as idempotency key
	AuthorizationID string `json:"authorization_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Method          Method `json:"method"`
}

type captureResponse struct {
	TransactionID string `json:"transaction_id"`
}

// Processor talks to the payment service provider.
type Processor interface {
	Authorize(ctx context.Context, a Authorization) (AuthorizationResponse, error)
	Capture(ctx context.Context, c CaptureRequest) (transactionID string, err error)
}

// HTTPProcessor calls a PSP bridge exposing POST /v1/authorizations and
// POST /v1/captures.
type HTTPProcessor struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPProcessor(baseURL, apiKey string, timeout time.Duration) *HTTPProcessor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProcessor{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProcessor) Authorize(ctx context.Context, a Authorization) (AuthorizationResponse, error) {
	var out AuthorizationResponse
	if err := p.post(ctx, "/v1/authorizations", a.Reference, a, &out); err != nil {
		return AuthorizationResponse{}, err
	}
	if out.AuthorizationID == "" {
		return AuthorizationResponse{}, fmt.Errorf("%w: empty authorization id", ErrProcessor)
	}
	return out, nil
}

func (p *HTTPProcessor) Capture(ctx context.Context, c CaptureRequest) (string, error) {
	var out captureResponse
	if err := p.post(ctx, "/v1/captures", c.Reference, c, &out); err != nil {
		return "", err
	}
	if out.TransactionID == "" {
		return "", fmt.Errorf("%w: empty transaction id", ErrProcessor)
	}
	return out.TransactionID, nil
}

func (p *HTTPProcessor) post(ctx context.Context, path, idempotencyKey string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProcessor, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrProcessor, err)
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return fmt.Errorf("%w: %s", ErrProcessor, msg)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProcessor, err)
	}
	return nil
}

// SandboxProcessor approves every call. Used in development.
type SandboxProcessor struct {
	PayURL string
}

func (s SandboxProcessor) Authorize(_ context.Context, a Authorization) (AuthorizationResponse, error) {
	id := "sbx_auth_" + uuid.NewString()
	url := ""
	if s.PayURL != "" {
		url = strings.TrimRight(s.PayURL, "/") + "/" + id
	}
	return AuthorizationResponse{AuthorizationID: id, PaymentURL: url}, nil
}

func (SandboxProcessor) Capture(context.Context, CaptureRequest) (string, error) {
	return "sbx_txn_" + uuid.NewString(), nil
}
