package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"paycore/internal/config"
	"paycore/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	_contentType          = "application/json"
	_idempotencyKeyHeader = "Idempotency-Key"
)

// HTTPClient talks to the provider over its JSON API. Network errors and
// timeouts map to OutcomeTransient, 4xx business rejections to
// OutcomeDeclined or OutcomeFatal, 5xx to OutcomeTransient.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     logger.Logger
}

func NewHTTPClient(cfg *config.Gateway, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: cfg.CallTimeout,
		},
		log: log,
	}
}

type providerRequest struct {
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	MethodToken string           `json:"method_token,omitempty"`
	TxnRef      string           `json:"txn_ref,omitempty"`
}

type providerResponse struct {
	Status string `json:"status"`
	TxnRef string `json:"txn_ref"`
	Reason string `json:"reason"`
}

func (c *HTTPClient) Authorize(ctx context.Context, req AuthorizeRequest) (Result, error) {
	return c.post(ctx, "/v1/charges", req.IdempotencyKey, providerRequest{
		Amount:      &req.Amount,
		Currency:    req.Currency,
		MethodToken: req.MethodToken,
	})
}

func (c *HTTPClient) Confirm(ctx context.Context, txnRef, idempotencyKey string) (Result, error) {
	return c.post(ctx, "/v1/charges/confirm", idempotencyKey, providerRequest{
		TxnRef: txnRef,
	})
}

func (c *HTTPClient) Cancel(ctx context.Context, txnRef, idempotencyKey string) (Result, error) {
	return c.post(ctx, "/v1/charges/cancel", idempotencyKey, providerRequest{
		TxnRef: txnRef,
	})
}

func (c *HTTPClient) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	return c.post(ctx, "/v1/refunds", req.IdempotencyKey, providerRequest{
		TxnRef: req.TxnRef,
		Amount: &req.Amount,
	})
}

func (c *HTTPClient) post(
	ctx context.Context,
	path, idempotencyKey string,
	body providerRequest,
) (Result, error) {
	const op = "gateway.http_client.post"

	requestBody, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("%s: marshal request: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+path,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return Result{}, fmt.Errorf("%s: build request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", _contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set(_idempotencyKeyHeader, idempotencyKey)

	response, err := c.client.Do(httpReq)
	if err != nil {
		// Timeouts are never assumed successful or failed. The outcome is
		// settled by the provider webhook or a reconciliation poll.
		if errors.Is(err, context.Canceled) {
			return Result{}, fmt.Errorf("%s: %w", op, err)
		}
		return Result{
			Outcome: OutcomeTransient,
			Reason:  err.Error(),
		}, nil
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return Result{
			Outcome: OutcomeTransient,
			Reason:  fmt.Sprintf("read response: %v", err),
		}, nil
	}

	return c.mapResponse(response.StatusCode, responseBody)
}

func (c *HTTPClient) mapResponse(statusCode int, body []byte) (Result, error) {
	const op = "gateway.http_client.mapResponse"

	if statusCode >= http.StatusInternalServerError {
		return Result{
			Outcome: OutcomeTransient,
			Reason:  fmt.Sprintf("provider returned %d", statusCode),
		}, nil
	}

	var parsed providerResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if statusCode >= http.StatusBadRequest {
			return Result{
				Outcome: OutcomeFatal,
				Reason:  fmt.Sprintf("provider returned %d", statusCode),
			}, nil
		}
		return Result{}, fmt.Errorf("%s: unmarshal response: %w", op, err)
	}

	switch statusCode {
	case http.StatusOK, http.StatusCreated:
		switch parsed.Status {
		case "succeeded":
			return Result{Outcome: OutcomeSucceeded, TxnRef: parsed.TxnRef}, nil
		case "pending":
			return Result{Outcome: OutcomePending, TxnRef: parsed.TxnRef}, nil
		case "declined":
			return Result{Outcome: OutcomeDeclined, TxnRef: parsed.TxnRef, Reason: parsed.Reason}, nil
		default:
			return Result{
				Outcome: OutcomeFatal,
				Reason:  fmt.Sprintf("unexpected provider status %q", parsed.Status),
			}, nil
		}
	case http.StatusPaymentRequired, http.StatusUnprocessableEntity:
		return Result{Outcome: OutcomeDeclined, TxnRef: parsed.TxnRef, Reason: parsed.Reason}, nil
	case http.StatusTooManyRequests:
		return Result{Outcome: OutcomeTransient, Reason: "provider rate limited"}, nil
	default:
		return Result{
			Outcome: OutcomeFatal,
			Reason:  fmt.Sprintf("provider returned %d: %s", statusCode, parsed.Reason),
		}, nil
	}
}
