package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"paycore/internal/config"
	"paycore/internal/gateway"
	"paycore/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newProviderStub(t *testing.T, statusCode int, body string) (*httptest.Server, *http.Header) {
	t.Helper()

	var captured http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server, &captured
}

func newClient(baseURL string) *gateway.HTTPClient {
	cfg := &config.Gateway{
		BaseURL:     baseURL,
		APIKey:      "sk_test",
		CallTimeout: 2 * time.Second,
	}
	return gateway.NewHTTPClient(cfg, logger.NewNop())
}

func authorize(t *testing.T, client *gateway.HTTPClient) gateway.Result {
	t.Helper()

	result, err := client.Authorize(context.Background(), gateway.AuthorizeRequest{
		Amount:         decimal.RequireFromString("100.00"),
		Currency:       "USD",
		MethodToken:    "tok_visa",
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	return result
}

func TestHTTPClient_Authorize_Succeeded(t *testing.T) {
	server, headers := newProviderStub(t, http.StatusOK,
		`{"status":"succeeded","txn_ref":"txn_abc"}`)

	result := authorize(t, newClient(server.URL))

	require.Equal(t, gateway.OutcomeSucceeded, result.Outcome)
	require.Equal(t, "txn_abc", result.TxnRef)
	require.Equal(t, "idem-1", headers.Get("Idempotency-Key"))
	require.Equal(t, "Bearer sk_test", headers.Get("Authorization"))
}

func TestHTTPClient_Authorize_DeclinedInBody(t *testing.T) {
	server, _ := newProviderStub(t, http.StatusOK,
		`{"status":"declined","txn_ref":"txn_abc","reason":"insufficient funds"}`)

	result := authorize(t, newClient(server.URL))

	require.Equal(t, gateway.OutcomeDeclined, result.Outcome)
	require.Equal(t, "insufficient funds", result.Reason)
}

func TestHTTPClient_Authorize_DeclinedByStatusCode(t *testing.T) {
	server, _ := newProviderStub(t, http.StatusPaymentRequired,
		`{"reason":"card blocked"}`)

	result := authorize(t, newClient(server.URL))

	require.Equal(t, gateway.OutcomeDeclined, result.Outcome)
	require.Equal(t, "card blocked", result.Reason)
}

func TestHTTPClient_Authorize_ServerErrorIsTransient(t *testing.T) {
	server, _ := newProviderStub(t, http.StatusServiceUnavailable, `oops`)

	result := authorize(t, newClient(server.URL))

	require.Equal(t, gateway.OutcomeTransient, result.Outcome)
}

func TestHTTPClient_Authorize_RateLimitIsTransient(t *testing.T) {
	server, _ := newProviderStub(t, http.StatusTooManyRequests, `{}`)

	result := authorize(t, newClient(server.URL))

	require.Equal(t, gateway.OutcomeTransient, result.Outcome)
}

func TestHTTPClient_Authorize_MalformedRejectionIsFatal(t *testing.T) {
	server, _ := newProviderStub(t, http.StatusBadRequest, `not json`)

	result := authorize(t, newClient(server.URL))

	require.Equal(t, gateway.OutcomeFatal, result.Outcome)
}

func TestHTTPClient_Authorize_ConnectionRefusedIsTransient(t *testing.T) {
	// Reserve and release a port so nothing is listening on it.
	server, _ := newProviderStub(t, http.StatusOK, `{}`)
	url := server.URL
	server.Close()

	result := authorize(t, newClient(url))

	require.Equal(t, gateway.OutcomeTransient, result.Outcome)
}
