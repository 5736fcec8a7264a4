package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/afex/hystrix-go/hystrix"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reply(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func newClient(t *testing.T, h http.HandlerFunc, retry RetryPolicy) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second, Retry: retry})
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	c, err := New(Config{BaseURL: "http://localhost:8080/"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080"+DefaultAPIRoot, c.base)
	assert.Equal(t, 1, c.retry.Attempts)
}

func TestCalculate(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultAPIRoot+"/charges/calculate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var tx domain.Transaction
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&tx))
		reply(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"transactionId": tx.TransactionID,
				"customerCode":  tx.CustomerCode,
				"totalCharges":  "25",
			},
		})
	}, RetryPolicy{})

	res, err := c.Calculate(context.Background(), domain.Transaction{
		TransactionID: "T1", CustomerCode: "CUST001", TransactionType: "ATM_WITHDRAWAL_OTHER",
		Amount: decimal.NewFromInt(500),
	})
	require.NoError(t, err)
	assert.Equal(t, "T1", res.TransactionID)
	assert.True(t, res.TotalCharges.Equal(decimal.NewFromInt(25)))
}

func TestAPIError(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		reply(w, http.StatusUnprocessableEntity, map[string]any{
			"success": false, "error": "customer NOPE not found", "kind": domain.KindUnknownCustomer,
		})
	}, RetryPolicy{Attempts: 3})

	_, err := c.Calculate(context.Background(), domain.Transaction{CustomerCode: "NOPE"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, domain.KindUnknownCustomer, apiErr.Kind)
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
}

func TestRetry(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			reply(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "busy", "kind": domain.KindInternal})
			return
		}
		reply(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"status": "healthy"}})
	}, RetryPolicy{Attempts: 3, Backoff: time.Millisecond})

	require.NoError(t, c.Health(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestBulkCalculatePartial(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusGatewayTimeout, map[string]any{
			"success": false,
			"error":   "batch B1 timed out",
			"kind":    domain.KindTimeout,
			"data": map[string]any{
				"batchId":                "B1",
				"requestedTransactions":  10,
				"totalTransactions":      4,
				"successfulCalculations": 4,
				"incomplete":             true,
			},
		})
	}, RetryPolicy{Attempts: 2, Backoff: time.Millisecond})

	res, err := c.BulkCalculate(context.Background(), domain.BatchRequest{BatchID: "B1"})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Incomplete)
	assert.Equal(t, 4, res.TotalTransactions)
}

func TestRuleAction(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == DefaultAPIRoot+"/rules/r1/approve":
			reply(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"id": "r1", "status": "ACTIVE"}})
		case r.Method == http.MethodDelete && r.URL.Path == DefaultAPIRoot+"/rules/r2":
			reply(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"deleted": true}})
		default:
			reply(w, http.StatusNotFound, map[string]any{"success": false, "kind": domain.KindNotFound})
		}
	}, RetryPolicy{})

	rule, err := c.RuleAction(context.Background(), "r1", domain.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, domain.RuleStatusActive, rule.Status)

	rule, err = c.RuleAction(context.Background(), "r2", domain.ActionDelete)
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestBreaker(t *testing.T) {
	t.Run("ClientErrorsDoNotTrip", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reply(w, http.StatusUnprocessableEntity, map[string]any{"success": false, "kind": domain.KindInvalidAmount})
		}))
		t.Cleanup(srv.Close)

		c, err := New(Config{BaseURL: srv.URL, Breaker: &Breaker{Name: "client-errors", VolumeThreshold: 1, ErrorPercent: 1}})
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			_, err := c.Calculate(context.Background(), domain.Transaction{})
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr), "call %d: %v", i, err)
			assert.Equal(t, domain.KindInvalidAmount, apiErr.Kind)
		}
	})

	t.Run("ServerErrorsOpenCircuit", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			reply(w, http.StatusServiceUnavailable, map[string]any{"success": false, "kind": domain.KindInternal})
		}))
		t.Cleanup(srv.Close)

		c, err := New(Config{BaseURL: srv.URL, Breaker: &Breaker{Name: "server-errors", VolumeThreshold: 1, ErrorPercent: 1, SleepWindow: time.Minute}})
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			return errors.Is(c.Health(context.Background()), hystrix.ErrCircuitOpen)
		}, 3*time.Second, 20*time.Millisecond)

		before := calls.Load()
		assert.ErrorIs(t, c.Health(context.Background()), hystrix.ErrCircuitOpen)
		assert.Equal(t, before, calls.Load(), "open circuit short-circuits the request")
	})
}
