// Package client is a Go client for the chargeflow REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/afex/hystrix-go/hystrix"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultAPIRoot matches the server's default route prefix.
const DefaultAPIRoot = "/charge-mgmt/api"

// RetryPolicy controls how failed calls are retried. Only transport errors
// and 5xx answers other than 504 are retried.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Breaker configures a hystrix circuit around every call. Only transport
// errors and retryable server answers count as failures.
type Breaker struct {
	// Name is the hystrix command; clients sharing a name share a circuit.
	Name            string
	MaxConcurrent   int
	ErrorPercent    int
	VolumeThreshold int
	SleepWindow     time.Duration
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIRoot string
	Timeout time.Duration
	Retry   RetryPolicy
	Breaker *Breaker
}

// Client calls a chargeflow server.
type Client struct {
	base    string
	http    *http.Client
	retry   RetryPolicy
	command string
}

// New creates a client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("client: invalid base URL: %w", err)
	}

	root := cfg.APIRoot
	if root == "" {
		root = DefaultAPIRoot
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retry := cfg.Retry
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}

	c := &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/") + root,
		http:  &http.Client{Timeout: timeout},
		retry: retry,
	}
	if b := cfg.Breaker; b != nil {
		c.command = b.Name
		if c.command == "" {
			c.command = "chargeflow"
		}
		// The hystrix timeout trails the HTTP one so the request is always
		// abandoned by net/http first.
		hystrix.ConfigureCommand(c.command, hystrix.CommandConfig{
			Timeout:                int((timeout + time.Second).Milliseconds()),
			MaxConcurrentRequests:  orInt(b.MaxConcurrent, 100),
			RequestVolumeThreshold: orInt(b.VolumeThreshold, 20),
			ErrorPercentThreshold:  orInt(b.ErrorPercent, 50),
			SleepWindow:            orInt(int(b.SleepWindow.Milliseconds()), 5000),
		})
	}
	return c, nil
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Kind    domain.Kind     `json:"kind"`
}

// APIError is a non-2xx answer. Partial carries the data payload when the
// server attached one.
type APIError struct {
	Status  int
	Kind    domain.Kind
	Message string
	Partial json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chargeflow: %d %s: %s", e.Status, e.Kind, e.Message)
}

func retryable(err error) bool {
	if errors.Is(err, hystrix.ErrCircuitOpen) || errors.Is(err, hystrix.ErrMaxConcurrency) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 && apiErr.Status != http.StatusGatewayTimeout
	}
	return true
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
	}

	var err error
	for attempt := 1; attempt <= c.retry.Attempts; attempt++ {
		err = c.attempt(ctx, method, path, payload, out)
		if err == nil || !retryable(err) || attempt == c.retry.Attempts {
			return err
		}

		slog.Debug("retrying request", "method", method, "path", path, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retry.Backoff * time.Duration(attempt)):
		}
	}
	return err
}

// attempt runs one call, through the circuit when one is configured.
// Client errors pass through without counting against the circuit.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	if c.command == "" {
		return c.once(ctx, method, path, payload, out)
	}

	var final error
	err := hystrix.Do(c.command, func() error {
		final = c.once(ctx, method, path, payload, out)
		if final != nil && retryable(final) {
			return final
		}
		return nil
	}, nil)
	if err != nil {
		return err
	}
	return final
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{Status: resp.StatusCode, Kind: domain.KindInternal, Message: "undecodable response: " + err.Error()}
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{Status: resp.StatusCode, Kind: env.Kind, Message: env.Error, Partial: env.Data}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("client: decode response: %w", err)
		}
	}
	return nil
}

// Health checks the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Calculate runs one transaction through the engine.
func (c *Client) Calculate(ctx context.Context, tx domain.Transaction) (*domain.CalculationResult, error) {
	var res domain.CalculationResult
	if err := c.do(ctx, http.MethodPost, "/charges/calculate", tx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BulkCalculate submits a batch. On a timeout the partial result is
// returned with the error.
func (c *Client) BulkCalculate(ctx context.Context, req domain.BatchRequest) (*domain.BatchResult, error) {
	var res domain.BatchResult
	err := c.do(ctx, http.MethodPost, "/charges/bulk-calculate", req, &res)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && len(apiErr.Partial) > 0 && string(apiErr.Partial) != "null" {
			if jerr := json.Unmarshal(apiErr.Partial, &res); jerr == nil {
				return &res, err
			}
		}
		return nil, err
	}
	return &res, nil
}

// QuickTest runs a single calculation with server-side defaults for empty
// arguments.
func (c *Client) QuickTest(ctx context.Context, customerCode, txType string, amount *decimal.Decimal) (*domain.CalculationResult, error) {
	q := url.Values{}
	if customerCode != "" {
		q.Set("customerCode", customerCode)
	}
	if txType != "" {
		q.Set("transactionType", txType)
	}
	if amount != nil {
		q.Set("amount", amount.String())
	}

	path := "/charges/quick-test"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res domain.CalculationResult
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateRule stores a DRAFT rule.
func (c *Client) CreateRule(ctx context.Context, rule *domain.Rule) (*domain.Rule, error) {
	var res domain.Rule
	if err := c.do(ctx, http.MethodPost, "/rules", rule, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RuleAction applies a lifecycle action to one rule. Delete returns a nil
// rule.
func (c *Client) RuleAction(ctx context.Context, id string, action domain.RuleAction) (*domain.Rule, error) {
	if action == domain.ActionDelete {
		return nil, c.do(ctx, http.MethodDelete, "/rules/"+url.PathEscape(id), nil, nil)
	}

	var res domain.Rule
	if err := c.do(ctx, http.MethodPost, "/rules/"+url.PathEscape(id)+"/"+string(action), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ActiveRules lists the ACTIVE rules.
func (c *Client) ActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	var res []*domain.Rule
	if err := c.do(ctx, http.MethodGet, "/rules/active", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}
