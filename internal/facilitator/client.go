// Package facilitator implements the HTTP client for an x402 facilitator
// service: remote payment verification, settlement and capability discovery.
// The client performs no cryptography itself; it carries payloads to the
// facilitator and reports back typed results.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/tjfontaine/x402-gate/internal/x402"
)

const defaultTimeout = 10 * time.Second

// Client talks to an x402 facilitator over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	authToken  string

	group     singleflight.Group
	mu        sync.RWMutex
	supported *x402.SupportedResponse
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) error {
		if httpClient == nil {
			return fmt.Errorf("http client must not be nil")
		}
		c.httpClient = httpClient
		return nil
	}
}

// WithTimeout sets the request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = timeout
		return nil
	}
}

// WithAuthToken sends a bearer token with every facilitator request. Hosted
// facilitators require one for mainnet settlement.
func WithAuthToken(token string) Option {
	return func(c *Client) error {
		c.authToken = token
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// NewClient creates a facilitator client for the given base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("facilitator URL must not be empty")
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// verifyRequest is the facilitator's verify/settle request body.
type verifyRequest struct {
	X402Version         int                       `json:"x402Version"`
	PaymentPayload      *x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *x402.PaymentRequirements `json:"paymentRequirements"`
}

// Verify asks the facilitator to check a payment payload against the route's
// requirements without moving funds.
func (c *Client) Verify(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	req := verifyRequest{
		X402Version:         x402.Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}

	var resp x402.VerifyResponse
	if err := c.post(ctx, "/verify", req, &resp); err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	return &resp, nil
}

// Settle asks the facilitator to execute the verified payment on chain.
func (c *Client) Settle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.SettleResponse, error) {
	req := verifyRequest{
		X402Version:         x402.Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}

	var resp x402.SettleResponse
	if err := c.post(ctx, "/settle", req, &resp); err != nil {
		return nil, fmt.Errorf("settle payment: %w", err)
	}
	return &resp, nil
}

// Supported returns the payment kinds the facilitator accepts. The result is
// fetched once and cached; concurrent first calls collapse into a single
// upstream request.
func (c *Client) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	c.mu.RLock()
	cached := c.supported
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := c.group.Do("supported", func() (any, error) {
		// Re-check under the flight: a caller that lost the race to a
		// completed fetch must not trigger another one.
		c.mu.RLock()
		cached := c.supported
		c.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		var resp x402.SupportedResponse
		if err := c.get(ctx, "/supported", &resp); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.supported = &resp
		c.mu.Unlock()
		c.logger.Debug("facilitator capabilities fetched", slog.Int("kinds", len(resp.Kinds)))
		return &resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch supported kinds: %w", err)
	}
	return v.(*x402.SupportedResponse), nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read facilitator response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("facilitator returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal facilitator response: %w", err)
	}
	return nil
}
