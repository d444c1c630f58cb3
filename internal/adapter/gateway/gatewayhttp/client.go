// Package gatewayhttp is the outbound HTTP plumbing shared by the payment
// provider adapters. It maps transport failures, timeouts, throttling and 5xx
// responses to GW_003 and provider rejections to GW_001.
package gatewayhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"giftcard-ledger/config"
	"giftcard-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 1 << 20

// ProviderError is the detail behind a GW_001 rejection.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Client sends JSON or form requests to one provider.
type Client struct {
	provider string
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	log      zerolog.Logger
	// errorMessage extracts a readable message from a non-2xx body.
	errorMessage func(body []byte) string
}

// New creates a Client for provider. A zero RPS disables throttling.
func New(provider string, cfg config.GatewayEndpoint, log zerolog.Logger, errorMessage func([]byte) string) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(int(cfg.RPS), 1))
	}
	if errorMessage == nil {
		errorMessage = func(b []byte) string { return strings.TrimSpace(string(b)) }
	}
	return &Client{
		provider:     provider,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		http:         &http.Client{Timeout: timeout},
		limiter:      limiter,
		log:          log,
		errorMessage: errorMessage,
	}
}

// HTTPClient exposes the underlying client, e.g. for token endpoints.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// URL joins path onto the provider base URL.
func (c *Client) URL(path string) string {
	return c.baseURL + path
}

// NewRequest builds a request against the provider base URL.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("build %s request: %w", c.provider, err))
	}
	return req, nil
}

// Do sends req and decodes a 2xx JSON body into out (which may be nil).
func (c *Client) Do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return apperror.ErrGatewayUnavailable(fmt.Errorf("%s throttle: %w", c.provider, err))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("provider", c.provider).Str("path", req.URL.Path).Msg("gateway request failed")
		return apperror.ErrGatewayUnavailable(fmt.Errorf("%s %s: %w", c.provider, req.URL.Path, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperror.ErrGatewayUnavailable(fmt.Errorf("%s read body: %w", c.provider, err))
	}

	c.log.Debug().
		Str("provider", c.provider).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("gateway call")

	if err := c.classify(resp.StatusCode, body); err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperror.ErrGatewayUnavailable(fmt.Errorf("%s decode response: %w", c.provider, err))
	}
	return nil
}

func (c *Client) classify(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	perr := &ProviderError{Provider: c.provider, StatusCode: status, Message: c.errorMessage(body)}
	if status == http.StatusTooManyRequests || status >= 500 || status == http.StatusRequestTimeout {
		return apperror.ErrGatewayUnavailable(perr)
	}
	return apperror.ErrGateway(fmt.Sprintf("%s rejected the request: %s", c.provider, perr.Message), perr)
}

// StatusOf returns the provider HTTP status behind err, or 0.
func StatusOf(err error) int {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.StatusCode
	}
	return 0
}
