package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/marketscope/dispatch/internal/circuitbreaker"
	"github.com/marketscope/dispatch/internal/tracing"
)

// ProviderClient calls one market's data provider. Every call gets a
// per-request timeout and a single retry on transient failure; a second
// failure is terminal for the request.
type ProviderClient struct {
	baseURL string
	client  *circuitbreaker.HTTPWrapper
	timeout time.Duration
	logger  *zap.Logger
}

// NewProviderClient creates a client for one provider base URL.
func NewProviderClient(market, baseURL string, timeout time.Duration, logger *zap.Logger) *ProviderClient {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &ProviderClient{
		baseURL: baseURL,
		client:  circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: timeout}, "provider-"+market, "market-data", logger),
		timeout: timeout,
		logger:  logger,
	}
}

// GetJSON fetches a provider endpoint and decodes the JSON object body.
// The timeout applies per attempt, so a retry after a slow first attempt
// still gets a full budget to reach the provider.
func (c *ProviderClient) GetJSON(ctx context.Context, path string, query url.Values) (map[string]interface{}, error) {
	out, err := c.getOnce(ctx, path, query)
	if err != nil && transient(err) && ctx.Err() == nil {
		c.logger.Warn("Provider call failed, retrying once",
			zap.String("path", path),
			zap.Error(err),
		)
		out, err = c.getOnce(ctx, path, query)
	}
	return out, err
}

func (c *ProviderClient) getOnce(ctx context.Context, path string, query url.Values) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := tracing.StartSpan(ctx, "provider.get")
	defer span.End()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &providerError{status: resp.StatusCode, path: path}
	}

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return out, nil
}

type providerError struct {
	status int
	path   string
}

func (e *providerError) Error() string {
	return fmt.Sprintf("provider returned %d for %s", e.status, e.path)
}

// transient classifies failures worth one retry: 5xx and timeouts.
func transient(err error) bool {
	if pe, ok := err.(*providerError); ok {
		return pe.status >= 500
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok && u.Unwrap() != nil {
		return transient(u.Unwrap())
	}
	return false
}
