package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/marketscope/dispatch/internal/circuitbreaker"
)

// Source fetches the full reference listing for one market.
type Source interface {
	Fetch(ctx context.Context) ([]Entry, error)
}

// HTTPSource fetches {code, primary_name, alternate_name} records from an
// HTTP(S) endpoint. Outbound calls go through the circuit breaker wrapper
// and a rate limiter; transient failures get one retry.
type HTTPSource struct {
	url     string
	client  *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPSource creates a reference data source for one market endpoint.
func NewHTTPSource(market, url string, timeout time.Duration, logger *zap.Logger) *HTTPSource {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		url:     url,
		client:  circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: timeout}, "refdata-"+market, "reference-data", logger),
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
		logger:  logger,
	}
}

// Fetch retrieves the current listing. Transient failures (network error,
// 5xx) are retried once; a second failure is returned to the cache, which
// keeps serving the previous snapshot.
func (s *HTTPSource) Fetch(ctx context.Context) ([]Entry, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	entries, err := s.fetchOnce(ctx)
	if err != nil && isTransient(err) {
		s.logger.Warn("Reference data fetch failed, retrying once",
			zap.String("url", s.url),
			zap.Error(err),
		)
		entries, err = s.fetchOnce(ctx)
	}
	return entries, err
}

func (s *HTTPSource) fetchOnce(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode}
	}

	var out []Entry
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode reference listing: %w", err)
	}
	return out, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

// isTransient classifies failures worth a single retry: timeouts and 5xx.
func isTransient(err error) bool {
	if se, ok := err.(*statusError); ok {
		return se.code >= 500
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	// Transport-level errors from http.Client wrap a *url.Error which in
	// turn may carry a net.Error.
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok && u.Unwrap() != nil {
		return isTransient(u.Unwrap())
	}
	return false
}
