package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errDownstream = errors.New("downstream failed")

func testConfig() Config {
	return Config{
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          20 * time.Millisecond,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

func trip(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := uint32(0); i < testConfig().FailureThreshold; i++ {
		err := cb.Execute(context.Background(), func() error { return errDownstream })
		require.ErrorIs(t, err, errDownstream)
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := New("test", "downstream", testConfig(), zaptest.NewLogger(t))
	assert.Equal(t, StateClosed, cb.State())

	trip(t, cb)
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	cb := New("test", "downstream", testConfig(), zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func() error { return errDownstream })
	}
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func() error { return errDownstream })
	}
	assert.Equal(t, StateClosed, cb.State(), "streak was broken by a success")
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := New("test", "downstream", testConfig(), zaptest.NewLogger(t))
	trip(t, cb)

	time.Sleep(30 * time.Millisecond)
	assert.False(t, cb.IsOpen(), "timeout elapsed, breaker probes half-open")

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := New("test", "downstream", testConfig(), zaptest.NewLogger(t))
	trip(t, cb)

	time.Sleep(30 * time.Millisecond)
	_ = cb.IsOpen() // advance to half-open
	err := cb.Execute(context.Background(), func() error { return errDownstream })
	require.ErrorIs(t, err, errDownstream)
	assert.Equal(t, StateOpen, cb.State())
}

func TestHTTPWrapperCountsServerErrorsOnly(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	hw := NewHTTPWrapper(srv.Client(), "test-http", "downstream", zaptest.NewLogger(t))

	// 4xx responses pass through without marking the breaker.
	status = http.StatusNotFound
	for i := 0; i < 10; i++ {
		resp, err := hw.Do(mustRequest(t, srv.URL))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
	assert.False(t, hw.IsOpen())

	// 5xx responses still reach the caller but trip the breaker.
	status = http.StatusBadGateway
	for i := 0; i < 5; i++ {
		resp, err := hw.Do(mustRequest(t, srv.URL))
		require.NoError(t, err)
		if resp != nil {
			resp.Body.Close()
		}
	}
	assert.True(t, hw.IsOpen())
}

func mustRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}
