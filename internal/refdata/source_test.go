package refdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHTTPSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"code":"005930","primary_name":"Samsung Electronics","alternate_name":"삼성전자"},
			{"code":"035720","primary_name":"Kakao","alternate_name":"카카오"}
		]`))
	}))
	defer srv.Close()

	src := NewHTTPSource("krx", srv.URL, 5*time.Second, zaptest.NewLogger(t))
	entries, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "005930", entries[0].CanonicalID)
	assert.Equal(t, "삼성전자", entries[0].AlternateName)
}

func TestHTTPSourceRetriesTransientOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"code":"KRW-BTC","primary_name":"Bitcoin","alternate_name":"비트코인"}]`))
	}))
	defer srv.Close()

	src := NewHTTPSource("crypto", srv.URL, 5*time.Second, zaptest.NewLogger(t))
	entries, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPSourceDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewHTTPSource("us", srv.URL, 5*time.Second, zaptest.NewLogger(t))
	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestHTTPSourceMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	}))
	defer srv.Close()

	src := NewHTTPSource("us", srv.URL, 5*time.Second, zaptest.NewLogger(t))
	_, err := src.Fetch(context.Background())
	assert.ErrorContains(t, err, "decode reference listing")
}
