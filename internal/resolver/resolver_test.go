package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/marketscope/dispatch/internal/refdata"
)

type stubSource struct {
	entries []refdata.Entry
	err     error
}

func (s *stubSource) Fetch(ctx context.Context) ([]refdata.Entry, error) {
	return s.entries, s.err
}

func newCache(t *testing.T, market string, entries []refdata.Entry) *refdata.Cache {
	t.Helper()
	return refdata.NewCache(market, &stubSource{entries: entries}, time.Hour, zaptest.NewLogger(t))
}

func krxEntries() []refdata.Entry {
	return []refdata.Entry{
		{CanonicalID: "005930", PrimaryName: "Samsung Electronics", AlternateName: "삼성전자"},
		{CanonicalID: "035720", PrimaryName: "Kakao", AlternateName: "카카오"},
		{CanonicalID: "000660", PrimaryName: "SK hynix", AlternateName: "에스케이하이닉스"},
	}
}

func usEntries() []refdata.Entry {
	return []refdata.Entry{
		{CanonicalID: "AAPL", PrimaryName: "Apple Inc.", AlternateName: "애플"},
		{CanonicalID: "TSLA", PrimaryName: "Tesla Inc.", AlternateName: "테슬라"},
	}
}

func cryptoEntries() []refdata.Entry {
	return []refdata.Entry{
		{CanonicalID: "KRW-BTC", PrimaryName: "Bitcoin", AlternateName: "비트코인"},
		{CanonicalID: "KRW-ETH", PrimaryName: "Ethereum", AlternateName: "이더리움"},
	}
}

func TestKRXFormatRule(t *testing.T) {
	r := NewKRXResolver(newCache(t, "krx", krxEntries()), ".KS", 4, 6, 80)

	for token, want := range map[string]string{
		"005930.KS": "005930.KS",
		"035720.kq": "035720.KQ",
		"0059.ks":   "0059.KS",
	} {
		got, ok := r.Resolve(context.Background(), token)
		require.True(t, ok, token)
		assert.Equal(t, want, got)
	}
}

func TestKRXNumericRuleIsIdempotent(t *testing.T) {
	r := NewKRXResolver(newCache(t, "krx", nil), ".KS", 4, 6, 80)

	for i := 0; i < 3; i++ {
		got, ok := r.Resolve(context.Background(), "005930")
		require.True(t, ok)
		assert.Equal(t, "005930.KS", got)
	}

	// Out of the valid digit range.
	_, ok := r.Resolve(context.Background(), "123")
	assert.False(t, ok)
	_, ok = r.Resolve(context.Background(), "1234567")
	assert.False(t, ok)
}

func TestKRXApproximateNameMatch(t *testing.T) {
	r := NewKRXResolver(newCache(t, "krx", krxEntries()), ".KS", 4, 6, 80)

	got, ok := r.Resolve(context.Background(), "삼성전자")
	require.True(t, ok)
	assert.Equal(t, "005930.KS", got)

	// One typo still clears the threshold.
	got, ok = r.Resolve(context.Background(), "samsng electronics")
	require.True(t, ok)
	assert.Equal(t, "005930.KS", got)

	// Too far from any listed name.
	_, ok = r.Resolve(context.Background(), "zzzz corp")
	assert.False(t, ok)
}

func TestKRXDegradesWithEmptyReferenceSet(t *testing.T) {
	cache := refdata.NewCache("krx",
		&stubSource{err: errors.New("unreachable")}, time.Hour, zaptest.NewLogger(t))
	r := NewKRXResolver(cache, ".KS", 4, 6, 80)

	// Numeric and format rules do not need the reference set.
	got, ok := r.Resolve(context.Background(), "005930")
	require.True(t, ok)
	assert.Equal(t, "005930.KS", got)

	// Name matching degrades to no-match, never an error.
	_, ok = r.Resolve(context.Background(), "삼성전자")
	assert.False(t, ok)
}

func TestUSEquityResolver(t *testing.T) {
	r := NewUSEquityResolver(newCache(t, "us", usEntries()), 80)
	ctx := context.Background()

	got, ok := r.Resolve(ctx, "$aapl")
	require.True(t, ok)
	assert.Equal(t, "AAPL", got)

	got, ok = r.Resolve(ctx, "tsla.us")
	require.True(t, ok)
	assert.Equal(t, "TSLA", got)

	got, ok = r.Resolve(ctx, "aapl")
	require.True(t, ok)
	assert.Equal(t, "AAPL", got)

	got, ok = r.Resolve(ctx, "apple")
	require.True(t, ok)
	assert.Equal(t, "AAPL", got)

	// Purely numeric tokens never belong to this market.
	_, ok = r.Resolve(ctx, "005930")
	assert.False(t, ok)
}

func TestCryptoResolver(t *testing.T) {
	r := NewCryptoResolver(newCache(t, "crypto", cryptoEntries()), 80)
	ctx := context.Background()

	got, ok := r.Resolve(ctx, "krw-btc")
	require.True(t, ok)
	assert.Equal(t, "KRW-BTC", got)

	got, ok = r.Resolve(ctx, "btc")
	require.True(t, ok)
	assert.Equal(t, "KRW-BTC", got)

	got, ok = r.Resolve(ctx, "bitcoin")
	require.True(t, ok)
	assert.Equal(t, "KRW-BTC", got)

	got, ok = r.Resolve(ctx, "비트코인")
	require.True(t, ok)
	assert.Equal(t, "KRW-BTC", got)

	_, ok = r.Resolve(ctx, "1234")
	assert.False(t, ok)
}

func newUniversal(t *testing.T) *UniversalResolver {
	t.Helper()
	krxSet := krxEntries()
	// Overlapping name so one token can match two markets.
	krxSet = append(krxSet, refdata.Entry{
		CanonicalID: "377300", PrimaryName: "Bitcoin Korea Holdings", AlternateName: "비트코인코리아",
	})
	return NewUniversalResolver(
		[]string{"krx", "us", "crypto"},
		zaptest.NewLogger(t),
		NewKRXResolver(newCache(t, "krx", krxSet), ".KS", 4, 6, 80),
		NewUSEquityResolver(newCache(t, "us", usEntries()), 80),
		NewCryptoResolver(newCache(t, "crypto", cryptoEntries()), 80),
	)
}

func TestUniversalResolveSingleMatch(t *testing.T) {
	u := newUniversal(t)

	m := u.Resolve(context.Background(), "005930")
	assert.Equal(t, 1, m.MatchCount())
	market, ok := u.PrimaryMarket(m)
	require.True(t, ok)
	assert.Equal(t, "krx", market)
	assert.Equal(t, "005930.KS", m["krx"])
}

func TestUniversalResolveAmbiguous(t *testing.T) {
	u := newUniversal(t)

	m := u.Resolve(context.Background(), "bitcoin")
	assert.Equal(t, 2, m.MatchCount())
	_, ok := u.PrimaryMarket(m)
	assert.False(t, ok)
	assert.Equal(t, []string{"krx", "crypto"}, u.MatchedMarkets(m),
		"matched markets must follow the configured priority order")
}

func TestUniversalResolveNoMatch(t *testing.T) {
	u := newUniversal(t)

	m := u.Resolve(context.Background(), "xyzzyqwerty")
	assert.Equal(t, 0, m.MatchCount())
	_, ok := u.PrimaryMarket(m)
	assert.False(t, ok)
	assert.Empty(t, u.MatchedMarkets(m))
}

func TestUniversalResolveIsDeterministic(t *testing.T) {
	u := newUniversal(t)
	ctx := context.Background()

	for _, token := range []string{"005930", "bitcoin", "apple", "nomatch"} {
		first := u.Resolve(ctx, token)
		second := u.Resolve(ctx, token)
		assert.Equal(t, first, second, token)
		assert.Equal(t, u.MatchedMarkets(first), u.MatchedMarkets(second), token)
	}
}

func TestSetFuzzyThresholdAppliesLive(t *testing.T) {
	krx := NewKRXResolver(newCache(t, "krx", krxEntries()), ".KS", 4, 6, 80)
	u := NewUniversalResolver([]string{"krx"}, zaptest.NewLogger(t), krx)
	ctx := context.Background()

	// "samsu" scores around 72 against "Samsung".
	_, ok := krx.Resolve(ctx, "samsu")
	require.False(t, ok)

	u.SetFuzzyThreshold(60)
	got, ok := krx.Resolve(ctx, "samsu")
	require.True(t, ok)
	assert.Equal(t, "005930.KS", got)

	u.SetFuzzyThreshold(80)
	_, ok = krx.Resolve(ctx, "samsu")
	assert.False(t, ok)
}

func TestSetMarketPriorityReordersMatches(t *testing.T) {
	u := newUniversal(t)

	m := u.Resolve(context.Background(), "bitcoin")
	require.Equal(t, []string{"krx", "crypto"}, u.MatchedMarkets(m))

	u.SetMarketPriority([]string{"crypto", "us", "krx"})
	assert.Equal(t, []string{"crypto", "krx"}, u.MatchedMarkets(m))
}

func TestExtractCandidates(t *testing.T) {
	tests := []struct {
		query    string
		contains []string
	}{
		{"what is the price of $AAPL today", []string{"$AAPL"}},
		{"005930 주가 알려줘", []string{"005930"}},
		{"show me the KRW-BTC orderbook", []string{"KRW-BTC"}},
		{"samsung electronics stock price", []string{"samsung", "samsung electronics"}},
		{"비트코인 시세", []string{"비트코인"}},
	}
	for _, tt := range tests {
		got := ExtractCandidates(tt.query, 5)
		assert.LessOrEqual(t, len(got), 5, tt.query)
		for _, want := range tt.contains {
			assert.Contains(t, got, want, tt.query)
		}
	}
}

func TestExtractCandidatesBounded(t *testing.T) {
	got := ExtractCandidates("alpha beta gamma delta epsilon zeta eta theta", 3)
	assert.Len(t, got, 3)

	assert.Empty(t, ExtractCandidates("", 5))
}

func TestSimilarityScale(t *testing.T) {
	assert.Equal(t, 100, similarity("Apple", "apple"))
	assert.Equal(t, 0, similarity("", "apple"))
	assert.Greater(t, similarity("samsng", "samsung"), 80)
	assert.Less(t, similarity("kakao", "samsung"), 50)

	assert.Equal(t, 100, nameSimilarity("apple", "Apple Inc."))
}
