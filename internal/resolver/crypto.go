package resolver

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/marketscope/dispatch/internal/refdata"
)

const marketCrypto = "crypto"

var cryptoPair = regexp.MustCompile(`^(?i:KRW)-([A-Za-z0-9]{2,10})$`)

// CryptoResolver resolves exchange trading pairs quoted in KRW. Canonical
// ids are full pair codes like "KRW-BTC".
type CryptoResolver struct {
	cache     *refdata.Cache
	threshold atomic.Int32
}

func NewCryptoResolver(cache *refdata.Cache, threshold int) *CryptoResolver {
	r := &CryptoResolver{cache: cache}
	r.threshold.Store(int32(threshold))
	return r
}

func (r *CryptoResolver) Market() string { return marketCrypto }

// SetThreshold retunes the approximate-name rule at runtime.
func (r *CryptoResolver) SetThreshold(threshold int) { r.threshold.Store(int32(threshold)) }

// Resolve applies, in order: the format rule (a KRW-XXX pair kept as is,
// upper-cased), an exact base-symbol match against listed pairs ("btc" to
// "KRW-BTC"), and an approximate match on coin names including Korean
// alternates.
func (r *CryptoResolver) Resolve(ctx context.Context, token string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" || isDigits(token) {
		return "", false
	}

	if cryptoPair.MatchString(token) {
		recordResolution(marketCrypto, ruleFormat, true)
		return strings.ToUpper(token), true
	}

	entries := r.cache.Entries(ctx)
	upper := strings.ToUpper(token)
	for _, e := range entries {
		if base, ok := strings.CutPrefix(e.CanonicalID, "KRW-"); ok && base == upper {
			recordResolution(marketCrypto, ruleExact, true)
			return e.CanonicalID, true
		}
	}

	if id, ok := bestNameMatch(entries, token, int(r.threshold.Load())); ok {
		recordResolution(marketCrypto, ruleApprox, true)
		return id, true
	}
	recordResolution(marketCrypto, ruleApprox, false)
	return "", false
}
