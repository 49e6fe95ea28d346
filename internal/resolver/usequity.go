package resolver

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/marketscope/dispatch/internal/refdata"
)

const marketUS = "us"

var (
	usDollarPrefixed = regexp.MustCompile(`^\$([A-Za-z]{1,5})$`)
	usSuffixed       = regexp.MustCompile(`^([A-Za-z]{1,5})\.(?i:US)$`)
)

// USEquityResolver resolves US equity tickers. Canonical ids are bare
// upper-case tickers; purely numeric tokens never match this market.
type USEquityResolver struct {
	cache     *refdata.Cache
	threshold atomic.Int32
}

func NewUSEquityResolver(cache *refdata.Cache, threshold int) *USEquityResolver {
	r := &USEquityResolver{cache: cache}
	r.threshold.Store(int32(threshold))
	return r
}

func (r *USEquityResolver) Market() string { return marketUS }

// SetThreshold retunes the approximate-name rule at runtime.
func (r *USEquityResolver) SetThreshold(threshold int) { r.threshold.Store(int32(threshold)) }

// Resolve applies, in order: the format rule ($TICK prefix or TICK.US
// suffix, normalized to the bare upper ticker), an exact case-insensitive
// symbol match against the reference set, and an approximate match on
// company names.
func (r *USEquityResolver) Resolve(ctx context.Context, token string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" || isDigits(token) {
		return "", false
	}

	if m := usDollarPrefixed.FindStringSubmatch(token); m != nil {
		recordResolution(marketUS, ruleFormat, true)
		return strings.ToUpper(m[1]), true
	}
	if m := usSuffixed.FindStringSubmatch(token); m != nil {
		recordResolution(marketUS, ruleFormat, true)
		return strings.ToUpper(m[1]), true
	}

	entries := r.cache.Entries(ctx)
	upper := strings.ToUpper(token)
	for _, e := range entries {
		if strings.ToUpper(e.CanonicalID) == upper {
			recordResolution(marketUS, ruleExact, true)
			return e.CanonicalID, true
		}
	}

	if id, ok := bestNameMatch(entries, token, int(r.threshold.Load())); ok {
		recordResolution(marketUS, ruleApprox, true)
		return id, true
	}
	recordResolution(marketUS, ruleApprox, false)
	return "", false
}
