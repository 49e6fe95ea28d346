package resolver

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/marketscope/dispatch/internal/refdata"
)

const marketKRX = "krx"

var krxQualified = regexp.MustCompile(`^(\d{4,6})\.(?i:(KS|KQ))$`)

// KRXResolver resolves Korean exchange listings. Listing codes are purely
// numeric; the canonical id carries a board qualifier suffix (".KS" for
// KOSPI, ".KQ" for KOSDAQ).
type KRXResolver struct {
	cache     *refdata.Cache
	qualifier string
	minDigits int
	maxDigits int
	threshold atomic.Int32
}

// NewKRXResolver builds the Korean market resolver. qualifier is the
// default board suffix applied to bare numeric codes.
func NewKRXResolver(cache *refdata.Cache, qualifier string, minDigits, maxDigits, threshold int) *KRXResolver {
	if qualifier == "" {
		qualifier = ".KS"
	}
	if minDigits == 0 {
		minDigits = 4
	}
	if maxDigits == 0 {
		maxDigits = 6
	}
	r := &KRXResolver{
		cache:     cache,
		qualifier: qualifier,
		minDigits: minDigits,
		maxDigits: maxDigits,
	}
	r.threshold.Store(int32(threshold))
	return r
}

func (r *KRXResolver) Market() string { return marketKRX }

// SetThreshold retunes the approximate-name rule at runtime.
func (r *KRXResolver) SetThreshold(threshold int) { r.threshold.Store(int32(threshold)) }

// Resolve applies, in order: the format rule (already-qualified code,
// normalized to an upper-case suffix), the numeric-code rule (bare code of
// valid length gets the default qualifier, no lookup), and an approximate
// match against listing names. An empty reference snapshot degrades the
// approximate step to no-match.
func (r *KRXResolver) Resolve(ctx context.Context, token string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}

	if m := krxQualified.FindStringSubmatch(token); m != nil {
		recordResolution(marketKRX, ruleFormat, true)
		return m[1] + "." + strings.ToUpper(m[2]), true
	}

	if isDigits(token) && len(token) >= r.minDigits && len(token) <= r.maxDigits {
		recordResolution(marketKRX, ruleNumeric, true)
		return token + r.qualifier, true
	}

	if id, ok := bestNameMatch(r.cache.Entries(ctx), token, int(r.threshold.Load())); ok {
		recordResolution(marketKRX, ruleApprox, true)
		return r.ensureQualifier(id), true
	}
	recordResolution(marketKRX, ruleApprox, false)
	return "", false
}

// ensureQualifier appends the default board suffix to listing codes stored
// bare in the reference set.
func (r *KRXResolver) ensureQualifier(code string) string {
	if strings.Contains(code, ".") {
		return code
	}
	return code + r.qualifier
}
