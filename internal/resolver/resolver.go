package resolver

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/marketscope/dispatch/internal/metrics"
)

// Resolution rules, used as metric labels and for logging.
const (
	ruleFormat  = "format"
	ruleNumeric = "numeric"
	ruleExact   = "exact"
	ruleApprox  = "approx"
)

// MarketResolver maps a raw token to the market's canonical instrument id.
// Implementations apply their rules in a fixed order (format, numeric or
// exact, approximate name) and short-circuit on the first hit.
type MarketResolver interface {
	Market() string
	Resolve(ctx context.Context, token string) (string, bool)
}

// ResolutionMap is the per-token output of universal resolution: market
// name to canonical id. An absent market means "no match". The map is
// built fresh per call and never mutated afterwards.
type ResolutionMap map[string]string

// MatchCount returns the number of markets that resolved the token.
func (m ResolutionMap) MatchCount() int { return len(m) }

// UniversalResolver fans a token out to every registered market resolver.
// Resolvers are independent: none sees another's result, so the map is the
// same regardless of iteration order.
type UniversalResolver struct {
	resolvers []MarketResolver
	logger    *zap.Logger

	mu       sync.RWMutex
	priority []string
}

// NewUniversalResolver builds a resolver over the given market resolvers.
// priority fixes the ordering of MatchedMarkets; markets missing from the
// list sort after listed ones, alphabetically.
func NewUniversalResolver(priority []string, logger *zap.Logger, resolvers ...MarketResolver) *UniversalResolver {
	return &UniversalResolver{
		resolvers: resolvers,
		priority:  priority,
		logger:    logger,
	}
}

// SetMarketPriority replaces the ordering MatchedMarkets uses, for
// configuration reloads.
func (u *UniversalResolver) SetMarketPriority(priority []string) {
	u.mu.Lock()
	u.priority = append([]string(nil), priority...)
	u.mu.Unlock()
}

// SetFuzzyThreshold fans a new approximate-match threshold out to every
// market resolver that supports runtime tuning.
func (u *UniversalResolver) SetFuzzyThreshold(threshold int) {
	for _, r := range u.resolvers {
		if s, ok := r.(interface{ SetThreshold(int) }); ok {
			s.SetThreshold(threshold)
		}
	}
}

// Resolve runs every market resolver against the token and assembles the
// resolution map.
func (u *UniversalResolver) Resolve(ctx context.Context, token string) ResolutionMap {
	start := time.Now()
	out := make(ResolutionMap, len(u.resolvers))
	for _, r := range u.resolvers {
		if id, ok := r.Resolve(ctx, token); ok {
			out[r.Market()] = id
		}
	}
	metrics.ResolutionLatency.Observe(time.Since(start).Seconds())

	if len(out) > 1 {
		u.logger.Debug("Token resolved ambiguously",
			zap.String("token", token),
			zap.Int("markets", len(out)),
		)
	}
	return out
}

// PrimaryMarket returns the single matched market when exactly one market
// resolved the token.
func (u *UniversalResolver) PrimaryMarket(m ResolutionMap) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	for market := range m {
		return market, true
	}
	return "", false
}

// MatchedMarkets returns the matched markets in the configured priority
// order, so multi-dispatch plans built from the same input are identical
// across calls.
func (u *UniversalResolver) MatchedMarkets(m ResolutionMap) []string {
	out := make([]string, 0, len(m))
	for market := range m {
		out = append(out, market)
	}
	u.mu.RLock()
	rank := make(map[string]int, len(u.priority))
	for i, market := range u.priority {
		rank[market] = i
	}
	u.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		ri, iOK := rank[out[i]]
		rj, jOK := rank[out[j]]
		switch {
		case iOK && jOK:
			return ri < rj
		case iOK:
			return true
		case jOK:
			return false
		default:
			return out[i] < out[j]
		}
	})
	return out
}

var (
	prefixedToken  = regexp.MustCompile(`\$[A-Za-z][A-Za-z0-9]{0,9}`)
	qualifiedToken = regexp.MustCompile(`[A-Za-z0-9]+[.-][A-Za-z0-9]+`)
	digitRun       = regexp.MustCompile(`\d{3,8}`)
	tickerShaped   = regexp.MustCompile(`^[A-Z]{1,5}$`)
)

// Stopwords are intent vocabulary, not instrument candidates.
var queryStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "for": {}, "and": {}, "to": {},
	"is": {}, "what": {}, "whats": {}, "how": {}, "much": {}, "show": {},
	"me": {}, "get": {}, "give": {}, "tell": {}, "about": {}, "please": {},
	"price": {}, "quote": {}, "chart": {}, "news": {}, "today": {},
	"stock": {}, "share": {}, "shares": {}, "orderbook": {},
	"주가": {}, "시세": {}, "가격": {}, "차트": {}, "뉴스": {}, "호가": {},
	"알려줘": {}, "보여줘": {}, "얼마": {}, "얼마야": {}, "오늘": {}, "주식": {},
}

// ExtractCandidates pulls a bounded set of high-likelihood instrument
// tokens from a free-form query: explicitly qualified tokens first
// ($-prefixed, suffix/pair-qualified), then digit runs, ticker-shaped
// words, remaining significant words, and adjacent-word bigrams for
// multi-word company names. Order within the set reflects likelihood.
func ExtractCandidates(query string, max int) []string {
	if max <= 0 {
		max = 5
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(tok string) {
		tok = strings.TrimSpace(tok)
		if tok == "" || len(out) >= max {
			return
		}
		key := strings.ToLower(tok)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, tok)
	}

	for _, tok := range prefixedToken.FindAllString(query, -1) {
		add(tok)
	}
	for _, tok := range qualifiedToken.FindAllString(query, -1) {
		add(tok)
	}
	for _, tok := range digitRun.FindAllString(query, -1) {
		add(tok)
	}

	words := splitWords(query)
	for _, w := range words {
		if tickerShaped.MatchString(w) {
			add(w)
		}
	}

	var significant []string
	for _, w := range words {
		if _, stop := queryStopwords[strings.ToLower(w)]; stop {
			continue
		}
		if len([]rune(w)) < 2 {
			continue
		}
		significant = append(significant, w)
	}
	for _, w := range significant {
		add(w)
	}
	for i := 0; i+1 < len(significant); i++ {
		add(significant[i] + " " + significant[i+1])
	}
	return out
}

// splitWords breaks the query on anything that is not a letter or digit,
// keeping Korean and other non-ASCII letters intact.
func splitWords(query string) []string {
	return strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func recordResolution(market, rule string, matched bool) {
	outcome := "match"
	if !matched {
		outcome = "none"
	}
	metrics.ResolutionsTotal.WithLabelValues(market, rule, outcome).Inc()
}
