package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/marketscope/dispatch/internal/resolver"
)

// ResolveQuery extracts candidate tokens from the query and runs the
// universal resolver over them. An ambiguous token (more than one market)
// wins over a single-market token: ambiguity is resolved by asking all
// matching markets, so it must be detected whenever any candidate shows
// it.
func (a *Activities) ResolveQuery(ctx context.Context, in ResolveInput) (ResolveResult, error) {
	candidates := resolver.ExtractCandidates(in.Query, in.MaxCandidates)
	result := ResolveResult{Candidates: candidates}

	var (
		singleToken   string
		singleMarkets []string
		singleRes     map[string]string
	)
	for _, token := range candidates {
		res := a.deps.Resolver.Resolve(ctx, token)
		switch {
		case res.MatchCount() > 1:
			result.Token = token
			result.MatchCount = res.MatchCount()
			result.Matches = a.matches(a.deps.Resolver.MatchedMarkets(res), res)
			a.deps.Logger.Info("Query resolved ambiguously",
				zap.String("token", token),
				zap.Int("markets", res.MatchCount()),
			)
			return result, nil
		case res.MatchCount() == 1 && singleToken == "":
			singleToken = token
			singleMarkets = a.deps.Resolver.MatchedMarkets(res)
			singleRes = res
		}
	}

	if singleToken != "" {
		result.Token = singleToken
		result.MatchCount = 1
		result.Matches = a.matches(singleMarkets, singleRes)
	}
	return result, nil
}

func (a *Activities) matches(markets []string, res map[string]string) []MarketMatch {
	out := make([]MarketMatch, 0, len(markets))
	for _, market := range markets {
		b := a.binding(market)
		out = append(out, MarketMatch{
			Market:      market,
			DisplayName: b.DisplayName,
			CanonicalID: res[market],
			AgentID:     b.AgentID,
		})
	}
	return out
}
