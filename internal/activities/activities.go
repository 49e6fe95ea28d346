package activities

import (
	"go.uber.org/zap"

	"github.com/marketscope/dispatch/internal/agents"
	"github.com/marketscope/dispatch/internal/db"
	"github.com/marketscope/dispatch/internal/oracle"
	"github.com/marketscope/dispatch/internal/registry"
	"github.com/marketscope/dispatch/internal/resolver"
	"github.com/marketscope/dispatch/internal/session"
	"github.com/marketscope/dispatch/internal/streaming"
)

// MarketBinding names the agent serving a market and the label used for
// that market's section in composite results.
type MarketBinding struct {
	AgentID     string
	DisplayName string
}

// Deps carries everything the activities need. Persistence, session and
// streaming are optional: a nil dependency turns the matching activity
// into a no-op so the workflow never fails on missing infrastructure.
type Deps struct {
	Resolver       *resolver.UniversalResolver
	Oracle         *oracle.Client
	Agents         map[string]agents.Agent
	AgentRegistry  *registry.AgentRegistry
	MarketBindings map[string]MarketBinding
	DB             *db.Client
	Sessions       *session.Manager
	Events         *streaming.Manager
	Logger         *zap.Logger
}

// Activities is the receiver registered with the Temporal worker.
type Activities struct {
	deps Deps
}

// NewActivities creates the activity set.
func NewActivities(deps Deps) *Activities {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Activities{deps: deps}
}

// binding returns the market's agent binding, with a conventional
// fallback for markets configured without one.
func (a *Activities) binding(market string) MarketBinding {
	if b, ok := a.deps.MarketBindings[market]; ok {
		return b
	}
	return MarketBinding{AgentID: market + "-agent", DisplayName: market}
}
