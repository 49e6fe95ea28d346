package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/marketscope/dispatch/internal/oracle"
)

// ClassifyQuery asks the external oracle to route a query the resolver
// could not. The oracle only ever sees the registered agents' routing
// metadata, and any decision naming an unregistered agent is degraded to
// insufficient rather than trusted.
func (a *Activities) ClassifyQuery(ctx context.Context, in ClassifyInput) (ClassifyResult, error) {
	routing := a.deps.AgentRegistry.AgentsForRouting()
	resp := a.deps.Oracle.Classify(ctx, in.Query, routing)

	if !a.decisionIsActionable(resp) {
		a.deps.Logger.Warn("Oracle decision references unknown agent, degrading to insufficient",
			zap.String("decision", resp.Decision),
			zap.String("agent_id", resp.AgentID),
		)
		resp = oracle.Response{Decision: oracle.DecisionInsufficient}
	}

	return ClassifyResult{
		Decision: resp.Decision,
		AgentID:  resp.AgentID,
		Steps:    resp.Steps,
	}, nil
}

func (a *Activities) decisionIsActionable(resp oracle.Response) bool {
	switch resp.Decision {
	case oracle.DecisionSingle:
		_, ok := a.deps.AgentRegistry.Get(resp.AgentID)
		return ok
	case oracle.DecisionPlan:
		for _, step := range resp.Steps {
			if _, ok := a.deps.AgentRegistry.Get(step.AgentID); !ok {
				return false
			}
		}
		return true
	default:
		return true
	}
}
