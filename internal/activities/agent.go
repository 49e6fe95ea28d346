package activities

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/marketscope/dispatch/internal/agents"
)

// ExecuteAgent runs one plan step through its target agent. Tool-level
// failures come back inside the result; an error here means the plan
// referenced an unknown agent or the agent hit a configuration fault such
// as an access-list violation, both of which must fail the dispatch.
func (a *Activities) ExecuteAgent(ctx context.Context, in AgentExecutionInput) (agents.AgentResult, error) {
	agent, ok := a.deps.Agents[in.Task.TargetAgentID]
	if !ok {
		return agents.AgentResult{}, fmt.Errorf("unknown agent %q", in.Task.TargetAgentID)
	}

	result, err := agent.Execute(ctx, in.Task)
	if err != nil {
		a.deps.Logger.Error("Agent execution aborted",
			zap.String("workflow_id", in.WorkflowID),
			zap.String("agent_id", in.Task.TargetAgentID),
			zap.Error(err),
		)
		return agents.AgentResult{}, err
	}
	return result, nil
}
