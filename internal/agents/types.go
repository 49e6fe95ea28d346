package agents

import "context"

// SubTask is one step of an execution plan, bound to exactly one agent.
// Instances are read-only once the plan is built: agents receive them and
// report results, nothing mutates them afterwards.
type SubTask struct {
	StepIndex     int    `json:"step_index"`
	Description   string `json:"description"`
	TargetAgentID string `json:"target_agent_id"`
	ToolHint      string `json:"tool_hint,omitempty"`
	Market        string `json:"market"`
	CanonicalID   string `json:"canonical_id,omitempty"`
}

// Quality grades an agent execution.
type Quality string

const (
	QualityPass    Quality = "pass"    // every selected tool succeeded
	QualityPartial Quality = "partial" // some tools failed, data still returned
	QualityFail    Quality = "fail"    // every selected tool failed
)

// ToolCall records one tool invocation made while executing a SubTask.
type ToolCall struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
}

// AgentResult is the outcome of executing one SubTask.
type AgentResult struct {
	AgentID        string                 `json:"agent_id"`
	Success        bool                   `json:"success"`
	Quality        Quality                `json:"quality"`
	Message        string                 `json:"message"`
	StructuredData map[string]interface{} `json:"structured_data,omitempty"`
	ToolCalls      []ToolCall             `json:"tool_calls,omitempty"`
}

// Agent executes plan steps for one market. Tool failures are reported
// through the result's quality, never as an error; the error return is
// reserved for configuration faults such as an access-list violation,
// which must surface rather than degrade.
type Agent interface {
	ID() string
	SelectTools(sub SubTask) []string
	Execute(ctx context.Context, sub SubTask) (AgentResult, error)
}
