package workflows

import (
	"time"

	"github.com/marketscope/dispatch/internal/activities"
	"github.com/marketscope/dispatch/internal/agents"
)

// Dispatch states, exposed through the dispatch-state query handler.
const (
	StateReceived             = "RECEIVED"
	StateClassified           = "CLASSIFIED"
	StatePlanConfirmed        = "PLAN_CONFIRMED"
	StateAwaitingConfirmation = "AWAITING_CONFIRMATION"
	StateExecuting            = "EXECUTING"
	StateSynthesized          = "SYNTHESIZED"
	StateDone                 = "DONE"
	StateFailed               = "FAILED"
)

// How the plan was decided.
const (
	RouteDeterministic = "deterministic" // one market matched, no oracle
	RouteAmbiguous     = "ambiguous"     // several markets matched, oracle bypassed
	RouteOracle        = "oracle"        // classification oracle decided
)

// Workflow query and signal names.
const (
	QueryDispatchState     = "dispatch-state"
	SignalPlanConfirmation = "plan-confirmation"
)

// DispatchInput starts one dispatch.
type DispatchInput struct {
	Query         string `json:"query"`
	SessionID     string `json:"session_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	MaxCandidates int    `json:"max_candidates,omitempty"`

	// ConfirmationTimeout bounds the wait for plan confirmation
	// (default 5m). AgentTimeout bounds each agent execution
	// (default 30s).
	ConfirmationTimeout time.Duration `json:"confirmation_timeout,omitempty"`
	AgentTimeout        time.Duration `json:"agent_timeout,omitempty"`
}

// PlanConfirmation is the payload of the plan-confirmation signal.
type PlanConfirmation struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// StateSnapshot answers the dispatch-state query.
type StateSnapshot struct {
	State    string   `json:"state"`
	Route    string   `json:"route,omitempty"`
	PlanSize int      `json:"plan_size"`
	Markets  []string `json:"markets,omitempty"`
}

// Plan is the committed execution plan.
type Plan struct {
	Route                string           `json:"route"`
	Steps                []agents.SubTask `json:"steps"`
	Markets              []string         `json:"markets,omitempty"`
	RequiresConfirmation bool             `json:"requires_confirmation"`
}

// DispatchResult is the composite answer returned to the caller.
type DispatchResult struct {
	Query          string               `json:"query"`
	Route          string               `json:"route,omitempty"`
	State          string               `json:"state"`
	Sections       []activities.Section `json:"sections,omitempty"`
	OverallSuccess bool                 `json:"overall_success"`
	Summary        string               `json:"summary,omitempty"`
	Clarification  string               `json:"clarification,omitempty"`
	Markets        []string             `json:"markets,omitempty"`
}
