package activities

import (
	"time"

	"github.com/marketscope/dispatch/internal/agents"
	"github.com/marketscope/dispatch/internal/oracle"
)

// ResolveInput asks for candidate extraction plus universal resolution of
// a raw query.
type ResolveInput struct {
	Query         string `json:"query"`
	MaxCandidates int    `json:"max_candidates,omitempty"`
}

// MarketMatch is one market that resolved the winning token, carrying
// everything the workflow needs to build a plan step for it.
type MarketMatch struct {
	Market      string `json:"market"`
	DisplayName string `json:"display_name"`
	CanonicalID string `json:"canonical_id"`
	AgentID     string `json:"agent_id"`
}

// ResolveResult reports the winning token and its matches, in stable
// market-priority order. MatchCount 0 means no candidate resolved
// anywhere.
type ResolveResult struct {
	Token      string        `json:"token,omitempty"`
	Candidates []string      `json:"candidates,omitempty"`
	Matches    []MarketMatch `json:"matches,omitempty"`
	MatchCount int           `json:"match_count"`
}

// ClassifyInput asks the external oracle to route a query the resolver
// could not.
type ClassifyInput struct {
	Query string `json:"query"`
}

// ClassifyResult mirrors the oracle's decision.
type ClassifyResult struct {
	Decision string            `json:"decision"`
	AgentID  string            `json:"agent_id,omitempty"`
	Steps    []oracle.PlanStep `json:"steps,omitempty"`
}

// AgentExecutionInput carries one plan step to its agent.
type AgentExecutionInput struct {
	WorkflowID string         `json:"workflow_id"`
	Task       agents.SubTask `json:"task"`
}

// SynthesisInput merges per-step results into the composite answer.
// Tasks and Results are index-aligned with the plan.
type SynthesisInput struct {
	Query        string               `json:"query"`
	Tasks        []agents.SubTask     `json:"tasks"`
	Results      []agents.AgentResult `json:"results"`
	MarketLabels map[string]string    `json:"market_labels,omitempty"`
}

// Section is one labeled part of the composite result.
type Section struct {
	MarketLabel    string                 `json:"market_label"`
	AgentID        string                 `json:"agent_id"`
	Message        string                 `json:"message"`
	StructuredData map[string]interface{} `json:"structured_data,omitempty"`
	Success        bool                   `json:"success"`
	Quality        string                 `json:"quality"`
}

// SynthesisResult is the merged composite.
type SynthesisResult struct {
	Sections       []Section `json:"sections"`
	OverallSuccess bool      `json:"overall_success"`
	Summary        string    `json:"summary"`
}

// PersistDispatchInput writes the dispatch record and its tool calls.
type PersistDispatchInput struct {
	WorkflowID     string     `json:"workflow_id"`
	SessionID      string     `json:"session_id,omitempty"`
	Query          string     `json:"query"`
	Route          string     `json:"route"`
	Status         string     `json:"status"`
	MatchedMarkets []string   `json:"matched_markets,omitempty"`
	PlanSize       int        `json:"plan_size"`
	OverallSuccess bool       `json:"overall_success"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	ToolCalls []ToolInvocation `json:"tool_calls,omitempty"`
}

// ToolInvocation is one tool call made while serving the dispatch.
type ToolInvocation struct {
	AgentID string `json:"agent_id"`
	Tool    string `json:"tool"`
	Symbol  string `json:"symbol,omitempty"`
	Success bool   `json:"success"`
}

// RecordSessionDispatchInput appends the dispatch outcome to the session.
type RecordSessionDispatchInput struct {
	SessionID string   `json:"session_id"`
	Query     string   `json:"query"`
	Markets   []string `json:"markets,omitempty"`
	Success   bool     `json:"success"`
}

// EmitDispatchEventInput publishes a lifecycle event to stream
// subscribers.
type EmitDispatchEventInput struct {
	WorkflowID string `json:"workflow_id"`
	Type       string `json:"type"`
	AgentID    string `json:"agent_id,omitempty"`
	Market     string `json:"market,omitempty"`
	Message    string `json:"message,omitempty"`
}
