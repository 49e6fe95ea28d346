package registry

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// AgentMetadata describes one registered agent.
type AgentMetadata struct {
	Name               string
	DisplayName        string
	Description        string
	CapabilityKeywords []string
	AllowedTools       []string
	Priority           int
}

// RoutingInfo is the subset of agent metadata exposed to the
// classification oracle: enough to route, no handlers.
type RoutingInfo struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
}

// AgentRegistry is the process-wide agent table, populated at startup and
// read-only afterwards.
type AgentRegistry struct {
	agents map[string]AgentMetadata
	logger *zap.Logger
}

// NewAgentRegistry creates an empty agent registry.
func NewAgentRegistry(logger *zap.Logger) *AgentRegistry {
	return &AgentRegistry{
		agents: make(map[string]AgentMetadata),
		logger: logger,
	}
}

// Register adds an agent, failing fast on duplicates.
func (r *AgentRegistry) Register(meta AgentMetadata) error {
	if meta.Name == "" {
		return errors.New("agent name is required")
	}
	if _, dup := r.agents[meta.Name]; dup {
		return fmt.Errorf("agent %q already registered", meta.Name)
	}
	r.agents[meta.Name] = meta
	r.logger.Info("Agent registered",
		zap.String("agent_id", meta.Name),
		zap.Strings("allowed_tools", meta.AllowedTools),
		zap.Int("priority", meta.Priority),
	)
	return nil
}

// Get returns an agent's registration record.
func (r *AgentRegistry) Get(name string) (AgentMetadata, bool) {
	meta, ok := r.agents[name]
	return meta, ok
}

// AgentsForRouting returns routing metadata for every agent, highest
// priority first, name as the tie-break so the listing is stable.
func (r *AgentRegistry) AgentsForRouting() []RoutingInfo {
	metas := make([]AgentMetadata, 0, len(r.agents))
	for _, meta := range r.agents {
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].Priority != metas[j].Priority {
			return metas[i].Priority > metas[j].Priority
		}
		return metas[i].Name < metas[j].Name
	})

	out := make([]RoutingInfo, len(metas))
	for i, meta := range metas {
		out[i] = RoutingInfo{
			Name:         meta.Name,
			Description:  meta.Description,
			Capabilities: meta.CapabilityKeywords,
		}
	}
	return out
}

// Validate cross-checks agents against the tool registry: every allowed
// tool must exist and must list the agent back. Run once after all
// registrations; a failure here is a startup configuration error.
func (r *AgentRegistry) Validate(tools *ToolRegistry) error {
	for name, agent := range r.agents {
		for _, toolName := range agent.AllowedTools {
			if _, ok := tools.Metadata(toolName); !ok {
				return fmt.Errorf("agent %q allows unknown tool %q", name, toolName)
			}
			if !tools.AccessList().CanCall(name, toolName) {
				return fmt.Errorf("agent %q allows tool %q but the tool does not allow the agent", name, toolName)
			}
		}
	}
	return nil
}
