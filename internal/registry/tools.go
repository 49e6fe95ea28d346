package registry

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/marketscope/dispatch/internal/metrics"
	"github.com/marketscope/dispatch/internal/tools"
)

var (
	// ErrAccessDenied is returned when an agent requests a tool outside
	// its declared scope. This is a configuration error: callers must
	// surface it, never swallow it.
	ErrAccessDenied = errors.New("tool access denied")

	// ErrToolNotFound is returned for lookups of unregistered tools.
	ErrToolNotFound = errors.New("tool not found")
)

// ToolMetadata describes one registered tool.
type ToolMetadata struct {
	Name          string
	Description   string
	InputSchema   map[string]string
	Handler       tools.Handler
	AllowedAgents []string
}

// ToolRegistry is the process-wide tool table. It is populated during
// startup and read-only afterwards; every Get is access-checked against
// the access list, per call, never cached per agent.
type ToolRegistry struct {
	tools  map[string]ToolMetadata
	acl    *AccessList
	logger *zap.Logger
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry(logger *zap.Logger) *ToolRegistry {
	return &ToolRegistry{
		tools:  make(map[string]ToolMetadata),
		acl:    NewAccessList(),
		logger: logger,
	}
}

// Register adds a tool. Duplicate names, missing handlers and empty allow
// lists fail fast: all three are startup configuration mistakes.
func (r *ToolRegistry) Register(meta ToolMetadata) error {
	if meta.Name == "" {
		return errors.New("tool name is required")
	}
	if meta.Handler == nil {
		return fmt.Errorf("tool %q has no handler", meta.Name)
	}
	if len(meta.AllowedAgents) == 0 {
		return fmt.Errorf("tool %q allows no agents", meta.Name)
	}
	if _, dup := r.tools[meta.Name]; dup {
		return fmt.Errorf("tool %q already registered", meta.Name)
	}
	r.tools[meta.Name] = meta
	r.acl.Grant(meta.Name, meta.AllowedAgents...)
	r.logger.Info("Tool registered",
		zap.String("tool", meta.Name),
		zap.Strings("allowed_agents", meta.AllowedAgents),
	)
	return nil
}

// Get returns the tool handler after checking that the calling agent is
// allowed to invoke it. This is the sole ACL enforcement point.
func (r *ToolRegistry) Get(name, callerAgentID string) (tools.Handler, error) {
	meta, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if !r.acl.CanCall(callerAgentID, name) {
		metrics.ToolAccessDenied.WithLabelValues(name, callerAgentID).Inc()
		r.logger.Warn("Tool access denied",
			zap.String("tool", name),
			zap.String("agent_id", callerAgentID),
		)
		return nil, fmt.Errorf("%w: agent %q may not call %q", ErrAccessDenied, callerAgentID, name)
	}
	return meta.Handler, nil
}

// Metadata returns the registration record for a tool.
func (r *ToolRegistry) Metadata(name string) (ToolMetadata, bool) {
	meta, ok := r.tools[name]
	return meta, ok
}

// Names returns all registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AccessList exposes the access table for independent testing.
func (r *ToolRegistry) AccessList() *AccessList { return r.acl }
