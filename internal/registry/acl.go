package registry

// AccessList is the tool-to-agent access table. It is populated once at
// startup from tool registrations and read-only afterwards, so lookups
// need no locking.
type AccessList struct {
	allowed map[string]map[string]struct{}
}

// NewAccessList creates an empty access list.
func NewAccessList() *AccessList {
	return &AccessList{allowed: make(map[string]map[string]struct{})}
}

// Grant allows the given agents to call the tool. An empty agent set
// grants nothing: tools are deny-by-default.
func (a *AccessList) Grant(toolName string, agentIDs ...string) {
	set, ok := a.allowed[toolName]
	if !ok {
		set = make(map[string]struct{}, len(agentIDs))
		a.allowed[toolName] = set
	}
	for _, id := range agentIDs {
		set[id] = struct{}{}
	}
}

// CanCall reports whether the agent may invoke the tool. Unknown tools and
// unknown agents are both denied.
func (a *AccessList) CanCall(agentID, toolName string) bool {
	set, ok := a.allowed[toolName]
	if !ok {
		return false
	}
	_, ok = set[agentID]
	return ok
}

// Agents returns the agents granted access to the tool.
func (a *AccessList) Agents(toolName string) []string {
	set := a.allowed[toolName]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
