package constants

// Activity names used for worker registration and workflow execution.
// Using constants eliminates magic strings and ensures consistency.
const (
	// Classification pipeline
	ResolveQueryActivity  = "ResolveQuery"
	ClassifyQueryActivity = "ClassifyQuery"

	// Execution
	ExecuteAgentActivity      = "ExecuteAgent"
	SynthesizeResultsActivity = "SynthesizeResults"

	// Post-dispatch bookkeeping
	PersistDispatchActivity       = "PersistDispatch"
	RecordSessionDispatchActivity = "RecordSessionDispatch"
	EmitDispatchEventActivity     = "EmitDispatchEvent"
)
