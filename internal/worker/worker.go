// Package worker registers the dispatch workflow and its activities on a
// Temporal worker under stable names, so callers and history replays are
// insulated from Go identifier changes.
package worker

import (
	"go.temporal.io/sdk/activity"
	sdkworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/marketscope/dispatch/internal/activities"
	"github.com/marketscope/dispatch/internal/constants"
	"github.com/marketscope/dispatch/internal/workflows"
)

// TaskQueue is the queue both the worker and the HTTP gateway use.
const TaskQueue = "market-dispatch"

// RegisterAll wires the workflow and every named activity onto w.
func RegisterAll(w sdkworker.Worker, acts *activities.Activities) {
	w.RegisterWorkflowWithOptions(workflows.DispatchWorkflow, workflow.RegisterOptions{
		Name: "DispatchWorkflow",
	})

	w.RegisterActivityWithOptions(acts.ResolveQuery,
		activity.RegisterOptions{Name: constants.ResolveQueryActivity})
	w.RegisterActivityWithOptions(acts.ClassifyQuery,
		activity.RegisterOptions{Name: constants.ClassifyQueryActivity})
	w.RegisterActivityWithOptions(acts.ExecuteAgent,
		activity.RegisterOptions{Name: constants.ExecuteAgentActivity})
	w.RegisterActivityWithOptions(acts.SynthesizeResults,
		activity.RegisterOptions{Name: constants.SynthesizeResultsActivity})
	w.RegisterActivityWithOptions(acts.PersistDispatch,
		activity.RegisterOptions{Name: constants.PersistDispatchActivity})
	w.RegisterActivityWithOptions(acts.RecordSessionDispatch,
		activity.RegisterOptions{Name: constants.RecordSessionDispatchActivity})
	w.RegisterActivityWithOptions(acts.EmitDispatchEvent,
		activity.RegisterOptions{Name: constants.EmitDispatchEventActivity})
}
