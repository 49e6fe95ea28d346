package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/marketscope/dispatch/internal/activities"
	"github.com/marketscope/dispatch/internal/agents"
	"github.com/marketscope/dispatch/internal/constants"
	"github.com/marketscope/dispatch/internal/oracle"
	"github.com/marketscope/dispatch/internal/streaming"
)

// DispatchWorkflow routes a free-form market query to the agents that can
// answer it and merges their results into one composite answer.
//
// RECEIVED -> CLASSIFIED -> {PLAN_CONFIRMED | AWAITING_CONFIRMATION} ->
// EXECUTING -> SYNTHESIZED -> DONE, with FAILED terminal. A token that
// resolves in more than one market skips the classification oracle: the
// plan is one step per matched market, in the resolver's stable priority
// order, and needs no confirmation. Only oracle-proposed multi-step plans
// wait for the plan-confirmation signal.
func DispatchWorkflow(ctx workflow.Context, input DispatchInput) (DispatchResult, error) {
	logger := workflow.GetLogger(ctx)
	workflowID := workflow.GetInfo(ctx).WorkflowExecution.ID
	startedAt := workflow.Now(ctx)

	snapshot := StateSnapshot{State: StateReceived}
	if err := workflow.SetQueryHandler(ctx, QueryDispatchState, func() (StateSnapshot, error) {
		return snapshot, nil
	}); err != nil {
		return DispatchResult{State: StateFailed}, err
	}

	logger.Info("Dispatch received",
		"query", input.Query,
		"session_id", input.SessionID,
	)
	emitEvent(ctx, workflowID, activities.EmitDispatchEventInput{
		Type: streaming.EventDispatchStarted, Message: input.Query,
	})

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	// Classification: resolver first, oracle only when nothing resolved.
	var res activities.ResolveResult
	if err := workflow.ExecuteActivity(ctx, constants.ResolveQueryActivity, activities.ResolveInput{
		Query:         input.Query,
		MaxCandidates: input.MaxCandidates,
	}).Get(ctx, &res); err != nil {
		snapshot.State = StateFailed
		return failDispatch(ctx, workflowID, input, startedAt, "", err)
	}

	plan, clarification, err := buildPlan(ctx, input, res)
	if err != nil {
		snapshot.State = StateFailed
		return failDispatch(ctx, workflowID, input, startedAt, "", err)
	}
	snapshot.State = StateClassified
	snapshot.Route = plan.Route
	snapshot.PlanSize = len(plan.Steps)
	snapshot.Markets = plan.Markets

	if clarification != "" {
		// Nothing resolvable and the oracle could not route it either.
		snapshot.State = StateDone
		result := DispatchResult{
			Query:         input.Query,
			Route:         plan.Route,
			State:         StateDone,
			Clarification: clarification,
		}
		finishDispatch(ctx, workflowID, input, startedAt, plan, result, nil)
		return result, nil
	}

	// Confirmation gate: deterministic plans are pre-confirmed, oracle
	// multi-step plans wait for the caller.
	if plan.RequiresConfirmation {
		snapshot.State = StateAwaitingConfirmation
		emitEvent(ctx, workflowID, activities.EmitDispatchEventInput{
			Type:    streaming.EventAwaitingConfirmation,
			Message: fmt.Sprintf("plan with %d steps awaits confirmation", len(plan.Steps)),
		})

		confirmed, reason := awaitConfirmation(ctx, input.ConfirmationTimeout)
		if !confirmed {
			snapshot.State = StateDone
			result := DispatchResult{
				Query:         input.Query,
				Route:         plan.Route,
				State:         StateDone,
				Clarification: reason,
				Markets:       plan.Markets,
			}
			finishDispatch(ctx, workflowID, input, startedAt, plan, result, nil)
			return result, nil
		}
	}
	snapshot.State = StatePlanConfirmed
	emitEvent(ctx, workflowID, activities.EmitDispatchEventInput{
		Type: streaming.EventPlanConfirmed, Message: plan.Route,
	})

	// Execution: every step starts before any is awaited; no step sees
	// another's result.
	snapshot.State = StateExecuting
	agentTimeout := input.AgentTimeout
	if agentTimeout == 0 {
		agentTimeout = 30 * time.Second
	}
	execCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: agentTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	futures := make([]workflow.Future, len(plan.Steps))
	for i, step := range plan.Steps {
		emitEvent(ctx, workflowID, activities.EmitDispatchEventInput{
			Type:    streaming.EventAgentStarted,
			AgentID: step.TargetAgentID,
			Market:  step.Market,
		})
		futures[i] = workflow.ExecuteActivity(execCtx, constants.ExecuteAgentActivity, activities.AgentExecutionInput{
			WorkflowID: workflowID,
			Task:       step,
		})
	}

	results := make([]agents.AgentResult, len(plan.Steps))
	for i, future := range futures {
		if err := future.Get(ctx, &results[i]); err != nil {
			snapshot.State = StateFailed
			return failDispatch(ctx, workflowID, input, startedAt, plan.Route, err)
		}
		emitEvent(ctx, workflowID, activities.EmitDispatchEventInput{
			Type:    streaming.EventAgentCompleted,
			AgentID: plan.Steps[i].TargetAgentID,
			Market:  plan.Steps[i].Market,
			Message: string(results[i].Quality),
		})
	}

	// Synthesis merges in plan order.
	var synthesis activities.SynthesisResult
	if err := workflow.ExecuteActivity(ctx, constants.SynthesizeResultsActivity, activities.SynthesisInput{
		Query:   input.Query,
		Tasks:   plan.Steps,
		Results: results,
	}).Get(ctx, &synthesis); err != nil {
		snapshot.State = StateFailed
		return failDispatch(ctx, workflowID, input, startedAt, plan.Route, err)
	}
	snapshot.State = StateSynthesized
	emitEvent(ctx, workflowID, activities.EmitDispatchEventInput{
		Type: streaming.EventSynthesisCompleted,
	})

	result := DispatchResult{
		Query:          input.Query,
		Route:          plan.Route,
		Sections:       synthesis.Sections,
		OverallSuccess: synthesis.OverallSuccess,
		Summary:        synthesis.Summary,
		Markets:        plan.Markets,
	}
	if synthesis.OverallSuccess {
		snapshot.State = StateDone
		result.State = StateDone
	} else {
		// Every section came up empty: surface it as a failed dispatch,
		// with the sections kept for inspection.
		snapshot.State = StateFailed
		result.State = StateFailed
		result.Clarification = "no data available"
	}

	finishDispatch(ctx, workflowID, input, startedAt, plan, result, results)
	logger.Info("Dispatch completed",
		"route", plan.Route,
		"plan_size", len(plan.Steps),
		"overall_success", result.OverallSuccess,
	)
	return result, nil
}

// buildPlan turns the resolution (or, failing that, the oracle's
// decision) into an execution plan. A non-empty clarification means the
// dispatch ends without executing anything.
func buildPlan(ctx workflow.Context, input DispatchInput, res activities.ResolveResult) (Plan, string, error) {
	switch {
	case res.MatchCount > 1:
		// Ambiguity is resolved by asking every matching market, not by
		// guessing intent. The oracle never sees this query.
		plan := Plan{Route: RouteAmbiguous}
		for i, match := range res.Matches {
			plan.Steps = append(plan.Steps, agents.SubTask{
				StepIndex:     i,
				Description:   input.Query,
				TargetAgentID: match.AgentID,
				Market:        match.Market,
				CanonicalID:   match.CanonicalID,
			})
			plan.Markets = append(plan.Markets, match.Market)
		}
		return plan, "", nil

	case res.MatchCount == 1:
		match := res.Matches[0]
		return Plan{
			Route: RouteDeterministic,
			Steps: []agents.SubTask{{
				StepIndex:     0,
				Description:   input.Query,
				TargetAgentID: match.AgentID,
				Market:        match.Market,
				CanonicalID:   match.CanonicalID,
			}},
			Markets: []string{match.Market},
		}, "", nil
	}

	var cls activities.ClassifyResult
	if err := workflow.ExecuteActivity(ctx, constants.ClassifyQueryActivity, activities.ClassifyInput{
		Query: input.Query,
	}).Get(ctx, &cls); err != nil {
		return Plan{}, "", err
	}

	switch cls.Decision {
	case oracle.DecisionSingle:
		return Plan{
			Route: RouteOracle,
			Steps: []agents.SubTask{{
				StepIndex:     0,
				Description:   input.Query,
				TargetAgentID: cls.AgentID,
			}},
		}, "", nil

	case oracle.DecisionPlan:
		plan := Plan{Route: RouteOracle, RequiresConfirmation: true}
		for i, step := range cls.Steps {
			plan.Steps = append(plan.Steps, agents.SubTask{
				StepIndex:     i,
				Description:   step.Description,
				TargetAgentID: step.AgentID,
			})
		}
		return plan, "", nil

	default:
		return Plan{Route: RouteOracle}, "could not identify an instrument in the query; please name a listing, ticker or trading pair", nil
	}
}

// awaitConfirmation blocks on the plan-confirmation signal until the
// timeout. Denial and timeout both leave the plan unexecuted.
func awaitConfirmation(ctx workflow.Context, timeout time.Duration) (bool, string) {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	var confirmation PlanConfirmation
	received := false

	sel := workflow.NewSelector(ctx)
	sel.AddReceive(workflow.GetSignalChannel(ctx, SignalPlanConfirmation), func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, &confirmation)
		received = true
	})
	sel.AddFuture(workflow.NewTimer(ctx, timeout), func(f workflow.Future) {})
	sel.Select(ctx)

	switch {
	case !received:
		return false, "plan confirmation timed out; nothing was executed"
	case !confirmation.Approved:
		reason := confirmation.Reason
		if reason == "" {
			reason = "plan was declined; nothing was executed"
		}
		return false, reason
	default:
		return true, ""
	}
}

// emitEvent schedules a fire-and-forget streaming event. Events are
// best-effort: the dispatch never waits on them or fails because of them.
func emitEvent(ctx workflow.Context, workflowID string, in EmitInput) {
	detached, _ := workflow.NewDisconnectedContext(ctx)
	detached = workflow.WithActivityOptions(detached, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	in.WorkflowID = workflowID
	workflow.ExecuteActivity(detached, constants.EmitDispatchEventActivity, in)
}

// EmitInput aliases the activity input to keep call sites short.
type EmitInput = activities.EmitDispatchEventInput

// finishDispatch schedules the post-dispatch bookkeeping (persistence and
// session history) without blocking the result.
func finishDispatch(ctx workflow.Context, workflowID string, input DispatchInput, startedAt time.Time, plan Plan, result DispatchResult, agentResults []agents.AgentResult) {
	completedAt := workflow.Now(ctx)

	var toolCalls []activities.ToolInvocation
	for i, res := range agentResults {
		symbol := ""
		if i < len(plan.Steps) {
			symbol = plan.Steps[i].CanonicalID
		}
		for _, call := range res.ToolCalls {
			toolCalls = append(toolCalls, activities.ToolInvocation{
				AgentID: res.AgentID,
				Tool:    call.Tool,
				Symbol:  symbol,
				Success: call.Success,
			})
		}
	}

	detached, _ := workflow.NewDisconnectedContext(ctx)
	detached = workflow.WithActivityOptions(detached, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})

	workflow.ExecuteActivity(detached, constants.PersistDispatchActivity, activities.PersistDispatchInput{
		WorkflowID:     workflowID,
		SessionID:      input.SessionID,
		Query:          input.Query,
		Route:          result.Route,
		Status:         result.State,
		MatchedMarkets: plan.Markets,
		PlanSize:       len(plan.Steps),
		OverallSuccess: result.OverallSuccess,
		StartedAt:      startedAt,
		CompletedAt:    &completedAt,
		ToolCalls:      toolCalls,
	})

	if input.SessionID != "" {
		workflow.ExecuteActivity(detached, constants.RecordSessionDispatchActivity, activities.RecordSessionDispatchInput{
			SessionID: input.SessionID,
			Query:     input.Query,
			Markets:   plan.Markets,
			Success:   result.OverallSuccess,
		})
	}

	eventType := streaming.EventDispatchCompleted
	if result.State == StateFailed {
		eventType = streaming.EventDispatchFailed
	}
	emitEvent(ctx, workflowID, activities.EmitDispatchEventInput{
		Type: eventType, Message: result.Clarification,
	})
}

// failDispatch records an unrecoverable failure and returns it.
func failDispatch(ctx workflow.Context, workflowID string, input DispatchInput, startedAt time.Time, route string, err error) (DispatchResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Error("Dispatch failed", "error", err)

	completedAt := workflow.Now(ctx)
	detached, _ := workflow.NewDisconnectedContext(ctx)
	detached = workflow.WithActivityOptions(detached, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	workflow.ExecuteActivity(detached, constants.PersistDispatchActivity, activities.PersistDispatchInput{
		WorkflowID:   workflowID,
		SessionID:    input.SessionID,
		Query:        input.Query,
		Route:        route,
		Status:       StateFailed,
		ErrorMessage: err.Error(),
		StartedAt:    startedAt,
		CompletedAt:  &completedAt,
	})
	emitEvent(ctx, workflowID, activities.EmitDispatchEventInput{
		Type: streaming.EventDispatchFailed, Message: err.Error(),
	})

	return DispatchResult{
		Query: input.Query,
		Route: route,
		State: StateFailed,
	}, err
}
