package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/marketscope/dispatch/internal/activities"
	"github.com/marketscope/dispatch/internal/agents"
	"github.com/marketscope/dispatch/internal/constants"
	"github.com/marketscope/dispatch/internal/oracle"
)

// testEnv wires stub activities so the workflow logic can be exercised in
// isolation. Each stub can be replaced per test before ExecuteWorkflow.
type stubs struct {
	resolve      func(ctx context.Context, in activities.ResolveInput) (activities.ResolveResult, error)
	classify     func(ctx context.Context, in activities.ClassifyInput) (activities.ClassifyResult, error)
	executeAgent func(ctx context.Context, in activities.AgentExecutionInput) (agents.AgentResult, error)

	oracleCalled bool
	executed     []agents.SubTask
}

func defaultStubs() *stubs {
	s := &stubs{}
	s.resolve = func(ctx context.Context, in activities.ResolveInput) (activities.ResolveResult, error) {
		return activities.ResolveResult{}, nil
	}
	s.classify = func(ctx context.Context, in activities.ClassifyInput) (activities.ClassifyResult, error) {
		return activities.ClassifyResult{Decision: oracle.DecisionInsufficient}, nil
	}
	s.executeAgent = func(ctx context.Context, in activities.AgentExecutionInput) (agents.AgentResult, error) {
		return agents.AgentResult{
			AgentID: in.Task.TargetAgentID,
			Success: true,
			Quality: agents.QualityPass,
			Message: in.Task.Market + " data for " + in.Task.CanonicalID,
			ToolCalls: []agents.ToolCall{
				{Tool: in.Task.Market + "_quote", Success: true},
			},
		}, nil
	}
	return s
}

func newEnv(t *testing.T, s *stubs) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	env.RegisterWorkflow(DispatchWorkflow)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.ResolveInput) (activities.ResolveResult, error) {
			return s.resolve(ctx, in)
		},
		activity.RegisterOptions{Name: constants.ResolveQueryActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.ClassifyInput) (activities.ClassifyResult, error) {
			s.oracleCalled = true
			return s.classify(ctx, in)
		},
		activity.RegisterOptions{Name: constants.ClassifyQueryActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.AgentExecutionInput) (agents.AgentResult, error) {
			s.executed = append(s.executed, in.Task)
			return s.executeAgent(ctx, in)
		},
		activity.RegisterOptions{Name: constants.ExecuteAgentActivity},
	)

	// The real synthesizer is deterministic; run it directly.
	synth := activities.NewActivities(activities.Deps{})
	env.RegisterActivityWithOptions(synth.SynthesizeResults,
		activity.RegisterOptions{Name: constants.SynthesizeResultsActivity})

	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.PersistDispatchInput) error { return nil },
		activity.RegisterOptions{Name: constants.PersistDispatchActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.RecordSessionDispatchInput) error { return nil },
		activity.RegisterOptions{Name: constants.RecordSessionDispatchActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.EmitDispatchEventInput) error { return nil },
		activity.RegisterOptions{Name: constants.EmitDispatchEventActivity},
	)
	return env
}

func krxMatch() activities.MarketMatch {
	return activities.MarketMatch{Market: "krx", DisplayName: "Korean equities", CanonicalID: "005930.KS", AgentID: "krx-agent"}
}

func cryptoMatch() activities.MarketMatch {
	return activities.MarketMatch{Market: "crypto", DisplayName: "Crypto", CanonicalID: "KRW-BTC", AgentID: "crypto-agent"}
}

func TestSingleMarketDispatch(t *testing.T) {
	s := defaultStubs()
	s.resolve = func(ctx context.Context, in activities.ResolveInput) (activities.ResolveResult, error) {
		return activities.ResolveResult{Token: "005930", MatchCount: 1,
			Matches: []activities.MarketMatch{krxMatch()}}, nil
	}

	env := newEnv(t, s)
	env.ExecuteWorkflow(DispatchWorkflow, DispatchInput{Query: "005930 주가"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DispatchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, RouteDeterministic, result.Route)
	assert.True(t, result.OverallSuccess)
	require.Len(t, result.Sections, 1)
	assert.Equal(t, "krx-agent", result.Sections[0].AgentID)

	assert.False(t, s.oracleCalled, "single deterministic match never consults the oracle")
	require.Len(t, s.executed, 1)
	assert.Equal(t, "005930.KS", s.executed[0].CanonicalID)
}

func TestAmbiguousDispatchBypassesOracle(t *testing.T) {
	s := defaultStubs()
	s.resolve = func(ctx context.Context, in activities.ResolveInput) (activities.ResolveResult, error) {
		return activities.ResolveResult{Token: "bitcoin", MatchCount: 2,
			Matches: []activities.MarketMatch{krxMatch(), cryptoMatch()}}, nil
	}
	// The crypto agent's tools all fail; its section must still render.
	s.executeAgent = func(ctx context.Context, in activities.AgentExecutionInput) (agents.AgentResult, error) {
		if in.Task.Market == "crypto" {
			return agents.AgentResult{
				AgentID: in.Task.TargetAgentID,
				Success: false,
				Quality: agents.QualityFail,
				Message: "no data",
			}, nil
		}
		return agents.AgentResult{
			AgentID: in.Task.TargetAgentID, Success: true, Quality: agents.QualityPass,
			Message: "krx data for " + in.Task.CanonicalID,
		}, nil
	}

	env := newEnv(t, s)
	env.ExecuteWorkflow(DispatchWorkflow, DispatchInput{Query: "bitcoin"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DispatchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, RouteAmbiguous, result.Route)
	assert.True(t, result.OverallSuccess, "one successful section is enough")
	require.Len(t, result.Sections, 2, "both markets get a labeled section")
	assert.True(t, result.Sections[0].Success)
	assert.False(t, result.Sections[1].Success)
	assert.Contains(t, result.Sections[1].Message, "no data available")

	assert.False(t, s.oracleCalled, "ambiguity bypasses the classification oracle")

	// Plan order follows the resolver's stable market priority.
	require.Len(t, s.executed, 2)
	assert.Equal(t, "krx", s.executed[0].Market)
	assert.Equal(t, "crypto", s.executed[1].Market)
	assert.Equal(t, 0, s.executed[0].StepIndex)
	assert.Equal(t, 1, s.executed[1].StepIndex)
}

func TestNoMatchFallsBackToOracle(t *testing.T) {
	s := defaultStubs()
	s.classify = func(ctx context.Context, in activities.ClassifyInput) (activities.ClassifyResult, error) {
		return activities.ClassifyResult{Decision: oracle.DecisionSingle, AgentID: "krx-agent"}, nil
	}

	env := newEnv(t, s)
	env.ExecuteWorkflow(DispatchWorkflow, DispatchInput{Query: "the korean chipmaker everyone talks about"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DispatchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, RouteOracle, result.Route)
	assert.Equal(t, StateDone, result.State)
	assert.True(t, s.oracleCalled)
	require.Len(t, s.executed, 1)
	assert.Equal(t, "krx-agent", s.executed[0].TargetAgentID)
}

func TestInsufficientClassificationAsksForClarification(t *testing.T) {
	s := defaultStubs()

	env := newEnv(t, s)
	env.ExecuteWorkflow(DispatchWorkflow, DispatchInput{Query: "tell me something"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DispatchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StateDone, result.State)
	assert.False(t, result.OverallSuccess)
	assert.NotEmpty(t, result.Clarification)
	assert.Empty(t, s.executed, "nothing executes without a plan")
}

func oraclePlanStubs() *stubs {
	s := defaultStubs()
	s.classify = func(ctx context.Context, in activities.ClassifyInput) (activities.ClassifyResult, error) {
		return activities.ClassifyResult{
			Decision: oracle.DecisionPlan,
			Steps: []oracle.PlanStep{
				{AgentID: "krx-agent", Description: "samsung quote"},
				{AgentID: "us-agent", Description: "apple quote"},
			},
		}, nil
	}
	return s
}

func TestOraclePlanExecutesAfterConfirmation(t *testing.T) {
	s := oraclePlanStubs()
	env := newEnv(t, s)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPlanConfirmation, PlanConfirmation{Approved: true})
	}, time.Minute)

	env.ExecuteWorkflow(DispatchWorkflow, DispatchInput{Query: "compare samsung and apple"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DispatchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StateDone, result.State)
	require.Len(t, s.executed, 2)
	assert.Equal(t, "krx-agent", s.executed[0].TargetAgentID)
	assert.Equal(t, "us-agent", s.executed[1].TargetAgentID)
}

func TestOraclePlanDeniedLeavesPlanUnexecuted(t *testing.T) {
	s := oraclePlanStubs()
	env := newEnv(t, s)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPlanConfirmation, PlanConfirmation{Approved: false, Reason: "not what I meant"})
	}, time.Minute)

	env.ExecuteWorkflow(DispatchWorkflow, DispatchInput{Query: "compare samsung and apple"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DispatchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StateDone, result.State)
	assert.False(t, result.OverallSuccess)
	assert.Equal(t, "not what I meant", result.Clarification)
	assert.Empty(t, s.executed)
}

func TestOraclePlanConfirmationTimeout(t *testing.T) {
	s := oraclePlanStubs()
	env := newEnv(t, s)

	env.ExecuteWorkflow(DispatchWorkflow, DispatchInput{
		Query:               "compare samsung and apple",
		ConfirmationTimeout: time.Minute,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DispatchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StateDone, result.State)
	assert.Contains(t, result.Clarification, "timed out")
	assert.Empty(t, s.executed)
}

func TestAllSectionsFailedMarksDispatchFailed(t *testing.T) {
	s := defaultStubs()
	s.resolve = func(ctx context.Context, in activities.ResolveInput) (activities.ResolveResult, error) {
		return activities.ResolveResult{Token: "005930", MatchCount: 1,
			Matches: []activities.MarketMatch{krxMatch()}}, nil
	}
	s.executeAgent = func(ctx context.Context, in activities.AgentExecutionInput) (agents.AgentResult, error) {
		return agents.AgentResult{AgentID: in.Task.TargetAgentID, Success: false, Quality: agents.QualityFail}, nil
	}

	env := newEnv(t, s)
	env.ExecuteWorkflow(DispatchWorkflow, DispatchInput{Query: "005930"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result DispatchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StateFailed, result.State)
	assert.False(t, result.OverallSuccess)
	assert.Equal(t, "no data available", result.Clarification)
	require.Len(t, result.Sections, 1, "failed sections are kept for inspection")
}

func TestAgentConfigurationErrorFailsWorkflow(t *testing.T) {
	s := defaultStubs()
	s.resolve = func(ctx context.Context, in activities.ResolveInput) (activities.ResolveResult, error) {
		return activities.ResolveResult{Token: "005930", MatchCount: 1,
			Matches: []activities.MarketMatch{krxMatch()}}, nil
	}
	s.executeAgent = func(ctx context.Context, in activities.AgentExecutionInput) (agents.AgentResult, error) {
		return agents.AgentResult{}, errors.New("tool access denied: agent \"krx-agent\" may not call \"crypto_quote\"")
	}

	env := newEnv(t, s)
	env.ExecuteWorkflow(DispatchWorkflow, DispatchInput{Query: "005930"})

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError(), "configuration faults fail the dispatch loudly")
}

func TestDispatchStateQuery(t *testing.T) {
	s := defaultStubs()
	s.resolve = func(ctx context.Context, in activities.ResolveInput) (activities.ResolveResult, error) {
		return activities.ResolveResult{Token: "bitcoin", MatchCount: 2,
			Matches: []activities.MarketMatch{krxMatch(), cryptoMatch()}}, nil
	}

	env := newEnv(t, s)
	env.ExecuteWorkflow(DispatchWorkflow, DispatchInput{Query: "bitcoin"})
	require.True(t, env.IsWorkflowCompleted())

	val, err := env.QueryWorkflow(QueryDispatchState)
	require.NoError(t, err)
	var snap StateSnapshot
	require.NoError(t, val.Get(&snap))
	assert.Equal(t, StateDone, snap.State)
	assert.Equal(t, RouteAmbiguous, snap.Route)
	assert.Equal(t, 2, snap.PlanSize)
	assert.Equal(t, []string{"krx", "crypto"}, snap.Markets)
}
