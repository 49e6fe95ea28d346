package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/marketscope/dispatch/internal/db"
	"github.com/marketscope/dispatch/internal/metrics"
	"github.com/marketscope/dispatch/internal/streaming"
)

// PersistDispatch upserts the dispatch record, keyed by workflow id so
// the completion write lands on the row the start write created. A nil
// database client skips the write but dispatch metrics are still
// recorded.
func (a *Activities) PersistDispatch(ctx context.Context, in PersistDispatchInput) error {
	route := in.Route
	if route == "" {
		route = "none"
	}
	metrics.DispatchesCompleted.WithLabelValues(route, in.Status).Inc()
	if in.PlanSize > 0 {
		metrics.PlanSize.Observe(float64(in.PlanSize))
	}
	if in.CompletedAt != nil {
		metrics.DispatchDuration.WithLabelValues(route).
			Observe(in.CompletedAt.Sub(in.StartedAt).Seconds())
	}

	if a.deps.DB == nil {
		a.deps.Logger.Debug("Persistence disabled, skipping dispatch record",
			zap.String("workflow_id", in.WorkflowID),
		)
		return nil
	}

	rec := &db.DispatchRecord{
		WorkflowID:     in.WorkflowID,
		SessionID:      in.SessionID,
		Query:          in.Query,
		Route:          in.Route,
		Status:         in.Status,
		PlanSize:       in.PlanSize,
		OverallSuccess: in.OverallSuccess,
		StartedAt:      in.StartedAt,
		CompletedAt:    in.CompletedAt,
	}
	if len(in.MatchedMarkets) > 0 {
		markets := make([]interface{}, len(in.MatchedMarkets))
		for i, m := range in.MatchedMarkets {
			markets[i] = m
		}
		rec.MatchedMarkets = db.JSONB{"markets": markets}
	}
	if in.ErrorMessage != "" {
		msg := in.ErrorMessage
		rec.ErrorMessage = &msg
	}
	if in.CompletedAt != nil {
		ms := in.CompletedAt.Sub(in.StartedAt).Milliseconds()
		rec.DurationMs = &ms
	}

	if err := a.deps.DB.SaveDispatch(ctx, rec); err != nil {
		return err
	}

	if len(in.ToolCalls) == 0 {
		return nil
	}
	invocations := make([]db.ToolInvocationRecord, len(in.ToolCalls))
	for i, call := range in.ToolCalls {
		invocations[i] = db.ToolInvocationRecord{
			WorkflowID: in.WorkflowID,
			AgentID:    call.AgentID,
			Tool:       call.Tool,
			Symbol:     call.Symbol,
			Success:    call.Success,
		}
	}
	return a.deps.DB.SaveToolInvocations(ctx, invocations)
}

// RecordSessionDispatch appends the dispatch outcome to the session
// history. No-op without a session manager or session id.
func (a *Activities) RecordSessionDispatch(ctx context.Context, in RecordSessionDispatchInput) error {
	if a.deps.Sessions == nil || in.SessionID == "" {
		return nil
	}
	if err := a.deps.Sessions.RecordDispatch(ctx, in.SessionID, in.Query, in.Markets, in.Success); err != nil {
		// Session continuity is best-effort; the dispatch result stands.
		a.deps.Logger.Warn("Failed to record dispatch in session",
			zap.String("session_id", in.SessionID),
			zap.Error(err),
		)
	}
	return nil
}

// EmitDispatchEvent publishes a lifecycle event to stream subscribers.
func (a *Activities) EmitDispatchEvent(ctx context.Context, in EmitDispatchEventInput) error {
	if a.deps.Events == nil {
		return nil
	}
	a.deps.Events.Publish(in.WorkflowID, streaming.Event{
		Type:    in.Type,
		AgentID: in.AgentID,
		Market:  in.Market,
		Message: in.Message,
	})
	return nil
}
