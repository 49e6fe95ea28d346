package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveDispatch inserts or updates a dispatch record, idempotent by
// workflow id: the completion write updates the row the start write
// created.
func (c *Client) SaveDispatch(ctx context.Context, rec *DispatchRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO dispatches (
			id, workflow_id, session_id, query, route, status,
			matched_markets, plan_size, overall_success, error_message,
			started_at, completed_at, duration_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		ON CONFLICT (workflow_id) DO UPDATE SET
			status = EXCLUDED.status,
			matched_markets = EXCLUDED.matched_markets,
			plan_size = EXCLUDED.plan_size,
			overall_success = EXCLUDED.overall_success,
			error_message = EXCLUDED.error_message,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms
		RETURNING id`

	err := c.db.QueryRowContext(ctx, query,
		rec.ID, rec.WorkflowID, nullable(rec.SessionID), rec.Query, rec.Route, rec.Status,
		rec.MatchedMarkets, rec.PlanSize, rec.OverallSuccess, rec.ErrorMessage,
		rec.StartedAt, rec.CompletedAt, rec.DurationMs, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to save dispatch: %w", err)
	}
	return nil
}

// SaveToolInvocations appends tool call records for a dispatch.
func (c *Client) SaveToolInvocations(ctx context.Context, recs []ToolInvocationRecord) error {
	if len(recs) == 0 {
		return nil
	}

	query := `
		INSERT INTO tool_invocations (
			id, workflow_id, agent_id, tool, symbol, success, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for i := range recs {
		rec := &recs[i]
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
		if _, err := c.db.ExecContext(ctx, query,
			rec.ID, rec.WorkflowID, rec.AgentID, rec.Tool, rec.Symbol, rec.Success, rec.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to save tool invocation: %w", err)
		}
	}
	return nil
}

// GetDispatch loads a dispatch record by workflow id.
func (c *Client) GetDispatch(ctx context.Context, workflowID string) (*DispatchRecord, error) {
	var rec DispatchRecord
	err := c.db.GetContext(ctx, &rec, `
		SELECT id, workflow_id, COALESCE(session_id, '') AS session_id, query, route, status,
		       matched_markets, plan_size, overall_success, error_message,
		       started_at, completed_at, duration_ms, created_at
		FROM dispatches
		WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dispatch: %w", err)
	}
	return &rec, nil
}

// nullable maps an empty string to NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
