package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a PostgreSQL jsonb column.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// DispatchRecord is one dispatched query, upserted by workflow id so the
// started and completed writes land on the same row.
type DispatchRecord struct {
	ID             uuid.UUID  `db:"id"`
	WorkflowID     string     `db:"workflow_id"`
	SessionID      string     `db:"session_id"`
	Query          string     `db:"query"`
	Route          string     `db:"route"` // deterministic | oracle | ambiguous
	Status         string     `db:"status"`
	MatchedMarkets JSONB      `db:"matched_markets"`
	PlanSize       int        `db:"plan_size"`
	OverallSuccess bool       `db:"overall_success"`
	ErrorMessage   *string    `db:"error_message"`
	StartedAt      time.Time  `db:"started_at"`
	CompletedAt    *time.Time `db:"completed_at"`
	DurationMs     *int64     `db:"duration_ms"`
	CreatedAt      time.Time  `db:"created_at"`
}

// ToolInvocationRecord is one tool call made while serving a dispatch.
type ToolInvocationRecord struct {
	ID         uuid.UUID `db:"id"`
	WorkflowID string    `db:"workflow_id"`
	AgentID    string    `db:"agent_id"`
	Tool       string    `db:"tool"`
	Symbol     string    `db:"symbol"`
	Success    bool      `db:"success"`
	CreatedAt  time.Time `db:"created_at"`
}
