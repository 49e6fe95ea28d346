// Package httpapi exposes the dispatch engine over HTTP: starting
// dispatches, querying their state, confirming oracle plans and streaming
// lifecycle events over WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/marketscope/dispatch/internal/config"
	"github.com/marketscope/dispatch/internal/metrics"
	"github.com/marketscope/dispatch/internal/streaming"
	"github.com/marketscope/dispatch/internal/workflows"
)

// WorkflowClient is the slice of the Temporal client the API needs.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
	SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg interface{}) error
	GetWorkflow(ctx context.Context, workflowID string, runID string) client.WorkflowRun
}

// Server handles the dispatch HTTP API.
type Server struct {
	temporal WorkflowClient
	events   *streaming.Manager
	auth     *Authenticator
	workflow config.WorkflowConfig
	logger   *zap.Logger
}

func NewServer(tc WorkflowClient, events *streaming.Manager, auth *Authenticator, wf config.WorkflowConfig, logger *zap.Logger) *Server {
	return &Server{
		temporal: tc,
		events:   events,
		auth:     auth,
		workflow: wf,
		logger:   logger,
	}
}

// Handler builds the route table. All routes sit behind authentication.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/dispatch", s.startDispatch)
	mux.HandleFunc("GET /v1/dispatch/{id}", s.getDispatchState)
	mux.HandleFunc("GET /v1/dispatch/{id}/result", s.getDispatchResult)
	mux.HandleFunc("POST /v1/dispatch/{id}/confirm", s.confirmPlan)
	mux.HandleFunc("GET /v1/stream/ws", s.handleStream)
	return s.auth.Middleware(mux)
}

type dispatchRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

type dispatchResponse struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

func (s *Server) startDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	userID := req.UserID
	if sub := UserID(r.Context()); sub != "" {
		userID = sub
	}

	workflowID := "dispatch-" + uuid.New().String()
	run, err := s.temporal.ExecuteWorkflow(r.Context(), client.StartWorkflowOptions{
		ID:                    workflowID,
		TaskQueue:             s.workflow.TaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, "DispatchWorkflow", workflows.DispatchInput{
		Query:               req.Query,
		SessionID:           req.SessionID,
		UserID:              userID,
		ConfirmationTimeout: s.workflow.ConfirmationTimeout,
		AgentTimeout:        s.workflow.AgentTimeout,
	})
	if err != nil {
		s.logger.Error("Failed to start dispatch workflow", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to start dispatch")
		return
	}
	metrics.DispatchesStarted.WithLabelValues("api").Inc()
	s.logger.Info("Dispatch started",
		zap.String("workflow_id", run.GetID()),
		zap.String("session_id", req.SessionID),
	)

	// ?wait=true blocks for the composite result instead of returning
	// the workflow handle.
	if r.URL.Query().Get("wait") == "true" {
		var result workflows.DispatchResult
		if err := run.Get(r.Context(), &result); err != nil {
			s.logger.Error("Dispatch failed", zap.String("workflow_id", run.GetID()), zap.Error(err))
			s.writeError(w, http.StatusBadGateway, "dispatch failed: "+err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, result)
		return
	}

	s.writeJSON(w, http.StatusAccepted, dispatchResponse{
		WorkflowID: run.GetID(),
		RunID:      run.GetRunID(),
	})
}

func (s *Server) getDispatchState(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	val, err := s.temporal.QueryWorkflow(r.Context(), workflowID, "", workflows.QueryDispatchState)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "dispatch not found: "+workflowID)
		return
	}
	var snap workflows.StateSnapshot
	if err := val.Get(&snap); err != nil {
		s.logger.Error("Failed to decode dispatch state", zap.String("workflow_id", workflowID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to decode dispatch state")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getDispatchResult(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	run := s.temporal.GetWorkflow(r.Context(), workflowID, "")

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var result workflows.DispatchResult
	if err := run.Get(ctx, &result); err != nil {
		s.writeError(w, http.StatusBadGateway, "dispatch failed: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) confirmPlan(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	var confirmation workflows.PlanConfirmation
	if err := json.NewDecoder(r.Body).Decode(&confirmation); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.temporal.SignalWorkflow(r.Context(), workflowID, "", workflows.SignalPlanConfirmation, confirmation); err != nil {
		s.logger.Error("Failed to signal plan confirmation",
			zap.String("workflow_id", workflowID), zap.Error(err))
		s.writeError(w, http.StatusNotFound, "dispatch not found: "+workflowID)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"delivered": true})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
