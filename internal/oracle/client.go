package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/marketscope/dispatch/internal/circuitbreaker"
	"github.com/marketscope/dispatch/internal/metrics"
	"github.com/marketscope/dispatch/internal/registry"
	"github.com/marketscope/dispatch/internal/tracing"
)

// Classification decisions.
const (
	DecisionSingle       = "single"       // route to one agent
	DecisionPlan         = "plan"         // multi-step plan proposed
	DecisionInsufficient = "insufficient" // cannot classify, ask the user
)

// Request is the classification payload: the raw query plus the routing
// metadata of every registered agent. The oracle may only pick from the
// agents listed here.
type Request struct {
	Query  string                 `json:"query"`
	Agents []registry.RoutingInfo `json:"agents"`
}

// PlanStep is one proposed step of a multi-step decision.
type PlanStep struct {
	AgentID     string `json:"agent_id"`
	Description string `json:"description"`
}

// Response is the oracle's decision.
type Response struct {
	Decision string     `json:"decision"`
	AgentID  string     `json:"agent_id,omitempty"`
	Steps    []PlanStep `json:"steps,omitempty"`
}

// Client calls the external classification oracle. The oracle is a black
// box: any transport or parse failure degrades to the insufficient
// decision so classification is always bounded and never fatal.
type Client struct {
	baseURL string
	client  *circuitbreaker.HTTPWrapper
	logger  *zap.Logger
}

// NewClient creates an oracle client. timeout bounds each call end to end
// (default 15s).
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: timeout}, "oracle", "classification", logger),
		logger:  logger,
	}
}

// Classify asks the oracle to route the query across the given agents.
func (c *Client) Classify(ctx context.Context, query string, agents []registry.RoutingInfo) Response {
	start := time.Now()
	resp, err := c.classify(ctx, Request{Query: query, Agents: agents})
	metrics.ClassificationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ClassificationErrors.Inc()
		c.logger.Warn("Classification oracle unavailable, degrading to insufficient",
			zap.Error(err),
		)
		resp = Response{Decision: DecisionInsufficient}
	}
	metrics.ClassificationCalls.WithLabelValues(resp.Decision).Inc()
	return resp
}

func (c *Client) classify(ctx context.Context, reqBody Request) (Response, error) {
	ctx, span := tracing.StartSpan(ctx, "oracle.classify")
	defer span.End()

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("oracle returned %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode oracle response: %w", err)
	}
	if err := validate(out); err != nil {
		return Response{}, err
	}
	return out, nil
}

// validate rejects decisions the dispatcher cannot act on.
func validate(r Response) error {
	switch r.Decision {
	case DecisionSingle:
		if r.AgentID == "" {
			return fmt.Errorf("single decision without agent_id")
		}
	case DecisionPlan:
		if len(r.Steps) == 0 {
			return fmt.Errorf("plan decision without steps")
		}
		for i, s := range r.Steps {
			if s.AgentID == "" {
				return fmt.Errorf("plan step %d without agent_id", i)
			}
		}
	case DecisionInsufficient:
	default:
		return fmt.Errorf("unknown decision %q", r.Decision)
	}
	return nil
}
