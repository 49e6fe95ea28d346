package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marketscope/dispatch/internal/metrics"
	"github.com/marketscope/dispatch/internal/registry"
)

// Intents an agent can recognize in a subtask description, checked in this
// order so tool selection is deterministic.
var intentOrder = []string{"quote", "chart", "news", "orderbook"}

// intentVocab maps an intent to the words that signal it, English and
// Korean. Matching is substring-based over the lower-cased description.
var intentVocab = map[string][]string{
	"quote":     {"price", "quote", "worth", "value", "how much", "주가", "시세", "가격", "얼마"},
	"chart":     {"chart", "candle", "trend", "graph", "history", "차트", "추세", "캔들", "흐름"},
	"news":      {"news", "headline", "article", "announcement", "뉴스", "기사", "소식", "공시"},
	"orderbook": {"orderbook", "order book", "depth", "bid", "ask", "호가", "매수", "매도"},
}

// MarketAgent serves one market using the tools it was granted in the
// shared registry. toolsByIntent maps recognized intents to registered
// tool names; markets without a tool for an intent simply never select it.
type MarketAgent struct {
	id            string
	market        string
	displayName   string
	registry      *registry.ToolRegistry
	toolsByIntent map[string]string
	logger        *zap.Logger
}

// NewMarketAgent builds an agent for one market.
func NewMarketAgent(id, market, displayName string, reg *registry.ToolRegistry, toolsByIntent map[string]string, logger *zap.Logger) *MarketAgent {
	return &MarketAgent{
		id:            id,
		market:        market,
		displayName:   displayName,
		registry:      reg,
		toolsByIntent: toolsByIntent,
		logger:        logger,
	}
}

func (a *MarketAgent) ID() string     { return a.id }
func (a *MarketAgent) Market() string { return a.market }

// SelectTools classifies the subtask description by intent keywords and
// returns the matching tool names. An explicit ToolHint naming one of the
// agent's tools wins outright. The result is never empty: with no
// recognized intent the quote tool is the fallback.
func (a *MarketAgent) SelectTools(sub SubTask) []string {
	if sub.ToolHint != "" {
		for _, tool := range a.toolsByIntent {
			if tool == sub.ToolHint {
				return []string{tool}
			}
		}
	}

	desc := strings.ToLower(sub.Description)
	var selected []string
	for _, intent := range intentOrder {
		tool, ok := a.toolsByIntent[intent]
		if !ok {
			continue
		}
		for _, word := range intentVocab[intent] {
			if strings.Contains(desc, word) {
				selected = append(selected, tool)
				break
			}
		}
	}
	if len(selected) == 0 {
		if tool, ok := a.toolsByIntent["quote"]; ok {
			selected = []string{tool}
		}
	}
	return selected
}

// Execute runs the selected tools through the registry, access-checked per
// invocation. Individual tool failures degrade the result's quality; only
// registry faults (access denied, unknown tool) abort the execution.
func (a *MarketAgent) Execute(ctx context.Context, sub SubTask) (AgentResult, error) {
	start := time.Now()
	selected := a.SelectTools(sub)

	data := make(map[string]interface{}, len(selected))
	calls := make([]ToolCall, 0, len(selected))
	var failed []string
	for _, toolName := range selected {
		handler, err := a.registry.Get(toolName, a.id)
		if err != nil {
			// Access-list violations and missing tools are configuration
			// errors, not data-plane failures. Surface them.
			if errors.Is(err, registry.ErrAccessDenied) || errors.Is(err, registry.ErrToolNotFound) {
				return AgentResult{}, err
			}
			return AgentResult{}, err
		}

		out, err := handler(ctx, map[string]interface{}{"symbol": sub.CanonicalID})
		if err != nil {
			a.logger.Warn("Tool invocation failed",
				zap.String("agent_id", a.id),
				zap.String("tool", toolName),
				zap.String("symbol", sub.CanonicalID),
				zap.Error(err),
			)
			failed = append(failed, toolName)
			calls = append(calls, ToolCall{Tool: toolName, Success: false})
			continue
		}
		data[toolName] = out
		calls = append(calls, ToolCall{Tool: toolName, Success: true})
	}

	result := AgentResult{AgentID: a.id, StructuredData: data, ToolCalls: calls}
	switch {
	case len(failed) == 0:
		result.Success = true
		result.Quality = QualityPass
		result.Message = fmt.Sprintf("%s data for %s", a.displayName, sub.CanonicalID)
	case len(data) > 0:
		result.Success = true
		result.Quality = QualityPartial
		result.Message = fmt.Sprintf("%s data for %s (partial: %s unavailable)",
			a.displayName, sub.CanonicalID, strings.Join(failed, ", "))
	default:
		result.Success = false
		result.Quality = QualityFail
		result.Message = fmt.Sprintf("no %s data available for %s", a.displayName, sub.CanonicalID)
		result.StructuredData = nil
	}

	metrics.AgentExecutions.WithLabelValues(a.id, string(result.Quality)).Inc()
	metrics.AgentExecutionDuration.WithLabelValues(a.id).
		Observe(float64(time.Since(start).Milliseconds()))
	return result, nil
}
