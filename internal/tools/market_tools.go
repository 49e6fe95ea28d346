package tools

import (
	"context"
	"fmt"
	"net/url"

	"github.com/marketscope/dispatch/internal/metrics"
)

// symbolArg extracts the required symbol argument.
func symbolArg(args map[string]interface{}) (string, error) {
	sym, _ := args["symbol"].(string)
	if sym == "" {
		return "", fmt.Errorf("missing required argument %q", "symbol")
	}
	return sym, nil
}

// instrument wraps a handler with per-tool invocation metrics.
func instrument(name string, h Handler) Handler {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		out, err := h(ctx, args)
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.ToolInvocations.WithLabelValues(name, status).Inc()
		return out, err
	}
}

// QuoteHandler fetches the current quote for a symbol.
func QuoteHandler(name string, c *ProviderClient) Handler {
	return instrument(name, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		sym, err := symbolArg(args)
		if err != nil {
			return nil, err
		}
		return c.GetJSON(ctx, "/quote", url.Values{"symbol": {sym}})
	})
}

// ChartHandler fetches OHLCV candles. Optional "interval" argument,
// defaulting to daily candles.
func ChartHandler(name string, c *ProviderClient) Handler {
	return instrument(name, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		sym, err := symbolArg(args)
		if err != nil {
			return nil, err
		}
		interval, _ := args["interval"].(string)
		if interval == "" {
			interval = "1d"
		}
		return c.GetJSON(ctx, "/chart", url.Values{"symbol": {sym}, "interval": {interval}})
	})
}

// NewsHandler fetches recent headlines for a symbol.
func NewsHandler(name string, c *ProviderClient) Handler {
	return instrument(name, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		sym, err := symbolArg(args)
		if err != nil {
			return nil, err
		}
		return c.GetJSON(ctx, "/news", url.Values{"symbol": {sym}})
	})
}

// OrderbookHandler fetches the current order book for a trading pair.
func OrderbookHandler(name string, c *ProviderClient) Handler {
	return instrument(name, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		sym, err := symbolArg(args)
		if err != nil {
			return nil, err
		}
		return c.GetJSON(ctx, "/orderbook", url.Values{"symbol": {sym}})
	})
}
