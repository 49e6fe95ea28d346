// marketscope-dispatch routes free-form market queries to per-market
// agents through a Temporal workflow: resolve the instrument, pick the
// agents, execute their tools and merge the sections into one answer.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	sdkworker "go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/marketscope/dispatch/internal/activities"
	"github.com/marketscope/dispatch/internal/agents"
	"github.com/marketscope/dispatch/internal/config"
	"github.com/marketscope/dispatch/internal/db"
	"github.com/marketscope/dispatch/internal/health"
	"github.com/marketscope/dispatch/internal/httpapi"
	"github.com/marketscope/dispatch/internal/oracle"
	"github.com/marketscope/dispatch/internal/refdata"
	"github.com/marketscope/dispatch/internal/registry"
	"github.com/marketscope/dispatch/internal/resolver"
	"github.com/marketscope/dispatch/internal/session"
	"github.com/marketscope/dispatch/internal/streaming"
	"github.com/marketscope/dispatch/internal/tools"
	"github.com/marketscope/dispatch/internal/tracing"
	"github.com/marketscope/dispatch/internal/worker"
)

func main() {
	logger, err := buildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("Dispatcher exited", zap.Error(err))
	}
}

func buildLogger() (*zap.Logger, error) {
	if os.Getenv("ENVIRONMENT") == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed, continuing without traces", zap.Error(err))
	}

	healthMgr := health.NewManager(0, logger)

	// Persistence and sessions are optional infrastructure: the dispatcher
	// runs without them, skipping history writes.
	var dbClient *db.Client
	if cfg.Postgres.Host != "" {
		dbClient, err = db.NewClient(db.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer dbClient.Close()
		healthMgr.Register(health.NewPingChecker("postgres", dbClient))
	}

	var sessions *session.Manager
	if cfg.Redis.Addr != "" {
		sessions, err = session.NewManager(cfg.Redis.Addr, "", 0, logger)
		if err != nil {
			logger.Warn("Redis unavailable, session continuity disabled", zap.Error(err))
			sessions = nil
		} else {
			healthMgr.Register(health.NewPingChecker("redis", sessions))
		}
	}

	// Per-market plumbing: reference data, resolver, provider tools, agent.
	toolRegistry := registry.NewToolRegistry(logger)
	agentRegistry := registry.NewAgentRegistry(logger)
	agentsByID := make(map[string]agents.Agent, len(cfg.Markets))
	bindings := make(map[string]activities.MarketBinding, len(cfg.Markets))
	resolvers := make([]resolver.MarketResolver, 0, len(cfg.Markets))
	caches := make([]*refdata.Cache, 0, len(cfg.Markets))

	for i, m := range cfg.Markets {
		cache := refdata.NewCache(m.Name,
			refdata.NewHTTPSource(m.Name, m.RefdataURL, 0, logger),
			m.RefdataTTL, logger)
		caches = append(caches, cache)

		mr, err := buildMarketResolver(m, cache, cfg.Resolver.FuzzyThreshold)
		if err != nil {
			return err
		}
		resolvers = append(resolvers, mr)

		agentID := m.Name + "-agent"
		provider := tools.NewProviderClient(m.Name, m.ProviderURL, cfg.Tools.CallTimeout, logger)
		toolsByIntent, err := registerMarketTools(toolRegistry, m.Name, agentID, provider)
		if err != nil {
			return err
		}

		agentsByID[agentID] = agents.NewMarketAgent(agentID, m.Name, m.DisplayName, toolRegistry, toolsByIntent, logger)
		bindings[m.Name] = activities.MarketBinding{AgentID: agentID, DisplayName: m.DisplayName}

		allowed := make([]string, 0, len(toolsByIntent))
		for _, tool := range toolsByIntent {
			allowed = append(allowed, tool)
		}
		if err := agentRegistry.Register(registry.AgentMetadata{
			Name:               agentID,
			DisplayName:        m.DisplayName,
			Description:        fmt.Sprintf("%s market data: quotes, charts and news", m.DisplayName),
			CapabilityKeywords: []string{m.Name, "quote", "chart", "news"},
			AllowedTools:       allowed,
			Priority:           len(cfg.Markets) - i,
		}); err != nil {
			return err
		}
	}
	if err := agentRegistry.Validate(toolRegistry); err != nil {
		return fmt.Errorf("registry validation: %w", err)
	}

	universal := resolver.NewUniversalResolver(cfg.Resolver.MarketPriority, logger, resolvers...)
	oracleClient := oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.Timeout, logger)
	if cfg.Oracle.BaseURL != "" {
		healthMgr.Register(health.NewHTTPChecker("oracle", cfg.Oracle.BaseURL+"/healthz"))
	}
	events := streaming.NewManager(0)

	// Watch the config file so resolver tuning applies without a restart.
	// Market, transport and credential changes still need one.
	cfgWatcher, err := config.NewManager(filepath.Dir(configPath()), logger)
	if err != nil {
		logger.Warn("Config watcher unavailable", zap.Error(err))
	} else {
		cfgWatcher.RegisterHandler(filepath.Base(configPath()), func(event config.ChangeEvent) error {
			fresh, err := config.Load()
			if err != nil {
				return fmt.Errorf("reload config: %w", err)
			}
			universal.SetFuzzyThreshold(fresh.Resolver.FuzzyThreshold)
			universal.SetMarketPriority(fresh.Resolver.MarketPriority)
			logger.Info("Resolver settings reloaded",
				zap.String("file", event.File),
				zap.Int("fuzzy_threshold", fresh.Resolver.FuzzyThreshold),
				zap.Strings("market_priority", fresh.Resolver.MarketPriority),
			)
			return nil
		})
		if err := cfgWatcher.Start(context.Background()); err != nil {
			logger.Warn("Config watcher failed to start", zap.Error(err))
		} else {
			defer func() { _ = cfgWatcher.Stop() }()
		}
	}

	acts := activities.NewActivities(activities.Deps{
		Resolver:       universal,
		Oracle:         oracleClient,
		Agents:         agentsByID,
		AgentRegistry:  agentRegistry,
		MarketBindings: bindings,
		DB:             dbClient,
		Sessions:       sessions,
		Events:         events,
		Logger:         logger,
	})

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("connect temporal: %w", err)
	}
	defer temporalClient.Close()

	w := sdkworker.New(temporalClient, cfg.Workflow.TaskQueue, sdkworker.Options{})
	worker.RegisterAll(w, acts)
	if err := w.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer w.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Warm the reference caches so the first query does not pay the fetch.
	for _, cache := range caches {
		go cache.Entries(ctx)
	}

	auth := httpapi.NewAuthenticator(cfg.Service.JWTSecret, cfg.Service.APIKeyHash, logger)
	api := httpapi.NewServer(temporalClient, events, auth, cfg.Workflow, logger)
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Service.HTTPPort),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/healthz", healthMgr.LivenessHandler())
	adminMux.HandleFunc("/readiness", healthMgr.ReadinessHandler())
	adminMux.Handle("/metrics", promhttp.Handler())
	adminServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Service.AdminPort),
		Handler:           adminMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Service.HTTPPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("Admin server listening", zap.Int("port", cfg.Service.AdminPort))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		logger.Error("Server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = adminServer.Shutdown(shutdownCtx)
	return nil
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "./config/dispatch.yaml"
}

// buildMarketResolver picks the resolution rules for a configured market.
func buildMarketResolver(m config.MarketConfig, cache *refdata.Cache, threshold int) (resolver.MarketResolver, error) {
	switch m.Name {
	case "krx":
		return resolver.NewKRXResolver(cache, m.Qualifier, m.CodeMinDigits, m.CodeMaxDigits, threshold), nil
	case "us":
		return resolver.NewUSEquityResolver(cache, threshold), nil
	case "crypto":
		return resolver.NewCryptoResolver(cache, threshold), nil
	default:
		return nil, fmt.Errorf("config: no resolver rules for market %q", m.Name)
	}
}

// registerMarketTools registers the market's provider tools, each granted
// only to that market's agent, and returns the intent-to-tool mapping the
// agent selects from. Order books only exist for crypto pairs.
func registerMarketTools(reg *registry.ToolRegistry, market, agentID string, provider *tools.ProviderClient) (map[string]string, error) {
	type toolDef struct {
		intent  string
		desc    string
		handler tools.Handler
	}
	defs := []toolDef{
		{"quote", "current price quote", tools.QuoteHandler(market+"_quote", provider)},
		{"chart", "OHLCV candles", tools.ChartHandler(market+"_chart", provider)},
		{"news", "recent headlines", tools.NewsHandler(market+"_news", provider)},
	}
	if market == "crypto" {
		defs = append(defs, toolDef{"orderbook", "current order book depth", tools.OrderbookHandler(market+"_orderbook", provider)})
	}

	byIntent := make(map[string]string, len(defs))
	for _, def := range defs {
		name := market + "_" + def.intent
		if err := reg.Register(registry.ToolMetadata{
			Name:          name,
			Description:   def.desc,
			InputSchema:   map[string]string{"symbol": "instrument identifier"},
			Handler:       def.handler,
			AllowedAgents: []string{agentID},
		}); err != nil {
			return nil, err
		}
		byIntent[def.intent] = name
	}
	return byIntent, nil
}
