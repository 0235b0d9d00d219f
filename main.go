package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"conductor/handlers"
	"conductor/pkg/analyzer"
	"conductor/pkg/assistants"
	"conductor/pkg/config"
	"conductor/pkg/eventlog"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/retry"
	"conductor/pkg/tools"
)

func main() {
	var configPath string
	var addr string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&addr, "addr", "", "Listen address (overrides config)")
	flag.Parse()

	// Use CONFIG_PATH env var if flag not provided
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	// Default to config/config.json
	if configPath == "" {
		configPath = "config/config.json"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if addr == "" {
		addr = cfg.Server.Addr()
	}

	logger := logx.NewLogger("conductor")
	recorder := metrics.NewPrometheusRecorder()

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay(),
		MaxDelay:    cfg.Retry.MaxDelay(),
		OnRetry: func(op string, attempt int, delay time.Duration, err error) {
			logger.Warn("Retrying %s (attempt %d) in %s: %v", op, attempt, delay, err)
			recorder.IncRetry(op)
		},
	}

	client := assistants.NewRESTClient(cfg.AgentAPI.BaseURL, cfg.AgentAPI.APIKey, cfg.AgentAPI.RequestTimeout())

	registry := tools.NewRegistry(recorder)
	registry.Register(tools.NewSearchInternetTool(config.IsSearchEnabled(cfg)))
	registry.Register(tools.NewFindSimilarScriptsTool(loadCatalog(cfg, logger)))
	registry.Seal()

	cache := assistants.NewCache(client, policy, assistants.CacheConfig{
		AssistantName:      cfg.AgentAPI.AssistantName,
		Model:              cfg.AgentAPI.Model,
		Instructions:       analyzer.AssistantInstructions,
		Tools:              registry.Specs(),
		DefaultAssistantID: cfg.AgentAPI.DefaultAssistantID,
	})

	runner := assistants.NewRunner(client, registry, policy, assistants.RunnerConfig{
		MaxTotalWait:   cfg.Run.MaxTotalWait(),
		PollBaseDelay:  cfg.Run.PollBaseDelay(),
		PollMaxDelay:   cfg.Run.PollMaxDelay(),
		ReadErrorDelay: cfg.Run.ReadErrorDelay(),
		Recorder:       recorder,
	})

	events, err := eventlog.NewWriter(cfg.EventLogDir, 0)
	if err != nil {
		log.Fatalf("Failed to create event log: %v", err)
	}

	analyzerCfg := analyzer.Config{
		InlineTokenBudget: cfg.Analyzer.InlineTokenBudget,
		Recorder:          recorder,
		Events:            events,
	}
	assistantAnalyzer := analyzer.New(client, cache, runner, policy, analyzerCfg)
	directAnalyzer := analyzer.NewDirectAnalyzer(cfg.AgentAPI.APIKey, cfg.Analyzer.DirectModel, policy, analyzerCfg)

	server := handlers.NewServer(assistantAnalyzer, directAnalyzer, cfg.Server.APIKey)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.StartServer(ctx, addr, cfg.Server.GracefulShutdownTimeout()); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	logger.Info("🚀 Conductor ready on %s", addr)

	<-ctx.Done()
	logger.Info("Received shutdown signal, draining")
	<-server.Done()

	if err := events.Close(); err != nil {
		logger.Error("Failed to close event log: %v", err)
	}
	logger.Info("Conductor shutdown completed")
}

// loadCatalog reads the similar-scripts catalog, falling back to the built-in
// one when no path is configured or the file is unreadable.
func loadCatalog(cfg *config.Config, logger *logx.Logger) []tools.CatalogEntry {
	if cfg.CatalogPath == "" {
		return tools.DefaultCatalog()
	}

	catalog, err := tools.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		logger.Warn("Failed to load script catalog from %s, using built-in catalog: %v", cfg.CatalogPath, err)
		return tools.DefaultCatalog()
	}

	logger.Info("Loaded %d catalog scripts from %s", len(catalog), cfg.CatalogPath)
	return catalog
}
