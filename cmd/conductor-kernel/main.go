package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/sonika-ai/conductor/internal/adapters/duckdb"
	"github.com/sonika-ai/conductor/internal/adapters/llm"
	appconfig "github.com/sonika-ai/conductor/internal/config"
	"github.com/sonika-ai/conductor/internal/core/domain"
	"github.com/sonika-ai/conductor/internal/core/services"
	"github.com/sonika-ai/conductor/pkg/kernel"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting conductor kernel")

	if err := run(logger); err != nil {
		logger.Error("kernel startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	// Persistence
	dbPath := os.Getenv("CONDUCTOR_DB_PATH")
	if dbPath == "" {
		dbPath = "conductor.db"
	}
	repo, err := duckdb.NewRepository(dbPath)
	if err != nil {
		return fmt.Errorf("failed to init repository: %w", err)
	}
	defer repo.Close()

	// Configuration: file/env bootstrap seeds the encrypted settings store
	bootCfg, err := appconfig.Bootstrap(os.Getenv("CONDUCTOR_CONFIG"))
	if err != nil {
		return fmt.Errorf("failed to bootstrap config: %w", err)
	}
	secretKey, err := appconfig.NewSecretKey()
	if err != nil {
		return fmt.Errorf("failed to init secret key: %w", err)
	}
	settingsStore, err := appconfig.NewSettingsStore(logger, repo, secretKey, bootCfg)
	if err != nil {
		return fmt.Errorf("failed to init settings store: %w", err)
	}
	cfg := settingsStore.GetConfig()

	// Telemetry
	eventBus := services.NewEventBus(logger)
	tracer := services.NewTraceCollector(logger, eventBus, repo)

	// Model provider
	provider := llm.NewOpenAIProvider(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.DefaultModel)

	// Tool registry — built-in tools plus whatever deployments add
	kb := services.NewKnowledgeBase()
	toolRegistry := domain.NewToolRegistry()
	for _, tool := range []*domain.Tool{
		services.NewKnowledgeSearchTool(kb),
		services.NewPolicyLookupTool(kb),
		services.NewCurrentTimeTool(),
		services.NewWebFetchTool(),
	} {
		if err := toolRegistry.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}

	// Prompt rules attach usage policy to tools; they only fire when the
	// named tool is actually registered.
	rules := []services.PromptRule{
		{
			WhenTool: "knowledge_search",
			Text:     "Before answering a factual question, search the knowledge base first and ground your answer in what it returns.",
		},
		{
			WhenTool: "policy_lookup",
			Text:     "When the user asks about rules, refunds or cancellations, look up the relevant policy and quote it rather than paraphrasing from memory.",
		},
	}

	// Core services
	planner := services.NewPlanner(logger, provider, tracer, rules, cfg.Agent.MaxIterations)
	architect := services.NewArchitect(logger, provider, tracer)
	synthesizer := services.NewResponseSynthesizer(logger, provider, tracer)
	pipeline := services.NewPipeline(logger, planner, synthesizer, tracer, toolRegistry, cfg.Agent.MaxToolRetries)

	// Stream tool and planner activity to SSE clients
	observer := services.NewEventObserver(eventBus)
	pipeline.AddToolObserver(observer)
	planner.AddObserver(observer)

	convStore := services.NewConversationStore(repo, 64)
	bot := services.NewBot(logger, architect, pipeline, convStore, tracer, cfg.Agent)

	// HTTP surface
	apiServer, err := kernel.NewServer(logger, bot, eventBus, settingsStore, convStore, tracer, toolRegistry)
	if err != nil {
		return fmt.Errorf("failed to init api server: %w", err)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	addr := os.Getenv("CONDUCTOR_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:    addr,
		Handler: c.Handler(apiServer.Handler()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting api server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
