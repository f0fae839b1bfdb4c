package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus-core/internal/agent"
	"github.com/haasonsaas/nexus-core/internal/approval"
	"github.com/haasonsaas/nexus-core/internal/comms"
	"github.com/haasonsaas/nexus-core/internal/config"
	"github.com/haasonsaas/nexus-core/internal/costguard"
	"github.com/haasonsaas/nexus-core/internal/gateway"
	"github.com/haasonsaas/nexus-core/internal/memory"
	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/internal/proactive"
	"github.com/haasonsaas/nexus-core/internal/prompt"
	"github.com/haasonsaas/nexus-core/internal/provisioning"
	"github.com/haasonsaas/nexus-core/internal/ratelimit"
	"github.com/haasonsaas/nexus-core/internal/secrets"
	"github.com/haasonsaas/nexus-core/internal/sessions"
	"github.com/haasonsaas/nexus-core/internal/tasks"
	"github.com/haasonsaas/nexus-core/internal/tools"
	"github.com/haasonsaas/nexus-core/internal/tools/builtin"
	"github.com/haasonsaas/nexus-core/internal/trace"
	"github.com/haasonsaas/nexus-core/internal/usage"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

const (
	defaultDatabaseURL = "file:nexus-core.db"
	defaultHTTPAddr    = ":8080"
	shutdownTimeout    = 15 * time.Second
)

// runServe wires every component and blocks until SIGINT/SIGTERM.
func runServe(ctx context.Context, configPath string, debug bool) error {
	level := "info"
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level, Format: "json"})

	logger.Info(ctx, "starting nexus-core",
		"version", version, "commit", commit, "debug", debug)

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = defaultDatabaseURL
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	projectStore, err := provisioning.NewStore(db)
	if err != nil {
		return fmt.Errorf("provisioning store: %w", err)
	}
	promptStore, err := prompt.NewStore(db)
	if err != nil {
		return fmt.Errorf("prompt store: %w", err)
	}
	sessionStore, err := sessions.NewStore(db)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	traceStore, err := trace.NewStore(db)
	if err != nil {
		return fmt.Errorf("trace store: %w", err)
	}
	usageStore, err := usage.NewStore(db)
	if err != nil {
		return fmt.Errorf("usage store: %w", err)
	}
	memoryStore, err := memory.NewStore(db)
	if err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	taskStore, err := tasks.NewStore(db)
	if err != nil {
		return fmt.Errorf("task store: %w", err)
	}
	queue, err := proactive.NewQueue(db)
	if err != nil {
		return fmt.Errorf("proactive queue: %w", err)
	}

	cipher, err := secrets.CipherFromEnv()
	if err != nil {
		return fmt.Errorf("secret store cipher: %w", err)
	}
	secretStore, err := secrets.NewStore(db, cipher)
	if err != nil {
		return fmt.Errorf("secret store: %w", err)
	}

	gate, err := approval.NewGate(db, nil, logger)
	if err != nil {
		return fmt.Errorf("approval gate: %w", err)
	}

	memoryManager := memory.NewManager(memoryStore, newEmbedder(ctx, logger),
		models.MemoryConfig{LongTermEnabled: true, TopK: 5}, logger)

	bus := comms.NewBus(logger)

	toolRegistry := tools.NewRegistry(logger, metrics)
	for _, tool := range []tools.Tool{
		builtin.NewCalculator(),
		builtin.NewStayPricing(),
		builtin.NewRemember(memoryManager),
		builtin.NewSendMessage(bus),
	} {
		if err := toolRegistry.Register(tool); err != nil {
			return fmt.Errorf("register tool: %w", err)
		}
	}

	guard := costguard.NewGuard(usageStore, ratelimit.NewLimiter(), logger, metrics)
	runner := agent.NewRunner(agent.Deps{
		Guard:     guard,
		Registry:  toolRegistry,
		Prompts:   prompt.NewResolver(promptStore),
		Memory:    memoryManager,
		Approvals: gate,
		Sessions:  sessionStore,
		Traces:    traceStore,
		Logger:    logger,
		Metrics:   metrics,
	})

	if configPath != "" {
		if err := registerConfiguredProject(ctx, configPath, projectStore, promptStore, logger); err != nil {
			return err
		}
	}

	messenger := proactive.NewMessenger(queue, logger)
	messenger.Start(ctx)
	defer messenger.Stop()

	executor := tasks.NewExecutor(taskStore, runner, projectStore.GetProject, sessionStore, logger)
	if err := executor.Start(ctx); err != nil {
		return fmt.Errorf("task executor: %w", err)
	}
	defer executor.Stop()

	server := gateway.NewServer(gateway.Deps{
		DB:        db,
		Projects:  projectStore,
		Onboarder: provisioning.NewOnboarder(projectStore, promptStore, logger),
		Sessions:  sessionStore,
		Traces:    traceStore,
		Secrets:   secretStore,
		Approvals: gate,
		Messenger: messenger,
		Runner:    runner,
		Logger:    logger,
		Gatherer:  registry,
	})

	addr := os.Getenv("NEXUS_HTTP_ADDR")
	if addr == "" {
		addr = defaultHTTPAddr
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stopCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-stopCtx.Done():
	}

	logger.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// registerConfiguredProject upserts the project described by a config file.
// A brand-new project also gets the default prompt layers so the first chat
// has something to resolve.
func registerConfiguredProject(ctx context.Context, path string, store *provisioning.Store, prompts *prompt.Store, logger *observability.Logger) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	project := cfg.Project()

	existing, err := store.GetProject(ctx, project.ID)
	switch {
	case err == nil:
		if err := store.UpdateProjectConfig(ctx, project.ID, project.Config); err != nil {
			return fmt.Errorf("update project config: %w", err)
		}
		logger.Info(ctx, "project configuration updated",
			"projectId", string(project.ID), "name", existing.Name)
	case nexuserr.HasCode(err, nexuserr.CodeNotFound):
		if _, err := store.CreateProject(ctx, project); err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		if _, err := provisioning.SeedDefaultLayers(ctx, prompts, project.ID, project.Owner); err != nil {
			return fmt.Errorf("seed prompt layers: %w", err)
		}
		logger.Info(ctx, "project registered from config",
			"projectId", string(project.ID), "name", project.Name)
	default:
		return fmt.Errorf("look up project: %w", err)
	}
	return nil
}

// newEmbedder builds the memory embedder when OPENAI_API_KEY is present.
// Without it, memory falls back to recency-only retrieval.
func newEmbedder(ctx context.Context, logger *observability.Logger) memory.Embedder {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		logger.Warn(ctx, "OPENAI_API_KEY not set, semantic memory retrieval disabled")
		return nil
	}
	embedder, err := memory.NewOpenAIEmbedder(apiKey, "", "")
	if err != nil {
		logger.Warn(ctx, "embedder init failed, semantic memory retrieval disabled", "error", err)
		return nil
	}
	return embedder
}

// runValidateConfig implements the validate-config command.
func runValidateConfig(out io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "ok: %s (%s, %s)\n", cfg.ID, cfg.Name, cfg.Environment)
	return nil
}
