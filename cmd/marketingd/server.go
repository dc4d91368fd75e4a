package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/api"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/config"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/engine"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/generation"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/jobs"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/learning"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/memory"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/metrics"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/orchestrator"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/scheduler"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/usage"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine: HTTP API, MCP server, worker pool and schedules (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		reindex, _ := cmd.Flags().GetBool("reindex")
		return runServer(reindex)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running marketingd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show marketingd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd)
	},
}

func init() {
	serveCmd.Flags().Bool("reindex", false, "rebuild the vector index from stored memory before serving")
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "marketingd.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// backends picks the reasoning and embedding services. Embeddings always come
// from Ollama; reasoning comes from Anthropic unless configured otherwise.
// The returned model names must be present on the Ollama host.
func backends(cfg config.Config, logger *slog.Logger) (engine.Reasoner, *engine.OllamaEngine, []string) {
	ollamaEngine := engine.NewOllamaEngine(cfg.Ollama.BaseURL, cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel)
	models := []string{cfg.Ollama.EmbedModel}
	if cfg.Reasoning.Provider == "ollama" {
		return ollamaEngine, ollamaEngine, append(models, cfg.Ollama.ChatModel)
	}
	return engine.NewAnthropicReasoner(cfg.Anthropic.APIKey, cfg.Reasoning.Model, logger), ollamaEngine, models
}

func openIndex(cfg config.Config, store *storage.Store) (memory.Index, error) {
	if cfg.Memory.Backend == "chromem" {
		ix, err := memory.OpenChromemIndex(filepath.Join(cfg.Storage.DataDir, "vectors"))
		if err != nil {
			return nil, fmt.Errorf("opening vector index: %w", err)
		}
		return ix, nil
	}
	return memory.NewSQLiteIndex(store), nil
}

func runServer(reindex bool) error {
	fmt.Fprintf(os.Stderr, "marketingd version %s\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	if cfg.Server.AuthToken == "" {
		printWarning("server.auth_token is empty; every /v1 request will be rejected")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reasoner, embedder, models := backends(cfg, logger)
	printStep("Checking Ollama at %s", cfg.Ollama.BaseURL)
	if err := engine.EnsureReady(ctx, embedder, models, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	index, err := openIndex(cfg, store)
	if err != nil {
		return err
	}
	mem := memory.NewStore(store, embedder, index, memory.Options{
		EmbedTimeout: cfg.Embedding.Timeout,
		Metrics:      m,
		Logger:       logger,
	})
	if reindex {
		if err := reindexAll(ctx, store, mem); err != nil {
			return err
		}
	}

	guard := usage.NewGuard(store, m, logger)
	queue := jobs.NewQueue(store, logger)
	gen := generation.NewGenerator(reasoner, store, cfg.Reasoning.MaxTokens, cfg.Reasoning.Timeout, logger)
	content := worker.NewContentHandler(gen, guard, logger)
	if cfg.Usage.HardCap {
		content = content.WithHardCap()
	}
	pool := worker.NewPool(queue, worker.DefaultHandlers(content), worker.Options{
		Poll:       cfg.Worker.PollInterval,
		BatchSize:  cfg.Worker.BatchSize,
		StaleAfter: cfg.Worker.StaleAfter,
		Metrics:    m,
		Logger:     logger,
	})
	orch := orchestrator.New(store, mem, guard, queue, reasoner, orchestrator.Options{
		TrendLimit: cfg.Orchestrator.TrendLimit,
		MaxTokens:  cfg.Reasoning.MaxTokens,
		Timeout:    cfg.Reasoning.Timeout,
		Metrics:    m,
		Logger:     logger,
	})
	loop := learning.New(store, mem, reasoner, learning.Options{
		Window:    cfg.Learning.Window,
		AutoApply: cfg.Learning.AutoApply,
		Timeout:   cfg.Reasoning.Timeout,
		Metrics:   m,
		Logger:    logger,
	})

	sched := scheduler.New(store, logger)
	if err := sched.Register(scheduler.Task{
		Name:     "orchestrate",
		Interval: cfg.Orchestrator.Interval,
		Run: func(ctx context.Context, tenantID string) error {
			_, err := orch.RunTenant(ctx, tenantID)
			return err
		},
	}); err != nil {
		return err
	}
	if err := sched.Register(scheduler.Task{
		Name:     "learn",
		Interval: cfg.Learning.Interval,
		Run: func(ctx context.Context, tenantID string) error {
			_, err := loop.Run(ctx, tenantID)
			return err
		},
	}); err != nil {
		return err
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Memory: mem, Guard: guard, Queue: queue})

	top := chi.NewRouter()
	top.Handle("/mcp", api.BearerAuth(cfg.Server.AuthToken)(server.NewStreamableHTTPServer(mcpSrv)))
	top.Mount("/", api.NewRouter(api.Deps{
		Store:        store,
		Memory:       mem,
		Guard:        guard,
		Queue:        queue,
		Pool:         pool,
		Orchestrator: orch,
		Learning:     loop,
		Gatherer:     registry,
		Token:        cfg.Server.AuthToken,
		Logger:       logger,
	}))

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           top,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		pool.Run(ctx)
	}()
	go func() {
		defer background.Done()
		sched.Run(ctx)
	}()

	if cfg.Server.MCPStdio {
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "marketingd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	// In-flight jobs and cycles finish their terminal writes before storage closes.
	background.Wait()
	return serveErr
}

func reindexAll(ctx context.Context, store *storage.Store, mem *memory.Store) error {
	tenants, err := store.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}
	for _, t := range tenants {
		n, err := mem.Reindex(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("reindexing %s: %w", t.ID, err)
		}
		printStep("Reindexed %d entries for %s", n, t.ID)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("marketingd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop marketingd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to marketingd (PID %d)", pid)
	return nil
}

func showStatus(cmd *cobra.Command) error {
	w := cmd.OutOrStdout()
	cfg, err := config.Load(configPath)
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	base := serverURL
	if base == "" {
		base = fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	}
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(base + "/health")
	if err != nil {
		printStatus(w, "Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus(w, "Server", "running at %s", base)
		} else {
			printStatus(w, "Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus(w, "Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus(w, "Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus(w, "Reasoning", "%s (%s)", cfg.Reasoning.Provider, reasoningModel(cfg))
	printStatus(w, "Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus(w, "Memory backend", "%s", cfg.Memory.Backend)
	printStatus(w, "Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func reasoningModel(cfg config.Config) string {
	if cfg.Reasoning.Provider == "ollama" {
		return cfg.Ollama.ChatModel
	}
	return cfg.Reasoning.Model
}
