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
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/historian/internal/access"
	"github.com/kalambet/historian/internal/api"
	"github.com/kalambet/historian/internal/cache"
	"github.com/kalambet/historian/internal/config"
	"github.com/kalambet/historian/internal/enrich"
	"github.com/kalambet/historian/internal/llm"
	"github.com/kalambet/historian/internal/ollama"
	"github.com/kalambet/historian/internal/pipeline"
	"github.com/kalambet/historian/internal/records"
	"github.com/kalambet/historian/internal/storage"
	"github.com/kalambet/historian/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the historian server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running historian server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show historian status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "historian.pid")
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

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "historian version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// stdout is reserved for the MCP transport, so logs always go to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("historian is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("historian is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	recs := records.New(store, cfg.Records.Seed)

	var backend cache.Backend = cache.NewItemBackend(store)
	if cfg.Cache.RedisURL != "" {
		rb, err := cache.NewRedisBackend(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return err
		}
		defer rb.Close()
		backend = rb
		slog.Info("reference cache backed by redis")
	}
	refs := cache.New(backend, store)

	opts := llm.Options{
		Provider:        cfg.AI.Provider,
		BaseURL:         cfg.AI.BaseURL,
		Model:           cfg.AI.Model,
		APIKey:          cfg.AI.APIKey,
		MaxOutputTokens: cfg.AI.MaxOutputTokens,
		OllamaURL:       cfg.Ollama.BaseURL,
	}
	if _, err := refs.EnsureFingerprint(ctx, llm.Fingerprint(opts)); err != nil {
		return err
	}
	if llm.NormalizeProvider(opts.Provider) == llm.ProviderOllama {
		if err := ollama.EnsureModel(ctx, ollama.New(cfg.Ollama.BaseURL), opts.ModelFor(), os.Stderr); err != nil {
			slog.Warn("ollama not ready, references will fail until it is", "error", err)
		}
	}
	gen, err := llm.New(opts)
	if err != nil {
		return fmt.Errorf("configuring text generation: %w", err)
	}
	client := enrich.NewClient(gen, cfg.AI.Timeout)
	if client.Configured() {
		slog.Info("text generation ready", "provider", llm.NormalizeProvider(opts.Provider), "model", client.Model())
	} else {
		slog.Warn("ai.api_key is not set, references will report a missing key")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	orch := pipeline.New(recs, client, refs, store, pipeline.NewMetrics(reg))

	gate := access.New(cfg.Access.Key, store)
	if !gate.Configured() {
		slog.Warn("access.key is not set, every login will be rejected")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewHandler(api.Deps{
			Store:        store,
			Records:      recs,
			Orchestrator: orch,
			Cache:        refs,
			Gate:         gate,
			Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "historian listening on http://%s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	w := worker.New(store, orch, cfg.Worker.PollInterval)
	g.Go(func() error {
		return w.Run(gctx)
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Records: recs, Orchestrator: orch}, version)
		stdio := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// Storage closes after this returns; let detached generations land first.
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.AI.Timeout+5*time.Second)
	defer cancel()
	if werr := orch.Wait(drainCtx); werr != nil {
		slog.Warn("reference generations still running at shutdown", "error", werr)
	}
	return err
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("historian is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop historian (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to historian (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	opts := llm.Options{Provider: cfg.AI.Provider, Model: cfg.AI.Model}
	provider := llm.NormalizeProvider(cfg.AI.Provider)
	printStatus("Provider", "%s", provider)
	printStatus("Model", "%s", opts.ModelFor())
	if provider == llm.ProviderOllama {
		if ollama.New(cfg.Ollama.BaseURL).IsRunning(ctx) {
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		} else {
			printStatus("Ollama", "not running")
		}
	} else {
		printStatus("API key", "%s", setLabel(cfg.AI.APIKey))
	}
	printStatus("Access key", "%s", setLabel(cfg.Access.Key))
	if cfg.Cache.RedisURL != "" {
		printStatus("Cache", "redis")
	} else {
		printStatus("Cache", "local")
	}

	if running && cfg.Access.Key != "" {
		c := &apiClient{baseURL: serverURL, token: cfg.Access.Key, httpClient: client}
		if n, err := countOf(ctx, c, "/api/timeline"); err == nil {
			printStatus("Timeline entries", "%d", n)
		}
		if n, err := countOf(ctx, c, "/api/learning"); err == nil {
			printStatus("Learning records", "%d", n)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func setLabel(v string) string {
	if v == "" {
		return "unset"
	}
	return "set"
}

func countOf(ctx context.Context, c *apiClient, path string) (int, error) {
	resp, err := c.get(ctx, path)
	if err != nil {
		return 0, err
	}
	var items []struct{}
	if err := decodeJSON(resp, &items); err != nil {
		return 0, err
	}
	return len(items), nil
}
