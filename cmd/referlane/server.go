package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
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
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/referlane/referlane/internal/api"
	"github.com/referlane/referlane/internal/budget"
	"github.com/referlane/referlane/internal/config"
	"github.com/referlane/referlane/internal/enrich"
	"github.com/referlane/referlane/internal/funnel"
	"github.com/referlane/referlane/internal/interaction"
	"github.com/referlane/referlane/internal/nudge"
	"github.com/referlane/referlane/internal/profile"
	"github.com/referlane/referlane/internal/provider"
	"github.com/referlane/referlane/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the referlane server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running referlane server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show referlane system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "referlane.pid")
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

// loadOrCreateToken resolves the API bearer token: explicit config wins,
// otherwise a generated token persisted in the data dir so the CLI and the
// server agree across restarts.
func loadOrCreateToken(cfg config.Config) (string, error) {
	if cfg.Server.APIToken != "" {
		return cfg.Server.APIToken, nil
	}

	path := filepath.Join(cfg.Storage.DataDir, "api_token")
	if data, err := os.ReadFile(path); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return "", fmt.Errorf("writing API token: %w", err)
	}
	return token, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "referlane version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := loadOrCreateToken(cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("referlane is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("referlane is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the engine: providers, budget-bounded cache, nudge generator.
	manager := profile.NewManager(store)

	cache := budget.New(budget.Limits{
		DailyUSD:    cfg.Budget.DailyLimitUSD,
		DailyTokens: cfg.Budget.DailyTokenLimit,
		HourlyCalls: cfg.Budget.HourlyCallLimit,
	}, cfg.Budget.CacheTTL())
	sweeper := budget.NewSweeper(cache, cfg.Budget.SweepInterval())
	sweeper.Start()
	defer sweeper.Stop()

	var completer nudge.Completer
	if cfg.Enrich.APIKey != "" {
		completer = enrich.NewClient(cfg.Enrich.APIKey, cfg.Enrich.Model,
			enrich.WithBaseURL(cfg.Enrich.BaseURL),
			enrich.WithTimeout(cfg.Enrich.Timeout()),
			enrich.WithCostRate(cfg.Enrich.CostPer1KUSD),
		)
	} else {
		slog.Warn("no enrichment API key configured, nudges use template text only")
	}

	var generator *nudge.Generator
	if completer != nil {
		generator = nudge.NewGenerator(cache, completer,
			nudge.WithMaxCandidates(cfg.Nudge.MaxCandidates),
			nudge.WithConcurrency(cfg.Nudge.EnrichConcurrency),
		)
	} else {
		generator = nudge.NewGenerator(nil, nil, nudge.WithMaxCandidates(cfg.Nudge.MaxCandidates))
	}

	deps := api.Deps{
		Jobs:     provider.NewSQLiteJobProvider(store),
		Profiles: provider.NewSQLiteProfileProvider(manager),
		Manager:  manager,
		Nudges:   generator,
		Recorder: interaction.NewRecorder(store),
		Funnel:   funnel.NewAggregator(store),
		Budget:   cache,
		Summary:  completer,
		Store:    store,
		Token:    apiToken,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	mcpSrv := server.NewStreamableHTTPServer(api.NewMCPServer(deps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("referlane listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("MCP server listening", "addr", mcpAddr)
		if err := mcpSrv.Start(mcpAddr); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mcpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("MCP shutdown", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
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
		printError("referlane is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop referlane (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to referlane (PID %d)", pid)
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

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Enrich model", "%s", cfg.Enrich.Model)
	if cfg.Enrich.APIKey == "" {
		printStatus("Enrichment", "disabled (no API key)")
	} else {
		printStatus("Enrichment", "enabled via %s", cfg.Enrich.BaseURL)
	}

	// Show budget state if the server is up.
	if running {
		if cli, err := newAPIClient(); err == nil {
			if budgetResp, err := cli.get(ctx, "/v1/budget"); err == nil {
				var status struct {
					State struct {
						DailySpendUSD float64 `json:"dailySpendUsd"`
						CallsThisHour int     `json:"callCountThisHour"`
					} `json:"state"`
					Entries int `json:"entries"`
				}
				if json.NewDecoder(budgetResp.Body).Decode(&status) == nil {
					printStatus("Daily spend", "$%.4f", status.State.DailySpendUSD)
					printStatus("Calls this hour", "%d", status.State.CallsThisHour)
					printStatus("Cached enrichments", "%d", status.Entries)
				}
				budgetResp.Body.Close()
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
