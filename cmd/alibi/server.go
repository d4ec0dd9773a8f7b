package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
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

	"github.com/kalambet/alibi/internal/api"
	"github.com/kalambet/alibi/internal/config"
	"github.com/kalambet/alibi/internal/excuse"
	"github.com/kalambet/alibi/internal/proof"
	"github.com/kalambet/alibi/internal/provider"
	"github.com/kalambet/alibi/internal/retention"
	"github.com/kalambet/alibi/internal/speech"
	"github.com/kalambet/alibi/internal/storage"
	"github.com/kalambet/alibi/internal/store"
)

const shutdownTimeout = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the alibi server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running alibi server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show alibi server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
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
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// services holds everything the server wires together.
type services struct {
	deps    api.Deps
	history *storage.Store
}

func (s *services) Close() {
	if s.history == nil {
		return
	}
	if err := s.history.Close(); err != nil {
		slog.Warn("closing history archive", "error", err)
	}
}

func buildServices(cfg config.Config) (*services, error) {
	for _, dir := range []string{cfg.Storage.DataDir, cfg.ProofDir(), cfg.AudioDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	client := provider.NewClient(cfg.Provider.APIToken,
		provider.WithEndpoint(cfg.Provider.Endpoint),
		provider.WithTimeout(cfg.ProviderTimeout()),
		provider.WithParameters(provider.Parameters{
			MaxNewTokens: cfg.Provider.MaxNewTokens,
			Temperature:  cfg.Provider.Temperature,
			TopP:         cfg.Provider.TopP,
		}),
	)

	svc := &services{}
	var archive excuse.Archive
	if cfg.Storage.HistoryEnabled {
		h, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening history archive: %w", err)
		}
		svc.history = h
		archive = h
	}

	registry := store.New()
	svc.deps = api.Deps{
		Excuses:  excuse.NewService(client, registry, archive),
		Registry: registry,
		Saved:    store.NewSavedStore(cfg.SavedExcusesPath()),
		Proofs: proof.New(proof.Config{
			Dir:       cfg.ProofDir(),
			FontPaths: cfg.FontPaths(),
			Provider:  client,
		}),
		Speech: speech.NewService(
			speech.NewClient(speech.WithEndpoint(cfg.Speech.Endpoint), speech.WithTimeout(cfg.ProviderTimeout())),
			cfg.AudioDir(),
		),
		History: svc.history,
		Limiter: api.NewIPRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	}
	return svc, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "alibi version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	// Refuse to start twice on the same address.
	pidPath := cfg.PIDFile()
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get("http://" + cfg.Addr() + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("alibi is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("alibi is already running on %s", cfg.Addr())
		return fmt.Errorf("server already running on %s", cfg.Addr())
	}

	svc, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewHandler(svc.deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("alibi listening", "addr", cfg.Addr(), "data_dir", cfg.Storage.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if ttl := cfg.ArtifactTTL(); ttl > 0 {
		sweeper := retention.NewSweeper([]string{cfg.ProofDir(), cfg.AudioDir()}, ttl, 0)
		g.Go(func() error {
			sweeper.Run(gctx)
			return nil
		})
	}

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(svc.deps))
		g.Go(func() error {
			slog.Info("MCP server started (stdio transport)")
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
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

	pidPath := cfg.PIDFile()
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("alibi is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop alibi (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to alibi (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	running := false
	var health struct {
		SchemaVersion int `json:"schema_version"`
	}
	resp, err := client.Get("http://" + cfg.Addr() + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on %s", cfg.Addr())
			if decodeJSON(resp, &health) == nil && health.SchemaVersion > 0 {
				printStatus("History schema", "v%d", health.SchemaVersion)
			}
		} else {
			resp.Body.Close()
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}
	if pid, err := readPIDFile(cfg.PIDFile()); err == nil {
		printStatus("PID", "%d", pid)
	}

	if cfg.Provider.APIToken == "" {
		printStatus("Provider token", "%s", colorize(colorYellow, "unset"))
	} else {
		printStatus("Provider token", "set")
	}
	printStatus("Provider", "%s", cfg.Provider.Endpoint)

	if running {
		c := &apiClient{baseURL: "http://" + cfg.Addr(), httpClient: client}
		var ins struct {
			TotalExcuses int `json:"total_excuses"`
		}
		if r, err := c.get(context.Background(), "/insights"); err == nil && decodeJSON(r, &ins) == nil {
			printStatus("Excuses", "%d this session", ins.TotalExcuses)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
