package main

import (
	"context"
	"encoding/json"
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
	"github.com/spf13/cobra"

	"github.com/kalambet/attachd/internal/api"
	"github.com/kalambet/attachd/internal/blob"
	"github.com/kalambet/attachd/internal/config"
	"github.com/kalambet/attachd/internal/extract"
	"github.com/kalambet/attachd/internal/ingest"
	"github.com/kalambet/attachd/internal/ollama"
	"github.com/kalambet/attachd/internal/storage"
	"github.com/kalambet/attachd/internal/summarize"
	"github.com/kalambet/attachd/internal/whisper"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the attachd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running attachd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show attachd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "attachd.pid")
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

// parseDurationOr parses a config duration string, logging and falling back
// to def when the value does not parse.
func parseDurationOr(value string, def time.Duration, key string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration in config, using default", "key", key, "value", value, "default", def)
		return def
	}
	return d
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "attachd version %s\n", version)

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

	// Make sure there is a bearer token to gate the API with.
	generated, err := config.EnsureAPIToken(&cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	if generated {
		slog.Info("generated new API bearer token", "config_key", "server.api_token")
	}

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("attachd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("attachd is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the ledger and the blob store.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	blobs := blob.NewStore(cfg.Storage.DataDir)

	// Extraction backends. Both are optional at startup: files of a category
	// whose backend is down simply fail extraction and can be reprocessed.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	whisperClient := whisper.New(cfg.Whisper.BaseURL)
	if !ollamaClient.IsRunning(ctx) {
		slog.Warn("ollama is not reachable; image extraction and summaries will fail until it is up", "base_url", cfg.Ollama.BaseURL)
	}
	if !whisperClient.IsRunning(ctx) {
		slog.Warn("whisper is not reachable; audio extraction will fail until it is up", "base_url", cfg.Whisper.BaseURL)
	}

	extractTimeout := parseDurationOr(cfg.Worker.ExtractTimeout, 2*time.Minute, "worker.extract_timeout")
	audioTimeout := parseDurationOr(cfg.Worker.AudioTimeout, 20*time.Minute, "worker.audio_timeout")

	// Archive and other files are intentionally not registered: the worker
	// never claims categories without an extractor.
	dispatcher := extract.NewDispatcher(extractTimeout)
	dispatcher.Register(storage.CategoryText, extract.TextExtractor{}, extractTimeout)
	dispatcher.Register(storage.CategoryDocument, extract.DocumentExtractor{}, extractTimeout)
	dispatcher.Register(storage.CategoryAudio, extract.NewAudioExtractor(whisperClient), audioTimeout)
	dispatcher.Register(storage.CategoryImage, extract.NewImageExtractor(ollamaClient, cfg.Ollama.VisionModel), extractTimeout)

	// Start the ingest worker pool.
	pollInterval := parseDurationOr(cfg.Worker.PollInterval, 2*time.Second, "worker.poll_interval")
	staleAfter := parseDurationOr(cfg.Worker.StaleAfter, 30*time.Minute, "worker.stale_after")
	worker := ingest.NewWorker(store, blobs, dispatcher, pollInterval, cfg.Worker.Concurrency, staleAfter)
	go worker.Run(ctx)

	// Start the summary loop.
	if cfg.Summary.Enabled {
		summaryPoll := parseDurationOr(cfg.Summary.PollInterval, 15*time.Second, "summary.poll_interval")
		summaryTimeout := parseDurationOr(cfg.Summary.Timeout, 10*time.Minute, "summary.timeout")
		summarizer := summarize.NewSummarizer(store, ollamaClient, cfg.Ollama.SummaryModel, summaryPoll, summaryTimeout)
		go summarizer.Run(ctx)
	}

	// Build HTTP handler and server.
	handler := api.NewAppHandler(api.AppDeps{
		Store: store,
		Blobs: blobs,
		Token: cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "attachd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
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
		printError("attachd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop attachd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to attachd (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	serverUp := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			serverUp = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check extraction backends.
	whisperResp, err := client.Get(cfg.Whisper.BaseURL + "/health")
	if err != nil {
		printStatus("Whisper", "not running")
	} else {
		whisperResp.Body.Close()
		printStatus("Whisper", "running at %s", cfg.Whisper.BaseURL)
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Vision model", "%s", cfg.Ollama.VisionModel)
	printStatus("Summary model", "%s", cfg.Ollama.SummaryModel)

	// Show queue depth if the server is up.
	if serverUp && cfg.Server.APIToken != "" {
		statsResp, err := apiGet(client, serverURL+"/api/stats", cfg.Server.APIToken)
		if err == nil {
			var stats struct {
				Total    int            `json:"total"`
				ByStatus map[string]int `json:"by_status"`
			}
			if json.NewDecoder(statsResp.Body).Decode(&stats) == nil {
				printStatus("Files", "%d total", stats.Total)
				for _, name := range []string{"unprocessed", "processing", "processed", "failed", "do_not_process"} {
					if n := stats.ByStatus[name]; n > 0 {
						printStatus("  "+name, "%d", n)
					}
				}
			}
			statsResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
