// ABOUTME: Entry point for the toolgate federation gateway.
// ABOUTME: Starts backend adapters, builds the registry, and serves the router.

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/toolgate/internal/adapter"
	"github.com/2389/toolgate/internal/auth"
	"github.com/2389/toolgate/internal/config"
	"github.com/2389/toolgate/internal/gateway"
	"github.com/2389/toolgate/internal/memory"
	"github.com/2389/toolgate/internal/registry"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _              _             _
| |_ ___   ___ | | __ _  __ _| |_ ___
| __/ _ \ / _ \| |/ _' |/ _' | __/ _ \
| || (_) | (_) | | (_| | (_| | ||  __/
 \__\___/ \___/|_|\__, |\__,_|\__\___|
                  |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: TOOLGATE_CONFIG env var > XDG_CONFIG_HOME/toolgate/gateway.yaml > ~/.config/toolgate/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TOOLGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "toolgate", "gateway.yaml")
}

// getDataPath returns the path to the toolgate data directory.
// Priority: XDG_DATA_HOME/toolgate > ~/.local/share/toolgate
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "toolgate")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: toolgate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                    Start the gateway server")
		fmt.Println("  init                     Write a starter config and backends manifest")
		fmt.Println("  token --caller ID        Mint a bearer token for a caller")
		fmt.Println("  health                   Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	manifestPath := cfg.Adapters.Manifest
	if manifestPath == "" {
		manifestPath = filepath.Join(filepath.Dir(configPath), "backends.toml")
	}
	manifest, err := config.LoadManifest(manifestPath)
	if err != nil {
		return fmt.Errorf("loading backends manifest: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Backends: %s (%d entries)\n", manifestPath, len(manifest.Backends))
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	fmt.Println()

	logger.Info("starting toolgate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"backends", len(manifest.Backends),
	)

	reg := registry.New(logger)
	defer reg.Close()

	adapters, err := buildAdapters(manifest, cfg, logger)
	if err != nil {
		return err
	}

	// Start backends in parallel. A backend that exhausts its start
	// attempts fails the whole serve; a half-federated gateway is worse
	// than a loud failure at boot.
	// The group collects errors only; backends get the serve context so
	// their connections outlive the startup phase.
	var g errgroup.Group
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			if err := a.Start(ctx); err != nil {
				return fmt.Errorf("starting adapter %s: %w", a.ID(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, a := range adapters {
		if err := reg.Register(ctx, a); err != nil {
			return fmt.Errorf("registering adapter %s: %w", a.ID(), err)
		}
	}
	logger.Info("registry published", "tools", reg.Count(), "adapters", len(adapters))

	monitor := registry.NewMonitor(registry.MonitorConfig{
		Registry:         reg,
		Logger:           logger,
		Interval:         cfg.Health.Interval,
		ProbeTimeout:     cfg.Health.ProbeTimeout,
		FailureThreshold: cfg.Health.FailureThreshold,
	})
	go monitor.Run(ctx)

	// Session memory purge runs alongside the gateway when configured.
	if cfg.Memory.Path != "" {
		store, err := memory.NewSQLiteStore(cfg.Memory.Path)
		if err != nil {
			return fmt.Errorf("opening memory store: %w", err)
		}
		defer store.Close()
		hook := memory.NewHook(memory.HookConfig{
			Store:        store,
			Logger:       logger,
			HistoryDepth: cfg.Memory.HistoryDepth,
			Retention:    cfg.Memory.Retention,
		})
		go hook.RunPurge(ctx, cfg.Memory.PurgeInterval)
		defer hook.Flush()
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.Audience)
	srv, err := gateway.NewServer(gateway.Config{
		Registry:  reg,
		Logger:    logger,
		Verifier:  verifier,
		RateLimit: cfg.RateLimit.PerCaller,
		RateBurst: cfg.RateLimit.Burst,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","tools":%d}`, reg.Count())
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	return nil
}

// buildAdapters constructs one adapter per manifest entry, applying the
// config-wide defaults where an entry has no override.
func buildAdapters(manifest *config.Manifest, cfg *config.Config, logger *slog.Logger) ([]adapter.Adapter, error) {
	adapters := make([]adapter.Adapter, 0, len(manifest.Backends))
	for _, b := range manifest.Backends {
		var transport adapter.Transport
		switch b.Transport {
		case "stdio":
			transport = &adapter.StdioTransport{
				Command: b.Command,
				Args:    b.Args,
				Env:     b.Env,
			}
		case "tcp":
			transport = &adapter.TCPTransport{Addr: b.Addr}
		default:
			return nil, fmt.Errorf("backend %q: unknown transport %q", b.ID, b.Transport)
		}

		callTimeout := cfg.Adapters.CallTimeout
		if b.CallTimeout > 0 {
			callTimeout = b.CallTimeout
		}

		a, err := adapter.New(adapter.Options{
			ID:            b.ID,
			Transport:     transport,
			Concurrent:    b.Concurrent,
			StartAttempts: cfg.Adapters.StartAttempts,
			StartBackoff:  cfg.Adapters.StartBackoff,
			ListTimeout:   cfg.Adapters.ListTimeout,
			CallTimeout:   callTimeout,
			CallRetries:   cfg.Adapters.CallRetries,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", b.ID, err)
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs), then record attrs.
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runToken mints a bearer token for a caller using the configured secret.
// Supports both "--caller value" and "--caller=value" formats.
func runToken() error {
	var callerID string
	ttl := 30 * 24 * time.Hour

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--caller" || arg == "-c":
			if i+1 >= len(args) {
				return fmt.Errorf("--caller requires a value")
			}
			callerID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--caller="):
			callerID = strings.TrimPrefix(arg, "--caller=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
			i++
		case strings.HasPrefix(arg, "--ttl="):
			d, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if callerID == "" {
		return fmt.Errorf("--caller flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.Audience)
	token, err := verifier.Generate(callerID, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Token for %s (expires %s)\n", callerID, time.Now().Add(ttl).UTC().Format("Jan 02, 2006"))
	fmt.Println(token)
	return nil
}

// runInit writes a starter config and backends manifest with a freshly
// generated JWT secret. Existing files are left untouched.
func runInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()
	manifestPath := filepath.Join(filepath.Dir(configPath), "backends.toml")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	if _, err := os.Stat(configPath); err == nil {
		cyan.Printf("  Config already exists: %s\n", configPath)
	} else {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		configContent := fmt.Sprintf(`# toolgate configuration
# Generated by toolgate init

server:
  http_addr: "localhost:8080"

auth:
  jwt_secret: "%s"

adapters:
  manifest: "%s"
  start_attempts: 3
  start_backoff: "1s"
  list_timeout: "10s"
  call_timeout: "30s"

health:
  interval: "30s"
  probe_timeout: "5s"
  failure_threshold: 3

ratelimit:
  per_caller: 10
  burst: 5

memory:
  path: "%s"
  history_depth: 3
  retention: "720h"
  purge_interval: "1h"

logging:
  level: "info"
  format: "text"
`, jwtSecret, manifestPath, filepath.Join(dataPath, "memory.db"))

		if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	}

	if _, err := os.Stat(manifestPath); err == nil {
		cyan.Printf("  Manifest already exists: %s\n", manifestPath)
	} else {
		manifestContent := `# toolgate backends manifest
# Each [[backend]] entry is one tool server to federate.

[[backend]]
id = "fake"
transport = "stdio"
command = "fake-tools"
`
		if err := os.WriteFile(manifestPath, []byte(manifestContent), 0644); err != nil {
			return fmt.Errorf("writing backends manifest: %w", err)
		}
		green.Printf("  ✓ Created manifest: %s\n", manifestPath)
	}

	fmt.Println()
	fmt.Println("To start the gateway:")
	fmt.Println("  toolgate serve")
	fmt.Println()
	fmt.Println("To mint a caller token:")
	fmt.Println("  toolgate token --caller my-agent")

	return nil
}
