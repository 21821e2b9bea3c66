package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/kestrelmcp/kestrel/internal/auth"
	"github.com/kestrelmcp/kestrel/internal/config"
	"github.com/kestrelmcp/kestrel/internal/db"
	"github.com/kestrelmcp/kestrel/internal/mcpserver"
	"github.com/kestrelmcp/kestrel/internal/specio"
	"github.com/kestrelmcp/kestrel/pkg/mcprt"
)

var version = "dev"

// logRetention is the number of newest log files kept in the configured log
// directory; older ones are deleted by creation time on startup.
const logRetention = 10

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("kestrel", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.toml")
	transport := fs.String("transport", "", "stdio or sse (overrides config)")
	host := fs.String("host", "", "listen host for sse transport (overrides config)")
	port := fs.Int("port", 0, "listen port for sse transport (overrides config)")
	logLevel := fs.String("log-level", "", "debug, info, warn, or error (overrides config)")
	logsDir := fs.String("logs-dir", "", "log directory (overrides config)")
	metadataURL := fs.String("metadata-url", "", "metadata (registry/audit) database DSN (overrides config)")
	dataURL := fs.String("data-url", "", "data database DSN (overrides config)")
	exportSpec := fs.String("export-spec", "", "write the current registry and artifact set to this YAML path, then exit")
	importSpec := fs.String("import-spec", "", "load a YAML spec from this path into the registry and artifact set, then exit")
	issueDashboardToken := fs.String("issue-dashboard-token", "", "mint a dashboard bearer token for this persona, print it, then exit")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("kestrel %s\n", version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		return 2
	}
	if *transport != "" {
		cfg.Transport = config.Transport(*transport)
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = config.LogLevel(*logLevel)
	}
	if *logsDir != "" {
		cfg.LogsDir = *logsDir
	}
	if *metadataURL != "" {
		cfg.MetadataURL = *metadataURL
	}
	if *dataURL != "" {
		cfg.DataURL = *dataURL
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 2
	}

	if *issueDashboardToken != "" {
		token, err := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin).IssueToken(*issueDashboardToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issuing dashboard token: %v\n", err)
			return 1
		}
		fmt.Println(token)
		return 0
	}

	logFile, err := setupLogging(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up logging: %v\n", err)
		return 2
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metaDB, err := db.Open(cfg.MetadataURL)
	if err != nil {
		slog.Error("opening meta-session", "error", err)
		return 1
	}

	if *exportSpec != "" || *importSpec != "" {
		return runSpecIO(ctx, metaDB, *exportSpec, *importSpec)
	}

	var dataDB *sql.DB
	if cfg.DataURL != "" {
		if opened, err := db.Open(cfg.DataURL); err != nil {
			slog.Warn("opening data-session failed, continuing offline", "error", err)
		} else {
			dataDB = opened
		}
	}

	core, err := mcpserver.Build(ctx, cfg, metaDB, dataDB)
	if err != nil {
		slog.Error("building core", "error", err)
		return 1
	}
	defer core.Close()

	slog.Info("kestrel starting", "version", version, "transport", cfg.Transport)
	if err := core.Serve(cfg); err != nil {
		slog.Error("server error", "error", err)
		return 1
	}
	return 0
}

// runSpecIO handles the -export-spec/-import-spec flags: a one-shot
// operation against the meta-session that never starts the MCP server.
// Export runs before import when both are given; both act on the same
// meta-session, so the export captures the registry before the import
// changes it.
func runSpecIO(ctx context.Context, metaDB *sql.DB, exportPath, importPath string) int {
	store := mcprt.NewArtifactStore(metaDB)
	registry := mcprt.NewRegistry(metaDB, store)
	if err := store.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "initializing artifact schema: %v\n", err)
		return 1
	}
	if err := registry.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "initializing registry schema: %v\n", err)
		return 1
	}

	if exportPath != "" {
		if err := registry.LoadAll(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "loading registry: %v\n", err)
			return 1
		}
		data, err := specio.Export(ctx, registry, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "exporting spec: %v\n", err)
			return 1
		}
		if err := os.WriteFile(exportPath, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "writing %s: %v\n", exportPath, err)
			return 1
		}
	}

	if importPath != "" {
		data, err := os.ReadFile(importPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading %s: %v\n", importPath, err)
			return 1
		}
		if err := specio.Import(ctx, data, registry, store); err != nil {
			fmt.Fprintf(os.Stderr, "importing spec: %v\n", err)
			return 1
		}
	}
	return 0
}

// setupLogging installs the process-wide slog default (JSON in logsDir,
// text to stderr) and prunes the log directory down to the newest
// logRetention files by creation time.
func setupLogging(cfg *config.Config) (*os.File, error) {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case config.LogLevelDebug:
		level = slog.LevelDebug
	case config.LogLevelWarn:
		level = slog.LevelWarn
	case config.LogLevelError:
		level = slog.LevelError
	}

	if err := os.MkdirAll(cfg.LogsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	if err := pruneLogs(cfg.LogsDir, logRetention); err != nil {
		slog.Warn("pruning old logs", "error", err)
	}

	logPath := filepath.Join(cfg.LogsDir, time.Now().Format("20060102-150405")+".log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	jsonHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(fanoutHandler{textHandler, jsonHandler}))
	return f, nil
}

// fanoutHandler writes every record to both the stderr text handler and the
// log-file JSON handler, so a single log call reaches both destinations
// with their own formatting.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

func pruneLogs(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	type fileInfo struct {
		path string
		mod  time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".log" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{filepath.Join(dir, e.Name()), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })
	for _, f := range files[min(keep, len(files)):] {
		os.Remove(f.path)
	}
	return nil
}
