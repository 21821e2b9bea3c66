// Package mcpserver wires the registry, artifact store, SQL executor, and
// audit trail into an MCP server exposing them over stdio or SSE, routed
// uniformly through the Dispatcher rather than one registration function
// per tool.
package mcpserver

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/kestrelmcp/kestrel/internal/auth"
	"github.com/kestrelmcp/kestrel/internal/config"
	"github.com/kestrelmcp/kestrel/internal/dashboard"
	"github.com/kestrelmcp/kestrel/pkg/audit"
	"github.com/kestrelmcp/kestrel/pkg/mcprt"
	"github.com/kestrelmcp/kestrel/pkg/trace"
)

// WatchInterval is how often the registry watcher polls PRAGMA data_version
// for out-of-process changes.
const WatchInterval = 2 * time.Second

// Core bundles the long-lived objects the host process owns across its
// lifetime: the MCP server itself, plus everything that must be closed on
// shutdown in the reverse order it was opened.
type Core struct {
	Server   *server.MCPServer
	Registry *mcprt.Registry
	Store    *mcprt.ArtifactStore
	SQL      *mcprt.SQLExecutor
	Logger   *audit.SQLiteLogger
	Notebook *audit.Notebook
	Traces   *trace.Store
	Dispatch *mcprt.Dispatcher

	dashboardSrv *http.Server
	metaDB       *sql.DB
	dataDB       *sql.DB
}

// Build opens the meta-session (fatal on failure), the optional data-session
// (non-fatal), creates every subsystem's tables, auto-seeds an empty
// registry, and bridges the full tool/resource/prompt catalog onto a fresh
// MCP server.
func Build(ctx context.Context, cfg *config.Config, metaDB *sql.DB, dataDB *sql.DB) (*Core, error) {
	store := mcprt.NewArtifactStore(metaDB)
	registry := mcprt.NewRegistry(metaDB, store)
	logger := audit.NewSQLiteLogger(metaDB)
	notebook := audit.NewNotebook(metaDB)
	traces := trace.NewStore(metaDB)

	for _, initer := range []interface{ Init() error }{store, registry, logger, notebook, traces} {
		if err := initer.Init(); err != nil {
			return nil, fmt.Errorf("initializing schema: %w", err)
		}
	}

	sqlExec := mcprt.NewSQLExecutor(dataDB, traces)
	if dataDB != nil {
		sqlExec.SetDialect("sqlite")
	}

	if err := mcprt.Seed(ctx, registry, store); err != nil {
		return nil, fmt.Errorf("seeding registry: %w", err)
	}
	if err := registry.LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("loading registry: %w", err)
	}

	dispatch := mcprt.NewDispatcher(registry, store, sqlExec, logger, notebook)
	dispatch.DashboardBaseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port+1)
	if cfg.DashboardEnabled {
		dispatch.DashboardStorageDir = cfg.DashboardStorageDir
	}
	mcprt.RegisterBuiltins(dispatch)

	srv := server.NewMCPServer(
		"kestrel",
		"0.1.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithPromptCapabilities(true),
	)
	mcprt.Bridge(srv, dispatch, mcprt.DefaultPersona)
	mcprt.BridgeResources(srv, dispatch, mcprt.DefaultPersona)
	mcprt.BridgePrompts(srv, dispatch, mcprt.DefaultPersona)

	go registry.RunWatcher(ctx, WatchInterval)

	var dashboardSrv *http.Server
	if cfg.DashboardEnabled {
		a := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin)
		handler := dashboard.NewHandler(dispatch, a)
		dashboardSrv = dashboard.NewServer(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port+1), handler)
		go func() {
			if err := dashboardSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("dashboard server error", "error", err)
			}
		}()
	}

	return &Core{
		Server:       srv,
		Registry:     registry,
		Store:        store,
		SQL:          sqlExec,
		Logger:       logger,
		Notebook:     notebook,
		Traces:       traces,
		Dispatch:     dispatch,
		dashboardSrv: dashboardSrv,
		metaDB:       metaDB,
		dataDB:       dataDB,
	}, nil
}

// Serve blocks, running the MCP server under the configured transport.
func (c *Core) Serve(cfg *config.Config) error {
	switch cfg.Transport {
	case config.TransportSSE:
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		slog.Info("serving MCP over SSE", "addr", addr)
		sseServer := server.NewSSEServer(c.Server, server.WithBaseURL("http://"+addr))
		return sseServer.Start(addr)
	default:
		slog.Info("serving MCP over stdio")
		return server.ServeStdio(c.Server)
	}
}

// Close releases every session in the reverse order Build acquired them.
func (c *Core) Close() error {
	if c.dashboardSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.dashboardSrv.Shutdown(ctx)
	}
	c.Traces.Close()
	c.Logger.Close()
	if c.dataDB != nil {
		c.dataDB.Close()
	}
	return c.metaDB.Close()
}
