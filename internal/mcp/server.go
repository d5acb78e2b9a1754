// Package mcp provides an MCP (Model Context Protocol) server for govsim.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/citykit/govsim/internal/ratelimit"
	"github.com/citykit/govsim/internal/trace"
)

// Server wraps the MCP SDK server and exposes simulation tools.
type Server struct {
	server       *sdk.Server
	store        *trace.Store
	traceDir     string
	log          *slog.Logger
	toolLimiters ratelimit.ToolLimiters
}

// Config holds server configuration.
type Config struct {
	Name     string // Server name (e.g., "govsim")
	Version  string // Server version
	TraceDir string // Directory for trace artifacts and the run database
	Log      *slog.Logger
}

// NewServer creates a new MCP server with simulation tools.
func NewServer(cfg *Config) (*Server, error) {
	dir := cfg.TraceDir
	if dir == "" {
		dir = ".govsim"
	}
	store, err := trace.OpenStore(filepath.Join(dir, "govsim.db"))
	if err != nil {
		return nil, fmt.Errorf("opening trace store: %w", err)
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			// Client initialized, ready to serve
		},
	})

	s := &Server{
		server:       mcpServer,
		store:        store,
		traceDir:     dir,
		log:          log,
		toolLimiters: ratelimit.NewToolLimiters(),
	}

	if err := s.registerTools(); err != nil {
		store.Close()
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})

	s.store.Close()

	return err
}

// Close closes the server and releases resources.
func (s *Server) Close() error {
	return s.store.Close()
}
