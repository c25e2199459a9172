package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bushportal/livecoding/internal/config"
	"github.com/bushportal/livecoding/internal/hub"
	"github.com/bushportal/livecoding/internal/server"
	"github.com/bushportal/livecoding/internal/telemetry"
)

const (
	serveReadHeaderTimeout = 10 * time.Second
	serveShutdownTimeout   = 15 * time.Second
)

type serveOptions struct {
	addr         string
	provider     string
	otelEndpoint string
}

func newServeCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the live coding HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "llm provider: openai, anthropic or scripted")
	cmd.Flags().StringVar(&opts.otelEndpoint, "otel-endpoint", "", "OTLP HTTP endpoint for trace export")
	return cmd
}

// runServe blocks until ctx is cancelled, then drains sockets and in-flight runs.
func runServe(ctx context.Context, cfg *config.Config, logger *log.Logger, opts serveOptions, out io.Writer) error {
	if endpoint := strings.TrimSpace(opts.otelEndpoint); endpoint != "" {
		telemetry.SetEndpointOverride(endpoint)
	}

	stack, err := newPipeline(cfg, logger, opts.provider)
	if err != nil {
		return err
	}

	fanout := hub.New(
		hub.WithSendBuffer(cfg.WebSocket.SendBuffer),
		hub.WithWriteTimeout(cfg.WebSocket.WriteTimeout),
		hub.WithPingInterval(cfg.WebSocket.PingInterval),
		hub.WithLogger(logger.With("component", "hub")),
	)
	api, err := server.New(stack.orchestrator, stack.registry, fanout,
		server.WithLogger(logger.With("component", "server")),
		server.WithWebSocketPath(cfg.Server.WebSocketPath),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		server.WithPongWait(pongWait(cfg.WebSocket.PingInterval)),
	)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	addr := cfg.Server.Addr
	if value := strings.TrimSpace(opts.addr); value != "" {
		addr = value
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if cfg.OTel.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Process{
			Endpoint:      cfg.OTel.Endpoint,
			Provider:      stack.choice.Provider,
			Model:         stack.choice.Model,
			WebSocketPath: cfg.Server.WebSocketPath,
			ListenAddr:    listener.Addr().String(),
		})
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("initialize telemetry: %w", err)
		}
		defer shutdownTelemetry()
	}

	// Requests outlive the signal so Shutdown can drain in-flight generate calls.
	httpServer := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: serveReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	logger.Info("server listening", "addr", listener.Addr().String(), "websocket_path", cfg.Server.WebSocketPath, "provider", stack.choice.Provider)
	fmt.Fprintf(out, "Listening on http://%s (websocket %s, provider %s)\n", listener.Addr(), cfg.Server.WebSocketPath, stack.choice.Provider)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), serveShutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		// Hijacked sockets are not tracked by Shutdown; closing the hub ends their read loops and cancels their runs.
		fanout.Close()
		api.Wait()
		logger.Info("server stopped")
		if err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// pongWait allows two missed pings before a silent socket is dropped.
func pongWait(pingInterval time.Duration) time.Duration {
	if pingInterval <= 0 {
		return 0
	}
	return 2*pingInterval + pingInterval/2
}
