package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/chatrelay/internal/metrics"
	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/Tyrowin/chatrelay/internal/server"
)

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	tcpAddr   string
	httpAddr  string
	logLevel  string
	logFormat string
	noStart   bool
}

func serveCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat relay",
		Long: `Run the chat relay and its HTTP surface.

Settings are read from the environment (CHAT_TCP_ADDR, SERVER_PORT,
ALLOWED_ORIGINS, MAX_MESSAGE_SIZE, SEND_QUEUE_SIZE, WRITE_TIMEOUT,
IDLE_TIMEOUT, RATE_LIMIT_BURST, RATE_LIMIT_REFILL_INTERVAL, LOG_LEVEL,
LOG_FORMAT); flags given on the command line take precedence.

Examples:
  chatrelay serve
  chatrelay serve --tcp-addr=:9000 --http-addr=:8081
  chatrelay serve --no-start`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := server.NewConfigFromEnv()
			applyFlags(cmd, cfg, flags)
			return runServe(cmd.Context(), cfg.Sanitize(), !flags.noStart)
		},
	}

	cmd.Flags().StringVar(&flags.tcpAddr, "tcp-addr", "", "TCP chat listen address (default :8888)")
	cmd.Flags().StringVar(&flags.httpAddr, "http-addr", "", "HTTP listen address (default :8080)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "", "Log format: text or json")
	cmd.Flags().BoolVar(&flags.noStart, "no-start", false, "Leave the relay stopped until POST /admin/start")

	return cmd
}

func applyFlags(cmd *cobra.Command, cfg *server.Config, flags serveFlags) {
	if cmd.Flags().Changed("tcp-addr") {
		cfg.TCPAddr = flags.tcpAddr
	}
	if cmd.Flags().Changed("http-addr") {
		cfg.Port = flags.httpAddr
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = flags.logFormat
	}
}

func runServe(ctx context.Context, cfg server.Config, startRelay bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := server.NewLogger(cfg, os.Stderr)

	collector := metrics.New()
	opts := append(cfg.RelayOptions(logger), relay.WithObserver(collector))
	chat, err := relay.New(opts...)
	if err != nil {
		return fmt.Errorf("configure relay: %w", err)
	}

	if startRelay {
		if err := chat.Start(cfg.TCPAddr); err != nil {
			return err
		}
	}

	handler := server.NewHandler(chat, cfg, logger, collector.Handler())
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(handler))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer, logger)
	}()

	select {
	case err = <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", "error", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	if shutdownErr := server.ShutdownServer(httpServer, shutdownTimeout, logger); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	if stopErr := chat.Stop(shutdownTimeout); stopErr != nil && !errors.Is(stopErr, relay.ErrServerStopped) {
		logger.Error("relay shutdown error", "error", stopErr)
		if err == nil {
			err = stopErr
		}
	}

	logger.Info("chat relay exited")
	return err
}
