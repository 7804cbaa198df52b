// Command socketpoold runs the socketpool echo/add server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/socketpool"
	"github.com/Zereker/socketpool/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "socketpoold",
		Short:         "Serve echo and add requests over TCP on a fixed worker pool",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}

			logger := newLogger(cfg)
			slog.SetDefault(logger)

			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error("server error", "error", err)
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.String("addr", "127.0.0.1:8080", "listen address")
	flags.Int("workers", runtime.NumCPU(), "number of workers (maximum concurrent sessions)")
	flags.Int("queue", 0, "connections that may wait for a worker (0 means one per worker)")
	flags.Duration("shutdown-timeout", 5*time.Second, "how long to wait for sessions on shutdown")
	flags.Duration("backoff", 10*time.Millisecond, "pause after a read or write would block")
	flags.Int("max-frame", 1024*1024, "maximum echo payload in bytes")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text, json")

	return cmd
}

func run(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.Server.Addr)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", cfg.Server.Addr)
	}

	server, err := socketpool.New(addr,
		socketpool.ServerLoggerOption(logger),
		socketpool.ServerWorkersOption(cfg.Server.Workers),
		socketpool.ServerQueueSizeOption(cfg.Server.QueueSize),
		socketpool.ServerShutdownTimeoutOption(cfg.Server.ShutdownTimeout),
		socketpool.ServerSessionOption(
			socketpool.BackoffOption(cfg.Session.Backoff),
			socketpool.MessageMaxSize(cfg.Session.MaxFrame),
		),
	)
	if err != nil {
		return err
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = server.Serve(ctx)
	if err != nil && ctx.Err() != nil {
		// Canceled by a signal: a clean shutdown.
		logger.Info("shutdown complete")
		return nil
	}
	return err
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Log.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
