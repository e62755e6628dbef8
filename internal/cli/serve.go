package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/listsync/internal/config"
	"github.com/roach88/listsync/internal/pubsub"
	"github.com/roach88/listsync/internal/registry"
	"github.com/roach88/listsync/internal/server"
	"github.com/roach88/listsync/internal/session"
)

// shutdownTimeout bounds graceful shutdown after a signal.
const shutdownTimeout = 15 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	StorageFlags
	Addr      string
	RedisAddr string

	// Ready receives the listening address once the server accepts
	// connections (for testing).
	Ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the collaboration server",
		Long: `Start the listsync WebSocket server.

Configuration is read from the schema defaults, the optional --config file,
LISTSYNC_* environment variables and finally the flags below. The database
is created if it doesn't exist.

Routes:
  GET /ws              event protocol (join-list, operation, typing, ...)
  GET /healthz         storage reachability
  GET /lists/{listID}  read-only list snapshot (?userId=<member>)

Example:
  listsync serve --db ./listsync.db
  listsync serve --addr :9000 --dsn postgres://localhost/listsync --redis localhost:6379`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	opts.StorageFlags.register(cmd)
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&opts.RedisAddr, "redis", "", "Redis address (selects the redis pub/sub driver)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, &opts.StorageFlags)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.RedisAddr != "" {
		cfg.PubSub.Driver = "redis"
		cfg.PubSub.RedisAddr = opts.RedisAddr
	}

	logger := newLogger(cfg.Log, opts.Verbose, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	logger.Info("opening storage", "driver", cfg.Storage.Driver)
	st, err := openStorage(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing storage", "error", closeErr)
		}
	}()

	bus, err := openBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	reg := registry.New(func(listID string) *session.Coordinator {
		return session.New(listID, st, bus,
			session.WithResolveWindow(cfg.Session.ResolveWindow),
			session.WithIOTimeout(cfg.Session.IOTimeout),
			session.WithLogger(logger),
		)
	}, registry.WithRetireGrace(cfg.Session.RetireGrace), registry.WithLogger(logger))
	if err := reg.Init(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start registry", err)
	}

	srv := server.New(reg, bus, st,
		server.WithOutboundBuffer(cfg.Session.OutboundBuffer),
		server.WithLogger(logger),
	)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.Serve(ln)
	}()

	addr := ln.Addr().String()
	logger.Info("server listening", "addr", addr, "pubsub", cfg.PubSub.Driver)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", addr)
	if opts.Ready != nil {
		opts.Ready <- addr
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = WrapExitError(ExitFailure, "server error", err)
		}
	}

	// Stop accepting, drop connections, then let coordinators drain.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("connection shutdown", "error", err)
	}
	if err := reg.Shutdown(shutdownCtx); err != nil {
		logger.Warn("registry shutdown", "error", err)
	}

	logger.Info("server stopped gracefully")
	return runErr
}

// openBus opens the configured pub/sub bus.
func openBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pubsub.Bus, error) {
	if cfg.PubSub.Driver == "redis" {
		bus, err := pubsub.NewRedis(ctx, pubsub.RedisOptions{
			Addr:          cfg.PubSub.RedisAddr,
			ChannelPrefix: cfg.PubSub.ChannelPrefix,
			Logger:        logger,
		})
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect pub/sub", err)
		}
		return bus, nil
	}
	return pubsub.NewLocal(0, logger), nil
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(cfg config.Log, verbose bool, w io.Writer) *slog.Logger {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
