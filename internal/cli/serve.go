package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wlococode/openprod-sub001/internal/config"
	"github.com/wlococode/openprod-sub001/internal/peersync"
	"github.com/wlococode/openprod-sub001/internal/replica"
	"github.com/wlococode/openprod-sub001/internal/schema"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen      string
	MetricsAddr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept sync sessions from peers",
		Long: `Listen for sync sessions over TCP until interrupted. Each connection is
one session answered by the local replica.

Examples:
  openprod serve --listen 0.0.0.0:7420
  openprod serve --metrics-addr 127.0.0.1:9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "sync listen address (overrides config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg := opts.Config
	if opts.Listen != "" {
		cfg.Sync.Listen = opts.Listen
	}
	if opts.MetricsAddr != "" {
		cfg.Sync.MetricsAddr = opts.MetricsAddr
	}
	logger := slog.Default()

	r, err := openReplica(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	if cfg.Schema != "" {
		err := schema.Watch(ctx, cfg.Schema, func(s *schema.Schema, err error) {
			if err != nil {
				logger.Warn("schema on disk no longer loads", "dir", cfg.Schema, "err", err)
				return
			}
			logger.Warn("schema changed on disk; restart to apply", "dir", cfg.Schema, "fingerprint", s.Fingerprint())
		})
		if err != nil {
			logger.Warn("cannot watch schema", "dir", cfg.Schema, "err", err)
		}
	}

	if cfg.Sync.MetricsAddr != "" {
		srv := metricsServer(cfg.Sync.MetricsAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", cfg.Sync.MetricsAddr)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Sync.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	logger.Info("accepting sync sessions", "addr", ln.Addr().String(), "actor", r.Actor().String())
	fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s\n", ln.Addr())

	return serveListener(ctx, ln, r, cfg, logger)
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// serveListener answers sessions on ln until ctx is cancelled, then waits
// for open sessions to end.
func serveListener(ctx context.Context, ln net.Listener, r *replica.Replica, cfg *config.Config, logger *slog.Logger) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return WrapExitError(ExitCommandError, "accept failed", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			sctx, cancel := context.WithTimeout(ctx, cfg.Sync.Timeout)
			defer cancel()

			remote := conn.RemoteAddr().String()
			if err := peersync.Serve(sctx, r, conn, syncOptions(cfg, logger)...); err != nil {
				logger.Warn("sync session failed", "peer", remote, "err", err)
				return
			}
			logger.Debug("sync session done", "peer", remote)
		}()
	}
}

func syncOptions(cfg *config.Config, logger *slog.Logger) []peersync.Option {
	return []peersync.Option{
		peersync.WithPageSize(cfg.Sync.PageSize),
		peersync.WithMaxFrame(cfg.Sync.MaxFrame),
		peersync.WithLimits(cfg.OplogLimits()),
		peersync.WithLogger(logger),
	}
}
