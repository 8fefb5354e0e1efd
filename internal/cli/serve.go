package cli

import (
	"context"
	"encoding/json"
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/trackq/internal/event"
	"github.com/roach88/trackq/internal/metrics"
	"github.com/roach88/trackq/internal/tracing"
	"github.com/roach88/trackq/internal/tracker"
)

const (
	defaultListen   = ":9090"
	shutdownTimeout = 10 * time.Second
	maxTrackBody    = 1 << 20
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tracker as a long-lived process",
		Long: `Run the tracker with its configured flush schedule and an HTTP endpoint.

Endpoints:
  GET  /metrics  Prometheus metrics
  GET  /healthz  liveness plus queue depth
  POST /track    queue an event: {"route": "...", "payload": {...}}
  POST /flush    start a flush cycle in the background

On SIGINT or SIGTERM the server stops accepting requests, the host is
treated as backgrounded (app_close mode flushes) and the tracker waits for
any running cycle before exiting.

Example:
  trackq serve --config trackq.yaml --listen 127.0.0.1:9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (default metrics.address or "+defaultListen+")")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	m := metrics.New()
	tr, cfg, err := openTracker(opts.RootOptions, cmd, nil, tracker.WithMetrics(m))
	if err != nil {
		return err
	}
	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())

	closeTracker := sync.OnceValue(tr.Close)
	defer func() {
		if err := closeTracker(); err != nil {
			logger.Error("error closing tracker", "error", err)
		}
	}()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialise tracing", err)
	}
	defer shutdownServe(closeTracker, shutdownTracing, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m.MustRegister(reg)
	m.SetQueueDepth(tr.Count(ctx))

	addr := opts.Listen
	if addr == "" {
		addr = cfg.Metrics.Address
	}
	if addr == "" {
		addr = defaultListen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	if err := tr.Start(ctx); err != nil {
		ln.Close()
		return WrapExitError(ExitCommandError, "failed to start tracker", err)
	}

	srv := &http.Server{
		Handler:           NewServeMux(tr, reg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	logger.Info("serving", "addr", ln.Addr().String(), "flush_mode", cfg.FlushMode)
	fmt.Fprintf(cmd.OutOrStdout(), "trackq listening on %s\n", ln.Addr())

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "http server failed", err)
		}
	}

	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}

	tr.AppBackgrounded()
	logger.Info("server stopped gracefully")
	return nil
}

// shutdownServe closes the tracker, waiting for the final flush, and only
// then shuts tracing down so the flush's spans are still exported. A close
// error is left for the caller's closeTracker result.
func shutdownServe(closeTracker func() error, shutdownTracing func(context.Context) error, logger *slog.Logger) {
	_ = closeTracker()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdownTracing(ctx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}
}

// trackRequest is the body accepted by POST /track.
type trackRequest struct {
	Route   string        `json:"route"`
	Payload event.Payload `json:"payload"`
}

// NewServeMux builds the HTTP handlers served by trackq serve.
func NewServeMux(tr *tracker.Tracker, gatherer prometheus.Gatherer, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"flush_state": tr.State().String(),
			"queue_depth": tr.Count(r.Context()),
		})
	})

	mux.HandleFunc("POST /track", func(w http.ResponseWriter, r *http.Request) {
		var req trackRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTrackBody))
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
			return
		}
		route, err := event.ParseRoute(req.Route)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if _, err := route.Encode(event.TrackedEvent{Route: route, Payload: req.Payload}); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if !tr.Track(r.Context(), route, req.Payload) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event was not queued"})
			return
		}
		logger.Debug("event accepted over http", "route", route)
		writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
	})

	mux.HandleFunc("POST /flush", func(w http.ResponseWriter, r *http.Request) {
		_, started := tr.Flush(r.Context())
		writeJSON(w, http.StatusAccepted, map[string]any{"started": started})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
