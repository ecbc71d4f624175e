package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/actorsync/internal/engine"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Request     string
	MetricsAddr string

	// Count stops the command after this many snapshots. Zero watches
	// until interrupted.
	Count int
}

// WatchEvent is one line of JSON watch output.
type WatchEvent struct {
	ActorID string          `json:"actor_id"`
	State   json.RawMessage `json:"state,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <actor-id>",
		Short: "Stream an actor's state",
		Long: `Open a session on an actor and print every state it streams.

Mutations persisted by an earlier run are recovered but not resumed; use
'actorsync recover --resume' for that.

Example:
  actorsync watch list-1
  actorsync watch list-1 --metrics-addr :9090 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchActor(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Request, "request", "{}", "read request body as JSON")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many snapshots")

	return cmd
}

func watchActor(opts *WatchOptions, actorID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	request, err := jsonArg("--request", opts.Request)
	if err != nil {
		return invalidArgs(formatter, err)
	}
	if err := opts.resolve(cmd); err != nil {
		return loadFailure(formatter, err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			opts.Logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := engine.NewMetrics(reg)

	addr := opts.MetricsAddr
	if addr == "" {
		addr = opts.Config.MetricsAddr
	}
	if addr != "" {
		stop, err := serveMetrics(addr, reg, opts)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
		defer stop()
	}

	s, err := opts.openSession(ctx, cmd, sessionParams{actorID: actorID, request: request, metrics: metrics})
	if err != nil {
		return loadFailure(formatter, err)
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			opts.Logger.Error("error closing session", "error", closeErr)
		}
	}()

	for _, kind := range s.Type().KindNames() {
		if n := len(s.Recovered(kind)); n > 0 {
			opts.Logger.Warn("recovered unsent mutations", "kind", kind, "count", n)
		}
	}

	var (
		last    []byte
		lastErr string
		printed int
	)
	for {
		state, loaded := s.Snapshot()
		errText := ""
		if err := s.Err(); err != nil {
			errText = err.Error()
		}

		if (loaded && !bytes.Equal(state, last)) || errText != lastErr {
			event := WatchEvent{ActorID: actorID, Error: errText}
			if loaded {
				event.State = state
				last = state
			}
			lastErr = errText
			if err := printWatchEvent(formatter, event); err != nil {
				return err
			}
			if loaded && errText == "" {
				printed++
				if opts.Count > 0 && printed >= opts.Count {
					return nil
				}
			}
		}

		select {
		case <-s.Changes():
		case <-ctx.Done():
			return nil
		}
	}
}

func printWatchEvent(f *OutputFormatter, event WatchEvent) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(event)
	}
	if event.Error != "" {
		return f.Error(ErrCodeUnreachable, event.Error, nil)
	}
	_, err := f.Writer.Write(append(append([]byte(nil), event.State...), '\n'))
	return err
}

// serveMetrics starts a /metrics server and returns its shutdown function.
func serveMetrics(addr string, reg *prometheus.Registry, opts *WatchOptions) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opts.Logger.Error("metrics server stopped", "error", err)
		}
	}()
	opts.Logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
