package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pumped-fn/incr"
	"github.com/pumped-fn/incr/extensions"
	"github.com/pumped-fn/incr/sheet"
)

// app carries the settings shared by every command.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "incrsheet",
		Short:         "Evaluate HCL spreadsheets incrementally",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format (text, json, human)")

	rootCmd.AddCommand(a.evalCmd(), a.setCmd(), a.watchCmd())
	return rootCmd
}

func (a *app) init(stderr io.Writer) error {
	cfg, err := readConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = cfg.Logger(stderr)
	return nil
}

func (a *app) runtime(opts ...incr.RuntimeOption) *incr.Runtime {
	base := []incr.RuntimeOption{
		incr.WithLogger(a.logger),
		incr.WithExtension(extensions.NewLoggingExtension(a.logger, slog.LevelDebug)),
		incr.WithExtension(extensions.NewGraphDebugExtension(a.logger.Handler())),
	}
	return incr.NewRuntime(append(base, opts...)...)
}

func (a *app) evalCmd() *cobra.Command {
	var cells []string

	cmd := &cobra.Command{
		Use:   "eval FILE",
		Short: "Print the value of every cell, or of the selected cells",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sheet.LoadFile(a.runtime(), args[0])
			if err != nil {
				return err
			}
			names := cells
			if len(names) == 0 {
				names = s.Names()
			}
			return printCells(cmd.OutOrStdout(), s, names)
		},
	}

	cmd.Flags().StringArrayVar(&cells, "cell", nil, "cell to print (repeatable)")
	return cmd
}

func (a *app) setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set FILE NAME=EXPR...",
		Short: "Override cells and print the result with evaluation counts",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sheet.LoadFile(a.runtime(), args[0])
			if err != nil {
				return err
			}

			// Evaluate once so the counts show what the overrides recompute.
			for _, name := range s.Names() {
				_, _ = s.Get(name)
			}

			for _, assignment := range args[1:] {
				name, expr, ok := strings.Cut(assignment, "=")
				if !ok {
					return fmt.Errorf("invalid assignment %q, expected NAME=EXPR", assignment)
				}
				if err := s.Set(strings.TrimSpace(name), expr); err != nil {
					return fmt.Errorf("setting %s: %w", name, err)
				}
			}

			out := cmd.OutOrStdout()
			if err := printCells(out, s, s.Names()); err != nil {
				return err
			}
			fmt.Fprintln(out)
			for _, st := range s.Stats() {
				fmt.Fprintf(out, "%s: %d evaluations\n", st.Name, st.Evaluations)
			}
			return nil
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	var (
		metricsAddr string
		trace       bool
	)

	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Re-evaluate a sheet whenever its file changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("metrics-addr") {
				a.cfg.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("trace") {
				a.cfg.Trace = trace
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx, cmd.OutOrStdout(), args[0])
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&trace, "trace", false, "print OpenTelemetry spans to stdout")
	return cmd
}

func (a *app) watch(ctx context.Context, out io.Writer, path string) error {
	var opts []incr.RuntimeOption

	reg := prometheus.NewRegistry()
	opts = append(opts, incr.WithExtension(extensions.NewMetricsExtension(reg)))

	if a.cfg.Trace {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("creating trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		mp := sdkmetric.NewMeterProvider()
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdown)
			_ = mp.Shutdown(shutdown)
		}()

		tracing, err := extensions.NewTracingExtension(ctx, tp, mp)
		if err != nil {
			return err
		}
		opts = append(opts, incr.WithExtension(tracing))
	}

	rt := a.runtime(opts...)
	defer rt.Dispose()

	session, err := sheet.NewSession(rt, path)
	if err != nil {
		return err
	}
	watcher, err := sheet.NewWatcher(path, a.cfg.Debounce)
	if err != nil {
		return err
	}

	if err := printCells(out, session.Sheet(), session.Sheet().Names()); err != nil {
		a.logger.Warn("some cells failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.Run(ctx)
	})

	if a.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		server := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			a.logger.Info("serving metrics", "addr", a.cfg.MetricsAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdown)
		})
	}

	// The runtime is only driven from this goroutine.
	g.Go(func() error {
		for change := range watcher.Changes() {
			session.Notify(change)
			changed, err := session.Sync()
			if err != nil {
				a.logger.Error("reload failed", "file", path, "error", err)
				continue
			}
			if len(changed) == 0 {
				continue
			}
			fmt.Fprintf(out, "# %s changed: %s\n", path, strings.Join(changed, ", "))
			if err := printCells(out, session.Sheet(), session.Sheet().Names()); err != nil {
				a.logger.Warn("some cells failed", "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}

// printCells writes name = json lines. Cells that fail are printed with
// their error and reported together.
func printCells(w io.Writer, s *sheet.Sheet, names []string) error {
	var failed []string
	for _, name := range names {
		val, err := s.Get(name)
		if err != nil {
			fmt.Fprintf(w, "%s ! %v\n", name, err)
			failed = append(failed, name)
			continue
		}
		data, err := ctyjson.Marshal(val, val.Type())
		if err != nil {
			fmt.Fprintf(w, "%s ! %v\n", name, err)
			failed = append(failed, name)
			continue
		}
		fmt.Fprintf(w, "%s = %s\n", name, data)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d cells failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}
