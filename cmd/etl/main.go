package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"sparkify/internal/config"
	"sparkify/internal/logging"
	"sparkify/internal/metrics"
	"sparkify/internal/metrics/datadog"
	"sparkify/internal/metrics/prompush"
	"sparkify/internal/multitable"

	// register all backends with the storage factory.
	// config picks one, the binary supports all of them.
	_ "sparkify/internal/storage/all"
)

// runner is the part of *multitable.Runner the CLI depends on.
type runner interface {
	Run(ctx context.Context, cfg multitable.Pipeline) (multitable.Summary, error)
}

// metricsBackend is what cleanup needs from a periodic backend.
type metricsBackend interface {
	Close() error
}

// pushBackend is what cleanup needs from a push-once backend.
type pushBackend interface {
	Flush() error
}

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	loadConfig  func(path string) (config.Config, []config.Issue, error)
	newRunner   func(logger multitable.Logger, stdout io.Writer) runner
	initMetrics func(ctx context.Context, job string, mc config.MetricsConfig, log zerolog.Logger) (func(), error)
}

// Package-level seams for initMetrics; tests swap them.
var (
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPromBackend = func(opts prompush.Options) (pushBackend, error) {
		return prompush.NewBackend(opts)
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, appDeps{
		loadConfig: config.Load,
		newRunner: func(logger multitable.Logger, stdout io.Writer) runner {
			return multitable.NewDefaultRunner(logger, stdout)
		},
		initMetrics: initMetrics,
	})
	stop()
	os.Exit(code)
}

// runMain loads the config, wires logging and metrics, and runs one load.
// Exit codes: 0 success (per-file failures included), 1 fatal error, 2 usage.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("etl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath      string
		backendFlag  string
		validateOnly bool
		verbose      bool
	)
	fs.StringVar(&cfgPath, "config", "", "YAML config path (default $SPARKIFY_CONFIG or ./sparkify.yaml)")
	fs.StringVar(&backendFlag, "metrics-backend", "", "override metrics.backend (none|datadog|prompush)")
	fs.BoolVar(&validateOnly, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&verbose, "v", false, "enable debug logs")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "usage: etl [-config path/to/sparkify.yaml] [-metrics-backend name] [-validate] [-v]")
		return 2
	}

	cfg, issues, err := deps.loadConfig(cfgPath)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	if validateOnly {
		fmt.Fprintln(stdout, "config ok")
		return 0
	}

	if strings.TrimSpace(backendFlag) != "" {
		cfg.Metrics.Backend = strings.ToLower(strings.TrimSpace(backendFlag))
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	zl := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: stderr})
	logger := logging.Printf{L: zl}

	cleanup, err := deps.initMetrics(ctx, cfg.Job, cfg.Metrics, zl)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	zl.Debug().
		Str("job", cfg.Job).
		Str("storage", cfg.Storage.Kind).
		Str("song_dir", cfg.Data.SongDir).
		Str("log_dir", cfg.Data.LogDir).
		Str("metrics", cfg.Metrics.Backend).
		Msg("pipeline")

	start := time.Now()
	sum, err := deps.newRunner(logger, stdout).Run(ctx, cfg.Pipeline())
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	zl.Info().
		Str("run_id", sum.RunID).
		Int("song_files", sum.SongFiles).
		Int("log_files", sum.LogFiles).
		Int("failed", len(sum.Failed)).
		Int64("songplays", sum.Songplays).
		Dur("duration", time.Since(start).Truncate(time.Millisecond)).
		Msg("run complete")

	fmt.Fprintln(stdout, "ok")
	return 0
}

// initMetrics selects and wires the metrics backend. The returned cleanup is
// never nil; it flushes or closes the backend and only logs failures to log.
func initMetrics(ctx context.Context, job string, mc config.MetricsConfig, log zerolog.Logger) (func(), error) {
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(mc.Backend)) {
	case "", "none", "noop":
		return noop, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       datadog.ParseTagsCSV(mc.Tags),
			FlushEvery: mc.FlushEvery,
		})
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Error().Err(err).Str("backend", "datadog").Msg("metrics close failed")
			}
		}, nil

	case "prompush", "pushgateway":
		b, err := newPromBackend(prompush.Options{URL: mc.PushgatewayURL, Job: job})
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				log.Error().Err(err).Str("backend", "prompush").Msg("metrics push failed")
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|prompush)", mc.Backend)
	}
}
