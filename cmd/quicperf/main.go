package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/torosent/quicperf/internal/config"
	"github.com/torosent/quicperf/internal/logger"
	"github.com/torosent/quicperf/internal/measurement"
	"github.com/torosent/quicperf/internal/output"
	"github.com/torosent/quicperf/internal/runner"
	"github.com/torosent/quicperf/internal/tracing"
)

const (
	progressInterval = 500 * time.Millisecond
	shutdownTimeout  = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.Init(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider, err := tracing.Init(ctx, cfg.Tracing,
		attribute.String("quicperf.transport", string(cfg.Transport)),
		attribute.String("quicperf.server", cfg.Server),
		attribute.String("quicperf.domain", cfg.Browser.Domain),
	)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	if provider.Enabled() {
		log.Debug().Str("protocol", cfg.Tracing.Protocol).Msg("tracing enabled")
	}

	opts, err := runner.OptionsFromConfig(cfg, provider.Tracer())
	if err != nil {
		return err
	}
	return execute(ctx, cfg, opts, os.Stdout, os.Stderr)
}

// execute performs the run and prints its report. Progress is drawn on
// progressOut only for the human-readable report.
func execute(ctx context.Context, cfg *config.Config, opts runner.Options, out, progressOut io.Writer) error {
	var progress *output.ProgressReporter
	if !cfg.JSONOutput && !cfg.YAMLOutput && progressOut != nil {
		progress = output.NewProgressReporter(
			fmt.Sprintf("Loading %s over %s", opts.Session.URL(), opts.Session.Transport),
			progressInterval, progressOut)
		progress.Start()
	}

	result, err := runner.New(opts).Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return err
	}

	report := output.Report{
		Measurement: result.Measurement,
		Duration:    result.Duration,
		QLog:        qlogStatus(result, opts),
	}
	switch {
	case cfg.JSONOutput:
		return output.PrintJSONReport(out, report)
	case cfg.YAMLOutput:
		return output.PrintYAMLReport(out, report)
	default:
		output.PrintReport(out, report)
		return nil
	}
}

func qlogStatus(result runner.Result, opts runner.Options) string {
	if result.Measurement.Protocol != measurement.ProtocolQUIC || opts.QLogPath == "" {
		return ""
	}
	if result.DiagnosticErr != nil {
		return result.DiagnosticErr.Error()
	}
	return "stored"
}
