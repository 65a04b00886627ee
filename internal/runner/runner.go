package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/torosent/quicperf/internal/extractor"
	"github.com/torosent/quicperf/internal/measurement"
	"github.com/torosent/quicperf/internal/qlog"
	"github.com/torosent/quicperf/internal/tracing"
)

// persistTimeout bounds storing and draining once the page load is over.
const persistTimeout = 30 * time.Second

// Result captures the outcome of a run.
type Result struct {
	Measurement measurement.Measurement
	// DiagnosticErr is set when the qlog could not be drained. The
	// measurement itself was stored.
	DiagnosticErr error
	Duration      time.Duration
}

// Runner performs a single measurement.
type Runner struct {
	opt Options
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt}
}

// Run measures the page once and persists the result. The returned error is
// non-nil only when the run could not be set up or the measurement could not
// be stored.
func (r *Runner) Run(ctx context.Context) (res Result, err error) {
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	if err := r.opt.validate(); err != nil {
		return Result{}, err
	}

	ctx, span := tracing.StartStageSpan(ctx, r.opt.Tracer, "run",
		attribute.String("quicperf.transport", string(r.opt.Session.Transport)),
		attribute.String("quicperf.server", r.opt.Session.Server),
		attribute.Int("quicperf.cache_warming", r.opt.CacheWarming),
	)
	defer func() { tracing.EndSpan(span, err) }()

	st := r.opt.Store
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("closing store failed")
			if err == nil {
				err = fmt.Errorf("close store: %w", cerr)
			}
		}
	}()

	initCtx, initSpan := tracing.StartStageSpan(ctx, r.opt.Tracer, "initialize")
	err = st.Initialize(initCtx)
	tracing.EndSpan(initSpan, err)
	if err != nil {
		return Result{}, fmt.Errorf("initialize store: %w", err)
	}

	ex, err := extractor.New(extractor.Options{
		Launcher:        r.opt.Launcher,
		Session:         r.opt.Session,
		PageLoadTimeout: r.opt.PageLoadTimeout,
		ScreenshotPath:  r.opt.ScreenshotPath,
		Tracer:          r.opt.Tracer,
		Now:             r.opt.Now,
	})
	if err != nil {
		return Result{}, err
	}
	m, err := ex.Measure(ctx, r.opt.Page, r.opt.CacheWarming)
	if err != nil {
		return Result{}, fmt.Errorf("measure: %w", err)
	}

	m.ID, err = r.opt.IDs.Identify(string(m.Protocol), m.Server, m.Domain, m.CacheWarming)
	if err != nil {
		return Result{}, fmt.Errorf("identify: %w", err)
	}
	res.Measurement = m

	logger := log.With().Str("id", m.ID).Str("transport", string(m.Protocol)).Logger()
	logger.Debug().Str("id_mode", string(r.opt.IDs.Mode())).Int("cache_warming", m.CacheWarming).Msg("measurement identified")
	if m.Failed() {
		logger.Warn().Str("error", m.Error).Msg("page load failed, storing error record")
	}

	// An interrupt ends the page load, not the run: the record built from it
	// is still stored and the qlog still drained.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	persistCtx, persistSpan := tracing.StartStageSpan(storeCtx, r.opt.Tracer, "persist",
		attribute.String("quicperf.measurement_id", m.ID))
	err = st.Append(persistCtx, m)
	tracing.EndSpan(persistSpan, err)
	if err != nil {
		return res, fmt.Errorf("persist measurement: %w", err)
	}
	logger.Info().Float64("duration_ms", m.Timing.Duration).Str("next_hop_protocol", m.Timing.NextHopProtocol).Msg("measurement stored")

	if m.Protocol == measurement.ProtocolQUIC && r.opt.QLogPath != "" {
		res.DiagnosticErr = r.drain(storeCtx, m.ID)
		if res.DiagnosticErr != nil {
			logger.Warn().Err(res.DiagnosticErr).Msg("qlog not stored")
		}
	}
	return res, nil
}

func (r *Runner) drain(ctx context.Context, id string) (err error) {
	ctx, span := tracing.StartStageSpan(ctx, r.opt.Tracer, "qlog",
		attribute.String("quicperf.measurement_id", id))
	defer func() { tracing.EndSpan(span, err) }()

	c, err := qlog.New(r.opt.QLogPath, r.opt.QLogMode, r.opt.Store)
	if err != nil {
		return err
	}
	if err := c.DrainAndStore(ctx, id); err != nil {
		if errors.Is(err, qlog.ErrArtifactMissing) {
			return err
		}
		return fmt.Errorf("drain qlog: %w", err)
	}
	return nil
}
