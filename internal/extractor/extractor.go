// Package extractor loads one page in a fresh browser session and reads its
// navigation and paint timing from the browser's performance API.
//
// Navigation, script and launch failures never escape as errors: they are
// turned into a zero-filled measurement whose Error field describes the
// cause, so the caller always has exactly one record to persist.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/quicperf/internal/browser"
	"github.com/torosent/quicperf/internal/measurement"
	"github.com/torosent/quicperf/internal/session"
	"github.com/torosent/quicperf/internal/tracing"
)

// DefaultPageLoadTimeout bounds navigation when Options.PageLoadTimeout is unset.
const DefaultPageLoadTimeout = 60 * time.Second

// Options configures an Extractor.
type Options struct {
	Launcher        browser.Launcher
	Session         *session.Config
	PageLoadTimeout time.Duration
	// ScreenshotPath, when set, receives a full-page PNG after a successful load.
	ScreenshotPath string
	Tracer         trace.Tracer
	Now            func() time.Time
}

// Extractor measures page loads.
type Extractor struct {
	launcher   browser.Launcher
	session    *session.Config
	timeout    time.Duration
	screenshot string
	tracer     trace.Tracer
	now        func() time.Time
}

// New creates an Extractor.
func New(opts Options) (*Extractor, error) {
	if opts.Launcher == nil {
		return nil, errors.New("browser launcher is required")
	}
	if opts.Session == nil {
		return nil, errors.New("session config is required")
	}
	timeout := opts.PageLoadTimeout
	if timeout <= 0 {
		timeout = DefaultPageLoadTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Extractor{
		launcher:   opts.Launcher,
		session:    opts.Session,
		timeout:    timeout,
		screenshot: opts.ScreenshotPath,
		tracer:     opts.Tracer,
		now:        now,
	}, nil
}

// Measure loads page once and returns its timing. The returned error is
// non-nil only when the Extractor itself is unusable; page-load failures are
// reported through Measurement.Error.
func (e *Extractor) Measure(ctx context.Context, page string, cacheWarming int) (measurement.Measurement, error) {
	if e == nil || e.launcher == nil || e.session == nil {
		return measurement.Measurement{}, errors.New("extractor is not configured")
	}

	m := measurement.Measurement{
		Protocol:     e.session.Transport,
		Server:       e.session.Server,
		Domain:       page,
		CacheWarming: cacheWarming,
	}

	launchCtx, span := tracing.StartStageSpan(ctx, e.tracer, "launch",
		attribute.String("quicperf.transport", string(e.session.Transport)))
	sess, err := e.launcher.Launch(launchCtx, e.session)
	tracing.EndSpan(span, err)
	m.Timestamp = e.now()
	if err != nil {
		log.Error().Err(err).Msg("browser launch failed")
		return failed(m, err.Error()), nil
	}
	log.Debug().Strs("args", e.session.Args()).Msg("browser launched")
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("browser close failed")
		}
	}()

	timing, err := e.load(ctx, sess, e.session.URLFor(page))
	if err != nil {
		log.Warn().Err(err).Str("page", page).Msg("page load failed")
		return failed(m, e.describe(err)), nil
	}
	m.Timing = timing

	if e.screenshot != "" {
		if err := e.capture(ctx, sess); err != nil {
			log.Warn().Err(err).Str("path", e.screenshot).Msg("screenshot failed")
		}
	}
	return m, nil
}

func (e *Extractor) load(ctx context.Context, sess browser.Session, url string) (measurement.Timing, error) {
	loadCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	navCtx, span := tracing.StartStageSpan(loadCtx, e.tracer, "navigate", attribute.String("url.full", url))
	err := sess.Navigate(navCtx, url)
	tracing.EndSpan(span, err)
	if err != nil {
		return measurement.Timing{}, err
	}

	evalCtx, span := tracing.StartStageSpan(loadCtx, e.tracer, "evaluate")
	raw, err := sess.Evaluate(evalCtx, timingScript)
	if err != nil {
		tracing.EndSpan(span, err)
		return measurement.Timing{}, err
	}
	timing, err := parseTiming(raw)
	tracing.EndSpan(span, err,
		attribute.String("quicperf.next_hop_protocol", timing.NextHopProtocol))
	return timing, err
}

func (e *Extractor) capture(ctx context.Context, sess browser.Session) error {
	shotCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	img, err := sess.Screenshot(shotCtx)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(e.screenshot); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(e.screenshot, img, 0o644)
}

func (e *Extractor) describe(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("page load timeout after %s: %v", e.timeout, err)
	}
	return err.Error()
}

// failed returns m with a zero Timing and the given error text.
func failed(m measurement.Measurement, reason string) measurement.Measurement {
	if reason == "" {
		reason = "unknown error"
	}
	m.Timing = measurement.Timing{}
	m.Error = reason
	return m
}
