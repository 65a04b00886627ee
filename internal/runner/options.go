package runner

import (
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/quicperf/internal/browser"
	"github.com/torosent/quicperf/internal/config"
	"github.com/torosent/quicperf/internal/identity"
	"github.com/torosent/quicperf/internal/measurement"
	"github.com/torosent/quicperf/internal/qlog"
	"github.com/torosent/quicperf/internal/session"
	"github.com/torosent/quicperf/internal/store"
)

// Options configure the Runner.
type Options struct {
	Session         *session.Config     // browser launch configuration (required)
	Launcher        browser.Launcher    // browser driver (required)
	Store           store.Store         // measurement sink (required)
	IDs             *identity.Generator // nil means deterministic identifiers
	Page            string              // page to load; defaults to the session domain
	CacheWarming    int                 // cache-warming pass recorded with the measurement
	PageLoadTimeout time.Duration       // 0 means the extractor default
	ScreenshotPath  string              // optional full-page screenshot
	QLogPath        string              // qlog artifact; empty disables draining
	QLogMode        qlog.Mode
	Tracer          trace.Tracer
	Now             func() time.Time // clock used for measurement timestamps
}

func (o *Options) normalize() {
	if o.Page == "" && o.Session != nil {
		o.Page = o.Session.Domain
	}
	if o.CacheWarming < 0 {
		o.CacheWarming = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

func (o Options) validate() error {
	var errs []error
	if o.Session == nil {
		errs = append(errs, errors.New("session config is required"))
	}
	if o.Launcher == nil {
		errs = append(errs, errors.New("browser launcher is required"))
	}
	if o.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	return errors.Join(errs...)
}

// OptionsFromConfig builds run options from a validated Config. The store
// is created but not initialized.
func OptionsFromConfig(cfg *config.Config, tracer trace.Tracer) (Options, error) {
	sess, err := session.New(session.Options{
		Transport:       cfg.Transport,
		Server:          cfg.Server,
		Domain:          cfg.Browser.Domain,
		SPKIFingerprint: cfg.Browser.SPKIFingerprint,
		QUICPort:        cfg.Browser.QUICPort,
		BrowserPath:     cfg.Browser.Path,
		Headless:        cfg.Browser.Headless,
		ExtraFlags:      parseFlags(cfg.Browser.ExtraFlags),
	})
	if err != nil {
		return Options{}, err
	}

	launcher, err := browser.New(browser.Driver(cfg.Browser.Driver))
	if err != nil {
		return Options{}, err
	}

	ids, err := identity.NewGenerator(identity.Mode(cfg.IDMode))
	if err != nil {
		return Options{}, err
	}

	policy, err := store.ParseConflictPolicy(cfg.Store.OnConflict)
	if err != nil {
		return Options{}, err
	}
	st, err := store.New(store.Options{
		Kind:          store.Kind(cfg.Store.Kind),
		OutputDir:     cfg.OutputDir,
		OnConflict:    policy,
		CSVFile:       cfg.Store.CSVFile,
		FieldNames:    cfg.FieldNames,
		FieldValues:   cfg.FieldValues,
		SQLiteFile:    cfg.Store.SQLiteFile,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		RedisPrefix:   cfg.Store.RedisPrefix,
	})
	if err != nil {
		return Options{}, err
	}

	opts := Options{
		Session:         sess,
		Launcher:        launcher,
		Store:           st,
		IDs:             ids,
		Page:            sess.Domain,
		CacheWarming:    cfg.CacheWarming,
		PageLoadTimeout: cfg.Browser.PageLoadTimeout,
		ScreenshotPath:  cfg.Screenshot,
		QLogMode:        qlog.Mode(cfg.QLog.Mode),
		Tracer:          tracer,
	}
	if cfg.Transport == measurement.ProtocolQUIC {
		opts.QLogPath = cfg.QLog.Path
	}
	return opts, nil
}

// parseFlags turns "name" and "name=value" strings into browser switches.
func parseFlags(raw []string) []session.Flag {
	flags := make([]session.Flag, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimPrefix(strings.TrimSpace(entry), "--")
		if entry == "" {
			continue
		}
		name, value, _ := strings.Cut(entry, "=")
		flags = append(flags, session.Flag{Name: name, Value: value})
	}
	return flags
}
