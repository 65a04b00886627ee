package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/torosent/quicperf/internal/measurement"
)

// Store kinds.
const (
	StoreCSV    = "csv"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Conflict policies for keyed stores.
const (
	OnConflictFail    = "fail"
	OnConflictSkip    = "skip"
	OnConflictReplace = "replace"
)

// Identifier modes.
const (
	IDModeDeterministic = "deterministic"
	IDModeNonce         = "nonce"
)

// QLog drain modes.
const (
	QLogModeTruncate = "truncate"
	QLogModeRename   = "rename"
)

// Defaults applied before the config file and flags.
const (
	DefaultDomain          = "example.com"
	DefaultDriver          = "chromedp"
	DefaultPageLoadTimeout = 60 * time.Second
	DefaultSPKIFingerprint = "D29LAH0IMcLx/d7R2JAH5bw/YKYK9uNRYc6W0/GJlS8="
	DefaultQUICPort        = 443
	DefaultSQLiteFile      = "measurements.db"
	DefaultRedisPrefix     = "quicperf"
	DefaultQLogPath        = "/tmp/qlog/proxy.qlog"
)

// DefaultFieldNames are the descriptive columns that prefix every CSV row.
var DefaultFieldNames = []string{"pep", "run"}

// ErrFieldArity is returned when the number of descriptive field values does
// not match the configured field names.
var ErrFieldArity = errors.New("number of descriptive fields does not match")

type Config struct {
	Transport    measurement.Protocol `mapstructure:"transport"`
	Server       string               `mapstructure:"server"`
	OutputDir    string               `mapstructure:"output_dir"`
	FieldNames   []string             `mapstructure:"field_names"`
	FieldValues  []string             `mapstructure:"fields"`
	CacheWarming int                  `mapstructure:"cache_warming"`
	IDMode       string               `mapstructure:"id_mode"`
	Screenshot   string               `mapstructure:"screenshot"`
	JSONOutput   bool                 `mapstructure:"json_output"`
	YAMLOutput   bool                 `mapstructure:"yaml_output"`
	ConfigFile   string               `mapstructure:"-"`
	Browser      BrowserConfig        `mapstructure:"browser"`
	Store        StoreConfig          `mapstructure:"store"`
	QLog         QLogConfig           `mapstructure:"qlog"`
	Log          LogConfig            `mapstructure:"log"`
	Tracing      TracingConfig        `mapstructure:"tracing"`
}

type BrowserConfig struct {
	Path            string        `mapstructure:"path"`
	Driver          string        `mapstructure:"driver"` // "chromedp" or "rod"
	Domain          string        `mapstructure:"domain"`
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout"`
	SPKIFingerprint string        `mapstructure:"spki_fingerprint"`
	QUICPort        int           `mapstructure:"quic_port"`
	Headless        bool          `mapstructure:"headless"`
	ExtraFlags      []string      `mapstructure:"extra_flags"` // name or name=value
}

type StoreConfig struct {
	Kind          string `mapstructure:"kind"`
	CSVFile       string `mapstructure:"csv_file"` // overrides http.csv / http_pep.csv
	SQLiteFile    string `mapstructure:"sqlite_file"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
	OnConflict    string `mapstructure:"on_conflict"`
}

type QLogConfig struct {
	Path string `mapstructure:"path"`
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

// TracingConfig configures the OTLP span exporter. An empty Endpoint
// disables tracing unless OTEL_EXPORTER_OTLP_ENDPOINT is set.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		FieldNames: append([]string(nil), DefaultFieldNames...),
		IDMode:     IDModeDeterministic,
		Browser: BrowserConfig{
			Driver:          DefaultDriver,
			Domain:          DefaultDomain,
			PageLoadTimeout: DefaultPageLoadTimeout,
			SPKIFingerprint: DefaultSPKIFingerprint,
			QUICPort:        DefaultQUICPort,
			Headless:        true,
		},
		Store: StoreConfig{
			Kind:        StoreCSV,
			SQLiteFile:  DefaultSQLiteFile,
			RedisPrefix: DefaultRedisPrefix,
			OnConflict:  OnConflictFail,
		},
		QLog: QLogConfig{
			Path: DefaultQLogPath,
			Mode: QLogModeTruncate,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			Protocol:   "grpc",
			SampleRate: 1.0,
		},
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// FieldArityError reports a descriptive field count mismatch. It matches
// ErrFieldArity with errors.Is.
type FieldArityError struct {
	Want []string
	Got  []string
}

func (e FieldArityError) Error() string {
	return fmt.Sprintf("%s: expected %d (%s), got %d",
		ErrFieldArity, len(e.Want), strings.Join(e.Want, ";"), len(e.Got))
}

func (e FieldArityError) Is(target error) bool {
	return target == ErrFieldArity
}

// Validate checks the configuration. A field arity mismatch is reported on
// its own as a FieldArityError; everything else is collected into a
// ValidationError.
func (c Config) Validate() error {
	var issues []string

	if c.Transport == "" {
		issues = append(issues, "transport is required (use --help for usage information)")
	} else if !c.Transport.Valid() {
		issues = append(issues, fmt.Sprintf("transport must be one of http, https or quic, got %q", c.Transport))
	}
	if strings.TrimSpace(c.Server) == "" {
		issues = append(issues, "server is required")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		issues = append(issues, "output directory is required")
	}
	if c.CacheWarming < 0 {
		issues = append(issues, "cache-warming must be >= 0")
	}
	switch c.IDMode {
	case IDModeDeterministic, IDModeNonce:
	default:
		issues = append(issues, fmt.Sprintf("id-mode must be %q or %q", IDModeDeterministic, IDModeNonce))
	}
	if c.JSONOutput && c.YAMLOutput {
		issues = append(issues, "json-output and yaml-output are mutually exclusive")
	}
	for idx, name := range c.FieldNames {
		if strings.TrimSpace(name) == "" {
			issues = append(issues, fmt.Sprintf("field_names[%d]: name cannot be empty", idx))
		}
	}

	issues = append(issues, validateBrowser(c.Browser)...)
	issues = append(issues, validateStore(c.Store)...)
	issues = append(issues, validateQLog(c.QLog, c.Transport)...)
	issues = append(issues, validateLog(c.Log)...)

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing sample_rate must be between 0.0 and 1.0")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}

	return c.validateFields()
}

func (c Config) validateFields() error {
	if len(c.FieldValues) == 0 && c.Store.Kind != StoreCSV {
		return nil
	}
	if len(c.FieldValues) != len(c.FieldNames) {
		return FieldArityError{Want: c.FieldNames, Got: c.FieldValues}
	}
	return nil
}

func validateBrowser(b BrowserConfig) []string {
	var issues []string
	if strings.TrimSpace(b.Path) == "" {
		issues = append(issues, "browser path is required")
	}
	switch strings.ToLower(b.Driver) {
	case "chromedp", "rod":
	default:
		issues = append(issues, fmt.Sprintf("browser driver must be chromedp or rod, got %q", b.Driver))
	}
	if strings.TrimSpace(b.Domain) == "" {
		issues = append(issues, "domain cannot be empty")
	}
	if b.PageLoadTimeout <= 0 {
		issues = append(issues, "page-load-timeout must be > 0")
	}
	if b.QUICPort < 1 || b.QUICPort > 65535 {
		issues = append(issues, "quic-port must be between 1 and 65535")
	}
	return issues
}

func validateStore(s StoreConfig) []string {
	var issues []string
	switch s.Kind {
	case StoreCSV:
	case StoreSQLite:
		if strings.TrimSpace(s.SQLiteFile) == "" {
			issues = append(issues, "sqlite-file is required for the sqlite store")
		}
	case StoreRedis:
		if strings.TrimSpace(s.RedisAddr) == "" {
			issues = append(issues, "redis-addr is required for the redis store")
		}
		if s.RedisDB < 0 {
			issues = append(issues, "redis db must be >= 0")
		}
	default:
		issues = append(issues, fmt.Sprintf("store must be csv, sqlite or redis, got %q", s.Kind))
	}
	switch s.OnConflict {
	case OnConflictFail, OnConflictSkip, OnConflictReplace:
	default:
		issues = append(issues, fmt.Sprintf("on-conflict must be fail, skip or replace, got %q", s.OnConflict))
	}
	return issues
}

func validateQLog(q QLogConfig, transport measurement.Protocol) []string {
	var issues []string
	switch q.Mode {
	case QLogModeTruncate, QLogModeRename:
	default:
		issues = append(issues, fmt.Sprintf("qlog-mode must be truncate or rename, got %q", q.Mode))
	}
	if transport == measurement.ProtocolQUIC && strings.TrimSpace(q.Path) == "" {
		issues = append(issues, "qlog-path is required for quic")
	}
	return issues
}

func validateLog(l LogConfig) []string {
	var issues []string
	switch strings.ToLower(l.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		issues = append(issues, fmt.Sprintf("log-level %q is not recognised", l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log-format must be console or json, got %q", l.Format))
	}
	return issues
}
