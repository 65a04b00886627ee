package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/torosent/quicperf/internal/measurement"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// ErrMissingArguments is returned, after the usage is printed, when neither
// positional arguments nor a config file were given.
var ErrMissingArguments = errors.New("transport, server, browser path and output directory are required")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a
// Config. Precedence is defaults, then the config file, then positional
// arguments and flags. The result is not validated.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrMissingArguments
	}
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyPositionals(cfg, flagSet.Args()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Server = strings.TrimSpace(cfg.Server)
	cfg.OutputDir = strings.TrimSpace(cfg.OutputDir)
	cfg.Browser.Path = strings.TrimSpace(cfg.Browser.Path)
	for i, name := range cfg.FieldNames {
		cfg.FieldNames[i] = strings.TrimSpace(name)
	}

	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "transport", "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("transport: %w", err)
		}
		cfg.Transport = measurement.Protocol(strings.ToLower(strings.TrimSpace(val)))
	}
	if raw, ok := lookupSetting(settings, "server"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		cfg.Server = val
	}
	if raw, ok := lookupSetting(settings, "output_dir", "outputdir", "output-dir"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("output_dir: %w", err)
		}
		cfg.OutputDir = val
	}
	if raw, ok := lookupSetting(settings, "field_names", "fieldnames", "field-names"); ok {
		names, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("field_names: %w", err)
		}
		cfg.FieldNames = names
	}
	if raw, ok := lookupSetting(settings, "fields"); ok {
		// Accept both a list and the ';'-separated command-line form.
		if s, isString := raw.(string); isString {
			cfg.FieldValues = splitFields(s)
		} else {
			vals, err := asStringSlice(raw)
			if err != nil {
				return fmt.Errorf("fields: %w", err)
			}
			cfg.FieldValues = vals
		}
	}
	if raw, ok := lookupSetting(settings, "cache_warming", "cachewarming", "cache-warming"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("cache_warming: %w", err)
		}
		cfg.CacheWarming = val
	}
	if raw, ok := lookupSetting(settings, "id_mode", "idmode", "id-mode"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("id_mode: %w", err)
		}
		cfg.IDMode = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "screenshot"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("screenshot: %w", err)
		}
		cfg.Screenshot = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "json_output", "jsonoutput", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("json_output: %w", err)
		}
		cfg.JSONOutput = val
	}
	if raw, ok := lookupSetting(settings, "yaml_output", "yamloutput", "yaml-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("yaml_output: %w", err)
		}
		cfg.YAMLOutput = val
	}

	if raw, ok := lookupSetting(settings, "browser"); ok {
		if err := parseBrowserConfig(&cfg.Browser, raw); err != nil {
			return fmt.Errorf("browser: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "store"); ok {
		if err := parseStoreConfig(&cfg.Store, raw); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "qlog"); ok {
		if err := parseQLogConfig(&cfg.QLog, raw); err != nil {
			return fmt.Errorf("qlog: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "log"); ok {
		if err := parseLogConfig(&cfg.Log, raw); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := parseTracingConfig(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}
	return nil
}

// parseBrowserConfig overlays the browser section onto b, keeping defaults for
// keys the file omits.
func parseBrowserConfig(b *BrowserConfig, value interface{}) error {
	if value == nil {
		return nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("path: %w", err)
		}
		b.Path = val
	}
	if raw, ok := lookupSetting(settings, "driver"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("driver: %w", err)
		}
		b.Driver = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "domain"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("domain: %w", err)
		}
		b.Domain = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "page_load_timeout", "pageloadtimeout", "page-load-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("page_load_timeout: %w", err)
		}
		b.PageLoadTimeout = dur
	}
	if raw, ok := lookupSetting(settings, "spki_fingerprint", "spkifingerprint", "spki-fingerprint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("spki_fingerprint: %w", err)
		}
		b.SPKIFingerprint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "quic_port", "quicport", "quic-port"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("quic_port: %w", err)
		}
		b.QUICPort = val
	}
	if raw, ok := lookupSetting(settings, "headless"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("headless: %w", err)
		}
		b.Headless = val
	}
	if raw, ok := lookupSetting(settings, "extra_flags", "extraflags", "extra-flags"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("extra_flags: %w", err)
		}
		b.ExtraFlags = val
	}
	return nil
}

func parseStoreConfig(s *StoreConfig, value interface{}) error {
	if value == nil {
		return nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	strs := []struct {
		keys []string
		dst  *string
		norm bool
	}{
		{[]string{"kind", "type"}, &s.Kind, true},
		{[]string{"csv_file", "csvfile", "csv-file"}, &s.CSVFile, false},
		{[]string{"sqlite_file", "sqlitefile", "sqlite-file"}, &s.SQLiteFile, false},
		{[]string{"redis_addr", "redisaddr", "redis-addr"}, &s.RedisAddr, false},
		{[]string{"redis_password", "redispassword", "redis-password"}, &s.RedisPassword, false},
		{[]string{"redis_prefix", "redisprefix", "redis-prefix"}, &s.RedisPrefix, false},
		{[]string{"on_conflict", "onconflict", "on-conflict"}, &s.OnConflict, true},
	}
	for _, f := range strs {
		raw, ok := lookupSetting(settings, f.keys...)
		if !ok {
			continue
		}
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.keys[0], err)
		}
		val = strings.TrimSpace(val)
		if f.norm {
			val = strings.ToLower(val)
		}
		*f.dst = val
	}
	if raw, ok := lookupSetting(settings, "redis_db", "redisdb", "redis-db"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("redis_db: %w", err)
		}
		s.RedisDB = val
	}
	return nil
}

func parseQLogConfig(q *QLogConfig, value interface{}) error {
	if value == nil {
		return nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("path: %w", err)
		}
		q.Path = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "mode"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("mode: %w", err)
		}
		q.Mode = strings.ToLower(strings.TrimSpace(val))
	}
	return nil
}

func parseLogConfig(l *LogConfig, value interface{}) error {
	if value == nil {
		return nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("level: %w", err)
		}
		l.Level = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}
		l.Format = strings.ToLower(strings.TrimSpace(val))
	}
	return nil
}

func parseTracingConfig(t *TracingConfig, value interface{}) error {
	if value == nil {
		return nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "service_name", "servicename", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = val
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "samplerate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	return nil
}
