package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/torosent/quicperf/internal/measurement"
)

const usage = "quicperf <transport> <server> <browser-path> <output-dir> [fields]"

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           usage,
		Short:         "Measure one page load over HTTP, HTTPS or QUIC",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	def := Default()

	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.StringSlice("field-names", DefaultFieldNames, "Names of the descriptive fields prefixing each CSV row")
	flags.Int("cache-warming", 0, "Cache-warming pass recorded with the measurement")
	flags.String("id-mode", IDModeDeterministic, "Identifier mode: 'deterministic' or 'nonce'")

	// Browser flags
	flags.String("domain", DefaultDomain, "Hostname under test, mapped to the server address")
	flags.String("driver", DefaultDriver, "Browser driver: 'chromedp' or 'rod'")
	flags.Duration("page-load-timeout", DefaultPageLoadTimeout, "Page load timeout")
	flags.String("spki-fingerprint", DefaultSPKIFingerprint, "Base64 SHA-256 SPKI fingerprint of the server certificate")
	flags.Int("quic-port", DefaultQUICPort, "Port QUIC is forced on")
	flags.Bool("headful", false, "Show the browser window")
	flags.StringSlice("browser-flag", nil, "Additional browser switch in name or name=value form (repeatable)")
	flags.String("screenshot", "", "Save a full-page screenshot to this path after a successful load")

	// Store flags
	flags.String("store", def.Store.Kind, "Measurement store: 'csv', 'sqlite' or 'redis'")
	flags.String("csv-file", "", "CSV file name inside the output directory (default http.csv or http_pep.csv)")
	flags.String("sqlite-file", DefaultSQLiteFile, "SQLite database file, relative to the output directory")
	flags.String("redis-addr", "", "Redis address (host:port)")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", 0, "Redis database number")
	flags.String("redis-prefix", DefaultRedisPrefix, "Redis key prefix")
	flags.String("on-conflict", OnConflictFail, "Duplicate identifier policy: 'fail', 'skip' or 'replace'")

	// qlog flags
	flags.String("qlog-path", DefaultQLogPath, "qlog file written by the QUIC proxy")
	flags.String("qlog-mode", QLogModeTruncate, "qlog drain mode: 'truncate' or 'rename'")

	// Output flags
	flags.Bool("json-output", false, "Print the measurement as JSON")
	flags.Bool("yaml-output", false, "Print the measurement as YAML")
	flags.String("log-level", def.Log.Level, "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", def.Log.Format, "Log format: 'console' or 'json'")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", def.Tracing.Protocol, "OTLP protocol: 'grpc' or 'http'")
	flags.String("tracing-service-name", "", "Service name reported with spans")
	flags.Float64("tracing-sample-rate", def.Tracing.SampleRate, "Fraction of traces to sample (0.0-1.0)")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\n", cmd.UseLine())
	fmt.Fprintln(out, "Arguments:")
	fmt.Fprintln(out, "  transport      http, https or quic")
	fmt.Fprintln(out, "  server         address the domain under test is mapped to")
	fmt.Fprintln(out, "  browser-path   Chromium executable")
	fmt.Fprintln(out, "  output-dir     directory for the measurement store")
	fmt.Fprintln(out, "  fields         ';'-separated descriptive field values (e.g. 'false;1')")
	fmt.Fprintln(out, "\nFlags:")
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyPositionals assigns positional arguments in order. Arguments that are
// absent keep the value from the config file.
func applyPositionals(cfg *Config, args []string) error {
	if len(args) > 5 {
		return fmt.Errorf("too many arguments: %d (usage: %s)", len(args), usage)
	}
	for i, arg := range args {
		arg = strings.TrimSpace(arg)
		switch i {
		case 0:
			cfg.Transport = measurement.Protocol(strings.ToLower(arg))
		case 1:
			cfg.Server = arg
		case 2:
			cfg.Browser.Path = arg
		case 3:
			cfg.OutputDir = arg
		case 4:
			cfg.FieldValues = splitFields(arg)
		}
	}
	return nil
}

func splitFields(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ";")
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("field-names") {
		val, err := fs.GetStringSlice("field-names")
		if err != nil {
			return err
		}
		cfg.FieldNames = val
	}
	if fs.Changed("cache-warming") {
		val, err := fs.GetInt("cache-warming")
		if err != nil {
			return err
		}
		cfg.CacheWarming = val
	}
	if fs.Changed("id-mode") {
		val, err := fs.GetString("id-mode")
		if err != nil {
			return err
		}
		cfg.IDMode = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("domain") {
		val, err := fs.GetString("domain")
		if err != nil {
			return err
		}
		cfg.Browser.Domain = strings.TrimSpace(val)
	}
	if fs.Changed("driver") {
		val, err := fs.GetString("driver")
		if err != nil {
			return err
		}
		cfg.Browser.Driver = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("page-load-timeout") {
		val, err := fs.GetDuration("page-load-timeout")
		if err != nil {
			return err
		}
		cfg.Browser.PageLoadTimeout = val
	}
	if fs.Changed("spki-fingerprint") {
		val, err := fs.GetString("spki-fingerprint")
		if err != nil {
			return err
		}
		cfg.Browser.SPKIFingerprint = strings.TrimSpace(val)
	}
	if fs.Changed("quic-port") {
		val, err := fs.GetInt("quic-port")
		if err != nil {
			return err
		}
		cfg.Browser.QUICPort = val
	}
	if fs.Changed("headful") {
		val, err := fs.GetBool("headful")
		if err != nil {
			return err
		}
		cfg.Browser.Headless = !val
	}
	if fs.Changed("browser-flag") {
		val, err := fs.GetStringSlice("browser-flag")
		if err != nil {
			return err
		}
		cfg.Browser.ExtraFlags = val
	}
	if fs.Changed("screenshot") {
		val, err := fs.GetString("screenshot")
		if err != nil {
			return err
		}
		cfg.Screenshot = strings.TrimSpace(val)
	}
	if fs.Changed("store") {
		val, err := fs.GetString("store")
		if err != nil {
			return err
		}
		cfg.Store.Kind = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("csv-file") {
		val, err := fs.GetString("csv-file")
		if err != nil {
			return err
		}
		cfg.Store.CSVFile = strings.TrimSpace(val)
	}
	if fs.Changed("sqlite-file") {
		val, err := fs.GetString("sqlite-file")
		if err != nil {
			return err
		}
		cfg.Store.SQLiteFile = strings.TrimSpace(val)
	}
	if fs.Changed("redis-addr") {
		val, err := fs.GetString("redis-addr")
		if err != nil {
			return err
		}
		cfg.Store.RedisAddr = strings.TrimSpace(val)
	}
	if fs.Changed("redis-password") {
		val, err := fs.GetString("redis-password")
		if err != nil {
			return err
		}
		cfg.Store.RedisPassword = val
	}
	if fs.Changed("redis-db") {
		val, err := fs.GetInt("redis-db")
		if err != nil {
			return err
		}
		cfg.Store.RedisDB = val
	}
	if fs.Changed("redis-prefix") {
		val, err := fs.GetString("redis-prefix")
		if err != nil {
			return err
		}
		cfg.Store.RedisPrefix = strings.TrimSpace(val)
	}
	if fs.Changed("on-conflict") {
		val, err := fs.GetString("on-conflict")
		if err != nil {
			return err
		}
		cfg.Store.OnConflict = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("qlog-path") {
		val, err := fs.GetString("qlog-path")
		if err != nil {
			return err
		}
		cfg.QLog.Path = strings.TrimSpace(val)
	}
	if fs.Changed("qlog-mode") {
		val, err := fs.GetString("qlog-mode")
		if err != nil {
			return err
		}
		cfg.QLog.Mode = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("yaml-output") {
		val, err := fs.GetBool("yaml-output")
		if err != nil {
			return err
		}
		cfg.YAMLOutput = val
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		cfg.Tracing.ServiceName = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	return nil
}
