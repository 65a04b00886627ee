package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestAsString(t *testing.T) {
	tests := []struct {
		input interface{}
		want  string
	}{
		{"hello", "hello"},
		{123, "123"},
		{true, "true"},
		{nil, ""},
		{[]byte("bytes"), "bytes"},
	}

	for _, tt := range tests {
		got, err := asString(tt.input)
		if err != nil {
			t.Errorf("asString(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asString(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		input interface{}
		want  int
	}{
		{123, 123},
		{"456", 456},
		{int64(789), 789},
		{float64(10.0), 10},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asInt(tt.input)
		if err != nil {
			t.Errorf("asInt(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asInt(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestAsBool(t *testing.T) {
	tests := []struct {
		input interface{}
		want  bool
	}{
		{true, true},
		{"true", true},
		{"1", true},
		{false, false},
		{"false", false},
		{"0", false},
		{nil, false},
	}

	for _, tt := range tests {
		got, err := asBool(tt.input)
		if err != nil {
			t.Errorf("asBool(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asBool(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsDuration(t *testing.T) {
	tests := []struct {
		input interface{}
		want  time.Duration
	}{
		{time.Second, time.Second},
		{"1m", time.Minute},
		{10, 10 * time.Second}, // int treated as seconds
		{1.5, 1500 * time.Millisecond},
		{" 45s ", 45 * time.Second},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asDuration(tt.input)
		if err != nil {
			t.Errorf("asDuration(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asDuration(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsFloat64(t *testing.T) {
	tests := []struct {
		input interface{}
		want  float64
	}{
		{0.25, 0.25},
		{"0.5", 0.5},
		{1, 1},
		{"", 0},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asFloat64(tt.input)
		if err != nil {
			t.Errorf("asFloat64(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asFloat64(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}

	if _, err := asFloat64("fast"); err == nil {
		t.Error("asFloat64(\"fast\") should return error")
	}
}

func TestToStringKeyMap(t *testing.T) {
	got, err := toStringKeyMap(map[interface{}]interface{}{" Driver ": "rod"})
	if err != nil {
		t.Fatalf("toStringKeyMap() error = %v", err)
	}
	if got["driver"] != "rod" {
		t.Errorf("toStringKeyMap() = %v, want driver key", got)
	}
	if _, err := toStringKeyMap([]string{"x"}); err == nil {
		t.Error("toStringKeyMap() with a list should return error")
	}
}

func TestAsStringSlice(t *testing.T) {
	got, err := asStringSlice([]interface{}{false, 1, "x"})
	if err != nil {
		t.Fatalf("asStringSlice() error = %v", err)
	}
	want := []string{"false", "1", "x"}
	if len(got) != len(want) {
		t.Fatalf("asStringSlice() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("asStringSlice()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestApplyConfigSettings(t *testing.T) {
	cfg := Default()
	settings := map[string]interface{}{
		"transport":     "QUIC",
		"server":        "198.51.100.10",
		"output_dir":    "/data",
		"fields":        "false;3",
		"cache_warming": 2,
		"browser": map[string]interface{}{
			"path":              "/usr/bin/chromium",
			"driver":            "Rod",
			"page_load_timeout": "15s",
			"quic_port":         8443,
			"headless":          false,
		},
		"store": map[string]interface{}{
			"kind":        "SQLite",
			"sqlite_file": "runs.db",
			"on_conflict": "skip",
		},
		"qlog": map[string]interface{}{
			"path": "/var/qlog/proxy.qlog",
			"mode": "rename",
		},
		"log": map[string]interface{}{
			"level":  "DEBUG",
			"format": "json",
		},
		"tracing": map[string]interface{}{
			"endpoint":    "collector:4317",
			"sample_rate": 0.5,
		},
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}

	if cfg.Transport != "quic" {
		t.Errorf("Transport = %q, want quic", cfg.Transport)
	}
	if cfg.Server != "198.51.100.10" {
		t.Errorf("Server = %q", cfg.Server)
	}
	if len(cfg.FieldValues) != 2 || cfg.FieldValues[0] != "false" || cfg.FieldValues[1] != "3" {
		t.Errorf("FieldValues = %v, want [false 3]", cfg.FieldValues)
	}
	if cfg.CacheWarming != 2 {
		t.Errorf("CacheWarming = %d, want 2", cfg.CacheWarming)
	}
	if cfg.Browser.Driver != "rod" {
		t.Errorf("Browser.Driver = %q, want rod", cfg.Browser.Driver)
	}
	if cfg.Browser.PageLoadTimeout != 15*time.Second {
		t.Errorf("Browser.PageLoadTimeout = %v, want 15s", cfg.Browser.PageLoadTimeout)
	}
	if cfg.Browser.QUICPort != 8443 {
		t.Errorf("Browser.QUICPort = %d, want 8443", cfg.Browser.QUICPort)
	}
	if cfg.Browser.Headless {
		t.Error("Browser.Headless = true, want false")
	}
	if cfg.Browser.Domain != DefaultDomain {
		t.Errorf("Browser.Domain = %q, want default kept", cfg.Browser.Domain)
	}
	if cfg.Store.Kind != StoreSQLite || cfg.Store.SQLiteFile != "runs.db" || cfg.Store.OnConflict != OnConflictSkip {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Store.RedisPrefix != DefaultRedisPrefix {
		t.Errorf("Store.RedisPrefix = %q, want default kept", cfg.Store.RedisPrefix)
	}
	if cfg.QLog.Mode != QLogModeRename || cfg.QLog.Path != "/var/qlog/proxy.qlog" {
		t.Errorf("QLog = %+v", cfg.QLog)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Tracing.Endpoint != "collector:4317" || cfg.Tracing.SampleRate != 0.5 {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
}

func TestApplyConfigSettingsFieldList(t *testing.T) {
	cfg := Default()
	err := applyConfigSettings(cfg, map[string]interface{}{
		"fields": []interface{}{true, 7},
	})
	if err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}
	if len(cfg.FieldValues) != 2 || cfg.FieldValues[0] != "true" || cfg.FieldValues[1] != "7" {
		t.Errorf("FieldValues = %v, want [true 7]", cfg.FieldValues)
	}
}

func TestApplyConfigSettingsRejectsBadSection(t *testing.T) {
	cfg := Default()
	if err := applyConfigSettings(cfg, map[string]interface{}{"browser": "chromium"}); err == nil {
		t.Fatal("applyConfigSettings() with scalar browser section should return error")
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)

	args := []string{
		"--domain", "www.example.org",
		"--page-load-timeout", "5s",
		"--headful",
		"--store", "REDIS",
		"--redis-addr", "localhost:6379",
		"--on-conflict", "replace",
		"--id-mode", "nonce",
		"--browser-flag", "lang=en-US",
		"--browser-flag", "mute-audio",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg := Default()
	if err := applyFlagOverrides(cfg, fs); err != nil {
		t.Fatalf("applyFlagOverrides() error = %v", err)
	}

	if cfg.Browser.Domain != "www.example.org" {
		t.Errorf("Browser.Domain = %q", cfg.Browser.Domain)
	}
	if cfg.Browser.PageLoadTimeout != 5*time.Second {
		t.Errorf("Browser.PageLoadTimeout = %v, want 5s", cfg.Browser.PageLoadTimeout)
	}
	if cfg.Browser.Headless {
		t.Error("Browser.Headless = true, want false with --headful")
	}
	if cfg.Store.Kind != StoreRedis || cfg.Store.RedisAddr != "localhost:6379" || cfg.Store.OnConflict != OnConflictReplace {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.IDMode != IDModeNonce {
		t.Errorf("IDMode = %q, want nonce", cfg.IDMode)
	}
	if len(cfg.Browser.ExtraFlags) != 2 {
		t.Errorf("Browser.ExtraFlags = %v, want 2 entries", cfg.Browser.ExtraFlags)
	}
	if cfg.QLog.Path != DefaultQLogPath {
		t.Errorf("QLog.Path = %q, want default untouched", cfg.QLog.Path)
	}
}

func TestApplyPositionals(t *testing.T) {
	cfg := Default()
	cfg.OutputDir = "/from/file"
	if err := applyPositionals(cfg, []string{"HTTPS", " 10.0.0.1 ", "/opt/chrome"}); err != nil {
		t.Fatalf("applyPositionals() error = %v", err)
	}
	if cfg.Transport != "https" || cfg.Server != "10.0.0.1" || cfg.Browser.Path != "/opt/chrome" {
		t.Errorf("positionals not applied: %+v", cfg)
	}
	if cfg.OutputDir != "/from/file" {
		t.Errorf("OutputDir = %q, want value from file kept", cfg.OutputDir)
	}

	if err := applyPositionals(cfg, []string{"a", "b", "c", "d", "e", "f"}); err == nil {
		t.Error("applyPositionals() with six arguments should return error")
	}
}
