package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/quicperf/internal/measurement"
	"github.com/torosent/quicperf/internal/session"
)

func TestNewHTTPSession(t *testing.T) {
	cfg, err := session.New(session.Options{
		Transport: measurement.ProtocolHTTP,
		Server:    "198.51.100.10",
		Headless:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, "example.com", cfg.Domain)
	assert.Equal(t, "http://example.com", cfg.URL())

	rule, ok := cfg.Lookup("host-resolver-rules")
	require.True(t, ok)
	assert.Equal(t, "MAP example.com 198.51.100.10", rule)

	spki, ok := cfg.Lookup("ignore-certificate-errors-spki-list")
	require.True(t, ok)
	assert.Equal(t, session.DefaultSPKIFingerprint, spki)

	_, ok = cfg.Lookup("disable-http-cache")
	assert.True(t, ok)
	_, ok = cfg.Lookup("headless")
	assert.True(t, ok)

	_, ok = cfg.Lookup("enable-quic")
	assert.False(t, ok, "quic must not be enabled for http")
	_, ok = cfg.Lookup("origin-to-force-quic-on")
	assert.False(t, ok)
}

func TestNewQUICSession(t *testing.T) {
	cfg, err := session.New(session.Options{
		Transport: measurement.ProtocolQUIC,
		Server:    "203.0.113.7",
		Domain:    "test.example",
		QUICPort:  8443,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://test.example", cfg.URL())

	_, ok := cfg.Lookup("enable-quic")
	assert.True(t, ok)
	origin, ok := cfg.Lookup("origin-to-force-quic-on")
	require.True(t, ok)
	assert.Equal(t, "test.example:8443", origin)

	_, ok = cfg.Lookup("headless")
	assert.False(t, ok)
}

func TestNewHTTPSUsesSecureScheme(t *testing.T) {
	cfg, err := session.New(session.Options{Transport: measurement.ProtocolHTTPS, Server: "192.0.2.1"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", cfg.URL())
	assert.Equal(t, "https://example.com/index.html", cfg.URLFor("http://example.com/index.html"))
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		opts session.Options
	}{
		{"unknown transport", session.Options{Transport: "h2", Server: "192.0.2.1"}},
		{"empty transport", session.Options{Server: "192.0.2.1"}},
		{"missing server", session.Options{Transport: measurement.ProtocolHTTP, Server: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := session.New(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestArgsRendering(t *testing.T) {
	cfg, err := session.New(session.Options{
		Transport:       measurement.ProtocolHTTP,
		Server:          "192.0.2.1",
		SPKIFingerprint: "abc=",
		ExtraFlags:      []session.Flag{{Name: "verbose"}},
	})
	require.NoError(t, err)

	args := cfg.Args()
	assert.Contains(t, args, "--host-resolver-rules=MAP example.com 192.0.2.1")
	assert.Contains(t, args, "--ignore-certificate-errors-spki-list=abc=")
	assert.Contains(t, args, "--disable-http-cache")
	assert.Equal(t, "--verbose", args[len(args)-1])
}
