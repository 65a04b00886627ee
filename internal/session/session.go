// Package session builds the browser launch configuration for one page load:
// the host-to-server mapping, certificate pinning, cache suppression and the
// flags that force QUIC.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/torosent/quicperf/internal/measurement"
)

const (
	// DefaultDomain is the hostname under test.
	DefaultDomain = "example.com"
	// DefaultSPKIFingerprint is the base64 SHA-256 of the test server's public key.
	DefaultSPKIFingerprint = "D29LAH0IMcLx/d7R2JAH5bw/YKYK9uNRYc6W0/GJlS8="
	// DefaultQUICPort is the port QUIC is forced on.
	DefaultQUICPort = 443
)

// Flag is one browser command-line switch. An empty Value is a boolean switch.
type Flag struct {
	Name  string
	Value string
}

// String renders the flag as it appears on a command line.
func (f Flag) String() string {
	if f.Value == "" {
		return "--" + f.Name
	}
	return "--" + f.Name + "=" + f.Value
}

// Options describes the session to build.
type Options struct {
	Transport       measurement.Protocol
	Server          string
	Domain          string
	SPKIFingerprint string
	QUICPort        int
	BrowserPath     string
	Headless        bool
	ExtraFlags      []Flag
}

// Config is the launch configuration of a browser session.
type Config struct {
	Transport   measurement.Protocol
	Server      string
	Domain      string
	BrowserPath string
	Headless    bool
	Flags       []Flag
}

// New builds a Config. It performs no I/O; failures to start the browser
// surface when the session is launched.
func New(opts Options) (*Config, error) {
	if !opts.Transport.Valid() {
		return nil, fmt.Errorf("unsupported transport %q", opts.Transport)
	}
	server := strings.TrimSpace(opts.Server)
	if server == "" {
		return nil, errors.New("server address is required")
	}
	domain := strings.TrimSpace(opts.Domain)
	if domain == "" {
		domain = DefaultDomain
	}
	fingerprint := strings.TrimSpace(opts.SPKIFingerprint)
	if fingerprint == "" {
		fingerprint = DefaultSPKIFingerprint
	}
	quicPort := opts.QUICPort
	if quicPort <= 0 {
		quicPort = DefaultQUICPort
	}

	flags := []Flag{
		{Name: "no-sandbox"},
		{Name: "disable-dev-shm-usage"},
	}
	if opts.Headless {
		flags = append(flags, Flag{Name: "headless"})
	}
	if opts.Transport == measurement.ProtocolQUIC {
		flags = append(flags,
			Flag{Name: "enable-quic"},
			Flag{Name: "origin-to-force-quic-on", Value: domain + ":" + strconv.Itoa(quicPort)},
		)
	}
	flags = append(flags,
		Flag{Name: "allow-unknown-root-cert"},
		Flag{Name: "ignore-urlfetcher-cert-requests"},
		Flag{Name: "host-resolver-rules", Value: "MAP " + domain + " " + server},
		Flag{Name: "disable-http-cache"},
		Flag{Name: "ignore-certificate-errors-spki-list", Value: fingerprint},
	)
	flags = append(flags, opts.ExtraFlags...)

	return &Config{
		Transport:   opts.Transport,
		Server:      server,
		Domain:      domain,
		BrowserPath: strings.TrimSpace(opts.BrowserPath),
		Headless:    opts.Headless,
		Flags:       flags,
	}, nil
}

// URL returns the address of the domain under test.
func (c *Config) URL() string {
	return c.URLFor(c.Domain)
}

// URLFor returns the address to navigate to for page. Plain HTTP uses the
// http scheme; HTTPS and QUIC both need a secure origin.
func (c *Config) URLFor(page string) string {
	page = strings.TrimPrefix(strings.TrimPrefix(page, "http://"), "https://")
	if c.Transport == measurement.ProtocolHTTP {
		return "http://" + page
	}
	return "https://" + page
}

// Lookup returns the value of the named flag and whether it is set.
func (c *Config) Lookup(name string) (string, bool) {
	for _, f := range c.Flags {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Args renders all flags as command-line arguments.
func (c *Config) Args() []string {
	args := make([]string, len(c.Flags))
	for i, f := range c.Flags {
		args[i] = f.String()
	}
	return args
}
