package browser

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/quicperf/internal/measurement"
	"github.com/torosent/quicperf/internal/session"
)

func TestNewSelectsDriver(t *testing.T) {
	tests := []struct {
		in      Driver
		want    Launcher
		wantErr bool
	}{
		{"", ChromedpLauncher{}, false},
		{"chromedp", ChromedpLauncher{}, false},
		{" ROD ", RodLauncher{}, false},
		{"selenium", nil, true},
	}
	for _, tt := range tests {
		got, err := New(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "driver %q", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.IsType(t, tt.want, got)
	}
}

func TestLaunchRequiresConfig(t *testing.T) {
	_, err := ChromedpLauncher{}.Launch(context.Background(), nil)
	assert.Error(t, err)
	_, err = RodLauncher{}.Launch(context.Background(), nil)
	assert.Error(t, err)
}

func TestBoundToCarriesDeadline(t *testing.T) {
	base := context.Background()
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	bound, stop := boundTo(base, ctx)
	defer stop()

	want, _ := ctx.Deadline()
	got, ok := bound.Deadline()
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestBoundToEndsWithCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bound, stop := boundTo(context.Background(), ctx)
	defer stop()

	cancel()
	select {
	case <-bound.Done():
	case <-time.After(time.Second):
		t.Fatal("bound context was not cancelled with its caller")
	}
}

func TestRodLauncherSkipsHeadlessFlag(t *testing.T) {
	cfg, err := session.New(session.Options{
		Transport: measurement.ProtocolQUIC,
		Server:    "192.0.2.1",
		Headless:  true,
	})
	require.NoError(t, err)

	l := rodLauncher(cfg)
	assert.Equal(t, "MAP example.com 192.0.2.1", l.Get("host-resolver-rules"))
	assert.True(t, l.Has("enable-quic"))
	assert.True(t, l.Has("disable-http-cache"))
}

// Runs against a real browser when QUICPERF_CHROME points at one.
func TestChromedpEvaluateAgainstRealBrowser(t *testing.T) {
	path := os.Getenv("QUICPERF_CHROME")
	if path == "" {
		t.Skip("QUICPERF_CHROME not set")
	}

	cfg, err := session.New(session.Options{
		Transport:   measurement.ProtocolHTTP,
		Server:      "127.0.0.1",
		BrowserPath: path,
		Headless:    true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := ChromedpLauncher{}.Launch(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	out, err := s.Evaluate(ctx, `() => String(1 + 1)`)
	require.NoError(t, err)
	assert.Equal(t, "2", out)
}
