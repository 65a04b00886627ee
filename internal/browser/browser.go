// Package browser launches and drives the Chromium session a page load is
// measured in.
//
// Two drivers are available: [DriverChromedp] talks to Chrome over the
// DevTools protocol with chromedp, [DriverRod] does the same through go-rod.
// Both start a fresh browser process per [Launcher.Launch] call and kill it on
// [Session.Close].
package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/torosent/quicperf/internal/session"
)

// Driver names a browser automation backend.
type Driver string

const (
	DriverChromedp Driver = "chromedp"
	DriverRod      Driver = "rod"
)

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context, cfg *session.Config) (Session, error)
}

// Session is one running browser with a single page.
type Session interface {
	// Navigate loads url and waits for the load event. The context deadline
	// bounds the page load.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a JavaScript function expression in the page and returns
	// its string result.
	Evaluate(ctx context.Context, fn string) (string, error)
	// Screenshot captures the full page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// New returns the Launcher for driver. An empty driver selects chromedp.
func New(driver Driver) (Launcher, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(string(driver)))) {
	case "", DriverChromedp:
		return ChromedpLauncher{}, nil
	case DriverRod:
		return RodLauncher{}, nil
	default:
		return nil, fmt.Errorf("unsupported browser driver %q", driver)
	}
}

// boundTo derives a context from base that also ends when ctx ends and
// carries ctx's deadline.
func boundTo(base, ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		out    context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		out, cancel = context.WithDeadline(base, deadline)
	} else {
		out, cancel = context.WithCancel(base)
	}
	stop := context.AfterFunc(ctx, cancel)
	return out, func() {
		stop()
		cancel()
	}
}
