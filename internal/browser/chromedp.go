package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/torosent/quicperf/internal/session"
)

const screenshotQuality = 90

// ChromedpLauncher starts Chrome through chromedp's exec allocator.
type ChromedpLauncher struct{}

type chromedpSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// Launch starts a browser process configured by cfg.
func (ChromedpLauncher) Launch(ctx context.Context, cfg *session.Config) (Session, error) {
	if cfg == nil {
		return nil, errors.New("session config is required")
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, chromedpOptions(cfg)...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// An empty Run allocates the browser so launch failures show up here
	// rather than on the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &chromedpSession{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
	}, nil
}

func chromedpOptions(cfg *session.Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.BrowserPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.BrowserPath))
	}
	for _, f := range cfg.Flags {
		if f.Value == "" {
			opts = append(opts, chromedp.Flag(f.Name, true))
			continue
		}
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	return opts
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := boundTo(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Navigate(url))
}

func (s *chromedpSession) Evaluate(ctx context.Context, fn string) (string, error) {
	runCtx, cancel := boundTo(s.ctx, ctx)
	defer cancel()

	var out string
	if err := chromedp.Run(runCtx, chromedp.Evaluate("("+fn+")()", &out)); err != nil {
		return "", err
	}
	return out, nil
}

func (s *chromedpSession) Screenshot(ctx context.Context) ([]byte, error) {
	runCtx, cancel := boundTo(s.ctx, ctx)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.FullScreenshot(&buf, screenshotQuality)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *chromedpSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.allocCancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
