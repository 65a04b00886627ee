package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/torosent/quicperf/internal/session"
)

// RodLauncher starts Chrome with go-rod's launcher.
type RodLauncher struct{}

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// Launch starts a browser process configured by cfg.
func (RodLauncher) Launch(ctx context.Context, cfg *session.Config) (Session, error) {
	if cfg == nil {
		return nil, errors.New("session config is required")
	}

	l := rodLauncher(cfg).Context(ctx)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("open page: %w", err)
	}

	return &rodSession{launcher: l, browser: b, page: page}, nil
}

func rodLauncher(cfg *session.Config) *launcher.Launcher {
	l := launcher.New().Headless(cfg.Headless)
	if cfg.BrowserPath != "" {
		l = l.Bin(cfg.BrowserPath)
	}
	for _, f := range cfg.Flags {
		if f.Name == "headless" {
			continue
		}
		if f.Value == "" {
			l = l.Set(flags.Flag(f.Name))
			continue
		}
		l = l.Set(flags.Flag(f.Name), f.Value)
	}
	return l
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (s *rodSession) Evaluate(ctx context.Context, fn string) (string, error) {
	res, err := s.page.Context(ctx).Eval(fn)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (s *rodSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(true, nil)
}

func (s *rodSession) Close() error {
	err := s.browser.Close()
	s.launcher.Kill()
	s.launcher.Cleanup()
	return err
}
