// Package browsertest provides an in-memory browser.Launcher for tests.
package browsertest

import (
	"context"
	"errors"
	"sync"

	"github.com/torosent/quicperf/internal/browser"
	"github.com/torosent/quicperf/internal/session"
)

// Launcher is a scripted browser.Launcher. Its zero value launches sessions
// that load every page and return "{}" from scripts.
type Launcher struct {
	// LaunchErr fails Launch when set.
	LaunchErr error
	// NavigateErr fails every navigation when set.
	NavigateErr error
	// BlockNavigate makes Navigate wait for its context to end.
	BlockNavigate bool
	// Result is returned by Evaluate.
	Result   string
	EvalErr  error
	Image    []byte
	ShotErr  error
	CloseErr error
	OnLaunch func(cfg *session.Config)

	mu       sync.Mutex
	sessions []*Session
}

// Launch implements browser.Launcher.
func (l *Launcher) Launch(ctx context.Context, cfg *session.Config) (browser.Session, error) {
	if cfg == nil {
		return nil, errors.New("session config is required")
	}
	if l.OnLaunch != nil {
		l.OnLaunch(cfg)
	}
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	s := &Session{launcher: l, Config: cfg}
	l.mu.Lock()
	l.sessions = append(l.sessions, s)
	l.mu.Unlock()
	return s, nil
}

// Sessions returns every session launched so far.
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.sessions...)
}

// Session records what a test session was asked to do.
type Session struct {
	launcher *Launcher
	Config   *session.Config

	mu      sync.Mutex
	Visited []string
	Scripts []string
	Shots   int
	Closed  bool
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	s.Visited = append(s.Visited, url)
	s.mu.Unlock()
	if s.launcher.BlockNavigate {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.launcher.NavigateErr
}

func (s *Session) Evaluate(ctx context.Context, fn string) (string, error) {
	s.mu.Lock()
	s.Scripts = append(s.Scripts, fn)
	s.mu.Unlock()
	if s.launcher.EvalErr != nil {
		return "", s.launcher.EvalErr
	}
	if s.launcher.Result == "" {
		return "{}", nil
	}
	return s.launcher.Result, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	s.Shots++
	s.mu.Unlock()
	if s.launcher.ShotErr != nil {
		return nil, s.launcher.ShotErr
	}
	return s.launcher.Image, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	return s.launcher.CloseErr
}

// IsClosed reports whether Close was called.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Closed
}
