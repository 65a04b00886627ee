// Package qlog moves the connection log written by the QUIC proxy into the
// measurement store, linked to the measurement it belongs to.
package qlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"

	"github.com/torosent/quicperf/internal/measurement"
)

// ErrArtifactMissing is returned when the proxy has not written a qlog file.
var ErrArtifactMissing = errors.New("qlog artifact missing")

// Mode selects how the artifact is drained.
type Mode string

const (
	// ModeTruncate reads and empties the file while holding <path>.lock.
	// A proxy that takes the same lock never loses entries.
	ModeTruncate Mode = "truncate"
	// ModeRename moves the file aside before reading it, so the proxy starts
	// a fresh file on its next write.
	ModeRename Mode = "rename"
)

const lockRetryDelay = 50 * time.Millisecond

// Sink receives drained logs. store.Store satisfies it.
type Sink interface {
	AppendDiagnosticLog(ctx context.Context, l measurement.DiagnosticLog) error
}

// Correlator drains the qlog artifact into a Sink.
type Correlator struct {
	path string
	mode Mode
	sink Sink
}

// New creates a Correlator. An empty mode means ModeTruncate.
func New(path string, mode Mode, sink Sink) (*Correlator, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("qlog path is required")
	}
	if sink == nil {
		return nil, errors.New("qlog sink is required")
	}
	switch Mode(strings.ToLower(string(mode))) {
	case "", ModeTruncate:
		mode = ModeTruncate
	case ModeRename:
		mode = ModeRename
	default:
		return nil, fmt.Errorf("unsupported qlog mode %q", mode)
	}
	return &Correlator{path: path, mode: mode, sink: sink}, nil
}

// Path returns the artifact path.
func (c *Correlator) Path() string { return c.path }

// DrainAndStore stores the artifact's contents as the diagnostic log of the
// measurement id and clears the artifact. The artifact is only cleared once
// the sink has accepted the log.
func (c *Correlator) DrainAndStore(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("measurement id is required")
	}
	if c.mode == ModeRename {
		return c.drainRename(ctx, id)
	}
	return c.drainTruncate(ctx, id)
}

func (c *Correlator) drainTruncate(ctx context.Context, id string) error {
	lock := flock.New(c.path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock qlog: %w", err)
	}
	if !locked {
		return errors.New("lock qlog: not acquired")
	}
	defer lock.Unlock()

	f, err := os.OpenFile(c.path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrArtifactMissing, c.path)
		}
		return fmt.Errorf("open qlog: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read qlog: %w", err)
	}
	if err := c.sink.AppendDiagnosticLog(ctx, measurement.DiagnosticLog{MeasurementID: id, Log: string(data)}); err != nil {
		return fmt.Errorf("store qlog: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate qlog: %w", err)
	}
	log.Debug().Str("path", c.path).Int("bytes", len(data)).Msg("qlog drained")
	return nil
}

func (c *Correlator) drainRename(ctx context.Context, id string) error {
	draining := c.path + "." + id + ".draining"
	if err := os.Rename(c.path, draining); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrArtifactMissing, c.path)
		}
		return fmt.Errorf("rename qlog: %w", err)
	}

	data, err := os.ReadFile(draining)
	if err != nil {
		return fmt.Errorf("read qlog: %w", err)
	}
	if err := c.sink.AppendDiagnosticLog(ctx, measurement.DiagnosticLog{MeasurementID: id, Log: string(data)}); err != nil {
		// Left in place for a manual retry.
		return fmt.Errorf("store qlog (kept at %s): %w", draining, err)
	}
	if err := os.Remove(draining); err != nil {
		return fmt.Errorf("remove drained qlog: %w", err)
	}
	log.Debug().Str("path", c.path).Int("bytes", len(data)).Msg("qlog drained")
	return nil
}
