// Package store persists measurements and their diagnostic logs.
//
// Three backends are provided: an append-only delimited file, a SQLite
// database with a qlogs side table, and a Redis key space. A measurement is
// always appended before any diagnostic log that references it.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/torosent/quicperf/internal/measurement"
)

var (
	// ErrDuplicate is returned by Append under ConflictFail when a
	// measurement with the same identifier is already stored.
	ErrDuplicate = errors.New("measurement already stored")
	// ErrUnknownMeasurement is returned when a diagnostic log references a
	// measurement that is not stored.
	ErrUnknownMeasurement = errors.New("diagnostic log references unknown measurement")
)

// Store is a measurement sink. Initialize must be called before Append.
type Store interface {
	Initialize(ctx context.Context) error
	Append(ctx context.Context, m measurement.Measurement) error
	AppendDiagnosticLog(ctx context.Context, l measurement.DiagnosticLog) error
	Close() error
}

// Kind names a backend.
type Kind string

const (
	KindCSV    Kind = "csv"
	KindSQLite Kind = "sqlite"
	KindRedis  Kind = "redis"
)

// ConflictPolicy decides what a keyed store does with a duplicate identifier.
type ConflictPolicy string

const (
	ConflictFail    ConflictPolicy = "fail"
	ConflictSkip    ConflictPolicy = "skip"
	ConflictReplace ConflictPolicy = "replace"
)

// ParseConflictPolicy parses a policy name. Empty means ConflictFail.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ConflictFail, nil
	case ConflictFail, ConflictSkip, ConflictReplace:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported conflict policy %q", s)
	}
}

// Options selects and configures a backend.
type Options struct {
	Kind       Kind
	OutputDir  string
	OnConflict ConflictPolicy

	// CSV
	CSVFile     string
	FieldNames  []string
	FieldValues []string

	// SQLite
	SQLiteFile string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// New returns an uninitialized Store for opts.Kind.
func New(opts Options) (Store, error) {
	switch opts.Kind {
	case KindCSV, "":
		return NewCSV(opts)
	case KindSQLite:
		return NewSQLite(opts)
	case KindRedis:
		return NewRedis(opts)
	default:
		return nil, fmt.Errorf("unsupported store %q", opts.Kind)
	}
}
