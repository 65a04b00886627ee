package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/torosent/quicperf/internal/measurement"
)

const (
	measurementsTable = "measurements"
	qlogsTable        = "qlogs"
)

const qlogsDDL = `
CREATE TABLE IF NOT EXISTS qlogs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	measurement_id TEXT NOT NULL,
	log TEXT NOT NULL,
	FOREIGN KEY (measurement_id) REFERENCES measurements(id)
);`

// SQLiteStore writes measurements to a SQLite database. Each Append is a
// single auto-committed insert.
type SQLiteStore struct {
	path   string
	policy ConflictPolicy
	db     *sql.DB
}

// NewSQLite creates a SQLiteStore. A relative SQLiteFile is resolved
// against OutputDir.
func NewSQLite(opts Options) (*SQLiteStore, error) {
	path := strings.TrimSpace(opts.SQLiteFile)
	if path == "" {
		return nil, errors.New("sqlite store: database file is required")
	}
	if !filepath.IsAbs(path) && opts.OutputDir != "" {
		path = filepath.Join(opts.OutputDir, path)
	}
	policy := opts.OnConflict
	if policy == "" {
		policy = ConflictFail
	}
	return &SQLiteStore{path: path, policy: policy}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Initialize opens the database and creates both tables if absent.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	db, err := sql.Open("sqlite3", s.path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	db.SetMaxOpenConns(1)

	for _, ddl := range []string{measurementsDDL(), qlogsDDL} {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			db.Close()
			return fmt.Errorf("create schema: %w", err)
		}
	}
	s.db = db
	return nil
}

// Append inserts m according to the store's conflict policy.
func (s *SQLiteStore) Append(ctx context.Context, m measurement.Measurement) error {
	if s.db == nil {
		return errors.New("sqlite store: not initialized")
	}
	res, err := s.db.ExecContext(ctx, insertMeasurementSQL(s.policy), m.Values()...)
	if err != nil {
		var sqErr sqlite3.Error
		if errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %s", ErrDuplicate, m.ID)
		}
		return fmt.Errorf("insert measurement: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		log.Info().Str("id", m.ID).Msg("measurement already stored, skipped")
	}
	return nil
}

// AppendDiagnosticLog inserts a qlogs row. The referenced measurement must
// already be stored.
func (s *SQLiteStore) AppendDiagnosticLog(ctx context.Context, l measurement.DiagnosticLog) error {
	if s.db == nil {
		return errors.New("sqlite store: not initialized")
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO "+qlogsTable+" (measurement_id, log) VALUES (?, ?)",
		l.MeasurementID, l.Log)
	if err != nil {
		var sqErr sqlite3.Error
		if errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
			return fmt.Errorf("%w: %s", ErrUnknownMeasurement, l.MeasurementID)
		}
		return fmt.Errorf("insert qlog: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// columnType returns the SQLite type of a measurement column.
func columnType(col string) string {
	switch col {
	case "id":
		return "TEXT PRIMARY KEY"
	case "protocol", "server", "domain", "timestamp", "nextHopProtocol", "error":
		return "TEXT NOT NULL"
	case "encodedBodySize", "decodedBodySize", "transferSize", "cacheWarming":
		return "INTEGER NOT NULL"
	default:
		return "REAL NOT NULL"
	}
}

func measurementsDDL() string {
	cols := measurement.Columns()
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = fmt.Sprintf("\t%q %s", c, columnType(c))
	}
	return "CREATE TABLE IF NOT EXISTS " + measurementsTable + " (\n" + strings.Join(defs, ",\n") + "\n);"
}

func insertMeasurementSQL(policy ConflictPolicy) string {
	cols := measurement.Columns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt := "INSERT INTO " + measurementsTable + " (" + strings.Join(quoted, ", ") + ") VALUES (" + placeholders + ")"

	switch policy {
	case ConflictSkip:
		return stmt + " ON CONFLICT(id) DO NOTHING"
	case ConflictReplace:
		// Upsert rather than INSERT OR REPLACE: the row must survive for qlogs.
		sets := make([]string, 0, len(cols)-1)
		for _, c := range quoted[1:] {
			sets = append(sets, c+" = excluded."+c)
		}
		return stmt + " ON CONFLICT(id) DO UPDATE SET " + strings.Join(sets, ", ")
	default:
		return stmt
	}
}
