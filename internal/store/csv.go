package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/torosent/quicperf/internal/measurement"
)

const (
	// Delimiter separates CSV columns.
	Delimiter = ';'

	plainCSVFile = "http.csv"
	pepCSVFile   = "http_pep.csv"
	qlogCSVFile  = "qlogs.csv"

	lockRetryDelay = 50 * time.Millisecond
)

var qlogHeader = []string{"measurement_id", "log"}

// CSVStore appends measurements to a delimited file. The header is written
// once, when the file is created; an existing file must carry the same
// header. Duplicate identifiers are appended like any other row.
type CSVStore struct {
	path        string
	qlogPath    string
	fieldNames  []string
	fieldValues []string

	mu    sync.Mutex
	file  *os.File
	w     *csv.Writer
	qfile *os.File
	qw    *csv.Writer
}

// CSVFileName returns the measurement file name for the given descriptive
// values: http.csv when the first value is "false" or there are none,
// http_pep.csv otherwise.
func CSVFileName(fieldValues []string) string {
	if len(fieldValues) == 0 || fieldValues[0] == "false" {
		return plainCSVFile
	}
	return pepCSVFile
}

// NewCSV creates a CSVStore. No file is touched until Initialize.
func NewCSV(opts Options) (*CSVStore, error) {
	if strings.TrimSpace(opts.OutputDir) == "" {
		return nil, errors.New("csv store: output directory is required")
	}
	if len(opts.FieldValues) != len(opts.FieldNames) {
		return nil, fmt.Errorf("csv store: %d field values for %d field names", len(opts.FieldValues), len(opts.FieldNames))
	}
	name := opts.CSVFile
	if name == "" {
		name = CSVFileName(opts.FieldValues)
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(opts.OutputDir, name)
	}
	return &CSVStore{
		path:        path,
		qlogPath:    filepath.Join(filepath.Dir(path), qlogCSVFile),
		fieldNames:  slices.Clone(opts.FieldNames),
		fieldValues: slices.Clone(opts.FieldValues),
	}, nil
}

// Path returns the measurement file path.
func (s *CSVStore) Path() string { return s.path }

// QLogPath returns the diagnostic log file path.
func (s *CSVStore) QLogPath() string { return s.qlogPath }

// Header returns the header row: descriptive names, then measurement columns.
func (s *CSVStore) Header() []string {
	return append(slices.Clone(s.fieldNames), measurement.Columns()...)
}

// Initialize opens the measurement file for appending, creating it with a
// header row if it does not exist yet.
func (s *CSVStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return nil
	}
	f, err := openWithHeader(ctx, s.path, s.Header())
	if err != nil {
		return err
	}
	s.file = f
	s.w = newWriter(f)
	return nil
}

// Append writes one row.
func (s *CSVStore) Append(ctx context.Context, m measurement.Measurement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return errors.New("csv store: not initialized")
	}
	row := append(slices.Clone(s.fieldValues), m.Strings()...)
	return writeRow(s.w, row, s.path)
}

// AppendDiagnosticLog writes the log to qlogs.csv next to the measurement
// file.
func (s *CSVStore) AppendDiagnosticLog(ctx context.Context, l measurement.DiagnosticLog) error {
	if l.MeasurementID == "" {
		return ErrUnknownMeasurement
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return errors.New("csv store: not initialized")
	}
	if s.qw == nil {
		f, err := openWithHeader(ctx, s.qlogPath, qlogHeader)
		if err != nil {
			return err
		}
		s.qfile = f
		s.qw = newWriter(f)
	}
	return writeRow(s.qw, []string{l.MeasurementID, l.Log}, s.qlogPath)
}

// Close flushes and closes the open files.
func (s *CSVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.w != nil {
		s.w.Flush()
		errs = append(errs, s.w.Error(), s.file.Close())
		s.w, s.file = nil, nil
	}
	if s.qw != nil {
		s.qw.Flush()
		errs = append(errs, s.qw.Error(), s.qfile.Close())
		s.qw, s.qfile = nil, nil
	}
	return errors.Join(errs...)
}

func newWriter(f *os.File) *csv.Writer {
	w := csv.NewWriter(f)
	w.Comma = Delimiter
	return w
}

func writeRow(w *csv.Writer, row []string, path string) error {
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// openWithHeader opens path for appending. A missing or empty file gets
// header as its first row; a non-empty one must already start with it. The
// check and the header write happen under an advisory lock on path.lock.
func openWithHeader(ctx context.Context, path string, header []string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: not acquired", path)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		w := newWriter(f)
		if err := writeRow(w, header, path); err != nil {
			f.Close()
			return nil, err
		}
		return f, nil
	}

	if err := checkHeader(f, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func checkHeader(f *os.File, want []string) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := csv.NewReader(f)
	r.Comma = Delimiter
	r.FieldsPerRecord = -1
	got, err := r.Read()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if !slices.Equal(got, want) {
		return fmt.Errorf("existing header %q does not match %q", strings.Join(got, string(Delimiter)), strings.Join(want, string(Delimiter)))
	}
	return nil
}
