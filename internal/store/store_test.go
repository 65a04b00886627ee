package store

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/quicperf/internal/identity"
	"github.com/torosent/quicperf/internal/measurement"
)

func sample(cacheWarming int) measurement.Measurement {
	m := measurement.Measurement{
		Protocol:     measurement.ProtocolQUIC,
		Server:       "198.51.100.10",
		Domain:       "example.com",
		Timestamp:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		CacheWarming: cacheWarming,
		Timing: measurement.Timing{
			ConnectEnd:      40.5,
			Duration:        812,
			TransferSize:    1556,
			NextHopProtocol: "h3",
		},
	}
	m.ID = identity.Identify(string(m.Protocol), m.Server, m.Domain, m.CacheWarming)
	return m
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.Comma = Delimiter
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

func TestParseConflictPolicy(t *testing.T) {
	for in, want := range map[string]ConflictPolicy{
		"":        ConflictFail,
		"fail":    ConflictFail,
		"SKIP":    ConflictSkip,
		"replace": ConflictReplace,
	} {
		got, err := ParseConflictPolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseConflictPolicy("merge")
	assert.Error(t, err)
}

func TestNewSelectsBackend(t *testing.T) {
	dir := t.TempDir()

	s, err := New(Options{Kind: KindCSV, OutputDir: dir, FieldNames: []string{"pep"}, FieldValues: []string{"false"}})
	require.NoError(t, err)
	assert.IsType(t, &CSVStore{}, s)

	s, err = New(Options{Kind: KindSQLite, OutputDir: dir, SQLiteFile: "m.db"})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)

	s, err = New(Options{Kind: KindRedis, RedisAddr: "localhost:6379"})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	require.NoError(t, s.Close())

	_, err = New(Options{Kind: "postgres"})
	assert.Error(t, err)
}

func TestCSVFileName(t *testing.T) {
	assert.Equal(t, "http.csv", CSVFileName([]string{"false", "1"}))
	assert.Equal(t, "http_pep.csv", CSVFileName([]string{"true", "1"}))
	assert.Equal(t, "http_pep.csv", CSVFileName([]string{"bbr", "1"}))
	assert.Equal(t, "http.csv", CSVFileName(nil))
}

func TestCSVStoreCreatesHeaderOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := Options{OutputDir: dir, FieldNames: []string{"pep", "run"}, FieldValues: []string{"false", "1"}}

	for run := 0; run < 2; run++ {
		s, err := NewCSV(opts)
		require.NoError(t, err)
		require.NoError(t, s.Initialize(ctx))
		require.NoError(t, s.Append(ctx, sample(run)))
		require.NoError(t, s.Close())
	}

	rows := readCSV(t, filepath.Join(dir, "http.csv"))
	require.Len(t, rows, 3)

	header := append([]string{"pep", "run"}, measurement.Columns()...)
	assert.Equal(t, header, rows[0])
	for _, row := range rows[1:] {
		assert.Len(t, row, len(header))
		assert.Equal(t, "false", row[0])
		assert.Equal(t, "1", row[1])
		assert.Equal(t, "quic", row[3])
	}
	assert.NotEqual(t, rows[1][2], rows[2][2], "different cache-warming passes share an id")
}

func TestCSVStorePEPFileAndDuplicates(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewCSV(Options{OutputDir: dir, FieldNames: []string{"pep", "run"}, FieldValues: []string{"true", "2"}, OnConflict: ConflictFail})
	require.NoError(t, err)
	require.NoError(t, s.Initialize(ctx))
	defer s.Close()

	m := sample(0)
	require.NoError(t, s.Append(ctx, m))
	require.NoError(t, s.Append(ctx, m), "csv store is append-only and keeps duplicates")
	require.NoError(t, s.Close())

	assert.Equal(t, filepath.Join(dir, "http_pep.csv"), s.Path())
	assert.Len(t, readCSV(t, s.Path()), 3)
}

func TestCSVStoreRejectsForeignHeader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "http.csv"), []byte("a;b;c\n"), 0o644))

	s, err := NewCSV(Options{OutputDir: dir, FieldNames: []string{"pep", "run"}, FieldValues: []string{"false", "1"}})
	require.NoError(t, err)
	err = s.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestCSVStoreConcurrentInitializeWritesOneHeader(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := Options{OutputDir: dir, FieldNames: []string{"pep", "run"}, FieldValues: []string{"false", "1"}}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := NewCSV(opts)
			if err != nil {
				errs <- err
				return
			}
			if err := s.Initialize(ctx); err != nil {
				errs <- err
				return
			}
			errs <- errors.Join(s.Append(ctx, sample(i)), s.Close())
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows := readCSV(t, filepath.Join(dir, "http.csv"))
	require.Len(t, rows, 9)
	headers := 0
	for _, row := range rows {
		if row[0] == "pep" {
			headers++
		}
	}
	assert.Equal(t, 1, headers)
}

func TestCSVStoreDiagnosticLog(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewCSV(Options{OutputDir: dir, FieldNames: []string{"pep", "run"}, FieldValues: []string{"false", "1"}})
	require.NoError(t, err)
	require.NoError(t, s.Initialize(ctx))

	m := sample(0)
	require.NoError(t, s.Append(ctx, m))
	require.NoError(t, s.AppendDiagnosticLog(ctx, measurement.DiagnosticLog{MeasurementID: m.ID, Log: "{\"qlog_version\":\"0.3\"}\nline two"}))
	require.NoError(t, s.Close())

	rows := readCSV(t, filepath.Join(dir, "qlogs.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"measurement_id", "log"}, rows[0])
	assert.Equal(t, m.ID, rows[1][0])
	assert.Equal(t, "{\"qlog_version\":\"0.3\"}\nline two", rows[1][1])
}

func TestCSVStoreRequiresInitialize(t *testing.T) {
	s, err := NewCSV(Options{OutputDir: t.TempDir()})
	require.NoError(t, err)
	assert.Error(t, s.Append(context.Background(), sample(0)))
}

func newSQLite(t *testing.T, dir string, policy ConflictPolicy) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(Options{OutputDir: dir, SQLiteFile: "measurements.db", OnConflict: policy})
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreAppendAndQLog(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t, t.TempDir(), ConflictFail)

	m := sample(0)
	require.NoError(t, s.Append(ctx, m))
	require.NoError(t, s.AppendDiagnosticLog(ctx, measurement.DiagnosticLog{MeasurementID: m.ID, Log: "qlog"}))

	var (
		protocol string
		duration float64
		size     int64
		hop      string
	)
	row := s.db.QueryRowContext(ctx, `SELECT protocol, duration, transferSize, nextHopProtocol FROM measurements WHERE id = ?`, m.ID)
	require.NoError(t, row.Scan(&protocol, &duration, &size, &hop))
	assert.Equal(t, "quic", protocol)
	assert.Equal(t, 812.0, duration)
	assert.Equal(t, int64(1556), size)
	assert.Equal(t, "h3", hop)

	var logText string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT log FROM qlogs WHERE measurement_id = ?`, m.ID).Scan(&logText))
	assert.Equal(t, "qlog", logText)
}

func TestSQLiteStoreInitializeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := newSQLite(t, dir, ConflictFail)
	require.NoError(t, first.Append(ctx, sample(0)))
	require.NoError(t, first.Close())

	second := newSQLite(t, dir, ConflictFail)
	require.NoError(t, second.Append(ctx, sample(1)))

	var n int
	require.NoError(t, second.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM measurements`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSQLiteStoreConflictPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("fail", func(t *testing.T) {
		s := newSQLite(t, t.TempDir(), ConflictFail)
		require.NoError(t, s.Append(ctx, sample(0)))
		err := s.Append(ctx, sample(0))
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("skip", func(t *testing.T) {
		s := newSQLite(t, t.TempDir(), ConflictSkip)
		first := sample(0)
		require.NoError(t, s.Append(ctx, first))
		second := sample(0)
		second.Timing.Duration = 1
		require.NoError(t, s.Append(ctx, second))

		var d float64
		require.NoError(t, s.db.QueryRowContext(ctx, `SELECT duration FROM measurements WHERE id = ?`, first.ID).Scan(&d))
		assert.Equal(t, 812.0, d)
	})

	t.Run("replace keeps qlogs", func(t *testing.T) {
		s := newSQLite(t, t.TempDir(), ConflictReplace)
		first := sample(0)
		require.NoError(t, s.Append(ctx, first))
		require.NoError(t, s.AppendDiagnosticLog(ctx, measurement.DiagnosticLog{MeasurementID: first.ID, Log: "x"}))

		second := sample(0)
		second.Timing.Duration = 1
		second.Error = "page load timeout after 60s"
		require.NoError(t, s.Append(ctx, second))

		var (
			d      float64
			errStr string
			logs   int
		)
		require.NoError(t, s.db.QueryRowContext(ctx, `SELECT duration, error FROM measurements WHERE id = ?`, first.ID).Scan(&d, &errStr))
		assert.Equal(t, 1.0, d)
		assert.Equal(t, second.Error, errStr)
		require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM qlogs`).Scan(&logs))
		assert.Equal(t, 1, logs)
	})
}

func TestSQLiteStoreRejectsOrphanQLog(t *testing.T) {
	s := newSQLite(t, t.TempDir(), ConflictFail)
	err := s.AppendDiagnosticLog(context.Background(), measurement.DiagnosticLog{MeasurementID: "missing", Log: "x"})
	assert.ErrorIs(t, err, ErrUnknownMeasurement)
}

func TestSQLiteSchemaFollowsColumns(t *testing.T) {
	s := newSQLite(t, t.TempDir(), ConflictFail)
	rows, err := s.db.QueryContext(context.Background(), `SELECT name FROM pragma_table_info('measurements') ORDER BY cid`)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, measurement.Columns(), names)
}

func TestSQLiteOpenFailsOnDirectory(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLite(Options{SQLiteFile: dir})
	require.NoError(t, err)
	err = s.Initialize(context.Background())
	assert.Error(t, err)
	assert.Nil(t, s.db)
}
