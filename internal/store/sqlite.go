package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/i474232898/ensemble-forecast/internal/weather"
)

//go:embed sql/schema.sql
var schemaSQL string

const (
	insertRecordSQL = `INSERT OR REPLACE INTO forecast_records (
  id, issue_id, location_id, lat, lon, issued_at, target_time, granularity, lead_index, model,
  predicted_temperature, predicted_precipitation, confidence, estimated,
  actual_temperature, actual_precipitation, error, abs_error, squared_error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectRecordsSQL = `SELECT
  id, issue_id, location_id, lat, lon, issued_at, target_time, granularity, lead_index, model,
  predicted_temperature, predicted_precipitation, confidence, estimated,
  actual_temperature, actual_precipitation, error, abs_error, squared_error
FROM forecast_records
WHERE location_id = ? AND target_time BETWEEN ? AND ?
ORDER BY target_time, issued_at, rowid`

	deleteExpiredSQL = `DELETE FROM forecast_records WHERE issued_at < ?`

	trimLocationSQL = `DELETE FROM forecast_records
WHERE location_id = ? AND rowid NOT IN (
  SELECT rowid FROM forecast_records WHERE location_id = ? ORDER BY issued_at DESC, rowid DESC LIMIT ?
)`
)

// SQLiteStore persists forecast records in the forecast_records table the
// accuracy tracker reads from. Times are stored as unix milliseconds.
type SQLiteStore struct {
	db         *sql.DB
	maxHistory int
	maxAge     time.Duration
	now        func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(path string, maxHistory int, maxAge time.Duration) (*SQLiteStore, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// SQLite serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db, maxHistory: maxHistory, maxAge: maxAge, now: time.Now}, nil
}

func buildDSN(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	dir := filepath.Dir(strings.TrimPrefix(path, "file:"))
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// SaveRecords inserts records in one transaction and applies retention.
func (s *SQLiteStore) SaveRecords(ctx context.Context, records []weather.ForecastRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertRecordSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			slog.Error("close insert statement", "error", err)
		}
	}()

	locations := make(map[string]struct{})
	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.ID, r.IssueID, r.LocationID, r.Latitude, r.Longitude,
			r.IssuedAt.UnixMilli(), r.TargetTime.UnixMilli(), string(r.Granularity), r.LeadIndex, r.Model,
			r.PredictedTemperature, r.PredictedPrecipitation, r.Confidence, r.Estimated,
			nullable(r.ActualTemperature), nullable(r.ActualPrecipitation),
			nullable(r.Error), nullable(r.AbsError), nullable(r.SquaredError),
		)
		if err != nil {
			return fmt.Errorf("insert record %s: %w", r.ID, err)
		}
		locations[r.LocationID] = struct{}{}
	}

	if s.maxAge > 0 {
		if _, err := tx.ExecContext(ctx, deleteExpiredSQL, s.now().Add(-s.maxAge).UnixMilli()); err != nil {
			return fmt.Errorf("delete expired records: %w", err)
		}
	}
	if s.maxHistory > 0 {
		for id := range locations {
			if _, err := tx.ExecContext(ctx, trimLocationSQL, id, id, s.maxHistory); err != nil {
				return fmt.Errorf("trim records of %s: %w", id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Records returns the records of a location whose target time lies in
// [from, to], ordered by target time.
func (s *SQLiteStore) Records(ctx context.Context, locationID string, from, to time.Time) ([]weather.ForecastRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectRecordsSQL, locationID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close records rows", "error", err)
		}
	}()

	var out []weather.ForecastRecord
	for rows.Next() {
		var (
			r                    weather.ForecastRecord
			issuedAt, target     int64
			granularity          string
			actualT, actualP     sql.NullFloat64
			errV, absE, squaredE sql.NullFloat64
		)
		if err := rows.Scan(
			&r.ID, &r.IssueID, &r.LocationID, &r.Latitude, &r.Longitude,
			&issuedAt, &target, &granularity, &r.LeadIndex, &r.Model,
			&r.PredictedTemperature, &r.PredictedPrecipitation, &r.Confidence, &r.Estimated,
			&actualT, &actualP, &errV, &absE, &squaredE,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.IssuedAt = time.UnixMilli(issuedAt).UTC()
		r.TargetTime = time.UnixMilli(target).UTC()
		r.Granularity = weather.Granularity(granularity)
		r.ActualTemperature = fromNull(actualT)
		r.ActualPrecipitation = fromNull(actualP)
		r.Error = fromNull(errV)
		r.AbsError = fromNull(absE)
		r.SquaredError = fromNull(squaredE)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return weather.Value(v.Float64)
}
