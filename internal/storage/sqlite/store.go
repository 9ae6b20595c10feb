package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/framefeatures/internal/monitoring"
	"github.com/banshee-data/framefeatures/internal/pipeline"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
)

// Run is a persisted summary of one pipeline run.
type Run struct {
	RunID          string   `json:"run_id"`
	Strategy       string   `json:"strategy"`
	Workers        int      `json:"workers"`
	Batches        int      `json:"batches"`
	Frames         int      `json:"frames"`
	Features       int      `json:"features"`
	FramesPerBatch int      `json:"frames_per_batch"`
	Retained       bool     `json:"retained"`
	FeatureKeys    []string `json:"feature_keys"`
	Status         string   `json:"status"`
	StartedAt      int64    `json:"started_at"`
	DurationNs     int64    `json:"duration_ns"`
	CompletedAt    *int64   `json:"completed_at,omitempty"`
}

// Value is one stored feature value of one frame.
type Value struct {
	ValueID  string    `json:"value_id"`
	RunID    string    `json:"run_id"`
	BatchNum int       `json:"batch_num"`
	FrameNum int       `json:"frame_num"`
	Key      string    `json:"key"`
	Shape    []int     `json:"shape"`
	Data     []float64 `json:"data"`
}

// Store persists pipeline results in a SQLite database. It implements
// pipeline.RunSink.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

var (
	_ pipeline.RunSink    = (*Store)(nil)
	_ pipeline.RunAborter = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	// Connection-scoped pragmas go in the DSN so every pooled connection
	// gets them.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	s := NewStore(db)
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database. The schema must already be migrated.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, logger: monitoring.Component("sqlite")}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// BeginRun implements pipeline.RunSink.
func (s *Store) BeginRun(ctx context.Context, info pipeline.RunStats) error {
	keys, err := json.Marshal(info.FeatureKeys)
	if err != nil {
		return fmt.Errorf("encode feature keys: %w", err)
	}
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO feature_runs (
				run_id, strategy, workers, batches, frames, features,
				frames_per_batch, retained, feature_keys, status, started_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			info.RunID, info.Strategy.String(), info.Workers, info.Batches, info.Frames, info.Features,
			info.FramesPerBatch, info.Retained, string(keys), StatusRunning, info.StartedAt.UnixNano(),
		)
		return err
	})
}

// WriteRecord implements pipeline.Sink. Every input value of the record is
// stored as one row; all rows of a record are written in one transaction.
func (s *Store) WriteRecord(ctx context.Context, runID string, rec pipeline.Record) error {
	keys := rec.Keys()
	type row struct {
		key   string
		shape string
		data  []byte
	}
	rows := make([]row, 0, len(keys))
	for _, key := range keys {
		cell, err := pipeline.ToCell(rec.Input[key])
		if err != nil {
			return fmt.Errorf("encode %q: %w", key, err)
		}
		shape, err := json.Marshal(cell.Shape)
		if err != nil {
			return fmt.Errorf("encode %q shape: %w", key, err)
		}
		rows = append(rows, row{key: key, shape: string(shape), data: encodeFloats(cell.Data)})
	}

	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO feature_values (
					value_id, run_id, batch_num, frame_num, feature_key, shape, data
				) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				uuid.NewString(), runID, rec.BatchNum(), rec.FrameNum(), r.key, r.shape, r.data,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// EndRun implements pipeline.RunSink. The completion time comes from the
// run stats; it falls back to the wall clock only when unset.
func (s *Store) EndRun(ctx context.Context, info pipeline.RunStats) error {
	completed := info.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	err := retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE feature_runs
			SET status = ?, duration_ns = ?, completed_at = ?
			WHERE run_id = ?`,
			StatusComplete, info.Duration.Nanoseconds(), completed.UnixNano(), info.RunID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("run %s not found", info.RunID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug().Str("run_id", info.RunID).Msg("run stored")
	return nil
}

// Runs returns every stored run, newest first.
func (s *Store) Runs(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, strategy, workers, batches, frames, features,
		       frames_per_batch, retained, feature_keys, status,
		       started_at, duration_ns, completed_at
		FROM feature_runs
		ORDER BY started_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var (
			r         Run
			keys      string
			completed sql.NullInt64
		)
		if err := rows.Scan(
			&r.RunID, &r.Strategy, &r.Workers, &r.Batches, &r.Frames, &r.Features,
			&r.FramesPerBatch, &r.Retained, &keys, &r.Status,
			&r.StartedAt, &r.DurationNs, &completed,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(keys), &r.FeatureKeys); err != nil {
			return nil, fmt.Errorf("decode feature keys of run %s: %w", r.RunID, err)
		}
		if completed.Valid {
			v := completed.Int64
			r.CompletedAt = &v
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// ListValues returns the values of one run in (batch, frame, key) order.
func (s *Store) ListValues(ctx context.Context, runID string) ([]*Value, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT value_id, run_id, batch_num, frame_num, feature_key, shape, data
		FROM feature_values
		WHERE run_id = ?
		ORDER BY batch_num, frame_num, feature_key`, runID)
	if err != nil {
		return nil, fmt.Errorf("query values: %w", err)
	}
	defer rows.Close()

	var values []*Value
	for rows.Next() {
		var (
			v     Value
			shape string
			data  []byte
		)
		if err := rows.Scan(&v.ValueID, &v.RunID, &v.BatchNum, &v.FrameNum, &v.Key, &shape, &data); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		if err := json.Unmarshal([]byte(shape), &v.Shape); err != nil {
			return nil, fmt.Errorf("decode shape of %s: %w", v.ValueID, err)
		}
		if v.Data, err = decodeFloats(data); err != nil {
			return nil, fmt.Errorf("decode data of %s: %w", v.ValueID, err)
		}
		values = append(values, &v)
	}
	return values, rows.Err()
}

// FeatureKeys lists the distinct keys stored for a run.
func (s *Store) FeatureKeys(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT feature_key FROM feature_values WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query feature keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, rows.Err()
}

// AbortRun implements pipeline.RunAborter by deleting the partial run.
func (s *Store) AbortRun(ctx context.Context, info pipeline.RunStats) error {
	if err := s.DeleteRun(ctx, info.RunID); err != nil {
		return fmt.Errorf("delete partial run %s: %w", info.RunID, err)
	}
	s.logger.Warn().Str("run_id", info.RunID).Msg("partial run discarded")
	return nil
}

// DeleteRun removes a run and its values.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM feature_runs WHERE run_id = ?`, runID)
		return err
	})
}

// encodeFloats packs values as little-endian IEEE 754 doubles.
func encodeFloats(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(f))
	}
	return buf
}

func decodeFloats(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 8", len(buf))
	}
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return out, nil
}

const (
	busyRetries = 5
	busyBackoff = 20 * time.Millisecond
)

// retryOnBusy retries fn while SQLite reports the database as locked,
// backing off linearly.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		err = fn()
		if !isSQLiteBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * busyBackoff)
	}
	return fmt.Errorf("database busy after %d retries: %w", busyRetries, err)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
