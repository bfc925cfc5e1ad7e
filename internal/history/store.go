// Package history persists per-unit execution records in SQLite. Records
// are loaded at startup to seed duration estimates, buffered during a run,
// and flushed in one transaction at the end; the next run's classifier and
// optimizer consume them.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// averageWindow bounds how many recent runs feed the duration estimate.
const averageWindow = 20

// Record is one unit execution.
type Record struct {
	ID             int64
	Path           string
	RunID          string
	StartedAt      time.Time
	DurationMS     int64
	Success        bool
	MemoryMB       int
	CPUPercent     float64
	DBConnections  int
	WorkerCount    int
	IsolationLevel string
}

// Duration returns the execution time as a time.Duration.
func (r Record) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}

// NewRecord builds a Record from a unit result for the current run.
func NewRecord(runID string, startedAt time.Time, unit models.UnitResult, workerCount int, isolation string) Record {
	return Record{
		Path:           unit.Path,
		RunID:          runID,
		StartedAt:      startedAt,
		DurationMS:     unit.Duration.Milliseconds(),
		Success:        unit.Status == models.StatusPassed,
		MemoryMB:       unit.MemoryMB,
		DBConnections:  unit.DBConnections,
		WorkerCount:    workerCount,
		IsolationLevel: isolation,
	}
}

// Stats summarizes the store for reporting.
type Stats struct {
	Records     int64
	Units       int64
	SuccessRate float64
	Oldest      time.Time
	Newest      time.Time
}

// Store manages the SQLite execution history.
type Store struct {
	db     *sql.DB
	dbPath string

	mu      sync.Mutex
	pending []Record
}

// NewStore opens (creating if needed) the history database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	// busy_timeout first so the remaining setup waits on locks instead of
	// failing when two runs race on the same file.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := execWithRetry(db, schemaSQL, 5, 10*time.Millisecond); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// execWithRetry executes a statement with exponential backoff on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close flushes nothing and closes the connection; call Flush first if
// buffered records matter.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Append buffers a record for the next Flush.
func (s *Store) Append(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, r)
}

// Pending returns how many records await Flush.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush writes every buffered record in a single transaction and clears the
// buffer. A failure leaves the buffer intact for a retry.
func (s *Store) Flush(ctx context.Context) (int, error) {
	s.mu.Lock()
	batch := s.pending
	s.mu.Unlock()
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin flush transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO unit_executions
		(unit_path, run_id, started_at, duration_ms, success, memory_mb, cpu_percent, db_connections, worker_count, isolation_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		if _, err := stmt.ExecContext(ctx,
			r.Path, r.RunID, r.StartedAt, r.DurationMS, r.Success,
			r.MemoryMB, r.CPUPercent, r.DBConnections, r.WorkerCount, r.IsolationLevel,
		); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("insert execution for %s: %w", r.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit flush: %w", err)
	}

	s.mu.Lock()
	s.pending = s.pending[len(batch):]
	s.mu.Unlock()
	return len(batch), nil
}

// Executions returns a unit's most recent limit records in chronological
// order; limit <= 0 returns everything.
func (s *Store) Executions(path string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT id, unit_path, run_id, started_at, duration_ms, success, memory_mb, cpu_percent, db_connections, worker_count, isolation_level
		FROM unit_executions WHERE unit_path = ? ORDER BY id DESC LIMIT ?`, path, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Paths returns every unit path with at least one record, sorted.
func (s *Store) Paths() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT unit_path FROM unit_executions ORDER BY unit_path`)
	if err != nil {
		return nil, fmt.Errorf("query paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// AverageDuration returns the mean duration of the unit's recent runs. The
// boolean is false when no history exists. Satisfies the classifier's
// duration source.
func (s *Store) AverageDuration(path string) (time.Duration, bool) {
	var avg sql.NullFloat64
	err := s.db.QueryRow(`SELECT AVG(duration_ms)
		FROM (SELECT duration_ms FROM unit_executions WHERE unit_path = ? ORDER BY id DESC LIMIT ?)`,
		path, averageWindow).Scan(&avg)
	if err != nil || !avg.Valid || avg.Float64 <= 0 {
		return 0, false
	}
	return time.Duration(avg.Float64 * float64(time.Millisecond)), true
}

// Prune removes records older than keepDays and trims each unit to its most
// recent maxPerUnit records. Zero or negative arguments skip that policy.
// Returns how many rows were removed.
func (s *Store) Prune(ctx context.Context, keepDays, maxPerUnit int) (int64, error) {
	var removed int64

	if keepDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -keepDays)
		res, err := s.db.ExecContext(ctx, `DELETE FROM unit_executions WHERE started_at < ?`, cutoff)
		if err != nil {
			return removed, fmt.Errorf("prune by age: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	if maxPerUnit > 0 {
		res, err := s.db.ExecContext(ctx, `DELETE FROM unit_executions WHERE id NOT IN (
			SELECT id FROM unit_executions AS keep
			WHERE keep.unit_path = unit_executions.unit_path
			ORDER BY keep.id DESC LIMIT ?)`, maxPerUnit)
		if err != nil {
			return removed, fmt.Errorf("prune by unit cap: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	return removed, nil
}

// Clear deletes every record.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM unit_executions`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// Summary aggregates store-wide statistics.
func (s *Store) Summary() (Stats, error) {
	var stats Stats
	var successRate sql.NullFloat64

	err := s.db.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT unit_path), AVG(success)
		FROM unit_executions`).Scan(&stats.Records, &stats.Units, &successRate)
	if err != nil {
		return Stats{}, fmt.Errorf("query summary: %w", err)
	}
	if successRate.Valid {
		stats.SuccessRate = successRate.Float64
	}
	if stats.Records == 0 {
		return stats, nil
	}

	if err := s.db.QueryRow(`SELECT started_at FROM unit_executions ORDER BY started_at ASC LIMIT 1`).Scan(&stats.Oldest); err != nil {
		return Stats{}, fmt.Errorf("query oldest execution: %w", err)
	}
	if err := s.db.QueryRow(`SELECT started_at FROM unit_executions ORDER BY started_at DESC LIMIT 1`).Scan(&stats.Newest); err != nil {
		return Stats{}, fmt.Errorf("query newest execution: %w", err)
	}
	return stats, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var runID, isolation sql.NullString
		if err := rows.Scan(&r.ID, &r.Path, &runID, &r.StartedAt, &r.DurationMS, &r.Success,
			&r.MemoryMB, &r.CPUPercent, &r.DBConnections, &r.WorkerCount, &isolation); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		r.RunID = runID.String
		r.IsolationLevel = isolation.String
		records = append(records, r)
	}
	return records, rows.Err()
}
