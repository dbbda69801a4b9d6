package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/jasonewillis/specialists/pkg/models"
)

const (
	// DriverModernc is the pure-Go SQLite driver and the default.
	DriverModernc = "sqlite"
	// DriverMattn is the cgo SQLite driver.
	DriverMattn = "sqlite3"
)

// DB wraps an SQLite database holding checkpoints and events.
// Writes for one run are single statements, so distinct runs only contend
// on SQLite's own locking.
type DB struct {
	conn   *sql.DB
	path   string
	driver string
	now    func() time.Time
}

// DefaultDBPath returns the default database location.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "specialists", "specialists.db")
}

// Open opens the database at path with the default driver.
func Open(path string) (*DB, error) {
	return OpenWithDriver(DriverModernc, path)
}

// OpenWithDriver opens the database at path with the named driver.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func OpenWithDriver(driver, path string) (*DB, error) {
	var dsn string
	switch driver {
	case DriverModernc, "":
		driver = DriverModernc
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	case DriverMattn:
		dsn = path + "?_busy_timeout=5000&_foreign_keys=on"
	default:
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	return &DB{
		conn:   conn,
		path:   path,
		driver: driver,
		now:    time.Now,
	}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Checkpoints},
		{2, migrationV2Events},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Checkpoints = `
CREATE TABLE IF NOT EXISTS checkpoints (
	run_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	phase TEXT NOT NULL,
	query TEXT NOT NULL,
	snapshot TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON checkpoints(status);
CREATE INDEX IF NOT EXISTS idx_checkpoints_updated_at ON checkpoints(updated_at);
`

const migrationV2Events = `
CREATE TABLE IF NOT EXISTS events (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	type TEXT NOT NULL,
	ts TEXT NOT NULL,
	phase TEXT,
	worker_id TEXT,
	message TEXT,
	payload TEXT,
	PRIMARY KEY (run_id, seq)
);
`

// Save upserts the full snapshot in a single statement.
func (db *DB) Save(ctx context.Context, runID string, st *models.WorkflowState) error {
	if err := validateRunID(runID); err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", runID, err)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, status, phase, query, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			phase = excluded.phase,
			query = excluded.query,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`, runID, string(st.Status), string(st.CurrentPhase), st.OriginalQuery, string(data),
		formatTime(st.CreatedAt), formatTime(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", runID, err)
	}
	return nil
}

// Load returns the snapshot for runID.
func (db *DB) Load(ctx context.Context, runID string) (*models.WorkflowState, error) {
	var data string
	err := db.conn.QueryRowContext(ctx,
		"SELECT snapshot FROM checkpoints WHERE run_id = ?", runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", runID, err)
	}

	var st models.WorkflowState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", runID, err)
	}
	return &st, nil
}

// Delete removes the checkpoint and events for runID.
func (db *DB) Delete(ctx context.Context, runID string) error {
	return db.transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM checkpoints WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("delete checkpoint %s: %w", runID, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("delete events %s: %w", runID, err)
		}
		return nil
	})
}

// List returns checkpoint summaries ordered by creation time.
func (db *DB) List(ctx context.Context, status *models.RunStatus) ([]CheckpointInfo, error) {
	query := "SELECT run_id, status, phase, query, created_at, updated_at FROM checkpoints"
	var args []any
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY created_at, run_id"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []CheckpointInfo
	for rows.Next() {
		var (
			info               CheckpointInfo
			st, phase          string
			createdAt, updated string
		)
		if err := rows.Scan(&info.RunID, &st, &phase, &info.Query, &createdAt, &updated); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		info.Status = models.RunStatus(st)
		info.Phase = models.Phase(phase)
		if info.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if info.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Purge deletes non-running checkpoints not updated within olderThan,
// together with their events. Returns the number of checkpoints deleted.
func (db *DB) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(db.now().Add(-olderThan))

	var count int64
	err := db.transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM events WHERE run_id IN (
				SELECT run_id FROM checkpoints WHERE updated_at < ? AND status != ?
			)
		`, cutoff, string(models.RunStatusRunning))
		if err != nil {
			return fmt.Errorf("purge events: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			"DELETE FROM checkpoints WHERE updated_at < ? AND status != ?",
			cutoff, string(models.RunStatusRunning))
		if err != nil {
			return fmt.Errorf("purge checkpoints: %w", err)
		}
		count, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	return count, err
}

// Append inserts ev with the next sequence number for the run. The number
// is computed inside the INSERT so it survives restarts.
func (db *DB) Append(ctx context.Context, runID string, ev models.Event) (models.Event, error) {
	if err := validateRunID(runID); err != nil {
		return ev, err
	}
	ev.RunID = runID
	if ev.TimestampUTC.IsZero() {
		ev.TimestampUTC = db.now().UTC()
	}

	var payload sql.NullString
	if len(ev.Payload) > 0 {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return ev, fmt.Errorf("encode event payload: %w", err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}

	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO events (run_id, seq, type, ts, phase, worker_id, message, payload)
		SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?
		FROM events WHERE run_id = ?
		RETURNING seq
	`, runID, string(ev.Type), formatTime(ev.TimestampUTC), string(ev.Phase),
		string(ev.WorkerID), ev.Message, payload, runID).Scan(&ev.Seq)
	if err != nil {
		return ev, fmt.Errorf("append event %s: %w", runID, err)
	}
	return ev, nil
}

// Since returns events for runID with seq greater than sinceIndex.
func (db *DB) Since(ctx context.Context, runID string, sinceIndex int64) ([]models.Event, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT seq, type, ts, phase, worker_id, message, payload
		FROM events WHERE run_id = ? AND seq > ?
		ORDER BY seq
	`, runID, sinceIndex)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			ev                     models.Event
			typ, ts                string
			phase, worker, message sql.NullString
			payload                sql.NullString
		)
		if err := rows.Scan(&ev.Seq, &typ, &ts, &phase, &worker, &message, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.RunID = runID
		ev.Type = models.EventType(typ)
		ev.Phase = models.Phase(phase.String)
		ev.WorkerID = models.WorkerID(worker.String)
		ev.Message = message.String
		if ev.TimestampUTC, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// transaction runs fn within a transaction.
func (db *DB) transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
