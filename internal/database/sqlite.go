package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"panelup/internal/database/migrations"
	"panelup/internal/update"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const timeFormat = time.RFC3339Nano

// SQLiteDatabase stores settings, update sessions and operation history.
type SQLiteDatabase struct {
	db    *sql.DB
	clock update.Clock
	path  string
}

var (
	_ update.SettingsStore = (*SQLiteDatabase)(nil)
	_ update.SessionStore  = (*SQLiteDatabase)(nil)
	_ update.HistoryStore  = (*SQLiteDatabase)(nil)
)

// NewSQLiteDatabase opens path and migrates it to the latest schema.
// path can be a file path or ":memory:" for an in-memory database.
// A nil clock uses the real time.
func NewSQLiteDatabase(path string, clock update.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return NewSQLiteDatabaseFromDB(db, path, clock), nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string, clock update.Clock) *SQLiteDatabase {
	if clock == nil {
		clock = update.RealClock{}
	}
	return &SQLiteDatabase{db: db, clock: clock, path: path}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" would be a separate database,
	// and the CLI and admin server never need parallel writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

// Path returns the database file path.
func (s *SQLiteDatabase) Path() string { return s.path }

// CheckSchema returns nil when the schema is at the latest migration and
// an error describing the mismatch otherwise.
func (s *SQLiteDatabase) CheckSchema() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

// Settings

func (s *SQLiteDatabase) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSettings upserts every pair in a single transaction.
func (s *SQLiteDatabase) SetSettings(values map[string]string) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.clock.Now().UTC().Format(timeFormat)
	for k, v := range values {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, k, v, now)
		if err != nil {
			return fmt.Errorf("writing setting %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing settings: %w", err)
	}
	return nil
}

// Sessions

func (s *SQLiteDatabase) LoadSession(id string) (*update.Session, error) {
	var payload string
	err := s.db.QueryRow("SELECT payload FROM update_sessions WHERE id = ?", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}

	var sess update.Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *SQLiteDatabase) SaveSession(sess *update.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session has no id")
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO update_sessions (id, state, payload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, payload = excluded.payload, updated_at = excluded.updated_at
	`, sess.ID, string(sess.State), string(payload), s.clock.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteSession(id string) error {
	if _, err := s.db.Exec("DELETE FROM update_sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// PruneSessions removes sessions not updated since before.
func (s *SQLiteDatabase) PruneSessions(before time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM update_sessions WHERE updated_at < ?", before.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	return res.RowsAffected()
}

// Operation history

func (s *SQLiteDatabase) RecordOperation(op *update.Operation) error {
	var stats sql.NullString
	if op.Stats != nil {
		data, err := json.Marshal(op.Stats)
		if err != nil {
			return fmt.Errorf("encoding stats: %w", err)
		}
		stats = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO update_operations
			(id, session_id, action, release_tag, status, message, stats, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.SessionID, string(op.Action), op.ReleaseTag, op.Status, op.Message, stats,
		op.StartedAt.UTC().Format(timeFormat), op.FinishedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("recording operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(limit int) ([]*update.Operation, error) {
	query := `
		SELECT id, session_id, action, release_tag, status, message, stats, started_at, finished_at
		FROM update_operations
		ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*update.Operation
	for rows.Next() {
		var (
			op                update.Operation
			action            string
			stats             sql.NullString
			started, finished string
		)
		if err := rows.Scan(&op.ID, &op.SessionID, &action, &op.ReleaseTag, &op.Status, &op.Message, &stats, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.Action = update.Action(action)
		if stats.Valid {
			op.Stats = &update.Stats{}
			if err := json.Unmarshal([]byte(stats.String), op.Stats); err != nil {
				return nil, fmt.Errorf("decoding stats of %s: %w", op.ID, err)
			}
		}
		if op.StartedAt, err = time.Parse(timeFormat, started); err != nil {
			return nil, fmt.Errorf("parsing started_at of %s: %w", op.ID, err)
		}
		if op.FinishedAt, err = time.Parse(timeFormat, finished); err != nil {
			return nil, fmt.Errorf("parsing finished_at of %s: %w", op.ID, err)
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}
