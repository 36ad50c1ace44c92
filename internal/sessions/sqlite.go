package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agentgate/agentgate/pkg/models"
)

// SQLiteStore is the persistent session store. Event ordering is the rowid
// of the events table; batches append inside a transaction so concurrent
// invokes against the same session never interleave within a batch.
type SQLiteStore struct {
	db *sql.DB
}

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	agent_id        TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	running_summary TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS session_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	ts         TEXT NOT NULL,
	meta       TEXT
);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events (session_id, id);
`

// NewSQLiteStore opens (creating if needed) the session database at path.
// Registry and sessions may share a database file; the tables are disjoint.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sessions db: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sessions db pragma: %w", err)
		}
	}
	if _, err := db.Exec(sessionsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessions db schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, agentID string) (*models.Session, error) {
	sess := &models.Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		CreatedAt: time.Now().UTC(),
		Events:    []models.Event{},
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_id, created_at, running_summary) VALUES (?, ?, ?, '')`,
		sess.ID, sess.AgentID, sess.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	var sess models.Session
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, created_at, running_summary FROM sessions WHERE id = ?`,
		sessionID).Scan(&sess.ID, &sess.AgentID, &createdAt, &sess.RunningSummary)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{SessionID: sessionID}
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		sess.CreatedAt = t
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, ts, meta FROM session_events WHERE session_id = ? ORDER BY id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()

	sess.Events = []models.Event{}
	for rows.Next() {
		var ev models.Event
		var meta sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Role, &ev.Content, &ev.TS, &meta); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		ev.SessionID = sessionID
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &ev.Meta); err != nil {
				return nil, fmt.Errorf("decode event meta: %w", err)
			}
		}
		sess.Events = append(sess.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) AppendEvents(ctx context.Context, sessionID string, events []models.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return &ErrNotFound{SessionID: sessionID}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, ev := range events {
		ts := ev.TS
		if ts == "" {
			ts = now
		}
		var meta sql.NullString
		if ev.Meta != nil {
			data, err := json.Marshal(ev.Meta)
			if err != nil {
				return fmt.Errorf("encode event meta: %w", err)
			}
			meta = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_events (session_id, role, content, ts, meta) VALUES (?, ?, ?, ?, ?)`,
			sessionID, ev.Role, ev.Content, ts, meta); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
