package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/chatwatch/message"
)

// Schema for the capture archive. One row per captured message; the
// session table records run envelopes for audit.
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
	message_id  TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	captured_at TEXT NOT NULL,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	markdown    TEXT NOT NULL DEFAULT '',
	snippet     TEXT NOT NULL DEFAULT '',
	x           REAL NOT NULL DEFAULT 0,
	y           REAL NOT NULL DEFAULT 0,
	width       REAL NOT NULL DEFAULT 0,
	height      REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_captured ON messages(captured_at);

CREATE TABLE IF NOT EXISTS sessions (
	session_id  TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	ended_at    TEXT,
	url         TEXT NOT NULL DEFAULT '',
	endpoint    TEXT NOT NULL DEFAULT '',
	captured    INTEGER NOT NULL DEFAULT 0,
	loops       INTEGER NOT NULL DEFAULT 0
);
`

// Archive persists captured messages to SQLite so they survive the run
// and can be queried (relay /messages, MCP chatwatch_recent).
type Archive struct {
	db *sql.DB

	mu        sync.Mutex
	sessionID string
}

// OpenArchive opens (or creates) the archive database at path and
// applies the schema.
func OpenArchive(path string) (*Archive, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("archive: mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: apply schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// OpenArchiveDB wraps an existing database handle (tests use in-memory).
func OpenArchiveDB(db *sql.DB) (*Archive, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("archive: apply schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// BindSession attributes all subsequent rows to the given run. The
// primary key is (session_id, message_id), so index-based ids from
// different runs never collide as long as each run binds its own id.
func (a *Archive) BindSession(id string) {
	a.mu.Lock()
	a.sessionID = id
	a.mu.Unlock()
}

func (a *Archive) session() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

func (a *Archive) Send(ctx context.Context, msg message.Message) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages
			(message_id, session_id, captured_at, role, content, markdown, snippet, x, y, width, height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, a.session(), msg.Timestamp, string(msg.Type),
		msg.Content, msg.ContentMarkdown, msg.HTMLSnippet,
		msg.Location.X, msg.Location.Y, msg.Location.Width, msg.Location.Height)
	if err != nil {
		return fmt.Errorf("archive: insert message: %w", err)
	}
	return nil
}

func (a *Archive) SendStart(ctx context.Context, start message.SessionStart) error {
	a.BindSession(start.SessionID)
	_, err := a.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (session_id, started_at, url, endpoint)
		VALUES (?, ?, ?, ?)`,
		start.SessionID, start.SessionStart, start.URL, start.Endpoint)
	if err != nil {
		return fmt.Errorf("archive: insert session: %w", err)
	}
	return nil
}

func (a *Archive) SendEnd(ctx context.Context, end message.SessionEnd) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?, captured = ?, loops = ?
		WHERE session_id = ?`,
		end.SessionEnd, end.TotalCaptured, end.TotalLoops, end.SessionID)
	if err != nil {
		return fmt.Errorf("archive: close session: %w", err)
	}
	return nil
}

// Recent returns the most recently captured messages, newest first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]message.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT message_id, captured_at, role, content, markdown, snippet, x, y, width, height
		FROM messages ORDER BY captured_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query recent: %w", err)
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		var m message.Message
		var role string
		if err := rows.Scan(&m.ID, &m.Timestamp, &role, &m.Content, &m.ContentMarkdown,
			&m.HTMLSnippet, &m.Location.X, &m.Location.Y,
			&m.Location.Width, &m.Location.Height); err != nil {
			return nil, fmt.Errorf("archive: scan row: %w", err)
		}
		m.Type = message.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (a *Archive) Close() error {
	return a.db.Close()
}
