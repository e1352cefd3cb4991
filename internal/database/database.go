// Package database is the durable store for process sessions. Live state is
// owned by the registry; rows here survive eviction and process restarts so
// history remains queryable.
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB represents the SQLite database connection and operations
type DB struct {
	conn *sql.DB
	path string
}

// SessionRecord represents a process session stored in the database
type SessionRecord struct {
	ID                    string     `json:"session_id"`
	ChatID                int64      `json:"chat_id"`
	UserID                int64      `json:"user_id"`
	Argv                  []string   `json:"argv"`
	WorkspaceRoot         string     `json:"workspace_root"`
	PtyEnabled            bool       `json:"pty_enabled"`
	Status                string     `json:"status"`
	ExitCode              *int       `json:"exit_code"`
	CreatedAt             time.Time  `json:"created_at"`
	StartedAt             time.Time  `json:"started_at"`
	CompletedAt           *time.Time `json:"completed_at"`
	LastActivityAt        time.Time  `json:"last_activity_at"`
	MaxWallSec            int        `json:"max_wall_sec"`
	IdleTimeoutSec        int        `json:"idle_timeout_sec"`
	MaxOutputBytes        int64      `json:"max_output_bytes"`
	RingBufferBytes       int        `json:"ring_buffer_bytes"`
	OutputBytes           int64      `json:"output_bytes"`
	RedactionReplacements int64      `json:"redaction_replacements"`
	LogPath               string     `json:"log_path"`
	IndexPath             string     `json:"index_path"`
	LastCursor            int64      `json:"last_cursor"`
	Error                 string     `json:"error"`
}

// ChunkRecord represents one chunk-index row mirrored from the log indexer
type ChunkRecord struct {
	SessionID   string `json:"session_id"`
	Seq         int64  `json:"seq"`
	CreatedAt   string `json:"created_at"`
	StartOffset int64  `json:"start_offset"`
	EndOffset   int64  `json:"end_offset"`
	Preview     string `json:"preview"`
}

// NewDB creates a new database connection
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "procmux.db")

	conn, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	db := &DB{
		conn: conn,
		path: dbPath,
	}

	if err := db.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// initialize creates the database schema
func (db *DB) initialize() error {
	schema := `
	-- Process sessions table
	CREATE TABLE IF NOT EXISTS process_sessions (
		session_id TEXT PRIMARY KEY,
		chat_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		argv TEXT NOT NULL DEFAULT '[]',
		workspace_root TEXT NOT NULL,
		pty_enabled BOOLEAN DEFAULT 0,
		status TEXT NOT NULL,
		exit_code INTEGER,
		created_at DATETIME NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		last_activity_at DATETIME NOT NULL,
		max_wall_sec INTEGER NOT NULL,
		idle_timeout_sec INTEGER NOT NULL,
		max_output_bytes INTEGER NOT NULL,
		ring_buffer_bytes INTEGER NOT NULL,
		output_bytes INTEGER DEFAULT 0,
		redaction_replacements INTEGER DEFAULT 0,
		log_path TEXT NOT NULL,
		index_path TEXT NOT NULL,
		last_cursor INTEGER DEFAULT 0,
		error TEXT DEFAULT ''
	);

	-- Chunk index rows mirrored from the per-session log indexer
	CREATE TABLE IF NOT EXISTS session_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		preview TEXT DEFAULT '',
		FOREIGN KEY (session_id) REFERENCES process_sessions(session_id) ON DELETE CASCADE
	);

	-- Indexes for better performance
	CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON process_sessions(chat_id, user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON process_sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON process_sessions(last_activity_at);
	CREATE INDEX IF NOT EXISTS idx_chunks_session_id ON session_chunks(session_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_seq ON session_chunks(session_id, seq);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// HealthCheck verifies the database connection is usable
func (db *DB) HealthCheck() error {
	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.conn.Ping()
}

// Session operations

// CreateSession creates a new session record
func (db *DB) CreateSession(rec *SessionRecord) error {
	argvJSON, err := json.Marshal(rec.Argv)
	if err != nil {
		return fmt.Errorf("failed to marshal argv: %w", err)
	}

	query := `
	INSERT INTO process_sessions (
		session_id, chat_id, user_id, argv, workspace_root, pty_enabled,
		status, exit_code, created_at, started_at, completed_at, last_activity_at,
		max_wall_sec, idle_timeout_sec, max_output_bytes, ring_buffer_bytes,
		output_bytes, redaction_replacements, log_path, index_path, last_cursor, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.conn.Exec(query,
		rec.ID, rec.ChatID, rec.UserID, string(argvJSON), rec.WorkspaceRoot, rec.PtyEnabled,
		rec.Status, rec.ExitCode, rec.CreatedAt, rec.StartedAt, rec.CompletedAt, rec.LastActivityAt,
		rec.MaxWallSec, rec.IdleTimeoutSec, rec.MaxOutputBytes, rec.RingBufferBytes,
		rec.OutputBytes, rec.RedactionReplacements, rec.LogPath, rec.IndexPath, rec.LastCursor, rec.Error)

	return err
}

// UpdateSession updates the mutable columns of a session record
func (db *DB) UpdateSession(rec *SessionRecord) error {
	query := `
	UPDATE process_sessions
	SET status = ?, exit_code = ?, completed_at = ?, last_activity_at = ?,
	    output_bytes = ?, redaction_replacements = ?, last_cursor = ?,
	    pty_enabled = ?, error = ?
	WHERE session_id = ?
	`

	_, err := db.conn.Exec(query,
		rec.Status, rec.ExitCode, rec.CompletedAt, rec.LastActivityAt,
		rec.OutputBytes, rec.RedactionReplacements, rec.LastCursor,
		rec.PtyEnabled, rec.Error, rec.ID)

	return err
}

// SetLastCursor persists the last byte offset delivered to a poller
func (db *DB) SetLastCursor(sessionID string, cursor int64) error {
	_, err := db.conn.Exec(`UPDATE process_sessions SET last_cursor = ? WHERE session_id = ?`, cursor, sessionID)
	return err
}

// GetSession retrieves a session by ID. Returns (nil, nil) when no row exists.
func (db *DB) GetSession(sessionID string) (*SessionRecord, error) {
	query := sessionSelect + ` WHERE session_id = ?`

	rec, err := scanSession(db.conn.QueryRow(query, sessionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// ListSessions retrieves sessions for a tenant, most recently active first
func (db *DB) ListSessions(chatID, userID int64, limit int) ([]*SessionRecord, error) {
	if limit < 1 {
		limit = 1
	}
	query := sessionSelect + `
	WHERE chat_id = ? AND user_id = ?
	ORDER BY last_activity_at DESC
	LIMIT ?`

	rows, err := db.conn.Query(query, chatID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, rec)
	}

	return sessions, rows.Err()
}

// CountRunningSessions counts sessions persisted as running for a tenant.
// The registry takes the max of this and its in-memory count so a freshly
// restarted server does not under-count sessions it has not reloaded.
func (db *DB) CountRunningSessions(chatID, userID int64) (int, error) {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM process_sessions WHERE chat_id = ? AND user_id = ? AND status = 'running'`,
		chatID, userID,
	).Scan(&count)
	return count, err
}

// MarkOrphanedSessions flags rows still marked running as failed. Called at
// startup: any row that claims to be running when the server boots belongs
// to a previous process and has no live OS process behind it.
func (db *DB) MarkOrphanedSessions() (int, error) {
	now := time.Now().UTC()
	result, err := db.conn.Exec(
		`UPDATE process_sessions
		 SET status = 'failed', error = 'orphaned by server restart', completed_at = ?
		 WHERE status = 'running'`,
		now,
	)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

// Chunk operations

// AppendChunk mirrors one chunk-index row into the store
func (db *DB) AppendChunk(chunk *ChunkRecord) error {
	query := `
	INSERT INTO session_chunks (session_id, seq, created_at, start_offset, end_offset, preview)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := db.conn.Exec(query,
		chunk.SessionID, chunk.Seq, chunk.CreatedAt, chunk.StartOffset, chunk.EndOffset, chunk.Preview)

	return err
}

// ListChunks retrieves chunk rows for a session ordered by sequence
func (db *DB) ListChunks(sessionID string, limit int) ([]*ChunkRecord, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := db.conn.Query(
		`SELECT session_id, seq, created_at, start_offset, end_offset, preview
		 FROM session_chunks WHERE session_id = ? ORDER BY seq ASC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*ChunkRecord
	for rows.Next() {
		var chunk ChunkRecord
		if err := rows.Scan(&chunk.SessionID, &chunk.Seq, &chunk.CreatedAt,
			&chunk.StartOffset, &chunk.EndOffset, &chunk.Preview); err != nil {
			return nil, err
		}
		chunks = append(chunks, &chunk)
	}

	return chunks, rows.Err()
}

const sessionSelect = `
	SELECT session_id, chat_id, user_id, argv, workspace_root, pty_enabled,
	       status, exit_code, created_at, started_at, completed_at, last_activity_at,
	       max_wall_sec, idle_timeout_sec, max_output_bytes, ring_buffer_bytes,
	       output_bytes, redaction_replacements, log_path, index_path, last_cursor, error
	FROM process_sessions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var argvJSON string

	err := row.Scan(&rec.ID, &rec.ChatID, &rec.UserID, &argvJSON, &rec.WorkspaceRoot, &rec.PtyEnabled,
		&rec.Status, &rec.ExitCode, &rec.CreatedAt, &rec.StartedAt, &rec.CompletedAt, &rec.LastActivityAt,
		&rec.MaxWallSec, &rec.IdleTimeoutSec, &rec.MaxOutputBytes, &rec.RingBufferBytes,
		&rec.OutputBytes, &rec.RedactionReplacements, &rec.LogPath, &rec.IndexPath, &rec.LastCursor, &rec.Error)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(argvJSON), &rec.Argv); err != nil {
		rec.Argv = nil
	}
	return &rec, nil
}
