// Package database persists capture events, sessions, and detection
// matches to SQLite.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB handles database operations
type DB struct {
	Db *sql.DB
}

// EventRow is one capture event as stored, kernel fields plus the
// userspace enrichment gathered at insert time.
type EventRow struct {
	ID            int64
	Timestamp     time.Time
	EventType     string
	PID           uint32
	PPID          uint32
	UID           uint32
	Comm          string
	ExePath       string
	CmdLine       string
	WorkingDir    string
	Username      string
	ContainerID   string
	DstAddr       string
	DstPort       uint16
	HTTPMethod    string
	HTTPURI       string
	ContentLength uint32
	SocketFD      uint32
	ExitCode      int32
	SessionID     int64
}

// SessionRow aggregates the lifetime of one traced process.
type SessionRow struct {
	ID           int64
	PID          uint32
	Comm         string
	StartTime    time.Time
	LastActivity time.Time
	EndTime      time.Time
	ExecCount    int64
	ConnectCount int64
	RequestCount int64
	RequestBytes int64
	ExitCode     int32
	Status       string
}

// MatchRow is one detection rule hit against a stored event.
type MatchRow struct {
	ID          int64
	EventID     int64
	RuleID      string
	RuleName    string
	Severity    string
	PID         uint32
	Comm        string
	CmdLine     string
	Username    string
	Timestamp   time.Time
	MatchDetail string
}

func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	dbPath := filepath.Join(dataDir, "clitap.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	if err := initEventSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize event schema: %v", err)
	}

	if err := initSessionSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize session schema: %v", err)
	}

	if err := initSigmaSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sigma schema: %v", err)
	}

	return &DB{Db: db}, nil
}

func initEventSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp      DATETIME NOT NULL,
		event_type     TEXT NOT NULL,
		pid            INTEGER NOT NULL,
		ppid           INTEGER,
		uid            INTEGER,
		comm           TEXT NOT NULL,
		exe_path       TEXT,
		cmdline        TEXT,
		working_dir    TEXT,
		username       TEXT,
		container_id   TEXT,
		dst_addr       TEXT,
		dst_port       INTEGER,
		http_method    TEXT,
		http_uri       TEXT,
		content_length INTEGER,
		socket_fd      INTEGER,
		exit_code      INTEGER,
		session_id     INTEGER
	);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create events table: %v", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_events_pid ON events(pid);",
		"CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);",
		"CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);",
		"CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);",
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %v", err)
		}
	}

	return nil
}

func initSessionSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		pid           INTEGER NOT NULL,
		comm          TEXT NOT NULL,
		start_time    DATETIME NOT NULL,
		last_activity DATETIME NOT NULL,
		end_time      DATETIME,
		exec_count    INTEGER DEFAULT 0,
		connect_count INTEGER DEFAULT 0,
		request_count INTEGER DEFAULT 0,
		request_bytes INTEGER DEFAULT 0,
		exit_code     INTEGER,
		status        TEXT DEFAULT 'active' NOT NULL
	);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create sessions table: %v", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_pid ON sessions(pid);",
		"CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);",
		"CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time);",
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %v", err)
		}
	}

	return nil
}

func initSigmaSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sigma_matches (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id     INTEGER NOT NULL,
		rule_id      TEXT NOT NULL,
		rule_name    TEXT NOT NULL,
		severity     TEXT NOT NULL,
		pid          INTEGER,
		comm         TEXT,
		cmdline      TEXT,
		username     TEXT,
		timestamp    DATETIME NOT NULL,
		match_detail TEXT,
		created_at   DATETIME NOT NULL
	);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create sigma_matches table: %v", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_sigma_matches_rule_id ON sigma_matches(rule_id);",
		"CREATE INDEX IF NOT EXISTS idx_sigma_matches_event ON sigma_matches(event_id);",
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %v", err)
		}
	}

	return nil
}

func (db *DB) InsertEvent(row *EventRow) (int64, error) {
	query := `
        INSERT INTO events (
            timestamp, event_type, pid, ppid, uid, comm,
            exe_path, cmdline, working_dir, username, container_id,
            dst_addr, dst_port, http_method, http_uri, content_length,
            socket_fd, exit_code, session_id
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := db.Db.Exec(query,
		row.Timestamp,
		row.EventType,
		row.PID,
		row.PPID,
		row.UID,
		row.Comm,
		row.ExePath,
		row.CmdLine,
		row.WorkingDir,
		row.Username,
		row.ContainerID,
		row.DstAddr,
		row.DstPort,
		row.HTTPMethod,
		row.HTTPURI,
		row.ContentLength,
		row.SocketFD,
		row.ExitCode,
		row.SessionID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) InsertSession(row *SessionRow) (int64, error) {
	query := `
        INSERT INTO sessions (pid, comm, start_time, last_activity, exec_count)
        VALUES (?, ?, ?, ?, 1)`

	res, err := db.Db.Exec(query, row.PID, row.Comm, row.StartTime, row.LastActivity)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateSessionActivity bumps the activity timestamp and counters for a
// still-open session.
func (db *DB) UpdateSessionActivity(id int64, at time.Time, connects, requests, requestBytes int64) error {
	query := `
        UPDATE sessions
        SET last_activity = ?,
            connect_count = connect_count + ?,
            request_count = request_count + ?,
            request_bytes = request_bytes + ?
        WHERE id = ?`

	_, err := db.Db.Exec(query, at, connects, requests, requestBytes, id)
	return err
}

// CloseSession marks a session finished. Status is 'exited' when the
// process exited and 'expired' when it went quiet past the timeout.
func (db *DB) CloseSession(id int64, endTime time.Time, exitCode int32, status string) error {
	query := `
        UPDATE sessions
        SET end_time = ?, exit_code = ?, status = ?
        WHERE id = ? AND status = 'active'`

	_, err := db.Db.Exec(query, endTime, exitCode, status, id)
	return err
}

func (db *DB) InsertMatch(row *MatchRow) error {
	query := `
        INSERT INTO sigma_matches (
            event_id, rule_id, rule_name, severity,
            pid, comm, cmdline, username, timestamp, match_detail, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.Db.Exec(query,
		row.EventID,
		row.RuleID,
		row.RuleName,
		row.Severity,
		row.PID,
		row.Comm,
		row.CmdLine,
		row.Username,
		row.Timestamp,
		row.MatchDetail,
		time.Now())
	return err
}

func (db *DB) Close() error {
	return db.Db.Close()
}
