package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Persisted session keys.
const (
	KeyTranscript     = "transcript"
	KeySummary        = "summary"
	KeyEmails         = "emails"
	KeySubject        = "subject"
	KeyRecordingMode  = "recordingMode"
	KeyDeepgramAPIKey = "deepgramApiKey"
)

const DefaultSubject = "Meeting Summary"

// Snapshot is the persisted view of a session. The Deepgram key is stored in
// plaintext.
type Snapshot struct {
	Transcript     string   `json:"transcript"`
	Summary        string   `json:"summary"`
	Emails         []string `json:"emails"`
	Subject        string   `json:"subject"`
	RecordingMode  string   `json:"recordingMode"`
	DeepgramAPIKey string   `json:"deepgramApiKey"`
}

// DefaultSnapshot is what Load returns for keys that were never written.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Emails:        []string{},
		Subject:       DefaultSubject,
		RecordingMode: "microphone",
	}
}

type Recording struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Mode            string     `json:"mode"`
	DurationSeconds int        `json:"duration_seconds"`
	Status          string     `json:"status"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "meetscribe.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create session_kv table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			mode TEXT NOT NULL,
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create recordings table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_recordings_started_at ON recordings(started_at)"); err != nil {
		return fmt.Errorf("create recordings index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// SaveSession upserts every session key in one transaction.
func (s *SQLiteStore) SaveSession(snap Snapshot) error {
	emails := snap.Emails
	if emails == nil {
		emails = []string{}
	}
	encodedEmails, err := json.Marshal(emails)
	if err != nil {
		return fmt.Errorf("encode emails: %w", err)
	}

	values := []struct{ key, value string }{
		{KeyTranscript, snap.Transcript},
		{KeySummary, snap.Summary},
		{KeyEmails, string(encodedEmails)},
		{KeySubject, snap.Subject},
		{KeyRecordingMode, snap.RecordingMode},
		{KeyDeepgramAPIKey, snap.DeepgramAPIKey},
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, v := range values {
		if _, err := tx.Exec(
			`INSERT INTO session_kv(key, value) VALUES(?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			v.key,
			v.value,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", v.key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save session: %w", err)
	}
	return nil
}

// LoadSession returns the persisted session, filling unset keys with defaults.
func (s *SQLiteStore) LoadSession() (Snapshot, error) {
	snap := DefaultSnapshot()

	rows, err := s.db.Query(`SELECT key, value FROM session_kv`)
	if err != nil {
		return snap, fmt.Errorf("query session keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return snap, fmt.Errorf("scan session key: %w", err)
		}

		switch key {
		case KeyTranscript:
			snap.Transcript = value
		case KeySummary:
			snap.Summary = value
		case KeyEmails:
			var emails []string
			if err := json.Unmarshal([]byte(value), &emails); err != nil {
				return snap, fmt.Errorf("decode emails: %w", err)
			}
			if emails == nil {
				emails = []string{}
			}
			snap.Emails = emails
		case KeySubject:
			snap.Subject = value
		case KeyRecordingMode:
			if value != "" {
				snap.RecordingMode = value
			}
		case KeyDeepgramAPIKey:
			snap.DeepgramAPIKey = value
		}
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("iterate session keys: %w", err)
	}

	return snap, nil
}

// ClearSession removes every session key. Recording history is kept.
func (s *SQLiteStore) ClearSession() error {
	if _, err := s.db.Exec(`DELETE FROM session_kv`); err != nil {
		return fmt.Errorf("clear session keys: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateRecording(id string, startedAt time.Time, mode string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("recording id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO recordings(id, started_at, mode, status) VALUES(?, ?, ?, 'recording')`,
		id,
		startedAt.UTC().Format(time.RFC3339Nano),
		mode,
	)
	if err != nil {
		return fmt.Errorf("create recording %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) EndRecording(id string, endedAt time.Time, durationSeconds int) error {
	res, err := s.db.Exec(
		`UPDATE recordings SET ended_at = ?, duration_seconds = ?, status = 'ended' WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano),
		durationSeconds,
		id,
	)
	if err != nil {
		return fmt.Errorf("end recording %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end recording rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteStore) ListRecordings(limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, started_at, ended_at, mode, duration_seconds, status
		 FROM recordings
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	recordings := make([]Recording, 0, 16)
	for rows.Next() {
		var rec Recording
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&rec.ID, &startedAt, &endedAt, &rec.Mode, &rec.DurationSeconds, &rec.Status); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}

		parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse recording %s started_at: %w", rec.ID, err)
		}
		rec.StartedAt = parsedStart

		if endedAt.Valid {
			parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse recording %s ended_at: %w", rec.ID, err)
			}
			rec.EndedAt = &parsedEnd
		}

		recordings = append(recordings, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recordings rows: %w", err)
	}

	return recordings, nil
}
