package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/wizard-chat/pkg/chat"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DSNForFile returns a DSN with WAL and a busy timeout for the given path.
func DSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite transcript store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
		  session_id TEXT PRIMARY KEY,
		  created_at_ms INTEGER NOT NULL,
		  status TEXT NOT NULL DEFAULT 'active',
		  last_activity_ms INTEGER NOT NULL,
		  name_collected INTEGER NOT NULL DEFAULT 0,
		  email_collected INTEGER NOT NULL DEFAULT 0,
		  income_collected INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
		  session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		  message_id INTEGER NOT NULL,
		  role TEXT NOT NULL,
		  content TEXT NOT NULL,
		  created_at_ms INTEGER NOT NULL,
		  PRIMARY KEY (session_id, message_id)
		);`,
		`CREATE TABLE IF NOT EXISTS completions (
		  id INTEGER PRIMARY KEY AUTOINCREMENT,
		  session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		  collected INTEGER NOT NULL,
		  is_complete INTEGER NOT NULL,
		  at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_by_last_activity
		  ON sessions(last_activity_ms DESC, session_id ASC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite transcript store: migrate")
		}
	}
	return nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) UpsertSession(ctx context.Context, sess chat.Session) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	if sess.ID == "" {
		return errors.New("sqlite transcript store: session id is empty")
	}
	now := time.Now().UnixMilli()
	created := now
	if !sess.CreatedAt.IsZero() {
		created = sess.CreatedAt.UnixMilli()
	}
	status := sess.Status
	if status == "" {
		status = chat.SessionActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, created_at_ms, status, last_activity_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = CASE
				WHEN sessions.status = 'complete' THEN sessions.status
				ELSE excluded.status
			END,
			last_activity_ms = CASE
				WHEN excluded.last_activity_ms > sessions.last_activity_ms THEN excluded.last_activity_ms
				ELSE sessions.last_activity_ms
			END
	`, sess.ID, created, string(status), now)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: upsert session")
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, m chat.Message) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	if sessionID == "" {
		return errors.New("sqlite transcript store: session id is empty")
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, message_id, role, content, created_at_ms)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, m.ID, string(m.Role), m.Content, ts.UnixMilli()); err != nil {
		return errors.Wrap(err, "sqlite transcript store: insert message")
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET last_activity_ms = MAX(last_activity_ms, ?) WHERE session_id = ?
	`, ts.UnixMilli(), sessionID); err != nil {
		return errors.Wrap(err, "sqlite transcript store: touch session")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite transcript store: commit message")
	}
	return nil
}

func (s *SQLiteStore) RecordCompletion(ctx context.Context, sessionID string, c chat.Completion, at time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	if sessionID == "" {
		return errors.New("sqlite transcript store: session id is empty")
	}
	if at.IsZero() {
		at = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO completions (session_id, collected, is_complete, at_ms) VALUES (?, ?, ?, ?)
	`, sessionID, c.DataCollected.Count(), boolInt(c.IsComplete), at.UnixMilli()); err != nil {
		return errors.Wrap(err, "sqlite transcript store: insert completion")
	}
	status := string(chat.SessionActive)
	if c.IsComplete {
		status = string(chat.SessionComplete)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET
			name_collected = ?,
			email_collected = ?,
			income_collected = ?,
			status = CASE WHEN status = 'complete' THEN status ELSE ? END
		WHERE session_id = ?
	`, boolInt(c.DataCollected.Name), boolInt(c.DataCollected.Email), boolInt(c.DataCollected.Income), status, sessionID); err != nil {
		return errors.Wrap(err, "sqlite transcript store: update session data")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite transcript store: commit completion")
	}
	return nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			s.session_id, s.created_at_ms, s.status, s.last_activity_ms,
			s.name_collected, s.email_collected, s.income_collected,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.session_id) AS message_count
		FROM sessions s
		ORDER BY s.last_activity_ms DESC, s.session_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: list sessions")
	}
	defer func() { _ = rows.Close() }()

	var out []SessionSummary
	for rows.Next() {
		var (
			id                    string
			createdMs, activityMs int64
			status                string
			name, email, income   int64
			count                 int
		)
		if err := rows.Scan(&id, &createdMs, &status, &activityMs, &name, &email, &income, &count); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan session")
		}
		out = append(out, SessionSummary{
			Session: chat.Session{
				ID:        id,
				CreatedAt: chat.NewTimestamp(time.UnixMilli(createdMs)),
				Status:    chat.SessionStatus(status),
			},
			MessageCount:  count,
			DataCollected: chat.DataCollected{Name: name == 1, Email: email == 1, Income: income == 1},
			LastActivity:  time.UnixMilli(activityMs),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: iterate sessions")
	}
	return out, nil
}

func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("sqlite transcript store: session id is empty")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, role, content, created_at_ms
		FROM messages
		WHERE session_id = ?
		ORDER BY message_id ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: query messages")
	}
	defer func() { _ = rows.Close() }()

	var out []chat.Message
	for rows.Next() {
		var (
			m    chat.Message
			role string
			ms   int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &ms); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan message")
		}
		m.Role = chat.Role(role)
		m.Timestamp = time.UnixMilli(ms)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: iterate messages")
	}
	return out, nil
}
