// ABOUTME: SQLite-backed MessageStore/ThreadStore/RunStore for the agent orchestration core.
// ABOUTME: Provides OpenSqlite, schema migration, and CRUD operations matching the teacher's upsert-on-conflict idiom.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389-research/agentkit/agent"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

const timeLayout = time.RFC3339

// SqliteStore is a SQLite-backed implementation of the agent package's
// storage capabilities, safe for concurrent use across runs.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite-backed store at path and migrates its
// schema.
func OpenSqlite(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			FOREIGN KEY (thread_id) REFERENCES threads(id)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_thread_created ON messages(thread_id, created_at);

		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			agent_type TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			config TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			completed_at TEXT,
			last_error TEXT,
			required_action TEXT
		);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SqliteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) CreateThread(ctx context.Context, t agent.Thread) (agent.Thread, error) {
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return agent.Thread{}, &agent.CoreError{Kind: agent.ErrStorage, Message: "marshalling thread metadata", Cause: err}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO threads (id, title, user_id, created_at, metadata) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, user_id = excluded.user_id, metadata = excluded.metadata`,
		t.ID, t.Title, t.UserID, t.CreatedAt.Format(timeLayout), string(meta))
	if err != nil {
		return agent.Thread{}, &agent.CoreError{Kind: agent.ErrStorage, Message: "creating thread", Cause: err}
	}
	return t, nil
}

func (s *SqliteStore) GetThread(ctx context.Context, id string) (agent.Thread, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, title, user_id, created_at, metadata FROM threads WHERE id = ?", id)
	var t agent.Thread
	var createdAt, meta string
	if err := row.Scan(&t.ID, &t.Title, &t.UserID, &createdAt, &meta); err != nil {
		if err == sql.ErrNoRows {
			return agent.Thread{}, false, nil
		}
		return agent.Thread{}, false, &agent.CoreError{Kind: agent.ErrStorage, Message: "fetching thread", Cause: err}
	}
	t.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	_ = json.Unmarshal([]byte(meta), &t.Metadata)
	return t, true, nil
}

func (s *SqliteStore) AddMessage(ctx context.Context, msg agent.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return &agent.CoreError{Kind: agent.ErrStorage, Message: "marshalling message metadata", Cause: err}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, role, content, created_at, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, string(msg.Role), msg.Content, msg.CreatedAt.Format(timeLayout), string(meta))
	if err != nil {
		return &agent.CoreError{Kind: agent.ErrStorage, Message: "inserting message", Cause: err}
	}
	return nil
}

func (s *SqliteStore) GetMessages(ctx context.Context, threadID string, limit int, descending bool) ([]agent.Message, error) {
	order := "ASC"
	if descending {
		order = "DESC"
	}
	query := fmt.Sprintf("SELECT id, thread_id, role, content, created_at, metadata FROM messages WHERE thread_id = ? ORDER BY created_at %s", order)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, &agent.CoreError{Kind: agent.ErrStorage, Message: "querying messages", Cause: err}
	}
	defer func() { _ = rows.Close() }()

	var out []agent.Message
	for rows.Next() {
		var m agent.Message
		var role, createdAt, meta string
		if err := rows.Scan(&m.ID, &m.ThreadID, &role, &m.Content, &createdAt, &meta); err != nil {
			return nil, &agent.CoreError{Kind: agent.ErrStorage, Message: "scanning message row", Cause: err}
		}
		m.Role = agent.Role(role)
		m.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		_ = json.Unmarshal([]byte(meta), &m.Metadata)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SqliteStore) CreateRun(ctx context.Context, r agent.Run) (agent.Run, error) {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	cfg, err := json.Marshal(r.Config)
	if err != nil {
		return agent.Run{}, &agent.CoreError{Kind: agent.ErrStorage, Message: "marshalling run config", Cause: err}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, thread_id, agent_type, status, config, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ThreadID, r.AgentType, string(r.Status), string(cfg), r.CreatedAt.Format(timeLayout))
	if err != nil {
		return agent.Run{}, &agent.CoreError{Kind: agent.ErrStorage, Message: "creating run", Cause: err}
	}
	return r, nil
}

func (s *SqliteStore) GetRun(ctx context.Context, id string) (agent.Run, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, thread_id, agent_type, status, config, created_at, completed_at, last_error, required_action FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return agent.Run{}, false, nil
	}
	if err != nil {
		return agent.Run{}, false, &agent.CoreError{Kind: agent.ErrStorage, Message: "fetching run", Cause: err}
	}
	return r, true, nil
}

// UpdateRun loads the run, applies patch, and writes the result back.
// SQLite's single-writer model makes this safe under the package's shared
// *sql.DB without extra locking.
func (s *SqliteStore) UpdateRun(ctx context.Context, id string, patch func(*agent.Run)) (agent.Run, error) {
	r, found, err := s.GetRun(ctx, id)
	if err != nil {
		return agent.Run{}, err
	}
	if !found {
		return agent.Run{}, &agent.CoreError{Kind: agent.ErrStorage, Message: "run not found: " + id}
	}
	patch(&r)

	cfg, err := json.Marshal(r.Config)
	if err != nil {
		return agent.Run{}, &agent.CoreError{Kind: agent.ErrStorage, Message: "marshalling run config", Cause: err}
	}
	var lastError, requiredAction, completedAt *string
	if r.LastError != nil {
		b, _ := json.Marshal(r.LastError)
		s := string(b)
		lastError = &s
	}
	if r.RequiredAction != nil {
		b, _ := json.Marshal(r.RequiredAction)
		s := string(b)
		requiredAction = &s
	}
	if r.CompletedAt != nil {
		s := r.CompletedAt.Format(timeLayout)
		completedAt = &s
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, config = ?, completed_at = ?, last_error = ?, required_action = ? WHERE id = ?`,
		string(r.Status), string(cfg), completedAt, lastError, requiredAction, id)
	if err != nil {
		return agent.Run{}, &agent.CoreError{Kind: agent.ErrStorage, Message: "updating run", Cause: err}
	}
	return r, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (agent.Run, error) {
	var r agent.Run
	var status, createdAt, cfg string
	var completedAt, lastError, requiredAction *string

	if err := row.Scan(&r.ID, &r.ThreadID, &r.AgentType, &status, &cfg, &createdAt, &completedAt, &lastError, &requiredAction); err != nil {
		return agent.Run{}, err
	}
	r.Status = agent.RunStatus(status)
	r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	_ = json.Unmarshal([]byte(cfg), &r.Config)
	if completedAt != nil {
		t, _ := time.Parse(timeLayout, *completedAt)
		r.CompletedAt = &t
	}
	if lastError != nil {
		var e agent.RunError
		if err := json.Unmarshal([]byte(*lastError), &e); err == nil {
			r.LastError = &e
		}
	}
	if requiredAction != nil {
		var a agent.RequiredAction
		if err := json.Unmarshal([]byte(*requiredAction), &a); err == nil {
			r.RequiredAction = &a
		}
	}
	return r, nil
}

var (
	_ agent.ThreadStore  = (*SqliteStore)(nil)
	_ agent.MessageStore = (*SqliteStore)(nil)
	_ agent.RunStore     = (*SqliteStore)(nil)
)
