package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/hivemindctl/hivemind/pkg/models"
)

// Config holds connection settings for SQLStore, grounded on the teacher's
// internal/sessions.CockroachConfig.
type Config struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// DefaultConfig returns connection settings for a local Postgres-compatible
// instance (CockroachDB or plain Postgres; lib/pq speaks the wire protocol
// either way).
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "hivemind",
		Database:        "hivemind",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQLStore is the durable Store backed by a SQL database (spec section 6.3,
// section 11's domain-stack wiring). Schema (expected to already exist;
// this package does not run migrations):
//
//	CREATE TABLE events (id SERIAL PRIMARY KEY, type TEXT, agent_id TEXT,
//	  correlation_id TEXT, data JSONB, created_at TIMESTAMPTZ);
//	CREATE TABLE messages (id SERIAL PRIMARY KEY, agent_id TEXT, role TEXT,
//	  content TEXT, payload JSONB, created_at TIMESTAMPTZ);
//	CREATE TABLE sessions (id TEXT PRIMARY KEY, snapshot JSONB,
//	  updated_at TIMESTAMPTZ);
type SQLStore struct {
	db *sql.DB

	stmtSaveEvent   *sql.Stmt
	stmtSaveMessage *sql.Stmt
	stmtLoadSession *sql.Stmt
	stmtSaveSession *sql.Stmt
}

// Open connects to the database described by cfg and prepares every
// statement SQLStore uses.
func Open(ctx context.Context, cfg Config) (*SQLStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		int(cfg.ConnectTimeout.Seconds()),
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: pinging database: %w", err)
	}

	return newSQLStore(db)
}

// newSQLStore wraps an already-open *sql.DB (used directly by tests against
// a sqlmock connection, bypassing Open's dial/ping).
func newSQLStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	var err error

	s.stmtSaveEvent, err = db.Prepare(`
		INSERT INTO events (type, agent_id, correlation_id, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return nil, fmt.Errorf("persistence: preparing save event: %w", err)
	}

	s.stmtSaveMessage, err = db.Prepare(`
		INSERT INTO messages (agent_id, role, content, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return nil, fmt.Errorf("persistence: preparing save message: %w", err)
	}

	s.stmtLoadSession, err = db.Prepare(`
		SELECT snapshot, updated_at FROM sessions WHERE id = $1
	`)
	if err != nil {
		return nil, fmt.Errorf("persistence: preparing load session: %w", err)
	}

	s.stmtSaveSession, err = db.Prepare(`
		INSERT INTO sessions (id, snapshot, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET snapshot = $2, updated_at = $3
	`)
	if err != nil {
		return nil, fmt.Errorf("persistence: preparing save session: %w", err)
	}

	return s, nil
}

func (s *SQLStore) SaveEvent(ctx context.Context, event models.AgentEvent) error {
	_, err := s.stmtSaveEvent.ExecContext(ctx,
		string(event.Type), event.AgentID, event.CorrelationID, []byte(event.Data), event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("persistence: saving event: %w", err)
	}
	return nil
}

func (s *SQLStore) SaveMessage(ctx context.Context, agentID string, msg models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("persistence: marshaling message: %w", err)
	}
	_, err = s.stmtSaveMessage.ExecContext(ctx, agentID, string(msg.Role), msg.Content, payload, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("persistence: saving message: %w", err)
	}
	return nil
}

func (s *SQLStore) LoadSession(ctx context.Context, id string) (*Snapshot, error) {
	var (
		raw       []byte
		updatedAt time.Time
	)
	err := s.stmtLoadSession.QueryRowContext(ctx, id).Scan(&raw, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: loading session: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("persistence: unmarshaling snapshot: %w", err)
	}
	snap.ID = id
	snap.UpdatedAt = updatedAt
	return &snap, nil
}

func (s *SQLStore) SaveSession(ctx context.Context, id string, snapshot *Snapshot) error {
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now()
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("persistence: marshaling snapshot: %w", err)
	}
	_, err = s.stmtSaveSession.ExecContext(ctx, id, raw, snapshot.UpdatedAt)
	if err != nil {
		return fmt.Errorf("persistence: saving session: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtSaveEvent, s.stmtSaveMessage, s.stmtLoadSession, s.stmtSaveSession} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
