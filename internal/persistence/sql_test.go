package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hivemindctl/hivemind/pkg/models"
)

func setupMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := &SQLStore{db: db}
	store.stmtSaveEvent = mustPrepare(t, db, `INSERT INTO events`)
	store.stmtSaveMessage = mustPrepare(t, db, `INSERT INTO messages`)
	store.stmtLoadSession = mustPrepare(t, db, `SELECT snapshot, updated_at FROM sessions`)
	store.stmtSaveSession = mustPrepare(t, db, `INSERT INTO sessions`)
	return store, mock
}

func mustPrepare(t *testing.T, db *sql.DB, query string) *sql.Stmt {
	t.Helper()
	stmt, err := db.Prepare(query)
	if err != nil {
		t.Fatalf("Prepare(%q): %v", query, err)
	}
	return stmt
}

func TestSQLStore_SaveEvent(t *testing.T) {
	store, mock := setupMockStore(t)

	event := models.AgentEvent{
		Type:      models.EventPlanCreated,
		AgentID:   "admin-1",
		Timestamp: time.Now(),
		Data:      []byte(`{"pm_agent_id":"pm-1"}`),
	}

	mock.ExpectExec("INSERT INTO events").
		WithArgs(string(event.Type), event.AgentID, event.CorrelationID, []byte(event.Data), event.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.SaveEvent(context.Background(), event); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_SaveMessage(t *testing.T) {
	store, mock := setupMockStore(t)

	msg := models.Message{Role: models.RoleUser, Content: "hi", CreatedAt: time.Now()}

	mock.ExpectExec("INSERT INTO messages").
		WithArgs("admin-1", string(msg.Role), msg.Content, sqlmock.AnyArg(), msg.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.SaveMessage(context.Background(), "admin-1", msg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_SaveThenLoadSession(t *testing.T) {
	store, mock := setupMockStore(t)

	now := time.Now()
	snapshot := &Snapshot{Agents: map[string]models.Agent{
		"admin-1": {ID: "admin-1", Role: models.RoleAdmin, State: "Conversation"},
	}}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("session-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.SaveSession(context.Background(), "session-1", snapshot); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	raw := `{"id":"session-1","agents":{"admin-1":{"id":"admin-1","role":"admin","state":"Conversation","status":"","history":null,"metrics":{"cycles":0,"errors":0,"last_cycle_time":0},"model":"","provider":"","created_at":"0001-01-01T00:00:00Z"}},"updated_at":"` + now.Format(time.RFC3339Nano) + `"}`
	rows := sqlmock.NewRows([]string{"snapshot", "updated_at"}).AddRow(raw, now)
	mock.ExpectQuery("SELECT snapshot, updated_at FROM sessions").WithArgs("session-1").WillReturnRows(rows)

	loaded, err := store.LoadSession(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded.ID != "session-1" {
		t.Fatalf("loaded.ID = %q, want %q", loaded.ID, "session-1")
	}
	if ag, ok := loaded.Agents["admin-1"]; !ok || ag.Role != models.RoleAdmin {
		t.Fatalf("expected admin-1 to round-trip as RoleAdmin, got %+v", loaded.Agents)
	}
}

func TestSQLStore_LoadSession_NotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery("SELECT snapshot, updated_at FROM sessions").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.LoadSession(context.Background(), "missing")
	if err != ErrSessionNotFound {
		t.Fatalf("err = %v, want %v", err, ErrSessionNotFound)
	}
}
