package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/h-ibaldo/linebasis-sub003/pkg/design"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default embedded persistence adapter.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates the
// schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap("open", err)
	}
	// The event store is single-writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return NewSQLiteStoreFromDB(db)
}

// NewSQLiteStoreFromDB wraps an existing handle, migrating the schema.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS projects (
		project_id TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		cursor     INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS events (
		project_id TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		event_id   TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (project_id, seq)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return wrap("migrate", err)
}

func (s *SQLiteStore) CreateProject(ctx context.Context, id, name string, now time.Time) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE project_id = ?`, id).Scan(&exists)
	if err != nil {
		return wrap("create", err)
	}
	if exists > 0 {
		return wrap("create", fmt.Errorf("%w: %s", ErrProjectExists, id))
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (project_id, name, cursor, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
		id, name, now.UTC(), now.UTC())
	return wrap("create", err)
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]ProjectMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.project_id, p.name, p.cursor, p.created_at, p.updated_at,
		       (SELECT COUNT(*) FROM events e WHERE e.project_id = p.project_id)
		FROM projects p
		ORDER BY p.updated_at DESC`)
	if err != nil {
		return nil, wrap("list", err)
	}
	defer func() { _ = rows.Close() }()

	var metas []ProjectMeta
	for rows.Next() {
		var m ProjectMeta
		if err := rows.Scan(&m.ID, &m.Name, &m.Cursor, &m.CreatedAt, &m.UpdatedAt, &m.EventCount); err != nil {
			return nil, wrap("list", err)
		}
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list", err)
	}
	return metas, nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*ProjectMeta, error) {
	var m ProjectMeta
	err := s.db.QueryRowContext(ctx, `
		SELECT p.project_id, p.name, p.cursor, p.created_at, p.updated_at,
		       (SELECT COUNT(*) FROM events e WHERE e.project_id = p.project_id)
		FROM projects p WHERE p.project_id = ?`, id).
		Scan(&m.ID, &m.Name, &m.Cursor, &m.CreatedAt, &m.UpdatedAt, &m.EventCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrap("get", fmt.Errorf("%w: %s", ErrProjectNotFound, id))
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	return &m, nil
}

func (s *SQLiteStore) AppendEvents(ctx context.Context, projectID string, startSeq int, events []design.Event, now time.Time) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("append", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return wrap("append", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (project_id, seq, event_id, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			projectID, startSeq+i, ev.ID.String(), string(ev.Type), string(payload), ev.Timestamp.UTC()); err != nil {
			return wrap("append", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE projects SET updated_at = ? WHERE project_id = ?`, now.UTC(), projectID); err != nil {
		return wrap("append", err)
	}
	return wrap("append", tx.Commit())
}

func (s *SQLiteStore) TruncateEvents(ctx context.Context, projectID string, keep int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE project_id = ? AND seq >= ?`, projectID, keep)
	return wrap("truncate", err)
}

func (s *SQLiteStore) ReadEvents(ctx context.Context, projectID string) ([]design.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE project_id = ? ORDER BY seq ASC`, projectID)
	if err != nil {
		return nil, wrap("read", err)
	}
	defer func() { _ = rows.Close() }()

	var events []design.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, wrap("read", err)
		}
		var ev design.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, wrap("read", fmt.Errorf("decode event %d: %w", len(events), err))
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("read", err)
	}
	return events, nil
}

func (s *SQLiteStore) SaveCursor(ctx context.Context, projectID string, cursor int, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET cursor = ?, updated_at = ? WHERE project_id = ?`,
		cursor, now.UTC(), projectID)
	if err != nil {
		return wrap("cursor", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return wrap("cursor", fmt.Errorf("%w: %s", ErrProjectNotFound, projectID))
	}
	return nil
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE project_id = ?`, projectID); err != nil {
		return wrap("delete", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE project_id = ?`, projectID); err != nil {
		return wrap("delete", err)
	}
	return wrap("delete", tx.Commit())
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
