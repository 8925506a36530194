// Package persist implements durable per-project storage of event logs and
// project metadata. Two implementations share one interface: SQLite (default,
// embedded) and Postgres. The event log is stored append-only per project;
// undo history is expressed through the cursor, so rows are removed only when
// a dispatch after undo overwrites the redo tail.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/h-ibaldo/linebasis-sub003/pkg/design"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrProjectExists   = errors.New("project already exists")
)

// PersistenceError wraps a durable read/write failure. Callers recover
// locally via retry; the error surfaces to the user only when retries
// exhaust.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// ProjectMeta is the metadata row for a stored project.
type ProjectMeta struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Cursor     int       `json:"cursor"`
	EventCount int       `json:"event_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store is the durable persistence boundary. Events are keyed by
// (project_id, seq) with seq matching the event's position in the log.
type Store interface {
	// CreateProject inserts a new project with an empty log.
	CreateProject(ctx context.Context, id, name string, now time.Time) error

	// ListProjects returns metadata for every stored project, newest first.
	ListProjects(ctx context.Context) ([]ProjectMeta, error)

	// GetProject returns metadata for one project.
	GetProject(ctx context.Context, id string) (*ProjectMeta, error)

	// AppendEvents writes a batch of events starting at startSeq and bumps
	// the project's updated_at. The write is transactional: either the whole
	// batch lands or none of it does.
	AppendEvents(ctx context.Context, projectID string, startSeq int, events []design.Event, now time.Time) error

	// TruncateEvents removes every event with seq >= keep. Used when a
	// dispatch after undo overwrites the redo tail.
	TruncateEvents(ctx context.Context, projectID string, keep int) error

	// ReadEvents returns the full ordered log for a project.
	ReadEvents(ctx context.Context, projectID string) ([]design.Event, error)

	// SaveCursor records the project's current cursor position.
	SaveCursor(ctx context.Context, projectID string, cursor int, now time.Time) error

	// DeleteProject removes the project and its entire log.
	DeleteProject(ctx context.Context, projectID string) error

	// Close releases the underlying database handle.
	Close() error
}
