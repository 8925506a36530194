// Package store owns the ordered event log and its cursor for one open
// project. All mutation of a project's design state flows through a single
// EventStore instance: dispatch reduces synchronously so callers observe the
// new snapshot immediately, while durable writes are debounced and strictly
// ordered in the background.
//
// Undo and redo reposition the cursor over the immutable log; history ahead
// of the cursor is discarded only when a new dispatch overwrites it.
package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/h-ibaldo/linebasis-sub003/pkg/design"
	"github.com/h-ibaldo/linebasis-sub003/pkg/observability"
	"github.com/h-ibaldo/linebasis-sub003/pkg/persist"
)

// SaveStatus reflects the persistence state of the open project. It is
// advisory: edits are never blocked by saving.
type SaveStatus string

const (
	StatusSaved   SaveStatus = "saved"
	StatusSaving  SaveStatus = "saving"
	StatusUnsaved SaveStatus = "unsaved"
)

// Subscriber is notified with the new snapshot after every applied change.
type Subscriber func(*design.State)

// Option configures an EventStore.
type Option func(*EventStore)

// WithPersistence attaches a durable store; without one the project is
// in-memory only.
func WithPersistence(db persist.Store) Option {
	return func(s *EventStore) { s.db = db }
}

// WithDebounce sets the quiet period before a durable write.
func WithDebounce(d time.Duration) Option {
	return func(s *EventStore) { s.debounce = d }
}

// WithBackoffPolicy overrides the retry schedule for failed writes.
func WithBackoffPolicy(p persist.BackoffPolicy) Option {
	return func(s *EventStore) { s.backoff = p }
}

// WithComponentSource attaches the component library consulted when a
// component instance is inserted.
func WithComponentSource(src design.ComponentSource) Option {
	return func(s *EventStore) { s.components = src }
}

// WithClock overrides the clock for testing.
func WithClock(clock func() time.Time) Option {
	return func(s *EventStore) { s.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *EventStore) { s.logger = l }
}

// WithObservability attaches telemetry for dispatch/save instrumentation.
func WithObservability(p *observability.Provider) Option {
	return func(s *EventStore) { s.obs = p }
}

// EventStore is the single writer for one project's event log.
type EventStore struct {
	mu         sync.Mutex
	cond       *sync.Cond
	projectID  string
	log        []design.Event
	cursor     int
	state      *design.State
	cache      map[int]*design.State
	subs       []Subscriber
	components design.ComponentSource

	db       persist.Store
	debounce time.Duration
	backoff  persist.BackoffPolicy
	timer    *time.Timer
	saving   bool
	dirty    bool
	attempt  int
	// persisted counts events durably stored; truncFloor is the lowest
	// point the in-memory log was truncated below persisted since the last
	// successful write (-1 when none).
	persisted  int
	truncFloor int
	saveErr    error
	status     SaveStatus

	clock   func() time.Time
	entropy *ulid.MonotonicEntropy
	logger  *slog.Logger
	obs     *observability.Provider
}

// New creates an event store for a project with an empty log.
func New(projectID string, opts ...Option) *EventStore {
	s := &EventStore{
		projectID:  projectID,
		state:      design.NewState(),
		cache:      map[int]*design.State{0: design.NewState()},
		debounce:   750 * time.Millisecond,
		backoff:    persist.DefaultBackoffPolicy(),
		truncFloor: -1,
		status:     StatusSaved,
		clock:      time.Now,
		entropy:    ulid.Monotonic(rand.Reader, 0),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ProjectID returns the id of the open project.
func (s *EventStore) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

// Snapshot returns the current materialized state. It never performs I/O.
func (s *EventStore) Snapshot() *design.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cursor returns the applied-prefix position.
func (s *EventStore) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Log returns a copy of the full event log, including any redo tail.
func (s *EventStore) Log() []design.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]design.Event(nil), s.log...)
}

// CanUndo reports whether the cursor can move back.
func (s *EventStore) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor > 0
}

// CanRedo reports whether a redo tail exists ahead of the cursor.
func (s *EventStore) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor < len(s.log)
}

// Status returns the advisory save status.
func (s *EventStore) Status() SaveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastSaveError returns the error from the most recent exhausted retry
// cycle, or nil.
func (s *EventStore) LastSaveError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveErr
}

// Subscribe registers a subscriber for snapshot notifications.
func (s *EventStore) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Dispatch assigns an id and timestamp to the payload, applies it through
// the reducer, and on success appends it at the cursor (discarding any redo
// tail), schedules a debounced durable write, and notifies subscribers.
//
// On reducer failure the log and cursor are untouched and the error is
// returned; nothing is persisted.
func (s *EventStore) Dispatch(p design.Payload) (design.Event, error) {
	s.mu.Lock()

	if ci, ok := p.(design.ComponentInserted); ok && ci.Subtree.ID == "" {
		resolved, err := s.resolveComponentLocked(ci)
		if err != nil {
			s.mu.Unlock()
			return design.Event{}, err
		}
		p = resolved
	}

	now := s.clock()
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		s.mu.Unlock()
		return design.Event{}, fmt.Errorf("assign event id: %w", err)
	}
	ev := design.Event{
		ID:        id,
		Type:      p.PayloadType(),
		Timestamp: now.UTC(),
		Payload:   p,
	}

	next, err := design.Reduce(s.state, ev)
	if err != nil {
		s.mu.Unlock()
		s.obs.RecordDispatchRejected(context.Background(), string(ev.Type))
		return design.Event{}, err
	}

	// Overwrite the redo tail: history ahead of the cursor becomes
	// unreachable and is dropped, in memory and (lazily) in storage.
	if s.cursor < len(s.log) {
		s.log = s.log[:s.cursor]
		for k := range s.cache {
			if k > s.cursor {
				delete(s.cache, k)
			}
		}
		if s.cursor < s.persisted && (s.truncFloor < 0 || s.cursor < s.truncFloor) {
			s.truncFloor = s.cursor
		}
	}

	s.log = append(s.log, ev)
	s.cursor++
	s.state = next
	s.cache[s.cursor] = next
	s.markUnsavedLocked()
	subs, snap := s.notifyArgsLocked()
	s.mu.Unlock()

	s.obs.RecordDispatch(context.Background(), string(ev.Type))
	notify(subs, snap)
	return ev, nil
}

// Undo moves the cursor back one event. It reports whether the cursor
// moved; at the log start it is a no-op.
func (s *EventStore) Undo() bool {
	s.mu.Lock()
	if s.cursor == 0 {
		s.mu.Unlock()
		return false
	}
	target := s.cursor - 1
	snap, err := s.snapshotAtLocked(target)
	if err != nil {
		s.logger.Error("undo replay failed", "project", s.projectID, "cursor", target, "error", err)
		s.mu.Unlock()
		return false
	}
	s.cursor = target
	s.state = snap
	s.markUnsavedLocked()
	subs, snap2 := s.notifyArgsLocked()
	s.mu.Unlock()

	notify(subs, snap2)
	return true
}

// Redo moves the cursor forward one event. It reports whether the cursor
// moved; with no redo tail it is a no-op.
func (s *EventStore) Redo() bool {
	s.mu.Lock()
	if s.cursor >= len(s.log) {
		s.mu.Unlock()
		return false
	}
	target := s.cursor + 1
	snap, err := s.snapshotAtLocked(target)
	if err != nil {
		s.logger.Error("redo replay failed", "project", s.projectID, "cursor", target, "error", err)
		s.mu.Unlock()
		return false
	}
	s.cursor = target
	s.state = snap
	s.markUnsavedLocked()
	subs, snap2 := s.notifyArgsLocked()
	s.mu.Unlock()

	notify(subs, snap2)
	return true
}

// LoadProject replaces the store's contents with the stored log for id,
// sets the cursor to the log end, and replays the full log.
func (s *EventStore) LoadProject(ctx context.Context, id string) error {
	if s.db == nil {
		return fmt.Errorf("load project %s: no persistence configured", id)
	}
	events, err := s.db.ReadEvents(ctx, id)
	if err != nil {
		return fmt.Errorf("load project %s: %w", id, err)
	}
	state, err := design.Replay(events)
	if err != nil {
		return fmt.Errorf("load project %s: %w", id, err)
	}

	s.mu.Lock()
	s.projectID = id
	s.log = events
	s.cursor = len(events)
	s.state = state
	s.cache = map[int]*design.State{0: design.NewState(), len(events): state}
	s.persisted = len(events)
	s.truncFloor = -1
	s.attempt = 0
	s.dirty = false
	s.saveErr = nil
	s.status = StatusSaved
	subs, snap := s.notifyArgsLocked()
	s.mu.Unlock()

	notify(subs, snap)
	return nil
}

// CloseFlush stops the debounce timer, waits out any in-flight write, and
// synchronously writes everything still pending. Call at session end.
func (s *EventStore) CloseFlush(ctx context.Context) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	for {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		if s.saving {
			s.cond.Wait()
			s.mu.Unlock()
			continue
		}
		clean := s.persisted == len(s.log) && s.truncFloor < 0 && s.status == StatusSaved
		s.mu.Unlock()
		if clean {
			return nil
		}
		if err := s.writeOnce(ctx); err != nil {
			s.mu.Lock()
			if s.timer != nil {
				s.timer.Stop()
				s.timer = nil
			}
			s.mu.Unlock()
			return err
		}
	}
}

// snapshotAtLocked returns the snapshot for a cursor position, replaying
// the prefix when it is not cached. The cache is invalidated forward of any
// dispatch, so cached entries are always consistent with the log.
func (s *EventStore) snapshotAtLocked(k int) (*design.State, error) {
	if snap, ok := s.cache[k]; ok {
		return snap, nil
	}
	snap, err := design.ReplayPrefix(s.log, k)
	if err != nil {
		return nil, err
	}
	s.cache[k] = snap
	return snap, nil
}

func (s *EventStore) resolveComponentLocked(ci design.ComponentInserted) (design.ComponentInserted, error) {
	if s.components == nil {
		return ci, fmt.Errorf("component %s: no component source configured", ci.ComponentID)
	}
	spec, version, err := s.components.ResolveComponent(ci.ComponentID, ci.Version)
	if err != nil {
		return ci, fmt.Errorf("resolve component %s: %w", ci.ComponentID, err)
	}
	assignSpecIDs(&spec)
	ci.Subtree = spec
	ci.Version = version
	return ci, nil
}

// assignSpecIDs gives every node in a resolved subtree a fresh id. The ids
// travel in the event payload, so replay never regenerates them.
func assignSpecIDs(spec *design.ElementSpec) {
	spec.ID = uuid.NewString()
	for i := range spec.Children {
		assignSpecIDs(&spec.Children[i])
	}
}

func (s *EventStore) markUnsavedLocked() {
	if s.db == nil {
		return
	}
	// The retry budget and saveErr are cleared only by a successful write:
	// editing through a failing backend must still exhaust retries and
	// surface the error.
	s.status = StatusUnsaved
	if s.saving {
		s.dirty = true
		return
	}
	s.scheduleLocked(s.debounce)
}

func (s *EventStore) scheduleLocked(delay time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, func() {
		_ = s.writeOnce(context.Background())
	})
}

// writeOnce performs one durable write cycle: truncate any overwritten redo
// tail, append everything not yet stored, and record the cursor. A failure
// leaves the in-memory log and cursor untouched and schedules a retry; the
// next successful write carries everything accumulated since the last one.
func (s *EventStore) writeOnce(ctx context.Context) error {
	s.mu.Lock()
	if s.db == nil || s.saving {
		s.dirty = s.dirty || s.saving
		s.mu.Unlock()
		return nil
	}
	s.saving = true
	s.status = StatusSaving
	projectID := s.projectID
	trunc := s.truncFloor
	start := s.persisted
	if trunc >= 0 && trunc < start {
		start = trunc
	}
	if start > len(s.log) {
		start = len(s.log)
	}
	batch := append([]design.Event(nil), s.log[start:]...)
	cursor := s.cursor
	now := s.clock()
	db := s.db
	attempt := s.attempt
	s.mu.Unlock()

	var err error
	if trunc >= 0 {
		err = db.TruncateEvents(ctx, projectID, trunc)
	}
	if err == nil {
		err = db.AppendEvents(ctx, projectID, start, batch, now)
	}
	if err == nil {
		err = db.SaveCursor(ctx, projectID, cursor, now)
	}
	s.obs.RecordSave(ctx, err)

	s.mu.Lock()
	s.saving = false
	s.cond.Broadcast()
	if err != nil {
		s.status = StatusUnsaved
		s.attempt = attempt + 1
		if s.attempt >= s.backoff.MaxAttempts {
			// Retries exhausted: keep edits in memory, surface the error,
			// and try again on the next edit.
			s.saveErr = err
			s.logger.Error("save failed, retries exhausted",
				"project", projectID, "attempts", s.attempt, "error", err)
			s.mu.Unlock()
			return err
		}
		delay := persist.Backoff(projectID, s.attempt, s.backoff)
		s.logger.Warn("save failed, will retry",
			"project", projectID, "attempt", s.attempt, "retry_in", delay, "error", err)
		s.scheduleLocked(delay)
		s.mu.Unlock()
		return err
	}

	s.attempt = 0
	s.saveErr = nil
	s.persisted = start + len(batch)
	if s.truncFloor == trunc {
		s.truncFloor = -1
	}
	if s.dirty {
		s.dirty = false
		s.status = StatusUnsaved
		s.scheduleLocked(s.debounce)
	} else {
		s.status = StatusSaved
	}
	s.mu.Unlock()
	return nil
}

func (s *EventStore) notifyArgsLocked() ([]Subscriber, *design.State) {
	subs := append([]Subscriber(nil), s.subs...)
	return subs, s.state
}

func notify(subs []Subscriber, snap *design.State) {
	for _, fn := range subs {
		fn(snap)
	}
}
