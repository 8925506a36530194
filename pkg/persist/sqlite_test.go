package persist

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h-ibaldo/linebasis-sub003/pkg/baseline"
	"github.com/h-ibaldo/linebasis-sub003/pkg/design"
)

func testEvents(t *testing.T, n int) []design.Event {
	t.Helper()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entropy := ulid.Monotonic(seqReader{}, 0)
	events := make([]design.Event, 0, n)

	events = append(events, design.Event{
		ID:        ulid.MustNew(ulid.Timestamp(ts), entropy),
		Type:      design.TypeArtboardAdded,
		Timestamp: ts,
		Payload: design.ArtboardAdded{
			ArtboardID: "ab-1", Name: "Home", Width: 1440, Height: 1024,
			Baseline: baseline.Config{Height: 8, SnapEnabled: true},
		},
	})
	for len(events) < n {
		events = append(events, design.Event{
			ID:        ulid.MustNew(ulid.Timestamp(ts), entropy),
			Type:      design.TypeElementMoved,
			Timestamp: ts,
			Payload:   design.ElementMoved{ElementID: "el-1", DX: 1, DY: 2},
		})
	}
	return events[:n]
}

type seqReader struct{}

func (seqReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(i)
	}
	return len(p), nil
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteProjectLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateProject(ctx, "p-1", "Landing Page", now))

	err := s.CreateProject(ctx, "p-1", "Duplicate", now)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProjectExists)

	meta, err := s.GetProject(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Landing Page", meta.Name)
	assert.Equal(t, 0, meta.EventCount)

	metas, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)

	require.NoError(t, s.DeleteProject(ctx, "p-1"))
	_, err = s.GetProject(ctx, "p-1")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestSQLiteAppendAndReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateProject(ctx, "p-1", "Landing Page", now))

	events := testEvents(t, 5)
	require.NoError(t, s.AppendEvents(ctx, "p-1", 0, events[:3], now))
	require.NoError(t, s.AppendEvents(ctx, "p-1", 3, events[3:], now.Add(time.Second)))

	got, err := s.ReadEvents(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := range events {
		assert.Equal(t, events[i].ID, got[i].ID)
		assert.Equal(t, events[i].Type, got[i].Type)
		assert.Equal(t, events[i].Payload, got[i].Payload)
	}

	meta, err := s.GetProject(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 5, meta.EventCount)
}

func TestSQLiteTruncateDropsRedoTail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateProject(ctx, "p-1", "Landing Page", now))
	require.NoError(t, s.AppendEvents(ctx, "p-1", 0, testEvents(t, 5), now))

	require.NoError(t, s.TruncateEvents(ctx, "p-1", 3))

	got, err := s.ReadEvents(ctx, "p-1")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSQLiteSaveCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateProject(ctx, "p-1", "Landing Page", now))
	require.NoError(t, s.SaveCursor(ctx, "p-1", 4, now))

	meta, err := s.GetProject(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 4, meta.Cursor)

	err = s.SaveCursor(ctx, "ghost", 1, now)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := BackoffPolicy{Base: 100 * time.Millisecond, Max: time.Second, MaxJitter: 0, MaxAttempts: 8}

	assert.Equal(t, 100*time.Millisecond, Backoff("p-1", 0, p))
	assert.Equal(t, 200*time.Millisecond, Backoff("p-1", 1, p))
	assert.Equal(t, 400*time.Millisecond, Backoff("p-1", 2, p))
	assert.Equal(t, time.Second, Backoff("p-1", 10, p))
	assert.Equal(t, time.Second, Backoff("p-1", 63, p))
}

func TestBackoffJitterIsDeterministic(t *testing.T) {
	p := DefaultBackoffPolicy()
	a := Backoff("p-1", 3, p)
	b := Backoff("p-1", 3, p)
	assert.Equal(t, a, b)

	other := Backoff("p-2", 3, p)
	// Different projects very likely jitter differently; both stay bounded.
	assert.LessOrEqual(t, a, p.Base*8+p.MaxJitter)
	assert.LessOrEqual(t, other, p.Base*8+p.MaxJitter)
}
