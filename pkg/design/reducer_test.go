package design

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h-ibaldo/linebasis-sub003/pkg/baseline"
)

var testEntropy = ulid.Monotonic(zeroReader{}, 0)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func ev(t *testing.T, p Payload) Event {
	t.Helper()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return Event{
		ID:        ulid.MustNew(ulid.Timestamp(ts), testEntropy),
		Type:      p.PayloadType(),
		Timestamp: ts,
		Payload:   p,
	}
}

func mustReduce(t *testing.T, s *State, p Payload) *State {
	t.Helper()
	next, err := Reduce(s, ev(t, p))
	require.NoError(t, err)
	return next
}

func stateWithArtboard(t *testing.T, cfg baseline.Config) *State {
	t.Helper()
	return mustReduce(t, nil, ArtboardAdded{
		ArtboardID: "ab-1",
		Name:       "Home",
		Width:      1440,
		Height:     1024,
		Baseline:   cfg,
	})
}

func TestCreateSnapsYToBaseline(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: true})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "el-1", Kind: KindText, Y: 101, Width: 200, Height: 24},
	})

	el := s.Elements["el-1"]
	require.NotNil(t, el)
	assert.Equal(t, 104.0, el.Y)
	assert.Equal(t, 24.0, el.Height)
	assert.Equal(t, []string{"el-1"}, s.Artboards["ab-1"].Children)
}

func TestCreateWithoutSnappingKeepsGeometry(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: false})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "el-1", Kind: KindText, Y: 101, Width: 200, Height: 23},
	})
	assert.Equal(t, 101.0, s.Elements["el-1"].Y)
	assert.Equal(t, 23.0, s.Elements["el-1"].Height)
}

func TestReduceLeavesInputStateUntouched(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: true})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "el-1", Kind: KindText, Y: 104, Width: 200, Height: 24},
	})

	before, err := s.Hash()
	require.NoError(t, err)

	_ = mustReduce(t, s, ElementMoved{ElementID: "el-1", DY: 40})

	after, err := s.Hash()
	require.NoError(t, err)
	assert.Equal(t, before, after, "input snapshot must be immutable")
}

func TestMoveSnapsAfterDelta(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: true})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "el-1", Kind: KindText, Y: 96, Width: 200, Height: 24},
	})
	s = mustReduce(t, s, ElementMoved{ElementID: "el-1", DX: 3, DY: 5})

	el := s.Elements["el-1"]
	assert.Equal(t, 3.0, el.X, "horizontal position is not grid-governed")
	assert.Equal(t, 104.0, el.Y)
}

func TestResizeSnapsHeight(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: true})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "el-1", Kind: KindText, Width: 200, Height: 24},
	})
	s = mustReduce(t, s, ElementResized{ElementID: "el-1", Width: 301, Height: 45})

	el := s.Elements["el-1"]
	assert.Equal(t, 301.0, el.Width)
	assert.Equal(t, 48.0, el.Height)
}

func TestResizeNeverCollapsesToZero(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: true})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "el-1", Kind: KindText, Width: 200, Height: 24},
	})
	s = mustReduce(t, s, ElementResized{ElementID: "el-1", Width: 200, Height: 2})
	assert.Equal(t, 8.0, s.Elements["el-1"].Height)
}

func TestResizeRejectsNonPositiveSize(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: true})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "el-1", Kind: KindText, Width: 200, Height: 24},
	})
	_, err := Reduce(s, ev(t, ElementResized{ElementID: "el-1", Width: 0, Height: 24}))
	var invalidErr *InvalidEventError
	require.ErrorAs(t, err, &invalidErr)
}

func TestDeleteCascadesToDescendants(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: false})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec: ElementSpec{
			ID: "root", Kind: KindContainer, Width: 400, Height: 400,
			Children: []ElementSpec{
				{ID: "child", Kind: KindContainer, Width: 100, Height: 100,
					Children: []ElementSpec{{ID: "leaf", Kind: KindText, Width: 80, Height: 16}}},
			},
		},
	})
	require.Len(t, s.Elements, 3)

	s = mustReduce(t, s, ElementDeleted{ElementID: "root"})
	assert.Empty(t, s.Elements)
	assert.Empty(t, s.Artboards["ab-1"].Children)
}

func TestGroupingRejectsUnknownMember(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: false})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "el-1", Kind: KindText, Width: 100, Height: 16},
	})

	before, err := s.Hash()
	require.NoError(t, err)

	_, rerr := Reduce(s, ev(t, ElementsGrouped{GroupID: "g-1", ElementIDs: []string{"el-1", "ghost"}}))
	var invalidErr *InvalidEventError
	require.ErrorAs(t, rerr, &invalidErr)
	assert.Contains(t, invalidErr.Reason, "ghost")

	after, err := s.Hash()
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed dispatch must leave state untouched")
}

func TestGroupAndUngroupRoundTrip(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: false})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "a", Kind: KindText, X: 10, Y: 8, Width: 100, Height: 16},
	})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "b", Kind: KindText, X: 40, Y: 48, Width: 60, Height: 16},
	})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "c", Kind: KindText, X: 0, Y: 96, Width: 20, Height: 16},
	})

	s = mustReduce(t, s, ElementsGrouped{GroupID: "g", ElementIDs: []string{"a", "b"}})
	group := s.Elements["g"]
	require.NotNil(t, group)
	assert.Equal(t, KindGroup, group.Kind)
	assert.Equal(t, []string{"a", "b"}, group.Children)
	assert.Equal(t, []string{"g", "c"}, s.Artboards["ab-1"].Children)
	assert.Equal(t, "g", s.Elements["a"].ParentID)

	// Bounding box covers both members.
	assert.Equal(t, 10.0, group.X)
	assert.Equal(t, 8.0, group.Y)
	assert.Equal(t, 100.0, group.Width)
	assert.Equal(t, 56.0, group.Height)

	s = mustReduce(t, s, ElementsUngrouped{GroupID: "g"})
	assert.Nil(t, s.Elements["g"])
	assert.Equal(t, []string{"a", "b", "c"}, s.Artboards["ab-1"].Children)
	assert.Equal(t, "", s.Elements["a"].ParentID)
}

func TestReorderWithinSiblings(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: false})
	for _, id := range []string{"a", "b", "c"} {
		s = mustReduce(t, s, ElementCreated{
			ArtboardID: "ab-1",
			Spec:       ElementSpec{ID: id, Kind: KindText, Width: 10, Height: 16},
		})
	}
	s = mustReduce(t, s, ElementReordered{ElementID: "c", NewIndex: 0})
	assert.Equal(t, []string{"c", "a", "b"}, s.Artboards["ab-1"].Children)

	_, err := Reduce(s, ev(t, ElementReordered{ElementID: "c", NewIndex: 3}))
	var invalidErr *InvalidEventError
	require.ErrorAs(t, err, &invalidErr)
}

func TestBaselineConfigChangeResnapsArtboard(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: false})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "el-1", Kind: KindText, Y: 101, Width: 100, Height: 21},
	})
	off := false
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "el-2", Kind: KindText, Y: 55, Width: 100, Height: 21},
	})
	s = mustReduce(t, s, ElementSnapOverrideSet{ElementID: "el-2", Snap: &off})

	s = mustReduce(t, s, BaselineConfigChanged{
		ArtboardID: "ab-1",
		Config:     baseline.Config{Height: 8, SnapEnabled: true},
	})

	assert.Equal(t, 104.0, s.Elements["el-1"].Y)
	assert.Equal(t, 24.0, s.Elements["el-1"].Height)
	// el-2 overrides snapping off and keeps its geometry.
	assert.Equal(t, 55.0, s.Elements["el-2"].Y)
	assert.Equal(t, 21.0, s.Elements["el-2"].Height)
}

func TestBaselineConfigChangeRejectsOutOfRange(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: true})
	_, err := Reduce(s, ev(t, BaselineConfigChanged{
		ArtboardID: "ab-1",
		Config:     baseline.Config{Height: 3, SnapEnabled: true},
	}))
	var invalidErr *InvalidEventError
	require.ErrorAs(t, err, &invalidErr)
}

func TestSnapOverrideEnableResnapsImmediately(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: false})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "el-1", Kind: KindText, Y: 101, Width: 100, Height: 24},
	})
	on := true
	s = mustReduce(t, s, ElementSnapOverrideSet{ElementID: "el-1", Snap: &on})
	assert.Equal(t, 104.0, s.Elements["el-1"].Y)
}

func TestPropertyUpdateAndRemove(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: false})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "el-1", Kind: KindText, Width: 100, Height: 16},
	})
	s = mustReduce(t, s, PropertyUpdated{ElementID: "el-1", Key: "color", Value: "#222222"})
	assert.Equal(t, "#222222", s.Elements["el-1"].Style["color"])

	s = mustReduce(t, s, PropertyRemoved{ElementID: "el-1", Key: "color"})
	_, ok := s.Elements["el-1"].Style["color"]
	assert.False(t, ok)

	_, err := Reduce(s, ev(t, PropertyUpdated{ElementID: "ghost", Key: "color", Value: "red"}))
	var invalidErr *InvalidEventError
	require.ErrorAs(t, err, &invalidErr)
}

func TestComponentInsertionOffsetsSubtree(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: true})
	s = mustReduce(t, s, ComponentInserted{
		ComponentID: "hero",
		Version:     "1.0.0",
		ArtboardID:  "ab-1",
		X:           100,
		Y:           50,
		Subtree: ElementSpec{
			ID: "cmp-root", Kind: KindContainer, Width: 400, Height: 160,
			Children: []ElementSpec{
				{ID: "cmp-title", Kind: KindHeading, X: 16, Y: 16, Width: 200, Height: 32},
			},
		},
	})

	root := s.Elements["cmp-root"]
	require.NotNil(t, root)
	assert.Equal(t, 100.0, root.X)
	assert.Equal(t, 48.0, root.Y, "insertion point snaps to the grid")

	title := s.Elements["cmp-title"]
	require.NotNil(t, title)
	assert.Equal(t, "cmp-root", title.ParentID)
	assert.Equal(t, 116.0, title.X)
	assert.Equal(t, 64.0, title.Y)
}

func TestArtboardRemovalDeletesItsElements(t *testing.T) {
	s := stateWithArtboard(t, baseline.Config{Height: 8, SnapEnabled: false})
	s = mustReduce(t, s, ElementCreated{
		ArtboardID: "ab-1",
		Spec:       ElementSpec{ID: "el-1", Kind: KindText, Width: 10, Height: 16},
	})
	s = mustReduce(t, s, ArtboardRemoved{ArtboardID: "ab-1"})
	assert.Empty(t, s.Artboards)
	assert.Empty(t, s.Elements)
	assert.Empty(t, s.ArtboardOrder)
}

func TestReplayPrefixDeterminism(t *testing.T) {
	events := []Event{
		ev(t, ArtboardAdded{ArtboardID: "ab-1", Name: "Home", Width: 1440, Height: 1024,
			Baseline: baseline.Config{Height: 8, SnapEnabled: true}}),
		ev(t, ElementCreated{ArtboardID: "ab-1",
			Spec: ElementSpec{ID: "el-1", Kind: KindText, Y: 101, Width: 200, Height: 24}}),
		ev(t, ElementMoved{ElementID: "el-1", DX: 10, DY: 30}),
	}

	for k := 0; k <= len(events); k++ {
		a, err := ReplayPrefix(events, k)
		require.NoError(t, err)
		b, err := ReplayPrefix(events, k)
		require.NoError(t, err)

		ha, err := a.Hash()
		require.NoError(t, err)
		hb, err := b.Hash()
		require.NoError(t, err)
		assert.Equal(t, ha, hb, "prefix %d", k)
	}
}
