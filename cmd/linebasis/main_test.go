package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h-ibaldo/linebasis-sub003/pkg/baseline"
	"github.com/h-ibaldo/linebasis-sub003/pkg/design"
	"github.com/h-ibaldo/linebasis-sub003/pkg/persist"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func useTempDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linebasis.db")
	t.Setenv("LINEBASIS_DB", path)
	return path
}

func seedProject(t *testing.T, name string) string {
	t.Helper()
	db, err := persist.NewSQLiteStore(os.Getenv("LINEBASIS_DB"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	projectID := "11111111-1111-1111-1111-111111111111"
	require.NoError(t, db.CreateProject(ctx, projectID, name, now))

	events := []design.Event{
		{
			ID:        ulid.Make(),
			Type:      design.TypeArtboardAdded,
			Timestamp: now,
			Payload: design.ArtboardAdded{
				ArtboardID: "ab", Name: "Home", Width: 1440, Height: 1024,
				Baseline: baseline.Config{Height: 8, SnapEnabled: true},
			},
		},
		{
			ID:        ulid.Make(),
			Type:      design.TypeElementCreated,
			Timestamp: now,
			Payload: design.ElementCreated{
				ArtboardID: "ab",
				Spec: design.ElementSpec{
					ID: "el", Kind: design.KindText,
					X: 16, Y: 101, Width: 288, Height: 48, Text: "Hello",
				},
			},
		},
	}
	require.NoError(t, db.AppendEvents(ctx, projectID, 0, events, now))
	require.NoError(t, db.SaveCursor(ctx, projectID, len(events), now))
	return projectID
}

func TestRunHelp(t *testing.T) {
	code, stdout, _ := run(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Usage: linebasis")
}

func TestRunNoArgs(t *testing.T) {
	code, _, stderr := run(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Usage")
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, stderr := run(t, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "unknown command")
}

func TestProjectsLifecycle(t *testing.T) {
	useTempDB(t)

	code, stdout, stderr := run(t, "projects", "create", "My Site")
	require.Equal(t, 0, code, stderr)
	id := strings.TrimSpace(stdout)
	require.NotEmpty(t, id)

	code, stdout, stderr = run(t, "projects", "list")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, id)
	assert.Contains(t, stdout, "My Site")

	code, _, stderr = run(t, "projects", "delete", id)
	require.Equal(t, 0, code, stderr)

	code, stdout, _ = run(t, "projects", "list")
	require.Equal(t, 0, code)
	assert.NotContains(t, stdout, id)
}

func TestExportWritesBundle(t *testing.T) {
	useTempDB(t)
	projectID := seedProject(t, "Site")
	outDir := filepath.Join(t.TempDir(), "dist")

	code, stdout, stderr := run(t, "export", projectID, "-o", outDir)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "exported 1 page(s)")

	markup, err := os.ReadFile(filepath.Join(outDir, "home.html"))
	require.NoError(t, err)
	assert.Contains(t, string(markup), "Hello")

	styles, err := os.ReadFile(filepath.Join(outDir, "styles.css"))
	require.NoError(t, err)
	// y=101 snaps to 104 on replay and is emitted in baseline units.
	assert.Contains(t, string(styles), "calc(var(--baseline) * 13)")

	manifest, err := os.ReadFile(filepath.Join(outDir, "manifest.json"))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), projectID)
	assert.Contains(t, string(manifest), "home.html")
}

func TestExportUnknownProject(t *testing.T) {
	useTempDB(t)
	code, _, stderr := run(t, "export", "missing")
	assert.Equal(t, 1, code)
	assert.NotEmpty(t, stderr)
}

func TestImportDispatchesLog(t *testing.T) {
	useTempDB(t)
	t.Setenv("LINEBASIS_SAVE_DEBOUNCE_MS", "10")

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := []design.Event{
		{
			ID:        ulid.Make(),
			Type:      design.TypeArtboardAdded,
			Timestamp: now,
			Payload: design.ArtboardAdded{
				ArtboardID: "ab", Name: "Home", Width: 1440, Height: 1024,
				Baseline: baseline.Config{Height: 8, SnapEnabled: true},
			},
		},
		{
			ID:        ulid.Make(),
			Type:      design.TypeElementCreated,
			Timestamp: now,
			Payload: design.ElementCreated{
				ArtboardID: "ab",
				Spec: design.ElementSpec{
					ID: "el", Kind: design.KindText,
					X: 16, Y: 101, Width: 288, Height: 48, Text: "Hello",
				},
			},
		},
	}
	raw, err := json.Marshal(events)
	require.NoError(t, err)
	logPath := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(logPath, raw, 0o644))

	projectID := "22222222-2222-2222-2222-222222222222"
	code, stdout, stderr := run(t, "import", projectID, logPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "imported 2 event(s)")
	assert.Contains(t, stdout, "sha256:")

	code, stdout, stderr = run(t, "replay", projectID)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "2 event(s)")
}

func TestImportResolvesComponents(t *testing.T) {
	useTempDB(t)

	dir := t.TempDir()
	button := `
id: primary-button
name: Primary Button
version: 1.0.0
root:
  kind: button
  width: 160
  height: 48
  text: Click me
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "button.yaml"), []byte(button), 0o644))
	t.Setenv("LINEBASIS_COMPONENTS_DIR", dir)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := []design.Event{
		{
			ID:        ulid.Make(),
			Type:      design.TypeArtboardAdded,
			Timestamp: now,
			Payload: design.ArtboardAdded{
				ArtboardID: "ab", Name: "Home", Width: 1440, Height: 1024,
				Baseline: baseline.Config{Height: 8, SnapEnabled: true},
			},
		},
		{
			// Unresolved insertion: the subtree comes from the library.
			ID:        ulid.Make(),
			Type:      design.TypeComponentInserted,
			Timestamp: now,
			Payload: design.ComponentInserted{
				ComponentID: "primary-button", ArtboardID: "ab", X: 16, Y: 101,
			},
		},
	}
	raw, err := json.Marshal(events)
	require.NoError(t, err)
	logPath := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(logPath, raw, 0o644))

	projectID := "33333333-3333-3333-3333-333333333333"
	code, stdout, stderr := run(t, "import", projectID, logPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "imported 2 event(s)")

	// The stored log carries the resolved subtree, so replay needs no library.
	t.Setenv("LINEBASIS_COMPONENTS_DIR", "")
	code, stdout, stderr = run(t, "replay", projectID)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "2 event(s)")
}

func TestImportRejectsInvalidLog(t *testing.T) {
	useTempDB(t)

	events := []design.Event{
		{
			ID:        ulid.Make(),
			Type:      design.TypeElementCreated,
			Timestamp: time.Now().UTC(),
			Payload: design.ElementCreated{
				ArtboardID: "missing",
				Spec: design.ElementSpec{
					ID: "el", Kind: design.KindText,
					X: 0, Y: 0, Width: 100, Height: 16,
				},
			},
		},
	}
	raw, err := json.Marshal(events)
	require.NoError(t, err)
	logPath := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(logPath, raw, 0o644))

	code, _, stderr := run(t, "import", "p1", logPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid log")
}

func TestComponentsList(t *testing.T) {
	dir := t.TempDir()
	button := `
id: primary-button
name: Primary Button
version: 1.2.0
description: Filled call-to-action button
root:
  kind: button
  width: 160
  height: 48
  text: Click me
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "button.yaml"), []byte(button), 0o644))
	t.Setenv("LINEBASIS_COMPONENTS_DIR", dir)

	code, stdout, stderr := run(t, "components", "list")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "primary-button")
	assert.Contains(t, stdout, "1.2.0")
	assert.Contains(t, stdout, "Primary Button")
}

func TestComponentsListUnconfigured(t *testing.T) {
	t.Setenv("LINEBASIS_COMPONENTS_DIR", "")

	code, _, stderr := run(t, "components", "list")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "LINEBASIS_COMPONENTS_DIR")
}

func TestReplayVerifiesDeterminism(t *testing.T) {
	useTempDB(t)
	projectID := seedProject(t, "Site")

	code, stdout, stderr := run(t, "replay", projectID)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "2 event(s)")
	assert.Contains(t, stdout, "sha256:")
}
