// Command linebasis manages design projects from the terminal: project
// CRUD against the durable store, export of generated markup and styles,
// import of event logs, component library inspection, and replay
// verification of stored event logs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/h-ibaldo/linebasis-sub003/pkg/codegen"
	"github.com/h-ibaldo/linebasis-sub003/pkg/config"
	"github.com/h-ibaldo/linebasis-sub003/pkg/design"
	"github.com/h-ibaldo/linebasis-sub003/pkg/export"
	"github.com/h-ibaldo/linebasis-sub003/pkg/observability"
	"github.com/h-ibaldo/linebasis-sub003/pkg/persist"
	"github.com/h-ibaldo/linebasis-sub003/pkg/registry"
	"github.com/h-ibaldo/linebasis-sub003/pkg/store"
)

func main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run executes the CLI and returns the process exit code. It is the whole
// program minus os.Exit, so tests drive it directly.
func Run(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel, stderr)
	slog.SetDefault(logger)

	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	ctx := context.Background()
	obs, err := initObservability(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "telemetry: %v\n", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(ctx) }()

	switch args[0] {
	case "projects":
		return runProjects(ctx, cfg, args[1:], stdout, stderr)
	case "export":
		return runExport(ctx, cfg, obs, args[1:], stdout, stderr)
	case "import":
		return runImport(ctx, cfg, obs, args[1:], stdout, stderr)
	case "components":
		return runComponents(cfg, args[1:], stdout, stderr)
	case "replay":
		return runReplay(ctx, cfg, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}
}

func initObservability(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.Telemetry
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	return observability.New(ctx, obsCfg)
}

// loadComponents builds the component library from the configured
// directory. An empty configuration means no library is available.
func loadComponents(cfg *config.Config) (*registry.Registry, error) {
	if cfg.ComponentsDir == "" {
		return nil, nil
	}
	reg := registry.New()
	if err := reg.LoadDir(cfg.ComponentsDir); err != nil {
		return nil, err
	}
	return reg, nil
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: linebasis <command> [arguments]

Commands:
  projects list              list stored projects
  projects create <name>     create a project
  projects delete <id>       delete a project and its event log
  export <id> [-o dir] [-minify]
                             generate markup and styles for a project
  import <id> <events.json>  dispatch an event log into a project
  components list            list the configured component library
  replay <id>                verify replay determinism of a stored log
  help                       show this message
`)
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// openStore picks the durable backend: Postgres when a URL is configured,
// embedded SQLite otherwise.
func openStore(cfg *config.Config) (persist.Store, error) {
	if cfg.DatabaseURL != "" {
		return persist.NewPostgresStore(cfg.DatabaseURL)
	}
	return persist.NewSQLiteStore(cfg.DatabasePath)
}

func runProjects(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: linebasis projects <list|create|delete>")
		return 2
	}

	db, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer db.Close()

	switch args[0] {
	case "list":
		metas, err := db.ListProjects(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "list projects: %v\n", err)
			return 1
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tEVENTS\tUPDATED")
		for _, m := range metas {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", m.ID, m.Name, m.EventCount, m.UpdatedAt.Format(time.RFC3339))
		}
		tw.Flush()
		return 0

	case "create":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "usage: linebasis projects create <name>")
			return 2
		}
		id := uuid.NewString()
		if err := db.CreateProject(ctx, id, args[1], time.Now()); err != nil {
			fmt.Fprintf(stderr, "create project: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, id)
		return 0

	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "usage: linebasis projects delete <id>")
			return 2
		}
		if err := db.DeleteProject(ctx, args[1]); err != nil {
			fmt.Fprintf(stderr, "delete project: %v\n", err)
			return 1
		}
		return 0

	default:
		fmt.Fprintf(stderr, "unknown projects subcommand %q\n", args[0])
		return 2
	}
}

func runExport(ctx context.Context, cfg *config.Config, obs *observability.Provider, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	outDir := fs.String("o", "dist", "output directory")
	minifyFlag := fs.Bool("minify", cfg.Minify, "minify generated output")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: linebasis export <id> [-o dir] [-minify]")
		return 2
	}
	projectID := fs.Arg(0)

	db, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer db.Close()

	snapshot, _, code := loadSnapshot(ctx, db, projectID, stderr)
	if code != 0 {
		return code
	}

	opts := []codegen.Option{codegen.WithObservability(obs)}
	if *minifyFlag {
		opts = append(opts, codegen.WithMinify())
	}
	res, err := codegen.New(opts...).Generate(ctx, snapshot)
	if err != nil {
		fmt.Fprintf(stderr, "generate: %v\n", err)
		return 1
	}
	for _, genErr := range res.Errors {
		fmt.Fprintf(stderr, "warning: %v\n", genErr)
	}

	bundle, err := export.NewBundle(projectID, res, time.Now())
	if err != nil {
		fmt.Fprintf(stderr, "bundle: %v\n", err)
		return 1
	}
	if err := writeBundle(*outDir, bundle); err != nil {
		fmt.Fprintf(stderr, "write bundle: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "exported %d page(s) to %s\n", len(bundle.Manifest.Pages), *outDir)
	return 0
}

func writeBundle(dir string, b *export.Bundle) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, f := range b.Files {
		if err := os.WriteFile(filepath.Join(dir, f.Path), []byte(f.Body), 0o644); err != nil {
			return err
		}
	}
	manifest, err := json.MarshalIndent(b.Manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "manifest.json"), append(manifest, '\n'), 0o644)
}

// runImport dispatches a JSON event log into a project through the live
// engine, so every event passes validation and the configured component
// library before it lands in storage.
func runImport(ctx context.Context, cfg *config.Config, obs *observability.Provider, args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(stderr, "usage: linebasis import <id> <events.json>")
		return 2
	}
	projectID := args[0]

	raw, err := os.ReadFile(args[1])
	if err != nil {
		fmt.Fprintf(stderr, "read log: %v\n", err)
		return 1
	}
	var events []design.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		fmt.Fprintf(stderr, "decode log: %v\n", err)
		return 1
	}
	reg, err := loadComponents(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "load components: %v\n", err)
		return 1
	}

	// Dry-run the log through an in-memory engine first, so storage sees
	// nothing unless every event applies. Component insertions resolve
	// against the configured library here.
	var srcOpts []store.Option
	if reg != nil {
		srcOpts = append(srcOpts, store.WithComponentSource(reg))
	}
	dry := store.New(projectID, srcOpts...)
	for i, ev := range events {
		if _, err := dry.Dispatch(ev.Payload); err != nil {
			fmt.Fprintf(stderr, "invalid log: event %d: %v\n", i, err)
			return 1
		}
	}

	db, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer db.Close()

	if _, err := db.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, persist.ErrProjectNotFound) {
			fmt.Fprintf(stderr, "get project: %v\n", err)
			return 1
		}
		if err := db.CreateProject(ctx, projectID, projectID, time.Now()); err != nil {
			fmt.Fprintf(stderr, "create project: %v\n", err)
			return 1
		}
	}

	opts := append([]store.Option{
		store.WithPersistence(db),
		store.WithDebounce(cfg.Debounce),
		store.WithLogger(slog.Default()),
		store.WithObservability(obs),
	}, srcOpts...)
	es := store.New(projectID, opts...)

	for i, ev := range events {
		if _, err := es.Dispatch(ev.Payload); err != nil {
			fmt.Fprintf(stderr, "event %d: %v\n", i, err)
			return 1
		}
	}
	if err := es.CloseFlush(ctx); err != nil {
		fmt.Fprintf(stderr, "flush: %v\n", err)
		return 1
	}

	h, err := es.Snapshot().Hash()
	if err != nil {
		fmt.Fprintf(stderr, "hash: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "imported %d event(s), state %s\n", len(events), h)
	return 0
}

func runComponents(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "list" {
		fmt.Fprintln(stderr, "usage: linebasis components list")
		return 2
	}
	if cfg.ComponentsDir == "" {
		fmt.Fprintln(stderr, "no component library configured (set LINEBASIS_COMPONENTS_DIR)")
		return 1
	}
	reg, err := loadComponents(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "load components: %v\n", err)
		return 1
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tNAME\tDESCRIPTION")
	for _, def := range reg.List() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", def.ID, def.Version, def.Name, def.Description)
	}
	tw.Flush()
	return 0
}

func runReplay(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: linebasis replay <id>")
		return 2
	}
	projectID := args[0]

	db, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer db.Close()

	events, err := db.ReadEvents(ctx, projectID)
	if err != nil {
		fmt.Fprintf(stderr, "read events: %v\n", err)
		return 1
	}

	first, err := design.Replay(events)
	if err != nil {
		fmt.Fprintf(stderr, "replay: %v\n", err)
		return 1
	}
	second, err := design.Replay(events)
	if err != nil {
		fmt.Fprintf(stderr, "replay: %v\n", err)
		return 1
	}

	h1, err := first.Hash()
	if err != nil {
		fmt.Fprintf(stderr, "hash: %v\n", err)
		return 1
	}
	h2, err := second.Hash()
	if err != nil {
		fmt.Fprintf(stderr, "hash: %v\n", err)
		return 1
	}
	if h1 != h2 {
		fmt.Fprintf(stderr, "replay divergence: %s != %s\n", h1, h2)
		return 1
	}

	fmt.Fprintf(stdout, "%d event(s), state %s\n", len(events), h1)
	return 0
}

// loadSnapshot reads a project's log and materializes the state at its
// saved cursor, so an export reflects what the user last saw, not any
// undone redo tail.
func loadSnapshot(ctx context.Context, db persist.Store, projectID string, stderr io.Writer) (*design.State, *persist.ProjectMeta, int) {
	meta, err := db.GetProject(ctx, projectID)
	if err != nil {
		fmt.Fprintf(stderr, "get project: %v\n", err)
		return nil, nil, 1
	}
	events, err := db.ReadEvents(ctx, projectID)
	if err != nil {
		fmt.Fprintf(stderr, "read events: %v\n", err)
		return nil, nil, 1
	}
	cursor := meta.Cursor
	if cursor > len(events) {
		cursor = len(events)
	}
	snapshot, err := design.ReplayPrefix(events, cursor)
	if err != nil {
		fmt.Fprintf(stderr, "replay: %v\n", err)
		return nil, nil, 1
	}
	return snapshot, meta, 0
}
