// Package registry is the component library: reusable element subtrees
// defined in YAML, validated against a JSON Schema, and versioned with
// semantic versions. It resolves a component id plus an optional version
// constraint to the default subtree inserted into a design.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/h-ibaldo/linebasis-sub003/pkg/design"
)

var (
	// ErrNotFound indicates no component with the requested id exists.
	ErrNotFound = errors.New("component not found")

	// ErrNoVersion indicates the component exists but no registered
	// version satisfies the constraint.
	ErrNoVersion = errors.New("no version satisfies constraint")

	// ErrDuplicate indicates a component id+version pair is already
	// registered.
	ErrDuplicate = errors.New("component version already registered")
)

// Definition is one versioned component: an id, a semantic version, and the
// default subtree instantiated on insertion. Nodes carry no ids; ids are
// assigned when the component lands in a design.
type Definition struct {
	ID          string             `yaml:"id" json:"id"`
	Name        string             `yaml:"name" json:"name"`
	Version     string             `yaml:"version" json:"version"`
	Description string             `yaml:"description,omitempty" json:"description,omitempty"`
	Root        design.ElementSpec `yaml:"root" json:"root"`
}

type entry struct {
	version *semver.Version
	def     Definition
}

// Registry holds registered component definitions, newest version first.
// It implements design.ComponentSource.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string][]entry
	schema *jsonschema.Schema
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates an empty registry. It panics only if the embedded definition
// schema fails to compile, which indicates a build defect.
func New(opts ...Option) *Registry {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const schemaURL = "https://linebasis.schemas.local/component.schema.json"
	if err := c.AddResource(schemaURL, strings.NewReader(definitionSchema)); err != nil {
		panic(fmt.Sprintf("registry: load embedded schema: %v", err))
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("registry: compile embedded schema: %v", err))
	}

	r := &Registry{
		byID:   make(map[string][]entry),
		schema: compiled,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates and adds one definition. Versions of the same
// component may be registered in any order.
func (r *Registry) Register(def Definition) error {
	if err := r.validate(def); err != nil {
		return err
	}
	v, err := semver.StrictNewVersion(def.Version)
	if err != nil {
		return fmt.Errorf("component %s: invalid version %q: %w", def.ID, def.Version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byID[def.ID] {
		if e.version.Equal(v) {
			return fmt.Errorf("component %s@%s: %w", def.ID, def.Version, ErrDuplicate)
		}
	}
	entries := append(r.byID[def.ID], entry{version: v, def: def})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].version.GreaterThan(entries[j].version)
	})
	r.byID[def.ID] = entries
	return nil
}

// LoadDir loads every .yaml/.yml file under dir, one definition per file.
// Load order does not matter; versions sort on registration.
func (r *Registry) LoadDir(dir string) error {
	var loaded int
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read component file %s: %w", path, err)
		}
		var def Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return fmt.Errorf("parse component file %s: %w", path, err)
		}
		if err := r.Register(def); err != nil {
			return fmt.Errorf("register component from %s: %w", path, err)
		}
		loaded++
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("component library loaded", "dir", dir, "components", loaded)
	return nil
}

// Resolve returns the definition for id that best satisfies constraint: the
// highest registered version when constraint is empty, otherwise the highest
// version the constraint admits.
func (r *Registry) Resolve(id, constraint string) (Definition, error) {
	r.mu.RLock()
	entries := r.byID[id]
	r.mu.RUnlock()
	if len(entries) == 0 {
		return Definition{}, fmt.Errorf("component %s: %w", id, ErrNotFound)
	}
	if constraint == "" {
		return entries[0].def, nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return Definition{}, fmt.Errorf("component %s: invalid constraint %q: %w", id, constraint, err)
	}
	for _, e := range entries {
		if c.Check(e.version) {
			return e.def, nil
		}
	}
	return Definition{}, fmt.Errorf("component %s constraint %q: %w", id, constraint, ErrNoVersion)
}

// ResolveComponent implements design.ComponentSource. The returned subtree
// is a deep copy; callers own it outright.
func (r *Registry) ResolveComponent(id, constraint string) (design.ElementSpec, string, error) {
	def, err := r.Resolve(id, constraint)
	if err != nil {
		return design.ElementSpec{}, "", err
	}
	return copySpec(def.Root), def.Version, nil
}

// List returns the latest version of every registered component, sorted by
// id.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.byID))
	for _, entries := range r.byID {
		out = append(out, entries[0].def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Versions returns every registered version of a component, newest first.
func (r *Registry) Versions(id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.byID[id]
	if len(entries) == 0 {
		return nil, fmt.Errorf("component %s: %w", id, ErrNotFound)
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.version.String()
	}
	return out, nil
}

// validate checks a definition against the embedded JSON Schema. The YAML
// is normalized through JSON so the schema sees canonical types.
func (r *Registry) validate(def Definition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("component %s: encode for validation: %w", def.ID, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("component %s: decode for validation: %w", def.ID, err)
	}
	if err := r.schema.Validate(doc); err != nil {
		return fmt.Errorf("component %s: schema validation failed: %w", def.ID, err)
	}
	return nil
}

func copySpec(s design.ElementSpec) design.ElementSpec {
	out := s
	if s.Style != nil {
		out.Style = make(map[string]string, len(s.Style))
		for k, v := range s.Style {
			out.Style[k] = v
		}
	}
	if s.Children != nil {
		out.Children = make([]design.ElementSpec, len(s.Children))
		for i, c := range s.Children {
			out.Children[i] = copySpec(c)
		}
	}
	return out
}
