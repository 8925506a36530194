// Package design defines the design-state tree, the closed event vocabulary,
// and the pure reducer that derives snapshots from event logs.
//
// A snapshot is never mutated in place: Reduce returns a new root that shares
// structure with its predecessor everywhere except the touched path. Replaying
// an identical log prefix therefore yields a structurally identical snapshot
// on any machine, which is what makes persistence, reload, and redo-after-
// reload correct.
package design

import (
	"github.com/h-ibaldo/linebasis-sub003/pkg/baseline"
	"github.com/h-ibaldo/linebasis-sub003/pkg/canonical"
)

// ElementKind is the semantic role of an element on the canvas.
type ElementKind string

const (
	KindContainer ElementKind = "container"
	KindGroup     ElementKind = "group"
	KindText      ElementKind = "text"
	KindHeading   ElementKind = "heading"
	KindImage     ElementKind = "image"
	KindButton    ElementKind = "button"
	KindInput     ElementKind = "input"
)

// knownKinds is the closed set of element kinds the reducer accepts.
var knownKinds = map[ElementKind]bool{
	KindContainer: true,
	KindGroup:     true,
	KindText:      true,
	KindHeading:   true,
	KindImage:     true,
	KindButton:    true,
	KindInput:     true,
}

// Element is a single node on an artboard. Coordinates are artboard-absolute
// pixels; parent/child relations are held as id references so the tree is
// trivially cloneable and serializable.
type Element struct {
	ID         string            `json:"id"`
	ArtboardID string            `json:"artboard_id"`
	ParentID   string            `json:"parent_id,omitempty"`
	Kind       ElementKind       `json:"kind"`
	Name       string            `json:"name,omitempty"`
	X          float64           `json:"x"`
	Y          float64           `json:"y"`
	Width      float64           `json:"width"`
	Height     float64           `json:"height"`
	Text       string            `json:"text,omitempty"`
	Style      map[string]string `json:"style,omitempty"`
	// SnapOverride overrides the artboard's snap flag for this element.
	// nil inherits from the artboard.
	SnapOverride *bool    `json:"snap_override,omitempty"`
	Children     []string `json:"children,omitempty"`
}

// clone returns a deep copy of the element itself. Child elements are not
// copied; they are reached through the state arena.
func (e *Element) clone() *Element {
	cp := *e
	if e.Style != nil {
		cp.Style = make(map[string]string, len(e.Style))
		for k, v := range e.Style {
			cp.Style[k] = v
		}
	}
	if e.Children != nil {
		cp.Children = append([]string(nil), e.Children...)
	}
	if e.SnapOverride != nil {
		v := *e.SnapOverride
		cp.SnapOverride = &v
	}
	return &cp
}

// Artboard is a top-level canvas area with its own baseline grid.
type Artboard struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Width    float64         `json:"width"`
	Height   float64         `json:"height"`
	Baseline baseline.Config `json:"baseline"`
	// Children holds the ids of root-level elements in paint order.
	Children []string `json:"children,omitempty"`
}

func (a *Artboard) clone() *Artboard {
	cp := *a
	if a.Children != nil {
		cp.Children = append([]string(nil), a.Children...)
	}
	return &cp
}

// State is the materialized design-state snapshot: arena-indexed artboards
// and elements plus a stable artboard ordering.
type State struct {
	Artboards     map[string]*Artboard `json:"artboards"`
	ArtboardOrder []string             `json:"artboard_order"`
	Elements      map[string]*Element  `json:"elements"`
}

// NewState returns an empty snapshot.
func NewState() *State {
	return &State{
		Artboards: make(map[string]*Artboard),
		Elements:  make(map[string]*Element),
	}
}

// shallowClone copies the arena maps and ordering; the artboard and element
// values themselves are shared until a branch copies them on write.
func (s *State) shallowClone() *State {
	next := &State{
		Artboards: make(map[string]*Artboard, len(s.Artboards)),
		Elements:  make(map[string]*Element, len(s.Elements)),
	}
	for id, a := range s.Artboards {
		next.Artboards[id] = a
	}
	for id, e := range s.Elements {
		next.Elements[id] = e
	}
	if s.ArtboardOrder != nil {
		next.ArtboardOrder = append([]string(nil), s.ArtboardOrder...)
	}
	return next
}

// mutArtboard returns a mutable copy of the artboard, installed in the arena.
func (s *State) mutArtboard(id string) *Artboard {
	cp := s.Artboards[id].clone()
	s.Artboards[id] = cp
	return cp
}

// mutElement returns a mutable copy of the element, installed in the arena.
func (s *State) mutElement(id string) *Element {
	cp := s.Elements[id].clone()
	s.Elements[id] = cp
	return cp
}

// Hash returns the canonical content hash of the snapshot. Two structurally
// identical snapshots always hash identically.
func (s *State) Hash() (string, error) {
	return canonical.Hash(s)
}

// Descendants returns the ids of every element underneath id, depth-first in
// child order. The id itself is not included.
func (s *State) Descendants(id string) []string {
	el, ok := s.Elements[id]
	if !ok {
		return nil
	}
	var out []string
	for _, childID := range el.Children {
		out = append(out, childID)
		out = append(out, s.Descendants(childID)...)
	}
	return out
}

// EffectiveSnap resolves the snap configuration for an element: the element
// override wins when present, otherwise the artboard's flag applies.
func (s *State) EffectiveSnap(el *Element) baseline.Config {
	cfg := baseline.DefaultConfig()
	if ab, ok := s.Artboards[el.ArtboardID]; ok {
		cfg = ab.Baseline
	}
	if el.SnapOverride != nil {
		cfg.SnapEnabled = *el.SnapOverride
	}
	return cfg
}

// ElementSpec describes an element subtree to instantiate, used by element
// creation and component insertion. Coordinates are relative to the parent
// spec node (the root is relative to the insertion point). IDs must be
// pre-assigned by the dispatcher so that replay never generates new ones.
type ElementSpec struct {
	ID       string            `json:"id"`
	Kind     ElementKind       `json:"kind"`
	Name     string            `json:"name,omitempty"`
	X        float64           `json:"x"`
	Y        float64           `json:"y"`
	Width    float64           `json:"width"`
	Height   float64           `json:"height"`
	Text     string            `json:"text,omitempty"`
	Style    map[string]string `json:"style,omitempty"`
	Children []ElementSpec     `json:"children,omitempty"`
}

// ComponentSource resolves a component id and version constraint to its
// default subtree. Implemented outside the core by the component library;
// the resolved subtree is embedded in the dispatched event so that replay
// never consults the source again.
type ComponentSource interface {
	ResolveComponent(id, constraint string) (ElementSpec, string, error)
}
