// Package codegen compiles a materialized design snapshot into markup and
// stylesheet text. The transform is pure and deterministic: the same
// snapshot always produces byte-identical output, so previews and exports
// can be diffed and cached by content.
//
// Structurally identical style sets collapse into one shared class; rules
// are named in first-seen traversal order, which is itself deterministic
// (artboards in document order, elements depth-first in paint order).
package codegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/h-ibaldo/linebasis-sub003/pkg/design"
	"github.com/h-ibaldo/linebasis-sub003/pkg/observability"
)

// GenerationError reports a failed element subtree. The failure is isolated:
// sibling subtrees still generate and the error travels in the result.
type GenerationError struct {
	ElementID  string
	ArtboardID string
	Reason     string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate element %s: %s", e.ElementID, e.Reason)
}

// Node is one AST node of the generated document.
type Node struct {
	Kind     design.ElementKind
	Tag      string
	Class    string
	Attrs    map[string]string
	Text     string
	Void     bool
	Children []*Node
}

// Declaration is a single CSS property/value pair.
type Declaration struct {
	Property string
	Value    string
}

// Rule is a shared style rule referenced by one or more nodes.
type Rule struct {
	Class        string
	Declarations []Declaration
}

// Page is the generated document for one artboard.
type Page struct {
	ArtboardID string
	Name       string
	Slug       string
	Markup     string
}

// Result carries everything one generation pass produced. Errors holds the
// per-subtree failures; output for everything else is still present.
type Result struct {
	Pages      []Page
	Stylesheet string
	Rules      []Rule
	Errors     []*GenerationError
}

// Option configures a Generator.
type Option func(*Generator)

// WithMinify runs generated markup and stylesheet through the minifier,
// for export targets.
func WithMinify() Option {
	return func(g *Generator) { g.minify = true }
}

// WithStylesheetHref sets the stylesheet reference emitted in page heads.
func WithStylesheetHref(href string) Option {
	return func(g *Generator) { g.stylesheetHref = href }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithObservability attaches telemetry for generation latency.
func WithObservability(p *observability.Provider) Option {
	return func(g *Generator) { g.obs = p }
}

// Generator compiles snapshots. It is stateless and safe for concurrent use.
type Generator struct {
	minify         bool
	stylesheetHref string
	logger         *slog.Logger
	obs            *observability.Provider
}

// New creates a generator.
func New(opts ...Option) *Generator {
	g := &Generator{
		stylesheetHref: "styles.css",
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate compiles the snapshot into one page per artboard plus a single
// shared stylesheet. The context is checked between artboards so a stale
// generation can be abandoned when a newer snapshot supersedes it; a
// cancelled pass returns the context error and its partial output is
// discarded by the caller.
func (g *Generator) Generate(ctx context.Context, st *design.State) (*Result, error) {
	start := time.Now()
	res := &Result{}
	idx := newStyleIndex()

	for _, abID := range st.ArtboardOrder {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ab, ok := st.Artboards[abID]
		if !ok {
			continue
		}
		res.Pages = append(res.Pages, g.generatePage(st, ab, idx, res))
	}

	res.Rules = idx.rules
	res.Stylesheet = renderStylesheet(idx.rules)

	if g.minify {
		if err := g.minifyResult(res); err != nil {
			return nil, err
		}
	}

	g.obs.RecordGeneration(ctx, time.Since(start), len(res.Pages))
	g.logger.Debug("generation complete",
		"pages", len(res.Pages), "rules", len(idx.rules),
		"errors", len(res.Errors), "elapsed", time.Since(start))
	return res, nil
}

func (g *Generator) generatePage(st *design.State, ab *design.Artboard, idx *styleIndex, res *Result) Page {
	body := &Node{
		Kind:  design.KindContainer,
		Tag:   "body",
		Class: idx.classFor(artboardDeclarations(ab)),
	}
	for _, childID := range ab.Children {
		child, err := g.buildNode(st, ab, childID, idx)
		if err != nil {
			var genErr *GenerationError
			if !errors.As(err, &genErr) {
				genErr = &GenerationError{ElementID: childID, ArtboardID: ab.ID, Reason: err.Error()}
			}
			res.Errors = append(res.Errors, genErr)
			g.logger.Warn("element subtree skipped",
				"artboard", ab.ID, "element", genErr.ElementID, "reason", genErr.Reason)
			continue
		}
		body.Children = append(body.Children, child)
	}

	return Page{
		ArtboardID: ab.ID,
		Name:       ab.Name,
		Slug:       Slug(ab.Name, ab.ID),
		Markup:     renderDocument(ab.Name, g.stylesheetHref, body),
	}
}

// buildNode compiles one element and its subtree. Any failure inside the
// subtree fails the whole subtree; the caller records it and moves on to
// the next sibling.
func (g *Generator) buildNode(st *design.State, ab *design.Artboard, id string, idx *styleIndex) (*Node, error) {
	el, ok := st.Elements[id]
	if !ok {
		return nil, &GenerationError{ElementID: id, ArtboardID: ab.ID, Reason: "element missing from snapshot"}
	}
	tag, void, err := tagFor(el.Kind)
	if err != nil {
		return nil, &GenerationError{ElementID: id, ArtboardID: ab.ID, Reason: err.Error()}
	}
	if el.Width <= 0 || el.Height < 0 {
		return nil, &GenerationError{
			ElementID:  id,
			ArtboardID: ab.ID,
			Reason:     fmt.Sprintf("missing required geometry: width=%v height=%v", el.Width, el.Height),
		}
	}

	node := &Node{
		Kind:  el.Kind,
		Tag:   tag,
		Class: idx.classFor(elementDeclarations(st, el)),
		Attrs: attrsFor(el),
		Text:  textFor(el),
		Void:  void,
	}
	for _, childID := range el.Children {
		child, err := g.buildNode(st, ab, childID, idx)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// tagFor maps an element kind to its markup tag.
func tagFor(kind design.ElementKind) (tag string, void bool, err error) {
	switch kind {
	case design.KindContainer, design.KindGroup:
		return "div", false, nil
	case design.KindText:
		return "p", false, nil
	case design.KindHeading:
		return "h2", false, nil
	case design.KindImage:
		return "img", true, nil
	case design.KindButton:
		return "button", false, nil
	case design.KindInput:
		return "input", true, nil
	default:
		return "", false, fmt.Errorf("unrecognized kind %q", kind)
	}
}

func attrsFor(el *design.Element) map[string]string {
	switch el.Kind {
	case design.KindImage:
		attrs := map[string]string{"alt": el.Name}
		if src, ok := el.Style["src"]; ok {
			attrs["src"] = src
		}
		return attrs
	case design.KindInput:
		attrs := map[string]string{"type": "text"}
		if el.Text != "" {
			attrs["placeholder"] = el.Text
		}
		return attrs
	default:
		return nil
	}
}

func textFor(el *design.Element) string {
	switch el.Kind {
	case design.KindText, design.KindHeading, design.KindButton:
		return el.Text
	default:
		return ""
	}
}

// artboardDeclarations styles the page body for an artboard. The baseline
// unit is published as a custom property so element rules can key vertical
// geometry to the grid.
func artboardDeclarations(ab *design.Artboard) []Declaration {
	props := map[string]string{
		"margin":     "0 auto",
		"position":   "relative",
		"width":      px(ab.Width),
		"min-height": px(ab.Height),
	}
	if ab.Baseline.SnapEnabled {
		props["--baseline"] = px(float64(ab.Baseline.Height))
	}
	return sortDeclarations(props)
}

// elementDeclarations resolves an element's style. Vertical geometry is
// expressed in baseline units when the element snaps to the grid and the
// value lands on it; everything else is absolute pixels. Author style
// entries win over generated geometry on property collisions.
func elementDeclarations(st *design.State, el *design.Element) []Declaration {
	cfg := st.EffectiveSnap(el)
	props := map[string]string{
		"position": "absolute",
		"left":     px(el.X),
		"top":      vertical(el.Y, cfg.SnapEnabled, float64(cfg.Height)),
		"width":    px(el.Width),
		"height":   vertical(el.Height, cfg.SnapEnabled, float64(cfg.Height)),
	}
	for k, v := range el.Style {
		if el.Kind == design.KindImage && k == "src" {
			continue // attribute, not a declaration
		}
		props[k] = v
	}
	return sortDeclarations(props)
}

func sortDeclarations(props map[string]string) []Declaration {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	decls := make([]Declaration, len(keys))
	for i, k := range keys {
		decls[i] = Declaration{Property: k, Value: props[k]}
	}
	return decls
}

// vertical renders a y or height value: whole baseline multiples become
// calc expressions against the artboard's --baseline custom property.
func vertical(v float64, snap bool, height float64) string {
	if !snap || height <= 0 {
		return px(v)
	}
	units := v / height
	if units != math.Trunc(units) {
		return px(v)
	}
	if units == 0 {
		return "0"
	}
	return fmt.Sprintf("calc(var(--baseline) * %d)", int(units))
}

// px formats a pixel length with no trailing zeros.
func px(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}

// styleIndex deduplicates structurally identical declaration sets into
// shared rules named in first-seen order.
type styleIndex struct {
	classes map[string]string
	rules   []Rule
}

func newStyleIndex() *styleIndex {
	return &styleIndex{classes: make(map[string]string)}
}

// classFor returns the shared class for a declaration set, minting a new
// rule the first time the set is seen. Declarations must already be sorted.
func (idx *styleIndex) classFor(decls []Declaration) string {
	key := declKey(decls)
	if class, ok := idx.classes[key]; ok {
		return class
	}
	class := fmt.Sprintf("lb-%d", len(idx.rules)+1)
	idx.classes[key] = class
	idx.rules = append(idx.rules, Rule{Class: class, Declarations: decls})
	return class
}

func declKey(decls []Declaration) string {
	key := make([]byte, 0, 64)
	for _, d := range decls {
		key = append(key, d.Property...)
		key = append(key, ':')
		key = append(key, d.Value...)
		key = append(key, ';')
	}
	return string(key)
}
