package design

import (
	"fmt"

	"github.com/h-ibaldo/linebasis-sub003/pkg/baseline"
)

// InvalidEventError reports a malformed or out-of-context event. The dispatch
// that produced it is aborted and the prior state is returned untouched.
type InvalidEventError struct {
	Type   EventType
	Reason string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid %s event: %s", e.Type, e.Reason)
}

func invalid(t EventType, format string, args ...interface{}) *InvalidEventError {
	return &InvalidEventError{Type: t, Reason: fmt.Sprintf(format, args...)}
}

// Reduce applies one event to a snapshot and returns the new immutable root.
// It is pure: no I/O, no randomness, no clock reads. On error the returned
// state is the input state, unchanged.
//
// The returned snapshot shares structure with the input everywhere except the
// touched path, so reduction is cheap even for large trees.
func Reduce(s *State, ev Event) (*State, error) {
	if s == nil {
		s = NewState()
	}
	if ev.Payload == nil {
		return s, invalid(ev.Type, "missing payload")
	}

	next := s.shallowClone()
	var err error
	switch p := ev.Payload.(type) {
	case ArtboardAdded:
		err = applyArtboardAdded(next, p)
	case ArtboardRemoved:
		err = applyArtboardRemoved(next, p)
	case BaselineConfigChanged:
		err = applyBaselineConfigChanged(next, p)
	case ElementCreated:
		err = applyElementCreated(next, p)
	case ElementDeleted:
		err = applyElementDeleted(next, p)
	case ElementMoved:
		err = applyElementMoved(next, p)
	case ElementResized:
		err = applyElementResized(next, p)
	case PropertyUpdated:
		err = applyPropertyUpdated(next, p)
	case PropertyRemoved:
		err = applyPropertyRemoved(next, p)
	case ElementsGrouped:
		err = applyElementsGrouped(next, p)
	case ElementsUngrouped:
		err = applyElementsUngrouped(next, p)
	case ElementReordered:
		err = applyElementReordered(next, p)
	case ComponentInserted:
		err = applyComponentInserted(next, p)
	case ElementSnapOverrideSet:
		err = applyElementSnapOverrideSet(next, p)
	default:
		err = invalid(ev.Type, "unhandled payload variant %T", ev.Payload)
	}
	if err != nil {
		return s, err
	}
	return next, nil
}

// Replay folds a full event sequence over the empty state.
func Replay(events []Event) (*State, error) {
	return ReplayPrefix(events, len(events))
}

// ReplayPrefix folds events[0:k] over the empty state. Replaying an identical
// prefix always yields a structurally identical snapshot.
func ReplayPrefix(events []Event, k int) (*State, error) {
	if k < 0 || k > len(events) {
		return nil, fmt.Errorf("replay prefix %d out of range [0,%d]", k, len(events))
	}
	state := NewState()
	for i := 0; i < k; i++ {
		var err error
		state, err = Reduce(state, events[i])
		if err != nil {
			return nil, fmt.Errorf("replay failed at event %d (%s): %w", i, events[i].Type, err)
		}
	}
	return state, nil
}

func applyArtboardAdded(next *State, p ArtboardAdded) error {
	if p.ArtboardID == "" {
		return invalid(TypeArtboardAdded, "empty artboard id")
	}
	if _, exists := next.Artboards[p.ArtboardID]; exists {
		return invalid(TypeArtboardAdded, "artboard %s already exists", p.ArtboardID)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return invalid(TypeArtboardAdded, "non-positive artboard size %gx%g", p.Width, p.Height)
	}
	if err := p.Baseline.Validate(); err != nil {
		return invalid(TypeArtboardAdded, "%v", err)
	}
	next.Artboards[p.ArtboardID] = &Artboard{
		ID:       p.ArtboardID,
		Name:     p.Name,
		Width:    p.Width,
		Height:   p.Height,
		Baseline: p.Baseline,
	}
	next.ArtboardOrder = append(next.ArtboardOrder, p.ArtboardID)
	return nil
}

func applyArtboardRemoved(next *State, p ArtboardRemoved) error {
	ab, ok := next.Artboards[p.ArtboardID]
	if !ok {
		return invalid(TypeArtboardRemoved, "artboard %s not found", p.ArtboardID)
	}
	for _, rootID := range ab.Children {
		for _, id := range next.Descendants(rootID) {
			delete(next.Elements, id)
		}
		delete(next.Elements, rootID)
	}
	delete(next.Artboards, p.ArtboardID)
	order := next.ArtboardOrder[:0]
	for _, id := range next.ArtboardOrder {
		if id != p.ArtboardID {
			order = append(order, id)
		}
	}
	next.ArtboardOrder = order
	return nil
}

func applyBaselineConfigChanged(next *State, p BaselineConfigChanged) error {
	if _, ok := next.Artboards[p.ArtboardID]; !ok {
		return invalid(TypeBaselineConfigChanged, "artboard %s not found", p.ArtboardID)
	}
	if err := p.Config.Validate(); err != nil {
		return invalid(TypeBaselineConfigChanged, "%v", err)
	}
	ab := next.mutArtboard(p.ArtboardID)
	ab.Baseline = p.Config

	// Enabling snapping re-snaps everything on the artboard that does not
	// override it off.
	if p.Config.SnapEnabled {
		for id, el := range next.Elements {
			if el.ArtboardID != p.ArtboardID {
				continue
			}
			cfg := next.EffectiveSnap(el)
			if !cfg.SnapEnabled {
				continue
			}
			resnap(next.mutElement(id), cfg)
		}
	}
	return nil
}

func applyElementCreated(next *State, p ElementCreated) error {
	_, ok := next.Artboards[p.ArtboardID]
	if !ok {
		return invalid(TypeElementCreated, "artboard %s not found", p.ArtboardID)
	}
	if p.ParentID != "" {
		parent, ok := next.Elements[p.ParentID]
		if !ok {
			return invalid(TypeElementCreated, "parent %s not found", p.ParentID)
		}
		if parent.ArtboardID != p.ArtboardID {
			return invalid(TypeElementCreated, "parent %s belongs to a different artboard", p.ParentID)
		}
		if parent.Kind != KindContainer && parent.Kind != KindGroup {
			return invalid(TypeElementCreated, "parent %s (%s) cannot hold children", p.ParentID, parent.Kind)
		}
	}
	rootID, err := instantiateSpec(next, TypeElementCreated, p.ArtboardID, p.ParentID, p.Spec, 0, 0)
	if err != nil {
		return err
	}
	attachToParent(next, p.ArtboardID, p.ParentID, rootID)
	return nil
}

func applyElementDeleted(next *State, p ElementDeleted) error {
	el, ok := next.Elements[p.ElementID]
	if !ok {
		return invalid(TypeElementDeleted, "element %s not found", p.ElementID)
	}
	detachFromParent(next, el)
	for _, id := range next.Descendants(p.ElementID) {
		delete(next.Elements, id)
	}
	delete(next.Elements, p.ElementID)
	return nil
}

func applyElementMoved(next *State, p ElementMoved) error {
	if _, ok := next.Elements[p.ElementID]; !ok {
		return invalid(TypeElementMoved, "element %s not found", p.ElementID)
	}
	el := next.mutElement(p.ElementID)
	el.X += p.DX
	el.Y += p.DY
	el.Y = next.EffectiveSnap(el).Snap(el.Y)
	return nil
}

func applyElementResized(next *State, p ElementResized) error {
	if _, ok := next.Elements[p.ElementID]; !ok {
		return invalid(TypeElementResized, "element %s not found", p.ElementID)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return invalid(TypeElementResized, "non-positive size %gx%g", p.Width, p.Height)
	}
	el := next.mutElement(p.ElementID)
	el.Width = p.Width
	el.Height = p.Height
	if cfg := next.EffectiveSnap(el); cfg.SnapEnabled {
		el.Height = snapDimension(el.Height, cfg)
	}
	return nil
}

func applyPropertyUpdated(next *State, p PropertyUpdated) error {
	if _, ok := next.Elements[p.ElementID]; !ok {
		return invalid(TypePropertyUpdated, "element %s not found", p.ElementID)
	}
	if p.Key == "" {
		return invalid(TypePropertyUpdated, "empty property key")
	}
	el := next.mutElement(p.ElementID)
	if el.Style == nil {
		el.Style = make(map[string]string)
	}
	el.Style[p.Key] = p.Value
	return nil
}

func applyPropertyRemoved(next *State, p PropertyRemoved) error {
	if _, ok := next.Elements[p.ElementID]; !ok {
		return invalid(TypePropertyRemoved, "element %s not found", p.ElementID)
	}
	if p.Key == "" {
		return invalid(TypePropertyRemoved, "empty property key")
	}
	el := next.mutElement(p.ElementID)
	delete(el.Style, p.Key)
	return nil
}

func applyElementsGrouped(next *State, p ElementsGrouped) error {
	if p.GroupID == "" {
		return invalid(TypeElementsGrouped, "empty group id")
	}
	if _, exists := next.Elements[p.GroupID]; exists {
		return invalid(TypeElementsGrouped, "group id %s already in use", p.GroupID)
	}
	if len(p.ElementIDs) < 2 {
		return invalid(TypeElementsGrouped, "grouping needs at least two elements, got %d", len(p.ElementIDs))
	}

	seen := make(map[string]bool, len(p.ElementIDs))
	var artboardID, parentID string
	for i, id := range p.ElementIDs {
		if seen[id] {
			return invalid(TypeElementsGrouped, "duplicate member %s", id)
		}
		seen[id] = true
		el, ok := next.Elements[id]
		if !ok {
			return invalid(TypeElementsGrouped, "element %s not found", id)
		}
		if i == 0 {
			artboardID, parentID = el.ArtboardID, el.ParentID
			continue
		}
		if el.ArtboardID != artboardID || el.ParentID != parentID {
			return invalid(TypeElementsGrouped, "members are not siblings")
		}
	}

	// The group covers the members' bounding box; coordinates stay
	// artboard-absolute so membership changes never shift geometry.
	first := next.Elements[p.ElementIDs[0]]
	minX, minY := first.X, first.Y
	maxX, maxY := first.X+first.Width, first.Y+first.Height
	for _, id := range p.ElementIDs[1:] {
		el := next.Elements[id]
		if el.X < minX {
			minX = el.X
		}
		if el.Y < minY {
			minY = el.Y
		}
		if el.X+el.Width > maxX {
			maxX = el.X + el.Width
		}
		if el.Y+el.Height > maxY {
			maxY = el.Y + el.Height
		}
	}

	siblings := siblingList(next, artboardID, parentID)
	insertAt := indexOf(siblings, p.ElementIDs[0])

	group := &Element{
		ID:         p.GroupID,
		ArtboardID: artboardID,
		ParentID:   parentID,
		Kind:       KindGroup,
		X:          minX,
		Y:          minY,
		Width:      maxX - minX,
		Height:     maxY - minY,
		Children:   append([]string(nil), p.ElementIDs...),
	}
	next.Elements[p.GroupID] = group

	pruned := make([]string, 0, len(siblings))
	for _, id := range siblings {
		if !seen[id] {
			pruned = append(pruned, id)
		}
	}
	if insertAt > len(pruned) {
		insertAt = len(pruned)
	}
	pruned = append(pruned, "")
	copy(pruned[insertAt+1:], pruned[insertAt:])
	pruned[insertAt] = p.GroupID
	setSiblingList(next, artboardID, parentID, pruned)

	for _, id := range p.ElementIDs {
		member := next.mutElement(id)
		member.ParentID = p.GroupID
	}
	return nil
}

func applyElementsUngrouped(next *State, p ElementsUngrouped) error {
	group, ok := next.Elements[p.GroupID]
	if !ok {
		return invalid(TypeElementsUngrouped, "group %s not found", p.GroupID)
	}
	if group.Kind != KindGroup {
		return invalid(TypeElementsUngrouped, "element %s is a %s, not a group", p.GroupID, group.Kind)
	}

	siblings := siblingList(next, group.ArtboardID, group.ParentID)
	at := indexOf(siblings, p.GroupID)
	expanded := make([]string, 0, len(siblings)+len(group.Children)-1)
	expanded = append(expanded, siblings[:at]...)
	expanded = append(expanded, group.Children...)
	expanded = append(expanded, siblings[at+1:]...)
	setSiblingList(next, group.ArtboardID, group.ParentID, expanded)

	for _, id := range group.Children {
		member := next.mutElement(id)
		member.ParentID = group.ParentID
	}
	delete(next.Elements, p.GroupID)
	return nil
}

func applyElementReordered(next *State, p ElementReordered) error {
	el, ok := next.Elements[p.ElementID]
	if !ok {
		return invalid(TypeElementReordered, "element %s not found", p.ElementID)
	}
	siblings := siblingList(next, el.ArtboardID, el.ParentID)
	if p.NewIndex < 0 || p.NewIndex >= len(siblings) {
		return invalid(TypeElementReordered, "index %d out of range [0,%d)", p.NewIndex, len(siblings))
	}
	reordered := make([]string, 0, len(siblings))
	for _, id := range siblings {
		if id != p.ElementID {
			reordered = append(reordered, id)
		}
	}
	reordered = append(reordered, "")
	copy(reordered[p.NewIndex+1:], reordered[p.NewIndex:])
	reordered[p.NewIndex] = p.ElementID
	setSiblingList(next, el.ArtboardID, el.ParentID, reordered)
	return nil
}

func applyComponentInserted(next *State, p ComponentInserted) error {
	if _, ok := next.Artboards[p.ArtboardID]; !ok {
		return invalid(TypeComponentInserted, "artboard %s not found", p.ArtboardID)
	}
	if p.ComponentID == "" {
		return invalid(TypeComponentInserted, "empty component id")
	}
	rootID, err := instantiateSpec(next, TypeComponentInserted, p.ArtboardID, "", p.Subtree, p.X, p.Y)
	if err != nil {
		return err
	}
	attachToParent(next, p.ArtboardID, "", rootID)
	return nil
}

func applyElementSnapOverrideSet(next *State, p ElementSnapOverrideSet) error {
	if _, ok := next.Elements[p.ElementID]; !ok {
		return invalid(TypeElementSnapOverrideSet, "element %s not found", p.ElementID)
	}
	el := next.mutElement(p.ElementID)
	if p.Snap == nil {
		el.SnapOverride = nil
	} else {
		v := *p.Snap
		el.SnapOverride = &v
	}
	if cfg := next.EffectiveSnap(el); cfg.SnapEnabled {
		resnap(el, cfg)
	}
	return nil
}

// instantiateSpec materializes a spec subtree into the arena. Coordinates in
// the spec are relative to the parent node; baseX/baseY is the absolute
// position of the parent (or the insertion point for the root).
func instantiateSpec(next *State, t EventType, artboardID, parentID string, spec ElementSpec, baseX, baseY float64) (string, error) {
	if spec.ID == "" {
		return "", invalid(t, "element spec missing id")
	}
	if _, exists := next.Elements[spec.ID]; exists {
		return "", invalid(t, "element id %s already in use", spec.ID)
	}
	if !knownKinds[spec.Kind] {
		return "", invalid(t, "unknown element kind %q", spec.Kind)
	}
	if spec.Width < 0 || spec.Height < 0 {
		return "", invalid(t, "negative size %gx%g for element %s", spec.Width, spec.Height, spec.ID)
	}
	if len(spec.Children) > 0 && spec.Kind != KindContainer && spec.Kind != KindGroup {
		return "", invalid(t, "element %s (%s) cannot hold children", spec.ID, spec.Kind)
	}

	el := &Element{
		ID:         spec.ID,
		ArtboardID: artboardID,
		ParentID:   parentID,
		Kind:       spec.Kind,
		Name:       spec.Name,
		X:          baseX + spec.X,
		Y:          baseY + spec.Y,
		Width:      spec.Width,
		Height:     spec.Height,
		Text:       spec.Text,
	}
	if spec.Style != nil {
		el.Style = make(map[string]string, len(spec.Style))
		for k, v := range spec.Style {
			el.Style[k] = v
		}
	}
	if cfg := next.EffectiveSnap(el); cfg.SnapEnabled {
		resnap(el, cfg)
	}
	next.Elements[spec.ID] = el

	for _, child := range spec.Children {
		childID, err := instantiateSpec(next, t, artboardID, el.ID, child, el.X, el.Y)
		if err != nil {
			return "", err
		}
		el.Children = append(el.Children, childID)
	}
	return el.ID, nil
}

// resnap aligns the element's vertical geometry to the grid. Width and X are
// untouched; the baseline grid governs vertical rhythm only.
func resnap(el *Element, cfg baseline.Config) {
	if !cfg.SnapEnabled {
		return
	}
	el.Y = cfg.Snap(el.Y)
	el.Height = snapDimension(el.Height, cfg)
}

// snapDimension snaps a height to the grid without collapsing a visible
// element to zero: anything positive keeps at least one baseline unit.
func snapDimension(h float64, cfg baseline.Config) float64 {
	snapped := cfg.Snap(h)
	if snapped == 0 && h > 0 {
		return float64(cfg.Height)
	}
	return snapped
}

// siblingList returns the ordered child list the element with the given
// parent lives in.
func siblingList(next *State, artboardID, parentID string) []string {
	if parentID != "" {
		return next.Elements[parentID].Children
	}
	return next.Artboards[artboardID].Children
}

func setSiblingList(next *State, artboardID, parentID string, ids []string) {
	if parentID != "" {
		next.mutElement(parentID).Children = ids
		return
	}
	next.mutArtboard(artboardID).Children = ids
}

func attachToParent(next *State, artboardID, parentID, childID string) {
	if parentID != "" {
		parent := next.mutElement(parentID)
		parent.Children = append(parent.Children, childID)
		return
	}
	ab := next.mutArtboard(artboardID)
	ab.Children = append(ab.Children, childID)
}

func detachFromParent(next *State, el *Element) {
	siblings := siblingList(next, el.ArtboardID, el.ParentID)
	pruned := make([]string, 0, len(siblings))
	for _, id := range siblings {
		if id != el.ID {
			pruned = append(pruned, id)
		}
	}
	setSiblingList(next, el.ArtboardID, el.ParentID, pruned)
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return len(ids)
}
