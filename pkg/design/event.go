package design

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/h-ibaldo/linebasis-sub003/pkg/baseline"
)

// EventType discriminates the closed set of event variants.
type EventType string

const (
	TypeArtboardAdded          EventType = "ArtboardAdded"
	TypeArtboardRemoved        EventType = "ArtboardRemoved"
	TypeBaselineConfigChanged  EventType = "BaselineConfigChanged"
	TypeElementCreated         EventType = "ElementCreated"
	TypeElementDeleted         EventType = "ElementDeleted"
	TypeElementMoved           EventType = "ElementMoved"
	TypeElementResized         EventType = "ElementResized"
	TypePropertyUpdated        EventType = "PropertyUpdated"
	TypePropertyRemoved        EventType = "PropertyRemoved"
	TypeElementsGrouped        EventType = "ElementsGrouped"
	TypeElementsUngrouped      EventType = "ElementsUngrouped"
	TypeElementReordered       EventType = "ElementReordered"
	TypeComponentInserted      EventType = "ComponentInserted"
	TypeElementSnapOverrideSet EventType = "ElementSnapOverrideSet"
)

// Payload is the tagged union of event variants. The interface is sealed so
// the reducer's dispatch over it stays exhaustive.
type Payload interface {
	PayloadType() EventType
	payloadSeal()
}

// Event is the immutable envelope for a single design mutation. It is never
// modified after creation; timestamps are the only time values the reducer
// ever sees.
type Event struct {
	ID        ulid.ULID `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"-"` // custom marshal
}

// eventJSON is the wire format for Event.
type eventJSON struct {
	ID        ulid.ULID       `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalJSON serializes the event with its payload inlined.
func (e Event) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return json.Marshal(eventJSON{
		ID:        e.ID,
		Type:      e.Type,
		Timestamp: e.Timestamp,
		Payload:   raw,
	})
}

// UnmarshalJSON deserializes the event, selecting the payload variant by the
// envelope's type discriminator.
func (e *Event) UnmarshalJSON(data []byte) error {
	var j eventJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	payload, err := newPayload(j.Type)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(j.Payload, payload); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", j.Type, err)
	}
	e.ID = j.ID
	e.Type = j.Type
	e.Timestamp = j.Timestamp
	e.Payload = toValuePayload(payload)
	return nil
}

// newPayload returns a pointer to the zero payload for a type tag.
func newPayload(t EventType) (interface{}, error) {
	switch t {
	case TypeArtboardAdded:
		return &ArtboardAdded{}, nil
	case TypeArtboardRemoved:
		return &ArtboardRemoved{}, nil
	case TypeBaselineConfigChanged:
		return &BaselineConfigChanged{}, nil
	case TypeElementCreated:
		return &ElementCreated{}, nil
	case TypeElementDeleted:
		return &ElementDeleted{}, nil
	case TypeElementMoved:
		return &ElementMoved{}, nil
	case TypeElementResized:
		return &ElementResized{}, nil
	case TypePropertyUpdated:
		return &PropertyUpdated{}, nil
	case TypePropertyRemoved:
		return &PropertyRemoved{}, nil
	case TypeElementsGrouped:
		return &ElementsGrouped{}, nil
	case TypeElementsUngrouped:
		return &ElementsUngrouped{}, nil
	case TypeElementReordered:
		return &ElementReordered{}, nil
	case TypeComponentInserted:
		return &ComponentInserted{}, nil
	case TypeElementSnapOverrideSet:
		return &ElementSnapOverrideSet{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}

// toValuePayload converts the decoded pointer back to the value form the
// union uses.
func toValuePayload(p interface{}) Payload {
	switch v := p.(type) {
	case *ArtboardAdded:
		return *v
	case *ArtboardRemoved:
		return *v
	case *BaselineConfigChanged:
		return *v
	case *ElementCreated:
		return *v
	case *ElementDeleted:
		return *v
	case *ElementMoved:
		return *v
	case *ElementResized:
		return *v
	case *PropertyUpdated:
		return *v
	case *PropertyRemoved:
		return *v
	case *ElementsGrouped:
		return *v
	case *ElementsUngrouped:
		return *v
	case *ElementReordered:
		return *v
	case *ComponentInserted:
		return *v
	case *ElementSnapOverrideSet:
		return *v
	default:
		return nil
	}
}

// ArtboardAdded introduces a new artboard.
type ArtboardAdded struct {
	ArtboardID string          `json:"artboard_id"`
	Name       string          `json:"name"`
	Width      float64         `json:"width"`
	Height     float64         `json:"height"`
	Baseline   baseline.Config `json:"baseline"`
}

func (p ArtboardAdded) PayloadType() EventType { return TypeArtboardAdded }
func (p ArtboardAdded) payloadSeal()           {}

// ArtboardRemoved deletes an artboard and everything on it.
type ArtboardRemoved struct {
	ArtboardID string `json:"artboard_id"`
}

func (p ArtboardRemoved) PayloadType() EventType { return TypeArtboardRemoved }
func (p ArtboardRemoved) payloadSeal()           {}

// BaselineConfigChanged replaces an artboard's grid configuration. Enabling
// snapping re-snaps the vertical geometry of every element on the artboard
// that does not override snapping off.
type BaselineConfigChanged struct {
	ArtboardID string          `json:"artboard_id"`
	Config     baseline.Config `json:"config"`
}

func (p BaselineConfigChanged) PayloadType() EventType { return TypeBaselineConfigChanged }
func (p BaselineConfigChanged) payloadSeal()           {}

// ElementCreated adds a single element.
type ElementCreated struct {
	ArtboardID string      `json:"artboard_id"`
	ParentID   string      `json:"parent_id,omitempty"`
	Spec       ElementSpec `json:"spec"`
}

func (p ElementCreated) PayloadType() EventType { return TypeElementCreated }
func (p ElementCreated) payloadSeal()           {}

// ElementDeleted removes an element; the deletion cascades to descendants in
// the snapshot while the event itself stays in the log.
type ElementDeleted struct {
	ElementID string `json:"element_id"`
}

func (p ElementDeleted) PayloadType() EventType { return TypeElementDeleted }
func (p ElementDeleted) payloadSeal()           {}

// ElementMoved translates an element by a delta.
type ElementMoved struct {
	ElementID string  `json:"element_id"`
	DX        float64 `json:"dx"`
	DY        float64 `json:"dy"`
}

func (p ElementMoved) PayloadType() EventType { return TypeElementMoved }
func (p ElementMoved) payloadSeal()           {}

// ElementResized sets an element's dimensions.
type ElementResized struct {
	ElementID string  `json:"element_id"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

func (p ElementResized) PayloadType() EventType { return TypeElementResized }
func (p ElementResized) payloadSeal()           {}

// PropertyUpdated sets one style property.
type PropertyUpdated struct {
	ElementID string `json:"element_id"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

func (p PropertyUpdated) PayloadType() EventType { return TypePropertyUpdated }
func (p PropertyUpdated) payloadSeal()           {}

// PropertyRemoved clears one style property.
type PropertyRemoved struct {
	ElementID string `json:"element_id"`
	Key       string `json:"key"`
}

func (p PropertyRemoved) PayloadType() EventType { return TypePropertyRemoved }
func (p PropertyRemoved) payloadSeal()           {}

// ElementsGrouped wraps sibling elements in a new group element. All members
// must share the same parent and artboard.
type ElementsGrouped struct {
	GroupID    string   `json:"group_id"`
	ElementIDs []string `json:"element_ids"`
}

func (p ElementsGrouped) PayloadType() EventType { return TypeElementsGrouped }
func (p ElementsGrouped) payloadSeal()           {}

// ElementsUngrouped dissolves a group, reattaching its children to the
// group's parent at the group's position.
type ElementsUngrouped struct {
	GroupID string `json:"group_id"`
}

func (p ElementsUngrouped) PayloadType() EventType { return TypeElementsUngrouped }
func (p ElementsUngrouped) payloadSeal()           {}

// ElementReordered moves an element to a new index among its siblings.
type ElementReordered struct {
	ElementID string `json:"element_id"`
	NewIndex  int    `json:"new_index"`
}

func (p ElementReordered) PayloadType() EventType { return TypeElementReordered }
func (p ElementReordered) payloadSeal()           {}

// ComponentInserted instantiates a component's default subtree at a position.
// The subtree is resolved by the dispatcher and carried in full, ids included,
// so replay is self-contained.
type ComponentInserted struct {
	ComponentID string      `json:"component_id"`
	Version     string      `json:"version,omitempty"`
	ArtboardID  string      `json:"artboard_id"`
	X           float64     `json:"x"`
	Y           float64     `json:"y"`
	Subtree     ElementSpec `json:"subtree"`
}

func (p ComponentInserted) PayloadType() EventType { return TypeComponentInserted }
func (p ComponentInserted) payloadSeal()           {}

// ElementSnapOverrideSet sets or clears an element's snap override. A nil
// Snap reverts the element to the artboard's flag; setting it true re-snaps
// the element's vertical geometry immediately.
type ElementSnapOverrideSet struct {
	ElementID string `json:"element_id"`
	Snap      *bool  `json:"snap,omitempty"`
}

func (p ElementSnapOverrideSet) PayloadType() EventType { return TypeElementSnapOverrideSet }
func (p ElementSnapOverrideSet) payloadSeal()           {}
