// Package macro implements the macro engine: the recording state
// machine, trigger matching, and bounded-concurrency playback.
package macro

import (
	"bytes"
	"encoding/gob"

	"gopkg.in/yaml.v3"
)

// ActionKind tags the variant held by an Action.
type ActionKind int

const (
	KeyPress ActionKind = iota
	KeyRelease
	Delay
	TypeText
	MouseButtonPress
	MouseButtonRelease
	MouseMove
	MouseScroll
	Execute
)

func (k ActionKind) String() string {
	switch k {
	case KeyPress:
		return "KeyPress"
	case KeyRelease:
		return "KeyRelease"
	case Delay:
		return "Delay"
	case TypeText:
		return "TypeText"
	case MouseButtonPress:
		return "MouseButtonPress"
	case MouseButtonRelease:
		return "MouseButtonRelease"
	case MouseMove:
		return "MouseMove"
	case MouseScroll:
		return "MouseScroll"
	case Execute:
		return "Execute"
	default:
		return "Unknown"
	}
}

// Action is a tagged variant over the nine replayable action types.
// Only the fields relevant to Kind are populated; the rest are zero.
type Action struct {
	Kind ActionKind `yaml:"kind"`

	Code uint16 `yaml:"code,omitempty"` // KeyPress, KeyRelease, MouseButtonPress, MouseButtonRelease

	DelayMS uint32 `yaml:"delay_ms,omitempty"` // Delay

	Text string `yaml:"text,omitempty"` // TypeText, Execute (command string)

	DX int32 `yaml:"dx,omitempty"` // MouseMove
	DY int32 `yaml:"dy,omitempty"` // MouseMove

	ScrollAmount int32 `yaml:"scroll,omitempty"` // MouseScroll
}

// Combo is an unordered trigger: a set of base key codes and a set of
// modifier codes. Either set may be empty.
type Combo struct {
	Keys      map[uint16]struct{} `yaml:"-"`
	Modifiers map[uint16]struct{} `yaml:"-"`

	// KeyList/ModifierList back Keys/Modifiers across serialization,
	// since a Go set has no stable wire representation. Empty lists and
	// sets are kept nil so a combo compares equal after any round trip.
	KeyList      []uint16 `yaml:"keys"`
	ModifierList []uint16 `yaml:"modifiers"`
}

// NewCombo builds a Combo from explicit key and modifier code lists.
func NewCombo(keys, modifiers []uint16) Combo {
	c := Combo{
		KeyList:      append([]uint16(nil), keys...),
		ModifierList: append([]uint16(nil), modifiers...),
	}
	c.hydrate()
	return c
}

// Contains reports whether code is one of the combo's trigger keys.
func (c Combo) Contains(code uint16) bool {
	_, ok := c.Keys[code]
	return ok
}

// hydrate rebuilds the set representation from KeyList/ModifierList,
// normalizing empty lists and sets to nil.
func (c *Combo) hydrate() {
	if len(c.KeyList) == 0 {
		c.KeyList = nil
		c.Keys = nil
	} else {
		c.Keys = make(map[uint16]struct{}, len(c.KeyList))
		for _, k := range c.KeyList {
			c.Keys[k] = struct{}{}
		}
	}
	if len(c.ModifierList) == 0 {
		c.ModifierList = nil
		c.Modifiers = nil
	} else {
		c.Modifiers = make(map[uint16]struct{}, len(c.ModifierList))
		for _, m := range c.ModifierList {
			c.Modifiers[m] = struct{}{}
		}
	}
}

// comboWire is the serialized shape of a Combo: only the two code
// lists cross the wire; the set form is derived state rebuilt on
// decode. gob cannot encode a map of struct{} values directly, and
// round-tripping only the lists also keeps a decoded combo equal to
// the one encoded.
type comboWire struct {
	Keys      []uint16
	Modifiers []uint16
}

// GobEncode implements gob.GobEncoder.
func (c Combo) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(comboWire{Keys: c.KeyList, Modifiers: c.ModifierList}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder, rebuilding the set form.
func (c *Combo) GobDecode(data []byte) error {
	var w comboWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	c.KeyList = w.Keys
	c.ModifierList = w.Modifiers
	c.hydrate()
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler so Keys/Modifiers are
// rebuilt immediately after KeyList/ModifierList are populated.
func (c *Combo) UnmarshalYAML(value *yaml.Node) error {
	type rawCombo struct {
		KeyList      []uint16 `yaml:"keys"`
		ModifierList []uint16 `yaml:"modifiers"`
	}
	var raw rawCombo
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.KeyList = raw.KeyList
	c.ModifierList = raw.ModifierList
	c.hydrate()
	return nil
}

// Entry is a macro: a unique name, its trigger combo, an ordered
// action list, an optional restricting device, and an enabled flag.
type Entry struct {
	Name     string   `yaml:"name"`
	Trigger  Combo    `yaml:"trigger"`
	Actions  []Action `yaml:"actions"`
	DeviceID string   `yaml:"device_id,omitempty"` // empty == unrestricted
	Enabled  bool     `yaml:"enabled"`
}

// Unrestricted reports whether the macro fires regardless of source device.
func (e Entry) Unrestricted() bool { return e.DeviceID == "" }

// Clone returns a deep copy of the entry, so callers can freely mutate
// without aliasing library-owned state.
func (e Entry) Clone() Entry {
	out := e
	out.Actions = append([]Action(nil), e.Actions...)
	out.Trigger = NewCombo(append([]uint16(nil), e.Trigger.KeyList...), append([]uint16(nil), e.Trigger.ModifierList...))
	return out
}
