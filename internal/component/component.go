// Package component defines ComponentDescriptor, the typed-column
// identity attached to a row, and Timeline/TimeInt, the named integer axes
// rows are indexed against.
package component

import "strings"

// Descriptor identifies a typed column of data. ComponentName is
// mandatory; Archetype and ComponentType are optional tags used for
// routing and fallback resolution (e.g. picking a visualizer when the
// concrete type isn't registered).
type Descriptor struct {
	Archetype     string // optional, e.g. "rerun.archetypes.Points3D"
	ComponentName string // mandatory, e.g. "Position3D"
	ComponentType string // optional, e.g. "rerun.components.Position3D"
}

// NewDescriptor builds a descriptor from just the mandatory component name.
func NewDescriptor(name string) Descriptor {
	return Descriptor{ComponentName: name}
}

// String renders a debug-friendly form: "archetype:name<type>" trimmed to
// whichever fields are set.
func (d Descriptor) String() string {
	var b strings.Builder
	if d.Archetype != "" {
		b.WriteString(d.Archetype)
		b.WriteByte(':')
	}
	b.WriteString(d.ComponentName)
	if d.ComponentType != "" {
		b.WriteByte('<')
		b.WriteString(d.ComponentType)
		b.WriteByte('>')
	}
	return b.String()
}

// Equal reports whether two descriptors are identical in all fields.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.Archetype == o.Archetype && d.ComponentName == o.ComponentName && d.ComponentType == o.ComponentType
}

// Key returns a comparable value suitable for use as a map key. Routing is
// keyed on the full triple: two descriptors that only share ComponentName
// are distinct keys so archetype-qualified and bare lookups can coexist.
func (d Descriptor) Key() Descriptor { return d }

// TimeType distinguishes the two supported flavors of integer time axis.
type TimeType int

const (
	// TimeTypeSequence is a monotonically increasing logical counter
	// (e.g. "frame").
	TimeTypeSequence TimeType = iota
	// TimeTypeTimestamp is a nanosecond-resolution wall-clock axis.
	TimeTypeTimestamp
)

func (t TimeType) String() string {
	switch t {
	case TimeTypeSequence:
		return "sequence"
	case TimeTypeTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// TimeInt is the scalar value on a Timeline. MinTime and MaxTime are
// reserved inclusive sentinels meaning "open-ended" at that bound.
type TimeInt int64

const (
	MinTime TimeInt = -1 << 63
	MaxTime TimeInt = (1 << 63) - 1
)

// StaticName is the implicit timeline every store carries for the
// timeless overlay. It is never present in a Chunk's timeline set; it is
// used only to name the static query path in logs and diagnostics.
const StaticName = "static"

// Timeline is a named integer ordering axis, per-store.
type Timeline struct {
	Name string
	Type TimeType
}

// New creates a Timeline descriptor.
func New(name string, typ TimeType) Timeline { return Timeline{Name: name, Type: typ} }

func (t Timeline) String() string { return t.Name }

// Range is an inclusive [Min, Max] interval on a timeline.
type Range struct {
	Min TimeInt
	Max TimeInt
}

// Everything is the range that matches every TimeInt.
var Everything = Range{Min: MinTime, Max: MaxTime}

// Contains reports whether t falls within the inclusive range.
func (r Range) Contains(t TimeInt) bool { return t >= r.Min && t <= r.Max }

// IsEmpty reports whether the range contains no values.
func (r Range) IsEmpty() bool { return r.Min > r.Max }
