// Package fieldmap declares the static binding between canonical measurement
// keys and the CRM hearing-report form controls. The table is built once at
// process start and never mutated.
package fieldmap

import "fmt"

// SelectorType is how a form control is located.
type SelectorType int

const (
	SelectorID SelectorType = iota
	SelectorName
	SelectorClass
)

// InputKind is the fill semantics of a form control.
type InputKind int

const (
	KindText InputKind = iota
	KindTextarea
	KindSelect
	KindRadio
	KindFile
)

func (k InputKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindTextarea:
		return "textarea"
	case KindSelect:
		return "select"
	case KindRadio:
		return "radio"
	case KindFile:
		return "file"
	}
	return "unknown"
}

// Entry binds one canonical data key to one target form control.
type Entry struct {
	// Key is the canonical data key looked up in the merged request fields.
	Key string

	SelectorType  SelectorType
	SelectorValue string
	Kind          InputKind

	// ValueMatch selects which radio in a group this entry represents: the
	// radio is clicked only when the request value matches it.
	ValueMatch string
}

// Locator renders the CSS locator for this entry's control.
func (e Entry) Locator() string {
	switch e.SelectorType {
	case SelectorName:
		return fmt.Sprintf(`[name=%q]`, e.SelectorValue)
	case SelectorClass:
		return "." + e.SelectorValue
	default:
		return "#" + e.SelectorValue
	}
}

// InspectorNameKey is the one mandatory form field; its absence on the page
// aborts the run.
const InspectorNameKey = "InspectorName"

// Entries returns the full field map. The returned slice is shared; callers
// must not modify it.
func Entries() []Entry {
	return entries
}

// Lookup returns the entries bound to the given key, in declaration order.
// Radio groups yield one entry per selectable value.
func Lookup(key string) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Key == key {
			out = append(out, e)
		}
	}
	return out
}
