// Package value provides a small tagged-variant document type used for
// provider request templates and decoded provider responses.
//
// A Value is one of Null, String, Number, Bool, List or Map. Numbers keep
// their literal text so that large integer identifiers survive a round trip
// through a provider response without float rounding.
package value

import (
	"encoding/json"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// Kind constants.
const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is an immutable-by-convention document node. The zero Value is Null.
type Value struct {
	kind Kind
	text string // string contents or number literal
	b    bool
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Number returns a number value from a float.
func Number(f float64) Value {
	return Value{kind: KindNumber, text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// Int returns a number value from an integer.
func Int(i int64) Value {
	return Value{kind: KindNumber, text: strconv.FormatInt(i, 10)}
}

// NumberLiteral returns a number value carrying the literal text as decoded.
// The caller guarantees lit is a valid JSON number.
func NumberLiteral(lit string) Value {
	return Value{kind: KindNumber, text: lit}
}

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List returns a list value holding items.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// Map returns a map value holding fields. A nil map yields an empty map.
func Map(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindMap, m: fields}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string contents when v is a String.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.text, true
}

// Float returns the numeric value when v is a Number.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.text, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Boolean returns the boolean when v is a Bool.
func (v Value) Boolean() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Items returns the list elements when v is a List.
func (v Value) Items() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// Fields returns the map entries when v is a Map.
func (v Value) Fields() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Get returns the map entry for key. It reports false when v is not a Map
// or the key is absent.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	child, ok := v.m[key]
	return child, ok
}

// Len returns the number of list items, map entries or string bytes.
func (v Value) Len() int {
	switch v.kind {
	case KindString:
		return len(v.text)
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	default:
		return 0
	}
}

// Truthy reports whether v counts as "set": a non-empty string, a non-zero
// number, true, or a non-empty list or map.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindString:
		return v.text != ""
	case KindNumber:
		f, ok := v.Float()
		return ok && f != 0
	case KindBool:
		return v.b
	case KindList:
		return len(v.list) > 0
	case KindMap:
		return len(v.m) > 0
	default:
		return false
	}
}

// Scalar reports whether v is a String or a Number, the only kinds that are
// substituted textually into a larger template string.
func (v Value) Scalar() bool {
	return v.kind == KindString || v.kind == KindNumber
}

// Text returns the textual form of v: string contents verbatim, number
// literals, "true"/"false", "" for null and compact JSON for lists and maps.
func (v Value) Text() string {
	switch v.kind {
	case KindString, KindNumber:
		return v.text
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNull:
		return ""
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// String implements fmt.Stringer.
func (v Value) String() string { return v.Text() }

// Equal reports deep equality between two values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.text == o.text
	case KindNumber:
		a, okA := v.Float()
		b, okB := o.Float()
		if okA && okB {
			return a == b
		}
		return v.text == o.text
	case KindBool:
		return v.b == o.b
	case KindList:
		return slices.EqualFunc(v.list, o.list, Value.Equal)
	case KindMap:
		return maps.EqualFunc(v.m, o.m, Value.Equal)
	}
	return false
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		out := make([]Value, len(v.list))
		for i, item := range v.list {
			out[i] = item.Clone()
		}
		return List(out...)
	case KindMap:
		out := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			out[k] = item.Clone()
		}
		return Map(out)
	default:
		return v
	}
}

// Lookup walks a dot-separated path of map keys starting at v. Any missing
// key or non-map intermediate yields (Null, false); it never panics. An
// empty path returns v itself.
func Lookup(v Value, path string) (Value, bool) {
	if path == "" {
		return v, true
	}
	current := v
	for part := range strings.SplitSeq(path, ".") {
		next, ok := current.Get(part)
		if !ok {
			return Value{}, false
		}
		current = next
	}
	return current, true
}
