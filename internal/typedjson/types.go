package typedjson

import (
	"cmp"
	"fmt"
	"slices"
)

// Path is a filesystem path that should come back as a Path, not a string.
type Path string

// Tuple is a fixed-size sequence that should come back as a Tuple, not a
// plain array.
type Tuple []any

// Set is an unordered collection of distinct scalars (nil, bool, int64,
// float64 or string). Integer and float32 members are normalised to int64
// and float64 so that equal JSON numbers are equal members.
type Set struct {
	items map[any]struct{}
}

// NewSet returns a set holding items.
func NewSet(items ...any) Set {
	s := Set{items: make(map[any]struct{}, len(items))}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// Add inserts v. Non-scalar members are stored by their printed form.
func (s *Set) Add(v any) {
	if s.items == nil {
		s.items = make(map[any]struct{})
	}
	s.items[normalize(v)] = struct{}{}
}

// Has reports whether v is a member.
func (s Set) Has(v any) bool {
	_, ok := s.items[normalize(v)]
	return ok
}

// Len returns the number of members.
func (s Set) Len() int { return len(s.items) }

// Equal reports whether s and o have the same members.
func (s Set) Equal(o Set) bool {
	if s.Len() != o.Len() {
		return false
	}
	for k := range s.items {
		if _, ok := o.items[k]; !ok {
			return false
		}
	}
	return true
}

// Items returns the members sorted: nil, then booleans, then numbers, then
// strings.
func (s Set) Items() []any {
	out := make([]any, 0, len(s.items))
	for k := range s.items {
		out = append(out, k)
	}
	slices.SortFunc(out, compareScalars)
	return out
}

func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint:
		return uint64(t)
	case float32:
		return float64(t)
	case nil, bool, int64, uint64, float64, string, Path:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, uint64, float64:
		return 2
	default:
		return 3
	}
}

func number(v any) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case float64:
		return t
	}
	return 0
}

func compareScalars(a, b any) int {
	if c := cmp.Compare(rank(a), rank(b)); c != 0 {
		return c
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case int64, uint64, float64:
		if c := cmp.Compare(number(a), number(b)); c != 0 {
			return c
		}
		return cmp.Compare(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
	case nil:
		return 0
	default:
		return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}
