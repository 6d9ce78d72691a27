// Package record holds the in-memory shape shared by the CSV and JSON
// readers: an insertion-ordered object plus plain Go scalars and slices.
//
// A value is one of:
//
//	nil, bool, string, int64, float64   scalars
//	[]any                               arrays
//	*Object                             objects (ordered)
//
// CSV rows are *Object values whose key order is the header order.
package record

import "reflect"

// Object is a string-keyed map that remembers insertion order.
// The zero value is not usable; use NewObject.
type Object struct {
	keys   []string
	values map[string]any
}

// NewObject returns an empty object with room for n keys.
func NewObject(n int) *Object {
	return &Object{
		keys:   make([]string, 0, n),
		values: make(map[string]any, n),
	}
}

// FromPairs builds an object from alternating key/value arguments.
// It panics if a key is not a string; it is meant for literals and tests.
func FromPairs(kv ...any) *Object {
	o := NewObject(len(kv) / 2)
	for i := 0; i+1 < len(kv); i += 2 {
		o.Set(kv[i].(string), kv[i+1])
	}
	return o
}

// Set stores v under k. An existing key keeps its position.
func (o *Object) Set(k string, v any) {
	if _, ok := o.values[k]; !ok {
		o.keys = append(o.keys, k)
	}
	o.values[k] = v
}

// Get returns the value stored under k.
func (o *Object) Get(k string) (any, bool) {
	v, ok := o.values[k]
	return v, ok
}

// Has reports whether k is present.
func (o *Object) Has(k string) bool {
	_, ok := o.values[k]
	return ok
}

// Delete removes k, preserving the order of the remaining keys.
func (o *Object) Delete(k string) {
	if _, ok := o.values[k]; !ok {
		return
	}
	delete(o.values, k)
	for i, key := range o.keys {
		if key == k {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order. The slice must not be modified.
func (o *Object) Keys() []string {
	return o.keys
}

// Len returns the number of keys.
func (o *Object) Len() int {
	return len(o.keys)
}

// Range calls fn for each entry in order until fn returns false.
func (o *Object) Range(fn func(k string, v any) bool) {
	for _, k := range o.keys {
		if !fn(k, o.values[k]) {
			return
		}
	}
}

// Values returns the values in key order.
func (o *Object) Values() []any {
	out := make([]any, len(o.keys))
	for i, k := range o.keys {
		out[i] = o.values[k]
	}
	return out
}

// Map returns a plain map copy, converting nested objects recursively.
// Key order is lost.
func (o *Object) Map() map[string]any {
	out := make(map[string]any, len(o.keys))
	for _, k := range o.keys {
		out[k] = Plain(o.values[k])
	}
	return out
}

// Plain converts every *Object inside v to map[string]any.
func Plain(v any) any {
	switch t := v.(type) {
	case *Object:
		return t.Map()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Plain(item)
		}
		return out
	default:
		return v
	}
}

// Equal reports whether a and b hold the same keys in the same order with
// deeply equal values.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case *Object:
		y, ok := b.(*Object)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			if y.keys[i] != k || !Equal(x.values[k], y.values[k]) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}
