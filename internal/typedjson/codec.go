// Package typedjson stores values JSON has no type for (sets, tuples,
// paths, timestamps, byte strings, errors) as tagged wrapper objects and
// restores them on load:
//
//	{"__type__": "Set", "value": [1, 2, 3]}
//
// Without type hints the same values are written in their plain form and
// read back as ordinary JSON.
package typedjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/csvjson/internal/record"
)

// Wrapper field names.
const (
	TypeField  = "__type__"
	ValueField = "value"
)

// Tags written by Serialize.
const (
	TagSet          = "Set"
	TagTuple        = "Tuple"
	TagPath         = "Path"
	TagTimestamp    = "Timestamp"
	TagByteString   = "ByteString"
	TagErrorMessage = "ErrorMessage"
)

// Restorer rebuilds a typed value from a wrapper's (already restored)
// inner value. Returning an error keeps the inner value as is.
type Restorer func(value any) (any, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Restorer{}
)

// Register adds or replaces the restorer for tag.
func Register(tag string, fn Restorer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[tag] = fn
}

func lookup(tag string) (Restorer, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[tag]
	return fn, ok
}

func init() {
	for _, tag := range []string{TagSet, "set"} {
		Register(tag, restoreSet)
	}
	for _, tag := range []string{TagTuple, "tuple"} {
		Register(tag, restoreTuple)
	}
	Register(TagPath, func(v any) (any, error) {
		s, err := asString(v)
		return Path(s), err
	})
	for _, tag := range []string{TagTimestamp, "datetime"} {
		Register(tag, restoreTime)
	}
	for _, tag := range []string{TagByteString, "bytes"} {
		Register(tag, func(v any) (any, error) {
			s, err := asString(v)
			return []byte(s), err
		})
	}
	for _, tag := range []string{TagErrorMessage, "Exception"} {
		Register(tag, func(v any) (any, error) {
			s, err := asString(v)
			return errors.New(s), err
		})
	}
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func restoreSet(v any) (any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	return NewSet(arr...), nil
}

func restoreTuple(v any) (any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	return Tuple(arr), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

func restoreTime(v any) (any, error) {
	s, err := asString(v)
	if err != nil {
		return nil, err
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised timestamp %q", s)
}

// Serialize converts v into a tree of JSON-ready values (*record.Object,
// []any and scalars). With hints, typed values become wrapper objects;
// without, they become their plain form. Maps with string keys are
// written with sorted keys.
func Serialize(v any, hints bool) (any, error) {
	wrap := func(tag string, inner any) any {
		if !hints {
			return inner
		}
		return record.FromPairs(TypeField, tag, ValueField, inner)
	}

	switch t := v.(type) {
	case nil, bool, string, int64, float64, json.Number:
		return v, nil
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64, float32:
		return normalize(t), nil

	case *record.Object:
		out := record.NewObject(t.Len())
		for _, k := range t.Keys() {
			inner, _ := t.Get(k)
			sv, err := Serialize(inner, hints)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out.Set(k, sv)
		}
		return out, nil

	case []any:
		return serializeSlice(t, hints)

	case Set:
		items, err := serializeSlice(t.Items(), hints)
		if err != nil {
			return nil, err
		}
		return wrap(TagSet, items), nil

	case Tuple:
		items, err := serializeSlice(t, hints)
		if err != nil {
			return nil, err
		}
		return wrap(TagTuple, items), nil

	case Path:
		return wrap(TagPath, string(t)), nil

	case time.Time:
		return wrap(TagTimestamp, t.Format(time.RFC3339Nano)), nil

	case []byte:
		return wrap(TagByteString, strings.ToValidUTF8(string(t), "�")), nil

	case error:
		return wrap(TagErrorMessage, t.Error()), nil
	}

	return serializeReflect(v, hints)
}

func serializeSlice(items []any, hints bool) ([]any, error) {
	out := make([]any, len(items))
	for i, it := range items {
		sv, err := Serialize(it, hints)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = sv
	}
	return out, nil
}

// serializeReflect handles typed slices and string-keyed maps.
func serializeReflect(v any, hints bool) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return serializeSlice(items, hints)

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		slices.Sort(keys)
		out := record.NewObject(len(keys))
		for _, k := range keys {
			inner := rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface()
			sv, err := Serialize(inner, hints)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out.Set(k, sv)
		}
		return out, nil

	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return Serialize(rv.Elem().Interface(), hints)
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

// Deserialize reverses Serialize. Wrapper objects with a registered tag are
// restored; unknown tags and restorer failures yield the inner value.
func Deserialize(v any) any {
	switch t := v.(type) {
	case *record.Object:
		tag, hasTag := t.Get(TypeField)
		inner, hasValue := t.Get(ValueField)
		if hasTag && hasValue {
			inner = Deserialize(inner)
			name, _ := tag.(string)
			fn, ok := lookup(name)
			if !ok {
				return inner
			}
			restored, err := fn(inner)
			if err != nil {
				return inner
			}
			return restored
		}

		out := record.NewObject(t.Len())
		t.Range(func(k string, inner any) bool {
			out.Set(k, Deserialize(inner))
			return true
		})
		return out

	case []any:
		out := make([]any, len(t))
		for i, it := range t {
			out[i] = Deserialize(it)
		}
		return out

	default:
		return v
	}
}
