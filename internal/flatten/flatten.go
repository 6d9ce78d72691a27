// Package flatten maps nested records to single-level records and back.
//
// Flat keys join object field names with a separator and mark array
// positions with bracketed indices:
//
//	{"region": {"loc": "NSW"}, "phones": [{"type": "mobile"}]}
//
// flattens (separator ".", arrays expanded) to
//
//	{"region.loc": "NSW", "phones[0].type": "mobile"}
//
// Unflatten reverses the mapping. For a fixed separator,
// Unflatten(Flatten(v)) == v when both objects and arrays are expanded.
package flatten

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/JonMunkholm/csvjson/internal/record"
)

// DefaultSeparator joins nested field names.
const DefaultSeparator = "."

// ErrOverrideExhausted is returned when a record has more leaves than the
// override key list has names.
var ErrOverrideExhausted = errors.New("flatten: more leaf values than override keys")

// ErrDuplicateKey is returned by Keys when two paths flatten to the same key,
// as {"a":{"b":1},"a.b":2} does with the "." separator.
var ErrDuplicateKey = errors.New("flatten: duplicate flattened key")

// Options controls Flatten and Keys.
type Options struct {
	// Objects expands nested objects into separator-joined keys. When false
	// a nested object is stored JSON-encoded under its parent key.
	Objects bool

	// Arrays expands arrays into name[index] keys. When false an array is
	// stored JSON-encoded under its parent key.
	Arrays bool

	// Separator joins nested names. Empty means DefaultSeparator.
	Separator string

	// Prefix is prepended (with Separator) to every top-level key.
	Prefix string

	// OverrideKeys, when non-empty, renames the n-th emitted leaf to
	// OverrideKeys[n], counting leaves in traversal order across the whole
	// record.
	OverrideKeys []string
}

func (o Options) separator() string {
	if o.Separator == "" {
		return DefaultSeparator
	}
	return o.Separator
}

// Flatten returns a single-level copy of obj.
func Flatten(obj *record.Object, opts Options) (*record.Object, error) {
	out := record.NewObject(obj.Len())
	pos := 0

	emit := func(key string, v any) error {
		if len(opts.OverrideKeys) > 0 {
			if pos >= len(opts.OverrideKeys) {
				return fmt.Errorf("%w: leaf %d (%s), %d keys", ErrOverrideExhausted, pos, key, len(opts.OverrideKeys))
			}
			key = opts.OverrideKeys[pos]
		}
		pos++
		out.Set(key, v)
		return nil
	}

	w := walker{opts: opts, sep: opts.separator(), emit: emit}
	if err := w.object(opts.Prefix, obj); err != nil {
		return nil, err
	}
	return out, nil
}

// Keys returns the flat key paths Flatten would produce for obj, in order,
// ignoring OverrideKeys. It is used to derive a CSV header from a template
// and fails with ErrDuplicateKey when two paths collide.
func Keys(obj *record.Object, opts Options) ([]string, error) {
	keys := make([]string, 0, obj.Len())
	seen := make(map[string]struct{}, obj.Len())
	w := walker{
		opts: opts,
		sep:  opts.separator(),
		emit: func(key string, _ any) error {
			if _, dup := seen[key]; dup {
				return fmt.Errorf("%w %q", ErrDuplicateKey, key)
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
			return nil
		},
	}
	if err := w.object(opts.Prefix, obj); err != nil {
		return nil, err
	}
	return keys, nil
}

type walker struct {
	opts Options
	sep  string
	emit func(key string, v any) error
}

func (w walker) join(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + w.sep + key
}

func (w walker) object(parent string, obj *record.Object) error {
	for _, k := range obj.Keys() {
		v, _ := obj.Get(k)
		if err := w.value(w.join(parent, k), v); err != nil {
			return err
		}
	}
	return nil
}

func (w walker) value(key string, v any) error {
	switch t := v.(type) {
	case *record.Object:
		if !w.opts.Objects {
			return w.emit(key, embed(t))
		}
		if t.Len() == 0 {
			return w.emit(key, t)
		}
		return w.object(key, t)

	case []any:
		if !w.opts.Arrays {
			return w.emit(key, embed(t))
		}
		if len(t) == 0 {
			return w.emit(key, t)
		}
		for i, item := range t {
			if err := w.element(indexKey(key, i), item); err != nil {
				return err
			}
		}
		return nil

	default:
		return w.emit(key, v)
	}
}

// element expands an array member. Object members always contribute their
// own fields, even when nested objects are otherwise embedded.
func (w walker) element(key string, item any) error {
	if obj, ok := item.(*record.Object); ok && obj.Len() > 0 {
		return w.object(key, obj)
	}
	return w.value(key, item)
}

func indexKey(key string, i int) string {
	return key + "[" + strconv.Itoa(i) + "]"
}

// embed JSON-encodes a container for storage in a single cell.
func embed(v any) any {
	b, err := record.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
