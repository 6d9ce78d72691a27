package flatten

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JonMunkholm/csvjson/internal/record"
)

// indexedSegment matches "name[0]", "name[0][2]" and "[3]".
var (
	indexedSegment = regexp.MustCompile(`^(.*?)((?:\[\d+\])+)$`)
	indexPart      = regexp.MustCompile(`\[(\d+)\]`)
)

// Unflatten rebuilds a nested record from flat keys. Each key is split on
// sep into segments; a segment ending in [n] addresses an array element.
// Missing intermediate objects are created on first use and arrays grow to
// the largest index seen, padding unfilled slots with empty objects.
//
// When a key needs a container where an earlier key stored a scalar, the
// container replaces the scalar.
func Unflatten(flat *record.Object, sep string) *record.Object {
	if sep == "" {
		sep = DefaultSeparator
	}

	root := record.NewObject(flat.Len())
	flat.Range(func(key string, value any) bool {
		assign(root, strings.Split(key, sep), value)
		return true
	})
	return root
}

func assign(cursor *record.Object, parts []string, value any) {
	for i, part := range parts {
		last := i == len(parts)-1
		name, idxs := splitSegment(part)

		if idxs == nil {
			if last {
				cursor.Set(name, value)
				return
			}
			cursor = childObject(cursor, name)
			continue
		}

		existing, _ := cursor.Get(name)
		arr, _ := existing.([]any)
		arr, next := descend(arr, idxs, last, value)
		cursor.Set(name, arr)
		if last {
			return
		}
		cursor = next
	}
}

// childObject returns the object stored under name, creating it if absent.
func childObject(parent *record.Object, name string) *record.Object {
	if v, ok := parent.Get(name); ok {
		if obj, ok := v.(*record.Object); ok {
			return obj
		}
	}
	obj := record.NewObject(4)
	parent.Set(name, obj)
	return obj
}

// descend walks arr through the given indices, growing each level as
// needed. On the final index it either stores value (leaf) or returns the
// object at that slot for further path segments.
func descend(arr []any, idxs []int, leaf bool, value any) ([]any, *record.Object) {
	idx := idxs[0]
	for len(arr) <= idx {
		arr = append(arr, record.NewObject(0))
	}

	if len(idxs) == 1 {
		if leaf {
			arr[idx] = value
			return arr, nil
		}
		obj, ok := arr[idx].(*record.Object)
		if !ok {
			obj = record.NewObject(4)
			arr[idx] = obj
		}
		return arr, obj
	}

	inner, _ := arr[idx].([]any)
	inner, obj := descend(inner, idxs[1:], leaf, value)
	arr[idx] = inner
	return arr, obj
}

// splitSegment separates "phones[1]" into ("phones", [1]). A segment with
// no index suffix returns nil indices.
func splitSegment(part string) (string, []int) {
	m := indexedSegment.FindStringSubmatch(part)
	if m == nil {
		return part, nil
	}

	groups := indexPart.FindAllStringSubmatch(m[2], -1)
	idxs := make([]int, 0, len(groups))
	for _, g := range groups {
		n, err := strconv.Atoi(g[1])
		if err != nil {
			return part, nil
		}
		idxs = append(idxs, n)
	}
	return m[1], idxs
}
