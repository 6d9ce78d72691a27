package flatten

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/csvjson/internal/record"
)

// UnwrapEmbedded returns a copy of row in which every string field holding
// a JSON (or literal-style) object is replaced by that object's flattened
// fields, keyed under the original field name:
//
//	{"meta": "{\"a\": 1}"}  ->  {"meta.a": 1}
//
// Fields that do not parse to a non-empty object are kept as they are.
func UnwrapEmbedded(row *record.Object, sep string) *record.Object {
	out := record.NewObject(row.Len())
	row.Range(func(key string, v any) bool {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(strings.TrimSpace(s), "{") {
			out.Set(key, v)
			return true
		}

		obj, ok := ParseMaybe(s).(*record.Object)
		if !ok || obj.Len() == 0 {
			out.Set(key, v)
			return true
		}

		flat, err := Flatten(obj, Options{Objects: true, Arrays: true, Separator: sep, Prefix: key})
		if err != nil {
			out.Set(key, v)
			return true
		}
		flat.Range(func(k string, fv any) bool {
			out.Set(k, fv)
			return true
		})
		return true
	})
	return out
}

// ParseMaybe turns a string that looks like a serialized structure back into
// a value. JSON is tried first, then literal syntax of the kind Python's
// repr produces ({'a': 1}, ['x'], (1, 2), True, None). Anything else,
// including non-strings, is returned unchanged.
func ParseMaybe(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}

	if looksStructured(trimmed) {
		if parsed, err := record.ParseString(trimmed); err == nil {
			return parsed
		}
	}
	if parsed, ok := parseLiteral(trimmed); ok {
		return parsed
	}
	return s
}

func looksStructured(s string) bool {
	switch s[0] {
	case '{', '[', '"':
		return true
	}
	return false
}

func parseLiteral(s string) (any, bool) {
	switch s {
	case "True":
		return true, true
	case "False":
		return false, true
	case "None":
		return nil, true
	}

	switch s[0] {
	case '{', '[', '\'':
	case '(':
		if !strings.HasSuffix(s, ")") {
			return nil, false
		}
		s = "[" + s[1:len(s)-1] + "]"
	default:
		return nil, false
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil {
		return nil, false
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, false
	}
	return fromYAML(doc.Content[0])
}

// fromYAML converts a flow-style YAML node into record values.
func fromYAML(n *yaml.Node) (any, bool) {
	switch n.Kind {
	case yaml.MappingNode:
		obj := record.NewObject(len(n.Content) / 2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, false
			}
			val, ok := fromYAML(v)
			if !ok {
				return nil, false
			}
			obj.Set(k.Value, val)
		}
		return obj, true

	case yaml.SequenceNode:
		arr := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			val, ok := fromYAML(c)
			if !ok {
				return nil, false
			}
			arr = append(arr, val)
		}
		return arr, true

	case yaml.ScalarNode:
		return scalarFromYAML(n), true

	default:
		return nil, false
	}
}

func scalarFromYAML(n *yaml.Node) any {
	if n.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle) != 0 {
		return n.Value
	}
	switch n.Value {
	case "None":
		return nil
	case "True":
		return true
	case "False":
		return false
	}

	switch n.ShortTag() {
	case "!!null":
		return nil
	case "!!bool":
		b, err := strconv.ParseBool(strings.ToLower(n.Value))
		if err != nil {
			return n.Value
		}
		return b
	case "!!int":
		if i, err := strconv.ParseInt(n.Value, 0, 64); err == nil {
			return i
		}
		return n.Value
	case "!!float":
		if f, err := strconv.ParseFloat(n.Value, 64); err == nil {
			return f
		}
		return n.Value
	default:
		return n.Value
	}
}
