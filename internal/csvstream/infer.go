package csvstream

import (
	"fmt"
	"strconv"
	"strings"
)

// ColumnType is the scalar type cells of a column are converted to.
type ColumnType int

const (
	String ColumnType = iota
	Integer
	Float
)

func (t ColumnType) String() string {
	switch t {
	case Integer:
		return "integer"
	case Float:
		return "float"
	default:
		return "string"
	}
}

// ParseColumnType accepts the names used in configuration and form input.
func ParseColumnType(name string) (ColumnType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int", "integer", "int64":
		return Integer, nil
	case "float", "float64", "double", "number":
		return Float, nil
	case "str", "string", "text":
		return String, nil
	default:
		return String, fmt.Errorf("unknown column type %q", name)
	}
}

// Convert turns a non-empty cell into the column's Go value:
// int64, float64 or string.
func (t ColumnType) Convert(cell string) (any, error) {
	switch t {
	case Integer:
		return parseInt(cell)
	case Float:
		return parseFloat(cell)
	default:
		return cell, nil
	}
}

func parseInt(cell string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(cell), 10, 64)
}

func parseFloat(cell string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(cell), 64)
}

// ColumnSpec names a column and its type.
type ColumnSpec struct {
	Name string
	Type ColumnType
}

// ColumnTypes is an ordered column type map. It is fixed for the lifetime
// of a reader.
type ColumnTypes []ColumnSpec

// Names returns the column names in order.
func (c ColumnTypes) Names() []string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name
	}
	return names
}

// Lookup returns the type declared for name.
func (c ColumnTypes) Lookup(name string) (ColumnType, bool) {
	for _, s := range c {
		if s.Name == name {
			return s.Type, true
		}
	}
	return String, false
}

// Infer derives a type per header column from sampled raw rows. A column is
// Integer when every sampled value parses as an integer, Float when every
// value parses as a number and at least one is not an integer, and String
// otherwise. An empty cell parses as neither number, so it makes the column
// String. Rows shorter than the header are ignored and a column with no
// sampled values is String.
func Infer(header []string, sample [][]string) ColumnTypes {
	types := make(ColumnTypes, len(header))
	for i, name := range header {
		var sawInt, sawFloat, sawString bool
		for _, row := range sample {
			if i >= len(row) {
				continue
			}
			if _, err := parseInt(row[i]); err == nil {
				sawInt = true
			} else if _, err := parseFloat(row[i]); err == nil {
				sawFloat = true
			} else {
				sawString = true
			}
		}

		t := String
		switch {
		case sawString:
		case sawFloat:
			t = Float
		case sawInt:
			t = Integer
		}
		types[i] = ColumnSpec{Name: name, Type: t}
	}
	return types
}
