package csvstream

import (
	"errors"
	"fmt"
)

var (
	ErrNoColumnNames = errors.New("cannot associate CSV columns with a name")
	ErrColumnCount   = errors.New("column count mismatch")
	ErrTypeCount     = errors.New("column type map does not match columns")
	ErrEmptyInput    = errors.New("file has no lines")
)

// ConfigError reports a problem found while opening a reader, before any
// row is produced.
type ConfigError struct {
	Path   string
	Detail string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("csv %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("csv %s: %v: %s", e.Path, e.Err, e.Detail)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConversionError reports a cell that does not convert to its column type.
// Row is the 0-based data row index.
type ConversionError struct {
	Row    int
	Column string
	Value  string
	Type   ColumnType
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("row %d, column %q: cannot convert %q to %s", e.Row, e.Column, e.Value, e.Type)
}

func (e *ConversionError) Unwrap() error { return e.Err }
