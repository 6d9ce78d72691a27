// Package convert streams CSV files into JSON and JSON files into CSV.
//
// Both drivers hold one record in memory at a time. Output files are
// written as the input is read, so a failed conversion leaves a partial
// output behind; callers that care should write to a temporary path.
package convert

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/JonMunkholm/csvjson/internal/fileio"
	"github.com/JonMunkholm/csvjson/internal/record"
)

// ContextCheckInterval is how often (in rows) to check for context cancellation.
var ContextCheckInterval = 100

var (
	ErrNoRows         = errors.New("no rows found in input JSON")
	ErrColumnMismatch = errors.New("expected columns does not equal actual columns")
	ErrNotObject      = errors.New("record is not a JSON object")
)

// Result summarises a finished conversion.
type Result struct {
	Rows         int64    `json:"rows"`
	Skipped      int64    `json:"skipped"` // unparseable NDJSON lines
	Columns      []string `json:"columns,omitempty"`
	BytesRead    int64    `json:"bytes_read"` // decompressed input bytes
	BytesWritten int64    `json:"bytes_written"`
	Checksum     uint64   `json:"checksum"` // xxhash64 of the uncompressed output
}

// ChecksumHex renders Checksum for display.
func (r Result) ChecksumHex() string { return fileio.FormatChecksum(r.Checksum) }

// Progress is called every ContextCheckInterval rows with the number of
// rows written so far.
type Progress func(rows int64)

// StructureError reports a JSON record whose shape differs from the first
// record's. Row is 0 for the first record and counts every record read.
type StructureError struct {
	Row      int
	Expected int
	Actual   int
	Missing  []string
	Extra    []string
	Err      error
}

func (e *StructureError) Error() string {
	msg := fmt.Sprintf("row %d: %v (expected %d, got %d)", e.Row, e.Err, e.Expected, e.Actual)
	if len(e.Missing) > 0 {
		msg += fmt.Sprintf(", missing %q", e.Missing)
	}
	if len(e.Extra) > 0 {
		msg += fmt.Sprintf(", unexpected %q", e.Extra)
	}
	return msg
}

func (e *StructureError) Unwrap() error { return e.Err }

// checkpoint reports cancellation and progress every ContextCheckInterval
// rows.
func checkpoint(ctx context.Context, rows int64, progress Progress) error {
	if ContextCheckInterval <= 0 || rows%int64(ContextCheckInterval) != 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("conversion cancelled after %d rows: %w", rows, err)
	}
	if progress != nil && rows > 0 {
		progress(rows)
	}
	return nil
}

// FormatCell renders a flattened value as CSV cell text. Nested values
// that were not expanded are written as JSON.
func FormatCell(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case int:
		return strconv.Itoa(t), nil
	case float64:
		return record.FormatFloat(t), nil
	default:
		b, err := record.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
