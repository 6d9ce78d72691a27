package convert

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/csvjson/internal/fileio"
	"github.com/JonMunkholm/csvjson/internal/flatten"
	"github.com/JonMunkholm/csvjson/internal/jsonstream"
	"github.com/JonMunkholm/csvjson/internal/record"
	"github.com/JonMunkholm/csvjson/internal/textenc"
)

// JSONToCSVOptions configures JSONToCSV.
type JSONToCSVOptions struct {
	Reader jsonstream.Options

	// FieldNames replaces the header derived from the first record. Its
	// length must match the first record's column count.
	FieldNames []string

	// Flatten expands nested objects into separator-joined columns. When
	// false, nested objects and arrays are written as JSON text.
	Flatten bool

	// FlattenArrays also expands arrays into name[i] columns. It only
	// applies with Flatten.
	FlattenArrays bool

	Separator      string
	OutputEncoding textenc.Encoding
	Comma          rune

	Progress Progress
}

// DefaultJSONToCSVOptions flattens objects, embeds arrays and writes
// comma separated UTF-8.
func DefaultJSONToCSVOptions() JSONToCSVOptions {
	return JSONToCSVOptions{
		Reader:         jsonstream.DefaultOptions(),
		Flatten:        true,
		Separator:      flatten.DefaultSeparator,
		OutputEncoding: textenc.UTF8,
		Comma:          ',',
	}
}

func (o JSONToCSVOptions) flattenOptions() flatten.Options {
	return flatten.Options{
		Objects:   o.Flatten,
		Arrays:    o.Flatten && o.FlattenArrays,
		Separator: o.Separator,
	}
}

// rowWriter writes flattened records in the first record's column order.
type rowWriter struct {
	csv     *csv.Writer
	opts    flatten.Options
	columns []string // natural flattened keys of the first record
	cells   []string
}

// JSONToCSV converts the JSON source at in into CSV at out. The first
// record fixes the columns; every later record must flatten to the same
// set of keys or the conversion stops with a *StructureError.
func JSONToCSV(ctx context.Context, in, out string, opts JSONToCSVOptions) (res Result, err error) {
	if opts.Separator == "" {
		opts.Separator = flatten.DefaultSeparator
	}
	if opts.OutputEncoding == "" {
		opts.OutputEncoding = textenc.UTF8
	}
	if opts.Comma == 0 {
		opts.Comma = ','
	}

	r, err := jsonstream.Open(in, opts.Reader)
	if err != nil {
		return res, err
	}
	defer r.Close()

	if !r.Next() {
		if err := r.Err(); err != nil {
			return res, err
		}
		return res, ErrNoRows
	}

	first, err := asObject(r.Value(), 0)
	if err != nil {
		return res, err
	}

	rw := &rowWriter{opts: opts.flattenOptions()}
	if rw.columns, err = flatten.Keys(first, rw.opts); err != nil {
		return res, fmt.Errorf("row 0: %w", err)
	}
	header := rw.columns
	if len(opts.FieldNames) > 0 {
		if len(opts.FieldNames) != len(rw.columns) {
			return res, &StructureError{Row: 0, Expected: len(opts.FieldNames), Actual: len(rw.columns), Err: ErrColumnMismatch}
		}
		header = opts.FieldNames
	}
	res.Columns = header

	w, err := fileio.Create(out)
	if err != nil {
		return res, err
	}
	text, err := textenc.NewEncoder(w, opts.OutputEncoding)
	if err != nil {
		w.Close()
		return res, err
	}
	defer func() {
		err = errors.Join(err, closeOutput(rw.csv, text, w))
		res.BytesRead = r.BytesRead()
		res.BytesWritten = w.BytesWritten()
		res.Checksum = w.Checksum()
	}()

	rw.csv = csv.NewWriter(text)
	rw.csv.Comma = opts.Comma
	if err := rw.csv.Write(header); err != nil {
		return res, err
	}

	if err := rw.write(first, 0); err != nil {
		return res, err
	}
	res.Rows = 1

	for row := 1; r.Next(); row++ {
		if err := checkpoint(ctx, res.Rows, opts.Progress); err != nil {
			return res, err
		}
		obj, err := asObject(r.Value(), row)
		if err != nil {
			return res, err
		}
		if err := rw.write(obj, row); err != nil {
			return res, err
		}
		res.Rows++
	}
	if err := r.Err(); err != nil {
		return res, err
	}
	res.Skipped = int64(r.Skipped())
	return res, nil
}

func asObject(v any, row int) (*record.Object, error) {
	obj, ok := v.(*record.Object)
	if !ok {
		return nil, &StructureError{Row: row, Err: fmt.Errorf("%w (got %T)", ErrNotObject, v)}
	}
	return obj, nil
}

func (rw *rowWriter) write(obj *record.Object, row int) error {
	flat, err := flatten.Flatten(obj, rw.opts)
	if err != nil {
		return fmt.Errorf("row %d: %w", row, err)
	}
	if err := rw.check(flat, row); err != nil {
		return err
	}

	if rw.cells == nil {
		rw.cells = make([]string, len(rw.columns))
	}
	for i, key := range rw.columns {
		v, _ := flat.Get(key)
		cell, err := FormatCell(v)
		if err != nil {
			return fmt.Errorf("row %d, column %q: %w", row, key, err)
		}
		rw.cells[i] = cell
	}
	return rw.csv.Write(rw.cells)
}

func (rw *rowWriter) check(flat *record.Object, row int) error {
	var missing, extra []string
	for _, key := range rw.columns {
		if !flat.Has(key) {
			missing = append(missing, key)
		}
	}
	if flat.Len() != len(rw.columns) || len(missing) > 0 {
		expected := make(map[string]struct{}, len(rw.columns))
		for _, key := range rw.columns {
			expected[key] = struct{}{}
		}
		for _, key := range flat.Keys() {
			if _, ok := expected[key]; !ok {
				extra = append(extra, key)
			}
		}
		return &StructureError{
			Row:      row,
			Expected: len(rw.columns),
			Actual:   flat.Len(),
			Missing:  missing,
			Extra:    extra,
			Err:      ErrColumnMismatch,
		}
	}
	return nil
}

func closeOutput(cw *csv.Writer, text io.WriteCloser, w *fileio.Writer) error {
	var errs []error
	if cw != nil {
		cw.Flush()
		errs = append(errs, cw.Error())
	}
	errs = append(errs, text.Close(), w.Close())
	return errors.Join(errs...)
}
