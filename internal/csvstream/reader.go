// Package csvstream reads delimited text files one typed row at a time.
//
// A Reader resolves column names and types when it is opened, so every
// configuration problem is reported by Open before any row is read:
//
//	r, err := csvstream.Open("rows.csv.gz", csvstream.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//	for r.Next() {
//		use(r.Row())
//	}
//	return r.Err()
//
// Type inference needs two passes over the file. The second pass closes
// and reopens the file rather than seeking, so compressed and UTF-16/32
// inputs restart cleanly at offset 0.
package csvstream

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/JonMunkholm/csvjson/internal/fileio"
	"github.com/JonMunkholm/csvjson/internal/flatten"
	"github.com/JonMunkholm/csvjson/internal/record"
	"github.com/JonMunkholm/csvjson/internal/textenc"
)

// Reader is a pull iterator over the rows of one file.
type Reader struct {
	path   string
	opts   Options
	enc    textenc.Encoding
	header []string
	types  []ColumnType // nil when cells stay strings

	src   io.ReadCloser
	count *textenc.CountingReader
	csv   *csv.Reader
	next  int // index of the next physical data row

	row   *record.Object
	index int
	err   error
	done  bool
}

// Open prepares a reader for path. Compressed inputs are recognised by
// suffix.
func Open(path string, opts Options) (*Reader, error) {
	opts.normalize()
	r := &Reader{path: path, opts: opts, index: -1}

	if !opts.HasHeader && len(opts.ColumnNames) == 0 && !r.namesFromTypes() && !opts.GenerateColumnNames {
		return nil, r.configErr(ErrNoColumnNames, "no header line and no column names")
	}

	enc, err := resolveEncoding(path, opts.Encoding)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	r.enc = enc

	if err := r.open(); err != nil {
		return nil, err
	}
	if err := r.init(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) namesFromTypes() bool {
	return r.opts.UseTypes && len(r.opts.ColumnTypes) > 0
}

func (r *Reader) configErr(err error, format string, args ...any) error {
	return &ConfigError{Path: r.path, Err: err, Detail: fmt.Sprintf(format, args...)}
}

func resolveEncoding(path string, enc textenc.Encoding) (textenc.Encoding, error) {
	if enc != textenc.Check {
		return enc, nil
	}
	f, err := fileio.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	prefix, err := textenc.ReadPrefix(f)
	if err != nil {
		return "", err
	}
	return textenc.SniffCSV(prefix), nil
}

// open (re)starts the stream at offset 0.
func (r *Reader) open() error {
	if r.src != nil {
		r.src.Close()
		r.src = nil
	}

	src, err := fileio.Open(r.path)
	if err != nil {
		return err
	}
	count := textenc.NewCountingReader(src)
	text, err := textenc.NewDecoder(count, r.enc)
	if err != nil {
		src.Close()
		return &ConfigError{Path: r.path, Err: err}
	}

	cr := csv.NewReader(text)
	cr.Comma = r.opts.Comma
	cr.Comment = r.opts.Comment
	cr.LazyQuotes = r.opts.LazyQuotes
	cr.TrimLeadingSpace = r.opts.TrimLeadingSpace
	cr.FieldsPerRecord = -1

	r.src = src
	r.count = count
	r.csv = cr
	r.next = 0
	return nil
}

// init resolves the header and type map.
func (r *Reader) init() error {
	first, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return r.configErr(ErrEmptyInput, "expected a first line to size columns")
	}
	if err != nil {
		return fmt.Errorf("csv %s: read first line: %w", r.path, err)
	}

	names := r.opts.ColumnNames
	if len(names) == 0 && r.namesFromTypes() {
		names = r.opts.ColumnTypes.Names()
	}

	switch {
	case len(names) > 0:
		if len(first) != len(names) {
			return r.configErr(ErrColumnCount, "file has %d columns, %d names supplied", len(first), len(names))
		}
		r.header = append([]string(nil), names...)
	case r.opts.HasHeader:
		r.header = first
	default:
		r.header = make([]string, len(first))
		for i := range first {
			r.header[i] = strconv.Itoa(i)
		}
	}

	if !r.opts.HasHeader {
		if err := r.open(); err != nil {
			return err
		}
	}

	if !r.opts.UseTypes {
		return nil
	}
	if len(r.opts.ColumnTypes) > 0 {
		return r.declaredTypes()
	}
	return r.inferTypes()
}

func (r *Reader) declaredTypes() error {
	if len(r.opts.ColumnTypes) != len(r.header) {
		return r.configErr(ErrTypeCount, "%d columns, %d types supplied", len(r.header), len(r.opts.ColumnTypes))
	}
	r.types = make([]ColumnType, len(r.header))
	for i, name := range r.header {
		t, ok := r.opts.ColumnTypes.Lookup(name)
		if !ok {
			return r.configErr(ErrTypeCount, "column %q has no type", name)
		}
		r.types[i] = t
	}
	return nil
}

func (r *Reader) inferTypes() error {
	sample := make([][]string, 0, SampleSize)
	for len(sample) < SampleSize {
		rec, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("csv %s: sample rows: %w", r.path, err)
		}
		sample = append(sample, rec)
	}

	inferred := Infer(r.header, sample)
	r.types = make([]ColumnType, len(inferred))
	for i, spec := range inferred {
		r.types[i] = spec.Type
	}

	if err := r.open(); err != nil {
		return err
	}
	if r.opts.HasHeader {
		if _, err := r.csv.Read(); err != nil {
			return fmt.Errorf("csv %s: skip header: %w", r.path, err)
		}
	}
	return nil
}

// Header returns the resolved column names.
func (r *Reader) Header() []string { return r.header }

// Types returns the resolved column types, or nil when cells stay strings.
func (r *Reader) Types() ColumnTypes {
	if r.types == nil {
		return nil
	}
	out := make(ColumnTypes, len(r.header))
	for i, name := range r.header {
		out[i] = ColumnSpec{Name: name, Type: r.types[i]}
	}
	return out
}

// Encoding returns the encoding the file is read with.
func (r *Reader) Encoding() textenc.Encoding { return r.enc }

// BytesRead returns the decompressed source bytes consumed by the current
// pass over the file. Reads run ahead of Next, so it reaches the source size
// only at end of input.
func (r *Reader) BytesRead() int64 {
	if r.count == nil {
		return 0
	}
	return r.count.BytesRead
}

// Next advances to the next row that passes the predicate. It returns
// false at end of input or on error; check Err.
func (r *Reader) Next() bool {
	if r.done {
		return false
	}

	for {
		rec, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			return r.finish(nil)
		}
		if err != nil {
			return r.finish(fmt.Errorf("csv %s: row %d: %w", r.path, r.next, err))
		}

		idx := r.next
		r.next++

		row, err := r.build(idx, rec)
		if err != nil {
			return r.finish(err)
		}

		if pred := r.opts.Predicate; pred != nil {
			row = flatten.UnwrapEmbedded(row, r.opts.Separator)
			if !pred(idx, row) {
				continue
			}
		}

		r.row = row
		r.index = idx
		return true
	}
}

// build zips a record against the header. Surplus cells are dropped and
// missing cells are absent from the row.
func (r *Reader) build(idx int, rec []string) (*record.Object, error) {
	n := min(len(r.header), len(rec))
	row := record.NewObject(n)
	for i := 0; i < n; i++ {
		cell := rec[i]
		if cell == "" {
			row.Set(r.header[i], nil)
			continue
		}
		if r.types == nil {
			row.Set(r.header[i], cell)
			continue
		}
		v, err := r.types[i].Convert(cell)
		if err != nil {
			return nil, &ConversionError{Row: idx, Column: r.header[i], Value: cell, Type: r.types[i], Err: err}
		}
		row.Set(r.header[i], v)
	}
	return row, nil
}

func (r *Reader) finish(err error) bool {
	r.done = true
	r.row = nil
	r.err = err
	r.Close()
	return false
}

// Row returns the current row. The reader does not reuse it.
func (r *Reader) Row() *record.Object { return r.row }

// Index returns the 0-based data row index of the current row.
func (r *Reader) Index() int { return r.index }

// Err returns the error that stopped iteration, if any.
func (r *Reader) Err() error { return r.err }

// Close releases the file. It is safe to call more than once.
func (r *Reader) Close() error {
	if r.src == nil {
		return nil
	}
	err := r.src.Close()
	r.src = nil
	return err
}
