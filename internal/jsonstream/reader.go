// Package jsonstream reads JSON sources one value at a time: either a
// single top-level array, whose elements are decoded incrementally, or
// newline-delimited JSON, one value per line.
//
// Array sources must be UTF-8 (optionally BOM-prefixed). Newline-delimited
// sources may be UTF-8, UTF-16 or UTF-32; lines that do not parse are
// skipped.
package jsonstream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/csvjson/internal/fileio"
	"github.com/JonMunkholm/csvjson/internal/record"
	"github.com/JonMunkholm/csvjson/internal/textenc"
)

// Predicate decides whether a value is yielded. index counts array
// elements, or physical lines in newline-delimited sources.
type Predicate func(index int, v any) bool

// Options configures a Reader.
type Options struct {
	Encoding  textenc.Encoding // or textenc.Check to sniff a BOM
	Format    Format
	Predicate Predicate
}

// DefaultOptions reads UTF-8 and detects the format.
func DefaultOptions() Options {
	return Options{Encoding: textenc.UTF8, Format: FormatAuto}
}

// Reader is a pull iterator over the values of one JSON source.
type Reader struct {
	path   string
	enc    textenc.Encoding
	format Format
	pred   Predicate

	src   io.ReadCloser
	count *textenc.CountingReader
	dec   *json.Decoder // array mode
	lines *bufio.Reader // ndjson mode
	next  int

	value   any
	index   int
	skipped int
	err     error
	done    bool
}

// Open resolves encoding and format and positions the reader before the
// first value. Configuration problems are returned as *ConfigError.
func Open(path string, opts Options) (*Reader, error) {
	if opts.Encoding == "" {
		opts.Encoding = textenc.UTF8
	}
	format, err := ParseFormat(string(opts.Format))
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	enc, skip := opts.Encoding, 0
	if enc == textenc.Check {
		if enc, skip, err = sniffFile(path); err != nil {
			return nil, err
		}
	}

	if format == FormatAuto {
		if format, err = detectFormat(path, enc); err != nil {
			return nil, &ConfigError{Path: path, Err: err}
		}
	}

	r := &Reader{path: path, enc: enc, format: format, pred: opts.Predicate, index: -1}
	switch format {
	case FormatArray:
		if !enc.IsUTF8() {
			return nil, &ConfigError{Path: path, Err: fmt.Errorf("%w, got %s", ErrArrayEncoding, enc)}
		}
		err = r.openArray(skip)
	default:
		err = r.openLines()
	}
	if err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func sniffFile(path string) (textenc.Encoding, int, error) {
	f, err := fileio.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	prefix, err := textenc.ReadPrefix(f)
	if err != nil {
		return "", 0, err
	}
	enc, skip := textenc.SniffJSON(prefix)
	return enc, skip, nil
}

func (r *Reader) openArray(skip int) error {
	src, err := fileio.Open(r.path)
	if err != nil {
		return err
	}
	r.src = src
	r.count = textenc.NewCountingReader(src)

	var in io.Reader = r.count
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, r.count, int64(skip)); err != nil {
			return err
		}
	} else if r.enc == textenc.UTF8BOM {
		in = textenc.NewBOMSkippingReader(r.count)
	}

	r.dec = record.NewDecoder(in)
	tok, err := r.dec.Token()
	if errors.Is(err, io.EOF) {
		return &ConfigError{Path: r.path, Err: ErrNotArray}
	}
	if err != nil {
		return fmt.Errorf("json %s: %w", r.path, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return &ConfigError{Path: r.path, Err: ErrNotArray}
	}
	return nil
}

func (r *Reader) openLines() error {
	src, err := fileio.Open(r.path)
	if err != nil {
		return err
	}
	r.src = src
	r.count = textenc.NewCountingReader(src)

	text, err := textenc.NewDecoder(r.count, r.enc)
	if err != nil {
		return &ConfigError{Path: r.path, Err: err}
	}
	r.lines = bufio.NewReaderSize(text, 64*1024)
	return nil
}

// Format returns the resolved source format.
func (r *Reader) Format() Format { return r.format }

// Encoding returns the resolved source encoding.
func (r *Reader) Encoding() textenc.Encoding { return r.enc }

// BytesRead returns the decompressed source bytes consumed so far, BOM
// included. It reaches the source size only at end of input.
func (r *Reader) BytesRead() int64 {
	if r.count == nil {
		return 0
	}
	return r.count.BytesRead
}

// Next advances to the next value that passes the predicate.
func (r *Reader) Next() bool {
	if r.done {
		return false
	}
	for {
		v, ok, err := r.read()
		if errors.Is(err, errBadLine) {
			r.next++
			r.skipped++
			continue
		}
		if err != nil {
			return r.finish(err)
		}
		if !ok {
			return r.finish(nil)
		}

		idx := r.next
		r.next++
		if r.pred != nil && !r.pred(idx, v) {
			continue
		}
		r.value = v
		r.index = idx
		return true
	}
}

// errBadLine marks a newline-delimited line that did not parse.
var errBadLine = errors.New("unparseable line")

func (r *Reader) read() (any, bool, error) {
	if r.dec != nil {
		if !r.dec.More() {
			if _, err := r.dec.Token(); err != nil {
				return nil, false, fmt.Errorf("json %s: element %d: %w", r.path, r.next, err)
			}
			return nil, false, nil
		}
		v, err := record.Decode(r.dec)
		if err != nil {
			return nil, false, fmt.Errorf("json %s: element %d: %w", r.path, r.next, err)
		}
		return v, true, nil
	}

	line, err := r.lines.ReadBytes('\n')
	if errors.Is(err, io.EOF) {
		if len(line) == 0 {
			return nil, false, nil
		}
	} else if err != nil {
		return nil, false, fmt.Errorf("json %s: line %d: %w", r.path, r.next+1, err)
	}

	v, perr := record.Parse(bytes.TrimSpace(line))
	if perr != nil {
		return nil, false, errBadLine
	}
	return v, true, nil
}

func (r *Reader) finish(err error) bool {
	r.done = true
	r.value = nil
	r.err = err
	r.Close()
	return false
}

// Value returns the current value: *record.Object, []any or a scalar.
func (r *Reader) Value() any { return r.value }

// Index returns the index of the current value.
func (r *Reader) Index() int { return r.index }

// Skipped returns how many newline-delimited lines failed to parse so far.
func (r *Reader) Skipped() int { return r.skipped }

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
