// Package fileio opens conversion inputs and outputs, transparently
// (de)compressing them based on the file suffix.
//
// Readers never seek: callers that need to re-read a source close it and
// call Open again, which restarts decompression and decoding at offset 0.
package fileio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Compression identifies a stream compression format.
type Compression string

const (
	None Compression = ""
	Gzip Compression = "gzip"
	Zstd Compression = "zstd"
	LZ4  Compression = "lz4"
	XZ   Compression = "xz"
)

var suffixes = map[string]Compression{
	".gz":   Gzip,
	".gzip": Gzip,
	".zst":  Zstd,
	".zstd": Zstd,
	".lz4":  LZ4,
	".xz":   XZ,
}

// CompressionFor returns the compression implied by path's suffix.
func CompressionFor(path string) Compression {
	return suffixes[strings.ToLower(filepath.Ext(path))]
}

// TrimCompression strips a compression suffix, so "rows.csv.gz" reports
// its inner format as ".csv".
func TrimCompression(path string) string {
	if CompressionFor(path) == None {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// Open opens path for reading and returns the uncompressed byte stream.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	rc, err := decompress(f, CompressionFor(path))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	return rc, nil
}

type readCloser struct {
	io.Reader
	closers []func() error
}

func (r *readCloser) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func decompress(f *os.File, c Compression) (io.ReadCloser, error) {
	buffered := bufio.NewReaderSize(f, 64*1024)

	switch c {
	case None:
		return &readCloser{Reader: buffered, closers: []func() error{f.Close}}, nil

	case Gzip:
		zr, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &readCloser{Reader: zr, closers: []func() error{zr.Close, f.Close}}, nil

	case Zstd:
		zr, err := zstd.NewReader(buffered, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return &readCloser{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			f.Close,
		}}, nil

	case LZ4:
		return &readCloser{Reader: lz4.NewReader(buffered), closers: []func() error{f.Close}}, nil

	case XZ:
		xr, err := xz.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("xz: %w", err)
		}
		return &readCloser{Reader: xr, closers: []func() error{f.Close}}, nil

	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
}

// Writer is an output file that tracks the number of uncompressed bytes
// written and their xxhash64 digest.
type Writer struct {
	file     *os.File
	buffered *bufio.Writer
	comp     io.WriteCloser // nil when uncompressed
	dest     io.Writer
	digest   *xxhash.Digest
	written  int64
}

// Create creates (or truncates) path, compressing by suffix.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		file:     f,
		buffered: bufio.NewWriterSize(f, 64*1024),
		digest:   xxhash.New(),
	}
	w.dest = w.buffered

	switch CompressionFor(path) {
	case None:
	case Gzip:
		w.comp = gzip.NewWriter(w.buffered)
	case Zstd:
		zw, err := zstd.NewWriter(w.buffered)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd: %w", err)
		}
		w.comp = zw
	case LZ4:
		w.comp = lz4.NewWriter(w.buffered)
	case XZ:
		xw, err := xz.NewWriter(w.buffered)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("xz: %w", err)
		}
		w.comp = xw
	}
	if w.comp != nil {
		w.dest = w.comp
	}
	return w, nil
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.dest.Write(p)
	w.written += int64(n)
	_, _ = w.digest.Write(p[:n])
	return n, err
}

// BytesWritten returns the number of uncompressed bytes written so far.
func (w *Writer) BytesWritten() int64 {
	return w.written
}

// Checksum returns the xxhash64 digest of the uncompressed bytes written.
func (w *Writer) Checksum() uint64 {
	return w.digest.Sum64()
}

// Close finishes the compressed stream, flushes and closes the file.
func (w *Writer) Close() error {
	var errs []error
	if w.comp != nil {
		if err := w.comp.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := w.buffered.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// FormatChecksum renders a digest the way results and history show it.
func FormatChecksum(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}
