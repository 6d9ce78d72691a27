// Package textenc detects byte-order marks and turns UTF-8/16/32 byte
// streams into UTF-8 text (and back) without buffering whole files.
//
// Detection never fails: an unrecognised prefix yields the safe default for
// the caller's format (BOM-tolerant UTF-8 for CSV, plain UTF-8 for JSON).
package textenc

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
	"golang.org/x/text/transform"
)

// Encoding names a supported text encoding.
type Encoding string

const (
	UTF8    Encoding = "utf-8"
	UTF8BOM Encoding = "utf-8-sig" // UTF-8, leading BOM skipped when present
	UTF16   Encoding = "utf-16"    // BOM decides endianness, little-endian otherwise
	UTF32   Encoding = "utf-32"    // BOM decides endianness, little-endian otherwise

	// Check is a request value, not an encoding: sniff the BOM first.
	Check Encoding = "check"
)

// Byte-order marks, longest first where prefixes overlap.
var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF32LE = []byte{0xFF, 0xFE, 0x00, 0x00}
	bomUTF32BE = []byte{0x00, 0x00, 0xFE, 0xFF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// SniffLen is the number of leading bytes the sniffers look at.
const SniffLen = 4

var aliases = map[string]Encoding{
	"utf-8":     UTF8,
	"utf8":      UTF8,
	"utf-8-sig": UTF8BOM,
	"utf8-sig":  UTF8BOM,
	"utf-8-bom": UTF8BOM,
	"utf-16":    UTF16,
	"utf16":     UTF16,
	"utf-16le":  UTF16,
	"utf-16be":  UTF16,
	"utf-32":    UTF32,
	"utf32":     UTF32,
	"utf-32le":  UTF32,
	"utf-32be":  UTF32,
	"check":     Check,
	"auto":      Check,
}

// ParseEncoding normalises a user supplied encoding name.
// The empty string maps to def.
func ParseEncoding(name string, def Encoding) (Encoding, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return def, nil
	}
	enc, ok := aliases[name]
	if !ok {
		return "", fmt.Errorf("unsupported encoding %q", name)
	}
	return enc, nil
}

// IsUTF8 reports whether e is one of the UTF-8 variants.
func (e Encoding) IsUTF8() bool {
	return e == UTF8 || e == UTF8BOM
}

// SniffCSV inspects up to four leading bytes and returns the encoding to
// read a delimited text file with. Without a recognised mark it returns
// UTF8BOM, which also reads plain UTF-8.
func SniffCSV(raw []byte) Encoding {
	enc, _ := sniff(raw)
	if enc == "" {
		return UTF8BOM
	}
	return enc
}

// SniffJSON is SniffCSV for JSON sources. It also returns how many marker
// bytes precede the content; the default is UTF8 with nothing to skip.
func SniffJSON(raw []byte) (Encoding, int) {
	enc, n := sniff(raw)
	if enc == "" {
		return UTF8, 0
	}
	return enc, n
}

func sniff(raw []byte) (Encoding, int) {
	switch {
	case bytes.HasPrefix(raw, bomUTF8):
		return UTF8BOM, len(bomUTF8)
	case bytes.HasPrefix(raw, bomUTF32LE):
		return UTF32, len(bomUTF32LE)
	case bytes.HasPrefix(raw, bomUTF32BE):
		return UTF32, len(bomUTF32BE)
	case bytes.HasPrefix(raw, bomUTF16LE):
		return UTF16, len(bomUTF16LE)
	case bytes.HasPrefix(raw, bomUTF16BE):
		return UTF16, len(bomUTF16BE)
	default:
		return "", 0
	}
}

// ReadPrefix reads up to SniffLen bytes from r for the sniffers.
func ReadPrefix(r io.Reader) ([]byte, error) {
	buf := make([]byte, SniffLen)
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	return buf[:n], err
}

func (e Encoding) codec() (encoding.Encoding, error) {
	switch e {
	case UTF8:
		return unicode.UTF8, nil
	case UTF8BOM:
		return unicode.UTF8BOM, nil
	case UTF16:
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), nil
	case UTF32:
		return utf32.UTF32(utf32.LittleEndian, utf32.UseBOM), nil
	case Check:
		return nil, fmt.Errorf("encoding %q must be resolved before decoding", e)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", string(e))
	}
}

// NewDecoder wraps r so that reads return UTF-8 text. Byte-order marks are
// consumed and invalid sequences become U+FFFD.
func NewDecoder(r io.Reader, e Encoding) (io.Reader, error) {
	c, err := e.codec()
	if err != nil {
		return nil, err
	}
	return transform.NewReader(r, c.NewDecoder()), nil
}

// NewEncoder wraps w so that UTF-8 text written to it is stored in e.
// UTF8BOM, UTF16 and UTF32 output starts with a byte-order mark.
// Close flushes any pending bytes but does not close w.
func NewEncoder(w io.Writer, e Encoding) (io.WriteCloser, error) {
	c, err := e.codec()
	if err != nil {
		return nil, err
	}
	return transform.NewWriter(w, c.NewEncoder()), nil
}
