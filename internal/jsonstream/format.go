package jsonstream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/JonMunkholm/csvjson/internal/fileio"
	"github.com/JonMunkholm/csvjson/internal/textenc"
)

// Format is the layout of a JSON source.
type Format string

const (
	FormatAuto   Format = "auto"
	FormatNDJSON Format = "ndjson" // one value per line
	FormatArray  Format = "array"  // a single top-level array
)

// SniffChars bounds how many characters auto-detection reads.
const SniffChars = 1024

var (
	ErrUnknownFormat   = errors.New("unable to determine JSON format from leading characters")
	ErrFormatName      = errors.New("unrecognised JSON format")
	ErrArrayEncoding   = errors.New("array JSON streaming requires UTF-8 encoding")
	ErrNotArray        = errors.New("top-level value is not an array")
	ErrUnterminatedStr = errors.New("file ends while still inside a string")
)

var formatNames = map[string]Format{
	"auto":              FormatAuto,
	"ndjson":            FormatNDJSON,
	"jsonl":             FormatNDJSON,
	"newline-delimited": FormatNDJSON,
	"array":             FormatArray,
	"stnd":              FormatArray,
	"standard":          FormatArray,
}

// ParseFormat normalises a format name. The empty string is FormatAuto.
func ParseFormat(name string) (Format, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return FormatAuto, nil
	}
	f, ok := formatNames[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrFormatName, name)
	}
	return f, nil
}

// ConfigError reports a problem found while opening a reader.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("json %s: %v", e.Path, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// detectFormat looks at the first non-space character among the first
// SniffChars characters: '[' is an array, '{' is NDJSON. A blank file has
// no such character and fails with ErrUnknownFormat.
func detectFormat(path string, enc textenc.Encoding) (Format, error) {
	src, err := fileio.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	text, err := textenc.NewDecoder(src, enc)
	if err != nil {
		return "", err
	}
	br := bufio.NewReader(text)

	for i := 0; i < SniffChars; i++ {
		ch, _, err := br.ReadRune()
		if errors.Is(err, io.EOF) {
			return "", ErrUnknownFormat
		}
		if err != nil {
			return "", err
		}
		if unicode.IsSpace(ch) {
			continue
		}
		switch ch {
		case '[':
			return FormatArray, nil
		case '{':
			return FormatNDJSON, nil
		default:
			return "", ErrUnknownFormat
		}
	}
	return "", ErrUnknownFormat
}
