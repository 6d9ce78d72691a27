package jsonstream

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvjson/internal/fileio"
	"github.com/JonMunkholm/csvjson/internal/record"
	"github.com/JonMunkholm/csvjson/internal/textenc"
)

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func writeEncoded(t *testing.T, name, content string, enc textenc.Encoding) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := textenc.NewEncoder(f, enc)
	require.NoError(t, err)
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

type item struct {
	index int
	json  string
}

func collect(t *testing.T, path string, opts Options) ([]item, *Reader) {
	t.Helper()
	r, err := Open(path, opts)
	require.NoError(t, err)
	defer r.Close()

	var out []item
	for r.Next() {
		b, err := record.Marshal(r.Value())
		require.NoError(t, err)
		out = append(out, item{index: r.Index(), json: string(b)})
	}
	require.NoError(t, r.Err())
	return out, r
}

func TestReader_Array(t *testing.T) {
	path := writeFile(t, "rows.json", []byte(" \n[{\"b\":1,\"a\":[true,null]},\n {\"c\":\"x\"}, 3]"))

	got, r := collect(t, path, DefaultOptions())
	assert.Equal(t, FormatArray, r.Format())
	assert.Equal(t, []item{
		{0, `{"b":1,"a":[true,null]}`},
		{1, `{"c":"x"}`},
		{2, `3`},
	}, got)
}

func TestReader_ArrayCompressedWithBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.json.zst")
	w, err := fileio.Create(path)
	require.NoError(t, err)
	_, err = w.Write(append([]byte{0xEF, 0xBB, 0xBF}, []byte(`[{"a":1},{"a":2}]`)...))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	for _, enc := range []textenc.Encoding{textenc.Check, textenc.UTF8BOM} {
		t.Run(string(enc), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Encoding = enc
			opts.Format = FormatArray
			got, _ := collect(t, path, opts)
			assert.Equal(t, []item{{0, `{"a":1}`}, {1, `{"a":2}`}}, got)
		})
	}
}

func TestReader_ArrayRejectsNonUTF8(t *testing.T) {
	path := writeEncoded(t, "rows.json", `[{"a":1}]`, textenc.UTF16)

	opts := DefaultOptions()
	opts.Encoding = textenc.UTF16
	opts.Format = FormatArray
	_, err := Open(path, opts)
	var cfg *ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.ErrorIs(t, err, ErrArrayEncoding)

	opts.Encoding = textenc.Check
	opts.Format = FormatAuto
	_, err = Open(path, opts)
	assert.ErrorIs(t, err, ErrArrayEncoding)
}

func TestReader_ArrayErrors(t *testing.T) {
	opts := DefaultOptions()
	opts.Format = FormatArray

	_, err := Open(writeFile(t, "obj.json", []byte(`{"a":1}`)), opts)
	assert.ErrorIs(t, err, ErrNotArray)

	r, err := Open(writeFile(t, "bad.json", []byte(`[{"a":1}, {"a":]`)), opts)
	require.NoError(t, err)
	require.True(t, r.Next())
	assert.False(t, r.Next())
	assert.Error(t, r.Err())
}

func TestReader_NDJSON(t *testing.T) {
	src := "{\"a\":1}\n\nnot json\n{\"a\":2}\n{\"a\":3}"
	path := writeFile(t, "rows.ndjson", []byte(src))

	got, r := collect(t, path, DefaultOptions())
	assert.Equal(t, FormatNDJSON, r.Format())
	assert.Equal(t, []item{{0, `{"a":1}`}, {3, `{"a":2}`}, {4, `{"a":3}`}}, got)
	assert.Equal(t, 2, r.Skipped())
	assert.Equal(t, int64(len(src)), r.BytesRead())
}

func TestReader_NDJSONPredicate(t *testing.T) {
	path := writeFile(t, "rows.jsonl", []byte("{\"a\":1}\n{\"a\":2}\n{\"a\":3}\n"))

	opts := DefaultOptions()
	opts.Format = "jsonl"
	opts.Predicate = func(i int, v any) bool {
		n, _ := v.(*record.Object).Get("a")
		return i == 0 || n == int64(3)
	}
	got, _ := collect(t, path, opts)
	assert.Equal(t, []item{{0, `{"a":1}`}, {2, `{"a":3}`}}, got)
}

func TestReader_NDJSONWideEncodings(t *testing.T) {
	for _, enc := range []textenc.Encoding{textenc.UTF16, textenc.UTF32} {
		t.Run(string(enc), func(t *testing.T) {
			path := writeEncoded(t, "rows.ndjson", "{\"city\":\"Köln\"}\n{\"city\":\"Zoë\"}\n", enc)
			opts := DefaultOptions()
			opts.Encoding = textenc.Check
			got, r := collect(t, path, opts)
			assert.Equal(t, enc, r.Encoding())
			assert.Equal(t, []item{{0, `{"city":"Köln"}`}, {1, `{"city":"Zoë"}`}}, got)
		})
	}
}

func TestReader_FormatDetection(t *testing.T) {
	_, err := Open(writeFile(t, "x.json", []byte("  hello")), DefaultOptions())
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = Open(writeFile(t, "space.json", []byte(strings.Repeat(" ", SniffChars+10)+"[]")), DefaultOptions())
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = Open(writeFile(t, "blank.json", []byte("\n \n")), DefaultOptions())
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = Open(writeFile(t, "empty.json", nil), DefaultOptions())
	assert.ErrorIs(t, err, ErrUnknownFormat)

	ndjson := DefaultOptions()
	ndjson.Format = FormatNDJSON
	got, r := collect(t, writeFile(t, "blank.ndjson", []byte("\n\n")), ndjson)
	assert.Empty(t, got)
	assert.Equal(t, FormatNDJSON, r.Format())

	opts := DefaultOptions()
	opts.Format = "yaml"
	_, err = Open(writeFile(t, "y.json", []byte("[]")), opts)
	assert.ErrorIs(t, err, ErrFormatName)
}

func TestParseFormat(t *testing.T) {
	for name, want := range map[string]Format{"": FormatAuto, "STND": FormatArray, "newline-delimited": FormatNDJSON} {
		got, err := ParseFormat(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
