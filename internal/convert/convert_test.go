package convert

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvjson/internal/flatten"
	"github.com/JonMunkholm/csvjson/internal/jsonstream"
	"github.com/JonMunkholm/csvjson/internal/record"
	"github.com/JonMunkholm/csvjson/internal/textenc"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestCSVToJSON_Unflatten(t *testing.T) {
	dir := t.TempDir()
	const src = "id,region.loc,phones[0].type,phones[1].type\n1,NSW,mobile,home\n2,VIC,,\n"
	in := writeFile(t, dir, "in.csv", src)
	out := filepath.Join(dir, "out.json")

	res, err := CSVToJSON(context.Background(), in, out, DefaultCSVToJSONOptions())
	require.NoError(t, err)

	want := "[\n" +
		`{"id":1,"region":{"loc":"NSW"},"phones":[{"type":"mobile"},{"type":"home"}]}` + ",\n" +
		`{"id":2,"region":{"loc":"VIC"},"phones":[{"type":null},{"type":null}]}` +
		"\n]"
	got := readFile(t, out)
	assert.Equal(t, want, got)
	assert.Equal(t, int64(2), res.Rows)
	assert.Equal(t, int64(len(src)), res.BytesRead)
	assert.Equal(t, int64(len(got)), res.BytesWritten)
	assert.Equal(t, xxhash.Sum64String(got), res.Checksum)
	assert.Equal(t, []string{"id", "region.loc", "phones[0].type", "phones[1].type"}, res.Columns)
}

func TestCSVToJSON_FlatAndEmbedded(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.csv", "a.b,meta\nx,\"{'k': [1, 2]}\"\n")
	out := filepath.Join(dir, "out.ndjson")

	opts := DefaultCSVToJSONOptions()
	opts.Unflatten = false
	opts.ParseEmbedded = true
	opts.OutputFormat = jsonstream.FormatNDJSON
	_, err := CSVToJSON(context.Background(), in, out, opts)
	require.NoError(t, err)
	assert.Equal(t, `{"a.b":"x","meta":{"k":[1,2]}}`+"\n", readFile(t, out))
}

func TestCSVToJSON_HeaderOnly(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.csv", "a,b\n")
	out := filepath.Join(dir, "out.json")

	res, err := CSVToJSON(context.Background(), in, out, DefaultCSVToJSONOptions())
	require.NoError(t, err)
	assert.Zero(t, res.Rows)
	assert.Equal(t, "[\n\n]", readFile(t, out))
}

func TestCSVToJSON_Cancelled(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.csv", "a\n1\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CSVToJSON(ctx, in, filepath.Join(dir, "out.json"), DefaultCSVToJSONOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJSONToCSV(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.json", `[
		{"id":1,"name":"Zoë","region":{"loc":"NSW"},"tags":["a","b"],"ok":true,"score":2.0,"none":null},
		{"name":"Al","id":2,"region":{"loc":"VIC"},"tags":[],"ok":false,"score":0.5,"none":"x"}
	]`)
	out := filepath.Join(dir, "out.csv")

	res, err := JSONToCSV(context.Background(), in, out, DefaultJSONToCSVOptions())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows)

	want := "id,name,region.loc,tags,ok,score,none\n" +
		"1,Zoë,NSW,\"[\"\"a\"\",\"\"b\"\"]\",true,2.0,\n" +
		"2,Al,VIC,[],false,0.5,x\n"
	assert.Equal(t, want, readFile(t, out))
	assert.Equal(t, xxhash.Sum64String(want), res.Checksum)
}

func TestJSONToCSV_FlattenModes(t *testing.T) {
	src := `{"a":{"b":1},"l":[{"x":1},{"x":2}]}` + "\n"

	tests := []struct {
		name   string
		mutate func(*JSONToCSVOptions)
		want   string
	}{
		{
			name:   "no flatten",
			mutate: func(o *JSONToCSVOptions) { o.Flatten = false; o.FlattenArrays = true },
			want:   "a,l\n\"{\"\"b\"\":1}\",\"[{\"\"x\"\":1},{\"\"x\"\":2}]\"\n",
		},
		{
			name:   "arrays expanded",
			mutate: func(o *JSONToCSVOptions) { o.FlattenArrays = true },
			want:   "a.b,l[0].x,l[1].x\n1,1,2\n",
		},
		{
			name: "field names and separator",
			mutate: func(o *JSONToCSVOptions) {
				o.FlattenArrays = true
				o.Separator = "_"
				o.FieldNames = []string{"B", "X0", "X1"}
				o.Comma = ';'
			},
			want: "B;X0;X1\n1;1;2\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			in := writeFile(t, dir, "in.ndjson", src)
			out := filepath.Join(dir, "out.csv")
			opts := DefaultJSONToCSVOptions()
			tt.mutate(&opts)

			_, err := JSONToCSV(context.Background(), in, out, opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, readFile(t, out))
		})
	}
}

func TestJSONToCSV_StructureMismatch(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.ndjson", "{\"a\":1,\"b\":2}\n{\"a\":1,\"c\":3}\n")

	_, err := JSONToCSV(context.Background(), in, filepath.Join(dir, "out.csv"), DefaultJSONToCSVOptions())
	var se *StructureError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Row)
	assert.Equal(t, []string{"b"}, se.Missing)
	assert.Equal(t, []string{"c"}, se.Extra)
	assert.ErrorIs(t, err, ErrColumnMismatch)
	assert.Contains(t, err.Error(), "row 1")

	// The header and the first row were written before the failure.
	assert.Equal(t, "a,b\n1,2\n", readFile(t, filepath.Join(dir, "out.csv")))
}

func TestJSONToCSV_Errors(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")

	_, err := JSONToCSV(context.Background(), writeFile(t, dir, "empty.json", "[]"), out, DefaultJSONToCSVOptions())
	assert.ErrorIs(t, err, ErrNoRows)

	_, err = JSONToCSV(context.Background(), writeFile(t, dir, "blank.json", "\n"), out, DefaultJSONToCSVOptions())
	assert.ErrorIs(t, err, jsonstream.ErrUnknownFormat)

	ndjson := DefaultJSONToCSVOptions()
	ndjson.Reader.Format = jsonstream.FormatNDJSON
	_, err = JSONToCSV(context.Background(), writeFile(t, dir, "blank.ndjson", "\n"), out, ndjson)
	assert.ErrorIs(t, err, ErrNoRows)

	_, err = JSONToCSV(context.Background(), writeFile(t, dir, "scalar.json", "[1]"), out, DefaultJSONToCSVOptions())
	assert.ErrorIs(t, err, ErrNotObject)

	collide := filepath.Join(dir, "collide.csv")
	_, err = JSONToCSV(context.Background(), writeFile(t, dir, "collide.json", `[{"a":{"b":1},"a.b":2}]`), collide, DefaultJSONToCSVOptions())
	assert.ErrorIs(t, err, flatten.ErrDuplicateKey)
	assert.NoFileExists(t, collide)

	opts := DefaultJSONToCSVOptions()
	opts.FieldNames = []string{"only"}
	_, err = JSONToCSV(context.Background(), writeFile(t, dir, "two.json", `[{"a":1,"b":2}]`), out, opts)
	var se *StructureError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Row)
}

func TestJSONToCSV_OutputEncoding(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.json", `[{"city":"Köln"}]`)
	out := filepath.Join(dir, "out.csv.gz")

	opts := DefaultJSONToCSVOptions()
	opts.OutputEncoding = textenc.UTF16
	_, err := JSONToCSV(context.Background(), in, out, opts)
	require.NoError(t, err)

	// Read back through the CSV pipeline with BOM sniffing.
	back := filepath.Join(dir, "back.json")
	copts := DefaultCSVToJSONOptions()
	copts.Reader.Encoding = textenc.Check
	_, err = CSVToJSON(context.Background(), out, back, copts)
	require.NoError(t, err)
	assert.Equal(t, "[\n{\"city\":\"Köln\"}\n]", readFile(t, back))
}

func TestRoundTrip_JSONCSVJSON(t *testing.T) {
	dir := t.TempDir()
	records := []string{
		`{"id":1,"name":"alpha","geo":{"lat":1.5,"lng":-2.25},"phones":[{"type":"mobile","n":"100"},{"type":"home","n":"200"}]}`,
		`{"id":2,"name":"beta","geo":{"lat":3.5,"lng":4.75},"phones":[{"type":"work","n":"300"},{"type":"fax","n":"400"}]}`,
	}
	in := writeFile(t, dir, "in.ndjson", strings.Join(records, "\n"))
	csvPath := filepath.Join(dir, "mid.csv")
	jsonPath := filepath.Join(dir, "out.ndjson")

	jopts := DefaultJSONToCSVOptions()
	jopts.FlattenArrays = true
	_, err := JSONToCSV(context.Background(), in, csvPath, jopts)
	require.NoError(t, err)

	copts := DefaultCSVToJSONOptions()
	copts.OutputFormat = jsonstream.FormatNDJSON
	_, err = CSVToJSON(context.Background(), csvPath, jsonPath, copts)
	require.NoError(t, err)

	// "n" columns are numeric text and come back as integers.
	lines := strings.Split(strings.TrimSpace(readFile(t, jsonPath)), "\n")
	require.Len(t, lines, 2)
	for i, line := range lines {
		want, err := record.ParseString(strings.ReplaceAll(strings.ReplaceAll(records[i], `"n":"`, `"n":`), `0"}`, `0}`))
		require.NoError(t, err)
		got, err := record.ParseString(line)
		require.NoError(t, err)
		assert.True(t, record.Equal(want, got), "row %d: %s", i, line)
	}
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{true, "true"},
		{int64(-3), "-3"},
		{1.0, "1.0"},
		{0.1, "0.1"},
		{"a,b", "a,b"},
		{[]any{}, "[]"},
		{record.FromPairs("k", "v"), `{"k":"v"}`},
	}
	for _, tt := range tests {
		got, err := FormatCell(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestProgress(t *testing.T) {
	old := ContextCheckInterval
	ContextCheckInterval = 2
	t.Cleanup(func() { ContextCheckInterval = old })

	var b bytes.Buffer
	b.WriteString("n\n")
	for i := 0; i < 5; i++ {
		b.WriteString("1\n")
	}
	dir := t.TempDir()
	in := writeFile(t, dir, "in.csv", b.String())

	var seen []int64
	opts := DefaultCSVToJSONOptions()
	opts.Progress = func(rows int64) { seen = append(seen, rows) }
	_, err := CSVToJSON(context.Background(), in, filepath.Join(dir, "out.json"), opts)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4}, seen)
}
