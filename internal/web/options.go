package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/csvjson/internal/convert"
	"github.com/JonMunkholm/csvjson/internal/csvstream"
	"github.com/JonMunkholm/csvjson/internal/fileio"
	"github.com/JonMunkholm/csvjson/internal/jsonstream"
	"github.com/JonMunkholm/csvjson/internal/textenc"
)

// formReader reads typed options from a parsed form, keeping the first
// error. Absent or empty fields leave the destination unchanged.
type formReader struct {
	r   *http.Request
	err error
}

func (f *formReader) value(name string) (string, bool) {
	if f.err != nil {
		return "", false
	}
	v := strings.TrimSpace(f.r.FormValue(name))
	return v, v != ""
}

func (f *formReader) fail(name, value string) {
	f.err = fmt.Errorf("invalid option %s=%q", name, value)
}

func (f *formReader) bool(name string, dst *bool) {
	v, ok := f.value(name)
	if !ok {
		return
	}
	if v == "on" { // HTML checkbox
		*dst = true
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		f.fail(name, v)
		return
	}
	*dst = b
}

func (f *formReader) string(name string, dst *string) {
	if v, ok := f.value(name); ok {
		*dst = v
	}
}

func (f *formReader) list(name string, dst *[]string) {
	v, ok := f.value(name)
	if !ok {
		return
	}
	var items []string
	for _, p := range strings.Split(v, ",") {
		items = append(items, strings.TrimSpace(p))
	}
	*dst = items
}

// rune accepts a single character, or "tab" / `\t`.
func (f *formReader) rune(name string, dst *rune) {
	v, ok := f.value(name)
	if !ok {
		return
	}
	if v == "tab" || v == `\t` {
		*dst = '\t'
		return
	}
	if utf8.RuneCountInString(v) != 1 {
		f.fail(name, v)
		return
	}
	*dst, _ = utf8.DecodeRuneInString(v)
}

func (f *formReader) encoding(name string, dst *textenc.Encoding) {
	v, ok := f.value(name)
	if !ok {
		return
	}
	enc, err := textenc.ParseEncoding(v, *dst)
	if err != nil {
		f.err = err
		return
	}
	*dst = enc
}

func (f *formReader) format(name string, dst *jsonstream.Format) {
	v, ok := f.value(name)
	if !ok {
		return
	}
	format, err := jsonstream.ParseFormat(v)
	if err != nil {
		f.err = err
		return
	}
	*dst = format
}

// columnTypes parses "name:type,name:type".
func (f *formReader) columnTypes(name string, dst *csvstream.ColumnTypes) {
	v, ok := f.value(name)
	if !ok {
		return
	}
	var types csvstream.ColumnTypes
	for _, pair := range strings.Split(v, ",") {
		col, typ, found := strings.Cut(pair, ":")
		if !found {
			f.fail(name, v)
			return
		}
		ct, err := csvstream.ParseColumnType(typ)
		if err != nil {
			f.err = err
			return
		}
		types = append(types, csvstream.ColumnSpec{Name: strings.TrimSpace(col), Type: ct})
	}
	*dst = types
}

// csvToJSONOptions builds conversion options from form fields.
func csvToJSONOptions(r *http.Request) (convert.CSVToJSONOptions, error) {
	opts := convert.DefaultCSVToJSONOptions()
	f := &formReader{r: r}

	f.bool("has_header", &opts.Reader.HasHeader)
	f.list("column_names", &opts.Reader.ColumnNames)
	f.bool("use_types", &opts.Reader.UseTypes)
	f.columnTypes("column_types", &opts.Reader.ColumnTypes)
	f.encoding("encoding", &opts.Reader.Encoding)
	f.bool("generate_column_names", &opts.Reader.GenerateColumnNames)
	f.rune("comma", &opts.Reader.Comma)
	f.rune("comment", &opts.Reader.Comment)
	f.bool("lazy_quotes", &opts.Reader.LazyQuotes)
	f.bool("trim_leading_space", &opts.Reader.TrimLeadingSpace)

	f.bool("unflatten", &opts.Unflatten)
	f.string("separator", &opts.Separator)
	opts.Reader.Separator = opts.Separator
	f.bool("parse_embedded", &opts.ParseEmbedded)
	f.format("output_format", &opts.OutputFormat)
	if opts.OutputFormat == jsonstream.FormatAuto {
		opts.OutputFormat = jsonstream.FormatArray
	}

	return opts, f.err
}

// jsonToCSVOptions builds conversion options from form fields.
func jsonToCSVOptions(r *http.Request) (convert.JSONToCSVOptions, error) {
	opts := convert.DefaultJSONToCSVOptions()
	f := &formReader{r: r}

	f.encoding("encoding", &opts.Reader.Encoding)
	f.format("format", &opts.Reader.Format)
	f.list("field_names", &opts.FieldNames)
	f.bool("flatten", &opts.Flatten)
	f.bool("flatten_arrays", &opts.FlattenArrays)
	f.string("separator", &opts.Separator)
	f.encoding("output_encoding", &opts.OutputEncoding)
	f.rune("comma", &opts.Comma)

	return opts, f.err
}

// outputCompression returns the file suffix for the "compress" field,
// such as ".gz", or "" for none.
func outputCompression(r *http.Request) (string, error) {
	v := strings.ToLower(strings.TrimSpace(r.FormValue("compress")))
	if v == "" || v == "none" {
		return "", nil
	}
	suffix := "." + strings.TrimPrefix(v, ".")
	if fileio.CompressionFor(suffix) == fileio.None {
		return "", fmt.Errorf("invalid option compress=%q", v)
	}
	return suffix, nil
}
