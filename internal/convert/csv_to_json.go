package convert

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/csvjson/internal/csvstream"
	"github.com/JonMunkholm/csvjson/internal/fileio"
	"github.com/JonMunkholm/csvjson/internal/flatten"
	"github.com/JonMunkholm/csvjson/internal/jsonstream"
	"github.com/JonMunkholm/csvjson/internal/record"
)

// CSVToJSONOptions configures CSVToJSON.
type CSVToJSONOptions struct {
	Reader csvstream.Options

	// Unflatten rebuilds nested objects from separator-joined column names.
	Unflatten bool
	Separator string

	// ParseEmbedded turns cells holding JSON or literal structures back
	// into values before unflattening.
	ParseEmbedded bool

	// OutputFormat is FormatArray (default) or FormatNDJSON.
	OutputFormat jsonstream.Format

	Progress Progress
}

// DefaultCSVToJSONOptions unflattens with "." and writes a JSON array.
func DefaultCSVToJSONOptions() CSVToJSONOptions {
	return CSVToJSONOptions{
		Reader:       csvstream.DefaultOptions(),
		Unflatten:    true,
		Separator:    flatten.DefaultSeparator,
		OutputFormat: jsonstream.FormatArray,
	}
}

// CSVToJSON converts the CSV file at in into JSON at out. Array output is
// written as "[", one record per line separated by commas, then "]".
func CSVToJSON(ctx context.Context, in, out string, opts CSVToJSONOptions) (res Result, err error) {
	if opts.Separator == "" {
		opts.Separator = flatten.DefaultSeparator
	}
	ndjson := opts.OutputFormat == jsonstream.FormatNDJSON

	r, err := csvstream.Open(in, opts.Reader)
	if err != nil {
		return res, err
	}
	defer r.Close()
	res.Columns = r.Header()

	w, err := fileio.Create(out)
	if err != nil {
		return res, err
	}
	defer func() {
		err = errors.Join(err, w.Close())
		res.BytesRead = r.BytesRead()
		res.BytesWritten = w.BytesWritten()
		res.Checksum = w.Checksum()
	}()

	if !ndjson {
		if _, err := w.Write([]byte("[\n")); err != nil {
			return res, err
		}
	}

	for r.Next() {
		if err := checkpoint(ctx, res.Rows, opts.Progress); err != nil {
			return res, err
		}

		row := r.Row()
		if opts.ParseEmbedded {
			row = parseEmbedded(row)
		}
		if opts.Unflatten {
			row = flatten.Unflatten(row, opts.Separator)
		}

		b, err := record.Marshal(row)
		if err != nil {
			return res, fmt.Errorf("row %d: %w", r.Index(), err)
		}

		switch {
		case ndjson:
			b = append(b, '\n')
		case res.Rows > 0:
			b = append([]byte(",\n"), b...)
		}
		if _, err := w.Write(b); err != nil {
			return res, err
		}
		res.Rows++
	}
	if err := r.Err(); err != nil {
		return res, err
	}

	if !ndjson {
		if _, err := w.Write([]byte("\n]")); err != nil {
			return res, err
		}
	}
	return res, nil
}

func parseEmbedded(row *record.Object) *record.Object {
	out := record.NewObject(row.Len())
	row.Range(func(k string, v any) bool {
		out.Set(k, flatten.ParseMaybe(v))
		return true
	})
	return out
}
