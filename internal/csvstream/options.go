package csvstream

import (
	"github.com/JonMunkholm/csvjson/internal/flatten"
	"github.com/JonMunkholm/csvjson/internal/record"
	"github.com/JonMunkholm/csvjson/internal/textenc"
)

// SampleSize is the number of rows read to infer column types.
const SampleSize = 10

// Predicate decides whether a row is yielded. index is the 0-based data row
// index; rejected rows still consume an index.
type Predicate func(index int, row *record.Object) bool

// Options configures a Reader. Start from DefaultOptions.
type Options struct {
	// HasHeader marks the first line as column names.
	HasHeader bool

	// ColumnNames overrides the header. Its length must equal the number of
	// columns on the first line, with or without a header.
	ColumnNames []string

	// UseTypes converts cells with ColumnTypes, or with types inferred from
	// the first SampleSize rows when ColumnTypes is empty. Without it every
	// non-empty cell stays a string.
	UseTypes bool

	// ColumnTypes declares the type of every column. Supplied without
	// ColumnNames, its names become the column names.
	ColumnTypes ColumnTypes

	// Encoding is the input text encoding, or textenc.Check to sniff it.
	Encoding textenc.Encoding

	// Predicate filters rows. When set, rows are passed through
	// flatten.UnwrapEmbedded first and the unwrapped row is yielded.
	// Rows read without a predicate are intentionally not unwrapped, so
	// their embedded JSON text stays a string.
	Predicate Predicate

	// Separator joins keys of unwrapped embedded objects.
	Separator string

	// GenerateColumnNames names headerless columns "0".."n-1" when no
	// other source of names exists.
	GenerateColumnNames bool

	// Dialect, passed to encoding/csv.
	Comma            rune
	Comment          rune
	LazyQuotes       bool
	TrimLeadingSpace bool
}

// DefaultOptions returns options for a typed, headed, comma separated file.
func DefaultOptions() Options {
	return Options{
		HasHeader: true,
		UseTypes:  true,
		Encoding:  textenc.UTF8BOM,
		Separator: flatten.DefaultSeparator,
		Comma:     ',',
	}
}

func (o *Options) normalize() {
	if o.Encoding == "" {
		o.Encoding = textenc.UTF8BOM
	}
	if o.Separator == "" {
		o.Separator = flatten.DefaultSeparator
	}
	if o.Comma == 0 {
		o.Comma = ','
	}
}
