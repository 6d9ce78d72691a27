package jsonstream

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvjson/internal/textenc"
)

func TestScanQuotesReader(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		signals []int
	}{
		{name: "balanced", text: "{\"a\": \"b\"}\n{\"c\": \"d\\\"e\"}\n"},
		{name: "unterminated", text: "line1: \"open", signals: []int{1, EOFSignal}},
		{name: "opens on line two", text: "{\"a\": 1}\n{\"b\": \"x\n}\n", signals: []int{2, EOFSignal}},
		{name: "reported once, closed later", text: "\"a\n\"\n\"b\n", signals: []int{1, EOFSignal}},
		{name: "closed on next line", text: "\"a\nb\"\n", signals: []int{1}},
		{name: "escaped backslash before quote", text: "\"a\\\\\"\n"},
		{name: "empty", text: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := ScanQuotesReader(strings.NewReader(tt.text))
			require.NoError(t, err)
			assert.Equal(t, tt.signals, report.Signals)
			assert.Equal(t, len(tt.signals) == 0, report.OK())
		})
	}
}

func TestQuoteReport(t *testing.T) {
	r := QuoteReport{Signals: []int{4, EOFSignal}}
	assert.Equal(t, 4, r.FirstSuspectLine())
	assert.True(t, r.EndsInsideString())

	r = QuoteReport{Signals: []int{EOFSignal}}
	assert.Equal(t, 0, r.FirstSuspectLine())
}

func TestCheckQuotes(t *testing.T) {
	ok, err := CheckQuotes(writeFile(t, "good.json", []byte("[{\"a\": \"b\"}]\n")), textenc.UTF8)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CheckQuotes(writeFile(t, "bad.json", []byte("[{\"a\": \"b}]\n")), textenc.UTF8)
	assert.ErrorIs(t, err, ErrUnterminatedStr)
	assert.False(t, ok)

	path := writeEncoded(t, "wide.json", "{\"a\": \"b\"}\n", textenc.UTF16)
	ok, err = CheckQuotes(path, textenc.Check)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckQuotesLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	report, err := CheckQuotesLogger(logger, writeFile(t, "bad.json", []byte("{\"a\": 1}\n{\"b\": \"x}\n")), textenc.UTF8)
	assert.ErrorIs(t, err, ErrUnterminatedStr)
	assert.Equal(t, []int{2, EOFSignal}, report.Signals)
	assert.Contains(t, buf.String(), "unclosed quote may start here")
	assert.Contains(t, buf.String(), "line=2")

	buf.Reset()
	report, err = CheckQuotesLogger(logger, writeFile(t, "good.json", []byte(`{"a": "b"}`)), textenc.UTF8)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Empty(t, buf.String())
}
