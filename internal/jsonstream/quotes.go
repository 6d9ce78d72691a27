package jsonstream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/JonMunkholm/csvjson/internal/fileio"
	"github.com/JonMunkholm/csvjson/internal/textenc"
)

// EOFSignal is the signal reported when the text ends inside a string.
const EOFSignal = -1

// QuoteReport lists the quote-balance signals of a scan in the order they
// were found: the first 1-based line left inside a string, then EOFSignal
// when the text also ends inside one.
type QuoteReport struct {
	Signals []int `json:"signals"`
	Lines   int   `json:"lines"`
}

// OK reports whether no signal was raised.
func (q QuoteReport) OK() bool { return len(q.Signals) == 0 }

// FirstSuspectLine returns the first line left inside a string, or 0.
func (q QuoteReport) FirstSuspectLine() int {
	if len(q.Signals) > 0 && q.Signals[0] != EOFSignal {
		return q.Signals[0]
	}
	return 0
}

// EndsInsideString reports whether the text ended inside a string.
func (q QuoteReport) EndsInsideString() bool {
	return len(q.Signals) > 0 && q.Signals[len(q.Signals)-1] == EOFSignal
}

// ScanQuotes reads path as text and looks for unbalanced double quotes.
// It never parses JSON, so it also works on files a parser rejects.
func ScanQuotes(path string, enc textenc.Encoding) (QuoteReport, error) {
	src, err := fileio.Open(path)
	if err != nil {
		return QuoteReport{}, err
	}
	defer src.Close()

	if enc == textenc.Check {
		br := bufio.NewReader(src)
		prefix, _ := br.Peek(textenc.SniffLen)
		enc, _ = textenc.SniffJSON(prefix)
		return scanEncoded(br, enc)
	}
	return scanEncoded(src, enc)
}

func scanEncoded(r io.Reader, enc textenc.Encoding) (QuoteReport, error) {
	text, err := textenc.NewDecoder(r, enc)
	if err != nil {
		return QuoteReport{}, err
	}
	return ScanQuotesReader(text)
}

// ScanQuotesReader scans UTF-8 text rune by rune. A backslash toggles the
// escape flag, an unescaped '"' toggles the in-string flag and any other
// rune clears the escape flag.
func ScanQuotesReader(r io.Reader) (QuoteReport, error) {
	var (
		report   QuoteReport
		inString bool
		escaped  bool
		reported bool
		pending  bool // current line has content
	)
	br := bufio.NewReader(r)

	endLine := func() {
		report.Lines++
		if inString && !reported {
			reported = true
			report.Signals = append(report.Signals, report.Lines)
		}
		pending = false
	}

	for {
		ch, _, err := br.ReadRune()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, err
		}

		pending = true
		switch {
		case ch == '\\':
			escaped = !escaped
		case ch == '"' && !escaped:
			inString = !inString
		default:
			escaped = false
		}
		if ch == '\n' {
			endLine()
		}
	}
	if pending {
		endLine()
	}
	if inString {
		report.Signals = append(report.Signals, EOFSignal)
	}
	return report, nil
}

// CheckQuotes scans path and fails with ErrUnterminatedStr if any signal
// was raised, logging the first suspect line when one is known.
func CheckQuotes(path string, enc textenc.Encoding) (bool, error) {
	report, err := CheckQuotesLogger(slog.Default(), path, enc)
	return err == nil && report.OK(), err
}

// CheckQuotesLogger is CheckQuotes with an explicit logger. It also returns
// the scan report, including when the check fails.
func CheckQuotesLogger(logger *slog.Logger, path string, enc textenc.Encoding) (QuoteReport, error) {
	report, err := ScanQuotes(path, enc)
	if err != nil {
		return report, fmt.Errorf("scan quotes %s: %w", path, err)
	}
	if report.OK() {
		return report, nil
	}
	if len(report.Signals) > 1 {
		logger.Warn("unclosed quote may start here", "file", path, "line", report.Signals[0])
	}
	return report, ErrUnterminatedStr
}
