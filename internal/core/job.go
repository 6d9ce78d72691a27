package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/csvjson/internal/convert"
	"github.com/JonMunkholm/csvjson/internal/fileio"
)

// Direction names a conversion.
type Direction string

const (
	CSVToJSON Direction = "csv-to-json"
	JSONToCSV Direction = "json-to-csv"
)

// ParseDirection accepts the route and form spellings of a direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv-to-json", "csv_to_json", "csv2json":
		return CSVToJSON, nil
	case "json-to-csv", "json_to_csv", "json2csv":
		return JSONToCSV, nil
	default:
		return "", fmt.Errorf("unknown conversion direction %q", s)
	}
}

// InputExt is the file extension read by d.
func (d Direction) InputExt() string {
	if d == JSONToCSV {
		return ".json"
	}
	return ".csv"
}

// OutputExt is the file extension written by d.
func (d Direction) OutputExt() string {
	if d == JSONToCSV {
		return ".csv"
	}
	return ".json"
}

// Matches reports whether path is an input for d, ignoring compression
// suffixes. JSON conversions also accept .ndjson and .jsonl.
func (d Direction) Matches(path string) bool {
	ext := strings.ToLower(filepath.Ext(fileio.TrimCompression(path)))
	if d == JSONToCSV {
		return ext == ".json" || ext == ".ndjson" || ext == ".jsonl"
	}
	return ext == ".csv"
}

// Phase is the lifecycle state of a job.
type Phase string

const (
	PhaseQueued    Phase = "queued"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// Done reports whether the phase is final.
func (p Phase) Done() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// Job is one conversion as recorded in history.
type Job struct {
	ID           string     `json:"id"`
	Direction    Direction  `json:"direction"`
	Input        string     `json:"input"`
	Output       string     `json:"output"`
	Phase        Phase      `json:"phase"`
	Rows         int64      `json:"rows"`
	Skipped      int64      `json:"skipped"`
	Columns      []string   `json:"columns,omitempty"`
	BytesRead    int64      `json:"bytes_read"`
	BytesWritten int64      `json:"bytes_written"`
	Checksum     string     `json:"checksum,omitempty"`
	Error        string     `json:"error,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ClientIP     string     `json:"client_ip,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Duration is the job's run time so far.
func (j Job) Duration() time.Duration {
	if j.FinishedAt == nil {
		return time.Since(j.StartedAt)
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// finish records the outcome of a conversion on j.
func (j *Job) finish(res convert.Result, err error, now time.Time) {
	j.Rows = res.Rows
	j.Skipped = res.Skipped
	j.Columns = res.Columns
	j.BytesRead = res.BytesRead
	j.BytesWritten = res.BytesWritten
	j.FinishedAt = &now

	switch {
	case err == nil:
		j.Phase = PhaseCompleted
		j.Checksum = res.ChecksumHex()
	case errors.Is(err, context.Canceled):
		j.Phase = PhaseCancelled
	default:
		j.Phase = PhaseFailed
	}
	if err != nil {
		j.Error = err.Error()
		j.ErrorCode = MapError(err).Code
	}
}

// Request describes one conversion.
type Request struct {
	Direction Direction
	Input     string
	Output    string

	CSV  convert.CSVToJSONOptions
	JSON convert.JSONToCSVOptions
}

// NewRequest returns a request with default options for d.
func NewRequest(d Direction, input, output string) Request {
	return Request{
		Direction: d,
		Input:     input,
		Output:    output,
		CSV:       convert.DefaultCSVToJSONOptions(),
		JSON:      convert.DefaultJSONToCSVOptions(),
	}
}

func (r Request) validate() error {
	if r.Direction != CSVToJSON && r.Direction != JSONToCSV {
		return fmt.Errorf("unknown conversion direction %q", r.Direction)
	}
	if r.Input == "" || r.Output == "" {
		return errors.New("conversion needs both an input and an output path")
	}
	return nil
}

// Progress is a running job's row count, as sent to subscribers.
type Progress struct {
	JobID string `json:"job_id"`
	Phase Phase  `json:"phase"`
	Rows  int64  `json:"rows"`
}
