package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvjson/internal/convert"
	"github.com/JonMunkholm/csvjson/internal/jsonstream"
	"github.com/JonMunkholm/csvjson/internal/textenc"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestService_ConvertCSVToJSON(t *testing.T) {
	dir := t.TempDir()
	const src = "id,geo.lat\n1,2.5\n2,3.5\n"
	in := writeFile(t, dir, "in.csv", src)
	out := filepath.Join(dir, "out.json")

	history := NewMemoryHistory(0)
	s := NewService(NewLimiter(2, time.Second), history)
	ctx := ContextWithClientIP(context.Background(), "192.0.2.7")

	job, err := s.ConvertCSVToJSON(ctx, in, out, convert.DefaultCSVToJSONOptions())
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, PhaseCompleted, job.Phase)
	assert.Equal(t, int64(2), job.Rows)
	assert.Equal(t, []string{"id", "geo.lat"}, job.Columns)
	assert.Equal(t, int64(len(src)), job.BytesRead)
	assert.Len(t, job.Checksum, 16)
	assert.Equal(t, "192.0.2.7", job.ClientIP)
	require.NotNil(t, job.FinishedAt)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "[\n{\"id\":1,\"geo\":{\"lat\":2.5}},\n{\"id\":2,\"geo\":{\"lat\":3.5}}\n]", string(b))

	stored, err := history.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job, stored)
	assert.Empty(t, s.ActiveJobs())
	assert.Equal(t, 0, s.LimiterStatus().Active)
}

func TestService_FailureIsRecorded(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.ndjson", "{\"a\":1}\n{\"b\":2}\n")

	s := NewService(nil, nil)
	job, err := s.ConvertJSONToCSV(context.Background(), in, filepath.Join(dir, "out.csv"), convert.DefaultJSONToCSVOptions())
	require.ErrorIs(t, err, convert.ErrColumnMismatch)

	assert.Equal(t, PhaseFailed, job.Phase)
	assert.Equal(t, "STR001", job.ErrorCode)
	assert.Contains(t, job.Error, "row 1")

	stored, err := s.Job(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, stored.Phase)
}

func TestService_RunValidates(t *testing.T) {
	s := NewService(nil, nil)
	_, err := s.Run(context.Background(), Request{Direction: "sideways", Input: "a", Output: "b"})
	assert.Error(t, err)
	_, err = s.Run(context.Background(), NewRequest(CSVToJSON, "", "out.json"))
	assert.Error(t, err)
}

func TestService_LimiterBusy(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.csv", "a\n1\n")

	limiter := NewLimiter(1, 50*time.Millisecond)
	require.True(t, limiter.TryAcquire())
	defer limiter.Release()

	s := NewService(limiter, nil)
	job, err := s.Run(context.Background(), NewRequest(CSVToJSON, in, filepath.Join(dir, "out.json")))
	require.ErrorIs(t, err, ErrTooManyConversions)
	assert.Equal(t, PhaseFailed, job.Phase)
	assert.Equal(t, "RATE001", job.ErrorCode)
}

func TestService_StartWaitSubscribe(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.json", `[{"a":{"b":1}},{"a":{"b":2}}]`)
	out := filepath.Join(dir, "out.csv")

	release := make(chan struct{})
	req := NewRequest(JSONToCSV, in, out)
	req.JSON.Progress = func(int64) { <-release }

	old := convert.ContextCheckInterval
	convert.ContextCheckInterval = 1
	t.Cleanup(func() { convert.ContextCheckInterval = old })

	s := NewService(nil, nil)
	id, err := s.Start(context.Background(), req)
	require.NoError(t, err)

	updates, err := s.Subscribe(id)
	require.NoError(t, err)
	close(release)

	var last Progress
	for p := range updates {
		assert.Equal(t, id, p.JobID)
		last = p
	}
	assert.Equal(t, PhaseCompleted, last.Phase)
	assert.Equal(t, int64(2), last.Rows)

	job, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, job.Phase)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "a.b\n1\n2\n", string(b))

	_, err = s.Subscribe(id)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestService_Cancel(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.csv", "n\n1\n2\n3\n4\n")

	old := convert.ContextCheckInterval
	convert.ContextCheckInterval = 1
	t.Cleanup(func() { convert.ContextCheckInterval = old })

	started := make(chan struct{})
	release := make(chan struct{})
	req := NewRequest(CSVToJSON, in, filepath.Join(dir, "out.json"))
	req.CSV.Progress = func(rows int64) {
		if rows == 1 {
			close(started)
			<-release
		}
	}

	s := NewService(nil, nil)
	id, err := s.Start(context.Background(), req)
	require.NoError(t, err)

	<-started
	running, err := s.Job(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, PhaseRunning, running.Phase)

	require.NoError(t, s.Cancel(id))
	close(release)

	job, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, PhaseCancelled, job.Phase)
	assert.Equal(t, "JOB001", job.ErrorCode)

	assert.ErrorIs(t, s.Cancel(id), ErrJobNotFound)
}

func TestService_ConvertDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.ndjson", "{\"x\":1}\n")
	writeFile(t, dir, "b.json", `[{"x":2},{"y":3}]`)
	writeFile(t, dir, "c.json", `[{"x":{"z":4}}]`)
	writeFile(t, dir, "notes.txt", "skip me")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0o755))
	outDir := filepath.Join(t.TempDir(), "out")

	s := NewService(NewLimiter(2, time.Second), nil)
	jobs, err := s.ConvertDir(context.Background(), dir, JSONToCSV, DirOptions{OutputDir: outDir})
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	assert.Equal(t, PhaseCompleted, jobs[0].Phase)
	assert.Equal(t, filepath.Join(outDir, "a.csv"), jobs[0].Output)
	assert.Equal(t, PhaseFailed, jobs[1].Phase)
	assert.Equal(t, "STR001", jobs[1].ErrorCode)
	assert.Equal(t, PhaseCompleted, jobs[2].Phase)

	b, err := os.ReadFile(filepath.Join(outDir, "c.csv"))
	require.NoError(t, err)
	assert.Equal(t, "x.z\n4\n", string(b))

	list, err := s.History().List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestService_ConvertDirOptions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "rows.csv", "1,2\n")

	opts := convert.DefaultCSVToJSONOptions()
	opts.Reader.HasHeader = false
	opts.Reader.ColumnNames = []string{"a", "b"}
	opts.OutputFormat = jsonstream.FormatNDJSON

	s := NewService(nil, nil)
	jobs, err := s.ConvertDir(context.Background(), dir, CSVToJSON, DirOptions{CSV: &opts})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, PhaseCompleted, jobs[0].Phase, jobs[0].Error)

	b, err := os.ReadFile(filepath.Join(dir, "rows.json"))
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1,\"b\":2}\n", string(b))
}

func TestService_ConvertDirMissing(t *testing.T) {
	s := NewService(nil, nil)
	_, err := s.ConvertDir(context.Background(), filepath.Join(t.TempDir(), "nope"), CSVToJSON, DirOptions{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestService_CheckQuotes(t *testing.T) {
	dir := t.TempDir()
	s := NewService(nil, nil)

	report, err := s.CheckQuotes(context.Background(), writeFile(t, dir, "ok.json", `{"a": "b"}`), textenc.UTF8)
	require.NoError(t, err)
	assert.True(t, report.OK())

	report, err = s.CheckQuotes(context.Background(), writeFile(t, dir, "bad.json", "{\"a\": 1}\n{\"b\": \"x}\n"), textenc.Check)
	assert.ErrorIs(t, err, jsonstream.ErrUnterminatedStr)
	assert.Equal(t, 2, report.FirstSuspectLine())
	assert.True(t, report.EndsInsideString())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.CheckQuotes(ctx, filepath.Join(dir, "ok.json"), textenc.UTF8)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_PruneHistory(t *testing.T) {
	ctx := context.Background()
	history := NewMemoryHistory(0)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, history.Record(ctx, sampleJob("old", now.Add(-48*time.Hour), PhaseCompleted)))
	require.NoError(t, history.Record(ctx, sampleJob("new", now.Add(-time.Hour), PhaseCompleted)))

	s := NewService(nil, history)
	s.now = func() time.Time { return now }
	s.pruneHistory(ctx, 24*time.Hour)

	_, err := history.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = history.Get(ctx, "new")
	assert.NoError(t, err)
}

func TestStartHistoryPruner_StopsOnCancel(t *testing.T) {
	s := NewService(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.StartHistoryPruner(ctx, PruneConfig{Retention: time.Hour, CheckInterval: 10 * time.Millisecond})
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop")
	}
}

func TestDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{"csv-to-json", CSVToJSON, false},
		{"JSON_TO_CSV", JSONToCSV, false},
		{"csv2json", CSVToJSON, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDirection(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, CSVToJSON.Matches("rows.CSV.gz"))
	assert.False(t, CSVToJSON.Matches("rows.json"))
	assert.True(t, JSONToCSV.Matches("events.jsonl.zst"))
	assert.Equal(t, "rows.json", OutputName("rows.csv.gz", CSVToJSON))
	assert.Equal(t, "events.csv", OutputName("/in/events.ndjson", JSONToCSV))
}
