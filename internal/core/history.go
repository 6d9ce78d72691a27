package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/JonMunkholm/csvjson/internal/record"
	"github.com/JonMunkholm/csvjson/internal/typedjson"
)

// ErrJobNotFound is returned when a job id is not in history.
var ErrJobNotFound = errors.New("conversion job not found")

// DefaultHistoryLimit is the page size used when List is given no limit.
const DefaultHistoryLimit = 50

// HistoryStore records conversion jobs.
type HistoryStore interface {
	// Record inserts job or replaces the entry with the same ID.
	Record(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	// List returns up to limit jobs, newest first.
	List(ctx context.Context, limit int) ([]Job, error)
	// Prune deletes finished jobs that started before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// MemoryHistory keeps jobs in process memory. When capacity is positive the
// oldest entries are evicted once it is exceeded.
type MemoryHistory struct {
	mu       sync.RWMutex
	jobs     map[string]Job
	order    []string // insertion order, oldest first
	capacity int
}

// NewMemoryHistory creates an empty store holding at most capacity jobs
// (0 means unbounded).
func NewMemoryHistory(capacity int) *MemoryHistory {
	return &MemoryHistory{
		jobs:     make(map[string]Job),
		capacity: capacity,
	}
}

func (h *MemoryHistory) Record(_ context.Context, job Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.put(job)
	return nil
}

func (h *MemoryHistory) put(job Job) {
	if _, ok := h.jobs[job.ID]; !ok {
		h.order = append(h.order, job.ID)
	}
	h.jobs[job.ID] = job

	for h.capacity > 0 && len(h.order) > h.capacity {
		delete(h.jobs, h.order[0])
		h.order = h.order[1:]
	}
}

func (h *MemoryHistory) Get(_ context.Context, id string) (Job, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	job, ok := h.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

func (h *MemoryHistory) List(_ context.Context, limit int) ([]Job, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.newest(limit), nil
}

func (h *MemoryHistory) newest(limit int) []Job {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	out := make([]Job, 0, min(limit, len(h.order)))
	for i := len(h.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.jobs[h.order[i]])
	}
	return out
}

func (h *MemoryHistory) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.prune(cutoff), nil
}

func (h *MemoryHistory) prune(cutoff time.Time) int64 {
	var n int64
	h.order = slices.DeleteFunc(h.order, func(id string) bool {
		job := h.jobs[id]
		if job.Phase.Done() && job.StartedAt.Before(cutoff) {
			delete(h.jobs, id)
			n++
			return true
		}
		return false
	})
	return n
}

func (h *MemoryHistory) Close() error { return nil }

// FileHistory is a MemoryHistory persisted to a typed JSON file after every
// change. Timestamps and paths keep their types through the file.
type FileHistory struct {
	mem  *MemoryHistory
	path string
}

// OpenFileHistory loads path if it exists. A .gz (or other compression)
// suffix compresses the file.
func OpenFileHistory(path string, capacity int) (*FileHistory, error) {
	h := &FileHistory{mem: NewMemoryHistory(capacity), path: path}

	doc, err := typedjson.LoadObject(path, true)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return h, nil
	case err != nil:
		return nil, fmt.Errorf("load history: %w", err)
	}

	raw, _ := doc.Get("jobs")
	items, _ := raw.([]any)
	for i, item := range items {
		obj, ok := item.(*record.Object)
		if !ok {
			return nil, fmt.Errorf("load history: job %d is %T, not an object", i, item)
		}
		h.mem.put(jobFromObject(obj))
	}
	return h, nil
}

func (h *FileHistory) Record(ctx context.Context, job Job) error {
	h.mem.mu.Lock()
	defer h.mem.mu.Unlock()
	h.mem.put(job)
	return h.save()
}

func (h *FileHistory) Get(ctx context.Context, id string) (Job, error) {
	return h.mem.Get(ctx, id)
}

func (h *FileHistory) List(ctx context.Context, limit int) ([]Job, error) {
	return h.mem.List(ctx, limit)
}

func (h *FileHistory) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	h.mem.mu.Lock()
	defer h.mem.mu.Unlock()
	n := h.mem.prune(cutoff)
	if n == 0 {
		return 0, nil
	}
	return n, h.save()
}

func (h *FileHistory) Close() error { return nil }

// save writes every job, oldest first. Callers hold mem.mu.
func (h *FileHistory) save() error {
	jobs := make([]any, 0, len(h.mem.order))
	for _, id := range h.mem.order {
		jobs = append(jobs, jobObject(h.mem.jobs[id]))
	}
	doc := record.FromPairs("version", 1, "jobs", jobs)

	if ok, msg := typedjson.Save(h.path, doc, true); !ok {
		return errors.New(msg)
	}
	return nil
}

func jobObject(j Job) *record.Object {
	columns := make([]any, len(j.Columns))
	for i, c := range j.Columns {
		columns[i] = c
	}
	var finished any
	if j.FinishedAt != nil {
		finished = *j.FinishedAt
	}
	return record.FromPairs(
		"id", j.ID,
		"direction", string(j.Direction),
		"input", typedjson.Path(j.Input),
		"output", typedjson.Path(j.Output),
		"phase", string(j.Phase),
		"rows", j.Rows,
		"skipped", j.Skipped,
		"columns", columns,
		"bytes_read", j.BytesRead,
		"bytes_written", j.BytesWritten,
		"checksum", j.Checksum,
		"error", j.Error,
		"error_code", j.ErrorCode,
		"client_ip", j.ClientIP,
		"started_at", j.StartedAt,
		"finished_at", finished,
	)
}

func jobFromObject(obj *record.Object) Job {
	str := func(k string) string {
		switch v, _ := obj.Get(k); t := v.(type) {
		case string:
			return t
		case typedjson.Path:
			return string(t)
		}
		return ""
	}
	num := func(k string) int64 {
		v, _ := obj.Get(k)
		n, _ := v.(int64)
		return n
	}
	stamp := func(k string) (time.Time, bool) {
		v, _ := obj.Get(k)
		t, ok := v.(time.Time)
		return t, ok
	}

	j := Job{
		ID:           str("id"),
		Direction:    Direction(str("direction")),
		Input:        str("input"),
		Output:       str("output"),
		Phase:        Phase(str("phase")),
		Rows:         num("rows"),
		Skipped:      num("skipped"),
		BytesRead:    num("bytes_read"),
		BytesWritten: num("bytes_written"),
		Checksum:     str("checksum"),
		Error:        str("error"),
		ErrorCode:    str("error_code"),
		ClientIP:     str("client_ip"),
	}
	if raw, ok := obj.Get("columns"); ok {
		items, _ := raw.([]any)
		for _, c := range items {
			if s, ok := c.(string); ok {
				j.Columns = append(j.Columns, s)
			}
		}
	}
	j.StartedAt, _ = stamp("started_at")
	if t, ok := stamp("finished_at"); ok {
		j.FinishedAt = &t
	}
	return j
}
