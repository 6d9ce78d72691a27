package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/csvjson/internal/convert"
	"github.com/JonMunkholm/csvjson/internal/jsonstream"
	"github.com/JonMunkholm/csvjson/internal/logging"
	"github.com/JonMunkholm/csvjson/internal/textenc"
)

// JobTimeout is the maximum duration of a job started with Start.
var JobTimeout = 10 * time.Minute

// Service runs conversions as tracked jobs.
type Service struct {
	limiter *Limiter
	history HistoryStore
	now     func() time.Time

	mu   sync.RWMutex
	jobs map[string]*activeJob
}

type activeJob struct {
	mu     sync.Mutex
	job    Job
	cancel context.CancelFunc
	done   chan struct{}

	listeners []chan Progress
}

// NewService creates a Service. A nil limiter or history selects the
// defaults (DefaultMaxConcurrent slots, unbounded memory history).
func NewService(limiter *Limiter, history HistoryStore) *Service {
	if limiter == nil {
		limiter = NewLimiter(0, 0)
	}
	if history == nil {
		history = NewMemoryHistory(0)
	}
	return &Service{
		limiter: limiter,
		history: history,
		now:     time.Now,
		jobs:    make(map[string]*activeJob),
	}
}

// History returns the job store.
func (s *Service) History() HistoryStore { return s.history }

// LimiterStatus returns the conversion limiter state for monitoring.
func (s *Service) LimiterStatus() LimiterStatus { return s.limiter.Status() }

// WaitForConversions blocks until no conversion is running or ctx is done.
func (s *Service) WaitForConversions(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// ConvertCSVToJSON converts in to out and records the job.
func (s *Service) ConvertCSVToJSON(ctx context.Context, in, out string, opts convert.CSVToJSONOptions) (Job, error) {
	req := NewRequest(CSVToJSON, in, out)
	req.CSV = opts
	return s.Run(ctx, req)
}

// ConvertJSONToCSV converts in to out and records the job.
func (s *Service) ConvertJSONToCSV(ctx context.Context, in, out string, opts convert.JSONToCSVOptions) (Job, error) {
	req := NewRequest(JSONToCSV, in, out)
	req.JSON = opts
	return s.Run(ctx, req)
}

// Run performs req in the calling goroutine. The returned Job is the
// recorded outcome; it is also returned, marked failed, when err != nil.
func (s *Service) Run(ctx context.Context, req Request) (Job, error) {
	if err := req.validate(); err != nil {
		return Job{}, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := s.register(ctx, req, cancel)
	err := s.execute(ctx, a, req)
	return a.snapshot(), err
}

// Start performs req in the background and returns the job id at once.
// ctx only supplies request metadata; the job runs until done, cancelled
// through Cancel, or JobTimeout.
func (s *Service) Start(ctx context.Context, req Request) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), JobTimeout)

	a := s.register(ctx, req, cancel)
	go func() {
		defer cancel()
		_ = s.execute(jobCtx, a, req)
	}()
	return a.job.ID, nil
}

func (s *Service) register(ctx context.Context, req Request, cancel context.CancelFunc) *activeJob {
	a := &activeJob{
		job: Job{
			ID:        uuid.New().String(),
			Direction: req.Direction,
			Input:     req.Input,
			Output:    req.Output,
			Phase:     PhaseQueued,
			ClientIP:  ClientIPFromContext(ctx),
			StartedAt: s.now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.jobs[a.job.ID] = a
	s.mu.Unlock()

	s.record(ctx, a.job)
	return a
}

// execute waits for a limiter slot, converts and records the outcome.
func (s *Service) execute(ctx context.Context, a *activeJob, req Request) (err error) {
	logger := logging.WithFields(ctx,
		"job_id", a.job.ID,
		"direction", req.Direction,
		"input", req.Input,
	)

	var res convert.Result
	defer func() {
		a.mu.Lock()
		a.job.finish(res, err, s.now())
		job := a.job
		a.mu.Unlock()

		if err != nil {
			logger.Warn("conversion failed", "error", err, "code", job.ErrorCode, "rows", job.Rows)
		} else {
			logger.Info("conversion completed",
				"rows", job.Rows,
				"skipped", job.Skipped,
				"bytes", job.BytesWritten,
				"duration_ms", job.Duration().Milliseconds(),
			)
		}
		s.record(context.WithoutCancel(ctx), job)
		s.complete(a)
	}()

	if err = s.limiter.Acquire(ctx); err != nil {
		return err
	}
	defer s.limiter.Release()

	a.setPhase(PhaseRunning)
	s.record(ctx, a.snapshot())
	logger.Debug("conversion started")

	progress := func(rows int64) { a.progress(rows) }
	switch req.Direction {
	case CSVToJSON:
		opts := req.CSV
		opts.Progress = chain(opts.Progress, progress)
		res, err = convert.CSVToJSON(ctx, req.Input, req.Output, opts)
	case JSONToCSV:
		opts := req.JSON
		opts.Progress = chain(opts.Progress, progress)
		res, err = convert.JSONToCSV(ctx, req.Input, req.Output, opts)
	}
	return err
}

func chain(a, b convert.Progress) convert.Progress {
	if a == nil {
		return b
	}
	return func(rows int64) {
		a(rows)
		b(rows)
	}
}

func (s *Service) record(ctx context.Context, job Job) {
	if err := s.history.Record(ctx, job); err != nil {
		logging.FromContext(ctx).Error("record job history", "job_id", job.ID, "error", err)
	}
}

// complete notifies listeners and forgets the job; history keeps it.
func (s *Service) complete(a *activeJob) {
	a.mu.Lock()
	final := Progress{JobID: a.job.ID, Phase: a.job.Phase, Rows: a.job.Rows}
	for _, ch := range a.listeners {
		select {
		case ch <- final:
		default:
		}
		close(ch)
	}
	a.listeners = nil
	a.mu.Unlock()

	s.mu.Lock()
	delete(s.jobs, a.job.ID)
	s.mu.Unlock()
	close(a.done)
}

func (a *activeJob) snapshot() Job {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.job
}

func (a *activeJob) setPhase(p Phase) {
	a.mu.Lock()
	a.job.Phase = p
	a.mu.Unlock()
	a.broadcast()
}

func (a *activeJob) progress(rows int64) {
	a.mu.Lock()
	a.job.Rows = rows
	a.mu.Unlock()
	a.broadcast()
}

func (a *activeJob) broadcast() {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := Progress{JobID: a.job.ID, Phase: a.job.Phase, Rows: a.job.Rows}
	for _, ch := range a.listeners {
		select {
		case ch <- p:
		default:
		}
	}
}

func (s *Service) active(id string) (*activeJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.jobs[id]
	return a, ok
}

// Subscribe returns a channel of progress updates for a running job. The
// current state is sent first; the channel is closed when the job ends.
func (s *Service) Subscribe(id string) (<-chan Progress, error) {
	a, ok := s.active(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	ch := make(chan Progress, 10)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.job.Phase.Done() {
		close(ch)
		return ch, nil
	}
	a.listeners = append(a.listeners, ch)
	ch <- Progress{JobID: a.job.ID, Phase: a.job.Phase, Rows: a.job.Rows}
	return ch, nil
}

// Cancel stops a running job.
func (s *Service) Cancel(id string) error {
	a, ok := s.active(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	a.cancel()
	return nil
}

// Job returns the current state of a running job, or its history entry.
func (s *Service) Job(ctx context.Context, id string) (Job, error) {
	if a, ok := s.active(id); ok {
		return a.snapshot(), nil
	}
	return s.history.Get(ctx, id)
}

// Wait blocks until job id finishes and returns its final state.
func (s *Service) Wait(ctx context.Context, id string) (Job, error) {
	if a, ok := s.active(id); ok {
		select {
		case <-a.done:
			return a.snapshot(), nil
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}
	return s.history.Get(ctx, id)
}

// ActiveJobs returns snapshots of every job not yet finished.
func (s *Service) ActiveJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, a := range s.jobs {
		out = append(out, a.snapshot())
	}
	return out
}

// CheckQuotes scans a JSON file for unbalanced string quotes. A file that
// fails the check returns its report together with
// jsonstream.ErrUnterminatedStr.
func (s *Service) CheckQuotes(ctx context.Context, path string, enc textenc.Encoding) (jsonstream.QuoteReport, error) {
	if err := ctx.Err(); err != nil {
		return jsonstream.QuoteReport{}, err
	}
	return jsonstream.CheckQuotesLogger(logging.FromContext(ctx), path, enc)
}
