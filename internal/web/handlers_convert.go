package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvjson/internal/core"
	"github.com/JonMunkholm/csvjson/internal/fileio"
	"github.com/JonMunkholm/csvjson/internal/jsonstream"
	"github.com/JonMunkholm/csvjson/internal/textenc"
)

// maxFormMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const maxFormMemory = 32 << 20

// ResultTTL is how long a finished background job's output stays
// available for download.
var ResultTTL = time.Hour

// upload is a received file in its own work directory. The conversion
// output is written next to it.
type upload struct {
	dir   string
	name  string
	input string
}

func (u *upload) remove() {
	if err := os.RemoveAll(u.dir); err != nil {
		slog.Warn("remove work dir", "dir", u.dir, "error", err)
	}
}

// uploadName reduces a client file name to a safe base name.
func uploadName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}

// receiveUpload stores the "file" form field in a fresh work directory.
// accept filters file names by extension.
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request, accept func(string) bool) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Convert.MaxUploadSize)

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		if isMaxBytesError(err) {
			return nil, fmt.Errorf("file too large: %w", err)
		}
		return nil, fmt.Errorf("no file provided: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("no file provided: %w", err)
	}
	defer file.Close()

	name := uploadName(header.Filename)
	if !accept(name) {
		return nil, fmt.Errorf("unsupported file type %q", name)
	}

	dir, err := os.MkdirTemp(s.cfg.Convert.WorkDir, "csvjson-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	u := &upload{dir: dir, name: name, input: filepath.Join(dir, name)}

	dst, err := os.Create(u.input)
	if err == nil {
		_, err = io.Copy(dst, file)
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		u.remove()
		return nil, fmt.Errorf("store upload: %w", err)
	}
	return u, nil
}

// prepareRequest receives the upload for d and builds its conversion
// request from the form fields.
func (s *Server) prepareRequest(w http.ResponseWriter, r *http.Request, d core.Direction) (core.Request, *upload, error) {
	u, err := s.receiveUpload(w, r, d.Matches)
	if err != nil {
		return core.Request{}, nil, err
	}

	suffix, err := outputCompression(r)
	if err != nil {
		u.remove()
		return core.Request{}, nil, err
	}
	req := core.NewRequest(d, u.input, filepath.Join(u.dir, core.OutputName(u.name, d)+suffix))

	switch d {
	case core.CSVToJSON:
		req.CSV, err = csvToJSONOptions(r)
	case core.JSONToCSV:
		req.JSON, err = jsonToCSVOptions(r)
	}
	if err != nil {
		u.remove()
		return core.Request{}, nil, err
	}
	return req, u, nil
}

func directionParam(w http.ResponseWriter, r *http.Request) (core.Direction, bool) {
	d, err := core.ParseDirection(chi.URLParam(r, "direction"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return d, true
}

// handleConvert converts an uploaded file and streams the result back.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	d, ok := directionParam(w, r)
	if !ok {
		return
	}

	req, u, err := s.prepareRequest(w, r, d)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	defer u.remove()

	job, err := s.service.Run(WithRequestMetadata(r.Context(), r), req)
	if err != nil {
		s.respondJobError(w, r, err, 0, job.ID)
		return
	}

	s.sendResult(w, r, job)
}

// sendResult streams a completed job's output file with its result
// metadata in headers.
func (s *Server) sendResult(w http.ResponseWriter, r *http.Request, job core.Job) {
	f, err := os.Open(job.Output)
	if err != nil {
		s.respondJobError(w, r, err, http.StatusInternalServerError, job.ID)
		return
	}
	defer f.Close()

	name := filepath.Base(job.Output)
	h := w.Header()
	h.Set("Content-Type", contentType(name))
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	h.Set("X-Job-ID", job.ID)
	h.Set("X-Checksum-XXH64", job.Checksum)
	h.Set("X-Row-Count", strconv.FormatInt(job.Rows, 10))
	h.Set("X-Skipped-Count", strconv.FormatInt(job.Skipped, 10))

	var modTime time.Time
	if job.FinishedAt != nil {
		modTime = *job.FinishedAt
	}
	http.ServeContent(w, r, name, modTime, f)
}

func contentType(name string) string {
	if fileio.CompressionFor(name) != fileio.None {
		if fileio.CompressionFor(name) == fileio.Gzip {
			return "application/gzip"
		}
		return "application/octet-stream"
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".ndjson", ".jsonl":
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// handleStartJob starts a background conversion and returns its id. The
// output can be fetched from /api/jobs/{id}/download once it completes.
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	d, ok := directionParam(w, r)
	if !ok {
		return
	}

	req, u, err := s.prepareRequest(w, r, d)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	id, err := s.service.Start(WithRequestMetadata(r.Context(), r), req)
	if err != nil {
		u.remove()
		s.respondError(w, r, err, 0)
		return
	}
	s.trackUpload(id, u)

	w.Header().Set("Location", "/api/jobs/"+id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{
		"job_id":   id,
		"progress": "/api/jobs/" + id + "/progress",
		"download": "/api/jobs/" + id + "/download",
	})
}

// trackUpload keeps a background job's work directory until its output
// is downloaded, ResultTTL passes, or the job ends without output.
func (s *Server) trackUpload(id string, u *upload) {
	s.uploadsMu.Lock()
	s.uploads[id] = u
	s.uploadsMu.Unlock()

	go func() {
		job, err := s.service.Wait(context.Background(), id)
		if err != nil || job.Phase != core.PhaseCompleted {
			s.releaseUpload(id)
			return
		}
		time.AfterFunc(ResultTTL, func() { s.releaseUpload(id) })
	}()
}

// releaseUpload removes a tracked work directory. It is safe to call more
// than once.
func (s *Server) releaseUpload(id string) {
	s.uploadsMu.Lock()
	u, ok := s.uploads[id]
	delete(s.uploads, id)
	s.uploadsMu.Unlock()
	if ok {
		u.remove()
	}
}

func (s *Server) releaseAllUploads() {
	s.uploadsMu.Lock()
	ids := make([]string, 0, len(s.uploads))
	for id := range s.uploads {
		ids = append(ids, id)
	}
	s.uploadsMu.Unlock()
	for _, id := range ids {
		s.releaseUpload(id)
	}
}

// handleJobDownload streams a completed background job's output once,
// then removes it.
func (s *Server) handleJobDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.service.Job(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if !job.Phase.Done() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		writeJSON(w, map[string]any{"job_id": job.ID, "phase": job.Phase, "rows": job.Rows})
		return
	}
	if job.Phase != core.PhaseCompleted {
		msg := core.UserMessage{Message: job.Error, Code: job.ErrorCode}
		respondErrorJSON(w, msg, statusFor(job.ErrorCode), job.ID)
		return
	}

	s.uploadsMu.Lock()
	_, tracked := s.uploads[id]
	s.uploadsMu.Unlock()
	if !tracked {
		writeError(w, http.StatusGone, "conversion output is no longer available")
		return
	}
	defer s.releaseUpload(id)

	s.sendResult(w, r, job)
}

// handleJobProgress streams a job's progress via Server-Sent Events. The
// event id is the row count, so a reconnecting client passing lastEventId
// skips updates it has seen.
func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var lastEventID int64 = -1
	if v := r.URL.Query().Get("lastEventId"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastEventID = n
		}
	}

	progressCh, err := s.service.Subscribe(id)
	if err != nil {
		// Finished jobs are answered from history with a single event.
		job, jerr := s.service.Job(r.Context(), id)
		if jerr != nil {
			s.respondError(w, r, err, 0)
			return
		}
		startEventStream(w)
		writeCompleteEvent(w, job)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	startEventStream(w)
	flusher.Flush()

	for {
		select {
		case p, ok := <-progressCh:
			if !ok {
				job, err := s.service.Job(context.WithoutCancel(r.Context()), id)
				if err != nil {
					fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				} else {
					writeCompleteEvent(w, job)
				}
				flusher.Flush()
				return
			}

			if p.Rows <= lastEventID && !p.Phase.Done() {
				continue
			}
			lastEventID = p.Rows
			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", p.Rows, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func startEventStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeCompleteEvent(w io.Writer, job core.Job) {
	data, _ := json.Marshal(job)
	fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
}

// handleCancelJob cancels a running job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Cancel(chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, map[string]string{"status": "cancelled"})
}

// QuoteCheckResponse is the result of a quote balance scan.
type QuoteCheckResponse struct {
	OK               bool  `json:"ok"`
	Signals          []int `json:"signals"`
	Lines            int   `json:"lines"`
	FirstSuspectLine int   `json:"first_suspect_line,omitempty"`
	EndsInsideString bool  `json:"ends_inside_string"`
}

// handleCheckQuotes scans an uploaded JSON file for unbalanced quotes.
// An unbalanced file is a successful check with ok=false.
func (s *Server) handleCheckQuotes(w http.ResponseWriter, r *http.Request) {
	u, err := s.receiveUpload(w, r, core.JSONToCSV.Matches)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	defer u.remove()

	enc := textenc.UTF8
	f := &formReader{r: r}
	f.encoding("encoding", &enc)
	if f.err != nil {
		s.respondError(w, r, f.err, 0)
		return
	}

	report, err := s.service.CheckQuotes(r.Context(), u.input, enc)
	if err != nil && !errors.Is(err, jsonstream.ErrUnterminatedStr) {
		s.respondError(w, r, err, 0)
		return
	}

	signals := report.Signals
	if signals == nil {
		signals = []int{}
	}
	writeJSON(w, QuoteCheckResponse{
		OK:               report.OK(),
		Signals:          signals,
		Lines:            report.Lines,
		FirstSuspectLine: report.FirstSuspectLine(),
		EndsInsideString: report.EndsInsideString(),
	})
}
