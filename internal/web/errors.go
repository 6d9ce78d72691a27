package web

// errors.go provides unified error response handling for the web layer.
//
// Errors are logged with full technical detail and the request ID, then
// mapped through core.MapError to a user message and code. HTMX requests
// get an HTML fragment, API requests JSON, anything else plain text.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/csvjson/internal/core"
	"github.com/JonMunkholm/csvjson/internal/web/templates"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	JobID   string `json:"job_id,omitempty"`
}

// respondError logs err and writes a user-friendly response. A zero
// statusCode is derived from the error's code.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	s.respondJobError(w, r, err, statusCode, "")
}

// respondJobError is respondError for failures tied to a recorded job.
func (s *Server) respondJobError(w http.ResponseWriter, r *http.Request, err error, statusCode int, jobID string) {
	userMsg := core.MapError(err)
	if statusCode == 0 {
		statusCode = statusFor(userMsg.Code)
	}

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
		"job_id", jobID,
		"request_id", middleware.GetReqID(r.Context()),
	)

	if jobID != "" {
		w.Header().Set("X-Job-ID", jobID)
	}

	switch {
	case isHTMX(r):
		renderErrorPartial(r.Context(), w, userMsg, statusCode)
	case wantsJSON(r):
		respondErrorJSON(w, userMsg, statusCode, jobID)
	default:
		http.Error(w, userMsg.Message+" ("+userMsg.Code+")", statusCode)
	}
}

// statusFor maps an error code family to an HTTP status.
func statusFor(code string) int {
	switch {
	case code == "FILE001":
		return http.StatusRequestEntityTooLarge
	case code == "FILE002", code == "JOB003":
		return http.StatusNotFound
	case code == "JOB001":
		return 499 // client closed request
	case code == "JOB002":
		return http.StatusGatewayTimeout
	case strings.HasPrefix(code, "RATE"):
		return http.StatusTooManyRequests
	case strings.HasPrefix(code, "CFG"), strings.HasPrefix(code, "FILE"):
		return http.StatusBadRequest
	case strings.HasPrefix(code, "STR"), strings.HasPrefix(code, "CNV"), strings.HasPrefix(code, "JSN"):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, statusCode int, jobID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		JobID:   jobID,
	}); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// renderErrorPartial renders an HTMX-compatible error fragment.
func renderErrorPartial(ctx context.Context, w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(ctx, w); err != nil {
		slog.Error("render error alert", "error", err)
	}
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON checks if the client prefers JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}

	// API routes default to JSON
	return strings.HasPrefix(r.URL.Path, "/api/")
}

// isMaxBytesError reports whether err came from http.MaxBytesReader.
func isMaxBytesError(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
