package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/textjson/internal/parser"
	"github.com/dgallion1/textjson/internal/pipeline"
)

// handleExtract accepts either a multipart upload (file + optional form
// fields) or an inline JSON body (text + optional fields) and queues an
// extraction job.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		s.handleExtractMultipart(w, r)
		return
	}
	s.handleExtractInline(w, r)
}

func (s *Server) handleExtractMultipart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !parser.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	var schema any
	if raw := r.FormValue("schema"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &schema); err != nil {
			jsonError(w, "invalid schema JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	maxIterations := 0
	if v := r.FormValue("max_iterations"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxIterations = n
		}
	}

	s.submitJob(w, filename, r.FormValue("title"), data, schema, maxIterations)
}

// inlineExtractRequest is the JSON body alternative to a file upload.
type inlineExtractRequest struct {
	Text          string `json:"text"`
	Filename      string `json:"filename,omitempty"`
	Title         string `json:"title,omitempty"`
	Schema        any    `json:"schema,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

func (s *Server) handleExtractInline(w http.ResponseWriter, r *http.Request) {
	var req inlineExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		jsonError(w, "text is required", http.StatusBadRequest)
		return
	}

	filename := req.Filename
	if filename == "" {
		filename = "inline.txt"
	}
	filename = sanitizeFilename(filename)
	if !parser.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return
	}

	s.submitJob(w, filename, req.Title, []byte(req.Text), req.Schema, req.MaxIterations)
}

func (s *Server) submitJob(w http.ResponseWriter, filename, title string, data []byte, schema any, maxIterations int) {
	now := time.Now()
	job := &pipeline.Job{
		ID:            pipeline.NewJobID(),
		Status:        pipeline.StatusQueued,
		Phase:         "queued",
		Filename:      filename,
		Title:         title,
		MaxIterations: maxIterations,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	job.SetFileData(data)
	job.SetSchema(schema)

	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   job.ID,
		"status":   job.Status,
		"poll_url": fmt.Sprintf("/api/extract/%s/status", job.ID),
	})
}

func (s *Server) handleExtractStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   snap.ID,
		"status":   snap.Status,
		"phase":    snap.Phase,
		"filename": snap.Filename,
		"title":    snap.Title,
		"progress": snap.Progress,
	})
}

func (s *Server) handleExtractResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}

	res := job.Result()
	if res == nil {
		snap := job.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error":  "result not ready",
			"status": snap.Status,
			"phase":  snap.Phase,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":    job.ID,
		"document":  res.Document,
		"usage":     res.Usage,
		"guidance":  res.Guidance,
		"delivered": res.Delivered,
	})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
