package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/textjson/internal/config"
	"github.com/dgallion1/textjson/internal/engine"
	"github.com/dgallion1/textjson/internal/llm"
	"github.com/dgallion1/textjson/internal/pipeline"
)

func testServer(t *testing.T, cfg config.Config) (*Server, *pipeline.Orchestrator) {
	t.Helper()
	if cfg.MaxQueueSize == 0 {
		cfg.MaxQueueSize = 10
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 1 << 20
	}
	if cfg.JobTTL == 0 {
		cfg.JobTTL = time.Hour
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Workers are never started: submitted jobs stay queued, which is
	// what the handler tests need.
	orch := pipeline.NewOrchestrator(cfg, pipeline.Deps{}, log)
	return NewServer(orch, llm.NewStats(time.Hour), "gpt-4o-mini", log, cfg), orch
}

func TestHealth_Public(t *testing.T) {
	s, _ := testServer(t, config.Config{APIKey: "secret"})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestAuth_RequiredWhenConfigured(t *testing.T) {
	s, _ := testServer(t, config.Config{APIKey: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("good token: status = %d", rec.Code)
	}
}

func TestAuth_DisabledWhenUnset(t *testing.T) {
	s, _ := testServer(t, config.Config{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestExtract_InlineTextQueuesJob(t *testing.T) {
	s, orch := testServer(t, config.Config{})

	body := `{"text":"Some document text.","title":"Notes","schema":{"type":"object"},"max_iterations":7}`
	req := httptest.NewRequest(http.MethodPost, "/api/extract", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		JobID   string `json:"job_id"`
		Status  string `json:"status"`
		PollURL string `json:"poll_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != string(pipeline.StatusQueued) {
		t.Errorf("status = %q", resp.Status)
	}

	job := orch.GetJob(resp.JobID)
	if job == nil {
		t.Fatal("job not registered")
	}
	if job.Filename != "inline.txt" || job.Title != "Notes" || job.MaxIterations != 7 {
		t.Errorf("job = %+v", job.Snapshot())
	}
	if job.Schema() == nil {
		t.Error("schema not attached")
	}
	if string(job.FileData()) != "Some document text." {
		t.Errorf("file data = %q", job.FileData())
	}
}

func TestExtract_InlineRequiresText(t *testing.T) {
	s, _ := testServer(t, config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/api/extract", strings.NewReader(`{"title":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestExtract_MultipartUpload(t *testing.T) {
	s, orch := testServer(t, config.Config{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "report.md")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("# Report\n\nBody text."))
	mw.WriteField("schema", `{"type":"object"}`)
	mw.WriteField("max_iterations", "5")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/extract", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		JobID string `json:"job_id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	job := orch.GetJob(resp.JobID)
	if job == nil {
		t.Fatal("job not registered")
	}
	if job.Filename != "report.md" || job.MaxIterations != 5 {
		t.Errorf("job = %+v", job.Snapshot())
	}
}

func TestExtract_UnsupportedExtensionRejected(t *testing.T) {
	s, _ := testServer(t, config.Config{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "binary.exe")
	fw.Write([]byte("MZ"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/extract", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestExtractStatus_AndResultLifecycle(t *testing.T) {
	s, orch := testServer(t, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/extract", strings.NewReader(`{"text":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var resp struct {
		JobID string `json:"job_id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)

	// Status while queued.
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/extract/"+resp.JobID+"/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"queued"`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	// Result not ready yet.
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/extract/"+resp.JobID+"/result", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("result while queued: %d", rec.Code)
	}

	// Simulate completion.
	job := orch.GetJob(resp.JobID)
	job.SetResult(&pipeline.JobResult{
		Document: map[string]any{"title": "hello"},
		Usage:    engine.Usage{TotalTokens: 10},
	})
	job.SetStatus(pipeline.StatusCompleted, "done")

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/extract/"+resp.JobID+"/result", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("result endpoint: %d", rec.Code)
	}
	var result struct {
		Document map[string]any `json:"document"`
	}
	json.Unmarshal(rec.Body.Bytes(), &result)
	if result.Document["title"] != "hello" {
		t.Errorf("document = %#v", result.Document)
	}
}

func TestExtractStatus_UnknownJob(t *testing.T) {
	s, _ := testServer(t, config.Config{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/extract/nope/status", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestExtract_QueueFull(t *testing.T) {
	s, _ := testServer(t, config.Config{MaxQueueSize: 1})

	for i, want := range []int{http.StatusAccepted, http.StatusServiceUnavailable} {
		req := httptest.NewRequest(http.MethodPost, "/api/extract", strings.NewReader(`{"text":"hello"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("submit %d: status = %d, want %d", i+1, rec.Code, want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"", "unnamed"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
