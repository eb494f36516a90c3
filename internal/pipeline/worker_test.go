package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgallion1/textjson/internal/chunker"
	"github.com/dgallion1/textjson/internal/engine"
	"github.com/dgallion1/textjson/internal/sink"
)

type stubPrompter struct{}

func (stubPrompter) System(_ any, _ *engine.Guidance, _ any) string { return "system" }
func (stubPrompter) User(text string, index, total int) string {
	return fmt.Sprintf("chunk %d/%d: %s", index+1, total, text)
}

// scriptedDM replays a fixed sequence of proposals.
type scriptedDM struct {
	proposals []*engine.Proposal
	calls     int
}

func (s *scriptedDM) Propose(_ context.Context, _ *engine.Conversation) (*engine.Proposal, error) {
	if s.calls >= len(s.proposals) {
		return nil, fmt.Errorf("no proposal scripted for turn %d", s.calls+1)
	}
	p := s.proposals[s.calls]
	s.calls++
	return p, nil
}

func mustArgs(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(t *testing.T, dm engine.DecisionMaker, sc *sink.Client) *Worker {
	t.Helper()
	ch := chunker.New(nil, chunker.Config{}, quietLogger())
	return NewWorker(dm, stubPrompter{}, nil, nil, engine.Config{}, ch, sc, quietLogger(), false)
}

func testJob(filename, content string) *Job {
	job := &Job{
		ID:        NewJobID(),
		Status:    StatusQueued,
		Phase:     "queued",
		Filename:  filename,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	job.SetFileData([]byte(content))
	return job
}

func TestWorker_ProcessCompletesJob(t *testing.T) {
	dm := &scriptedDM{proposals: []*engine.Proposal{
		{Calls: []engine.ToolCall{{
			ID:   "c1",
			Name: engine.ToolApplyPatches,
			Args: mustArgs(t, map[string]any{"patches": []map[string]any{
				{"op": "add", "path": "/title", "value": "Meeting notes"},
			}}),
		}}, Usage: engine.Usage{InputTokens: 50, OutputTokens: 10, TotalTokens: 60, Calls: 1}},
		{Calls: []engine.ToolCall{{
			ID:   "c2",
			Name: engine.ToolUpdateGuidance,
			Args: mustArgs(t, map[string]any{"last_path": "/title", "extracted_entities_count": 1}),
		}}, Usage: engine.Usage{InputTokens: 60, OutputTokens: 10, TotalTokens: 70, Calls: 1}},
	}}

	w := newTestWorker(t, dm, nil)
	job := testJob("notes.txt", "The meeting covered quarterly results.")
	w.Process(context.Background(), job)

	if job.Status != StatusCompleted {
		t.Fatalf("status = %q, errors = %v", job.Status, job.Snapshot().Progress.Errors)
	}
	res := job.Result()
	if res == nil {
		t.Fatal("expected a result on the job")
	}
	doc, ok := res.Document.(map[string]any)
	if !ok || doc["title"] != "Meeting notes" {
		t.Errorf("document = %#v", res.Document)
	}
	if res.Usage.TotalTokens != 130 {
		t.Errorf("usage = %+v", res.Usage)
	}
	if res.Guidance == nil || res.Guidance.LastPath != "/title" {
		t.Errorf("guidance = %+v", res.Guidance)
	}

	snap := job.Snapshot()
	if snap.Progress.TotalChunks != 1 || snap.Progress.ChunksProcessed != 1 {
		t.Errorf("progress = %+v", snap.Progress)
	}
	if snap.Progress.Iterations != 2 {
		t.Errorf("iterations = %d", snap.Progress.Iterations)
	}
	if job.Title != "notes" {
		t.Errorf("title = %q", job.Title)
	}
	if job.ContentHash == "" {
		t.Error("content hash not recorded")
	}
}

func TestWorker_ProcessDeliversToSink(t *testing.T) {
	var delivered sink.Delivery
	var deliveredPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deliveredPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&delivered)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	dm := &scriptedDM{proposals: []*engine.Proposal{
		{Calls: []engine.ToolCall{{
			ID:   "c1",
			Name: engine.ToolUpdateGuidance,
			Args: mustArgs(t, map[string]any{}),
		}}},
	}}
	w := newTestWorker(t, dm, sink.NewClient(srv.URL, "tok"))
	job := testJob("notes.txt", "Some text.")
	w.Process(context.Background(), job)

	if job.Status != StatusCompleted {
		t.Fatalf("status = %q", job.Status)
	}
	if deliveredPath != "/documents/"+job.ID {
		t.Errorf("delivery path = %q", deliveredPath)
	}
	if !job.Result().Delivered {
		t.Error("expected delivered flag")
	}
	if delivered.Filename != "notes.txt" {
		t.Errorf("delivered filename = %q", delivered.Filename)
	}
}

func TestWorker_SinkFailureDoesNotFailJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dm := &scriptedDM{proposals: []*engine.Proposal{
		{Calls: []engine.ToolCall{{
			ID:   "c1",
			Name: engine.ToolUpdateGuidance,
			Args: mustArgs(t, map[string]any{}),
		}}},
	}}
	w := newTestWorker(t, dm, sink.NewClient(srv.URL, "tok"))
	job := testJob("notes.txt", "Some text.")
	w.Process(context.Background(), job)

	if job.Status != StatusCompleted {
		t.Fatalf("status = %q", job.Status)
	}
	if job.Result().Delivered {
		t.Error("expected delivered flag unset")
	}
	snap := job.Snapshot()
	if len(snap.Progress.Errors) == 0 {
		t.Error("expected delivery error recorded on job")
	}
}

func TestWorker_UnsupportedFormatFailsJob(t *testing.T) {
	w := newTestWorker(t, &scriptedDM{}, nil)
	job := testJob("image.png", "binary")
	w.Process(context.Background(), job)

	if job.Status != StatusFailed {
		t.Fatalf("status = %q", job.Status)
	}
	if job.Phase != "parsing" {
		t.Errorf("phase = %q", job.Phase)
	}
}

func TestWorker_EmptyFileFailsJob(t *testing.T) {
	w := newTestWorker(t, &scriptedDM{}, nil)
	job := testJob("empty.txt", "")
	w.Process(context.Background(), job)

	if job.Status != StatusFailed {
		t.Fatalf("status = %q", job.Status)
	}
	if job.Phase != "chunking" {
		t.Errorf("phase = %q", job.Phase)
	}
}
