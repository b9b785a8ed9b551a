package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/session"
	"github.com/kestrelhq/qaflow/internal/store"
	"github.com/kestrelhq/qaflow/internal/tool"
)

type fakeQueue struct {
	jobs []domain.Job
	err  error
}

func (f *fakeQueue) Enqueue(ctx context.Context, job domain.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeStream struct {
	events chan domain.Event
	err    error
}

func (f *fakeStream) Subscribe(ctx context.Context, requestID string) (<-chan domain.Event, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.events, func() {}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer() (*Server, *fakeQueue, *store.MemoryStore) {
	q := &fakeQueue{}
	st := store.NewMemoryStore()
	sessions := session.New(st)
	srv := New(q, &fakeStream{events: make(chan domain.Event)}, sessions, st, tool.NewRegistry(), func() bool { return true }, "http://localhost:8080", testLogger())
	return srv, q, st
}

func TestHandleQueueEnqueuesJobAndReturnsStreamURL(t *testing.T) {
	srv, q, _ := newTestServer()

	body, _ := json.Marshal(map[string]string{"query": "what is the capital of France"})
	req := httptest.NewRequest(http.MethodPost, "/api/queue", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["success"] != true {
		t.Errorf("expected success=true, got %+v", resp)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("expected one job enqueued, got %d", len(q.jobs))
	}
	if q.jobs[0].Query != "what is the capital of France" {
		t.Errorf("unexpected job query: %q", q.jobs[0].Query)
	}
}

func TestHandleQueueRejectsEmptyQuery(t *testing.T) {
	srv, _, _ := newTestServer()

	body, _ := json.Marshal(map[string]string{"query": ""})
	req := httptest.NewRequest(http.MethodPost, "/api/queue", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleQueueRejectsMalformedBody(t *testing.T) {
	srv, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/queue", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleGetSessionReturnsHistory(t *testing.T) {
	srv, _, st := newTestServer()
	_ = st.SaveState(context.Background(), "sess1", 1, domain.AgentState{
		ChatHistory: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		Summary:     "a summary",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/sess1", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["summary"] != "a summary" {
		t.Errorf("expected summary in response, got %+v", resp)
	}
}

func TestHandleDeleteSessionIsIdempotent(t *testing.T) {
	srv, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/never-existed", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 even for a never-existing session, got %d", w.Code)
	}
}

func TestHandleFeedbackRequiresValidType(t *testing.T) {
	srv, _, _ := newTestServer()

	body, _ := json.Marshal(map[string]string{"session_id": "sess1", "feedback_type": "sideways"})
	req := httptest.NewRequest(http.MethodPost, "/api/feedback", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an invalid feedback_type, got %d", w.Code)
	}
}

func TestHandleFeedbackSavesRecord(t *testing.T) {
	srv, _, st := newTestServer()

	body, _ := json.Marshal(map[string]string{"session_id": "sess1", "feedback_type": "up"})
	req := httptest.NewRequest(http.MethodPost, "/api/feedback", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	analytics, err := st.Analytics(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analytics.TotalUp != 1 {
		t.Errorf("expected one thumbs-up recorded, got %d", analytics.TotalUp)
	}
}

func TestHandleHealthReportsBackendStatus(t *testing.T) {
	srv, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	backends, ok := resp["backends"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected backends object, got %+v", resp)
	}
	if backends["llm"] != true {
		t.Errorf("expected llm backend healthy, got %+v", backends)
	}
	if backends["search"] != false {
		t.Errorf("expected search backend unconfigured, got %+v", backends)
	}
}
