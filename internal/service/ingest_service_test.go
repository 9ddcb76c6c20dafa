package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tunablelabs/codebase-rag/internal/backend"
	"github.com/tunablelabs/codebase-rag/internal/catalog"
	"github.com/tunablelabs/codebase-rag/internal/config"
	"github.com/tunablelabs/codebase-rag/internal/domain"
)

// fakeBackend emulates the code-analysis backend's HTTP surface. Individual
// routes can be overridden to fail.
type fakeBackend struct {
	mu       sync.Mutex
	requests []string
	fail     map[string]int // path -> status
	respond  map[string]string
	block    func(path string)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		fail:    make(map[string]int),
		respond: make(map[string]string),
	}
}

func (f *fakeBackend) respondWith(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond[path] = body
}

func (f *fakeBackend) failOn(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[path] = status
}

func (f *fakeBackend) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.URL.Path)
	status, failing := f.fail[r.URL.Path]
	body, overridden := f.respond[r.URL.Path]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		block(r.URL.Path)
	}
	if failing {
		w.WriteHeader(status)
		w.Write([]byte(`{"detail": "injected failure"}`))
		return
	}
	if overridden {
		w.Write([]byte(body))
		return
	}

	switch r.URL.Path {
	case "/create/user", "/storage", "/session/rename", "/session/delete":
		w.Write([]byte(`{"success": true}`))
	case "/create/session/uploadproject":
		w.Write([]byte(`{"success": true, "session_id": "sess-1"}`))
	case "/stats":
		w.Write([]byte(`{"stats": {"total_code_files": 7, "language_distribution": {"Go": "100%"}}}`))
	case "/session/list":
		w.Write([]byte(`[]`))
	case "/session/data":
		w.Write([]byte(`[]`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type ingestFixture struct {
	service *IngestService
	catalog *catalog.Catalog
	backend *fakeBackend
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	fb := newFakeBackend()
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Backend:  config.BackendConfig{BaseURL: srv.URL, Timeout: 5 * time.Second},
		Identity: config.IdentityConfig{UserID: "u1"},
	}
	client := backend.NewClient(cfg.Backend, zap.NewNop())
	cat := catalog.New()
	svc := NewIngestService(cfg, client, cat, nil, NewReporter(), zap.NewNop())
	return &ingestFixture{service: svc, catalog: cat, backend: fb}
}

var remoteSource = domain.RepoSource{RepoURL: "https://github.com/acme/widgets.git"}

func TestIngestSuccessCreatesOneSession(t *testing.T) {
	fx := newIngestFixture(t)

	result, err := fx.service.Ingest(context.Background(), remoteSource)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Session.ID != "sess-1" {
		t.Fatalf("Session.ID = %q, want sess-1", result.Session.ID)
	}
	if result.Session.DisplayName != "widgets" {
		t.Fatalf("Session.DisplayName = %q, want widgets", result.Session.DisplayName)
	}
	if result.Stats.TotalCodeFiles != 7 {
		t.Fatalf("Stats.TotalCodeFiles = %d, want 7", result.Stats.TotalCodeFiles)
	}

	if got := fx.catalog.Len(); got != 1 {
		t.Fatalf("catalog.Len() = %d, want 1", got)
	}
	if got := fx.catalog.ActiveID(); got != "sess-1" {
		t.Fatalf("ActiveID() = %q, want sess-1", got)
	}

	want := []string{"/create/user", "/create/session/uploadproject", "/storage", "/stats"}
	seen := fx.backend.seen()
	if len(seen) != len(want) {
		t.Fatalf("backend calls = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("backend call %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestIngestEmptySource(t *testing.T) {
	fx := newIngestFixture(t)

	if _, err := fx.service.Ingest(context.Background(), domain.RepoSource{}); !errors.Is(err, domain.ErrNoSource) {
		t.Fatalf("Ingest(empty) error = %v, want ErrNoSource", err)
	}
	if len(fx.backend.seen()) != 0 {
		t.Fatalf("backend calls = %v, want none", fx.backend.seen())
	}
}

func TestIngestFailureLeavesNoSession(t *testing.T) {
	// A failure at any step must leave the catalog untouched.
	steps := []string{"/create/user", "/create/session/uploadproject", "/storage", "/stats"}
	for _, step := range steps {
		t.Run(step, func(t *testing.T) {
			fx := newIngestFixture(t)
			fx.backend.failOn(step, http.StatusInternalServerError)

			_, err := fx.service.Ingest(context.Background(), remoteSource)
			if err == nil {
				t.Fatal("Ingest() error = nil, want failure")
			}
			if got := fx.catalog.Len(); got != 0 {
				t.Fatalf("catalog.Len() after failed %s = %d, want 0", step, got)
			}
			if p := fx.service.Progress(); p.Stage != StageError {
				t.Fatalf("Progress().Stage = %q, want error", p.Stage)
			}
		})
	}
}

func TestIngestRejectsConcurrentAttempt(t *testing.T) {
	fx := newIngestFixture(t)

	gate := make(chan struct{})
	started := make(chan struct{})
	fx.backend.block = func(path string) {
		if path == "/storage" {
			close(started)
			<-gate
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := fx.service.Ingest(context.Background(), remoteSource)
		done <- err
	}()
	<-started

	if _, err := fx.service.Ingest(context.Background(), remoteSource); !errors.Is(err, domain.ErrIngestInFlight) {
		t.Fatalf("second Ingest() error = %v, want ErrIngestInFlight", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}
	if got := fx.catalog.Len(); got != 1 {
		t.Fatalf("catalog.Len() = %d, want 1", got)
	}
}

func TestIngestRetryAfterFailure(t *testing.T) {
	fx := newIngestFixture(t)
	fx.backend.failOn("/storage", http.StatusInternalServerError)

	if _, err := fx.service.Ingest(context.Background(), remoteSource); err == nil {
		t.Fatal("Ingest() error = nil, want failure")
	}

	fx.backend.mu.Lock()
	delete(fx.backend.fail, "/storage")
	fx.backend.mu.Unlock()

	if _, err := fx.service.Ingest(context.Background(), remoteSource); err != nil {
		t.Fatalf("Ingest() retry error = %v", err)
	}
	if got := fx.catalog.Len(); got != 1 {
		t.Fatalf("catalog.Len() = %d, want 1", got)
	}
	if p := fx.service.Progress(); p.Stage != StageComplete {
		t.Fatalf("Progress().Stage = %q, want complete", p.Stage)
	}
}
