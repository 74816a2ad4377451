package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"HireScout/internal/browser"
	"HireScout/internal/domain"
	"HireScout/internal/ingest"
	"HireScout/internal/runner"
)

type mockIngestor struct {
	lastRecipient string
	lastItems     []ingest.RawCandidate
	result        ingest.BatchResult
	err           error
}

func (m *mockIngestor) IngestBatch(_ context.Context, recipientID string, items []ingest.RawCandidate) (ingest.BatchResult, error) {
	m.lastRecipient = recipientID
	m.lastItems = items
	return m.result, m.err
}

type mockQuota struct {
	status domain.QuotaStatus
	err    error
}

func (m *mockQuota) Status(context.Context, string, domain.RecipientTier) (domain.QuotaStatus, error) {
	return m.status, m.err
}

type mockRunner struct {
	startErr  error
	stopErr   error
	status    domain.SessionStatus
	scrape    domain.IngestSummary
	scrapeErr error
	started   []string
	stops     int
}

func (m *mockRunner) Start(_ context.Context, recipientID string) error {
	m.started = append(m.started, recipientID)
	return m.startErr
}

func (m *mockRunner) Stop() error {
	m.stops++
	return m.stopErr
}

func (m *mockRunner) Status() domain.SessionStatus { return m.status }

func (m *mockRunner) ScrapeOnce(context.Context) (domain.IngestSummary, error) {
	return m.scrape, m.scrapeErr
}

type mockProfilePrefs struct {
	tier domain.RecipientTier
	err  error
}

func (m *mockProfilePrefs) Keywords(context.Context, string) (string, error)   { return "", nil }
func (m *mockProfilePrefs) Authenticated(context.Context, string) (bool, error) { return true, nil }
func (m *mockProfilePrefs) Profile(context.Context, string) (domain.RecipientProfile, error) {
	return domain.RecipientProfile{Tier: m.tier}, m.err
}

func testServer(ingestor *mockIngestor, quota *mockQuota, runnerCtl *mockRunner) *Server {
	return NewServer(ingestor, quota, runnerCtl, &mockProfilePrefs{tier: domain.RecipientTierBase}, ":0", slog.Default())
}

func TestBatchEndpoint(t *testing.T) {
	t.Parallel()

	ingestor := &mockIngestor{result: ingest.BatchResult{Received: 2, Processed: 1, Errors: 1}}
	srv := testServer(ingestor, &mockQuota{}, &mockRunner{})

	body := `{"recipient":"rec-1","items":[{"url":"https://a.example/p/1","text":"hiring"},{"text":""}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/posts/batch", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ingestor.lastRecipient != "rec-1" {
		t.Fatalf("recipient = %q, want rec-1", ingestor.lastRecipient)
	}
	if len(ingestor.lastItems) != 2 {
		t.Fatalf("items = %d, want 2", len(ingestor.lastItems))
	}

	var got ingest.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Received != 2 || got.Processed != 1 || got.Errors != 1 {
		t.Fatalf("result = %+v", got)
	}
}

func TestBatchEndpointAcceptsAlternateRecipientField(t *testing.T) {
	t.Parallel()

	ingestor := &mockIngestor{}
	srv := testServer(ingestor, &mockQuota{}, &mockRunner{})

	body := `{"recipientId":"rec-2","items":[]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/posts/batch", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ingestor.lastRecipient != "rec-2" {
		t.Fatalf("recipient = %q, want rec-2", ingestor.lastRecipient)
	}
}

func TestBatchEndpointRequiresRecipient(t *testing.T) {
	t.Parallel()

	srv := testServer(&mockIngestor{}, &mockQuota{}, &mockRunner{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/posts/batch", strings.NewReader(`{"items":[]}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestQuotaEndpoint(t *testing.T) {
	t.Parallel()

	resetAt := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	quota := &mockQuota{status: domain.QuotaStatus{Current: 3, Limit: 5, ResetAt: resetAt, CanProceed: true}}
	srv := testServer(&mockIngestor{}, quota, &mockRunner{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota?recipient=rec-1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got domain.QuotaStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Current != 3 || got.Limit != 5 || !got.CanProceed {
		t.Fatalf("quota = %+v", got)
	}
}

func TestQuotaEndpointRequiresRecipient(t *testing.T) {
	t.Parallel()

	srv := testServer(&mockIngestor{}, &mockQuota{}, &mockRunner{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRunnerStart(t *testing.T) {
	t.Parallel()

	runnerCtl := &mockRunner{status: domain.SessionStatus{State: domain.SessionActive}}
	srv := testServer(&mockIngestor{}, &mockQuota{}, runnerCtl)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runner/start", strings.NewReader(`{"recipient":"rec-1"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(runnerCtl.started) != 1 || runnerCtl.started[0] != "rec-1" {
		t.Fatalf("started = %v", runnerCtl.started)
	}
}

func TestRunnerStartConflict(t *testing.T) {
	t.Parallel()

	runnerCtl := &mockRunner{startErr: runner.ErrAlreadyRunning}
	srv := testServer(&mockIngestor{}, &mockQuota{}, runnerCtl)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runner/start", strings.NewReader(`{"recipient":"rec-1"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestRunnerStartUnauthenticated(t *testing.T) {
	t.Parallel()

	runnerCtl := &mockRunner{startErr: runner.ErrNotAuthenticated}
	srv := testServer(&mockIngestor{}, &mockQuota{}, runnerCtl)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runner/start", strings.NewReader(`{"recipient":"rec-1"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestRunnerStopWhenIdle(t *testing.T) {
	t.Parallel()

	runnerCtl := &mockRunner{stopErr: runner.ErrNotRunning}
	srv := testServer(&mockIngestor{}, &mockQuota{}, runnerCtl)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runner/stop", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestRunnerStatus(t *testing.T) {
	t.Parallel()

	runnerCtl := &mockRunner{status: domain.SessionStatus{ID: "run-1", State: domain.SessionActive, IngestedCount: 7}}
	srv := testServer(&mockIngestor{}, &mockQuota{}, runnerCtl)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runner/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got domain.SessionStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "run-1" || got.State != domain.SessionActive || got.IngestedCount != 7 {
		t.Fatalf("status = %+v", got)
	}
}

func TestRunnerScrapeNoConnection(t *testing.T) {
	t.Parallel()

	runnerCtl := &mockRunner{scrapeErr: fmt.Errorf("%w: dial tcp: refused", browser.ErrNoConnection)}
	srv := testServer(&mockIngestor{}, &mockQuota{}, runnerCtl)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runner/scrape", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	srv := testServer(&mockIngestor{}, &mockQuota{}, &mockRunner{})

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/posts/batch"},
		{http.MethodPost, "/api/v1/quota"},
		{http.MethodGet, "/api/v1/runner/start"},
		{http.MethodGet, "/api/v1/runner/stop"},
		{http.MethodPost, "/api/v1/runner/status"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: status = %d, want 405", tc.method, tc.path, rec.Code)
		}
	}
}
