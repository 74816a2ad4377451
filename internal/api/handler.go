// Package api serves the HTTP boundary: candidate batch ingestion, quota
// inspection, and runner control.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"HireScout/internal/browser"
	"HireScout/internal/domain"
	"HireScout/internal/ingest"
	"HireScout/internal/ports"
	"HireScout/internal/runner"
)

// Ingestor accepts raw candidate batches.
type Ingestor interface {
	IngestBatch(ctx context.Context, recipientID string, items []ingest.RawCandidate) (ingest.BatchResult, error)
}

// QuotaReader reports the current window for a recipient.
type QuotaReader interface {
	Status(ctx context.Context, recipientID string, tier domain.RecipientTier) (domain.QuotaStatus, error)
}

// Runner is the session control surface exposed over HTTP.
type Runner interface {
	Start(ctx context.Context, recipientID string) error
	Stop() error
	Status() domain.SessionStatus
	ScrapeOnce(ctx context.Context) (domain.IngestSummary, error)
}

// Server wires the handlers onto a plain mux.
type Server struct {
	ingestor Ingestor
	quota    QuotaReader
	runner   Runner
	prefs    ports.PreferenceStore
	logger   *slog.Logger

	server *http.Server
	addr   string
}

// NewServer builds the API server. Start must be called to begin serving.
func NewServer(ingestor Ingestor, quota QuotaReader, runnerCtl Runner, prefsStore ports.PreferenceStore, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ingestor: ingestor,
		quota:    quota,
		runner:   runnerCtl,
		prefs:    prefsStore,
		logger:   logger,
		addr:     addr,
	}
}

// Handler returns the routed handler, exposed separately for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/posts/batch", s.handleBatch)
	mux.HandleFunc("/api/v1/quota", s.handleQuota)
	mux.HandleFunc("/api/v1/runner/start", s.handleRunnerStart)
	mux.HandleFunc("/api/v1/runner/stop", s.handleRunnerStop)
	mux.HandleFunc("/api/v1/runner/status", s.handleRunnerStatus)
	mux.HandleFunc("/api/v1/runner/scrape", s.handleRunnerScrape)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return mux
}

// Start blocks serving HTTP until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	s.logger.Info("api server listening", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// batchRequest is the ingestion wire contract. The recipient may arrive in
// the body or as a query parameter.
type batchRequest struct {
	Recipient   string                `json:"recipient,omitempty"`
	RecipientID string                `json:"recipientId,omitempty"`
	Items       []ingest.RawCandidate `json:"items"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	recipient := req.Recipient
	if recipient == "" {
		recipient = req.RecipientID
	}
	if recipient == "" {
		recipient = r.URL.Query().Get("recipient")
	}
	if recipient == "" {
		http.Error(w, "recipient is required", http.StatusBadRequest)
		return
	}

	result, err := s.ingestor.IngestBatch(r.Context(), recipient, req.Items)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, result)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recipient := r.URL.Query().Get("recipient")
	if recipient == "" {
		http.Error(w, "recipient is required", http.StatusBadRequest)
		return
	}

	tier := domain.RecipientTierBase
	if profile, err := s.prefs.Profile(r.Context(), recipient); err == nil {
		tier = profile.Tier
	} else {
		s.logger.Warn("profile lookup failed, assuming base tier", "recipient", recipient, "error", err)
	}

	status, err := s.quota.Status(r.Context(), recipient, tier)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, status)
}

func (s *Server) handleRunnerStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Recipient   string `json:"recipient,omitempty"`
		RecipientID string `json:"recipientId,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	recipient := req.Recipient
	if recipient == "" {
		recipient = req.RecipientID
	}
	if recipient == "" {
		http.Error(w, "recipient is required", http.StatusBadRequest)
		return
	}

	switch err := s.runner.Start(r.Context(), recipient); {
	case err == nil:
		s.writeJSON(w, s.runner.Status())
	case errors.Is(err, runner.ErrAlreadyRunning):
		s.writeErrorStatus(w, err, http.StatusConflict)
	case errors.Is(err, runner.ErrNotAuthenticated):
		s.writeErrorStatus(w, err, http.StatusForbidden)
	default:
		s.writeError(w, err)
	}
}

func (s *Server) handleRunnerStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch err := s.runner.Stop(); {
	case err == nil:
		s.writeJSON(w, s.runner.Status())
	case errors.Is(err, runner.ErrNotRunning):
		s.writeErrorStatus(w, err, http.StatusConflict)
	default:
		s.writeError(w, err)
	}
}

func (s *Server) handleRunnerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.runner.Status())
}

func (s *Server) handleRunnerScrape(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summary, err := s.runner.ScrapeOnce(r.Context())
	switch {
	case err == nil:
		s.writeJSON(w, summary)
	case errors.Is(err, runner.ErrNotRunning):
		s.writeErrorStatus(w, err, http.StatusConflict)
	case errors.Is(err, browser.ErrNoConnection):
		s.writeErrorStatus(w, err, http.StatusBadGateway)
	default:
		s.writeError(w, err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeErrorStatus(w, err, http.StatusInternalServerError)
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
