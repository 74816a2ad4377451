// Package browser talks to the local automation agent that owns the hidden
// browsing contexts. The agent exposes a small JSON API: open a context at an
// address, observe readiness, send directives, inject the fallback extractor,
// and close the context.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"HireScout/internal/ports"
)

// ErrNotReady marks a directive that reached a context whose page is not yet
// responsive. The runner escalates it to the inject-and-retry path.
var ErrNotReady = errors.New("browsing context not ready")

// ErrUnsupportedDirective is returned for a directive kind outside the closed set.
var ErrUnsupportedDirective = errors.New("unsupported directive")

// ErrNoConnection is the user-visible failure of a manual scrape when both the
// direct and injected attempts fail.
var ErrNoConnection = errors.New("could not establish connection")

var supportedDirectives = map[ports.DirectiveKind]struct{}{
	ports.DirectiveScroll:            {},
	ports.DirectiveKeepAlive:         {},
	ports.DirectiveRestoreForeground: {},
	ports.DirectiveRefreshConfig:     {},
	ports.DirectiveCaptureHTML:       {},
}

// Client is the automation agent API client.
type Client struct {
	baseURL          string
	http             *http.Client
	directiveTimeout time.Duration
	pollInterval     time.Duration
	logger           *slog.Logger
}

var _ ports.BrowserAgent = (*Client)(nil)

// NewClient creates a reusable agent client. Pass an http.Client whose
// transport carries the network observer so Strategy A sees agent traffic.
func NewClient(baseURL string, httpClient *http.Client, directiveTimeout, pollInterval time.Duration, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if directiveTimeout <= 0 {
		directiveTimeout = 15 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:          baseURL,
		http:             httpClient,
		directiveTimeout: directiveTimeout,
		pollInterval:     pollInterval,
		logger:           logger,
	}
}

// Open allocates a hidden browsing context pointed at targetURL.
func (c *Client) Open(ctx context.Context, targetURL string) (ports.BrowserSession, error) {
	var created struct {
		SessionID string `json:"sessionId"`
	}
	err := c.post(ctx, "/v1/sessions", map[string]string{"url": targetURL}, &created)
	if err != nil {
		return nil, fmt.Errorf("open browsing context: %w", err)
	}
	if created.SessionID == "" {
		return nil, fmt.Errorf("agent returned no session id")
	}

	session := &Session{
		client: c,
		id:     created.SessionID,
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	go session.pollReady()
	return session, nil
}

// Session is one open browsing context.
type Session struct {
	client *Client
	id     string

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

var _ ports.BrowserSession = (*Session)(nil)

// ID returns the agent-assigned context id.
func (s *Session) ID() string {
	return s.id
}

// Ready is closed once the page signals readiness. It never closes if the
// event is lost; callers pair it with their own timeout.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

func (s *Session) pollReady() {
	ticker := time.NewTicker(s.client.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.client.directiveTimeout)
			var state struct {
				Ready bool `json:"ready"`
			}
			err := s.client.get(ctx, "/v1/sessions/"+s.id+"/ready", &state)
			cancel()
			if err != nil {
				continue
			}
			if state.Ready {
				s.readyOnce.Do(func() { close(s.ready) })
				return
			}
		}
	}
}

// Send issues one directive and waits for its structured reply with a bounded
// timeout. Directive kinds outside the closed set are refused explicitly.
func (s *Session) Send(ctx context.Context, directive ports.Directive) (ports.DirectiveReply, error) {
	if _, ok := supportedDirectives[directive.Kind]; !ok {
		return ports.DirectiveReply{}, fmt.Errorf("%w: %q", ErrUnsupportedDirective, directive.Kind)
	}

	ctx, cancel := context.WithTimeout(ctx, s.client.directiveTimeout)
	defer cancel()

	var reply ports.DirectiveReply
	err := s.client.post(ctx, "/v1/sessions/"+s.id+"/directives", directive, &reply)
	if err != nil {
		return ports.DirectiveReply{}, fmt.Errorf("directive %s: %w", directive.Kind, err)
	}
	if !reply.OK {
		if reply.Error == "not_ready" {
			return reply, fmt.Errorf("directive %s: %w", directive.Kind, ErrNotReady)
		}
		return reply, fmt.Errorf("directive %s failed: %s", directive.Kind, reply.Error)
	}
	return reply, nil
}

// InjectExtractor installs the fallback extraction capability into the page.
func (s *Session) InjectExtractor(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.client.directiveTimeout)
	defer cancel()

	if err := s.client.post(ctx, "/v1/sessions/"+s.id+"/extractor", nil, nil); err != nil {
		return fmt.Errorf("inject extractor: %w", err)
	}
	return nil
}

// Close releases the context. Safe to call more than once and tolerant of a
// context the agent has already discarded.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.client.delete(ctx, "/v1/sessions/"+s.id)
	})
	return err
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, v)
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	return c.do(req, v)
}

func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	// 404 means the context is already gone, which is fine for teardown.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
