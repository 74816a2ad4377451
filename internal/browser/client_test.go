package browser

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"HireScout/internal/ports"
)

// fakeAgent is an httptest stand-in for the automation agent process.
type fakeAgent struct {
	mux *http.ServeMux

	readyAfter int32 // ready poll returns true once this many polls happened
	polls      atomic.Int32
	deletes    atomic.Int32
	directives atomic.Int32

	directiveReply ports.DirectiveReply
}

func newFakeAgent(readyAfter int32) *fakeAgent {
	a := &fakeAgent{mux: http.NewServeMux(), readyAfter: readyAfter}
	a.directiveReply = ports.DirectiveReply{OK: true}

	a.mux.HandleFunc("/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"sessionId": "ctx-1"})
	})
	a.mux.HandleFunc("/v1/sessions/ctx-1/ready", func(w http.ResponseWriter, r *http.Request) {
		ready := a.polls.Add(1) >= a.readyAfter
		json.NewEncoder(w).Encode(map[string]bool{"ready": ready})
	})
	a.mux.HandleFunc("/v1/sessions/ctx-1/directives", func(w http.ResponseWriter, r *http.Request) {
		a.directives.Add(1)
		json.NewEncoder(w).Encode(a.directiveReply)
	})
	a.mux.HandleFunc("/v1/sessions/ctx-1/extractor", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	a.mux.HandleFunc("/v1/sessions/ctx-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			a.deletes.Add(1)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, "not found", http.StatusNotFound)
	})
	return a
}

func newTestClient(t *testing.T, agent *fakeAgent) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(agent.mux)
	t.Cleanup(server.Close)
	client := NewClient(server.URL, server.Client(), time.Second, 10*time.Millisecond, nil)
	return client, server
}

func TestOpenSignalsReady(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, newFakeAgent(2))

	session, err := client.Open(context.Background(), "https://social.example.com/feed/")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer session.Close(context.Background())

	if session.ID() != "ctx-1" {
		t.Fatalf("id = %q", session.ID())
	}
	select {
	case <-session.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("ready never fired")
	}
}

func TestSendRefusesUnknownDirective(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, newFakeAgent(1))
	session, err := client.Open(context.Background(), "https://social.example.com/feed/")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer session.Close(context.Background())

	_, err = session.Send(context.Background(), ports.Directive{Kind: "reboot-host"})
	if !errors.Is(err, ErrUnsupportedDirective) {
		t.Fatalf("send = %v, want ErrUnsupportedDirective", err)
	}
}

func TestSendMapsNotReadyReply(t *testing.T) {
	t.Parallel()

	agent := newFakeAgent(1)
	agent.directiveReply = ports.DirectiveReply{OK: false, Error: "not_ready"}
	client, _ := newTestClient(t, agent)

	session, err := client.Open(context.Background(), "https://social.example.com/feed/")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer session.Close(context.Background())

	_, err = session.Send(context.Background(), ports.Directive{Kind: ports.DirectiveCaptureHTML})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("send = %v, want ErrNotReady", err)
	}
}

func TestSendReturnsReplyPayload(t *testing.T) {
	t.Parallel()

	agent := newFakeAgent(1)
	agent.directiveReply = ports.DirectiveReply{OK: true, HTML: "<html></html>", PageURL: "https://social.example.com/feed/"}
	client, _ := newTestClient(t, agent)

	session, err := client.Open(context.Background(), "https://social.example.com/feed/")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer session.Close(context.Background())

	reply, err := session.Send(context.Background(), ports.Directive{Kind: ports.DirectiveCaptureHTML})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.HTML == "" || reply.PageURL == "" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	agent := newFakeAgent(1)
	client, _ := newTestClient(t, agent)

	session, err := client.Open(context.Background(), "https://social.example.com/feed/")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := session.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := session.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if got := agent.deletes.Load(); got != 1 {
		t.Fatalf("delete calls = %d, want 1", got)
	}
}
