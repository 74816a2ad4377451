package extractor

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

type stubTransport struct {
	body string
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(s.body)),
		Request:    req,
	}, nil
}

func observe(t *testing.T, observer *Observer, body string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://agent.local/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	observer.base = &stubTransport{body: body}
	resp, err := observer.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	replayed, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read replayed body: %v", err)
	}
	if string(replayed) != body {
		t.Fatal("observer must replay the body unaltered")
	}
}

func TestObserverCollectsActivityNodes(t *testing.T) {
	t.Parallel()

	observer := NewObserver(nil, `"activityFeed"`, 200)
	observer.SetKeywords([]string{"hiring"})

	body := `{
	  "activityFeed": {
	    "elements": [
	      {"entityUrn": "urn:activity:1", "commentary": {"text": "We are hiring Go devs"}, "permalink": "https://example.com/1"},
	      {"entityUrn": "urn:activity:2", "commentary": {"text": "My lunch today"}},
	      {"entityUrn": "urn:member:3", "commentary": {"text": "hiring but not an activity node"}},
	      {"entityUrn": "urn:activity:1", "commentary": {"text": "We are hiring Go devs"}}
	    ]
	  }
	}`
	observe(t, observer, body)

	out := observer.Drain()
	if len(out) != 1 {
		t.Fatalf("expected 1 observed candidate, got %d", len(out))
	}
	got := out[0]
	if got.ExternalID != "urn:activity:1" || got.URL != "https://example.com/1" {
		t.Fatalf("unexpected candidate identity: %+v", got)
	}
	if got.Text != "We are hiring Go devs" {
		t.Fatalf("unexpected text: %q", got.Text)
	}

	if len(observer.Drain()) != 0 {
		t.Fatal("drain must clear the buffer")
	}
}

func TestObserverIgnoresUnmarkedPayloads(t *testing.T) {
	t.Parallel()

	observer := NewObserver(nil, `"activityFeed"`, 200)
	observe(t, observer, `{"elements": [{"entityUrn": "urn:activity:9", "text": "hiring"}]}`)

	if out := observer.Drain(); len(out) != 0 {
		t.Fatalf("payload without the marker must be skipped, got %d", len(out))
	}
}

func TestObserverBufferEvictsOldest(t *testing.T) {
	t.Parallel()

	observer := NewObserver(nil, `"activityFeed"`, 3)
	for i := 0; i < 5; i++ {
		body := fmt.Sprintf(`{"activityFeed": true, "entityUrn": "urn:activity:%d", "text": "hiring round %d"}`, i, i)
		observe(t, observer, body)
	}

	out := observer.Drain()
	if len(out) != 3 {
		t.Fatalf("expected buffer capped at 3, got %d", len(out))
	}
	if out[0].ExternalID != "urn:activity:2" {
		t.Fatalf("expected oldest entries evicted first, head is %s", out[0].ExternalID)
	}
}
