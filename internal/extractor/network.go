package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"HireScout/internal/domain"
)

// Observer is the passive network-observation strategy. It wraps an
// http.RoundTripper so response bodies flowing through the automation agent
// can be inspected, without altering the call, for activity payloads.
type Observer struct {
	base      http.RoundTripper
	marker    []byte
	bufferCap int

	mu       sync.Mutex
	keywords []string
	buf      []domain.CandidatePosting
}

var _ http.RoundTripper = (*Observer)(nil)

// NewObserver wraps base; bufferCap bounds the candidate buffer (oldest
// entries are evicted first).
func NewObserver(base http.RoundTripper, marker string, bufferCap int) *Observer {
	if base == nil {
		base = http.DefaultTransport
	}
	if bufferCap <= 0 {
		bufferCap = 200
	}
	return &Observer{
		base:      base,
		marker:    []byte(marker),
		bufferCap: bufferCap,
	}
}

// SetKeywords installs the allow-list applied to observed payloads.
func (o *Observer) SetKeywords(keywords []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.keywords = append([]string(nil), keywords...)
}

// RoundTrip forwards the request and inspects the response body for the
// activity marker. The body is replayed for the caller untouched.
func (o *Observer) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := o.base.RoundTrip(req)
	if err != nil || resp == nil || resp.Body == nil {
		return resp, err
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("observe response body: %w", readErr)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	if bytes.Contains(body, o.marker) {
		o.inspect(body)
	}
	return resp, nil
}

// Drain returns the buffered candidates and clears the buffer.
func (o *Observer) Drain() []domain.CandidatePosting {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.buf
	o.buf = nil
	return out
}

func (o *Observer) inspect(body []byte) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return
	}

	now := time.Now().UTC()
	seen := map[string]struct{}{}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.walk(payload, seen, now)
}

// walk recursively visits the payload, collecting nodes that carry both an
// activity-style identifier and a text-bearing field. The seen set is scoped
// to this single call.
func (o *Observer) walk(value any, seen map[string]struct{}, now time.Time) {
	switch node := value.(type) {
	case map[string]any:
		if candidate, ok := candidateFromNode(node, now); ok {
			if o.allowedLocked(candidate.Text) {
				if _, dup := seen[candidate.ExternalID]; !dup {
					seen[candidate.ExternalID] = struct{}{}
					o.appendLocked(candidate)
				}
			}
		}
		for _, child := range node {
			o.walk(child, seen, now)
		}
	case []any:
		for _, child := range node {
			o.walk(child, seen, now)
		}
	}
}

func (o *Observer) allowedLocked(text string) bool {
	if len(o.keywords) == 0 {
		return true
	}
	return matchesAnyKeyword(text, o.keywords)
}

func (o *Observer) appendLocked(candidate domain.CandidatePosting) {
	if len(o.buf) >= o.bufferCap {
		o.buf = o.buf[1:]
	}
	o.buf = append(o.buf, candidate)
}

var activityIDKeys = []string{"entityUrn", "urn", "activityId", "trackingUrn"}

var textKeys = []string{"commentary", "text", "message", "description"}

func candidateFromNode(node map[string]any, now time.Time) (domain.CandidatePosting, bool) {
	id := activityID(node)
	if id == "" {
		return domain.CandidatePosting{}, false
	}
	text := textField(node)
	if text == "" {
		return domain.CandidatePosting{}, false
	}

	url, _ := node["permalink"].(string)
	if url == "" {
		url, _ = node["url"].(string)
	}
	author, _ := node["authorName"].(string)

	return domain.CandidatePosting{
		ExternalID: id,
		URL:        url,
		Text:       strings.TrimSpace(text),
		Author:     author,
		CapturedAt: now,
		Source:     domain.SourceNetworkObserved,
	}, true
}

func activityID(node map[string]any) string {
	for _, key := range activityIDKeys {
		if value, ok := node[key].(string); ok {
			if strings.Contains(strings.ToLower(value), "activity") {
				return value
			}
		}
	}
	return ""
}

// textField accepts either a plain string or the nested {"text": "..."} shape.
func textField(node map[string]any) string {
	for _, key := range textKeys {
		switch value := node[key].(type) {
		case string:
			if strings.TrimSpace(value) != "" {
				return value
			}
		case map[string]any:
			if inner, ok := value["text"].(string); ok && strings.TrimSpace(inner) != "" {
				return inner
			}
		}
	}
	return ""
}
