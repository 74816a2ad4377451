package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"HireScout/internal/domain"
	"HireScout/internal/ports"
)

// Memory bundles in-process repositories. It is the offline-safe default
// backend and the test double.
type Memory struct {
	Posts   *MemoryPosts
	Matches *MemoryMatches
	Quota   *MemoryQuota
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		Posts:   &MemoryPosts{byID: map[string]domain.GlobalPost{}, byURL: map[string]string{}, byExt: map[string]string{}},
		Matches: &MemoryMatches{byID: map[string]domain.Match{}, byKey: map[string]string{}},
		Quota:   &MemoryQuota{windows: map[string]domain.QuotaWindow{}},
	}
}

// MemoryPosts stores canonical postings keyed by id, url and external id.
type MemoryPosts struct {
	mu    sync.Mutex
	byID  map[string]domain.GlobalPost
	byURL map[string]string
	byExt map[string]string
}

var _ ports.PostRepository = (*MemoryPosts)(nil)

// FindByURLOrExternalID looks a post up by either key.
func (p *MemoryPosts) FindByURLOrExternalID(_ context.Context, url, externalID string) (*domain.GlobalPost, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.findLocked(url, externalID), nil
}

func (p *MemoryPosts) findLocked(url, externalID string) *domain.GlobalPost {
	if url != "" {
		if id, ok := p.byURL[url]; ok {
			post := p.byID[id]
			return &post
		}
	}
	if externalID != "" {
		if id, ok := p.byExt[externalID]; ok {
			post := p.byID[id]
			return &post
		}
	}
	return nil
}

// Create inserts the post; first writer wins on url/external-id collisions.
func (p *MemoryPosts) Create(_ context.Context, post domain.GlobalPost) (*domain.GlobalPost, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing := p.findLocked(post.URL, post.ExternalID); existing != nil {
		return existing, nil
	}

	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}

	p.byID[post.ID] = post
	if post.URL != "" {
		p.byURL[post.URL] = post.ID
	}
	if post.ExternalID != "" {
		p.byExt[post.ExternalID] = post.ID
	}

	stored := post
	return &stored, nil
}

// MemoryMatches stores per-recipient matches. Its single mutex serializes
// visible-state writes, which is what makes concurrent quota admissions
// resolve in completion order.
type MemoryMatches struct {
	mu    sync.Mutex
	byID  map[string]domain.Match
	byKey map[string]string
}

var _ ports.MatchRepository = (*MemoryMatches)(nil)

func matchKey(recipientID, postID string) string {
	return recipientID + "\x00" + postID
}

// Create inserts the match; created is false for an existing (recipient, post) pair.
func (m *MemoryMatches) Create(_ context.Context, match domain.Match) (*domain.Match, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := matchKey(match.RecipientID, match.PostID)
	if id, ok := m.byKey[key]; ok {
		existing := m.byID[id]
		return &existing, false, nil
	}

	if match.ID == "" {
		match.ID = uuid.NewString()
	}
	if match.CreatedAt.IsZero() {
		match.CreatedAt = time.Now().UTC()
	}

	m.byID[match.ID] = match
	m.byKey[key] = match.ID

	stored := match
	return &stored, true, nil
}

// UpdateScore records the scorer verdict on a match.
func (m *MemoryMatches) UpdateScore(_ context.Context, matchID string, score float64, tier domain.QualityTier, contactable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	match, ok := m.byID[matchID]
	if !ok {
		return errMatchNotFound(matchID)
	}
	match.Score = score
	match.Tier = tier
	match.Contactable = contactable
	m.byID[matchID] = match
	return nil
}

// SetVisibility flips the visibility flag and shown timestamp.
func (m *MemoryMatches) SetVisibility(_ context.Context, matchID string, visible bool, shownAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	match, ok := m.byID[matchID]
	if !ok {
		return errMatchNotFound(matchID)
	}
	match.Visible = visible
	match.ShownAt = shownAt
	m.byID[matchID] = match
	return nil
}

// CountVisibleContactable counts visible contactable matches shown in the window.
func (m *MemoryMatches) CountVisibleContactable(ctx context.Context, recipientID string, since time.Time) (int, error) {
	list, err := m.VisibleContactable(ctx, recipientID, since)
	return len(list), err
}

// VisibleContactable lists counted matches ordered by ShownAt ascending.
func (m *MemoryMatches) VisibleContactable(_ context.Context, recipientID string, since time.Time) ([]domain.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Match
	for _, match := range m.byID {
		if match.RecipientID != recipientID || !match.Visible || !match.Contactable {
			continue
		}
		if match.ShownAt == nil || match.ShownAt.Before(since) {
			continue
		}
		out = append(out, match)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ShownAt.Equal(*out[j].ShownAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ShownAt.Before(*out[j].ShownAt)
	})
	return out, nil
}

// MemoryQuota stores window counters.
type MemoryQuota struct {
	mu      sync.Mutex
	windows map[string]domain.QuotaWindow
}

var _ ports.QuotaRepository = (*MemoryQuota)(nil)

// Window returns nil when the recipient has no stored window yet.
func (q *MemoryQuota) Window(_ context.Context, recipientID string) (*domain.QuotaWindow, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	window, ok := q.windows[recipientID]
	if !ok {
		return nil, nil
	}
	return &window, nil
}

// SaveWindow upserts the recipient window.
func (q *MemoryQuota) SaveWindow(_ context.Context, window domain.QuotaWindow) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.windows[window.RecipientID] = window
	return nil
}
