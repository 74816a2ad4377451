package ports

import (
	"context"
	"time"

	"HireScout/internal/domain"
)

// PostRepository persists canonical postings for global deduplication.
type PostRepository interface {
	// FindByURLOrExternalID returns nil when no post matches either key.
	FindByURLOrExternalID(ctx context.Context, url, externalID string) (*domain.GlobalPost, error)
	// Create inserts the post; if a concurrent writer got there first the
	// existing row is returned (first writer wins).
	Create(ctx context.Context, post domain.GlobalPost) (*domain.GlobalPost, error)
}

// MatchRepository persists per-recipient match state.
type MatchRepository interface {
	// Create inserts the match; created is false when the (recipient, post)
	// pair already exists, in which case the stored match is returned.
	Create(ctx context.Context, match domain.Match) (stored *domain.Match, created bool, err error)
	UpdateScore(ctx context.Context, matchID string, score float64, tier domain.QualityTier, contactable bool) error
	SetVisibility(ctx context.Context, matchID string, visible bool, shownAt *time.Time) error
	// CountVisibleContactable counts visible matches with a contact channel
	// shown at or after the window start.
	CountVisibleContactable(ctx context.Context, recipientID string, since time.Time) (int, error)
	// VisibleContactable lists the counted matches ordered by ShownAt ascending.
	VisibleContactable(ctx context.Context, recipientID string, since time.Time) ([]domain.Match, error)
}

// QuotaRepository stores per-recipient window counters.
type QuotaRepository interface {
	Window(ctx context.Context, recipientID string) (*domain.QuotaWindow, error)
	SaveWindow(ctx context.Context, window domain.QuotaWindow) error
}

// PreferenceStore reads recipient settings from the external preference service.
type PreferenceStore interface {
	Keywords(ctx context.Context, recipientID string) (string, error)
	Authenticated(ctx context.Context, recipientID string) (bool, error)
	Profile(ctx context.Context, recipientID string) (domain.RecipientProfile, error)
}

// DirectiveKind is the closed set of commands a session understands.
type DirectiveKind string

const (
	DirectiveScroll            DirectiveKind = "scroll"
	DirectiveKeepAlive         DirectiveKind = "keep-alive"
	DirectiveRestoreForeground DirectiveKind = "restore-foreground"
	DirectiveRefreshConfig     DirectiveKind = "refresh-config"
	DirectiveCaptureHTML       DirectiveKind = "capture-html"
)

// Directive is one command sent to a browsing session.
type Directive struct {
	Kind    DirectiveKind     `json:"kind"`
	Payload map[string]string `json:"payload,omitempty"`
}

// DirectiveReply is the structured result of a directive round-trip.
type DirectiveReply struct {
	OK      bool   `json:"ok"`
	HTML    string `json:"html,omitempty"`
	PageURL string `json:"pageUrl,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BrowserSession is one open controlled browsing context.
type BrowserSession interface {
	ID() string
	// Ready is closed once by the session when the page signals readiness.
	Ready() <-chan struct{}
	// Send issues a structured directive and waits for its reply.
	Send(ctx context.Context, directive Directive) (DirectiveReply, error)
	// InjectExtractor installs the fallback extraction capability into the page.
	InjectExtractor(ctx context.Context) error
	Close(ctx context.Context) error
}

// BrowserAgent opens controlled browsing contexts.
type BrowserAgent interface {
	Open(ctx context.Context, targetURL string) (BrowserSession, error)
}

// CandidateSink receives extracted batches across the trust boundary.
type CandidateSink interface {
	Submit(ctx context.Context, recipientID string, batch []domain.CandidatePosting) (domain.IngestSummary, error)
}

// StatusBroadcaster pushes session status changes to any listening observer.
// Absence of listeners is not an error.
type StatusBroadcaster interface {
	Publish(status domain.SessionStatus)
}
