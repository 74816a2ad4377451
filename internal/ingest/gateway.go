// Package ingest is the server-side entry point for candidate batches: it
// normalizes producer field variants, deduplicates globally, and runs each new
// match through scoring and quota admission before answering.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"HireScout/internal/domain"
	"HireScout/internal/ports"
	"HireScout/internal/quota"
	"HireScout/internal/scoring"
)

// RawCandidate is one item as producers send it. Field names vary by
// producer; normalization prefers explicit fields and falls back to alternates.
type RawCandidate struct {
	ID         string `json:"id,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
	PostID     string `json:"postId,omitempty"`

	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`
	Body    string `json:"body,omitempty"`

	HTML    string `json:"html,omitempty"`
	RawHTML string `json:"rawHtml,omitempty"`
	Markup  string `json:"markup,omitempty"`

	URL     string `json:"url,omitempty"`
	Link    string `json:"link,omitempty"`
	PostURL string `json:"postUrl,omitempty"`

	Author     string `json:"author,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	CapturedAt string `json:"capturedAt,omitempty"`
	Source     string `json:"source,omitempty"`
}

// ItemStatus is the per-item outcome reported back to the producer.
type ItemStatus string

const (
	ItemCreated           ItemStatus = "created"
	ItemAlreadyAssociated ItemStatus = "already-associated"
	ItemRejected          ItemStatus = "rejected"
	ItemInvalid           ItemStatus = "invalid"
	ItemError             ItemStatus = "error"
)

// ItemResult details one item's fate.
type ItemResult struct {
	URL     string     `json:"url,omitempty"`
	Status  ItemStatus `json:"status"`
	Visible bool       `json:"visible"`
	Score   float64    `json:"score"`
	Tier    string     `json:"tier,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

// BatchResult aggregates a full batch response.
type BatchResult struct {
	Received  int                 `json:"received"`
	Processed int                 `json:"processed"`
	Qualified int                 `json:"qualified"`
	Errors    int                 `json:"errors"`
	Items     []ItemResult        `json:"items"`
	Quota     *domain.QuotaStatus `json:"quota,omitempty"`
}

// Gateway validates, deduplicates and persists candidate batches.
type Gateway struct {
	posts   ports.PostRepository
	matches ports.MatchRepository
	prefs   ports.PreferenceStore
	scorer  *scoring.Scorer
	ledger  *quota.Ledger
	logger  *slog.Logger
}

var _ ports.CandidateSink = (*Gateway)(nil)

// NewGateway wires the gateway's driven adapters.
func NewGateway(posts ports.PostRepository, matches ports.MatchRepository, prefsStore ports.PreferenceStore,
	scorer *scoring.Scorer, ledger *quota.Ledger, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		posts:   posts,
		matches: matches,
		prefs:   prefsStore,
		scorer:  scorer,
		ledger:  ledger,
		logger:  logger,
	}
}

// IngestBatch processes every item independently: a bad item is logged,
// counted and skipped, never failing the batch.
func (g *Gateway) IngestBatch(ctx context.Context, recipientID string, items []RawCandidate) (BatchResult, error) {
	result := BatchResult{Received: len(items)}

	profile, err := g.prefs.Profile(ctx, recipientID)
	if err != nil {
		g.logger.Warn("profile lookup failed, scoring with empty profile", "recipient", recipientID, "error", err)
		profile = domain.RecipientProfile{}
	}

	for _, item := range items {
		outcome := g.processItem(ctx, recipientID, profile, item)
		result.Items = append(result.Items, outcome)
		switch outcome.Status {
		case ItemInvalid, ItemError:
			result.Errors++
		default:
			result.Processed++
			if outcome.Visible {
				result.Qualified++
			}
		}
	}

	if status, err := g.ledger.Status(ctx, recipientID, profile.Tier); err == nil {
		result.Quota = &status
	}

	return result, nil
}

func (g *Gateway) processItem(ctx context.Context, recipientID string, profile domain.RecipientProfile, item RawCandidate) ItemResult {
	candidate, rawHTML, err := item.normalize()
	if err != nil {
		g.logger.Warn("candidate rejected", "recipient", recipientID, "error", err)
		return ItemResult{URL: item.URL, Status: ItemInvalid, Reason: err.Error()}
	}

	post, err := g.findOrCreatePost(ctx, candidate, rawHTML)
	if err != nil {
		g.logger.Error("persist post failed", "url", candidate.URL, "error", err)
		return ItemResult{URL: candidate.URL, Status: ItemError, Reason: err.Error()}
	}

	match, created, err := g.matches.Create(ctx, domain.Match{
		RecipientID: recipientID,
		PostID:      post.ID,
		Tier:        domain.TierPending,
	})
	if err != nil {
		g.logger.Error("persist match failed", "url", candidate.URL, "error", err)
		return ItemResult{URL: candidate.URL, Status: ItemError, Reason: err.Error()}
	}
	if !created {
		return ItemResult{
			URL:     candidate.URL,
			Status:  ItemAlreadyAssociated,
			Visible: match.Visible,
			Score:   match.Score,
			Tier:    string(match.Tier),
		}
	}

	verdict := g.scorer.Score(post.Text, profile)
	if err := g.matches.UpdateScore(ctx, match.ID, verdict.Score, verdict.Tier, verdict.Contactable); err != nil {
		g.logger.Error("update score failed", "match", match.ID, "error", err)
		return ItemResult{URL: candidate.URL, Status: ItemError, Reason: err.Error()}
	}

	if !verdict.Qualified {
		return ItemResult{
			URL:    candidate.URL,
			Status: ItemRejected,
			Score:  verdict.Score,
			Tier:   string(verdict.Tier),
			Reason: "below admission floor",
		}
	}

	match.Score = verdict.Score
	match.Tier = verdict.Tier
	match.Contactable = verdict.Contactable

	visible, err := g.ledger.Admit(ctx, *match, profile.Tier)
	if err != nil {
		g.logger.Error("quota admission failed", "match", match.ID, "error", err)
		return ItemResult{URL: candidate.URL, Status: ItemError, Reason: err.Error()}
	}

	return ItemResult{
		URL:     candidate.URL,
		Status:  ItemCreated,
		Visible: visible,
		Score:   verdict.Score,
		Tier:    string(verdict.Tier),
	}
}

func (g *Gateway) findOrCreatePost(ctx context.Context, candidate domain.CandidatePosting, rawHTML string) (*domain.GlobalPost, error) {
	existing, err := g.posts.FindByURLOrExternalID(ctx, candidate.URL, candidate.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("lookup post: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	created, err := g.posts.Create(ctx, domain.GlobalPost{
		URL:        candidate.URL,
		ExternalID: candidate.ExternalID,
		Text:       candidate.Text,
		RawHTML:    rawHTML,
	})
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return created, nil
}

// Submit adapts an in-process extracted batch onto the wire-shaped path.
func (g *Gateway) Submit(ctx context.Context, recipientID string, batch []domain.CandidatePosting) (domain.IngestSummary, error) {
	items := make([]RawCandidate, 0, len(batch))
	for _, candidate := range batch {
		items = append(items, RawCandidate{
			ExternalID: candidate.ExternalID,
			Text:       candidate.Text,
			URL:        candidate.URL,
			Author:     candidate.Author,
			CapturedAt: candidate.CapturedAt.Format(time.RFC3339),
			Source:     string(candidate.Source),
		})
	}

	result, err := g.IngestBatch(ctx, recipientID, items)
	if err != nil {
		return domain.IngestSummary{}, err
	}
	return domain.IngestSummary{
		Received:  result.Received,
		Processed: result.Processed,
		Qualified: result.Qualified,
		Errors:    result.Errors,
	}, nil
}

// normalize resolves field alternates. The raw-markup field falls back to the
// text itself so no posting is dropped purely for lacking markup.
func (r RawCandidate) normalize() (domain.CandidatePosting, string, error) {
	text := firstNonEmpty(r.Text, r.Content, r.Body)
	if text == "" {
		return domain.CandidatePosting{}, "", fmt.Errorf("candidate has no text")
	}

	link := firstNonEmpty(r.URL, r.Link, r.PostURL)
	if link == "" {
		return domain.CandidatePosting{}, "", fmt.Errorf("candidate has no url")
	}
	parsed, err := url.Parse(link)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return domain.CandidatePosting{}, "", fmt.Errorf("candidate url %q is not resolvable", link)
	}

	capturedAt := time.Now().UTC()
	if stamp := firstNonEmpty(r.Timestamp, r.CapturedAt); stamp != "" {
		if parsed, err := time.Parse(time.RFC3339, stamp); err == nil {
			capturedAt = parsed
		}
	}

	rawHTML := firstNonEmpty(r.HTML, r.RawHTML, r.Markup)
	if rawHTML == "" {
		rawHTML = text
	}

	return domain.CandidatePosting{
		ExternalID: firstNonEmpty(r.ID, r.ExternalID, r.PostID),
		URL:        link,
		Text:       text,
		Author:     strings.TrimSpace(r.Author),
		CapturedAt: capturedAt,
		Source:     domain.ExtractionSource(r.Source),
	}, rawHTML, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
