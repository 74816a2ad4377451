package domain

import "time"

// ExtractionSource tags which strategy produced a candidate posting.
type ExtractionSource string

const (
	SourceNetworkObserved ExtractionSource = "network-observed"
	SourceStructural      ExtractionSource = "structural"
	SourceTextFallback    ExtractionSource = "text-fallback"
)

// CandidatePosting is one raw extraction result, not yet validated or deduplicated.
// It exists only in memory until the ingestion gateway accepts it.
type CandidatePosting struct {
	ExternalID string
	URL        string
	Text       string
	Author     string
	Engagement string
	CapturedAt time.Time
	Source     ExtractionSource
}

// GlobalPost is the canonical, deduplicated record of a posting shared across
// all recipients. Immutable once created except for the Processed flag.
type GlobalPost struct {
	ID         string
	URL        string
	ExternalID string
	Text       string
	RawHTML    string
	Processed  bool
	CreatedAt  time.Time
}

// QualityTier is the coarse relevance bucket derived from score thresholds.
type QualityTier string

const (
	TierGood    QualityTier = "good"
	TierMedium  QualityTier = "medium"
	TierBad     QualityTier = "bad"
	TierPending QualityTier = "pending"
)

// Match associates a GlobalPost with one recipient. Unique per (recipient, post).
type Match struct {
	ID          string
	RecipientID string
	PostID      string
	Score       float64
	Tier        QualityTier
	Contactable bool
	Visible     bool
	ShownAt     *time.Time
	Applied     bool
	AppliedAt   *time.Time
	CreatedAt   time.Time
}

// QuotaWindow is the rolling 24h accounting state for one recipient.
type QuotaWindow struct {
	RecipientID string
	Count       int
	Limit       int
	ResetAt     time.Time
}

// QuotaStatus is the externally-reported quota snapshot.
type QuotaStatus struct {
	Current    int       `json:"current"`
	Limit      int       `json:"limit"`
	ResetAt    time.Time `json:"resetAt"`
	CanProceed bool      `json:"canProceed"`
}

// RecipientTier selects the daily visibility cap.
type RecipientTier string

const (
	RecipientTierBase RecipientTier = "base"
	RecipientTierMid  RecipientTier = "mid"
	RecipientTierHigh RecipientTier = "high"
)

// RecipientProfile carries the preference signals scoring runs against.
type RecipientProfile struct {
	Skills          []string
	Titles          []string
	Locations       []string
	RemotePreferred bool
	JobTypes        []string
	Tier            RecipientTier
}

// Empty reports whether the profile carries no scoring signals at all.
func (p RecipientProfile) Empty() bool {
	return len(p.Skills) == 0 && len(p.Titles) == 0 &&
		len(p.Locations) == 0 && len(p.JobTypes) == 0 && !p.RemotePreferred
}

// IngestSummary aggregates the outcome of one submitted batch.
type IngestSummary struct {
	Received  int
	Processed int
	Qualified int
	Errors    int
}
