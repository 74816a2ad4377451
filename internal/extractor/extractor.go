// Package extractor turns captured pages and observed network payloads into
// candidate postings using two independent strategies.
package extractor

import (
	"log/slog"

	"HireScout/internal/domain"
)

// Dual merges both extraction strategies: structural results come first, and
// drained network observations not already covered by them are appended. The
// observer buffer is drained on every call so entries never pile up or get
// lost; overlap across calls is absorbed by server-side dedup.
type Dual struct {
	structural *Structural
	observer   *Observer
	logger     *slog.Logger
}

// NewDual combines the two strategies.
func NewDual(structural *Structural, observer *Observer, logger *slog.Logger) *Dual {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dual{structural: structural, observer: observer, logger: logger}
}

// Extract runs Strategy B over the captured page, then appends any drained
// Strategy A observations the page did not already yield.
func (d *Dual) Extract(page Page) ([]domain.CandidatePosting, error) {
	structural, err := d.structural.Extract(page)
	if err != nil {
		d.logger.Debug("structural extraction failed", "error", err)
	}

	var observed []domain.CandidatePosting
	if d.observer != nil {
		observed = d.observer.Drain()
	}

	if len(structural) == 0 {
		if len(observed) > 0 {
			return observed, nil
		}
		return nil, err
	}

	seen := make(map[string]struct{}, len(structural))
	for _, candidate := range structural {
		if key := dedupKey(candidate.URL, candidate.ExternalID); key != "" {
			seen[key] = struct{}{}
		}
	}

	out := structural
	for _, candidate := range observed {
		if key := dedupKey(candidate.URL, candidate.ExternalID); key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, candidate)
	}
	return out, nil
}
