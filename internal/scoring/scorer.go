package scoring

import (
	"regexp"
	"strings"

	"HireScout/internal/domain"
)

// Component weights. Skill is proportional; the rest are flat.
const (
	skillWeight    = 40.0
	titleWeight    = 30.0
	locationWeight = 15.0
	jobTypeWeight  = 10.0
	contactBonus   = 5.0
)

// Tier thresholds.
const (
	goodThreshold   = 50.0
	mediumThreshold = 25.0
)

var emailExpr = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// contactHints are lowercase substrings that signal a reachable poster even
// without an explicit email address.
var contactHints = []string{"email", "e-mail", "dm me", "send me a dm", "reach out", "apply at", "contact"}

// Result is one scoring verdict for a (posting text, recipient profile) pair.
type Result struct {
	Score       float64
	Tier        domain.QualityTier
	Contactable bool
	// Qualified is false when the score falls below the admission floor.
	Qualified bool
}

// Scorer computes relevance for a posting against a recipient profile.
type Scorer struct {
	minScore float64
}

// New builds a scorer with the given admission floor. The default floor equals
// the contact bonus alone, so a reachable posting with zero matched profile
// signals still barely qualifies.
func New(minScore float64) *Scorer {
	if minScore <= 0 {
		minScore = contactBonus
	}
	return &Scorer{minScore: minScore}
}

// Score evaluates candidate text against the recipient profile. All substring
// checks are case-insensitive. A recipient with no profile signals at all is
// admitted with a placeholder "pending" tier whenever a contact channel is
// present.
func (s *Scorer) Score(text string, profile domain.RecipientProfile) Result {
	lower := strings.ToLower(text)
	contactable := HasContactChannel(lower)

	if profile.Empty() {
		return Result{
			Tier:        domain.TierPending,
			Contactable: contactable,
			Qualified:   contactable,
		}
	}

	var score float64

	if n := len(profile.Skills); n > 0 {
		matched := 0
		for _, skill := range profile.Skills {
			if containsFold(lower, skill) {
				matched++
			}
		}
		score += skillWeight * float64(matched) / float64(n)
	}

	if anyContained(lower, profile.Titles) {
		score += titleWeight
	}

	if anyContained(lower, profile.Locations) || (profile.RemotePreferred && strings.Contains(lower, "remote")) {
		score += locationWeight
	}

	if anyContained(lower, profile.JobTypes) {
		score += jobTypeWeight
	}

	if contactable {
		score += contactBonus
	}

	return Result{
		Score:       score,
		Tier:        tierFor(score),
		Contactable: contactable,
		Qualified:   score >= s.minScore,
	}
}

// HasContactChannel reports whether the text exposes a way to reach the
// poster. The input must already be lowercased.
func HasContactChannel(lower string) bool {
	if emailExpr.MatchString(lower) {
		return true
	}
	for _, hint := range contactHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func tierFor(score float64) domain.QualityTier {
	switch {
	case score >= goodThreshold:
		return domain.TierGood
	case score >= mediumThreshold:
		return domain.TierMedium
	default:
		return domain.TierBad
	}
}

func anyContained(lower string, needles []string) bool {
	for _, needle := range needles {
		if containsFold(lower, needle) {
			return true
		}
	}
	return false
}

func containsFold(lower, needle string) bool {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return false
	}
	return strings.Contains(lower, needle)
}
