package quota

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"HireScout/internal/domain"
	"HireScout/internal/ports"
)

// Caps maps recipient tiers to daily visibility limits.
type Caps struct {
	Base int
	Mid  int
	High int
}

// CapFor resolves a tier to its daily cap.
func (c Caps) CapFor(tier domain.RecipientTier) int {
	switch tier {
	case domain.RecipientTierHigh:
		return c.High
	case domain.RecipientTierMid:
		return c.Mid
	default:
		return c.Base
	}
}

// Ledger enforces the rolling-window visibility cap per recipient.
//
// Admission is a compensating transaction, not a lock: mark visible, re-count,
// and self-revert when a concurrent admission raced ahead. Whichever admission
// completes its visible-write first wins. Reconciliation errors are permissive
// (admit) rather than blocking.
type Ledger struct {
	matches ports.MatchRepository
	windows ports.QuotaRepository
	caps    Caps
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger

	admitMu    sync.Mutex
	recipients map[string]*sync.Mutex
}

// New builds a ledger anchored to the given reference timezone.
func New(matches ports.MatchRepository, windows ports.QuotaRepository, caps Caps, loc *time.Location, logger *slog.Logger) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		matches:    matches,
		windows:    windows,
		caps:       caps,
		loc:        loc,
		now:        time.Now,
		logger:     logger,
		recipients: map[string]*sync.Mutex{},
	}
}

// SetClock overrides the time source. Test hook.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Admit decides visibility for a newly-created match. It returns true when the
// match is visible after admission settles. A soft-rejected match keeps its
// record, just hidden.
func (l *Ledger) Admit(ctx context.Context, match domain.Match, tier domain.RecipientTier) (bool, error) {
	// Admissions for one recipient are serialized in this process, which makes
	// the winner the earliest-completing attempt. The recount below still
	// guards against visible-writes from outside this process.
	lock := l.recipientLock(match.RecipientID)
	lock.Lock()
	defer lock.Unlock()

	now := l.now()
	limit := l.caps.CapFor(tier)
	window := l.loadWindow(ctx, match.RecipientID, limit, now)
	start := l.windowStart(window, now)

	count := l.countVisible(ctx, match.RecipientID, start)
	if count > limit {
		l.sweep(ctx, match.RecipientID, limit, start)
		count = limit
	}
	if count >= limit {
		if err := l.matches.SetVisibility(ctx, match.ID, false, nil); err != nil {
			return false, err
		}
		return false, nil
	}

	shownAt := now
	if err := l.matches.SetVisibility(ctx, match.ID, true, &shownAt); err != nil {
		return false, err
	}

	if !match.Contactable {
		// Not counted toward the window, so it cannot have raced past the cap.
		return true, nil
	}

	recount, err := l.matches.CountVisibleContactable(ctx, match.RecipientID, start)
	if err != nil {
		l.logger.Warn("quota recount failed, keeping admission", "recipient", match.RecipientID, "error", err)
		return true, nil
	}
	if recount > limit {
		// A concurrent admission won the race; this match self-reverts.
		if err := l.matches.SetVisibility(ctx, match.ID, false, nil); err != nil {
			return false, err
		}
		return false, nil
	}

	window.Count = recount
	window.Limit = limit
	if err := l.windows.SaveWindow(ctx, *window); err != nil {
		l.logger.Warn("quota counter update failed", "recipient", match.RecipientID, "error", err)
	}
	return true, nil
}

// Status reports the current window. Querying also reconciles the persisted
// counter and trims any stale overshoot.
func (l *Ledger) Status(ctx context.Context, recipientID string, tier domain.RecipientTier) (domain.QuotaStatus, error) {
	now := l.now()
	limit := l.caps.CapFor(tier)
	window := l.loadWindow(ctx, recipientID, limit, now)
	start := l.windowStart(window, now)

	count := l.countVisible(ctx, recipientID, start)
	if count > limit {
		l.sweep(ctx, recipientID, limit, start)
		count = limit
	}

	window.Count = count
	window.Limit = limit
	if err := l.windows.SaveWindow(ctx, *window); err != nil {
		l.logger.Warn("quota counter reconcile failed", "recipient", recipientID, "error", err)
	}

	return domain.QuotaStatus{
		Current:    count,
		Limit:      limit,
		ResetAt:    window.ResetAt,
		CanProceed: count < limit,
	}, nil
}

func (l *Ledger) recipientLock(recipientID string) *sync.Mutex {
	l.admitMu.Lock()
	defer l.admitMu.Unlock()
	lock, ok := l.recipients[recipientID]
	if !ok {
		lock = &sync.Mutex{}
		l.recipients[recipientID] = lock
	}
	return lock
}

// loadWindow fetches the recipient window, lazily resetting it once ResetAt
// has passed. Store errors fall back to a synthesized window (permissive).
func (l *Ledger) loadWindow(ctx context.Context, recipientID string, limit int, now time.Time) *domain.QuotaWindow {
	window, err := l.windows.Window(ctx, recipientID)
	if err != nil {
		l.logger.Warn("quota window load failed, synthesizing", "recipient", recipientID, "error", err)
		window = nil
	}

	if window == nil {
		window = &domain.QuotaWindow{
			RecipientID: recipientID,
			Limit:       limit,
			ResetAt:     l.nextReset(now),
		}
		if err := l.windows.SaveWindow(ctx, *window); err != nil {
			l.logger.Warn("quota window init failed", "recipient", recipientID, "error", err)
		}
		return window
	}

	if !window.ResetAt.After(now) {
		window.Count = 0
		window.ResetAt = l.nextReset(now)
		window.Limit = limit
		if err := l.windows.SaveWindow(ctx, *window); err != nil {
			l.logger.Warn("quota window reset failed", "recipient", recipientID, "error", err)
		}
	}

	return window
}

// windowStart derives the effective window start: a future ResetAt anchors the
// window 24h before it, otherwise the window began at today's midnight in the
// reference timezone.
func (l *Ledger) windowStart(window *domain.QuotaWindow, now time.Time) time.Time {
	if window != nil && window.ResetAt.After(now) {
		return window.ResetAt.Add(-24 * time.Hour)
	}
	return l.midnight(now)
}

func (l *Ledger) midnight(now time.Time) time.Time {
	local := now.In(l.loc)
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, l.loc)
}

func (l *Ledger) nextReset(now time.Time) time.Time {
	return l.midnight(now).Add(24 * time.Hour)
}

func (l *Ledger) countVisible(ctx context.Context, recipientID string, start time.Time) int {
	count, err := l.matches.CountVisibleContactable(ctx, recipientID, start)
	if err != nil {
		// Permissive by policy: a broken count must not block admission.
		l.logger.Warn("quota count failed, treating as zero", "recipient", recipientID, "error", err)
		return 0
	}
	return count
}

// sweep trims stale overshoot: the most-recently-shown entries are hidden
// until the window fits the cap again; the oldest-shown entries survive.
func (l *Ledger) sweep(ctx context.Context, recipientID string, limit int, start time.Time) {
	visible, err := l.matches.VisibleContactable(ctx, recipientID, start)
	if err != nil {
		l.logger.Warn("quota sweep listing failed", "recipient", recipientID, "error", err)
		return
	}
	for _, match := range visible[min(limit, len(visible)):] {
		if err := l.matches.SetVisibility(ctx, match.ID, false, nil); err != nil {
			l.logger.Warn("quota sweep revert failed", "match", match.ID, "error", err)
		}
	}
}
