// Package runner owns the automation session: a state machine that allocates
// the hidden browsing context, schedules scroll/scrape/keep-alive cycles, and
// feeds extracted batches to the ingestion sink.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"HireScout/internal/browser"
	"HireScout/internal/config"
	"HireScout/internal/domain"
	"HireScout/internal/extractor"
	"HireScout/internal/ports"
)

var (
	// ErrAlreadyRunning is returned by Start when a session is active.
	ErrAlreadyRunning = errors.New("already running")
	// ErrNotRunning is returned by Stop and ScrapeOnce when no session is active.
	ErrNotRunning = errors.New("not running")
	// ErrNotAuthenticated means Start failed closed before allocating a resource.
	ErrNotAuthenticated = errors.New("recipient not authenticated")
)

const sessionCloseTimeout = 5 * time.Second

// run bundles the state of one automation run.
type run struct {
	id          string
	recipientID string
	keywords    []string
	searchURL   string
	session     ports.BrowserSession
	cancel      context.CancelFunc
	maxTimer    *time.Timer
	startedAt   time.Time

	mu           sync.Mutex
	ingested     int
	lastActivity time.Time
}

func (r *run) markActivity(now time.Time) {
	r.mu.Lock()
	r.lastActivity = now
	r.mu.Unlock()
}

func (r *run) snapshot(state domain.SessionState) domain.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.SessionStatus{
		ID:             r.id,
		RecipientID:    r.recipientID,
		State:          state,
		StartedAt:      r.startedAt,
		IngestedCount:  r.ingested,
		LastActivityAt: r.lastActivity,
	}
}

// Controller drives at most one automation run at a time. It is constructed
// and injected by the application coordinator; there is no global session.
type Controller struct {
	agent     ports.BrowserAgent
	prefs     ports.PreferenceStore
	extractor *extractor.Dual
	observer  *extractor.Observer
	sink      ports.CandidateSink
	status    ports.StatusBroadcaster
	cfg       config.RunnerConfig
	logger    *slog.Logger
	rand      *rand.Rand

	mu      sync.Mutex
	state   domain.SessionState
	current *run
	wg      sync.WaitGroup
}

// New builds an idle controller.
func New(agent ports.BrowserAgent, prefsStore ports.PreferenceStore, dual *extractor.Dual, observer *extractor.Observer,
	sink ports.CandidateSink, status ports.StatusBroadcaster, cfg config.RunnerConfig, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		agent:     agent,
		prefs:     prefsStore,
		extractor: dual,
		observer:  observer,
		sink:      sink,
		status:    status,
		cfg:       cfg,
		logger:    logger,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		state:     domain.SessionIdle,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status reports the current run, or an idle snapshot when none is active.
func (c *Controller) Status() domain.SessionStatus {
	c.mu.Lock()
	state := c.state
	r := c.current
	c.mu.Unlock()

	if r == nil {
		return domain.SessionStatus{State: domain.SessionIdle}
	}
	return r.snapshot(state)
}

// Start brings up a session for the recipient. It is a no-op unless Idle.
// Authentication failure is fatal to this attempt only: no resource is
// allocated and the controller stays Idle.
func (c *Controller) Start(ctx context.Context, recipientID string) error {
	c.mu.Lock()
	if c.state != domain.SessionIdle {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.state = domain.SessionStarting
	c.mu.Unlock()

	err := c.start(ctx, recipientID)
	if err != nil {
		c.mu.Lock()
		c.state = domain.SessionIdle
		c.current = nil
		c.mu.Unlock()
	}
	return err
}

func (c *Controller) start(ctx context.Context, recipientID string) error {
	keywords, err := c.prefs.Keywords(ctx, recipientID)
	if err != nil || strings.TrimSpace(keywords) == "" {
		if err != nil {
			c.logger.Warn("keyword lookup failed, using default", "recipient", recipientID, "error", err)
		}
		keywords = c.cfg.DefaultKeywords
	}

	authenticated, err := c.prefs.Authenticated(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("check authentication: %w", err)
	}
	if !authenticated {
		return ErrNotAuthenticated
	}

	keywordList := splitKeywords(keywords)
	if c.observer != nil {
		c.observer.SetKeywords(keywordList)
	}

	searchURL := fmt.Sprintf(c.cfg.SearchURLTemplate, url.QueryEscape(keywords))
	session, err := c.agent.Open(ctx, searchURL)
	if err != nil {
		return fmt.Errorf("allocate browsing context: %w", err)
	}

	r := &run{
		id:           uuid.NewString(),
		recipientID:  recipientID,
		keywords:     keywordList,
		searchURL:    searchURL,
		session:      session,
		startedAt:    time.Now(),
		lastActivity: time.Now(),
	}

	// Put the user's own foreground context back right away; the automation
	// should be minimally disruptive. Best effort.
	if _, err := session.Send(ctx, ports.Directive{Kind: ports.DirectiveRestoreForeground}); err != nil {
		c.logger.Debug("restore foreground failed", "error", err)
	}

	// Ready event with a parallel hard-timeout fallback: whichever fires
	// first wins, the select makes the paths mutually exclusive so the
	// initial scrape runs exactly once.
	readyTimer := time.NewTimer(c.cfg.ReadyTimeout.Std())
	select {
	case <-session.Ready():
		readyTimer.Stop()
	case <-readyTimer.C:
		c.logger.Warn("ready event never fired, proceeding after fixed wait", "session", session.ID())
	case <-ctx.Done():
		readyTimer.Stop()
		closeCtx, cancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
		_ = session.Close(closeCtx)
		cancel()
		return ctx.Err()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	c.mu.Lock()
	if c.state != domain.SessionStarting {
		c.mu.Unlock()
		cancel()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
		_ = session.Close(closeCtx)
		closeCancel()
		return fmt.Errorf("start aborted by concurrent stop")
	}
	c.current = r
	c.mu.Unlock()

	// One synchronous scrape before the periodic tasks take over.
	c.scrapeCycle(runCtx, r)

	c.mu.Lock()
	if c.state != domain.SessionStarting {
		// A stop raced the initial scrape, typically from the per-run cap.
		// Teardown already belongs to that stop.
		c.mu.Unlock()
		return nil
	}
	c.wg.Add(4)
	c.state = domain.SessionActive
	c.mu.Unlock()

	go c.scrollLoop(runCtx, r)
	go c.rescrapeLoop(runCtx, r)
	go c.keepAliveLoop(runCtx, r)
	go c.watchdogLoop(runCtx, r)
	r.mu.Lock()
	r.maxTimer = time.AfterFunc(c.cfg.MaxRuntime.Std(), func() {
		c.logger.Info("max runtime reached, stopping", "session", r.id)
		_ = c.Stop()
	})
	r.mu.Unlock()

	c.publish(r, domain.SessionActive)

	return nil
}

// Stop tears the session down: release the browsing resource first, then
// cancel every scheduled task. Idempotent, callable from any state, tolerant
// of a resource that is already gone.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != domain.SessionActive && c.state != domain.SessionStarting {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.state = domain.SessionStopping
	r := c.current
	c.mu.Unlock()

	if r != nil {
		if r.session != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
			if err := r.session.Close(closeCtx); err != nil {
				c.logger.Debug("session close", "error", err)
			}
			cancel()
		}
		r.mu.Lock()
		timer := r.maxTimer
		r.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		if r.cancel != nil {
			r.cancel()
		}
	}
	c.wg.Wait()

	c.mu.Lock()
	c.current = nil
	c.state = domain.SessionIdle
	c.mu.Unlock()

	if r != nil {
		status := r.snapshot(domain.SessionIdle)
		status.IngestedCount = 0
		c.publishStatus(status)
	}
	return nil
}

// ScrapeOnce is the manual, single-shot scrape. Unlike the scheduled cycles
// its failure is user-visible: when both the direct and injected attempts
// fail it surfaces a connection error.
func (c *Controller) ScrapeOnce(ctx context.Context) (domain.IngestSummary, error) {
	c.mu.Lock()
	state := c.state
	r := c.current
	c.mu.Unlock()
	if state != domain.SessionActive || r == nil {
		return domain.IngestSummary{}, ErrNotRunning
	}

	batch, err := c.extractWithRecovery(ctx, r)
	if err != nil {
		return domain.IngestSummary{}, fmt.Errorf("%w: %v", browser.ErrNoConnection, err)
	}
	if len(batch) == 0 {
		return domain.IngestSummary{}, nil
	}
	return c.ingest(ctx, r, batch)
}

// scrollLoop issues a scroll, settles, then scrapes, on a randomized
// interval. It intentionally overlaps with rescrapeLoop: duplicate scrapes
// are expected and absorbed by server-side dedup, not prevented here.
func (c *Controller) scrollLoop(ctx context.Context, r *run) {
	defer c.wg.Done()
	for {
		if !c.sleep(ctx, c.randBetween(c.cfg.ScrollIntervalMin.Std(), c.cfg.ScrollIntervalMax.Std())) {
			return
		}
		if _, err := r.session.Send(ctx, ports.Directive{Kind: ports.DirectiveScroll}); err != nil {
			c.logger.Debug("scroll failed", "error", err)
		}
		if !c.sleep(ctx, c.randBetween(c.cfg.SettleDelayMin.Std(), c.cfg.SettleDelayMax.Std())) {
			return
		}
		c.scrapeCycle(ctx, r)
	}
}

// rescrapeLoop scrapes on a fixed interval regardless of scroll activity.
func (c *Controller) rescrapeLoop(ctx context.Context, r *run) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.RescrapeInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.scrapeCycle(ctx, r)
		}
	}
}

// keepAliveLoop sends a no-op directive so the host does not deprioritize
// the hidden context.
func (c *Controller) keepAliveLoop(ctx context.Context, r *run) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.KeepAliveInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.session.Send(ctx, ports.Directive{Kind: ports.DirectiveKeepAlive}); err != nil {
				c.logger.Debug("keep-alive failed", "error", err)
			}
		}
	}
}

// watchdogLoop stops the run once activity has been silent for too long.
func (c *Controller) watchdogLoop(ctx context.Context, r *run) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.WatchdogInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			idle := time.Since(r.lastActivity)
			r.mu.Unlock()
			if idle > c.cfg.InactivityThreshold.Std() {
				c.logger.Info("inactivity watchdog stopping session", "session", r.id, "idle", idle)
				go func() { _ = c.Stop() }()
				return
			}
		}
	}
}

// scrapeCycle runs one extraction plus ingestion. Every error inside a cycle
// is logged and swallowed so the schedule continues on its next tick.
func (c *Controller) scrapeCycle(ctx context.Context, r *run) {
	batch, err := c.extractWithRecovery(ctx, r)
	if err != nil {
		c.logger.Warn("scrape cycle abandoned", "session", r.id, "error", err)
		return
	}
	if len(batch) == 0 {
		return
	}
	if _, err := c.ingest(ctx, r, batch); err != nil {
		c.logger.Warn("ingest failed", "session", r.id, "error", err)
	}
}

// extractWithRecovery is the two-phase scrape: try the direct capture, and on
// the specific not-ready failure class inject the fallback extractor and
// retry once. An empty result triggers one config refresh and a final retry.
func (c *Controller) extractWithRecovery(ctx context.Context, r *run) ([]domain.CandidatePosting, error) {
	batch, err := c.runExtraction(ctx, r)
	if err != nil && errors.Is(err, browser.ErrNotReady) {
		if injectErr := r.session.InjectExtractor(ctx); injectErr != nil {
			return nil, fmt.Errorf("direct capture not ready, inject failed: %w", injectErr)
		}
		if !c.sleep(ctx, c.cfg.SettleDelayMin.Std()) {
			return nil, ctx.Err()
		}
		batch, err = c.runExtraction(ctx, r)
	}
	if err != nil {
		return nil, err
	}

	if len(batch) == 0 {
		if _, refreshErr := r.session.Send(ctx, ports.Directive{Kind: ports.DirectiveRefreshConfig}); refreshErr == nil {
			if !c.sleep(ctx, c.cfg.SettleDelayMin.Std()) {
				return nil, ctx.Err()
			}
			if retry, retryErr := c.runExtraction(ctx, r); retryErr == nil {
				batch = retry
			}
		}
	}
	return batch, nil
}

func (c *Controller) runExtraction(ctx context.Context, r *run) ([]domain.CandidatePosting, error) {
	reply, err := r.session.Send(ctx, ports.Directive{Kind: ports.DirectiveCaptureHTML})
	if err != nil {
		return nil, err
	}

	pageURL := reply.PageURL
	if pageURL == "" {
		pageURL = r.searchURL
	}
	return c.extractor.Extract(extractor.Page{
		Kind:     pageKind(pageURL),
		URL:      pageURL,
		HTML:     reply.HTML,
		Keywords: r.keywords,
	})
}

func (c *Controller) ingest(ctx context.Context, r *run, batch []domain.CandidatePosting) (domain.IngestSummary, error) {
	summary, err := c.sink.Submit(ctx, r.recipientID, batch)
	if err != nil {
		return domain.IngestSummary{}, err
	}

	if summary.Processed > 0 {
		r.markActivity(time.Now())
	}

	r.mu.Lock()
	r.ingested += summary.Processed
	reachedCap := c.cfg.MaxIngestedPerRun > 0 && r.ingested >= c.cfg.MaxIngestedPerRun
	r.mu.Unlock()

	if reachedCap {
		c.logger.Info("per-run ingestion cap reached, stopping", "session", r.id)
		go func() { _ = c.Stop() }()
	}
	return summary, nil
}

func (c *Controller) publish(r *run, state domain.SessionState) {
	c.publishStatus(r.snapshot(state))
}

func (c *Controller) publishStatus(status domain.SessionStatus) {
	if c.status != nil {
		c.status.Publish(status)
	}
}

// sleep waits for d or until ctx is cancelled; it reports whether the full
// delay elapsed.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Controller) randBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(c.rand.Int63n(int64(max-min)))
}

func pageKind(pageURL string) extractor.PageKind {
	if strings.Contains(pageURL, "/search") {
		return extractor.PageSearch
	}
	return extractor.PageFeed
}

func splitKeywords(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
