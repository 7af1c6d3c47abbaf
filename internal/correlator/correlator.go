// Package correlator groups signals into incidents and owns every incident
// state transition. Signals for the same fingerprint are serialized through a
// single shard worker; different fingerprints proceed fully in parallel.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/opsignal/responder/internal/config"
	"github.com/opsignal/responder/internal/dispatcher"
	"github.com/opsignal/responder/internal/engine"
	"github.com/opsignal/responder/internal/metrics"
	"github.com/opsignal/responder/internal/models"
	"github.com/opsignal/responder/internal/store"
)

const windowCacheSize = 4096

type taskKind int

const (
	taskSignal taskKind = iota
	taskReanalyze
	taskClose
)

type task struct {
	kind       taskKind
	signal     *models.Signal
	incidentID string
	done       chan error
}

// Correlator owns incident identity. It decides create-or-attach per signal,
// schedules analysis, fuses verdicts into decisions, and drives status
// transitions from dispatch outcomes.
type Correlator struct {
	logger     *slog.Logger
	store      store.Store
	pool       *engine.Pool
	fuser      *engine.Fuser
	dispatcher *dispatcher.Dispatcher
	cfg        config.CorrelatorConfig

	// window caches fingerprint -> incident id inside the dedup window. The
	// store's fingerprint index is the fallback after eviction or restart.
	window *expirable.LRU[string, string]

	// mu guards shards against Stop closing them mid-send: senders hold the
	// read lock for the duration of the channel send.
	mu      sync.RWMutex
	shards  []chan task
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
	started bool
}

// New constructs a Correlator.
func New(logger *slog.Logger, st store.Store, pool *engine.Pool, fuser *engine.Fuser, disp *dispatcher.Dispatcher, cfg config.CorrelatorConfig) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 16
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.MaxAnalysis <= 0 {
		cfg.MaxAnalysis = 3
	}

	return &Correlator{
		logger:     logger,
		store:      st,
		pool:       pool,
		fuser:      fuser,
		dispatcher: disp,
		cfg:        cfg,
		window:     expirable.NewLRU[string, string](windowCacheSize, nil, cfg.Window),
	}
}

// Start launches the shard workers. It must be called before Submit.
func (c *Correlator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	c.baseCtx, c.cancel = context.WithCancel(ctx)
	c.shards = make([]chan task, c.cfg.Shards)
	for i := range c.shards {
		ch := make(chan task, c.cfg.QueueDepth)
		c.shards[i] = ch
		c.wg.Add(1)
		go c.run(ch)
	}
}

// Stop drains the queues and waits for workers to finish.
func (c *Correlator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	shards := c.shards
	c.shards = nil
	c.mu.Unlock()

	for _, ch := range shards {
		close(ch)
	}
	c.wg.Wait()
	c.cancel()
}

// Submit hands a normalized signal to its fingerprint's shard. Queue order is
// arrival order, which preserves same-fingerprint processing order.
func (c *Correlator) Submit(sig *models.Signal) error {
	return c.send(Fingerprint(sig), task{kind: taskSignal, signal: sig})
}

// send delivers a task to the fingerprint's shard while holding the read
// lock, so Stop cannot close the channel underneath the send.
func (c *Correlator) send(fingerprint string, t task) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.shards == nil {
		return fmt.Errorf("correlator not started")
	}
	c.shards[shardIndex(fingerprint, len(c.shards))] <- t
	return nil
}

// Acknowledge transitions a resolved or failed incident to closed. The
// request is routed through the incident's shard so the transition does not
// race ongoing correlation, and the call waits for the result.
func (c *Correlator) Acknowledge(ctx context.Context, incidentID string) error {
	inc, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	if err := c.send(inc.Fingerprint, task{kind: taskClose, incidentID: incidentID, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Correlator) run(ch chan task) {
	defer c.wg.Done()
	for t := range ch {
		switch t.kind {
		case taskSignal:
			c.handleSignal(t.signal)
		case taskReanalyze:
			c.handleReanalyze(t.incidentID)
		case taskClose:
			t.done <- c.handleClose(t.incidentID)
		}
	}
}

// handleSignal performs the create-or-attach decision and schedules analysis.
func (c *Correlator) handleSignal(sig *models.Signal) {
	ctx := c.baseCtx
	fp := Fingerprint(sig)

	inc, created, err := c.correlate(ctx, fp, sig)
	if err != nil {
		c.logger.Error("correlation failed",
			slog.String("fingerprint", fp),
			slog.String("signal_id", sig.ID),
			slog.Any("error", err))
		return
	}

	// Consume the signal: processed flips true exactly once, here.
	sig.IncidentID = inc.ID
	sig.Processed = true
	if err := c.store.UpdateSignal(ctx, sig); err != nil {
		c.logger.Error("mark signal processed failed", slog.String("signal_id", sig.ID), slog.Any("error", err))
		return
	}

	result := metrics.ResultAttached
	if created {
		result = metrics.ResultCreated
	}
	metrics.ObserveCorrelation(result)
	c.logger.Info("signal correlated",
		slog.String("signal_id", sig.ID),
		slog.String("incident_id", inc.ID),
		slog.String("result", result))

	c.analyze(ctx, inc)
}

// correlate resolves the fingerprint to an existing open incident or creates
// a new one. Runs single-writer per fingerprint, so two racing signals with
// the same fingerprint deterministically land on one incident.
func (c *Correlator) correlate(ctx context.Context, fp string, sig *models.Signal) (*models.Incident, bool, error) {
	var stale string
	if id, ok := c.window.Get(fp); ok {
		inc, err := c.store.GetIncident(ctx, id)
		if err == nil && !models.TerminalStatus(inc.Status) && c.insideWindow(inc) {
			return c.attach(ctx, fp, inc, sig)
		}
		// The cached incident reached a terminal state or went idle past the
		// window; a fresh one references it so the history stays connected.
		stale = id
	} else if inc, err := c.store.OpenIncidentByFingerprint(ctx, fp); err == nil {
		// The cache entry may have been evicted under pressure, so the
		// window check runs against the store record too.
		if c.insideWindow(inc) {
			return c.attach(ctx, fp, inc, sig)
		}
		stale = inc.ID
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}

	inc := c.newIncident(fp, sig)
	if stale != "" {
		inc.AddRelated(stale)
	}
	if err := c.store.CreateIncident(ctx, inc); err != nil {
		return nil, false, fmt.Errorf("create incident: %w", err)
	}
	if stale != "" {
		c.linkRelated(ctx, inc.ID, []string{stale})
	}
	c.window.Add(fp, inc.ID)
	return inc, true, nil
}

// insideWindow reports whether the incident saw activity within the dedup
// window. An open incident idle for longer stops absorbing new signals.
func (c *Correlator) insideWindow(inc *models.Incident) bool {
	return time.Since(inc.UpdatedAt) <= c.cfg.Window
}

func (c *Correlator) attach(ctx context.Context, fp string, inc *models.Incident, sig *models.Signal) (*models.Incident, bool, error) {
	inc.SignalCount++
	if attached := models.SeverityFromScore(sig.Severity); models.SeverityRank(attached) > models.SeverityRank(inc.Severity) {
		inc.Severity = attached
	}
	inc.AddTag(sig.EventType)
	inc.UpdatedAt = time.Now().UTC()
	if err := c.store.UpdateIncident(ctx, inc); err != nil {
		return nil, false, fmt.Errorf("attach signal: %w", err)
	}
	// Re-adding resets the cache entry's TTL, so the window slides with each
	// attached signal.
	c.window.Add(fp, inc.ID)
	return inc, false, nil
}

func (c *Correlator) newIncident(fp string, sig *models.Signal) *models.Incident {
	now := time.Now().UTC()
	title := sig.Description
	if title == "" {
		title = fmt.Sprintf("%s %s", sig.Source, sig.EventType)
	}
	inc := &models.Incident{
		ID:          uuid.NewString(),
		Fingerprint: fp,
		Title:       title,
		Description: sig.Description,
		Severity:    models.SeverityFromScore(sig.Severity),
		Status:      models.StatusOpen,
		Source:      sig.Source,
		RawData:     sig.RawData,
		DetectedAt:  sig.DetectedAt,
		SignalCount: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	inc.AddTag(string(sig.Source))
	inc.AddTag(sig.EventType)
	return inc
}

// analyze runs the engine pool and carries the incident through fusion and
// dispatch. An exhausted run leaves the incident open and schedules a bounded
// retry; only repeated exhaustion marks it failed.
func (c *Correlator) analyze(ctx context.Context, inc *models.Incident) {
	if models.TerminalStatus(inc.Status) {
		return
	}

	signals, err := c.store.ListSignalsByIncident(ctx, inc.ID)
	if err != nil {
		c.logger.Error("load signals failed", slog.String("incident_id", inc.ID), slog.Any("error", err))
		return
	}

	start := time.Now()
	verdicts, err := c.pool.Run(ctx, inc, signals)
	duration := time.Since(start)

	if err != nil {
		if !errors.Is(err, models.ErrAnalysisExhausted) {
			c.logger.Error("pool run failed", slog.String("incident_id", inc.ID), slog.Any("error", err))
			return
		}
		metrics.ObserveAnalysis(duration, 0, false)
		inc.AnalysisAttempts++
		c.logger.Warn("analysis exhausted",
			slog.String("incident_id", inc.ID),
			slog.Int("attempt", inc.AnalysisAttempts))

		if inc.AnalysisAttempts >= c.cfg.MaxAnalysis {
			c.transition(ctx, inc, models.StatusFailed)
		}
		if err := c.store.UpdateIncident(ctx, inc); err != nil {
			c.logger.Error("update incident failed", slog.String("incident_id", inc.ID), slog.Any("error", err))
		}
		if inc.AnalysisAttempts < c.cfg.MaxAnalysis {
			c.scheduleReanalysis(inc)
		}
		return
	}

	decision := c.fuser.Fuse(verdicts)
	decision.ID = uuid.NewString()
	decision.IncidentID = inc.ID
	decision.AnalysisDuration = duration
	decision.CreatedAt = time.Now().UTC()

	if err := c.store.AppendDecision(ctx, &decision); err != nil {
		c.logger.Error("append decision failed", slog.String("incident_id", inc.ID), slog.Any("error", err))
		return
	}
	metrics.ObserveAnalysis(duration, decision.Confidence, true)

	// A scheduled pool run that produced verdicts moves the incident along.
	if inc.Status == models.StatusOpen {
		c.transition(ctx, inc, models.StatusInProgress)
	}

	inc.RootCause = decision.RootCause
	confidence := decision.Confidence
	inc.ConfidenceScore = &confidence
	inc.SuggestedActions = decision.SuggestedActions
	inc.UpdatedAt = time.Now().UTC()
	for _, related := range decision.RelatedIncidents {
		inc.AddRelated(related)
	}
	c.linkRelated(ctx, inc.ID, decision.RelatedIncidents)

	c.logger.Info("decision recorded",
		slog.String("incident_id", inc.ID),
		slog.String("root_cause", decision.RootCause),
		slog.Float64("confidence", decision.Confidence),
		slog.Int("engines", decision.EngineCount))

	if decision.Confidence < c.cfg.MinConfidence {
		c.logger.Warn("confidence below remediation threshold",
			slog.String("incident_id", inc.ID),
			slog.Float64("confidence", decision.Confidence),
			slog.Float64("threshold", c.cfg.MinConfidence))
		c.transition(ctx, inc, models.StatusFailed)
		if err := c.store.UpdateIncident(ctx, inc); err != nil {
			c.logger.Error("update incident failed", slog.String("incident_id", inc.ID), slog.Any("error", err))
		}
		return
	}

	c.dispatch(ctx, inc, &decision)
}

func (c *Correlator) dispatch(ctx context.Context, inc *models.Incident, decision *models.Decision) {
	result, err := c.dispatcher.Dispatch(ctx, inc, decision)
	if err != nil {
		c.logger.Error("dispatch failed", slog.String("incident_id", inc.ID), slog.Any("error", err))
	}

	for _, act := range result.Actions {
		inc.ActionsTaken = append(inc.ActionsTaken, act.ID)
	}

	switch {
	case result.Outcome == dispatcher.AllSucceeded,
		result.Outcome == dispatcher.Partial && result.PrimarySucceeded:
		c.transition(ctx, inc, models.StatusResolved)
	default:
		c.transition(ctx, inc, models.StatusFailed)
	}

	inc.UpdatedAt = time.Now().UTC()
	if err := c.store.UpdateIncident(ctx, inc); err != nil {
		c.logger.Error("update incident failed", slog.String("incident_id", inc.ID), slog.Any("error", err))
	}
}

func (c *Correlator) handleReanalyze(incidentID string) {
	ctx := c.baseCtx
	inc, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		c.logger.Error("reanalysis lookup failed", slog.String("incident_id", incidentID), slog.Any("error", err))
		return
	}
	c.analyze(ctx, inc)
}

func (c *Correlator) handleClose(incidentID string) error {
	ctx := c.baseCtx
	inc, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	if !models.CanTransition(inc.Status, models.StatusClosed) {
		return fmt.Errorf("incident %s cannot close from %s", incidentID, inc.Status)
	}
	c.transition(ctx, inc, models.StatusClosed)
	inc.UpdatedAt = time.Now().UTC()
	return c.store.UpdateIncident(ctx, inc)
}

// scheduleReanalysis requeues the incident for another pool run after the
// retry interval, through its own shard to keep single-writer semantics.
func (c *Correlator) scheduleReanalysis(inc *models.Incident) {
	fp := inc.Fingerprint
	id := inc.ID
	time.AfterFunc(c.cfg.RetryInterval, func() {
		if err := c.send(fp, task{kind: taskReanalyze, incidentID: id}); err != nil {
			c.logger.Debug("reanalysis dropped after shutdown", slog.String("incident_id", id))
		}
	})
}

// transition applies a state machine edge. Illegal edges are refused, which
// keeps status strictly monotonic.
func (c *Correlator) transition(ctx context.Context, inc *models.Incident, to models.IncidentStatus) {
	if !models.CanTransition(inc.Status, to) {
		c.logger.Warn("illegal status transition refused",
			slog.String("incident_id", inc.ID),
			slog.String("from", string(inc.Status)),
			slog.String("to", string(to)))
		return
	}
	inc.Status = to
	if to == models.StatusResolved || to == models.StatusClosed {
		if inc.ResolvedAt == nil {
			now := time.Now().UTC()
			inc.ResolvedAt = &now
		}
	}
	c.logger.Info("incident status changed",
		slog.String("incident_id", inc.ID),
		slog.String("status", string(to)))
}

// linkRelated mirrors related-incident references onto the other side so the
// relation stays symmetric. The mirrored incident may belong to another
// fingerprint's shard, so the write goes through the store's field-scoped
// update rather than a full read-modify-write of the incident record.
func (c *Correlator) linkRelated(ctx context.Context, id string, related []string) {
	for _, otherID := range related {
		if err := c.store.AddRelatedIncident(ctx, otherID, id); err != nil && !errors.Is(err, models.ErrNotFound) {
			c.logger.Warn("related incident link failed",
				slog.String("incident_id", otherID),
				slog.Any("error", err))
		}
	}
}
