package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opsignal/responder/internal/adapters"
	"github.com/opsignal/responder/internal/config"
	"github.com/opsignal/responder/internal/dispatcher"
	"github.com/opsignal/responder/internal/engine"
	"github.com/opsignal/responder/internal/models"
	"github.com/opsignal/responder/internal/store"
)

type scriptedEngine struct {
	kind    engine.Kind
	verdict engine.PartialVerdict
	err     error

	mu    sync.Mutex
	calls int
	// failFirst makes the first n calls fail before the verdict applies.
	failFirst int
}

func (s *scriptedEngine) Kind() engine.Kind { return s.kind }

func (s *scriptedEngine) Analyze(ctx context.Context, incident *models.Incident, signals []*models.Signal) (engine.PartialVerdict, error) {
	s.mu.Lock()
	s.calls++
	calls := s.calls
	s.mu.Unlock()
	if s.err != nil {
		return engine.PartialVerdict{}, s.err
	}
	if calls <= s.failFirst {
		return engine.PartialVerdict{}, models.ErrEngineUnavailable
	}
	return s.verdict, nil
}

func (s *scriptedEngine) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type harness struct {
	store   *store.MemoryStore
	corr    *Correlator
	adapter *adapters.MemoryAdapter
}

func newHarness(t *testing.T, engines []engine.Engine, cfg config.CorrelatorConfig) *harness {
	t.Helper()

	st := store.NewMemoryStore()
	adapter := adapters.NewMemoryAdapter()
	registry := adapters.Registry{
		models.ActionRollback:     adapter,
		models.ActionNotify:       adapter,
		models.ActionTicketCreate: adapter,
		models.ActionComment:      adapter,
	}
	disp := dispatcher.New(nil, st, registry, config.DispatchConfig{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsed:      time.Second,
	})
	pool := engine.NewPool(nil, engines, time.Second, time.Second)

	if cfg.Window == 0 {
		cfg.Window = time.Minute
	}
	if cfg.Shards == 0 {
		cfg.Shards = 4
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 64
	}
	if cfg.MaxAnalysis == 0 {
		cfg.MaxAnalysis = 3
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 5 * time.Millisecond
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = 0.3
	}

	corr := New(nil, st, pool, engine.NewFuser(nil), disp, cfg)
	corr.Start(context.Background())
	t.Cleanup(corr.Stop)

	return &harness{store: st, corr: corr, adapter: adapter}
}

func (h *harness) submit(t *testing.T, sig *models.Signal) {
	t.Helper()
	if err := h.store.CreateSignal(context.Background(), sig); err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}
	if err := h.corr.Submit(sig); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func (h *harness) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) incidents(t *testing.T) []*models.Incident {
	t.Helper()
	out, err := h.store.ListIncidents(context.Background(), models.IncidentFilter{})
	if err != nil {
		t.Fatalf("ListIncidents: %v", err)
	}
	return out
}

func deploySignal(id string) *models.Signal {
	return &models.Signal{
		ID:          id,
		Source:      models.SourceCIPipeline,
		EventType:   "deployment_failed",
		Description: "Pipeline deployment failed: image pull backoff",
		Severity:    0.9,
		IsAnomaly:   true,
		RawData:     map[string]any{"pipeline": "deploy", "environment": "prod"},
		DetectedAt:  time.Now().UTC(),
	}
}

func resolvingEngine() *scriptedEngine {
	return &scriptedEngine{
		kind: engine.KindRuleBased,
		verdict: engine.PartialVerdict{
			RootCause:  "deployment rollout failed",
			Confidence: 0.8,
			SuggestedActions: []models.SuggestedAction{
				{Type: models.ActionRollback, Target: "prod", Description: "roll back"},
				{Type: models.ActionNotify, Target: "ops", Description: "page on-call"},
			},
		},
	}
}

func TestCorrelatorCreatesAndResolvesIncident(t *testing.T) {
	h := newHarness(t, []engine.Engine{resolvingEngine()}, config.CorrelatorConfig{})

	sig := deploySignal("sig-1")
	h.submit(t, sig)

	var inc *models.Incident
	h.waitFor(t, "incident resolution", func() bool {
		list := h.incidents(t)
		if len(list) != 1 {
			return false
		}
		inc = list[0]
		return inc.Status == models.StatusResolved
	})

	if inc.RootCause != "deployment rollout failed" {
		t.Fatalf("root cause = %q", inc.RootCause)
	}
	if inc.ConfidenceScore == nil || *inc.ConfidenceScore != 0.4 {
		t.Fatalf("confidence = %v, want weighted 0.4", inc.ConfidenceScore)
	}
	if inc.ResolvedAt == nil {
		t.Fatal("resolved incident must carry ResolvedAt")
	}
	if len(inc.ActionsTaken) != 2 {
		t.Fatalf("actions taken = %v, want 2", inc.ActionsTaken)
	}

	stored, err := h.store.GetSignal(context.Background(), "sig-1")
	if err != nil {
		t.Fatalf("GetSignal: %v", err)
	}
	if !stored.Processed || stored.IncidentID != inc.ID {
		t.Fatalf("signal not consumed: %+v", stored)
	}

	decisions, err := h.store.ListDecisions(context.Background(), inc.ID)
	if err != nil || len(decisions) != 1 {
		t.Fatalf("decisions = %v (%v), want 1", decisions, err)
	}
	if decisions[0].EngineCount != 1 {
		t.Fatalf("engine count = %d", decisions[0].EngineCount)
	}
}

func TestCorrelatorAttachesSameFingerprint(t *testing.T) {
	// Engine that never resolves keeps the incident non-terminal, so each
	// follow-up signal within the window must attach instead of creating.
	eng := &scriptedEngine{kind: engine.KindRuleBased, err: models.ErrEngineUnavailable}
	h := newHarness(t, []engine.Engine{eng}, config.CorrelatorConfig{
		MaxAnalysis:   100,
		RetryInterval: time.Hour,
	})

	h.submit(t, deploySignal("sig-1"))
	h.waitFor(t, "first signal consumed", func() bool {
		sig, err := h.store.GetSignal(context.Background(), "sig-1")
		return err == nil && sig.Processed
	})

	h.submit(t, deploySignal("sig-2"))
	h.waitFor(t, "second signal attached", func() bool {
		list := h.incidents(t)
		return len(list) == 1 && list[0].SignalCount == 2
	})
}

func TestCorrelatorNewIncidentOutsideWindow(t *testing.T) {
	// An open incident stops matching once it has been idle past the window,
	// even though the fingerprint index still points at it.
	eng := &scriptedEngine{kind: engine.KindRuleBased, err: models.ErrEngineUnavailable}
	h := newHarness(t, []engine.Engine{eng}, config.CorrelatorConfig{
		Window:        50 * time.Millisecond,
		MaxAnalysis:   100,
		RetryInterval: time.Hour,
	})

	h.submit(t, deploySignal("sig-1"))
	h.waitFor(t, "first signal consumed", func() bool {
		sig, err := h.store.GetSignal(context.Background(), "sig-1")
		return err == nil && sig.Processed
	})
	first := h.incidents(t)[0]

	time.Sleep(200 * time.Millisecond)

	h.submit(t, deploySignal("sig-2"))
	h.waitFor(t, "second incident created", func() bool {
		return len(h.incidents(t)) == 2
	})

	var second *models.Incident
	for _, inc := range h.incidents(t) {
		if inc.ID != first.ID {
			second = inc
		}
	}
	if second == nil {
		t.Fatal("second incident not found")
	}
	if second.SignalCount != 1 {
		t.Fatalf("second incident SignalCount = %d, want 1", second.SignalCount)
	}

	found := false
	for _, rel := range second.RelatedIncidents {
		if rel == first.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("second incident %v does not reference the idle incident", second.RelatedIncidents)
	}
}

func TestCorrelatorWindowSlidesOnAttach(t *testing.T) {
	// Each attached signal renews the window, so a steady trickle spaced
	// inside the window keeps one incident alive past the initial span.
	eng := &scriptedEngine{kind: engine.KindRuleBased, err: models.ErrEngineUnavailable}
	h := newHarness(t, []engine.Engine{eng}, config.CorrelatorConfig{
		Window:        time.Second,
		MaxAnalysis:   100,
		RetryInterval: time.Hour,
	})

	for i := 1; i <= 3; i++ {
		if i > 1 {
			time.Sleep(600 * time.Millisecond)
		}
		id := fmt.Sprintf("sig-%d", i)
		h.submit(t, deploySignal(id))
		h.waitFor(t, "signal consumed", func() bool {
			sig, err := h.store.GetSignal(context.Background(), id)
			return err == nil && sig.Processed
		})
	}

	list := h.incidents(t)
	if len(list) != 1 || list[0].SignalCount != 3 {
		t.Fatalf("incidents = %d, SignalCount = %d, want one incident with 3 signals", len(list), list[0].SignalCount)
	}
}

func TestCorrelatorSeparatesDistinctFingerprints(t *testing.T) {
	h := newHarness(t, []engine.Engine{resolvingEngine()}, config.CorrelatorConfig{})

	a := deploySignal("sig-a")
	b := deploySignal("sig-b")
	b.RawData = map[string]any{"pipeline": "deploy", "environment": "staging"}
	h.submit(t, a)
	h.submit(t, b)

	h.waitFor(t, "two incidents", func() bool {
		return len(h.incidents(t)) == 2
	})
}

func TestCorrelatorConcurrentSameFingerprint(t *testing.T) {
	eng := &scriptedEngine{kind: engine.KindRuleBased, err: models.ErrEngineUnavailable}
	h := newHarness(t, []engine.Engine{eng}, config.CorrelatorConfig{
		MaxAnalysis:   1000,
		RetryInterval: time.Hour,
	})

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		sig := deploySignal(fmt.Sprintf("sig-%d", i))
		if err := h.store.CreateSignal(context.Background(), sig); err != nil {
			t.Fatalf("CreateSignal: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.corr.Submit(sig); err != nil {
				t.Errorf("Submit: %v", err)
			}
		}()
	}
	wg.Wait()

	h.waitFor(t, "all signals on one incident", func() bool {
		list := h.incidents(t)
		return len(list) == 1 && list[0].SignalCount == n
	})
}

func TestCorrelatorLowConfidenceFails(t *testing.T) {
	eng := &scriptedEngine{
		kind:    engine.KindRuleBased,
		verdict: engine.PartialVerdict{RootCause: "weak hunch", Confidence: 0.2},
	}
	h := newHarness(t, []engine.Engine{eng}, config.CorrelatorConfig{})

	h.submit(t, deploySignal("sig-1"))
	h.waitFor(t, "incident failed on low confidence", func() bool {
		list := h.incidents(t)
		return len(list) == 1 && list[0].Status == models.StatusFailed
	})

	inc := h.incidents(t)[0]
	if len(h.adapter.Executed()) != 0 {
		t.Fatal("no actions may run below the confidence threshold")
	}
	if inc.RootCause != "weak hunch" {
		t.Fatalf("decision still recorded: root cause = %q", inc.RootCause)
	}
}

func TestCorrelatorExhaustedRetriesThenFails(t *testing.T) {
	eng := &scriptedEngine{kind: engine.KindRuleBased, err: models.ErrEngineUnavailable}
	h := newHarness(t, []engine.Engine{eng}, config.CorrelatorConfig{
		MaxAnalysis:   2,
		RetryInterval: 5 * time.Millisecond,
	})

	h.submit(t, deploySignal("sig-1"))
	h.waitFor(t, "incident failed after exhausted retries", func() bool {
		list := h.incidents(t)
		return len(list) == 1 && list[0].Status == models.StatusFailed
	})

	inc := h.incidents(t)[0]
	if inc.AnalysisAttempts != 2 {
		t.Fatalf("analysis attempts = %d, want 2", inc.AnalysisAttempts)
	}
	if eng.callCount() != 2 {
		t.Fatalf("engine ran %d times, want 2", eng.callCount())
	}
}

func TestCorrelatorRetryThenSuccess(t *testing.T) {
	eng := resolvingEngine()
	eng.failFirst = 1
	h := newHarness(t, []engine.Engine{eng}, config.CorrelatorConfig{
		MaxAnalysis:   3,
		RetryInterval: 5 * time.Millisecond,
	})

	h.submit(t, deploySignal("sig-1"))
	h.waitFor(t, "incident resolved on retry", func() bool {
		list := h.incidents(t)
		return len(list) == 1 && list[0].Status == models.StatusResolved
	})

	inc := h.incidents(t)[0]
	if inc.AnalysisAttempts != 1 {
		t.Fatalf("analysis attempts = %d, want 1 exhausted run", inc.AnalysisAttempts)
	}
}

func TestCorrelatorDispatchFailureMarksFailed(t *testing.T) {
	h := newHarness(t, []engine.Engine{resolvingEngine()}, config.CorrelatorConfig{})
	h.adapter.Fail = models.NewPermanentActionError("rollback", errors.New("no healthy release"))

	h.submit(t, deploySignal("sig-1"))
	h.waitFor(t, "incident failed on dispatch", func() bool {
		list := h.incidents(t)
		return len(list) == 1 && list[0].Status == models.StatusFailed
	})
}

func TestCorrelatorAcknowledgeCloses(t *testing.T) {
	h := newHarness(t, []engine.Engine{resolvingEngine()}, config.CorrelatorConfig{})

	h.submit(t, deploySignal("sig-1"))
	var inc *models.Incident
	h.waitFor(t, "incident resolution", func() bool {
		list := h.incidents(t)
		if len(list) != 1 || list[0].Status != models.StatusResolved {
			return false
		}
		inc = list[0]
		return true
	})

	if err := h.corr.Acknowledge(context.Background(), inc.ID); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	got, err := h.store.GetIncident(context.Background(), inc.ID)
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if got.Status != models.StatusClosed {
		t.Fatalf("status = %s, want closed", got.Status)
	}

	// Closed is terminal; a second acknowledge is refused.
	if err := h.corr.Acknowledge(context.Background(), inc.ID); err == nil {
		t.Fatal("acknowledging a closed incident must fail")
	}
}

func TestCorrelatorAcknowledgeRefusedWhileOpen(t *testing.T) {
	eng := &scriptedEngine{kind: engine.KindRuleBased, err: models.ErrEngineUnavailable}
	h := newHarness(t, []engine.Engine{eng}, config.CorrelatorConfig{
		MaxAnalysis:   100,
		RetryInterval: time.Hour,
	})

	h.submit(t, deploySignal("sig-1"))
	h.waitFor(t, "incident created", func() bool {
		return len(h.incidents(t)) == 1
	})

	inc := h.incidents(t)[0]
	if err := h.corr.Acknowledge(context.Background(), inc.ID); err == nil {
		t.Fatal("open incident must not close directly")
	}
}

func TestCorrelatorNewIncidentAfterTerminal(t *testing.T) {
	h := newHarness(t, []engine.Engine{resolvingEngine()}, config.CorrelatorConfig{})

	h.submit(t, deploySignal("sig-1"))
	h.waitFor(t, "first incident resolved", func() bool {
		list := h.incidents(t)
		return len(list) == 1 && list[0].Status == models.StatusResolved
	})
	first := h.incidents(t)[0]

	// Same fingerprint after the incident went terminal: a fresh incident
	// opens and references the prior one.
	h.submit(t, deploySignal("sig-2"))
	h.waitFor(t, "second incident resolved", func() bool {
		list := h.incidents(t)
		return len(list) == 2
	})

	var second *models.Incident
	for _, inc := range h.incidents(t) {
		if inc.ID != first.ID {
			second = inc
		}
	}
	if second == nil {
		t.Fatal("second incident not found")
	}

	found := false
	for _, rel := range second.RelatedIncidents {
		if rel == first.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("second incident %v does not reference the prior terminal incident", second.RelatedIncidents)
	}
}

func TestCorrelatorStatusMonotonic(t *testing.T) {
	// resolved must never regress to in_progress even if a transition is
	// attempted out of order.
	cases := []struct {
		from, to models.IncidentStatus
		allowed  bool
	}{
		{models.StatusOpen, models.StatusInProgress, true},
		{models.StatusInProgress, models.StatusResolved, true},
		{models.StatusResolved, models.StatusClosed, true},
		{models.StatusResolved, models.StatusInProgress, false},
		{models.StatusClosed, models.StatusOpen, false},
		{models.StatusFailed, models.StatusInProgress, false},
		{models.StatusFailed, models.StatusClosed, true},
	}
	for _, tc := range cases {
		if got := models.CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestFingerprintStability(t *testing.T) {
	a := deploySignal("sig-a")
	b := deploySignal("sig-b")
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("same payload shape must share a fingerprint: %q vs %q", Fingerprint(a), Fingerprint(b))
	}

	c := deploySignal("sig-c")
	c.RawData["environment"] = "staging"
	if Fingerprint(a) == Fingerprint(c) {
		t.Fatal("different environments must not share a fingerprint")
	}
}

func TestFingerprintNormalizesCase(t *testing.T) {
	a := deploySignal("sig-a")
	b := deploySignal("sig-b")
	b.EventType = "DEPLOYMENT_FAILED"
	b.RawData = map[string]any{"pipeline": "Deploy", "environment": "PROD"}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("fingerprint must be case-insensitive: %q vs %q", Fingerprint(a), Fingerprint(b))
	}
}

func TestFingerprintReviewReference(t *testing.T) {
	sig := &models.Signal{
		Source:    models.SourceVersionControl,
		EventType: "pull_request",
		RawData: map[string]any{
			"repository":   "platform/monorepo",
			"pull_request": map[string]any{"number": float64(42)},
		},
	}
	want := "version-control:pull_request:platform/monorepo/pr-42"
	if got := Fingerprint(sig); got != want {
		t.Fatalf("fingerprint = %q, want %q", got, want)
	}
}

func TestShardIndexStable(t *testing.T) {
	fp := "ci-pipeline:deployment_failed:deploy/prod"
	first := shardIndex(fp, 16)
	for i := 0; i < 100; i++ {
		if shardIndex(fp, 16) != first {
			t.Fatal("shard index must be deterministic")
		}
	}
	if first < 0 || first >= 16 {
		t.Fatalf("shard index %d out of range", first)
	}
}
