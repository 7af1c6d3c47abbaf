package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsignal/responder/internal/adapters"
	"github.com/opsignal/responder/internal/config"
	"github.com/opsignal/responder/internal/models"
	"github.com/opsignal/responder/internal/store"
)

func fastDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsed:      time.Second,
	}
}

func testDecision(actions ...models.SuggestedAction) *models.Decision {
	return &models.Decision{
		ID:               "dec-1",
		IncidentID:       "inc-1",
		RootCause:        "deployment rollout failed",
		Confidence:       0.8,
		SuggestedActions: actions,
	}
}

func TestDispatchAllSucceeded(t *testing.T) {
	st := store.NewMemoryStore()
	rollback := adapters.NewMemoryAdapter()
	notify := adapters.NewMemoryAdapter()
	d := New(nil, st, adapters.Registry{
		models.ActionRollback: rollback,
		models.ActionNotify:   notify,
	}, fastDispatchConfig())

	inc := &models.Incident{ID: "inc-1"}
	result, err := d.Dispatch(context.Background(), inc, testDecision(
		models.SuggestedAction{Type: models.ActionRollback, Target: "prod"},
		models.SuggestedAction{Type: models.ActionNotify, Target: "ops"},
	))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Outcome != AllSucceeded || !result.PrimarySucceeded {
		t.Fatalf("result = %+v, want all succeeded with primary ok", result)
	}
	if len(rollback.Executed()) != 1 || len(notify.Executed()) != 1 {
		t.Fatal("each adapter should run exactly once")
	}

	actions, err := st.ListActions(context.Background(), "inc-1")
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("got %d recorded actions, want 2", len(actions))
	}
	for _, act := range actions {
		if act.Status != models.ActionSuccess {
			t.Fatalf("action %s status = %s, want success", act.ID, act.Status)
		}
	}
}

func TestDispatchAtMostOnceReplay(t *testing.T) {
	st := store.NewMemoryStore()
	adapter := adapters.NewMemoryAdapter()
	d := New(nil, st, adapters.Registry{models.ActionRollback: adapter}, fastDispatchConfig())

	inc := &models.Incident{ID: "inc-1"}
	decision := testDecision(models.SuggestedAction{Type: models.ActionRollback, Target: "prod"})

	if _, err := d.Dispatch(context.Background(), inc, decision); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	result, err := d.Dispatch(context.Background(), inc, decision)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}

	if len(adapter.Executed()) != 1 {
		t.Fatalf("adapter ran %d times, want exactly once", len(adapter.Executed()))
	}
	if result.Replayed != 1 {
		t.Fatalf("replayed = %d, want 1", result.Replayed)
	}
	if result.Outcome != AllSucceeded {
		t.Fatalf("replay outcome = %s, want all succeeded", result.Outcome)
	}
}

func TestDispatchRetriesTransientFailure(t *testing.T) {
	st := store.NewMemoryStore()
	adapter := adapters.NewMemoryAdapter()
	adapter.Fail = models.NewTransientActionError("rollback prod", errors.New("gateway timeout"))
	adapter.FailCount = 2
	d := New(nil, st, adapters.Registry{models.ActionRollback: adapter}, fastDispatchConfig())

	inc := &models.Incident{ID: "inc-1"}
	result, err := d.Dispatch(context.Background(), inc, testDecision(
		models.SuggestedAction{Type: models.ActionRollback, Target: "prod"},
	))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Outcome != AllSucceeded {
		t.Fatalf("outcome = %s, want success after transient retries", result.Outcome)
	}
	if result.Actions[0].Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", result.Actions[0].Attempts)
	}
}

func TestDispatchPermanentFailureNoRetry(t *testing.T) {
	st := store.NewMemoryStore()
	adapter := adapters.NewMemoryAdapter()
	adapter.Fail = models.NewPermanentActionError("create ticket", errors.New("unauthorized"))
	d := New(nil, st, adapters.Registry{models.ActionTicketCreate: adapter}, fastDispatchConfig())

	inc := &models.Incident{ID: "inc-1"}
	result, err := d.Dispatch(context.Background(), inc, testDecision(
		models.SuggestedAction{Type: models.ActionTicketCreate, Target: "inc-1"},
	))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Outcome != AllFailed || result.PrimarySucceeded {
		t.Fatalf("result = %+v, want all failed", result)
	}
	if result.Actions[0].Attempts != 1 {
		t.Fatalf("attempts = %d, want no retry of permanent failure", result.Actions[0].Attempts)
	}
	if result.Actions[0].Status != models.ActionFailed {
		t.Fatalf("status = %s, want failed", result.Actions[0].Status)
	}
}

func TestDispatchPartialOutcome(t *testing.T) {
	st := store.NewMemoryStore()
	rollback := adapters.NewMemoryAdapter()
	notify := adapters.NewMemoryAdapter()
	notify.Fail = models.NewPermanentActionError("notify ops", errors.New("webhook gone"))
	d := New(nil, st, adapters.Registry{
		models.ActionRollback: rollback,
		models.ActionNotify:   notify,
	}, fastDispatchConfig())

	inc := &models.Incident{ID: "inc-1"}
	result, err := d.Dispatch(context.Background(), inc, testDecision(
		models.SuggestedAction{Type: models.ActionRollback, Target: "prod"},
		models.SuggestedAction{Type: models.ActionNotify, Target: "ops"},
	))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Outcome != Partial || !result.PrimarySucceeded {
		t.Fatalf("result = %+v, want partial with primary ok", result)
	}
}

func TestDispatchFailedActionCanRetryLater(t *testing.T) {
	st := store.NewMemoryStore()
	adapter := adapters.NewMemoryAdapter()
	adapter.Fail = models.NewPermanentActionError("rollback prod", errors.New("no healthy release"))
	adapter.FailCount = 1
	d := New(nil, st, adapters.Registry{models.ActionRollback: adapter}, fastDispatchConfig())

	inc := &models.Incident{ID: "inc-1"}
	decision := testDecision(models.SuggestedAction{Type: models.ActionRollback, Target: "prod"})

	first, err := d.Dispatch(context.Background(), inc, decision)
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if first.Outcome != AllFailed {
		t.Fatalf("first outcome = %s, want all failed", first.Outcome)
	}

	// A failed record does not block a later dispatch of the same intent.
	second, err := d.Dispatch(context.Background(), inc, decision)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if second.Outcome != AllSucceeded || second.Replayed != 0 {
		t.Fatalf("second result = %+v, want fresh successful execution", second)
	}
}

func TestDispatchMissingAdapterFails(t *testing.T) {
	st := store.NewMemoryStore()
	d := New(nil, st, adapters.Registry{}, fastDispatchConfig())

	inc := &models.Incident{ID: "inc-1"}
	result, err := d.Dispatch(context.Background(), inc, testDecision(
		models.SuggestedAction{Type: models.ActionConfigFix, Target: "prod"},
	))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Outcome != AllFailed {
		t.Fatalf("outcome = %s, want all failed with no adapter", result.Outcome)
	}
}

func TestKeyedLocksSerializeSameKey(t *testing.T) {
	locks := newKeyedLocks()
	release := locks.lock("k")

	acquired := make(chan struct{})
	go func() {
		r := locks.lock("k")
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first still held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired after release")
	}
}
