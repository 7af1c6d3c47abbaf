// Package dispatcher turns decisions into executed actions with at-most-once
// semantics per (incident, action type, target).
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/opsignal/responder/internal/adapters"
	"github.com/opsignal/responder/internal/config"
	"github.com/opsignal/responder/internal/metrics"
	"github.com/opsignal/responder/internal/models"
	"github.com/opsignal/responder/internal/store"
)

// AggregateOutcome summarises a full dispatch pass over one decision.
type AggregateOutcome string

const (
	AllSucceeded AggregateOutcome = "all-succeeded"
	Partial      AggregateOutcome = "partial"
	AllFailed    AggregateOutcome = "all-failed"
)

// Result reports what happened to every intent of a decision.
type Result struct {
	Outcome          AggregateOutcome
	Actions          []*models.Action
	PrimarySucceeded bool
	Replayed         int
}

// Dispatcher executes action intents through registered adapters. Before
// executing it consults the action log: an existing non-failed action with
// the same key short-circuits into an idempotent replay of the prior result.
type Dispatcher struct {
	logger   *slog.Logger
	store    store.Store
	registry adapters.Registry
	cfg      config.DispatchConfig
	locks    *keyedLocks
}

// New constructs a Dispatcher.
func New(logger *slog.Logger, st store.Store, registry adapters.Registry, cfg config.DispatchConfig) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	return &Dispatcher{
		logger:   logger,
		store:    st,
		registry: registry,
		cfg:      cfg,
		locks:    newKeyedLocks(),
	}
}

// Dispatch processes every suggested action of the decision, in order, and
// reports the aggregate outcome. The first suggested action is the primary
// remediation; its fate drives the incident status transition upstream.
//
// Actions for the same incident could run concurrently for different targets,
// but the per-decision intent list is short and ordered by fused ranking, so
// sequential execution keeps the primary-first semantics simple; mutual
// exclusion on the de-duplication key still guards concurrent Dispatch calls.
func (d *Dispatcher) Dispatch(ctx context.Context, incident *models.Incident, decision *models.Decision) (Result, error) {
	if decision == nil || len(decision.SuggestedActions) == 0 {
		return Result{Outcome: AllFailed}, fmt.Errorf("decision has no suggested actions")
	}

	result := Result{}
	succeeded, failed := 0, 0

	for i, suggested := range decision.SuggestedActions {
		action, replayed, err := d.dispatchOne(ctx, incident, decision, suggested)
		if err != nil {
			d.logger.Warn("action dispatch errored",
				slog.String("incident_id", incident.ID),
				slog.String("type", string(suggested.Type)),
				slog.String("target", suggested.Target),
				slog.Any("error", err))
		}
		if action != nil {
			result.Actions = append(result.Actions, action)
		}
		if replayed {
			result.Replayed++
		}

		ok := action != nil && action.Status == models.ActionSuccess
		if ok {
			succeeded++
		} else {
			failed++
		}
		if i == 0 {
			result.PrimarySucceeded = ok
		}
	}

	switch {
	case failed == 0:
		result.Outcome = AllSucceeded
	case succeeded == 0:
		result.Outcome = AllFailed
	default:
		result.Outcome = Partial
	}
	return result, nil
}

// dispatchOne executes a single intent under its de-duplication lock.
func (d *Dispatcher) dispatchOne(ctx context.Context, incident *models.Incident, decision *models.Decision, suggested models.SuggestedAction) (*models.Action, bool, error) {
	key := incident.ID + "|" + suggested.Key()
	unlock := d.locks.lock(key)
	defer unlock()

	// Idempotency guard: a pending or succeeded action with this key means
	// the side effect already happened (or is happening); return it as-is.
	if prior, err := d.store.FindAction(ctx, incident.ID, suggested.Type, suggested.Target); err == nil {
		if prior.Status != models.ActionFailed {
			metrics.ObserveAction(string(suggested.Type), metrics.OutcomeSkipped, 0)
			return prior, true, nil
		}
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, false, fmt.Errorf("action log lookup: %w", err)
	}

	adapter := d.registry.For(suggested.Type)
	if adapter == nil {
		act := d.newAction(incident.ID, suggested)
		act.Status = models.ActionFailed
		act.Error = fmt.Sprintf("no adapter registered for %s", suggested.Type)
		if err := d.store.AppendAction(ctx, act); err != nil {
			return nil, false, err
		}
		metrics.ObserveAction(string(suggested.Type), metrics.OutcomeError, 0)
		return act, false, nil
	}

	act := d.newAction(incident.ID, suggested)
	if err := d.store.AppendAction(ctx, act); err != nil {
		return nil, false, fmt.Errorf("record pending action: %w", err)
	}

	intent := adapters.Intent{
		IncidentID:  incident.ID,
		Type:        suggested.Type,
		Target:      suggested.Target,
		Description: suggested.Description,
		Incident:    incident,
		Decision:    decision,
	}

	start := time.Now()
	payload, execErr := d.execute(ctx, adapter, intent, act)
	duration := time.Since(start)

	act.ExecutedAt = time.Now().UTC()
	if execErr != nil {
		act.Status = models.ActionFailed
		act.Error = execErr.Error()
		metrics.ObserveAction(string(suggested.Type), metrics.OutcomeError, duration)
	} else {
		act.Status = models.ActionSuccess
		act.Result = payload
		metrics.ObserveAction(string(suggested.Type), metrics.OutcomeSuccess, duration)
	}
	if err := d.store.UpdateAction(ctx, act); err != nil {
		return act, false, fmt.Errorf("record action outcome: %w", err)
	}
	return act, false, execErr
}

// execute runs the adapter with bounded exponential backoff. Only transient
// failures are retried; permanent ones stop immediately.
func (d *Dispatcher) execute(ctx context.Context, adapter adapters.Adapter, intent adapters.Intent, act *models.Action) (map[string]any, error) {
	var payload map[string]any

	op := func() error {
		act.Attempts++
		out, err := adapter.Execute(ctx, intent)
		if err != nil {
			if models.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		payload = out
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.InitialInterval
	bo.MaxInterval = d.cfg.MaxInterval
	bo.MaxElapsedTime = d.cfg.MaxElapsed

	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(d.cfg.MaxAttempts-1)))
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (d *Dispatcher) newAction(incidentID string, suggested models.SuggestedAction) *models.Action {
	return &models.Action{
		ID:          uuid.NewString(),
		IncidentID:  incidentID,
		Type:        suggested.Type,
		Target:      suggested.Target,
		Description: suggested.Description,
		Status:      models.ActionPending,
		ExecutedAt:  time.Now().UTC(),
	}
}
