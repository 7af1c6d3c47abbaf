// Package services exposes the signal intake and incident query facade that
// the HTTP layer calls into.
package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opsignal/responder/internal/correlator"
	"github.com/opsignal/responder/internal/metrics"
	"github.com/opsignal/responder/internal/models"
	"github.com/opsignal/responder/internal/normalizer"
	"github.com/opsignal/responder/internal/store"
	"github.com/opsignal/responder/internal/utils"
)

// ResponderService validates raw observations, persists them, and hands them
// to the correlator. Reads go straight to the store; writes to incidents only
// ever happen through the correlator.
type ResponderService struct {
	logger     *slog.Logger
	store      store.Store
	normalizer *normalizer.Normalizer
	correlator *correlator.Correlator
	latencies  *utils.LatencyTracker
}

// NewResponderService constructs the service facade.
func NewResponderService(logger *slog.Logger, st store.Store, norm *normalizer.Normalizer, corr *correlator.Correlator) *ResponderService {
	if logger == nil {
		logger = slog.Default()
	}
	if norm == nil {
		norm = normalizer.New()
	}
	return &ResponderService{
		logger:     logger,
		store:      st,
		normalizer: norm,
		correlator: corr,
		latencies:  utils.NewLatencyTracker(1024),
	}
}

// SubmitSignal normalizes a raw observation, persists it, and enqueues it for
// correlation. Malformed input is rejected before anything is stored.
func (s *ResponderService) SubmitSignal(ctx context.Context, raw map[string]any, source models.SignalSource) (*models.Signal, error) {
	start := time.Now()

	sig, err := s.normalizer.Normalize(raw, source)
	if err != nil {
		metrics.ObserveSignal(string(source), metrics.OutcomeError)
		s.logger.Warn("signal rejected",
			slog.String("source", string(source)),
			slog.Any("error", err))
		return nil, err
	}

	if err := s.store.CreateSignal(ctx, sig); err != nil {
		metrics.ObserveSignal(string(sig.Source), metrics.OutcomeError)
		return nil, utils.NewAppError("STORE_ERROR", "failed to persist signal", err)
	}

	if err := s.correlator.Submit(sig); err != nil {
		metrics.ObserveSignal(string(sig.Source), metrics.OutcomeError)
		return nil, utils.NewAppError("CORRELATOR_ERROR", "failed to enqueue signal", err)
	}

	metrics.ObserveSignal(string(sig.Source), metrics.OutcomeSuccess)
	s.latencies.Observe(time.Since(start))
	s.logger.Debug("signal accepted",
		slog.String("signal_id", sig.ID),
		slog.String("source", string(sig.Source)),
		slog.Float64("severity", sig.Severity))
	return sig, nil
}

// GetIncident returns one incident with its decision and action history.
func (s *ResponderService) GetIncident(ctx context.Context, id string) (*models.IncidentDetail, error) {
	inc, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &models.IncidentDetail{Incident: inc}
	if detail.Decisions, err = s.store.ListDecisions(ctx, id); err != nil {
		return nil, err
	}
	if detail.Actions, err = s.store.ListActions(ctx, id); err != nil {
		return nil, err
	}
	if detail.Signals, err = s.store.ListSignalsByIncident(ctx, id); err != nil {
		return nil, err
	}
	return detail, nil
}

// ListIncidents returns incidents matching the filter, newest first.
func (s *ResponderService) ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error) {
	return s.store.ListIncidents(ctx, filter)
}

// CloseIncident acknowledges a resolved or failed incident.
func (s *ResponderService) CloseIncident(ctx context.Context, id string) error {
	err := s.correlator.Acknowledge(ctx, id)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Warn("close refused", slog.String("incident_id", id), slog.Any("error", err))
	}
	return err
}

// IntakeP99 reports the 99th percentile signal intake latency.
func (s *ResponderService) IntakeP99() time.Duration {
	return s.latencies.Percentile(0.99)
}
