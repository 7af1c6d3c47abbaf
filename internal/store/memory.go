package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/opsignal/responder/internal/models"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and local
// development; semantics match BoltStore, including the fingerprint index.
type MemoryStore struct {
	mu           sync.Mutex
	signals      map[string]models.Signal
	incidents    map[string]models.Incident
	decisions    map[string][]models.Decision
	actions      map[string][]models.Action
	fingerprints map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signals:      make(map[string]models.Signal),
		incidents:    make(map[string]models.Incident),
		decisions:    make(map[string][]models.Decision),
		actions:      make(map[string][]models.Action),
		fingerprints: make(map[string]string),
	}
}

func (s *MemoryStore) CreateSignal(ctx context.Context, sig *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[sig.ID] = *sig
	return nil
}

func (s *MemoryStore) UpdateSignal(ctx context.Context, sig *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[sig.ID]; !ok {
		return fmt.Errorf("signal %s: %w", sig.ID, models.ErrNotFound)
	}
	s.signals[sig.ID] = *sig
	return nil
}

func (s *MemoryStore) GetSignal(ctx context.Context, id string) (*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return nil, fmt.Errorf("signal %s: %w", id, models.ErrNotFound)
	}
	return &sig, nil
}

func (s *MemoryStore) ListSignalsByIncident(ctx context.Context, incidentID string) ([]*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Signal
	for _, sig := range s.signals {
		if sig.IncidentID == incidentID {
			copied := sig
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (s *MemoryStore) CreateIncident(ctx context.Context, inc *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[inc.ID] = *inc
	if !models.TerminalStatus(inc.Status) {
		s.fingerprints[inc.Fingerprint] = inc.ID
	}
	return nil
}

func (s *MemoryStore) UpdateIncident(ctx context.Context, inc *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[inc.ID]; !ok {
		return fmt.Errorf("incident %s: %w", inc.ID, models.ErrNotFound)
	}
	s.incidents[inc.ID] = *inc
	if models.TerminalStatus(inc.Status) {
		if s.fingerprints[inc.Fingerprint] == inc.ID {
			delete(s.fingerprints, inc.Fingerprint)
		}
	} else {
		s.fingerprints[inc.Fingerprint] = inc.ID
	}
	return nil
}

func (s *MemoryStore) AddRelatedIncident(ctx context.Context, incidentID, relatedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return fmt.Errorf("incident %s: %w", incidentID, models.ErrNotFound)
	}
	inc.AddRelated(relatedID)
	s.incidents[incidentID] = inc
	return nil
}

func (s *MemoryStore) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", id, models.ErrNotFound)
	}
	return &inc, nil
}

func (s *MemoryStore) ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Incident
	for _, inc := range s.incidents {
		if !filter.Matches(&inc) {
			continue
		}
		copied := inc
		out = append(out, &copied)
	}
	// Newest first, id as tiebreaker for stable output.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) OpenIncidentByFingerprint(ctx context.Context, fingerprint string) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.fingerprints[fingerprint]
	if !ok {
		return nil, fmt.Errorf("fingerprint %s: %w", fingerprint, models.ErrNotFound)
	}
	inc, ok := s.incidents[id]
	if !ok || models.TerminalStatus(inc.Status) {
		return nil, fmt.Errorf("fingerprint %s: %w", fingerprint, models.ErrNotFound)
	}
	return &inc, nil
}

func (s *MemoryStore) AppendDecision(ctx context.Context, dec *models.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[dec.IncidentID] = append(s.decisions[dec.IncidentID], *dec)
	return nil
}

func (s *MemoryStore) ListDecisions(ctx context.Context, incidentID string) ([]*models.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Decision
	for i := range s.decisions[incidentID] {
		copied := s.decisions[incidentID][i]
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) AppendAction(ctx context.Context, act *models.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[act.IncidentID] = append(s.actions[act.IncidentID], *act)
	return nil
}

func (s *MemoryStore) UpdateAction(ctx context.Context, act *models.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.actions[act.IncidentID]
	for i := range list {
		if list[i].ID == act.ID {
			list[i] = *act
			return nil
		}
	}
	return fmt.Errorf("action %s: %w", act.ID, models.ErrNotFound)
}

func (s *MemoryStore) FindAction(ctx context.Context, incidentID string, actionType models.ActionType, target string) (*models.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var match *models.Action
	for i := range s.actions[incidentID] {
		act := s.actions[incidentID][i]
		if act.Type != actionType || act.Target != target {
			continue
		}
		if match == nil {
			match = &act
			continue
		}
		if match.Status == models.ActionFailed && act.Status != models.ActionFailed {
			match = &act
		} else if (match.Status == models.ActionFailed) == (act.Status == models.ActionFailed) &&
			act.ExecutedAt.After(match.ExecutedAt) {
			match = &act
		}
	}
	if match == nil {
		return nil, fmt.Errorf("action %s/%s/%s: %w", incidentID, actionType, target, models.ErrNotFound)
	}
	return match, nil
}

func (s *MemoryStore) ListActions(ctx context.Context, incidentID string) ([]*models.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Action
	for i := range s.actions[incidentID] {
		copied := s.actions[incidentID][i]
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
