// Package store persists signals, incidents, decisions, and actions. The
// interface is the only coupling point: the correlator owns incident fields,
// the fusion path appends decisions, the dispatcher appends actions.
package store

import (
	"context"

	"github.com/opsignal/responder/internal/models"
)

// Store is the durable record of all pipeline entities. Implementations must
// provide atomic create/update per entity and the open-incident-by-fingerprint
// query the correlator depends on.
type Store interface {
	// Signals are append-only; UpdateSignal exists solely for the
	// correlator's one-time processed/incident-reference transition.
	CreateSignal(ctx context.Context, sig *models.Signal) error
	UpdateSignal(ctx context.Context, sig *models.Signal) error
	GetSignal(ctx context.Context, id string) (*models.Signal, error)
	ListSignalsByIncident(ctx context.Context, incidentID string) ([]*models.Signal, error)

	CreateIncident(ctx context.Context, inc *models.Incident) error
	UpdateIncident(ctx context.Context, inc *models.Incident) error
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error)
	// OpenIncidentByFingerprint returns the open or in-progress incident for
	// the fingerprint, or models.ErrNotFound.
	OpenIncidentByFingerprint(ctx context.Context, fingerprint string) (*models.Incident, error)
	// AddRelatedIncident records relatedID on the incident's related list as
	// a single atomic update, touching no other field. Callers use it to
	// mirror links onto incidents they do not own.
	AddRelatedIncident(ctx context.Context, incidentID, relatedID string) error

	AppendDecision(ctx context.Context, dec *models.Decision) error
	ListDecisions(ctx context.Context, incidentID string) ([]*models.Decision, error)

	AppendAction(ctx context.Context, act *models.Action) error
	UpdateAction(ctx context.Context, act *models.Action) error
	// FindAction returns the most recent action for the de-duplication key,
	// preferring non-failed records, or models.ErrNotFound.
	FindAction(ctx context.Context, incidentID string, actionType models.ActionType, target string) (*models.Action, error)
	ListActions(ctx context.Context, incidentID string) ([]*models.Action, error)

	Close() error
}
