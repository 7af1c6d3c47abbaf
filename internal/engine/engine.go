// Package engine hosts the analysis engine pool and the fusion rule that
// combines partial verdicts into a single decision.
package engine

import (
	"context"

	"github.com/opsignal/responder/internal/models"
)

// Kind enumerates the engine variants registered in the pool. Adding an
// engine means adding a variant here; fusion logic never changes.
type Kind string

const (
	KindRuleBased Kind = "rule-based"
	KindPattern   Kind = "pattern-matching"
	KindForecast  Kind = "forecasting"
	KindPlatform  Kind = "platform"
)

// Priority orders engine kinds for fusion tie-breaking. A domain-specific
// engine's explanation is preferred even when a generic engine scores the
// same confidence.
func Priority(k Kind) int {
	switch k {
	case KindPlatform:
		return 4
	case KindPattern:
		return 3
	case KindForecast:
		return 2
	case KindRuleBased:
		return 1
	}
	return 0
}

// PartialVerdict is one engine's independent assessment of an incident.
type PartialVerdict struct {
	Engine           Kind
	RootCause        string
	Confidence       float64 // in [0,1]
	Rationale        string
	SuggestedActions []models.SuggestedAction
	RelatedIncidents []string
}

// Engine is the capability every scorer implements. Analyze returns
// models.ErrEngineUnavailable when the engine cannot evaluate this incident
// at all; the pool maps deadline overruns to models.ErrEngineTimeout.
type Engine interface {
	Kind() Kind
	Analyze(ctx context.Context, incident *models.Incident, signals []*models.Signal) (PartialVerdict, error)
}
