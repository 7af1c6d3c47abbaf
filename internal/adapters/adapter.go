// Package adapters holds the outbound side of the pipeline: one adapter per
// external target system. The dispatcher depends only on the Adapter
// capability, never on a concrete implementation.
package adapters

import (
	"context"

	"github.com/opsignal/responder/internal/models"
)

// Intent is a proposed side effect derived from a decision, not yet executed.
type Intent struct {
	IncidentID  string
	Type        models.ActionType
	Target      string
	Description string
	Incident    *models.Incident
	Decision    *models.Decision
}

// Adapter executes one action intent against an external system. Failures
// are classified through models.ActionError: transient failures are retried
// by the dispatcher, permanent ones are recorded immediately.
type Adapter interface {
	Execute(ctx context.Context, intent Intent) (map[string]any, error)
}

// Registry maps action types onto the adapter serving them.
type Registry map[models.ActionType]Adapter

// For returns the adapter responsible for the action type, or nil.
func (r Registry) For(t models.ActionType) Adapter {
	return r[t]
}
