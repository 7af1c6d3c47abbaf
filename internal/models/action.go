package models

import "time"

// ActionType enumerates the side effects the dispatcher can execute.
type ActionType string

const (
	ActionComment      ActionType = "comment"
	ActionLabel        ActionType = "label"
	ActionTicketCreate ActionType = "ticket-create"
	ActionNotify       ActionType = "notify"
	ActionRollback     ActionType = "rollback"
	ActionConfigFix    ActionType = "config-fix"
)

// ActionStatus tracks execution state of a dispatched action.
type ActionStatus string

const (
	ActionPending ActionStatus = "pending"
	ActionSuccess ActionStatus = "success"
	ActionFailed  ActionStatus = "failed"
)

// Action is one externally-dispatched side effect. At most one non-failed
// action exists per (incident, type, target); the dispatcher enforces this
// against the action log before executing.
type Action struct {
	ID          string         `json:"id"`
	IncidentID  string         `json:"incident_id"`
	Type        ActionType     `json:"type"`
	Target      string         `json:"target"`
	Description string         `json:"description"`
	Status      ActionStatus   `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	ExecutedAt  time.Time      `json:"executed_at"`
}

// Key returns the de-duplication key for this action.
func (a *Action) Key() string {
	return string(a.Type) + "|" + a.Target
}
