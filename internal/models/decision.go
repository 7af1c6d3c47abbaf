package models

import "time"

// SuggestedAction is a proposed side effect derived from analysis, not yet
// executed. Type and Target together form the dispatch de-duplication key.
type SuggestedAction struct {
	Type        ActionType `json:"type"`
	Target      string     `json:"target"`
	Description string     `json:"description"`
}

// Key returns the de-duplication key shared with the action log.
func (a SuggestedAction) Key() string {
	return string(a.Type) + "|" + a.Target
}

// Decision is one fused verdict for an incident. Decisions are append-only;
// an incident may accumulate several over its life, and only the latest is
// authoritative for suggested actions.
type Decision struct {
	ID               string            `json:"id"`
	IncidentID       string            `json:"incident_id"`
	RootCause        string            `json:"root_cause"`
	Confidence       float64           `json:"confidence"` // in [0,1]
	SuggestedActions []SuggestedAction `json:"suggested_actions"`
	RelatedIncidents []string          `json:"related_incidents,omitempty"`
	EngineCount      int               `json:"engine_count"`
	AnalysisDuration time.Duration     `json:"analysis_duration"`
	CreatedAt        time.Time         `json:"created_at"`
}
