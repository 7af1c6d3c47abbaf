package models

import "time"

// Severity captures impact levels, ordered from low to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityRank returns the position of a severity in the low..critical order.
// Unknown severities rank below low.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// SeverityFromScore maps a [0,1] score onto the incident severity scale.
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 0.9:
		return SeverityCritical
	case score >= 0.7:
		return SeverityHigh
	case score >= 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IncidentStatus is the incident lifecycle state machine.
type IncidentStatus string

const (
	StatusOpen       IncidentStatus = "open"
	StatusInProgress IncidentStatus = "in_progress"
	StatusResolved   IncidentStatus = "resolved"
	StatusFailed     IncidentStatus = "failed"
	StatusClosed     IncidentStatus = "closed"
)

// StatusRank orders statuses so that transitions can be checked for
// monotonicity. Resolved and failed share a rank: both are terminal outcomes
// awaiting acknowledgement.
func StatusRank(s IncidentStatus) int {
	switch s {
	case StatusOpen:
		return 0
	case StatusInProgress:
		return 1
	case StatusResolved, StatusFailed:
		return 2
	case StatusClosed:
		return 3
	}
	return -1
}

// CanTransition reports whether moving from one status to another is a legal
// state machine edge. No edge is ever reversed; reopening requires a new
// incident linked via related incidents.
func CanTransition(from, to IncidentStatus) bool {
	switch from {
	case StatusOpen:
		return to == StatusInProgress || to == StatusFailed
	case StatusInProgress:
		return to == StatusResolved || to == StatusFailed
	case StatusResolved, StatusFailed:
		return to == StatusClosed
	}
	return false
}

// TerminalStatus reports whether the status ends active correlation. New
// signals for the same fingerprint start a fresh incident afterwards.
func TerminalStatus(s IncidentStatus) bool {
	return s == StatusResolved || s == StatusFailed || s == StatusClosed
}

// Incident is a correlated unit of work grouping signals that share a
// fingerprint within the dedup window.
type Incident struct {
	ID               string            `json:"id"`
	Fingerprint      string            `json:"fingerprint"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Severity         Severity          `json:"severity"`
	Status           IncidentStatus    `json:"status"`
	Source           SignalSource      `json:"source"`
	RawData          map[string]any    `json:"raw_data,omitempty"`
	DetectedAt       time.Time         `json:"detected_at"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
	RootCause        string            `json:"root_cause,omitempty"`
	ConfidenceScore  *float64          `json:"confidence_score,omitempty"`
	SuggestedActions []SuggestedAction `json:"suggested_actions,omitempty"`
	ActionsTaken     []string          `json:"actions_taken,omitempty"` // action ids, append-only
	Tags             []string          `json:"tags,omitempty"`
	Assignee         string            `json:"assignee,omitempty"`
	RelatedIncidents []string          `json:"related_incidents,omitempty"`
	SignalCount      int               `json:"signal_count"`
	AnalysisAttempts int               `json:"analysis_attempts"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// HasTag reports whether the incident carries the given tag.
func (i *Incident) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends a tag, preserving set semantics.
func (i *Incident) AddTag(tag string) {
	if tag == "" || i.HasTag(tag) {
		return
	}
	i.Tags = append(i.Tags, tag)
}

// AddRelated records a related incident reference, preserving set semantics.
func (i *Incident) AddRelated(id string) {
	if id == "" || id == i.ID {
		return
	}
	for _, r := range i.RelatedIncidents {
		if r == id {
			return
		}
	}
	i.RelatedIncidents = append(i.RelatedIncidents, id)
}

// IncidentFilter selects incidents for listing. Zero values mean "any".
type IncidentFilter struct {
	Status   IncidentStatus
	Severity Severity
	Source   SignalSource
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Matches reports whether the incident satisfies every set filter field.
func (f IncidentFilter) Matches(inc *Incident) bool {
	if f.Status != "" && inc.Status != f.Status {
		return false
	}
	if f.Severity != "" && inc.Severity != f.Severity {
		return false
	}
	if f.Source != "" && inc.Source != f.Source {
		return false
	}
	if !f.Since.IsZero() && inc.DetectedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && inc.DetectedAt.After(f.Until) {
		return false
	}
	return true
}

// IncidentDetail bundles an incident with its full decision, action, and
// signal history for read endpoints.
type IncidentDetail struct {
	Incident  *Incident   `json:"incident"`
	Decisions []*Decision `json:"decisions,omitempty"`
	Actions   []*Action   `json:"actions,omitempty"`
	Signals   []*Signal   `json:"signals,omitempty"`
}
