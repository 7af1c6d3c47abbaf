package models

import "time"

// SignalSource enumerates the systems a signal can originate from.
type SignalSource string

const (
	SourceTestRunner     SignalSource = "test-runner"
	SourceCIPipeline     SignalSource = "ci-pipeline"
	SourceVersionControl SignalSource = "version-control"
	SourceAuditTrail     SignalSource = "audit-trail"
)

// ValidSource reports whether the source is one of the known enum values.
func ValidSource(s SignalSource) bool {
	switch s {
	case SourceTestRunner, SourceCIPipeline, SourceVersionControl, SourceAuditTrail:
		return true
	}
	return false
}

// Signal is one normalized observation of an external event. Signals are
// immutable once created; only Processed and IncidentID are set later, exactly
// once, by the correlator.
type Signal struct {
	ID          string         `json:"id"`
	Source      SignalSource   `json:"source"`
	EventType   string         `json:"event_type"`
	Description string         `json:"description"`
	Severity    float64        `json:"severity"` // in [0,1]
	IsAnomaly   bool           `json:"is_anomaly"`
	RawData     map[string]any `json:"raw_data"`
	DetectedAt  time.Time      `json:"detected_at"`
	Processed   bool           `json:"processed"`
	IncidentID  string         `json:"incident_id,omitempty"`
}
