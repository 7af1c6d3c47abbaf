// Package normalizer converts heterogeneous inbound events into uniform
// Signal records. It has no side effects beyond record construction; the raw
// payload is retained verbatim for audit and re-analysis.
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opsignal/responder/internal/models"
)

// severity keywords scanned in commit messages and PR titles.
var urgentCommitKeywords = []string{"hotfix", "urgent", "critical", "revert"}
var riskyCommitKeywords = []string{"fix", "bug", "workaround"}

// riskyAuditOperations lists audit-trail operations that always warrant a look.
var riskyAuditOperations = []string{
	"delete_user",
	"change_permission_set",
	"modify_profile",
	"disable_audit",
	"export_data",
}

// ciSeverity maps CI/CD event types onto the [0,1] scale.
var ciSeverity = map[string]float64{
	"deployment_failed": 0.9,
	"pipeline_failed":   0.8,
	"build_failed":      0.8,
	"test_failed":       0.7,
	"rollback_started":  0.7,
	"deployment_slow":   0.4,
}

// Normalizer builds Signals from raw events and tracks per-(source,event)
// severity baselines for the anomaly deviation check.
type Normalizer struct {
	baselines *baselineTracker
}

// New constructs a Normalizer.
func New() *Normalizer {
	return &Normalizer{baselines: newBaselineTracker(64)}
}

// Normalize validates the event and produces an immutable Signal. Required
// fields are source, event type, and a non-nil payload; anything less fails
// with ErrMalformedSignal.
func (n *Normalizer) Normalize(raw map[string]any, source models.SignalSource) (*models.Signal, error) {
	if !models.ValidSource(source) {
		return nil, fmt.Errorf("unknown source %q: %w", source, models.ErrMalformedSignal)
	}
	if raw == nil {
		return nil, fmt.Errorf("missing payload: %w", models.ErrMalformedSignal)
	}
	eventType, _ := raw["event_type"].(string)
	if eventType == "" {
		return nil, fmt.Errorf("missing event_type: %w", models.ErrMalformedSignal)
	}

	severity, description, anomaly := n.assess(source, eventType, raw)

	// A deviation from the historical baseline flags an anomaly even when the
	// source heuristic considered the event benign.
	if n.baselines.deviates(source, eventType, severity) {
		anomaly = true
	}
	n.baselines.observe(source, eventType, severity)

	return &models.Signal{
		ID:          uuid.NewString(),
		Source:      source,
		EventType:   eventType,
		Description: description,
		Severity:    clamp01(severity),
		IsAnomaly:   anomaly,
		RawData:     raw,
		DetectedAt:  time.Now().UTC(),
	}, nil
}

func (n *Normalizer) assess(source models.SignalSource, eventType string, raw map[string]any) (float64, string, bool) {
	switch source {
	case models.SourceTestRunner:
		return assessTestRunner(eventType, raw)
	case models.SourceCIPipeline:
		return assessCIPipeline(eventType, raw)
	case models.SourceVersionControl:
		return assessVersionControl(eventType, raw)
	case models.SourceAuditTrail:
		return assessAuditTrail(eventType, raw)
	}
	return 0, eventType, false
}

func assessTestRunner(eventType string, raw map[string]any) (float64, string, bool) {
	name, _ := raw["test_name"].(string)
	env, _ := raw["environment"].(string)
	description := fmt.Sprintf("Test %s event", eventType)
	if name != "" {
		description = fmt.Sprintf("Test %s: %s", eventType, name)
		if env != "" {
			description += " (" + env + ")"
		}
	}

	switch strings.ToLower(eventType) {
	case "test_failed", "suite_failed":
		sev := 0.7
		if msg, _ := raw["error_message"].(string); msg != "" {
			lower := strings.ToLower(msg)
			if strings.Contains(lower, "timeout") || strings.Contains(lower, "exception") {
				sev = 0.8
			}
			description += ": " + msg
		}
		return sev, description, true
	case "test_flaky":
		return 0.4, description, true
	case "test_passed":
		return 0.05, description, false
	}
	return 0.3, description, false
}

func assessCIPipeline(eventType string, raw map[string]any) (float64, string, bool) {
	description := fmt.Sprintf("Pipeline %s", strings.ReplaceAll(eventType, "_", " "))
	if msg, _ := raw["error_message"].(string); msg != "" {
		description += ": " + msg
	}
	if sev, ok := ciSeverity[strings.ToLower(eventType)]; ok {
		return sev, description, true
	}
	// Unknown pipeline events still get a watchful default.
	return 0.5, description, false
}

func assessVersionControl(eventType string, raw map[string]any) (float64, string, bool) {
	description := fmt.Sprintf("Git %s event", eventType)

	switch strings.ToLower(eventType) {
	case "push":
		commits, _ := raw["commits"].([]any)
		for _, c := range commits {
			commit, _ := c.(map[string]any)
			message, _ := commit["message"].(string)
			lower := strings.ToLower(message)
			for _, kw := range urgentCommitKeywords {
				if strings.Contains(lower, kw) {
					return 0.6, "Urgent commit detected: " + message, true
				}
			}
		}
	case "pull_request":
		pr, _ := raw["pull_request"].(map[string]any)
		title, _ := pr["title"].(string)
		lower := strings.ToLower(title)
		for _, kw := range riskyCommitKeywords {
			if strings.Contains(lower, kw) {
				return 0.5, "Bug fix PR detected: " + title, true
			}
		}
	case "hotfix_commit":
		message, _ := raw["commit_message"].(string)
		return 0.8, "Critical hotfix commit: " + message, true
	}
	return 0.1, description, false
}

func assessAuditTrail(eventType string, raw map[string]any) (float64, string, bool) {
	description := fmt.Sprintf("Audit %s", strings.ReplaceAll(eventType, "_", " "))
	op, _ := raw["operation"].(string)
	lower := strings.ToLower(op)
	for _, risky := range riskyAuditOperations {
		if lower == risky {
			sev := 0.6
			if risky == "delete_user" || risky == "disable_audit" {
				sev = 0.8
			}
			return sev, description + ": " + op, true
		}
	}
	if mapped := textualSeverity(raw); mapped > 0 {
		return mapped, description, mapped >= 0.7
	}
	return 0.2, description, false
}

// textualSeverity maps a low/medium/high/critical payload field onto the
// monotonic [0,1] scale.
func textualSeverity(raw map[string]any) float64 {
	label, _ := raw["severity"].(string)
	switch strings.ToLower(label) {
	case "low":
		return 0.2
	case "medium":
		return 0.5
	case "high":
		return 0.75
	case "critical":
		return 0.95
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
