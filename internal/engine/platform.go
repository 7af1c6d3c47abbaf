package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/opsignal/responder/internal/models"
)

// platformDiagnosis maps CI/CD event types onto platform-specific root causes
// and remediations.
var platformDiagnoses = map[string]struct {
	cause      string
	confidence float64
	actions    []models.ActionType
}{
	"deployment_failed": {
		cause:      "Deployment failed: most recent promotion introduced a breaking change",
		confidence: 0.9,
		actions:    []models.ActionType{models.ActionRollback, models.ActionNotify, models.ActionTicketCreate},
	},
	"pipeline_failed": {
		cause:      "Pipeline failure in promotion flow; validation or orchestration error",
		confidence: 0.85,
		actions:    []models.ActionType{models.ActionNotify, models.ActionTicketCreate},
	},
	"build_failed": {
		cause:      "Build failure: compilation or packaging error in the changeset",
		confidence: 0.85,
		actions:    []models.ActionType{models.ActionComment, models.ActionTicketCreate},
	},
	"test_failed": {
		cause:      "Platform test failure against the promoted metadata",
		confidence: 0.8,
		actions:    []models.ActionType{models.ActionComment, models.ActionLabel},
	},
	"rollback_started": {
		cause:      "Rollback already in flight; prior promotion is the trigger",
		confidence: 0.75,
		actions:    []models.ActionType{models.ActionNotify},
	},
}

// PlatformEngine is the CI/CD-platform-specific scorer. It only understands
// pipeline and test-runner incidents and reports itself unavailable for
// anything else, which keeps its high fusion weight honest.
type PlatformEngine struct{}

// NewPlatformEngine constructs a PlatformEngine.
func NewPlatformEngine() *PlatformEngine {
	return &PlatformEngine{}
}

func (e *PlatformEngine) Kind() Kind {
	return KindPlatform
}

func (e *PlatformEngine) Analyze(ctx context.Context, incident *models.Incident, signals []*models.Signal) (PartialVerdict, error) {
	if incident.Source != models.SourceCIPipeline && incident.Source != models.SourceTestRunner {
		return PartialVerdict{}, fmt.Errorf("source %s outside platform scope: %w", incident.Source, models.ErrEngineUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return PartialVerdict{}, err
	}

	// Use the most severe platform signal as the diagnosis anchor.
	var anchor *models.Signal
	for _, sig := range signals {
		if sig.Source != models.SourceCIPipeline && sig.Source != models.SourceTestRunner {
			continue
		}
		if anchor == nil || sig.Severity > anchor.Severity {
			anchor = sig
		}
	}
	if anchor == nil {
		return PartialVerdict{}, fmt.Errorf("no platform signals: %w", models.ErrEngineUnavailable)
	}

	diag, ok := platformDiagnoses[strings.ToLower(anchor.EventType)]
	if !ok {
		return PartialVerdict{}, fmt.Errorf("event %s outside platform scope: %w", anchor.EventType, models.ErrEngineUnavailable)
	}

	confidence := diag.confidence
	// Repeated platform failures in one incident harden the diagnosis.
	if len(signals) >= 3 {
		confidence += 0.05
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	cause := diag.cause
	if msg, _ := anchor.RawData["error_message"].(string); msg != "" {
		cause += ": " + msg
	}

	verdict := PartialVerdict{
		Engine:     KindPlatform,
		RootCause:  cause,
		Confidence: confidence,
		Rationale:  fmt.Sprintf("platform diagnosis for %s (%d signals)", anchor.EventType, len(signals)),
	}
	for _, t := range diag.actions {
		verdict.SuggestedActions = append(verdict.SuggestedActions, models.SuggestedAction{
			Type:        t,
			Target:      actionTarget(t, incident, signals),
			Description: diag.cause,
		})
	}
	return verdict, nil
}
