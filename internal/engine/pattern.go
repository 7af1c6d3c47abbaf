package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opsignal/responder/internal/models"
)

// failure categories and their trigger keywords, scanned against signal
// descriptions and event types.
var patternCategories = []struct {
	name     string
	cause    string
	keywords []string
	actions  []models.ActionType
}{
	{
		name:     "test_failure",
		cause:    "Recurring test failures pointing at a code regression",
		keywords: []string{"failed", "error", "exception", "timeout"},
		actions:  []models.ActionType{models.ActionComment, models.ActionTicketCreate},
	},
	{
		name:     "deployment_issue",
		cause:    "Deployment pipeline failure",
		keywords: []string{"deployment failed", "build failed", "rollback", "pipeline"},
		actions:  []models.ActionType{models.ActionNotify, models.ActionRollback},
	},
	{
		name:     "performance_degradation",
		cause:    "Performance degradation across recent changes",
		keywords: []string{"slow", "timeout", "high cpu", "memory leak", "latency"},
		actions:  []models.ActionType{models.ActionNotify, models.ActionTicketCreate},
	},
	{
		name:     "security_issue",
		cause:    "Potential security-relevant activity",
		keywords: []string{"unauthorized", "permission denied", "security violation", "audit"},
		actions:  []models.ActionType{models.ActionNotify, models.ActionTicketCreate},
	},
}

// PatternEngine aggregates keyword-category frequencies across an incident's
// signals and diagnoses the dominant failure category.
type PatternEngine struct{}

// NewPatternEngine constructs a PatternEngine.
func NewPatternEngine() *PatternEngine {
	return &PatternEngine{}
}

func (e *PatternEngine) Kind() Kind {
	return KindPattern
}

// Analyze counts category hits per signal and derives confidence from how
// dominant and widespread the leading category is.
func (e *PatternEngine) Analyze(ctx context.Context, incident *models.Incident, signals []*models.Signal) (PartialVerdict, error) {
	if len(signals) == 0 {
		return PartialVerdict{}, fmt.Errorf("no signals to match: %w", models.ErrEngineUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return PartialVerdict{}, err
	}

	hits := make(map[string]int)
	for _, sig := range signals {
		text := strings.ToLower(sig.Description + " " + sig.EventType)
		for _, cat := range patternCategories {
			for _, kw := range cat.keywords {
				if strings.Contains(text, kw) {
					hits[cat.name]++
					break
				}
			}
		}
	}
	if len(hits) == 0 {
		return PartialVerdict{}, fmt.Errorf("no category matched: %w", models.ErrEngineUnavailable)
	}

	names := make([]string, 0, len(hits))
	for name := range hits {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if hits[names[i]] != hits[names[j]] {
			return hits[names[i]] > hits[names[j]]
		}
		return names[i] < names[j]
	})
	leading := names[0]

	var category *struct {
		name     string
		cause    string
		keywords []string
		actions  []models.ActionType
	}
	for i := range patternCategories {
		if patternCategories[i].name == leading {
			category = &patternCategories[i]
			break
		}
	}

	// Coverage is the share of signals matching the leading category; repeat
	// occurrences push confidence up, capped below certainty.
	coverage := float64(hits[leading]) / float64(len(signals))
	confidence := 0.45 + 0.35*coverage
	if hits[leading] >= 3 {
		confidence += 0.1
	}
	if confidence > 0.9 {
		confidence = 0.9
	}

	verdict := PartialVerdict{
		Engine:     KindPattern,
		RootCause:  category.cause,
		Confidence: confidence,
		Rationale:  fmt.Sprintf("category %s matched %d/%d signals", leading, hits[leading], len(signals)),
	}
	for _, t := range category.actions {
		verdict.SuggestedActions = append(verdict.SuggestedActions, models.SuggestedAction{
			Type:        t,
			Target:      actionTarget(t, incident, signals),
			Description: category.cause,
		})
	}
	return verdict, nil
}
