package engine

import (
	"fmt"

	"github.com/opsignal/responder/internal/models"
)

// actionTarget derives the external target for an action type from the
// incident's signals. The target feeds the dispatch de-duplication key, so
// derivation must be stable across re-analysis of the same incident.
func actionTarget(t models.ActionType, incident *models.Incident, signals []*models.Signal) string {
	switch t {
	case models.ActionComment, models.ActionLabel:
		if ref := reviewRef(signals); ref != "" {
			return ref
		}
		return incident.ID
	case models.ActionTicketCreate:
		// One ticket per incident.
		return incident.ID
	case models.ActionNotify:
		return "ops"
	case models.ActionRollback, models.ActionConfigFix:
		if env := environmentRef(signals); env != "" {
			return env
		}
		return incident.ID
	}
	return incident.ID
}

// reviewRef extracts a pull-request or issue reference from signal payloads.
func reviewRef(signals []*models.Signal) string {
	for _, sig := range signals {
		if pr, ok := numberField(sig.RawData, "pr_number"); ok {
			return fmt.Sprintf("pr-%d", pr)
		}
		if pr, ok := sig.RawData["pull_request"].(map[string]any); ok {
			if num, ok := numberField(pr, "number"); ok {
				return fmt.Sprintf("pr-%d", num)
			}
		}
		if issue, ok := numberField(sig.RawData, "issue_number"); ok {
			return fmt.Sprintf("issue-%d", issue)
		}
	}
	return ""
}

func environmentRef(signals []*models.Signal) string {
	for _, sig := range signals {
		if env, ok := sig.RawData["environment"].(string); ok && env != "" {
			return env
		}
		if env, ok := sig.RawData["pipeline"].(string); ok && env != "" {
			return env
		}
	}
	return ""
}

// numberField reads an integer-valued payload field. JSON decoding produces
// float64 for numbers, so both forms are accepted.
func numberField(raw map[string]any, key string) (int, bool) {
	switch v := raw[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}
