package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opsignal/responder/internal/models"
)

// TrackerAdapter files tickets in the issue tracker.
type TrackerAdapter struct {
	http    *httpClient
	project string
}

// NewTrackerAdapter constructs a tracker adapter.
func NewTrackerAdapter(baseURL, token string, timeout time.Duration) *TrackerAdapter {
	return &TrackerAdapter{http: newHTTPClient(baseURL, token, timeout), project: "OPS"}
}

func (a *TrackerAdapter) Execute(ctx context.Context, intent Intent) (map[string]any, error) {
	if intent.Type != models.ActionTicketCreate {
		return nil, models.NewPermanentActionError("tracker", fmt.Errorf("unsupported action type %s", intent.Type))
	}

	payload := map[string]any{
		"project":     a.project,
		"summary":     ticketSummary(intent),
		"description": ticketDescription(intent),
		"priority":    severityToPriority(intent.Incident.Severity),
		"labels":      []string{"auto-triage", string(intent.Incident.Source)},
	}

	var resp struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}
	if err := a.http.postJSON(ctx, "tracker", "/rest/api/2/issue", payload, &resp); err != nil {
		return nil, err
	}
	return map[string]any{"ticket_key": resp.Key, "ticket_url": resp.URL}, nil
}

func ticketSummary(intent Intent) string {
	title := intent.Incident.Title
	if title == "" {
		title = intent.Description
	}
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(intent.Incident.Severity)), title)
}

func ticketDescription(intent Intent) string {
	var b strings.Builder
	b.WriteString(intent.Incident.Description)
	if intent.Decision != nil {
		fmt.Fprintf(&b, "\n\nRoot cause: %s\nConfidence: %.0f%%",
			intent.Decision.RootCause, intent.Decision.Confidence*100)
		if len(intent.Decision.SuggestedActions) > 0 {
			b.WriteString("\n\nSuggested next steps:")
			for _, action := range intent.Decision.SuggestedActions {
				fmt.Fprintf(&b, "\n- %s: %s", action.Type, action.Description)
			}
		}
	}
	fmt.Fprintf(&b, "\n\nIncident: %s", intent.IncidentID)
	return b.String()
}

func severityToPriority(sev models.Severity) string {
	switch sev {
	case models.SeverityCritical:
		return "Highest"
	case models.SeverityHigh:
		return "High"
	case models.SeverityMedium:
		return "Medium"
	default:
		return "Low"
	}
}
