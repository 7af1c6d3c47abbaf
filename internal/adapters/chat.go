package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/opsignal/responder/internal/models"
)

// ChatAdapter posts incident notifications to a chat webhook.
type ChatAdapter struct {
	http *httpClient
}

// NewChatAdapter constructs a chat adapter targeting the webhook URL.
func NewChatAdapter(webhookURL string, timeout time.Duration) *ChatAdapter {
	return &ChatAdapter{http: newHTTPClient(webhookURL, "", timeout)}
}

func (a *ChatAdapter) Execute(ctx context.Context, intent Intent) (map[string]any, error) {
	if intent.Type != models.ActionNotify {
		return nil, models.NewPermanentActionError("chat", fmt.Errorf("unsupported action type %s", intent.Type))
	}

	text := fmt.Sprintf("*Incident %s* (%s)\n%s", intent.IncidentID, intent.Incident.Severity, intent.Incident.Title)
	if intent.Decision != nil {
		text += fmt.Sprintf("\nRoot cause: %s (%.0f%% confidence)",
			intent.Decision.RootCause, intent.Decision.Confidence*100)
	}

	payload := map[string]any{
		"channel": intent.Target,
		"attachments": []map[string]any{
			{
				"color": severityColor(intent.Incident.Severity),
				"text":  text,
			},
		},
	}
	if err := a.http.postJSON(ctx, "chat", "", payload, nil); err != nil {
		return nil, err
	}
	return map[string]any{"channel": intent.Target}, nil
}

func severityColor(sev models.Severity) string {
	switch sev {
	case models.SeverityCritical:
		return "#ff0000"
	case models.SeverityHigh:
		return "#ff9900"
	case models.SeverityMedium:
		return "#ffcc00"
	default:
		return "#36a64f"
	}
}
