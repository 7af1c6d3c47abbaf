package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opsignal/responder/internal/models"
)

// ReviewAdapter posts comments and labels on the code-review platform. The
// target carries the PR or issue reference ("pr-123", "issue-42").
type ReviewAdapter struct {
	http *httpClient
	repo string
}

// NewReviewAdapter constructs a review adapter for the configured repository.
func NewReviewAdapter(baseURL, token, repo string, timeout time.Duration) *ReviewAdapter {
	return &ReviewAdapter{http: newHTTPClient(baseURL, token, timeout), repo: repo}
}

func (a *ReviewAdapter) Execute(ctx context.Context, intent Intent) (map[string]any, error) {
	number, err := parseReviewTarget(intent.Target)
	if err != nil {
		return nil, models.NewPermanentActionError("review", err)
	}

	switch intent.Type {
	case models.ActionComment:
		payload := map[string]any{"body": reviewComment(intent)}
		var resp struct {
			ID int64 `json:"id"`
		}
		endpoint := fmt.Sprintf("/repos/%s/issues/%d/comments", a.repo, number)
		if err := a.http.postJSON(ctx, "review", endpoint, payload, &resp); err != nil {
			return nil, err
		}
		return map[string]any{"comment_id": resp.ID}, nil

	case models.ActionLabel:
		label := intent.Description
		if label == "" {
			label = "auto-triaged"
		}
		payload := map[string]any{"labels": []string{label}}
		endpoint := fmt.Sprintf("/repos/%s/issues/%d/labels", a.repo, number)
		if err := a.http.postJSON(ctx, "review", endpoint, payload, nil); err != nil {
			return nil, err
		}
		return map[string]any{"label": label}, nil
	}
	return nil, models.NewPermanentActionError("review", fmt.Errorf("unsupported action type %s", intent.Type))
}

func parseReviewTarget(target string) (int, error) {
	for _, prefix := range []string{"pr-", "issue-"} {
		if rest, ok := strings.CutPrefix(target, prefix); ok {
			var number int
			if _, err := fmt.Sscanf(rest, "%d", &number); err != nil {
				return 0, fmt.Errorf("bad review target %q: %w", target, err)
			}
			return number, nil
		}
	}
	return 0, fmt.Errorf("review target %q has no pr/issue reference", target)
}

func reviewComment(intent Intent) string {
	var b strings.Builder
	b.WriteString("**Automated incident analysis**\n\n")
	fmt.Fprintf(&b, "%s\n", intent.Incident.Description)
	if intent.Decision != nil {
		fmt.Fprintf(&b, "\n**Root cause:** %s\n**Confidence:** %.0f%%\n",
			intent.Decision.RootCause, intent.Decision.Confidence*100)
	}
	fmt.Fprintf(&b, "\n_Incident %s_", intent.IncidentID)
	return b.String()
}
