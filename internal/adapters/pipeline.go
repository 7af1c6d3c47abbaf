package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/opsignal/responder/internal/models"
)

// PipelineAdapter triggers remediation flows on the CI/CD platform: rollbacks
// and configuration fixes. The target names the environment or pipeline.
type PipelineAdapter struct {
	http *httpClient
}

// NewPipelineAdapter constructs a pipeline adapter.
func NewPipelineAdapter(baseURL, token string, timeout time.Duration) *PipelineAdapter {
	return &PipelineAdapter{http: newHTTPClient(baseURL, token, timeout)}
}

func (a *PipelineAdapter) Execute(ctx context.Context, intent Intent) (map[string]any, error) {
	var endpoint string
	switch intent.Type {
	case models.ActionRollback:
		endpoint = "/api/v1/rollbacks"
	case models.ActionConfigFix:
		endpoint = "/api/v1/config-fixes"
	default:
		return nil, models.NewPermanentActionError("pipeline", fmt.Errorf("unsupported action type %s", intent.Type))
	}

	payload := map[string]any{
		"environment": intent.Target,
		"incident_id": intent.IncidentID,
		"reason":      intent.Description,
	}
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := a.http.postJSON(ctx, "pipeline", endpoint, payload, &resp); err != nil {
		return nil, err
	}
	return map[string]any{"job_id": resp.JobID, "environment": intent.Target}, nil
}
