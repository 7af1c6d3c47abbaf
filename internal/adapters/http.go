package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opsignal/responder/internal/models"
)

// httpClient is the shared JSON-over-HTTP plumbing for all outbound adapters.
type httpClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func newHTTPClient(baseURL, token string, timeout time.Duration) *httpClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &httpClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// postJSON sends the payload and decodes the response. Errors are classified:
// transport failures and 5xx/429 responses are transient, other non-2xx
// statuses are permanent.
func (c *httpClient) postJSON(ctx context.Context, op, endpoint string, payload any, out any) error {
	if c.baseURL == "" {
		return models.NewPermanentActionError(op, fmt.Errorf("adapter base URL not configured"))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.NewPermanentActionError(op, fmt.Errorf("marshal payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return models.NewPermanentActionError(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return models.NewTransientActionError(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return models.NewTransientActionError(op, fmt.Errorf("target returned %s", resp.Status))
	default:
		return models.NewPermanentActionError(op, fmt.Errorf("target returned %s", resp.Status))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return models.NewPermanentActionError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
