package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// apiClient reads state from a running agent.
type apiClient struct {
	base          string
	correlationID string
	http          *http.Client
}

func newAPIClient(addr, correlationID string) *apiClient {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &apiClient{
		base:          strings.TrimRight(addr, "/"),
		correlationID: correlationID,
		http:          &http.Client{Timeout: 10 * time.Second},
	}
}

// getJSON decodes the response body into v and returns the status code.
// Status codes other than 200 and 503 are errors.
func (c *apiClient) getJSON(ctx context.Context, path string, v any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return 0, err
	}
	if c.correlationID != "" {
		req.Header.Set("X-Correlation-ID", c.correlationID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("agent not reachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return resp.StatusCode, fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}
