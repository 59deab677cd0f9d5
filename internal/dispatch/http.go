package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"flowplane/internal/logger"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const maxResponseBody = 1 << 20

// HTTPDispatcher delegates a node to a remote endpoint. The node's "url"
// parameter overrides the configured endpoint.
type HTTPDispatcher struct {
	url    string
	client *http.Client
}

type httpTaskRequest struct {
	ServiceID  string            `json:"serviceId"`
	Parameters map[string]string `json:"parameters"`
}

type httpTaskResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// NewHTTPDispatcher creates a dispatcher posting to url with the given
// per-request timeout.
func NewHTTPDispatcher(url string, timeout time.Duration) *HTTPDispatcher {
	return &HTTPDispatcher{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Execute POSTs the service id and parameters. A non-2xx status or a JSON
// body with "success": false counts as a failed task.
func (d *HTTPDispatcher) Execute(ctx context.Context, serviceID string, params map[string]string) (bool, error) {
	url := d.url
	if u := params[ParamURL]; u != "" {
		url = u
	}
	if url == "" {
		return false, errors.New("no url configured for http dispatcher")
	}

	if params == nil {
		params = map[string]string{}
	}
	body, err := json.Marshal(httpTaskRequest{ServiceID: serviceID, Parameters: params})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if reqID := logger.RequestIDFromContext(ctx); reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := d.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("call %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}

	var out httpTaskResponse
	if len(bytes.TrimSpace(data)) > 0 && json.Unmarshal(data, &out) == nil && out.Success != nil {
		return *out.Success, nil
	}
	return true, nil
}
