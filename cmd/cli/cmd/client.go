package cmd

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"flowplane/pkg/api"

	json "github.com/goccy/go-json"
)

// FlowClient handles API calls to the flowplane controller.
type FlowClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewFlowClient creates a new client for the controller at baseURL.
func NewFlowClient(baseURL string) *FlowClient {
	return &FlowClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends body (when non-nil) as JSON and decodes a 2xx response into out
// (when non-nil).
func (c *FlowClient) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage extracts the error field of a standard error body, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(bytes.TrimSpace(body))
}

// CreateWorkflow sends POST /api/workflows.
func (c *FlowClient) CreateWorkflow(wf api.Workflow) (*api.Workflow, error) {
	var result api.Workflow
	if err := c.do(http.MethodPost, "/api/workflows", wf, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListWorkflows sends GET /api/workflows.
func (c *FlowClient) ListWorkflows() ([]api.Workflow, error) {
	var result []api.Workflow
	err := c.do(http.MethodGet, "/api/workflows", nil, &result)
	return result, err
}

// GetWorkflow sends GET /api/workflows/{id}.
func (c *FlowClient) GetWorkflow(id string) (*api.Workflow, error) {
	var result api.Workflow
	if err := c.do(http.MethodGet, "/api/workflows/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteWorkflow sends DELETE /api/workflows/{id}.
func (c *FlowClient) DeleteWorkflow(id string) error {
	return c.do(http.MethodDelete, "/api/workflows/"+url.PathEscape(id), nil, nil)
}

// Initiate sends POST /api/workflows/{id}/initiate.
func (c *FlowClient) Initiate(workflowID string, req api.InitiateRequest) (*api.MessageResponse, error) {
	var result api.MessageResponse
	if err := c.do(http.MethodPost, "/api/workflows/"+url.PathEscape(workflowID)+"/initiate", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Decide sends POST /api/workflow-executors/{id}/approve or /reject.
func (c *FlowClient) Decide(executorID string, approve bool, req api.ApprovalRequest) (*api.MessageResponse, error) {
	verb := "reject"
	if approve {
		verb = "approve"
	}
	var result api.MessageResponse
	if err := c.do(http.MethodPost, "/api/workflow-executors/"+url.PathEscape(executorID)+"/"+verb, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PendingApprovals sends GET /api/workflow-executors/pending-approvals.
func (c *FlowClient) PendingApprovals() ([]api.PendingApprovalDetails, error) {
	var result []api.PendingApprovalDetails
	err := c.do(http.MethodGet, "/api/workflow-executors/pending-approvals", nil, &result)
	return result, err
}

// Summary sends GET /api/workflow-executors/workflow-summary.
func (c *FlowClient) Summary() (*api.WorkflowInstanceSummary, error) {
	var result api.WorkflowInstanceSummary
	if err := c.do(http.MethodGet, "/api/workflow-executors/workflow-summary", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// InstanceDetails sends GET /api/workflow-executors/details-by-service/{serviceId}.
func (c *FlowClient) InstanceDetails(serviceID string) (*api.WorkflowInstanceDetails, error) {
	var result api.WorkflowInstanceDetails
	if err := c.do(http.MethodGet, "/api/workflow-executors/details-by-service/"+url.PathEscape(serviceID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Executors sends GET /api/workflow-executors/services/{serviceId}.
func (c *FlowClient) Executors(serviceID string) ([]api.Executor, error) {
	var result []api.Executor
	err := c.do(http.MethodGet, "/api/workflow-executors/services/"+url.PathEscape(serviceID), nil, &result)
	return result, err
}
