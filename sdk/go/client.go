package gatelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Gateline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Assessment represents the API assessment model.
type Assessment struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id"`
	Name        string `json:"name"`
	Phase       int    `json:"phase,omitempty"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// SignoffProcess is the validation gate state for an assessment.
type SignoffProcess struct {
	ID              string `json:"id"`
	AssessmentID    string `json:"assessment_id"`
	Stage           string `json:"stage"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	Cycle           int    `json:"cycle"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// ValidationRecord is one role's live decision.
type ValidationRecord struct {
	ID          string `json:"id"`
	ProcessID   string `json:"process_id"`
	Role        string `json:"role"`
	ValidatorID string `json:"validator_id"`
	Decision    string `json:"decision"`
	Comment     string `json:"comment,omitempty"`
	SubmittedAt string `json:"submitted_at"`
}

// SubmitResult is the outcome of one validation submission.
type SubmitResult struct {
	Stage     string           `json:"stage"`
	Completed bool             `json:"completed"`
	Record    ValidationRecord `json:"record"`
}

// SignoffView bundles the process with its records.
type SignoffView struct {
	Process SignoffProcess     `json:"process"`
	Records []ValidationRecord `json:"records"`
	Pending []string           `json:"pending_roles"`
}

// Snapshot is snapshot metadata; payload is fetched per-version.
type Snapshot struct {
	AssessmentID string         `json:"assessment_id"`
	Version      int            `json:"version"`
	Reason       string         `json:"reason,omitempty"`
	Fingerprint  string         `json:"fingerprint"`
	Statistics   map[string]int `json:"statistics"`
	CreatedBy    string         `json:"created_by"`
	CreatedAt    string         `json:"created_at"`
}

// VerifyResult reports a fingerprint check.
type VerifyResult struct {
	AssessmentID string `json:"assessment_id"`
	Version      int    `json:"version"`
	Fingerprint  string `json:"fingerprint"`
	Valid        bool   `json:"valid"`
}

// UnlockedEntity names one entity a change request unlocks.
type UnlockedEntity struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Reason     string `json:"reason,omitempty"`
}

// ChangeRequest carries the risk frozen at creation.
type ChangeRequest struct {
	ID              string           `json:"id"`
	AssessmentID    string           `json:"assessment_id"`
	BaselineVersion int              `json:"baseline_version"`
	Title           string           `json:"title"`
	Reason          string           `json:"reason,omitempty"`
	Status          string           `json:"status"`
	RiskLevel       string           `json:"risk_level"`
	Breakdown       map[string]int   `json:"breakdown"`
	Unlocked        []UnlockedEntity `json:"unlocked"`
	CreatedBy       string           `json:"created_by"`
	CreatedAt       string           `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID           int64          `json:"id"`
	TS           string         `json:"ts"`
	Type         string         `json:"type"`
	AssessmentID string         `json:"assessment_id,omitempty"`
	EntityKind   string         `json:"entity_kind"`
	EntityID     string         `json:"entity_id,omitempty"`
	ActorID      string         `json:"actor_id"`
	Payload      map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateAssessment creates an assessment with its sign-off process.
func (c *Client) CreateAssessment(ctx context.Context, clientID, name string, phase int) (Assessment, error) {
	body := map[string]any{
		"client_id": clientID,
		"name":      name,
	}
	if phase > 0 {
		body["phase"] = phase
	}
	var resp Assessment
	err := c.do(ctx, http.MethodPost, "v0/assessments", body, &resp)
	return resp, err
}

// GetAssessment fetches an assessment by id.
func (c *Client) GetAssessment(ctx context.Context, id string) (Assessment, error) {
	var resp Assessment
	err := c.do(ctx, http.MethodGet, c.assessmentPath(id, ""), nil, &resp)
	return resp, err
}

// SubmitValidation submits one role's decision.
func (c *Client) SubmitValidation(ctx context.Context, assessmentID, role, decision, validatorID, comment string) (SubmitResult, error) {
	body := map[string]any{
		"role":         role,
		"decision":     decision,
		"validator_id": validatorID,
		"comment":      comment,
	}
	var resp SubmitResult
	err := c.do(ctx, http.MethodPost, c.assessmentPath(assessmentID, "signoff/validations"), body, &resp)
	return resp, err
}

// GetSignoff returns the sign-off process with its records.
func (c *Client) GetSignoff(ctx context.Context, assessmentID string) (SignoffView, error) {
	var resp SignoffView
	err := c.do(ctx, http.MethodGet, c.assessmentPath(assessmentID, "signoff"), nil, &resp)
	return resp, err
}

// RestartSignoff restarts a rejected sign-off from the beginning.
func (c *Client) RestartSignoff(ctx context.Context, assessmentID string) (SignoffProcess, error) {
	var resp SignoffProcess
	err := c.do(ctx, http.MethodPost, c.assessmentPath(assessmentID, "signoff/restart"), nil, &resp)
	return resp, err
}

// CreateSnapshot captures a fingerprinted snapshot.
func (c *Client) CreateSnapshot(ctx context.Context, assessmentID, reason string) (Snapshot, error) {
	body := map[string]any{"reason": reason}
	var resp Snapshot
	err := c.do(ctx, http.MethodPost, c.assessmentPath(assessmentID, "snapshots"), body, &resp)
	return resp, err
}

// ListSnapshots lists snapshot metadata.
func (c *Client) ListSnapshots(ctx context.Context, assessmentID string) ([]Snapshot, error) {
	var resp []Snapshot
	err := c.do(ctx, http.MethodGet, c.assessmentPath(assessmentID, "snapshots"), nil, &resp)
	return resp, err
}

// VerifySnapshot recomputes the fingerprint of a stored snapshot.
func (c *Client) VerifySnapshot(ctx context.Context, assessmentID string, version int) (VerifyResult, error) {
	var resp VerifyResult
	endpoint := c.assessmentPath(assessmentID, fmt.Sprintf("snapshots/%d/verify", version))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateChangeRequest opens a change request against a baseline snapshot.
func (c *Client) CreateChangeRequest(ctx context.Context, assessmentID string, baselineVersion int, title, reason string, unlocked []UnlockedEntity) (ChangeRequest, error) {
	body := map[string]any{
		"baseline_version": baselineVersion,
		"title":            title,
		"reason":           reason,
		"unlocked":         unlocked,
	}
	var resp ChangeRequest
	err := c.do(ctx, http.MethodPost, c.assessmentPath(assessmentID, "change-requests"), body, &resp)
	return resp, err
}

// CloseChangeRequest closes a change request and relocks its entities.
func (c *Client) CloseChangeRequest(ctx context.Context, id string) (ChangeRequest, error) {
	var resp ChangeRequest
	endpoint := fmt.Sprintf("v0/change-requests/%s/close", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events for an assessment.
func (c *Client) Events(ctx context.Context, assessmentID string, limit int) ([]Event, error) {
	endpoint := c.assessmentPath(assessmentID, "events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) assessmentPath(assessmentID, p string) string {
	id := url.PathEscape(assessmentID)
	if p == "" {
		return fmt.Sprintf("v0/assessments/%s", id)
	}
	return fmt.Sprintf("v0/assessments/%s/%s", id, strings.TrimLeft(p, "/"))
}
