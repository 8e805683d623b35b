package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/marcus/punch/internal/models"
	"golang.org/x/time/rate"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// IdempotencyHeader carries the client-generated key that lets the gateway
// collapse retried uploads into one record.
const IdempotencyHeader = "Idempotency-Key"

// Default client-side request budget.
const (
	DefaultRate  = rate.Limit(20)
	DefaultBurst = 10
)

// Client is an HTTP client for the time-tracking gateway.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *http.Client

	limiter *rate.Limiter
}

// New creates a new gateway client.
func New(baseURL, apiKey, deviceID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(DefaultRate, DefaultBurst),
	}
}

// SetRateLimit replaces the request budget. A limit of rate.Inf disables
// throttling.
func (c *Client) SetRateLimit(r rate.Limit, burst int) {
	c.limiter = rate.NewLimiter(r, burst)
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// PunchAck is the gateway's answer to a punch upload.
type PunchAck struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doNoAuth(ctx, http.MethodGet, "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping is HealthCheck shaped as a connectivity probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.HealthCheck(ctx)
	return err
}

// --- Punches ---

// UploadPunch creates a punch on the gateway. Repeating the call with the same
// key returns the originally created record.
func (c *Client) UploadPunch(ctx context.Context, key string, p *models.PunchRecord) (*PunchAck, error) {
	var ack PunchAck
	if err := c.doIdempotent(ctx, http.MethodPost, "/v1/punches", key, p, &ack); err != nil {
		return nil, err
	}
	if ack.ID == "" {
		return nil, fmt.Errorf("upload punch %s: ack without id", p.ID)
	}
	return &ack, nil
}

// ListPunches downloads punches recorded at or after since. An empty userID
// returns every user's punches.
func (c *Client) ListPunches(ctx context.Context, since time.Time, userID string) ([]models.PunchRecord, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("since", since.UTC().Format(time.RFC3339))
	}
	if userID != "" {
		params.Set("user_id", userID)
	}
	path := "/v1/punches"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp []models.PunchRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// --- Reference data ---

// ListUsers downloads the full set of active users.
func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var resp []models.User
	if err := c.do(ctx, http.MethodGet, "/v1/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListGeofences downloads the full set of geofences.
func (c *Client) ListGeofences(ctx context.Context) ([]models.Geofence, error) {
	var resp []models.Geofence
	if err := c.do(ctx, http.MethodGet, "/v1/geofences", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListDepartments downloads the full set of departments.
func (c *Client) ListDepartments(ctx context.Context) ([]models.Department, error) {
	var resp []models.Department
	if err := c.do(ctx, http.MethodGet, "/v1/departments", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// --- Generic entity mutations ---

// PushEntity replays one queued mutation: POST for create, PUT for update and
// DELETE for delete. A delete of a record the gateway no longer has counts as
// success.
func (c *Client) PushEntity(ctx context.Context, key string, action models.Action, p models.Payload) error {
	collection, err := collectionFor(p.EntityType())
	if err != nil {
		return err
	}
	itemPath := collection + "/" + url.PathEscape(p.EntityID())

	switch action {
	case models.ActionCreate:
		return c.doIdempotent(ctx, http.MethodPost, collection, key, recordOf(p), nil)
	case models.ActionUpdate:
		return c.doIdempotent(ctx, http.MethodPut, itemPath, key, recordOf(p), nil)
	case models.ActionDelete:
		err := c.doIdempotent(ctx, http.MethodDelete, itemPath, key, nil, nil)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unsupported action %q", action)
	}
}

func collectionFor(t models.EntityType) (string, error) {
	switch t {
	case models.EntityPunch:
		return "/v1/punches", nil
	case models.EntityUser:
		return "/v1/users", nil
	case models.EntityGeofence:
		return "/v1/geofences", nil
	case models.EntityDepartment:
		return "/v1/departments", nil
	}
	return "", fmt.Errorf("unknown entity type %q", t)
}

// recordOf unwraps the record a payload carries; the gateway takes bare
// records, not the queue envelope.
func recordOf(p models.Payload) any {
	switch v := p.(type) {
	case *models.PunchPayload:
		return &v.Punch
	case *models.UserPayload:
		return &v.User
	case *models.GeofencePayload:
		return &v.Geofence
	case *models.DepartmentPayload:
		return &v.Department
	}
	return p
}

// --- Errors ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// HTTPError is a non-2xx gateway response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	case e.Code != "":
		return fmt.Sprintf("HTTP %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Unwrap maps auth and lookup failures onto the package sentinels.
func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// Retryable reports whether the same request may succeed later: server
// errors and throttling are, validation-class responses are not.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsRetryable classifies an error from any Client call. Transport failures
// (refused connections, timeouts, resets) are retryable; HTTP errors defer
// to HTTPError.Retryable; anything else, such as a malformed request, is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	var transport *transportError
	return errors.As(err, &transport)
}

// transportError marks failures that happened before a response arrived.
type transportError struct{ err error }

func (e *transportError) Error() string { return "http request: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// --- HTTP helpers ---

// do executes an authenticated HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, "", body, result, true)
}

// doNoAuth executes an unauthenticated HTTP request.
func (c *Client) doNoAuth(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, "", body, result, false)
}

// doIdempotent executes an authenticated mutation tagged with key.
func (c *Client) doIdempotent(ctx context.Context, method, path, key string, body, result any) error {
	if key == "" {
		return fmt.Errorf("%s %s: missing idempotency key", method, path)
	}
	return c.doRequest(ctx, method, path, key, body, result, true)
}

func (c *Client) doRequest(ctx context.Context, method, path, key string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

func decodeError(status int, body []byte) error {
	httpErr := &HTTPError{StatusCode: status}

	var wrapped errorResponse
	if json.Unmarshal(body, &wrapped) == nil && wrapped.Error.Code != "" {
		httpErr.Code = wrapped.Error.Code
		httpErr.Message = wrapped.Error.Message
		return httpErr
	}
	var flat apiError
	if json.Unmarshal(body, &flat) == nil && flat.Code != "" {
		httpErr.Code = flat.Code
		httpErr.Message = flat.Message
		return httpErr
	}
	httpErr.Message = string(bytes.TrimSpace(body))
	return httpErr
}
