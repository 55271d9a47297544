package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tareas/internal/domain"
)

// TokenSource yields the bearer token for outgoing requests. An empty token
// means the request is sent without credentials.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token, such as one forwarded from a caller.
type StaticToken string

func (t StaticToken) AccessToken(context.Context) (string, error) { return string(t), nil }

// Client talks to the work-order REST backend.
type Client struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	// Timeout applies when HTTPClient is nil; zero keeps the transport default.
	Timeout time.Duration
	Logger  *logrus.Logger
}

// New creates a client with defaults.
func New(baseURL string, tokens TokenSource, logger *logrus.Logger) *Client {
	return &Client{
		BaseURL: baseURL,
		Tokens:  tokens,
		Logger:  logger,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ScopeQuery narrows the users, vehicles and tools listings.
type ScopeQuery struct {
	CompanyID int
	SiteID    int
}

func (q ScopeQuery) encode() string {
	v := url.Values{}
	if q.CompanyID > 0 {
		v.Set("empresa_id", strconv.Itoa(q.CompanyID))
	}
	if q.SiteID > 0 {
		v.Set("faena_id", strconv.Itoa(q.SiteID))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// Token exchanges a username and password for credentials.
func (c *Client) Token(ctx context.Context, username, password string) (domain.Credentials, error) {
	body := map[string]string{"username": username, "password": password}
	var resp domain.Credentials
	err := c.send(ctx, http.MethodPost, "token/", "application/json", jsonBody(body), &resp, false)
	return resp, err
}

// Refresh exchanges a refresh token for a new access token. The backend may
// or may not rotate the refresh token.
func (c *Client) Refresh(ctx context.Context, refresh string) (domain.Credentials, error) {
	var resp domain.Credentials
	err := c.send(ctx, http.MethodPost, "token/refresh/", "application/json", jsonBody(map[string]string{"refresh": refresh}), &resp, false)
	if err == nil && resp.Refresh == "" {
		resp.Refresh = refresh
	}
	return resp, err
}

// Me returns the identity bound to the current access token.
func (c *Client) Me(ctx context.Context) (domain.Identity, error) {
	var resp domain.Identity
	err := c.do(ctx, http.MethodGet, "core/me/", nil, &resp)
	return resp, err
}

// ListTasks returns the server-scoped task list in backend order.
func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var resp []domain.Task
	err := c.list(ctx, "core/tareas/", &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id int) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("core/tareas/%d/", id), nil, &resp)
	return resp, err
}

// CreateTask posts a multipart task form.
func (c *Client) CreateTask(ctx context.Context, form *Form) (domain.Task, error) {
	var resp domain.Task
	err := c.doForm(ctx, http.MethodPost, "core/tareas/", form, &resp)
	return resp, err
}

// PatchTaskForm sends a multipart partial update.
func (c *Client) PatchTaskForm(ctx context.Context, id int, form *Form) (domain.Task, error) {
	var resp domain.Task
	err := c.doForm(ctx, http.MethodPatch, fmt.Sprintf("core/tareas/%d/", id), form, &resp)
	return resp, err
}

// PatchTask sends a JSON partial update.
func (c *Client) PatchTask(ctx context.Context, id int, fields map[string]any) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("core/tareas/%d/", id), fields, &resp)
	return resp, err
}

func (c *Client) ListUsers(ctx context.Context, q ScopeQuery) ([]domain.Identity, error) {
	var resp []domain.Identity
	err := c.list(ctx, "core/users/"+q.encode(), &resp)
	return resp, err
}

func (c *Client) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	var resp []domain.Company
	err := c.list(ctx, "core/empresas/", &resp)
	return resp, err
}

func (c *Client) ListSites(ctx context.Context) ([]domain.Site, error) {
	var resp []domain.Site
	err := c.list(ctx, "core/faenas/", &resp)
	return resp, err
}

func (c *Client) ListLocations(ctx context.Context) ([]domain.Location, error) {
	var resp []domain.Location
	err := c.list(ctx, "core/ubicaciones/", &resp)
	return resp, err
}

func (c *Client) ListVehicles(ctx context.Context, q ScopeQuery) ([]domain.Vehicle, error) {
	var resp []domain.Vehicle
	err := c.list(ctx, "core/vehiculos/"+q.encode(), &resp)
	return resp, err
}

func (c *Client) ListTools(ctx context.Context, q ScopeQuery) ([]domain.Tool, error) {
	var resp []domain.Tool
	err := c.list(ctx, "core/herramientas/"+q.encode(), &resp)
	return resp, err
}

// MediaURL turns a photo reference from a task payload into an absolute URL
// on the backend host. Absolute references are returned unchanged.
func (c *Client) MediaURL(ref string) string {
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if !strings.HasPrefix(ref, "/media/") {
		ref = "/media/" + strings.TrimLeft(ref, "/")
	}
	u, err := url.Parse(c.base())
	if err != nil || u.Host == "" {
		return ref
	}
	return u.Scheme + "://" + u.Host + ref
}

// list decodes either a bare JSON array or a paginated {"results": [...]} page.
func (c *Client) list(ctx context.Context, endpoint string, out any) error {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var page struct {
			Results json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(trimmed, &page); err != nil {
			return fmt.Errorf("decode %s: %w", endpoint, err)
		}
		trimmed = page.Results
	}
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		reader = jsonBody(body)
	}
	return c.send(ctx, method, endpoint, "application/json", reader, out, true)
}

func (c *Client) doForm(ctx context.Context, method, endpoint string, form *Form, out any) error {
	contentType, body, err := form.encode()
	if err != nil {
		return err
	}
	return c.send(ctx, method, endpoint, contentType, body, out, true)
}

func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any, authenticated bool) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if body == nil {
		body = http.NoBody
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	if authenticated && c.Tokens != nil {
		token, err := c.Tokens.AccessToken(ctx)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	fields := logrus.Fields{
		"method":     method,
		"endpoint":   endpoint,
		"request_id": requestID,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		c.logger().WithFields(fields).WithError(err).Debug("backend request failed")
		return err
	}
	defer resp.Body.Close()
	fields["status"] = resp.StatusCode
	c.logger().WithFields(fields).Debug("backend request")
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func jsonBody(v any) io.Reader {
	b, err := json.Marshal(v)
	if err != nil {
		return errReader{err}
	}
	return bytes.NewReader(b)
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
