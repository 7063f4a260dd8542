// Package api is the HTTP collaborator client for the case service. It wraps
// the REST surface (cases, events, trash, export) and hands out the raw SSE
// body for the live subscription; it performs no domain logic of its own.
package api

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/emberwatch/ember/internal/logging"
	"github.com/emberwatch/ember/internal/models"
)

// Config configures the API client.
type Config struct {
	// BaseURL is the service root, e.g. https://carbon.example.org/api.
	BaseURL string
	// Token, when set, is sent as a bearer credential.
	Token string
	// Timeout bounds each non-streaming request.
	Timeout time.Duration
	// Retries is the retry count for idempotent requests.
	Retries int
}

// Client talks to the case service.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.StatusCode)
}

// envelope is the service's uniform response wrapper.
type envelope[T any] struct {
	Data  T      `json:"data"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// Identity is the authenticated caller as reported by the service.
type Identity struct {
	Username string   `json:"username"`
	Groups   []string `json:"groups"`
}

// Constant is the service-wide static configuration relevant to the client.
type Constant struct {
	Banner         string                 `json:"banner,omitempty"`
	SearchPatterns []models.SearchPattern `json:"search_patterns"`
	AllowEmptyACS  bool                   `json:"allow_empty_acs,omitempty"`
}

// New creates a Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.Retries).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	return &Client{
		http:   httpClient,
		logger: logging.Component("api"),
	}
}

// Me returns the authenticated identity.
func (c *Client) Me(ctx context.Context) (Identity, error) {
	return getJSON[Identity](ctx, c, "/auth/is_logged")
}

// FetchConstant returns the service constants (search patterns et al).
func (c *Client) FetchConstant(ctx context.Context) (Constant, error) {
	return getJSON[Constant](ctx, c, "/constant")
}

// FetchCase retrieves case metadata.
func (c *Client) FetchCase(ctx context.Context, caseGUID string) (models.Case, error) {
	return getJSON[models.Case](ctx, c, fmt.Sprintf("/case/%s", caseGUID))
}

// UpdateCase applies a partial case update.
func (c *Client) UpdateCase(ctx context.Context, caseGUID string, patch models.CasePatch) (models.Case, error) {
	var env envelope[models.Case]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(patch).
		SetResult(&env).
		Put(fmt.Sprintf("/case/%s", caseGUID))
	if err := checkResponse(resp, err); err != nil {
		return models.Case{}, err
	}
	return env.Data, nil
}

// DeleteCase deletes the case.
func (c *Client) DeleteCase(ctx context.Context, caseGUID string) error {
	resp, err := c.http.R().SetContext(ctx).Delete(fmt.Sprintf("/case/%s", caseGUID))
	return checkResponse(resp, err)
}

// FetchCategories returns the case's category set.
func (c *Client) FetchCategories(ctx context.Context, caseGUID string) ([]models.Category, error) {
	return getJSON[[]models.Category](ctx, c, fmt.Sprintf("/case/%s/categories", caseGUID))
}

// FetchEvents performs the bulk load of a case's non-trashed events.
func (c *Client) FetchEvents(ctx context.Context, caseGUID string) ([]models.Event, error) {
	return getJSON[[]models.Event](ctx, c, fmt.Sprintf("/case/%s/events", caseGUID))
}

// FetchTrash returns the case's trashed events.
func (c *Client) FetchTrash(ctx context.Context, caseGUID string) ([]models.Event, error) {
	return getJSON[[]models.Event](ctx, c, fmt.Sprintf("/case/%s/trash", caseGUID))
}

// CreateEvent submits a new event.
func (c *Client) CreateEvent(ctx context.Context, caseGUID string, ev models.Event) (models.Event, error) {
	var env envelope[models.Event]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(ev).
		SetResult(&env).
		Post(fmt.Sprintf("/case/%s/event", caseGUID))
	if err := checkResponse(resp, err); err != nil {
		return models.Event{}, err
	}
	return env.Data, nil
}

// StarEvent toggles the starred flag server-side.
func (c *Client) StarEvent(ctx context.Context, caseGUID, eventGUID string) error {
	return c.putAction(ctx, fmt.Sprintf("/case/%s/event/%s/star", caseGUID, eventGUID))
}

// TrashEvent moves an event to the trash.
func (c *Client) TrashEvent(ctx context.Context, caseGUID, eventGUID string) error {
	return c.putAction(ctx, fmt.Sprintf("/case/%s/event/%s/trash", caseGUID, eventGUID))
}

// RestoreEvent restores a trashed event.
func (c *Client) RestoreEvent(ctx context.Context, caseGUID, eventGUID string) error {
	return c.putAction(ctx, fmt.Sprintf("/case/%s/event/%s/restore", caseGUID, eventGUID))
}

// DeleteEvent removes an event permanently.
func (c *Client) DeleteEvent(ctx context.Context, caseGUID, eventGUID string) error {
	resp, err := c.http.R().SetContext(ctx).Delete(fmt.Sprintf("/case/%s/event/%s", caseGUID, eventGUID))
	return checkResponse(resp, err)
}

// Export retrieves the server-rendered markdown export.
func (c *Client) Export(ctx context.Context, caseGUID string, starredOnly bool, fields []string) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	if len(fields) > 0 {
		req.SetQueryParamsFromValues(url.Values{"fields": fields})
	}
	if starredOnly {
		req.SetQueryParam("starred", "1")
	}
	resp, err := req.Get(fmt.Sprintf("/case/%s/events/export", caseGUID))
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// Subscribe opens the live SSE stream for a case and returns its body. The
// caller wraps it in a live.Channel and owns its lifetime.
func (c *Client) Subscribe(ctx context.Context, caseGUID string) (io.ReadCloser, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		Get(fmt.Sprintf("/case/%s/subscribe", caseGUID))
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if resp.StatusCode() >= 300 {
		body := resp.RawBody()
		if body != nil {
			body.Close()
		}
		return nil, &APIError{StatusCode: resp.StatusCode()}
	}
	c.logger.Debug().Str("case_guid", caseGUID).Msg("live subscription opened")
	return resp.RawBody(), nil
}

func (c *Client) putAction(ctx context.Context, path string) error {
	resp, err := c.http.R().SetContext(ctx).SetBody(struct{}{}).Put(path)
	return checkResponse(resp, err)
}

func getJSON[T any](ctx context.Context, c *Client, path string) (T, error) {
	var env envelope[T]
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&env).
		Get(path)
	if err := checkResponse(resp, err); err != nil {
		var zero T
		return zero, err
	}
	return env.Data, nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return &APIError{StatusCode: resp.StatusCode(), Message: string(resp.Body())}
	}
	return nil
}
