// Package station is the HTTP client for the upstream system of record. It
// implements triage.Store over the upstream's JSON API.
package station

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/reviewqueue/internal/status"
	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

// APIError is a non-2xx upstream response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("station %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 512

// Config configures the client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the upstream station API.
type Client struct {
	base       *url.URL
	token      string
	httpClient *http.Client
}

var _ triage.Store = (*Client)(nil)

// New creates a client. Requests are traced through otelhttp.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid upstream url %q: scheme must be http or https", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:  base,
		token: cfg.Token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// do sends one request. path is already escaped.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.RawPath = strings.TrimSuffix(c.base.EscapedPath(), "/") + path
	p, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return fmt.Errorf("invalid path %q: %w", path, err)
	}
	u.Path = p
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("station %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func requestPath(id string, suffix ...string) string {
	p := "/service-requests/" + url.PathEscape(id)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

// ListStatuses implements status.Source.
func (c *Client) ListStatuses(ctx context.Context) ([]status.Status, error) {
	var out []status.Status
	if err := c.do(ctx, http.MethodGet, "/statuses", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// listValues encodes a ListQuery. Nil fields are omitted; a non-nil empty
// list is sent as a single empty value.
func listValues(q triage.ListQuery) url.Values {
	v := url.Values{}
	add := func(key string, ids []string) {
		if ids == nil {
			return
		}
		if len(ids) == 0 {
			v.Add(key, "")
			return
		}
		for _, id := range ids {
			v.Add(key, id)
		}
	}
	add("statusIds", q.StatusIDs)
	add("marketIds", q.MarketIDs)
	if q.SearchTerm != nil {
		v.Set("searchTerm", *q.SearchTerm)
	}
	return v
}

// ListServiceRequests implements triage.Lister.
func (c *Client) ListServiceRequests(ctx context.Context, q triage.ListQuery) ([]triage.Listing, error) {
	out := []triage.Listing{}
	if err := c.do(ctx, http.MethodGet, "/service-requests", listValues(q), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetServiceRequest reads one request with its snapshots.
func (c *Client) GetServiceRequest(ctx context.Context, id string) (*triage.Detail, bool, error) {
	var out triage.Detail
	err := c.do(ctx, http.MethodGet, requestPath(id), nil, nil, &out)
	switch {
	case isNotFound(err):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return &out, true, nil
}

// GetServiceRequestNotes reads the notes of a request.
func (c *Client) GetServiceRequestNotes(ctx context.Context, id string) ([]triage.Note, error) {
	var out struct {
		Notes []triage.Note `json:"notes"`
	}
	if err := c.do(ctx, http.MethodGet, requestPath(id, "notes"), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Notes, nil
}

// UpdateServiceRequest implements triage.Updater.
func (c *Client) UpdateServiceRequest(ctx context.Context, id string, p triage.Patch) (*triage.ServiceRequest, error) {
	var out triage.ServiceRequest
	err := c.do(ctx, http.MethodPatch, requestPath(id), nil, p, &out)
	switch {
	case isNotFound(err):
		return nil, fmt.Errorf("%w: %s", triage.ErrNotFound, id)
	case err != nil:
		return nil, err
	}
	return &out, nil
}

// UnassignOwner clears the owner of a request.
func (c *Client) UnassignOwner(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodPatch, requestPath(id, "unassign"), nil, nil, nil)
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", triage.ErrNotFound, id)
	}
	return err
}

// GetUser reads one user.
func (c *Client) GetUser(ctx context.Context, id string) (*triage.User, bool, error) {
	var out triage.User
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, nil, &out)
	switch {
	case isNotFound(err):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return &out, true, nil
}

// SearchUsers finds users by name or email.
func (c *Client) SearchUsers(ctx context.Context, term string) ([]triage.User, error) {
	out := []triage.User{}
	if err := c.do(ctx, http.MethodGet, "/users", url.Values{"search": {term}}, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMarkets lists service markets.
func (c *Client) ListMarkets(ctx context.Context) ([]triage.Market, error) {
	var out []triage.Market
	if err := c.do(ctx, http.MethodGet, "/markets", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
