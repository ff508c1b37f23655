// Package client is a Go client for the reviewqueue board API.
package client

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/reviewqueue/internal/board"
	"github.com/linnemanlabs/reviewqueue/internal/insurance"
	"github.com/linnemanlabs/reviewqueue/internal/sidebar"
	"github.com/linnemanlabs/reviewqueue/internal/status"
	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

// Error is a non-2xx API response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("reviewqueue: %d %s", e.StatusCode, e.Message)
}

// Client calls the board API.
type Client struct {
	base       *url.URL
	token      string
	httpClient *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL, token string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:  base,
		token: token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// do sends one request. path is already escaped.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.RawPath = strings.TrimSuffix(c.base.EscapedPath(), "/") + "/api/v1" + path
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
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func sessionPath(sid string, parts ...string) string {
	p := "/sessions/" + url.PathEscape(sid)
	for _, s := range parts {
		p += "/" + s
	}
	return p
}

func requestPath(sid, id string, parts ...string) string {
	return sessionPath(sid, append([]string{"requests", url.PathEscape(id)}, parts...)...)
}

func (c *Client) Statuses(ctx context.Context) ([]status.Status, error) {
	var out []status.Status
	err := c.do(ctx, http.MethodGet, "/statuses", nil, nil, &out)
	return out, err
}

func (c *Client) Markets(ctx context.Context) ([]triage.Market, error) {
	var out []triage.Market
	err := c.do(ctx, http.MethodGet, "/markets", nil, nil, &out)
	return out, err
}

func (c *Client) SearchUsers(ctx context.Context, term string) ([]triage.User, error) {
	var out []triage.User
	err := c.do(ctx, http.MethodGet, "/users", url.Values{"term": {term}}, nil, &out)
	return out, err
}

// Mounted is the result of mounting a board.
type Mounted struct {
	ID       string         `json:"id"`
	Viewport board.Viewport `json:"viewport"`
	board.FilterView
}

// Mount creates a board session hydrated from query.
func (c *Client) Mount(ctx context.Context, query string, vp board.Viewport) (Mounted, error) {
	var out Mounted
	body := map[string]string{"query": query, "viewport": string(vp)}
	err := c.do(ctx, http.MethodPost, "/sessions", nil, body, &out)
	return out, err
}

func (c *Client) Unmount(ctx context.Context, sid string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(sid)+"/", nil, nil, nil)
}

// Board renders the board. refresh forces every column to be re-read.
func (c *Client) Board(ctx context.Context, sid string, refresh bool) (board.View, error) {
	var q url.Values
	if refresh {
		q = url.Values{"refresh": {"true"}}
	}
	var out board.View
	err := c.do(ctx, http.MethodGet, sessionPath(sid, "board"), q, nil, &out)
	return out, err
}

func (c *Client) Search(ctx context.Context, sid, term string, commit bool) (board.FilterView, error) {
	var out board.FilterView
	body := map[string]any{"term": term, "commit": commit}
	err := c.do(ctx, http.MethodPut, sessionPath(sid, "filter", "search"), nil, body, &out)
	return out, err
}

func (c *Client) SetMarkets(ctx context.Context, sid string, ids []string) (board.FilterView, error) {
	if ids == nil {
		ids = []string{}
	}
	var out board.FilterView
	body := map[string][]string{"marketIds": ids}
	err := c.do(ctx, http.MethodPut, sessionPath(sid, "filter", "markets"), nil, body, &out)
	return out, err
}

func (c *Client) AddMarket(ctx context.Context, sid, marketID string) (board.FilterView, error) {
	var out board.FilterView
	err := c.do(ctx, http.MethodPost, sessionPath(sid, "filter", "markets", url.PathEscape(marketID)), nil, nil, &out)
	return out, err
}

func (c *Client) RemoveMarket(ctx context.Context, sid, marketID string) (board.FilterView, error) {
	var out board.FilterView
	err := c.do(ctx, http.MethodDelete, sessionPath(sid, "filter", "markets", url.PathEscape(marketID)), nil, nil, &out)
	return out, err
}

func (c *Client) SetStatus(ctx context.Context, sid, statusID string) (board.FilterView, error) {
	var out board.FilterView
	body := map[string]string{"statusId": statusID}
	err := c.do(ctx, http.MethodPut, sessionPath(sid, "filter", "status"), nil, body, &out)
	return out, err
}

// Transition is the outcome of a transition request.
type Transition struct {
	Skipped bool                   `json:"skipped"`
	Reason  string                 `json:"reason,omitempty"`
	From    *status.Status         `json:"from,omitempty"`
	To      *status.Status         `json:"to,omitempty"`
	Request *triage.ServiceRequest `json:"serviceRequest,omitempty"`
}

func (c *Client) Transition(ctx context.Context, sid, id string, order triage.Order) (Transition, error) {
	var out Transition
	body := map[string]string{"order": string(order)}
	err := c.do(ctx, http.MethodPost, requestPath(sid, id, "transition"), nil, body, &out)
	return out, err
}

func (c *Client) OpenSidebar(ctx context.Context, sid, id string) (sidebar.State, error) {
	var out sidebar.State
	err := c.do(ctx, http.MethodPost, sessionPath(sid, "sidebar", "open"), nil, map[string]string{"id": id}, &out)
	return out, err
}

func (c *Client) CloseSidebar(ctx context.Context, sid string) (sidebar.State, error) {
	var out sidebar.State
	err := c.do(ctx, http.MethodPost, sessionPath(sid, "sidebar", "close"), nil, nil, &out)
	return out, err
}

func (c *Client) SidebarAnimationEnd(ctx context.Context, sid string) (sidebar.State, error) {
	var out sidebar.State
	err := c.do(ctx, http.MethodPost, sessionPath(sid, "sidebar", "animation-end"), nil, nil, &out)
	return out, err
}

func (c *Client) Detail(ctx context.Context, sid string) (board.DetailView, error) {
	var out board.DetailView
	err := c.do(ctx, http.MethodGet, sessionPath(sid, "detail"), nil, nil, &out)
	return out, err
}

func (c *Client) SetVerified(ctx context.Context, sid, id string, verified bool) (insurance.View, error) {
	var out insurance.View
	body := map[string]bool{"verified": verified}
	err := c.do(ctx, http.MethodPut, requestPath(sid, id, "insurance", "verified"), nil, body, &out)
	return out, err
}

func (c *Client) StartCMSEdit(ctx context.Context, sid, id string) (insurance.View, error) {
	var out insurance.View
	err := c.do(ctx, http.MethodPost, requestPath(sid, id, "insurance", "cms", "edit"), nil, nil, &out)
	return out, err
}

func (c *Client) SetCMSDraft(ctx context.Context, sid, id, draft string) (insurance.View, error) {
	var out insurance.View
	body := map[string]string{"draft": draft}
	err := c.do(ctx, http.MethodPut, requestPath(sid, id, "insurance", "cms", "draft"), nil, body, &out)
	return out, err
}

func (c *Client) SaveCMS(ctx context.Context, sid, id string) (insurance.View, error) {
	var out insurance.View
	err := c.do(ctx, http.MethodPost, requestPath(sid, id, "insurance", "cms", "save"), nil, nil, &out)
	return out, err
}

func (c *Client) CancelCMSEdit(ctx context.Context, sid, id string) (insurance.View, error) {
	var out insurance.View
	err := c.do(ctx, http.MethodPost, requestPath(sid, id, "insurance", "cms", "cancel"), nil, nil, &out)
	return out, err
}

func (c *Client) AssignOwner(ctx context.Context, sid, id, userID string) (*triage.ServiceRequest, error) {
	var out triage.ServiceRequest
	body := map[string]string{"userId": userID}
	if err := c.do(ctx, http.MethodPut, requestPath(sid, id, "owner"), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UnassignOwner(ctx context.Context, sid, id string) error {
	return c.do(ctx, http.MethodDelete, requestPath(sid, id, "owner"), nil, nil, nil)
}
