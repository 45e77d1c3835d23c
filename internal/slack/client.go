// Package slack is a minimal Slack Web API client covering the two calls
// the sync pipeline needs: conversations.history and users.list.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RawMessage is a message as returned by conversations.history, before
// enrichment. Subtype is non-empty for system events (joins, topic changes).
type RawMessage struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
	User     string `json:"user"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
}

// User is a workspace member from users.list.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RealName string `json:"real_name"`
	Deleted  bool   `json:"deleted"`
}

// APIError is a Slack ok:false response. Its message is the raw Slack error
// code (e.g. "ratelimited", "invalid_auth") so the retry classifier can
// inspect it directly.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

// Client calls the Slack Web API over HTTP with bearer-token auth.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client authenticated with the given bot token.
func New(token string) *Client {
	return &Client{
		baseURL: "https://slack.com/api",
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewWithBaseURL creates a Client against a non-default API endpoint.
// Used by tests to point at a local httptest server.
func NewWithBaseURL(token, baseURL string) *Client {
	c := New(token)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type historyResponse struct {
	OK               bool         `json:"ok"`
	Error            string       `json:"error"`
	Messages         []RawMessage `json:"messages"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// ListMessages fetches one page of channel history. oldest limits results to
// messages newer than the given origin timestamp; cursor continues a prior
// page. The returned cursor is empty when no further pages exist.
func (c *Client) ListMessages(ctx context.Context, channelID, cursor, oldest string, limit int) ([]RawMessage, string, error) {
	params := url.Values{}
	params.Set("channel", channelID)
	params.Set("limit", strconv.Itoa(limit))
	if oldest != "" {
		params.Set("oldest", oldest)
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp historyResponse
	if err := c.get(ctx, "conversations.history", params, &resp); err != nil {
		return nil, "", err
	}
	if !resp.OK {
		return nil, "", &APIError{Method: "conversations.history", Code: resp.Error}
	}

	return resp.Messages, resp.ResponseMetadata.NextCursor, nil
}

type usersResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Members []User `json:"members"`
}

// ListUsers fetches all workspace members, deleted ones included; callers
// filter. Fetched once per service lifetime and cached by the enricher.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var resp usersResponse
	if err := c.get(ctx, "users.list", url.Values{}, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, &APIError{Method: "users.list", Code: resp.Error}
	}
	return resp.Members, nil
}

func (c *Client) get(ctx context.Context, method string, params url.Values, out any) error {
	u := c.baseURL + "/" + method
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}
