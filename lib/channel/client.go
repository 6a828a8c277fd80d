// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/waldo-labs/waldo/lib/netutil"
	"github.com/waldo-labs/waldo/lib/secret"
)

// DefaultBaseURL is the production Slack Web API endpoint.
const DefaultBaseURL = "https://slack.com/api"

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the API endpoint. If empty, DefaultBaseURL is used.
	// Tests point this at an httptest server.
	BaseURL string
	// Token is the bot token (xoxb-...). Required.
	Token *secret.Buffer
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Client is an authenticated Slack Web API client.
type Client struct {
	baseURL    string
	token      *secret.Buffer
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Slack Web API client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Token == nil {
		return nil, fmt.Errorf("channel: Token is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	// The string form (trailing slash stripped) is stored and request
	// URLs are built by direct concatenation, avoiding double-encoding
	// issues with url.URL.String().
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("channel: invalid BaseURL %q: %w", baseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      config.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a network disruption to
// force subsequent requests to establish fresh TCP connections instead
// of reusing a poisoned pooled connection.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// AuthTest verifies the token and returns the bot's own identity. The
// daemon calls this once at startup; a failure here is fatal.
func (c *Client) AuthTest(ctx context.Context) (*AuthIdentity, error) {
	var response struct {
		AuthIdentity
	}
	if err := c.call(ctx, "auth.test", nil, struct{}{}, &response); err != nil {
		return nil, fmt.Errorf("channel: auth.test failed: %w", err)
	}
	return &response.AuthIdentity, nil
}

// PostMessage posts a top-level message to a channel and returns a
// reference to it.
func (c *Client) PostMessage(ctx context.Context, channelID, text string) (*MessageRef, error) {
	return c.post(ctx, map[string]any{
		"channel": channelID,
		"text":    text,
	})
}

// PostThreaded posts a reply into the thread rooted at threadTS.
func (c *Client) PostThreaded(ctx context.Context, channelID, threadTS, text string) (*MessageRef, error) {
	return c.post(ctx, map[string]any{
		"channel":   channelID,
		"thread_ts": threadTS,
		"text":      text,
	})
}

func (c *Client) post(ctx context.Context, body map[string]any) (*MessageRef, error) {
	var response struct {
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	}
	if err := c.call(ctx, "chat.postMessage", nil, body, &response); err != nil {
		return nil, fmt.Errorf("channel: posting message: %w", err)
	}
	return &MessageRef{Channel: response.Channel, TS: response.TS}, nil
}

// UpdateMessage replaces the text of a previously posted message. The
// progress reporter uses this to edit one threaded status message in
// place instead of flooding the thread.
func (c *Client) UpdateMessage(ctx context.Context, ref MessageRef, text string) error {
	body := map[string]any{
		"channel": ref.Channel,
		"ts":      ref.TS,
		"text":    text,
	}
	if err := c.call(ctx, "chat.update", nil, body, nil); err != nil {
		return fmt.Errorf("channel: updating message %s: %w", ref.TS, err)
	}
	return nil
}

// History returns channel messages with timestamps strictly after
// oldest (pass "" for the most recent page). Slack returns newest
// first; callers that need chronological order must sort. Thread
// replies do not appear here, only roots and broadcasts.
func (c *Client) History(ctx context.Context, channelID, oldest string, limit int) ([]Message, error) {
	query := url.Values{"channel": {channelID}}
	if oldest != "" {
		query.Set("oldest", oldest)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Messages []Message `json:"messages"`
	}
	if err := c.call(ctx, "conversations.history", query, nil, &response); err != nil {
		return nil, fmt.Errorf("channel: reading history: %w", err)
	}
	return response.Messages, nil
}

// Replies returns the messages of the thread rooted at threadTS with
// timestamps strictly after oldest, in chronological order. With
// oldest equal to threadTS the root itself is excluded, which is
// exactly the reply-cursor semantics the poll loop wants.
func (c *Client) Replies(ctx context.Context, channelID, threadTS, oldest string) ([]Message, error) {
	query := url.Values{
		"channel": {channelID},
		"ts":      {threadTS},
	}
	if oldest != "" {
		query.Set("oldest", oldest)
	}

	var response struct {
		Messages []Message `json:"messages"`
	}
	if err := c.call(ctx, "conversations.replies", query, nil, &response); err != nil {
		return nil, fmt.Errorf("channel: reading thread %s: %w", threadTS, err)
	}
	return response.Messages, nil
}

// Reactions returns the reactions currently on a message. The approval
// gate polls this while a request is pending.
func (c *Client) Reactions(ctx context.Context, ref MessageRef) ([]Reaction, error) {
	query := url.Values{
		"channel":   {ref.Channel},
		"timestamp": {ref.TS},
		"full":      {"true"},
	}

	var response struct {
		Message struct {
			Reactions []Reaction `json:"reactions"`
		} `json:"message"`
	}
	if err := c.call(ctx, "reactions.get", query, nil, &response); err != nil {
		return nil, fmt.Errorf("channel: reading reactions on %s: %w", ref.TS, err)
	}
	return response.Message.Reactions, nil
}

// call performs one Slack Web API request. Methods that write pass a
// JSON requestBody (POST); read methods pass query values (GET). On
// ok:false or a transport-level failure the returned error is *Error.
// result may be nil when the caller only needs success/failure.
func (c *Client) call(ctx context.Context, apiMethod string, query url.Values, requestBody any, result any) error {
	requestURL := c.baseURL + "/" + apiMethod
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	httpMethod := http.MethodGet
	var bodyReader io.Reader
	if requestBody != nil {
		httpMethod = http.MethodPost
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, httpMethod, requestURL, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	// The token leaves the secret buffer only here, scoped to the
	// header of this one request.
	request.Header.Set("Authorization", "Bearer "+c.token.String())

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if response.StatusCode == http.StatusTooManyRequests {
		return &Error{
			Code:       ErrCodeRateLimited,
			StatusCode: response.StatusCode,
			RetryAfter: retryAfter(response),
		}
	}

	// Slack reports logical failures inside a 200 body, so the
	// envelope decides success, not the status code.
	var envelope struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(responseBody, &envelope); err != nil {
		return fmt.Errorf("unexpected %d response: %s", response.StatusCode, string(responseBody))
	}
	if !envelope.OK {
		return &Error{Code: envelope.Error, StatusCode: response.StatusCode}
	}

	if result != nil {
		if err := json.Unmarshal(responseBody, result); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

// retryAfter parses the Retry-After header of a 429 response.
func retryAfter(response *http.Response) time.Duration {
	seconds, err := strconv.Atoi(response.Header.Get("Retry-After"))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
