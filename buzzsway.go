// Package buzzsway provides the Go client SDK for the BuzzSway social API.
//
// Covers the REST surface (auth, users, posts, direct messages) with
// sub-module access, plus the realtime channel used for presence and
// private messaging.
//
// Example:
//
//	client := buzzsway.NewClient("", buzzsway.WithBaseURL("https://api.example.com/api"))
//
//	auth, _ := client.Auth().Login(ctx, &buzzsway.Credentials{Email: "a@b.c", Password: "secret"})
//	client.SetToken(auth.Token)
//
//	posts, _ := client.Posts().All(ctx)
//	users, _ := client.Users().Search(ctx, "alice")
//
//	ch := client.NewChannel(nil)
//	ch.Connect(ctx, auth.Session())
package buzzsway

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

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:5000/api"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	breaker    *gobreaker.CircuitBreaker

	auth     *AuthClient
	users    *UsersClient
	posts    *PostsClient
	messages *MessagesClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger sets the logger used for transient, non-surfaced failures.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCircuitBreaker guards all REST requests with a circuit breaker that
// trips at an 80% failure rate once enough requests have been observed.
func WithCircuitBreaker(name string) ClientOption {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < 5 {
					return false
				}
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= 0.8
			},
			// 4xx responses are caller mistakes, not service failures.
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				var re *RequestError
				return errors.As(err, &re) && re.StatusCode < 500
			},
		})
	}
}

// NewClient creates a new BuzzSway client.
// token is optional — pass "" before login and call SetToken afterwards.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.auth = &AuthClient{c: c}
	c.users = &UsersClient{c: c}
	c.posts = &PostsClient{c: c}
	c.messages = &MessagesClient{c: c}
	return c
}

// SetToken sets or updates the bearer token (typically after login).
func (c *Client) SetToken(token string) {
	c.token = token
}

// Auth returns the authentication sub-client.
func (c *Client) Auth() *AuthClient { return c.auth }

// Users returns the users sub-client.
func (c *Client) Users() *UsersClient { return c.users }

// Posts returns the posts sub-client.
func (c *Client) Posts() *PostsClient { return c.posts }

// Messages returns the direct-messages sub-client.
func (c *Client) Messages() *MessagesClient { return c.messages }

// ChannelURL returns the realtime channel endpoint derived from the base
// URL: the /api suffix is dropped and the scheme switched to ws(s).
func (c *Client) ChannelURL() string {
	base := strings.TrimSuffix(c.baseURL, "/api")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/ws"
}

// NewChannel creates a realtime channel bound to this client's endpoint.
// Pass nil for default configuration. Call Connect to establish it.
func (c *Client) NewChannel(config *ChannelConfig) *Channel {
	cfg := ChannelConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.URL == "" {
		cfg.URL = c.ChannelURL()
	}
	if cfg.Logger == nil {
		cfg.Logger = c.logger
	}
	return NewChannel(&cfg)
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, method, path)
}

// send executes a prepared request, routing through the circuit breaker
// when one is configured, and maps non-2xx responses to *RequestError.
func (c *Client) send(req *http.Request, method, path string) ([]byte, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	exec := func() ([]byte, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			reqErr := &RequestError{StatusCode: resp.StatusCode, Method: method, Path: path}
			var apiErr APIError
			if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
				reqErr.API = &apiErr
			}
			return nil, reqErr
		}
		return data, nil
	}

	if c.breaker == nil {
		return exec()
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return exec()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			c.logger.Warn("circuit breaker rejected request",
				zap.String("method", method), zap.String("path", path))
			return nil, fmt.Errorf("service temporarily unavailable: %w", err)
		}
		return nil, err
	}
	return out.([]byte), nil
}

func unmarshalInto(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}
