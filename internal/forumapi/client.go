// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package forumapi implements the receiver's collaborators against the
// forum's receiver REST API. Requests are authenticated with OAuth2 client
// credentials (or a static API key), rate limited and guarded by a circuit
// breaker so an unhealthy forum fails attempts fast instead of piling up.
package forumapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	// DefaultRequestsPerSecond is the default request budget.
	DefaultRequestsPerSecond = 20
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 15 * time.Second

	maxResponseBytes = 4 << 20
)

// ErrIdentityConflict is returned by the API when a staged identity for the
// address was created concurrently.
var ErrIdentityConflict = errors.New("identity already exists")

// StatusError is an unexpected HTTP status.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed (HTTP %d): %s", e.Op, e.Status, e.Body)
}

// Config configures the client.
type Config struct {
	BaseURL string

	// OAuth2 client credentials. When TokenURL is empty the client sends
	// APIKey and APIUsername headers instead.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	APIKey      string
	APIUsername string

	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration

	// BreakerFailures consecutive failures open the breaker for
	// BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client talks to the forum receiver API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	apiUser    string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// New creates a client. With OAuth2 settings the returned client's
// transport fetches and refreshes tokens itself.
func New(ctx context.Context, cfg Config) *Client {
	httpClient := &http.Client{}
	if cfg.TokenURL != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = creds.Client(ctx)
	}
	return NewWithHTTPClient(httpClient, cfg)
}

// NewWithHTTPClient creates a client on an existing http.Client.
func NewWithHTTPClient(httpClient *http.Client, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient.Timeout = cfg.Timeout

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps)
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiUser:    cfg.APIUsername,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "forum-api",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

type response struct {
	status int
	body   []byte
}

// do sends a JSON request and decodes a 2xx JSON response into out. It
// returns the status for the caller to interpret; 5xx responses and
// transport errors are returned as errors and count against the breaker.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (int, error) {
	var (
		payload     []byte
		contentType string
	)
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return 0, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		contentType = "application/json"
	}

	res, err := c.send(ctx, op, method, path, contentType, payload)
	if err != nil {
		return 0, err
	}
	if out != nil && res.status >= 200 && res.status < 300 && len(res.body) > 0 {
		if err := json.Unmarshal(res.body, out); err != nil {
			return res.status, fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return res.status, nil
}

func (c *Client) send(ctx context.Context, op, method, path, contentType string, payload []byte) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit: %w", op, err)
	}

	v, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if c.apiKey != "" {
			req.Header.Set("Api-Key", c.apiKey)
			req.Header.Set("Api-Username", c.apiUser)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 500 {
			return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: string(body)}
		}
		return &response{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return v.(*response), nil
}

func unexpected(op string, status int) error {
	return &StatusError{Op: op, Status: status}
}

// Ping checks that the API answers.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status, err := c.do(ctx, "ping", http.MethodGet, "/receiver/health", nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return unexpected("ping", status)
	}
	return nil
}
