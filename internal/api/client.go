package api

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

	"waiting-client/internal/credential"
	"waiting-client/internal/logging"
	"waiting-client/internal/status"
	"waiting-client/monitoring"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const defaultTimeout = 10 * time.Second

type ClientConfig struct {
	BaseURL     string
	RefreshPath string
	Timeout     time.Duration
}

type Client struct {
	// baseURL is the base url of the backend.
	baseURL string

	// refreshPath is the token refresh endpoint, relative to baseURL.
	refreshPath string

	// creds holds the access and refresh tokens.
	creds credential.Provider

	// refresh collapses concurrent token refreshes into a single call.
	refresh singleflight.Group

	// onSessionExpired runs after the tokens were cleared.
	onSessionExpired func()

	// hc is the http client.
	hc *http.Client

	// limiter paces outgoing requests. Nil means unlimited.
	limiter *rate.Limiter

	logger zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithRateLimit caps outgoing requests at rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithSessionExpiredHook registers the teardown to run when the session can
// no longer be refreshed.
func WithSessionExpiredHook(fn func()) Option {
	return func(c *Client) { c.onSessionExpired = fn }
}

// NewClient creates a new instance of the backend REST client.
func NewClient(cfg ClientConfig, creds credential.Provider, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	refreshPath := cfg.RefreshPath
	if refreshPath == "" {
		refreshPath = "/api/auth/refresh"
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		refreshPath: refreshPath,
		creds:       creds,
		hc: &http.Client{
			Timeout: timeout,
		},
		logger: logging.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base url without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Credentials returns the token store the client authenticates with.
func (c *Client) Credentials() credential.Provider {
	return c.creds
}

// Do sends a JSON request and decodes a JSON reply into out when out is not
// nil. A 401 triggers one token refresh and one retry. The tokens are
// cleared and status.ErrSessionExpired returned only when the backend
// rejects the refresh token or the retried request; any other refresh
// failure is returned as is and leaves the tokens alone.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: json.Marshal: %w", method, path, err)
		}
		payload = b
	}

	resp, usedToken, err := c.send(ctx, method, path, query, payload, true)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)

		if err := c.refreshAccessToken(ctx, usedToken); err != nil {
			c.logger.Warn().Err(err).Str("path", path).Msg("token refresh failed")
			if !errors.Is(err, status.ErrSessionExpired) {
				return fmt.Errorf("%s %s: %w", method, path, err)
			}
			c.expireSession(ctx)
			return fmt.Errorf("%s %s: %w", method, path, status.ErrSessionExpired)
		}

		resp, _, err = c.send(ctx, method, path, query, payload, true)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			drain(resp)
			c.expireSession(ctx)
			return fmt.Errorf("%s %s: %w", method, path, status.ErrSessionExpired)
		}
	}
	defer resp.Body.Close()

	return decodeResponse(resp, method, path, out)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte, auth bool) (*http.Response, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", fmt.Errorf("%s %s: rate limit: %w", method, path, err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, "", fmt.Errorf("%s %s: http.NewRequest: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var token string
	if auth {
		token = credential.AccessToken(ctx, c.creds)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, token, fmt.Errorf("%s %s: http.Do: %w", method, path, err)
	}
	monitoring.TrackHTTPRequest(method, resp.StatusCode)
	return resp, token, nil
}

// refreshAccessToken exchanges the refresh token for a new token pair.
// Callers that failed with a token that has since been replaced skip the
// exchange and retry with the current one. The shared exchange is detached
// from ctx, which only bounds how long this caller waits for it.
func (c *Client) refreshAccessToken(ctx context.Context, usedToken string) error {
	if current := credential.AccessToken(ctx, c.creds); current != "" && current != usedToken {
		return nil
	}

	ch := c.refresh.DoChan("refresh", func() (any, error) {
		timeout := c.hc.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return nil, c.exchangeRefreshToken(rctx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug().Msg("joined in-flight token refresh")
		}
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("refresh: %w", ctx.Err())
	}
}

func (c *Client) exchangeRefreshToken(ctx context.Context) error {
	tokens, err := c.creds.Get(ctx)
	if err != nil {
		monitoring.TrackTokenRefresh("error")
		return fmt.Errorf("refresh: read tokens: %w", err)
	}
	if tokens.RefreshToken == "" {
		monitoring.TrackTokenRefresh("missing")
		return status.ErrSessionExpired
	}

	payload, _ := json.Marshal(map[string]string{"refreshToken": tokens.RefreshToken})
	resp, _, err := c.send(ctx, http.MethodPost, c.refreshPath, nil, payload, false)
	if err != nil {
		monitoring.TrackTokenRefresh("error")
		return fmt.Errorf("refresh: %w", err)
	}
	defer resp.Body.Close()

	var reply credential.Tokens
	if err := decodeResponse(resp, http.MethodPost, c.refreshPath, &reply); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && refreshRejected(apiErr.StatusCode) {
			monitoring.TrackTokenRefresh("rejected")
			c.logger.Warn().Int("status", apiErr.StatusCode).Str("message", apiErr.Message).Msg("refresh token rejected")
			return fmt.Errorf("refresh: %w", status.ErrSessionExpired)
		}
		monitoring.TrackTokenRefresh("error")
		return fmt.Errorf("refresh: %w", err)
	}
	if reply.AccessToken == "" {
		monitoring.TrackTokenRefresh("error")
		return errors.New("refresh: reply carries no access token")
	}
	if reply.RefreshToken == "" {
		reply.RefreshToken = tokens.RefreshToken
	}

	if err := c.creds.Set(ctx, reply); err != nil {
		monitoring.TrackTokenRefresh("error")
		return fmt.Errorf("refresh: store tokens: %w", err)
	}
	monitoring.TrackTokenRefresh("success")
	c.logger.Info().Msg("access token refreshed")
	return nil
}

// refreshRejected reports whether the refresh endpoint refused the refresh
// token itself, as opposed to failing to answer.
func refreshRejected(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

func (c *Client) expireSession(ctx context.Context) {
	if err := c.creds.Clear(ctx); err != nil {
		c.logger.Error().Err(err).Msg("failed to clear tokens")
	}
	c.logger.Warn().Msg("session expired")
	if c.onSessionExpired != nil {
		c.onSessionExpired()
	}
}

func decodeResponse(resp *http.Response, method, path string, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp, method, path)
	}
	if out == nil {
		drain(resp)
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s %s: json.Decode: %w", method, path, err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
