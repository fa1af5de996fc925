// Package api is the HTTP client for the NutriPlan service endpoints the
// client core consumes: profile verification, token refresh, sign-out
// notification, sign-in, and food image lookup.
//
// Connection-level faults are retried with exponential backoff before an
// error is surfaced, mirroring the retry decorator the backend applies
// around its own data-store writes. Callers can therefore treat any error
// they receive as post-retry and terminal.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout    = 30 * time.Second
	retryMaxAttempts  = 3
	retryInitialDelay = 500 * time.Millisecond
)

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// ImageCacheDir enables disk-backed HTTP caching for image downloads.
	// Empty means in-memory caching only.
	ImageCacheDir string
}

// Profile is the verified user identity returned by the profile endpoint.
type Profile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// TokenPair is the result of a token refresh. RefreshToken may be empty
// when the server chooses not to rotate it.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Credentials is the result of a sign-in.
type Credentials struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token,omitempty"`
	User         Profile `json:"user"`
}

// Client calls the NutriPlan API.
type Client struct {
	baseURL   string
	http      *http.Client
	imageHTTP *http.Client
	logger    zerolog.Logger
}

// New creates a new API client with the given configuration.
func New(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		http:      &http.Client{Timeout: timeout},
		imageHTTP: NewCachingHTTPClient(cfg.ImageCacheDir, timeout),
		logger:    logger,
	}
}

// VerifyProfile validates token against the profile endpoint and returns
// the current user identity.
func (c *Client) VerifyProfile(ctx context.Context, token string) (*Profile, error) {
	var profile Profile
	if err := c.do(ctx, c.http, http.MethodGet, "/api/user/profile", token, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// RefreshToken exchanges refreshToken for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	body := map[string]string{"refresh_token": refreshToken}

	var pair TokenPair
	if err := c.do(ctx, c.http, http.MethodPost, "/api/auth/refresh", "", body, &pair); err != nil {
		return nil, err
	}

	if pair.AccessToken == "" {
		return nil, &Error{StatusCode: http.StatusOK, Message: "refresh response missing access_token"}
	}

	return &pair, nil
}

// SignIn authenticates with email and password.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Credentials, error) {
	body := map[string]string{"email": email, "password": password}

	var creds Credentials
	if err := c.do(ctx, c.http, http.MethodPost, "/api/auth/login", "", body, &creds); err != nil {
		return nil, err
	}

	return &creds, nil
}

// SignOut notifies the backend to invalidate server-side session state.
// Callers treat failure as non-blocking; local teardown proceeds anyway.
func (c *Client) SignOut(ctx context.Context, token string) error {
	return c.do(ctx, c.http, http.MethodPost, "/api/auth/logout", token, nil, nil)
}

// LookupImage resolves a food name to an image URL.
func (c *Client) LookupImage(ctx context.Context, query string) (string, error) {
	body := map[string]string{"food_name": query}

	var result struct {
		ImageURL string          `json:"image_url"`
		Err      json.RawMessage `json:"error,omitempty"`
	}
	if err := c.do(ctx, c.http, http.MethodPost, "/api/food-image", "", body, &result); err != nil {
		return "", err
	}

	// An error flag of any shape, or a missing URL, is a failed lookup.
	if len(result.Err) > 0 && string(result.Err) != "null" && string(result.Err) != "false" {
		return "", ErrMissingImageURL
	}
	if result.ImageURL == "" {
		return "", ErrMissingImageURL
	}

	return result.ImageURL, nil
}

// FetchImage downloads image content from url, which may be absolute (CDN
// URLs returned by lookups) or a path relative to the API base. Downloads
// go through the caching HTTP client, so repeated fetches of an image with
// Cache-Control headers are served locally without hitting the network.
func (c *Client) FetchImage(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", ErrMissingImageURL
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = c.baseURL + url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build image request: %w", err)
	}

	resp, err := c.imageHTTP.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("image download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", c.decodeError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image body: %w", err)
	}

	return data, resp.Header.Get("Content-Type"), nil
}

// do executes one API call. The request is rebuilt on every attempt so
// bodies replay safely; only transient connection faults are retried.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path, token string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	started := time.Now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialDelay

	resp, err := backoff.Retry(ctx, func() (*http.Response, error) {
		req, err := c.newRequest(ctx, method, path, token, payload)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := hc.Do(req)
		if err != nil {
			if isTransient(err) {
				c.logger.Warn().Err(err).Str("path", path).Msg("transient connection fault, retrying")
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		return resp, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(retryMaxAttempts))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.decodeError(resp)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, payload []byte) (*http.Request, error) {
	var body *bytes.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}

// decodeError shapes a non-2xx response into an *Error. An undecodable
// body still yields a classified error with the status text.
func (c *Client) decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}

	return apiErr
}
