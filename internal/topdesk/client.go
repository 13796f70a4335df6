package topdesk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	apiPath = "/tas/api"

	// Requests per second against the Topdesk API
	requestRate  = 10
	requestBurst = 5
)

// ErrAuthExpired marks an unauthorized or forbidden response that survived
// one re-login attempt.
var ErrAuthExpired = errors.New("topdesk: authorization expired")

// StatusError is a non-success response from the Topdesk API, including a
// paging status outside the recognized {200, 204, 206} set.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("topdesk: unexpected status %d: %s", e.Code, e.Body)
}

// Client is a token-authenticated HTTP client for the Topdesk API.
// Operator login credentials are exchanged for a token up front; a 401/403
// triggers exactly one re-login and retry before the error surfaces.
type Client struct {
	baseURL  string
	username string
	password string
	token    string
	pageSize int
	client   *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a Topdesk client. Login is deferred until the first
// request so construction never does I/O.
func NewClient(baseURL, username, password string, pageSize int) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if pageSize <= 0 {
		pageSize = 100
	}

	return &Client{
		baseURL:  baseURL + apiPath,
		username: username,
		password: password,
		pageSize: pageSize,
		client:   &http.Client{},
		limiter:  rate.NewLimiter(rate.Limit(requestRate), requestBurst),
	}
}

// Login exchanges the operator credentials for an API token
func (c *Client) Login(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/login/operator", nil)
	if err != nil {
		return fmt.Errorf("failed to create login request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute login request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read login response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	c.token = strings.TrimSpace(string(body))
	log.Debug().Str("operator", c.username).Msg("obtained topdesk login token")
	return nil
}

// get performs an authenticated GET and returns the open response body.
// The caller owns the body. On 401/403 the client re-logs-in and retries
// the request once.
func (c *Client) get(ctx context.Context, path string, params url.Values, accept string) (*http.Response, error) {
	if c.token == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.do(ctx, path, params, accept)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		log.Warn().Int("status", resp.StatusCode).Str("path", path).
			Msg("topdesk token rejected, re-authenticating")

		if err := c.Login(ctx); err != nil {
			return nil, fmt.Errorf("%w: re-login failed: %v", ErrAuthExpired, err)
		}

		resp, err = c.do(ctx, path, params, accept)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("%w: status %d: %s", ErrAuthExpired, resp.StatusCode, string(body))
		}
	}

	return resp, nil
}

func (c *Client) do(ctx context.Context, path string, params url.Values, accept string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	requestURL := c.baseURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Accept", accept)
	req.Header.Add("Authorization", fmt.Sprintf("TOKEN id=%q", c.token))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	return resp, nil
}

// Raw downloads binary content by locator, typically an attachment
// download URL from a progress-trail entry. Locators arrive either
// relative to the API root or as full /tas/api paths; the prefix is
// stripped so both forms work. The caller must close the returned body.
func (c *Client) Raw(ctx context.Context, locator string) (io.ReadCloser, error) {
	locator = strings.TrimPrefix(locator, apiPath)
	if !strings.HasPrefix(locator, "/") {
		locator = "/" + locator
	}

	resp, err := c.get(ctx, locator, nil, "*/*")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	return resp.Body, nil
}
