package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	apiPath = "/rest/api/2"

	// Requests per second against the Jira API
	requestRate  = 10
	requestBurst = 5
)

// ErrIssueNotFound is returned by GetIssue for a 404. Callers branch on
// it directly instead of treating every error as "not found".
var ErrIssueNotFound = errors.New("jira: issue not found")

// ErrAuthExpired marks an unauthorized or forbidden response
var ErrAuthExpired = errors.New("jira: authorization rejected")

// StatusError is a non-success response from the Jira API
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jira: unexpected status %d: %s", e.Code, e.Body)
}

// Issue is the subset of a Jira issue the bridge reads back
type Issue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
		Status  struct {
			Name string `json:"name"`
		} `json:"status"`
	} `json:"fields"`
}

// Client is a basic-auth HTTP client for the Jira REST API
type Client struct {
	baseURL   string
	username  string
	password  string
	issueType string
	client    *http.Client
	limiter   *rate.Limiter
}

// NewClient creates a Jira client. issueType is the issue type used for
// newly created issues ("Task" by default, it almost universally exists).
func NewClient(baseURL, username, password, issueType string) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if issueType == "" {
		issueType = "Task"
	}

	return &Client{
		baseURL:   baseURL + apiPath,
		username:  username,
		password:  password,
		issueType: issueType,
		client:    &http.Client{},
		limiter:   rate.NewLimiter(rate.Limit(requestRate), requestBurst),
	}
}

func (c *Client) do(ctx context.Context, method, path string, contentType string, body io.Reader, extraHeader http.Header) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range extraHeader {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	return resp, nil
}

// statusError drains the body into a StatusError, wrapping ErrAuthExpired
// for 401/403 so callers can tell credential trouble from the rest.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	err := &StatusError{Code: resp.StatusCode, Body: string(body)}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}
	return err
}

// CreateIssue creates a new issue and returns its key. externalRef lands
// in the configured custom field so the source incident can be traced
// back from Jira.
func (c *Client) CreateIssue(ctx context.Context, projectKey, summary, description, externalRefField, externalRef string) (string, error) {
	fields := map[string]interface{}{
		"project":     map[string]string{"key": projectKey},
		"summary":     summary,
		"issuetype":   map[string]string{"name": c.issueType},
		"description": description,
	}
	if externalRefField != "" {
		fields[externalRefField] = externalRef
	}

	payload, err := json.Marshal(map[string]interface{}{"fields": fields})
	if err != nil {
		return "", fmt.Errorf("failed to marshal issue payload: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/issue", "application/json", bytes.NewReader(payload), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", statusError(resp)
	}

	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode created issue: %w", err)
	}

	log.Debug().Str("issue", created.Key).Str("project", projectKey).Msg("created jira issue")
	return created.Key, nil
}

// GetIssue fetches an issue by key, returning ErrIssueNotFound on 404
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	resp, err := c.do(ctx, http.MethodGet, "/issue/"+url.PathEscape(key), "", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrIssueNotFound, key)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var issue Issue
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return nil, fmt.Errorf("failed to decode issue: %w", err)
	}
	return &issue, nil
}

// AddComment posts a comment on an issue
func (c *Client) AddComment(ctx context.Context, key, body string) error {
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return fmt.Errorf("failed to marshal comment payload: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/issue/"+url.PathEscape(key)+"/comment", "application/json", bytes.NewReader(payload), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return statusError(resp)
	}
	return nil
}

// AddAttachment uploads a file to an issue. The content is streamed from
// r through a pipe into the request body, never held in memory as a
// whole; attachments run up to multiple gigabytes. The caller keeps
// ownership of r.
func (c *Client) AddAttachment(ctx context.Context, key, filename string, r io.Reader) error {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("failed to create multipart part: %w", err))
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(fmt.Errorf("failed to copy attachment content: %w", err))
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	header := http.Header{}
	// Jira refuses attachment uploads without the XSRF opt-out header
	header.Set("X-Atlassian-Token", "no-check")

	resp, err := c.do(ctx, http.MethodPost, "/issue/"+url.PathEscape(key)+"/attachments", writer.FormDataContentType(), pr, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}
