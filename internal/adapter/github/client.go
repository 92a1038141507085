// Package github provides a minimal REST client for the source-control host.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// User is a host account.
type User struct {
	Login string `json:"login"`
}

// Label is an issue label.
type Label struct {
	Name string `json:"name"`
}

// Issue is an issue or pull request as returned by the issues endpoint.
type Issue struct {
	Number  int     `json:"number"`
	Title   string  `json:"title"`
	Body    string  `json:"body"`
	State   string  `json:"state"`
	HTMLURL string  `json:"html_url"`
	User    User    `json:"user"`
	Labels  []Label `json:"labels"`
}

// Comment is a review or conversation comment.
type Comment struct {
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	Path      string    `json:"path,omitempty"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the host REST API for a single repository.
type Client struct {
	httpClient *http.Client
	baseURL    string
	repo       string
	token      string
}

// NewClient creates a new client for repo ("owner/name").
func NewClient(baseURL, repo, token string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		repo:       repo,
		token:      token,
	}
}

// Repo returns the repository the client is bound to.
func (c *Client) Repo() string {
	return c.repo
}

// GetIssue fetches an issue or pull request.
func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	var issue Issue
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/issues/%d", c.repo, number), nil, &issue); err != nil {
		return nil, fmt.Errorf("get issue #%d: %w", number, err)
	}
	return &issue, nil
}

// ListPRFiles returns the paths changed by a pull request. A missing pull
// request yields no files rather than an error.
func (c *Client) ListPRFiles(ctx context.Context, number int) ([]string, error) {
	var files []struct {
		Filename string `json:"filename"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/pulls/%d/files?per_page=100", c.repo, number), nil, &files)
	if se, ok := err.(*StatusError); ok && se.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list files of PR #%d: %w", number, err)
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Filename)
	}
	return out, nil
}

// ListReviewComments returns review comments followed by conversation
// comments of a pull request.
func (c *Client) ListReviewComments(ctx context.Context, number int) ([]Comment, error) {
	var review, conversation []Comment
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/pulls/%d/comments?per_page=100", c.repo, number), nil, &review); err != nil {
		return nil, fmt.Errorf("list review comments of PR #%d: %w", number, err)
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/issues/%d/comments?per_page=100", c.repo, number), nil, &conversation); err != nil {
		return nil, fmt.Errorf("list comments of PR #%d: %w", number, err)
	}
	return append(review, conversation...), nil
}

// PostComment adds a conversation comment to an issue or pull request.
func (c *Client) PostComment(ctx context.Context, number int, body string) error {
	payload := map[string]string{"body": body}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/issues/%d/comments", c.repo, number), payload, nil); err != nil {
		return fmt.Errorf("post comment on #%d: %w", number, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
