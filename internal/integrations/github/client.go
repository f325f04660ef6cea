// Package github triggers remote builds through GitHub Actions workflow dispatch.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultBaseURL is the public GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com"

var (
	// ErrNotConfigured is returned when no token is set.
	ErrNotConfigured = errors.New("github dispatch is not configured")
	// ErrDispatchFailed is returned when GitHub rejects a dispatch.
	ErrDispatchFailed = errors.New("workflow dispatch failed")
	// ErrInvalidEnv is returned when the env payload is not dotenv syntax.
	ErrInvalidEnv = errors.New("invalid env payload")
)

// Config holds GitHub client configuration.
type Config struct {
	BaseURL  string
	Token    string
	Workflow string
	Timeout  time.Duration
}

// Client is a minimal GitHub API client.
type Client struct {
	hc       *http.Client
	baseURL  string
	token    string
	workflow string
}

// NewClient creates a new GitHub API client.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	workflow := cfg.Workflow
	if workflow == "" {
		workflow = "build.yml"
	}
	return &Client{
		hc:       &http.Client{Timeout: timeout},
		baseURL:  base,
		token:    cfg.Token,
		workflow: workflow,
	}
}

// Configured reports whether the client has a token.
func (c *Client) Configured() bool {
	return c != nil && c.token != ""
}

// DispatchInputs are passed to the build workflow.
type DispatchInputs struct {
	JobID   string `json:"jobId"`
	EnvJSON string `json:"envJson"`
	Workdir string `json:"workdir"`
}

// Dispatch describes one workflow run request.
type Dispatch struct {
	// Repo is owner/name.
	Repo   string
	Ref    string
	Inputs DispatchInputs
}

// DispatchWorkflow asks GitHub to run the build workflow on repo. GitHub
// answers 204 with no run id, so callers learn about the run from the
// callback webhook.
func (c *Client) DispatchWorkflow(ctx context.Context, d Dispatch) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	ref := d.Ref
	if ref == "" {
		ref = "main"
	}
	if d.Inputs.Workdir == "" {
		d.Inputs.Workdir = "."
	}

	body, err := json.Marshal(map[string]any{
		"ref":    ref,
		"inputs": d.Inputs,
	})
	if err != nil {
		return err
	}

	apiURL := fmt.Sprintf("%s/repos/%s/actions/workflows/%s/dispatches", c.baseURL, d.Repo, c.workflow)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrDispatchFailed, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// RepositoryExists checks that repo is visible to the token.
func (c *Client) RepositoryExists(ctx context.Context, repo string) (bool, error) {
	if !c.Configured() {
		return false, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/repos/%s", c.baseURL, repo), nil)
	if err != nil {
		return false, err
	}
	c.setHeaders(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("failed to get repository: status %d", resp.StatusCode)
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}

// EnvJSON parses a dotenv payload and encodes it as a JSON object, the form
// the workflow writes back to a .env file.
func EnvJSON(payload string) (string, error) {
	vars, err := godotenv.Unmarshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEnv, err)
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
