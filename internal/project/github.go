package project

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GitHub defaults.
const (
	DefaultGitHubAPI   = "https://api.github.com"
	DefaultGitHubOwner = "tatenmitdaten"
)

// GitHub downloads repository archives from the GitHub REST API.
type GitHub struct {
	Client  *http.Client
	BaseURL string
	Owner   string
}

// NewGitHub returns a client for the default owner.
func NewGitHub() *GitHub {
	return &GitHub{
		Client:  &http.Client{Timeout: 2 * time.Minute},
		BaseURL: DefaultGitHubAPI,
		Owner:   DefaultGitHubOwner,
	}
}

// StatusError reports a non-200 response from GitHub.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface for StatusError.
func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to download repository. Status code: %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Zipball downloads repository at ref as a zip archive.
func (g *GitHub) Zipball(ctx context.Context, repository, ref, token string) ([]byte, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/zipball/%s", strings.TrimRight(g.BaseURL, "/"), g.Owner, repository, ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
