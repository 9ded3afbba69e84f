// Package checksums maintains registry tool files against upstream releases:
// it re-hashes recorded artifacts and records digests for new releases.
package checksums

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultGitHubAPI is the public GitHub REST endpoint.
const DefaultGitHubAPI = "https://api.github.com"

// Asset is one file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// Release is the subset of the GitHub release object the updater reads.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	HTMLURL     string    `json:"html_url"`
	PublishedAt time.Time `json:"published_at"`
	Prerelease  bool      `json:"prerelease"`
	Assets      []Asset   `json:"assets"`
}

// Asset returns the download URL of the asset called name.
func (r Release) Asset(name string) (string, bool) {
	for _, a := range r.Assets {
		if a.Name == name {
			return a.BrowserDownloadURL, true
		}
	}
	return "", false
}

// ReleaseDate formats PublishedAt the way tool files record it.
func (r Release) ReleaseDate() string {
	if r.PublishedAt.IsZero() {
		return ""
	}
	return r.PublishedAt.UTC().Format("2006-01-02")
}

// ReleaseClient queries the GitHub releases API.
type ReleaseClient struct {
	BaseURL    string
	Token      string
	UserAgent  string
	HTTPClient *http.Client
}

// Release fetches a release of repo. With no tags it asks for the latest
// release; otherwise each tag is tried in order and a 404 moves on to the
// next one.
func (c *ReleaseClient) Release(ctx context.Context, repo string, tags ...string) (Release, error) {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	var lastErr error
	for _, endpoint := range c.endpoints(repo, tags) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("User-Agent", c.userAgent())
		if c.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.Token)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			lastErr = fmt.Errorf("%s release not found at %s", repo, endpoint)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return Release{}, fmt.Errorf("%s release query failed: %s", repo, resp.Status)
		}

		var release Release
		err = json.NewDecoder(resp.Body).Decode(&release)
		resp.Body.Close()
		if err != nil {
			return Release{}, fmt.Errorf("decode %s release: %w", repo, err)
		}
		return release, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%s release metadata unavailable", repo)
	}
	return Release{}, lastErr
}

func (c *ReleaseClient) endpoints(repo string, tags []string) []string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultGitHubAPI
	}
	base = fmt.Sprintf("%s/repos/%s/releases", base, repo)
	if len(tags) == 0 {
		return []string{base + "/latest"}
	}
	endpoints := make([]string, 0, len(tags))
	for _, tag := range tags {
		endpoints = append(endpoints, fmt.Sprintf("%s/tags/%s", base, url.PathEscape(tag)))
	}
	return endpoints
}

func (c *ReleaseClient) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return "wasmtoolchain/1.0"
}
