package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"panelup/internal/update"
)

const (
	DefaultAPIBaseURL      = "https://api.github.com"
	DefaultMetadataTimeout = 30 * time.Second
	DefaultDownloadTimeout = 120 * time.Second
	DefaultUserAgent       = "panelup"

	maxErrorBody      = 4 << 10
	acceptGitHubJSON  = "application/vnd.github+json"
	acceptOctetStream = "application/octet-stream"
)

// FeedOptions configures a GitHubFeed.
type FeedOptions struct {
	// Repository is "owner/name".
	Repository string
	APIBaseURL string
	Token      string
	UserAgent  string

	// AssetName selects a release asset to download instead of the
	// source zipball.
	AssetName string

	Timeout time.Duration
}

// GitHubFeed resolves the latest release of a GitHub repository.
type GitHubFeed struct {
	opts   FeedOptions
	client *http.Client
}

var _ update.ReleaseFeed = (*GitHubFeed)(nil)

// NewGitHubFeed creates a feed. Missing options fall back to defaults.
func NewGitHubFeed(opts FeedOptions) (*GitHubFeed, error) {
	if !validRepository(opts.Repository) {
		return nil, update.Errorf(update.KindConfiguration, "release feed", "repository must be owner/name, got %q", opts.Repository)
	}
	if opts.APIBaseURL == "" {
		opts.APIBaseURL = DefaultAPIBaseURL
	}
	opts.APIBaseURL = strings.TrimRight(opts.APIBaseURL, "/")
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultMetadataTimeout
	}
	return &GitHubFeed{opts: opts, client: &http.Client{Timeout: opts.Timeout}}, nil
}

type githubAsset struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type githubRelease struct {
	TagName     string        `json:"tag_name"`
	Name        string        `json:"name"`
	ZipballURL  string        `json:"zipball_url"`
	HTMLURL     string        `json:"html_url"`
	PublishedAt time.Time     `json:"published_at"`
	Assets      []githubAsset `json:"assets"`
}

// Latest fetches /repos/{repo}/releases/latest.
func (f *GitHubFeed) Latest(ctx context.Context) (*update.Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", f.opts.APIBaseURL, f.opts.Repository)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, update.NewError(update.KindConfiguration, "building release request", err)
	}
	req.Header.Set("Accept", acceptGitHubJSON)
	setCommonHeaders(req, f.opts.UserAgent, f.opts.Token)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, update.NewError(update.KindNetwork, "fetching latest release", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("fetching latest release", resp)
	}

	var gr githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, update.NewError(update.KindNetwork, "decoding release metadata", err)
	}

	rel := &update.Release{
		Tag:         gr.TagName,
		Name:        gr.Name,
		ArchiveURL:  gr.ZipballURL,
		InfoURL:     gr.HTMLURL,
		PublishedAt: gr.PublishedAt,
	}
	if f.opts.AssetName != "" {
		for _, a := range gr.Assets {
			if a.Name == f.opts.AssetName {
				rel.ArchiveURL = a.URL
				break
			}
		}
	}
	if rel.Tag == "" {
		return nil, update.Errorf(update.KindConfiguration, "fetching latest release", "release has no tag_name")
	}
	if rel.ArchiveURL == "" {
		return nil, update.Errorf(update.KindConfiguration, "fetching latest release", "release %s has no archive url", rel.Tag)
	}
	return rel, nil
}

func setCommonHeaders(req *http.Request, userAgent, token string) {
	req.Header.Set("User-Agent", userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// statusError turns a non-2xx response into a network error carrying the
// status and the start of the body.
func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return update.Errorf(update.KindNetwork, op, "unexpected status %s", resp.Status)
	}
	return update.Errorf(update.KindNetwork, op, "unexpected status %s: %s", resp.Status, msg)
}

func validRepository(repo string) bool {
	owner, name, ok := strings.Cut(repo, "/")
	return ok && owner != "" && name != "" && !strings.Contains(name, "/")
}
