package release

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"panelup/internal/update"
)

// FetchOptions configures a Fetcher.
type FetchOptions struct {
	Token     string
	UserAgent string
	Timeout   time.Duration
}

// Fetcher downloads release archives over HTTP.
type Fetcher struct {
	opts   FetchOptions
	client *http.Client
}

var _ update.ArtifactFetcher = (*Fetcher)(nil)

func NewFetcher(opts FetchOptions) *Fetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDownloadTimeout
	}
	return &Fetcher{opts: opts, client: &http.Client{Timeout: opts.Timeout}}
}

// Fetch streams rawURL into a temp file next to dest and renames it over
// dest once the transfer is complete. A failed transfer leaves any
// previous file at dest untouched.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, update.NewError(update.KindConfiguration, "building download request", err)
	}
	if isAssetURL(rawURL) {
		req.Header.Set("Accept", acceptOctetStream)
	}
	setCommonHeaders(req, f.opts.UserAgent, f.opts.Token)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, update.NewError(update.KindNetwork, "downloading release", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, statusError("downloading release", resp)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, update.NewError(update.KindFileSystem, "creating download directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*.tmp")
	if err != nil {
		return 0, update.NewError(update.KindFileSystem, "creating download file", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, update.NewError(update.KindNetwork, "downloading release", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, update.NewError(update.KindFileSystem, "closing download file", err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		os.Remove(tmpPath)
		return 0, update.Errorf(update.KindNetwork, "downloading release", "short body: got %d of %d bytes", n, resp.ContentLength)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return 0, update.NewError(update.KindFileSystem, "moving download into place", fmt.Errorf("%s: %w", dest, err))
	}
	return n, nil
}

// isAssetURL reports whether u is an asset API endpoint, which serves JSON
// unless octet-stream is requested explicitly.
func isAssetURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return strings.Contains(parsed.Path, "/releases/assets/")
}
