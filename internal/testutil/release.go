package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// ReleaseRepository is the repository served by ReleaseServer.
const ReleaseRepository = "acme/panel"

// ReleaseServer is a fake GitHub API serving one "latest" release and its
// source archive.
type ReleaseServer struct {
	*httptest.Server

	mu          sync.Mutex
	tag         string
	archive     []byte
	feedStatus  int
	feedCalls   int
	archiveHits int

	gate    chan struct{}
	entered chan struct{}
}

// NewReleaseServer starts a server publishing tag with the given zip
// archive. It is closed when the test completes.
func NewReleaseServer(t *testing.T, tag string, archive []byte) *ReleaseServer {
	t.Helper()
	rs := &ReleaseServer{tag: tag, archive: archive, feedStatus: http.StatusOK}
	rs.Server = httptest.NewServer(http.HandlerFunc(rs.serve))
	t.Cleanup(rs.Close)
	return rs
}

// SetRelease replaces the published release.
func (rs *ReleaseServer) SetRelease(tag string, archive []byte) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.tag = tag
	rs.archive = archive
}

// SetFeedStatus makes the release endpoint answer with code.
func (rs *ReleaseServer) SetFeedStatus(code int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.feedStatus = code
}

// FeedCalls returns how many times the release endpoint was hit.
func (rs *ReleaseServer) FeedCalls() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.feedCalls
}

// ArchiveHits returns how many times an archive was downloaded.
func (rs *ReleaseServer) ArchiveHits() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.archiveHits
}

// HoldFeed makes release endpoint requests wait until release is called.
// entered receives once for every request that starts waiting.
func (rs *ReleaseServer) HoldFeed() (entered <-chan struct{}, release func()) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.gate = make(chan struct{})
	rs.entered = make(chan struct{}, 16)
	gate := rs.gate
	var once sync.Once
	return rs.entered, func() { once.Do(func() { close(gate) }) }
}

func (rs *ReleaseServer) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/repos/"+ReleaseRepository+"/releases/latest" {
		rs.mu.Lock()
		gate, entered := rs.gate, rs.entered
		rs.mu.Unlock()
		if gate != nil {
			entered <- struct{}{}
			<-gate
		}
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	switch {
	case r.URL.Path == "/repos/"+ReleaseRepository+"/releases/latest":
		rs.feedCalls++
		if rs.feedStatus != http.StatusOK {
			http.Error(w, `{"message":"unavailable"}`, rs.feedStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"tag_name":     rs.tag,
			"name":         "Release " + rs.tag,
			"zipball_url":  rs.URL + "/archive/" + rs.tag + ".zip",
			"html_url":     rs.URL + "/releases/" + rs.tag,
			"published_at": "2024-01-10T09:00:00Z",
		})
	case strings.HasPrefix(r.URL.Path, "/archive/"):
		if strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/archive/"), ".zip") != rs.tag {
			http.NotFound(w, r)
			return
		}
		rs.archiveHits++
		w.Header().Set("Content-Type", "application/zip")
		w.Write(rs.archive)
	default:
		http.NotFound(w, r)
	}
}
