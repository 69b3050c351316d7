package update

import (
	"context"
	"time"
)

// Release is the normalized metadata of one published release.
type Release struct {
	Tag         string    `json:"tag"`
	Name        string    `json:"name"`
	ArchiveURL  string    `json:"archive_url"`
	InfoURL     string    `json:"info_url"`
	PublishedAt time.Time `json:"published_at"`
}

// Version returns the release tag with any leading marker removed.
func (r *Release) Version() string {
	return NormalizeVersion(r.Tag)
}

// ReleaseFeed resolves the latest published release.
type ReleaseFeed interface {
	Latest(ctx context.Context) (*Release, error)
}

// ArtifactFetcher downloads a release archive to a local path. A failed
// transfer must not leave a partial file at dest.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, url, dest string) (int64, error)
}

// Extraction is the result of unpacking an archive.
type Extraction struct {
	// Root is the effective release root inside the extraction directory.
	Root string

	// Skipped lists entries that were not written (links and special
	// files), relative to Root.
	Skipped []string
}

// Extractor unpacks an archive into dir.
type Extractor interface {
	Extract(archivePath, dir string) (*Extraction, error)
}

// Availability is the tri-state answer to "is there a newer release".
type Availability int

const (
	AvailabilityUnknown Availability = iota
	AvailabilityUpToDate
	AvailabilityAvailable
)

func (a Availability) String() string {
	switch a {
	case AvailabilityUpToDate:
		return "up-to-date"
	case AvailabilityAvailable:
		return "available"
	default:
		return "unknown"
	}
}

// CheckAvailability compares the installed version against a resolved release.
// A nil release means the feed could not be read, which is Unknown, not "no".
func CheckAvailability(current string, release *Release) Availability {
	if release == nil || release.Tag == "" {
		return AvailabilityUnknown
	}
	if CompareVersions(current, release.Version()) < 0 {
		return AvailabilityAvailable
	}
	return AvailabilityUpToDate
}
