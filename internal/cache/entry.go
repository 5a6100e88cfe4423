package cache

import (
	"time"

	"github.com/pkg/errors"
)

const (
	TypeScreenshot = "screenshot"
	TypeThumbnail  = "thumbnail"
)

var (
	// ErrNotFound is returned when an entry or artifact does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidName is returned for artifact names that are not plain
	// file names.
	ErrInvalidName = errors.New("invalid artifact name")
)

// Meta describes the cached image.
type Meta struct {
	URL    string
	Width  int
	Height int
	Format string
	Type   string
}

// Entry is one cache index record.
type Entry struct {
	Key       string
	Filename  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Meta
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Artifact is one stored image file.
type Artifact struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
}

// Stats summarises the index and the artifact directory.
type Stats struct {
	CacheEntries    int    `json:"cacheEntries"`
	ValidEntries    int    `json:"validEntries"`
	ExpiredEntries  int    `json:"expiredEntries"`
	ScreenshotCount int    `json:"screenshotCount"`
	TotalSizeBytes  int64  `json:"totalSizeBytes"`
	TotalSizeMB     string `json:"totalSizeMB"`
}

// record is the persisted form of an Entry. Timestamps are unix millis.
type record struct {
	Key      string `json:"key"`
	Filename string `json:"filename"`
	Expires  int64  `json:"expires"`
	Created  int64  `json:"created"`
	URL      string `json:"url"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
	Type     string `json:"type,omitempty"`
}

func toRecord(e *Entry) record {
	return record{
		Key:      e.Key,
		Filename: e.Filename,
		Expires:  e.ExpiresAt.UnixMilli(),
		Created:  e.CreatedAt.UnixMilli(),
		URL:      e.URL,
		Width:    e.Width,
		Height:   e.Height,
		Format:   e.Format,
		Type:     e.Type,
	}
}

func (r record) entry() *Entry {
	return &Entry{
		Key:       r.Key,
		Filename:  r.Filename,
		CreatedAt: time.UnixMilli(r.Created),
		ExpiresAt: time.UnixMilli(r.Expires),
		Meta: Meta{
			URL:    r.URL,
			Width:  r.Width,
			Height: r.Height,
			Format: r.Format,
			Type:   r.Type,
		},
	}
}
