package cache

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/bytedance/sonic"
)

// ThumbnailPrefix keeps thumbnail artifacts in their own file namespace.
const ThumbnailPrefix = "thumb_"

// ScreenshotKeyFields is the output-affecting subset of a screenshot
// request. Field order is part of the key and must not change.
type ScreenshotKeyFields struct {
	URL      string  `json:"url"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FullPage bool    `json:"fullPage"`
	Format   string  `json:"format"`
	Selector *string `json:"selector"`
}

// ThumbnailKeyFields is the output-affecting subset of a thumbnail request.
type ThumbnailKeyFields struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	Type   string `json:"type"`
}

// ScreenshotKey derives the cache key for a screenshot.
func ScreenshotKey(f ScreenshotKeyFields) string {
	return digest(f)
}

// ThumbnailKey derives the cache key for a thumbnail. Type is forced to
// "thumbnail" so the two key spaces never overlap.
func ThumbnailKey(f ThumbnailKeyFields) string {
	f.Type = TypeThumbnail
	return digest(f)
}

// ScreenshotFilename is the artifact name for a screenshot key.
func ScreenshotFilename(key, format string) string {
	return key + "." + format
}

// ThumbnailFilename is the artifact name for a thumbnail key.
func ThumbnailFilename(key, format string) string {
	return ThumbnailPrefix + key + "." + format
}

func digest(v any) string {
	// sonic's default config leaves <, > and & unescaped, which keeps
	// keys stable for URLs carrying query strings.
	data, err := sonic.ConfigDefault.Marshal(v)
	if err != nil {
		// Both key structs only hold strings, ints and bools.
		panic(err)
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
