package capture

import (
	"net/url"

	v "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/pkg/errors"

	"github.com/creatorstation/capture/internal/cache"
	"github.com/creatorstation/capture/pkg/browser"
	"github.com/creatorstation/capture/pkg/img"
)

// ScreenshotRequest is the body of POST /screenshot. Timeout and Delay are
// milliseconds.
type ScreenshotRequest struct {
	URL           string   `json:"url"`
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	FullPage      bool     `json:"fullPage"`
	Format        string   `json:"format"`
	Quality       int      `json:"quality"`
	Timeout       int      `json:"timeout"`
	WaitUntil     string   `json:"waitUntil"`
	Delay         int      `json:"delay"`
	Selector      string   `json:"selector"`
	MaskSelectors []string `json:"maskSelectors"`
	DeviceScale   float64  `json:"deviceScale"`
	UseCache      bool     `json:"useCache"`
}

// NewScreenshotRequest returns a request with every default filled in.
// Decoding a JSON body on top of it keeps the defaults for absent fields.
func NewScreenshotRequest() ScreenshotRequest {
	return ScreenshotRequest{
		Width:       1280,
		Height:      800,
		Format:      string(img.PNG),
		Quality:     80,
		Timeout:     30000,
		WaitUntil:   browser.WaitNetworkIdle,
		DeviceScale: 1,
		UseCache:    true,
	}
}

func (r ScreenshotRequest) Validate() error {
	return v.ValidateStruct(&r,
		v.Field(&r.URL, v.Required, is.URL, v.By(absoluteHTTP)),
		v.Field(&r.Width, v.Required, v.Min(1), v.Max(10000)),
		v.Field(&r.Height, v.Required, v.Min(1), v.Max(10000)),
		v.Field(&r.Format, v.Required, v.By(knownFormat)),
		v.Field(&r.Quality, v.Min(0), v.Max(100)),
		v.Field(&r.Timeout, v.Required, v.Min(1), v.Max(120000)),
		v.Field(&r.WaitUntil, v.In(browser.WaitLoad, browser.WaitDOMContentLoaded, browser.WaitNetworkIdle, browser.WaitCommit)),
		v.Field(&r.Delay, v.Min(0), v.Max(60000)),
		v.Field(&r.DeviceScale, v.Required, v.Min(0.0).Exclusive(), v.Max(4.0)),
	)
}

// normalize canonicalises the format after validation.
func (r *ScreenshotRequest) normalize() {
	f, _ := img.ParseFormat(r.Format)
	r.Format = string(f)
	if r.WaitUntil == "" {
		r.WaitUntil = browser.WaitNetworkIdle
	}
}

func (r ScreenshotRequest) keyFields() cache.ScreenshotKeyFields {
	f := cache.ScreenshotKeyFields{
		URL:      r.URL,
		Width:    r.Width,
		Height:   r.Height,
		FullPage: r.FullPage,
		Format:   r.Format,
	}
	if r.Selector != "" {
		sel := r.Selector
		f.Selector = &sel
	}
	return f
}

// ThumbnailRequest is the body of POST /thumbnail.
type ThumbnailRequest struct {
	URL      string `json:"url"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
	Quality  int    `json:"quality"`
	UseCache bool   `json:"useCache"`
}

func NewThumbnailRequest() ThumbnailRequest {
	return ThumbnailRequest{
		Width:    320,
		Height:   200,
		Format:   string(img.WEBP),
		Quality:  75,
		UseCache: true,
	}
}

func (r ThumbnailRequest) Validate() error {
	return v.ValidateStruct(&r,
		v.Field(&r.URL, v.Required, is.URL, v.By(absoluteHTTP)),
		v.Field(&r.Width, v.Required, v.Min(1), v.Max(4000)),
		v.Field(&r.Height, v.Required, v.Min(1), v.Max(4000)),
		v.Field(&r.Format, v.Required, v.By(knownFormat)),
		v.Field(&r.Quality, v.Min(0), v.Max(100)),
	)
}

func (r *ThumbnailRequest) normalize() {
	f, _ := img.ParseFormat(r.Format)
	r.Format = string(f)
}

func (r ThumbnailRequest) keyFields() cache.ThumbnailKeyFields {
	return cache.ThumbnailKeyFields{
		URL:    r.URL,
		Width:  r.Width,
		Height: r.Height,
		Format: r.Format,
	}
}

func absoluteHTTP(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
}

func knownFormat(value interface{}) error {
	s, _ := value.(string)
	if _, ok := img.ParseFormat(s); !ok {
		return errors.New("must be one of png, jpeg, webp")
	}
	return nil
}
