// Package capture runs capture jobs: cache lookup, admission, rendering,
// post-processing and cache write, with the browser session and the
// admission slot released on every exit path.
package capture

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/creatorstation/capture/internal/admission"
	"github.com/creatorstation/capture/internal/cache"
	"github.com/creatorstation/capture/internal/metrics"
	"github.com/creatorstation/capture/pkg/browser"
	"github.com/creatorstation/capture/pkg/img"
)

// Thumbnails are always rendered at this viewport before cropping.
const (
	thumbnailViewportWidth  = 1280
	thumbnailViewportHeight = 800
	thumbnailTimeout        = 30 * time.Second
)

// ImageProcessor turns a raw PNG capture into the requested output.
type ImageProcessor interface {
	Process(raw []byte, opts img.Options) (*img.Result, error)
}

// Result describes the artifact a job produced or found in the cache.
type Result struct {
	Cached   bool
	Filename string
	Width    int
	Height   int
}

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Dedupe joins concurrent identical cache misses onto a single render.
	Dedupe bool
}

type Coordinator struct {
	store     *cache.Store
	admission *admission.Controller
	renderer  browser.Renderer
	images    ImageProcessor
	metrics   *metrics.Metrics
	log       *zap.Logger
	group     *singleflight.Group

	sleep func(time.Duration)
}

func NewCoordinator(store *cache.Store, adm *admission.Controller, renderer browser.Renderer, images ImageProcessor, opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := &Coordinator{
		store:     store,
		admission: adm,
		renderer:  renderer,
		images:    images,
		metrics:   opts.Metrics,
		log:       log,
		sleep:     time.Sleep,
	}
	if opts.Dedupe {
		c.group = &singleflight.Group{}
	}
	return c
}

// plan is everything execute needs to know about one job.
type plan struct {
	key      string
	filename string
	useCache bool
	meta     cache.Meta
	render   func(ctx context.Context, j *job) (*img.Result, error)
}

// flightKey separates cached from uncached jobs so a caller never inherits
// another caller's cache-write behaviour.
func (p plan) flightKey() string {
	if p.useCache {
		return p.key
	}
	return p.key + "|nocache"
}

// shot describes one browser capture.
type shot struct {
	session  browser.SessionOptions
	navigate browser.NavigateOptions
	delay    time.Duration
	masks    []string
	capture  browser.ShotOptions
}

// Screenshot captures req.URL as requested, or returns the cached artifact.
func (c *Coordinator) Screenshot(ctx context.Context, req ScreenshotRequest) (*Result, error) {
	j := newJob(c.log, jobScreenshot, req.URL)
	if err := req.Validate(); err != nil {
		return nil, c.failed(j, newError(KindValidation, req.URL, err))
	}
	req.normalize()

	key := cache.ScreenshotKey(req.keyFields())
	j.withKey(key)

	timeout := time.Duration(req.Timeout) * time.Millisecond
	s := shot{
		session:  browser.SessionOptions{Width: req.Width, Height: req.Height, DeviceScale: req.DeviceScale},
		navigate: browser.NavigateOptions{WaitUntil: req.WaitUntil, Timeout: timeout},
		delay:    time.Duration(req.Delay) * time.Millisecond,
		masks:    req.MaskSelectors,
		capture:  browser.ShotOptions{FullPage: req.FullPage, Selector: req.Selector},
	}

	// Quality only means something for jpeg screenshots.
	var quality *int
	if req.Format == string(img.JPEG) {
		quality = img.Quality(req.Quality)
	}

	return c.execute(ctx, j, plan{
		key:      key,
		filename: cache.ScreenshotFilename(key, req.Format),
		useCache: req.UseCache,
		meta:     cache.Meta{URL: req.URL, Format: req.Format, Type: cache.TypeScreenshot},
		render: func(ctx context.Context, j *job) (*img.Result, error) {
			raw, err := c.capture(ctx, j, s)
			if err != nil {
				return nil, err
			}
			j.enter(StatePostProcessing)
			return c.process(j, raw, img.Options{Format: img.Format(req.Format), Quality: quality})
		},
	})
}

// Thumbnail renders the page at a fixed viewport, then cover-crops it to
// the requested size.
func (c *Coordinator) Thumbnail(ctx context.Context, req ThumbnailRequest) (*Result, error) {
	j := newJob(c.log, jobThumbnail, req.URL)
	if err := req.Validate(); err != nil {
		return nil, c.failed(j, newError(KindValidation, req.URL, err))
	}
	req.normalize()

	key := cache.ThumbnailKey(req.keyFields())
	j.withKey(key)

	s := shot{
		session:  browser.SessionOptions{Width: thumbnailViewportWidth, Height: thumbnailViewportHeight, DeviceScale: 1},
		navigate: browser.NavigateOptions{WaitUntil: browser.WaitNetworkIdle, Timeout: thumbnailTimeout},
		capture:  browser.ShotOptions{FullPage: true},
	}

	return c.execute(ctx, j, plan{
		key:      key,
		filename: cache.ThumbnailFilename(key, req.Format),
		useCache: req.UseCache,
		meta: cache.Meta{
			URL:    req.URL,
			Width:  req.Width,
			Height: req.Height,
			Format: req.Format,
			Type:   cache.TypeThumbnail,
		},
		render: func(ctx context.Context, j *job) (*img.Result, error) {
			raw, err := c.capture(ctx, j, s)
			if err != nil {
				return nil, err
			}
			j.enter(StatePostProcessing)
			return c.process(j, raw, img.Options{
				Format:  img.Format(req.Format),
				Quality: img.Quality(req.Quality),
				Width:   req.Width,
				Height:  req.Height,
			})
		},
	})
}

func (c *Coordinator) execute(ctx context.Context, j *job, p plan) (*Result, error) {
	if p.useCache {
		if e, ok := c.store.Lookup(ctx, p.key); ok {
			c.countLookup("hit")
			j.enter(StateCacheHit)
			j.enter(StateDone)
			c.countJob(j, "cache_hit")
			return &Result{Cached: true, Filename: e.Filename, Width: e.Width, Height: e.Height}, nil
		}
		c.countLookup("miss")
	}
	j.enter(StateCacheMiss)

	var (
		res *Result
		err error
	)
	if c.group != nil {
		var v any
		var shared bool
		v, err, shared = c.group.Do(p.flightKey(), func() (any, error) {
			return c.admitAndRender(ctx, j, p)
		})
		if shared {
			j.log.Debug("joined in-flight render")
		}
		res, _ = v.(*Result)
	} else {
		res, err = c.admitAndRender(ctx, j, p)
	}

	if err != nil {
		return nil, c.failed(j, err)
	}

	j.enter(StateDone)
	c.countJob(j, "rendered")
	return res, nil
}

// admitAndRender holds an admission slot for the whole render and
// persistence. The slot is released on every return path, panics included.
func (c *Coordinator) admitAndRender(ctx context.Context, j *job, p plan) (*Result, error) {
	slot, ok := c.admission.TryAcquire()
	if !ok {
		if c.metrics != nil {
			c.metrics.Rejected.Inc()
		}
		return nil, newError(KindRejected, j.url, ErrTooManyRequests)
	}
	defer slot.Release()

	if c.metrics != nil {
		c.metrics.ActiveJobs.Inc()
		defer c.metrics.ActiveJobs.Dec()
	}
	j.enter(StateAdmitted)

	start := time.Now()
	out, err := p.render(ctx, j)
	if c.metrics != nil {
		c.metrics.Duration.WithLabelValues(j.kind).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}

	if err := c.store.WriteArtifact(p.filename, out.Data); err != nil {
		return nil, newError(KindStorage, j.url, errors.Wrap(err, "failed to save capture"))
	}

	if p.useCache {
		meta := p.meta
		if meta.Width == 0 || meta.Height == 0 {
			meta.Width, meta.Height = out.Width, out.Height
		}
		// The image is already on disk, so a failed index write only costs
		// a future cache miss.
		if _, err := c.store.Store(ctx, p.key, p.filename, meta); err != nil {
			j.log.Error("failed to record cache entry", zap.Error(err))
		} else {
			j.enter(StateCached)
		}
	}

	return &Result{Filename: p.filename, Width: out.Width, Height: out.Height}, nil
}

// capture opens a session, drives it and closes it before returning.
func (c *Coordinator) capture(ctx context.Context, j *job, s shot) ([]byte, error) {
	j.enter(StateRendering)

	sess, err := c.renderer.NewSession(ctx, s.session)
	if err != nil {
		return nil, newError(KindRender, j.url, errors.Wrap(err, "failed to open browser session"))
	}
	defer func() {
		if err := sess.Close(); err != nil {
			j.log.Warn("failed to close browser session", zap.Error(err))
		}
	}()

	navCtx, cancel := context.WithTimeout(ctx, s.navigate.Timeout)
	defer cancel()
	if err := sess.Navigate(navCtx, j.url, s.navigate); err != nil {
		if errors.Is(err, browser.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(KindNavigationTimeout, j.url, err)
		}
		return nil, newError(KindNavigationFailure, j.url, err)
	}

	if s.delay > 0 {
		c.sleep(s.delay)
	}

	if len(s.masks) > 0 {
		if err := sess.Mask(ctx, s.masks); err != nil {
			return nil, newError(KindRender, j.url, err)
		}
	}

	raw, err := sess.Screenshot(ctx, s.capture)
	if err != nil {
		if errors.Is(err, browser.ErrElementNotFound) {
			return nil, newError(KindElementNotFound, j.url, err)
		}
		return nil, newError(KindRender, j.url, err)
	}
	return raw, nil
}

func (c *Coordinator) process(j *job, raw []byte, opts img.Options) (*img.Result, error) {
	out, err := c.images.Process(raw, opts)
	if err != nil {
		return nil, newError(KindEncoding, j.url, err)
	}
	return out, nil
}

func (c *Coordinator) failed(j *job, err error) error {
	j.fail(err)
	kind := KindOf(err)
	c.countJob(j, strings.ToLower(kind.String()))

	if kind.Status() >= 500 {
		j.log.Error("capture failed", zap.String("code", kind.String()), zap.Error(err))
	} else {
		j.log.Info("capture refused", zap.String("code", kind.String()), zap.Error(err))
	}
	return err
}

func (c *Coordinator) countLookup(result string) {
	if c.metrics != nil {
		c.metrics.CacheLookup.WithLabelValues(result).Inc()
	}
}

func (c *Coordinator) countJob(j *job, outcome string) {
	if c.metrics != nil {
		c.metrics.Jobs.WithLabelValues(j.kind, outcome).Inc()
	}
}
