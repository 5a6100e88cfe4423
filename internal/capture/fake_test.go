package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/creatorstation/capture/internal/admission"
	"github.com/creatorstation/capture/internal/cache"
	"github.com/creatorstation/capture/internal/metrics"
	"github.com/creatorstation/capture/pkg/browser"
	"github.com/creatorstation/capture/pkg/img"
)

// fakeRenderer hands out in-memory sessions and records what they were
// asked to do. Failures are injected through the *Err fields.
type fakeRenderer struct {
	png []byte

	newErr    error
	navErr    error
	maskErr   error
	shotErr   error
	shotPanic bool
	block     chan struct{}

	sessions   atomic.Int64
	open       atomic.Int64
	navigating atomic.Int64

	mu          sync.Mutex
	lastSession browser.SessionOptions
	lastNav     browser.NavigateOptions
	lastShot    browser.ShotOptions
	masked      []string
}

func newFakeRenderer(t *testing.T) *fakeRenderer {
	t.Helper()
	m := image.NewRGBA(image.Rect(0, 0, 200, 150))
	for y := 0; y < 150; y++ {
		for x := 0; x < 200; x++ {
			m.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, m))
	return &fakeRenderer{png: buf.Bytes()}
}

func (f *fakeRenderer) Ready() bool { return true }

func (f *fakeRenderer) NewSession(_ context.Context, opts browser.SessionOptions) (browser.Session, error) {
	if f.newErr != nil {
		return nil, f.newErr
	}
	f.sessions.Add(1)
	f.open.Add(1)
	f.mu.Lock()
	f.lastSession = opts
	f.mu.Unlock()
	return &fakeSession{f: f}, nil
}

type fakeSession struct {
	f      *fakeRenderer
	closed atomic.Bool
}

func (s *fakeSession) Navigate(ctx context.Context, _ string, opts browser.NavigateOptions) error {
	s.f.navigating.Add(1)
	s.f.mu.Lock()
	s.f.lastNav = opts
	s.f.mu.Unlock()

	if s.f.block != nil {
		select {
		case <-s.f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.f.navErr
}

func (s *fakeSession) Mask(_ context.Context, selectors []string) error {
	s.f.mu.Lock()
	s.f.masked = append(s.f.masked, selectors...)
	s.f.mu.Unlock()
	return s.f.maskErr
}

func (s *fakeSession) Screenshot(_ context.Context, opts browser.ShotOptions) ([]byte, error) {
	s.f.mu.Lock()
	s.f.lastShot = opts
	s.f.mu.Unlock()

	if s.f.shotPanic {
		panic("renderer exploded")
	}
	if s.f.shotErr != nil {
		return nil, s.f.shotErr
	}
	return s.f.png, nil
}

func (s *fakeSession) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.f.open.Add(-1)
	}
	return nil
}

type failingProcessor struct{ err error }

func (p failingProcessor) Process([]byte, img.Options) (*img.Result, error) {
	return nil, p.err
}

// recordingProcessor remembers the options of every Process call.
type recordingProcessor struct {
	inner ImageProcessor

	mu   sync.Mutex
	opts []img.Options
}

func (p *recordingProcessor) Process(raw []byte, opts img.Options) (*img.Result, error) {
	p.mu.Lock()
	p.opts = append(p.opts, opts)
	p.mu.Unlock()
	return p.inner.Process(raw, opts)
}

func (p *recordingProcessor) last() img.Options {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts[len(p.opts)-1]
}

type harness struct {
	coord     *Coordinator
	store     *cache.Store
	admission *admission.Controller
	renderer  *fakeRenderer
	metrics   *metrics.Metrics
	slept     atomic.Int64
}

func newHarness(t *testing.T, max int, opts Options) *harness {
	t.Helper()
	root := t.TempDir()

	idx, err := cache.NewFileIndex(filepath.Join(root, "cache"))
	require.NoError(t, err)
	st, err := cache.NewStore(idx, filepath.Join(root, "screenshots"), time.Hour, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{
		store:     st,
		admission: admission.New(max),
		renderer:  newFakeRenderer(t),
		metrics:   metrics.New(),
	}
	opts.Metrics = h.metrics
	h.coord = NewCoordinator(st, h.admission, h.renderer, img.NewProcessor(), opts)
	h.coord.sleep = func(d time.Duration) { h.slept.Add(int64(d)) }
	return h
}

func exampleRequest() ScreenshotRequest {
	req := NewScreenshotRequest()
	req.URL = "https://example.com"
	req.Width = 800
	req.Height = 600
	req.Format = "png"
	return req
}
