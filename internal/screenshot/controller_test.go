package screenshot

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorstation/capture/internal/admission"
	"github.com/creatorstation/capture/internal/cache"
	"github.com/creatorstation/capture/internal/capture"
	"github.com/creatorstation/capture/internal/metrics"
	"github.com/creatorstation/capture/pkg/browser"
	"github.com/creatorstation/capture/pkg/img"
)

const testKey = "secret"

type stubRenderer struct {
	png    []byte
	navErr error
}

func (r *stubRenderer) Ready() bool { return true }

func (r *stubRenderer) NewSession(context.Context, browser.SessionOptions) (browser.Session, error) {
	return &stubSession{r: r}, nil
}

type stubSession struct{ r *stubRenderer }

func (s *stubSession) Navigate(context.Context, string, browser.NavigateOptions) error {
	return s.r.navErr
}

func (s *stubSession) Mask(context.Context, []string) error { return nil }

func (s *stubSession) Screenshot(context.Context, browser.ShotOptions) ([]byte, error) {
	return s.r.png, nil
}

func (s *stubSession) Close() error { return nil }

type fixture struct {
	app       *fiber.App
	store     *cache.Store
	admission *admission.Controller
	renderer  *stubRenderer
}

func newFixture(t *testing.T, apiKey string) *fixture {
	t.Helper()
	root := t.TempDir()

	m := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for i := range m.Pix {
		m.Pix[i] = 0xff
	}
	m.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, m))

	idx, err := cache.NewFileIndex(filepath.Join(root, "cache"))
	require.NoError(t, err)
	st, err := cache.NewStore(idx, filepath.Join(root, "screenshots"), time.Hour, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		app:       fiber.New(),
		store:     st,
		admission: admission.New(2),
		renderer:  &stubRenderer{png: buf.Bytes()},
	}
	met := metrics.New()
	coord := capture.NewCoordinator(st, f.admission, f.renderer, img.NewProcessor(), capture.Options{Metrics: met})

	NewController(Deps{
		Coordinator: coord,
		Store:       st,
		Admission:   f.admission,
		Renderer:    f.renderer,
		Metrics:     met,
		APIKey:      apiKey,
	}).MountController(f.app)
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	req.Header.Set("X-API-Key", testKey)

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, sonic.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestHealthNeedsNoKey(t *testing.T) {
	f := newFixture(t, testKey)

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, sonic.Unmarshal(raw, &body))
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["activeJobs"])
	assert.EqualValues(t, 2, body["maxConcurrent"])
	assert.Equal(t, true, body["browserReady"])
}

func TestAPIKey(t *testing.T) {
	f := newFixture(t, testKey)

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/cache/stats", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/cache/stats", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err = f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = f.app.Test(httptest.NewRequest(http.MethodGet, "/cache/stats?api_key="+testKey, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNoKeyConfiguredAllowsAll(t *testing.T) {
	f := newFixture(t, "")

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/cache/stats", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestScreenshotThenCached(t *testing.T) {
	f := newFixture(t, testKey)
	body := `{"url":"https://example.com","width":640,"height":480,"format":"jpeg","quality":70}`

	resp, out := f.do(t, http.MethodPost, "/screenshot", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, false, out["cached"])
	filename, _ := out["filename"].(string)
	assert.Regexp(t, `^[0-9a-f]{32}\.jpeg$`, filename)
	assert.Equal(t, "/screenshots/"+filename, out["path"])
	assert.EqualValues(t, 64, out["width"])
	assert.EqualValues(t, 48, out["height"])

	resp, out = f.do(t, http.MethodPost, "/screenshot", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["cached"])
	assert.Equal(t, filename, out["filename"])

	// The stored image is served without a key.
	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/screenshots/"+filename, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestThumbnailEndpoint(t *testing.T) {
	f := newFixture(t, testKey)

	resp, out := f.do(t, http.MethodPost, "/thumbnail", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.Regexp(t, `^thumb_[0-9a-f]{32}\.webp$`, out["filename"])
	assert.EqualValues(t, 320, out["width"])
	assert.EqualValues(t, 200, out["height"])
}

func TestScreenshotErrors(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		f := newFixture(t, testKey)
		resp, out := f.do(t, http.MethodPost, "/screenshot", `{"url":"not a url"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "VALIDATION", out["code"])
		assert.NotEmpty(t, out["error"])
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newFixture(t, testKey)
		resp, out := f.do(t, http.MethodPost, "/screenshot", `{"url":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "VALIDATION", out["code"])
	})

	t.Run("rejected", func(t *testing.T) {
		f := newFixture(t, testKey)
		for i := 0; i < f.admission.Max(); i++ {
			slot, ok := f.admission.TryAcquire()
			require.True(t, ok)
			defer slot.Release()
		}

		resp, out := f.do(t, http.MethodPost, "/screenshot", `{"url":"https://example.com"}`)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "Too many concurrent requests", out["error"])
		assert.Equal(t, "TOO_MANY_REQUESTS", out["code"])
	})

	t.Run("navigation", func(t *testing.T) {
		f := newFixture(t, testKey)
		f.renderer.navErr = errors.New("net::ERR_CONNECTION_REFUSED")

		resp, out := f.do(t, http.MethodPost, "/screenshot", `{"url":"https://down.example.com"}`)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "net::ERR_CONNECTION_REFUSED", out["error"])
		assert.Equal(t, "https://down.example.com", out["url"])
		assert.Equal(t, "NAVIGATION_FAILED", out["code"])
		assert.Zero(t, f.admission.Active())
	})
}

func TestListDeleteClearStats(t *testing.T) {
	f := newFixture(t, testKey)

	_, out := f.do(t, http.MethodPost, "/screenshot", `{"url":"https://example.com"}`)
	filename := out["filename"].(string)
	_, _ = f.do(t, http.MethodPost, "/screenshot", `{"url":"https://example.org"}`)

	resp, out := f.do(t, http.MethodGet, "/screenshots", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["screenshots"], 2)

	resp, out = f.do(t, http.MethodGet, "/cache/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, out["cacheEntries"])
	assert.EqualValues(t, 2, out["validEntries"])
	assert.EqualValues(t, 2, out["screenshotCount"])

	resp, out = f.do(t, http.MethodDelete, "/screenshot/"+filename, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])

	resp, out = f.do(t, http.MethodDelete, "/screenshot/"+filename, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Screenshot not found", out["error"])

	resp, out = f.do(t, http.MethodPost, "/cache/clear", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["cleared"])

	_, out = f.do(t, http.MethodGet, "/cache/stats", "")
	assert.EqualValues(t, 0, out["cacheEntries"])
	assert.EqualValues(t, 1, out["screenshotCount"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, testKey)
	_, _ = f.do(t, http.MethodPost, "/screenshot", `{"url":"https://example.com"}`)

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), `capture_jobs_total{kind="screenshot",outcome="rendered"} 1`)
	assert.Contains(t, string(raw), `capture_cache_lookups_total{result="miss"} 1`)
}
