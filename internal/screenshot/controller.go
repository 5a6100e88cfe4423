// Package screenshot exposes the capture pipeline over HTTP.
package screenshot

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/creatorstation/capture/internal/admission"
	"github.com/creatorstation/capture/internal/cache"
	"github.com/creatorstation/capture/internal/capture"
	"github.com/creatorstation/capture/internal/metrics"
	"github.com/creatorstation/capture/pkg/browser"
)

type Deps struct {
	Coordinator *capture.Coordinator
	Store       *cache.Store
	Admission   *admission.Controller
	Renderer    browser.Renderer
	Metrics     *metrics.Metrics
	APIKey      string
	Logger      *zap.Logger
}

type Controller struct {
	coord     *capture.Coordinator
	store     *cache.Store
	admission *admission.Controller
	renderer  browser.Renderer
	metrics   *metrics.Metrics
	apiKey    string
	log       *zap.Logger
}

func NewController(d Deps) *Controller {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		coord:     d.Coordinator,
		store:     d.Store,
		admission: d.Admission,
		renderer:  d.Renderer,
		metrics:   d.Metrics,
		apiKey:    d.APIKey,
		log:       log,
	}
}

func (ctl *Controller) MountController(router fiber.Router) {
	auth := RequireAPIKey(ctl.apiKey)

	router.Get("/health", ctl.Health)
	if ctl.metrics != nil {
		router.Get("/metrics", ctl.metrics.Handler())
	}

	router.Post("/screenshot", auth, ctl.TakeScreenshot)
	router.Post("/thumbnail", auth, ctl.GenerateThumbnail)
	router.Get("/screenshots", auth, ctl.ListScreenshots)
	router.Delete("/screenshot/:filename", auth, ctl.DeleteScreenshot)
	router.Post("/cache/clear", auth, ctl.ClearCache)
	router.Get("/cache/stats", auth, ctl.CacheStats)

	// Stored images are public by URL.
	router.Static("/screenshots", ctl.store.ImageDir(), fiber.Static{ByteRange: true})
}

func (ctl *Controller) Health(c *fiber.Ctx) error {
	ready := false
	if ctl.renderer != nil {
		ready = ctl.renderer.Ready()
	}
	return c.JSON(fiber.Map{
		"status":        "healthy",
		"activeJobs":    ctl.admission.Active(),
		"maxConcurrent": ctl.admission.Max(),
		"browserReady":  ready,
	})
}

func (ctl *Controller) TakeScreenshot(c *fiber.Ctx) error {
	body := capture.NewScreenshotRequest()
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, err)
	}

	res, err := ctl.coord.Screenshot(c.UserContext(), body)
	if err != nil {
		return ctl.fail(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":  true,
		"cached":   res.Cached,
		"filename": res.Filename,
		"path":     artifactPath(res.Filename),
		"width":    res.Width,
		"height":   res.Height,
	})
}

func (ctl *Controller) GenerateThumbnail(c *fiber.Ctx) error {
	body := capture.NewThumbnailRequest()
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, err)
	}

	res, err := ctl.coord.Thumbnail(c.UserContext(), body)
	if err != nil {
		return ctl.fail(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":  true,
		"cached":   res.Cached,
		"filename": res.Filename,
		"path":     artifactPath(res.Filename),
		"width":    res.Width,
		"height":   res.Height,
	})
}

func (ctl *Controller) ListScreenshots(c *fiber.Ctx) error {
	files, err := ctl.store.List(c.UserContext())
	if err != nil {
		return ctl.fail(c, err)
	}
	if files == nil {
		files = []cache.Artifact{}
	}
	return c.JSON(fiber.Map{"screenshots": files})
}

func (ctl *Controller) DeleteScreenshot(c *fiber.Ctx) error {
	filename := c.Params("filename")

	err := ctl.store.Delete(c.UserContext(), filename)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Screenshot not found",
			"code":  "NOT_FOUND",
		})
	case errors.Is(err, cache.ErrInvalidName):
		return badRequest(c, err)
	case err != nil:
		return ctl.fail(c, err)
	}

	ctl.log.Info("screenshot deleted", zap.String("filename", filename))
	return c.JSON(fiber.Map{"success": true})
}

func (ctl *Controller) ClearCache(c *fiber.Ctx) error {
	cleared, err := ctl.store.Clear(c.UserContext())
	if err != nil {
		return ctl.fail(c, err)
	}

	ctl.log.Info("cache cleared", zap.Int("cleared", cleared))
	return c.JSON(fiber.Map{"success": true, "cleared": cleared})
}

func (ctl *Controller) CacheStats(c *fiber.Ctx) error {
	stats, err := ctl.store.Stats(c.UserContext())
	if err != nil {
		return ctl.fail(c, err)
	}
	return c.JSON(stats)
}

// fail writes err as {error, url, code} with the status of its kind.
func (ctl *Controller) fail(c *fiber.Ctx, err error) error {
	kind := capture.KindOf(err)
	body := fiber.Map{
		"error": err.Error(),
		"code":  kind.String(),
	}

	var ce *capture.Error
	if errors.As(err, &ce) {
		body["error"] = ce.Message()
		if ce.URL != "" {
			body["url"] = ce.URL
		}
	}

	status := kind.Status()
	if status >= fiber.StatusInternalServerError {
		ctl.log.Error("request failed",
			zap.String("path", c.Path()),
			zap.String("code", kind.String()),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": err.Error(),
		"code":  capture.KindValidation.String(),
	})
}

func artifactPath(filename string) string {
	return "/screenshots/" + filename
}

// ErrorHandler renders errors that escape the handlers, fiber's own
// included, in the same {error, code} shape.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := capture.KindInternal.String()

	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		switch {
		case status == fiber.StatusNotFound:
			code = "NOT_FOUND"
		case status < fiber.StatusInternalServerError:
			code = capture.KindValidation.String()
		}
	}

	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}
