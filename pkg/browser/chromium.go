package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const maskScript = `(selectors) => {
	for (const selector of selectors) {
		document.querySelectorAll(selector).forEach(el => {
			el.style.backgroundColor = '#888';
			el.style.color = '#888';
			el.innerHTML = '[MASKED]';
		});
	}
}`

type LaunchOptions struct {
	Headless bool
	Args     []string
}

// DefaultArgs are the Chromium flags used inside containers.
var DefaultArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-gpu",
}

// Chromium is a lazily started, process-wide Chromium. It is not restarted
// if the browser process dies.
type Chromium struct {
	opts LaunchOptions
	log  *zap.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewChromium(opts LaunchOptions, log *zap.Logger) *Chromium {
	if len(opts.Args) == 0 {
		opts.Args = DefaultArgs
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Chromium{opts: opts, log: log}
}

// Install downloads the Chromium build playwright expects.
func Install() error {
	err := playwright.Install(&playwright.RunOptions{
		Browsers: []string{"chromium"},
	})
	if err != nil {
		return fmt.Errorf("could not install browsers: %w", err)
	}
	return nil
}

// Start launches the browser if it is not running yet.
func (c *Chromium) Start() error {
	_, err := c.instance()
	return err
}

func (c *Chromium) instance() (playwright.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		return c.browser, nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("could not start playwright: %w", err)
	}

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless:        playwright.Bool(c.opts.Headless),
		Args:            c.opts.Args,
		ChromiumSandbox: playwright.Bool(false),
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("could not launch browser: %w", err)
	}

	c.pw = pw
	c.browser = b
	c.log.Info("browser started", zap.String("version", b.Version()))
	return b, nil
}

func (c *Chromium) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.browser != nil && c.browser.IsConnected()
}

// Close stops the browser and the playwright driver.
func (c *Chromium) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.browser != nil {
		errs = append(errs, c.browser.Close())
		c.browser = nil
	}
	if c.pw != nil {
		errs = append(errs, c.pw.Stop())
		c.pw = nil
	}
	return errors.Join(errs...)
}

// NewSession opens a fresh browser context and page. Contexts are never
// shared, so cookies and viewport settings do not leak between jobs.
func (c *Chromium) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := c.instance()
	if err != nil {
		return nil, err
	}

	scale := opts.DeviceScale
	if scale <= 0 {
		scale = 1
	}

	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: opts.Width, Height: opts.Height},
		DeviceScaleFactor: playwright.Float(scale),
	})
	if err != nil {
		return nil, fmt.Errorf("could not create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("could not create page: %w", err)
	}

	return &chromiumSession{bctx: bctx, page: page}, nil
}

type chromiumSession struct {
	bctx playwright.BrowserContext
	page playwright.Page
}

func waitState(s string) *playwright.WaitUntilState {
	switch s {
	case WaitLoad:
		return playwright.WaitUntilStateLoad
	case WaitDOMContentLoaded:
		return playwright.WaitUntilStateDomcontentloaded
	case WaitCommit:
		return playwright.WaitUntilStateCommit
	default:
		return playwright.WaitUntilStateNetworkidle
	}
}

func (s *chromiumSession) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	gotoOpts := playwright.PageGotoOptions{WaitUntil: waitState(opts.WaitUntil)}
	if opts.Timeout > 0 {
		gotoOpts.Timeout = playwright.Float(float64(opts.Timeout.Milliseconds()))
	}

	if _, err := s.page.Goto(url, gotoOpts); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("could not navigate to page: %w", err)
	}
	return nil
}

func (s *chromiumSession) Mask(ctx context.Context, selectors []string) error {
	if len(selectors) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.page.Evaluate(maskScript, selectors); err != nil {
		return fmt.Errorf("could not mask elements: %w", err)
	}
	return nil
}

func (s *chromiumSession) Screenshot(ctx context.Context, opts ShotOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.Selector != "" {
		el, err := s.page.QuerySelector(opts.Selector)
		if err != nil {
			return nil, fmt.Errorf("could not query selector %q: %w", opts.Selector, err)
		}
		if el == nil {
			return nil, fmt.Errorf("%w: selector %q", ErrElementNotFound, opts.Selector)
		}

		shot, err := el.Screenshot(playwright.ElementHandleScreenshotOptions{
			Type: playwright.ScreenshotTypePng,
		})
		if err != nil {
			return nil, fmt.Errorf("could not take screenshot: %w", err)
		}
		return shot, nil
	}

	shot, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(opts.FullPage),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, fmt.Errorf("could not take screenshot: %w", err)
	}
	return shot, nil
}

// Close closes the context, which also closes its page.
func (s *chromiumSession) Close() error {
	return s.bctx.Close()
}
