package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/creatorstation/capture/internal/admission"
	"github.com/creatorstation/capture/internal/cache"
	"github.com/creatorstation/capture/internal/capture"
	"github.com/creatorstation/capture/internal/config"
	"github.com/creatorstation/capture/internal/logger"
	"github.com/creatorstation/capture/internal/metrics"
	"github.com/creatorstation/capture/internal/screenshot"
	"github.com/creatorstation/capture/pkg/browser"
	"github.com/creatorstation/capture/pkg/img"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	l, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer l.Sync()

	if err := run(cfg, l); err != nil {
		l.Fatal("capture service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, l *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.BrowserInstall {
		l.Info("installing chromium")
		if err := browser.Install(); err != nil {
			return err
		}
	}

	chromium := browser.NewChromium(browser.LaunchOptions{Headless: cfg.BrowserHeadless}, l.Named("browser"))

	index, err := cache.OpenIndex(ctx, cfg.CacheBackend, cfg.CacheDir, cache.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.RedisPrefix,
	})
	if err != nil {
		return err
	}

	store, err := cache.NewStore(index, cfg.ScreenshotDir, cfg.TTL(), l.Named("cache"))
	if err != nil {
		index.Close()
		return err
	}

	sweeper, err := cache.StartSweeper(store, cfg.CacheSweepSchedule, l.Named("sweeper"))
	if err != nil {
		store.Close()
		return err
	}

	adm := admission.New(cfg.MaxConcurrent)
	met := metrics.New()
	coord := capture.NewCoordinator(store, adm, chromium, img.NewProcessor(), capture.Options{
		Logger:  l.Named("capture"),
		Metrics: met,
		Dedupe:  cfg.DedupeInflight,
	})

	app := fiber.New(fiber.Config{
		AppName:               "capture",
		DisableStartupMessage: true,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		ErrorHandler:          screenshot.ErrorHandler,
		BodyLimit:             10 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.Middleware(l.Named("http")))

	screenshot.NewController(screenshot.Deps{
		Coordinator: coord,
		Store:       store,
		Admission:   adm,
		Renderer:    chromium,
		Metrics:     met,
		APIKey:      cfg.APIKey,
		Logger:      l.Named("http"),
	}).MountController(app)

	defer shutdown(l, sweeper, chromium, store)

	// The service is useless without a browser.
	if err := chromium.Start(); err != nil {
		return errors.Wrap(err, "failed to launch browser")
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(addr)
	}()

	l.Info("capture service listening",
		zap.String("addr", addr),
		zap.Int("max_concurrent", cfg.MaxConcurrent),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Duration("cache_ttl", cfg.TTL()),
		zap.Bool("api_key", cfg.APIKey != ""),
	)

	select {
	case err := <-listenErr:
		return errors.Wrap(err, "http server failed")
	case <-ctx.Done():
		l.Info("shutting down")
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		l.Warn("http shutdown incomplete", zap.Error(err))
	}
	return nil
}

// shutdown runs once the HTTP server no longer accepts work. A running
// sweep finishes before the index is closed.
func shutdown(l *zap.Logger, sweeper *cron.Cron, chromium *browser.Chromium, store *cache.Store) {
	if sweeper != nil {
		<-sweeper.Stop().Done()
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := chromium.Close(); err != nil {
			l.Warn("failed to close browser", zap.Error(err))
		}
	})
	wg.Go(func() {
		if err := store.Close(); err != nil {
			l.Warn("failed to close cache index", zap.Error(err))
		}
	})
	wg.Wait()
	l.Info("capture service stopped")
}
