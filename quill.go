// Package quill is the backend of a personal blog: a JSON API for posts
// stored as documents on disk, inline image uploads, and page-view
// analytics kept in SQLite.
//
// Embedders mount their own page routes with WithCustomRoutes; quill records
// a view for every page request and serves the post and analytics APIs.
package quill

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/eringen/quill/analytics"
)

// App wires together the stores, recorder, handlers and middleware.
type App struct {
	Config    SiteConfig
	Echo      *echo.Echo
	Posts     *PostRepository
	Images    *ImageStore
	Analytics *analytics.Store
	Recorder  *analytics.Recorder
	Metrics   *Metrics
	Log       *zap.Logger

	imageBackend ImageBackend
	writeLimiter *WriteLimiter
	customRoutes []func(*App)
	initialized  bool
}

// New creates an App. Nothing is opened until Init or Start.
func New(cfg SiteConfig, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config: cfg,
		Echo:   echo.New(),
	}
	a.Echo.HideBanner = true
	a.Echo.HidePort = true

	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Init validates the config, opens the stores and registers middleware and
// routes. Start calls it; tests and CLI commands call it directly.
func (a *App) Init() error {
	if a.initialized {
		return nil
	}
	if err := a.Config.Validate(); err != nil {
		return err
	}

	if a.Log == nil {
		logger, err := NewLogger(a.Config.LogLevel, a.Config.LogDevelopment)
		if err != nil {
			return fmt.Errorf("quill: init logger: %w", err)
		}
		a.Log = logger
	}

	store, err := analytics.NewStore(a.Config.AnalyticsDatabasePath, analytics.WithLogger(a.Log))
	if err != nil {
		return fmt.Errorf("quill: init analytics: %w", err)
	}
	a.Analytics = store
	a.Recorder = analytics.NewRecorder(store, a.Config.AnalyticsQueueSize, a.Log)

	if a.Config.MetricsEnabled {
		a.Metrics = NewMetrics()
		a.Metrics.WatchRecorder(a.Recorder)
	}

	backend, err := a.newImageBackend()
	if err != nil {
		a.Close()
		return fmt.Errorf("quill: init image backend: %w", err)
	}
	a.Images = NewImageStore(backend, a.Config.ImagesURLPrefix)

	cache := NewPostCache(a.Config.PostCacheSizeMB, a.Config.PostCacheTTL)
	a.Metrics.WatchCache(cache)

	posts, err := NewPostRepository(a.Config.BlogDir, a.Images, store, cache, a.Metrics, a.Log)
	if err != nil {
		a.Close()
		return fmt.Errorf("quill: init posts: %w", err)
	}
	a.Posts = posts

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}

	a.initialized = true
	return nil
}

func (a *App) newImageBackend() (ImageBackend, error) {
	if a.imageBackend != nil {
		return a.imageBackend, nil
	}
	if a.Config.ImageBackend == "s3" {
		return NewS3ImageBackend(a.Config.S3)
	}
	return NewLocalImageBackend(a.Config.ImagesDir), nil
}

// Start initializes the app and serves HTTP until Shutdown.
func (a *App) Start() error {
	if err := a.Init(); err != nil {
		return err
	}
	a.Log.Info("listening", zap.String("addr", a.Config.Addr))
	if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) setupRoutes() {
	e := a.Echo

	e.GET("/api/blogs", a.handleListPosts)
	e.GET("/api/blogs/:id", a.handleGetPost)
	var writeMW []echo.MiddlewareFunc
	if a.Config.WriteRateLimit > 0 {
		a.writeLimiter = NewWriteLimiter(a.Config.WriteRateLimit, time.Minute)
		writeMW = append(writeMW, a.writeLimiter.Middleware)
	}
	e.POST("/api/blogs", a.handleSavePost, writeMW...)
	e.DELETE("/api/blogs/:id", a.handleDeletePost, writeMW...)

	e.GET("/"+strings.Trim(a.Images.URLPrefix(), "/")+"/:filename", a.handleImage)

	analytics.NewHandler(a.Analytics, a.Log).RegisterRoutes(e.Group("/api/analytics"))

	e.GET("/healthz", a.handleHealth)
	if a.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(a.Metrics.Handler()))
	}
}

// Shutdown stops the HTTP server and releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Echo.Shutdown(ctx)
	if cerr := a.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close flushes pending page views and closes the analytics database.
func (a *App) Close() error {
	var err error
	if a.writeLimiter != nil {
		a.writeLimiter.Stop()
		a.writeLimiter = nil
	}
	if a.Recorder != nil {
		a.Recorder.Close()
	}
	if a.Analytics != nil {
		err = a.Analytics.Close()
	}
	if a.Log != nil {
		_ = a.Log.Sync()
	}
	return err
}
