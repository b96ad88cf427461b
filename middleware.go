package quill

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/eringen/quill/analytics"
)

const (
	visitorSessionName = "quill_visitor"
	visitorIDKey       = "sid"
	maxBodySize        = "25M"
)

func (a *App) setupMiddleware() {
	e := a.Echo

	e.IPExtractor = echo.ExtractIPFromXFFHeader(
		echo.TrustLoopback(true),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(true),
	)

	e.HTTPErrorHandler = a.httpErrorHandler
	e.JSONSerializer = jsonSerializer{}

	e.Pre(middleware.RemoveTrailingSlash())

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			a.Log.Info("request", fields...)
			a.Metrics.ObserveRequest(routeLabel(c), v.Status, v.Latency)
			return nil
		},
	}))

	e.Use(middleware.Recover())

	e.Use(middleware.BodyLimit(maxBodySize))

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, "/static/")
		},
	}))

	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		HSTSMaxAge:         31536000,
	}))

	e.Use(session.Middleware(a.newSessionStore()))

	e.Use(a.trackPageView)

	e.Use(cacheControlMiddleware)
}

// trackPageView hands every tracked GET that matched a route to the
// recorder before the handler runs. The recorder never blocks the request.
func (a *App) trackPageView(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		if req.Method == http.MethodGet && analytics.IsTracked(req.URL.Path) && a.hasGetRoute(c.Path()) {
			a.Recorder.Record(analytics.PageView{
				PageName:  analytics.PageName(req.URL.Path),
				VisitorIP: c.RealIP(),
				UserAgent: req.UserAgent(),
				SessionID: a.visitorID(c),
			})
		}
		return next(c)
	}
}

// hasGetRoute reports whether path is the pattern of a registered GET route.
// Echo leaves c.Path empty when nothing matched and sets it to a node pattern
// without a GET handler when it answers 405.
func (a *App) hasGetRoute(path string) bool {
	if path == "" {
		return false
	}
	for _, r := range a.Echo.Routes() {
		if r.Path == path && r.Method == http.MethodGet {
			return true
		}
	}
	return false
}

// visitorID returns the visitor's session id, minting and saving one on the
// first visit.
func (a *App) visitorID(c echo.Context) string {
	sess, err := session.Get(visitorSessionName, c)
	if sess == nil {
		a.Log.Debug("visitor session unavailable", zap.Error(err))
		return ""
	}
	if id, ok := sess.Values[visitorIDKey].(string); ok && id != "" {
		return id
	}
	id := uuid.NewString()
	sess.Values[visitorIDKey] = id
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		a.Log.Debug("save visitor session", zap.Error(err))
	}
	return id
}

func cacheControlMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Request().URL.Path
		switch {
		case strings.HasPrefix(path, "/static/"):
			c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		case strings.HasPrefix(path, "/api/"), path == "/metrics", path == "/healthz":
			c.Response().Header().Set("Cache-Control", "no-store")
		default:
			c.Response().Header().Set("Cache-Control", "public, max-age=3600")
		}
		return next(c)
	}
}

func (a *App) newSessionStore() *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(a.Config.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		MaxAge:   60 * 60 * 24 * 365,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.Config.CookieSecure,
	}
	return store
}

// routeLabel is the matched route pattern, which keeps metric cardinality
// bounded.
func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
