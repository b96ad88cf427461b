package quill

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestApp(t *testing.T, opts ...Option) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := SiteConfig{
		BlogDir:               filepath.Join(dir, "blogs"),
		ImagesDir:             filepath.Join(dir, "images"),
		AnalyticsDatabasePath: filepath.Join(dir, "analytics.db"),
		SessionSecret:         "test-secret",
		PostCacheSizeMB:       1,
		MetricsEnabled:        true,
		WriteRateLimit:        -1,
	}
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	app := New(cfg, opts...)
	require.NoError(t, app.Init())
	t.Cleanup(func() { app.Close() })
	return app
}

func doRequest(app *App, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.RemoteAddr = "203.0.113.7:1234"
	rec := httptest.NewRecorder()
	app.Echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestPostAPIRoundTrip(t *testing.T) {
	app := setupTestApp(t)

	rec := doRequest(app, http.MethodGet, "/api/blogs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = doRequest(app, http.MethodPost, "/api/blogs", `{"title":"Hello","content":"World","tags":["go"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[saveResponse](t, rec)
	assert.True(t, saved.Success)
	require.NotEmpty(t, saved.ID)

	rec = doRequest(app, http.MethodGet, "/api/blogs/"+saved.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	post := decode[BlogPost](t, rec)
	assert.Equal(t, saved.ID, post.ID)
	assert.Equal(t, "general", post.Category)
	assert.Equal(t, []string{"go"}, post.Tags)

	rec = doRequest(app, http.MethodGet, "/api/blogs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]BlogPost](t, rec), 1)

	rec = doRequest(app, http.MethodDelete, "/api/blogs/"+saved.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = doRequest(app, http.MethodGet, "/api/blogs/"+saved.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())

	rec = doRequest(app, http.MethodDelete, "/api/blogs/"+saved.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSavePostErrors(t *testing.T) {
	app := setupTestApp(t)

	rec := doRequest(app, http.MethodPost, "/api/blogs", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid request"}`, rec.Body.String())

	rec = doRequest(app, http.MethodPost, "/api/blogs", `{"content":"no title"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Contains(t, strings.ToLower(body.Error), "title")

	rec = doRequest(app, http.MethodPost, "/api/blogs", `{"id":"a/b","title":"t","content":"c"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSavePostWithImageAndServeIt(t *testing.T) {
	app := setupTestApp(t)

	body, err := json.Marshal(map[string]any{
		"title":   "Pics",
		"content": "c",
		"images": []map[string]any{
			{"id": 1, "name": "dot.png", "data": pngDataURL(t, 2, 2)},
			{"id": 2, "name": "broken", "data": "data:image/png;base64,%%%"},
		},
	})
	require.NoError(t, err)

	rec := doRequest(app, http.MethodPost, "/api/blogs", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode[saveResponse](t, rec).ID

	post, err := app.Posts.Get(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, post.Images, 1)
	assert.True(t, strings.HasSuffix(post.Images[0].Path, ".png"))

	rec = doRequest(app, http.MethodGet, "/"+post.Images[0].Path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, pngBytes(t, 2, 2), rec.Body.Bytes())

	rec = doRequest(app, http.MethodGet, "/static/images/blogs/missing.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPageViewsAreRecorded(t *testing.T) {
	app := setupTestApp(t, WithCustomRoutes(func(a *App) {
		a.Echo.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "home") })
		a.Echo.GET("/sciences", func(c echo.Context) error { return c.String(http.StatusOK, "sciences") })
	}))

	for i := 0; i < 3; i++ {
		rec := doRequest(app, http.MethodGet, "/", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	doRequest(app, http.MethodGet, "/sciences", "")
	doRequest(app, http.MethodGet, "/api/blogs", "")
	doRequest(app, http.MethodGet, "/healthz", "")
	app.Recorder.Flush()

	rec := doRequest(app, http.MethodGet, "/api/analytics/overview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	overview := decode[struct {
		TotalViews     int            `json:"total_views"`
		UniqueVisitors int            `json:"unique_visitors"`
		PageStats      map[string]int `json:"page_stats"`
	}](t, rec)
	assert.Equal(t, 4, overview.TotalViews)
	assert.Equal(t, 1, overview.UniqueVisitors)
	assert.Equal(t, map[string]int{"index": 3, "sciences": 1}, overview.PageStats)
	assert.True(t, strings.Index(rec.Body.String(), `"index"`) < strings.Index(rec.Body.String(), `"sciences"`))

	rec = doRequest(app, http.MethodGet, "/api/analytics/page/index", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"page_name":"index","total_views":3,"today_views":3}`, rec.Body.String())
}

func TestUnroutedRequestsAreNotRecorded(t *testing.T) {
	app := setupTestApp(t, WithCustomRoutes(func(a *App) {
		a.Echo.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "home") })
		a.Echo.POST("/contact", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	}))

	rec := doRequest(app, http.MethodGet, "/no-such-page", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get("Set-Cookie"))
	rec = doRequest(app, http.MethodGet, "/contact", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	rec = doRequest(app, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	app.Recorder.Flush()

	rec = doRequest(app, http.MethodGet, "/api/analytics/overview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	overview := decode[struct {
		TotalViews int            `json:"total_views"`
		PageStats  map[string]int `json:"page_stats"`
	}](t, rec)
	assert.Equal(t, 1, overview.TotalViews)
	assert.Equal(t, map[string]int{"index": 1}, overview.PageStats)
}

func TestVisitorCookieIsIssued(t *testing.T) {
	app := setupTestApp(t, WithCustomRoutes(func(a *App) {
		a.Echo.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "home") })
	}))

	rec := doRequest(app, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), visitorSessionName+"=")

	rec = doRequest(app, http.MethodGet, "/api/blogs", "")
	assert.Empty(t, rec.Header().Get("Set-Cookie"), "API requests are not tracked")
}

func TestCategoriesEndpointFollowsPosts(t *testing.T) {
	app := setupTestApp(t)

	doRequest(app, http.MethodPost, "/api/blogs", `{"title":"a","content":"c","category":"science"}`)
	doRequest(app, http.MethodPost, "/api/blogs", `{"title":"b","content":"c","category":"science"}`)

	rec := doRequest(app, http.MethodGet, "/api/analytics/categories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"name":"science","post_count":2,"total_views":0}]`, rec.Body.String())

	rec = doRequest(app, http.MethodGet, "/api/analytics/overview", "")
	overview := decode[struct {
		BlogPosts int `json:"blog_posts"`
	}](t, rec)
	assert.Equal(t, 2, overview.BlogPosts)
}

func TestHealthAndMetrics(t *testing.T) {
	app := setupTestApp(t)

	rec := doRequest(app, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	doRequest(app, http.MethodPost, "/api/blogs", `{"title":"a","content":"c"}`)
	rec = doRequest(app, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quill_posts_saved_total 1")
	assert.Contains(t, rec.Body.String(), `quill_requests_total{route="/api/blogs",status="2xx"}`)
}

func TestWriteRateLimit(t *testing.T) {
	dir := t.TempDir()
	app := New(SiteConfig{
		BlogDir:               filepath.Join(dir, "blogs"),
		ImagesDir:             filepath.Join(dir, "images"),
		AnalyticsDatabasePath: filepath.Join(dir, "analytics.db"),
		SessionSecret:         "test-secret",
		WriteRateLimit:        1,
	}, WithLogger(zap.NewNop()))
	require.NoError(t, app.Init())
	t.Cleanup(func() { app.Close() })

	rec := doRequest(app, http.MethodPost, "/api/blogs", `{"title":"a","content":"c"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(app, http.MethodPost, "/api/blogs", `{"title":"b","content":"c"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	rec = doRequest(app, http.MethodGet, "/api/blogs", "")
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not limited")
}

func TestInitRejectsInvalidConfig(t *testing.T) {
	app := New(SiteConfig{BlogDir: t.TempDir()}, WithLogger(zap.NewNop()))
	assert.Error(t, app.Init(), "session secret is required")
}
