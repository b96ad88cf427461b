package quill

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
}

type saveResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
}

var (
	errBodyNotFound = errorResponse{Error: "Not found"}
	errBodyInvalid  = errorResponse{Error: "Invalid request"}
	errBodyInternal = errorResponse{Error: "Internal server error"}
)

func (a *App) handleListPosts(c echo.Context) error {
	posts, err := a.Posts.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, posts)
}

func (a *App) handleGetPost(c echo.Context) error {
	post, err := a.Posts.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, errBodyNotFound)
		}
		return err
	}
	return c.JSON(http.StatusOK, post)
}

func (a *App) handleSavePost(c echo.Context) error {
	var in PostInput
	if err := c.Bind(&in); err != nil {
		a.Log.Debug("bind post input", zap.Error(err))
		return c.JSON(http.StatusBadRequest, errBodyInvalid)
	}
	id, err := a.Posts.Save(c.Request().Context(), in)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Message})
		}
		return err
	}
	return c.JSON(http.StatusOK, saveResponse{Success: true, ID: id})
}

func (a *App) handleDeletePost(c echo.Context) error {
	if err := a.Posts.Delete(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, errBodyNotFound)
		}
		return err
	}
	return c.JSON(http.StatusOK, saveResponse{Success: true})
}

func (a *App) handleImage(c echo.Context) error {
	name := c.Param("filename")
	rc, err := a.Images.Open(c.Request().Context(), name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, errBodyNotFound)
		}
		return err
	}
	defer rc.Close()
	c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	return c.Stream(http.StatusOK, imageContentType(name), rc)
}

func (a *App) handleHealth(c echo.Context) error {
	if err := a.Analytics.Ping(c.Request().Context()); err != nil {
		a.Log.Error("health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
	}
	if code >= 500 {
		a.Log.Error("server error",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Error(err),
		)
		_ = c.JSON(code, errBodyInternal)
		return
	}
	if code == http.StatusNotFound {
		_ = c.JSON(code, errBodyNotFound)
		return
	}
	msg := http.StatusText(code)
	if he != nil {
		if s, ok := he.Message.(string); ok {
			msg = s
		}
	}
	_ = c.JSON(code, errorResponse{Error: msg})
}
