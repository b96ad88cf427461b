package analytics

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Handler serves the analytics JSON endpoints.
type Handler struct {
	store *Store
	log   *zap.Logger
}

// NewHandler creates a new analytics handler.
func NewHandler(store *Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, log: logger.Named("analytics")}
}

// Overview returns the 30-day traffic overview.
func (h *Handler) Overview(c echo.Context) error {
	o, err := h.store.Overview(c.Request().Context())
	if err != nil {
		return h.internalError(c, "overview", err)
	}
	return c.JSON(http.StatusOK, o)
}

// PageStats returns view counts for the :page_name path parameter.
func (h *Handler) PageStats(c echo.Context) error {
	ps, err := h.store.PageStats(c.Request().Context(), c.Param("page_name"))
	if err != nil {
		return h.internalError(c, "page stats", err)
	}
	return c.JSON(http.StatusOK, ps)
}

// Categories returns the category ledger.
func (h *Handler) Categories(c echo.Context) error {
	stats, err := h.store.CategoryStats(c.Request().Context())
	if err != nil {
		return h.internalError(c, "category stats", err)
	}
	return c.JSON(http.StatusOK, stats)
}

// Realtime returns recent activity counts.
func (h *Handler) Realtime(c echo.Context) error {
	rt, err := h.store.Realtime(c.Request().Context())
	if err != nil {
		return h.internalError(c, "realtime", err)
	}
	return c.JSON(http.StatusOK, rt)
}

func (h *Handler) internalError(c echo.Context, what string, err error) error {
	h.log.Error("analytics query failed", zap.String("query", what), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}

// RegisterRoutes mounts the endpoints on g, normally the /api/analytics group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/overview", h.Overview)
	g.GET("/page/:page_name", h.PageStats)
	g.GET("/categories", h.Categories)
	g.GET("/realtime", h.Realtime)
}
