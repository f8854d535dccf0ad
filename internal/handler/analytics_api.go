package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/pdf-flipbook/internal/middleware"
	"github.com/iliyamo/pdf-flipbook/internal/service"
)

// AnalyticsHandler serves GET /api/analytics.
type AnalyticsHandler struct {
	log       *slog.Logger
	analytics *service.Analytics
}

func NewAnalyticsHandler(log *slog.Logger, analytics *service.Analytics) *AnalyticsHandler {
	return &AnalyticsHandler{log: log, analytics: analytics}
}

type statsResp struct {
	Title      string           `json:"title"`
	TotalViews int64            `json:"total_views"`
	DailyViews map[string]int64 `json:"daily_views"`
}

// Summary returns, keyed by flipbook id, the total and the last eight days
// of views of each of the caller's flipbooks.
func (h *AnalyticsHandler) Summary(c echo.Context) error {
	id, _ := middleware.CurrentUser(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	stats, err := h.analytics.ForUser(ctx, id.UserID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	out := make(map[string]statsResp, len(stats))
	for _, s := range stats {
		out[strconv.FormatUint(s.FlipbookID, 10)] = statsResp{
			Title:      s.Title,
			TotalViews: s.TotalViews,
			DailyViews: s.DailyMap(),
		}
	}
	return c.JSON(http.StatusOK, out)
}
