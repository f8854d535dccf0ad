package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/pdf-flipbook/internal/app"
	"github.com/iliyamo/pdf-flipbook/internal/handler"
	"github.com/iliyamo/pdf-flipbook/internal/middleware"
)

// RegisterWeb registers the browser pages.  Dashboard, upload and analytics
// need a session cookie; the rest only read it when present.
func RegisterWeb(e *echo.Echo, a *app.App) {
	h := handler.NewWebHandler(a.Log, a.Auth, a.Flipbooks, a.Analytics)
	opt := middleware.OptionalSession(a.Auth, a.Log)
	sess := middleware.SessionAuth(a.Auth, a.Log)
	limit := middleware.NewTokenBucket(a.RateLimit, a.Redis, a.Log)

	e.GET("/", h.Index, opt)
	e.GET("/login", h.LoginForm, opt)
	e.POST("/login", h.Login, limit)
	e.GET("/register", h.RegisterForm, opt)
	e.POST("/register", h.Register, limit)
	e.GET("/logout", h.Logout)
	e.GET("/viewer/:unique_id", h.Viewer, opt)
	e.GET("/embed/:unique_id", h.Embed)
	e.POST("/track_page/:unique_id", h.TrackPage)

	e.GET("/dashboard", h.Dashboard, sess)
	e.GET("/upload", h.UploadForm, sess)
	e.POST("/upload", h.Upload, sess)
	e.GET("/analytics", h.Analytics, sess)
}
