package router // package router builds the echo instance and registers every route

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/pdf-flipbook/internal/app"
	"github.com/iliyamo/pdf-flipbook/internal/handler"
	"github.com/iliyamo/pdf-flipbook/internal/middleware"
)

// New returns an echo instance serving the JSON API, the browser pages and
// the static assets of a.
func New(a *app.App) (*echo.Echo, error) {
	renderer, err := handler.NewRenderer()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.Renderer = renderer
	e.HTTPErrorHandler = errorHandler

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(a.Log))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		Skipper:      func(c echo.Context) bool { return !strings.HasPrefix(c.Request().URL.Path, "/api/") },
		AllowOrigins: a.Cfg.CORSAllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
	}))
	if a.Cfg.MaxUploadBytes > 0 {
		e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", a.Cfg.MaxUploadBytes)))
	}

	e.Static("/static/uploads", a.Cfg.UploadDir)
	e.StaticFS("/static", handler.StaticFS())

	RegisterRoutes(e, a)
	RegisterAuth(e, a)
	RegisterAPI(e, a)
	RegisterWeb(e, a)
	return e, nil
}

// RegisterRoutes registers the unauthenticated health check.
func RegisterRoutes(e *echo.Echo, a *app.App) {
	if a.DB != nil {
		e.GET("/healthz", handler.Health(a.DB))
		return
	}
	e.GET("/healthz", handler.Health(nil))
}

// RegisterAuth registers the token endpoints under /api/auth.  Register,
// login and refresh are rate limited per client.
func RegisterAuth(e *echo.Echo, a *app.App) {
	h := handler.NewAuthHandler(a.Log, a.Auth)
	limit := middleware.NewTokenBucket(a.RateLimit, a.Redis, a.Log)
	bearer := middleware.BearerAuth(a.Auth, a.Log)

	g := e.Group("/api/auth")
	g.POST("/register", h.Register, limit)
	g.POST("/login", h.Login, limit)
	g.POST("/refresh", h.Refresh, limit)
	g.POST("/logout", h.Logout, bearer)
	g.GET("/me", h.Me, bearer)
}

// RegisterAPI registers the flipbook and analytics endpoints.  Everything
// except the public manifest needs a bearer token.
func RegisterAPI(e *echo.Echo, a *app.App) {
	fh := handler.NewFlipbookHandler(a.Log, a.Flipbooks)
	ah := handler.NewAnalyticsHandler(a.Log, a.Analytics)

	bearer := middleware.BearerAuth(a.Auth, a.Log)

	g := e.Group("/api")
	g.GET("/public/flipbooks/:unique_id", fh.Public, middleware.NewRedisCache(a.Cache, a.Redis, a.Log))
	g.GET("/flipbooks", fh.List, bearer)
	g.POST("/flipbooks", fh.Create, bearer)
	g.GET("/flipbooks/:unique_id", fh.Get, bearer)
	g.GET("/analytics", ah.Summary, bearer)
}

// errorHandler answers echo's own errors (404 route, 413 body limit, 405)
// in the {"error": ...} shape the handlers use.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, msg := http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if s, ok := he.Message.(string); ok {
			msg = s
		} else {
			msg = http.StatusText(code)
		}
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, map[string]string{"error": msg})
	}
	if err != nil {
		c.Logger().Error(err)
	}
}
