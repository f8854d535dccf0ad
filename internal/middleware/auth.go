package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	sl "github.com/iliyamo/pdf-flipbook/internal/logger"
	"github.com/iliyamo/pdf-flipbook/internal/model"
	"github.com/iliyamo/pdf-flipbook/internal/utils"
)

// SessionCookie holds the browser session token.
const SessionCookie = "fb_session"

// Authenticator resolves tokens to users.  service.Auth implements it.
type Authenticator interface {
	ValidateAccess(ctx context.Context, raw string) (model.User, error)
	ValidateSession(ctx context.Context, raw string) (model.User, error)
}

// BearerAuth requires a valid access token in the Authorization header.
// Expired tokens get code TOKEN_EXPIRED so clients know to refresh.
func BearerAuth(auth Authenticator, log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(h, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))

			u, err := auth.ValidateAccess(c.Request().Context(), raw)
			switch {
			case err == nil:
			case errors.Is(err, utils.ErrTokenExpired):
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token expired", "code": "TOKEN_EXPIRED"})
			case errors.Is(err, utils.ErrTokenInvalid):
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			default:
				log.Error("token validation failed", sl.Err(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}
			setIdentity(c, u)
			return next(c)
		}
	}
}

// SessionAuth requires a valid session cookie and redirects browsers to the
// login page otherwise.
func SessionAuth(auth Authenticator, log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !loadSession(c, auth, log) {
				return c.Redirect(http.StatusSeeOther, "/login")
			}
			return next(c)
		}
	}
}

// OptionalSession attaches the identity when a valid session cookie is
// present and lets the request through either way.
func OptionalSession(auth Authenticator, log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			loadSession(c, auth, log)
			return next(c)
		}
	}
}

func loadSession(c echo.Context, auth Authenticator, log *slog.Logger) bool {
	ck, err := c.Cookie(SessionCookie)
	if err != nil || ck.Value == "" {
		return false
	}
	u, err := auth.ValidateSession(c.Request().Context(), ck.Value)
	if err != nil {
		if !errors.Is(err, utils.ErrTokenExpired) && !errors.Is(err, utils.ErrTokenInvalid) {
			log.Error("session validation failed", sl.Err(err))
		}
		ClearSessionCookie(c)
		return false
	}
	setIdentity(c, u)
	return true
}

// SetSessionCookie stores a session token as an HttpOnly, SameSite=Lax
// cookie.
func SetSessionCookie(c echo.Context, token string, maxAge int) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.IsTLS(),
	})
}

// ClearSessionCookie expires the session cookie in the browser.
func ClearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
