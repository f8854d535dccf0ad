package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/pdf-flipbook/internal/middleware"
	"github.com/iliyamo/pdf-flipbook/internal/model"
	"github.com/iliyamo/pdf-flipbook/internal/service"
)

// AuthHandler serves the JSON token endpoints.
type AuthHandler struct {
	log  *slog.Logger
	auth *service.Auth
}

func NewAuthHandler(log *slog.Logger, auth *service.Auth) *AuthHandler {
	return &AuthHandler{log: log, auth: auth}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

func (r *registerReq) normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
}

type loginReq struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type userPart struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type authResp struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	User                  userPart  `json:"user"`
}

func newAuthResp(u model.User, t service.Tokens) authResp {
	return authResp{
		AccessToken:           t.Access.Token,
		RefreshToken:          t.Refresh.Raw, // raw back to client, hash stays in the db
		AccessTokenExpiresAt:  t.Access.Exp,
		RefreshTokenExpiresAt: t.Refresh.Exp,
		User:                  userPart{ID: u.ID, Username: u.Username, Email: u.Email},
	}
}

// normalizer is implemented by requests that clean their fields before validation.
type normalizer interface{ normalize() }

// bindJSON binds and validates req, answering 400 itself on failure.
func bindJSON(c echo.Context, req any) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, badRequest(c, "invalid body")
	}
	if n, ok := req.(normalizer); ok {
		n.normalize()
	}
	if err := c.Validate(req); err != nil {
		return false, badRequest(c, validationMessage(err))
	}
	return true, nil
}

// Register: create user and return tokens immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if ok, err := bindJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, t, err := h.auth.Register(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, newAuthResp(u, t))
}

// Login: verify and return a new pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if ok, err := bindJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, t, err := h.auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, newAuthResp(u, t))
}

// Refresh: rotate the refresh token and issue a new access token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if ok, err := bindJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, t, err := h.auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, newAuthResp(u, t))
}

// Logout: revoke the caller's refresh token.
func (h *AuthHandler) Logout(c echo.Context) error {
	id, ok := middleware.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.auth.Revoke(ctx, id.UserID); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Successfully logged out"})
}

// Me returns the caller's public fields.
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := middleware.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return c.JSON(http.StatusOK, userPart{ID: id.UserID, Username: id.Username, Email: id.Email})
}
