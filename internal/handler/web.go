package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	sl "github.com/iliyamo/pdf-flipbook/internal/logger"
	"github.com/iliyamo/pdf-flipbook/internal/middleware"
	"github.com/iliyamo/pdf-flipbook/internal/model"
	"github.com/iliyamo/pdf-flipbook/internal/service"
)

// viewCookiePrefix + unique id names the cookie holding a viewer's token.
const viewCookiePrefix = "fbv_"

// WebHandler serves the server-rendered pages and the page tracking call
// the viewer script makes.
type WebHandler struct {
	log       *slog.Logger
	auth      *service.Auth
	flipbooks *service.Flipbooks
	analytics *service.Analytics
}

// NewWebHandler returns the browser-facing handlers.
func NewWebHandler(log *slog.Logger, auth *service.Auth, flipbooks *service.Flipbooks, analytics *service.Analytics) *WebHandler {
	return &WebHandler{log: log, auth: auth, flipbooks: flipbooks, analytics: analytics}
}

// page is the data every template receives.
type page struct {
	Title     string
	User      *middleware.Identity
	Error     string
	Notice    string
	Form      map[string]string
	Flipbooks []service.FlipbookSummary
	Flipbook  model.Flipbook
	Pages     []string
	ViewToken string
	ShareURL  string
	EmbedURL  string
	Stats     []model.FlipbookStats
}

// newPage starts a page for c with the logged-in user, if any.
func newPage(c echo.Context, title string) page {
	p := page{Title: title, Form: map[string]string{}}
	if id, ok := middleware.CurrentUser(c); ok {
		p.User = &id
	}
	return p
}

type loginForm struct {
	Email    string `form:"email" validate:"required,email"`
	Password string `form:"password" validate:"required"`
}

type registerForm struct {
	Username  string `form:"username" validate:"required,min=3,max=64"`
	Email     string `form:"email" validate:"required,email"`
	Password  string `form:"password" validate:"required,min=6"`
	Password2 string `form:"password2" validate:"required,eqfield=Password"`
}

// Index renders the landing page.
func (h *WebHandler) Index(c echo.Context) error {
	return c.Render(http.StatusOK, "index.html", newPage(c, "PDF Flipbooks"))
}

// LoginForm renders the login page, with a notice after registration.
func (h *WebHandler) LoginForm(c echo.Context) error {
	p := newPage(c, "Log in")
	if c.QueryParam("registered") != "" {
		p.Notice = "Registration successful. Please log in."
	}
	return c.Render(http.StatusOK, "login.html", p)
}

// Login checks the form credentials and starts a cookie session.
func (h *WebHandler) Login(c echo.Context) error {
	form := loginForm{
		Email:    strings.TrimSpace(c.FormValue("email")),
		Password: c.FormValue("password"),
	}
	p := newPage(c, "Log in")
	p.Form["email"] = form.Email
	if err := c.Validate(&form); err != nil {
		p.Error = validationMessage(err)
		return c.Render(http.StatusBadRequest, "login.html", p)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.auth.Authenticate(ctx, form.Email, form.Password)
	if err != nil {
		status, msg := statusOf(err)
		if status >= http.StatusInternalServerError {
			return respondError(c, h.log, err)
		}
		p.Error = msg
		return c.Render(status, "login.html", p)
	}
	sess, err := h.auth.IssueSession(u)
	if err != nil {
		return respondError(c, h.log, err)
	}
	middleware.SetSessionCookie(c, sess.Token, int(h.auth.SessionTTL().Seconds()))
	return c.Redirect(http.StatusSeeOther, "/dashboard")
}

// RegisterForm renders the registration page.
func (h *WebHandler) RegisterForm(c echo.Context) error {
	return c.Render(http.StatusOK, "register.html", newPage(c, "Register"))
}

// Register creates the account and sends the browser to the login page.
func (h *WebHandler) Register(c echo.Context) error {
	form := registerForm{
		Username:  strings.TrimSpace(c.FormValue("username")),
		Email:     strings.TrimSpace(c.FormValue("email")),
		Password:  c.FormValue("password"),
		Password2: c.FormValue("password2"),
	}
	p := newPage(c, "Register")
	p.Form["username"] = form.Username
	p.Form["email"] = form.Email
	if err := c.Validate(&form); err != nil {
		p.Error = validationMessage(err)
		return c.Render(http.StatusBadRequest, "register.html", p)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if _, err := h.auth.CreateUser(ctx, form.Username, form.Email, form.Password); err != nil {
		status, msg := statusOf(err)
		if status >= http.StatusInternalServerError {
			return respondError(c, h.log, err)
		}
		p.Error = msg
		return c.Render(status, "register.html", p)
	}
	return c.Redirect(http.StatusSeeOther, "/login?registered=1")
}

// Logout drops the session cookie.
func (h *WebHandler) Logout(c echo.Context) error {
	middleware.ClearSessionCookie(c)
	return c.Redirect(http.StatusSeeOther, "/")
}

// Dashboard lists the caller's flipbooks with their view counts.
func (h *WebHandler) Dashboard(c echo.Context) error {
	id, _ := middleware.CurrentUser(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	books, err := h.flipbooks.List(ctx, id.UserID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	p := newPage(c, "Dashboard")
	p.Flipbooks = books
	if c.QueryParam("created") != "" {
		p.Notice = "Flipbook created successfully!"
	}
	return c.Render(http.StatusOK, "dashboard.html", p)
}

// UploadForm renders the new flipbook form.
func (h *WebHandler) UploadForm(c echo.Context) error {
	return c.Render(http.StatusOK, "upload.html", newPage(c, "New flipbook"))
}

// Upload is the form counterpart of FlipbookHandler.Create.  Errors
// re-render the form with the submitted values.
func (h *WebHandler) Upload(c echo.Context) error {
	id, _ := middleware.CurrentUser(c)
	p := newPage(c, "New flipbook")
	p.Form["title"] = c.FormValue("title")
	p.Form["background_color"] = c.FormValue("background_color")
	p.Form["custom_css"] = c.FormValue("custom_css")

	in, closeFile, err := readUploadForm(c)
	defer closeFile()
	if err == nil {
		_, err = h.flipbooks.Upload(c.Request().Context(), id.UserID, in)
	}
	if err != nil {
		var fe *formError
		status, msg := http.StatusBadRequest, ""
		if errors.As(err, &fe) {
			msg = fe.msg
		} else {
			status, msg = statusOf(err)
			if status >= http.StatusInternalServerError {
				h.log.Error("upload failed", slog.Uint64("uid", id.UserID), sl.Err(err))
			}
		}
		p.Error = msg
		return c.Render(status, "upload.html", p)
	}
	return c.Redirect(http.StatusSeeOther, "/dashboard?created=1")
}

// Viewer renders the full viewer page and records a view.
func (h *WebHandler) Viewer(c echo.Context) error { return h.view(c, "viewer.html") }

// Embed renders the chrome-less viewer meant for an iframe.
func (h *WebHandler) Embed(c echo.Context) error { return h.view(c, "embed.html") }

func (h *WebHandler) view(c echo.Context, tmpl string) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	f, err := h.flipbooks.GetPublic(ctx, c.Param("unique_id"))
	if errors.Is(err, service.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Flipbook not found")
	}
	if err != nil {
		return respondError(c, h.log, err)
	}

	ip := c.RealIP()
	var token string
	if ck, err := c.Cookie(viewCookiePrefix + f.UniqueID); err == nil {
		token = ck.Value
	}
	v, err := h.analytics.RecordView(ctx, f, &ip, token)
	if err != nil {
		return respondError(c, h.log, err)
	}
	c.SetCookie(&http.Cookie{
		Name:     viewCookiePrefix + f.UniqueID,
		Value:    v.ViewToken,
		Path:     "/",
		MaxAge:   int((24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	p := newPage(c, f.Title)
	p.Flipbook = f
	p.Pages = f.PageURLs()
	p.ViewToken = v.ViewToken
	base := fmt.Sprintf("%s://%s", c.Scheme(), c.Request().Host)
	p.ShareURL = base + "/viewer/" + f.UniqueID
	p.EmbedURL = base + "/embed/" + f.UniqueID
	return c.Render(http.StatusOK, tmpl, p)
}

type trackReq struct {
	PageNumber int    `json:"page_number" validate:"required"`
	ViewToken  string `json:"view_token"`
}

// TrackPage records the page a viewer is on.  The token comes from the body,
// falling back to the view cookie.
func (h *WebHandler) TrackPage(c echo.Context) error {
	var req trackReq
	if ok, err := bindJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	f, err := h.flipbooks.GetPublic(ctx, c.Param("unique_id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	token := req.ViewToken
	if token == "" {
		if ck, err := c.Cookie(viewCookiePrefix + f.UniqueID); err == nil {
			token = ck.Value
		}
	}
	if err := h.analytics.TrackPage(ctx, f, token, req.PageNumber); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// Analytics renders per-flipbook view statistics for the caller.
func (h *WebHandler) Analytics(c echo.Context) error {
	id, _ := middleware.CurrentUser(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	stats, err := h.analytics.ForUser(ctx, id.UserID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	p := newPage(c, "Analytics")
	p.Stats = stats
	return c.Render(http.StatusOK, "analytics.html", p)
}
