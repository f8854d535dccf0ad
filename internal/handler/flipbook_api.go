package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/pdf-flipbook/internal/middleware"
	"github.com/iliyamo/pdf-flipbook/internal/model"
	"github.com/iliyamo/pdf-flipbook/internal/service"
)

// FlipbookHandler serves the flipbook JSON endpoints.
type FlipbookHandler struct {
	log       *slog.Logger
	flipbooks *service.Flipbooks
}

// NewFlipbookHandler returns the JSON flipbook endpoints over flipbooks.
func NewFlipbookHandler(log *slog.Logger, flipbooks *service.Flipbooks) *FlipbookHandler {
	return &FlipbookHandler{log: log, flipbooks: flipbooks}
}

type flipbookItem struct {
	ID        uint64    `json:"id"`
	Title     string    `json:"title"`
	UniqueID  string    `json:"unique_id"`
	CreatedAt time.Time `json:"created_at"`
	PageCount int       `json:"page_count"`
	ViewCount int64     `json:"view_count"`
}

type flipbookDetail struct {
	ID              uint64    `json:"id"`
	Title           string    `json:"title"`
	UniqueID        string    `json:"unique_id"`
	BackgroundColor string    `json:"background_color"`
	CreatedAt       time.Time `json:"created_at"`
	PageCount       int       `json:"page_count"`
	Pages           []string  `json:"pages"`
	LogoURL         string    `json:"logo_url,omitempty"`
	CustomCSS       string    `json:"custom_css,omitempty"`
}

func newFlipbookDetail(f model.Flipbook) flipbookDetail {
	return flipbookDetail{
		ID:              f.ID,
		Title:           f.Title,
		UniqueID:        f.UniqueID,
		BackgroundColor: f.BackgroundColor,
		CreatedAt:       f.CreatedAt,
		PageCount:       f.PageCount,
		Pages:           f.PageURLs(),
		LogoURL:         f.LogoURL(),
		CustomCSS:       f.CustomCSS,
	}
}

// publicManifest omits the integer id and owner.
type publicManifest struct {
	UniqueID        string   `json:"unique_id"`
	Title           string   `json:"title"`
	BackgroundColor string   `json:"background_color"`
	PageCount       int      `json:"page_count"`
	Pages           []string `json:"pages"`
	LogoURL         string   `json:"logo_url,omitempty"`
	CustomCSS       string   `json:"custom_css,omitempty"`
}

// uploadForm is validated before the file is read.
type uploadForm struct {
	Title           string `form:"title" validate:"required,max=128"`
	BackgroundColor string `form:"background_color" validate:"omitempty,hexcolor,max=7"`
	CustomCSS       string `form:"custom_css" validate:"max=10000"`
}

// readUploadForm validates the text fields and opens the pdf_file part and
// the optional logo part.  The returned close func is never nil.
func readUploadForm(c echo.Context) (service.UploadInput, func(), error) {
	nop := func() {}
	form := uploadForm{
		Title:           strings.TrimSpace(c.FormValue("title")),
		BackgroundColor: strings.TrimSpace(c.FormValue("background_color")),
		CustomCSS:       strings.TrimSpace(c.FormValue("custom_css")),
	}
	if err := c.Validate(&form); err != nil {
		return service.UploadInput{}, nop, &formError{msg: validationMessage(err)}
	}
	fh, err := c.FormFile("pdf_file")
	if err != nil {
		return service.UploadInput{}, nop, service.ErrMissingUpload
	}
	f, err := fh.Open()
	if err != nil {
		return service.UploadInput{}, nop, err
	}
	in := service.UploadInput{
		Title:           form.Title,
		BackgroundColor: strings.ToLower(form.BackgroundColor),
		Filename:        fh.Filename,
		Reader:          f,
		CustomCSS:       form.CustomCSS,
	}
	closeAll := func() { _ = f.Close() }

	if lh, err := c.FormFile("logo"); err == nil && lh.Filename != "" {
		lf, err := lh.Open()
		if err != nil {
			closeAll()
			return service.UploadInput{}, nop, err
		}
		in.LogoFilename = lh.Filename
		in.Logo = lf
		closeAll = func() {
			_ = f.Close()
			_ = lf.Close()
		}
	}
	return in, closeAll, nil
}

type formError struct{ msg string }

func (e *formError) Error() string { return e.msg }

// List returns the caller's flipbooks, newest first.
func (h *FlipbookHandler) List(c echo.Context) error {
	id, _ := middleware.CurrentUser(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	books, err := h.flipbooks.List(ctx, id.UserID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	items := make([]flipbookItem, 0, len(books))
	for _, b := range books {
		items = append(items, flipbookItem{
			ID:        b.ID,
			Title:     b.Title,
			UniqueID:  b.UniqueID,
			CreatedAt: b.CreatedAt,
			PageCount: b.PageCount,
			ViewCount: b.ViewCount,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"flipbooks": items})
}

// Create accepts a multipart upload and rasterizes it.  Conversion runs on
// the request context, without the short database timeout.
func (h *FlipbookHandler) Create(c echo.Context) error {
	id, _ := middleware.CurrentUser(c)

	in, closeFile, err := readUploadForm(c)
	defer closeFile()
	var fe *formError
	if errors.As(err, &fe) {
		return badRequest(c, fe.msg)
	}
	if err != nil {
		return respondError(c, h.log, err)
	}

	f, err := h.flipbooks.Upload(c.Request().Context(), id.UserID, in)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, newFlipbookDetail(f))
}

// Get returns one of the caller's flipbooks with its page URLs.
func (h *FlipbookHandler) Get(c echo.Context) error {
	id, _ := middleware.CurrentUser(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	f, err := h.flipbooks.GetOwned(ctx, id.UserID, c.Param("unique_id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, newFlipbookDetail(f))
}

// Public returns the manifest viewers and embeds need.  No authentication;
// the unique id is the capability.
func (h *FlipbookHandler) Public(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	f, err := h.flipbooks.GetPublic(ctx, c.Param("unique_id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, publicManifest{
		UniqueID:        f.UniqueID,
		Title:           f.Title,
		BackgroundColor: f.BackgroundColor,
		PageCount:       f.PageCount,
		Pages:           f.PageURLs(),
		LogoURL:         f.LogoURL(),
		CustomCSS:       f.CustomCSS,
	})
}
