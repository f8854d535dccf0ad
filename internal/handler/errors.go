package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	sl "github.com/iliyamo/pdf-flipbook/internal/logger"
	"github.com/iliyamo/pdf-flipbook/internal/repository"
	"github.com/iliyamo/pdf-flipbook/internal/service"
	"github.com/iliyamo/pdf-flipbook/internal/utils"
)

// statusOf maps service errors to an HTTP status and a client message.
// Anything unrecognised is a 500 with a generic message.
func statusOf(err error) (int, string) {
	var conv *service.ConversionError
	switch {
	case errors.Is(err, service.ErrEmailExists):
		return http.StatusBadRequest, "Email already registered"
	case errors.Is(err, service.ErrUsernameExists):
		return http.StatusBadRequest, "Username already taken"
	case errors.Is(err, utils.ErrPasswordTooLong):
		return http.StatusBadRequest, "password must be at most 72 bytes"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, service.ErrTokenExpired):
		return http.StatusUnauthorized, "Token has expired"
	case errors.Is(err, service.ErrTokenInvalid):
		return http.StatusUnauthorized, "Invalid or expired token"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "Unauthorized access"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "Flipbook not found"
	case errors.Is(err, service.ErrViewNotFound):
		return http.StatusNotFound, "View not found"
	case errors.Is(err, service.ErrInvalidPage):
		return http.StatusBadRequest, "Invalid page number"
	case errors.Is(err, service.ErrInvalidUpload):
		return http.StatusBadRequest, "Invalid file type. Please upload a PDF."
	case errors.Is(err, service.ErrMissingUpload):
		return http.StatusBadRequest, "No file part"
	case errors.Is(err, service.ErrEmptyFilename):
		return http.StatusBadRequest, "No selected file"
	case errors.Is(err, service.ErrTitleRequired):
		return http.StatusBadRequest, "title is required"
	case errors.Is(err, service.ErrInvalidLogo):
		return http.StatusBadRequest, "Invalid logo. Please upload a PNG, JPEG, GIF or WebP image."
	case errors.Is(err, service.ErrInvalidCSS):
		return http.StatusBadRequest, "custom_css must not contain '<'"
	case errors.As(err, &conv):
		return http.StatusInternalServerError, conv.Error()
	case errors.Is(err, repository.ErrCorruptRecord):
		return http.StatusInternalServerError, "stored data could not be decrypted"
	}
	return http.StatusInternalServerError, "internal error"
}

// respondError writes err as {"error": ...}.  Server-side failures are
// logged; client errors are not.
func respondError(c echo.Context, log *slog.Logger, err error) error {
	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.String("path", c.Path()), sl.Err(err))
	}
	body := echo.Map{"error": msg}
	if errors.Is(err, service.ErrTokenExpired) {
		body["code"] = "TOKEN_EXPIRED"
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
