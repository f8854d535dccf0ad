package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/pdf-flipbook/internal/model"
)

const identityKey = "identity"

// Identity is the authenticated user attached to a request.
type Identity struct {
	UserID   uint64
	Username string
	Email    string
}

func identityOf(u model.User) Identity {
	return Identity{UserID: u.ID, Username: u.Username, Email: u.Email}
}

func setIdentity(c echo.Context, u model.User) { c.Set(identityKey, identityOf(u)) }

// CurrentUser returns the identity stored by BearerAuth or SessionAuth.
func CurrentUser(c echo.Context) (Identity, bool) {
	id, ok := c.Get(identityKey).(Identity)
	return id, ok
}

// userKey identifies the caller for rate limiting; "anon" before
// authentication.
func userKey(c echo.Context) string {
	if id, ok := CurrentUser(c); ok {
		return strconv.FormatUint(id.UserID, 10)
	}
	return "anon"
}
