package middleware

// identity.go turns the claims JWTAuth stored in the echo context into typed
// values for handlers.

import (
    "errors"
    "strconv"

    "github.com/labstack/echo/v4"
)

// ErrNoUser is returned by UserID when the request carries no usable
// subject claim.
var ErrNoUser = errors.New("invalid user_id in context")

// UserID extracts the user_id set by JWTAuth and converts it to uint64.  The
// JSON claims decoder yields float64 for numeric subjects and string for
// textual ones; both are accepted.
func UserID(c echo.Context) (uint64, error) {
    switch t := c.Get("user_id").(type) {
    case uint64:
        return t, nil
    case int:
        return uint64(t), nil
    case int64:
        return uint64(t), nil
    case float64:
        if t > 0 {
            return uint64(t), nil
        }
    case string:
        if n, err := strconv.ParseUint(t, 10, 64); err == nil {
            return n, nil
        }
    }
    return 0, ErrNoUser
}

// Role returns the role claim, or "" for anonymous requests.
func Role(c echo.Context) string {
    r, _ := c.Get("role").(string)
    return r
}
