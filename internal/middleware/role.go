package middleware // middleware provides shared request processing for handlers

import (
    "net/http" // http package defines standard HTTP status codes

    "github.com/labstack/echo/v4" // echo provides middleware chaining and context
)

// RequireRole returns a middleware function that enforces that the
// authenticated user has one of the specified roles (model.RolePlayer,
// model.RoleAdmin).  The role is read from the "role" claim that JWTAuth
// stored in the context; a missing or unknown role aborts the request with
// 403 Forbidden.  Booking writes are mounted behind RequireRole(PLAYER) so
// that admins can watch the lock channel without taking positions.
func RequireRole(roles ...string) echo.MiddlewareFunc {
    allowed := make(map[string]bool, len(roles)) // set of accepted role names
    for _, r := range roles {
        allowed[r] = true
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !allowed[Role(c)] {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
            }
            return next(c) // role accepted
        }
    }
}
