// Package handler exposes the HTTP handlers of the slot reservation API.
// Public handlers serve match details and occupancy snapshots; authenticated
// handlers commit and cancel bookings and expose the caller's profile and
// wallet.  Every error response carries an "error" code string.
package handler

import (
    "context"  // context for repository lookups
    "net/http" // HTTP status codes
    "strconv"  // strconv converts path params to numeric types

    "github.com/labstack/echo/v4" // echo defines request context types

    "github.com/iliyamo/slot-reservation/internal/model"
)

// MatchLookup loads a single match.  *repository.MatchRepo satisfies it.
type MatchLookup interface {
    GetByID(ctx context.Context, id uint64) (*model.Match, error)
}

// parseIDParam reads a positive numeric path parameter.
func parseIDParam(c echo.Context, name string) (uint64, bool) {
    id, err := strconv.ParseUint(c.Param(name), 10, 64) // parse as base-10 uint64
    if err != nil || id == 0 {                           // zero is never a valid primary key
        return 0, false
    }
    return id, true
}

// validationFailed renders the 422 body shared by request validation and
// booking re-validation.
func validationFailed(c echo.Context, field, message string) error {
    return c.JSON(http.StatusUnprocessableEntity, echo.Map{
        "error":   "validation_failed",
        "field":   field,
        "message": message,
    })
}
