package handler

import (
    "errors"
    "net/http"

    "github.com/charmbracelet/log"
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/slot-reservation/internal/grid"
    "github.com/iliyamo/slot-reservation/internal/repository"
)

// MatchHandler serves the public, read-only match endpoints.
type MatchHandler struct {
    Matches  MatchLookup
    Bookings *repository.BookingRepo
}

// PublicMatch is the public view of a match.  GroupSize and Teams are
// derived so that clients can lay out the grid without knowing the mode
// table.
type PublicMatch struct {
    ID        uint64    `json:"id"`
    Title     string    `json:"title"`
    Mode      grid.Mode `json:"mode"`
    GroupSize int       `json:"group_size"`
    Capacity  int       `json:"capacity"`
    Teams     int       `json:"teams"`
    EntryFee  int64     `json:"entry_fee"`
    Status    string    `json:"status"`
    StartsAt  string    `json:"starts_at"`
}

// GetMatch handles GET /v1/matches/:id.  It is safe to cache: nothing in the
// body changes while a match is open.
func (h *MatchHandler) GetMatch(c echo.Context) error {
    id, ok := parseIDParam(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid match id"})
    }
    m, err := h.Matches.GetByID(c.Request().Context(), id)
    if errors.Is(err, repository.ErrNotFound) {
        return c.JSON(http.StatusNotFound, echo.Map{"error": "match not found"})
    }
    if err != nil {
        log.Error("load match", "match_id", id, "error", err)
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    g := m.GroupSize()
    return c.JSON(http.StatusOK, PublicMatch{
        ID:        m.ID,
        Title:     m.Title,
        Mode:      m.Mode,
        GroupSize: g,
        Capacity:  m.Capacity,
        Teams:     grid.Teams(m.Capacity, g),
        EntryFee:  m.EntryFee,
        Status:    m.Status,
        StartsAt:  m.StartsAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
    })
}

// BookedPositions handles GET /v1/matches/:id/booked-positions.  The body is
// the occupancy snapshot: {"match_id": 7, "indexes": [1, 2, 9]}.  It must
// never be served from the response cache.
func (h *MatchHandler) BookedPositions(c echo.Context) error {
    id, ok := parseIDParam(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid match id"})
    }
    ctx := c.Request().Context()
    if _, err := h.Matches.GetByID(ctx, id); err != nil {
        if errors.Is(err, repository.ErrNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "match not found"})
        }
        log.Error("load match", "match_id", id, "error", err)
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    indexes, err := h.Bookings.BookedPositions(ctx, id)
    if err != nil {
        log.Error("load booked positions", "match_id", id, "error", err)
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
    return c.JSON(http.StatusOK, echo.Map{"match_id": id, "indexes": indexes})
}
