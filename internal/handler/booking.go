package handler

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "sort"
    "strings"
    "time"

    "github.com/charmbracelet/log"
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/slot-reservation/internal/grid"
    "github.com/iliyamo/slot-reservation/internal/metrics"
    "github.com/iliyamo/slot-reservation/internal/middleware"
    "github.com/iliyamo/slot-reservation/internal/model"
    "github.com/iliyamo/slot-reservation/internal/queue"
    "github.com/iliyamo/slot-reservation/internal/repository"
)

// Broadcaster pushes occupancy changes to lock channel viewers.  *hub.Hub
// satisfies it.
type Broadcaster interface {
    Booked(matchID uint64, indexes []int)
    Released(matchID uint64, indexes []int)
}

// EventPublisher emits booking events to the broker.
type EventPublisher interface {
    PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
}

// BookingHandler commits and cancels bookings.  Every commit is validated
// again here: the client-side gate is a convenience, not a guarantee.  All
// methods assume that JWT authentication and role validation have already
// been performed by middleware.
type BookingHandler struct {
    Matches  MatchLookup
    Bookings *repository.BookingRepo
    Hub      Broadcaster    // nil disables lock channel notifications
    Events   EventPublisher // nil disables broker events
    Metrics  metrics.Metrics
}

// fieldError is a re-validation failure attributed to a payload field.
type fieldError struct {
    Field   string
    Message string
}

// Create handles POST /v1/matches/:id/bookings.  The body is a
// model.BookingPayload.  Responses:
//
//  201 {"booking_id", "total_amount", "indexes"}
//  402 {"error": "insufficient_balance", "required", "available"}
//  409 {"error": "position_already_booked", "indexes"}
//  409 {"error": "match_closed"}
//  422 {"error": "validation_failed", "field", "message"}
func (h *BookingHandler) Create(c echo.Context) error {
    started := time.Now()
    userID, err := middleware.UserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    matchID, ok := parseIDParam(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid match id"})
    }
    var payload model.BookingPayload
    if err := c.Bind(&payload); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if err := c.Validate(&payload); err != nil {
        h.Metrics.IncBookingRejected("validation")
        return validationResponse(c, err)
    }
    if payload.MatchID != matchID {
        h.Metrics.IncBookingRejected("validation")
        return validationFailed(c, "match_id", "does not match the URL")
    }

    ctx := c.Request().Context()
    m, err := h.Matches.GetByID(ctx, matchID)
    if errors.Is(err, repository.ErrNotFound) {
        return c.JSON(http.StatusNotFound, echo.Map{"error": "match not found"})
    }
    if err != nil {
        log.Error("load match for booking", "match_id", matchID, "error", err)
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    if !m.IsOpen() {
        h.Metrics.IncBookingRejected("closed")
        return c.JSON(http.StatusConflict, echo.Map{"error": "match_closed"})
    }

    positions, ferr := checkPayload(m, payload)
    if ferr != nil {
        h.Metrics.IncBookingRejected("validation")
        return validationFailed(c, ferr.Field, ferr.Message)
    }

    b, err := h.Bookings.Create(ctx, repository.CreateBookingParams{
        UserID:      userID,
        MatchID:     matchID,
        TotalAmount: payload.TotalAmount,
        Positions:   positions,
    })
    var taken *repository.PositionTakenError
    var funds *repository.InsufficientFundsError
    var quota *repository.QuotaExceededError
    switch {
    case errors.As(err, &taken):
        h.Metrics.IncBookingConflict()
        log.Info("booking conflict", "match_id", matchID, "user_id", userID, "indexes", taken.Indexes)
        return c.JSON(http.StatusConflict, echo.Map{"error": "position_already_booked", "indexes": taken.Indexes})
    case errors.As(err, &funds):
        h.Metrics.IncBookingRejected("insufficient_balance")
        return c.JSON(http.StatusPaymentRequired, echo.Map{
            "error":     "insufficient_balance",
            "required":  funds.Required,
            "available": funds.Available,
        })
    case errors.As(err, &quota):
        h.Metrics.IncBookingRejected("validation")
        return validationFailed(c, "player_index", fmt.Sprintf("free matches allow %d positions per player; you already hold %d", quota.Cap, quota.Held))
    case errors.Is(err, repository.ErrCommitContended):
        log.Warn("booking commit contended", "match_id", matchID, "user_id", userID)
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "commit_contended"})
    case errors.Is(err, repository.ErrConflict):
        h.Metrics.IncBookingRejected("closed")
        return c.JSON(http.StatusConflict, echo.Map{"error": "match_closed"})
    case errors.Is(err, repository.ErrNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
    case err != nil:
        log.Error("commit booking", "match_id", matchID, "user_id", userID, "error", err)
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit booking"})
    }

    indexes := make([]int, 0, len(b.Positions))
    for _, p := range b.Positions {
        indexes = append(indexes, p.GlobalIndex)
    }
    sort.Ints(indexes)

    h.Metrics.IncBookingCommitted()
    h.Metrics.ObserveCommitDuration(time.Since(started).Seconds())
    log.Info("booking committed", "booking_id", b.ID, "match_id", matchID, "user_id", userID, "indexes", indexes, "total", b.TotalAmount)

    if h.Hub != nil {
        h.Hub.Booked(matchID, indexes)
    }
    if h.Events != nil {
        ev := confirmedEvent(m, b)
        go func() {
            // Best effort; the booking is already committed.
            ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
            defer cancel()
            _ = h.Events.PublishBookingConfirmed(ctx, ev)
        }()
    }

    return c.JSON(http.StatusCreated, echo.Map{
        "booking_id":   b.ID,
        "total_amount": b.TotalAmount,
        "indexes":      indexes,
    })
}

// Cancel handles DELETE /v1/bookings/:id.  It frees the booking's
// positions, refunds the wallet and tells lock channel viewers.  Returns 204
// on success, 403 for another user's booking, 404 when missing and 409 once
// the match has started.
func (h *BookingHandler) Cancel(c echo.Context) error {
    userID, err := middleware.UserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    bookingID, ok := parseIDParam(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
    }
    matchID, freed, err := h.Bookings.Cancel(c.Request().Context(), bookingID, userID)
    switch {
    case errors.Is(err, repository.ErrNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
    case errors.Is(err, repository.ErrForbidden):
        return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
    case errors.Is(err, repository.ErrConflict):
        return c.JSON(http.StatusConflict, echo.Map{"error": "match already started"})
    case err != nil:
        log.Error("cancel booking", "booking_id", bookingID, "error", err)
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to cancel booking"})
    }
    log.Info("booking cancelled", "booking_id", bookingID, "match_id", matchID, "freed", freed)
    if h.Hub != nil && len(freed) > 0 {
        h.Hub.Released(matchID, freed)
    }
    return c.NoContent(http.StatusNoContent)
}

// checkPayload re-derives every position of the payload from the match's
// grid and rejects anything the client gate should have caught.
func checkPayload(m *model.Match, p model.BookingPayload) ([]model.BookingPosition, *fieldError) {
    g := m.GroupSize()
    keys := make([]string, 0, len(p.Teams))
    for k := range p.Teams {
        keys = append(keys, k)
    }
    sort.Strings(keys)

    seen := make(map[int]struct{})
    names := make(map[string]int)
    keyed := make(map[string]struct{})
    positions := make([]model.BookingPosition, 0, len(p.PlayerIndex))
    for _, team := range keys {
        for _, idx := range p.Teams[team] {
            if !grid.InGrid(idx, m.Capacity) {
                return nil, &fieldError{"teams", fmt.Sprintf("index %d is outside the grid", idx)}
            }
            if _, dup := seen[idx]; dup {
                return nil, &fieldError{"teams", fmt.Sprintf("index %d appears more than once", idx)}
            }
            coord := grid.Decode(idx, g)
            if want := grid.SubTeamKey(m.Mode, coord.Letter); want != team {
                return nil, &fieldError{"teams", fmt.Sprintf("index %d belongs to %s, not %s", idx, want, team)}
            }
            key := model.NameKey(team, idx)
            keyed[key] = struct{}{}
            name := strings.TrimSpace(p.Names[key])
            if name == "" {
                return nil, &fieldError{"names", "missing player name for " + coord.String()}
            }
            if other, dup := names[strings.ToLower(name)]; dup {
                return nil, &fieldError{"names", fmt.Sprintf("%q is used for both %s and %s", name, grid.Decode(other, g), coord)}
            }
            seen[idx] = struct{}{}
            names[strings.ToLower(name)] = idx
            positions = append(positions, model.BookingPosition{GlobalIndex: idx, SubTeam: team, PlayerName: name})
        }
    }

    if len(p.PlayerIndex) != len(seen) {
        return nil, &fieldError{"player_index", "does not list the same positions as teams"}
    }
    listed := make(map[int]struct{}, len(p.PlayerIndex))
    for _, idx := range p.PlayerIndex {
        if _, ok := seen[idx]; !ok {
            return nil, &fieldError{"player_index", "does not list the same positions as teams"}
        }
        if _, dup := listed[idx]; dup {
            return nil, &fieldError{"player_index", fmt.Sprintf("index %d appears more than once", idx)}
        }
        listed[idx] = struct{}{}
    }
    for key := range p.Names {
        if _, ok := keyed[key]; !ok {
            return nil, &fieldError{"names", fmt.Sprintf("%q matches no position in teams", key)}
        }
    }
    if m.IsFree() && len(positions) > m.Mode.QuotaCap() {
        return nil, &fieldError{"player_index", fmt.Sprintf("free matches allow at most %d positions", m.Mode.QuotaCap())}
    }
    if want := m.TotalFor(len(positions)); p.TotalAmount != want {
        return nil, &fieldError{"total_amount", fmt.Sprintf("expected %d", want)}
    }
    return positions, nil
}

func confirmedEvent(m *model.Match, b *model.Booking) queue.BookingConfirmedEvent {
    g := m.GroupSize()
    ev := queue.BookingConfirmedEvent{
        BookingID:   b.ID,
        UserID:      b.UserID,
        MatchID:     m.ID,
        MatchTitle:  m.Title,
        Mode:        string(m.Mode),
        Names:       make(map[string]string, len(b.Positions)),
        TotalAmount: b.TotalAmount,
        ConfirmedAt: b.CreatedAt.UTC().Format(time.RFC3339),
    }
    for _, p := range b.Positions {
        coord := grid.Decode(p.GlobalIndex, g).String()
        ev.Indexes = append(ev.Indexes, p.GlobalIndex)
        ev.Positions = append(ev.Positions, coord)
        ev.Names[coord] = p.PlayerName
    }
    return ev
}
