// Package ws serves the seat lock channel over websockets and bridges each
// connection to the lock hub.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/slot-reservation/internal/grid"
	"github.com/iliyamo/slot-reservation/internal/hub"
	"github.com/iliyamo/slot-reservation/internal/middleware"
	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/repository"
	"github.com/iliyamo/slot-reservation/internal/wire"
)

// MatchLookup loads the match a connection is for.
type MatchLookup interface {
	GetByID(ctx context.Context, id uint64) (*model.Match, error)
}

// Handler upgrades GET /v1/matches/:id/locks.
type Handler struct {
	Hub            *hub.Hub
	Matches        MatchLookup
	OriginPatterns []string
	OutboxSize     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// NewHandler returns a Handler with default buffer and timeout settings.
func NewHandler(h *hub.Hub, matches MatchLookup, origins []string) *Handler {
	return &Handler{
		Hub:            h,
		Matches:        matches,
		OriginPatterns: origins,
		OutboxSize:     32,
		PingInterval:   20 * time.Second,
		WriteTimeout:   3 * time.Second,
	}
}

// Locks is the echo handler.  It expects JWTAuth to have run.
func (h *Handler) Locks(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid match id"})
	}
	uid, err := middleware.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	m, err := h.Matches.GetByID(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "match not found"})
	}
	if err != nil {
		log.Error("load match for lock channel", "match_id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "db error"})
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: h.OriginPatterns,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		return nil
	}
	defer conn.CloseNow()

	sid := uuid.NewString()
	out := make(chan wire.Message, h.OutboxSize)
	h.Hub.Send(hub.Join{MatchID: id, SessionID: sid, UserID: uid, Outbox: out})
	defer h.Hub.Send(hub.Leave{MatchID: id, SessionID: sid})

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go h.writeLoop(ctx, cancel, conn, out)

	log.Info("lock channel opened", "match_id", id, "user_id", uid, "session", sid)
	err = h.readLoop(ctx, conn, m, sid)
	log.Info("lock channel closed", "match_id", id, "session", sid, "reason", err)
	return nil
}

// writeLoop forwards hub frames and keeps the connection alive with pings.
// The hub closes out when it drops the session.
func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan wire.Message) {
	defer cancel()
	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-out:
			if !ok {
				_ = conn.Close(websocket.StatusTryAgainLater, "session dropped")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, h.WriteTimeout)
			err := wsjson.Write(wctx, conn, msg)
			wcancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, h.WriteTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, m *model.Match, sid string) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return err
		}
		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(ctx, conn, wire.Error(wire.CodeBadJSON, "frame is not valid JSON"))
			continue
		}

		if msg.Type != wire.TypeLock && msg.Type != wire.TypeUnlock {
			h.reply(ctx, conn, wire.Error(wire.CodeUnknownType, "unknown type "+strconv.Quote(msg.Type)))
			continue
		}
		if msg.MatchID != 0 && msg.MatchID != m.ID {
			h.reply(ctx, conn, wire.Error(wire.CodeWrongMatch, "connection is bound to match "+strconv.FormatUint(m.ID, 10)))
			continue
		}
		if !grid.InGrid(msg.Index, m.Capacity) {
			h.reply(ctx, conn, wire.Error(wire.CodeOutOfGrid, "index "+strconv.Itoa(msg.Index)+" is outside the grid"))
			continue
		}
		if msg.Type == wire.TypeLock {
			h.Hub.Send(hub.Lock{MatchID: m.ID, SessionID: sid, Index: msg.Index})
		} else {
			h.Hub.Send(hub.Unlock{MatchID: m.ID, SessionID: sid, Index: msg.Index})
		}
	}
}

func (h *Handler) reply(ctx context.Context, conn *websocket.Conn, msg wire.Message) {
	wctx, cancel := context.WithTimeout(ctx, h.WriteTimeout)
	defer cancel()
	_ = wsjson.Write(wctx, conn, msg)
}
