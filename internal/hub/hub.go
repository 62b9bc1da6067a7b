// Package hub is the server side of the seat lock channel.  A single
// goroutine owns every match room: sessions join a room, send lock and
// unlock intents, and receive what the other sessions of the room do.
// Locks are advisory; the hub never blocks a booking.
package hub

import (
	"context"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/iliyamo/slot-reservation/internal/metrics"
	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/wire"
)

type Msg interface{ isHubMsg() }

// Join adds a session to a match room.  The session immediately receives a
// snapshot frame listing the indexes other sessions hold.
type Join struct {
	MatchID   uint64
	SessionID string
	UserID    uint64
	Outbox    chan wire.Message // closed by the hub when the session is removed
}

// Leave removes a session and releases its locks.
type Leave struct {
	MatchID   uint64
	SessionID string
}

// Lock is a session's lock intent.
type Lock struct {
	MatchID   uint64
	SessionID string
	Index     int
}

// Unlock is a session's unlock intent.
type Unlock struct {
	MatchID   uint64
	SessionID string
	Index     int
}

// Booked announces committed positions.  Locks on them are dropped.
type Booked struct {
	MatchID uint64
	Indexes []int
}

// Released announces positions freed by a cancelled booking.
type Released struct {
	MatchID uint64
	Indexes []int
}

// GetView reports a room's state without data races.  Used by tests and the
// debug endpoint.
type GetView struct {
	MatchID uint64
	Reply   chan View
}

type Shutdown struct{}

func (Join) isHubMsg()     {}
func (Leave) isHubMsg()    {}
func (Lock) isHubMsg()     {}
func (Unlock) isHubMsg()   {}
func (Booked) isHubMsg()   {}
func (Released) isHubMsg() {}
func (GetView) isHubMsg()  {}
func (Shutdown) isHubMsg() {}

// View is a copy of one room.
type View struct {
	Sessions int
	Locks    map[int]string // index -> local session
	Remote   map[int]string // index -> session on another instance
}

// Config tunes lock lifetime.
type Config struct {
	LockTTL       time.Duration
	SweepInterval time.Duration
	OpTimeout     time.Duration
}

func (c *Config) defaults() {
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.LockTTL / 3
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = time.Second
	}
}

type member struct {
	userID uint64
	outbox chan wire.Message
	locks  map[int]struct{}
}

type room struct {
	members map[string]*member
	remote  map[int]string
}

type Hub struct {
	inbox    chan Msg
	cfg      Config
	registry Registry
	relay    Relay
	metrics  metrics.Metrics
	rooms    map[uint64]*room
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// New starts a hub.  relay may be nil for a single-instance deployment.
func New(parent context.Context, cfg Config, reg Registry, relay Relay, m metrics.Metrics) *Hub {
	cfg.defaults()
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan Msg, 256),
		cfg:      cfg,
		registry: reg,
		relay:    relay,
		metrics:  m,
		rooms:    make(map[uint64]*room),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

// Inbox exposes the hub's mailbox.
func (h *Hub) Inbox() chan<- Msg { return h.inbox }

// Done is closed once the hub loop has exited.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Send delivers m unless the hub has stopped.
func (h *Hub) Send(m Msg) {
	select {
	case h.inbox <- m:
	case <-h.ctx.Done():
	}
}

// Booked tells every session of the match that indexes were committed.
func (h *Hub) Booked(matchID uint64, indexes []int) {
	h.Send(Booked{MatchID: matchID, Indexes: indexes})
}

// Released tells every session of the match that indexes were freed.
func (h *Hub) Released(matchID uint64, indexes []int) {
	h.Send(Released{MatchID: matchID, Indexes: indexes})
}

// View returns a copy of a room, or a zero View when the hub has stopped.
func (h *Hub) View(matchID uint64) View {
	reply := make(chan View, 1)
	h.Send(GetView{MatchID: matchID, Reply: reply})
	select {
	case v := <-reply:
		return v
	case <-h.done:
		return View{}
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	var frames <-chan Frame
	if h.relay != nil {
		frames = h.relay.Frames()
	}

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case <-ticker.C:
			h.sweep()

		case f, ok := <-frames:
			if !ok {
				frames = nil
				log.Warn("relay closed; continuing without cross-instance fan-out")
				continue
			}
			h.handleFrame(f)

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Join:
				h.join(msg)
			case Leave:
				if r := h.rooms[msg.MatchID]; r != nil {
					h.removeMember(msg.MatchID, r, msg.SessionID)
				}
			case Lock:
				h.lock(msg)
			case Unlock:
				h.unlock(msg)
			case Booked:
				h.booked(msg.MatchID, msg.Indexes, true)
			case Released:
				h.released(msg.MatchID, msg.Indexes, true)
			case GetView:
				msg.Reply <- h.view(msg.MatchID)
			case Shutdown:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(h.ctx, h.cfg.OpTimeout)
}

func (h *Hub) join(msg Join) {
	r := h.rooms[msg.MatchID]
	if r == nil {
		r = &room{members: make(map[string]*member), remote: make(map[int]string)}
		h.rooms[msg.MatchID] = r
	}
	m := &member{userID: msg.UserID, outbox: msg.Outbox, locks: make(map[int]struct{})}
	r.members[msg.SessionID] = m
	h.metrics.SessionJoined()

	held := make(map[int]struct{})
	for sid, other := range r.members {
		if sid == msg.SessionID {
			continue
		}
		for idx := range other.locks {
			held[idx] = struct{}{}
		}
	}
	ctx, cancel := h.opCtx()
	holders, err := h.registry.Holders(ctx, msg.MatchID)
	cancel()
	if err != nil {
		log.Warn("lock registry unavailable; snapshot limited to this instance", "match_id", msg.MatchID, "error", err)
	}
	for _, l := range holders {
		if l.SessionID == msg.SessionID {
			continue
		}
		if _, local := r.members[l.SessionID]; !local {
			r.remote[l.Index] = l.SessionID
		}
		held[l.Index] = struct{}{}
	}

	idx := make([]int, 0, len(held))
	for i := range held {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	if !h.deliver(m, wire.Message{Type: wire.TypeSnapshot, MatchID: msg.MatchID, Indexes: idx}) {
		h.removeMember(msg.MatchID, r, msg.SessionID)
		return
	}
	log.Debug("session joined", "match_id", msg.MatchID, "session", msg.SessionID, "user_id", msg.UserID)
}

func (h *Hub) lock(msg Lock) {
	r := h.rooms[msg.MatchID]
	if r == nil || msg.Index < 1 {
		return
	}
	m := r.members[msg.SessionID]
	if m == nil {
		return
	}
	if _, own := m.locks[msg.Index]; own {
		ctx, cancel := h.opCtx()
		_, _ = h.registry.Renew(ctx, msg.MatchID, msg.Index, msg.SessionID, h.cfg.LockTTL)
		cancel()
		return
	}

	ctx, cancel := h.opCtx()
	ok, err := h.registry.Acquire(ctx, model.SeatLock{
		MatchID:   msg.MatchID,
		Index:     msg.Index,
		SessionID: msg.SessionID,
		UserID:    m.userID,
	}, h.cfg.LockTTL)
	cancel()
	if err != nil {
		log.Error("lock acquire failed", "match_id", msg.MatchID, "index", msg.Index, "error", err)
		return
	}
	if !ok {
		h.metrics.IncLockIntent(metrics.LockIgnored)
		return
	}
	m.locks[msg.Index] = struct{}{}
	delete(r.remote, msg.Index)
	h.metrics.IncLockIntent(metrics.LockAccepted)
	h.broadcast(msg.MatchID, r, wire.Lock(msg.MatchID, msg.Index), msg.SessionID)
	h.publish(Frame{Type: wire.TypeLock, MatchID: msg.MatchID, Index: msg.Index, SessionID: msg.SessionID})
	h.reportLocks()
}

func (h *Hub) unlock(msg Unlock) {
	r := h.rooms[msg.MatchID]
	if r == nil {
		return
	}
	m := r.members[msg.SessionID]
	if m == nil {
		return
	}
	if _, own := m.locks[msg.Index]; !own {
		return
	}
	h.dropLock(msg.MatchID, r, msg.SessionID, m, msg.Index)
	h.metrics.IncLockIntent(metrics.LockReleased)
	h.reportLocks()
}

// dropLock releases one lock held by a local session and tells everyone
// else.
func (h *Hub) dropLock(matchID uint64, r *room, sid string, m *member, index int) {
	delete(m.locks, index)
	ctx, cancel := h.opCtx()
	if err := h.registry.Release(ctx, matchID, index, sid); err != nil {
		log.Warn("lock release failed; it will expire", "match_id", matchID, "index", index, "error", err)
	}
	cancel()
	h.broadcast(matchID, r, wire.Unlock(matchID, index), sid)
	h.publish(Frame{Type: wire.TypeUnlock, MatchID: matchID, Index: index, SessionID: sid})
}

// removeMember drops a session, closes its outbox and releases its locks.
func (h *Hub) removeMember(matchID uint64, r *room, sid string) {
	m := r.members[sid]
	if m == nil {
		return
	}
	delete(r.members, sid)
	close(m.outbox)
	h.metrics.SessionLeft()

	locks := make([]int, 0, len(m.locks))
	for idx := range m.locks {
		locks = append(locks, idx)
	}
	sort.Ints(locks)
	for _, idx := range locks {
		h.dropLock(matchID, r, sid, m, idx)
	}
	if len(r.members) == 0 {
		delete(h.rooms, matchID)
	}
	h.reportLocks()
	log.Debug("session left", "match_id", matchID, "session", sid, "released", len(locks))
}

func (h *Hub) booked(matchID uint64, indexes []int, local bool) {
	if local {
		h.publish(Frame{Type: wire.TypeBooked, MatchID: matchID, Indexes: indexes})
	}
	r := h.rooms[matchID]
	if r == nil {
		return
	}
	for _, idx := range indexes {
		delete(r.remote, idx)
		for sid, m := range r.members {
			if _, ok := m.locks[idx]; !ok {
				continue
			}
			delete(m.locks, idx)
			ctx, cancel := h.opCtx()
			_ = h.registry.Release(ctx, matchID, idx, sid)
			cancel()
		}
	}
	h.broadcast(matchID, r, wire.Message{Type: wire.TypeBooked, MatchID: matchID, Indexes: indexes}, "")
	h.reportLocks()
}

func (h *Hub) released(matchID uint64, indexes []int, local bool) {
	if local {
		h.publish(Frame{Type: wire.TypeReleased, MatchID: matchID, Indexes: indexes})
	}
	if r := h.rooms[matchID]; r != nil {
		h.broadcast(matchID, r, wire.Message{Type: wire.TypeReleased, MatchID: matchID, Indexes: indexes}, "")
	}
}

// handleFrame applies an event from another hub instance to the local room.
func (h *Hub) handleFrame(f Frame) {
	switch f.Type {
	case wire.TypeBooked:
		h.booked(f.MatchID, f.Indexes, false)
		return
	case wire.TypeReleased:
		h.released(f.MatchID, f.Indexes, false)
		return
	}
	r := h.rooms[f.MatchID]
	if r == nil {
		return
	}
	switch f.Type {
	case wire.TypeLock:
		r.remote[f.Index] = f.SessionID
		h.broadcast(f.MatchID, r, wire.Lock(f.MatchID, f.Index), "")
	case wire.TypeUnlock:
		if r.remote[f.Index] == f.SessionID {
			delete(r.remote, f.Index)
			h.broadcast(f.MatchID, r, wire.Unlock(f.MatchID, f.Index), "")
		}
	}
}

// sweep renews the locks of connected sessions and drops locks that lapsed:
// local ones the registry no longer confirms and remote ones whose instance
// stopped renewing them.
func (h *Hub) sweep() {
	for matchID, r := range h.rooms {
		for sid, m := range r.members {
			for idx := range m.locks {
				ctx, cancel := h.opCtx()
				ok, err := h.registry.Renew(ctx, matchID, idx, sid, h.cfg.LockTTL)
				cancel()
				if err != nil {
					log.Warn("lock renew failed", "match_id", matchID, "index", idx, "error", err)
					continue
				}
				if !ok {
					delete(m.locks, idx)
					h.metrics.IncLockIntent(metrics.LockExpired)
					h.broadcast(matchID, r, wire.Unlock(matchID, idx), sid)
					h.publish(Frame{Type: wire.TypeUnlock, MatchID: matchID, Index: idx, SessionID: sid})
				}
			}
		}

		if len(r.remote) == 0 {
			continue
		}
		ctx, cancel := h.opCtx()
		holders, err := h.registry.Holders(ctx, matchID)
		cancel()
		if err != nil {
			continue
		}
		live := make(map[int]string, len(holders))
		for _, l := range holders {
			live[l.Index] = l.SessionID
		}
		for idx, sid := range r.remote {
			if live[idx] == sid {
				continue
			}
			delete(r.remote, idx)
			h.metrics.IncLockIntent(metrics.LockExpired)
			h.broadcast(matchID, r, wire.Unlock(matchID, idx), "")
		}
	}
	h.reportLocks()
}

func (h *Hub) publish(f Frame) {
	if h.relay == nil {
		return
	}
	ctx, cancel := h.opCtx()
	defer cancel()
	if err := h.relay.Publish(ctx, f); err != nil {
		log.Warn("relay publish failed", "type", f.Type, "match_id", f.MatchID, "error", err)
	}
}

// broadcast sends msg to every member except skip.  Members whose outbox is
// full are dropped.
func (h *Hub) broadcast(matchID uint64, r *room, msg wire.Message, skip string) {
	var slow []string
	for sid, m := range r.members {
		if sid == skip {
			continue
		}
		if !h.deliver(m, msg) {
			slow = append(slow, sid)
		}
	}
	for _, sid := range slow {
		log.Warn("dropping slow session", "match_id", matchID, "session", sid)
		h.removeMember(matchID, r, sid)
	}
}

func (h *Hub) deliver(m *member, msg wire.Message) bool {
	select {
	case m.outbox <- msg:
		return true
	default:
		return false
	}
}

func (h *Hub) view(matchID uint64) View {
	v := View{Locks: map[int]string{}, Remote: map[int]string{}}
	r := h.rooms[matchID]
	if r == nil {
		return v
	}
	v.Sessions = len(r.members)
	for sid, m := range r.members {
		for idx := range m.locks {
			v.Locks[idx] = sid
		}
	}
	for idx, sid := range r.remote {
		v.Remote[idx] = sid
	}
	return v
}

func (h *Hub) reportLocks() {
	n := 0
	for _, r := range h.rooms {
		for _, m := range r.members {
			n += len(m.locks)
		}
	}
	h.metrics.SetActiveLocks(n)
}

func (h *Hub) shutdown() {
	for matchID, r := range h.rooms {
		for sid, m := range r.members {
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.OpTimeout)
			for idx := range m.locks {
				_ = h.registry.Release(ctx, matchID, idx, sid)
			}
			cancel()
			close(m.outbox)
			h.metrics.SessionLeft()
		}
	}
	clear(h.rooms)
	h.cancel()
}
