package reservation

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/iliyamo/slot-reservation/internal/grid"
	"github.com/iliyamo/slot-reservation/internal/model"
)

// Deps are the collaborators a Controller talks to.  Locks may be nil for a
// read-only view without live updates.
type Deps struct {
	Snapshot SnapshotFetcher
	Commit   Committer
	Profile  ProfileLookup
	Balance  BalanceLookup
	Locks    LockChannel
	Policy   Policy
}

// Controller owns the reservation state of one session viewing one match.
// All transitions are serialised through it; effects requested by the state
// machine are forwarded to the lock channel in the order they were produced.
type Controller struct {
	deps   Deps
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	handle     string
	balance    int64
	balanceOK  bool
	submitting bool
	closed     bool
	listeners  []func(State)
	evicted    []func(Effect)
}

// NewController mounts a session on match m: it loads the profile handle,
// the wallet balance for paid matches and the booked snapshot, then
// subscribes to the lock channel.  A failing profile lookup leaves the
// handle empty and a failing balance lookup leaves the balance unknown until
// Refresh or Submit loads it; both are logged.  A failing snapshot fetch
// aborts the mount.
func NewController(ctx context.Context, m model.Match, deps Deps) (*Controller, error) {
	cctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		deps:   deps,
		ctx:    cctx,
		cancel: cancel,
		state:  NewState(m, deps.Policy),
	}

	if deps.Profile != nil {
		h, err := deps.Profile.Handle(ctx)
		if err != nil {
			log.Warn("profile lookup failed; names will not be auto-filled", "match_id", m.ID, "error", err)
		}
		c.handle = h
	}
	if deps.Balance != nil && !m.IsFree() {
		if b, err := deps.Balance.Balance(ctx); err != nil {
			log.Warn("balance lookup failed", "match_id", m.ID, "error", err)
		} else {
			c.balance, c.balanceOK = b, true
		}
	}

	if deps.Locks != nil {
		c.subscribe(m.ID)
	}
	if err := c.loadSnapshot(ctx); err != nil {
		cancel()
		return nil, err
	}
	return c, nil
}

func (c *Controller) subscribe(matchID uint64) {
	l := c.deps.Locks
	l.OnRemoteLock(func(id uint64, index int) {
		if id == matchID {
			c.apply(RemoteLocked{Index: index})
		}
	})
	l.OnRemoteUnlock(func(id uint64, index int) {
		if id == matchID {
			c.apply(RemoteUnlocked{Index: index})
		}
	})
	l.OnRemoteBooked(func(id uint64, indexes []int) {
		if id == matchID {
			c.apply(RemoteBooked{Indexes: indexes})
		}
	})
	l.OnRemoteReleased(func(id uint64, indexes []int) {
		if id == matchID {
			c.apply(RemoteReleased{Indexes: indexes})
		}
	})
	l.OnSnapshot(func(id uint64, indexes []int) {
		if id == matchID {
			c.apply(LocksSnapshot{Indexes: indexes})
		}
	})
	l.OnReconnect(func() {
		// The hub dropped our locks with the old connection and the booked
		// set may have moved while we were away.
		go func() {
			if err := c.Refresh(c.ctx); err != nil && !errors.Is(err, ErrClosed) {
				log.Warn("refresh after reconnect failed", "match_id", matchID, "error", err)
			}
		}()
	})
	l.Start()
}

// OnChange registers fn to be called with the new state after every
// transition.  fn runs outside the controller's lock.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// OnEvict registers fn to be called for every selection removed without the
// user asking, so the UI can prompt for an alternative.
func (c *Controller) OnEvict(fn func(Effect)) {
	c.mu.Lock()
	c.evicted = append(c.evicted, fn)
	c.mu.Unlock()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handle is the profile handle loaded on mount.
func (c *Controller) Handle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Balance is the last known wallet balance.
func (c *Controller) Balance() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance
}

// BalanceKnown reports whether the wallet balance has been loaded.
func (c *Controller) BalanceKnown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceOK
}

// ensureBalance loads the wallet for a paid match whose balance is still
// unknown.  Without a BalanceLookup the funds rule is left to the server.
func (c *Controller) ensureBalance(ctx context.Context) error {
	c.mu.Lock()
	need := !c.balanceOK && !c.state.match.IsFree() && c.deps.Balance != nil
	c.mu.Unlock()
	if !need {
		return nil
	}
	b, err := c.deps.Balance.Balance(ctx)
	if err != nil {
		return &TransientNetworkError{Op: "load wallet", Err: err}
	}
	c.mu.Lock()
	c.balance, c.balanceOK = b, true
	c.mu.Unlock()
	return nil
}

// Select picks coord and broadcasts a lock intent for it.
func (c *Controller) Select(coord grid.Coordinate) error {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	return c.apply(Select{Coord: coord, Handle: h})
}

// Deselect drops coord and broadcasts an unlock intent for it.
func (c *Controller) Deselect(coord grid.Coordinate) error {
	return c.apply(Deselect{Coord: coord})
}

// Toggle selects coord when it is not selected and deselects it otherwise.
func (c *Controller) Toggle(coord grid.Coordinate) error {
	if c.State().Seat(coord) == SeatSelectedByMe {
		return c.Deselect(coord)
	}
	return c.Select(coord)
}

// SetName changes the player name for a selected coord.  A name that would
// duplicate another selection's name is rejected and the old name kept.
func (c *Controller) SetName(coord grid.Coordinate, name string) error {
	return c.apply(Rename{Coord: coord, Name: name})
}

// Refresh re-fetches the booked snapshot (and the balance for paid matches)
// and re-sends lock intents for every current selection.
func (c *Controller) Refresh(ctx context.Context) error {
	if err := c.loadSnapshot(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	st := c.state
	c.mu.Unlock()

	if c.deps.Balance != nil && !st.match.IsFree() {
		if b, err := c.deps.Balance.Balance(ctx); err != nil {
			log.Warn("balance lookup failed", "match_id", st.match.ID, "error", err)
		} else {
			c.mu.Lock()
			c.balance, c.balanceOK = b, true
			c.mu.Unlock()
		}
	}
	if c.deps.Locks != nil {
		for _, sel := range st.selections {
			c.deps.Locks.Lock(st.match.ID, sel.Index)
		}
	}
	return nil
}

// Submit validates the current selection, assembles the payload and commits
// it.  Only one submit per session may be in flight; the user may keep
// toggling meanwhile and selections made during the flight are kept.
//
// On *ConflictError the booked snapshot is re-fetched, the rejected
// positions become booked and only their selections are evicted.  A wallet
// that could not be loaded is reported as *TransientNetworkError, never as
// insufficient funds.
func (c *Controller) Submit(ctx context.Context) (Receipt, error) {
	if err := c.ensureBalance(ctx); err != nil {
		return Receipt{}, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Receipt{}, ErrClosed
	}
	if c.submitting {
		c.mu.Unlock()
		return Receipt{}, ErrSubmitInProgress
	}
	if err := validate(c.state, c.balance, c.balanceOK); err != nil {
		c.mu.Unlock()
		return Receipt{}, err
	}
	c.submitting = true
	st := c.state
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.submitting = false
		c.mu.Unlock()
	}()

	// Another session holds a lock on something we picked.  Make sure it has
	// not been booked in the meantime before spending a commit on it.
	if len(st.Contested()) > 0 {
		if err := c.loadSnapshot(ctx); err != nil {
			return Receipt{}, err
		}
		var lost []grid.Coordinate
		var lostIdx []int
		for _, sel := range st.selections {
			if c.State().SeatByIndex(sel.Index) == SeatBooked {
				lost = append(lost, sel.Coord)
				lostIdx = append(lostIdx, sel.Index)
			}
		}
		if len(lost) > 0 {
			return Receipt{}, &ConflictError{Indexes: lostIdx, Coordinates: lost}
		}
	}

	payload := Assemble(st.selections, st.match)
	receipt, err := c.deps.Commit.CreateBooking(ctx, st.match.ID, payload)
	if err == nil {
		c.apply(Committed{Indexes: payload.PlayerIndex})
		c.mu.Lock()
		c.balance -= receipt.TotalAmount
		c.mu.Unlock()
		log.Info("booking committed", "match_id", st.match.ID, "booking_id", receipt.BookingID, "positions", len(payload.PlayerIndex))
		return receipt, nil
	}

	var conflict *ConflictError
	var funds *InsufficientFundsError
	var verr *ValidationError
	var terr *TransientNetworkError
	switch {
	case errors.As(err, &conflict):
		c.reconcile(ctx, conflict)
		return Receipt{}, conflict
	case errors.As(err, &funds):
		c.mu.Lock()
		c.balance, c.balanceOK = funds.Available, true
		c.mu.Unlock()
		return Receipt{}, funds
	case errors.As(err, &verr), errors.As(err, &terr):
		return Receipt{}, err
	default:
		return Receipt{}, &TransientNetworkError{Op: "create booking", Err: err}
	}
}

// reconcile corrects local state after a conflict.  The rejected indexes are
// authoritative even when the snapshot fetch fails.
func (c *Controller) reconcile(ctx context.Context, conflict *ConflictError) {
	g := c.State().match.GroupSize()
	if len(conflict.Coordinates) == 0 {
		for _, idx := range conflict.Indexes {
			conflict.Coordinates = append(conflict.Coordinates, grid.Decode(idx, g))
		}
	}
	if err := c.loadSnapshot(ctx); err != nil {
		log.Warn("snapshot refresh after conflict failed", "error", err)
	}
	c.apply(Conflicted{Indexes: conflict.Indexes})
	log.Info("booking conflict", "match_id", c.State().match.ID, "indexes", conflict.Indexes)
}

// Close releases every selection on the lock channel and then closes it.
// It does not wait for the hub to acknowledge.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	next, effects, _ := Apply(c.state, Leave{})
	c.state = next
	c.closed = true
	c.run(effects)
	c.mu.Unlock()

	c.cancel()
	if c.deps.Locks != nil {
		return c.deps.Locks.Close()
	}
	return nil
}

func (c *Controller) loadSnapshot(ctx context.Context) error {
	c.mu.Lock()
	id := c.state.match.ID
	c.mu.Unlock()
	booked, err := c.deps.Snapshot.BookedPositions(ctx, id)
	if err != nil {
		var terr *TransientNetworkError
		if errors.As(err, &terr) {
			return err
		}
		return &TransientNetworkError{Op: "fetch booked positions", Err: err}
	}
	c.apply(SnapshotLoaded{Booked: booked})
	return nil
}

// apply runs ev through the state machine, forwards the resulting effects
// and notifies listeners.
func (c *Controller) apply(ev Event) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	next, effects, err := Apply(c.state, ev)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	c.run(effects)
	listeners := append([]func(State){}, c.listeners...)
	evicted := append([]func(Effect){}, c.evicted...)
	c.mu.Unlock()

	for _, e := range effects {
		if e.Kind != EffectEvict {
			continue
		}
		for _, fn := range evicted {
			fn(e)
		}
	}
	for _, fn := range listeners {
		fn(next)
	}
	return nil
}

// run forwards lock effects.  Callers hold c.mu so intents leave in the
// order the transitions happened.
func (c *Controller) run(effects []Effect) {
	if c.deps.Locks == nil {
		return
	}
	id := c.state.match.ID
	for _, e := range effects {
		switch e.Kind {
		case EffectLock:
			c.deps.Locks.Lock(id, e.Index)
		case EffectUnlock:
			c.deps.Locks.Unlock(id, e.Index)
		}
	}
}
