package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/slot-reservation/internal/grid"
	"github.com/iliyamo/slot-reservation/internal/model"
)

type intent struct {
	lock  bool
	index int
}

type fakeLocks struct {
	mu       sync.Mutex
	intents  []intent
	closed   bool
	started  bool
	onLock   func(uint64, int)
	onUnlock func(uint64, int)
	onBooked func(uint64, []int)
	onFreed  func(uint64, []int)
	onSnap   func(uint64, []int)
	onRecon  func()
}

func (f *fakeLocks) Lock(_ uint64, index int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, intent{lock: true, index: index})
}

func (f *fakeLocks) Unlock(_ uint64, index int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, intent{lock: false, index: index})
}

func (f *fakeLocks) OnRemoteLock(fn func(uint64, int))       { f.onLock = fn }
func (f *fakeLocks) OnRemoteUnlock(fn func(uint64, int))     { f.onUnlock = fn }
func (f *fakeLocks) OnRemoteBooked(fn func(uint64, []int))   { f.onBooked = fn }
func (f *fakeLocks) OnRemoteReleased(fn func(uint64, []int)) { f.onFreed = fn }
func (f *fakeLocks) OnSnapshot(fn func(uint64, []int))       { f.onSnap = fn }
func (f *fakeLocks) OnReconnect(fn func())                   { f.onRecon = fn }
func (f *fakeLocks) Start()                                  { f.started = true }

func (f *fakeLocks) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLocks) recorded() []intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]intent(nil), f.intents...)
}

type fakeServer struct {
	mu        sync.Mutex
	handle    string
	balance   int64
	booked    []int
	fetches   int
	commits   []model.BookingPayload
	commitErr error
	walletErr error
	gate      chan struct{}
}

func (f *fakeServer) Handle(context.Context) (string, error) { return f.handle, nil }

func (f *fakeServer) Balance(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.walletErr != nil {
		return 0, f.walletErr
	}
	return f.balance, nil
}

func (f *fakeServer) BookedPositions(context.Context, uint64) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return append([]int(nil), f.booked...), nil
}

func (f *fakeServer) CreateBooking(_ context.Context, _ uint64, p model.BookingPayload) (Receipt, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, p)
	if f.commitErr != nil {
		return Receipt{}, f.commitErr
	}
	f.booked = append(f.booked, p.PlayerIndex...)
	return Receipt{BookingID: uint64(len(f.commits)), TotalAmount: p.TotalAmount, Indexes: p.PlayerIndex}, nil
}

func (f *fakeServer) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

func mount(t *testing.T, m model.Match, srv *fakeServer, locks *fakeLocks) *Controller {
	t.Helper()
	c, err := NewController(context.Background(), m, Deps{
		Snapshot: srv,
		Commit:   srv,
		Profile:  srv,
		Balance:  srv,
		Locks:    locks,
	})
	require.NoError(t, err)
	return c
}

func TestController_BookedSeatRefusedBeforeNetwork(t *testing.T) {
	srv := &fakeServer{handle: "ProHunter", booked: []int{5}}
	locks := &fakeLocks{}
	c := mount(t, squadMatch(0), srv, locks)

	assert.True(t, locks.started, "lock channel is started once callbacks are registered")
	require.NotNil(t, locks.onSnap)

	err := c.Select(grid.Decode(5, 4))
	assert.Equal(t, RuleSeatBooked, ruleOf(t, err))
	assert.Empty(t, locks.recorded())
	assert.Equal(t, 0, srv.commitCount())
}

func TestController_AutoFillAndLockIntents(t *testing.T) {
	srv := &fakeServer{handle: "ProHunter"}
	locks := &fakeLocks{}
	c := mount(t, squadMatch(0), srv, locks)

	require.NoError(t, c.Toggle(grid.Coordinate{Team: 1, Letter: 'A'}))
	require.NoError(t, c.Toggle(grid.Coordinate{Team: 1, Letter: 'B'}))
	require.NoError(t, c.Toggle(grid.Coordinate{Team: 1, Letter: 'A'}))

	assert.Equal(t, []intent{{true, 1}, {true, 2}, {false, 1}}, locks.recorded())
	sels := c.State().Selections()
	require.Len(t, sels, 1)
	assert.Equal(t, "", sels[0].PlayerName)
}

func TestController_SubmitSuccess(t *testing.T) {
	srv := &fakeServer{handle: "ProHunter", balance: 1000}
	c := mount(t, duoMatch(150), srv, &fakeLocks{})

	for _, co := range []grid.Coordinate{{Team: 1, Letter: 'A'}, {Team: 1, Letter: 'B'}, {Team: 2, Letter: 'A'}} {
		require.NoError(t, c.Select(co))
	}
	require.NoError(t, c.SetName(grid.Coordinate{Team: 1, Letter: 'B'}, "Viper"))
	require.NoError(t, c.SetName(grid.Coordinate{Team: 2, Letter: 'A'}, "Sage"))

	receipt, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(450), receipt.TotalAmount)
	assert.Equal(t, int64(550), c.Balance())

	st := c.State()
	assert.Equal(t, 0, st.SelectedCount())
	assert.Equal(t, []int{1, 2, 3}, st.Booked())
	require.Equal(t, 1, srv.commitCount())
	assert.Equal(t, map[string][]int{"teamA": {1, 3}, "teamB": {2}}, srv.commits[0].Teams)
}

func TestController_ValidationNeverReachesNetwork(t *testing.T) {
	srv := &fakeServer{}
	c := mount(t, duoMatch(0), srv, &fakeLocks{})
	require.NoError(t, c.Select(grid.Coordinate{Team: 1, Letter: 'A'}))

	_, err := c.Submit(context.Background())
	assert.Equal(t, RuleNameRequired, ruleOf(t, err))
	assert.Equal(t, 0, srv.commitCount())
}

func TestController_InsufficientFundsIsLocal(t *testing.T) {
	srv := &fakeServer{handle: "ProHunter", balance: 100}
	c := mount(t, duoMatch(150), srv, &fakeLocks{})
	require.NoError(t, c.Select(grid.Coordinate{Team: 1, Letter: 'A'}))

	_, err := c.Submit(context.Background())
	var ferr *InsufficientFundsError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, int64(150), ferr.Required)
	assert.Equal(t, 0, srv.commitCount())
}

func TestController_UnknownBalanceIsNotInsufficientFunds(t *testing.T) {
	srv := &fakeServer{handle: "ProHunter", balance: 1000, walletErr: errors.New("connection reset")}
	c := mount(t, duoMatch(50), srv, &fakeLocks{})
	assert.False(t, c.BalanceKnown())
	require.NoError(t, c.Select(grid.Coordinate{Team: 1, Letter: 'A'}))

	_, err := c.Submit(context.Background())
	var terr *TransientNetworkError
	require.True(t, errors.As(err, &terr), "got %T: %v", err, err)
	assert.Equal(t, "load wallet", terr.Op)
	var ferr *InsufficientFundsError
	assert.False(t, errors.As(err, &ferr))
	assert.Equal(t, 0, srv.commitCount())

	// The wallet comes back: the retry loads it and commits.
	srv.mu.Lock()
	srv.walletErr = nil
	srv.mu.Unlock()
	receipt, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(50), receipt.TotalAmount)
	assert.True(t, c.BalanceKnown())
	assert.Equal(t, int64(950), c.Balance())
}

func TestController_ConflictEvictsOnlyRejected(t *testing.T) {
	srv := &fakeServer{handle: "ProHunter", balance: 1000}
	locks := &fakeLocks{}
	c := mount(t, squadMatch(10), srv, locks)

	names := []string{"", "Viper", "Sage"}
	for i, co := range []grid.Coordinate{{Team: 1, Letter: 'A'}, {Team: 1, Letter: 'B'}, {Team: 1, Letter: 'C'}} {
		require.NoError(t, c.Select(co))
		if names[i] != "" {
			require.NoError(t, c.SetName(co, names[i]))
		}
	}

	// Someone else committed index 2 between our lock and our submit.
	srv.mu.Lock()
	srv.booked = []int{2}
	srv.commitErr = &ConflictError{Indexes: []int{2}}
	srv.mu.Unlock()

	var evicted []Effect
	c.OnEvict(func(e Effect) { evicted = append(evicted, e) })

	_, err := c.Submit(context.Background())
	var cerr *ConflictError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []grid.Coordinate{{Team: 1, Letter: 'B'}}, cerr.Coordinates)

	st := c.State()
	assert.Equal(t, SeatBooked, st.SeatByIndex(2))
	sels := st.Selections()
	require.Len(t, sels, 2)
	assert.Equal(t, "ProHunter", sels[0].PlayerName)
	assert.Equal(t, "Sage", sels[1].PlayerName)
	require.Len(t, evicted, 1)
	assert.Equal(t, 2, evicted[0].Index)
	// The lock on the lost seat is released on the hub.
	assert.Contains(t, locks.recorded(), intent{false, 2})
}

func TestController_ContestedSelectionRecheckedAtSubmit(t *testing.T) {
	srv := &fakeServer{handle: "ProHunter"}
	locks := &fakeLocks{}
	c := mount(t, squadMatch(0), srv, locks)
	require.NoError(t, c.Select(grid.Coordinate{Team: 2, Letter: 'A'}))

	// Another session locks the same seat and books it; the booked event
	// never reaches us.
	locks.onLock(9, 5)
	assert.Equal(t, SeatSelectedByMe, c.State().SeatByIndex(5))
	srv.mu.Lock()
	srv.booked = []int{5}
	srv.mu.Unlock()

	_, err := c.Submit(context.Background())
	var cerr *ConflictError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []int{5}, cerr.Indexes)
	assert.Equal(t, 0, srv.commitCount())
	assert.Equal(t, SeatBooked, c.State().SeatByIndex(5))
}

func TestController_SecondSubmitWhileInFlight(t *testing.T) {
	srv := &fakeServer{handle: "ProHunter", gate: make(chan struct{})}
	c := mount(t, squadMatch(0), srv, &fakeLocks{})
	require.NoError(t, c.Select(grid.Coordinate{Team: 1, Letter: 'A'}))

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.submitting
	}, time.Second, 5*time.Millisecond)

	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmitInProgress)

	// Toggling stays possible during the flight.
	require.NoError(t, c.Select(grid.Coordinate{Team: 1, Letter: 'B'}))

	close(srv.gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("submit did not return")
	}
	st := c.State()
	assert.Equal(t, SeatBooked, st.SeatByIndex(1))
	assert.Equal(t, SeatSelectedByMe, st.SeatByIndex(2))
}

func TestController_TransientErrorWrapped(t *testing.T) {
	srv := &fakeServer{handle: "ProHunter", commitErr: errors.New("connection reset")}
	c := mount(t, squadMatch(0), srv, &fakeLocks{})
	require.NoError(t, c.Select(grid.Coordinate{Team: 1, Letter: 'A'}))

	_, err := c.Submit(context.Background())
	var terr *TransientNetworkError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 1, c.State().SelectedCount(), "selections survive a network failure")
}

func TestController_RemoteEventsFilteredByMatch(t *testing.T) {
	srv := &fakeServer{}
	locks := &fakeLocks{}
	c := mount(t, squadMatch(0), srv, locks)

	locks.onLock(1234, 3)
	locks.onBooked(1234, []int{4})
	assert.Equal(t, SeatFree, c.State().SeatByIndex(3))
	assert.Equal(t, SeatFree, c.State().SeatByIndex(4))

	locks.onSnap(9, []int{3})
	locks.onBooked(9, []int{4})
	assert.Equal(t, SeatLockedByOther, c.State().SeatByIndex(3))
	assert.Equal(t, SeatBooked, c.State().SeatByIndex(4))

	locks.onUnlock(9, 3)
	locks.onFreed(9, []int{4})
	assert.Equal(t, SeatFree, c.State().SeatByIndex(3))
	assert.Equal(t, SeatFree, c.State().SeatByIndex(4))
}

func TestController_ReconnectRefetchesAndRelocks(t *testing.T) {
	srv := &fakeServer{handle: "ProHunter"}
	locks := &fakeLocks{}
	c := mount(t, squadMatch(0), srv, locks)
	require.NoError(t, c.Select(grid.Coordinate{Team: 1, Letter: 'A'}))
	require.NoError(t, c.Select(grid.Coordinate{Team: 1, Letter: 'B'}))

	srv.mu.Lock()
	srv.booked = []int{2}
	srv.mu.Unlock()
	locks.onRecon()

	require.Eventually(t, func() bool {
		return c.State().SeatByIndex(2) == SeatBooked
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		rec := locks.recorded()
		return len(rec) == 4 && rec[2] == intent{false, 2} && rec[3] == intent{true, 1}
	}, time.Second, 5*time.Millisecond)
}

func TestController_CloseUnlocksEverything(t *testing.T) {
	srv := &fakeServer{handle: "ProHunter"}
	locks := &fakeLocks{}
	c := mount(t, squadMatch(0), srv, locks)
	require.NoError(t, c.Select(grid.Coordinate{Team: 3, Letter: 'A'}))
	require.NoError(t, c.Select(grid.Coordinate{Team: 3, Letter: 'B'}))

	require.NoError(t, c.Close())
	assert.Equal(t, []intent{{true, 9}, {true, 10}, {false, 9}, {false, 10}}, locks.recorded())
	assert.True(t, locks.closed)

	assert.ErrorIs(t, c.Select(grid.Coordinate{Team: 4, Letter: 'A'}), ErrClosed)
	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, c.Close())
}
