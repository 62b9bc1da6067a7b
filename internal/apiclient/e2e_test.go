package apiclient_test

import (
	"context"
	"database/sql"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/slot-reservation/internal/apiclient"
	"github.com/iliyamo/slot-reservation/internal/config"
	"github.com/iliyamo/slot-reservation/internal/database"
	"github.com/iliyamo/slot-reservation/internal/grid"
	"github.com/iliyamo/slot-reservation/internal/handler"
	"github.com/iliyamo/slot-reservation/internal/hub"
	"github.com/iliyamo/slot-reservation/internal/lockchannel"
	"github.com/iliyamo/slot-reservation/internal/metrics"
	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/repository"
	"github.com/iliyamo/slot-reservation/internal/reservation"
	"github.com/iliyamo/slot-reservation/internal/router"
	"github.com/iliyamo/slot-reservation/internal/utils"
	"github.com/iliyamo/slot-reservation/internal/ws"
)

const secret = "e2e-secret"

type stack struct {
	url   string
	db    *sql.DB
	match model.Match
	users map[string]uint64
}

func newStack(t *testing.T, fee int64) *stack {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(ctx, db, database.DriverSQLite))

	matches := repository.NewMatchRepo(db)
	bookings := repository.NewBookingRepo(db)
	users := repository.NewUserRepo(db)

	m := &model.Match{Title: "Weekend Cup", Mode: grid.ModeSquad, Capacity: 100, EntryFee: fee, StartsAt: time.Now().UTC().Add(time.Hour)}
	require.NoError(t, matches.Create(ctx, m))
	ids := map[string]uint64{}
	for _, h := range []string{"Ghost", "Shade"} {
		id, err := users.Create(ctx, h, model.RolePlayer, 1000)
		require.NoError(t, err)
		ids[h] = id
	}

	mock := metrics.NewMock()
	lockHub := hub.New(context.Background(), hub.Config{}, hub.NewMemoryRegistry(), nil, mock)

	e := echo.New()
	e.Validator = handler.NewRequestValidator()
	router.RegisterRoutes(e, db)
	router.RegisterPublic(e, &handler.MatchHandler{Matches: matches, Bookings: bookings}, nil, config.RateLimitConfig{}, config.CacheConfig{})
	router.RegisterPlayer(e,
		&handler.BookingHandler{Matches: matches, Bookings: bookings, Hub: lockHub, Metrics: mock},
		&handler.ProfileHandler{Users: users},
		ws.NewHandler(lockHub, matches, nil),
		secret, nil, config.RateLimitConfig{},
	)
	srv := httptest.NewServer(e)

	t.Cleanup(func() {
		srv.Close()
		lockHub.Send(hub.Shutdown{})
		<-lockHub.Done()
		db.Close()
	})
	return &stack{url: srv.URL, db: db, match: *m, users: ids}
}

// session mounts a controller for handle the way a client app would.
func (s *stack) session(t *testing.T, handle string) *reservation.Controller {
	t.Helper()
	ctx := context.Background()
	tok, err := utils.NewAccessToken(secret, s.users[handle], model.RolePlayer, 5)
	require.NoError(t, err)

	api := apiclient.New(s.url, tok.Token)
	m, err := api.Match(ctx, s.match.ID)
	require.NoError(t, err)
	locksURL, err := api.LocksURL(m.ID)
	require.NoError(t, err)
	locks, err := lockchannel.Dial(ctx, lockchannel.Options{URL: locksURL, Token: tok.Token})
	require.NoError(t, err)

	c, err := reservation.NewController(ctx, m, reservation.Deps{
		Snapshot: api,
		Commit:   api,
		Profile:  api,
		Balance:  api,
		Locks:    locks,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func coord(s string) grid.Coordinate {
	c, err := grid.ParseCoordinate(s, 4)
	if err != nil {
		panic(err)
	}
	return c
}

func seatIs(c *reservation.Controller, at string, want reservation.SeatState) func() bool {
	return func() bool { return c.State().Seat(coord(at)) == want }
}

func TestEndToEnd_LockSelectSubmit(t *testing.T) {
	s := newStack(t, 0)
	ghost := s.session(t, "Ghost")
	shade := s.session(t, "Shade")
	assert.Equal(t, "Ghost", ghost.Handle())

	require.NoError(t, ghost.Select(coord("3A")))
	require.Eventually(t, seatIs(shade, "3A", reservation.SeatLockedByOther), 2*time.Second, 10*time.Millisecond)

	err := shade.Select(coord("3A"))
	var ve *reservation.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, reservation.RuleSeatLocked, ve.Rule)

	require.NoError(t, ghost.Select(coord("3B")))
	require.NoError(t, ghost.SetName(coord("3B"), "Wraith"))

	receipt, err := ghost.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{9, 10}, receipt.Indexes)
	assert.Equal(t, int64(0), receipt.TotalAmount)

	assert.Equal(t, reservation.SeatBooked, ghost.State().Seat(coord("3A")))
	assert.Zero(t, ghost.State().SelectedCount())
	require.Eventually(t, seatIs(shade, "3B", reservation.SeatBooked), 2*time.Second, 10*time.Millisecond)

	var names []string
	rows, err := s.db.Query(`SELECT player_name FROM booking_positions ORDER BY global_index`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}
	assert.Equal(t, []string{"Ghost", "Wraith"}, names)
}

func TestEndToEnd_ConflictEvictsOnlyLostSeats(t *testing.T) {
	s := newStack(t, 0)
	shade := s.session(t, "Shade")

	require.NoError(t, shade.Select(coord("4A")))
	require.NoError(t, shade.Select(coord("4B")))
	require.NoError(t, shade.SetName(coord("4B"), "Echo"))

	// Someone else commits 4A without going through the lock channel.
	_, err := repository.NewBookingRepo(s.db).Create(context.Background(), repository.CreateBookingParams{
		UserID:    s.users["Ghost"],
		MatchID:   s.match.ID,
		Positions: []model.BookingPosition{{GlobalIndex: 13, SubTeam: "teamA", PlayerName: "Ghost"}},
	})
	require.NoError(t, err)

	_, err = shade.Submit(context.Background())
	var ce *reservation.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []int{13}, ce.Indexes)
	assert.Equal(t, []grid.Coordinate{coord("4A")}, ce.Coordinates)

	st := shade.State()
	assert.Equal(t, reservation.SeatBooked, st.Seat(coord("4A")))
	assert.Equal(t, reservation.SeatSelectedByMe, st.Seat(coord("4B")))
	require.Len(t, st.Selections(), 1)
	assert.Equal(t, "Echo", st.Selections()[0].PlayerName)
}

func TestEndToEnd_PaidMatchInsufficientBalance(t *testing.T) {
	s := newStack(t, 600)
	ghost := s.session(t, "Ghost")
	assert.Equal(t, int64(1000), ghost.Balance())

	require.NoError(t, ghost.Select(coord("1A")))
	require.NoError(t, ghost.Select(coord("1B")))
	require.NoError(t, ghost.SetName(coord("1B"), "Wraith"))

	_, err := ghost.Submit(context.Background())
	var fe *reservation.InsufficientFundsError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, int64(1200), fe.Required)
	assert.Equal(t, int64(1000), fe.Available)
	assert.Equal(t, 2, ghost.State().SelectedCount(), "local rejection keeps the selection")

	require.NoError(t, ghost.Deselect(coord("1B")))
	receipt, err := ghost.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(600), receipt.TotalAmount)
	assert.Equal(t, int64(400), ghost.Balance())
}

func TestEndToEnd_CloseReleasesLocks(t *testing.T) {
	s := newStack(t, 0)
	ghost := s.session(t, "Ghost")
	shade := s.session(t, "Shade")

	require.NoError(t, ghost.Select(coord("2C")))
	require.Eventually(t, seatIs(shade, "2C", reservation.SeatLockedByOther), 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ghost.Close())
	require.Eventually(t, seatIs(shade, "2C", reservation.SeatFree), 2*time.Second, 10*time.Millisecond)
	require.NoError(t, shade.Select(coord("2C")))
}
