package reservation

import (
	"context"

	"github.com/iliyamo/slot-reservation/internal/model"
)

// SnapshotFetcher returns the indexes currently booked in a match.
type SnapshotFetcher interface {
	BookedPositions(ctx context.Context, matchID uint64) ([]int, error)
}

// Committer performs the atomic check-and-reserve.  Implementations report a
// rejection with one of the package's typed errors: *ConflictError,
// *InsufficientFundsError, *ValidationError (RuleServerRejected) or
// *TransientNetworkError.
type Committer interface {
	CreateBooking(ctx context.Context, matchID uint64, p model.BookingPayload) (Receipt, error)
}

// ProfileLookup returns the current user's in-game handle.
type ProfileLookup interface {
	Handle(ctx context.Context) (string, error)
}

// BalanceLookup returns the current user's wallet balance.
type BalanceLookup interface {
	Balance(ctx context.Context) (int64, error)
}

// LockChannel is the session's duplex channel to the lock hub.  Lock and
// Unlock never block and never report delivery.  Callbacks run on the
// channel's reader goroutine; no frame is delivered before Start, so the
// hub's join snapshot reaches callbacks registered ahead of it.
type LockChannel interface {
	Start()
	Lock(matchID uint64, index int)
	Unlock(matchID uint64, index int)
	OnRemoteLock(fn func(matchID uint64, index int))
	OnRemoteUnlock(fn func(matchID uint64, index int))
	OnRemoteBooked(fn func(matchID uint64, indexes []int))
	OnRemoteReleased(fn func(matchID uint64, indexes []int))
	OnSnapshot(fn func(matchID uint64, indexes []int))
	OnReconnect(fn func())
	Close() error
}

// Receipt is what a successful commit returns.
type Receipt struct {
	BookingID   uint64 `json:"booking_id"`
	TotalAmount int64  `json:"total_amount"`
	Indexes     []int  `json:"indexes"`
}
