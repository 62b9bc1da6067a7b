package model

import "time"

// SeatLock is an advisory, session-owned hold on one position of a match.
// Locks let other viewers see in-progress picks; they are never consulted by
// the booking commit, which performs its own check-and-reserve.  A lock is
// released when its session deselects the position, disconnects, commits a
// booking or stops renewing it past ExpiresAt.
//
// Fields:
//  MatchID   - match the position belongs to.
//  Index     - global index of the position.
//  SessionID - websocket session that owns the lock.
//  UserID    - authenticated user behind the session (0 for anonymous viewers).
//  ExpiresAt - when the lock lapses unless renewed.
type SeatLock struct {
	MatchID   uint64    `msgpack:"m"`
	Index     int       `msgpack:"i"`
	SessionID string    `msgpack:"s"`
	UserID    uint64    `msgpack:"u"`
	ExpiresAt time.Time `msgpack:"e"`
}
