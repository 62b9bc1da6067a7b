package model

import (
	"time"

	"github.com/iliyamo/slot-reservation/internal/grid"
)

// Match status values.  Only OPEN matches accept bookings.
const (
	MatchStatusOpen      = "OPEN"
	MatchStatusClosed    = "CLOSED"
	MatchStatusCancelled = "CANCELLED"
	MatchStatusCompleted = "COMPLETED"
)

// Match identifies a tournament slot that players book positions in.  It is
// created and edited by the admin back-office and is treated as immutable
// for the lifetime of a reservation session.
//
// Fields:
//  ID        - primary key identifier.
//  Title     - display name of the match.
//  Mode      - team layout (solo, duo, squad); determines the group size.
//  Capacity  - total number of seats in the grid.
//  EntryFee  - price per position in minor currency units; 0 means free.
//  Status    - OPEN, CLOSED, CANCELLED or COMPLETED.
//  StartsAt  - scheduled start time (UTC).
type Match struct {
	ID        uint64    `json:"id"`         // matches.id
	Title     string    `json:"title"`      // matches.title
	Mode      grid.Mode `json:"mode"`       // matches.mode
	Capacity  int       `json:"capacity"`   // matches.capacity
	EntryFee  int64     `json:"entry_fee"`  // matches.entry_fee
	Status    string    `json:"status"`     // matches.status
	StartsAt  time.Time `json:"starts_at"`  // matches.starts_at
	CreatedAt time.Time `json:"created_at"` // matches.created_at
}

// GroupSize is the number of seats per team for the match's mode.
func (m Match) GroupSize() int { return m.Mode.GroupSize() }

// IsFree reports whether the match has no entry fee.  Free matches cap the
// number of positions a single session may take.
func (m Match) IsFree() bool { return m.EntryFee <= 0 }

// IsOpen reports whether the match currently accepts bookings.
func (m Match) IsOpen() bool { return m.Status == MatchStatusOpen }

// TotalFor returns the amount owed for count positions.
func (m Match) TotalFor(count int) int64 {
	if m.IsFree() {
		return 0
	}
	return m.EntryFee * int64(count)
}
