// Package reservation is the client-side slot reservation core: the per
// session seat state machine, the pre-submit validation gate and the booking
// assembler, plus a Controller that ties them to the lock channel and the
// booking collaborators.
//
// Seat locks are advisory.  The state machine treats remote lock events as
// hints and relies on the commit collaborator for the authoritative
// check-and-reserve.
package reservation

import (
	"sort"
	"strings"

	"github.com/iliyamo/slot-reservation/internal/grid"
	"github.com/iliyamo/slot-reservation/internal/model"
)

// SeatState is the derived state of one coordinate.  Exactly one holds at
// any instant.
type SeatState int

const (
	SeatFree SeatState = iota
	SeatLockedByOther
	SeatSelectedByMe
	SeatBooked
)

func (s SeatState) String() string {
	switch s {
	case SeatLockedByOther:
		return "locked"
	case SeatSelectedByMe:
		return "selected"
	case SeatBooked:
		return "booked"
	default:
		return "free"
	}
}

// Selection is one position the session has picked, with the player name
// entered for it.
type Selection struct {
	Coord      grid.Coordinate
	Index      int
	PlayerName string
}

// Policy holds behaviour switches of the state machine.
type Policy struct {
	// EvictOnRemoteLock drops a local selection when another session locks
	// the same position.  Off by default: the selection stays and is
	// re-confirmed against the booked snapshot at submit time.
	EvictOnRemoteLock bool
}

// State is the reservation state of one session viewing one match.  It is a
// value: transitions go through Apply, which returns a new State and never
// mutates its input.
type State struct {
	match      model.Match
	policy     Policy
	booked     map[int]struct{}
	locked     map[int]struct{}
	selections []Selection
}

// NewState returns an empty state for the match.
func NewState(m model.Match, p Policy) State {
	return State{
		match:  m,
		policy: p,
		booked: map[int]struct{}{},
		locked: map[int]struct{}{},
	}
}

func (s State) clone() State {
	out := State{
		match:      s.match,
		policy:     s.policy,
		booked:     make(map[int]struct{}, len(s.booked)),
		locked:     make(map[int]struct{}, len(s.locked)),
		selections: make([]Selection, len(s.selections)),
	}
	for k := range s.booked {
		out.booked[k] = struct{}{}
	}
	for k := range s.locked {
		out.locked[k] = struct{}{}
	}
	copy(out.selections, s.selections)
	return out
}

// Match returns the match the state belongs to.
func (s State) Match() model.Match { return s.match }

// SeatByIndex returns the state of the seat at a global index.  Booked wins
// over everything, then the session's own selection, then a remote lock.
func (s State) SeatByIndex(index int) SeatState {
	if _, ok := s.booked[index]; ok {
		return SeatBooked
	}
	if s.selectionAt(index) >= 0 {
		return SeatSelectedByMe
	}
	if _, ok := s.locked[index]; ok {
		return SeatLockedByOther
	}
	return SeatFree
}

// Seat returns the state of a coordinate.
func (s State) Seat(c grid.Coordinate) SeatState {
	return s.SeatByIndex(grid.Encode(c, s.match.GroupSize()))
}

// Selections returns a copy of the session's selections in the order they
// were made.
func (s State) Selections() []Selection {
	out := make([]Selection, len(s.selections))
	copy(out, s.selections)
	return out
}

// SelectedCount is the number of positions currently selected.
func (s State) SelectedCount() int { return len(s.selections) }

// TotalAmount is the amount the current selection would cost.
func (s State) TotalAmount() int64 { return s.match.TotalFor(len(s.selections)) }

// Booked returns the booked indexes in ascending order.
func (s State) Booked() []int { return sortedKeys(s.booked) }

// Locked returns the indexes locked by other sessions in ascending order.
// An index the session itself has selected may appear here when another
// session locked it too.
func (s State) Locked() []int { return sortedKeys(s.locked) }

// Contested returns the selections another session has also locked.
func (s State) Contested() []Selection {
	var out []Selection
	for _, sel := range s.selections {
		if _, ok := s.locked[sel.Index]; ok {
			out = append(out, sel)
		}
	}
	return out
}

func (s State) selectionAt(index int) int {
	for i, sel := range s.selections {
		if sel.Index == index {
			return i
		}
	}
	return -1
}

func sortedKeys(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// normalizeName is the comparison form used for name uniqueness.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
