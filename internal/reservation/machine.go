package reservation

import (
	"fmt"
	"strings"

	"github.com/iliyamo/slot-reservation/internal/grid"
)

// Event is an input to the state machine.  Local events come from the user;
// Remote events come from the lock channel; the rest come from snapshot
// fetches and commit results.
type Event interface {
	isEvent()
}

// Select picks a coordinate.  Handle is the profile handle used to auto-fill
// the name when the session has no other selection.
type Select struct {
	Coord  grid.Coordinate
	Handle string
}

// Deselect drops a selected coordinate.
type Deselect struct {
	Coord grid.Coordinate
}

// Rename sets the player name of a selected coordinate.
type Rename struct {
	Coord grid.Coordinate
	Name  string
}

// RemoteLocked reports that another session locked an index.
type RemoteLocked struct{ Index int }

// RemoteUnlocked reports that another session released an index.
type RemoteUnlocked struct{ Index int }

// RemoteBooked reports indexes committed by any session.
type RemoteBooked struct{ Indexes []int }

// RemoteReleased reports indexes freed by a cancelled booking.
type RemoteReleased struct{ Indexes []int }

// SnapshotLoaded replaces the booked set with a freshly fetched snapshot.
type SnapshotLoaded struct{ Booked []int }

// LocksSnapshot replaces the set of indexes locked by other sessions.
type LocksSnapshot struct{ Indexes []int }

// Committed reports that this session's booking of Indexes succeeded.
type Committed struct{ Indexes []int }

// Conflicted reports that the commit was rejected because Indexes were
// already booked.
type Conflicted struct{ Indexes []int }

// Leave tears the session down.
type Leave struct{}

func (Select) isEvent()         {}
func (Deselect) isEvent()       {}
func (Rename) isEvent()         {}
func (RemoteLocked) isEvent()   {}
func (RemoteUnlocked) isEvent() {}
func (RemoteBooked) isEvent()   {}
func (RemoteReleased) isEvent() {}
func (SnapshotLoaded) isEvent() {}
func (LocksSnapshot) isEvent()  {}
func (Committed) isEvent()      {}
func (Conflicted) isEvent()     {}
func (Leave) isEvent()          {}

// EffectKind tells the caller what to do with an Effect.
type EffectKind int

const (
	// EffectLock asks the lock channel to broadcast a lock intent.
	EffectLock EffectKind = iota + 1
	// EffectUnlock asks the lock channel to broadcast an unlock intent.
	EffectUnlock
	// EffectEvict reports a selection removed by something other than the
	// user; the UI should tell the user to pick an alternative.
	EffectEvict
)

func (k EffectKind) String() string {
	switch k {
	case EffectLock:
		return "lock"
	case EffectUnlock:
		return "unlock"
	case EffectEvict:
		return "evict"
	}
	return "unknown"
}

// Effect is a side effect requested by a transition.  Apply itself performs
// no I/O.
type Effect struct {
	Kind  EffectKind
	Index int
	Coord grid.Coordinate
	Name  string
}

// Apply computes the state that follows ev.  On error the returned state is
// the input state and no effects are produced.
func Apply(s State, ev Event) (State, []Effect, error) {
	switch e := ev.(type) {
	case Select:
		return applySelect(s, e)
	case Deselect:
		return applyDeselect(s, e)
	case Rename:
		return applyRename(s, e)
	case RemoteLocked:
		return applyRemoteLocked(s, e)
	case RemoteUnlocked:
		next := s.clone()
		delete(next.locked, e.Index)
		return next, nil, nil
	case RemoteBooked:
		return markBooked(s, e.Indexes, false)
	case RemoteReleased:
		next := s.clone()
		for _, idx := range e.Indexes {
			delete(next.booked, idx)
		}
		return next, nil, nil
	case SnapshotLoaded:
		next := s.clone()
		next.booked = make(map[int]struct{}, len(e.Booked))
		for _, idx := range e.Booked {
			next.booked[idx] = struct{}{}
		}
		// Our lock on a seat that is now booked is stale; release it.
		effects := next.evictBooked(true)
		return next, effects, nil
	case LocksSnapshot:
		next := s.clone()
		next.locked = make(map[int]struct{}, len(e.Indexes))
		for _, idx := range e.Indexes {
			next.locked[idx] = struct{}{}
		}
		var effects []Effect
		if next.policy.EvictOnRemoteLock {
			effects = next.evictLocked()
		}
		return next, effects, nil
	case Committed:
		next := s.clone()
		for _, idx := range e.Indexes {
			next.booked[idx] = struct{}{}
			delete(next.locked, idx)
			if i := next.selectionAt(idx); i >= 0 {
				next.removeAt(i)
			}
		}
		return next, nil, nil
	case Conflicted:
		return markBooked(s, e.Indexes, true)
	case Leave:
		next := s.clone()
		effects := make([]Effect, 0, len(next.selections))
		for _, sel := range next.selections {
			effects = append(effects, Effect{Kind: EffectUnlock, Index: sel.Index, Coord: sel.Coord, Name: sel.PlayerName})
		}
		next.selections = nil
		return next, effects, nil
	case nil:
		return s, nil, fmt.Errorf("reservation: nil event")
	default:
		return s, nil, fmt.Errorf("reservation: unknown event %T", ev)
	}
}

func applySelect(s State, e Select) (State, []Effect, error) {
	g := s.match.GroupSize()
	if !e.Coord.Valid(g) {
		return s, nil, &ValidationError{
			Rule:        RuleOutOfGrid,
			Coordinates: []grid.Coordinate{e.Coord},
			Message:     fmt.Sprintf("position is not part of a %s grid", s.match.Mode),
		}
	}
	idx := grid.Encode(e.Coord, g)
	if !grid.InGrid(idx, s.match.Capacity) {
		return s, nil, &ValidationError{
			Rule:        RuleOutOfGrid,
			Coordinates: []grid.Coordinate{e.Coord},
			Message:     fmt.Sprintf("match has %d seats", s.match.Capacity),
		}
	}
	switch s.SeatByIndex(idx) {
	case SeatSelectedByMe:
		return s, nil, nil
	case SeatBooked:
		return s, nil, &ValidationError{
			Rule:        RuleSeatBooked,
			Coordinates: []grid.Coordinate{e.Coord},
			Message:     "position is already booked",
		}
	case SeatLockedByOther:
		return s, nil, &ValidationError{
			Rule:        RuleSeatLocked,
			Coordinates: []grid.Coordinate{e.Coord},
			Message:     "position is being picked by another player",
		}
	}
	if quota := s.match.Mode.QuotaCap(); s.match.IsFree() && len(s.selections) >= quota {
		return s, nil, &ValidationError{
			Rule:        RuleQuotaReached,
			Coordinates: []grid.Coordinate{e.Coord},
			Message:     fmt.Sprintf("free matches allow %d position(s) per player", quota),
		}
	}

	next := s.clone()
	sel := Selection{Coord: normalizeCoord(e.Coord), Index: idx}
	if len(next.selections) == 0 {
		sel.PlayerName = strings.TrimSpace(e.Handle)
	}
	next.selections = append(next.selections, sel)
	return next, []Effect{{Kind: EffectLock, Index: idx, Coord: sel.Coord, Name: sel.PlayerName}}, nil
}

func applyDeselect(s State, e Deselect) (State, []Effect, error) {
	idx := grid.Encode(e.Coord, s.match.GroupSize())
	i := s.selectionAt(idx)
	if idx == 0 || i < 0 {
		return s, nil, &ValidationError{
			Rule:        RuleNotSelected,
			Coordinates: []grid.Coordinate{e.Coord},
			Message:     "position is not selected",
		}
	}
	next := s.clone()
	sel := next.selections[i]
	next.removeAt(i)
	return next, []Effect{{Kind: EffectUnlock, Index: idx, Coord: sel.Coord, Name: sel.PlayerName}}, nil
}

func applyRename(s State, e Rename) (State, []Effect, error) {
	if err := CheckName(s, e.Coord, e.Name); err != nil {
		return s, nil, err
	}
	next := s.clone()
	i := next.selectionAt(grid.Encode(e.Coord, next.match.GroupSize()))
	next.selections[i].PlayerName = e.Name
	return next, nil, nil
}

func applyRemoteLocked(s State, e RemoteLocked) (State, []Effect, error) {
	next := s.clone()
	next.locked[e.Index] = struct{}{}
	if !next.policy.EvictOnRemoteLock {
		return next, nil, nil
	}
	return next, next.evictLocked(), nil
}

// markBooked moves indexes to the booked set and evicts any selection on
// them.  When unlock is set the evicted positions are also released on the
// lock channel.
func markBooked(s State, indexes []int, unlock bool) (State, []Effect, error) {
	next := s.clone()
	for _, idx := range indexes {
		next.booked[idx] = struct{}{}
		delete(next.locked, idx)
	}
	return next, next.evictBooked(unlock), nil
}

// evictBooked removes selections whose index is booked.  It mutates the
// receiver, so it must only be called on a fresh clone.
func (s *State) evictBooked(unlock bool) []Effect {
	var effects []Effect
	kept := s.selections[:0]
	for _, sel := range s.selections {
		if _, ok := s.booked[sel.Index]; !ok {
			kept = append(kept, sel)
			continue
		}
		if unlock {
			effects = append(effects, Effect{Kind: EffectUnlock, Index: sel.Index, Coord: sel.Coord, Name: sel.PlayerName})
		}
		effects = append(effects, Effect{Kind: EffectEvict, Index: sel.Index, Coord: sel.Coord, Name: sel.PlayerName})
	}
	s.selections = kept
	return effects
}

// evictLocked removes selections another session holds a lock on.  Same
// clone-only rule as evictBooked.
func (s *State) evictLocked() []Effect {
	var effects []Effect
	kept := s.selections[:0]
	for _, sel := range s.selections {
		if _, ok := s.locked[sel.Index]; !ok {
			kept = append(kept, sel)
			continue
		}
		effects = append(effects, Effect{Kind: EffectEvict, Index: sel.Index, Coord: sel.Coord, Name: sel.PlayerName})
	}
	s.selections = kept
	return effects
}

func (s *State) removeAt(i int) {
	s.selections = append(s.selections[:i], s.selections[i+1:]...)
}

func normalizeCoord(c grid.Coordinate) grid.Coordinate {
	if c.Letter >= 'a' && c.Letter <= 'z' {
		c.Letter -= 'a' - 'A'
	}
	return c
}
