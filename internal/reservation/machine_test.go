package reservation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/slot-reservation/internal/grid"
	"github.com/iliyamo/slot-reservation/internal/model"
)

func duoMatch(fee int64) model.Match {
	return model.Match{ID: 7, Title: "Duo Cup", Mode: grid.ModeDuo, Capacity: 40, EntryFee: fee, Status: model.MatchStatusOpen}
}

func squadMatch(fee int64) model.Match {
	return model.Match{ID: 9, Title: "Squad Cup", Mode: grid.ModeSquad, Capacity: 100, EntryFee: fee, Status: model.MatchStatusOpen}
}

func mustApply(t *testing.T, s State, ev Event) (State, []Effect) {
	t.Helper()
	next, effects, err := Apply(s, ev)
	require.NoError(t, err)
	return next, effects
}

func ruleOf(t *testing.T, err error) Rule {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %v", err)
	return verr.Rule
}

func TestSelect_FreeDuoQuota(t *testing.T) {
	s := NewState(duoMatch(0), Policy{})
	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'A'}})
	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'B'}})

	next, effects, err := Apply(s, Select{Coord: grid.Coordinate{Team: 2, Letter: 'A'}})
	assert.Equal(t, RuleQuotaReached, ruleOf(t, err))
	assert.Nil(t, effects)
	assert.Equal(t, 2, next.SelectedCount())
	assert.Equal(t, SeatFree, next.Seat(grid.Coordinate{Team: 2, Letter: 'A'}))
}

func TestSelect_PaidDuoHasNoQuota(t *testing.T) {
	s := NewState(duoMatch(150), Policy{})
	for _, c := range []grid.Coordinate{{Team: 1, Letter: 'A'}, {Team: 1, Letter: 'B'}, {Team: 2, Letter: 'A'}} {
		s, _ = mustApply(t, s, Select{Coord: c})
	}
	assert.Equal(t, 3, s.SelectedCount())
	assert.Equal(t, int64(450), s.TotalAmount())
}

func TestSelect_BookedIsRefused(t *testing.T) {
	s := NewState(squadMatch(0), Policy{})
	s, _ = mustApply(t, s, SnapshotLoaded{Booked: []int{5}})

	coord := grid.Decode(5, 4)
	require.Equal(t, grid.Coordinate{Team: 2, Letter: 'A'}, coord)
	next, effects, err := Apply(s, Select{Coord: coord})
	assert.Equal(t, RuleSeatBooked, ruleOf(t, err))
	assert.Empty(t, effects, "no lock intent may leave for a booked seat")
	assert.Equal(t, SeatBooked, next.Seat(coord))
}

func TestSelect_LockedByOtherIsRefused(t *testing.T) {
	s := NewState(squadMatch(0), Policy{})
	s, _ = mustApply(t, s, RemoteLocked{Index: 3})

	_, _, err := Apply(s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'C'}})
	assert.Equal(t, RuleSeatLocked, ruleOf(t, err))

	s, _ = mustApply(t, s, RemoteUnlocked{Index: 3})
	s, effects := mustApply(t, s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'C'}})
	assert.Equal(t, []Effect{{Kind: EffectLock, Index: 3, Coord: grid.Coordinate{Team: 1, Letter: 'C'}}}, effects)
	assert.Equal(t, SeatSelectedByMe, s.SeatByIndex(3))
}

func TestSelect_OutOfGrid(t *testing.T) {
	s := NewState(duoMatch(0), Policy{})
	_, _, err := Apply(s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'C'}})
	assert.Equal(t, RuleOutOfGrid, ruleOf(t, err))

	_, _, err = Apply(s, Select{Coord: grid.Coordinate{Team: 21, Letter: 'A'}})
	assert.Equal(t, RuleOutOfGrid, ruleOf(t, err))
}

func TestSelect_AutoFillsFirstSelectionOnly(t *testing.T) {
	s := NewState(squadMatch(0), Policy{})
	s, effects := mustApply(t, s, Select{Coord: grid.Coordinate{Team: 4, Letter: 'B'}, Handle: "ProHunter"})
	require.Len(t, effects, 1)
	assert.Equal(t, EffectLock, effects[0].Kind)
	assert.Equal(t, 14, effects[0].Index)

	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 4, Letter: 'C'}, Handle: "ProHunter"})
	sels := s.Selections()
	require.Len(t, sels, 2)
	assert.Equal(t, "ProHunter", sels[0].PlayerName)
	assert.Equal(t, "", sels[1].PlayerName)
}

func TestSelect_AutoFillAgainAfterSessionEmpties(t *testing.T) {
	s := NewState(squadMatch(0), Policy{})
	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'A'}, Handle: "ProHunter"})
	s, _ = mustApply(t, s, Deselect{Coord: grid.Coordinate{Team: 1, Letter: 'A'}})
	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 2, Letter: 'A'}, Handle: "ProHunter"})
	assert.Equal(t, "ProHunter", s.Selections()[0].PlayerName)
}

func TestDeselect_EmitsUnlock(t *testing.T) {
	s := NewState(squadMatch(0), Policy{})
	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'D'}})
	s, effects := mustApply(t, s, Deselect{Coord: grid.Coordinate{Team: 1, Letter: 'd'}})
	require.Len(t, effects, 1)
	assert.Equal(t, EffectUnlock, effects[0].Kind)
	assert.Equal(t, 4, effects[0].Index)
	assert.Equal(t, 0, s.SelectedCount())

	_, _, err := Apply(s, Deselect{Coord: grid.Coordinate{Team: 1, Letter: 'D'}})
	assert.Equal(t, RuleNotSelected, ruleOf(t, err))
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	s := NewState(squadMatch(0), Policy{})
	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'A'}, Handle: "a"})
	before := s.Selections()

	_, _, _ = Apply(s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'B'}})
	_, _, _ = Apply(s, Rename{Coord: grid.Coordinate{Team: 1, Letter: 'A'}, Name: "zzz"})
	_, _, _ = Apply(s, RemoteBooked{Indexes: []int{1}})

	assert.Equal(t, before, s.Selections())
	assert.Empty(t, s.Booked())
}

func TestRemoteLock_DoesNotEvictByDefault(t *testing.T) {
	s := NewState(squadMatch(0), Policy{})
	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'A'}})
	s, effects := mustApply(t, s, RemoteLocked{Index: 1})

	assert.Empty(t, effects)
	assert.Equal(t, SeatSelectedByMe, s.SeatByIndex(1))
	assert.Len(t, s.Contested(), 1)
}

func TestRemoteLock_EvictPolicy(t *testing.T) {
	s := NewState(squadMatch(0), Policy{EvictOnRemoteLock: true})
	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'A'}})
	s, effects := mustApply(t, s, RemoteLocked{Index: 1})

	require.Len(t, effects, 1)
	assert.Equal(t, EffectEvict, effects[0].Kind)
	assert.Equal(t, SeatLockedByOther, s.SeatByIndex(1))
	assert.Equal(t, 0, s.SelectedCount())
}

func TestRemoteBooked_OverridesEveryState(t *testing.T) {
	s := NewState(squadMatch(0), Policy{})
	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'A'}})
	s, _ = mustApply(t, s, RemoteLocked{Index: 2})
	s, effects := mustApply(t, s, RemoteBooked{Indexes: []int{1, 2, 3}})

	require.Len(t, effects, 1)
	assert.Equal(t, Effect{Kind: EffectEvict, Index: 1, Coord: grid.Coordinate{Team: 1, Letter: 'A'}}, effects[0])
	for _, idx := range []int{1, 2, 3} {
		assert.Equal(t, SeatBooked, s.SeatByIndex(idx))
	}
	assert.Empty(t, s.Locked())

	s, _ = mustApply(t, s, RemoteReleased{Indexes: []int{2}})
	assert.Equal(t, SeatFree, s.SeatByIndex(2))
}

func TestSnapshotLoaded_ReleasesBookedSelections(t *testing.T) {
	s := NewState(squadMatch(0), Policy{})
	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'A'}})
	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'B'}})
	s, effects := mustApply(t, s, SnapshotLoaded{Booked: []int{2}})

	require.Len(t, effects, 2)
	assert.Equal(t, Effect{Kind: EffectUnlock, Index: 2, Coord: grid.Coordinate{Team: 1, Letter: 'B'}}, effects[0])
	assert.Equal(t, EffectEvict, effects[1].Kind)
	assert.Equal(t, 1, s.SelectedCount())
	assert.Equal(t, SeatBooked, s.SeatByIndex(2))
}

func TestConflicted_EvictsOnlyRejected(t *testing.T) {
	s := NewState(squadMatch(100), Policy{})
	for _, c := range []grid.Coordinate{{Team: 1, Letter: 'A'}, {Team: 1, Letter: 'B'}, {Team: 1, Letter: 'C'}} {
		s, _ = mustApply(t, s, Select{Coord: c})
	}
	s, effects := mustApply(t, s, Conflicted{Indexes: []int{2}})

	kinds := []EffectKind{}
	for _, e := range effects {
		assert.Equal(t, 2, e.Index)
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []EffectKind{EffectUnlock, EffectEvict}, kinds)
	assert.Equal(t, SeatBooked, s.SeatByIndex(2))
	sels := s.Selections()
	require.Len(t, sels, 2)
	assert.Equal(t, 1, sels[0].Index)
	assert.Equal(t, 3, sels[1].Index)
}

func TestCommitted_TurnsSelectionsIntoBooked(t *testing.T) {
	s := NewState(squadMatch(0), Policy{})
	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'A'}})
	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 1, Letter: 'B'}})
	s, effects := mustApply(t, s, Committed{Indexes: []int{1}})

	assert.Empty(t, effects)
	assert.Equal(t, SeatBooked, s.SeatByIndex(1))
	assert.Equal(t, SeatSelectedByMe, s.SeatByIndex(2))
}

func TestLeave_UnlocksEverySelection(t *testing.T) {
	s := NewState(squadMatch(0), Policy{})
	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 2, Letter: 'A'}})
	s, _ = mustApply(t, s, Select{Coord: grid.Coordinate{Team: 2, Letter: 'B'}})
	s, effects := mustApply(t, s, Leave{})

	require.Len(t, effects, 2)
	assert.Equal(t, EffectUnlock, effects[0].Kind)
	assert.Equal(t, 5, effects[0].Index)
	assert.Equal(t, 6, effects[1].Index)
	assert.Equal(t, 0, s.SelectedCount())
}

func TestSelectionsAndSelectedSeatsStayInStep(t *testing.T) {
	s := NewState(squadMatch(10), Policy{})
	events := []Event{
		Select{Coord: grid.Coordinate{Team: 1, Letter: 'A'}},
		Select{Coord: grid.Coordinate{Team: 1, Letter: 'B'}},
		RemoteLocked{Index: 2},
		Select{Coord: grid.Coordinate{Team: 3, Letter: 'D'}},
		RemoteBooked{Indexes: []int{1}},
		Deselect{Coord: grid.Coordinate{Team: 3, Letter: 'D'}},
		Select{Coord: grid.Coordinate{Team: 5, Letter: 'C'}},
		SnapshotLoaded{Booked: []int{19}},
		Conflicted{Indexes: []int{2}},
	}
	for _, ev := range events {
		s, _, _ = Apply(s, ev)

		selected := 0
		for idx := 1; idx <= s.Match().Capacity; idx++ {
			if s.SeatByIndex(idx) == SeatSelectedByMe {
				selected++
			}
		}
		assert.Equal(t, s.SelectedCount(), selected, "after %T", ev)
	}
	assert.Equal(t, 0, s.SelectedCount())
}

func TestApply_UnknownEvent(t *testing.T) {
	_, _, err := Apply(NewState(squadMatch(0), Policy{}), nil)
	assert.Error(t, err)
}
