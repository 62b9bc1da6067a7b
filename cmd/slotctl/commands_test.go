package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/slot-reservation/internal/grid"
	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/reservation"
)

func TestPrintGrid(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printGrid(&buf, grid.ModeDuo, 5))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "mode=duo group_size=2 teams=2", lines[0])
	assert.Equal(t, "   1  1A   teamA", lines[1])
	assert.Equal(t, "   4  2B   teamB", lines[4])
	assert.Equal(t, "   5  3A   teamA", lines[5])

	assert.Error(t, printGrid(&buf, grid.ModeSolo, 0))
}

func TestRenderState(t *testing.T) {
	m := model.Match{ID: 1, Mode: grid.ModeDuo, Capacity: 4}
	s, _, err := reservation.Apply(reservation.NewState(m, reservation.Policy{}), reservation.SnapshotLoaded{Booked: []int{2}})
	require.NoError(t, err)
	s, _, err = reservation.Apply(s, reservation.RemoteLocked{Index: 3})
	require.NoError(t, err)
	s, _, err = reservation.Apply(s, reservation.Select{Coord: grid.Coordinate{Team: 2, Letter: 'B'}, Handle: "Ghost"})
	require.NoError(t, err)

	var buf bytes.Buffer
	renderState(&buf, s)
	assert.Equal(t, "  1 .x\n  2 L*\n", buf.String())
}

func TestRenderState_PartialLastTeam(t *testing.T) {
	m := model.Match{ID: 1, Mode: grid.ModeSquad, Capacity: 6}
	var buf bytes.Buffer
	renderState(&buf, reservation.NewState(m, reservation.Policy{}))
	assert.Equal(t, "  1 ....\n  2 ..\n", buf.String())
}
