// Package grid maps logical seat coordinates inside a match grid to the dense
// integer index shared with the persistence layer, and back.  A coordinate is
// a (team number, position letter) pair; the alphabet of position letters is
// sized by the match's group size: 1 seat per team for solo, 2 for duo and 4
// for squad.  Index 1 is team 1 position A.
package grid

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode is the team layout of a match.
type Mode string

const (
	ModeSolo  Mode = "solo"
	ModeDuo   Mode = "duo"
	ModeSquad Mode = "squad"
)

// letters is the full position alphabet.  A mode uses the first GroupSize
// entries of it.
const letters = "ABCD"

// ParseMode normalises a mode string.  Unknown values return false.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSolo:
		return ModeSolo, true
	case ModeDuo:
		return ModeDuo, true
	case ModeSquad:
		return ModeSquad, true
	}
	return "", false
}

// GroupSize returns the number of seats per team for the mode.  Unknown modes
// are treated as solo.
func (m Mode) GroupSize() int {
	switch m {
	case ModeDuo:
		return 2
	case ModeSquad:
		return 4
	default:
		return 1
	}
}

// QuotaCap is the maximum number of positions a single session may select in
// a free match of this mode: one team's worth of seats.
func (m Mode) QuotaCap() int { return m.GroupSize() }

// Coordinate is a logical seat reference.
type Coordinate struct {
	Team   int  `json:"team"`
	Letter byte `json:"letter"`
}

// String renders the coordinate as team number followed by letter, e.g. "3C".
func (c Coordinate) String() string {
	if c.Letter == 0 {
		return strconv.Itoa(c.Team) + "?"
	}
	return strconv.Itoa(c.Team) + string(c.Letter)
}

// Valid reports whether the coordinate can exist in a grid of the given group
// size.
func (c Coordinate) Valid(groupSize int) bool {
	return c.Team >= 1 && letterPos(c.Letter, groupSize) > 0
}

// ParseCoordinate parses the String form ("12B", "3a").  Solo grids accept a
// bare team number, which implies position A.
func ParseCoordinate(s string, groupSize int) (Coordinate, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Coordinate{}, fmt.Errorf("empty coordinate")
	}
	digits := strings.TrimRight(s, letters)
	rest := s[len(digits):]
	team, err := strconv.Atoi(digits)
	if err != nil {
		return Coordinate{}, fmt.Errorf("invalid team number in %q", s)
	}
	var c Coordinate
	switch len(rest) {
	case 0:
		if groupSize != 1 {
			return Coordinate{}, fmt.Errorf("missing position letter in %q", s)
		}
		c = Coordinate{Team: team, Letter: 'A'}
	case 1:
		c = Coordinate{Team: team, Letter: rest[0]}
	default:
		return Coordinate{}, fmt.Errorf("invalid position letter in %q", s)
	}
	if !c.Valid(groupSize) {
		return Coordinate{}, fmt.Errorf("coordinate %s is outside a grid of group size %d", c, groupSize)
	}
	return c, nil
}

// letterPos returns the 1-based position of letter in the alphabet truncated
// to groupSize, or 0 when the letter is not part of it.
func letterPos(letter byte, groupSize int) int {
	if !supported(groupSize) {
		return 0
	}
	if letter >= 'a' && letter <= 'z' {
		letter -= 'a' - 'A'
	}
	i := strings.IndexByte(letters[:groupSize], letter)
	return i + 1
}

// supported reports whether groupSize is one of the layouts a mode produces.
func supported(groupSize int) bool {
	return groupSize == 1 || groupSize == 2 || groupSize == 4
}

// Encode maps a coordinate to its global index:
//
//	(team - 1) * groupSize + letterPos
//
// The caller is responsible for passing a coordinate that is Valid for the
// group size; invalid input yields an index <= 0.
func Encode(c Coordinate, groupSize int) int {
	pos := letterPos(c.Letter, groupSize)
	if pos == 0 || c.Team < 1 {
		return 0
	}
	return (c.Team-1)*groupSize + pos
}

// Decode maps a global index (>= 1) back to its coordinate.  Non-positive
// indexes or unsupported group sizes return the zero Coordinate.
func Decode(index, groupSize int) Coordinate {
	if index < 1 || !supported(groupSize) {
		return Coordinate{}
	}
	team := (index + groupSize - 1) / groupSize
	pos := (index-1)%groupSize + 1
	return Coordinate{Team: team, Letter: letters[pos-1]}
}

// SubTeamKey is the key under which a position is grouped in a booking
// payload.  Solo positions all share "teamA"; duo splits A from everything
// else; squad uses one key per letter.
func SubTeamKey(m Mode, letter byte) string {
	if letter >= 'a' && letter <= 'z' {
		letter -= 'a' - 'A'
	}
	switch m {
	case ModeSolo:
		return "teamA"
	case ModeDuo:
		if letter == 'A' {
			return "teamA"
		}
		return "teamB"
	default:
		return "team" + string(letter)
	}
}

// Teams returns how many complete teams fit into capacity seats.
func Teams(capacity, groupSize int) int {
	if groupSize < 1 || capacity < 1 {
		return 0
	}
	return capacity / groupSize
}

// InGrid reports whether index addresses a seat inside a grid of the given
// capacity.
func InGrid(index, capacity int) bool {
	return index >= 1 && index <= capacity
}
