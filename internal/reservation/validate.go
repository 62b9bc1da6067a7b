package reservation

import (
	"strings"

	"github.com/iliyamo/slot-reservation/internal/grid"
)

// Validate is the gate every submit passes before anything is sent.  The
// rules run in a fixed order and the first failure is returned:
//
//  1. at least one position is selected
//  2. every selection has a non-blank player name
//  3. no two names are equal ignoring case and surrounding spaces
//  4. for paid matches, balance covers the total
func Validate(s State, balance int64) error {
	return validate(s, balance, true)
}

// validate skips rule 4 when checkFunds is false.
func validate(s State, balance int64, checkFunds bool) error {
	if len(s.selections) == 0 {
		return &ValidationError{Rule: RuleNoSelection, Message: "select at least one position"}
	}

	var blank []grid.Coordinate
	for _, sel := range s.selections {
		if strings.TrimSpace(sel.PlayerName) == "" {
			blank = append(blank, sel.Coord)
		}
	}
	if len(blank) > 0 {
		return &ValidationError{
			Rule:        RuleNameRequired,
			Field:       "player_name",
			Coordinates: blank,
			Message:     "every position needs a player name",
		}
	}

	seen := make(map[string]grid.Coordinate, len(s.selections))
	for _, sel := range s.selections {
		key := normalizeName(sel.PlayerName)
		if first, ok := seen[key]; ok {
			return &ValidationError{
				Rule:        RuleDuplicateName,
				Field:       "player_name",
				Coordinates: []grid.Coordinate{first, sel.Coord},
				Message:     "player names must be unique",
			}
		}
		seen[key] = sel.Coord
	}

	if checkFunds && !s.match.IsFree() {
		if total := s.TotalAmount(); balance < total {
			return &InsufficientFundsError{Required: total, Available: balance}
		}
	}
	return nil
}

// CheckName is the keystroke-time duplicate check: it rejects name for coord
// when another selection already carries the same normalised name.  Blank
// names pass; Validate catches them at submit.
func CheckName(s State, coord grid.Coordinate, name string) error {
	idx := grid.Encode(coord, s.match.GroupSize())
	if idx == 0 || s.selectionAt(idx) < 0 {
		return &ValidationError{
			Rule:        RuleNotSelected,
			Coordinates: []grid.Coordinate{coord},
			Message:     "position is not selected",
		}
	}
	key := normalizeName(name)
	if key == "" {
		return nil
	}
	for _, sel := range s.selections {
		if sel.Index == idx {
			continue
		}
		if normalizeName(sel.PlayerName) == key {
			return &ValidationError{
				Rule:        RuleDuplicateName,
				Field:       "player_name",
				Coordinates: []grid.Coordinate{sel.Coord, normalizeCoord(coord)},
				Message:     "player names must be unique",
			}
		}
	}
	return nil
}
