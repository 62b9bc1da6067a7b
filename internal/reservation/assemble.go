package reservation

import (
	"strings"

	"github.com/iliyamo/slot-reservation/internal/grid"
	"github.com/iliyamo/slot-reservation/internal/model"
)

// Assemble builds the commit payload for selections.  Indexes are grouped by
// sub-team key in selection order and every name is trimmed.  The caller is
// expected to have passed the selections through Validate.
func Assemble(selections []Selection, m model.Match) model.BookingPayload {
	g := m.GroupSize()
	p := model.BookingPayload{
		MatchID:     m.ID,
		Teams:       make(map[string][]int),
		Names:       make(map[string]string, len(selections)),
		TotalAmount: m.TotalFor(len(selections)),
		PlayerIndex: make([]int, 0, len(selections)),
	}
	for _, sel := range selections {
		idx := grid.Encode(sel.Coord, g)
		key := grid.SubTeamKey(m.Mode, sel.Coord.Letter)
		p.Teams[key] = append(p.Teams[key], idx)
		p.Names[model.NameKey(key, idx)] = strings.TrimSpace(sel.PlayerName)
		p.PlayerIndex = append(p.PlayerIndex, idx)
	}
	return p
}
