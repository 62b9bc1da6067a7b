package reservation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/slot-reservation/internal/grid"
)

// Rule names the check that rejected a selection, a keystroke or a submit.
type Rule string

const (
	RuleNoSelection    Rule = "no_selection"
	RuleNameRequired   Rule = "name_required"
	RuleDuplicateName  Rule = "duplicate_name"
	RuleSeatBooked     Rule = "seat_booked"
	RuleSeatLocked     Rule = "seat_locked"
	RuleQuotaReached   Rule = "quota_reached"
	RuleOutOfGrid      Rule = "out_of_grid"
	RuleNotSelected    Rule = "not_selected"
	RuleServerRejected Rule = "server_rejected"
)

// ErrSubmitInProgress is returned when Submit is called while a previous
// submit of the same session has not returned yet.
var ErrSubmitInProgress = errors.New("reservation: submit already in progress")

// ErrClosed is returned by a Controller after Close.
var ErrClosed = errors.New("reservation: controller closed")

// ValidationError is a local, user-fixable rejection.  It never reaches the
// network.  Coordinates lists the seats at fault; Field names the input at
// fault when the problem is with entered data rather than the seat itself.
type ValidationError struct {
	Rule        Rule
	Field       string
	Coordinates []grid.Coordinate
	Message     string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Rule))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Coordinates) > 0 {
		b.WriteString(" [")
		b.WriteString(joinCoords(e.Coordinates))
		b.WriteString("]")
	}
	if e.Field != "" {
		b.WriteString(" (field ")
		b.WriteString(e.Field)
		b.WriteString(")")
	}
	return b.String()
}

// ConflictError reports that the commit collaborator found some of the
// submitted positions already booked.  The whole submission was rejected.
type ConflictError struct {
	Indexes     []int
	Coordinates []grid.Coordinate
}

func (e *ConflictError) Error() string {
	if len(e.Coordinates) > 0 {
		return "positions already booked: " + joinCoords(e.Coordinates)
	}
	return fmt.Sprintf("positions already booked: %v", e.Indexes)
}

// InsufficientFundsError reports that the wallet cannot cover a paid booking.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d, have %d", e.Required, e.Available)
}

// TransientNetworkError wraps transport failures and unrecognised server
// responses.  Nothing is retried automatically; the caller decides.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

func joinCoords(cs []grid.Coordinate) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ",")
}
