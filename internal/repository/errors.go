// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios. For
// example, ErrForbidden indicates that the current user is not
// authorized to act on a booking owned by someone else, while
// ErrPositionTaken signals that a commit lost the race for one or more
// positions of a match.
package repository

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist.  Handlers
// should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an operation cannot be performed because
// of conflicting state, such as booking into a match that is no longer
// open. Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrPositionTaken is returned when one or more requested positions are
// already booked.  Use errors.As with *PositionTakenError to read which.
var ErrPositionTaken = errors.New("position already booked")

// ErrInsufficientFunds is returned when the wallet cannot cover a paid
// booking.  Use errors.As with *InsufficientFundsError for the amounts.
var ErrInsufficientFunds = errors.New("insufficient balance")

// ErrQuotaExceeded is returned when a free-match booking would give the
// user more positions in the match than one team's worth.  Use errors.As
// with *QuotaExceededError for the numbers.
var ErrQuotaExceeded = errors.New("free match quota exceeded")

// ErrCommitContended is returned when a commit collided with another one on
// the unique index but the other commit left nothing booked behind.  The
// request may simply be retried.
var ErrCommitContended = errors.New("commit contended; retry")

// PositionTakenError lists the positions that were already booked when a
// commit was attempted.  It matches ErrPositionTaken under errors.Is.
type PositionTakenError struct {
	MatchID uint64
	Indexes []int
}

func (e *PositionTakenError) Error() string {
	return fmt.Sprintf("match %d: positions already booked: %v", e.MatchID, e.Indexes)
}

func (e *PositionTakenError) Is(target error) bool { return target == ErrPositionTaken }

// InsufficientFundsError carries the amount required and the balance seen
// inside the commit transaction.  It matches ErrInsufficientFunds.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d, have %d", e.Required, e.Available)
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// QuotaExceededError reports a free-match booking over the per-user cap.
// Held counts the positions the user already had in the match.
type QuotaExceededError struct {
	Cap       int
	Held      int
	Requested int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("free match quota is %d positions; %d held, %d requested", e.Cap, e.Held, e.Requested)
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }
