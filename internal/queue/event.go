// Package queue defines message payloads exchanged over the message broker.
package queue

import "strconv"

// BookingConfirmedEvent is published when a booking is committed.  It
// contains enough information for downstream consumers to log, notify, or
// trigger analytics without querying the primary database.
type BookingConfirmedEvent struct {
    BookingID   uint64            `json:"booking_id"`
    UserID      uint64            `json:"user_id"`
    MatchID     uint64            `json:"match_id"`
    MatchTitle  string            `json:"match_title"`
    Mode        string            `json:"mode"`
    Indexes     []int             `json:"indexes"`
    Positions   []string          `json:"positions"` // coordinates, e.g. "3C"
    Names       map[string]string `json:"names"`     // coordinate -> player name
    TotalAmount int64             `json:"total_amount"`
    ConfirmedAt string            `json:"confirmed_at"`
}

// IdempotencyKey identifies the event for consumers that deduplicate
// redelivered messages.
func (e BookingConfirmedEvent) IdempotencyKey() string {
    return "booking-confirmed-" + strconv.FormatUint(e.BookingID, 10)
}
