package model

import (
	"strconv"
	"time"
)

// Booking records a committed set of positions in a match.  It is created
// once per successful submit and is immutable afterwards, except for
// cancellation which deletes it and frees its positions.
//
// Fields:
//  ID          - primary key identifier.
//  UserID      - user who submitted the booking.
//  MatchID     - match the positions belong to.
//  TotalAmount - amount debited from the wallet (0 for free matches).
//  CreatedAt   - creation timestamp.
type Booking struct {
	ID          uint64            `json:"id"`           // bookings.id
	UserID      uint64            `json:"user_id"`      // bookings.user_id
	MatchID     uint64            `json:"match_id"`     // bookings.match_id
	TotalAmount int64             `json:"total_amount"` // bookings.total_amount
	Positions   []BookingPosition `json:"positions"`
	CreatedAt   time.Time         `json:"created_at"` // bookings.created_at
}

// BookingPosition links a booking to one occupied global index and the name
// of the player who will sit there.  (match_id, global_index) is unique,
// which is what makes a position's ownership exclusive.
type BookingPosition struct {
	BookingID   uint64 `json:"booking_id"`   // booking_positions.booking_id
	MatchID     uint64 `json:"match_id"`     // booking_positions.match_id
	GlobalIndex int    `json:"global_index"` // booking_positions.global_index
	SubTeam     string `json:"sub_team"`     // booking_positions.sub_team
	PlayerName  string `json:"player_name"`  // booking_positions.player_name
}

// BookingPayload is the wire format sent to the booking commit endpoint.
// Teams groups global indexes by sub-team key ("teamA".."teamD"); Names maps
// "{subTeamKey}-{index}" to the player name for that index; PlayerIndex is
// the flat list of every index in the booking (order not significant).
type BookingPayload struct {
	MatchID     uint64            `json:"match_id" validate:"required"`
	Teams       map[string][]int  `json:"teams" validate:"required,min=1,dive,keys,oneof=teamA teamB teamC teamD,endkeys,required"`
	Names       map[string]string `json:"names" validate:"required,min=1,dive,required"`
	TotalAmount int64             `json:"total_amount" validate:"min=0"`
	PlayerIndex []int             `json:"player_index" validate:"required,min=1,dive,min=1"`
}

// NameKey builds the key used in BookingPayload.Names.
func NameKey(subTeam string, index int) string {
	return subTeam + "-" + strconv.Itoa(index)
}
