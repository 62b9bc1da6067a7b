// Package wire defines the JSON frames exchanged on the seat lock channel.
//
// Client -> Server
//
//	lock:    {"type":"lock","match_id":7,"index":12}
//	unlock:  {"type":"unlock","match_id":7,"index":12}
//
// Server -> Client
//
//	snapshot: {"type":"snapshot","match_id":7,"indexes":[3,4]}   locks held by others on join
//	lock:     {"type":"lock","match_id":7,"index":12}            another session locked
//	unlock:   {"type":"unlock","match_id":7,"index":12}          another session released
//	booked:   {"type":"booked","match_id":7,"indexes":[1,2]}     a booking committed
//	released: {"type":"released","match_id":7,"indexes":[1,2]}   a booking was cancelled
//	error:    {"type":"error","code":"bad_json","message":"..."}
package wire

// Message types.
const (
	TypeLock     = "lock"
	TypeUnlock   = "unlock"
	TypeSnapshot = "snapshot"
	TypeBooked   = "booked"
	TypeReleased = "released"
	TypeError    = "error"
)

// Error codes carried in error frames.
const (
	CodeBadJSON     = "bad_json"
	CodeUnknownType = "unknown_type"
	CodeWrongMatch  = "wrong_match"
	CodeOutOfGrid   = "out_of_grid"
)

// Message is a single frame in either direction.
type Message struct {
	Type    string `json:"type"`
	MatchID uint64 `json:"match_id,omitempty"`
	Index   int    `json:"index,omitempty"`
	Indexes []int  `json:"indexes,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Lock builds a lock frame.
func Lock(matchID uint64, index int) Message {
	return Message{Type: TypeLock, MatchID: matchID, Index: index}
}

// Unlock builds an unlock frame.
func Unlock(matchID uint64, index int) Message {
	return Message{Type: TypeUnlock, MatchID: matchID, Index: index}
}

// Error builds an error frame.
func Error(code, msg string) Message {
	return Message{Type: TypeError, Code: code, Message: msg}
}
