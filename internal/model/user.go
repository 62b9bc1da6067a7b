package model

import "time"

// User represents a player account as stored in the `users` table.  Only the
// fields the reservation core reads are modelled: the in-game handle used
// to auto-fill the first selected position and the wallet balance checked
// before paid bookings.  Account issuance and wallet top-ups are handled by
// other services.
//
// Fields:
//  ID            - primary key identifier of the user.
//  Handle        - default in-game name.
//  Role          - PLAYER or ADMIN.
//  WalletBalance - spendable balance in minor currency units.
//  CreatedAt     - timestamp of creation.
type User struct {
	ID            uint64    // users.id
	Handle        string    // users.handle
	Role          string    // users.role
	WalletBalance int64     // users.wallet_balance
	CreatedAt     time.Time // users.created_at
}

// Role names carried in the JWT "role" claim.
const (
	RolePlayer = "PLAYER"
	RoleAdmin  = "ADMIN"
)
