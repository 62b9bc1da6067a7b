package repository

import (
    "context"
    "database/sql"
    "errors"
    "sort"
    "strings"
    "time"

    "github.com/go-sql-driver/mysql"
    "github.com/mattn/go-sqlite3"

    "github.com/iliyamo/slot-reservation/internal/model"
)

// BookingRepo provides the check-and-reserve commit for bookings and the
// occupancy reads that feed the booked snapshot.  Positions booked under a
// booking are stored in the booking_positions table, whose
// UNIQUE(match_id, global_index) constraint is the final arbiter when two
// commits race for the same position.
type BookingRepo struct {
    db *sql.DB

    // beforePositions runs inside the commit transaction just before the
    // position rows are inserted.  Tests use it to stage a lost race.
    beforePositions func(ctx context.Context, tx *sql.Tx, b *model.Booking) error
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// CreateBookingParams is the validated input of a commit.  Positions must
// carry GlobalIndex, SubTeam and PlayerName; BookingID and MatchID are
// filled in by Create.
type CreateBookingParams struct {
    UserID      uint64
    MatchID     uint64
    TotalAmount int64
    Positions   []model.BookingPosition
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
    QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// BookedPositions returns every booked global index of a match in ascending
// order.  A match with no bookings yields an empty, non-nil slice.
func (r *BookingRepo) BookedPositions(ctx context.Context, matchID uint64) ([]int, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT global_index FROM booking_positions WHERE match_id = ? ORDER BY global_index`, matchID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := []int{}
    for rows.Next() {
        var idx int
        if err := rows.Scan(&idx); err != nil {
            return nil, err
        }
        out = append(out, idx)
    }
    return out, rows.Err()
}

// Create commits a booking atomically.  Inside one transaction it checks
// that the match is open, rejects positions that are already booked,
// debits the wallet for paid matches and inserts the booking with its
// positions.  Nothing is written unless every step succeeds.
//
// Free matches cap the positions one user may hold across all of their
// bookings in the match at the mode's quota.
//
// Errors: ErrNotFound when the match or user is missing, ErrConflict when
// the match is not open, *PositionTakenError, *QuotaExceededError and
// *InsufficientFundsError as described on those types, ErrCommitContended
// when the insert collided but the colliding rows are gone again.
func (r *BookingRepo) Create(ctx context.Context, p CreateBookingParams) (*model.Booking, error) {
    indexes := make([]int, 0, len(p.Positions))
    for _, pos := range p.Positions {
        indexes = append(indexes, pos.GlobalIndex)
    }

    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return nil, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    m, err := (&MatchRepo{db: r.db}).getByIDTx(ctx, tx, p.MatchID)
    if err != nil {
        return nil, err
    }
    if !m.IsOpen() {
        return nil, ErrConflict
    }

    // Reject early with the exact set when the positions are already taken.
    taken, err := takenIndexes(ctx, tx, p.MatchID, indexes)
    if err != nil {
        return nil, err
    }
    if len(taken) > 0 {
        return nil, &PositionTakenError{MatchID: p.MatchID, Indexes: taken}
    }

    if m.IsFree() {
        var held int
        err := tx.QueryRowContext(ctx,
            `SELECT COUNT(*) FROM booking_positions bp JOIN bookings b ON b.id = bp.booking_id
             WHERE b.user_id = ? AND bp.match_id = ?`, p.UserID, p.MatchID).Scan(&held)
        if err != nil {
            return nil, err
        }
        if limit := m.Mode.QuotaCap(); held+len(indexes) > limit {
            return nil, &QuotaExceededError{Cap: limit, Held: held, Requested: len(indexes)}
        }
    }

    if p.TotalAmount > 0 {
        if err := debitTx(ctx, tx, p.UserID, p.TotalAmount); err != nil {
            return nil, err
        }
    }

    now := time.Now().UTC()
    res, err := tx.ExecContext(ctx,
        `INSERT INTO bookings (user_id, match_id, total_amount, created_at) VALUES (?, ?, ?, ?)`,
        p.UserID, p.MatchID, p.TotalAmount, now)
    if err != nil {
        return nil, err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return nil, err
    }
    b := &model.Booking{
        ID:          uint64(id),
        UserID:      p.UserID,
        MatchID:     p.MatchID,
        TotalAmount: p.TotalAmount,
        CreatedAt:   now,
        Positions:   make([]model.BookingPosition, 0, len(p.Positions)),
    }
    for _, pos := range p.Positions {
        pos.BookingID = b.ID
        pos.MatchID = p.MatchID
        b.Positions = append(b.Positions, pos)
    }

    if r.beforePositions != nil {
        if err := r.beforePositions(ctx, tx, b); err != nil {
            return nil, err
        }
    }
    if err := insertPositionsTx(ctx, tx, b.Positions); err != nil {
        if isUniqueViolation(err) {
            // Lost the race between the check above and the insert.  Roll
            // back first so the re-read sees the winner's rows.
            _ = tx.Rollback()
            committed = true
            taken, qerr := takenIndexes(ctx, r.db, p.MatchID, indexes)
            if qerr != nil {
                return nil, qerr
            }
            if len(taken) == 0 {
                return nil, ErrCommitContended
            }
            return nil, &PositionTakenError{MatchID: p.MatchID, Indexes: taken}
        }
        return nil, err
    }

    if err := tx.Commit(); err != nil {
        return nil, err
    }
    committed = true
    return b, nil
}

// Cancel deletes a booking owned by userID, frees its positions and refunds
// the wallet.  It returns the match and the freed indexes so that callers
// can broadcast the release.  ErrNotFound, ErrForbidden and ErrConflict
// (match already started) are returned as appropriate.
func (r *BookingRepo) Cancel(ctx context.Context, bookingID, userID uint64) (matchID uint64, freed []int, err error) {
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return 0, nil, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    var owner uint64
    var total int64
    var startsAt time.Time
    err = tx.QueryRowContext(ctx,
        `SELECT b.user_id, b.match_id, b.total_amount, m.starts_at
         FROM bookings b JOIN matches m ON m.id = b.match_id
         WHERE b.id = ?`, bookingID).Scan(&owner, &matchID, &total, &startsAt)
    if errors.Is(err, sql.ErrNoRows) {
        return 0, nil, ErrNotFound
    }
    if err != nil {
        return 0, nil, err
    }
    if owner != userID {
        return 0, nil, ErrForbidden
    }
    // Positions cannot be given back once the match has started.
    if !startsAt.After(time.Now().UTC()) {
        return 0, nil, ErrConflict
    }

    rows, err := tx.QueryContext(ctx,
        `SELECT global_index FROM booking_positions WHERE booking_id = ? ORDER BY global_index`, bookingID)
    if err != nil {
        return 0, nil, err
    }
    freed, err = scanInts(rows)
    if err != nil {
        return 0, nil, err
    }

    if _, err := tx.ExecContext(ctx, `DELETE FROM booking_positions WHERE booking_id = ?`, bookingID); err != nil {
        return 0, nil, err
    }
    if _, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, bookingID); err != nil {
        return 0, nil, err
    }
    if total > 0 {
        if _, err := tx.ExecContext(ctx,
            `UPDATE users SET wallet_balance = wallet_balance + ? WHERE id = ?`, total, userID); err != nil {
            return 0, nil, err
        }
    }
    if err := tx.Commit(); err != nil {
        return 0, nil, err
    }
    committed = true
    return matchID, freed, nil
}

// takenIndexes returns the subset of indexes already booked in matchID.
func takenIndexes(ctx context.Context, q querier, matchID uint64, indexes []int) ([]int, error) {
    if len(indexes) == 0 {
        return nil, nil
    }
    query := `SELECT global_index FROM booking_positions WHERE match_id = ? AND global_index IN (?` +
        strings.Repeat(",?", len(indexes)-1) + `)`
    args := make([]interface{}, 0, len(indexes)+1)
    args = append(args, matchID)
    for _, idx := range indexes {
        args = append(args, idx)
    }
    rows, err := q.QueryContext(ctx, query, args...)
    if err != nil {
        return nil, err
    }
    out, err := scanInts(rows)
    if err != nil {
        return nil, err
    }
    sort.Ints(out)
    return out, nil
}

// debitTx takes amount from the user's wallet.  The balance guard lives in
// the UPDATE itself so that two concurrent commits cannot overdraw.
func debitTx(ctx context.Context, tx *sql.Tx, userID uint64, amount int64) error {
    res, err := tx.ExecContext(ctx,
        `UPDATE users SET wallet_balance = wallet_balance - ? WHERE id = ? AND wallet_balance >= ?`,
        amount, userID, amount)
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 1 {
        return nil
    }
    var balance int64
    err = tx.QueryRowContext(ctx, `SELECT wallet_balance FROM users WHERE id = ?`, userID).Scan(&balance)
    if errors.Is(err, sql.ErrNoRows) {
        return ErrNotFound
    }
    if err != nil {
        return err
    }
    return &InsufficientFundsError{Required: amount, Available: balance}
}

// insertPositionsTx inserts multiple booking_positions rows in a single
// statement.  Passing an empty slice has no effect and returns nil.
func insertPositionsTx(ctx context.Context, tx *sql.Tx, positions []model.BookingPosition) error {
    if len(positions) == 0 {
        return nil
    }
    query := `INSERT INTO booking_positions (booking_id, match_id, global_index, sub_team, player_name) VALUES `
    args := make([]interface{}, 0, len(positions)*5)
    for i, p := range positions {
        if i > 0 {
            query += ","
        }
        query += "(?, ?, ?, ?, ?)"
        args = append(args, p.BookingID, p.MatchID, p.GlobalIndex, p.SubTeam, p.PlayerName)
    }
    _, err := tx.ExecContext(ctx, query, args...)
    return err
}

func scanInts(rows *sql.Rows) ([]int, error) {
    defer rows.Close()
    out := []int{}
    for rows.Next() {
        var n int
        if err := rows.Scan(&n); err != nil {
            return nil, err
        }
        out = append(out, n)
    }
    return out, rows.Err()
}

// isUniqueViolation recognises duplicate-key errors from both drivers:
// MySQL error 1062 and SQLite's UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
    var myErr *mysql.MySQLError
    if errors.As(err, &myErr) {
        return myErr.Number == 1062
    }
    var liteErr sqlite3.Error
    if errors.As(err, &liteErr) {
        return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
            liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
    }
    return false
}
