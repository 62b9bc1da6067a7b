package repository

import (
	"context"      // context for controlling query lifetime
	"database/sql" // sql provides DB abstraction
	"errors"       // errors for sentinel comparisons

	"github.com/iliyamo/slot-reservation/internal/grid"
	"github.com/iliyamo/slot-reservation/internal/model"
)

// MatchRepo reads matches.  Matches are created by the admin back-office;
// this service only ever loads them.
type MatchRepo struct {
	db *sql.DB
}

// NewMatchRepo returns a MatchRepo bound to db.
func NewMatchRepo(db *sql.DB) *MatchRepo { return &MatchRepo{db: db} }

// DB exposes the underlying sql.DB so that callers can begin transactions
// spanning multiple repositories.
func (r *MatchRepo) DB() *sql.DB { return r.db }

const matchColumns = `id, title, mode, capacity, entry_fee, status, starts_at, created_at`

// GetByID loads a single match.  It returns ErrNotFound when no row exists.
func (r *MatchRepo) GetByID(ctx context.Context, id uint64) (*model.Match, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id)
	return scanMatch(row)
}

// getByIDTx is GetByID inside a transaction, used by the commit path so
// that the status check and the insert see the same snapshot.
func (r *MatchRepo) getByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Match, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id)
	return scanMatch(row)
}

// Create inserts a match and populates its ID.  It exists for seeding and
// tests; there is no HTTP route for it.
func (r *MatchRepo) Create(ctx context.Context, m *model.Match) error {
	if m.Status == "" {
		m.Status = model.MatchStatusOpen
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO matches (title, mode, capacity, entry_fee, status, starts_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.Title, string(m.Mode), m.Capacity, m.EntryFee, m.Status, m.StartsAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = uint64(id)
	return nil
}

func scanMatch(row *sql.Row) (*model.Match, error) {
	var m model.Match
	var mode string
	err := row.Scan(&m.ID, &m.Title, &mode, &m.Capacity, &m.EntryFee, &m.Status, &m.StartsAt, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Mode = grid.Mode(mode)
	return &m, nil
}
