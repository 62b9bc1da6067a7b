package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/slot-reservation/internal/model"
)

// UserRepo reads player accounts.  Accounts and top-ups are owned by other
// services; this repository only needs the handle and the wallet.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// ErrHandleExists is returned by Create when the handle is taken.
var ErrHandleExists = errors.New("handle already exists")

// Create inserts a user and returns its ID.  Used for seeding and tests.
func (r *UserRepo) Create(ctx context.Context, handle, role string, balance int64) (uint64, error) {
	handle = strings.TrimSpace(handle)
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (handle, role, wallet_balance) VALUES (?,?,?)",
		handle, role, balance)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrHandleExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByID fetches a user by id.  It returns ErrNotFound when no row exists.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,handle,role,wallet_balance,created_at FROM users WHERE id=? LIMIT 1",
		id).Scan(&u.ID, &u.Handle, &u.Role, &u.WalletBalance, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}
