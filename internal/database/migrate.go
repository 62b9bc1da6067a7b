package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schema is written in MySQL syntax; Migrate rewrites the few differences
// for SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id             BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		handle         VARCHAR(64) NOT NULL UNIQUE,
		role           VARCHAR(16) NOT NULL DEFAULT 'PLAYER',
		wallet_balance BIGINT NOT NULL DEFAULT 0,
		created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS matches (
		id         BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		title      VARCHAR(128) NOT NULL,
		mode       VARCHAR(8) NOT NULL,
		capacity   INT NOT NULL,
		entry_fee  BIGINT NOT NULL DEFAULT 0,
		status     VARCHAR(16) NOT NULL DEFAULT 'OPEN',
		starts_at  DATETIME NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id           BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		user_id      BIGINT UNSIGNED NOT NULL,
		match_id     BIGINT UNSIGNED NOT NULL,
		total_amount BIGINT NOT NULL DEFAULT 0,
		created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (match_id) REFERENCES matches(id)
	)`,
	`CREATE TABLE IF NOT EXISTS booking_positions (
		booking_id   BIGINT UNSIGNED NOT NULL,
		match_id     BIGINT UNSIGNED NOT NULL,
		global_index INT NOT NULL,
		sub_team     VARCHAR(8) NOT NULL,
		player_name  VARCHAR(64) NOT NULL,
		PRIMARY KEY (match_id, global_index),
		FOREIGN KEY (booking_id) REFERENCES bookings(id) ON DELETE CASCADE
	)`,
}

// Migrate creates the tables this service reads and writes.  It is
// idempotent.  dialect is DriverMySQL or DriverSQLite.
func Migrate(ctx context.Context, db *sql.DB, dialect string) error {
	for i, stmt := range schema {
		if dialect == DriverSQLite {
			stmt = sqliteDialect(stmt)
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

func sqliteDialect(stmt string) string {
	r := strings.NewReplacer(
		"BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"BIGINT UNSIGNED", "INTEGER",
	)
	return r.Replace(stmt)
}
