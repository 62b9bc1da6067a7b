package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("postgres", "x")
	assert.Error(t, err)
}

func TestMigrate_SQLiteIsIdempotent(t *testing.T) {
	db, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db, DriverSQLite))
	require.NoError(t, Migrate(ctx, db, DriverSQLite))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('users','matches','bookings','booking_positions')`).Scan(&n))
	assert.Equal(t, 4, n)
}

func TestSQLiteDialect(t *testing.T) {
	got := sqliteDialect("id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT, user_id BIGINT UNSIGNED NOT NULL")
	assert.Equal(t, "id INTEGER PRIMARY KEY AUTOINCREMENT, user_id INTEGER NOT NULL", got)
}

func TestMySQLDSN(t *testing.T) {
	assert.Equal(t, "app:pw@tcp(db:3306)/slots?charset=utf8mb4&parseTime=true&loc=UTC", MySQLDSN("app", "pw", "db", "3306", "slots"))
	assert.Equal(t, "app@tcp(db:3306)/slots?charset=utf8mb4&parseTime=true&loc=UTC", MySQLDSN("app", "", "db", "3306", "slots"))
}
