package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBRejectsUnknownDriver(t *testing.T) {
	_, err := NewDB("mysql", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported db driver")
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := NewDB(DriverSQLite, "file::memory:?_foreign_keys=1")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(context.Background(), db.Client, DriverSQLite))
	assert.True(t, db.Healthy(context.Background()))
}

func TestIsUniqueViolation(t *testing.T) {
	db, err := NewDB(DriverSQLite, "file::memory:?_foreign_keys=1")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	_, err = db.Client.ExecContext(ctx, `INSERT INTO devices (device_id, created_at) VALUES ($1, $2)`, "scanner-1", 1)
	require.NoError(t, err)
	_, err = db.Client.ExecContext(ctx, `INSERT INTO devices (device_id, created_at) VALUES ($1, $2)`, "scanner-1", 2)
	require.Error(t, err)

	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(context.Canceled))
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "$1", Placeholder(1))
	assert.Equal(t, "$12", Placeholder(12))
}

func TestSQLiteDSNEnablesForeignKeys(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "file::memory:", want: "file::memory:?_foreign_keys=1"},
		{in: "beacon.db?_busy_timeout=5000", want: "beacon.db?_busy_timeout=5000&_foreign_keys=1"},
		{in: "beacon.db?_foreign_keys=0", want: "beacon.db?_foreign_keys=0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sqliteDSN(tt.in))
	}
}

func TestSQLiteForeignKeysWithoutDSNFlag(t *testing.T) {
	db, err := NewDB(DriverSQLite, "file::memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	_, err = db.Client.ExecContext(ctx, `
		INSERT INTO attendance (student_matricule, attendance_date, attendance_time, detected_at)
		VALUES ($1, $2, $3, $4)`, "GHOST", "2025-03-03", "08:00:00", 1)
	require.Error(t, err, "attendance must reference a cached student")

	_, err = db.Client.ExecContext(ctx, `INSERT INTO students (matricule, payload, last_fetched) VALUES ($1, $2, $3)`, "UCB001", "{}", 1)
	require.NoError(t, err)
	_, err = db.Client.ExecContext(ctx, `
		INSERT INTO attendance (student_matricule, attendance_date, attendance_time, detected_at)
		VALUES ($1, $2, $3, $4)`, "UCB001", "2025-03-03", "08:00:00", 1)
	require.NoError(t, err)

	_, err = db.Client.ExecContext(ctx, `DELETE FROM students WHERE matricule = $1`, "UCB001")
	require.NoError(t, err)

	var n int
	require.NoError(t, db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance`).Scan(&n))
	assert.Zero(t, n, "history is deleted with the student")
}
