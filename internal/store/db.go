package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// DB wraps sql.DB for either Postgres (pgx) or SQLite.
type DB struct {
	Client *sql.DB
	Driver string
}

// NewDB opens a connection, verifies it and applies the schema.
func NewDB(driver, connString string) (*DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	if driver == DriverSQLite {
		connString = sqliteDSN(connString)
	}
	db, err := sql.Open(driver, connString)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == DriverSQLite {
		// one writer; also keeps ":memory:" databases alive on a single connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := Migrate(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{Client: db, Driver: driver}, nil
}

// sqliteDSN turns foreign keys on for every connection go-sqlite3 opens,
// unless the DSN already sets them. Cascades and the attendance FK depend on it.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=1"
	}
	return dsn + "?_foreign_keys=1"
}

// Healthy reports whether the database answers a ping.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS students (
	matricule    TEXT PRIMARY KEY,
	payload      TEXT NOT NULL,
	last_fetched BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS attendance (
	id                {{ID}},
	student_matricule TEXT NOT NULL REFERENCES students(matricule) ON DELETE CASCADE,
	attendance_date   TEXT NOT NULL,
	attendance_time   TEXT NOT NULL,
	detected_at       BIGINT NOT NULL,
	promotion         TEXT,
	faculte           TEXT,
	is_present        BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_attendance_student_date ON attendance(student_matricule, attendance_date);
CREATE INDEX IF NOT EXISTS idx_attendance_student   ON attendance(student_matricule);
CREATE INDEX IF NOT EXISTS idx_attendance_date      ON attendance(attendance_date);
CREATE INDEX IF NOT EXISTS idx_attendance_promotion ON attendance(promotion);
CREATE INDEX IF NOT EXISTS idx_attendance_faculte   ON attendance(faculte);

CREATE TABLE IF NOT EXISTS devices (
	device_id  TEXT PRIMARY KEY,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token      TEXT PRIMARY KEY,
	device_id  TEXT NOT NULL REFERENCES devices(device_id) ON DELETE CASCADE,
	expires_at BIGINT NOT NULL,
	revoked    BOOLEAN NOT NULL DEFAULT FALSE
);
`

// Migrate creates the tables and indexes if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	id := "BIGSERIAL PRIMARY KEY"
	if driver == DriverSQLite {
		id = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	_, err := db.ExecContext(ctx, strings.ReplaceAll(schema, "{{ID}}", id))
	return err
}
