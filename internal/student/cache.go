package student

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Entry is one cached profile, keyed by matricule.
type Entry struct {
	Matricule   string
	Payload     string
	LastFetched time.Time
}

// Cache maps a matricule to its last resolved profile. Entries never expire;
// Put replaces any existing entry for the same matricule.
type Cache interface {
	Get(ctx context.Context, matricule string) (*Entry, error)
	Put(ctx context.Context, e Entry) error
}

// SQLCache stores entries in the students table so that attendance rows can
// reference them.
type SQLCache struct {
	db *sql.DB
}

// NewSQLCache creates a cache on an already migrated database.
func NewSQLCache(db *sql.DB) *SQLCache {
	return &SQLCache{db: db}
}

// Get returns the entry for matricule, or nil when absent.
func (c *SQLCache) Get(ctx context.Context, matricule string) (*Entry, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT matricule, payload, last_fetched
		FROM students WHERE matricule = $1
	`, matricule)
	var (
		e      Entry
		millis int64
	)
	if err := row.Scan(&e.Matricule, &e.Payload, &millis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.LastFetched = time.UnixMilli(millis)
	return &e, nil
}

// Put upserts the entry in place. An update keeps the row, so the student's
// attendance history is not cascaded away.
func (c *SQLCache) Put(ctx context.Context, e Entry) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO students (matricule, payload, last_fetched)
		VALUES ($1, $2, $3)
		ON CONFLICT (matricule) DO UPDATE SET
			payload = EXCLUDED.payload,
			last_fetched = EXCLUDED.last_fetched
	`, e.Matricule, e.Payload, e.LastFetched.UnixMilli())
	return err
}

// LastFetched returns when matricule was last resolved from the network.
func (c *SQLCache) LastFetched(ctx context.Context, matricule string) (time.Time, bool, error) {
	e, err := c.Get(ctx, matricule)
	if err != nil || e == nil {
		return time.Time{}, false, err
	}
	return e.LastFetched, true, nil
}

// List returns every cached entry ordered by matricule.
func (c *SQLCache) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT matricule, payload, last_fetched
		FROM students
		ORDER BY matricule
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			millis int64
		)
		if err := rows.Scan(&e.Matricule, &e.Payload, &millis); err != nil {
			return nil, err
		}
		e.LastFetched = time.UnixMilli(millis)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes a cached student together with its attendance history.
func (c *SQLCache) Delete(ctx context.Context, matricule string) (bool, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM students WHERE matricule = $1`, matricule)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
