package store

import (
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// IsUniqueViolation reports whether err comes from a unique or primary key
// constraint on either backend.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// Placeholder returns the n-th positional parameter ("$1", "$2", ...).
// Both pgx and go-sqlite3 accept this form; with go-sqlite3 the numbers must
// first appear in increasing order within a statement.
func Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
