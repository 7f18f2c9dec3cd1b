package attendance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"beaconattend/internal/logging"
	"beaconattend/internal/store"
)

// Date and time layouts of the attendance_date and attendance_time columns.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Record is one attendance row.
type Record struct {
	ID               int64     `json:"id"`
	StudentMatricule string    `json:"student_matricule"`
	Date             string    `json:"attendance_date"`
	Time             string    `json:"attendance_time"`
	DetectedAt       time.Time `json:"detected_at"`
	Promotion        *string   `json:"promotion,omitempty"`
	Faculte          *string   `json:"faculte,omitempty"`
	IsPresent        bool      `json:"is_present"`
}

// Entry is a record joined with the cached student payload.
type Entry struct {
	Record
	StudentPayload string `json:"-"`
}

// Filter narrows a day's records. Nil dimensions match every value.
type Filter struct {
	Date      string
	Promotion *string
	Faculte   *string
}

// Ledger persists attendance. Writes fail loudly; reads log their error and
// return an empty result.
type Ledger struct {
	db  *sql.DB
	loc *time.Location
	log *slog.Logger
}

// NewLedger creates a ledger. Calendar days are computed in loc (local time when nil).
func NewLedger(db *sql.DB, loc *time.Location, logger *slog.Logger) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{db: db, loc: loc, log: logging.OrDefault(logger)}
}

// Today formats the calendar day of now in the ledger's zone.
func (l *Ledger) Today(now time.Time) string {
	return now.In(l.loc).Format(DateLayout)
}

// Record inserts the attendance of matricule for the day of now. It returns
// ErrAlreadyPresent when the student already has a row that day; both the
// in-transaction count and the unique index lead there.
func (l *Ledger) Record(ctx context.Context, matricule string, promotion, faculte *string, now time.Time) (Record, error) {
	local := now.In(l.loc)
	rec := Record{
		StudentMatricule: matricule,
		Date:             local.Format(DateLayout),
		Time:             local.Format(TimeLayout),
		DetectedAt:       now,
		Promotion:        promotion,
		Faculte:          faculte,
		IsPresent:        true,
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("%w: begin: %w", ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance
		WHERE student_matricule = $1 AND attendance_date = $2
	`, matricule, rec.Date).Scan(&count); err != nil {
		return Record{}, fmt.Errorf("%w: count attendance: %w", ErrStorage, err)
	}
	if count > 0 {
		l.log.Info("student already present", "matricule", matricule, "date", rec.Date)
		return Record{}, ErrAlreadyPresent
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO attendance (student_matricule, attendance_date, attendance_time, detected_at, promotion, faculte, is_present)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, rec.StudentMatricule, rec.Date, rec.Time, now.UnixMilli(), rec.Promotion, rec.Faculte, rec.IsPresent).Scan(&rec.ID)
	if err != nil {
		if store.IsUniqueViolation(err) {
			l.log.Info("student already present (concurrent insert)", "matricule", matricule, "date", rec.Date)
			return Record{}, ErrAlreadyPresent
		}
		return Record{}, fmt.Errorf("%w: insert attendance: %w", ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		if store.IsUniqueViolation(err) {
			return Record{}, ErrAlreadyPresent
		}
		return Record{}, fmt.Errorf("%w: commit: %w", ErrStorage, err)
	}
	l.log.Info("attendance recorded", "matricule", matricule, "date", rec.Date, "time", rec.Time)
	return rec, nil
}

// IsPresent reports whether matricule has a row on date. Errors count as absent.
func (l *Ledger) IsPresent(ctx context.Context, date, matricule string) bool {
	var count int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance
		WHERE attendance_date = $1 AND student_matricule = $2
	`, date, matricule).Scan(&count)
	if err != nil {
		l.log.Error("presence check failed", "date", date, "matricule", matricule, "err", err)
		return false
	}
	return count > 0
}

// ByDate lists a day's records, latest first.
func (l *Ledger) ByDate(ctx context.Context, date string) []Entry {
	return l.Filtered(ctx, Filter{Date: date})
}

// Filtered lists a day's records matching the optional dimensions, latest first.
func (l *Ledger) Filtered(ctx context.Context, f Filter) []Entry {
	query := `
		SELECT a.id, a.student_matricule, a.attendance_date, a.attendance_time, a.detected_at,
		       a.promotion, a.faculte, a.is_present, s.payload
		FROM attendance a
		INNER JOIN students s ON s.matricule = a.student_matricule`
	args := []any{f.Date}
	clauses := []string{"a.attendance_date = " + store.Placeholder(1)}
	if f.Promotion != nil {
		args = append(args, *f.Promotion)
		clauses = append(clauses, "a.promotion = "+store.Placeholder(len(args)))
	}
	if f.Faculte != nil {
		args = append(args, *f.Faculte)
		clauses = append(clauses, "a.faculte = "+store.Placeholder(len(args)))
	}
	query += " WHERE " + strings.Join(clauses, " AND ")
	query += " ORDER BY a.attendance_time DESC, a.id DESC"

	entries, err := l.scanEntries(ctx, query, args...)
	if err != nil {
		l.log.Error("attendance query failed", "date", f.Date, "err", err)
		return []Entry{}
	}
	return entries
}

func (l *Ledger) scanEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			detected  int64
			promotion sql.NullString
			faculte   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.StudentMatricule, &e.Date, &e.Time, &detected,
			&promotion, &faculte, &e.IsPresent, &e.StudentPayload); err != nil {
			return nil, err
		}
		e.DetectedAt = time.UnixMilli(detected)
		e.Promotion = nullable(promotion)
		e.Faculte = nullable(faculte)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Promotions lists the distinct promotion labels, ascending.
func (l *Ledger) Promotions(ctx context.Context) []string {
	return l.distinct(ctx, "promotion")
}

// Facultes lists the distinct faculty labels, ascending.
func (l *Ledger) Facultes(ctx context.Context) []string {
	return l.distinct(ctx, "faculte")
}

// column is one of the two constants above, never user input
func (l *Ledger) distinct(ctx context.Context, column string) []string {
	rows, err := l.db.QueryContext(ctx,
		"SELECT DISTINCT "+column+" FROM attendance WHERE "+column+" IS NOT NULL ORDER BY "+column)
	if err != nil {
		l.log.Error("distinct query failed", "column", column, "err", err)
		return []string{}
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			l.log.Error("distinct scan failed", "column", column, "err", err)
			return []string{}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		l.log.Error("distinct rows failed", "column", column, "err", err)
		return []string{}
	}
	return out
}

// DeleteByDate removes every record of date and returns how many were removed.
func (l *Ledger) DeleteByDate(ctx context.Context, date string) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM attendance WHERE attendance_date = $1`, date)
	if err != nil {
		return 0, fmt.Errorf("%w: delete by date: %w", ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return n, nil
}

// ClearAll removes every attendance record.
func (l *Ledger) ClearAll(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM attendance`); err != nil {
		return fmt.Errorf("%w: clear attendance: %w", ErrStorage, err)
	}
	return nil
}

func nullable(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
