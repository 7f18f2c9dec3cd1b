package attendance

import "errors"

var (
	// ErrIneligibleStudent is returned when the profile is not active.
	ErrIneligibleStudent = errors.New("student is not active")
	// ErrAlreadyPresent means the student already has a record for the day.
	// Callers treat it as a no-op rather than a failure.
	ErrAlreadyPresent = errors.New("student already present today")
	// ErrStorage wraps failures of the underlying database on write paths.
	ErrStorage = errors.New("attendance storage error")
	// ErrInvalidDate is returned for dates not in yyyy-MM-dd form.
	ErrInvalidDate = errors.New("invalid date, expected yyyy-MM-dd")
)
