package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrRunNotFound is returned when a run id has no row.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned when creating a run whose id is taken.
	ErrRunExists = errors.New("run already exists")

	// ErrRunClosed is returned when appending to, or closing, a run whose end
	// time is already recorded.
	ErrRunClosed = errors.New("run is closed")

	// ErrRunOpen is returned when a read path targets a run that is still
	// accepting appends.
	ErrRunOpen = errors.New("run is still open")

	// ErrInvalidEnd is returned when a run's end precedes its start or one
	// of its events.
	ErrInvalidEnd = errors.New("run end precedes its start or events")

	// ErrRunMismatch is returned when a batch carries an event for another run.
	ErrRunMismatch = errors.New("event belongs to another run")

	// ErrDuplicateEvent is returned when an event id is already stored.
	ErrDuplicateEvent = errors.New("duplicate event id")

	// ErrEventNotFound is returned when an event id has no row in the run.
	ErrEventNotFound = errors.New("event not found")
)

// IsIntegrity reports whether err is a data integrity failure that no retry
// can fix.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrDuplicateEvent) ||
		errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrRunClosed) ||
		errors.Is(err, ErrRunMismatch)
}

// classify maps SQLite constraint failures onto store sentinels. Other
// errors are returned unchanged.
func classify(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return ErrDuplicateEvent
	case sqlite3.ErrConstraintForeignKey:
		return ErrRunNotFound
	}
	return err
}
