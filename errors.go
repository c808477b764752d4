package monarch

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Match them with errors.Is against any error returned by this
// module.
var (
	ErrDirectoryUnavailable = errors.New("migration directory unavailable")
	ErrDuplicateSequence    = errors.New("duplicate migration sequence")
	ErrGap                  = errors.New("gap in migration sequence")
	ErrUnreadable           = errors.New("migration file unreadable")

	ErrCannotOpen = errors.New("cannot open database")

	ErrMigrationFailed = errors.New("migration failed")
	ErrVersionAhead    = errors.New("database version ahead of known migrations")
	ErrLocked          = errors.New("database is locked")
)

// SourceError is returned while building a Set, before any connection is
// touched.
type SourceError struct {
	Kind     error
	Path     string
	Sequence uint
	Err      error
}

func (e *SourceError) Error() string {
	msg := e.Kind.Error()
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Sequence > 0 {
		msg = fmt.Sprintf("%s (sequence %d)", msg, e.Sequence)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == e.Kind }

// ConfigurationError is returned when a database cannot be opened or
// configured. Nothing has been written when it is returned.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s %q: %v", ErrCannotOpen, e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrCannotOpen }

// EngineError is returned mid-run. Migrations committed before the failing
// one stay committed.
type EngineError struct {
	Kind error

	// Sequence is the migration being applied, zero when the failure
	// happened outside of one.
	Sequence uint

	// Current and Available are the persisted version and the size of the
	// migration set at the time of failure.
	Current   uint
	Available uint

	Err error
}

func (e *EngineError) Error() string {
	switch e.Kind {
	case ErrVersionAhead:
		return fmt.Sprintf("%s: database at version %d, %d migrations known",
			e.Kind, e.Current, e.Available)
	case ErrMigrationFailed:
		return fmt.Sprintf("migration %d failed: %v", e.Sequence, e.Err)
	}
	if e.Sequence > 0 {
		return fmt.Sprintf("%s (migration %d): %v", e.Kind, e.Sequence, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) Is(target error) bool { return target == e.Kind }

// Retryable reports whether retrying the same call may succeed without any
// change to the migrations or the database.
func (e *EngineError) Retryable() bool { return e.Kind == ErrLocked }

// MarkLocked wraps a store error caused by lock contention so the engine
// reports it as ErrLocked. Store implementations call it; a nil err stays nil.
func MarkLocked(err error) error {
	if err == nil {
		return nil
	}
	return &lockedError{err: err}
}

type lockedError struct {
	err error
}

func (e *lockedError) Error() string { return e.err.Error() }

func (e *lockedError) Unwrap() error { return e.err }

func (e *lockedError) Is(target error) bool { return target == ErrLocked }
