package sqlite

import (
	"github.com/egtann/monarch"
	"github.com/pkg/errors"

	// Both drivers register themselves; Config.Driver picks one.
	sqlite3 "github.com/mattn/go-sqlite3"
	modernc "modernc.org/sqlite"
	modernclib "modernc.org/sqlite/lib"
)

// translate marks driver errors caused by lock contention so callers can
// tell them apart with errors.Is(err, monarch.ErrLocked).
func translate(err error) error {
	if isLocked(err) {
		return monarch.MarkLocked(err)
	}
	return err
}

// isLocked reports whether err is SQLITE_BUSY or SQLITE_LOCKED from either
// driver, including extended codes.
func isLocked(err error) bool {
	if err == nil {
		return false
	}
	var mattnErr sqlite3.Error
	if errors.As(err, &mattnErr) {
		return mattnErr.Code == sqlite3.ErrBusy || mattnErr.Code == sqlite3.ErrLocked
	}
	var moderncErr *modernc.Error
	if errors.As(err, &moderncErr) {
		switch moderncErr.Code() & 0xff {
		case modernclib.SQLITE_BUSY, modernclib.SQLITE_LOCKED:
			return true
		}
	}
	return false
}
