package monarch

import (
	"context"
)

// Store reads and advances the schema version persisted inside the target
// database. Implementations must not cache the version across calls.
type Store interface {
	// Version returns the current schema version of app, zero when nothing
	// has been recorded yet. It never writes.
	Version(ctx context.Context, app string) (uint, error)

	// Begin opens a write transaction scoped to one migration.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single migration's transaction. The version table is created and
// advanced only through a Tx, so a migration's effects and its version
// record commit or roll back together.
type Tx interface {
	Version(ctx context.Context, app string) (uint, error)
	Exec(ctx context.Context, body string) error
	SetVersion(ctx context.Context, app string, version uint) error
	Commit() error
	Rollback() error
}
