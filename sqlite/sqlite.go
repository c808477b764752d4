// Package sqlite stores schema versions in a SQLite database and opens
// configured connections for the migration engine.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/egtann/monarch"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// VersionTable records one schema version per application name. Its own
// layout is fixed and never migrated.
const VersionTable = "monarch_db_schema_version"

type DB struct {
	conf Config

	// Embed the sqlx DB struct
	*sqlx.DB
}

var _ monarch.Store = (*DB)(nil)

// Open connects to the database described by conf and verifies it can be
// read. Failures are *monarch.ConfigurationError and leave nothing behind
// but, for a writable file target, an empty database file.
func Open(ctx context.Context, conf Config) (*DB, error) {
	if err := conf.Validate(); err != nil {
		return nil, &monarch.ConfigurationError{Path: conf.displayPath(), Err: err}
	}
	sdb, err := sqlx.Open(string(conf.driver()), conf.dsn())
	if err != nil {
		return nil, &monarch.ConfigurationError{
			Path: conf.displayPath(),
			Err:  errors.Wrap(err, "open db connection"),
		}
	}
	if conf.InMemory() {
		// The database disappears with its last connection.
		sdb.SetMaxOpenConns(1)
		sdb.SetMaxIdleConns(1)
		sdb.SetConnMaxLifetime(0)
	}

	// sql.Open is lazy and SQLite defers opening the file until the first
	// read, so force both here.
	var n int
	err = sdb.GetContext(ctx, &n, `SELECT count(*) FROM sqlite_master`)
	if err != nil {
		_ = sdb.Close()
		return nil, &monarch.ConfigurationError{
			Path: conf.displayPath(),
			Err:  errors.Wrap(translate(err), "read schema"),
		}
	}
	return &DB{conf: conf, DB: sdb}, nil
}

// Config returns the configuration the database was opened with.
func (db *DB) Config() Config { return db.conf }

// Version returns the persisted version of app without writing anything,
// zero on a database that has never been migrated.
func (db *DB) Version(ctx context.Context, app string) (uint, error) {
	return selectVersion(ctx, db.DB, app)
}

// Begin starts an immediate transaction, taking SQLite's write lock up front.
func (db *DB) Begin(ctx context.Context) (monarch.Tx, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(translate(err), "begin tx")
	}
	return &Tx{tx: tx}, nil
}

// Tx is a monarch.Tx on a SQLite transaction.
type Tx struct {
	tx *sqlx.Tx
}

func (t *Tx) Version(ctx context.Context, app string) (uint, error) {
	return selectVersion(ctx, t.tx, app)
}

// Exec runs a migration body verbatim. It may hold several statements.
func (t *Tx) Exec(ctx context.Context, body string) error {
	if _, err := t.tx.ExecContext(ctx, body); err != nil {
		return translate(err)
	}
	return nil
}

// SetVersion creates the version table if needed and upserts app's row.
func (t *Tx) SetVersion(ctx context.Context, app string, version uint) error {
	if _, err := t.tx.ExecContext(ctx, createVersionTable); err != nil {
		return errors.Wrap(translate(err), "create version table")
	}
	q := `
		INSERT INTO ` + VersionTable + ` (monarch_schema, version) VALUES (?, ?)
		ON CONFLICT(monarch_schema) DO UPDATE SET version=excluded.version`
	if _, err := t.tx.ExecContext(ctx, q, app, int64(version)); err != nil {
		return errors.Wrap(translate(err), "upsert version")
	}
	return nil
}

func (t *Tx) Commit() error {
	return translate(t.tx.Commit())
}

func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return translate(err)
}

const createVersionTable = `CREATE TABLE IF NOT EXISTS ` + VersionTable + ` (
	monarch_schema TEXT PRIMARY KEY NOT NULL,
	version INTEGER NOT NULL CHECK (version >= 0)
)`

func selectVersion(ctx context.Context, q sqlx.QueryerContext, app string) (uint, error) {
	var tables int
	err := sqlx.GetContext(ctx, q, &tables,
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`,
		VersionTable)
	if err != nil {
		return 0, errors.Wrap(translate(err), "find version table")
	}
	if tables == 0 {
		return 0, nil
	}

	var version int64
	err = sqlx.GetContext(ctx, q, &version,
		`SELECT version FROM `+VersionTable+` WHERE monarch_schema=?`, app)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, errors.Wrap(translate(err), "get version")
	case version < 0:
		return 0, errors.Errorf("negative version %d recorded for %s", version, app)
	}
	return uint(version), nil
}
