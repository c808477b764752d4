package sqlite

import (
	"context"

	"github.com/egtann/monarch"
)

// Connect loads src, opens the database described by conf and applies every
// pending migration for app, returning a ready connection. It is meant to be
// called once on startup, before anything else queries the database.
//
// Source errors are returned before the database is touched and
// configuration errors before any migration runs. If a migration fails the
// connection is closed; migrations committed before it stay committed.
func Connect(
	ctx context.Context,
	conf Config,
	app string,
	src monarch.Source,
	opts ...monarch.Option,
) (*DB, error) {
	set, err := src.Migrations()
	if err != nil {
		return nil, err
	}
	db, err := Open(ctx, conf)
	if err != nil {
		return nil, err
	}
	if _, err = monarch.NewEngine(opts...).Apply(ctx, db, set, app); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
