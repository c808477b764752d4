package monarch

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Engine applies pending migrations to a Store, one transaction per
// migration. It holds no state between calls and is safe to reuse.
type Engine struct {
	log     Logger
	metrics *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sends progress messages to l.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics records applied migrations, failures and the resulting
// version in m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{log: NopLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Status describes how far a database is behind its migration set.
type Status struct {
	App       string
	Available uint
	Current   uint
}

// Pending is the number of migrations not yet applied.
func (s Status) Pending() uint {
	if s.Current >= s.Available {
		return 0
	}
	return s.Available - s.Current
}

// Ahead reports whether the database records more migrations than are
// known, as when an older binary runs against a newer schema.
func (s Status) Ahead() bool { return s.Current > s.Available }

func (s Status) UpToDate() bool { return s.Current == s.Available }

// Status reads the current version and compares it with set without
// executing or writing anything.
func (e *Engine) Status(ctx context.Context, store Store, set Set, app string) (Status, error) {
	current, err := store.Version(ctx, app)
	if err != nil {
		return Status{}, storeError(err, 0, 0, set.Len(), "read schema version")
	}
	return Status{App: app, Available: set.Len(), Current: current}, nil
}

// Apply brings app's schema up to set.Len() and returns the resulting
// version.
//
// Each pending migration runs in its own transaction together with the
// version update that records it. When a migration fails, its transaction
// is rolled back, earlier migrations stay committed and an *EngineError with
// Kind ErrMigrationFailed is returned along with the version reached.
// Calling Apply again with the same set resumes at the failed migration;
// calling it on an up to date database executes nothing.
func (e *Engine) Apply(ctx context.Context, store Store, set Set, app string) (uint, error) {
	available := set.Len()
	current, err := store.Version(ctx, app)
	if err != nil {
		return 0, e.fail(app, storeError(err, 0, 0, available, "read schema version"))
	}
	if current > available {
		return current, e.fail(app, &EngineError{
			Kind:      ErrVersionAhead,
			Current:   current,
			Available: available,
		})
	}
	if current == available {
		e.log.Printf("%s: schema up to date at version %d", app, current)
		e.metrics.observeVersion(app, current)
		return current, nil
	}

	e.log.Printf("%s: migrating from version %d to %d", app, current, available)
	for current < available {
		next, err := e.applyNext(ctx, store, set, app, current)
		if err != nil {
			e.metrics.observeVersion(app, current)
			return current, e.fail(app, err)
		}
		current = next
	}
	e.metrics.observeVersion(app, current)
	e.log.Printf("%s: migrations complete at version %d", app, current)
	return current, nil
}

// applyNext applies migration current+1 and returns the version the
// database is at afterwards. If another writer advanced the version since
// it was read, nothing is executed and the observed version is returned.
func (e *Engine) applyNext(
	ctx context.Context,
	store Store,
	set Set,
	app string,
	current uint,
) (uint, error) {
	available := set.Len()
	m, _ := set.Get(current + 1)

	tx, err := store.Begin(ctx)
	if err != nil {
		return current, storeError(err, m.Sequence, current, available, "begin transaction")
	}
	var committed bool
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	seen, err := tx.Version(ctx, app)
	if err != nil {
		return current, storeError(err, m.Sequence, current, available, "read schema version")
	}
	if seen != current {
		e.log.Printf("%s: version changed from %d to %d by another writer",
			app, current, seen)
		if seen > available {
			return current, &EngineError{
				Kind:      ErrVersionAhead,
				Current:   seen,
				Available: available,
			}
		}
		return seen, nil
	}

	start := time.Now()
	if !m.Empty() {
		if err = tx.Exec(ctx, m.Body); err != nil {
			return current, migrationError(err, m.Sequence, current, available)
		}
	}
	if err = tx.SetVersion(ctx, app, m.Sequence); err != nil {
		return current, storeError(err, m.Sequence, current, available, "set schema version")
	}
	if err = tx.Commit(); err != nil {
		return current, migrationError(err, m.Sequence, current, available)
	}
	committed = true

	took := time.Since(start)
	e.metrics.observeApplied(app, took)
	e.log.Printf("%s: applied migration %d (%s) in %s", app, m.Sequence, m.Name, took)
	return m.Sequence, nil
}

func (e *Engine) fail(app string, err error) error {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		e.metrics.observeFailure(app, engineErr)
	}
	return err
}

func migrationError(err error, seq, current, available uint) error {
	kind := ErrMigrationFailed
	if errors.Is(err, ErrLocked) {
		kind = ErrLocked
	}
	return &EngineError{
		Kind:      kind,
		Sequence:  seq,
		Current:   current,
		Available: available,
		Err:       err,
	}
}

func storeError(err error, seq, current, available uint, op string) error {
	if errors.Is(err, ErrLocked) {
		return &EngineError{
			Kind:      ErrLocked,
			Sequence:  seq,
			Current:   current,
			Available: available,
			Err:       errors.Wrap(err, op),
		}
	}
	if seq > 0 {
		return errors.Wrapf(err, "%s for migration %d", op, seq)
	}
	return errors.Wrap(err, op)
}
