package monarch

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testApp = "test_app"

func TestApplyFromScratch(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	set := mustSet(t, "CREATE TABLE users", "CREATE TABLE posts", "CREATE INDEX posts_user")

	v, err := NewEngine().Apply(context.Background(), store, set, testApp)
	require.NoError(t, err)
	assert.Equal(t, uint(3), v)
	assert.Equal(t, uint(3), store.versions[testApp])
	assert.Equal(t, []string{"CREATE TABLE users", "CREATE TABLE posts", "CREATE INDEX posts_user"},
		store.executed)
	assert.Equal(t, 3, store.commits)
}

func TestApplyIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	set := mustSet(t, "A", "B")
	engine := NewEngine()

	v1, err := engine.Apply(ctx, store, set, testApp)
	require.NoError(t, err)
	begins := store.begins

	v2, err := engine.Apply(ctx, store, set, testApp)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, begins, store.begins, "second apply must not open a transaction")
	assert.Len(t, store.executed, 2)
}

func TestApplyMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	engine := NewEngine()

	var last uint
	bodies := []string{}
	for _, b := range []string{"A", "B", "C", "D"} {
		bodies = append(bodies, b)
		v, err := engine.Apply(ctx, store, mustSet(t, bodies...), testApp)
		require.NoError(t, err)
		require.GreaterOrEqual(t, v, last)
		last = v
	}
	assert.Equal(t, uint(4), last)
	assert.Equal(t, []string{"A", "B", "C", "D"}, store.executed)
}

func TestApplyResumesAfterFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	store.fail["BROKEN"] = errors.New(`near "BROKEN": syntax error`)
	engine := NewEngine()

	v, err := engine.Apply(ctx, store, mustSet(t, "A", "BROKEN", "C"), testApp)
	require.Error(t, err)
	assert.Equal(t, uint(1), v)
	assert.Equal(t, uint(1), store.versions[testApp])
	assert.True(t, errors.Is(err, ErrMigrationFailed))

	var engineErr *EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, uint(2), engineErr.Sequence)
	assert.Equal(t, uint(1), engineErr.Current)
	assert.False(t, engineErr.Retryable())
	assert.Contains(t, err.Error(), "syntax error")
	assert.Equal(t, 1, store.rollbacks)

	// Fixed set with a new migration appended.
	v, err = engine.Apply(ctx, store, mustSet(t, "A", "B", "C", "D"), testApp)
	require.NoError(t, err)
	assert.Equal(t, uint(4), v)
	assert.Equal(t, []string{"A", "B", "C", "D"}, store.executed)
}

func TestApplyVersionAhead(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.versions[testApp] = 5

	v, err := NewEngine().Apply(context.Background(), store, mustSet(t, "A", "B"), testApp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersionAhead))
	assert.Equal(t, uint(5), v)
	assert.Zero(t, store.begins)

	var engineErr *EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, uint(5), engineErr.Current)
	assert.Equal(t, uint(2), engineErr.Available)
}

func TestApplyLocked(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.beginErr = MarkLocked(errors.New("database is locked"))

	_, err := NewEngine().Apply(context.Background(), store, mustSet(t, "A"), testApp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
	assert.False(t, errors.Is(err, ErrMigrationFailed))

	var engineErr *EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.True(t, engineErr.Retryable())
	assert.Equal(t, uint(1), engineErr.Sequence)
}

func TestApplyLockedDuringExec(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.fail["B"] = MarkLocked(errors.New("database table is locked"))

	v, err := NewEngine().Apply(context.Background(), store, mustSet(t, "A", "B"), testApp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
	assert.Equal(t, uint(1), v)
}

func TestApplyOtherWriterAdvanced(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	// Another process applies migrations 1 and 2 between our read of the
	// version and our first transaction.
	store.onBegin = func(s *memStore) {
		if s.begins == 1 {
			s.versions[testApp] = 2
		}
	}

	v, err := NewEngine().Apply(context.Background(), store, mustSet(t, "A", "B", "C"), testApp)
	require.NoError(t, err)
	assert.Equal(t, uint(3), v)
	assert.Equal(t, []string{"C"}, store.executed)
}

func TestApplyEmptyBodySkipsExec(t *testing.T) {
	t.Parallel()
	store := newMemStore()

	v, err := NewEngine().Apply(context.Background(), store, mustSet(t, "  \n", "A"), testApp)
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.Equal(t, []string{"A"}, store.executed)
}

func TestApplyEmptySet(t *testing.T) {
	t.Parallel()
	store := newMemStore()

	v, err := NewEngine().Apply(context.Background(), store, mustSet(t), testApp)
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.Zero(t, store.begins)
}

func TestApplyVersionReadError(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.versionErr = errors.New("disk I/O error")

	_, err := NewEngine().Apply(context.Background(), store, mustSet(t, "A"), testApp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read schema version")
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	set := mustSet(t, "A", "B", "C", "D", "E")

	st, err := NewEngine().Status(ctx, store, set, testApp)
	require.NoError(t, err)
	assert.Equal(t, Status{App: testApp, Available: 5}, st)
	assert.Equal(t, uint(5), st.Pending())
	assert.False(t, st.UpToDate())
	assert.Zero(t, store.begins)

	store.versions[testApp] = 7
	st, err = NewEngine().Status(ctx, store, set, testApp)
	require.NoError(t, err)
	assert.True(t, st.Ahead())
	assert.Zero(t, st.Pending())
}

func TestApplyMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	store := newMemStore()
	store.fail["BAD"] = errors.New("syntax error")
	engine := NewEngine(WithMetrics(m), WithLogger(NopLogger{}))

	_, err = engine.Apply(ctx, store, mustSet(t, "A", "B", "BAD"), testApp)
	require.Error(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.applied.WithLabelValues(testApp)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.version.WithLabelValues(testApp)))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.failures.WithLabelValues(testApp, "migration_failed")))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering twice must fail")
}

func mustSet(t *testing.T, bodies ...string) Set {
	t.Helper()
	set, err := Static(bodies).Migrations()
	require.NoError(t, err)
	return set
}

// memStore is a Store whose transactions buffer their effects until Commit.
type memStore struct {
	versions map[string]uint
	executed []string

	// fail maps a migration body to the error executing it returns.
	fail map[string]error

	beginErr   error
	versionErr error
	onBegin    func(*memStore)

	begins    int
	commits   int
	rollbacks int
}

func newMemStore() *memStore {
	return &memStore{
		versions: map[string]uint{},
		fail:     map[string]error{},
	}
}

func (s *memStore) Version(_ context.Context, app string) (uint, error) {
	if s.versionErr != nil {
		return 0, s.versionErr
	}
	return s.versions[app], nil
}

func (s *memStore) Begin(context.Context) (Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	s.begins++
	if s.onBegin != nil {
		s.onBegin(s)
	}
	return &memTx{store: s, versions: map[string]uint{}}, nil
}

type memTx struct {
	store    *memStore
	executed []string
	versions map[string]uint
	done     bool
}

func (tx *memTx) Version(ctx context.Context, app string) (uint, error) {
	if v, ok := tx.versions[app]; ok {
		return v, nil
	}
	return tx.store.Version(ctx, app)
}

func (tx *memTx) Exec(_ context.Context, body string) error {
	if err := tx.store.fail[body]; err != nil {
		return err
	}
	tx.executed = append(tx.executed, body)
	return nil
}

func (tx *memTx) SetVersion(_ context.Context, app string, version uint) error {
	tx.versions[app] = version
	return nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return errors.New("tx done")
	}
	tx.done = true
	tx.store.commits++
	tx.store.executed = append(tx.store.executed, tx.executed...)
	for app, v := range tx.versions {
		tx.store.versions[app] = v
	}
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.store.rollbacks++
	return nil
}
