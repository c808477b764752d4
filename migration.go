package monarch

import (
	"strings"

	"github.com/pkg/errors"
)

// Migration is one ordered unit of schema change.
type Migration struct {
	// Sequence is 1-based and equal to the migration's position in its Set.
	Sequence uint

	// Name describes the migration. Directory sources use the filename.
	Name string

	Body string
}

// Empty reports whether the body holds nothing but whitespace. Empty
// migrations advance the version without executing anything.
func (m Migration) Empty() bool {
	return strings.TrimSpace(m.Body) == ""
}

// Set is the ordered, gapless sequence of migrations known to the
// application. It is never mutated after construction.
type Set struct {
	migrations []Migration
}

// NewSet validates that the migrations are numbered 1..n in order.
func NewSet(migrations ...Migration) (Set, error) {
	ms := make([]Migration, len(migrations))
	for i, m := range migrations {
		want := uint(i + 1)
		if m.Sequence != want {
			return Set{}, errors.Errorf("migration %q has sequence %d, want %d",
				m.Name, m.Sequence, want)
		}
		ms[i] = m
	}
	return Set{migrations: ms}, nil
}

// Len is the number of available versions.
func (s Set) Len() uint {
	return uint(len(s.migrations))
}

// Get returns the migration with the given sequence number.
func (s Set) Get(sequence uint) (Migration, bool) {
	if sequence == 0 || sequence > s.Len() {
		return Migration{}, false
	}
	return s.migrations[sequence-1], true
}

// Pending returns the migrations beyond version current, in order.
func (s Set) Pending(current uint) []Migration {
	if current >= s.Len() {
		return nil
	}
	out := make([]Migration, s.Len()-current)
	copy(out, s.migrations[current:])
	return out
}

// Migrations returns a copy of every migration in the set.
func (s Set) Migrations() []Migration {
	return s.Pending(0)
}
