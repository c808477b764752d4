package sqlite

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Memory is the database target selecting a private in-memory instance.
const Memory = ":memory:"

// Driver is a database/sql driver name.
type Driver string

const (
	// Mattn is github.com/mattn/go-sqlite3, which requires cgo.
	Mattn Driver = "sqlite3"

	// Modernc is modernc.org/sqlite, a pure Go translation of SQLite.
	Modernc Driver = "sqlite"
)

// DefaultBusyTimeout is how long a connection waits on another writer's lock
// before giving up with ErrLocked.
const DefaultBusyTimeout = 5 * time.Second

// Config identifies a target database and the per-connection options applied
// before any migration runs.
type Config struct {
	// Path of the database file, created if missing. Empty or Memory opens
	// a private in-memory database that lives as long as the DB.
	Path string `yaml:"path"`

	// Driver defaults to Mattn.
	Driver Driver `yaml:"driver"`

	// ForeignKeys enables foreign key enforcement. SQLite only honours it
	// outside a transaction, so it is set as each connection opens.
	ForeignKeys bool `yaml:"foreign_keys"`

	// BusyTimeout defaults to DefaultBusyTimeout. Negative disables waiting.
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// JournalMode is one of DELETE, TRUNCATE, PERSIST, MEMORY, WAL or OFF.
	// Empty keeps SQLite's default. Ignored for in-memory databases.
	JournalMode string `yaml:"journal_mode"`

	// ReadOnly opens an existing file without write access.
	ReadOnly bool `yaml:"read_only"`
}

// InMemory reports whether the config selects an in-memory database.
func (c Config) InMemory() bool {
	return c.Path == "" || c.Path == Memory
}

func (c Config) driver() Driver {
	if c.Driver == "" {
		return Mattn
	}
	return c.Driver
}

func (c Config) busyTimeout() time.Duration {
	switch {
	case c.BusyTimeout < 0:
		return 0
	case c.BusyTimeout == 0:
		return DefaultBusyTimeout
	}
	return c.BusyTimeout
}

var journalModes = map[string]bool{
	"DELETE":   true,
	"TRUNCATE": true,
	"PERSIST":  true,
	"MEMORY":   true,
	"WAL":      true,
	"OFF":      true,
}

// Validate checks the options without touching the filesystem.
func (c Config) Validate() error {
	switch c.driver() {
	case Mattn, Modernc:
	default:
		return errors.Errorf("unknown driver %q", c.Driver)
	}
	if c.JournalMode != "" && !journalModes[strings.ToUpper(c.JournalMode)] {
		return errors.Errorf("invalid journal mode %q", c.JournalMode)
	}
	if c.ReadOnly && c.InMemory() {
		return errors.New("an in-memory database cannot be read-only")
	}
	return nil
}

// dsn builds a URI filename carrying the pragmas in the form the selected
// driver understands, so every connection in the pool is configured the same
// way. Transactions use BEGIN IMMEDIATE: the version check and the write
// that follows it must not race another writer.
func (c Config) dsn() string {
	q := url.Values{}
	var name string
	if c.InMemory() {
		// A unique name keeps parallel in-memory databases apart.
		name = "monarch-" + uuid.NewString()
		q.Set("mode", "memory")
		q.Set("cache", "shared")
	} else {
		name = (&url.URL{Path: c.Path}).EscapedPath()
		if c.ReadOnly {
			q.Set("mode", "ro")
		}
	}
	q.Set("_txlock", "immediate")

	timeout := c.busyTimeout().Milliseconds()
	journal := strings.ToUpper(c.JournalMode)
	if c.InMemory() {
		journal = ""
	}
	switch c.driver() {
	case Modernc:
		pragmas := []string{fmt.Sprintf("busy_timeout(%d)", timeout)}
		if c.ForeignKeys {
			pragmas = append(pragmas, "foreign_keys(1)")
		}
		if journal != "" {
			pragmas = append(pragmas, fmt.Sprintf("journal_mode(%s)", journal))
		}
		q["_pragma"] = pragmas
	default:
		q.Set("_busy_timeout", fmt.Sprint(timeout))
		if c.ForeignKeys {
			q.Set("_foreign_keys", "1")
		}
		if journal != "" {
			q.Set("_journal_mode", journal)
		}
	}
	return "file:" + name + "?" + q.Encode()
}

// displayPath is the path reported in errors.
func (c Config) displayPath() string {
	if c.InMemory() {
		return Memory
	}
	return c.Path
}
