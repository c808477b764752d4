package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kingpin"
	"github.com/egtann/monarch"
	"github.com/egtann/monarch/sqlite"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh/terminal"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	migrationDir string
	appName      string
	target       string

	driver      string
	foreignKeys bool
	busyTimeout time.Duration
	journalMode string
	logFormat   string
	verbose     bool
	sandbox     bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	// A .env file in the working directory may hold MONARCH_* defaults.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return errors.Wrap(err, "load .env")
	}

	var opts options
	app := kingpin.New("monarch", "Apply SQLite schema migrations.").
		UsageWriter(stderr).ErrorWriter(stderr).Terminate(nil)
	app.Flag("driver", "sqlite driver: sqlite3 (cgo) or sqlite (pure go)").
		Envar("MONARCH_DRIVER").Default(string(sqlite.Mattn)).
		EnumVar(&opts.driver, string(sqlite.Mattn), string(sqlite.Modernc))
	app.Flag("foreign-keys", "enforce foreign keys").
		Envar("MONARCH_FOREIGN_KEYS").Default("true").BoolVar(&opts.foreignKeys)
	app.Flag("busy-timeout", "how long to wait on another writer's lock").
		Envar("MONARCH_BUSY_TIMEOUT").Default(sqlite.DefaultBusyTimeout.String()).
		DurationVar(&opts.busyTimeout)
	app.Flag("journal-mode", "sqlite journal mode, e.g. WAL").
		Envar("MONARCH_JOURNAL_MODE").StringVar(&opts.journalMode)
	app.Flag("log-format", "log format: auto, text or json").
		Envar("MONARCH_LOG_FORMAT").Default("auto").
		EnumVar(&opts.logFormat, "auto", "text", "json")
	app.Flag("verbose", "log each migration").Short('v').BoolVar(&opts.verbose)
	app.Flag("sandbox", "pledge and unveil on OpenBSD").
		Envar("MONARCH_SANDBOX").Default("true").BoolVar(&opts.sandbox)

	migrateCmd := app.Command("migrate", "Apply pending migrations.")
	versionCmd := app.Command("version", "Show available, current and pending versions.")
	for _, cmd := range []*kingpin.CmdClause{migrateCmd, versionCmd} {
		cmd.Arg("migrations_dir", "directory of <n>_<description>.sql files").
			Required().StringVar(&opts.migrationDir)
		cmd.Arg("app_name", "application name used for version tracking").
			Required().StringVar(&opts.appName)
		cmd.Arg("database_target", "database file path or "+sqlite.Memory).
			Required().StringVar(&opts.target)
	}

	command, err := app.Parse(args)
	if err != nil {
		return err
	}

	// Read migrations before unveil so a bad directory reports as a source
	// error.
	set, err := monarch.Dir(opts.migrationDir).Migrations()
	if err != nil {
		return err
	}

	log := newLogger(stderr, opts)
	if opts.sandbox {
		if err = sandbox(opts); err != nil {
			return errors.Wrap(err, "sandbox")
		}
	}

	switch command {
	case migrateCmd.FullCommand():
		return migrate(ctx, stdout, log, set, opts)
	case versionCmd.FullCommand():
		return version(ctx, stdout, set, opts)
	}
	return errors.Errorf("unknown command: %s", command)
}

func migrate(
	ctx context.Context,
	w io.Writer,
	log monarch.Logger,
	set monarch.Set,
	opts options,
) error {
	fmt.Fprintf(w, "Found %d migration(s)\n", set.Len())

	db, err := sqlite.Open(ctx, opts.connection())
	if err != nil {
		return err
	}
	defer db.Close()

	engine := monarch.NewEngine(monarch.WithLogger(log))
	before, err := engine.Status(ctx, db, set, opts.appName)
	if err != nil {
		return err
	}
	after, err := engine.Apply(ctx, db, set, opts.appName)
	if err != nil {
		return err
	}
	if after == before.Current {
		fmt.Fprintln(w, "Database is up to date.")
	} else {
		fmt.Fprintf(w, "Applied %d new migration(s)\n", after-before.Current)
	}
	fmt.Fprintf(w, "Current schema version: %d\n", after)
	return nil
}

// version reports how far the target is behind without writing to it. A
// missing database file is reported as version 0 rather than created.
func version(ctx context.Context, w io.Writer, set monarch.Set, opts options) error {
	conf := opts.connection()
	status := monarch.Status{App: opts.appName, Available: set.Len()}
	if conf.InMemory() || exists(conf.Path) {
		if !conf.InMemory() {
			conf.ReadOnly = true
			conf.JournalMode = ""
		}
		db, err := sqlite.Open(ctx, conf)
		if err != nil {
			return err
		}
		defer db.Close()
		status, err = monarch.NewEngine().Status(ctx, db, set, opts.appName)
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "Available migrations: %d\n", status.Available)
	fmt.Fprintf(w, "Current schema version: %d\n", status.Current)
	fmt.Fprintf(w, "Pending migrations: %d\n", status.Pending())
	if status.Ahead() {
		fmt.Fprintf(w, "Warning: current version (%d) is higher than available migrations (%d)\n",
			status.Current, status.Available)
	}
	return nil
}

func (o options) connection() sqlite.Config {
	return sqlite.Config{
		Path:        o.target,
		Driver:      sqlite.Driver(o.driver),
		ForeignKeys: o.foreignKeys,
		BusyTimeout: o.busyTimeout,
		JournalMode: o.journalMode,
	}
}

func newLogger(w io.Writer, opts options) *logrus.Logger {
	log := logrus.New()
	log.Out = w
	log.Level = logrus.WarnLevel
	if opts.verbose {
		log.Level = logrus.InfoLevel
	}
	format := opts.logFormat
	if format == "auto" {
		format = "json"
		if f, ok := w.(*os.File); ok && terminal.IsTerminal(int(f.Fd())) {
			format = "text"
		}
	}
	if format == "json" {
		log.Formatter = &logrus.JSONFormatter{}
	} else {
		log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	}
	return log
}

func sandbox(opts options) error {
	var dbPath string
	if !opts.connection().InMemory() {
		dbPath = opts.target
	}
	if err := monarch.Unveil(monarch.SandboxPaths(opts.migrationDir, dbPath)); err != nil {
		return err
	}
	return monarch.Pledge()
}

func exists(pth string) bool {
	_, err := os.Stat(pth)
	return err == nil
}
