// Package config loads a migration setup from a YAML file:
//
//	name: my_app
//	migration_directory: ./migrations
//	enable_foreign_keys: true
//	database:
//	  path: ./my_app.db
//	  driver: sqlite3
//	  busy_timeout: 5s
//	  journal_mode: WAL
package config

import (
	"bytes"
	"context"
	"io/ioutil"

	"github.com/egtann/monarch"
	"github.com/egtann/monarch/sqlite"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Name is the application whose version is tracked.
	Name string `yaml:"name"`

	MigrationDirectory string `yaml:"migration_directory"`

	// EnableForeignKeys overrides database.foreign_keys when set.
	EnableForeignKeys *bool `yaml:"enable_foreign_keys"`

	Database sqlite.Config `yaml:"database"`
}

// Load reads and validates the file at pth.
func Load(pth string) (*Config, error) {
	byt, err := ioutil.ReadFile(pth)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	conf, err := Parse(byt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", pth)
	}
	return conf, nil
}

// Parse decodes and validates YAML. Unknown keys are rejected so typos do
// not silently fall back to defaults.
func Parse(byt []byte) (*Config, error) {
	conf := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(byt))
	dec.KnownFields(true)
	if err := dec.Decode(conf); err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("name cannot be empty")
	}
	if c.MigrationDirectory == "" {
		return errors.New("migration_directory cannot be empty")
	}
	return errors.Wrap(c.Connection().Validate(), "database")
}

// Source is the migration directory as a monarch.Source.
func (c *Config) Source() monarch.Source {
	return monarch.Dir(c.MigrationDirectory)
}

// Connection is the database config with enable_foreign_keys applied.
func (c *Config) Connection() sqlite.Config {
	conn := c.Database
	if c.EnableForeignKeys != nil {
		conn.ForeignKeys = *c.EnableForeignKeys
	}
	return conn
}

// Connect opens the configured database and applies the configured
// migrations. See sqlite.Connect.
func (c *Config) Connect(ctx context.Context, opts ...monarch.Option) (*sqlite.DB, error) {
	return sqlite.Connect(ctx, c.Connection(), c.Name, c.Source(), opts...)
}
