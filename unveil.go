package monarch

import (
	"os"
	"path/filepath"
)

// UnveilPath is a filesystem path and the unveil(2) permissions to expose
// it with.
type UnveilPath struct {
	Path  string
	Perms string
}

// SandboxPaths lists what a migration run touches: the migration directory
// read-only, SQLite's temporary directory and, for a file database, the
// database's directory so its journal and WAL files can be created.
func SandboxPaths(migrationDir, database string) []UnveilPath {
	paths := []UnveilPath{
		{Path: migrationDir, Perms: "r"},
		{Path: os.TempDir(), Perms: "rwc"},
	}
	if database != "" {
		paths = append(paths, UnveilPath{Path: filepath.Dir(database), Perms: "rwc"})
	}
	return paths
}
