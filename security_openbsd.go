package monarch

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Pledge to the kernel the syscalls needed to read migrations and read or
// write a SQLite database on OpenBSD.
func Pledge() error {
	const promises = "stdio rpath wpath cpath flock"
	if err := unix.Pledge(promises, ""); err != nil {
		return errors.Wrap(err, "pledge")
	}
	return nil
}

// Unveil only the migration directory and the database files to the
// program, then lock the list.
func Unveil(paths []UnveilPath) error {
	for _, p := range paths {
		if err := unix.Unveil(p.Path, p.Perms); err != nil {
			return errors.Wrapf(err, "unveil %s", p.Path)
		}
	}
	if err := unix.UnveilBlock(); err != nil {
		return errors.Wrap(err, "unveil block")
	}
	return nil
}
