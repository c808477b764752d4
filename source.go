package monarch

import (
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Source yields the ordered migrations known to the application.
type Source interface {
	Migrations() (Set, error)
}

// Static is a Source backed by a literal list of migration bodies, usually
// embedded in the binary. Order is list order.
type Static []string

// Migrations never fails. Empty bodies become no-op migrations.
func (s Static) Migrations() (Set, error) {
	ms := make([]Migration, len(s))
	for i, body := range s {
		ms[i] = Migration{
			Sequence: uint(i + 1),
			Name:     "static-" + strconv.Itoa(i+1),
			Body:     body,
		}
	}
	return NewSet(ms...)
}

// Ext is the extension a migration file must carry.
const Ext = ".sql"

// regexFile matches "<digits>[<sep><description>].sql", like 1.sql,
// 002_create_users.sql or 10-add-index.sql.
var regexFile = regexp.MustCompile(`^(\d+)(?:[_.\-](.*))?` + regexp.QuoteMeta(Ext) + `$`)

// DirSource discovers migrations in a directory of an fs.FS.
type DirSource struct {
	fsys fs.FS
	dir  string

	// name is reported in errors in place of dir.
	name string
}

// Dir returns a Source reading migration files from a directory on disk.
func Dir(dir string) *DirSource {
	return &DirSource{fsys: os.DirFS(dir), dir: ".", name: dir}
}

// FS returns a Source reading migration files from dir inside fsys, such as
// an embed.FS.
func FS(fsys fs.FS, dir string) *DirSource {
	if dir == "" {
		dir = "."
	}
	return &DirSource{fsys: fsys, dir: dir, name: dir}
}

type migrationFile struct {
	seq  uint
	name string
}

// Migrations scans the directory. Files are ordered by their numeric prefix,
// not lexically, so 10_x.sql comes after 2_y.sql. Hidden files, directories
// and files that do not match the naming convention are ignored. The
// prefixes must form exactly 1..n.
func (d *DirSource) Migrations() (Set, error) {
	files, err := d.readDir()
	if err != nil {
		return Set{}, err
	}
	if err = d.sortFiles(files); err != nil {
		return Set{}, err
	}
	ms := make([]Migration, 0, len(files))
	for _, f := range files {
		byt, err := fs.ReadFile(d.fsys, path.Join(d.dir, f.name))
		if err != nil {
			return Set{}, &SourceError{
				Kind:     ErrUnreadable,
				Path:     d.filePath(f.name),
				Sequence: f.seq,
				Err:      err,
			}
		}
		ms = append(ms, Migration{Sequence: f.seq, Name: f.name, Body: string(byt)})
	}
	return NewSet(ms...)
}

func (d *DirSource) readDir() ([]migrationFile, error) {
	entries, err := fs.ReadDir(d.fsys, d.dir)
	if err != nil {
		return nil, &SourceError{Kind: ErrDirectoryUnavailable, Path: d.name, Err: err}
	}
	files := []migrationFile{}
	for _, e := range entries {
		name := e.Name()

		// Skip directories and hidden files
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		seq, ok, err := parseSequence(name)
		if err != nil {
			return nil, &SourceError{
				Kind: ErrUnreadable,
				Path: d.filePath(name),
				Err:  err,
			}
		}
		if !ok {
			continue
		}
		files = append(files, migrationFile{seq: seq, name: name})
	}
	return files, nil
}

func (d *DirSource) filePath(name string) string {
	return path.Join(d.name, name)
}

// parseSequence extracts the numeric prefix of a migration filename. ok is
// false for names that are not migrations; a prefix too large for a uint is
// an error.
func parseSequence(name string) (uint, bool, error) {
	m := regexFile.FindStringSubmatch(name)
	if m == nil {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(m[1], 10, 0)
	if err != nil {
		return 0, false, errors.Wrap(err, "parse sequence")
	}
	return uint(n), true, nil
}

// sortFiles orders files by sequence and checks they are numbered 1..n with
// no duplicates.
func (d *DirSource) sortFiles(files []migrationFile) error {
	sort.Slice(files, func(i, j int) bool {
		if files[i].seq == files[j].seq {
			return files[i].name < files[j].name
		}
		return files[i].seq < files[j].seq
	})
	for i := 1; i < len(files); i++ {
		if files[i-1].seq == files[i].seq {
			return &SourceError{
				Kind:     ErrDuplicateSequence,
				Path:     d.filePath(files[i].name),
				Sequence: files[i].seq,
				Err: errors.Errorf("%s and %s share a prefix",
					files[i-1].name, files[i].name),
			}
		}
	}
	for i, f := range files {
		if want := uint(i + 1); f.seq != want {
			return &SourceError{
				Kind:     ErrGap,
				Path:     d.filePath(f.name),
				Sequence: f.seq,
				Err:      errors.Errorf("expected sequence %d, found %d", want, f.seq),
			}
		}
	}
	return nil
}
