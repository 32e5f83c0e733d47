package pool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrNotFound means the id names no known store.
	ErrNotFound = errors.New("no such annotation store")
	// ErrForbidden means a write was attempted on a read-only service.
	ErrForbidden = errors.New("service is configured as read-only")
	// ErrConflict means a creation targeted an id that already exists.
	ErrConflict = errors.New("store already exists")
)

// --------------------------------------------------------------------------
// Directory
// --------------------------------------------------------------------------

// Directory enumerates the store ids available on disk. A store id maps to
// the file "<basedir>/<id>.<extension>"; ids never contain path separators.
type Directory struct {
	basedir   string
	extension string
}

// NewDirectory creates a directory over basedir. The base directory must
// exist.
func NewDirectory(basedir, extension string) (*Directory, error) {
	info, err := os.Stat(basedir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("base directory %q must exist", basedir)
	}
	return &Directory{basedir: basedir, extension: extension}, nil
}

// List returns the ids of all store files currently on disk, sorted.
func (d *Directory) List() ([]string, error) {
	entries, err := os.ReadDir(d.basedir)
	if err != nil {
		return nil, err
	}
	suffix := "." + d.extension
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), suffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists reports whether a store file for id exists on disk. Invalid ids
// simply do not exist.
func (d *Directory) Exists(id string) bool {
	path, err := d.Path(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Path resolves the on-disk filename for a store id after validating the id
// cannot escape the base directory.
func (d *Directory) Path(id string) (string, error) {
	if err := checkBasename(id); err != nil {
		return "", err
	}
	return filepath.Join(d.basedir, id+"."+d.extension), nil
}

// checkBasename rejects ids that could break out of the base directory:
// absolute paths, parent references, and anything containing a separator.
func checkBasename(id string) error {
	if id == "" || id == "." || id == ".." {
		return fmt.Errorf("%w: invalid id", ErrNotFound)
	}
	if filepath.IsAbs(id) || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: id may not contain a directory", ErrNotFound)
	}
	return nil
}
