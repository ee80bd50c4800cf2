package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LockFileName is created in the scratch parent directory and flocked for
// the duration of a run.
const LockFileName = ".update-drivers.lock"

const dirPattern = "update-drivers-*"

// ErrLocked is returned by AcquireLock when another run is in progress.
var ErrLocked = errors.New("another update-drivers run holds the lock")

// Workspace is the scratch directory of one run.
type Workspace struct {
	Dir  string
	keep bool
}

// New creates a uniquely named scratch directory under parent. With keep set,
// Release leaves the directory in place for inspection.
func New(parent string, keep bool) (*Workspace, error) {
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, fmt.Errorf("creating scratch parent %s: %w", parent, err)
	}
	dir, err := os.MkdirTemp(parent, dirPattern)
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory in %s: %w", parent, err)
	}
	return &Workspace{Dir: dir, keep: keep}, nil
}

// Keep reports whether Release preserves the workspace.
func (w *Workspace) Keep() bool { return w.keep }

// Release removes the workspace unless it was created with keep.
func (w *Workspace) Release() error {
	if w == nil || w.keep || w.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("removing scratch directory %s: %w", w.Dir, err)
	}
	return nil
}

// For returns the scratch paths of the seq-th archive of the run, named after
// its base name. Each archive gets its own subdirectory, so two archives never
// share intermediate files even when their base names are equal
// (bootbank/s.v00 and altbootbank/s.v00).
func (w *Workspace) For(seq int, base string) (Paths, error) {
	dir := filepath.Join(w.Dir, strconv.Itoa(seq))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Paths{}, fmt.Errorf("creating archive scratch %s: %w", dir, err)
	}
	return newPaths(dir, base), nil
}

// Paths names every intermediate artifact of one archive.
type Paths struct {
	Dir      string
	Base     string
	Blob     string // decompressed archive (<base>.gz)
	Signed   string // signed blob before trailer removal (<base>.sign.xz)
	Unsigned string // signed blob without trailer (<base>.vtar.xz)
	Vtar     string // unwrapped signed container (<base>.vtar)
	Tar      string // container converted to tar (<base>.tar)
	Tree     string // extraction subtree (<base>.tmp)
	NewTar   string // repacked tar (<base>.new.tar)
	NewVtar  string // repacked container (<base>.new)
	NewGz    string // compressed replacement (<base>.new.gz)
}

func newPaths(dir, base string) Paths {
	j := func(suffix string) string { return filepath.Join(dir, base+suffix) }
	return Paths{
		Dir:      dir,
		Base:     base,
		Blob:     j(".gz"),
		Signed:   j(".sign.xz"),
		Unsigned: j(".vtar.xz"),
		Vtar:     j(".vtar"),
		Tar:      j(".tar"),
		Tree:     j(".tmp"),
		NewTar:   j(".new.tar"),
		NewVtar:  j(".new"),
		NewGz:    j(".new.gz"),
	}
}

// RemoveRepackOutputs deletes leftover repack artifacts so a previous attempt
// cannot be mistaken for fresh output.
func (p Paths) RemoveRepackOutputs() error {
	var errs []error
	for _, path := range []string{p.NewTar, p.NewVtar, p.NewGz} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Remove deletes the archive's scratch subdirectory.
func (p Paths) Remove() error {
	return os.RemoveAll(p.Dir)
}
