// Package substitute overwrites extracted driver modules with same-named
// files from an override directory.
package substitute

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Replacement records one overwritten module.
type Replacement struct {
	Name        string // module file name
	Destination string // path inside the extraction tree
	Source      string // override file copied over it
}

// Result lists the modules that were overwritten.
type Result struct {
	Replaced []Replacement
}

// Changed reports whether at least one module was overwritten, i.e. whether
// the archive needs to be rebuilt.
func (r Result) Changed() bool { return len(r.Replaced) > 0 }

// Names returns the replaced module names.
func (r Result) Names() []string {
	names := make([]string, 0, len(r.Replaced))
	for _, rep := range r.Replaced {
		names = append(names, rep.Name)
	}
	return names
}

// Matches returns the names of entries directly under extractRoot/moduleDir
// that have a same-named regular file in overrideDir. Directories in the
// module directory are never matched. A missing module directory yields no
// matches.
func Matches(extractRoot, moduleDir, overrideDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(extractRoot, moduleDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := os.Stat(filepath.Join(overrideDir, e.Name()))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("checking override %s: %w", e.Name(), err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Apply copies every matching override file over its extracted counterpart.
// Matching is by file name only: an identical override is still copied and
// still counts as a replacement. Extracted files without an override are
// left alone.
func Apply(extractRoot, moduleDir, overrideDir string) (Result, error) {
	names, err := Matches(extractRoot, moduleDir, overrideDir)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, name := range names {
		dst := filepath.Join(extractRoot, moduleDir, name)
		src := filepath.Join(overrideDir, name)
		if err := overwrite(src, dst); err != nil {
			return res, fmt.Errorf("updating %s with %s: %w", dst, src, err)
		}
		res.Replaced = append(res.Replaced, Replacement{Name: name, Destination: dst, Source: src})
	}
	return res, nil
}

// overwrite replaces dst's contents with src's, keeping dst's mode. A dst
// that is a symlink is replaced by a regular file rather than followed.
func overwrite(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	mode := os.FileMode(0644)
	if info, err := os.Lstat(dst); err == nil {
		if info.Mode().IsRegular() {
			mode = info.Mode().Perm()
		} else if info.IsDir() {
			return fmt.Errorf("%s is a directory", dst)
		} else if err := os.Remove(dst); err != nil {
			return err
		}
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
