// Package locator finds candidate driver archives under a scan root.
package locator

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vmkdrivers/update-drivers/internal/replace"
)

// Options controls a scan.
type Options struct {
	Root    string // absolute scan root, e.g. /vmfs
	Pattern string // glob matched against the file base name, e.g. "*.v0*"
	Exclude string // directory name pruned wherever it appears below Root
}

// Find walks opts.Root and returns regular files whose base name matches
// opts.Pattern, skipping any directory named opts.Exclude and any backup or
// staged file an interrupted replace left behind. The order is the
// walk order; callers must not assume it is sorted. Any walk error fails the
// whole scan so a partial list is never returned.
func Find(ctx context.Context, opts Options) ([]string, error) {
	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("scan root %s: %w", opts.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root %s is not a directory", opts.Root)
	}
	if _, err := filepath.Match(opts.Pattern, ""); err != nil {
		return nil, fmt.Errorf("pattern %q: %w", opts.Pattern, err)
	}

	var paths []string
	err = filepath.WalkDir(opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if path != opts.Root && opts.Exclude != "" && d.Name() == opts.Exclude {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || replace.IsLeftover(d.Name()) {
			return nil
		}

		ok, err := filepath.Match(opts.Pattern, d.Name())
		if err != nil {
			return err
		}
		if ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", opts.Root, err)
	}
	return paths, nil
}
