// Package tarball extracts and creates the plain tar streams vmtar converts
// to and from. Extraction is confined to the destination directory.
package tarball

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
)

type dirTime struct {
	path  string
	mtime time.Time
}

// Extract unpacks the tar at tarPath into destDir. destDir is removed and
// recreated first so nothing from an earlier extraction survives.
func Extract(ctx context.Context, tarPath, destDir string) error {
	if err := os.RemoveAll(destDir); err != nil {
		return fmt.Errorf("clearing %s: %w", destDir, err)
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", destDir, err)
	}

	f, err := os.Open(tarPath)
	if err != nil {
		return fmt.Errorf("opening tar: %w", err)
	}
	defer f.Close()

	// Directory mtimes are restored last; writing children would bump them.
	var dirs []dirTime
	tr := tar.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", tarPath, err)
		}

		name := strings.TrimPrefix(filepath.Clean("/"+hdr.Name), "/")
		if name == "" {
			continue
		}
		target, err := securejoin.SecureJoin(destDir, name)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", hdr.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("creating parent of %s: %w", hdr.Name, err)
		}

		mode := os.FileMode(hdr.Mode).Perm()
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("creating dir %s: %w", hdr.Name, err)
			}
			if err := os.Chmod(target, mode); err != nil {
				return fmt.Errorf("chmod %s: %w", hdr.Name, err)
			}
			if err := restoreOwner(target, hdr); err != nil {
				return fmt.Errorf("chown %s: %w", hdr.Name, err)
			}
			dirs = append(dirs, dirTime{target, hdr.ModTime})
			continue
		case tar.TypeReg:
			if err := writeEntry(target, mode, tr); err != nil {
				return fmt.Errorf("writing %s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			// The link text is stored as-is; it is only ever resolved at
			// ESXi boot time, never by this process.
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("symlink %s: %w", hdr.Name, err)
			}
			if err := restoreOwner(target, hdr); err != nil {
				return fmt.Errorf("chown %s: %w", hdr.Name, err)
			}
			continue
		case tar.TypeLink:
			linkName := strings.TrimPrefix(filepath.Clean("/"+hdr.Linkname), "/")
			source, err := securejoin.SecureJoin(destDir, linkName)
			if err != nil {
				return fmt.Errorf("resolving link target %s: %w", hdr.Linkname, err)
			}
			_ = os.Remove(target)
			if err := os.Link(source, target); err != nil {
				return fmt.Errorf("hard link %s: %w", hdr.Name, err)
			}
		default:
			// Device nodes and fifos cannot appear in driver archives.
			continue
		}

		if err := os.Chtimes(target, hdr.ModTime, hdr.ModTime); err != nil {
			return fmt.Errorf("setting times on %s: %w", hdr.Name, err)
		}
		if err := restoreOwner(target, hdr); err != nil {
			return fmt.Errorf("chown %s: %w", hdr.Name, err)
		}
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Chtimes(dirs[i].path, dirs[i].mtime, dirs[i].mtime); err != nil {
			return fmt.Errorf("setting times on %s: %w", dirs[i].path, err)
		}
	}
	return nil
}

func writeEntry(target string, mode os.FileMode, r io.Reader) error {
	_ = os.Remove(target)
	//nolint:gosec // G304: target is confined to destDir by SecureJoin
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// OpenFile honours the umask; the archive's mode must win.
	return os.Chmod(target, mode)
}

// Create writes a tar of srcDir's contents to tarPath. Entry names are
// relative to srcDir without a "./" prefix, in lexical order, the layout
// `cd srcDir && tar -cf tarPath *` produces.
func Create(ctx context.Context, srcDir, tarPath string) (err error) {
	out, err := os.OpenFile(tarPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating tar file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	tw := tar.NewWriter(out)
	// Hard links are kept as links so repacking does not duplicate data.
	seen := make(map[fileID]string)

	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("reading symlink %s: %w", rel, err)
			}
		}

		header, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return fmt.Errorf("failed to create tar header: %w", err)
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		}

		if info.Mode().IsRegular() {
			if id, ok := identify(info); ok {
				if first, dup := seen[id]; dup {
					header.Typeflag = tar.TypeLink
					header.Linkname = first
					header.Size = 0
				} else {
					seen[id] = header.Name
				}
			}
		}

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			return nil
		}

		//nolint:gosec // G304: path comes from walking srcDir
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("failed to write file to tar: %w", err)
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finishing tar: %w", err)
	}
	return nil
}

// ReadFile returns the contents of the regular file entry name.
func ReadFile(tarPath, name string) ([]byte, error) {
	f, err := os.Open(tarPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", tarPath, err)
		}
		if hdr.Name == name && hdr.Typeflag == tar.TypeReg {
			return io.ReadAll(tr)
		}
	}
}
