// Package replace installs a rebuilt archive over the live one. The new
// bytes are staged next to the destination and renamed into place, a backup
// of the original is kept until the installed file reads back with the
// expected digest, and any failure restores the backup.
package replace

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmkdrivers/update-drivers/internal/platform"
	"github.com/zeebo/blake3"
)

// Names of the files Archive writes next to the destination.
const (
	BackupSuffix = ".backup"  // appended to the destination for the backup copy
	StagedInfix  = ".staged-" // follows ".<base>" in the staged temp file name
)

// IsLeftover reports whether name is a backup or staged file written by
// Archive rather than an archive in its own right.
func IsLeftover(name string) bool {
	if strings.HasSuffix(name, BackupSuffix) {
		return true
	}
	return strings.HasPrefix(name, ".") && strings.Contains(name, StagedInfix)
}

// Verifier inspects the installed file; an error triggers a rollback.
type Verifier func(path string) error

// Outcome describes a completed replacement.
type Outcome struct {
	PreviousDigest string // blake3 of the replaced archive
	Digest         string // blake3 of the installed archive
	Size           int64
}

// Archive replaces currentPath with the contents of newPath, preserving
// currentPath's permissions. verify may be nil.
func Archive(newPath, currentPath string, verify Verifier) (*Outcome, error) {
	info, err := os.Stat(currentPath)
	if err != nil {
		return nil, fmt.Errorf("stat current archive: %w", err)
	}
	origPerm := info.Mode().Perm()

	previous, err := Digest(currentPath)
	if err != nil {
		return nil, fmt.Errorf("hashing current archive: %w", err)
	}
	want, err := Digest(newPath)
	if err != nil {
		return nil, fmt.Errorf("hashing new archive: %w", err)
	}

	dir := filepath.Dir(currentPath)
	staged, err := stage(newPath, dir, filepath.Base(currentPath), origPerm)
	if err != nil {
		return nil, err
	}
	defer os.Remove(staged)

	backupPath := currentPath + BackupSuffix
	if err := backup(currentPath, backupPath); err != nil {
		return nil, fmt.Errorf("creating backup: %w", err)
	}

	// Rename within one directory is atomic; currentPath never goes missing.
	if err := os.Rename(staged, currentPath); err != nil {
		os.Remove(backupPath)
		return nil, fmt.Errorf("installing new archive: %w", err)
	}
	_ = platform.SyncDir(dir)

	if err := check(currentPath, want, verify); err != nil {
		if rbErr := Rollback(backupPath, currentPath); rbErr != nil {
			return nil, fmt.Errorf("verification failed (%v) and %w", err, rbErr)
		}
		return nil, fmt.Errorf("verification failed, rolled back: %w", err)
	}

	os.Remove(backupPath)

	return &Outcome{PreviousDigest: previous, Digest: want, Size: sizeOf(currentPath)}, nil
}

// stage copies src into a hidden temp file in dir so the final rename does
// not cross filesystems.
func stage(src, dir, base string, perm os.FileMode) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening new archive: %w", err)
	}
	defer in.Close()

	out, err := os.CreateTemp(dir, "."+base+StagedInfix+"*")
	if err != nil {
		return "", fmt.Errorf("staging new archive: %w", err)
	}
	name := out.Name()
	fail := func(err error) (string, error) {
		out.Close()
		os.Remove(name)
		return "", fmt.Errorf("staging new archive: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		return fail(err)
	}
	if err := out.Sync(); err != nil {
		return fail(err)
	}
	if err := out.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("staging new archive: %w", err)
	}
	if err := platform.Chmod(name, perm); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("staging new archive: %w", err)
	}
	return name, nil
}

// backup keeps the original reachable under backupPath. A hard link is
// tried first; filesystems without link support get a copy.
func backup(currentPath, backupPath string) error {
	os.Remove(backupPath)
	if err := os.Link(currentPath, backupPath); err == nil {
		return nil
	}
	return copyFile(currentPath, backupPath)
}

func check(path, want string, verify Verifier) error {
	got, err := Digest(path)
	if err != nil {
		return fmt.Errorf("reading back %s: %w", path, err)
	}
	if got != want {
		return fmt.Errorf("digest mismatch: installed %s, expected %s", got, want)
	}
	if verify != nil {
		if err := verify(path); err != nil {
			return err
		}
	}
	return nil
}

// Rollback restores the backup to the current path.
func Rollback(backupPath, currentPath string) error {
	if err := os.Rename(backupPath, currentPath); err != nil {
		if copyErr := copyFile(backupPath, currentPath); copyErr != nil {
			return fmt.Errorf("rollback failed: %w (original rename error: %v)", copyErr, err)
		}
		os.Remove(backupPath)
	}
	return nil
}

// Digest returns the hex blake3 digest of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sizeOf(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
