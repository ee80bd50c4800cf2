//go:build integration

package integration_test

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// testEnv holds paths to isolated test directories.
type testEnv struct {
	Root    string // scan root standing in for /vmfs
	Drivers string // override directory
	Scratch string // parent of the per-run workspace
	Vmtar   string // shell script standing in for /bin/vmtar
}

// identityVmtar behaves like vmtar for a container that is a bare tar: both
// directions copy the input to the output.
const identityVmtar = `#!/bin/sh
echo "$@" >> "$(dirname "$0")/calls"
cp "$2" "$4"
`

// setupTestEnv creates isolated temp directories and points the
// UPDATE_DRIVERS_* environment at them. The env vars are restored after the test.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("the vmtar stand-in needs a POSIX shell")
	}

	env := &testEnv{
		Root:    t.TempDir(),
		Drivers: t.TempDir(),
		Scratch: t.TempDir(),
	}
	env.Vmtar = writeScript(t, identityVmtar)

	t.Setenv("UPDATE_DRIVERS_ROOT", env.Root)
	t.Setenv("UPDATE_DRIVERS_DRIVERS", env.Drivers)
	t.Setenv("UPDATE_DRIVERS_SCRATCH", env.Scratch)
	t.Setenv("UPDATE_DRIVERS_VMTAR", env.Vmtar)

	return env
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vmtar")
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeFile creates a file with the given content, creating parent dirs.
func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating parent dirs for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func tarOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, n := range names {
		if err := tw.WriteHeader(&tar.Header{Name: n, Mode: 0644, Size: int64(len(files[n])), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(files[n])); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func gzipOf(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func xzOf(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := xw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// plainArchive is gzip(tar), the layout of an ordinary driver archive once
// vmtar is an identity conversion.
func plainArchive(t *testing.T, files map[string]string) []byte {
	return gzipOf(t, tarOf(t, files))
}

// signedArchive is gzip(xz(tar) + 284-byte trailer).
func signedArchive(t *testing.T, files map[string]string) []byte {
	blob := append(xzOf(t, tarOf(t, files)), bytes.Repeat([]byte{0xEE}, 284)...)
	return gzipOf(t, blob)
}

// readArchive returns name's content from the archive at path.
func readArchive(t *testing.T, path, name string) (string, bool) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("%s is not gzip: %v", path, err)
	}
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", false
		}
		if err != nil {
			t.Fatalf("reading %s: %v", path, err)
		}
		if hdr.Name == name {
			body, err := io.ReadAll(tr)
			if err != nil {
				t.Fatal(err)
			}
			return string(body), true
		}
	}
}

// assertFileExists fails the test if path does not exist.
func assertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file to exist: %s", path)
	}
}

// assertUnchanged fails the test if path no longer holds want.
func assertUnchanged(t *testing.T, path string, want []byte) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("%s was modified", path)
	}
}
