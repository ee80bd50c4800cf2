package cli

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/vmkdrivers/update-drivers/internal/pipeline"
	"github.com/vmkdrivers/update-drivers/internal/vmtar/vmtartest"
)

// run executes the command tree with args and returns stdout and stderr.
func run(t *testing.T, opts *rootOptions, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	if opts == nil {
		opts = &rootOptions{}
	}
	opts.stderr = &stderr
	cmd := newRootCommand(opts)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := execute(context.Background(), cmd, args, &stderr)
	return stdout.String(), stderr.String(), err
}

func archive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, body := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(vmtartest.Wrap(tarBuf.Bytes())); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestVersion(t *testing.T) {
	opts := &rootOptions{build: BuildInfo{Version: "1.2.3", Commit: "abc", Date: "2024-01-01"}}

	out, _, err := run(t, opts, "version", "--short")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "1.2.3" {
		t.Errorf("--short = %q", out)
	}

	out, _, err = run(t, opts, "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("--json output is not JSON: %v\n%s", err, out)
	}
	if info["commit"] != "abc" || info["date"] != "2024-01-01" {
		t.Errorf("info = %v", info)
	}

	out, _, err = run(t, opts, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "version 1.2.3 (commit: abc") {
		t.Errorf("version = %q", out)
	}
}

func TestConfig_PrintsEffectiveConfig(t *testing.T) {
	t.Setenv("UPDATE_DRIVERS_EXCLUDE", "staging")
	root := t.TempDir()

	out, _, err := run(t, nil, "config", "--root", root, "--dry-run")
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	for _, want := range []string{"root: " + root, "exclude: staging", "dry_run: true", "name: s.v00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := filepath.Join("..", "config", "testdata", "valid-full.yaml")
	out, _, err := run(t, nil, "config", "--validate", valid)
	if err != nil {
		t.Fatalf("valid file rejected: %v", err)
	}
	if !strings.Contains(out, "is valid") {
		t.Errorf("output = %q", out)
	}

	invalid := filepath.Join("..", "config", "testdata", "invalid-unknown-key.yaml")
	_, stderr, err := run(t, nil, "config", "--validate", invalid)
	if err == nil {
		t.Fatal("invalid file accepted")
	}
	if !strings.Contains(stderr, "is invalid") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"bootbank/a.v00", "bootbank/b.v01", "temp/c.v00", "bootbank/readme.txt"} {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	out, _, err := run(t, nil, "scan", "--root", root)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	lines := strings.Fields(out)
	if len(lines) != 2 {
		t.Fatalf("scan listed %v, want the two bootbank archives", lines)
	}
	for _, l := range lines {
		if strings.Contains(l, string(filepath.Separator)+"temp"+string(filepath.Separator)) {
			t.Errorf("excluded path listed: %s", l)
		}
	}
}

func TestRoot_MissingDrivers(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "drivers")
	_, stderr, err := run(t, nil, "--root", t.TempDir(), "--drivers", missing, "--scratch", t.TempDir())
	if !errors.Is(err, pipeline.ErrOverrideDirMissing) {
		t.Fatalf("error = %v, want ErrOverrideDirMissing", err)
	}
	want := "Could not find '" + missing + "' directory\n"
	if stderr != want {
		t.Errorf("stderr = %q, want %q", stderr, want)
	}
}

func TestRoot_UpdatesArchive(t *testing.T) {
	root := t.TempDir()
	drivers := t.TempDir()
	if err := os.WriteFile(filepath.Join(drivers, "bar.ko"), []byte("new"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, "foo.v00")
	original := archive(t, map[string]string{"usr/lib/vmware/vmkmod/bar.ko": "old"})
	if err := os.WriteFile(path, original, 0644); err != nil {
		t.Fatal(err)
	}
	reportPath := filepath.Join(t.TempDir(), "report.yaml")

	fake := &vmtartest.Fake{}
	_, stderr, err := run(t, &rootOptions{tool: fake},
		"--root", root, "--drivers", drivers, "--scratch", t.TempDir(), "--report", reportPath)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, stderr)
	}
	for _, want := range []string{"Examining " + path, "Replacing " + path} {
		if !strings.Contains(stderr, want) {
			t.Errorf("log missing %q:\n%s", want, stderr)
		}
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(got, original) {
		t.Error("archive was not rewritten")
	}
	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	if !strings.Contains(string(data), "state: REPACKED") {
		t.Errorf("report:\n%s", data)
	}
}

func TestRoot_Strict(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "bad.v00"), []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	args := []string{"--root", root, "--drivers", t.TempDir(), "--scratch", t.TempDir()}

	if _, _, err := run(t, &rootOptions{tool: &vmtartest.Fake{}}, args...); err != nil {
		t.Errorf("failed archive must not fail a lenient run: %v", err)
	}

	_, _, err := run(t, &rootOptions{tool: &vmtartest.Fake{}}, append(args, "--strict")...)
	if !errors.Is(err, ErrArchivesFailed) {
		t.Errorf("error = %v, want ErrArchivesFailed", err)
	}
}

func TestRoot_RejectsArgs(t *testing.T) {
	if _, _, err := run(t, nil, "unexpected"); err == nil {
		t.Error("positional arguments must be rejected")
	}
}
