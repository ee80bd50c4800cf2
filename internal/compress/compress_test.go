package compress

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

func gzipBytes(t *testing.T, data []byte) []byte {
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

func xzBytes(t *testing.T, data []byte) []byte {
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

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestDetect(t *testing.T) {
	payload := []byte("visorfs payload")
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"gzip", gzipBytes(t, payload), Gzip},
		{"xz", xzBytes(t, payload), Xz},
		{"zstd", zstdBytes(t, payload), Zstd},
		{"plain", payload, Uncompressed},
		{"short", []byte{0x1F}, Uncompressed},
		{"empty", nil, Uncompressed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.data); got != tt.want {
				t.Errorf("Detect() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecompressFile(t *testing.T) {
	payload := bytes.Repeat([]byte("vmkmod "), 1000)
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"gzip", gzipBytes(t, payload), Gzip},
		{"xz", xzBytes(t, payload), Xz},
		{"zstd", zstdBytes(t, payload), Zstd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmp := t.TempDir()
			src := filepath.Join(tmp, "in")
			dst := filepath.Join(tmp, "out")
			if err := os.WriteFile(src, tt.data, 0644); err != nil {
				t.Fatal(err)
			}

			format, err := DecompressFile(src, dst)
			if err != nil {
				t.Fatalf("DecompressFile failed: %v", err)
			}
			if format != tt.want {
				t.Errorf("format = %s, want %s", format, tt.want)
			}
			got, err := os.ReadFile(dst)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("decompressed %d bytes, want %d", len(got), len(payload))
			}
		})
	}
}

func TestDecompressFile_Uncompressed(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "plain")
	if err := os.WriteFile(src, []byte("not compressed at all"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := DecompressFile(src, filepath.Join(tmp, "out"))
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("error = %v, want ErrUnknownFormat", err)
	}
}

func TestDecompressFileAs_Truncated(t *testing.T) {
	tmp := t.TempDir()
	data := xzBytes(t, bytes.Repeat([]byte("x"), 4096))
	src := filepath.Join(tmp, "cut.xz")
	if err := os.WriteFile(src, data[:len(data)/2], 0644); err != nil {
		t.Fatal(err)
	}

	if err := DecompressFileAs(Xz, src, filepath.Join(tmp, "out")); err == nil {
		t.Error("expected error for truncated xz stream")
	}
}

func TestGzipFile_RoundTrip(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "container")
	gz := filepath.Join(tmp, "container.gz")
	back := filepath.Join(tmp, "container.back")
	payload := []byte("container bytes")
	if err := os.WriteFile(src, payload, 0644); err != nil {
		t.Fatal(err)
	}

	if err := GzipFile(src, gz); err != nil {
		t.Fatalf("GzipFile failed: %v", err)
	}
	format, err := DecompressFile(gz, back)
	if err != nil {
		t.Fatal(err)
	}
	if format != Gzip {
		t.Errorf("format = %s, want gzip", format)
	}
	got, _ := os.ReadFile(back)
	if !bytes.Equal(got, payload) {
		t.Errorf("round trip = %q, want %q", got, payload)
	}
}

func TestParseFormat(t *testing.T) {
	for name, want := range map[string]Format{"gzip": Gzip, "xz": Xz, "zstd": Zstd} {
		got, err := ParseFormat(name)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %s, %v", name, got, err)
		}
	}
	if _, err := ParseFormat("bzip2"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
