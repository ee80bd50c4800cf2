// Package compress decompresses archive payloads by sniffing their magic
// bytes and writes the gzip streams that ESXi boot banks expect.
package compress

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Format identifies a compression container.
type Format int

const (
	// Uncompressed means no known magic was found.
	Uncompressed Format = iota
	Gzip
	Xz
	Zstd
)

// ErrUnknownFormat is returned when a stream that must be compressed carries
// no recognised magic bytes.
var ErrUnknownFormat = errors.New("unrecognised compression format")

var magics = []struct {
	format Format
	magic  []byte
}{
	{Gzip, []byte{0x1F, 0x8B, 0x08}},
	{Xz, []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}},
	{Zstd, []byte{0x28, 0xB5, 0x2F, 0xFD}},
}

func (f Format) String() string {
	switch f {
	case Uncompressed:
		return "none"
	case Gzip:
		return "gzip"
	case Xz:
		return "xz"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// ParseFormat maps a config name ("gzip", "xz", "zstd") to a Format.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "gzip":
		return Gzip, nil
	case "xz":
		return Xz, nil
	case "zstd":
		return Zstd, nil
	default:
		return Uncompressed, fmt.Errorf("unknown compression %q", name)
	}
}

// Detect reports the format whose magic prefixes source.
func Detect(source []byte) Format {
	for _, m := range magics {
		if bytes.HasPrefix(source, m.magic) {
			return m.format
		}
	}
	return Uncompressed
}

// NewReader returns a decompressing reader for the given format.
func NewReader(format Format, r io.Reader) (io.ReadCloser, error) {
	switch format {
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return zr, nil
	case Xz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening xz stream: %w", err)
		}
		return io.NopCloser(xr), nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// DecompressStream sniffs r and returns the matching decompressing reader.
// Uncompressed input is rejected with ErrUnknownFormat.
func DecompressStream(r io.Reader) (io.ReadCloser, Format, error) {
	buf := bufio.NewReaderSize(r, 32*1024)
	head, err := buf.Peek(6)
	if err != nil && err != io.EOF {
		return nil, Uncompressed, fmt.Errorf("reading stream header: %w", err)
	}

	format := Detect(head)
	if format == Uncompressed {
		return nil, Uncompressed, ErrUnknownFormat
	}
	rc, err := NewReader(format, buf)
	if err != nil {
		return nil, format, err
	}
	return rc, format, nil
}

// DecompressFile decompresses src into dst, detecting the format from the
// magic bytes. dst is truncated first.
func DecompressFile(src, dst string) (Format, error) {
	in, err := os.Open(src)
	if err != nil {
		return Uncompressed, err
	}
	defer in.Close()

	rc, format, err := DecompressStream(in)
	if err != nil {
		return format, fmt.Errorf("decompressing %s: %w", src, err)
	}
	defer rc.Close()

	if err := writeFile(dst, rc); err != nil {
		return format, fmt.Errorf("decompressing %s: %w", src, err)
	}
	return format, nil
}

// DecompressFileAs decompresses src into dst with an explicit format.
func DecompressFileAs(format Format, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	rc, err := NewReader(format, in)
	if err != nil {
		return fmt.Errorf("decompressing %s: %w", src, err)
	}
	defer rc.Close()

	if err := writeFile(dst, rc); err != nil {
		return fmt.Errorf("decompressing %s as %s: %w", src, format, err)
	}
	return nil
}

// GzipFile compresses src into dst.
func GzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		return fmt.Errorf("compressing %s: %w", src, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing gzip stream %s: %w", dst, err)
	}
	return out.Close()
}

func writeFile(dst string, r io.Reader) error {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
