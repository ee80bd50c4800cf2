// Package unwrap recovers the vmtar container from a compressed .v0x archive.
//
// Most archives are a single compressed container. Archives listed in the
// signature table are compressed twice: the outer stream holds an inner
// compressed payload followed by a fixed-length signature trailer. The trailer
// is cut off by length and never verified.
package unwrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmkdrivers/update-drivers/internal/compress"
	"github.com/vmkdrivers/update-drivers/internal/workspace"
)

// ErrTrailerTooLarge is returned when a signed blob is not longer than its
// signature trailer.
var ErrTrailerTooLarge = errors.New("signature trailer is not shorter than the blob")

// Signature describes the trailer handling for one base name.
type Signature struct {
	Strip            bool
	Length           int64
	InnerCompression compress.Format
}

// Result describes how an archive was unwrapped.
type Result struct {
	Container      string          // path of the container handed to vmtar
	OuterFormat    compress.Format // compression of the archive file itself
	Signed         bool            // trailer was stripped
	UnsignedLength int64           // bytes kept before the trailer, when Signed
}

// Unwrapper unwraps archives according to a signature table keyed by base name.
type Unwrapper struct {
	table map[string]Signature
}

// New returns an Unwrapper for the given signature table.
func New(table map[string]Signature) *Unwrapper {
	return &Unwrapper{table: table}
}

// Signature returns the table entry for base, if it requires stripping.
func (u *Unwrapper) Signature(base string) (Signature, bool) {
	sig, ok := u.table[base]
	if !ok || !sig.Strip {
		return Signature{}, false
	}
	return sig, true
}

// UnsignedLength is the number of bytes left once a trailer of sigLen bytes
// is removed from a blob of size bytes. It must be strictly positive.
func UnsignedLength(size, sigLen int64) (int64, error) {
	n := size - sigLen
	if n <= 0 {
		return 0, fmt.Errorf("%w: size %d, trailer %d", ErrTrailerTooLarge, size, sigLen)
	}
	return n, nil
}

// Unwrap decompresses archive into p.Blob and, for signed base names, strips
// the trailer and decompresses the inner payload into p.Vtar. Unsigned
// archives use p.Blob as the container unchanged.
func (u *Unwrapper) Unwrap(ctx context.Context, archive string, p workspace.Paths) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outer, err := compress.DecompressFile(archive, p.Blob)
	if err != nil {
		return nil, err
	}

	sig, signed := u.Signature(p.Base)
	if !signed {
		return &Result{Container: p.Blob, OuterFormat: outer}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Boot-bank copies of signed archives carry one more gzip layer around
	// the signed blob; peel it when present.
	if err := stageSigned(p.Blob, p.Signed, sig.InnerCompression); err != nil {
		return nil, err
	}

	info, err := os.Stat(p.Signed)
	if err != nil {
		return nil, err
	}
	n, err := UnsignedLength(info.Size(), sig.Length)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Base, err)
	}

	if err := copyPrefix(p.Signed, p.Unsigned, n); err != nil {
		return nil, fmt.Errorf("removing signature trailer: %w", err)
	}
	if err := compress.DecompressFileAs(sig.InnerCompression, p.Unsigned, p.Vtar); err != nil {
		return nil, err
	}

	return &Result{
		Container:      p.Vtar,
		OuterFormat:    outer,
		Signed:         true,
		UnsignedLength: n,
	}, nil
}

// stageSigned moves the signed blob to signed, gunzipping it first when it is
// wrapped in a gzip layer that is not the inner payload's own compression.
func stageSigned(blob, signed string, inner compress.Format) error {
	head, err := readHead(blob, 8)
	if err != nil {
		return err
	}
	if format := compress.Detect(head); format != compress.Gzip || inner == compress.Gzip {
		if err := os.Rename(blob, signed); err != nil {
			return fmt.Errorf("staging signed blob: %w", err)
		}
		return nil
	}
	if _, err := compress.DecompressFile(blob, signed); err != nil {
		return err
	}
	return nil
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

// copyPrefix copies exactly the first n bytes of src into dst.
func copyPrefix(src, dst string, n int64) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(out, in, n); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
