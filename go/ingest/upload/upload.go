// Package upload stages incoming files on local disk before an import job
// picks them up. Uploads stream through a fixed-size buffer so file
// contents are never held in memory, and a configured size cap is enforced
// while streaming.
package upload

import (
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/sheafdata/sheaf/go/sherr"
)

// Staged is one upload written to the staging directory.
type Staged struct {
	// Path of the staged file.
	Path string
	// Size in bytes.
	Size int64
	// Filename as the client named it. Informational only, never used to
	// address the file.
	Filename string
}

// Remove deletes the staged file.
func (s Staged) Remove() error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return sherr.Wrap(err)
	}
	return nil
}

// Stager writes uploads to a staging directory.
type Stager struct {
	dir       string
	maxBytes  int64
	chunkSize int
}

// New returns a Stager writing to dir, rejecting uploads over maxBytes.
func New(dir string, maxBytes int64, chunkSize int) *Stager {
	return &Stager{dir: dir, maxBytes: maxBytes, chunkSize: chunkSize}
}

// Stage streams r to a new staging file. An upload of exactly maxBytes
// succeeds; one byte more fails with QuotaExceeded and leaves nothing
// behind.
func (s *Stager) Stage(r io.Reader, filename string) (Staged, error) {
	f, err := os.CreateTemp(s.dir, "upload-*")
	if err != nil {
		return Staged{}, sherr.Wrap(err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}

	// Reading one byte past the cap distinguishes "exactly at the cap"
	// from "over it" without trusting any declared length.
	written, err := io.CopyBuffer(f, io.LimitReader(r, s.maxBytes+1), make([]byte, s.chunkSize))
	if err != nil {
		cleanup()
		return Staged{}, sherr.Wrapf(err, "staging upload %q", filename)
	}
	if written > s.maxBytes {
		cleanup()
		return Staged{}, sherr.New(sherr.QuotaExceeded, "upload exceeds the %s size cap", humanize.Bytes(uint64(s.maxBytes)))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return Staged{}, sherr.Wrap(err)
	}
	return Staged{Path: f.Name(), Size: written, Filename: filename}, nil
}
