// Package archive reads bootstrap archives and routes their entries to
// resource extraction or definition installation.
package archive

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Entry is one member of an archive.
type Entry interface {
	// Name is the slash separated path of the entry inside the archive.
	Name() string
	IsDir() bool
	Open() (io.ReadCloser, error)
}

// Archive is an ordered collection of entries.
type Archive interface {
	Name() string
	Entries() []Entry
}

// ZipArchive adapts a zip file to Archive.
type ZipArchive struct {
	name    string
	entries []Entry
	closer  io.Closer
}

// OpenZip opens the zip file at path. The caller must Close it.
func OpenZip(path string) (*ZipArchive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	z := newZipArchive(path, &rc.Reader)
	z.closer = rc
	return z, nil
}

// NewZipArchive reads a zip archive of size bytes from r.
func NewZipArchive(name string, r io.ReaderAt, size int64) (*ZipArchive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", name, err)
	}
	return newZipArchive(name, zr), nil
}

func newZipArchive(name string, zr *zip.Reader) *ZipArchive {
	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		entries = append(entries, zipEntry{f})
	}
	return &ZipArchive{name: name, entries: entries}
}

// Name returns the archive path or name.
func (z *ZipArchive) Name() string { return z.name }

// Entries returns the entries in archive order.
func (z *ZipArchive) Entries() []Entry { return z.entries }

// Close releases the underlying file, if any.
func (z *ZipArchive) Close() error {
	if z.closer == nil {
		return nil
	}
	return z.closer.Close()
}

type zipEntry struct {
	f *zip.File
}

func (e zipEntry) Name() string                 { return e.f.Name }
func (e zipEntry) IsDir() bool                  { return e.f.FileInfo().IsDir() }
func (e zipEntry) Open() (io.ReadCloser, error) { return e.f.Open() }

// isHidden reports whether the last segment of an entry path starts with a
// dot.
func isHidden(name string) bool {
	return strings.HasPrefix(path.Base(strings.TrimSuffix(name, "/")), ".")
}

// copyEntry writes the content of e to a new file at target.
func copyEntry(e Entry, target string) (err error) {
	rc, err := e.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", e.Name(), err)
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", target, cerr)
		}
	}()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("copy entry %s: %w", e.Name(), err)
	}
	return nil
}
