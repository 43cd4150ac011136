package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// ResourceDir extracts nested resource bundles into a directory.
type ResourceDir struct {
	dir    string
	logger *zap.Logger
}

// NewResourceDir creates an extractor writing into dir.
func NewResourceDir(dir string, logger *zap.Logger) *ResourceDir {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceDir{dir: dir, logger: logger}
}

// Extract unpacks the bundle held by e. The bundle is spooled to a temporary
// file because the zip format needs random access.
func (d *ResourceDir) Extract(_ context.Context, e Entry) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create resource dir: %w", err)
	}

	tmp, err := os.CreateTemp(d.dir, ".bundle-*")
	if err != nil {
		return fmt.Errorf("create spool file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	rc, err := e.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", e.Name(), err)
	}
	size, err := io.Copy(tmp, rc)
	_ = rc.Close()
	if err != nil {
		return fmt.Errorf("spool entry %s: %w", e.Name(), err)
	}

	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		return fmt.Errorf("read bundle %s: %w", e.Name(), err)
	}

	for _, f := range zr.File {
		if err := d.extractFile(f); err != nil {
			return err
		}
	}

	d.logger.Debug("resource bundle extracted",
		zap.String("entry", e.Name()),
		zap.Int("files", len(zr.File)),
	)
	return nil
}

func (d *ResourceDir) extractFile(f *zip.File) error {
	target, err := safeJoin(d.dir, f.Name)
	if err != nil {
		return err
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", f.Name, err)
	}
	return copyEntry(zipEntry{f}, target)
}
