package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ArchiveSuffix is matched case-insensitively against drop directory files.
const ArchiveSuffix = ".zip"

// Suffixes appended to archives once processed, when renaming is enabled.
const (
	ProcessedSuffix = ".processed"
	ErrorSuffix     = ".error"
)

// ListArchives returns the archives waiting in dir, sorted lexicographically.
// A missing directory holds no archives.
func ListArchives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list drop directory %s: %w", dir, err)
	}

	var archives []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(name), ArchiveSuffix) {
			continue
		}
		archives = append(archives, filepath.Join(dir, name))
	}
	sort.Strings(archives)
	return archives, nil
}
