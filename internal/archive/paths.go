package archive

import (
	"fmt"
	"path/filepath"
	"strings"
)

// safeJoin joins a slash separated archive path onto root and refuses any
// result outside root.
func safeJoin(root, name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("entry path %q is not relative", name)
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", fmt.Errorf("entry path %q: %w", name, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry path %q escapes %s", name, root)
	}
	return target, nil
}
