// Package survey derives form identity from archive entry paths and merges
// incoming definition headers into installed forms.
package survey

import (
	"strings"
)

const pathSeparator = "/"

// ResolveSurveyID derives a form id from an archive entry path. Parent
// segments are scanned from the deepest to the shallowest and the first fully
// numeric one wins. Without a numeric segment the deepest parent is used; an
// entry with no parent yields "".
func ResolveSurveyID(entryPath string) string {
	parents := parentSegments(entryPath)
	if len(parents) == 0 {
		return ""
	}
	for i := len(parents) - 1; i >= 0; i-- {
		if isNumeric(parents[i]) {
			return parents[i]
		}
	}
	return parents[len(parents)-1]
}

// FolderName returns the immediate parent segment of an entry path, or "" for
// an entry at the archive root.
func FolderName(entryPath string) string {
	segments := strings.Split(entryPath, pathSeparator)
	if len(segments) < 2 {
		return ""
	}
	return segments[len(segments)-2]
}

// FileName returns the last segment of an entry path.
func FileName(entryPath string) string {
	if i := strings.LastIndex(entryPath, pathSeparator); i >= 0 {
		return entryPath[i+1:]
	}
	return entryPath
}

// InstalledFilename is the path of an installed definition relative to the
// forms directory.
func InstalledFilename(folder, fileName string) string {
	if folder == "" {
		return fileName
	}
	return folder + pathSeparator + fileName
}

// NameFromFile derives a display name from a definition file name by dropping
// its last dot segment.
func NameFromFile(fileName string) string {
	if i := strings.LastIndex(fileName, "."); i > 0 {
		return fileName[:i]
	}
	return fileName
}

func parentSegments(entryPath string) []string {
	segments := strings.Split(entryPath, pathSeparator)
	if len(segments) < 2 {
		return nil
	}
	var parents []string
	for _, s := range segments[:len(segments)-1] {
		if s != "" {
			parents = append(parents, s)
		}
	}
	return parents
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
