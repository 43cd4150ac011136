package definition

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pitabwire/fieldform/model"
)

// LoadedForm is an installed definition file parsed from disk.
type LoadedForm struct {
	Form       *model.Form
	Metadata   model.SurveyMetadata
	Languages  []string
	Checksum   string
	SourceFile string
}

// Loader reads installed definition files from disk and parses them.
type Loader struct {
	parser *Parser
}

// NewLoader creates a Loader backed by the given parser.
func NewLoader(parser *Parser) *Loader {
	if parser == nil {
		parser = NewParser()
	}
	return &Loader{parser: parser}
}

// LoadAll recursively scans dir for *.xml definition files and parses each.
func (l *Loader) LoadAll(dir string) ([]LoadedForm, error) {
	paths, err := InstalledFiles(dir)
	if err != nil {
		return nil, err
	}

	forms := make([]LoadedForm, 0, len(paths))
	for _, path := range paths {
		lf, err := l.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		forms = append(forms, lf)
	}
	return forms, nil
}

// InstalledFiles returns the paths of every non-hidden *.xml file under dir
// in lexical order. A missing dir has no files.
func InstalledFiles(dir string) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".xml") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
	}
	return paths, nil
}

// LoadFile parses a single definition file and records its SHA-256 checksum.
func (l *Loader) LoadFile(path string) (LoadedForm, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedForm{}, fmt.Errorf("reading %s: %w", path, err)
	}

	form, meta, err := l.parser.ParseWithMetadata(readCloser(data))
	if err != nil {
		return LoadedForm{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	langs, err := l.parser.ParseLanguageCodes(readCloser(data))
	if err != nil {
		return LoadedForm{}, fmt.Errorf("reading languages of %s: %w", path, err)
	}

	return LoadedForm{
		Form:       form,
		Metadata:   meta,
		Languages:  langs,
		Checksum:   fmt.Sprintf("%x", sha256.Sum256(data)),
		SourceFile: path,
	}, nil
}

func readCloser(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}
