package archive

import (
	"bytes"
	"os"
	"testing"

	"github.com/klauspost/compress/zip"
)

type zipFile struct {
	name string
	body []byte
}

func zipBytes(t *testing.T, files ...zipFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		fw, err := w.Create(f.name)
		if err != nil {
			t.Fatalf("create %s: %v", f.name, err)
		}
		if _, err := fw.Write(f.body); err != nil {
			t.Fatalf("write %s: %v", f.name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func buildArchive(t *testing.T, name string, files ...zipFile) *ZipArchive {
	t.Helper()
	data := zipBytes(t, files...)
	a, err := NewZipArchive(name, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("NewZipArchive() error = %v", err)
	}
	return a
}

func fixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("../definition/testdata/forms/12345/household.xml")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

func definitionFor(app string, version string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>
<survey name="Small" version="` + version + `" surveyId="500" surveyGroupId="9" app="` + app + `">
  <questionGroup><heading>G</heading>
    <question id="q1" type="free"><text>Q</text><altText language="es" type="translation">P</altText></question>
  </questionGroup>
</survey>`)
}
