package integration

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// householdFixture returns the shared household definition used by the
// definition package tests.
func householdFixture(t *testing.T) []byte {
	t.Helper()
	_, file, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(file), "..", "..", "internal", "definition", "testdata", "forms", "12345", "household.xml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read household fixture: %v", err)
	}
	return data
}

// smallDefinition returns a one question definition for form 500 targeting
// app at the given version.
func smallDefinition(app, version string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>
<survey name="Small" version="` + version + `" surveyId="500" surveyGroupId="9" surveyGroupName="Small Group" app="` + app + `" defaultLanguageCode="en">
  <questionGroup><heading>G</heading>
    <question id="q1" type="free" mandatory="true"><text>Q</text><altText language="es" type="translation">P</altText></question>
  </questionGroup>
</survey>`)
}
