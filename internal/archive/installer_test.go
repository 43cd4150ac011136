package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pitabwire/fieldform/internal/definition"
	"github.com/pitabwire/fieldform/internal/store"
	"github.com/pitabwire/fieldform/internal/survey"
	"github.com/pitabwire/fieldform/model"
)

var deployment = survey.Deployment{Identity: "flowaglimmerofhope"}

func newInstaller(t *testing.T, fs store.FormStore) (*FormInstaller, string) {
	t.Helper()
	formsDir := t.TempDir()
	return NewFormInstaller(formsDir, definition.NewParser(), survey.NewMapper(deployment), fs), formsDir
}

func openStore(t *testing.T) *store.MemoryFormStore {
	t.Helper()
	s := store.NewMemoryFormStore()
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func install(t *testing.T, inst *FormInstaller, name string, body []byte) {
	t.Helper()
	a := buildArchive(t, "bundle.zip", zipFile{name: name, body: body})
	if err := inst.Install(context.Background(), a.Entries()[0]); err != nil {
		t.Fatalf("Install(%s) error = %v", name, err)
	}
}

// installedVersion parses the definition file at path and returns its
// declared version.
func installedVersion(t *testing.T, path string) float64 {
	t.Helper()
	lf, err := definition.NewLoader(nil).LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile(%s) error = %v", path, err)
	}
	return lf.Form.Version
}

// failingStore rejects every SaveForm call.
type failingStore struct {
	*store.MemoryFormStore
}

func (failingStore) SaveForm(context.Context, model.Form) error {
	return errors.New("disk full")
}

func TestFormInstaller_Install_newForm(t *testing.T) {
	ctx := context.Background()
	fs := openStore(t)
	inst, formsDir := newInstaller(t, fs)

	install(t, inst, "surveys/12345/household.xml", fixture(t))

	form, err := fs.GetForm(ctx, "12345")
	if err != nil {
		t.Fatalf("GetForm() error = %v", err)
	}
	if form.Name != "Household Survey" {
		t.Errorf("Name = %q, want Household Survey", form.Name)
	}
	if form.Version != 3.0 {
		t.Errorf("Version = %v, want 3", form.Version)
	}
	if form.Location != model.LocationSDCard {
		t.Errorf("Location = %q, want %q", form.Location, model.LocationSDCard)
	}
	if form.Filename != "12345/household.xml" {
		t.Errorf("Filename = %q", form.Filename)
	}
	if form.Language != "en" {
		t.Errorf("Language = %q, want en", form.Language)
	}
	if !form.ResourcesDownloaded {
		t.Error("ResourcesDownloaded = false, want true")
	}
	if form.SurveyGroup.Name != "Water Points" {
		t.Errorf("SurveyGroup.Name = %q, want Water Points", form.SurveyGroup.Name)
	}

	langs, err := fs.Languages(ctx, "12345")
	if err != nil {
		t.Fatalf("Languages() error = %v", err)
	}
	if want := []string{"en", "fr", "sw"}; !reflect.DeepEqual(langs, want) {
		t.Errorf("Languages() = %v, want %v", langs, want)
	}

	installed, err := os.ReadFile(filepath.Join(formsDir, "12345", "household.xml"))
	if err != nil {
		t.Fatalf("read installed definition: %v", err)
	}
	if !bytes.Equal(installed, fixture(t)) {
		t.Error("installed definition differs from the archive entry")
	}

	if parts, _ := filepath.Glob(filepath.Join(formsDir, "12345", "*.part")); len(parts) != 0 {
		t.Errorf("staged files left behind: %v", parts)
	}
}

func TestFormInstaller_Install_missingLanguageDefaultsToEnglish(t *testing.T) {
	ctx := context.Background()
	fs := openStore(t)
	inst, _ := newInstaller(t, fs)

	install(t, inst, "500/small.xml", definitionFor("flowaglimmerofhope", "1"))

	form, err := fs.GetForm(ctx, "500")
	if err != nil {
		t.Fatalf("GetForm() error = %v", err)
	}
	if form.Language != "en" {
		t.Errorf("Language = %q, want en", form.Language)
	}
	langs, err := fs.Languages(ctx, "500")
	if err != nil {
		t.Fatalf("Languages() error = %v", err)
	}
	if len(langs) == 0 || langs[0] != form.Language {
		t.Errorf("Languages() = %v, want %q first", langs, form.Language)
	}
}

func TestFormInstaller_Install_wrongDeploymentNotPersisted(t *testing.T) {
	ctx := context.Background()
	fs := openStore(t)
	inst, formsDir := newInstaller(t, fs)
	a := buildArchive(t, "bundle.zip", zipFile{name: "500/small.xml", body: definitionFor("elsewhere", "2")})

	err := inst.Install(ctx, a.Entries()[0])
	if !errors.Is(err, model.ErrWrongDeployment) {
		t.Fatalf("Install() error = %v, want wrong deployment", err)
	}

	if _, err := fs.GetForm(ctx, "500"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("GetForm() error = %v, want not found", err)
	}
	forms, err := fs.ListForms(ctx)
	if err != nil {
		t.Fatalf("ListForms() error = %v", err)
	}
	if len(forms) != 0 {
		t.Errorf("stored forms = %d, want 0", len(forms))
	}
	if files, _ := filepath.Glob(filepath.Join(formsDir, "500", "*")); len(files) != 0 {
		t.Errorf("no definition file should remain, found %v", files)
	}
}

func TestFormInstaller_Install_emptyAppIsWrongDeployment(t *testing.T) {
	fs := openStore(t)
	inst, _ := newInstaller(t, fs)
	a := buildArchive(t, "bundle.zip", zipFile{name: "500/small.xml", body: definitionFor("", "2")})

	if err := inst.Install(context.Background(), a.Entries()[0]); !errors.Is(err, model.ErrWrongDeployment) {
		t.Errorf("Install() error = %v, want wrong deployment", err)
	}
}

func TestFormInstaller_Install_existingFormKeepsHigherVersion(t *testing.T) {
	ctx := context.Background()
	fs := openStore(t)
	formsDir := t.TempDir()
	parser := definition.NewParser()
	cache, err := definition.NewFormCache(definition.NewLoader(parser), 8, nil)
	if err != nil {
		t.Fatalf("NewFormCache() error = %v", err)
	}
	inst := NewFormInstaller(formsDir, parser, survey.NewMapper(deployment), fs, WithFormCache(cache))
	target := filepath.Join(formsDir, "500", "small.xml")

	install(t, inst, "500/small.xml", definitionFor("flowaglimmerofhope", "5"))
	if _, err := cache.Get(target); err != nil {
		t.Fatalf("cache.Get() error = %v", err)
	}

	install(t, inst, "500/small.xml", definitionFor("flowaglimmerofhope", "2"))

	form, err := fs.GetForm(ctx, "500")
	if err != nil {
		t.Fatalf("GetForm() error = %v", err)
	}
	if form.Version != 5.0 {
		t.Errorf("stored Version = %v, want 5", form.Version)
	}
	if got := installedVersion(t, target); got != 5.0 {
		t.Errorf("installed file declares version %v, want 5", got)
	}
	lf, err := definition.NewCatalog(formsDir, cache).Find("500")
	if err != nil {
		t.Fatalf("Catalog.Find() error = %v", err)
	}
	if lf.Form.Version != 5.0 {
		t.Errorf("catalog Version = %v, want 5", lf.Form.Version)
	}
	if parts, _ := filepath.Glob(filepath.Join(formsDir, "500", "*.part")); len(parts) != 0 {
		t.Errorf("staged files left behind: %v", parts)
	}
}

func TestFormInstaller_Install_existingRecordIsMerged(t *testing.T) {
	ctx := context.Background()
	fs := openStore(t)
	if err := fs.SaveForm(ctx, model.Form{
		ID:       "500",
		Name:     "Installed",
		Version:  5,
		Language: "fr",
		Location: "remote",
	}); err != nil {
		t.Fatalf("SaveForm() error = %v", err)
	}
	inst, formsDir := newInstaller(t, fs)

	install(t, inst, "500/small.xml", definitionFor("flowaglimmerofhope", "2"))

	form, err := fs.GetForm(ctx, "500")
	if err != nil {
		t.Fatalf("GetForm() error = %v", err)
	}
	if form.Version != 5.0 {
		t.Errorf("Version = %v, want 5", form.Version)
	}
	if form.Name != "Small" {
		t.Errorf("Name = %q, want Small", form.Name)
	}
	if form.Language != "fr" {
		t.Errorf("Language = %q, want fr", form.Language)
	}
	if form.Location != model.LocationSDCard {
		t.Errorf("Location = %q, want %q", form.Location, model.LocationSDCard)
	}
	if form.Filename != "500/small.xml" {
		t.Errorf("Filename = %q, want 500/small.xml", form.Filename)
	}
	if form.SurveyGroupID != 9 {
		t.Errorf("SurveyGroupID = %d, want 9", form.SurveyGroupID)
	}
	// Without an installed file the definition is still written.
	if _, err := os.Stat(filepath.Join(formsDir, "500", "small.xml")); err != nil {
		t.Errorf("definition not installed: %v", err)
	}
}

func TestFormInstaller_Install_storeFailureLeavesInstalledFile(t *testing.T) {
	ctx := context.Background()
	fs := openStore(t)
	formsDir := t.TempDir()
	parser := definition.NewParser()
	target := filepath.Join(formsDir, "500", "small.xml")

	good := NewFormInstaller(formsDir, parser, survey.NewMapper(deployment), fs)
	install(t, good, "500/small.xml", definitionFor("flowaglimmerofhope", "1"))

	broken := NewFormInstaller(formsDir, parser, survey.NewMapper(deployment), failingStore{fs})
	a := buildArchive(t, "bundle.zip", zipFile{name: "500/small.xml", body: definitionFor("flowaglimmerofhope", "2")})
	err := broken.Install(ctx, a.Entries()[0])
	if !errors.Is(err, model.ErrRecoverable) {
		t.Fatalf("Install() error = %v, want recoverable", err)
	}

	if got := installedVersion(t, target); got != 1.0 {
		t.Errorf("installed file declares version %v, want 1", got)
	}
	if parts, _ := filepath.Glob(filepath.Join(formsDir, "500", "*.part")); len(parts) != 0 {
		t.Errorf("staged files left behind: %v", parts)
	}
}

func TestFormInstaller_Install_rejectsEscapingFolder(t *testing.T) {
	fs := openStore(t)
	inst, _ := newInstaller(t, fs)
	a := buildArchive(t, "bundle.zip", zipFile{name: "../small.xml", body: definitionFor("flowaglimmerofhope", "2")})

	if err := inst.Install(context.Background(), a.Entries()[0]); !errors.Is(err, model.ErrRecoverable) {
		t.Errorf("Install() error = %v, want recoverable", err)
	}
}

func TestFormInstaller_Install_storeClosed(t *testing.T) {
	fs := store.NewMemoryFormStore()
	inst, _ := newInstaller(t, fs)
	a := buildArchive(t, "bundle.zip", zipFile{name: "500/small.xml", body: definitionFor("flowaglimmerofhope", "2")})

	err := inst.Install(context.Background(), a.Entries()[0])
	if !errors.Is(err, model.ErrRecoverable) {
		t.Errorf("Install() error = %v, want recoverable", err)
	}
	if !errors.Is(err, store.ErrSessionClosed) {
		t.Errorf("Install() error = %v, want session closed", err)
	}
}

func TestFormInstaller_Install_invalidatesCache(t *testing.T) {
	fs := openStore(t)
	formsDir := t.TempDir()
	parser := definition.NewParser()
	cache, err := definition.NewFormCache(definition.NewLoader(parser), 8, nil)
	if err != nil {
		t.Fatalf("NewFormCache() error = %v", err)
	}
	inst := NewFormInstaller(formsDir, parser, survey.NewMapper(deployment), fs, WithFormCache(cache))
	target := filepath.Join(formsDir, "500", "small.xml")

	install(t, inst, "500/small.xml", definitionFor("flowaglimmerofhope", "1"))
	first, err := cache.Get(target)
	if err != nil {
		t.Fatalf("cache.Get() error = %v", err)
	}
	if first.Form.Version != 1.0 {
		t.Errorf("first Version = %v, want 1", first.Form.Version)
	}

	install(t, inst, "500/small.xml", definitionFor("flowaglimmerofhope", "2"))
	second, err := cache.Get(target)
	if err != nil {
		t.Fatalf("cache.Get() error = %v", err)
	}
	if second.Form.Version != 2.0 {
		t.Errorf("second Version = %v, want 2", second.Form.Version)
	}
}

func TestRouter_ProcessArchive_endToEnd(t *testing.T) {
	ctx := context.Background()
	fs := openStore(t)
	inst, _ := newInstaller(t, fs)
	resDir := t.TempDir()
	r := NewRouter(NewResourceDir(resDir, nil), inst)

	bundle := zipBytes(t, zipFile{name: "cascade-77-v2.sqlite", body: []byte("db")})
	a := buildArchive(t, "bootstrap.zip",
		zipFile{name: "12345/cascade-77-v2.sqlite.zip", body: bundle},
		zipFile{name: "12345/household.xml", body: fixture(t)},
		zipFile{name: "500/small.xml", body: definitionFor("elsewhere", "1")},
		zipFile{name: "600/never.xml", body: definitionFor("flowaglimmerofhope", "1")},
	)

	if got := r.ProcessArchive(ctx, a); got != model.ResultWrongDeploymentError {
		t.Fatalf("ProcessArchive() = %v, want wrong deployment", got)
	}

	if _, err := os.Stat(filepath.Join(resDir, "cascade-77-v2.sqlite")); err != nil {
		t.Errorf("resource not extracted: %v", err)
	}
	forms, err := fs.ListForms(ctx)
	if err != nil {
		t.Fatalf("ListForms() error = %v", err)
	}
	// Entries before the failure stay applied, later ones never run.
	if len(forms) != 1 || forms[0].ID != "12345" {
		t.Errorf("stored forms = %+v, want only 12345", forms)
	}
}
