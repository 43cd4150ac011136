package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/fieldform/internal/definition"
	"github.com/pitabwire/fieldform/internal/observability"
	"github.com/pitabwire/fieldform/internal/store"
	"github.com/pitabwire/fieldform/internal/survey"
	"github.com/pitabwire/fieldform/model"
)

// FormInstaller installs definition entries into the forms directory and
// records them in the form store.
type FormInstaller struct {
	formsDir string
	parser   *definition.Parser
	mapper   *survey.Mapper
	store    store.FormStore
	cache    *definition.FormCache
	logger   *zap.Logger
}

// InstallerOption configures a FormInstaller.
type InstallerOption func(*FormInstaller)

// WithFormCache invalidates installed paths in cache.
func WithFormCache(cache *definition.FormCache) InstallerOption {
	return func(i *FormInstaller) { i.cache = cache }
}

// WithInstallerLogger sets the installer logger.
func WithInstallerLogger(logger *zap.Logger) InstallerOption {
	return func(i *FormInstaller) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewFormInstaller creates a FormInstaller.
func NewFormInstaller(formsDir string, parser *definition.Parser, mapper *survey.Mapper, fs store.FormStore, opts ...InstallerOption) *FormInstaller {
	i := &FormInstaller{
		formsDir: formsDir,
		parser:   parser,
		mapper:   mapper,
		store:    fs,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Install copies the definition held by e to <formsDir>/<folder>/<file>,
// checks that it targets this deployment, and saves the resulting form, its
// survey group and its languages. The file is moved into place only after the
// store accepted the form and never over an installed higher version. A
// definition for another deployment is removed again and reported as
// model.ErrWrongDeployment; nothing is stored.
func (i *FormInstaller) Install(ctx context.Context, e Entry) error {
	name := e.Name()
	fileName := survey.FileName(name)
	pathID := survey.ResolveSurveyID(name)
	folder := survey.FolderName(name)

	existing, err := i.store.GetForm(ctx, pathID)
	if errors.Is(err, model.ErrNotFound) {
		existing = nil
	} else if err != nil {
		return model.NewRecoverableError("looking up installed form", err)
	}

	target, err := safeJoin(i.formsDir, survey.InstalledFilename(folder, fileName))
	if err != nil {
		return model.NewRecoverableError("resolving definition path", err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return model.NewRecoverableError("creating form folder", err)
	}

	staged := target + ".part"
	if err := copyEntry(e, staged); err != nil {
		_ = os.Remove(staged)
		return model.NewRecoverableError("copying definition", err)
	}

	form, meta, err := i.parse(staged)
	if err != nil {
		_ = os.Remove(staged)
		return model.NewRecoverableError("parsing definition", err)
	}

	merged, err := i.mapper.CreateOrUpdate(fileName, pathID, existing, folder, meta)
	if err != nil {
		_ = os.Remove(staged)
		return err
	}
	if existing == nil {
		merged.Language = form.Language
	}
	trace.SpanFromContext(ctx).SetAttributes(observability.AttrFormID.String(merged.ID))

	replace := replacesInstalled(existing, meta, target)
	source := staged
	if !replace {
		_ = os.Remove(staged)
		source = target
	}

	langs, err := i.languages(source)
	if err != nil {
		if replace {
			_ = os.Remove(staged)
		}
		return model.NewRecoverableError("reading definition languages", err)
	}

	if err := i.save(ctx, *merged, langs); err != nil {
		if replace {
			_ = os.Remove(staged)
		}
		return err
	}

	if replace {
		if err := os.Rename(staged, target); err != nil {
			_ = os.Remove(staged)
			return model.NewRecoverableError("installing definition", err)
		}
		if i.cache != nil {
			i.cache.Invalidate(target)
		}
	}

	observability.LoggerFrom(ctx, i.logger).Info("form installed",
		zap.String("form_id", merged.ID),
		zap.Float64("version", merged.Version),
		zap.String("filename", merged.Filename),
		zap.Int("questions", form.QuestionCount()),
		zap.Bool("file_replaced", replace),
	)
	return nil
}

func (i *FormInstaller) save(ctx context.Context, form model.Form, langs []string) error {
	if err := i.store.SaveSurveyGroup(ctx, form.SurveyGroup); err != nil {
		return model.NewRecoverableError("saving survey group", err)
	}
	if err := i.store.SaveForm(ctx, form); err != nil {
		return model.NewRecoverableError("saving form", err)
	}
	if err := i.store.SaveLanguages(ctx, form.ID, langs); err != nil {
		return model.NewRecoverableError("saving form languages", err)
	}
	return nil
}

// replacesInstalled reports whether the staged definition should replace the
// file at target. A lower declared version than the installed form leaves an
// existing file in place.
func replacesInstalled(existing *model.Form, meta model.SurveyMetadata, target string) bool {
	if existing == nil || meta.Version <= 0 || meta.Version >= existing.Version {
		return true
	}
	if _, err := os.Stat(target); err != nil {
		return true
	}
	return false
}

func (i *FormInstaller) parse(path string) (*model.Form, model.SurveyMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, model.SurveyMetadata{}, fmt.Errorf("open %s: %w", path, err)
	}
	return i.parser.ParseWithMetadata(f)
}

func (i *FormInstaller) languages(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return i.parser.ParseLanguageCodes(f)
}
