// Package store persists installed form headers, their survey groups and the
// languages each form is available in.
package store

import (
	"context"
	"errors"

	"github.com/pitabwire/fieldform/model"
)

// ErrSessionClosed is returned by FormStore operations outside Open/Close.
var ErrSessionClosed = errors.New("form store session is not open")

// FormStore is the persistence session a bootstrap run writes through. A
// session is opened once per run and closed when the run ends; it is not
// shared between concurrent runs.
type FormStore interface {
	// Open starts a session.
	Open(ctx context.Context) error

	// Close ends the session. Closing a closed session is a no-op.
	Close() error

	// GetForm returns the installed form with the given id, or NOT_FOUND.
	GetForm(ctx context.Context, id string) (*model.Form, error)

	// SaveSurveyGroup inserts or replaces a survey group.
	SaveSurveyGroup(ctx context.Context, group model.SurveyGroup) error

	// SaveForm inserts or replaces a form header. The question tree is not
	// persisted; it is read from the installed definition file.
	SaveForm(ctx context.Context, form model.Form) error

	// SaveLanguages replaces the ordered language list of a form.
	SaveLanguages(ctx context.Context, formID string, languages []string) error

	// Languages returns the ordered language list of a form.
	Languages(ctx context.Context, formID string) ([]string, error)

	// ListForms returns all installed forms that are not deleted, ordered by
	// id.
	ListForms(ctx context.Context) ([]model.Form, error)
}

var (
	_ FormStore = (*MemoryFormStore)(nil)
	_ FormStore = (*SQLiteFormStore)(nil)
	_ FormStore = (*PgFormStore)(nil)
)
