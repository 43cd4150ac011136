package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pitabwire/fieldform/model"
)

//go:embed migrations
var migrations embed.FS

// SQLiteFormStore is a FormStore backed by a SQLite file. Each session opens
// the database and applies pending migrations; Close releases the file.
type SQLiteFormStore struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteFormStore creates a store for the database file at path.
func NewSQLiteFormStore(path string) *SQLiteFormStore {
	return &SQLiteFormStore{path: path}
}

// Open opens the database and migrates it to the latest schema.
func (s *SQLiteFormStore) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", s.path, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("configure sqlite: %w", err)
	}
	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate sqlite: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database.
func (s *SQLiteFormStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteFormStore) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrSessionClosed
	}
	return s.db, nil
}

// GetForm returns the installed form with the given id.
func (s *SQLiteFormStore) GetForm(ctx context.Context, id string) (*model.Form, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	f, err := scanForm(db.QueryRowContext(ctx, `SELECT `+formColumns+formFrom+` WHERE f.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError(fmt.Sprintf("form %q not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("query form: %w", err)
	}
	return &f, nil
}

// SaveSurveyGroup inserts or replaces a survey group.
func (s *SQLiteFormStore) SaveSurveyGroup(ctx context.Context, g model.SurveyGroup) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO survey_groups (id, name, registration_form_id, monitored)
		VALUES (?, ?, ?, ?)`,
		g.ID, g.Name, g.RegistrationFormID, g.Monitored,
	)
	if err != nil {
		return fmt.Errorf("save survey group: %w", err)
	}
	return nil
}

// SaveForm inserts or replaces a form header.
func (s *SQLiteFormStore) SaveForm(ctx context.Context, f model.Form) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO forms (
			id, survey_group_id, name, version, location, filename, language,
			resources_downloaded, deleted, app, alias, registration_form_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.SurveyGroupID, f.Name, f.Version, f.Location, f.Filename, f.Language,
		f.ResourcesDownloaded, f.Deleted, f.App, f.Alias, f.RegistrationFormID,
	)
	if err != nil {
		return fmt.Errorf("save form: %w", err)
	}
	return nil
}

// SaveLanguages replaces the language list of a form.
func (s *SQLiteFormStore) SaveLanguages(ctx context.Context, formID string, languages []string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM form_languages WHERE form_id = ?`, formID); err != nil {
		return fmt.Errorf("clear languages: %w", err)
	}
	for i, lang := range languages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO form_languages (form_id, position, language) VALUES (?, ?, ?)`,
			formID, i, lang,
		); err != nil {
			return fmt.Errorf("insert language: %w", err)
		}
	}
	return tx.Commit()
}

// Languages returns the language list of a form.
func (s *SQLiteFormStore) Languages(ctx context.Context, formID string) ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT language FROM form_languages WHERE form_id = ? ORDER BY position`, formID)
	if err != nil {
		return nil, fmt.Errorf("query languages: %w", err)
	}
	defer rows.Close()

	var langs []string
	for rows.Next() {
		var lang string
		if err := rows.Scan(&lang); err != nil {
			return nil, fmt.Errorf("scan language: %w", err)
		}
		langs = append(langs, lang)
	}
	return langs, rows.Err()
}

// ListForms returns all installed forms that are not deleted.
func (s *SQLiteFormStore) ListForms(ctx context.Context) ([]model.Form, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT `+formColumns+formFrom+` WHERE f.deleted = FALSE ORDER BY f.id`)
	if err != nil {
		return nil, fmt.Errorf("query forms: %w", err)
	}
	defer rows.Close()

	var forms []model.Form
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		forms = append(forms, f)
	}
	return forms, rows.Err()
}

func migrateSQLite(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}

	dst, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}

	migrator, err := migrate.NewWithInstance("iofs", src, "sqlite3", dst)
	if err != nil {
		return err
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
