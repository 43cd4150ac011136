package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/fieldform/model"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS survey_groups (
  id BIGINT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  registration_form_id TEXT NOT NULL DEFAULT '',
  monitored BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS forms (
  id TEXT PRIMARY KEY,
  survey_group_id BIGINT NOT NULL DEFAULT -1,
  name TEXT NOT NULL DEFAULT '',
  version DOUBLE PRECISION NOT NULL DEFAULT 0,
  location TEXT NOT NULL DEFAULT '',
  filename TEXT NOT NULL DEFAULT '',
  language TEXT NOT NULL DEFAULT '',
  resources_downloaded BOOLEAN NOT NULL DEFAULT FALSE,
  deleted BOOLEAN NOT NULL DEFAULT FALSE,
  app TEXT NOT NULL DEFAULT '',
  alias TEXT NOT NULL DEFAULT '',
  registration_form_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS form_languages (
  form_id TEXT NOT NULL,
  position INTEGER NOT NULL,
  language TEXT NOT NULL,
  PRIMARY KEY (form_id, position)
);
`

// PgFormStore is a PostgreSQL-backed FormStore using pgx/v5. A session holds
// one pooled connection from Open until Close.
type PgFormStore struct {
	pool *pgxpool.Pool

	schemaOnce sync.Once
	schemaErr  error

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// NewPgFormStore creates a new PostgreSQL form store. The pool is owned by
// the caller.
func NewPgFormStore(pool *pgxpool.Pool) *PgFormStore {
	return &PgFormStore{pool: pool}
}

// EnsureSchema creates the store tables if they do not exist.
func (s *PgFormStore) EnsureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
			s.schemaErr = fmt.Errorf("create schema: %w", err)
		}
	})
	return s.schemaErr
}

// Open acquires a connection for the session.
func (s *PgFormStore) Open(ctx context.Context) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	s.conn = conn
	return nil
}

// Close releases the session connection back to the pool.
func (s *PgFormStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
	}
	return nil
}

func (s *PgFormStore) session() (*pgxpool.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, ErrSessionClosed
	}
	return s.conn, nil
}

// GetForm returns the installed form with the given id.
func (s *PgFormStore) GetForm(ctx context.Context, id string) (*model.Form, error) {
	conn, err := s.session()
	if err != nil {
		return nil, err
	}

	f, err := scanForm(conn.QueryRow(ctx, `SELECT `+formColumns+formFrom+` WHERE f.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NewNotFoundError(fmt.Sprintf("form %q not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("query form: %w", err)
	}
	return &f, nil
}

// SaveSurveyGroup inserts or updates a survey group.
func (s *PgFormStore) SaveSurveyGroup(ctx context.Context, g model.SurveyGroup) error {
	conn, err := s.session()
	if err != nil {
		return err
	}

	_, err = conn.Exec(ctx, `
		INSERT INTO survey_groups (id, name, registration_form_id, monitored)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			registration_form_id = EXCLUDED.registration_form_id,
			monitored = EXCLUDED.monitored`,
		g.ID, g.Name, g.RegistrationFormID, g.Monitored,
	)
	if err != nil {
		return fmt.Errorf("save survey group: %w", err)
	}
	return nil
}

// SaveForm inserts or updates a form header.
func (s *PgFormStore) SaveForm(ctx context.Context, f model.Form) error {
	conn, err := s.session()
	if err != nil {
		return err
	}

	_, err = conn.Exec(ctx, `
		INSERT INTO forms (
			id, survey_group_id, name, version, location, filename, language,
			resources_downloaded, deleted, app, alias, registration_form_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			survey_group_id = EXCLUDED.survey_group_id,
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			location = EXCLUDED.location,
			filename = EXCLUDED.filename,
			language = EXCLUDED.language,
			resources_downloaded = EXCLUDED.resources_downloaded,
			deleted = EXCLUDED.deleted,
			app = EXCLUDED.app,
			alias = EXCLUDED.alias,
			registration_form_id = EXCLUDED.registration_form_id`,
		f.ID, f.SurveyGroupID, f.Name, f.Version, f.Location, f.Filename, f.Language,
		f.ResourcesDownloaded, f.Deleted, f.App, f.Alias, f.RegistrationFormID,
	)
	if err != nil {
		return fmt.Errorf("save form: %w", err)
	}
	return nil
}

// SaveLanguages replaces the language list of a form in one transaction.
func (s *PgFormStore) SaveLanguages(ctx context.Context, formID string, languages []string) error {
	conn, err := s.session()
	if err != nil {
		return err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM form_languages WHERE form_id = $1`, formID); err != nil {
		return fmt.Errorf("clear languages: %w", err)
	}
	for i, lang := range languages {
		if _, err := tx.Exec(ctx,
			`INSERT INTO form_languages (form_id, position, language) VALUES ($1, $2, $3)`,
			formID, i, lang,
		); err != nil {
			return fmt.Errorf("insert language: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Languages returns the language list of a form.
func (s *PgFormStore) Languages(ctx context.Context, formID string) ([]string, error) {
	conn, err := s.session()
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx,
		`SELECT language FROM form_languages WHERE form_id = $1 ORDER BY position`, formID)
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
func (s *PgFormStore) ListForms(ctx context.Context) ([]model.Form, error) {
	conn, err := s.session()
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, `SELECT `+formColumns+formFrom+` WHERE NOT f.deleted ORDER BY f.id`)
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
