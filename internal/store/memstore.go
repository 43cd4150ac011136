package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pitabwire/fieldform/model"
)

// MemoryFormStore is an in-memory FormStore for tests and single-process
// deployments.
type MemoryFormStore struct {
	mu        sync.RWMutex
	open      bool
	opens     int
	forms     map[string]model.Form      // key: form ID
	groups    map[int64]model.SurveyGroup // key: survey group ID
	languages map[string][]string        // key: form ID
}

// NewMemoryFormStore creates a new in-memory form store.
func NewMemoryFormStore() *MemoryFormStore {
	return &MemoryFormStore{
		forms:     make(map[string]model.Form),
		groups:    make(map[int64]model.SurveyGroup),
		languages: make(map[string][]string),
	}
}

// Open starts a session.
func (s *MemoryFormStore) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	s.opens++
	return nil
}

// Close ends the session.
func (s *MemoryFormStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

// IsOpen reports whether a session is open.
func (s *MemoryFormStore) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// OpenCount returns how many sessions have been opened.
func (s *MemoryFormStore) OpenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opens
}

// GetForm returns the installed form with the given id.
func (s *MemoryFormStore) GetForm(_ context.Context, id string) (*model.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.open {
		return nil, ErrSessionClosed
	}
	f, ok := s.forms[id]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("form %q not found", id))
	}
	if g, ok := s.groups[f.SurveyGroupID]; ok {
		f.SurveyGroup = g
	}
	return &f, nil
}

// SaveSurveyGroup inserts or replaces a survey group.
func (s *MemoryFormStore) SaveSurveyGroup(_ context.Context, group model.SurveyGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrSessionClosed
	}
	s.groups[group.ID] = group
	return nil
}

// SaveForm inserts or replaces a form header.
func (s *MemoryFormStore) SaveForm(_ context.Context, form model.Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrSessionClosed
	}
	form.Groups = nil
	s.forms[form.ID] = form
	return nil
}

// SaveLanguages replaces the language list of a form.
func (s *MemoryFormStore) SaveLanguages(_ context.Context, formID string, languages []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrSessionClosed
	}
	s.languages[formID] = append([]string(nil), languages...)
	return nil
}

// Languages returns the language list of a form.
func (s *MemoryFormStore) Languages(_ context.Context, formID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.open {
		return nil, ErrSessionClosed
	}
	return append([]string(nil), s.languages[formID]...), nil
}

// ListForms returns all installed forms that are not deleted.
func (s *MemoryFormStore) ListForms(_ context.Context) ([]model.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.open {
		return nil, ErrSessionClosed
	}
	forms := make([]model.Form, 0, len(s.forms))
	for _, f := range s.forms {
		if f.Deleted {
			continue
		}
		if g, ok := s.groups[f.SurveyGroupID]; ok {
			f.SurveyGroup = g
		}
		forms = append(forms, f)
	}
	sort.Slice(forms, func(i, j int) bool { return forms[i].ID < forms[j].ID })
	return forms, nil
}
