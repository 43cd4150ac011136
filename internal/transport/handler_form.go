package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/fieldform/internal/definition"
	"github.com/pitabwire/fieldform/model"
)

// FormSummary describes one installed definition.
type FormSummary struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Version   float64  `json:"version"`
	App       string   `json:"app"`
	GroupID   int64    `json:"survey_group_id"`
	Languages []string `json:"languages"`
	Questions int      `json:"questions"`
	Checksum  string   `json:"checksum"`
}

// FormDetail is a FormSummary with its question groups.
type FormDetail struct {
	FormSummary
	Groups []GroupView `json:"groups"`
}

// GroupView is the JSON view of a question group.
type GroupView struct {
	Heading    string         `json:"heading"`
	Repeatable bool           `json:"repeatable"`
	Questions  []QuestionView `json:"questions"`
}

// QuestionView is the JSON view of a question.
type QuestionView struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Order     int      `json:"order"`
	Text      string   `json:"text"`
	Mandatory bool     `json:"mandatory"`
	Options   []string `json:"options,omitempty"`
	Levels    []string `json:"levels,omitempty"`
	DependsOn string   `json:"depends_on,omitempty"`
}

func summarize(lf definition.LoadedForm) FormSummary {
	f := lf.Form
	return FormSummary{
		ID:        f.ID,
		Name:      f.Name,
		Version:   f.Version,
		App:       lf.Metadata.App,
		GroupID:   f.SurveyGroupID,
		Languages: lf.Languages,
		Questions: f.QuestionCount(),
		Checksum:  lf.Checksum,
	}
}

func detail(lf definition.LoadedForm) FormDetail {
	d := FormDetail{FormSummary: summarize(lf)}
	for _, g := range lf.Form.Groups {
		gv := GroupView{Heading: g.Heading, Repeatable: g.Repeatable}
		for _, q := range g.Questions {
			gv.Questions = append(gv.Questions, questionView(q))
		}
		d.Groups = append(d.Groups, gv)
	}
	return d
}

func questionView(q model.Question) QuestionView {
	qv := QuestionView{
		ID:        q.ID,
		Type:      q.Type,
		Order:     q.Order,
		Text:      q.Text,
		Mandatory: q.Mandatory,
	}
	for _, o := range q.Options {
		qv.Options = append(qv.Options, o.Text)
	}
	for _, l := range q.Levels {
		qv.Levels = append(qv.Levels, l.Text)
	}
	if dep, ok := q.Dependency(); ok {
		qv.DependsOn = dep.Question
	}
	return qv
}

func handleListForms(forms FormCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		loaded, err := forms.List()
		if err != nil {
			WriteError(w, err)
			return
		}
		out := make([]FormSummary, 0, len(loaded))
		for _, lf := range loaded {
			out = append(out, summarize(lf))
		}
		WriteJSON(w, http.StatusOK, map[string]any{"forms": out})
	}
}

func handleGetForm(forms FormCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lf, err := forms.Find(chi.URLParam(r, "formId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, detail(lf))
	}
}
