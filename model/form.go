// Package model holds the value types shared by the parser, the answer codec
// and the bootstrap pipeline: the form tree, its survey identity and the
// answer records produced on the device.
package model

import (
	"strconv"
	"strings"
)

// Question type tags used in the definition dialect.
const (
	QuestionTypeFree      = "free"
	QuestionTypeNumeric   = "numeric"
	QuestionTypeOption    = "option"
	QuestionTypeCascade   = "cascade"
	QuestionTypeDate      = "date"
	QuestionTypeGeo       = "geo"
	QuestionTypeGeoShape  = "geoshape"
	QuestionTypePhoto     = "photo"
	QuestionTypeVideo     = "video"
	QuestionTypeSignature = "signature"
	QuestionTypeScan      = "scan"
	QuestionTypeCaddisfly = "caddisfly"
)

// LocationSDCard tags forms installed from a bootstrap archive.
const LocationSDCard = "sdcard"

// DefaultMaxLength is the max length of a free text answer when the
// validation rule does not declare one.
const DefaultMaxLength = 9999

// Form is one version of a question set together with its parsed tree.
type Form struct {
	ID                  string
	SurveyGroupID       int64
	Name                string
	Version             float64
	Location            string
	Filename            string
	Language            string
	ResourcesDownloaded bool
	Deleted             bool

	// Header attributes read from the root element.
	App                string
	Alias              string
	RegistrationFormID string
	SurveyGroup        SurveyGroup

	Groups []QuestionGroup
}

// QuestionCount returns the number of questions across all groups.
func (f *Form) QuestionCount() int {
	n := 0
	for _, g := range f.Groups {
		n += len(g.Questions)
	}
	return n
}

// Question returns the question with the given id. Iteration suffixes are
// ignored so that answers of repeated groups resolve to their definition.
func (f *Form) Question(id string) (Question, bool) {
	base, _, _ := SplitQuestionID(id)
	for _, g := range f.Groups {
		for _, q := range g.Questions {
			if q.ID == base {
				return q, true
			}
		}
	}
	return Question{}, false
}

// SurveyGroup is the survey a form belongs to.
type SurveyGroup struct {
	ID                 int64
	Name               string
	RegistrationFormID string
	Monitored          bool
}

// QuestionGroup is an ordered block of questions within a form.
type QuestionGroup struct {
	Heading    string
	AltTexts   map[string]AltText
	Repeatable bool
	Order      int
	Questions  []Question
}

// Question is a single prompt of a form.
type Question struct {
	ID              string
	Type            string
	Order           int
	Text            string
	Mandatory       bool
	Locked          bool
	DoubleEntry     bool
	AllowOther      bool
	AllowMultiple   bool
	CascadeResource string
	PluginResource  string
	LocaleName      bool
	LocaleLocation  bool
	AllowPoints     bool
	AllowLine       bool
	AllowPolygon    bool

	Options        []Option
	Levels         []Level
	ValidationRule *ValidationRule
	Dependencies   []Dependency
	Help           []Help
	AltTexts       map[string]AltText
}

// Dependency returns the dependency consumers evaluate. A definition may
// declare several; the last one wins.
func (q Question) Dependency() (Dependency, bool) {
	if len(q.Dependencies) == 0 {
		return Dependency{}, false
	}
	return q.Dependencies[len(q.Dependencies)-1], true
}

// TextFor returns the question text in the given language, falling back to
// the default text.
func (q Question) TextFor(language string) string {
	if alt, ok := q.AltTexts[language]; ok && alt.Text != "" {
		return alt.Text
	}
	return q.Text
}

// SplitQuestionID separates the iteration suffix of a repeated group question
// id ("q1|2"). ok is false when the id carries no valid suffix.
func SplitQuestionID(id string) (base string, iteration int, ok bool) {
	i := strings.LastIndex(id, "|")
	if i < 0 {
		return id, 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return id, 0, false
	}
	return id[:i], n, true
}

// Option is a selectable answer of an option question.
type Option struct {
	Text     string
	Code     string
	IsOther  bool
	AltTexts map[string]AltText
}

// SameSelectionAs reports whether two options denote the same selection.
// Only the display text is compared; codes and flags are ignored.
func (o Option) SameSelectionAs(other Option) bool {
	return o.Text == other.Text
}

// Level is a rung of a cascade hierarchy, such as Province or District.
type Level struct {
	Text     string
	AltTexts map[string]AltText
}

// CascadeNode is one selected value of a cascade answer.
type CascadeNode struct {
	Code string
	Name string
}

// Dependency makes a question relevant only when the referenced question's
// answer matches Answer. A nil Answer means the attribute was absent.
type Dependency struct {
	Question string
	Answer   *string
}

// AltText is a translation of a question, option or help text.
type AltText struct {
	Language string
	Type     string
	Text     string
}

// Help is an explanatory text attached to a question.
type Help struct {
	Type     string
	Text     string
	AltTexts map[string]AltText
}

// HelpTypeTip is the type of help declared without one.
const HelpTypeTip = "tip"

// Valid reports whether the help carries any text.
func (h Help) Valid() bool {
	return h.Text != "" || len(h.AltTexts) > 0
}

// ValidationRule constrains free text and numeric answers.
type ValidationRule struct {
	Type         string
	AllowDecimal bool
	AllowSigned  bool
	MaxLength    int
	MinVal       *float64
	MaxVal       *float64
}

// SurveyMetadata is the identity-relevant header of a definition.
type SurveyMetadata struct {
	ID          string
	Name        string
	Version     float64
	App         string
	Alias       string
	SurveyGroup SurveyGroup
}

// DefinitionMetadata is the result of a metadata-only parse.
type DefinitionMetadata struct {
	Version   float64
	Resources []string
}

func addAltText(m map[string]AltText, alt AltText) map[string]AltText {
	if m == nil {
		m = make(map[string]AltText)
	}
	m[alt.Language] = alt
	return m
}

// AddAltText attaches a translation to the question.
func (q *Question) AddAltText(alt AltText) { q.AltTexts = addAltText(q.AltTexts, alt) }

// AddAltText attaches a translation to the option.
func (o *Option) AddAltText(alt AltText) { o.AltTexts = addAltText(o.AltTexts, alt) }

// AddAltText attaches a translation to the help entry.
func (h *Help) AddAltText(alt AltText) { h.AltTexts = addAltText(h.AltTexts, alt) }

// AddAltText attaches a translation to the level.
func (l *Level) AddAltText(alt AltText) { l.AltTexts = addAltText(l.AltTexts, alt) }

// AddAltText attaches a translation to the group heading.
func (g *QuestionGroup) AddAltText(alt AltText) { g.AltTexts = addAltText(g.AltTexts, alt) }
