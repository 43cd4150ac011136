// Package definition parses form definition files into form trees and keeps
// recently used trees in memory.
package definition

import (
	"encoding/xml"
	"errors"
	"io"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/pitabwire/fieldform/model"
)

// Element names of the definition dialect.
const (
	elSurvey         = "survey"
	elGroup          = "questionGroup"
	elHeading        = "heading"
	elQuestion       = "question"
	elOptions        = "options"
	elOption         = "option"
	elLevels         = "levels"
	elLevel          = "level"
	elDependency     = "dependency"
	elValidationRule = "validationRule"
	elAltText        = "altText"
	elHelp           = "help"
	elText           = "text"
)

// Attribute names of the definition dialect.
const (
	attrName            = "name"
	attrVersion         = "version"
	attrFormID          = "surveyId"
	attrSurveyGroupID   = "surveyGroupId"
	attrSurveyGroupName = "surveyGroupName"
	attrDefaultLang     = "defaultLanguageCode"
	attrApp             = "app"
	attrAlias           = "alias"
	attrRegistration    = "registrationSurvey"
	attrRepeatable      = "repeatable"
	attrID              = "id"
	attrType            = "type"
	attrOrder           = "order"
	attrMandatory       = "mandatory"
	attrLocked          = "locked"
	attrDoubleEntry     = "requireDoubleEntry"
	attrAllowOther      = "allowOther"
	attrAllowMultiple   = "allowMultiple"
	attrCascadeResource = "cascadeResource"
	attrPluginResource  = "caddisflyResourceUuid"
	attrLocaleName      = "localeNameFlag"
	attrLocaleLocation  = "localeLocationFlag"
	attrAllowPoints     = "allowPoints"
	attrAllowLine       = "allowLine"
	attrAllowPolygon    = "allowPolygon"
	attrCode            = "code"
	attrIsOther         = "isOther"
	attrLanguage        = "language"
	attrQuestion        = "question"
	attrAnswer          = "answer-value"
	attrValidationType  = "validationType"
	attrAllowDecimal    = "allowDecimal"
	attrSigned          = "signed"
	attrMaxLength       = "maxLength"
	attrMinVal          = "minVal"
	attrMaxVal          = "maxVal"
)

// defaultLanguage is reported when a definition declares none.
const defaultLanguage = "en"

// ParseObserver is notified after every full definition parse.
type ParseObserver interface {
	DefinitionParsed(degraded bool)
}

// Parser reads definition files. It is stateless between calls and safe for
// concurrent use; every entry point consumes and closes its stream.
type Parser struct {
	logger   *zap.Logger
	policy   DegradePolicy
	observer ParseObserver
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithLogger sets the logger used to report degraded parses.
func WithLogger(logger *zap.Logger) ParserOption {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPolicy replaces the default Lenient degrade policy.
func WithPolicy(policy DegradePolicy) ParserOption {
	return func(p *Parser) {
		if policy != nil {
			p.policy = policy
		}
	}
}

// WithObserver registers an observer of full parses.
func WithObserver(o ParseObserver) ParserOption {
	return func(p *Parser) { p.observer = o }
}

// NewParser creates a Parser.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{logger: zap.NewNop(), policy: Lenient}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse reads a complete form tree.
func (p *Parser) Parse(r io.ReadCloser) (*model.Form, error) {
	form, _, err := p.ParseWithMetadata(r)
	return form, err
}

// ParseWithMetadata reads a complete form tree together with the survey
// identity declared by its root element. On a syntax or I/O failure the tree
// built so far is returned and the degrade policy decides the error.
func (p *Parser) ParseWithMetadata(r io.ReadCloser) (*model.Form, model.SurveyMetadata, error) {
	defer p.close(r)

	b := newFormBuilder()
	err := p.walk(r, b.handle)
	if p.observer != nil {
		p.observer.DefinitionParsed(err != nil)
	}
	return b.form, b.meta, p.degrade(err)
}

// ParseLanguageCodes returns the languages a definition is available in: the
// default language first ("en" when undeclared), then every altText language
// in order of first appearance.
func (p *Parser) ParseLanguageCodes(r io.ReadCloser) ([]string, error) {
	defer p.close(r)

	def := ""
	var found []string
	err := p.walk(r, func(tok xml.Token) {
		start, ok := tok.(xml.StartElement)
		if !ok {
			return
		}
		a := attrs(start.Attr)
		switch start.Name.Local {
		case elSurvey:
			if lang := a.str(attrDefaultLang); lang != "" {
				def = lang
			}
		case elAltText:
			if lang := a.str(attrLanguage); lang != "" {
				found = append(found, lang)
			}
		}
	})

	if def == "" {
		def = defaultLanguage
	}
	codes := []string{def}
	seen := map[string]bool{def: true}
	for _, lang := range found {
		if !seen[lang] {
			seen[lang] = true
			codes = append(codes, lang)
		}
	}
	return codes, p.degrade(err)
}

// ParseMetadata reads only the definition version and the cascade resources
// its questions reference.
func (p *Parser) ParseMetadata(r io.ReadCloser) (model.DefinitionMetadata, error) {
	defer p.close(r)

	var meta model.DefinitionMetadata
	err := p.walk(r, func(tok xml.Token) {
		start, ok := tok.(xml.StartElement)
		if !ok {
			return
		}
		a := attrs(start.Attr)
		switch start.Name.Local {
		case elSurvey:
			meta.Version = a.float(attrVersion, 0)
		case elQuestion:
			if res := a.str(attrCascadeResource); res != "" {
				meta.Resources = append(meta.Resources, res)
			}
		}
	})
	return meta, p.degrade(err)
}

// walk feeds every token of the document to handle. It returns nil at the end
// of the document and the first syntax or read error otherwise.
func (p *Parser) walk(r io.Reader, handle func(xml.Token)) error {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		handle(tok)
	}
}

func (p *Parser) degrade(err error) error {
	if err == nil {
		return nil
	}
	return p.policy(p.logger, err)
}

func (p *Parser) close(r io.Closer) {
	if err := r.Close(); err != nil {
		p.logger.Debug("closing definition stream", zap.Error(err))
	}
}

// formBuilder assembles a form tree from tokens.
type formBuilder struct {
	form       *model.Form
	meta       model.SurveyMetadata
	stack      scopeStack
	groupOrder int
}

func newFormBuilder() *formBuilder {
	return &formBuilder{form: &model.Form{ID: "-1", SurveyGroupID: -1}}
}

func (b *formBuilder) handle(tok xml.Token) {
	switch t := tok.(type) {
	case xml.StartElement:
		b.start(t.Name.Local, attrs(t.Attr))
	case xml.EndElement:
		b.end()
	case xml.CharData:
		if f := b.stack.top(); f != nil {
			f.buf.Write(t)
		}
	}
}

func (b *formBuilder) start(name string, a attrs) {
	f := &frame{kind: frameUnknown}

	switch name {
	case elSurvey:
		f.kind = frameSurvey
		b.readSurvey(a)
	case elGroup:
		b.groupOrder++
		f.kind = frameGroup
		f.group = &model.QuestionGroup{
			Order:      b.groupOrder,
			Repeatable: a.boolean(attrRepeatable),
		}
	case elHeading:
		f.kind = frameHeading
	case elQuestion:
		f.kind = frameQuestion
		f.question = b.newQuestion(a)
	case elOptions:
		f.kind = frameOptions
		if q := b.stack.currentQuestion(); q != nil {
			if _, ok := a.lookup(attrAllowOther); ok {
				q.AllowOther = a.boolean(attrAllowOther)
			}
			if _, ok := a.lookup(attrAllowMultiple); ok {
				q.AllowMultiple = a.boolean(attrAllowMultiple)
			}
		}
	case elOption:
		f.kind = frameOption
		f.option = &model.Option{Code: a.str(attrCode), IsOther: a.boolean(attrIsOther)}
	case elLevels:
		f.kind = frameLevels
	case elLevel:
		f.kind = frameLevel
		f.level = &model.Level{}
	case elHelp:
		f.kind = frameHelp
		f.help = &model.Help{Type: a.str(attrType)}
	case elAltText:
		f.kind = frameAltText
		f.alt = &model.AltText{Language: a.str(attrLanguage), Type: a.str(attrType)}
	case elText:
		f.kind = frameText
	case elDependency:
		if q := b.stack.currentQuestion(); q != nil {
			q.Dependencies = append(q.Dependencies, model.Dependency{
				Question: a.str(attrQuestion),
				Answer:   a.strPtr(attrAnswer),
			})
		}
	case elValidationRule:
		if q := b.stack.currentQuestion(); q != nil {
			q.ValidationRule = readValidationRule(a)
		}
	}

	b.stack.push(f)
}

func (b *formBuilder) end() {
	f := b.stack.pop()
	if f == nil {
		return
	}

	switch f.kind {
	case frameGroup:
		b.form.Groups = append(b.form.Groups, *f.group)
	case frameHeading:
		if g := b.stack.currentGroup(); g != nil {
			g.Heading = f.text()
		}
	case frameText:
		if parent := b.stack.top(); parent != nil {
			parent.childText = f.text()
		}
	case frameQuestion:
		q := f.question
		if t := f.text(); t != "" {
			q.Text = t
		}
		// Questions outside a group have no owner in the tree.
		if g := b.stack.currentGroup(); g != nil {
			g.Questions = append(g.Questions, *q)
		}
	case frameOptions:
		if q := b.stack.currentQuestion(); q != nil {
			q.Options = append(q.Options, f.options...)
		}
	case frameOption:
		f.option.Text = f.text()
		if block := b.stack.nearest(frameOptions); block != nil {
			block.options = append(block.options, *f.option)
		}
	case frameLevels:
		if q := b.stack.currentQuestion(); q != nil {
			q.Levels = append(q.Levels, f.levels...)
		}
	case frameLevel:
		f.level.Text = f.text()
		if block := b.stack.nearest(frameLevels); block != nil {
			block.levels = append(block.levels, *f.level)
		}
	case frameHelp:
		f.help.Text = f.text()
		if !f.help.Valid() {
			return
		}
		if f.help.Type == "" {
			f.help.Type = model.HelpTypeTip
		}
		if q := b.stack.currentQuestion(); q != nil {
			q.Help = append(q.Help, *f.help)
		}
	case frameAltText:
		f.alt.Text = f.text()
		b.attachAltText(*f.alt)
	}
}

func (b *formBuilder) attachAltText(alt model.AltText) {
	owner := b.stack.altTextOwner()
	if owner == nil {
		return
	}
	switch owner.kind {
	case frameOption:
		owner.option.AddAltText(alt)
	case frameLevel:
		owner.level.AddAltText(alt)
	case frameHelp:
		owner.help.AddAltText(alt)
	case frameHeading:
		if g := b.stack.currentGroup(); g != nil {
			g.AddAltText(alt)
		}
	case frameQuestion:
		owner.question.AddAltText(alt)
	}
}

func (b *formBuilder) readSurvey(a attrs) {
	formID := a.integer(attrFormID, -1)
	groupID := a.int64(attrSurveyGroupID, -1)
	registration := a.str(attrRegistration)

	f := b.form
	f.ID = strconv.Itoa(formID)
	f.Name = a.str(attrName)
	f.Version = a.float(attrVersion, 0)
	f.SurveyGroupID = groupID
	f.Language = a.str(attrDefaultLang)
	if f.Language == "" {
		f.Language = defaultLanguage
	}
	f.App = a.str(attrApp)
	f.Alias = a.str(attrAlias)
	f.RegistrationFormID = registration
	f.SurveyGroup = model.SurveyGroup{
		ID:                 groupID,
		Name:               a.str(attrSurveyGroupName),
		RegistrationFormID: registration,
		Monitored:          registration != "",
	}

	b.meta = model.SurveyMetadata{
		Name:        f.Name,
		Version:     f.Version,
		App:         f.App,
		Alias:       f.Alias,
		SurveyGroup: f.SurveyGroup,
	}
	if formID >= 0 {
		b.meta.ID = f.ID
	}
}

func (b *formBuilder) newQuestion(a attrs) *model.Question {
	order := a.integer(attrOrder, -1)
	if order == -1 {
		order = 1
		if g := b.stack.currentGroup(); g != nil {
			order = len(g.Questions) + 1
		}
	}

	return &model.Question{
		ID:              a.str(attrID),
		Type:            a.str(attrType),
		Order:           order,
		Mandatory:       a.boolean(attrMandatory),
		Locked:          a.boolean(attrLocked),
		DoubleEntry:     a.boolean(attrDoubleEntry),
		AllowOther:      a.boolean(attrAllowOther),
		AllowMultiple:   a.boolean(attrAllowMultiple),
		CascadeResource: a.str(attrCascadeResource),
		PluginResource:  a.str(attrPluginResource),
		LocaleName:      a.boolean(attrLocaleName),
		LocaleLocation:  a.boolean(attrLocaleLocation),
		AllowPoints:     a.boolean(attrAllowPoints),
		AllowLine:       a.boolean(attrAllowLine),
		AllowPolygon:    a.boolean(attrAllowPolygon),
	}
}

func readValidationRule(a attrs) *model.ValidationRule {
	return &model.ValidationRule{
		Type:         a.str(attrValidationType),
		AllowDecimal: a.boolean(attrAllowDecimal),
		AllowSigned:  a.boolean(attrSigned),
		MaxLength:    a.integer(attrMaxLength, model.DefaultMaxLength),
		MinVal:       a.floatPtr(attrMinVal),
		MaxVal:       a.floatPtr(attrMaxVal),
	}
}
