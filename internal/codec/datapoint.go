package codec

import (
	"regexp"
	"strings"

	"github.com/pitabwire/fieldform/model"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	pipeSeparator = regexp.MustCompile(`\s*\|\s*`)
)

const datapointSeparator = " - "

// DatapointName renders a stored answer as a single human readable line, as
// used for data point names. Option and cascade answers are decoded and
// joined with " - "; other answers are used verbatim.
func DatapointName(questionType, value string) string {
	var name string
	switch {
	case strings.EqualFold(questionType, model.QuestionTypeCascade):
		nodes := DeserializeCascade(value)
		parts := make([]string, 0, len(nodes))
		for _, n := range nodes {
			parts = append(parts, n.Name)
		}
		name = strings.Join(parts, datapointSeparator)
	case strings.EqualFold(questionType, model.QuestionTypeOption):
		options := DeserializeOptions(value)
		parts := make([]string, 0, len(options))
		for _, o := range options {
			parts = append(parts, optionLabel(o))
		}
		name = strings.Join(parts, datapointSeparator)
	default:
		name = value
	}

	name = whitespaceRun.ReplaceAllString(name, " ")
	name = pipeSeparator.ReplaceAllString(name, datapointSeparator)
	return strings.TrimSpace(name)
}
