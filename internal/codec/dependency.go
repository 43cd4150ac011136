package codec

import (
	"strings"

	"github.com/pitabwire/fieldform/model"
)

// MatchDependency reports whether answer satisfies dep.
//
// The answer is decoded as an option answer (canonical or legacy). The
// expected side is always the legacy dialect: dep.Answer is split on "|" and
// never parsed as JSON. The dependency holds when any trimmed option text
// equals any trimmed expected token, case-sensitively. Legacy answers carry
// only codes, which are compared instead. A nil expected answer
// matches only a nil answer.
func MatchDependency(dep model.Dependency, answer *string) bool {
	if dep.Answer == nil || answer == nil {
		return dep.Answer == nil && answer == nil
	}

	expected := splitLegacy(*dep.Answer)
	if len(expected) == 0 {
		return false
	}
	for i := range expected {
		expected[i] = strings.TrimSpace(expected[i])
	}

	options, legacy := decodeOptions(*answer)
	for _, o := range options {
		label := o.Text
		if legacy {
			label = o.Code
		}
		label = strings.TrimSpace(label)
		for _, e := range expected {
			if label == e {
				return true
			}
		}
	}
	return false
}
