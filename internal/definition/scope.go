package definition

import (
	"strings"

	"github.com/pitabwire/fieldform/model"
)

type frameKind int

const (
	frameUnknown frameKind = iota
	frameSurvey
	frameGroup
	frameHeading
	frameQuestion
	frameOptions
	frameOption
	frameLevels
	frameLevel
	frameHelp
	frameAltText
	frameText
)

// frame is one open element. Only the field matching kind is set.
type frame struct {
	kind frameKind

	// buf collects character data directly inside the element; childText is
	// the content of a nested <text> element. childText wins on close.
	buf       strings.Builder
	childText string

	group    *model.QuestionGroup
	question *model.Question
	option   *model.Option
	level    *model.Level
	help     *model.Help
	alt      *model.AltText
	options  []model.Option
	levels   []model.Level
}

func (f *frame) text() string {
	if f.childText != "" {
		return f.childText
	}
	return strings.TrimSpace(f.buf.String())
}

// scopeStack holds the open elements of the definition being parsed. The
// dialect forbids interleaving, so at most one frame of each kind is open.
type scopeStack struct {
	frames []*frame
}

func (s *scopeStack) push(f *frame) {
	s.frames = append(s.frames, f)
}

func (s *scopeStack) pop() *frame {
	if len(s.frames) == 0 {
		return nil
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f
}

func (s *scopeStack) top() *frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// nearest returns the innermost open frame of any of the given kinds.
func (s *scopeStack) nearest(kinds ...frameKind) *frame {
	for i := len(s.frames) - 1; i >= 0; i-- {
		for _, k := range kinds {
			if s.frames[i].kind == k {
				return s.frames[i]
			}
		}
	}
	return nil
}

func (s *scopeStack) currentGroup() *model.QuestionGroup {
	if f := s.nearest(frameGroup); f != nil {
		return f.group
	}
	return nil
}

func (s *scopeStack) currentQuestion() *model.Question {
	if f := s.nearest(frameQuestion); f != nil {
		return f.question
	}
	return nil
}

// altTextOwner resolves which element a closing altText belongs to: the
// innermost open option, level, help, heading or question.
func (s *scopeStack) altTextOwner() *frame {
	return s.nearest(frameOption, frameLevel, frameHelp, frameHeading, frameQuestion)
}
