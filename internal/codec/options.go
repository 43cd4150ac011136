// Package codec serializes collected answers to their stored text encodings
// and reads back both the canonical JSON encoding and the legacy
// pipe-delimited encoding written by older app generations.
//
// Every function is pure and safe for concurrent use. Decoding never fails:
// each path falls back to a defined result, down to an empty list.
package codec

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pitabwire/fieldform/model"
)

// legacySeparator delimits tokens in the legacy answer encoding and in
// dependency expected answers.
const legacySeparator = "|"

type optionJSON struct {
	Text    string `json:"text"`
	Code    string `json:"code,omitempty"`
	IsOther bool   `json:"isOther,omitempty"`
}

// SerializeOptions encodes selected options in the canonical encoding: a JSON
// array of {text, code?, isOther?}.
func SerializeOptions(options []model.Option) string {
	out := make([]optionJSON, 0, len(options))
	for _, o := range options {
		out = append(out, optionJSON{Text: o.Text, Code: o.Code, IsOther: o.IsOther})
	}
	return marshalCanonical(out)
}

// DeserializeOptions decodes a stored option answer. The canonical encoding
// is tried first; only when it fails to parse is the value read as legacy
// pipe-delimited codes. Blank input yields an empty list.
func DeserializeOptions(data string) []model.Option {
	options, _ := decodeOptions(data)
	return options
}

// decodeOptions is DeserializeOptions that also reports whether the legacy
// fallback produced the result.
func decodeOptions(data string) (options []model.Option, legacy bool) {
	if strings.TrimSpace(data) == "" {
		return []model.Option{}, false
	}

	var raw []optionJSON
	if unmarshalCanonical(data, &raw) {
		options = make([]model.Option, 0, len(raw))
		for _, r := range raw {
			options = append(options, model.Option{Text: r.Text, Code: r.Code, IsOther: r.IsOther})
		}
		return options, false
	}

	tokens := splitLegacy(data)
	options = make([]model.Option, 0, len(tokens))
	for _, tok := range tokens {
		options = append(options, model.Option{Code: tok})
	}
	return options, true
}

// ResolveSelections maps a stored answer onto the options of its question so
// that callers get the question's translations back. Canonical selections are
// matched with SameSelectionAs; legacy selections, which carry only a code,
// are matched by code. Selections with no counterpart, including "other"
// entries, are returned as decoded.
func ResolveSelections(questionOptions []model.Option, answer string) []model.Option {
	decoded := DeserializeOptions(answer)
	resolved := make([]model.Option, 0, len(decoded))
	for _, sel := range decoded {
		resolved = append(resolved, resolveSelection(questionOptions, sel))
	}
	return resolved
}

func resolveSelection(questionOptions []model.Option, sel model.Option) model.Option {
	if sel.IsOther {
		return sel
	}
	for _, o := range questionOptions {
		if sel.Text == "" {
			if sel.Code != "" && o.Code == sel.Code {
				return o
			}
			continue
		}
		if o.SameSelectionAs(sel) {
			return o
		}
	}
	return sel
}

// optionLabel is the value an option is rendered by. Legacy options carry no
// text, so their code stands in.
func optionLabel(o model.Option) string {
	if o.Text == "" {
		return o.Code
	}
	return o.Text
}

// splitLegacy splits on the legacy separator and drops trailing empty tokens.
func splitLegacy(data string) []string {
	tokens := strings.Split(data, legacySeparator)
	end := len(tokens)
	for end > 0 && tokens[end-1] == "" {
		end--
	}
	return tokens[:end]
}

func marshalCanonical(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "[]"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// unmarshalCanonical reports whether data is a well-formed canonical array.
func unmarshalCanonical(data string, v any) bool {
	trimmed := strings.TrimSpace(data)
	if !strings.HasPrefix(trimmed, "[") {
		return false
	}
	return json.Unmarshal([]byte(trimmed), v) == nil
}
