package codec

import (
	"strings"

	"github.com/pitabwire/fieldform/model"
)

type cascadeJSON struct {
	Code string `json:"code,omitempty"`
	Name string `json:"name"`
}

// SerializeCascade encodes a cascade answer, one node per level, as a JSON
// array of {code?, name}.
func SerializeCascade(nodes []model.CascadeNode) string {
	out := make([]cascadeJSON, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, cascadeJSON{Code: n.Code, Name: n.Name})
	}
	return marshalCanonical(out)
}

// DeserializeCascade decodes a stored cascade answer. Values that are not a
// canonical array are read as legacy pipe-delimited level names.
func DeserializeCascade(data string) []model.CascadeNode {
	if strings.TrimSpace(data) == "" {
		return []model.CascadeNode{}
	}

	var raw []cascadeJSON
	if unmarshalCanonical(data, &raw) {
		nodes := make([]model.CascadeNode, 0, len(raw))
		for _, r := range raw {
			nodes = append(nodes, model.CascadeNode{Code: r.Code, Name: r.Name})
		}
		return nodes
	}

	tokens := splitLegacy(data)
	nodes := make([]model.CascadeNode, 0, len(tokens))
	for _, tok := range tokens {
		nodes = append(nodes, model.CascadeNode{Name: tok})
	}
	return nodes
}
