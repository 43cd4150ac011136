package definition

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// attrs reads element attributes with the dialect's lenient typing: absent or
// malformed values fall back to the supplied default and never fail a parse.
type attrs []xml.Attr

func (a attrs) lookup(name string) (string, bool) {
	for _, at := range a {
		if at.Name.Local == name {
			return at.Value, true
		}
	}
	return "", false
}

func (a attrs) str(name string) string {
	v, _ := a.lookup(name)
	return v
}

func (a attrs) strPtr(name string) *string {
	v, ok := a.lookup(name)
	if !ok {
		return nil
	}
	return &v
}

func (a attrs) boolean(name string) bool {
	v, _ := a.lookup(name)
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

func (a attrs) integer(name string, def int) int {
	v, ok := a.lookup(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func (a attrs) int64(name string, def int64) int64 {
	v, ok := a.lookup(name)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return def
	}
	return n
}

func (a attrs) float(name string, def float64) float64 {
	if p := a.floatPtr(name); p != nil {
		return *p
	}
	return def
}

func (a attrs) floatPtr(name string) *float64 {
	v, ok := a.lookup(name)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return nil
	}
	return &f
}
