// Package textrepair fixes multiply-escaped quote characters left behind by
// repeated re-serialization of free-text fields.
package textrepair

import (
	"regexp"
	"strings"
)

// escapedQuoteRuns matches one or more backslashes immediately preceding a
// single or double quote.
var escapedQuoteRuns = regexp.MustCompile(`\\+(['"])`)

// Collapse reduces any run of backslashes before a quote character to the
// bare quote. It is pure, total and idempotent: applying it twice yields the
// same result as once, which is what makes overlapping repair runs benign.
func Collapse(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	return escapedQuoteRuns.ReplaceAllString(s, "$1")
}

// CollapseValue applies Collapse to every string inside a decoded JSON tree
// (strings, objects, arrays), returning the repaired tree and whether
// anything changed. Maps and slices are mutated in place.
func CollapseValue(v interface{}) (interface{}, bool) {
	switch t := v.(type) {
	case string:
		fixed := Collapse(t)
		return fixed, fixed != t
	case map[string]interface{}:
		changed := false
		for key, elem := range t {
			fixed, ch := CollapseValue(elem)
			if ch {
				t[key] = fixed
				changed = true
			}
		}
		return t, changed
	case []interface{}:
		changed := false
		for i, elem := range t {
			fixed, ch := CollapseValue(elem)
			if ch {
				t[i] = fixed
				changed = true
			}
		}
		return t, changed
	default:
		return v, false
	}
}
