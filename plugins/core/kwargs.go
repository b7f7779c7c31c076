// ABOUTME: Keyword-argument maps used to describe, filter and construct devices.
// ABOUTME: Provides the key=value markup parser and its canonical, sorted string form.

package core

import (
	"slices"
	"strings"
)

// KeyDriver is the reserved key naming the driver that produced or should build a device.
const KeyDriver = "driver"

// Kwargs is an unordered string-to-string map with case-sensitive keys.
type Kwargs map[string]string

// ParseKwargs parses "key=value, key2=value2" markup. Whitespace around keys and
// values is trimmed, a bare key yields an empty value, and trailing separators are
// ignored. Keys and values wrapped in single quotes may carry separators or
// padding; '' is a literal quote.
func ParseKwargs(markup string) Kwargs {
	args := Kwargs{}
	for _, field := range splitFields(markup) {
		key, value := cutField(field)
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		args[unquote(key)] = unquote(strings.TrimSpace(value))
	}
	return args
}

// String renders the markup form with keys in ascending order. Equal maps
// produce equal strings and distinct maps produce distinct ones.
func (k Kwargs) String() string {
	keys := k.Keys()
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, quoteKey(key)+"="+quote(k[key]))
	}
	return strings.Join(parts, ", ")
}

// Keys returns the keys in ascending order.
func (k Kwargs) Keys() []string {
	keys := make([]string, 0, len(k))
	for key := range k {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Clone returns an independent copy. A nil map clones to an empty one.
func (k Kwargs) Clone() Kwargs {
	out := make(Kwargs, len(k))
	for key, value := range k {
		out[key] = value
	}
	return out
}

// Merge returns a copy of k with every key of other added where k lacks it.
// Values already present in k win.
func (k Kwargs) Merge(other Kwargs) Kwargs {
	out := k.Clone()
	for key, value := range other {
		if _, ok := out[key]; !ok {
			out[key] = value
		}
	}
	return out
}

// Equal reports whether both maps hold the same pairs.
func (k Kwargs) Equal(other Kwargs) bool {
	if len(k) != len(other) {
		return false
	}
	for key, value := range k {
		if v, ok := other[key]; !ok || v != value {
			return false
		}
	}
	return true
}

func splitFields(markup string) []string {
	var (
		fields  []string
		current strings.Builder
		quoted  bool
	)
	for _, r := range markup {
		switch {
		case r == '\'':
			quoted = !quoted
			current.WriteRune(r)
		case r == ',' && !quoted:
			fields = append(fields, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(fields, current.String())
}

// cutField splits a field at its first '=' outside quotes.
func cutField(field string) (key, value string) {
	quoted := false
	for i, r := range field {
		switch {
		case r == '\'':
			quoted = !quoted
		case r == '=' && !quoted:
			return field[:i], field[i+1:]
		}
	}
	return field, ""
}

// quoteKey is quote, except that the empty key is written as '' so it survives parsing.
func quoteKey(key string) string {
	if key == "" {
		return "''"
	}
	return quote(key)
}

func quote(value string) string {
	if value == "" || (!strings.ContainsAny(value, ",='") && strings.TrimSpace(value) == value) {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func unquote(value string) string {
	if len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'' {
		return strings.ReplaceAll(value[1:len(value)-1], "''", "'")
	}
	return value
}
