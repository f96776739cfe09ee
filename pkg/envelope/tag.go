package envelope

import (
	"reflect"
	"strings"
)

// TagSuffix is the conventional qualifier some producers append to payload
// type names. It is ignored when tags are compared.
const TagSuffix = "dto"

// NormalizeTag returns the comparison key for a type tag: trimmed, lowercased
// and without a trailing TagSuffix.
func NormalizeTag(tag string) string {
	t := strings.ToLower(strings.TrimSpace(tag))
	if len(t) > len(TagSuffix) && strings.HasSuffix(t, TagSuffix) {
		t = t[:len(t)-len(TagSuffix)]
	}
	return t
}

// SameTag reports whether two tags refer to the same payload type.
func SameTag(a, b string) bool {
	return NormalizeTag(a) == NormalizeTag(b)
}

// TagOf returns the conventional tag for a payload value: its Go type name.
func TagOf(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}
