// Package signature derives the deterministic "-t1t2...tn" suffix used to
// disambiguate overloaded registry entries from an ordered argument list.
package signature

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Tag is one of the closed set of domain-level type tags.
type Tag string

const (
	TagNull   Tag = "null"
	TagBool   Tag = "boolean"
	TagNumber Tag = "number"
	TagString Tag = "string"
	TagArray  Tag = "array"
	TagObject Tag = "object"
)

// TagOf inspects a raw JSON value and returns its domain-level type tag.
// Function-typed arguments are carried on the wire as callback-id strings
// and therefore tag as TagString, same as any other string.
func TagOf(v json.RawMessage) Tag {
	trimmed := bytes.TrimSpace(v)
	if len(trimmed) == 0 {
		return TagNull
	}
	switch trimmed[0] {
	case 'n':
		return TagNull
	case 't', 'f':
		return TagBool
	case '"':
		return TagString
	case '[':
		return TagArray
	case '{':
		return TagObject
	default:
		return TagNumber
	}
}

// Of computes the signature for an ordered list of argument values. An
// empty list yields the empty string; otherwise the result begins with
// "-" followed by one tag per argument, concatenated in order.
func Of(values []json.RawMessage) string {
	if len(values) == 0 {
		return ""
	}
	var b bytes.Buffer
	b.WriteByte('-')
	for _, v := range values {
		b.WriteString(string(TagOf(v)))
	}
	return b.String()
}

// OfData extracts _1.._N from a request's argument map, in positional
// order, stopping at the first missing positional key, and computes the
// signature over them.
func OfData(args map[string]json.RawMessage) string {
	values := Ordered(args)
	return Of(values)
}

// Ordered returns the positional _1.._N values from args in order,
// stopping at the first missing key.
func Ordered(args map[string]json.RawMessage) []json.RawMessage {
	var values []json.RawMessage
	for i := 1; ; i++ {
		key := positionalKey(i)
		v, ok := args[key]
		if !ok {
			break
		}
		values = append(values, v)
	}
	return values
}

func positionalKey(i int) string {
	return "_" + strconv.Itoa(i)
}
