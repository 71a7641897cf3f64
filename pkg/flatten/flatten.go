// Package flatten turns nested run config and metadata JSON into dot-path leaf
// records suitable for the relational field-value index.
package flatten

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// FieldType is the primitive type inferred for a flattened leaf value.
type FieldType string

// Inferred leaf types.
const (
	TypeText   FieldType = "text"
	TypeNumber FieldType = "number"
	TypeDate   FieldType = "date"
)

// Field is one flattened leaf of a nested JSON document.
type Field struct {
	Key    string
	Value  string
	Number *float64
	Type   FieldType
}

// reservedPrefixes are key prefixes for system fields that are imported through
// dedicated columns and must never land in the field-value index.
var reservedPrefixes = []string{"_wandb", "_runboard"}

// isoDatePattern matches the leading portion of an ISO-8601 timestamp string.
var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)

// Fields flattens a decoded JSON value into dot-path leaves. Maps are recursed
// into; arrays are kept as single opaque leaves holding their serialization.
// A nil input produces no fields, as does a bare scalar (there is no key to
// attach it to). When skipReserved is set, top-level keys carrying a reserved
// prefix are dropped entirely.
func Fields(value interface{}, skipReserved bool) []Field {
	fields := walk("", value, skipReserved)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })
	return fields
}

func walk(prefix string, value interface{}, skipReserved bool) []Field {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case map[string]interface{}:
		var fields []Field
		for key, child := range v {
			if child == nil {
				continue
			}
			if skipReserved && prefix == "" && hasReservedPrefix(key) {
				continue
			}
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			fields = append(fields, walk(path, child, skipReserved)...)
		}
		return fields
	default:
		if prefix == "" {
			return nil
		}
		return []Field{leaf(prefix, value)}
	}
}

func leaf(key string, value interface{}) Field {
	switch v := value.(type) {
	case float64:
		return Field{
			Key:    key,
			Value:  strconv.FormatFloat(v, 'f', -1, 64),
			Number: &v,
			Type:   TypeNumber,
		}
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Field{Key: key, Value: v.String(), Type: TypeText}
		}
		return Field{Key: key, Value: v.String(), Number: &f, Type: TypeNumber}
	case string:
		if isoDatePattern.MatchString(v) {
			return Field{Key: key, Value: v, Type: TypeDate}
		}
		return Field{Key: key, Value: v, Type: TypeText}
	case bool:
		return Field{Key: key, Value: strconv.FormatBool(v), Type: TypeText}
	default:
		// Arrays (and anything else json.Unmarshal can hand us) are opaque
		// leaves stored as their serialization.
		serialized, err := json.Marshal(value)
		if err != nil {
			return Field{Key: key, Value: "", Type: TypeText}
		}
		return Field{Key: key, Value: string(serialized), Type: TypeText}
	}
}

func hasReservedPrefix(key string) bool {
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
