// Package cachekey produces deterministic string keys from arbitrary
// fetch-resource payloads.
package cachekey

import (
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
)

// Key returns a deterministic string key for payload. Strings and numbers
// are returned in their bare string form. Objects are canonicalized: own
// keys are sorted lexicographically, keys whose value is a nil pointer or
// nil interface are dropped, and the result is serialized as an ordered array of single-key
// objects so that two structurally-equal payloads always produce identical
// keys regardless of original field order.
func Key(payload interface{}) string {
	switch v := payload.(type) {
	case nil:
		return "null"
	case string:
		return v
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return strconv.FormatInt(toInt64(v), 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}

	canonical := canonicalize(reflect.ValueOf(payload))
	out, err := json.Marshal(canonical)
	if err != nil {
		// Canonicalize only ever produces json.Marshal-safe types
		// (map keys become slices of single-key maps, so there is no
		// unsupported-key-type case); a failure here means payload
		// itself contains something unmarshalable (e.g. a channel).
		return strconv.Quote(err.Error())
	}
	return string(out)
}

func toInt64(v interface{}) int64 {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	}
	return 0
}

// canonicalize walks payload, producing a structure made only of
// []interface{}, map-as-ordered-pairs ([]orderedPair), and JSON scalar
// types, ready for json.Marshal to serialize deterministically.
func canonicalize(v reflect.Value) interface{} {
	if !v.IsValid() {
		return nil
	}

	for v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Map:
		return canonicalizeMap(v)
	case reflect.Struct:
		return canonicalizeStruct(v)
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil
		}
		out := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = canonicalize(v.Index(i))
		}
		return out
	default:
		return v.Interface()
	}
}

// orderedPair renders as {"k":v} under json.Marshal, matching the
// distilled spec's "array of single-key objects" serialization.
type orderedPair struct {
	key string
	val interface{}
}

func (p orderedPair) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{p.key: p.val}
	return json.Marshal(m)
}

func formatMapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	b, err := json.Marshal(k.Interface())
	if err != nil {
		return k.String()
	}
	return string(b)
}

func canonicalizeMap(v reflect.Value) []interface{} {
	keys := v.MapKeys()
	names := make([]string, len(keys))
	byName := make(map[string]reflect.Value, len(keys))
	for i, k := range keys {
		name := formatMapKey(k)
		names[i] = name
		byName[name] = v.MapIndex(k)
	}
	sort.Strings(names)

	out := make([]interface{}, 0, len(names))
	for _, name := range names {
		val := byName[name]
		if isUndefined(val) {
			continue
		}
		out = append(out, orderedPair{key: name, val: canonicalize(val)})
	}
	return out
}

func canonicalizeStruct(v reflect.Value) []interface{} {
	t := v.Type()
	names := make([]string, 0, t.NumField())
	byName := make(map[string]reflect.Value, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		name := jsonFieldName(f)
		if name == "-" {
			continue
		}
		fv := v.Field(i)
		if isUndefined(fv) {
			continue
		}
		names = append(names, name)
		byName[name] = fv
	}
	sort.Strings(names)

	out := make([]interface{}, 0, len(names))
	for _, name := range names {
		out = append(out, orderedPair{key: name, val: canonicalize(byName[name])})
	}
	return out
}

func jsonFieldName(f reflect.StructField) string {
	tag, ok := f.Tag.Lookup("json")
	if !ok || tag == "" {
		return f.Name
	}
	name := tag
	for i, c := range tag {
		if c == ',' {
			name = tag[:i]
			break
		}
	}
	if name == "" {
		return f.Name
	}
	return name
}

// isUndefined reports whether v represents Go's closest analogue to a
// JSON/JS "undefined" field: a nil pointer or a nil interface value. A nil
// map or slice is NOT undefined (it is kept and serialized), and neither is
// a zero-value scalar (0, "", false): each is a legitimate serialized
// value, matching how the distilled spec only prunes keys whose value is undefined, not falsy.
func isUndefined(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}
