// Package jsonprobe reads loosely shaped JSON by trying ordered lists of key paths.
// Upstream payloads rename fields between releases; callers list every spelling they have seen
// and take the first one present.
package jsonprobe

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Object is a decoded JSON object.
type Object = map[string]any

// Decode parses a JSON document into generic values. Numbers are kept as json.Number so ids
// survive without float rounding.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

// Lookup follows a dotted path ("performance.title") through nested objects.
func Lookup(obj Object, path string) (any, bool) {
	var cur any = obj
	for part := range strings.SplitSeq(path, ".") {
		m, ok := cur.(Object)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// First returns the value at the first path that holds something other than null or "".
func First(obj Object, paths ...string) (any, bool) {
	for _, p := range paths {
		v, ok := Lookup(obj, p)
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// String is First rendered as a trimmed string. Objects and arrays do not count.
func String(obj Object, paths ...string) string {
	for _, p := range paths {
		v, ok := First(obj, p)
		if !ok {
			continue
		}
		if s, ok := Scalar(v); ok {
			return s
		}
	}
	return ""
}

// Int is First parsed as an integer, from a number or a numeric string.
func Int(obj Object, paths ...string) (int, bool) {
	for _, p := range paths {
		v, ok := First(obj, p)
		if !ok {
			continue
		}
		s, ok := Scalar(v)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) {
			return int(f), true
		}
	}
	return 0, false
}

// Scalar renders a string, number or bool. Objects, arrays and null report false.
func Scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}

// FindArray returns payload when it is an array, else the first array under one of keys.
func FindArray(payload any, keys ...string) ([]any, bool) {
	if arr, ok := payload.([]any); ok {
		return arr, true
	}
	obj, ok := payload.(Object)
	if !ok {
		return nil, false
	}
	for _, k := range keys {
		if arr, ok := obj[k].([]any); ok {
			return arr, true
		}
	}
	return nil, false
}

// FindObject returns payload when it is an object, unwrapping one level of the given keys
// (e.g. {"data": {...}}) when present.
func FindObject(payload any, keys ...string) (Object, bool) {
	obj, ok := payload.(Object)
	if !ok {
		return nil, false
	}
	for _, k := range keys {
		if inner, ok := obj[k].(Object); ok {
			return inner, true
		}
	}
	return obj, true
}
