package store

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Data holds document fields.
type Data = map[string]any

// GeoPoint is a latitude/longitude pair stored as a single field.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// FieldValue is a write-time placeholder resolved by the store.
type FieldValue int

const (
	// Delete removes the field when written with Merge.
	Delete FieldValue = iota + 1
	// ServerTimestamp is replaced by the commit time. Every occurrence within
	// one commit resolves to the same instant.
	ServerTimestamp
)

// String returns the string stored at key.
func String(d Data, key string) (string, bool) {
	v, ok := d[key].(string)
	return v, ok
}

// Bool returns the boolean stored at key.
func Bool(d Data, key string) (bool, bool) {
	v, ok := d[key].(bool)
	return v, ok
}

// Int returns the integer stored at key. Integral floats and json numbers are accepted.
func Int(d Data, key string) (int64, bool) {
	switch v := d[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}

// Float returns the number stored at key.
func Float(d Data, key string) (float64, bool) {
	switch v := d[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

// RefValue returns the document reference stored at key.
func RefValue(d Data, key string) (Ref, bool) {
	v, ok := d[key].(Ref)
	if !ok || v.IsZero() {
		return Ref{}, false
	}
	return v, true
}

// Map returns the nested map stored at key.
func Map(d Data, key string) (Data, bool) {
	v, ok := d[key].(map[string]any)
	return v, ok
}

// Geo returns the geo point stored at key.
func Geo(d Data, key string) (GeoPoint, bool) {
	v, ok := d[key].(GeoPoint)
	return v, ok
}

// Time returns the timestamp stored at key.
func Time(d Data, key string) (time.Time, bool) {
	v, ok := d[key].(time.Time)
	return v, ok
}

// Clone deep-copies nested maps. Leaf values are immutable and shared.
func Clone(d Data) Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		if m, ok := v.(map[string]any); ok {
			v = Clone(m)
		}
		out[k] = v
	}
	return out
}

// Apply returns the document produced by writing data over current.
// Without merge the document is replaced. Placeholders are resolved against now.
func Apply(current, data Data, merge bool, now time.Time) Data {
	var out Data
	if merge && current != nil {
		out = Clone(current)
	} else {
		out = make(Data, len(data))
	}
	for k, v := range data {
		if v == Delete {
			delete(out, k)
			continue
		}
		out[k] = resolve(v, now)
	}
	return out
}

func resolve(v any, now time.Time) any {
	switch t := v.(type) {
	case FieldValue:
		if t == ServerTimestamp {
			return now
		}
		return nil
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			if inner == Delete {
				continue
			}
			m[k] = resolve(inner, now)
		}
		return m
	}
	return v
}

// compareValues orders two field values. Missing values sort first.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case Ref:
		if bv, ok := b.(Ref); ok {
			return strings.Compare(av.path, bv.path)
		}
	}
	af, aok := Float(Data{"v": a}, "v")
	bf, bok := Float(Data{"v": b}, "v")
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return 0
}
