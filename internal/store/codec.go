package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Tagged JSON keys for values that plain JSON cannot tell apart.
const (
	tagRef  = "$ref"
	tagGeo  = "$geo"
	tagTime = "$time"
)

// MarshalData encodes document fields as JSON, tagging references, geo points
// and timestamps so UnmarshalData can restore their types.
func MarshalData(d Data) ([]byte, error) {
	return json.Marshal(encodeValue(d))
}

// UnmarshalData decodes fields produced by MarshalData.
func UnmarshalData(b []byte) (Data, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	out, err := decodeValue(raw)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func encodeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = encodeValue(inner)
		}
		return m
	case Ref:
		return map[string]any{tagRef: t.path}
	case GeoPoint:
		return map[string]any{tagGeo: []float64{t.Lat, t.Lon}}
	case time.Time:
		return map[string]any{tagTime: t.UTC().Format(time.RFC3339Nano)}
	}
	return v
}

func decodeValue(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	case map[string]any:
		if len(t) == 1 {
			if tagged, ok, err := decodeTagged(t); ok || err != nil {
				return tagged, err
			}
		}
		m := make(map[string]any, len(t))
		for k, inner := range t {
			d, err := decodeValue(inner)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
			m[k] = d
		}
		return m, nil
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			d, err := decodeValue(inner)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	}
	return v, nil
}

func decodeTagged(m map[string]any) (any, bool, error) {
	if p, ok := m[tagRef].(string); ok {
		ref, err := ParseRef(p)
		return ref, true, err
	}
	if arr, ok := m[tagGeo].([]any); ok && len(arr) == 2 {
		lat, latOK := arr[0].(json.Number)
		lon, lonOK := arr[1].(json.Number)
		if !latOK || !lonOK {
			return nil, true, fmt.Errorf("malformed geo point")
		}
		la, _ := lat.Float64()
		lo, _ := lon.Float64()
		return GeoPoint{Lat: la, Lon: lo}, true, nil
	}
	if s, ok := m[tagTime].(string); ok {
		ts, err := time.Parse(time.RFC3339Nano, s)
		return ts, true, err
	}
	return nil, false, nil
}
