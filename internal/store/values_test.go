package store

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestApply_MergeDeleteAndTimestamp(t *testing.T) {
	now := time.Date(2026, 4, 2, 21, 0, 0, 0, time.UTC)
	current := Data{"title": "Formal", "drive": "rideA", "nested": map[string]any{"a": 1, "b": 2}}

	merged := Apply(current, Data{
		"drive":    Delete,
		"stamp":    ServerTimestamp,
		"nested":   map[string]any{"a": 3, "b": Delete},
		"driveFor": "evt1",
	}, true, now)

	assert.Equal(t, merged["title"], "Formal")
	_, hasDrive := merged["drive"]
	assert.Equal(t, hasDrive, false)
	assert.Equal(t, merged["stamp"], now)
	assert.Equal(t, merged["driveFor"], "evt1")
	assert.Equal(t, merged["nested"], map[string]any{"a": 3})

	// The input is untouched.
	assert.Equal(t, current["drive"], "rideA")

	replaced := Apply(current, Data{"title": "Mixer"}, false, now)
	assert.Equal(t, replaced, Data{"title": "Mixer"})
}

func TestCodec_RestoresTypedValues(t *testing.T) {
	ref, err := ParseRef("users/R")
	assert.Equal(t, err, nil)
	ts := time.Date(2026, 4, 2, 21, 30, 0, 123, time.UTC)

	raw, err := MarshalData(Data{
		"rider":    map[string]any{"reference": ref, "displayName": "Riley"},
		"pickup":   GeoPoint{Lat: 40.1, Lon: -88.2},
		"time":     ts,
		"status":   int64(1),
		"distance": 2.5,
	})
	assert.Equal(t, err, nil)

	d, err := UnmarshalData(raw)
	assert.Equal(t, err, nil)
	rider, ok := Map(d, "rider")
	assert.Equal(t, ok, true)
	gotRef, ok := RefValue(rider, "reference")
	assert.Equal(t, ok, true)
	assert.Equal(t, gotRef, ref)
	geo, _ := Geo(d, "pickup")
	assert.Equal(t, geo, GeoPoint{Lat: 40.1, Lon: -88.2})
	gotTime, _ := Time(d, "time")
	assert.Equal(t, gotTime.Equal(ts), true)
	status, _ := Int(d, "status")
	assert.Equal(t, status, int64(1))
	dist, _ := Float(d, "distance")
	assert.Equal(t, dist, 2.5)
}

func TestCodec_RejectsBadTags(t *testing.T) {
	_, err := UnmarshalData([]byte(`{"r": {"$ref": "users"}}`))
	assert.NotEqual(t, err, nil)
	_, err = UnmarshalData([]byte(`{"g": {"$geo": ["a", "b"]}}`))
	assert.NotEqual(t, err, nil)
}

func TestParseRef(t *testing.T) {
	ref, err := ParseRef("/events/evt1/rideQueue/rideA/")
	assert.Equal(t, err, nil)
	assert.Equal(t, ref.Path(), "events/evt1/rideQueue/rideA")
	assert.Equal(t, ref.ID(), "rideA")
	assert.Equal(t, ref.Parent().Path(), "events/evt1/rideQueue")
	assert.Equal(t, ref.Parent().ID(), "rideQueue")

	for _, bad := range []string{"", "events", "events/evt1/rideQueue", "events//x/y"} {
		_, err := ParseRef(bad)
		assert.NotEqual(t, err, nil)
	}
}

func TestQueryArrange_OrdersByFieldThenID(t *testing.T) {
	col := Collection("events").Doc("evt1").Collection("rideQueue")
	t0 := time.Date(2026, 4, 2, 21, 0, 0, 0, time.UTC)
	docs := []*Snapshot{
		NewSnapshot(col.Doc("c"), Data{"timeOfRequest": t0.Add(time.Minute)}, 1),
		NewSnapshot(col.Doc("b"), Data{"timeOfRequest": t0}, 1),
		NewSnapshot(col.Doc("a"), Data{"timeOfRequest": t0}, 1),
		NewSnapshot(col.Doc("z"), Data{}, 1),
	}

	ids := func(s []*Snapshot) []string {
		out := make([]string, len(s))
		for i, d := range s {
			out[i] = d.Ref.ID()
		}
		return out
	}
	q := col.OrderBy("timeOfRequest")
	assert.Equal(t, ids(q.Arrange(docs)), []string{"z", "a", "b", "c"})
	assert.Equal(t, ids(q.Desc().WithLimit(2).Arrange(docs)), []string{"c", "b"})
}
