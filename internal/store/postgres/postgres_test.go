package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/lib/pq"

	"eventrides/internal/store"
)

func TestNoticeRoundTrip(t *testing.T) {
	ref, err := store.ParseRef("events/evt1/rideQueue/rideA")
	assert.Equal(t, err, nil)

	gotRef, version, err := decodeNotice(encodeNotice(ref, 42))
	assert.Equal(t, err, nil)
	assert.Equal(t, gotRef, ref)
	assert.Equal(t, version, int64(42))
}

func TestDecodeNoticeRejectsGarbage(t *testing.T) {
	for _, payload := range []string{"", "rides/r1", "rides:1", "rides/r1:abc"} {
		if _, _, err := decodeNotice(payload); err == nil {
			t.Errorf("decodeNotice(%q) succeeded", payload)
		}
	}
}

func TestRetryable(t *testing.T) {
	assert.Equal(t, retryable(&pq.Error{Code: "40001"}), true)
	assert.Equal(t, retryable(fmt.Errorf("commit: %w", &pq.Error{Code: "40P01"})), true)
	assert.Equal(t, retryable(&pq.Error{Code: "23505"}), false)
	assert.Equal(t, retryable(errors.New("boom")), false)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, classify(nil), nil)

	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"connection exception", &pq.Error{Code: "08006"}, true},
		{"too many connections", &pq.Error{Code: "53300"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"bad conn", driver.ErrBadConn, true},
		{"conn done", sql.ErrConnDone, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"serialization failure", &pq.Error{Code: "40001"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, errors.Is(got, store.ErrUnavailable), tt.unavailable)
		})
	}
}

func TestClassifyKeepsRetryableCode(t *testing.T) {
	err := classify(&pq.Error{Code: "40001"})
	assert.Equal(t, retryable(err), true)
}
