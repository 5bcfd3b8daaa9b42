package tests

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"eventrides/internal/domain"
	"eventrides/internal/redis"
	"eventrides/internal/session"
)

// ──────────────────────────────────────────────
// MOCK CALLER
// ──────────────────────────────────────────────

// MockCaller is a signed-in user with an optional public profile.
type MockCaller struct {
	ID   string
	Name string
}

func (c MockCaller) UID() string { return c.ID }

func (c MockCaller) Rider() (domain.Person, error) {
	if c.Name == "" {
		return domain.Person{}, session.ErrNoPublicProfile
	}
	return domain.Person{UID: c.ID, DisplayName: c.Name}, nil
}

func (c MockCaller) Driver() (domain.Person, error) { return c.Rider() }

// ──────────────────────────────────────────────
// MOCK PICKUP INDEX
// ──────────────────────────────────────────────

// MockPickupIndex is an in-memory PickupIndexInterface.
type MockPickupIndex struct {
	mu      sync.Mutex
	pickups map[string]map[string]domain.Location

	AddCallCount    int32
	RemoveCallCount int32

	// Error injection
	AddError error
}

// NewMockPickupIndex creates a new mock pickup index.
func NewMockPickupIndex() *MockPickupIndex {
	return &MockPickupIndex{pickups: make(map[string]map[string]domain.Location)}
}

func (m *MockPickupIndex) Add(ctx context.Context, eventUID, rideUID string, lat, lon float64) error {
	atomic.AddInt32(&m.AddCallCount, 1)
	if m.AddError != nil {
		return m.AddError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pickups[eventUID] == nil {
		m.pickups[eventUID] = make(map[string]domain.Location)
	}
	m.pickups[eventUID][rideUID] = domain.Location{Lat: lat, Lon: lon}
	return nil
}

func (m *MockPickupIndex) Remove(ctx context.Context, eventUID, rideUID string) error {
	atomic.AddInt32(&m.RemoveCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pickups[eventUID], rideUID)
	return nil
}

// Nearby approximates distance on a flat plane, which is close enough for
// the short distances used in tests.
func (m *MockPickupIndex) Nearby(ctx context.Context, eventUID string, lat, lon, radiusKm float64) ([]redis.Pickup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []redis.Pickup
	for uid, loc := range m.pickups[eventUID] {
		dLat := (loc.Lat - lat) * 111
		dLon := (loc.Lon - lon) * 111 * math.Cos(lat*math.Pi/180)
		dist := math.Sqrt(dLat*dLat + dLon*dLon)
		if dist <= radiusKm {
			out = append(out, redis.Pickup{RideUID: uid, Lat: loc.Lat, Lon: loc.Lon, DistanceKm: dist})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

// Has reports whether a pickup is indexed.
func (m *MockPickupIndex) Has(eventUID, rideUID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pickups[eventUID][rideUID]
	return ok
}

// ──────────────────────────────────────────────
// MOCK PUBLISHER
// ──────────────────────────────────────────────

// MockPublisher records published notifications by topic.
type MockPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte

	PublishError error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{messages: make(map[string][][]byte)}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if m.PublishError != nil {
		return m.PublishError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[topic] = append(m.messages[topic], payload)
	return nil
}

// Count returns how many notifications went to topic.
func (m *MockPublisher) Count(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[topic])
}

// Messages returns the payloads sent to topic.
func (m *MockPublisher) Messages(topic string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.messages[topic]...)
}
