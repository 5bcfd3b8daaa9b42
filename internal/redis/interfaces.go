package redis

import (
	"context"
)

// TopicStoreInterface defines push-topic registration.
type TopicStoreInterface interface {
	Subscribe(ctx context.Context, uid, topic string) error
	Unsubscribe(ctx context.Context, uid, topic string) error
	Publish(ctx context.Context, topic string, payload []byte) error
}

// PickupIndexInterface defines the per-event pickup index.
type PickupIndexInterface interface {
	Add(ctx context.Context, eventUID, rideUID string, lat, lon float64) error
	Remove(ctx context.Context, eventUID, rideUID string) error
	Nearby(ctx context.Context, eventUID string, lat, lon, radiusKm float64) ([]Pickup, error)
}

// Ensure concrete types implement interfaces.
var (
	_ TopicStoreInterface  = (*TopicStore)(nil)
	_ PickupIndexInterface = (*PickupIndex)(nil)
)
