package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const pickupKeyPrefix = "pickups:event:"

// Pickup is a queued ride's pickup point.
type Pickup struct {
	RideUID    string  `json:"rideUid"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	DistanceKm float64 `json:"distanceKm"`
}

// PickupIndex holds the pickup points of queued rides per event so drivers
// can see who is waiting near them.
type PickupIndex struct {
	client *redis.Client
}

// NewPickupIndex creates a new PickupIndex.
func NewPickupIndex(client *redis.Client) *PickupIndex {
	return &PickupIndex{client: client}
}

// Add stores a ride's pickup point using GEOADD.
func (s *PickupIndex) Add(ctx context.Context, eventUID, rideUID string, lat, lon float64) error {
	return s.client.GeoAdd(ctx, pickupKeyPrefix+eventUID, &redis.GeoLocation{
		Name:      rideUID,
		Longitude: lon,
		Latitude:  lat,
	}).Err()
}

// Remove drops a ride's pickup point.
func (s *PickupIndex) Remove(ctx context.Context, eventUID, rideUID string) error {
	return s.client.ZRem(ctx, pickupKeyPrefix+eventUID, rideUID).Err()
}

// Nearby returns the pickups within radiusKm of a point, nearest first.
func (s *PickupIndex) Nearby(ctx context.Context, eventUID string, lat, lon, radiusKm float64) ([]Pickup, error) {
	results, err := s.client.GeoSearchLocation(ctx, pickupKeyPrefix+eventUID, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lon,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}

	pickups := make([]Pickup, 0, len(results))
	for _, r := range results {
		pickups = append(pickups, Pickup{
			RideUID:    r.Name,
			Lat:        r.Latitude,
			Lon:        r.Longitude,
			DistanceKm: r.Dist,
		})
	}
	return pickups, nil
}
