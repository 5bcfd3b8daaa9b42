package domain

import (
	"fmt"
	"math"
	"time"
)

// RideStatus is the lifecycle position of a ride. Values are persisted as integers.
type RideStatus int

const (
	RideStatusQueued RideStatus = iota
	RideStatusAccepted
	RideStatusConnected
	RideStatusCompleted
)

var rideStatusNames = [...]string{"queued", "accepted", "connected", "completed"}

func (s RideStatus) String() string {
	if s.Valid() {
		return rideStatusNames[s]
	}
	return fmt.Sprintf("RideStatus(%d)", int(s))
}

// Valid reports whether s is a known status.
func (s RideStatus) Valid() bool {
	return s >= RideStatusQueued && s <= RideStatusCompleted
}

// Active reports whether a driver is assigned and the ride has not ended.
func (s RideStatus) Active() bool {
	return s == RideStatusAccepted || s == RideStatusConnected
}

// CanTransitionTo reports whether moving from s to next is a legal step.
// Completed is terminal.
func (s RideStatus) CanTransitionTo(next RideStatus) bool {
	switch s {
	case RideStatusQueued:
		return next == RideStatusAccepted
	case RideStatusAccepted:
		return next == RideStatusConnected || next == RideStatusCompleted
	case RideStatusConnected:
		return next == RideStatusCompleted
	}
	return false
}

// MarshalText renders the status name.
func (s RideStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Location is a pickup coordinate.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate lies on the globe.
func (l Location) Valid() bool {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lon) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

// Person is a user reference with its cached display name.
type Person struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
}

// EventInfo is an event reference with its cached title.
type EventInfo struct {
	UID   string `json:"uid"`
	Title string `json:"title"`
}

// QueueEntry is a waiting ride as listed under its event.
type QueueEntry struct {
	RideUID          string    `json:"rideUid"`
	RiderUID         string    `json:"riderUid"`
	RiderDisplayName string    `json:"riderDisplayName"`
	TimeOfRequest    time.Time `json:"timeOfRequest"`
}

// ActiveRide is a ride a driver has claimed, as listed under its event.
type ActiveRide struct {
	RideUID       string     `json:"rideUid"`
	Status        RideStatus `json:"status"`
	Rider         Person     `json:"rider"`
	Driver        Person     `json:"driver"`
	Pickup        Location   `json:"pickup"`
	TimeOfRequest time.Time  `json:"timeOfRequest"`
}
