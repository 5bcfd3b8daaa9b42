package service

import "errors"

var (
	// ErrInvalidEventID is returned when event ID is empty.
	ErrInvalidEventID = errors.New("invalid event id")

	// ErrEventNotFound is returned when the event document does not exist.
	ErrEventNotFound = errors.New("event not found")

	// ErrRideExists is returned when the rider already has a ride.
	ErrRideExists = errors.New("rider already has a ride")

	// ErrNoRide is returned when the rider has no ride to act on.
	ErrNoRide = errors.New("rider has no ride")

	// ErrNoDrive is returned when the driver has no ride to act on.
	ErrNoDrive = errors.New("driver has no ride")

	// ErrNotDriving is returned when the user is on no event roster.
	ErrNotDriving = errors.New("not driving for an event")

	// ErrDrivingElsewhere is returned when the user already drives for another event.
	ErrDrivingElsewhere = errors.New("already driving for another event")

	// ErrNotOnRoster is returned when the driver is missing from the event roster.
	ErrNotOnRoster = errors.New("driver not on event roster")

	// ErrInvalidRadius is returned for a non-positive search radius.
	ErrInvalidRadius = errors.New("invalid radius")
)
