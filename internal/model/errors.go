package model

import "errors"

var (
	// ErrStaleQueueEntry means the targeted queue entry vanished or is no longer
	// the head of the queue. Re-read the queue and try again.
	ErrStaleQueueEntry = errors.New("stale queue entry")

	// ErrMalformedDocument means a document exists but misses an expected field.
	ErrMalformedDocument = errors.New("malformed document")

	ErrRideNotFound      = errors.New("ride not found")
	ErrRideNotActive     = errors.New("ride is not active")
	ErrNotAssignedDriver = errors.New("driver is not assigned to ride")
	ErrDriverBusy        = errors.New("driver already has a ride")
	ErrInvalidTransition = errors.New("invalid ride status transition")
	ErrInvalidLocation   = errors.New("invalid pickup location")
	ErrEventUnknown      = errors.New("event unknown")
)
