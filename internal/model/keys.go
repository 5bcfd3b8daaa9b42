package model

import "eventrides/internal/store"

// Collections.
const (
	UsersCollection         = "users"
	EventsCollection        = "events"
	RidesCollection         = "rides"
	RideQueueCollection     = "rideQueue"
	ActiveRidesCollection   = "activeRides"
	DriversCollection       = "drivers"
	OrganizationsCollection = "organizations"
	SavedEventsCollection   = "events"
)

// Document fields.
const (
	fieldTitle         = "title"
	fieldReference     = "reference"
	fieldDisplayName   = "displayName"
	fieldProviderID    = "providerId"
	fieldEmail         = "email"
	fieldEmailVerified = "emailVerified"

	fieldOrganization  = "organization"
	fieldPublicProfile = "publicProfile"
	fieldSchoolProfile = "schoolProfile"
	fieldRide          = "ride"
	fieldDriveFor      = "driveFor"
	fieldDrive         = "drive"

	fieldRider          = "rider"
	fieldDriver         = "driver"
	fieldEvent          = "event"
	fieldStatus         = "status"
	fieldPickupLocation = "pickupLocation"
	fieldTimeOfRequest  = "timeOfRequest"

	fieldRiderDisplayName  = "riderDisplayName"
	fieldRiderReference    = "riderReference"
	fieldDriverDisplayName = "driverDisplayName"
	fieldDriverReference   = "driverReference"
)

// UserRef addresses users/{uid}.
func UserRef(uid string) store.Ref {
	return store.Collection(UsersCollection).Doc(uid)
}

// EventRef addresses events/{uid}.
func EventRef(uid string) store.Ref {
	return store.Collection(EventsCollection).Doc(uid)
}

// RideRef addresses rides/{uid}.
func RideRef(uid string) store.Ref {
	return store.Collection(RidesCollection).Doc(uid)
}

// QueueRef addresses the queue stub of a ride under its event.
func QueueRef(eventUID, rideUID string) store.Ref {
	return EventRef(eventUID).Collection(RideQueueCollection).Doc(rideUID)
}

// ActiveRef addresses the active stub of a ride under its event.
func ActiveRef(eventUID, rideUID string) store.Ref {
	return EventRef(eventUID).Collection(ActiveRidesCollection).Doc(rideUID)
}

// RosterRef addresses a driver's roster entry under an event.
func RosterRef(eventUID, driverUID string) store.Ref {
	return EventRef(eventUID).Collection(DriversCollection).Doc(driverUID)
}

// QueueQuery lists an event's waiting rides, oldest request first.
func QueueQuery(eventUID string) store.Query {
	return EventRef(eventUID).Collection(RideQueueCollection).OrderBy(fieldTimeOfRequest)
}

// reference reads the {reference, <label>} pair stored under key.
func reference(d store.Data, key, label string) (store.Ref, string, bool) {
	m, ok := store.Map(d, key)
	if !ok {
		return store.Ref{}, "", false
	}
	ref, ok := store.RefValue(m, fieldReference)
	if !ok {
		return store.Ref{}, "", false
	}
	name, _ := store.String(m, label)
	return ref, name, true
}

func personData(ref store.Ref, displayName string) store.Data {
	return store.Data{fieldDisplayName: displayName, fieldReference: ref}
}

func titledData(ref store.Ref, title string) store.Data {
	return store.Data{fieldTitle: title, fieldReference: ref}
}
