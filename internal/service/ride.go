package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"eventrides/internal/domain"
	"eventrides/internal/model"
	"eventrides/internal/redis"
	"eventrides/internal/store"
)

// Caller is the signed-in user an operation acts for.
type Caller interface {
	UID() string
	Rider() (domain.Person, error)
	Driver() (domain.Person, error)
}

// RideService handles rider operations.
type RideService struct {
	st                  store.Store
	events              *EventDirectory
	pickups             redis.PickupIndexInterface
	notificationService *NotificationService
	logger              *slog.Logger
}

// NewRideService creates a new RideService. pickups may be nil.
func NewRideService(
	st store.Store,
	events *EventDirectory,
	pickups redis.PickupIndexInterface,
	notificationService *NotificationService,
	logger *slog.Logger,
) *RideService {
	return &RideService{
		st:                  st,
		events:              events,
		pickups:             pickups,
		notificationService: notificationService,
		logger:              logger,
	}
}

// RequestRideRequest contains the parameters for requesting a ride.
type RequestRideRequest struct {
	EventUID string
	Pickup   domain.Location
}

// RequestRide queues a ride for the caller at an event.
func (s *RideService) RequestRide(ctx context.Context, caller Caller, req RequestRideRequest) (*model.RideState, error) {
	rider, err := caller.Rider()
	if err != nil {
		return nil, err
	}
	if !req.Pickup.Valid() {
		return nil, model.ErrInvalidLocation
	}
	if req.EventUID == "" {
		return nil, ErrInvalidEventID
	}

	rel, err := model.LoadRelations(ctx, s.st, rider.UID)
	if err != nil {
		return nil, err
	}
	if rel.Ride != "" {
		return nil, fmt.Errorf("ride %s: %w", rel.Ride, ErrRideExists)
	}

	event, err := s.events.Get(ctx, req.EventUID)
	if err != nil {
		return nil, err
	}
	info := event.Info()

	ref, err := model.CreateRide(ctx, s.st, rider, info, req.Pickup)
	if err != nil {
		return nil, err
	}
	s.logger.Info("ride requested", "ride", ref.ID(), "rider", rider.UID, "event", info.UID)

	if s.pickups != nil {
		if err := s.pickups.Add(ctx, info.UID, ref.ID(), req.Pickup.Lat, req.Pickup.Lon); err != nil {
			s.logger.Warn("pickup not indexed", "ride", ref.ID(), "error", err)
		}
	}
	s.notificationService.NotifyRideRequested(ctx, ref.ID(), rider, info)

	return &model.RideState{
		UID:    ref.ID(),
		Exists: true,
		Status: domain.RideStatusQueued,
		Rider:  rider,
		Event:  info,
		Pickup: req.Pickup,
	}, nil
}

// GetRide reads a ride once.
func (s *RideService) GetRide(ctx context.Context, rideUID string) (model.RideState, error) {
	return model.LoadRide(ctx, s.st, rideUID)
}

// CancelRide cancels the caller's current ride, queued or active, and
// returns its id.
func (s *RideService) CancelRide(ctx context.Context, caller Caller) (string, error) {
	rel, err := model.LoadRelations(ctx, s.st, caller.UID())
	if err != nil {
		return "", err
	}
	if rel.Ride == "" {
		return "", ErrNoRide
	}

	var eventUID string
	state, err := model.LoadRide(ctx, s.st, rel.Ride)
	switch {
	case err == nil:
		eventUID = state.Event.UID
	case errors.Is(err, model.ErrRideNotFound):
		// Dangling relation: still clear it and any stubs we can address.
	default:
		return "", err
	}

	ride := model.NewRide(s.st, model.RideRef(rel.Ride), s.logger)
	if eventUID == "" {
		err = model.DetachRider(ctx, s.st, caller.UID())
	} else {
		err = ride.CancelRequest(ctx, caller.UID(), eventUID)
	}
	if err != nil {
		return "", err
	}

	if s.pickups != nil && eventUID != "" {
		if err := s.pickups.Remove(ctx, eventUID, rel.Ride); err != nil {
			s.logger.Warn("pickup not removed", "ride", rel.Ride, "error", err)
		}
	}
	s.notificationService.NotifyRideCancelled(ctx, rel.Ride)
	return rel.Ride, nil
}

// MarkConnected records that the caller, as driver, picked up the rider of
// their current drive.
func (s *RideService) MarkConnected(ctx context.Context, caller Caller) (string, error) {
	rel, err := model.LoadRelations(ctx, s.st, caller.UID())
	if err != nil {
		return "", err
	}
	if rel.Drive == "" {
		return "", ErrNoDrive
	}
	ride := model.NewRide(s.st, model.RideRef(rel.Drive), s.logger)
	if err := ride.MarkConnected(ctx, caller.UID()); err != nil {
		return "", err
	}
	s.notificationService.NotifyDriverConnected(ctx, rel.Drive)
	return rel.Drive, nil
}
