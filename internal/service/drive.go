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

// DriveService handles driver operations.
type DriveService struct {
	st                  store.Store
	events              *EventDirectory
	pickups             redis.PickupIndexInterface
	notificationService *NotificationService
	logger              *slog.Logger
}

// NewDriveService creates a new DriveService. pickups may be nil.
func NewDriveService(
	st store.Store,
	events *EventDirectory,
	pickups redis.PickupIndexInterface,
	notificationService *NotificationService,
	logger *slog.Logger,
) *DriveService {
	return &DriveService{
		st:                  st,
		events:              events,
		pickups:             pickups,
		notificationService: notificationService,
		logger:              logger,
	}
}

// NextRiderResult is the outcome of a dequeue. Assigned is false when the
// queue was empty.
type NextRiderResult struct {
	Assigned bool   `json:"assigned"`
	RideUID  string `json:"rideUid,omitempty"`
	EventUID string `json:"eventUid"`
}

// StartDriving puts the caller on an event's roster.
func (s *DriveService) StartDriving(ctx context.Context, caller Caller, eventUID string) error {
	driver, err := caller.Driver()
	if err != nil {
		return err
	}
	rel, err := model.LoadRelations(ctx, s.st, driver.UID)
	if err != nil {
		return err
	}
	if rel.DriveFor != "" && rel.DriveFor != eventUID {
		return fmt.Errorf("event %s: %w", rel.DriveFor, ErrDrivingElsewhere)
	}
	event, err := s.events.Get(ctx, eventUID)
	if err != nil {
		return err
	}
	return event.AddDriver(ctx, driver)
}

// StopDriving takes the caller off their event's roster. A driver with a ride
// in progress must end it first.
func (s *DriveService) StopDriving(ctx context.Context, caller Caller) error {
	rel, err := model.LoadRelations(ctx, s.st, caller.UID())
	if err != nil {
		return err
	}
	if rel.DriveFor == "" {
		return ErrNotDriving
	}
	if rel.Drive != "" {
		return fmt.Errorf("ride %s: %w", rel.Drive, model.ErrDriverBusy)
	}
	event := model.NewEvent(s.st, model.EventRef(rel.DriveFor), s.logger)
	return event.StopDriving(ctx, caller.UID())
}

// NextRider assigns the oldest waiting rider of the caller's event to them.
// An empty queue is not an error.
func (s *DriveService) NextRider(ctx context.Context, caller Caller) (*NextRiderResult, error) {
	driver, err := caller.Driver()
	if err != nil {
		return nil, err
	}
	rel, err := model.LoadRelations(ctx, s.st, driver.UID)
	if err != nil {
		return nil, err
	}
	if rel.DriveFor == "" {
		return nil, ErrNotDriving
	}
	if rel.Drive != "" {
		return nil, fmt.Errorf("ride %s: %w", rel.Drive, model.ErrDriverBusy)
	}

	event, err := s.events.Get(ctx, rel.DriveFor)
	if err != nil {
		return nil, err
	}
	if !event.HasDriver(driver.UID) {
		return nil, ErrNotOnRoster
	}

	ref, ok, err := event.AssignNextRider(ctx, driver)
	if err != nil {
		return nil, err
	}
	result := &NextRiderResult{Assigned: ok, EventUID: event.UID()}
	if !ok {
		return result, nil
	}
	result.RideUID = ref.ID()

	if s.pickups != nil {
		if err := s.pickups.Remove(ctx, event.UID(), ref.ID()); err != nil {
			s.logger.Warn("pickup not removed", "ride", ref.ID(), "error", err)
		}
	}
	s.notificationService.NotifyDriverAssigned(ctx, ref.ID(), driver)
	return result, nil
}

// EndDrive completes the caller's current drive. A drive relation pointing
// at a deleted ride is cleared instead.
func (s *DriveService) EndDrive(ctx context.Context, caller Caller) (string, error) {
	rel, err := model.LoadRelations(ctx, s.st, caller.UID())
	if err != nil {
		return "", err
	}
	if rel.Drive == "" {
		return "", ErrNoDrive
	}
	state, err := model.LoadRide(ctx, s.st, rel.Drive)
	if errors.Is(err, model.ErrRideNotFound) {
		if err := model.DetachDriver(ctx, s.st, caller.UID()); err != nil {
			return "", err
		}
		s.logger.Warn("dangling drive relation cleared", "driver", caller.UID(), "ride", rel.Drive)
		return rel.Drive, nil
	}
	if err != nil {
		return "", err
	}
	if state.Event.UID == "" {
		return "", fmt.Errorf("ride %s event: %w", rel.Drive, model.ErrMalformedDocument)
	}
	event := model.NewEvent(s.st, model.EventRef(state.Event.UID), s.logger)
	if err := event.EndDrive(ctx, caller.UID(), rel.Drive); err != nil {
		return "", err
	}
	s.notificationService.NotifyDriveEnded(ctx, rel.Drive)
	return rel.Drive, nil
}

// Roster returns the drivers of an event.
func (s *DriveService) Roster(ctx context.Context, eventUID string) ([]domain.Driver, error) {
	event, err := s.events.Get(ctx, eventUID)
	if err != nil {
		return nil, err
	}
	return event.State().Drivers, nil
}

// NearbyPickups lists the waiting riders of the caller's event within
// radiusKm of a point, nearest first.
func (s *DriveService) NearbyPickups(ctx context.Context, caller Caller, at domain.Location, radiusKm float64) ([]redis.Pickup, error) {
	if !at.Valid() {
		return nil, model.ErrInvalidLocation
	}
	if radiusKm <= 0 {
		return nil, ErrInvalidRadius
	}
	rel, err := model.LoadRelations(ctx, s.st, caller.UID())
	if err != nil {
		return nil, err
	}
	if rel.DriveFor == "" {
		return nil, ErrNotDriving
	}
	if s.pickups == nil {
		return []redis.Pickup{}, nil
	}
	return s.pickups.Nearby(ctx, rel.DriveFor, at.Lat, at.Lon, radiusKm)
}
