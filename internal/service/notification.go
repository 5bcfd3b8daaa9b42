package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"eventrides/internal/domain"
	"eventrides/internal/session"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationRideRequested   NotificationType = "RIDE_REQUESTED"
	NotificationDriverAssigned  NotificationType = "DRIVER_ASSIGNED"
	NotificationDriverConnected NotificationType = "DRIVER_CONNECTED"
	NotificationDriveEnded      NotificationType = "DRIVE_ENDED"
	NotificationRideCancelled   NotificationType = "RIDE_CANCELLED"
)

// Notification is one push message addressed to a topic.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Topic     string           `json:"topic"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"data,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Publisher hands an encoded notification to the push gateway.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// NotificationService sends push notifications to ride and event topics.
// Delivery is best effort: failures are logged and never fail the operation
// that triggered them.
type NotificationService struct {
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewNotificationService creates a new NotificationService. A nil publisher
// only logs.
func NewNotificationService(publisher Publisher, logger *slog.Logger) *NotificationService {
	return &NotificationService{publisher: publisher, logger: logger, now: time.Now}
}

// NotifyRideRequested tells the event's drivers that a rider is waiting.
func (s *NotificationService) NotifyRideRequested(ctx context.Context, rideUID string, rider domain.Person, event domain.EventInfo) {
	s.send(ctx, Notification{
		Type:    NotificationRideRequested,
		Topic:   session.EventTopic(event.UID),
		Title:   "New Ride Request",
		Message: fmt.Sprintf("%s is waiting for a ride from %s", rider.DisplayName, event.Title),
		Data:    map[string]any{"rideUid": rideUID, "eventUid": event.UID},
	})
}

// NotifyDriverAssigned tells the rider that a driver accepted the ride.
func (s *NotificationService) NotifyDriverAssigned(ctx context.Context, rideUID string, driver domain.Person) {
	s.send(ctx, Notification{
		Type:    NotificationDriverAssigned,
		Topic:   session.RideTopic(rideUID),
		Title:   "Driver Assigned",
		Message: fmt.Sprintf("%s is on the way", driver.DisplayName),
		Data:    map[string]any{"rideUid": rideUID, "driverUid": driver.UID},
	})
}

// NotifyDriverConnected tells the rider that the driver has arrived.
func (s *NotificationService) NotifyDriverConnected(ctx context.Context, rideUID string) {
	s.send(ctx, Notification{
		Type:    NotificationDriverConnected,
		Topic:   session.RideTopic(rideUID),
		Title:   "Driver Arrived",
		Message: "Your driver has arrived.",
		Data:    map[string]any{"rideUid": rideUID},
	})
}

// NotifyDriveEnded tells the rider that the ride is complete.
func (s *NotificationService) NotifyDriveEnded(ctx context.Context, rideUID string) {
	s.send(ctx, Notification{
		Type:    NotificationDriveEnded,
		Topic:   session.RideTopic(rideUID),
		Title:   "Ride Complete",
		Message: "You have arrived. Thanks for riding!",
		Data:    map[string]any{"rideUid": rideUID},
	})
}

// NotifyRideCancelled tells whoever follows the ride that it was cancelled.
func (s *NotificationService) NotifyRideCancelled(ctx context.Context, rideUID string) {
	s.send(ctx, Notification{
		Type:    NotificationRideCancelled,
		Topic:   session.RideTopic(rideUID),
		Title:   "Ride Cancelled",
		Message: "The ride request was cancelled.",
		Data:    map[string]any{"rideUid": rideUID},
	})
}

func (s *NotificationService) send(ctx context.Context, n Notification) {
	n.ID = uuid.New().String()
	n.CreatedAt = s.now()
	s.logger.Debug("notification", "type", n.Type, "topic", n.Topic)
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		s.logger.Error("encode notification", "type", n.Type, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, n.Topic, payload); err != nil {
		s.logger.Warn("notification not delivered", "type", n.Type, "topic", n.Topic, "error", err)
	}
}
