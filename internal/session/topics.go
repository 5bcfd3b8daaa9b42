package session

import (
	"context"
	"sort"
)

// TopicRegistrar subscribes users to push-message topics. Delivery is not
// handled here.
type TopicRegistrar interface {
	Subscribe(ctx context.Context, uid, topic string) error
	Unsubscribe(ctx context.Context, uid, topic string) error
}

// NopTopics discards topic registrations.
type NopTopics struct{}

func (NopTopics) Subscribe(context.Context, string, string) error { return nil }
func (NopTopics) Unsubscribe(context.Context, string, string) error { return nil }

// RideTopic names the push topic for a ride.
func RideTopic(rideUID string) string { return "ride-" + rideUID }

// EventTopic names the push topic for an event.
func EventTopic(eventUID string) string { return "event-" + eventUID }

// topicDiff returns what to add and remove to move from current to want.
func topicDiff(current, want map[string]bool) (add, remove []string) {
	for t := range want {
		if !current[t] {
			add = append(add, t)
		}
	}
	for t := range current {
		if !want[t] {
			remove = append(remove, t)
		}
	}
	sort.Strings(add)
	sort.Strings(remove)
	return add, remove
}
