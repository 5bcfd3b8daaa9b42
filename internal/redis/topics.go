package redis

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// Key prefixes
const (
	userTopicsPrefix = "push:topics:"
	topicUsersPrefix = "push:topic:"
)

// TopicStore keeps push-topic registrations in two Redis sets: the topics of
// each user and the users of each topic. A push gateway reads the latter.
type TopicStore struct {
	client *redis.Client
}

// NewTopicStore creates a new TopicStore.
func NewTopicStore(client *redis.Client) *TopicStore {
	return &TopicStore{client: client}
}

// Subscribe registers uid for topic.
func (s *TopicStore) Subscribe(ctx context.Context, uid, topic string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, userTopicsPrefix+uid, topic)
	pipe.SAdd(ctx, topicUsersPrefix+topic, uid)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("subscribe %s to %s: %w", uid, topic, err)
	}
	return nil
}

// Unsubscribe drops uid from topic. Empty sets are removed by Redis.
func (s *TopicStore) Unsubscribe(ctx context.Context, uid, topic string) error {
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, userTopicsPrefix+uid, topic)
	pipe.SRem(ctx, topicUsersPrefix+topic, uid)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s from %s: %w", uid, topic, err)
	}
	return nil
}

// Topics returns the topics uid is registered for, sorted.
func (s *TopicStore) Topics(ctx context.Context, uid string) ([]string, error) {
	topics, err := s.client.SMembers(ctx, userTopicsPrefix+uid).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(topics)
	return topics, nil
}

// Subscribers returns the users registered for topic, sorted.
func (s *TopicStore) Subscribers(ctx context.Context, topic string) ([]string, error) {
	uids, err := s.client.SMembers(ctx, topicUsersPrefix+topic).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(uids)
	return uids, nil
}

// Publish sends payload to the push gateway channel of topic.
func (s *TopicStore) Publish(ctx context.Context, topic string, payload []byte) error {
	return s.client.Publish(ctx, topicUsersPrefix+topic, payload).Err()
}
