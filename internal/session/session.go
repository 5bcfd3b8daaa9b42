// Package session ties a signed-in identity to its live user mirror and
// keeps push-topic registrations in step with the user's relations.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eventrides/internal/domain"
	"eventrides/internal/model"
	"eventrides/internal/notify"
	"eventrides/internal/store"
)

const topicTimeout = 5 * time.Second

// Session is the explicit "current user" handed to every operation acting on
// behalf of an identity. It is created on sign-in and closed on sign-out.
type Session struct {
	st     store.Store
	topics TopicRegistrar
	logger *slog.Logger
	user   *model.User

	mu       sync.Mutex
	identity Identity
	userSub  *notify.Subscription[*model.User]
	current  map[string]bool
	closed   bool
	done     chan struct{}

	// serializes registrar calls so topic diffs apply in order
	topicMu sync.Mutex
}

// New returns a session for identity. Call Start before use.
func New(st store.Store, identity Identity, topics TopicRegistrar, logger *slog.Logger) *Session {
	if topics == nil {
		topics = NopTopics{}
	}
	logger = logger.With("uid", identity.UID)
	return &Session{
		st:       st,
		topics:   topics,
		logger:   logger,
		user:     model.NewUser(st, identity.UID, logger),
		identity: identity.clone(),
		current:  make(map[string]bool),
		done:     make(chan struct{}),
	}
}

// Start pushes the identity's profiles to the user document and attaches the
// user listeners.
func (s *Session) Start(ctx context.Context) error {
	id := s.Identity()
	if id.UID == "" {
		return ErrInvalidIdentity
	}
	if err := s.user.PushProfiles(ctx, id.Public, id.School); err != nil {
		return fmt.Errorf("push profiles: %w", err)
	}

	sub := s.user.Subscribe(s.onUserChanged)
	s.mu.Lock()
	s.userSub = sub
	s.mu.Unlock()
	return nil
}

// Wait blocks until the user mirror has applied its first snapshots.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.user.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.done }

// UID returns the signed-in user id.
func (s *Session) UID() string { return s.user.UID() }

// User returns the live user mirror.
func (s *Session) User() *model.User { return s.user }

// Identity returns a copy of the identity.
func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity.clone()
}

// Subscribe registers fn for the shared "user data changed" event.
func (s *Session) Subscribe(fn func(*model.User)) *notify.Subscription[*model.User] {
	return s.user.Subscribe(fn)
}

// Rider returns the public profile reference rides are requested with.
func (s *Session) Rider() (domain.Person, error) {
	return s.publicPerson()
}

// Driver returns the public profile reference drives are made with.
func (s *Session) Driver() (domain.Person, error) {
	return s.publicPerson()
}

func (s *Session) publicPerson() (domain.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity.Public == nil {
		return domain.Person{}, ErrNoPublicProfile
	}
	return domain.Person{UID: s.identity.UID, DisplayName: s.identity.Public.DisplayName}, nil
}

// SetPublicProfile attaches a public profile. An account holds at most one.
func (s *Session) SetPublicProfile(ctx context.Context, p domain.PublicProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.identity.Public != nil {
		return ErrPublicProfileExists
	}
	if err := s.user.PushProfiles(ctx, &p, nil); err != nil {
		return fmt.Errorf("set public profile: %w", err)
	}
	s.identity.Public = &p
	return nil
}

// SetSchoolProfile attaches a school profile. An account holds at most one.
func (s *Session) SetSchoolProfile(ctx context.Context, p domain.SchoolProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.identity.School != nil {
		return ErrSchoolProfileExists
	}
	if err := s.user.PushProfiles(ctx, nil, &p); err != nil {
		return fmt.Errorf("set school profile: %w", err)
	}
	s.identity.School = &p
	return nil
}

// SaveEvent bookmarks an event.
func (s *Session) SaveEvent(ctx context.Context, event domain.EventInfo) error {
	if err := s.user.SaveEvent(ctx, event); err != nil {
		return fmt.Errorf("save event %s: %w", event.UID, err)
	}
	return nil
}

// UnsaveEvent removes a bookmark.
func (s *Session) UnsaveEvent(ctx context.Context, eventUID string) error {
	if err := s.user.UnsaveEvent(ctx, eventUID); err != nil {
		return fmt.Errorf("unsave event %s: %w", eventUID, err)
	}
	return nil
}

// JoinOrganization records a membership.
func (s *Session) JoinOrganization(ctx context.Context, org domain.Membership) error {
	if err := s.user.JoinOrganization(ctx, org); err != nil {
		return fmt.Errorf("join organization %s: %w", org.UID, err)
	}
	return nil
}

// LeaveOrganization removes a membership.
func (s *Session) LeaveOrganization(ctx context.Context, orgUID string) error {
	if err := s.user.LeaveOrganization(ctx, orgUID); err != nil {
		return fmt.Errorf("leave organization %s: %w", orgUID, err)
	}
	return nil
}

// Close detaches the user mirror and drops push-topic registrations.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.userSub
	close(s.done)
	s.mu.Unlock()

	sub.Unsubscribe()
	s.user.Close()
	s.syncTopics(nil)
}

func (s *Session) onUserChanged(u *model.User) {
	want := make(map[string]bool)
	if r := u.Ride(); r != nil {
		want[RideTopic(r.UID())] = true
	}
	if r := u.Drive(); r != nil {
		want[RideTopic(r.UID())] = true
	}
	if e := u.DriveFor(); e != nil {
		want[EventTopic(e.UID())] = true
	}
	s.syncTopics(want)
}

// syncTopics moves the registered topics to want. A nil want, used by Close,
// drops everything; after Close nothing else is registered.
func (s *Session) syncTopics(want map[string]bool) {
	s.topicMu.Lock()
	defer s.topicMu.Unlock()

	s.mu.Lock()
	if s.closed && want != nil {
		s.mu.Unlock()
		return
	}
	add, remove := topicDiff(s.current, want)
	if want == nil {
		want = make(map[string]bool)
	}
	s.current = want
	s.mu.Unlock()

	if len(add) == 0 && len(remove) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), topicTimeout)
	defer cancel()
	uid := s.UID()
	for _, t := range remove {
		if err := s.topics.Unsubscribe(ctx, uid, t); err != nil {
			s.logger.Warn("push topic unsubscribe failed", "topic", t, "error", err)
		}
	}
	for _, t := range add {
		if err := s.topics.Subscribe(ctx, uid, t); err != nil {
			s.logger.Warn("push topic subscribe failed", "topic", t, "error", err)
		}
	}
}
