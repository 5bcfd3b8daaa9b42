package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eventrides/internal/notify"
	"eventrides/internal/observability"
	"eventrides/internal/store"
)

// AuthEventKind distinguishes sign-in from sign-out.
type AuthEventKind int

const (
	SignedIn AuthEventKind = iota + 1
	SignedOut
)

// AuthEvent is published by an auth provider.
type AuthEvent struct {
	Kind     AuthEventKind
	Identity Identity
}

// AuthSource publishes sign-in and sign-out events.
type AuthSource interface {
	Subscribe(fn func(AuthEvent)) *notify.Subscription[AuthEvent]
}

const signInTimeout = 10 * time.Second

// Registry holds one session per signed-in uid.
type Registry struct {
	st     store.Store
	topics TopicRegistrar
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	authSubs []*notify.Subscription[AuthEvent]
}

// NewRegistry returns an empty registry.
func NewRegistry(st store.Store, topics TopicRegistrar, logger *slog.Logger) *Registry {
	return &Registry{
		st:       st,
		topics:   topics,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Attach makes the registry react to src: sessions are built on sign-in and
// closed on sign-out.
func (r *Registry) Attach(src AuthSource) {
	sub := src.Subscribe(func(ev AuthEvent) {
		switch ev.Kind {
		case SignedIn:
			ctx, cancel := context.WithTimeout(context.Background(), signInTimeout)
			defer cancel()
			if _, err := r.SignIn(ctx, ev.Identity); err != nil {
				r.logger.Error("sign-in failed", "uid", ev.Identity.UID, "error", err)
			}
		case SignedOut:
			r.SignOut(ev.Identity.UID)
		}
	})
	r.mu.Lock()
	r.authSubs = append(r.authSubs, sub)
	r.mu.Unlock()
}

// SignIn returns the session for identity, starting one if needed. The
// session is started outside the registry lock; when two sign-ins for the
// same uid race, the first one registered wins and the other is closed.
func (r *Registry) SignIn(ctx context.Context, identity Identity) (*Session, error) {
	if identity.UID == "" {
		return nil, ErrInvalidIdentity
	}
	if s, ok := r.Get(identity.UID); ok {
		return s, nil
	}

	s := New(r.st, identity, r.topics, r.logger)
	if err := s.Start(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}

	r.mu.Lock()
	if existing, ok := r.sessions[identity.UID]; ok {
		r.mu.Unlock()
		s.Close()
		return existing, nil
	}
	r.sessions[identity.UID] = s
	observability.SessionsActive.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	r.logger.Info("session started", "uid", identity.UID, "profiles", identity.Profiles().String())
	return s, nil
}

// SignOut closes the session for uid. It reports whether one existed.
func (r *Registry) SignOut(uid string) bool {
	r.mu.Lock()
	s, ok := r.sessions[uid]
	delete(r.sessions, uid)
	observability.SessionsActive.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	if ok {
		s.Close()
		r.logger.Info("session closed", "uid", uid)
	}
	return ok
}

// Get returns the session for uid.
func (r *Registry) Get(uid string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[uid]
	return s, ok
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close detaches from auth sources and closes every session.
func (r *Registry) Close() {
	r.mu.Lock()
	subs := r.authSubs
	sessions := r.sessions
	r.authSubs = nil
	r.sessions = make(map[string]*Session)
	observability.SessionsActive.Set(0)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	for _, s := range sessions {
		s.Close()
	}
}
