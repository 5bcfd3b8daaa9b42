package auth

import (
	"fmt"

	"eventrides/internal/notify"
	"eventrides/internal/session"
)

// Source turns token sign-ins and explicit sign-outs into auth events.
type Source struct {
	verifier *Verifier
	events   notify.Topic[session.AuthEvent]
}

// NewSource returns a source backed by verifier.
func NewSource(verifier *Verifier) *Source {
	return &Source{verifier: verifier}
}

// Subscribe registers fn for auth events.
func (s *Source) Subscribe(fn func(session.AuthEvent)) *notify.Subscription[session.AuthEvent] {
	return s.events.Subscribe(fn)
}

// SignIn verifies token and publishes a sign-in for its identity.
func (s *Source) SignIn(token string) (session.Identity, error) {
	id, err := s.verifier.Verify(token)
	if err != nil {
		return session.Identity{}, fmt.Errorf("sign in: %w", err)
	}
	s.events.Publish(session.AuthEvent{Kind: session.SignedIn, Identity: id})
	return id, nil
}

// SignOut publishes a sign-out for uid.
func (s *Source) SignOut(uid string) {
	s.events.Publish(session.AuthEvent{Kind: session.SignedOut, Identity: session.Identity{UID: uid}})
}
