package session

import "errors"

var (
	ErrPublicProfileExists = errors.New("account already has a public profile")
	ErrSchoolProfileExists = errors.New("account already has a school profile")
	ErrNoPublicProfile     = errors.New("a public profile is required")
	ErrSessionClosed       = errors.New("session closed")
	ErrInvalidIdentity     = errors.New("identity has no uid")
)
