package session

import "eventrides/internal/domain"

// Profiles says which login profiles an identity carries.
type Profiles int

const (
	ProfilesNone Profiles = iota
	ProfilesPublic
	ProfilesSchool
	ProfilesBoth
)

func (p Profiles) String() string {
	switch p {
	case ProfilesPublic:
		return "public"
	case ProfilesSchool:
		return "school"
	case ProfilesBoth:
		return "both"
	}
	return "none"
}

// Identity is a signed-in account with its optional profiles.
type Identity struct {
	UID    string                `json:"uid"`
	Public *domain.PublicProfile `json:"publicProfile,omitempty"`
	School *domain.SchoolProfile `json:"schoolProfile,omitempty"`
}

// Profiles reports which profile variants are present.
func (i Identity) Profiles() Profiles {
	switch {
	case i.Public != nil && i.School != nil:
		return ProfilesBoth
	case i.Public != nil:
		return ProfilesPublic
	case i.School != nil:
		return ProfilesSchool
	}
	return ProfilesNone
}

// clone copies the profile pointers' targets.
func (i Identity) clone() Identity {
	if i.Public != nil {
		p := *i.Public
		i.Public = &p
	}
	if i.School != nil {
		s := *i.School
		i.School = &s
	}
	return i
}
