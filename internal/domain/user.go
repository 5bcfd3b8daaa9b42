package domain

// PublicProfile is the social login profile a user rides and drives with.
type PublicProfile struct {
	DisplayName string `json:"displayName"`
	ProviderID  string `json:"providerId"`
}

// SchoolProfile is the institutional login profile.
type SchoolProfile struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
}

// Membership is an organization the user belongs to.
type Membership struct {
	UID   string `json:"uid"`
	Title string `json:"title"`
}

// SavedEvent is an event the user bookmarked.
type SavedEvent struct {
	UID   string `json:"uid"`
	Title string `json:"title"`
}
