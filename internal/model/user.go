package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eventrides/internal/domain"
	"eventrides/internal/notify"
	"eventrides/internal/store"
)

const (
	sourceUser          = "user"
	sourceOrganizations = "organizations"
	sourceSavedEvents   = "savedEvents"
)

// UserState is a point-in-time copy of a user's cached fields. Relations are
// reported by id; the live sub-entities are available from the User.
type UserState struct {
	UID           string                `json:"uid"`
	Exists        bool                  `json:"exists"`
	PublicProfile *domain.PublicProfile `json:"publicProfile,omitempty"`
	SchoolProfile *domain.SchoolProfile `json:"schoolProfile,omitempty"`
	Ride          string                `json:"ride,omitempty"`
	DriveFor      string                `json:"driveFor,omitempty"`
	Drive         string                `json:"drive,omitempty"`
	Organizations []domain.Membership   `json:"organizations"`
	SavedEvents   []domain.SavedEvent   `json:"savedEvents"`
}

// User mirrors users/{uid} with its organizations and saved events, and
// resolves the ride, driveFor and drive relations into live sub-entities.
type User struct {
	ref    store.Ref
	st     store.Store
	logger *slog.Logger
	c      *cache[*User]

	mu            sync.RWMutex
	closed        bool
	exists        bool
	public        *domain.PublicProfile
	school        *domain.SchoolProfile
	ride          *Ride
	driveFor      *Event
	driveForGone  *notify.Subscription[*Event]
	drive         *Ride
	organizations []domain.Membership
	savedEvents   []domain.SavedEvent
}

// NewUser returns an unattached mirror of users/{uid}.
func NewUser(st store.Store, uid string, logger *slog.Logger) *User {
	ref := UserRef(uid)
	u := &User{
		ref:    ref,
		st:     st,
		logger: logger.With("user", uid),
	}
	sources := []string{sourceUser, sourceOrganizations, sourceSavedEvents}
	u.c = newCache("user", u, u.logger, sources, func() []store.Registration {
		return []store.Registration{
			st.ListenDocument(ref, u.onUser),
			st.ListenQuery(ref.Collection(OrganizationsCollection).All(), u.onOrganizations),
			st.ListenQuery(ref.Collection(SavedEventsCollection).All(), u.onSavedEvents),
		}
	})
	return u
}

// Ref returns the user document reference.
func (u *User) Ref() store.Ref { return u.ref }

// UID returns the user id.
func (u *User) UID() string { return u.ref.ID() }

// Ride returns the ride this user requested, if any.
func (u *User) Ride() *Ride {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.ride
}

// DriveFor returns the event this user is on the roster of, if any.
func (u *User) DriveFor() *Event {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.driveFor
}

// Drive returns the ride this user is driving, if any.
func (u *User) Drive() *Ride {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.drive
}

// State returns a copy of the cached fields.
func (u *User) State() UserState {
	u.mu.RLock()
	defer u.mu.RUnlock()
	s := UserState{
		UID:           u.ref.ID(),
		Exists:        u.exists,
		Organizations: append([]domain.Membership(nil), u.organizations...),
		SavedEvents:   append([]domain.SavedEvent(nil), u.savedEvents...),
	}
	if u.public != nil {
		p := *u.public
		s.PublicProfile = &p
	}
	if u.school != nil {
		p := *u.school
		s.SchoolProfile = &p
	}
	if u.ride != nil {
		s.Ride = u.ride.UID()
	}
	if u.driveFor != nil {
		s.DriveFor = u.driveFor.UID()
	}
	if u.drive != nil {
		s.Drive = u.drive.UID()
	}
	return s
}

// Subscribe registers fn for the shared "user data changed" event.
func (u *User) Subscribe(fn func(*User)) *notify.Subscription[*User] { return u.c.subscribe(fn) }

// OnGone registers fn for deletion of the user document.
func (u *User) OnGone(fn func(*User)) *notify.Subscription[*User] { return u.c.onGone(fn) }

// Fetch attaches the listeners, or re-emits the current state when attached.
func (u *User) Fetch() { u.c.fetch() }

// Ready is closed once every listener delivered its first snapshot.
func (u *User) Ready() <-chan struct{} { return u.c.ready }

// Close detaches the listeners and closes every resolved sub-entity.
func (u *User) Close() {
	u.c.close()

	u.mu.Lock()
	u.closed = true
	ride, driveFor, drive, gone := u.ride, u.driveFor, u.drive, u.driveForGone
	u.ride, u.driveFor, u.drive, u.driveForGone = nil, nil, nil, nil
	u.mu.Unlock()

	gone.Unsubscribe()
	for _, r := range []*Ride{ride, drive} {
		if r != nil {
			r.Close()
		}
	}
	if driveFor != nil {
		driveFor.Close()
	}
}

// relationDiff collects the sub-entities a snapshot replaced or introduced.
// They are closed and fetched after the user lock is released.
type relationDiff struct {
	closeRides  []*Ride
	closeEvents []*Event
	fetchRides  []*Ride
	fetchEvent  *Event
	unsubscribe *notify.Subscription[*Event]
}

func (d *relationDiff) run() {
	d.unsubscribe.Unsubscribe()
	for _, r := range d.closeRides {
		r.Close()
	}
	for _, e := range d.closeEvents {
		e.Close()
	}
	for _, r := range d.fetchRides {
		r.Fetch()
	}
	if d.fetchEvent != nil {
		d.fetchEvent.Fetch()
	}
}

func (u *User) onUser(snap *store.Snapshot, err error) {
	if !u.c.active() {
		return
	}
	if err != nil {
		u.c.listenError(sourceUser, err)
		return
	}
	if u.applyUser(snap) {
		u.c.applied(sourceUser, !snap.Exists())
	}
}

// applyUser merges snap and resolves the relations. It reports false, without
// building any sub-entity, once the user is closed.
func (u *User) applyUser(snap *store.Snapshot) bool {
	var diff relationDiff
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return false
	}
	if snap.Exists() {
		u.exists = true
		data := snap.Data()
		u.mergeProfiles(data)
		ref, _ := store.RefValue(data, fieldRide)
		u.ride = u.resolveRide(u.ride, ref, &diff)
		ref, _ = store.RefValue(data, fieldDrive)
		u.drive = u.resolveRide(u.drive, ref, &diff)
		ref, _ = store.RefValue(data, fieldDriveFor)
		u.resolveDriveFor(ref, &diff)
	} else {
		u.exists = false
		u.public, u.school = nil, nil
		u.ride = u.resolveRide(u.ride, store.Ref{}, &diff)
		u.drive = u.resolveRide(u.drive, store.Ref{}, &diff)
		u.resolveDriveFor(store.Ref{}, &diff)
	}
	u.mu.Unlock()

	diff.run()
	return true
}

func (u *User) mergeProfiles(data store.Data) {
	if m, ok := store.Map(data, fieldPublicProfile); ok {
		p := domain.PublicProfile{}
		p.DisplayName, _ = store.String(m, fieldDisplayName)
		p.ProviderID, _ = store.String(m, fieldProviderID)
		u.public = &p
	}
	if m, ok := store.Map(data, fieldSchoolProfile); ok {
		p := domain.SchoolProfile{}
		p.Email, _ = store.String(m, fieldEmail)
		p.EmailVerified, _ = store.Bool(m, fieldEmailVerified)
		u.school = &p
	}
}

// resolveRide keeps current while it still points at ref, otherwise schedules
// it for closing and returns a fresh sub-entity for ref (nil when ref is zero).
// Must be called with u.mu held.
func (u *User) resolveRide(current *Ride, ref store.Ref, diff *relationDiff) *Ride {
	if current != nil && current.Ref() == ref {
		return current
	}
	if current != nil {
		diff.closeRides = append(diff.closeRides, current)
	}
	if ref.IsZero() {
		return nil
	}
	r := NewRide(u.st, ref, u.logger)
	diff.fetchRides = append(diff.fetchRides, r)
	return r
}

// resolveDriveFor must be called with u.mu held.
func (u *User) resolveDriveFor(ref store.Ref, diff *relationDiff) {
	if u.driveFor != nil && u.driveFor.Ref() == ref {
		return
	}
	if u.driveFor != nil {
		diff.closeEvents = append(diff.closeEvents, u.driveFor)
		diff.unsubscribe = u.driveForGone
		u.driveFor, u.driveForGone = nil, nil
	}
	if ref.IsZero() {
		return
	}
	e := NewEvent(u.st, ref, u.logger)
	u.driveFor = e
	u.driveForGone = e.OnGone(u.eventGone)
	diff.fetchEvent = e
}

// eventGone clears driveFor when the event it points to is deleted.
func (u *User) eventGone(e *Event) {
	if !u.c.active() {
		return
	}
	u.mu.Lock()
	if u.closed || u.driveFor != e {
		u.mu.Unlock()
		return
	}
	gone := u.driveForGone
	u.driveFor, u.driveForGone = nil, nil
	u.mu.Unlock()

	gone.Unsubscribe()
	e.Close()
	u.logger.Info("driveFor event deleted, clearing relation", "event", e.UID())

	// Runs off the event's publish path so the user's observers are never
	// notified while the event holds its own publish lock.
	go u.clearDriveFor()
}

func (u *User) clearDriveFor() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := u.st.Batch().
		Set(u.ref, store.Data{fieldDriveFor: store.Delete}, store.Merge).
		Commit(ctx)
	if err != nil {
		u.logger.Warn("clearing driveFor failed", "error", err)
	}
	if u.c.active() {
		u.c.notify()
	}
}

func (u *User) onOrganizations(qs *store.QuerySnapshot, err error) {
	if !u.c.active() {
		return
	}
	if err != nil {
		u.c.listenError(sourceOrganizations, err)
		return
	}
	orgs := make([]domain.Membership, 0, len(qs.Docs))
	for _, doc := range qs.Docs {
		title, _ := store.String(doc.Data(), fieldTitle)
		orgs = append(orgs, domain.Membership{UID: doc.Ref.ID(), Title: title})
	}

	u.mu.Lock()
	u.organizations = orgs
	u.mu.Unlock()
	u.c.applied(sourceOrganizations, false)
}

func (u *User) onSavedEvents(qs *store.QuerySnapshot, err error) {
	if !u.c.active() {
		return
	}
	if err != nil {
		u.c.listenError(sourceSavedEvents, err)
		return
	}
	saved := make([]domain.SavedEvent, 0, len(qs.Docs))
	for _, doc := range qs.Docs {
		title, _ := store.String(doc.Data(), fieldTitle)
		saved = append(saved, domain.SavedEvent{UID: doc.Ref.ID(), Title: title})
	}

	u.mu.Lock()
	u.savedEvents = saved
	u.mu.Unlock()
	u.c.applied(sourceSavedEvents, false)
}

// PushProfiles merges the given profiles into the user document. Nil
// profiles are left untouched.
func (u *User) PushProfiles(ctx context.Context, public *domain.PublicProfile, school *domain.SchoolProfile) error {
	data := store.Data{}
	if public != nil {
		data[fieldPublicProfile] = store.Data{
			fieldDisplayName: public.DisplayName,
			fieldProviderID:  public.ProviderID,
		}
	}
	if school != nil {
		data[fieldSchoolProfile] = store.Data{
			fieldEmail:         school.Email,
			fieldEmailVerified: school.EmailVerified,
		}
	}
	return u.st.Batch().Set(u.ref, data, store.Merge).Commit(ctx)
}

// SaveEvent bookmarks event.
func (u *User) SaveEvent(ctx context.Context, event domain.EventInfo) error {
	ref := u.ref.Collection(SavedEventsCollection).Doc(event.UID)
	return u.st.Batch().Set(ref, titledData(EventRef(event.UID), event.Title)).Commit(ctx)
}

// UnsaveEvent removes a bookmark.
func (u *User) UnsaveEvent(ctx context.Context, eventUID string) error {
	return u.st.Batch().Delete(u.ref.Collection(SavedEventsCollection).Doc(eventUID)).Commit(ctx)
}

// JoinOrganization records a membership.
func (u *User) JoinOrganization(ctx context.Context, org domain.Membership) error {
	ref := u.ref.Collection(OrganizationsCollection).Doc(org.UID)
	orgRef := store.Collection(OrganizationsCollection).Doc(org.UID)
	return u.st.Batch().Set(ref, titledData(orgRef, org.Title)).Commit(ctx)
}

// LeaveOrganization removes a membership.
func (u *User) LeaveOrganization(ctx context.Context, orgUID string) error {
	return u.st.Batch().Delete(u.ref.Collection(OrganizationsCollection).Doc(orgUID)).Commit(ctx)
}

// Relations holds the ids a user document points at. Empty means unset.
type Relations struct {
	Ride     string
	DriveFor string
	Drive    string
}

// LoadRelations reads the relations of users/{uid} once. A missing user has
// none.
func LoadRelations(ctx context.Context, st store.Store, uid string) (Relations, error) {
	snap, err := st.Get(ctx, UserRef(uid))
	if err != nil {
		return Relations{}, fmt.Errorf("load relations %s: %w", uid, err)
	}
	var rel Relations
	data := snap.Data()
	if ref, ok := store.RefValue(data, fieldRide); ok {
		rel.Ride = ref.ID()
	}
	if ref, ok := store.RefValue(data, fieldDriveFor); ok {
		rel.DriveFor = ref.ID()
	}
	if ref, ok := store.RefValue(data, fieldDrive); ok {
		rel.Drive = ref.ID()
	}
	return rel, nil
}
