package domain

// Driver is a roster entry under an event.
type Driver struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
}

// Person returns the driver as a user reference.
func (d Driver) Person() Person {
	return Person{UID: d.UID, DisplayName: d.DisplayName}
}
