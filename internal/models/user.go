package models

import "context"

// User is the author of a transaction. Authorization is handled elsewhere;
// the storage core only needs to tell real users from the anonymous one.
type User struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Email  string   `json:"email,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

// Anonymous returns the user that unauthenticated requests act as.
func Anonymous() *User {
	return &User{Name: "anonymous"}
}

// IsAnonymous reports whether u carries no identity.
func (u *User) IsAnonymous() bool {
	return u == nil || u.ID == ""
}

// StorageKey implements Storable.
func (u *User) StorageKey() (string, string) { return ScopeUsers, u.ID }

// StoreVia implements Storable.
func (u *User) StoreVia(ctx context.Context, a Adapter) error {
	return a.StoreUser(ctx, u)
}
