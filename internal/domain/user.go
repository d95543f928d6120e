//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user.go -package=mocks

package domain

import (
	"context"
	"fmt"
	"strconv"
)

// UserID is the stable identifier of a user, as issued by the identity provider.
type UserID int64

// String returns the decimal form of the ID.
func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// UnmarshalJSON accepts both a JSON number and a quoted decimal string.
func (id *UserID) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %s", b)
	}
	*id = UserID(n)
	return nil
}

// UserIdentity is what the core knows about an authenticated user. It is
// produced by an IdentityProvider and never mutated afterwards.
type UserIdentity struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"display_name"`
}

// Profile is the user-facing record managed by the profile service.
type Profile struct {
	ID             UserID `json:"id" yaml:"id"`
	Username       string `json:"username" yaml:"username"`
	Email          string `json:"email" yaml:"email"`
	FirstName      string `json:"first_name" yaml:"first_name"`
	LastName       string `json:"last_name" yaml:"last_name"`
	ProfilePicture string `json:"profile_picture,omitempty" yaml:"profile_picture,omitempty"`
}

// DisplayName prefers the full name and falls back to the username.
func (p Profile) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.Username
	}
}

// ProfileUpdate holds the mutable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	Email          *string
	FirstName      *string
	LastName       *string
	ProfilePicture *string
}

// Apply returns a copy of p with the non-nil fields of u applied.
func (u ProfileUpdate) Apply(p Profile) Profile {
	if u.Email != nil {
		p.Email = *u.Email
	}
	if u.FirstName != nil {
		p.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		p.LastName = *u.LastName
	}
	if u.ProfilePicture != nil {
		p.ProfilePicture = *u.ProfilePicture
	}
	return p
}

// IdentityProvider validates a bearer credential and resolves it to a user.
// It lives in the domain because it's a requirement OF the domain, not of a
// particular token format.
type IdentityProvider interface {
	// Verify returns the identity behind credential, or an error wrapping ErrAuth.
	Verify(ctx context.Context, credential string) (UserIdentity, error)
}

// ProfileStore is the contract for the profile collaborator.
type ProfileStore interface {
	// List returns every profile ordered by ID.
	List(ctx context.Context) ([]Profile, error)
	// Get returns the profile for id or an error wrapping ErrNotFound.
	Get(ctx context.Context, id UserID) (Profile, error)
	// Update applies upd to the profile for id and returns the result.
	Update(ctx context.Context, id UserID, upd ProfileUpdate) (Profile, error)
	// Put creates or replaces a profile. Used for seeding.
	Put(ctx context.Context, p Profile) error
}
