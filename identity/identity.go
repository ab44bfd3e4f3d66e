package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record matches the lookup key.
	ErrNotFound = errors.New("identity not found")
	// ErrConflict is returned when an email or external id is already taken.
	ErrConflict = errors.New("identity already exists")
	// ErrInvalid is returned for records that cannot be stored as given.
	ErrInvalid = errors.New("invalid identity")
)

// Identity is a registered account. A record can be signed into when it
// carries a password hash, an external provider link, or both.
type Identity struct {
	ID               string
	Email            string
	Name             string
	PasswordHash     string
	ExternalProvider string
	ExternalID       string
	AvatarURL        string
	Bio              string
	Followers        []string
	Following        []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasPassword reports whether a local credential is set.
func (i Identity) HasPassword() bool {
	return i.PasswordHash != ""
}

// HasExternal reports whether an external provider id is linked.
func (i Identity) HasExternal() bool {
	return i.ExternalProvider != "" && i.ExternalID != ""
}

// CanSignIn reports whether at least one authentication method exists.
func (i Identity) CanSignIn() bool {
	return i.HasPassword() || i.HasExternal()
}

// NewIdentity carries the fields accepted on creation. Exactly the values
// given are stored; callers trim input beforehand.
type NewIdentity struct {
	Email            string
	Name             string
	PasswordHash     string
	ExternalProvider string
	ExternalID       string
	AvatarURL        string
}

// Validate checks the creation invariants shared by all stores.
func (n NewIdentity) Validate() error {
	if n.Email == "" {
		return errors.Join(ErrInvalid, errors.New("email is required"))
	}
	if (n.ExternalProvider == "") != (n.ExternalID == "") {
		return errors.Join(ErrInvalid, errors.New("external provider and id must be set together"))
	}
	if n.PasswordHash == "" && n.ExternalID == "" {
		return errors.Join(ErrInvalid, errors.New("identity needs a password or an external link"))
	}
	return nil
}

// ProfileUpdate holds optional profile edits. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name      *string
	AvatarURL *string
	Bio       *string
}

// Empty reports whether the update changes nothing.
func (p ProfileUpdate) Empty() bool {
	return p.Name == nil && p.AvatarURL == nil && p.Bio == nil
}

// Store persists identity records. Email lookups are exact and
// case-sensitive as stored. Follow and Unfollow are idempotent on the edge
// and return ErrNotFound when either identity is unknown.
type Store interface {
	FindByEmail(ctx context.Context, email string) (Identity, error)
	FindByID(ctx context.Context, id string) (Identity, error)
	FindByExternalID(ctx context.Context, provider, externalID string) (Identity, error)
	Create(ctx context.Context, in NewIdentity) (Identity, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	LinkExternal(ctx context.Context, id, provider, externalID string) error
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (Identity, error)
	Follow(ctx context.Context, followerID, followeeID string) error
	Unfollow(ctx context.Context, followerID, followeeID string) error
}
