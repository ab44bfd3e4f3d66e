package session

import (
	"errors"
	"time"
)

// Kind tags how a session was established.
type Kind uint8

const (
	// KindLocal is a session established with email and password.
	KindLocal Kind = iota + 1
	// KindExternal is a session established from an external provider
	// assertion.
	KindExternal
)

var (
	// ErrUnknownKind is returned for a kind tag that is neither local nor external.
	ErrUnknownKind = errors.New("unknown session kind")
	// ErrIncompleteIdentity is returned when required identity fields are missing.
	ErrIncompleteIdentity = errors.New("incomplete session identity")
)

// String returns the wire tag of k.
func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// ParseKind maps a wire tag back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "local":
		return KindLocal, nil
	case "external":
		return KindExternal, nil
	default:
		return 0, ErrUnknownKind
	}
}

// Identity is the authenticated principal carried by a session token.
// Subject is the identity store id. Provider and ExternalID are set only
// for KindExternal.
type Identity struct {
	Kind       Kind
	Subject    string
	Name       string
	Email      string
	Provider   string
	ExternalID string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Local builds a local session identity.
func Local(subject, name, email string) Identity {
	return Identity{Kind: KindLocal, Subject: subject, Name: name, Email: email}
}

// External builds an external session identity.
func External(subject, name, email, provider, externalID string) Identity {
	return Identity{
		Kind:       KindExternal,
		Subject:    subject,
		Name:       name,
		Email:      email,
		Provider:   provider,
		ExternalID: externalID,
	}
}

// IsLocal reports whether id came from password credentials.
func (id Identity) IsLocal() bool { return id.Kind == KindLocal }

// IsExternal reports whether id came from an external provider.
func (id Identity) IsExternal() bool { return id.Kind == KindExternal }

// Validate checks the per-kind required fields.
func (id Identity) Validate() error {
	if id.Subject == "" {
		return ErrIncompleteIdentity
	}
	switch id.Kind {
	case KindLocal:
		if id.Provider != "" || id.ExternalID != "" {
			return ErrIncompleteIdentity
		}
		return nil
	case KindExternal:
		if id.Provider == "" || id.ExternalID == "" {
			return ErrIncompleteIdentity
		}
		return nil
	default:
		return ErrUnknownKind
	}
}
