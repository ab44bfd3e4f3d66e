package session

import (
	"errors"
	"time"

	"github.com/codicle/authcore/jwt"
)

// ErrInvalidToken is returned by [Codec.Decode] for any token that does not
// verify or does not carry a usable identity.
var ErrInvalidToken = errors.New("invalid session token")

// Token is a signed session token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Codec encodes identities into signed tokens and back.
type Codec struct {
	manager *jwt.Manager
}

// NewCodec returns a Codec signing with manager.
func NewCodec(manager *jwt.Manager) *Codec {
	return &Codec{manager: manager}
}

// TTL returns the validity window applied to issued tokens.
func (c *Codec) TTL() time.Duration {
	return c.manager.TTL()
}

// Encode signs id. IssuedAt and ExpiresAt on id are ignored; the codec
// stamps them.
func (c *Codec) Encode(id Identity) (Token, error) {
	if err := id.Validate(); err != nil {
		return Token{}, err
	}

	claims := jwt.SessionClaims{
		Name:       id.Name,
		Email:      id.Email,
		Kind:       id.Kind.String(),
		Provider:   id.Provider,
		ExternalID: id.ExternalID,
	}
	claims.Subject = id.Subject

	value, expiresAt, err := c.manager.Sign(claims)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: value, ExpiresAt: expiresAt}, nil
}

// Decode verifies value and returns the identity it carries.
func (c *Codec) Decode(value string) (Identity, error) {
	if value == "" {
		return Identity{}, ErrInvalidToken
	}
	claims, err := c.manager.Parse(value)
	if err != nil {
		return Identity{}, errors.Join(ErrInvalidToken, err)
	}

	kind, err := ParseKind(claims.Kind)
	if err != nil {
		return Identity{}, errors.Join(ErrInvalidToken, err)
	}

	id := Identity{
		Kind:       kind,
		Subject:    claims.Subject,
		Name:       claims.Name,
		Email:      claims.Email,
		Provider:   claims.Provider,
		ExternalID: claims.ExternalID,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	if err := id.Validate(); err != nil {
		return Identity{}, errors.Join(ErrInvalidToken, err)
	}
	return id, nil
}
