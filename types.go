package authcore

import (
	"github.com/codicle/authcore/identity"
	internalflows "github.com/codicle/authcore/internal/flows"
	"github.com/codicle/authcore/session"
)

// SignupRequest starts a signup. All fields are required.
type SignupRequest = internalflows.SignupRequest

// VerifyRequest completes a signup with the emailed code. Name and
// Password are resubmitted by the caller.
type VerifyRequest = internalflows.VerifyRequest

// ResetRequest completes a password reset.
type ResetRequest = internalflows.ResetRequest

// Credentials is a local sign-in attempt. AfterSignup only tags the audit
// event of the sign-in that follows VerifyCode.
type Credentials = internalflows.Credentials

// ExternalAssertion is an identity vouched for by an external provider
// after its own handshake. The Engine trusts it as given.
type ExternalAssertion = internalflows.ExternalAssertion

// ProfileUpdate holds optional profile edits. Nil fields stay unchanged.
type ProfileUpdate = identity.ProfileUpdate

// SessionIdentity is the authenticated principal carried by a session
// token. Kind tells local and external sessions apart.
type SessionIdentity = session.Identity

// SessionToken is a signed session token and its expiry.
type SessionToken = session.Token
