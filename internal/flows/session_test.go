package flows

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codicle/authcore/identity"
	"github.com/codicle/authcore/session"
)

var (
	errNoAccount   = errors.New("no account")
	errBadCreds    = errors.New("bad credentials")
	errProvision   = errors.New("provisioning")
	errSessionBad  = errors.New("session invalid")
	errBadTokenFmt = errors.New("bad token")
)

// fakeCodec encodes identities as plain strings; the real codec is tested
// in the session package.
type fakeCodec struct {
	mu     sync.Mutex
	issued map[string]session.Identity
	n      int
}

func (c *fakeCodec) encode(id session.Identity) (session.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.issued == nil {
		c.issued = map[string]session.Identity{}
	}
	c.n++
	value := "tok-" + id.Subject + "-" + strings.Repeat("x", c.n)
	c.issued[value] = id
	return session.Token{Value: value, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (c *fakeCodec) decode(value string) (session.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.issued[value]
	if !ok {
		return session.Identity{}, errBadTokenFmt
	}
	return id, nil
}

type sessionFixture struct {
	store *identity.MemoryStore
	codec *fakeCodec
	audit *auditLog
	deps  SessionDeps
}

func newSessionFixture() *sessionFixture {
	f := &sessionFixture{
		store: identity.NewMemoryStore(),
		codec: &fakeCodec{},
		audit: &auditLog{},
	}
	f.deps = SessionDeps{
		UpgradeOnLogin:      true,
		FindIdentityByEmail: f.store.FindByEmail,
		CreateIdentity:      f.store.Create,
		LinkExternal:        f.store.LinkExternal,
		UpdatePasswordHash:  f.store.UpdatePasswordHash,
		VerifyPassword: func(pw, hash string) (bool, error) {
			return hash == "hashed:"+pw || hash == "legacy:"+pw, nil
		},
		NeedsUpgrade: func(hash string) (bool, error) { return strings.HasPrefix(hash, "legacy:"), nil },
		HashPassword: func(pw string) (string, error) { return "hashed:" + pw, nil },
		EncodeSession: f.codec.encode,
		DecodeSession: f.codec.decode,
		EmitAudit:     f.audit.emit,
		Events: SessionEvents{
			SignInLocal:         "sign_in_local",
			SignInExternal:      "sign_in_external",
			SessionRefresh:      "session_refresh",
			IdentityProvisioned: "identity_provisioned",
		},
		Errors: SessionErrors{
			EngineNotReady:     errNotReady,
			MissingFields:      errMissing,
			NoSuchAccount:      errNoAccount,
			InvalidCredentials: errBadCreds,
			Provisioning:       errProvision,
			SessionInvalid:     errSessionBad,
			StoreUnavailable:   errStore,
		},
	}
	return f
}

func (f *sessionFixture) seed(t *testing.T, in identity.NewIdentity) identity.Identity {
	t.Helper()
	rec, err := f.store.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return rec
}

func TestSignInLookupFailureIsNotNoSuchAccount(t *testing.T) {
	f := newSessionFixture()
	f.deps.FindIdentityByEmail = func(context.Context, string) (identity.Identity, error) {
		return identity.Identity{}, errors.New("connection refused")
	}

	_, err := RunSignIn(context.Background(), Credentials{Email: "a@x.com", Password: "secret1"}, f.deps)
	if !errors.Is(err, errStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if errors.Is(err, errNoAccount) {
		t.Fatalf("store outage must not read as a missing account: %v", err)
	}
	if f.audit.last().meta["reason"] != "store" {
		t.Fatalf("unexpected audit: %+v", f.audit.last())
	}
}

func TestSignInLocal(t *testing.T) {
	f := newSessionFixture()
	rec := f.seed(t, identity.NewIdentity{Email: "a@x.com", Name: "Ann", PasswordHash: "hashed:secret1"})

	id, err := RunSignIn(context.Background(), Credentials{Email: "a@x.com", Password: "secret1", AfterSignup: true}, f.deps)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if id.Kind != session.KindLocal || id.Subject != rec.ID || id.Name != "Ann" || id.Email != "a@x.com" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if f.audit.last().meta["after_signup"] != "true" {
		t.Fatalf("expected after_signup audit metadata, got %+v", f.audit.last())
	}
}

func TestSignInFailures(t *testing.T) {
	f := newSessionFixture()
	f.seed(t, identity.NewIdentity{Email: "a@x.com", Name: "Ann", PasswordHash: "hashed:secret1"})
	f.seed(t, identity.NewIdentity{Email: "ext@x.com", Name: "Ext", ExternalProvider: "github", ExternalID: "7"})

	cases := []struct {
		name  string
		creds Credentials
		want  error
	}{
		{"absent", Credentials{Email: "b@x.com", Password: "secret1"}, errNoAccount},
		{"no password hash", Credentials{Email: "ext@x.com", Password: "secret1"}, errNoAccount},
		{"wrong password", Credentials{Email: "a@x.com", Password: "nope"}, errBadCreds},
		{"missing", Credentials{Email: "a@x.com"}, errMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := RunSignIn(context.Background(), tc.creds, f.deps); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSignInUpgradesLegacyHash(t *testing.T) {
	f := newSessionFixture()
	f.seed(t, identity.NewIdentity{Email: "a@x.com", Name: "Ann", PasswordHash: "legacy:secret1"})

	if _, err := RunSignIn(context.Background(), Credentials{Email: "a@x.com", Password: "secret1"}, f.deps); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	rec, _ := f.store.FindByEmail(context.Background(), "a@x.com")
	if rec.PasswordHash != "hashed:secret1" {
		t.Fatalf("expected rehash, got %q", rec.PasswordHash)
	}
}

func TestSignInUpgradeFailureIsBestEffort(t *testing.T) {
	f := newSessionFixture()
	f.seed(t, identity.NewIdentity{Email: "a@x.com", Name: "Ann", PasswordHash: "legacy:secret1"})
	f.deps.UpdatePasswordHash = func(context.Context, string, string) error { return errors.New("db down") }

	if _, err := RunSignIn(context.Background(), Credentials{Email: "a@x.com", Password: "secret1"}, f.deps); err != nil {
		t.Fatalf("rehash failure must not fail sign in: %v", err)
	}
}

func TestSignInExternalProvisionsOnce(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()
	assertion := ExternalAssertion{Provider: "github", ExternalID: "42", Email: "g@x.com", Name: "Gil", AvatarURL: "https://img/g.png"}

	first, err := RunSignInExternal(ctx, assertion, f.deps)
	if err != nil {
		t.Fatalf("first sign in: %v", err)
	}
	second, err := RunSignInExternal(ctx, assertion, f.deps)
	if err != nil {
		t.Fatalf("second sign in: %v", err)
	}
	if first.Subject != second.Subject || f.store.Len() != 1 {
		t.Fatalf("expected a single provisioned identity, got %d", f.store.Len())
	}

	rec, _ := f.store.FindByEmail(ctx, "g@x.com")
	if rec.HasPassword() || rec.AvatarURL != "https://img/g.png" || rec.ExternalID != "42" {
		t.Fatalf("unexpected provisioned record: %+v", rec)
	}
	if first.Kind != session.KindExternal || first.Provider != "github" || first.Name != "Gil" {
		t.Fatalf("unexpected identity: %+v", first)
	}
}

func TestSignInExternalLinksExistingLocalAccount(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()
	local := f.seed(t, identity.NewIdentity{Email: "a@x.com", Name: "Ann", PasswordHash: "hashed:secret1"})

	id, err := RunSignInExternal(ctx, ExternalAssertion{Provider: "github", ExternalID: "9", Email: "a@x.com", Name: "Annie"}, f.deps)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if id.Subject != local.ID || id.Name != "Ann" {
		t.Fatalf("expected the existing record to be reused, got %+v", id)
	}
	rec, _ := f.store.FindByEmail(ctx, "a@x.com")
	if rec.ExternalProvider != "github" || rec.ExternalID != "9" {
		t.Fatalf("expected link, got %+v", rec)
	}
}

func TestSignInExternalProvisioningFailure(t *testing.T) {
	f := newSessionFixture()
	f.deps.CreateIdentity = func(context.Context, identity.NewIdentity) (identity.Identity, error) {
		return identity.Identity{}, errors.New("db down")
	}

	_, err := RunSignInExternal(context.Background(), ExternalAssertion{Provider: "github", ExternalID: "1", Email: "n@x.com"}, f.deps)
	if !errors.Is(err, errProvision) {
		t.Fatalf("expected provisioning error, got %v", err)
	}
}

func TestSignInExternalConcurrentFirstSight(t *testing.T) {
	f := newSessionFixture()
	assertion := ExternalAssertion{Provider: "github", ExternalID: "42", Email: "g@x.com", Name: "Gil"}

	var wg sync.WaitGroup
	subjects := make([]string, 8)
	errs := make([]error, 8)
	for i := range subjects {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := RunSignInExternal(context.Background(), assertion, f.deps)
			subjects[i], errs[i] = id.Subject, err
		}(i)
	}
	wg.Wait()

	for i := range subjects {
		if errs[i] != nil {
			t.Fatalf("sign in %d: %v", i, errs[i])
		}
		if subjects[i] != subjects[0] {
			t.Fatalf("expected one subject, got %q and %q", subjects[0], subjects[i])
		}
	}
	if f.store.Len() != 1 {
		t.Fatalf("expected one identity, got %d", f.store.Len())
	}
}

func TestRefreshLocalIsStateless(t *testing.T) {
	f := newSessionFixture()
	tok, err := f.codec.encode(session.Local("ghost", "Ann", "a@x.com"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.deps.FindIdentityByEmail = func(context.Context, string) (identity.Identity, error) {
		t.Fatal("local refresh must not touch the identity store")
		return identity.Identity{}, nil
	}

	next, id, err := RunRefresh(context.Background(), tok.Value, f.deps)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.Value == tok.Value || id.Subject != "ghost" || id.Kind != session.KindLocal {
		t.Fatalf("unexpected refresh result: %+v %+v", next, id)
	}
}

func TestRefreshExternalReprovisions(t *testing.T) {
	f := newSessionFixture()
	tok, err := f.codec.encode(session.External("old-id", "Gil", "g@x.com", "github", "42"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, id, err := RunRefresh(context.Background(), tok.Value, f.deps)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if f.store.Len() != 1 {
		t.Fatalf("expected the identity to be provisioned on refresh, got %d", f.store.Len())
	}
	rec, _ := f.store.FindByEmail(context.Background(), "g@x.com")
	if id.Subject != rec.ID || id.Kind != session.KindExternal {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestRefreshInvalidToken(t *testing.T) {
	f := newSessionFixture()
	_, _, err := RunRefresh(context.Background(), "garbage", f.deps)
	if !errors.Is(err, errSessionBad) {
		t.Fatalf("expected session invalid, got %v", err)
	}
}
