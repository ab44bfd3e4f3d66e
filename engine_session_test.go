package authcore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/codicle/authcore/identity"
	"github.com/codicle/authcore/notify"
	"github.com/codicle/authcore/session"
	"golang.org/x/crypto/bcrypt"
)

type countingStore struct {
	*identity.MemoryStore
	finds   atomic.Int64
	creates atomic.Int64
}

func (s *countingStore) FindByEmail(ctx context.Context, email string) (identity.Identity, error) {
	s.finds.Add(1)
	return s.MemoryStore.FindByEmail(ctx, email)
}

func (s *countingStore) Create(ctx context.Context, in identity.NewIdentity) (identity.Identity, error) {
	s.creates.Add(1)
	return s.MemoryStore.Create(ctx, in)
}

func TestSignInLocal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := seedLocalIdentity(t, env, "q@x.com", "Quinn", "pw-q")

	id, err := env.engine.SignIn(ctx, Credentials{Email: "q@x.com", Password: "pw-q"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if !id.IsLocal() || id.Subject != rec.ID || id.Name != "Quinn" || id.Email != "q@x.com" {
		t.Fatalf("unexpected session identity: %+v", id)
	}

	if _, err := env.engine.SignIn(ctx, Credentials{Email: "q@x.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.engine.SignIn(ctx, Credentials{Email: "nobody@x.com", Password: "pw"}); !errors.Is(err, ErrNoSuchAccount) {
		t.Fatalf("expected ErrNoSuchAccount, got %v", err)
	}
}

func TestSignInExternalOnlyAccountHasNoPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.SignInExternal(ctx, ExternalAssertion{Provider: "github", ExternalID: "gh-1", Email: "r@x.com", Name: "Rae"}); err != nil {
		t.Fatalf("SignInExternal failed: %v", err)
	}
	if _, err := env.engine.SignIn(ctx, Credentials{Email: "r@x.com", Password: "anything"}); !errors.Is(err, ErrNoSuchAccount) {
		t.Fatalf("expected ErrNoSuchAccount for a password-less identity, got %v", err)
	}
}

func TestSignInRehashesBcrypt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte("pw-legacy"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if _, err := env.store.Create(ctx, identity.NewIdentity{Email: "s@x.com", Name: "Sam", PasswordHash: string(legacy)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := env.engine.SignIn(ctx, Credentials{Email: "s@x.com", Password: "pw-legacy"}); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	stored, _ := env.store.FindByEmail(ctx, "s@x.com")
	if stored.PasswordHash == string(legacy) {
		t.Fatal("expected bcrypt hash to be replaced")
	}
	if upgrade, err := env.engine.passwordHash.NeedsUpgrade(stored.PasswordHash); err != nil || upgrade {
		t.Fatalf("expected current argon2id hash, upgrade=%v err=%v", upgrade, err)
	}
	if env.engine.MetricsSnapshot().Counters[MetricPasswordRehashed] != 1 {
		t.Fatal("expected rehash counter to advance")
	}
}

func TestSignInExternalProvisionsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	assertion := ExternalAssertion{Provider: "google", ExternalID: "g-77", Email: "t@x.com", Name: "Tess", AvatarURL: "https://img.example.com/t.png"}

	first, err := env.engine.SignInExternal(ctx, assertion)
	if err != nil {
		t.Fatalf("SignInExternal failed: %v", err)
	}
	if !first.IsExternal() || first.Provider != "google" || first.ExternalID != "g-77" {
		t.Fatalf("unexpected session identity: %+v", first)
	}

	stored, err := env.store.FindByEmail(ctx, "t@x.com")
	if err != nil {
		t.Fatalf("identity not provisioned: %v", err)
	}
	if stored.HasPassword() || stored.AvatarURL != assertion.AvatarURL {
		t.Fatalf("unexpected provisioned identity: %+v", stored)
	}

	second, err := env.engine.SignInExternal(ctx, assertion)
	if err != nil {
		t.Fatalf("second SignInExternal failed: %v", err)
	}
	if second.Subject != first.Subject || env.store.Len() != 1 {
		t.Fatalf("expected the record to be reused, got subject %s and %d records", second.Subject, env.store.Len())
	}
	if env.engine.MetricsSnapshot().Counters[MetricIdentityProvisioned] != 1 {
		t.Fatal("expected exactly one provisioning")
	}
}

func TestSignInExternalConcurrentFirstSight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	assertion := ExternalAssertion{Provider: "github", ExternalID: "gh-9", Email: "u@x.com", Name: "Uma"}

	const workers = 16
	subjects := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			id, err := env.engine.SignInExternal(ctx, assertion)
			subjects[i], errs[i] = id.Subject, err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d failed: %v", i, err)
		}
		if subjects[i] != subjects[0] {
			t.Fatalf("worker %d resolved %s, want %s", i, subjects[i], subjects[0])
		}
	}
	if env.store.Len() != 1 {
		t.Fatalf("expected one identity, got %d", env.store.Len())
	}
}

func TestSignInExternalLinksExistingLocalAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := seedLocalIdentity(t, env, "v@x.com", "Vic", "pw-v")

	id, err := env.engine.SignInExternal(ctx, ExternalAssertion{Provider: "google", ExternalID: "g-v", Email: "v@x.com", Name: "Victor"})
	if err != nil {
		t.Fatalf("SignInExternal failed: %v", err)
	}
	if id.Subject != rec.ID || id.Name != "Vic" {
		t.Fatalf("expected the stored record to win, got %+v", id)
	}
	linked, _ := env.store.FindByExternalID(ctx, "google", "g-v")
	if linked.ID != rec.ID {
		t.Fatal("expected external id to be linked")
	}
}

func TestSignInExternalMissingFields(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.SignInExternal(context.Background(), ExternalAssertion{Provider: "google", Email: "w@x.com"})
	if !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
}

func TestSignInExternalProvisioningFailure(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, err := New().
		WithConfig(testConfig(t)).
		WithRedis(rdb).
		WithIdentityStore(failingCreateStore{identity.NewMemoryStore()}).
		WithNotifier(&notify.Recorder{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	_, err = engine.SignInExternal(context.Background(), ExternalAssertion{Provider: "google", ExternalID: "g-x", Email: "x@x.com"})
	if !errors.Is(err, ErrProvisioning) {
		t.Fatalf("expected ErrProvisioning, got %v", err)
	}
}

func TestRefreshLocalIsStateless(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	ctx := context.Background()

	store := &countingStore{MemoryStore: identity.NewMemoryStore()}
	engine, err := New().
		WithConfig(testConfig(t)).
		WithRedis(rdb).
		WithIdentityStore(store).
		WithNotifier(&notify.Recorder{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	tok, err := engine.IssueToken(session.Local("01HZX", "Yan", "y@x.com"))
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	next, id, err := engine.Refresh(ctx, tok.Value)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next.Value == "" || !id.IsLocal() || id.Subject != "01HZX" || id.Name != "Yan" {
		t.Fatalf("unexpected refresh result: %+v", id)
	}
	if store.finds.Load() != 0 || store.creates.Load() != 0 {
		t.Fatal("local refresh must not touch the identity store")
	}
}

func TestRefreshExternalReprovisions(t *testing.T) {
	cfg := testConfig(t)
	env := newTestEnvWithConfig(t, cfg)
	ctx := context.Background()

	id, err := env.engine.SignInExternal(ctx, ExternalAssertion{Provider: "github", ExternalID: "gh-z", Email: "z@x.com", Name: "Zed"})
	if err != nil {
		t.Fatalf("SignInExternal failed: %v", err)
	}
	tok, err := env.engine.IssueToken(id)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	// Same keys, empty identity store.
	wiped := newTestEnvWithConfig(t, cfg)
	_, refreshed, err := wiped.engine.Refresh(ctx, tok.Value)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !refreshed.IsExternal() || refreshed.Email != "z@x.com" || refreshed.Provider != "github" {
		t.Fatalf("unexpected refreshed identity: %+v", refreshed)
	}
	if wiped.store.Len() != 1 {
		t.Fatalf("expected refresh to provision the identity, got %d records", wiped.store.Len())
	}

	if _, _, err := wiped.engine.Refresh(ctx, tok.Value); err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}
	if wiped.store.Len() != 1 {
		t.Fatal("repeated refresh must not duplicate the identity")
	}
}

func TestRefreshRejectsInvalidTokens(t *testing.T) {
	env := newTestEnv(t)
	other := newTestEnv(t)
	ctx := context.Background()

	foreign, err := other.engine.IssueToken(session.Local("id-1", "A", "a@x.com"))
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	for _, raw := range []string{"", "not-a-token", foreign.Value} {
		if _, _, err := env.engine.Refresh(ctx, raw); !errors.Is(err, ErrSessionInvalid) {
			t.Fatalf("expected ErrSessionInvalid for %q, got %v", raw, err)
		}
	}
	if _, err := env.engine.VerifyToken(foreign.Value); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected VerifyToken to reject a foreign token, got %v", err)
	}
}

func TestIssueTokenRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	tok, err := env.engine.IssueToken(session.External("id-2", "Bea", "b@x.com", "google", "g-2"))
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if tok.ExpiresAt.IsZero() {
		t.Fatal("expected expiry")
	}
	id, err := env.engine.VerifyToken(tok.Value)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if id.Kind != session.KindExternal || id.ExternalID != "g-2" || id.Email != "b@x.com" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if env.engine.MetricsSnapshot().Counters[MetricSessionIssued] != 1 {
		t.Fatal("expected issue counter to advance")
	}
}

type unreachableStore struct {
	*identity.MemoryStore
}

func (unreachableStore) FindByEmail(context.Context, string) (identity.Identity, error) {
	return identity.Identity{}, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func TestSignInStoreOutageIsStoreUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, err := New().
		WithConfig(testConfig(t)).
		WithRedis(rdb).
		WithIdentityStore(unreachableStore{MemoryStore: identity.NewMemoryStore()}).
		WithNotifier(&notify.Recorder{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	_, err = engine.SignIn(context.Background(), Credentials{Email: "q@x.com", Password: "pw-q"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, ErrNoSuchAccount) {
		t.Fatalf("outage reported as missing account: %v", err)
	}
}
