package authcore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/codicle/authcore/identity"
	"github.com/codicle/authcore/notify"
	"github.com/redis/go-redis/v9"
)

var (
	codePattern  = regexp.MustCompile(`\b\d{6}\b`)
	tokenPattern = regexp.MustCompile(`token=([0-9a-f]{64})`)
)

type testEnv struct {
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	store    *identity.MemoryStore
	notifier *notify.Recorder
	sink     *ChannelSink
	engine   *Engine
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// testConfig keeps argon2 cheap so the suite stays fast.
func testConfig(t *testing.T) Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Session.PrivateKey = priv
	cfg.Session.PublicKey = pub
	cfg.Session.Issuer = "authcore-test"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.PasswordReset.ResetURL = "https://app.example.com/reset"
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 256
	cfg.Audit.DropIfFull = true
	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, testConfig(t))
}

func newTestEnvWithConfig(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	env := &testEnv{
		mr:       mr,
		rdb:      rdb,
		store:    identity.NewMemoryStore(),
		notifier: &notify.Recorder{},
		sink:     NewChannelSink(256),
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityStore(env.store).
		WithNotifier(env.notifier).
		WithAuditSink(env.sink).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

func (env *testEnv) lastCode(t *testing.T, email string) string {
	t.Helper()

	msg, ok := env.notifier.Last(email)
	if !ok {
		t.Fatalf("no message recorded for %s", email)
	}
	if msg.Kind != notify.KindSignupCode {
		t.Fatalf("expected signup code message, got %s", msg.Kind)
	}
	code := codePattern.FindString(msg.Text)
	if code == "" {
		t.Fatalf("no code in message: %q", msg.Text)
	}
	return code
}

func (env *testEnv) lastResetToken(t *testing.T, email string) string {
	t.Helper()

	msg, ok := env.notifier.Last(email)
	if !ok {
		t.Fatalf("no message recorded for %s", email)
	}
	m := tokenPattern.FindStringSubmatch(msg.Text)
	if len(m) != 2 {
		t.Fatalf("no reset token in message: %q", msg.Text)
	}
	return m[1]
}

// nextEvent waits for an audit event of the given type, skipping others.
func (env *testEnv) nextEvent(t *testing.T, eventType string) AuditEvent {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-env.sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for audit event %s", eventType)
		}
	}
}

func TestBuildRequiresCollaborators(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	cfg := testConfig(t)
	store := identity.NewMemoryStore()
	rec := &notify.Recorder{}

	if _, err := New().WithConfig(cfg).WithIdentityStore(store).WithNotifier(rec).Build(); err == nil {
		t.Fatal("expected error without redis")
	}
	if _, err := New().WithConfig(cfg).WithRedis(rdb).WithNotifier(rec).Build(); err == nil {
		t.Fatal("expected error without identity store")
	}
	if _, err := New().WithConfig(cfg).WithRedis(rdb).WithIdentityStore(store).Build(); err == nil {
		t.Fatal("expected error without notifier")
	}

	bad := cfg
	bad.Session.PrivateKey = nil
	if _, err := New().WithConfig(bad).WithRedis(rdb).WithIdentityStore(store).WithNotifier(rec).Build(); err == nil {
		t.Fatal("expected error without session keys")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	b := New().
		WithConfig(testConfig(t)).
		WithRedis(rdb).
		WithIdentityStore(identity.NewMemoryStore()).
		WithNotifier(&notify.Recorder{})

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestWithConfigCopiesKeys(t *testing.T) {
	cfg := testConfig(t)
	b := New().WithConfig(cfg)
	cfg.Session.PrivateKey[0] ^= 0xff

	if b.config.Session.PrivateKey[0] == cfg.Session.PrivateKey[0] {
		t.Fatal("expected builder to hold its own copy of the private key")
	}
}

func TestNilEngineNotReady(t *testing.T) {
	var e *Engine
	if err := e.RequestCode(context.Background(), SignupRequest{Email: "a@x.com", Name: "A", Password: "p"}); err != ErrEngineNotReady {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.SignIn(context.Background(), Credentials{Email: "a@x.com", Password: "p"}); err != ErrEngineNotReady {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.IssueToken(SessionIdentity{}); err != ErrEngineNotReady {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if e.AuditDropped() != 0 {
		t.Fatal("nil engine must report zero drops")
	}
	e.Close()
}
