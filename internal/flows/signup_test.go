package flows

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codicle/authcore/identity"
	"github.com/codicle/authcore/notify"
)

var (
	errMissing     = errors.New("missing")
	errRegistered  = errors.New("registered")
	errDispatch    = errors.New("dispatch")
	errInvalidCode = errors.New("invalid code")
	errPersistence = errors.New("persistence")
	errStore       = errors.New("store")
	errNotReady    = errors.New("not ready")
	errBadPassword = errors.New("bad password")
	errCodeMissing = errors.New("code missing")
	errCodeExpired = errors.New("code expired")
)

type fakeCodes struct {
	mu      sync.Mutex
	codes   map[string]bool
	expired map[string]bool
	saveErr error
}

func newFakeCodes() *fakeCodes {
	return &fakeCodes{codes: map[string]bool{}, expired: map[string]bool{}}
}

func (f *fakeCodes) save(_ context.Context, email, code string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.codes[email+"|"+code] = true
	return nil
}

func (f *fakeCodes) consume(_ context.Context, email, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := email + "|" + code
	if f.expired[key] {
		delete(f.expired, key)
		return errCodeExpired
	}
	if !f.codes[key] {
		return errCodeMissing
	}
	delete(f.codes, key)
	return nil
}

func (f *fakeCodes) outstanding(_ context.Context, email string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for key := range f.codes {
		if strings.HasPrefix(key, email+"|") {
			n++
		}
	}
	return n, nil
}

type auditRecord struct {
	event   string
	success bool
	meta    map[string]string
}

type auditLog struct {
	mu      sync.Mutex
	records []auditRecord
}

func (a *auditLog) emit(_ context.Context, event string, success bool, _ string, _ error, meta func() map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec := auditRecord{event: event, success: success}
	if meta != nil {
		rec.meta = meta()
	}
	a.records = append(a.records, rec)
}

func (a *auditLog) last() auditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.records) == 0 {
		return auditRecord{}
	}
	return a.records[len(a.records)-1]
}

var errPasswordTooLong = errors.New("password too long")

func rejectLongPassword(pw string) error {
	if len(pw) > 16 {
		return errPasswordTooLong
	}
	return nil
}

type signupFixture struct {
	store    *identity.MemoryStore
	codes    *fakeCodes
	notifier *notify.Recorder
	audit    *auditLog
	metrics  map[int]int
	deps     SignupDeps
}

func newSignupFixture() *signupFixture {
	f := &signupFixture{
		store:    identity.NewMemoryStore(),
		codes:    newFakeCodes(),
		notifier: &notify.Recorder{},
		audit:    &auditLog{},
		metrics:  map[int]int{},
	}
	f.deps = SignupDeps{
		OTPDigits:           6,
		OTPTTL:              5 * time.Minute,
		FindIdentityByEmail: f.store.FindByEmail,
		CreateIdentity:      f.store.Create,
		HashPassword:        func(pw string) (string, error) { return "hashed:" + pw, nil },
		ValidatePassword:    rejectLongPassword,
		GenerateCode:        func(int) (string, error) { return "123456", nil },
		SaveCode:            f.codes.save,
		ConsumeCode:         f.codes.consume,
		OutstandingCodes:    f.codes.outstanding,
		IsCodeNotFound:      func(err error) bool { return errors.Is(err, errCodeMissing) },
		IsCodeExpired:       func(err error) bool { return errors.Is(err, errCodeExpired) },
		Send:                f.notifier.Send,
		MetricInc:           func(id int) { f.metrics[id]++ },
		EmitAudit:           f.audit.emit,
		Metrics:             SignupMetrics{CodeRequested: 1, CodeRequestFailure: 2, CodeVerified: 3, CodeVerifyFailure: 4},
		Events:              SignupEvents{CodeRequest: "signup_code_request", CodeVerify: "signup_code_verify"},
		Errors: SignupErrors{
			EngineNotReady:       errNotReady,
			MissingFields:        errMissing,
			InvalidPassword:      errBadPassword,
			AlreadyRegistered:    errRegistered,
			Dispatch:             errDispatch,
			InvalidOrExpiredCode: errInvalidCode,
			Persistence:          errPersistence,
			StoreUnavailable:     errStore,
		},
	}
	return f
}

func TestRequestCodeSendsCode(t *testing.T) {
	f := newSignupFixture()

	if err := RunRequestCode(context.Background(), SignupRequest{Email: " a@x.com ", Name: "Ann", Password: "secret1"}, f.deps); err != nil {
		t.Fatalf("request code: %v", err)
	}

	msg, ok := f.notifier.Last("a@x.com")
	if !ok {
		t.Fatal("expected message to trimmed address")
	}
	if msg.Kind != notify.KindSignupCode || !strings.Contains(msg.Text, "123456") {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if n, _ := f.codes.outstanding(context.Background(), "a@x.com"); n != 1 {
		t.Fatalf("expected one outstanding code, got %d", n)
	}
	if f.metrics[1] != 1 {
		t.Fatalf("expected success metric, got %v", f.metrics)
	}
}

func TestRequestCodeMissingFields(t *testing.T) {
	f := newSignupFixture()

	for _, req := range []SignupRequest{
		{Name: "Ann", Password: "secret1"},
		{Email: "a@x.com", Name: "   ", Password: "secret1"},
		{Email: "a@x.com", Name: "Ann", Password: ""},
	} {
		if err := RunRequestCode(context.Background(), req, f.deps); !errors.Is(err, errMissing) {
			t.Fatalf("expected missing fields for %+v, got %v", req, err)
		}
	}
	if len(f.notifier.Messages()) != 0 {
		t.Fatal("no message may be sent for invalid input")
	}
}

func TestRequestCodeAlreadyRegistered(t *testing.T) {
	f := newSignupFixture()
	if _, err := f.store.Create(context.Background(), identity.NewIdentity{Email: "a@x.com", PasswordHash: "h"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := RunRequestCode(context.Background(), SignupRequest{Email: "a@x.com", Name: "Ann", Password: "secret1"}, f.deps)
	if !errors.Is(err, errRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
	if n, _ := f.codes.outstanding(context.Background(), "a@x.com"); n != 0 {
		t.Fatalf("no code may be issued, got %d", n)
	}
}

func TestRequestCodeDispatchFailureKeepsCode(t *testing.T) {
	f := newSignupFixture()
	f.notifier.FailWith(errors.New("smtp down"))

	err := RunRequestCode(context.Background(), SignupRequest{Email: "a@x.com", Name: "Ann", Password: "secret1"}, f.deps)
	if !errors.Is(err, errDispatch) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	if n, _ := f.codes.outstanding(context.Background(), "a@x.com"); n != 1 {
		t.Fatalf("code record must remain after dispatch failure, got %d", n)
	}
	if f.audit.last().meta["reason"] != "dispatch" {
		t.Fatalf("unexpected audit: %+v", f.audit.last())
	}
}

func TestRequestCodeStoreFailure(t *testing.T) {
	f := newSignupFixture()
	f.codes.saveErr = errors.New("redis down")

	err := RunRequestCode(context.Background(), SignupRequest{Email: "a@x.com", Name: "Ann", Password: "secret1"}, f.deps)
	if !errors.Is(err, errStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if len(f.notifier.Messages()) != 0 {
		t.Fatal("no message may be sent when the code was not stored")
	}
}

func TestVerifyCodeConsumesOnce(t *testing.T) {
	f := newSignupFixture()
	ctx := context.Background()
	if err := RunRequestCode(ctx, SignupRequest{Email: "a@x.com", Name: "Ann", Password: "secret1"}, f.deps); err != nil {
		t.Fatalf("request code: %v", err)
	}

	_, err := RunVerifyCode(ctx, VerifyRequest{Email: "a@x.com", Code: "000000", Name: "Ann", Password: "secret1"}, f.deps)
	if !errors.Is(err, errInvalidCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if f.audit.last().meta["reason"] != "mismatch" {
		t.Fatalf("expected mismatch reason, got %+v", f.audit.last())
	}
	if n, _ := f.codes.outstanding(ctx, "a@x.com"); n != 1 {
		t.Fatalf("failed verify must leave the code, got %d", n)
	}

	created, err := RunVerifyCode(ctx, VerifyRequest{Email: " a@x.com", Code: "123456", Name: " Ann ", Password: "secret1"}, f.deps)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if created.Email != "a@x.com" || created.Name != "Ann" || created.PasswordHash != "hashed:secret1" {
		t.Fatalf("unexpected identity: %+v", created)
	}

	_, err = RunVerifyCode(ctx, VerifyRequest{Email: "a@x.com", Code: "123456", Name: "Ann", Password: "secret1"}, f.deps)
	if !errors.Is(err, errInvalidCode) {
		t.Fatalf("expected second verify to fail, got %v", err)
	}
	if f.audit.last().meta["reason"] != "unknown" {
		t.Fatalf("expected unknown reason, got %+v", f.audit.last())
	}
}

func TestVerifyCodeExpiredReason(t *testing.T) {
	f := newSignupFixture()
	f.codes.expired["a@x.com|123456"] = true

	_, err := RunVerifyCode(context.Background(), VerifyRequest{Email: "a@x.com", Code: "123456", Name: "Ann", Password: "secret1"}, f.deps)
	if !errors.Is(err, errInvalidCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if f.audit.last().meta["reason"] != "expired" {
		t.Fatalf("expected expired reason, got %+v", f.audit.last())
	}
}

func TestVerifyCodePersistenceAfterConsume(t *testing.T) {
	f := newSignupFixture()
	ctx := context.Background()
	_ = f.codes.save(ctx, "a@x.com", "123456", time.Minute)
	f.deps.CreateIdentity = func(context.Context, identity.NewIdentity) (identity.Identity, error) {
		return identity.Identity{}, errors.New("db down")
	}

	_, err := RunVerifyCode(ctx, VerifyRequest{Email: "a@x.com", Code: "123456", Name: "Ann", Password: "secret1"}, f.deps)
	if !errors.Is(err, errPersistence) || errors.Is(err, errInvalidCode) {
		t.Fatalf("expected persistence error distinct from invalid code, got %v", err)
	}
	if n, _ := f.codes.outstanding(ctx, "a@x.com"); n != 0 {
		t.Fatalf("code must stay consumed, got %d", n)
	}
}

func TestVerifyCodeHashFailureIsPersistence(t *testing.T) {
	f := newSignupFixture()
	ctx := context.Background()
	_ = f.codes.save(ctx, "a@x.com", "123456", time.Minute)
	f.deps.HashPassword = func(string) (string, error) { return "", errors.New("too long") }

	_, err := RunVerifyCode(ctx, VerifyRequest{Email: "a@x.com", Code: "123456", Name: "Ann", Password: "secret1"}, f.deps)
	if !errors.Is(err, errPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if f.store.Len() != 0 {
		t.Fatal("no identity may be created")
	}
}

func TestVerifyCodeConflictIsPersistence(t *testing.T) {
	f := newSignupFixture()
	ctx := context.Background()
	_ = f.codes.save(ctx, "a@x.com", "123456", time.Minute)
	if _, err := f.store.Create(ctx, identity.NewIdentity{Email: "a@x.com", PasswordHash: "h"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := RunVerifyCode(ctx, VerifyRequest{Email: "a@x.com", Code: "123456", Name: "Ann", Password: "secret1"}, f.deps)
	if !errors.Is(err, errPersistence) || !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected persistence wrapping conflict, got %v", err)
	}
}

func TestSignupFlowsNotReady(t *testing.T) {
	if err := RunRequestCode(context.Background(), SignupRequest{}, SignupDeps{Errors: SignupErrors{EngineNotReady: errNotReady}}); !errors.Is(err, errNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
	if _, err := RunVerifyCode(context.Background(), VerifyRequest{}, SignupDeps{Errors: SignupErrors{EngineNotReady: errNotReady}}); !errors.Is(err, errNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

func TestUnusablePasswordRejectedBeforeSideEffects(t *testing.T) {
	f := newSignupFixture()
	ctx := context.Background()
	long := strings.Repeat("p", 17)

	err := RunRequestCode(ctx, SignupRequest{Email: "a@x.com", Name: "Ann", Password: long}, f.deps)
	if !errors.Is(err, errBadPassword) || !errors.Is(err, errPasswordTooLong) {
		t.Fatalf("expected invalid password, got %v", err)
	}
	if len(f.notifier.Messages()) != 0 {
		t.Fatal("no code may be sent for an unusable password")
	}

	_ = f.codes.save(ctx, "a@x.com", "123456", time.Minute)
	_, err = RunVerifyCode(ctx, VerifyRequest{Email: "a@x.com", Code: "123456", Name: "Ann", Password: long}, f.deps)
	if !errors.Is(err, errBadPassword) || errors.Is(err, errPersistence) {
		t.Fatalf("expected invalid password, got %v", err)
	}
	if n, _ := f.codes.outstanding(ctx, "a@x.com"); n != 1 {
		t.Fatalf("code must not be consumed, got %d outstanding", n)
	}
	if f.audit.last().meta["reason"] != "password" {
		t.Fatalf("unexpected audit: %+v", f.audit.last())
	}
}
