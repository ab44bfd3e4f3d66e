package authcore

import (
	"errors"
	"log/slog"

	"github.com/codicle/authcore/identity"
	"github.com/codicle/authcore/internal/audit"
	"github.com/codicle/authcore/internal/stores"
	"github.com/codicle/authcore/jwt"
	"github.com/codicle/authcore/notify"
	"github.com/codicle/authcore/password"
	"github.com/codicle/authcore/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	identities identity.Store
	notifier   notify.Notifier
	logger     *slog.Logger
	auditSink  AuditSink

	built bool
}

// New returns a Builder carrying DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Key material is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the code and reset token stores.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets the persistent identity store.
func (b *Builder) WithIdentityStore(store identity.Store) *Builder {
	b.identities = store
	return b
}

// WithNotifier sets the delivery channel for codes and reset links.
// Retry policy, if any, belongs to the notifier (see notify.Retrying).
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithLogger sets the operator logger. Without one, logs are discarded.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets where audit events go when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the hash latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
//
// Build returns an error when a collaborator is missing, the configuration
// is invalid, or the session keys cannot be parsed.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.identities == nil {
		return nil, errors.New("identity store required")
	}
	if b.notifier == nil {
		return nil, errors.New("notifier required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	engine := &Engine{
		config:     cfg,
		identities: b.identities,
		notifier:   b.notifier,
		logger:     logger,
	}

	// -------- CREDENTIAL STORES --------
	engine.codes = stores.NewOTPStore(b.redis, cfg.Store.OTPPrefix)
	engine.resetTokens = stores.NewResetTokenStore(b.redis, cfg.Store.ResetPrefix)

	// -------- PASSWORD HASHER --------
	ph, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	// -------- SESSION CODEC --------
	jm, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Session.TTL,
		SigningMethod: jwt.SigningMethod(cfg.Session.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Session.PrivateKey),
		PublicKey:     cloneBytes(cfg.Session.PublicKey),
		Issuer:        cfg.Session.Issuer,
		Audience:      cfg.Session.Audience,
		Leeway:        cfg.Session.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.sessions = session.NewCodec(jm)

	// -------- AUDIT / METRICS --------
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		Enrich:      enrichAuditEvent,
		OnSinkPanic: engine.auditSinkPanicked,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	engine.flows.Signup = engine.signupFlowDeps()
	engine.flows.PasswordReset = engine.passwordResetFlowDeps()
	engine.flows.Session = engine.sessionFlowDeps()

	b.built = true

	return engine, nil
}
