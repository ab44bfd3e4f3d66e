package authcore

import (
	"errors"
	"net/url"
	"time"
)

// Config holds every tunable of the Engine.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Signup        SignupConfig
	PasswordReset PasswordResetConfig
	Session       SessionConfig
	Password      PasswordConfig
	Store         StoreConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
SIGNUP CONFIG
====================================
*/

// SignupConfig controls signup code issuance.
type SignupConfig struct {
	OTPDigits int
	OTPTTL    time.Duration
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig controls reset tokens. ResetURL is the page the
// emailed link points at; token and email are appended as query parameters.
type PasswordResetConfig struct {
	TokenTTL time.Duration
	ResetURL string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls signed session tokens.
//
// SessionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionConfig struct {
	TTL           time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters. Memory is in KiB.
type PasswordConfig struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig sets the Redis key prefixes of the credential stores.
type StoreConfig struct {
	OTPPrefix   string
	ResetPrefix string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the defaults: 6-digit codes valid for five
// minutes, reset tokens valid for one hour, 30-day Ed25519 sessions.
// Session keys must still be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Signup: SignupConfig{
			OTPDigits: 6,
			OTPTTL:    300 * time.Second,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL: 3600 * time.Second,
			ResetURL: "http://localhost:8080/reset-password",
		},
		Session: SessionConfig{
			TTL:           30 * 24 * time.Hour,
			SigningMethod: "ed25519",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Store: StoreConfig{
			OTPPrefix:   "aco",
			ResetPrefix: "acr",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.PrivateKey = cloneBytes(cfg.Session.PrivateKey)
	out.Session.PublicKey = cloneBytes(cfg.Session.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	// Signup
	if c.Signup.OTPDigits < 6 || c.Signup.OTPDigits > 10 {
		return errors.New("Signup OTPDigits must be between 6 and 10")
	}
	if c.Signup.OTPTTL <= 0 {
		return errors.New("Signup OTPTTL must be > 0")
	}

	// Password Reset
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0")
	}
	u, err := url.Parse(c.PasswordReset.ResetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("PasswordReset ResetURL must be an absolute URL")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.SigningMethod != "ed25519" && c.Session.SigningMethod != "hs256" {
		return errors.New("unsupported Session signing method")
	}
	if c.Session.SigningMethod == "ed25519" && len(c.Session.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.Session.SigningMethod == "ed25519" && len(c.Session.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.Session.SigningMethod == "hs256" && len(c.Session.PrivateKey) < 32 {
		return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
	}
	if c.Session.Leeway < 0 || c.Session.Leeway > 2*time.Minute {
		return errors.New("Session Leeway must be between 0 and 2m")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Store
	if c.Store.OTPPrefix == "" || c.Store.ResetPrefix == "" {
		return errors.New("Store prefixes must be set")
	}
	if c.Store.OTPPrefix == c.Store.ResetPrefix {
		return errors.New("Store OTPPrefix and ResetPrefix must differ")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
