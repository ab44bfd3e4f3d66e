// Package config loads the authcore server configuration from a YAML file
// with command-line overrides.
package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/codicle/authcore"
	"github.com/codicle/authcore/notify"
)

// EnvDatabaseURL is read when database_url is not configured.
const EnvDatabaseURL = "DATABASE_URL"

// File mirrors the YAML layout. Durations are Go duration strings.
type File struct {
	Listen         string `koanf:"listen"`
	Dev            bool   `koanf:"dev"`
	LogFormat      string `koanf:"log_format"`
	LogLevel       string `koanf:"log_level"`
	DatabaseURL    string `koanf:"database_url"`
	Migrate        bool   `koanf:"migrate"`
	ExternalSecret string `koanf:"external_secret"`
	TrustProxy     bool   `koanf:"trust_proxy"`

	Redis         RedisFile         `koanf:"redis"`
	SMTP          SMTPFile          `koanf:"smtp"`
	Signup        SignupFile        `koanf:"signup"`
	PasswordReset PasswordResetFile `koanf:"password_reset"`
	Session       SessionFile       `koanf:"session"`
	Password      PasswordFile      `koanf:"password"`
	Store         StoreFile         `koanf:"store"`
	Audit         AuditFile         `koanf:"audit"`
	Metrics       MetricsFile       `koanf:"metrics"`
}

type RedisFile struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type SMTPFile struct {
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Username   string        `koanf:"username"`
	Password   string        `koanf:"password"`
	From       string        `koanf:"from"`
	MaxRetries uint64        `koanf:"max_retries"`
	BaseDelay  time.Duration `koanf:"base_delay"`
}

type SignupFile struct {
	OTPDigits int           `koanf:"otp_digits"`
	OTPTTL    time.Duration `koanf:"otp_ttl"`
}

type PasswordResetFile struct {
	TokenTTL time.Duration `koanf:"token_ttl"`
	ResetURL string        `koanf:"reset_url"`
}

// SessionFile names PEM key files for ed25519 or a raw secret for hs256.
type SessionFile struct {
	TTL            time.Duration `koanf:"ttl"`
	SigningMethod  string        `koanf:"signing_method"`
	PrivateKeyFile string        `koanf:"private_key_file"`
	PublicKeyFile  string        `koanf:"public_key_file"`
	Secret         string        `koanf:"secret"`
	Issuer         string        `koanf:"issuer"`
	Audience       string        `koanf:"audience"`
	Leeway         time.Duration `koanf:"leeway"`
}

type PasswordFile struct {
	Memory         uint32 `koanf:"memory"`
	Time           uint32 `koanf:"time"`
	Parallelism    uint8  `koanf:"parallelism"`
	UpgradeOnLogin bool   `koanf:"upgrade_on_login"`
}

type StoreFile struct {
	OTPPrefix   string `koanf:"otp_prefix"`
	ResetPrefix string `koanf:"reset_prefix"`
}

type AuditFile struct {
	Enabled    bool   `koanf:"enabled"`
	BufferSize int    `koanf:"buffer_size"`
	DropIfFull bool   `koanf:"drop_if_full"`
	Sink       string `koanf:"sink"`
}

type MetricsFile struct {
	Enabled           bool `koanf:"enabled"`
	LatencyHistograms bool `koanf:"latency_histograms"`
}

// Default returns a File seeded from authcore.DefaultConfig.
func Default() File {
	d := authcore.DefaultConfig()
	return File{
		Listen:    ":8080",
		LogFormat: "json",
		LogLevel:  "info",
		Redis:     RedisFile{Addr: "localhost:6379"},
		SMTP:      SMTPFile{Port: 587, MaxRetries: 3, BaseDelay: 200 * time.Millisecond},
		Signup:    SignupFile{OTPDigits: d.Signup.OTPDigits, OTPTTL: d.Signup.OTPTTL},
		PasswordReset: PasswordResetFile{
			TokenTTL: d.PasswordReset.TokenTTL,
			ResetURL: d.PasswordReset.ResetURL,
		},
		Session: SessionFile{
			TTL:           d.Session.TTL,
			SigningMethod: d.Session.SigningMethod,
			Issuer:        "authcore",
		},
		Password: PasswordFile{
			Memory:         d.Password.Memory,
			Time:           d.Password.Time,
			Parallelism:    d.Password.Parallelism,
			UpgradeOnLogin: d.Password.UpgradeOnLogin,
		},
		Store: StoreFile{OTPPrefix: d.Store.OTPPrefix, ResetPrefix: d.Store.ResetPrefix},
		Audit: AuditFile{
			Enabled:    true,
			BufferSize: d.Audit.BufferSize,
			DropIfFull: d.Audit.DropIfFull,
			Sink:       "slog",
		},
		Metrics: MetricsFile{Enabled: true, LatencyHistograms: true},
	}
}

// Load layers Default, the YAML file at path (skipped when empty) and the
// flags that were set on fs, then validates the result for serving. Flag
// names are the dotted keys, e.g. "redis.addr".
func Load(path string, fs *pflag.FlagSet) (File, error) {
	out, err := LoadUnchecked(path, fs)
	if err != nil {
		return File{}, err
	}
	return out, out.validate()
}

// LoadUnchecked is Load without the serving checks, for commands that only
// need part of the configuration.
func LoadUnchecked(path string, fs *pflag.FlagSet) (File, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return File{}, oops.Code("CONFIG_INVALID").With("path", path).Wrapf(err, "read config file")
		}
	}
	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return File{}, oops.Code("CONFIG_INVALID").Wrapf(err, "read flags")
		}
	}

	out := Default()
	if err := k.UnmarshalWithConf("", &out, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return File{}, oops.Code("CONFIG_INVALID").Wrapf(err, "decode config")
	}
	if out.DatabaseURL == "" {
		out.DatabaseURL = os.Getenv(EnvDatabaseURL)
	}
	return out, nil
}

func (f File) validate() error {
	if strings.TrimSpace(f.Listen) == "" {
		return oops.Code("CONFIG_INVALID").Errorf("listen address is required")
	}
	if f.LogFormat != "json" && f.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log_format must be 'json' or 'text', got %q", f.LogFormat)
	}
	switch f.Audit.Sink {
	case "slog", "json", "none":
	default:
		return oops.Code("CONFIG_INVALID").Errorf("audit.sink must be slog, json or none, got %q", f.Audit.Sink)
	}
	if f.Dev {
		return nil
	}
	if f.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database_url or %s is required outside dev mode", EnvDatabaseURL)
	}
	if f.SMTP.Host == "" || f.SMTP.From == "" {
		return oops.Code("CONFIG_INVALID").Errorf("smtp.host and smtp.from are required outside dev mode")
	}
	return nil
}

// EngineConfig converts f into an authcore.Config, reading session keys
// from disk. Validation of the result is left to the Engine builder.
func (f File) EngineConfig() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()

	cfg.Signup.OTPDigits = f.Signup.OTPDigits
	cfg.Signup.OTPTTL = f.Signup.OTPTTL
	cfg.PasswordReset.TokenTTL = f.PasswordReset.TokenTTL
	cfg.PasswordReset.ResetURL = f.PasswordReset.ResetURL

	cfg.Session.TTL = f.Session.TTL
	cfg.Session.SigningMethod = f.Session.SigningMethod
	cfg.Session.Issuer = f.Session.Issuer
	cfg.Session.Audience = f.Session.Audience
	cfg.Session.Leeway = f.Session.Leeway

	switch f.Session.SigningMethod {
	case "hs256":
		cfg.Session.PrivateKey = []byte(f.Session.Secret)
	default:
		if f.Dev && f.Session.PrivateKeyFile == "" && f.Session.PublicKeyFile == "" {
			// Throwaway keys: dev sessions do not survive a restart.
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return authcore.Config{}, oops.Code("KEY_GENERATION_FAILED").Wrap(err)
			}
			cfg.Session.PrivateKey = priv
			cfg.Session.PublicKey = pub
			break
		}
		priv, pub, err := LoadEd25519Keys(f.Session.PrivateKeyFile, f.Session.PublicKeyFile)
		if err != nil {
			return authcore.Config{}, err
		}
		cfg.Session.PrivateKey = priv
		cfg.Session.PublicKey = pub
	}

	cfg.Password.Memory = f.Password.Memory
	cfg.Password.Time = f.Password.Time
	cfg.Password.Parallelism = f.Password.Parallelism
	cfg.Password.UpgradeOnLogin = f.Password.UpgradeOnLogin

	cfg.Store.OTPPrefix = f.Store.OTPPrefix
	cfg.Store.ResetPrefix = f.Store.ResetPrefix

	cfg.Audit.Enabled = f.Audit.Enabled && f.Audit.Sink != "none"
	cfg.Audit.BufferSize = f.Audit.BufferSize
	cfg.Audit.DropIfFull = f.Audit.DropIfFull

	cfg.Metrics.Enabled = f.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = f.Metrics.LatencyHistograms
	return cfg, nil
}

// SMTPConfig returns the relay settings for notify.NewSMTPNotifier.
func (f File) SMTPConfig() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     f.SMTP.Host,
		Port:     f.SMTP.Port,
		Username: f.SMTP.Username,
		Password: f.SMTP.Password,
		From:     f.SMTP.From,
	}
}

// RetryConfig returns the redelivery policy wrapped around the SMTP relay.
func (f File) RetryConfig() notify.RetryConfig {
	return notify.RetryConfig{MaxRetries: f.SMTP.MaxRetries, BaseDelay: f.SMTP.BaseDelay}
}

// LoadEd25519Keys reads a PKCS#8 private key and a PKIX public key, both
// PEM encoded, and returns their raw bytes.
func LoadEd25519Keys(privPath, pubPath string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if privPath == "" || pubPath == "" {
		return nil, nil, oops.Code("CONFIG_INVALID").Errorf("session.private_key_file and session.public_key_file are required for ed25519")
	}

	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		return nil, nil, oops.Code("KEY_UNREADABLE").With("path", privPath).Wrap(err)
	}
	pubPEM, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, nil, oops.Code("KEY_UNREADABLE").With("path", pubPath).Wrap(err)
	}

	rawPriv, err := jwtlib.ParseEdPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, nil, oops.Code("KEY_INVALID").With("path", privPath).Wrap(err)
	}
	rawPub, err := jwtlib.ParseEdPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, nil, oops.Code("KEY_INVALID").With("path", pubPath).Wrap(err)
	}

	priv, ok := rawPriv.(ed25519.PrivateKey)
	if !ok {
		return nil, nil, oops.Code("KEY_INVALID").With("path", privPath).Errorf("not an ed25519 private key")
	}
	pub, ok := rawPub.(ed25519.PublicKey)
	if !ok {
		return nil, nil, oops.Code("KEY_INVALID").With("path", pubPath).Errorf("not an ed25519 public key")
	}
	return priv, pub, nil
}
