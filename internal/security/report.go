package security

import "time"

// Argon2 thresholds below which a warning is raised. 19 MiB with t=2 is
// the lowest Argon2id profile OWASP lists.
const (
	minRecommendedMemory = 19 * 1024
	minRecommendedTime   = 2
	maxRecommendedOTPTTL = 15 * time.Minute
	maxRecommendedReset  = 24 * time.Hour
)

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Report struct {
	SigningAlgorithm string
	SessionTTL       time.Duration
	OTPDigits        int
	OTPTTL           time.Duration
	ResetTokenTTL    time.Duration
	ResetURLSecure   bool
	Argon2           PasswordReport
	UpgradeOnLogin   bool
	AuditActive      bool
	MetricsActive    bool
	Warnings         []string
}

type ReportInput struct {
	SigningAlgorithm string
	SessionTTL       time.Duration
	OTPDigits        int
	OTPTTL           time.Duration
	ResetTokenTTL    time.Duration
	ResetURLScheme   string
	Password         PasswordReport
	UpgradeOnLogin   bool
	AuditEnabled     bool
	MetricsEnabled   bool
}

func BuildReport(input ReportInput) Report {
	r := Report{
		SigningAlgorithm: input.SigningAlgorithm,
		SessionTTL:       input.SessionTTL,
		OTPDigits:        input.OTPDigits,
		OTPTTL:           input.OTPTTL,
		ResetTokenTTL:    input.ResetTokenTTL,
		ResetURLSecure:   input.ResetURLScheme == "https",
		Argon2:           input.Password,
		UpgradeOnLogin:   input.UpgradeOnLogin,
		AuditActive:      input.AuditEnabled,
		MetricsActive:    input.MetricsEnabled,
	}

	if input.SigningAlgorithm == "hs256" {
		r.Warnings = append(r.Warnings, "session tokens use a shared HMAC secret")
	}
	if !r.ResetURLSecure {
		r.Warnings = append(r.Warnings, "reset links are not served over https")
	}
	if input.OTPTTL > maxRecommendedOTPTTL {
		r.Warnings = append(r.Warnings, "signup codes live longer than 15m")
	}
	if input.ResetTokenTTL > maxRecommendedReset {
		r.Warnings = append(r.Warnings, "reset tokens live longer than 24h")
	}
	if input.Password.Memory < minRecommendedMemory || input.Password.Time < minRecommendedTime {
		r.Warnings = append(r.Warnings, "argon2 cost is below the recommended minimum")
	}
	if !input.AuditEnabled {
		r.Warnings = append(r.Warnings, "audit events are disabled")
	}
	return r
}
