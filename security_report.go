package authcore

import (
	"net/url"

	"github.com/codicle/authcore/internal/security"
)

// SecurityReport is a read-only summary of the Engine's security posture,
// with a warning for each weak setting.
type SecurityReport = security.Report

// SecurityReport summarizes the configuration the Engine was built with.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	var scheme string
	if u, err := url.Parse(e.config.PasswordReset.ResetURL); err == nil {
		scheme = u.Scheme
	}

	return security.BuildReport(security.ReportInput{
		SigningAlgorithm: e.config.Session.SigningMethod,
		SessionTTL:       e.config.Session.TTL,
		OTPDigits:        e.config.Signup.OTPDigits,
		OTPTTL:           e.config.Signup.OTPTTL,
		ResetTokenTTL:    e.config.PasswordReset.TokenTTL,
		ResetURLScheme:   scheme,
		Password: security.PasswordReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		UpgradeOnLogin: e.config.Password.UpgradeOnLogin,
		AuditEnabled:   e.audit != nil,
		MetricsEnabled: e.metrics.Enabled(),
	})
}
