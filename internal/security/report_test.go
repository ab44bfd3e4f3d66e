package security

import (
	"testing"
	"time"
)

func strongInput() ReportInput {
	return ReportInput{
		SigningAlgorithm: "ed25519",
		SessionTTL:       30 * 24 * time.Hour,
		OTPDigits:        6,
		OTPTTL:           5 * time.Minute,
		ResetTokenTTL:    time.Hour,
		ResetURLScheme:   "https",
		Password:         PasswordReport{Memory: 65536, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32},
		UpgradeOnLogin:   true,
		AuditEnabled:     true,
	}
}

func TestBuildReportStrongPostureHasNoWarnings(t *testing.T) {
	r := BuildReport(strongInput())
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
	if !r.ResetURLSecure || r.Argon2.Memory != 65536 || !r.AuditActive {
		t.Fatalf("unexpected report: %+v", r)
	}
}

func TestBuildReportWarnings(t *testing.T) {
	in := strongInput()
	in.SigningAlgorithm = "hs256"
	in.ResetURLScheme = "http"
	in.OTPTTL = time.Hour
	in.ResetTokenTTL = 48 * time.Hour
	in.Password.Memory = 8192
	in.AuditEnabled = false

	r := BuildReport(in)
	if len(r.Warnings) != 6 {
		t.Fatalf("expected 6 warnings, got %v", r.Warnings)
	}
	if r.ResetURLSecure {
		t.Fatal("http reset url reported as secure")
	}
}
