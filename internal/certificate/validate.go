package certificate

import (
	"crypto/rsa"
	"fmt"
	"time"
)

// DefaultExpiryWarningWindow is the horizon inside which an impending
// expiry produces a warning.
const DefaultExpiryWarningWindow = 30 * 24 * time.Hour

// MinRSABits is the modulus size below which an RSA key draws a warning.
const MinRSABits = 2048

// ValidatorConfig carries deployment policy for certificate validation.
type ValidatorConfig struct {
	// ExpiryWarningWindow overrides DefaultExpiryWarningWindow when set.
	ExpiryWarningWindow time.Duration
}

// Verdict is the outcome of validating one certificate at one instant. It is
// recomputed on every call and never cached on the Certificate.
type Verdict struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validator applies temporal and usage-fitness rules to certificates.
type Validator struct {
	warningWindow time.Duration
}

func NewValidator(cfg ValidatorConfig) *Validator {
	window := cfg.ExpiryWarningWindow
	if window <= 0 {
		window = DefaultExpiryWarningWindow
	}

	return &Validator{warningWindow: window}
}

// Validate judges whether the certificate is fit for signing at the given
// instant. It is a pure function of its inputs: every check runs
// unconditionally and appends to the verdict in a fixed order. Valid is true
// exactly when no errors were recorded.
func (v *Validator) Validate(cert *Certificate, now time.Time) Verdict {
	var verdict Verdict

	if now.Before(cert.NotBefore) {
		verdict.Errors = append(verdict.Errors,
			fmt.Sprintf("certificate is not yet valid: validity begins %s", cert.NotBefore.Format(time.RFC3339)))
	}

	if now.After(cert.NotAfter) {
		verdict.Errors = append(verdict.Errors,
			fmt.Sprintf("certificate expired on %s", cert.NotAfter.Format(time.RFC3339)))
	}

	if remaining := cert.NotAfter.Sub(now); remaining >= 0 && remaining < v.warningWindow {
		verdict.Warnings = append(verdict.Warnings,
			fmt.Sprintf("certificate expires in %d days", int(remaining.Hours()/24)))
	}

	if !cert.HasUsage(UsageDigitalSignature) {
		verdict.Warnings = append(verdict.Warnings,
			"certificate key usage does not include digitalSignature")
	}

	if pub, ok := cert.PublicKey().(*rsa.PublicKey); ok && pub.N.BitLen() < MinRSABits {
		verdict.Warnings = append(verdict.Warnings,
			fmt.Sprintf("certificate RSA key is %d bits, below the %d-bit minimum", pub.N.BitLen(), MinRSABits))
	}

	verdict.Valid = len(verdict.Errors) == 0

	return verdict
}
