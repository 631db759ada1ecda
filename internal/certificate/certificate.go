package certificate

import (
	"crypto"
	"crypto/sha256"
	"encoding/pem"
	"fmt"
	"strings"
	"time"
)

// KeyUsage is a capability tag from the X.509 key-usage extension, named as
// in RFC 5280.
type KeyUsage string

const (
	UsageDigitalSignature  KeyUsage = "digitalSignature"
	UsageContentCommitment KeyUsage = "contentCommitment"
	UsageKeyEncipherment   KeyUsage = "keyEncipherment"
	UsageDataEncipherment  KeyUsage = "dataEncipherment"
	UsageKeyAgreement      KeyUsage = "keyAgreement"
	UsageCertSign          KeyUsage = "keyCertSign"
	UsageCRLSign           KeyUsage = "cRLSign"
	UsageEncipherOnly      KeyUsage = "encipherOnly"
	UsageDecipherOnly      KeyUsage = "decipherOnly"
)

// Certificate holds the fields extracted from one X.509 certificate. It is
// immutable once parsed; the raw DER is an owned copy of the input.
type Certificate struct {
	Subject      string     `json:"subject"`
	Issuer       string     `json:"issuer"`
	NotBefore    time.Time  `json:"not_before"`
	NotAfter     time.Time  `json:"not_after"`
	SerialNumber string     `json:"serial_number"`
	KeyUsages    []KeyUsage `json:"key_usages"`

	// KeyUsageAssumed is true when the certificate carried no parseable
	// key-usage extension and the parser applied its optimistic default.
	KeyUsageAssumed bool `json:"key_usage_assumed,omitempty"`

	raw []byte
	pub crypto.PublicKey
}

// Raw returns a copy of the certificate DER bytes.
func (c *Certificate) Raw() []byte {
	out := make([]byte, len(c.raw))
	copy(out, c.raw)
	return out
}

// PublicKey returns the certificate's subject public key.
func (c *Certificate) PublicKey() crypto.PublicKey {
	return c.pub
}

// HasUsage reports whether the certificate declares the given capability.
func (c *Certificate) HasUsage(usage KeyUsage) bool {
	for _, u := range c.KeyUsages {
		if u == usage {
			return true
		}
	}
	return false
}

// Fingerprint returns the SHA-256 digest of the certificate DER as 32
// colon-separated uppercase hex pairs, e.g. "3F:A1:...".
func (c *Certificate) Fingerprint() string {
	sum := sha256.Sum256(c.raw)

	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}

	return strings.Join(parts, ":")
}

// ToPEM re-serializes the certificate as PEM with 64-character line
// wrapping, independent of the encoding it was parsed from.
func (c *Certificate) ToPEM() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: certificatePEMType, Bytes: c.raw}))
}
