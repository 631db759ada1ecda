package certificate

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

const certificatePEMType = "CERTIFICATE"

// ErrMalformedCertificate is returned when the input is neither valid DER,
// PEM-wrapped DER, nor bare base64 DER, or when mandatory fields cannot be
// decoded.
var ErrMalformedCertificate = errors.New("malformed certificate")

// ParserConfig controls certificate parsing policy.
type ParserConfig struct {
	// AssumeDigitalSignature selects the fallback applied when a
	// certificate carries no parseable key-usage extension: assert that
	// digitalSignature is present rather than failing. The assumption is
	// recorded on the Certificate and logged, never applied silently.
	AssumeDigitalSignature bool

	// Logger receives the key-usage fallback warning. Defaults to a
	// disabled logger.
	Logger zerolog.Logger
}

// DefaultParserConfig returns the policy used by Parse.
func DefaultParserConfig() ParserConfig {
	return ParserConfig{
		AssumeDigitalSignature: true,
		Logger:                 zerolog.Nop(),
	}
}

// Parse decodes a certificate from raw DER, PEM text, or bare base64 DER
// using the default policy.
func Parse(data []byte) (*Certificate, error) {
	return ParseWithConfig(data, DefaultParserConfig())
}

// ParseWithConfig decodes a certificate from raw DER, PEM text bracketed by
// CERTIFICATE markers, or bare base64 DER with incidental whitespace. It
// fails with ErrMalformedCertificate when the input matches none of those
// shapes or when the validity window or subject cannot be decoded.
func ParseWithConfig(data []byte, cfg ParserConfig) (*Certificate, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedCertificate)
	}

	der, err := decodeToDER(data)
	if err != nil {
		return nil, err
	}

	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedCertificate, err)
	}

	if parsed.NotBefore.IsZero() || parsed.NotAfter.IsZero() {
		return nil, fmt.Errorf("%w: missing validity dates", ErrMalformedCertificate)
	}

	if parsed.NotBefore.After(parsed.NotAfter) {
		return nil, fmt.Errorf("%w: validity window is inverted (notBefore %s after notAfter %s)",
			ErrMalformedCertificate, parsed.NotBefore.Format("2006-01-02"), parsed.NotAfter.Format("2006-01-02"))
	}

	subject := parsed.Subject.String()
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformedCertificate)
	}

	cert := &Certificate{
		Subject:      subject,
		Issuer:       parsed.Issuer.String(),
		NotBefore:    parsed.NotBefore,
		NotAfter:     parsed.NotAfter,
		SerialNumber: parsed.SerialNumber.Text(16),
		KeyUsages:    usagesFromBits(parsed.KeyUsage),
		raw:          bytes.Clone(parsed.Raw),
		pub:          parsed.PublicKey,
	}

	if len(cert.KeyUsages) == 0 && cfg.AssumeDigitalSignature {
		cfg.Logger.Warn().
			Str("subject", cert.Subject).
			Str("serial_number", cert.SerialNumber).
			Msg("certificate has no parseable key-usage extension, assuming digitalSignature")

		cert.KeyUsages = []KeyUsage{UsageDigitalSignature}
		cert.KeyUsageAssumed = true
	}

	return cert, nil
}

// decodeToDER normalizes the three accepted input shapes down to DER bytes.
func decodeToDER(data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte("-----BEGIN")) {
		return derFromPEM(data)
	}

	// DER always starts with an ASN.1 SEQUENCE tag.
	if len(data) > 0 && data[0] == 0x30 {
		return bytes.Clone(data), nil
	}

	der, err := base64.StdEncoding.DecodeString(string(stripWhitespace(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: input is neither DER, PEM, nor base64-encoded DER", ErrMalformedCertificate)
	}

	return der, nil
}

func derFromPEM(data []byte) ([]byte, error) {
	rest := bytes.TrimSpace(data)

	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("%w: no CERTIFICATE block in PEM input", ErrMalformedCertificate)
		}

		if block.Type == certificatePEMType {
			return block.Bytes, nil
		}
	}
}

func stripWhitespace(data []byte) []byte {
	return bytes.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, data)
}

// usagesFromBits expands the x509 key-usage bitmask into tags in RFC 5280
// bit order.
func usagesFromBits(bits x509.KeyUsage) []KeyUsage {
	ordered := []struct {
		bit   x509.KeyUsage
		usage KeyUsage
	}{
		{x509.KeyUsageDigitalSignature, UsageDigitalSignature},
		{x509.KeyUsageContentCommitment, UsageContentCommitment},
		{x509.KeyUsageKeyEncipherment, UsageKeyEncipherment},
		{x509.KeyUsageDataEncipherment, UsageDataEncipherment},
		{x509.KeyUsageKeyAgreement, UsageKeyAgreement},
		{x509.KeyUsageCertSign, UsageCertSign},
		{x509.KeyUsageCRLSign, UsageCRLSign},
		{x509.KeyUsageEncipherOnly, UsageEncipherOnly},
		{x509.KeyUsageDecipherOnly, UsageDecipherOnly},
	}

	var usages []KeyUsage
	for _, entry := range ordered {
		if bits&entry.bit != 0 {
			usages = append(usages, entry.usage)
		}
	}

	return usages
}
