package signingkey

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/youmark/pkcs8"
	"software.sslmate.com/src/go-pkcs12"
)

var (
	// ErrUnsupportedFormat is the sentinel under every aggregate import
	// failure.
	ErrUnsupportedFormat = errors.New("unsupported private key format")

	// ErrPassphraseRequired is returned when the input is encrypted and no
	// passphrase was supplied.
	ErrPassphraseRequired = errors.New("private key is encrypted and requires a passphrase")

	// ErrIncorrectPassphrase is returned when the supplied passphrase does
	// not unlock the key.
	ErrIncorrectPassphrase = errors.New("passphrase does not unlock the private key")
)

const (
	pemTypePKCS8          = "PRIVATE KEY"
	pemTypePKCS1          = "RSA PRIVATE KEY"
	pemTypeEncryptedPKCS8 = "ENCRYPTED PRIVATE KEY"
	pemTypeEC             = "EC PRIVATE KEY"
)

// Attempt records why one decoding candidate rejected the input.
type Attempt struct {
	Format string
	Err    error
}

// UnsupportedFormatError aggregates the failures of every decoding candidate
// that ran. It unwraps to ErrUnsupportedFormat.
type UnsupportedFormatError struct {
	Attempts []Attempt
}

func (e *UnsupportedFormatError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", attempt.Format, attempt.Err))
	}

	return "no supported private key format matched: " + strings.Join(parts, "; ")
}

func (e *UnsupportedFormatError) Unwrap() error {
	return ErrUnsupportedFormat
}

// ImportOption adjusts one import call.
type ImportOption func(*importConfig)

type importConfig struct {
	passphrase []byte
	logger     zerolog.Logger
}

// WithPassphrase supplies the passphrase for encrypted inputs.
func WithPassphrase(passphrase string) ImportOption {
	return func(cfg *importConfig) {
		cfg.passphrase = []byte(passphrase)
	}
}

// WithLogger directs import diagnostics somewhere other than a disabled
// logger.
func WithLogger(logger zerolog.Logger) ImportOption {
	return func(cfg *importConfig) {
		cfg.logger = logger
	}
}

// keyInput is the normalized form fed to the decoding candidates.
type keyInput struct {
	der             []byte
	pemType         string
	block           *pem.Block
	legacyEncrypted bool
}

// candidate is one (format, decoder) pair in the trial order.
type candidate struct {
	format  string
	applies func(in keyInput) bool
	decode  func(in keyInput, passphrase []byte) (*rsa.PrivateKey, error)
}

// Import decodes a private key from PEM text, raw DER, or bare base64 DER
// into a sign-only handle. Candidates are tried in a fixed order (PKCS#8,
// PKCS#1, encrypted PKCS#8, legacy encrypted PEM, then PKCS#12) and every
// rejection is captured; when none succeeds the rejections aggregate into
// an UnsupportedFormatError. Passphrase problems short-circuit instead with
// ErrPassphraseRequired or ErrIncorrectPassphrase so the caller can prompt.
// The normalized key bytes are zeroed before return; only the handle keeps
// (private) key material, and only until Destroy.
func Import(data []byte, opts ...ImportOption) (*Key, error) {
	cfg := importConfig{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	in, err := normalizeKeyInput(data)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(in.der)

	var attempts []Attempt

	for _, cand := range importCandidates() {
		if !cand.applies(in) {
			continue
		}

		priv, err := cand.decode(in, cfg.passphrase)
		if err != nil {
			if errors.Is(err, ErrPassphraseRequired) || errors.Is(err, ErrIncorrectPassphrase) {
				return nil, err
			}

			attempts = append(attempts, Attempt{Format: cand.format, Err: err})

			continue
		}

		key, err := newKey(priv, cand.format)
		if err != nil {
			return nil, err
		}

		cfg.logger.Debug().
			Str("format", cand.format).
			Str("key_id", key.ID()).
			Msg("imported private key")

		return key, nil
	}

	return nil, &UnsupportedFormatError{Attempts: attempts}
}

func importCandidates() []candidate {
	return []candidate{
		{
			format: "pkcs8",
			applies: func(in keyInput) bool {
				return !in.legacyEncrypted && (in.pemType == "" || in.pemType == pemTypePKCS8 || in.pemType == pemTypeEC)
			},
			decode: func(in keyInput, _ []byte) (*rsa.PrivateKey, error) {
				parsed, err := x509.ParsePKCS8PrivateKey(in.der)
				if err != nil {
					return nil, err
				}

				return requireRSA(parsed)
			},
		},
		{
			format: "pkcs1",
			applies: func(in keyInput) bool {
				return !in.legacyEncrypted && (in.pemType == "" || in.pemType == pemTypePKCS1)
			},
			decode: func(in keyInput, _ []byte) (*rsa.PrivateKey, error) {
				return x509.ParsePKCS1PrivateKey(in.der)
			},
		},
		{
			format: "pkcs8-encrypted",
			applies: func(in keyInput) bool {
				return !in.legacyEncrypted && (in.pemType == "" || in.pemType == pemTypeEncryptedPKCS8)
			},
			decode: decodeEncryptedPKCS8,
		},
		{
			format:  "pem-encrypted",
			applies: func(in keyInput) bool { return in.legacyEncrypted },
			decode:  decodeLegacyEncryptedPEM,
		},
		{
			format:  "pkcs12",
			applies: func(in keyInput) bool { return in.pemType == "" },
			decode:  decodePKCS12,
		},
	}
}

func decodeEncryptedPKCS8(in keyInput, passphrase []byte) (*rsa.PrivateKey, error) {
	fromEncryptedPEM := in.pemType == pemTypeEncryptedPKCS8

	if len(passphrase) == 0 {
		if fromEncryptedPEM {
			return nil, ErrPassphraseRequired
		}

		return nil, errors.New("no passphrase supplied")
	}

	priv, err := pkcs8.ParsePKCS8PrivateKeyRSA(in.der, passphrase)
	if err != nil {
		if fromEncryptedPEM {
			return nil, fmt.Errorf("%w: %s", ErrIncorrectPassphrase, err)
		}

		return nil, err
	}

	return priv, nil
}

func decodeLegacyEncryptedPEM(in keyInput, passphrase []byte) (*rsa.PrivateKey, error) {
	if len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}

	//nolint:staticcheck // legacy OpenSSL-encrypted PEM keys are still common in the wild
	der, err := x509.DecryptPEMBlock(in.block, passphrase)
	if err != nil {
		if errors.Is(err, x509.IncorrectPasswordError) {
			return nil, fmt.Errorf("%w: %s", ErrIncorrectPassphrase, err)
		}

		return nil, err
	}
	defer zeroBytes(der)

	if in.pemType == pemTypePKCS1 {
		return x509.ParsePKCS1PrivateKey(der)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}

	return requireRSA(parsed)
}

func decodePKCS12(in keyInput, passphrase []byte) (*rsa.PrivateKey, error) {
	priv, _, err := pkcs12.Decode(in.der, string(passphrase))
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			if len(passphrase) == 0 {
				return nil, ErrPassphraseRequired
			}

			return nil, fmt.Errorf("%w: %s", ErrIncorrectPassphrase, err)
		}

		return nil, err
	}

	return requireRSA(priv)
}

func requireRSA(parsed any) (*rsa.PrivateKey, error) {
	switch key := parsed.(type) {
	case *rsa.PrivateKey:
		return key, nil
	case *ecdsa.PrivateKey:
		return nil, errors.New("decoded an ECDSA key, only RSA keys are supported")
	case ed25519.PrivateKey:
		return nil, errors.New("decoded an Ed25519 key, only RSA keys are supported")
	default:
		return nil, fmt.Errorf("decoded %T, only RSA keys are supported", parsed)
	}
}

// normalizeKeyInput reduces the three accepted input shapes to DER plus the
// PEM framing facts the candidates key off.
func normalizeKeyInput(data []byte) (keyInput, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return keyInput{}, fmt.Errorf("%w: empty input", ErrUnsupportedFormat)
	}

	if bytes.Contains(data, []byte("-----BEGIN")) {
		return keyInputFromPEM(data)
	}

	// DER always starts with an ASN.1 SEQUENCE tag.
	if data[0] == 0x30 {
		return keyInput{der: bytes.Clone(data)}, nil
	}

	der, err := base64.StdEncoding.DecodeString(string(stripSpace(data)))
	if err != nil {
		return keyInput{}, fmt.Errorf("%w: input is neither DER, PEM, nor base64-encoded DER", ErrUnsupportedFormat)
	}

	return keyInput{der: der}, nil
}

func keyInputFromPEM(data []byte) (keyInput, error) {
	rest := bytes.TrimSpace(data)

	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return keyInput{}, fmt.Errorf("%w: no private-key block in PEM input", ErrUnsupportedFormat)
		}

		switch block.Type {
		case pemTypePKCS8, pemTypePKCS1, pemTypeEncryptedPKCS8, pemTypeEC:
			return keyInput{
				der:             block.Bytes,
				pemType:         block.Type,
				block:           block,
				legacyEncrypted: strings.Contains(block.Headers["Proc-Type"], "ENCRYPTED"),
			}, nil
		}
	}
}

func stripSpace(data []byte) []byte {
	return bytes.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, data)
}
