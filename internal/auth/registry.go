package auth

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"
)

// ErrUnknownKey is returned when no trusted public key matches a
// credential fingerprint.
var ErrUnknownKey = errors.New("unknown credential")

// KeyRegistry resolves a credential fingerprint to its public key.
type KeyRegistry interface {
	Lookup(fingerprint string) (*ecdsa.PublicKey, error)
}

// StaticKeyRegistry is a fixed in-memory fingerprint index, populated from
// public key PEM files at startup.
type StaticKeyRegistry struct {
	mu   sync.RWMutex
	keys map[string]*ecdsa.PublicKey
}

func NewStaticKeyRegistry() *StaticKeyRegistry {
	return &StaticKeyRegistry{keys: make(map[string]*ecdsa.PublicKey)}
}

// Add registers a trusted public key and returns its fingerprint.
func (r *StaticKeyRegistry) Add(pub *ecdsa.PublicKey) (string, error) {
	fingerprint, err := Fingerprint(pub)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.keys[fingerprint] = pub
	r.mu.Unlock()

	return fingerprint, nil
}

// AddPEM registers a trusted PEM-encoded public key and returns its
// fingerprint.
func (r *StaticKeyRegistry) AddPEM(pemText []byte) (string, error) {
	pub, err := ParsePublicKeyPEM(pemText)
	if err != nil {
		return "", err
	}

	return r.Add(pub)
}

// Len reports how many keys are trusted.
func (r *StaticKeyRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

func (r *StaticKeyRegistry) Lookup(fingerprint string) (*ecdsa.PublicKey, error) {
	r.mu.RLock()
	pub, ok := r.keys[fingerprint]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, fingerprint)
	}

	return pub, nil
}

// Fingerprint derives the credential fingerprint for a public key, the
// Base58-encoded SHA-256 of its PKIX DER encoding. The CLI credential store
// uses the identical derivation, so both sides agree on kid values.
func Fingerprint(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	hash := sha256.Sum256(der)

	return base58.Encode(hash[:]), nil
}

// ParsePublicKeyPEM parses a PEM-encoded ECDSA public key.
func ParsePublicKeyPEM(pemText []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemText)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA public key")
	}

	return ecdsaPub, nil
}
