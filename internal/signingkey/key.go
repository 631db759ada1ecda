// Package signingkey imports private-key material into opaque, sign-only
// handles. A handle never exposes or serializes the key it wraps; the only
// identifying output is a fingerprint of the public half.
package signingkey

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/mr-tron/base58"

	"github.com/inkseal/inkseal/internal/certificate"
)

// ErrKeyDestroyed is returned from any operation on a handle after Destroy.
var ErrKeyDestroyed = errors.New("signing key has been destroyed")

// Key is an opaque handle over an imported RSA private key. It implements
// crypto.Signer without ever handing out the underlying key, and it refuses
// text/JSON marshaling so key material cannot leak through serialization.
type Key struct {
	mu     sync.Mutex
	priv   *rsa.PrivateKey
	pub    *rsa.PublicKey
	id     string
	format string
}

func newKey(priv *rsa.PrivateKey, format string) (*Key, error) {
	pkix, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint public key: %w", err)
	}

	sum := sha256.Sum256(pkix)

	return &Key{
		priv:   priv,
		pub:    &priv.PublicKey,
		id:     base58.Encode(sum[:]),
		format: format,
	}, nil
}

// ID returns the base58-encoded SHA-256 fingerprint of the public key. This
// is the only identifier the handle ever reveals.
func (k *Key) ID() string {
	return k.id
}

// Format names the decoding candidate that produced the handle, e.g.
// "pkcs8" or "pkcs12".
func (k *Key) Format() string {
	return k.format
}

// Public implements crypto.Signer.
func (k *Key) Public() crypto.PublicKey {
	return k.pub
}

// Sign implements crypto.Signer. The opts select RSASSA-PKCS1-v1_5 or, via
// *rsa.PSSOptions, RSA-PSS. Signing fails once the handle is destroyed.
func (k *Key) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.priv == nil {
		return nil, ErrKeyDestroyed
	}

	return k.priv.Sign(rand, digest, opts)
}

// MatchesCertificate reports whether the handle's public key equals the
// certificate's subject public key.
func (k *Key) MatchesCertificate(cert *certificate.Certificate) bool {
	certPub, ok := cert.PublicKey().(*rsa.PublicKey)
	if !ok {
		return false
	}

	return k.pub.Equal(certPub)
}

// Destroy zeroes the private material where the runtime allows and renders
// the handle unusable. Safe to call more than once.
func (k *Key) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.priv == nil {
		return
	}

	zeroBigInt(k.priv.D)
	for _, prime := range k.priv.Primes {
		zeroBigInt(prime)
	}
	k.priv.Precomputed = rsa.PrecomputedValues{}
	k.priv = nil
}

// Destroyed reports whether Destroy has been called.
func (k *Key) Destroyed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.priv == nil
}

// String prints only the public fingerprint, so handles are safe to log.
func (k *Key) String() string {
	return "signing-key:" + k.id
}

// MarshalJSON always fails: signing keys are never serialized.
func (k *Key) MarshalJSON() ([]byte, error) {
	return nil, errors.New("signing keys cannot be serialized")
}

// MarshalText always fails: signing keys are never serialized.
func (k *Key) MarshalText() ([]byte, error) {
	return nil, errors.New("signing keys cannot be serialized")
}

// zeroBigInt overwrites the integer's backing words. Best-effort only: the
// runtime may already have copied the value during arithmetic.
func zeroBigInt(n *big.Int) {
	if n == nil {
		return
	}

	bits := n.Bits()
	for i := range bits {
		bits[i] = 0
	}

	n.SetInt64(0)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
