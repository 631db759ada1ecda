// Package signer computes detached signatures over canonicalized JSON
// payloads and packages them for submission.
//
// Canonicalization follows RFC 8785 (JSON Canonicalization Scheme). The
// canonical form is a shared contract with the verifying service: both sides
// must derive byte-identical input from the same structured payload, or
// verification fails even for honest signers. Verify in this package is that
// other side, used by the stub service and by tests to pin the contract.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"

	"github.com/inkseal/inkseal/internal/certificate"
	"github.com/inkseal/inkseal/internal/signingkey"
)

// Result packages one detached signature. The certificate travels as PEM
// with 64-character wrapping regardless of how it was originally supplied,
// so the submission format is encoding-independent.
type Result struct {
	SignatureBase64 string    `json:"signature"`
	CertificatePEM  string    `json:"certificate"`
	Algorithm       Algorithm `json:"algorithm"`
}

// Canonicalize reduces a JSON payload to its RFC 8785 canonical form:
// lexicographically sorted member names, no insignificant whitespace,
// shortest-round-trip number formatting.
func Canonicalize(payload []byte) ([]byte, error) {
	canonical, err := jsoncanonicalizer.Transform(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	return canonical, nil
}

// Sign canonicalizes the payload and signs its SHA-256 digest with the given
// key under the given algorithm. The result is immutable and carries
// everything the submission endpoint needs.
func Sign(payload []byte, cert *certificate.Certificate, key *signingkey.Key, alg Algorithm) (*Result, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(canonical)

	var signature []byte

	switch alg {
	case RSASHA256:
		signature, err = key.Sign(rand.Reader, digest[:], crypto.SHA256)
	case RSAPSSSHA256:
		signature, err = key.Sign(rand.Reader, digest[:], &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       crypto.SHA256,
		})
	default:
		return nil, &UnsupportedAlgorithmError{Algorithm: alg}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to sign payload digest: %w", err)
	}

	return &Result{
		SignatureBase64: base64.StdEncoding.EncodeToString(signature),
		CertificatePEM:  cert.ToPEM(),
		Algorithm:       alg,
	}, nil
}

// Verify recomputes the canonical form of the payload and checks the
// detached signature against it. This is the verifier half of the canonical
// contract.
func Verify(payload []byte, pub *rsa.PublicKey, signatureBase64 string, alg Algorithm) error {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return err
	}

	signature, err := base64.StdEncoding.DecodeString(signatureBase64)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}

	digest := sha256.Sum256(canonical)

	switch alg {
	case RSASHA256:
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
			return fmt.Errorf("signature does not verify: %w", err)
		}
	case RSAPSSSHA256:
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}
		if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, opts); err != nil {
			return fmt.Errorf("signature does not verify: %w", err)
		}
	default:
		return &UnsupportedAlgorithmError{Algorithm: alg}
	}

	return nil
}
