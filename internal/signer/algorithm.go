package signer

import "fmt"

// Algorithm names a supported signature scheme on the wire.
type Algorithm string

const (
	// RSASHA256 is RSASSA-PKCS1-v1_5 over SHA-256. Deterministic: signing
	// the same bytes twice yields identical signatures.
	RSASHA256 Algorithm = "RSA-SHA256"

	// RSAPSSSHA256 is RSA-PSS over SHA-256 with salt length equal to the
	// hash size. Randomized: signatures over the same bytes differ.
	RSAPSSSHA256 Algorithm = "RSA-PSS-SHA256"
)

// Algorithms returns the fixed supported set, in preference order.
func Algorithms() []Algorithm {
	return []Algorithm{RSASHA256, RSAPSSSHA256}
}

// UnsupportedAlgorithmError reports a signature scheme outside the supported
// set.
type UnsupportedAlgorithmError struct {
	Algorithm Algorithm
}

func (e *UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported signature algorithm %q (supported: %s, %s)", string(e.Algorithm), RSASHA256, RSAPSSSHA256)
}

// ParseAlgorithm validates a wire-format algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	for _, alg := range Algorithms() {
		if string(alg) == name {
			return alg, nil
		}
	}

	return "", &UnsupportedAlgorithmError{Algorithm: Algorithm(name)}
}
