package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/inkseal/inkseal/internal/certificate"
)

var (
	// ErrKeyCertificateMismatch is returned when the imported private key
	// does not pair with the loaded certificate's public key.
	ErrKeyCertificateMismatch = errors.New("private key does not match the certificate public key")

	// ErrNoSignableData is returned when signing is confirmed before any
	// signable data has been fetched.
	ErrNoSignableData = errors.New("no signable data has been fetched")

	// ErrAborted is returned by an operation whose workflow was abandoned
	// while the operation was in flight.
	ErrAborted = errors.New("signing workflow aborted")
)

// CertificateInvalidError reports a certificate rejected by validation. The
// full verdict rides along so callers can surface every failure at once.
type CertificateInvalidError struct {
	Verdict certificate.Verdict
}

func (e *CertificateInvalidError) Error() string {
	return fmt.Sprintf("certificate failed validation: %s", strings.Join(e.Verdict.Errors, "; "))
}

// InvalidStateError reports an operation attempted in a state that does not
// permit it.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s in workflow state %q", e.Op, e.State)
}
