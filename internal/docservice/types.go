// Package docservice is the HTTP client for the document service: the
// backend that issues signable payloads and receives finished signatures.
package docservice

import (
	"encoding/json"
	"time"
)

// SignableData is one signing task as issued by the document service. The
// payload is kept as raw JSON: the client never re-interprets it, it only
// canonicalizes and signs exactly what the service supplied.
type SignableData struct {
	InstanceID     string          `json:"instance_id"`
	SignatureField string          `json:"signature_field"`
	SignableData   json.RawMessage `json:"signable_data"`
	ExpiresAt      time.Time       `json:"expires_at"`
	Instructions   string          `json:"instructions"`
}

// Expired reports whether the signing window has closed. Expired data must
// be rejected without attempting submission.
func (d *SignableData) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// Submission is the package sent to the signatures endpoint.
type Submission struct {
	Signature   string `json:"signature"`
	Certificate string `json:"certificate"`
	Algorithm   string `json:"algorithm"`
}

// VerificationResult is the service's own check of a submitted signature.
type VerificationResult struct {
	Valid      bool      `json:"valid"`
	VerifiedAt time.Time `json:"verified_at"`
}

// SubmissionResponse is the service's reply to a submission. Success with
// VerificationResult.Valid=false means the signature was stored but did not
// verify: degraded, not failed.
type SubmissionResponse struct {
	Success            bool                `json:"success"`
	Message            string              `json:"message"`
	SignatureReceived  bool                `json:"signature_received"`
	VerificationResult *VerificationResult `json:"verification_result,omitempty"`
}
