// Package stubservice is an in-memory stand-in for the document service. It
// serves signable payloads and verifies submitted signatures the way the
// real backend would, so the CLI and client can be exercised end to end
// without a production system.
package stubservice

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/inkseal/inkseal/internal/certificate"
	"github.com/inkseal/inkseal/internal/docservice"
	"github.com/inkseal/inkseal/internal/httpmiddleware"
	"github.com/inkseal/inkseal/internal/signer"
	"github.com/inkseal/inkseal/internal/telemetry"
)

// maxSubmissionBytes caps request bodies on the signatures endpoint.
const maxSubmissionBytes = 1 << 20 // 1 MiB

// Handler serves the document-service HTTP contract from an instance store.
type Handler struct {
	store   *InstanceStore
	clock   func() time.Time
	metrics *telemetry.Metrics
}

// NewHandler creates a handler backed by the given store. A nil clock means
// time.Now.
func NewHandler(store *InstanceStore, clock func() time.Time) *Handler {
	if clock == nil {
		clock = time.Now
	}

	return &Handler{
		store:   store,
		clock:   clock,
		metrics: telemetry.GetMetrics(),
	}
}

// Register attaches the document-service routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /signatures/instances/{instanceID}/signable-data/{signatureField}", h.SignableDataHandler())
	mux.Handle("POST /signatures/instances/{instanceID}/signatures/{signatureField}", h.SubmitSignatureHandler())
	mux.Handle("GET /health", h.HealthHandler())
}

// SignableDataHandler serves an instance's signing task.
// Unknown instances return 404; instances whose signing window has closed
// return 410.
func (h *Handler) SignableDataHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instanceID := r.PathValue("instanceID")
		signatureField := r.PathValue("signatureField")
		logger := h.requestLogger(r)

		task, err := h.store.Get(r.Context(), instanceID, signatureField)
		if err != nil {
			logger.Warn().
				Str("instance_id", instanceID).
				Str("signature_field", signatureField).
				Msg("unknown signing instance")
			writeError(w, http.StatusNotFound,
				fmt.Sprintf("no signable data for instance %q field %q", instanceID, signatureField))
			return
		}

		if task.Expired(h.clock()) {
			logger.Warn().
				Str("instance_id", instanceID).
				Time("expires_at", task.ExpiresAt).
				Msg("signing instance expired")
			writeError(w, http.StatusGone,
				fmt.Sprintf("signing window for instance %q closed at %s", instanceID, task.ExpiresAt.Format(time.RFC3339)))
			return
		}

		logger.Info().
			Str("instance_id", instanceID).
			Str("signature_field", signatureField).
			Msg("served signable data")
		writeJSON(w, http.StatusOK, task)
	}
}

// SubmitSignatureHandler accepts a finished signature, verifies it against
// the stored payload, and reports the result. A signature that fails
// verification is still stored; the response carries valid=false so the
// client can surface the degraded outcome. Malformed submissions are
// rejected with success=false.
func (h *Handler) SubmitSignatureHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instanceID := r.PathValue("instanceID")
		signatureField := r.PathValue("signatureField")
		logger := h.requestLogger(r).With().
			Str("instance_id", instanceID).
			Str("signature_field", signatureField).
			Logger()

		task, err := h.store.Get(r.Context(), instanceID, signatureField)
		if err != nil {
			logger.Warn().Msg("submission for unknown signing instance")
			writeError(w, http.StatusNotFound,
				fmt.Sprintf("no signing instance %q with field %q", instanceID, signatureField))
			return
		}

		now := h.clock()
		if task.Expired(now) {
			logger.Warn().Time("expires_at", task.ExpiresAt).Msg("submission for expired signing instance")
			writeError(w, http.StatusGone,
				fmt.Sprintf("signing window for instance %q closed at %s", instanceID, task.ExpiresAt.Format(time.RFC3339)))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSubmissionBytes))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "submission body too large")
			return
		}

		var sub docservice.Submission
		if err := json.Unmarshal(body, &sub); err != nil {
			writeError(w, http.StatusBadRequest, "submission body is not valid JSON")
			return
		}

		if sub.Signature == "" {
			h.reject(w, logger, "submission is missing the signature")
			return
		}

		cert, err := certificate.Parse([]byte(sub.Certificate))
		if err != nil {
			h.reject(w, logger, fmt.Sprintf("submitted certificate is unreadable: %v", err))
			return
		}

		pub, ok := cert.PublicKey().(*rsa.PublicKey)
		if !ok {
			h.reject(w, logger, "submitted certificate does not hold an RSA public key")
			return
		}

		alg, err := signer.ParseAlgorithm(sub.Algorithm)
		if err != nil {
			h.reject(w, logger, fmt.Sprintf("unsupported signature algorithm %q", sub.Algorithm))
			return
		}

		verifyErr := signer.Verify(task.SignableData, pub, sub.Signature, alg)
		valid := verifyErr == nil

		rec := &ReceivedSubmission{
			Submission: sub,
			ReceivedAt: now.UTC(),
			Valid:      valid,
		}
		if err := h.store.AddSubmission(r.Context(), instanceID, signatureField, rec); err != nil {
			logger.Error().Err(err).Msg("failed to record submission")
			writeError(w, http.StatusInternalServerError, "failed to record submission")
			return
		}

		h.metrics.VerificationsTotal.Add(r.Context(), 1,
			metric.WithAttributes(attribute.Bool("valid", valid)))

		resp := &docservice.SubmissionResponse{
			Success:           true,
			Message:           "signature stored and verified",
			SignatureReceived: true,
			VerificationResult: &docservice.VerificationResult{
				Valid:      valid,
				VerifiedAt: now.UTC(),
			},
		}

		if valid {
			logger.Info().
				Str("algorithm", string(alg)).
				Str("fingerprint", cert.Fingerprint()).
				Msg("signature verified and stored")
		} else {
			resp.Message = "signature stored but failed verification"
			logger.Warn().
				Err(verifyErr).
				Str("algorithm", string(alg)).
				Msg("stored signature that does not verify")
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// HealthHandler reports readiness
func (h *Handler) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// reject refuses a malformed submission without storing it. Rejections are
// part of the wire contract, not transport failures, so they travel as a
// 200 with success=false.
func (h *Handler) reject(w http.ResponseWriter, logger zerolog.Logger, message string) {
	logger.Warn().Str("reason", message).Msg("submission rejected")
	writeJSON(w, http.StatusOK, &docservice.SubmissionResponse{
		Success: false,
		Message: message,
	})
}

// requestLogger returns the global logger with the request-scoped fields
// attached by the middleware chain.
func (h *Handler) requestLogger(r *http.Request) zerolog.Logger {
	logctx := log.With()
	if id := httpmiddleware.RequestIDFromContext(r.Context()); id != "" {
		logctx = logctx.Str("request_id", id)
	}
	if ip := httpmiddleware.ClientIPFromContext(r.Context()); ip != "" {
		logctx = logctx.Str("client_ip", ip)
	}
	return logctx.Logger()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
