// Package workflow sequences certificate ingestion, key import, data fetch,
// signing, and submission for one signature field on one document instance.
//
// A Workflow moves through awaiting_certificate, awaiting_data, signing, and
// the terminal complete and failed states. Signing and submission failures
// return the workflow to awaiting_data so the attempt can be retried without
// re-supplying files. Invalid certificates, expired signable data, and Abort
// end in failed. The private key handle is destroyed as soon as a terminal
// state is reached.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/inkseal/inkseal/internal/certificate"
	"github.com/inkseal/inkseal/internal/docservice"
	"github.com/inkseal/inkseal/internal/signer"
	"github.com/inkseal/inkseal/internal/signingkey"
	"github.com/inkseal/inkseal/internal/telemetry"
)

// State identifies where a workflow sits in its lifecycle.
type State string

const (
	StateAwaitingCertificate State = "awaiting_certificate"
	StateAwaitingData        State = "awaiting_data"
	StateSigning             State = "signing"
	StateComplete            State = "complete"
	StateFailed              State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Outcome classifies how a completed workflow ended. A rejected submission
// still completes the workflow: the service answered definitively, which is
// different from a transport failure.
type Outcome string

const (
	// OutcomeVerified means the service stored the signature and confirmed
	// it verifies against the canonical payload.
	OutcomeVerified Outcome = "verified"

	// OutcomeStoredUnverified means the service stored the signature but
	// did not (or could not) confirm verification.
	OutcomeStoredUnverified Outcome = "stored_unverified"

	// OutcomeRejected means the service received the signature and refused
	// to store it.
	OutcomeRejected Outcome = "rejected"
)

// Result records the submission outcome of a completed workflow.
type Result struct {
	Outcome     Outcome                        `json:"outcome"`
	Message     string                         `json:"message,omitempty"`
	SubmittedAt time.Time                      `json:"submitted_at"`
	Response    *docservice.SubmissionResponse `json:"response,omitempty"`
}

// DataClient is the document-service surface the workflow depends on.
// *docservice.Client satisfies it.
type DataClient interface {
	FetchSignableData(ctx context.Context, instanceID, signatureField string) (*docservice.SignableData, error)
	SubmitSignature(ctx context.Context, instanceID, signatureField string, submission docservice.Submission) (*docservice.SubmissionResponse, error)
}

// Config assembles the collaborators for one signing workflow.
type Config struct {
	// InstanceID and SignatureField key the signing task on the document
	// service. Both are required.
	InstanceID     string
	SignatureField string

	// Client is required.
	Client DataClient

	// Algorithm selects the signature scheme. Empty means RSA-SHA256.
	Algorithm signer.Algorithm

	// Parser overrides certificate parsing policy. Nil means the default
	// policy with the workflow logger attached.
	Parser *certificate.ParserConfig

	// Validator overrides validation policy. Nil means defaults.
	Validator *certificate.Validator

	// Clock supplies the current time. Nil means time.Now.
	Clock func() time.Time

	Logger zerolog.Logger

	// OnTransition, when set, observes every state change. It runs while
	// the workflow lock is held, so it must return quickly and must not
	// call back into the Workflow.
	OnTransition func(from, to State)
}

// Workflow drives one signing attempt. All exported methods are safe for
// concurrent use; in practice one goroutine drives the workflow while
// another may call Abort or the snapshot accessors.
type Workflow struct {
	instanceID     string
	signatureField string
	client         DataClient
	algorithm      signer.Algorithm
	parserCfg      certificate.ParserConfig
	validator      *certificate.Validator
	clock          func() time.Time
	logger         zerolog.Logger
	metrics        *telemetry.Metrics
	onTransition   func(from, to State)

	mu         sync.Mutex
	state      State
	cert       *certificate.Certificate
	verdict    *certificate.Verdict
	key        *signingkey.Key
	data       *docservice.SignableData
	result     *Result
	failure    string
	inflight   context.CancelFunc
	inflightID uint64
}

func New(cfg Config) (*Workflow, error) {
	if cfg.InstanceID == "" {
		return nil, errors.New("workflow: instance id is required")
	}
	if cfg.SignatureField == "" {
		return nil, errors.New("workflow: signature field is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("workflow: document service client is required")
	}

	algorithm := signer.RSASHA256
	if cfg.Algorithm != "" {
		alg, err := signer.ParseAlgorithm(string(cfg.Algorithm))
		if err != nil {
			return nil, err
		}
		algorithm = alg
	}

	parserCfg := certificate.DefaultParserConfig()
	parserCfg.Logger = cfg.Logger
	if cfg.Parser != nil {
		parserCfg = *cfg.Parser
	}

	validator := cfg.Validator
	if validator == nil {
		validator = certificate.NewValidator(certificate.ValidatorConfig{})
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Workflow{
		instanceID:     cfg.InstanceID,
		signatureField: cfg.SignatureField,
		client:         cfg.Client,
		algorithm:      algorithm,
		parserCfg:      parserCfg,
		validator:      validator,
		clock:          clock,
		logger:         cfg.Logger,
		metrics:        telemetry.GetMetrics(),
		onTransition:   cfg.OnTransition,
		state:          StateAwaitingCertificate,
	}, nil
}

// LoadCertificate parses and validates the signer's certificate. Malformed
// input leaves the workflow untouched so another file can be tried. A
// certificate that parses but fails validation ends the workflow in failed;
// the verdict is returned either way so warnings reach the user.
func (w *Workflow) LoadCertificate(ctx context.Context, raw []byte) (*certificate.Verdict, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateAwaitingCertificate {
		return nil, &InvalidStateError{Op: "load certificate", State: w.state}
	}

	cert, err := certificate.ParseWithConfig(raw, w.parserCfg)
	if err != nil {
		w.metrics.CertificateParseFailuresTotal.Add(ctx, 1)
		return nil, err
	}
	w.metrics.CertificatesParsedTotal.Add(ctx, 1)

	verdict := w.validator.Validate(cert, w.clock())
	if !verdict.Valid {
		w.metrics.ValidationFailuresTotal.Add(ctx, 1)
		w.verdict = &verdict
		w.failLocked(ctx, "certificate failed validation")
		return &verdict, &CertificateInvalidError{Verdict: verdict}
	}

	if w.key != nil && !w.key.MatchesCertificate(cert) {
		return nil, ErrKeyCertificateMismatch
	}

	for _, warning := range verdict.Warnings {
		w.logger.Warn().Str("fingerprint", cert.Fingerprint()).Msg(warning)
	}

	w.cert = cert
	w.verdict = &verdict
	w.logger.Info().
		Str("subject", cert.Subject).
		Str("serial", cert.SerialNumber).
		Str("fingerprint", cert.Fingerprint()).
		Msg("certificate loaded")

	w.maybeAdvanceLocked(ctx)

	return &verdict, nil
}

// LoadKey imports the signer's private key. Import failures leave the
// workflow untouched so another file or passphrase can be tried. When a
// certificate is already loaded the key must pair with its public key.
func (w *Workflow) LoadKey(ctx context.Context, raw []byte, opts ...signingkey.ImportOption) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateAwaitingCertificate {
		return &InvalidStateError{Op: "load private key", State: w.state}
	}

	opts = append([]signingkey.ImportOption{signingkey.WithLogger(w.logger)}, opts...)

	key, err := signingkey.Import(raw, opts...)
	if err != nil {
		w.metrics.KeyImportFailuresTotal.Add(ctx, 1)
		return err
	}

	if w.cert != nil && !key.MatchesCertificate(w.cert) {
		key.Destroy()
		return ErrKeyCertificateMismatch
	}

	if w.key != nil {
		w.key.Destroy()
	}
	w.key = key

	w.metrics.KeysImportedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("format", key.Format())))
	w.logger.Info().
		Stringer("key", key).
		Str("format", key.Format()).
		Msg("private key imported")

	w.maybeAdvanceLocked(ctx)

	return nil
}

// FetchData retrieves fresh signable data for the configured instance and
// signature field. Transport failures leave the validated certificate and
// key in place so the fetch can simply be retried.
func (w *Workflow) FetchData(ctx context.Context) (*docservice.SignableData, error) {
	w.mu.Lock()
	if w.state != StateAwaitingData {
		w.mu.Unlock()
		return nil, &InvalidStateError{Op: "fetch signable data", State: w.state}
	}
	callCtx, done := w.trackLocked(ctx)
	w.mu.Unlock()
	defer done()

	data, err := w.client.FetchSignableData(callCtx, w.instanceID, w.signatureField)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateAwaitingData {
		return nil, ErrAborted
	}
	if err != nil {
		w.logger.Warn().
			Err(err).
			Bool("retryable", docservice.Retryable(err)).
			Msg("failed to fetch signable data")
		return nil, err
	}

	w.data = data
	w.logger.Info().
		Str("instance_id", data.InstanceID).
		Str("signature_field", data.SignatureField).
		Time("expires_at", data.ExpiresAt).
		Msg("signable data fetched")

	snapshot := *data

	return &snapshot, nil
}

// ConfirmAndSign canonicalizes the fetched data, signs it, and submits the
// signature package. This is the explicit confirmation step: nothing leaves
// the machine before it is called. Expired signable data fails the workflow
// before any submission attempt. Signing and transport failures return the
// workflow to awaiting_data; a definitive service reply, including a
// rejection, completes it.
func (w *Workflow) ConfirmAndSign(ctx context.Context) (*Result, error) {
	w.mu.Lock()

	if w.state != StateAwaitingData {
		state := w.state
		w.mu.Unlock()
		return nil, &InvalidStateError{Op: "sign", State: state}
	}
	if w.data == nil {
		w.mu.Unlock()
		return nil, ErrNoSignableData
	}

	if w.data.Expired(w.clock()) {
		expiredAt := w.data.ExpiresAt
		w.failLocked(ctx, "signable data expired")
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: expired at %s",
			docservice.ErrSignableDataExpired, expiredAt.Format(time.RFC3339))
	}

	w.transitionLocked(ctx, StateSigning)
	cert, key, payload := w.cert, w.key, w.data.SignableData
	callCtx, done := w.trackLocked(ctx)
	w.mu.Unlock()
	defer done()

	start := time.Now()
	signed, err := signer.Sign(payload, cert, key, w.algorithm)
	w.metrics.SignAttemptsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("algorithm", string(w.algorithm))))
	w.metrics.SignDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		w.metrics.SignFailuresTotal.Add(ctx, 1)
		return nil, w.retreat(ctx, err, "signature computation failed")
	}

	submission := docservice.Submission{
		Signature:   signed.SignatureBase64,
		Certificate: signed.CertificatePEM,
		Algorithm:   string(signed.Algorithm),
	}

	resp, err := w.client.SubmitSignature(callCtx, w.instanceID, w.signatureField, submission)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateSigning {
		return nil, ErrAborted
	}

	var rejected *docservice.SubmissionRejectedError
	switch {
	case errors.As(err, &rejected):
		res := &Result{
			Outcome:     OutcomeRejected,
			Message:     rejected.Message,
			SubmittedAt: w.clock(),
			Response:    resp,
		}
		w.completeLocked(ctx, res)
		return res, rejected
	case err != nil:
		w.transitionLocked(ctx, StateAwaitingData)
		w.logger.Warn().
			Err(err).
			Bool("retryable", docservice.Retryable(err)).
			Msg("signature submission failed")
		return nil, err
	}

	res := resultFromResponse(resp, w.clock())
	w.completeLocked(ctx, res)

	return res, nil
}

// Abort abandons the workflow: any in-flight request is cancelled, the key
// handle is destroyed, and the workflow ends in failed. Aborting a workflow
// already in a terminal state is a no-op.
func (w *Workflow) Abort(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state.Terminal() {
		return
	}

	if w.inflight != nil {
		w.inflight()
		w.inflight = nil
	}

	w.failLocked(ctx, "workflow aborted")
	w.logger.Info().Msg("signing workflow aborted")
}

// State returns the current workflow state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Certificate returns the loaded certificate, or nil.
func (w *Workflow) Certificate() *certificate.Certificate {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cert
}

// Verdict returns a copy of the most recent validation verdict, or nil.
func (w *Workflow) Verdict() *certificate.Verdict {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.verdict == nil {
		return nil
	}
	v := *w.verdict
	return &v
}

// SignableData returns a copy of the fetched signing task, or nil.
func (w *Workflow) SignableData() *docservice.SignableData {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.data == nil {
		return nil
	}
	d := *w.data
	return &d
}

// Result returns the submission outcome once the workflow is complete.
func (w *Workflow) Result() *Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// FailureReason returns why the workflow failed, or an empty string.
func (w *Workflow) FailureReason() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failure
}

func (w *Workflow) maybeAdvanceLocked(ctx context.Context) {
	if w.state == StateAwaitingCertificate && w.cert != nil && w.key != nil {
		w.transitionLocked(ctx, StateAwaitingData)
	}
}

func (w *Workflow) transitionLocked(ctx context.Context, to State) {
	from := w.state
	w.state = to

	w.metrics.WorkflowTransitionsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("to", string(to))))
	w.logger.Debug().
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("workflow transition")

	if w.onTransition != nil {
		w.onTransition(from, to)
	}
}

func (w *Workflow) failLocked(ctx context.Context, reason string) {
	w.failure = reason
	w.destroyKeyLocked()
	w.transitionLocked(ctx, StateFailed)
}

func (w *Workflow) completeLocked(ctx context.Context, res *Result) {
	w.result = res
	w.destroyKeyLocked()
	w.metrics.SubmissionsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))
	w.transitionLocked(ctx, StateComplete)
	w.logger.Info().
		Str("outcome", string(res.Outcome)).
		Str("message", res.Message).
		Msg("signing workflow complete")
}

func (w *Workflow) destroyKeyLocked() {
	if w.key != nil {
		w.key.Destroy()
	}
}

// retreat returns a signing-stage workflow to awaiting_data, unless an
// abort already moved it to failed.
func (w *Workflow) retreat(ctx context.Context, err error, msg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateSigning {
		return ErrAborted
	}

	w.transitionLocked(ctx, StateAwaitingData)
	w.logger.Warn().Err(err).Msg(msg)

	return err
}

// trackLocked derives a cancellable context for one network call and
// registers its cancel func so Abort can tear the call down.
func (w *Workflow) trackLocked(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	w.inflightID++
	id := w.inflightID
	w.inflight = cancel

	return ctx, func() {
		w.mu.Lock()
		if w.inflightID == id {
			w.inflight = nil
		}
		w.mu.Unlock()
		cancel()
	}
}

func resultFromResponse(resp *docservice.SubmissionResponse, now time.Time) *Result {
	res := &Result{Message: resp.Message, SubmittedAt: now, Response: resp}

	if resp.VerificationResult != nil && resp.VerificationResult.Valid {
		res.Outcome = OutcomeVerified
	} else {
		// Stored but unverified: the service kept the signature without
		// confirming it checks out. Distinct from rejection and from
		// transport failure.
		res.Outcome = OutcomeStoredUnverified
	}

	return res
}
