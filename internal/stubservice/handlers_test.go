package stubservice

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkseal/inkseal/internal/certificate"
	"github.com/inkseal/inkseal/internal/docservice"
	"github.com/inkseal/inkseal/internal/httpmiddleware"
	"github.com/inkseal/inkseal/internal/signer"
	"github.com/inkseal/inkseal/internal/signingkey"
	"github.com/inkseal/inkseal/internal/workflow"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

var (
	testKeyOnce sync.Once
	testRSAKey  *rsa.PrivateKey
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testRSAKey = key
	})

	return testRSAKey
}

func testCertPEM(t *testing.T, key *rsa.PrivateKey) []byte {
	t.Helper()

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(0x2002),
		Subject:               pkix.Name{CommonName: "Stub Signer", Organization: []string{"Inkseal"}},
		NotBefore:             fixedNow.Add(-24 * time.Hour),
		NotAfter:              fixedNow.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func testKeyPEM(t *testing.T, key *rsa.PrivateKey) []byte {
	t.Helper()

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func testECDSACertPEM(t *testing.T) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(0x3003),
		Subject:      pkix.Name{CommonName: "Elliptic Signer"},
		NotBefore:    fixedNow.Add(-time.Hour),
		NotAfter:     fixedNow.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func stubTask(expiresAt time.Time) *docservice.SignableData {
	return &docservice.SignableData{
		InstanceID:     "wf-1001",
		SignatureField: "customer_signature",
		SignableData:   json.RawMessage(`{"document":"Consulting Agreement","version":3,"total":{"amount":"1500.00","currency":"USD"}}`),
		ExpiresAt:      expiresAt,
		Instructions:   "Sign at the bottom of page 4.",
	}
}

// newStubServer starts an httptest server with the same middleware chain the
// stub binary wires.
func newStubServer(t *testing.T, tasks ...*docservice.SignableData) (*httptest.Server, *InstanceStore) {
	t.Helper()

	store := NewInstanceStore()
	for _, task := range tasks {
		require.NoError(t, store.Put(context.Background(), task))
	}

	mux := http.NewServeMux()
	NewHandler(store, func() time.Time { return fixedNow }).Register(mux)

	var handler http.Handler = mux
	handler = httpmiddleware.RequestID()(handler)
	handler = httpmiddleware.ClientIP()(handler)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return srv, store
}

func signableDataURL(srv *httptest.Server, instanceID, signatureField string) string {
	return fmt.Sprintf("%s/signatures/instances/%s/signable-data/%s", srv.URL, instanceID, signatureField)
}

func submitURL(srv *httptest.Server, instanceID, signatureField string) string {
	return fmt.Sprintf("%s/signatures/instances/%s/signatures/%s", srv.URL, instanceID, signatureField)
}

func signedSubmission(t *testing.T, payload []byte, alg signer.Algorithm) docservice.Submission {
	t.Helper()

	key, err := signingkey.Import(testKeyPEM(t, testKey(t)))
	require.NoError(t, err)

	cert, err := certificate.Parse(testCertPEM(t, testKey(t)))
	require.NoError(t, err)

	res, err := signer.Sign(payload, cert, key, alg)
	require.NoError(t, err)

	return docservice.Submission{
		Signature:   res.SignatureBase64,
		Certificate: res.CertificatePEM,
		Algorithm:   string(res.Algorithm),
	}
}

func postJSON(t *testing.T, url string, body any) (*http.Response, []byte) {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

func decodeSubmissionResponse(t *testing.T, raw []byte) *docservice.SubmissionResponse {
	t.Helper()

	var resp docservice.SubmissionResponse
	require.NoError(t, json.Unmarshal(raw, &resp))

	return &resp
}

func TestSignableDataHandler(t *testing.T) {
	t.Run("serves a seeded instance", func(t *testing.T) {
		task := stubTask(fixedNow.Add(time.Hour))
		srv, _ := newStubServer(t, task)

		resp, err := http.Get(signableDataURL(srv, "wf-1001", "customer_signature"))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

		var got docservice.SignableData
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, "wf-1001", got.InstanceID)
		assert.Equal(t, "customer_signature", got.SignatureField)
		assert.JSONEq(t, string(task.SignableData), string(got.SignableData))
		assert.True(t, got.ExpiresAt.Equal(task.ExpiresAt))
		assert.Equal(t, task.Instructions, got.Instructions)
	})

	t.Run("unknown instance returns not found", func(t *testing.T) {
		srv, _ := newStubServer(t, stubTask(fixedNow.Add(time.Hour)))

		resp, err := http.Get(signableDataURL(srv, "wf-9999", "customer_signature"))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusNotFound, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body["message"], "wf-9999")
	})

	t.Run("unknown field on a known instance returns not found", func(t *testing.T) {
		srv, _ := newStubServer(t, stubTask(fixedNow.Add(time.Hour)))

		resp, err := http.Get(signableDataURL(srv, "wf-1001", "witness_signature"))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("expired instance returns gone", func(t *testing.T) {
		srv, _ := newStubServer(t, stubTask(fixedNow.Add(-time.Hour)))

		resp, err := http.Get(signableDataURL(srv, "wf-1001", "customer_signature"))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusGone, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body["message"], "closed at")
	})
}

func TestSubmitSignatureHandler(t *testing.T) {
	for _, alg := range signer.Algorithms() {
		t.Run("verifies and stores a signature under "+string(alg), func(t *testing.T) {
			task := stubTask(fixedNow.Add(time.Hour))
			srv, store := newStubServer(t, task)

			sub := signedSubmission(t, task.SignableData, alg)
			resp, raw := postJSON(t, submitURL(srv, "wf-1001", "customer_signature"), sub)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			result := decodeSubmissionResponse(t, raw)
			require.True(t, result.Success)
			assert.True(t, result.SignatureReceived)
			assert.Equal(t, "signature stored and verified", result.Message)
			require.NotNil(t, result.VerificationResult)
			assert.True(t, result.VerificationResult.Valid)
			assert.True(t, result.VerificationResult.VerifiedAt.Equal(fixedNow))

			recs, err := store.Submissions(context.Background(), "wf-1001", "customer_signature")
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.True(t, recs[0].Valid)
			assert.Equal(t, string(alg), recs[0].Algorithm)
		})
	}

	t.Run("verification is canonical across member order", func(t *testing.T) {
		task := stubTask(fixedNow.Add(time.Hour))
		task.SignableData = json.RawMessage(`{"b": 2, "a": 1}`)
		srv, _ := newStubServer(t, task)

		// Signed over a reordered but canonically identical payload.
		sub := signedSubmission(t, []byte(`{"a":1,"b":2}`), signer.RSASHA256)
		resp, raw := postJSON(t, submitURL(srv, "wf-1001", "customer_signature"), sub)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := decodeSubmissionResponse(t, raw)
		require.True(t, result.Success)
		require.NotNil(t, result.VerificationResult)
		assert.True(t, result.VerificationResult.Valid)
	})

	t.Run("stores but flags a signature that does not verify", func(t *testing.T) {
		task := stubTask(fixedNow.Add(time.Hour))
		srv, store := newStubServer(t, task)

		sub := signedSubmission(t, []byte(`{"document":"Some Other Agreement"}`), signer.RSASHA256)
		resp, raw := postJSON(t, submitURL(srv, "wf-1001", "customer_signature"), sub)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := decodeSubmissionResponse(t, raw)
		require.True(t, result.Success)
		assert.True(t, result.SignatureReceived)
		assert.Contains(t, result.Message, "failed verification")
		require.NotNil(t, result.VerificationResult)
		assert.False(t, result.VerificationResult.Valid)

		recs, err := store.Submissions(context.Background(), "wf-1001", "customer_signature")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.False(t, recs[0].Valid)
	})

	t.Run("rejects an unreadable certificate", func(t *testing.T) {
		task := stubTask(fixedNow.Add(time.Hour))
		srv, store := newStubServer(t, task)

		sub := signedSubmission(t, task.SignableData, signer.RSASHA256)
		sub.Certificate = "not a certificate"

		resp, raw := postJSON(t, submitURL(srv, "wf-1001", "customer_signature"), sub)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := decodeSubmissionResponse(t, raw)
		assert.False(t, result.Success)
		assert.False(t, result.SignatureReceived)
		assert.Nil(t, result.VerificationResult)

		recs, err := store.Submissions(context.Background(), "wf-1001", "customer_signature")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("rejects a certificate without an RSA key", func(t *testing.T) {
		task := stubTask(fixedNow.Add(time.Hour))
		srv, _ := newStubServer(t, task)

		sub := docservice.Submission{
			Signature:   "c2ln",
			Certificate: string(testECDSACertPEM(t)),
			Algorithm:   string(signer.RSASHA256),
		}

		resp, raw := postJSON(t, submitURL(srv, "wf-1001", "customer_signature"), sub)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := decodeSubmissionResponse(t, raw)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "RSA")
	})

	t.Run("rejects an unknown algorithm", func(t *testing.T) {
		task := stubTask(fixedNow.Add(time.Hour))
		srv, _ := newStubServer(t, task)

		sub := signedSubmission(t, task.SignableData, signer.RSASHA256)
		sub.Algorithm = "DSA-SHA1"

		resp, raw := postJSON(t, submitURL(srv, "wf-1001", "customer_signature"), sub)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := decodeSubmissionResponse(t, raw)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "DSA-SHA1")
	})

	t.Run("rejects an empty signature", func(t *testing.T) {
		task := stubTask(fixedNow.Add(time.Hour))
		srv, _ := newStubServer(t, task)

		sub := signedSubmission(t, task.SignableData, signer.RSASHA256)
		sub.Signature = ""

		resp, raw := postJSON(t, submitURL(srv, "wf-1001", "customer_signature"), sub)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := decodeSubmissionResponse(t, raw)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "signature")
	})

	t.Run("unknown instance returns not found", func(t *testing.T) {
		srv, _ := newStubServer(t, stubTask(fixedNow.Add(time.Hour)))

		sub := signedSubmission(t, []byte(`{"document":"Lease"}`), signer.RSASHA256)
		resp, _ := postJSON(t, submitURL(srv, "wf-9999", "customer_signature"), sub)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("expired instance returns gone and stores nothing", func(t *testing.T) {
		task := stubTask(fixedNow.Add(-time.Minute))
		srv, store := newStubServer(t, task)

		sub := signedSubmission(t, task.SignableData, signer.RSASHA256)
		resp, _ := postJSON(t, submitURL(srv, "wf-1001", "customer_signature"), sub)
		require.Equal(t, http.StatusGone, resp.StatusCode)

		recs, err := store.Submissions(context.Background(), "wf-1001", "customer_signature")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("malformed body returns bad request", func(t *testing.T) {
		srv, _ := newStubServer(t, stubTask(fixedNow.Add(time.Hour)))

		resp, err := http.Post(submitURL(srv, "wf-1001", "customer_signature"),
			"application/json", bytes.NewReader([]byte("{not json")))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newStubServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

// TestWorkflowAgainstStub drives the real client and workflow against the
// stub: fetch, sign, submit, verify.
func TestWorkflowAgainstStub(t *testing.T) {
	srv, store := newStubServer(t, stubTask(fixedNow.Add(time.Hour)))

	client := docservice.NewClient(docservice.Config{BaseURL: srv.URL, MaxTries: 1})

	wf, err := workflow.New(workflow.Config{
		InstanceID:     "wf-1001",
		SignatureField: "customer_signature",
		Client:         client,
		Clock:          func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	ctx := context.Background()

	verdict, err := wf.LoadCertificate(ctx, testCertPEM(t, testKey(t)))
	require.NoError(t, err)
	require.True(t, verdict.Valid)

	require.NoError(t, wf.LoadKey(ctx, testKeyPEM(t, testKey(t))))
	require.Equal(t, workflow.StateAwaitingData, wf.State())

	task, err := wf.FetchData(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Sign at the bottom of page 4.", task.Instructions)

	res, err := wf.ConfirmAndSign(ctx)
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeVerified, res.Outcome)
	assert.Equal(t, workflow.StateComplete, wf.State())

	recs, err := store.Submissions(ctx, "wf-1001", "customer_signature")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Valid)
	assert.Equal(t, string(signer.RSASHA256), recs[0].Algorithm)
}
