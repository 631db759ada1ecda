package commands

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkseal/inkseal/internal/auth"
	"github.com/inkseal/inkseal/internal/stubservice"
)

func TestServeCmd_LoadTasks(t *testing.T) {
	t.Run("generates a sample task without a seed file", func(t *testing.T) {
		store := stubservice.NewInstanceStore()

		cmd := &ServeCmd{}
		err := cmd.loadTasks(context.Background(), store, zerolog.Nop())
		require.NoError(t, err)

		assert.Equal(t, 1, store.Len())
	})

	t.Run("seeds every instance from the seed file", func(t *testing.T) {
		seedPath := filepath.Join(t.TempDir(), "seed.yaml")
		doc := `instances:
  - instance_id: wf-1001
    signature_field: customer_signature
    signable_data:
      document: Purchase Agreement
  - instance_id: wf-2002
    signature_field: approver_signature
    signable_data:
      document: Change Order
`
		require.NoError(t, os.WriteFile(seedPath, []byte(doc), 0600))

		store := stubservice.NewInstanceStore()

		cmd := &ServeCmd{Seed: seedPath}
		err := cmd.loadTasks(context.Background(), store, zerolog.Nop())
		require.NoError(t, err)

		require.Equal(t, 2, store.Len())

		task, err := store.Get(context.Background(), "wf-1001", "customer_signature")
		require.NoError(t, err)
		assert.JSONEq(t, `{"document": "Purchase Agreement"}`, string(task.SignableData))
	})

	t.Run("rejects a malformed seed file", func(t *testing.T) {
		seedPath := filepath.Join(t.TempDir(), "seed.yaml")
		require.NoError(t, os.WriteFile(seedPath, []byte("instances: {{"), 0600))

		cmd := &ServeCmd{Seed: seedPath}
		err := cmd.loadTasks(context.Background(), stubservice.NewInstanceStore(), zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse seed file")
	})

	t.Run("errors when the seed file is missing", func(t *testing.T) {
		cmd := &ServeCmd{Seed: filepath.Join(t.TempDir(), "missing.yaml")}
		err := cmd.loadTasks(context.Background(), stubservice.NewInstanceStore(), zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read seed file")
	})
}

func TestServeCmd_AuthMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("no trusted keys means the service runs open", func(t *testing.T) {
		cmd := &ServeCmd{}
		middleware, err := cmd.authMiddleware(zerolog.Nop())
		require.NoError(t, err)

		srv := httptest.NewServer(middleware(okHandler))
		t.Cleanup(srv.Close)

		resp, err := http.Get(srv.URL + "/signatures/instances/wf-1/signable-data/f")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("trusted key gates requests on a valid token", func(t *testing.T) {
		privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)

		publicKeyDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
		require.NoError(t, err)

		keyPath := filepath.Join(t.TempDir(), "trusted.pub")
		keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicKeyDER})
		require.NoError(t, os.WriteFile(keyPath, keyPEM, 0644))

		cmd := &ServeCmd{TrustedKeys: []string{keyPath}}
		middleware, err := cmd.authMiddleware(zerolog.Nop())
		require.NoError(t, err)

		srv := httptest.NewServer(middleware(okHandler))
		t.Cleanup(srv.Close)

		endpoint := srv.URL + "/signatures/instances/wf-1/signable-data/f"

		// Without a token the request is refused
		resp, err := http.Get(endpoint)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		// A token signed by the trusted key passes
		fingerprint, err := auth.Fingerprint(&privateKey.PublicKey)
		require.NoError(t, err)

		token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
			Issuer:    auth.Issuer,
			Subject:   "tester",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		token.Header["kid"] = fingerprint

		signed, err := token.SignedString(privateKey)
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodGet, endpoint, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+signed)

		resp, err = http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("errors when a trusted key file is missing", func(t *testing.T) {
		cmd := &ServeCmd{TrustedKeys: []string{filepath.Join(t.TempDir(), "missing.pub")}}
		_, err := cmd.authMiddleware(zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read trusted key")
	})

	t.Run("errors when a trusted key file is not a public key", func(t *testing.T) {
		keyPath := filepath.Join(t.TempDir(), "garbage.pub")
		require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0644))

		cmd := &ServeCmd{TrustedKeys: []string{keyPath}}
		_, err := cmd.authMiddleware(zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load trusted key")
	})
}
